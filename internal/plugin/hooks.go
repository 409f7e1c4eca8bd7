package plugin

import (
	"fmt"

	"github.com/charmbracelet/log"
)

// Observer is notified around every lifecycle transition. Observers cannot
// veto an operation. A panic in OnLoading rolls the module back like a failed
// OnLoad; panics in the other callbacks are recovered and logged.
//
// Observers run with the Container lock held and must not call back into
// the Container.
type Observer interface {
	OnLoading(m *LoadedModule)
	OnLoaded(m *LoadedModule)
	OnUnloading(m *LoadedModule)
	OnUnloaded(m *LoadedModule)
	OnLoadFailed(id string, err error)
}

// NopObserver implements Observer with no-ops. Embed it to implement only
// the callbacks you need.
type NopObserver struct{}

func (NopObserver) OnLoading(*LoadedModule)    {}
func (NopObserver) OnLoaded(*LoadedModule)     {}
func (NopObserver) OnUnloading(*LoadedModule)  {}
func (NopObserver) OnUnloaded(*LoadedModule)   {}
func (NopObserver) OnLoadFailed(string, error) {}

// LogObserver logs every transition. It is the Container's default observer.
type LogObserver struct {
	logger *log.Logger
}

// NewLogObserver creates a LogObserver.
func NewLogObserver(logger *log.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

// OnLoading logs at debug level before a module is activated.
func (o *LogObserver) OnLoading(m *LoadedModule) {
	o.logger.Debug("loading module", "id", m.ID(), "version", m.Manifest().Version)
}

// OnLoaded logs an activated module with its instance id.
func (o *LogObserver) OnLoaded(m *LoadedModule) {
	o.logger.Info("module loaded", "id", m.ID(), "version", m.Manifest().Version, "instance", m.InstanceID())
}

// OnUnloading logs at debug level before a module is unloaded.
func (o *LogObserver) OnUnloading(m *LoadedModule) {
	o.logger.Debug("unloading module", "id", m.ID())
}

// OnUnloaded logs a module that has been unloaded.
func (o *LogObserver) OnUnloaded(m *LoadedModule) {
	o.logger.Info("module unloaded", "id", m.ID(), "instance", m.InstanceID())
}

// OnLoadFailed logs a failed load as a warning.
func (o *LogObserver) OnLoadFailed(id string, err error) {
	o.logger.Warn("module load failed", "id", id, "err", err)
}

// observe calls fn and turns a panic into an error.
func observe(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panic: %v", r)
		}
	}()
	fn()
	return nil
}
