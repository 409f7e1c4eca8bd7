package plugin

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// journal records lifecycle callbacks across modules in call order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.entries))
	copy(out, j.entries)
	return out
}

func (j *journal) reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = nil
}

type fakeModule struct {
	id        string
	j         *journal
	loadErr   error
	loadPanic bool
	unloadErr error
	onLoad    func()
}

func (m *fakeModule) OnLoad(context.Context) error {
	m.j.add("load:%s", m.id)
	if m.onLoad != nil {
		m.onLoad()
	}
	if m.loadPanic {
		panic("boom")
	}
	return m.loadErr
}

func (m *fakeModule) OnUnload(context.Context) error {
	m.j.add("unload:%s", m.id)
	return m.unloadErr
}

// fakeLoadable builds a fresh fakeModule on every Load and is its own
// source, so Manager.Reload can load it again.
type fakeLoadable struct {
	manifest *Manifest
	j        *journal

	instErr   error
	loadErr   error
	loadPanic bool
	unloadErr error

	// onLoad runs inside the instance's OnLoad with the 1-based count of
	// Load calls that produced the instance.
	onLoad func(load int)

	mu    sync.Mutex
	loads int
}

func newFake(j *journal, id string, deps ...string) *fakeLoadable {
	m := &Manifest{ID: id, DependsOn: deps}
	m.applyDefaults()
	return &fakeLoadable{manifest: m, j: j}
}

func (l *fakeLoadable) Manifest() *Manifest { return l.manifest }
func (l *fakeLoadable) Source() any         { return l }

func (l *fakeLoadable) Load(context.Context) (*LoadedModule, error) {
	l.mu.Lock()
	l.loads++
	n := l.loads
	l.mu.Unlock()

	if l.instErr != nil {
		return nil, l.instErr
	}
	instance := &fakeModule{
		id:        l.manifest.ID,
		j:         l.j,
		loadErr:   l.loadErr,
		loadPanic: l.loadPanic,
		unloadErr: l.unloadErr,
	}
	if hook := l.onLoad; hook != nil {
		instance.onLoad = func() { hook(n) }
	}
	return NewLoadedModule(l.manifest, l, instance, nil), nil
}

func (l *fakeLoadable) loadCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads
}

// recordingObserver records observer callbacks.
type recordingObserver struct {
	j *journal
}

func (o *recordingObserver) OnLoading(m *LoadedModule)   { o.j.add("loading:%s", m.ID()) }
func (o *recordingObserver) OnLoaded(m *LoadedModule)    { o.j.add("loaded:%s", m.ID()) }
func (o *recordingObserver) OnUnloading(m *LoadedModule) { o.j.add("unloading:%s", m.ID()) }
func (o *recordingObserver) OnUnloaded(m *LoadedModule)  { o.j.add("unloaded:%s", m.ID()) }
func (o *recordingObserver) OnLoadFailed(id string, _ error) {
	o.j.add("failed:%s", id)
}

// panicObserver panics in the callback named by at.
type panicObserver struct {
	NopObserver
	at string
}

func (o *panicObserver) OnLoading(*LoadedModule) {
	if o.at == "loading" {
		panic("loading")
	}
}

func (o *panicObserver) OnLoaded(*LoadedModule) {
	if o.at == "loaded" {
		panic("loaded")
	}
}

func (o *panicObserver) OnUnloaded(*LoadedModule) {
	if o.at == "unloaded" {
		panic("unloaded")
	}
}

func ids(ms []*LoadedModule) []string {
	return moduleIDs(ms)
}

func mustLoad(t *testing.T, c *Container, ls ...*fakeLoadable) []*LoadedModule {
	t.Helper()
	out := make([]*LoadedModule, 0, len(ls))
	for _, l := range ls {
		m, err := c.Load(context.Background(), l)
		require.NoError(t, err)
		out = append(out, m)
	}
	return out
}
