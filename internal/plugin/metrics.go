package plugin

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsObserver exports lifecycle metrics to Prometheus.
type MetricsObserver struct {
	loaded       prometheus.Gauge
	loadsTotal   *prometheus.CounterVec
	unloadsTotal prometheus.Counter
	loadDuration prometheus.Histogram

	mu           sync.Mutex
	loadingSince map[string]time.Time
}

// NewMetricsObserver creates a MetricsObserver and registers its
// collectors with reg.
func NewMetricsObserver(reg prometheus.Registerer) (*MetricsObserver, error) {
	o := &MetricsObserver{
		loaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "modhost_modules_loaded",
				Help: "Number of modules currently loaded.",
			},
		),
		loadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modhost_module_loads_total",
				Help: "Number of module load attempts by result.",
			},
			[]string{"result"},
		),
		unloadsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "modhost_module_unloads_total",
				Help: "Number of modules unloaded, cascades included.",
			},
		),
		loadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "modhost_module_activation_duration_seconds",
				Help:    "Time taken to activate a module.",
				Buckets: prometheus.DefBuckets,
			},
		),
		loadingSince: make(map[string]time.Time),
	}

	var err error
	if o.loaded, err = register(reg, o.loaded); err != nil {
		return nil, err
	}
	if o.loadsTotal, err = register(reg, o.loadsTotal); err != nil {
		return nil, err
	}
	if o.unloadsTotal, err = register(reg, o.unloadsTotal); err != nil {
		return nil, err
	}
	if o.loadDuration, err = register(reg, o.loadDuration); err != nil {
		return nil, err
	}
	return o, nil
}

// register registers c, or returns the collector already registered under
// the same name.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (o *MetricsObserver) OnLoading(m *LoadedModule) {
	o.mu.Lock()
	o.loadingSince[m.ID()] = time.Now()
	o.mu.Unlock()
}

func (o *MetricsObserver) OnLoaded(m *LoadedModule) {
	o.mu.Lock()
	start, ok := o.loadingSince[m.ID()]
	delete(o.loadingSince, m.ID())
	o.mu.Unlock()

	if ok {
		o.loadDuration.Observe(time.Since(start).Seconds())
	}
	o.loaded.Inc()
	o.loadsTotal.WithLabelValues("success").Inc()
}

func (o *MetricsObserver) OnUnloading(*LoadedModule) {}

func (o *MetricsObserver) OnUnloaded(m *LoadedModule) {
	o.mu.Lock()
	_, activating := o.loadingSince[m.ID()]
	delete(o.loadingSince, m.ID())
	o.mu.Unlock()

	// A rollback unloads a module that was never counted as loaded.
	if !activating {
		o.loaded.Dec()
	}
	o.unloadsTotal.Inc()
}

func (o *MetricsObserver) OnLoadFailed(string, error) {
	o.loadsTotal.WithLabelValues("failure").Inc()
}
