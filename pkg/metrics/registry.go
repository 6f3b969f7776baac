// Package metrics defines the observability contracts of the server and the
// HTTP endpoint exposing them.
//
// Collection is opt-in. Until InitRegistry runs, constructors in the
// prometheus subpackage hand out no-op implementations:
//
//	metrics.InitRegistry()
//	m := prometheus.NewHTTPMetrics()
//	adapter, err := http.New(config, m)
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var registry atomic.Pointer[prometheus.Registry]

// InitRegistry creates the process registry, pre-loaded with the Go runtime
// and process collectors, and returns it. Later calls return the registry
// created by the first one.
func InitRegistry() *prometheus.Registry {
	if reg := registry.Load(); reg != nil {
		return reg
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if !registry.CompareAndSwap(nil, reg) {
		return registry.Load()
	}
	return reg
}

// GetRegistry returns the process registry, or nil while metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry.Load()
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return registry.Load() != nil
}
