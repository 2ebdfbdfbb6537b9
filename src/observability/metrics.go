package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// MetricsService es el registro de Prometheus del proceso; respalda el
// endpoint /metrics del binario del conector
type MetricsService struct {
	registry *prometheus.Registry
}

// NewMetricsService crea el registro con los collectors estándar de Go
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &MetricsService{
		registry: registry,
	}
}

// GetRegistry retorna el registro para registrar las métricas del sink
func (ms *MetricsService) GetRegistry() *prometheus.Registry {
	return ms.registry
}
