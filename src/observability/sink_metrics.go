package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// SinkMetrics contiene todas las metricas del conector de salida
type SinkMetrics struct {
	eventsNormalizedTotal *prometheus.CounterVec
	eventsSkippedTotal    *prometheus.CounterVec

	batchesFlushedTotal  *prometheus.CounterVec
	eventsDeliveredTotal *prometheus.CounterVec
	flushRetriesTotal    *prometheus.CounterVec
	writeErrorsTotal     *prometheus.CounterVec

	pendingBatches *prometheus.GaugeVec
}

var (
	metricsInstance *SinkMetrics
	metricsOnce     sync.Once
)

// NewSinkMetrics crea e inicializa las metricas del sink
func NewSinkMetrics(registry *prometheus.Registry) *SinkMetrics {
	metricsOnce.Do(func() {
		metrics := &SinkMetrics{
			eventsNormalizedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sink_events_normalized_total",
					Help: "Numero total de eventos normalizados, por operacion",
				},
				[]string{"operation"},
			),
			eventsSkippedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sink_events_skipped_total",
					Help: "Numero total de eventos descartados en normalizacion, por motivo",
				},
				[]string{"reason"},
			),
			batchesFlushedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sink_batches_flushed_total",
					Help: "Numero total de batches entregados al destino, por stream",
				},
				[]string{"target"},
			),
			eventsDeliveredTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sink_events_delivered_total",
					Help: "Numero total de entradas confirmadas por el destino, por stream",
				},
				[]string{"target"},
			),
			flushRetriesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sink_flush_retries_total",
					Help: "Numero total de reintentos de flush, por stream",
				},
				[]string{"target"},
			),
			writeErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sink_write_errors_total",
					Help: "Numero total de batches que agotaron reintentos, por stream",
				},
				[]string{"target"},
			),
			pendingBatches: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "sink_pending_batches",
					Help: "Batches sellados en cola de flush, por stream",
				},
				[]string{"target"},
			),
		}

		registry.MustRegister(
			metrics.eventsNormalizedTotal,
			metrics.eventsSkippedTotal,
			metrics.batchesFlushedTotal,
			metrics.eventsDeliveredTotal,
			metrics.flushRetriesTotal,
			metrics.writeErrorsTotal,
			metrics.pendingBatches,
		)

		metricsInstance = metrics
	})

	return metricsInstance
}

// GetSinkMetrics retorna la instancia singleton de metricas; nil si el
// proceso no inicializo el registro (uso embebido o tests)
func GetSinkMetrics() *SinkMetrics {
	return metricsInstance
}

func (sm *SinkMetrics) IncEventsNormalized(operation string) {
	if sm == nil {
		return
	}
	sm.eventsNormalizedTotal.WithLabelValues(operation).Inc()
}

func (sm *SinkMetrics) IncEventsSkipped(reason string) {
	if sm == nil {
		return
	}
	sm.eventsSkippedTotal.WithLabelValues(reason).Inc()
}

func (sm *SinkMetrics) IncBatchesFlushed(target string) {
	if sm == nil {
		return
	}
	sm.batchesFlushedTotal.WithLabelValues(target).Inc()
}

func (sm *SinkMetrics) AddEventsDelivered(target string, count float64) {
	if sm == nil {
		return
	}
	sm.eventsDeliveredTotal.WithLabelValues(target).Add(count)
}

func (sm *SinkMetrics) IncFlushRetries(target string) {
	if sm == nil {
		return
	}
	sm.flushRetriesTotal.WithLabelValues(target).Inc()
}

func (sm *SinkMetrics) IncWriteErrors(target string) {
	if sm == nil {
		return
	}
	sm.writeErrorsTotal.WithLabelValues(target).Inc()
}

func (sm *SinkMetrics) SetPendingBatches(target string, count float64) {
	if sm == nil {
		return
	}
	sm.pendingBatches.WithLabelValues(target).Set(count)
}
