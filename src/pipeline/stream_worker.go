package pipeline

import (
	"context"
	"sync"

	"github.com/marcoeg/gs-redis-sink/src/observability"
)

// flushRequest es un batch sellado en camino al executor. done es nil para
// flushes de fondo (por tiempo) donde nadie espera el resultado.
type flushRequest struct {
	batch *Batch
	done  chan error
}

// StreamWorker ejecuta los flushes de un unico destino, estrictamente en
// serie: el batch N queda resuelto (entregado o agotado y reportado) antes
// de comenzar el N+1. La cola acotada de batchCh es el limite de
// backpressure por destino.
type StreamWorker struct {
	target   StreamTarget
	sink     StreamSink
	retry    *RetryPolicy
	reporter DeliveryReporter
	batchCh  chan *flushRequest
	stopCh   chan struct{}
	wg       sync.WaitGroup
	metrics  *observability.SinkMetrics
	observability.Logger
}

func NewStreamWorker(target StreamTarget,
	sink StreamSink,
	retry *RetryPolicy,
	reporter DeliveryReporter,
	maxPendingBatches int,
	logger observability.Logger) *StreamWorker {

	return &StreamWorker{
		target:   target,
		sink:     sink,
		retry:    retry,
		reporter: reporter,
		batchCh:  make(chan *flushRequest, maxPendingBatches),
		stopCh:   make(chan struct{}),
		metrics:  observability.GetSinkMetrics(),
		Logger:   logger,
	}
}

// Enqueue entrega un batch sellado al worker. Bloquea al que llama cuando
// la cola esta llena: ese es el tope de memoria bajo destino lento.
func (sw *StreamWorker) Enqueue(ctx context.Context, req *flushRequest) error {
	select {
	case sw.batchCh <- req:
		sw.metrics.SetPendingBatches(string(sw.target), float64(len(sw.batchCh)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (sw *StreamWorker) run(ctx context.Context) {
	defer sw.wg.Done()

	for {
		select {
		case <-ctx.Done():
			sw.Info(ctx, "StreamWorker stopped by context done",
				"target", sw.target)
			sw.drainPending(ctx)
			return
		case <-sw.stopCh:
			sw.Info(ctx, "StreamWorker stopped by stop channel",
				"target", sw.target)
			sw.drainPending(ctx)
			return
		case req := <-sw.batchCh:
			sw.handle(ctx, req)
		}
	}
}

func (sw *StreamWorker) handle(ctx context.Context, req *flushRequest) {
	sw.metrics.SetPendingBatches(string(sw.target), float64(len(sw.batchCh)))

	err := sw.deliver(ctx, req.batch)

	if req.done != nil {
		req.done <- err
	}
}

// deliver resuelve un batch por completo: flush, reintentos con backoff y,
// agotado el presupuesto, escalada al reporter. Nunca descarta un batch en
// silencio.
func (sw *StreamWorker) deliver(ctx context.Context, batch *Batch) error {
	if batch.Len() == 0 {
		return nil
	}

	var lastErr error

	for attempt := 0; attempt < sw.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sw.retry.Wait(ctx, attempt-1); err != nil {
				// cierre en curso: se corta el reintento y el batch
				// se escala igual que un agotamiento
				lastErr = err
				break
			}
			sw.metrics.IncFlushRetries(string(sw.target))
		}

		result := sw.sink.Flush(ctx, batch)

		switch result.Status {
		case StatusDelivered:
			sw.metrics.IncBatchesFlushed(string(sw.target))
			sw.metrics.AddEventsDelivered(string(sw.target), float64(batch.Len()))

			sw.Trace(ctx, "Batch entregado", "target", sw.target,
				"events", batch.Len(), "attempt", attempt+1)

			return nil

		case StatusPartialFailure:
			lastErr = result.Err
			sw.Warn(ctx, "Entrega parcial, se reintenta el batch completo", result.Err,
				"target", sw.target, "delivered", result.Delivered,
				"events", batch.Len(), "attempt", attempt+1)

		case StatusFailed:
			lastErr = result.Err
			sw.Warn(ctx, "Error entregando batch", result.Err,
				"target", sw.target, "events", batch.Len(), "attempt", attempt+1)
		}
	}

	werr := &WriteError{
		Target:   sw.target,
		Batch:    batch,
		Attempts: sw.retry.MaxAttempts,
		Err:      lastErr,
	}

	sw.metrics.IncWriteErrors(string(sw.target))

	if sw.reporter != nil {
		sw.reporter.ReportWriteError(ctx, werr)
	}

	return werr
}

// drainPending resuelve lo que quedo encolado al momento del stop para que
// ningun batch quede retenido sin entregar ni reportar.
func (sw *StreamWorker) drainPending(ctx context.Context) {
	for {
		select {
		case req := <-sw.batchCh:
			sw.handle(ctx, req)
		default:
			return
		}
	}
}

func (sw *StreamWorker) Start(ctx context.Context) {
	sw.wg.Add(1)
	go sw.run(ctx)
}

func (sw *StreamWorker) Stop(ctx context.Context) {
	close(sw.stopCh)
	sw.wg.Wait()
}

func (sw *StreamWorker) PendingBatches() int {
	return len(sw.batchCh)
}
