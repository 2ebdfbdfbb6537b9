package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marcoeg/gs-redis-sink/src/observability"
)

// Dispatcher conduce el pipeline Normalizer -> Router -> Accumulator ->
// StreamWorker. Mantiene un worker por destino; destinos distintos se
// entregan en paralelo, cada destino en serie.
type Dispatcher struct {
	normalizer  *Normalizer
	router      *Router
	accumulator *Accumulator
	sinkFactory SinkFactory
	retry       *RetryPolicy
	reporter    DeliveryReporter

	maxPendingBatches int
	flushInterval     time.Duration

	mu      sync.RWMutex
	workers map[StreamTarget]*StreamWorker

	// dispatchMu serializa sellar y encolar: asi el orden de encolado por
	// destino coincide con el orden de sellado de los batches
	dispatchMu sync.Mutex

	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool

	metrics *observability.SinkMetrics
	logger  observability.Logger
}

func NewDispatcher(normalizer *Normalizer,
	router *Router,
	accumulator *Accumulator,
	sinkFactory SinkFactory,
	retry *RetryPolicy,
	reporter DeliveryReporter,
	maxPendingBatches int,
	flushInterval time.Duration,
	logger observability.Logger) *Dispatcher {

	return &Dispatcher{
		normalizer:        normalizer,
		router:            router,
		accumulator:       accumulator,
		sinkFactory:       sinkFactory,
		retry:             retry,
		reporter:          reporter,
		maxPendingBatches: maxPendingBatches,
		flushInterval:     flushInterval,
		workers:           make(map[StreamTarget]*StreamWorker),
		metrics:           observability.GetSinkMetrics(),
		logger:            logger,
	}
}

// Start arranca el flusher de fondo por tiempo. Debe llamarse despues de
// que la conexion al destino este establecida.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return
	}

	d.runCtx, d.cancel = context.WithCancel(context.WithoutCancel(ctx))
	d.started = true

	if d.flushInterval > 0 {
		d.wg.Add(1)
		go d.runAgeFlusher()
	}
}

func (d *Dispatcher) isStarted() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.started
}

// Write procesa un lote de eventos entrantes del host. Bloquea hasta que
// los batches que este llamado dejo listos queden resueltos; retorna el
// primer WriteError irrecuperable despues de intentarlos todos.
func (d *Dispatcher) Write(ctx context.Context, events []*SourceEvent) error {
	d.dispatchMu.Lock()

	// chequeo bajo dispatchMu: Stop marca el dispatcher como detenido antes
	// de tomar este lock, asi ningun Write encola sobre workers detenidos
	if !d.isStarted() {
		d.dispatchMu.Unlock()
		return fmt.Errorf("dispatcher is not started")
	}

	for _, se := range events {
		ce, err := d.normalizer.Normalize(se)
		if err != nil {
			// falla por evento: se recupera localmente, el pipeline sigue
			var unsupported *UnsupportedOperationError
			if errors.As(err, &unsupported) {
				d.logger.Warn(ctx, "Operacion no soportada, evento descartado", err,
					"operation", unsupported.Kind)
				d.metrics.IncEventsSkipped("unsupported_operation")
			} else {
				d.logger.Warn(ctx, "Evento invalido descartado", err)
				d.metrics.IncEventsSkipped("invalid_event")
			}
			continue
		}

		d.metrics.IncEventsNormalized(string(ce.Operation))
		d.accumulator.Add(ce, d.router.Route(ce))
	}

	pending, err := d.enqueueLocked(ctx, d.accumulator.DrainReady(), true)
	d.dispatchMu.Unlock()

	return d.await(pending, err)
}

// FlushOpen sella y entrega todo lo acumulado, bloqueando hasta resolverlo.
func (d *Dispatcher) FlushOpen(ctx context.Context) error {
	d.dispatchMu.Lock()

	if !d.isStarted() {
		d.dispatchMu.Unlock()
		return nil
	}

	pending, err := d.enqueueLocked(ctx, d.accumulator.DrainAll(), true)
	d.dispatchMu.Unlock()

	return d.await(pending, err)
}

// enqueueLocked reparte batches sellados a sus workers. Se llama con
// dispatchMu tomado. Con withDone retorna los canales a esperar; solo los
// batches efectivamente encolados entran en pending, el resto se escala.
func (d *Dispatcher) enqueueLocked(ctx context.Context, batches []*Batch, withDone bool) ([]chan error, error) {
	var pending []chan error

	for i, batch := range batches {
		worker, err := d.getOrCreateWorker(ctx, batch.Target)
		if err != nil {
			d.reportUndelivered(ctx, batches[i:], err)
			return pending, err
		}

		req := &flushRequest{batch: batch}
		if withDone {
			req.done = make(chan error, 1)
		}

		if err := worker.Enqueue(ctx, req); err != nil {
			d.reportUndelivered(ctx, batches[i:], err)
			return pending, fmt.Errorf("enqueue batch for %s: %w", batch.Target, err)
		}

		if withDone {
			pending = append(pending, req.done)
		}
	}

	return pending, nil
}

// reportUndelivered escala batches sellados que nunca llegaron a un worker.
// Un batch sellado no se descarta en silencio, ni siquiera en esta ruta.
func (d *Dispatcher) reportUndelivered(ctx context.Context, batches []*Batch, cause error) {
	for _, batch := range batches {
		werr := &WriteError{
			Target: batch.Target,
			Batch:  batch,
			Err:    cause,
		}

		d.metrics.IncWriteErrors(string(batch.Target))

		if d.reporter != nil {
			d.reporter.ReportWriteError(ctx, werr)
		}
	}
}

// await espera la resolucion de todos los batches encolados y retorna el
// primer error en orden de encolado.
func (d *Dispatcher) await(pending []chan error, err error) error {
	first := err

	for _, done := range pending {
		if werr := <-done; werr != nil && first == nil {
			first = werr
		}
	}

	return first
}

func (d *Dispatcher) getOrCreateWorker(ctx context.Context, target StreamTarget) (*StreamWorker, error) {
	d.mu.RLock()
	worker, exists := d.workers[target]
	d.mu.RUnlock()

	if exists {
		return worker, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if worker, exists := d.workers[target]; exists {
		return worker, nil
	}

	// con runCtx ya cancelado un worker nuevo jamas drenaria su cola
	if d.runCtx.Err() != nil {
		return nil, fmt.Errorf("dispatcher is stopped")
	}

	sink, err := d.sinkFactory.CreateSink(target)
	if err != nil {
		d.logger.Error(ctx, "Error creating sink", err,
			"target", target)

		return nil, fmt.Errorf("create sink for %s: %w", target, err)
	}

	worker = NewStreamWorker(target, sink, d.retry, d.reporter,
		d.maxPendingBatches, d.logger)

	worker.Start(d.runCtx)

	d.workers[target] = worker

	d.logger.Info(ctx, "Created new worker",
		"target", target)

	return worker, nil
}

// runAgeFlusher sella por tiempo los batches abiertos de tablas de bajo
// trafico. Pasa por la misma cola por destino, asi el orden se preserva.
func (d *Dispatcher) runAgeFlusher() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.runCtx.Done():
			return
		case <-ticker.C:
			d.dispatchMu.Lock()
			aged := d.accumulator.DrainAged(d.flushInterval)
			_, err := d.enqueueLocked(d.runCtx, aged, false)
			d.dispatchMu.Unlock()

			if err != nil && d.runCtx.Err() == nil {
				d.logger.Error(d.runCtx, "Error encolando flush por tiempo", err)
			}
		}
	}
}

// Stop drena lo abierto, detiene los workers y cierra los sinks. Los
// batches no entregados se reportan via el DeliveryReporter, no se
// descartan.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	d.mu.Unlock()

	// started ya esta en false: ningun Write nuevo pasa el chequeo bajo
	// dispatchMu, y el drain final corre con los workers todavia vivos
	d.dispatchMu.Lock()
	pending, enqErr := d.enqueueLocked(ctx, d.accumulator.DrainAll(), true)
	d.dispatchMu.Unlock()

	if err := d.await(pending, enqErr); err != nil {
		d.logger.Error(ctx, "Error drenando batches abiertos durante el cierre", err)
	}

	d.cancel()
	d.wg.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()

	for target, worker := range d.workers {
		worker.Stop(ctx)

		if err := worker.sink.Close(); err != nil {
			d.logger.Error(ctx, "Error closing sink", err,
				"target", target)
		}
	}

	d.workers = make(map[StreamTarget]*StreamWorker)
}
