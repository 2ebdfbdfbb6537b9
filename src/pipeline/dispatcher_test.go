package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marcoeg/gs-redis-sink/src/observability"
)

// fakeSink registra los flushes de un destino y puede fallar los primeros
// intentos, con rechazo parcial o con error transitorio total.
type fakeSink struct {
	mu       sync.Mutex
	partials int
	failures int
	attempts int
	flushed  [][]*ChangeEvent
}

func (s *fakeSink) Flush(ctx context.Context, batch *Batch) DeliveryResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts++
	if s.attempts <= s.partials {
		return DeliveryResult{Status: StatusPartialFailure, Delivered: 1,
			Err: errors.New("backend rejected a subset")}
	}
	if s.attempts <= s.partials+s.failures {
		return DeliveryResult{Status: StatusFailed, Err: errors.New("transient backend error")}
	}

	events := append([]*ChangeEvent(nil), batch.Events...)
	s.flushed = append(s.flushed, events)

	return DeliveryResult{Status: StatusDelivered, Delivered: batch.Len()}
}

func (s *fakeSink) Close() error { return nil }

func (s *fakeSink) flushedIDs(t *testing.T) []int {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int
	for _, batch := range s.flushed {
		for _, ce := range batch {
			ids = append(ids, ce.Payload["id"].(int))
		}
	}
	return ids
}

func (s *fakeSink) flushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.flushed)
}

type fakeSinkFactory struct {
	mu       sync.Mutex
	partials int
	failures int
	sinks    map[StreamTarget]*fakeSink
}

func newFakeSinkFactory(failures int) *fakeSinkFactory {
	return &fakeSinkFactory{
		failures: failures,
		sinks:    make(map[StreamTarget]*fakeSink),
	}
}

func (f *fakeSinkFactory) CreateSink(target StreamTarget) (StreamSink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sink := &fakeSink{partials: f.partials, failures: f.failures}
	f.sinks[target] = sink

	return sink, nil
}

func (f *fakeSinkFactory) sink(target StreamTarget) *fakeSink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sinks[target]
}

// collectingReporter acumula los WriteError escalados.
type collectingReporter struct {
	mu     sync.Mutex
	errors []*WriteError
}

func (r *collectingReporter) ReportWriteError(ctx context.Context, werr *WriteError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, werr)
}

func newTestDispatcher(t *testing.T, factory SinkFactory, reporter DeliveryReporter,
	batchSize int, maxRetries int, flushInterval time.Duration) *Dispatcher {
	t.Helper()

	router, err := NewRouter("gluesync:", "gluesync_events")
	require.NoError(t, err)

	d := NewDispatcher(
		NewNormalizer(nil),
		router,
		NewAccumulator(batchSize),
		factory,
		NewRetryPolicy(maxRetries, time.Millisecond),
		reporter,
		4,
		flushInterval,
		observability.NewNopLogger(),
	)

	d.Start(context.Background())
	t.Cleanup(func() { d.Stop(context.Background()) })

	return d
}

func insertSource(table string, id int) *SourceEvent {
	return &SourceEvent{
		Operation: "INSERT",
		After:     map[string]interface{}{"id": id},
		Metadata:  map[string]interface{}{"table": table, "database": "shop"},
	}
}

func TestWriteFlushesFullBatchInOrder(t *testing.T) {
	factory := newFakeSinkFactory(0)
	d := newTestDispatcher(t, factory, nil, 3, 3, 0)

	err := d.Write(context.Background(), []*SourceEvent{
		insertSource("customers", 1),
		insertSource("customers", 2),
		insertSource("customers", 3),
	})
	require.NoError(t, err)

	sink := factory.sink("gluesync:gluesync_events:customers")
	require.NotNil(t, sink)
	require.Equal(t, 1, sink.flushCount())
	require.Equal(t, []int{1, 2, 3}, sink.flushedIDs(t))
}

func TestWriteRetriesTransientFailureAndDeliversOnce(t *testing.T) {
	// falla dos veces, entrega al tercer intento: dentro del presupuesto
	factory := newFakeSinkFactory(2)
	d := newTestDispatcher(t, factory, nil, 3, 5, 0)

	err := d.Write(context.Background(), []*SourceEvent{
		insertSource("customers", 1),
		insertSource("customers", 2),
		insertSource("customers", 3),
	})
	require.NoError(t, err)

	sink := factory.sink("gluesync:gluesync_events:customers")
	require.Equal(t, 3, sink.attempts)
	require.Equal(t, 1, sink.flushCount())
	require.Equal(t, []int{1, 2, 3}, sink.flushedIDs(t))
}

func TestWriteSurfacesWriteErrorAfterExhaustion(t *testing.T) {
	factory := newFakeSinkFactory(100)
	reporter := &collectingReporter{}
	d := newTestDispatcher(t, factory, reporter, 2, 3, 0)

	err := d.Write(context.Background(), []*SourceEvent{
		insertSource("customers", 1),
		insertSource("customers", 2),
	})

	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	require.Equal(t, StreamTarget("gluesync:gluesync_events:customers"), werr.Target)
	require.Equal(t, 2, werr.Batch.Len())
	require.Equal(t, 3, werr.Attempts)

	// nada quedo confirmado y el host recibio el reporte
	sink := factory.sink("gluesync:gluesync_events:customers")
	require.Equal(t, 3, sink.attempts)
	require.Zero(t, sink.flushCount())
	require.Len(t, reporter.errors, 1)
}

func TestInterleavedTargetsDeliverInOrderPerStream(t *testing.T) {
	factory := newFakeSinkFactory(0)
	d := newTestDispatcher(t, factory, nil, 2, 3, 0)

	err := d.Write(context.Background(), []*SourceEvent{
		insertSource("customers", 1),
		insertSource("orders", 10),
		insertSource("customers", 2),
		insertSource("orders", 20),
	})
	require.NoError(t, err)

	require.Equal(t, []int{1, 2}, factory.sink("gluesync:gluesync_events:customers").flushedIDs(t))
	require.Equal(t, []int{10, 20}, factory.sink("gluesync:gluesync_events:orders").flushedIDs(t))
}

func TestUnsupportedOperationIsSkippedAndPipelineContinues(t *testing.T) {
	factory := newFakeSinkFactory(0)
	d := newTestDispatcher(t, factory, nil, 2, 3, 0)

	err := d.Write(context.Background(), []*SourceEvent{
		insertSource("customers", 1),
		{
			Operation: "TRUNCATE",
			Metadata:  map[string]interface{}{"table": "customers", "database": "shop"},
		},
		insertSource("customers", 2),
	})
	require.NoError(t, err)

	require.Equal(t, []int{1, 2}, factory.sink("gluesync:gluesync_events:customers").flushedIDs(t))
}

func TestOrderPreservedAcrossConsecutiveBatches(t *testing.T) {
	factory := newFakeSinkFactory(0)
	d := newTestDispatcher(t, factory, nil, 2, 3, 0)

	var events []*SourceEvent
	for i := 1; i <= 6; i++ {
		events = append(events, insertSource("customers", i))
	}

	require.NoError(t, d.Write(context.Background(), events))

	sink := factory.sink("gluesync:gluesync_events:customers")
	require.Equal(t, 3, sink.flushCount())
	require.Equal(t, []int{1, 2, 3, 4, 5, 6}, sink.flushedIDs(t))
}

func TestAgeFlusherDeliversUnderfilledBatch(t *testing.T) {
	factory := newFakeSinkFactory(0)
	d := newTestDispatcher(t, factory, nil, 100, 3, 10*time.Millisecond)

	require.NoError(t, d.Write(context.Background(), []*SourceEvent{
		insertSource("customers", 1),
	}))

	require.Eventually(t, func() bool {
		sink := factory.sink("gluesync:gluesync_events:customers")
		return sink != nil && sink.flushCount() == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestFlushOpenDrainsPartialBatches(t *testing.T) {
	factory := newFakeSinkFactory(0)
	d := newTestDispatcher(t, factory, nil, 100, 3, 0)

	require.NoError(t, d.Write(context.Background(), []*SourceEvent{
		insertSource("customers", 1),
		insertSource("orders", 10),
	}))

	// sin flush por tiempo, los batches siguen abiertos
	require.Nil(t, factory.sink("gluesync:gluesync_events:customers"))

	require.NoError(t, d.FlushOpen(context.Background()))

	require.Equal(t, []int{1}, factory.sink("gluesync:gluesync_events:customers").flushedIDs(t))
	require.Equal(t, []int{10}, factory.sink("gluesync:gluesync_events:orders").flushedIDs(t))
}

func TestPartialFailureRetriesWholeBatch(t *testing.T) {
	factory := newFakeSinkFactory(0)
	factory.partials = 1
	d := newTestDispatcher(t, factory, nil, 3, 5, 0)

	err := d.Write(context.Background(), []*SourceEvent{
		insertSource("customers", 1),
		insertSource("customers", 2),
		insertSource("customers", 3),
	})
	require.NoError(t, err)

	sink := factory.sink("gluesync:gluesync_events:customers")
	// el intento parcial no confirma nada: el batch completo se reintenta
	require.Equal(t, 2, sink.attempts)
	require.Equal(t, 1, sink.flushCount())
	require.Equal(t, []int{1, 2, 3}, sink.flushedIDs(t))
}

// gatedSink retiene cada flush hasta que se abra la compuerta.
type gatedSink struct {
	mu      sync.Mutex
	started int
	release chan struct{}
}

func (s *gatedSink) Flush(ctx context.Context, batch *Batch) DeliveryResult {
	s.mu.Lock()
	s.started++
	s.mu.Unlock()

	<-s.release

	return DeliveryResult{Status: StatusDelivered, Delivered: batch.Len()}
}

func (s *gatedSink) Close() error { return nil }

func (s *gatedSink) startedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

type singleSinkFactory struct {
	sink StreamSink
}

func (f *singleSinkFactory) CreateSink(target StreamTarget) (StreamSink, error) {
	return f.sink, nil
}

func TestWriteWithFullQueueFailsFastAndReportsBatch(t *testing.T) {
	sink := &gatedSink{release: make(chan struct{})}
	reporter := &collectingReporter{}

	router, err := NewRouter("", "events")
	require.NoError(t, err)

	// batch de 1 evento y cola de 1: con un flush en curso y la cola llena,
	// el siguiente encolado no cabe
	d := NewDispatcher(NewNormalizer(nil), router, NewAccumulator(1),
		&singleSinkFactory{sink: sink}, NewRetryPolicy(1, time.Millisecond),
		reporter, 1, 0, observability.NewNopLogger())
	d.Start(context.Background())

	var wg sync.WaitGroup
	for i := 1; i <= 2; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_ = d.Write(context.Background(), []*SourceEvent{insertSource("customers", id)})
		}(i)
	}

	// primer flush retenido en la compuerta y la cola del worker llena
	require.Eventually(t, func() bool {
		if sink.startedCount() == 0 {
			return false
		}
		d.mu.RLock()
		worker := d.workers[StreamTarget("events:customers")]
		d.mu.RUnlock()
		return worker != nil && worker.PendingBatches() == 1
	}, 2*time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = d.Write(ctx, []*SourceEvent{insertSource("customers", 3)})

	// expirado el contexto, Write retorna en vez de quedar colgado y el
	// batch que no cupo se escala al reporter
	require.Error(t, err)
	require.Less(t, time.Since(start), 2*time.Second)

	reporter.mu.Lock()
	require.Len(t, reporter.errors, 1)
	require.Equal(t, StreamTarget("events:customers"), reporter.errors[0].Target)
	require.Equal(t, 1, reporter.errors[0].Batch.Len())
	reporter.mu.Unlock()

	close(sink.release)
	wg.Wait()
	d.Stop(context.Background())
}

func TestWriteAfterStopIsRefused(t *testing.T) {
	factory := newFakeSinkFactory(0)

	router, err := NewRouter("", "events")
	require.NoError(t, err)

	d := NewDispatcher(NewNormalizer(nil), router, NewAccumulator(1), factory,
		NewRetryPolicy(1, time.Millisecond), nil, 4, 0,
		observability.NewNopLogger())
	d.Start(context.Background())
	d.Stop(context.Background())

	err = d.Write(context.Background(), []*SourceEvent{insertSource("customers", 1)})
	require.ErrorContains(t, err, "not started")
}

func TestStopReportsUndeliveredBatches(t *testing.T) {
	factory := newFakeSinkFactory(100)
	reporter := &collectingReporter{}

	router, err := NewRouter("", "events")
	require.NoError(t, err)

	d := NewDispatcher(NewNormalizer(nil), router, NewAccumulator(100), factory,
		NewRetryPolicy(2, time.Millisecond), reporter, 4, 0,
		observability.NewNopLogger())
	d.Start(context.Background())

	require.NoError(t, d.Write(context.Background(), []*SourceEvent{
		insertSource("customers", 1),
	}))

	d.Stop(context.Background())

	reporter.mu.Lock()
	defer reporter.mu.Unlock()
	require.NotEmpty(t, reporter.errors)
}
