package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marcoeg/gs-redis-sink/src/config"
	"github.com/marcoeg/gs-redis-sink/src/observability"
	"github.com/marcoeg/gs-redis-sink/src/pipeline"
)

func testConfig() *config.ConnectorConfig {
	cfg := &config.ConnectorConfig{
		Host:            "localhost",
		Port:            6379,
		BatchSize:       2,
		RetryBackoffMs:  1,
		FlushIntervalMs: -1,
	}
	cfg.ApplyDefaults()
	return cfg
}

// startTestConnector arma el conector sobre un sink de archivo, sin Redis.
func startTestConnector(t *testing.T) (*Connector, *pipeline.FileSinkFactory, string) {
	t.Helper()

	dir := t.TempDir()
	logger := observability.NewNopLogger()
	factory := pipeline.NewFileSinkFactory(dir, logger)
	t.Cleanup(func() { _ = factory.Close() })

	c := NewConnector(logger, nil)
	require.NoError(t, c.start(context.Background(), testConfig(), factory))
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	return c, factory, dir
}

func sourceInsert(table string, id int) *pipeline.SourceEvent {
	return &pipeline.SourceEvent{
		Operation: "INSERT",
		After:     map[string]interface{}{"id": id},
		Metadata:  map[string]interface{}{"table": table, "database": "shop"},
	}
}

func TestWriteBeforeConnectFails(t *testing.T) {
	c := NewConnector(observability.NewNopLogger(), nil)

	err := c.Write(context.Background(), []*pipeline.SourceEvent{sourceInsert("customers", 1)})
	require.ErrorContains(t, err, "not connected")
}

func TestConnectRejectsNilConfig(t *testing.T) {
	c := NewConnector(observability.NewNopLogger(), nil)

	var cerr *config.ConfigurationError
	require.ErrorAs(t, c.Connect(context.Background(), nil), &cerr)
}

func TestConnectMapRejectsMissingHost(t *testing.T) {
	c := NewConnector(observability.NewNopLogger(), nil)

	err := c.ConnectMap(context.Background(), map[string]interface{}{"port": 6379})

	var cerr *config.ConfigurationError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, "host", cerr.Key)
}

func TestWriteDeliversFullBatches(t *testing.T) {
	c, _, dir := startTestConnector(t)

	require.NoError(t, c.Write(context.Background(), []*pipeline.SourceEvent{
		sourceInsert("customers", 1),
		sourceInsert("customers", 2),
	}))

	require.FileExists(t, dir+"/gluesync_gluesync_events_customers.jsonl")
}

func TestDrainFlushesOpenBatches(t *testing.T) {
	c, _, dir := startTestConnector(t)

	require.NoError(t, c.Write(context.Background(), []*pipeline.SourceEvent{
		sourceInsert("customers", 1),
	}))

	// batch de un evento con batch_size 2: sigue abierto hasta el drain
	require.NoFileExists(t, dir+"/gluesync_gluesync_events_customers.jsonl")

	require.NoError(t, c.Drain(context.Background()))
	require.FileExists(t, dir+"/gluesync_gluesync_events_customers.jsonl")
}

func TestCloseIsIdempotent(t *testing.T) {
	c, _, _ := startTestConnector(t)

	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Close(context.Background()))
}

func TestCloseDrainsPendingEvents(t *testing.T) {
	c, _, dir := startTestConnector(t)

	require.NoError(t, c.Write(context.Background(), []*pipeline.SourceEvent{
		sourceInsert("orders", 1),
	}))

	require.NoError(t, c.Close(context.Background()))
	require.FileExists(t, dir+"/gluesync_gluesync_events_orders.jsonl")
}

func TestConnectAfterCloseFails(t *testing.T) {
	c := NewConnector(observability.NewNopLogger(), nil)
	require.NoError(t, c.Close(context.Background()))

	err := c.Connect(context.Background(), testConfig())
	require.ErrorContains(t, err, "closed")
}
