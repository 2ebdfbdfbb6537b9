package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/marcoeg/gs-redis-sink/src/config"
	"github.com/marcoeg/gs-redis-sink/src/observability"
	"github.com/marcoeg/gs-redis-sink/src/pipeline"
	"github.com/marcoeg/gs-redis-sink/src/redis"
)

// Connector es el controlador de ciclo de vida que el host orquestador
// consume: Connect/Write/Close. Es el unico dueño de la conexion al
// destino; los workers del pipeline solo la usan para emitir comandos.
type Connector struct {
	mu sync.Mutex

	logger   observability.Logger
	reporter pipeline.DeliveryReporter

	cfg        *config.ConnectorConfig
	client     *redis.ClientService
	dispatcher *pipeline.Dispatcher

	connected bool
	closed    bool
}

// NewConnector crea el conector sin conectar. reporter es el colaborador
// de reporte de errores del host; con nil se reporta solo por log.
func NewConnector(logger observability.Logger, reporter pipeline.DeliveryReporter) *Connector {
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	c := &Connector{logger: logger}

	if reporter == nil {
		reporter = &loggingReporter{logger: logger}
	}
	c.reporter = reporter

	return c
}

// Connect valida la configuracion, abre la conexion al destino y arma el
// pipeline. La conexion queda verificada (PING) antes de que cualquier
// worker pueda correr.
func (c *Connector) Connect(ctx context.Context, cfg *config.ConnectorConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("connector is closed")
	}

	if c.connected {
		return fmt.Errorf("connector is already connected")
	}

	if cfg == nil {
		return &config.ConfigurationError{Key: "config", Reason: "configuration is required"}
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return err
	}

	clientCfg, err := redis.NewClientConfig(cfg.Host, cfg.Port)
	if err != nil {
		return &config.ConfigurationError{Key: "host", Reason: err.Error()}
	}

	clientCfg.WithPassword(cfg.Password).
		WithSSL(cfg.SSL).
		WithIOTimeoutMs(cfg.FlushTimeoutMs)

	client, err := redis.NewClientService(clientCfg, c.logger)
	if err != nil {
		return fmt.Errorf("create redis client: %w", err)
	}

	if err := client.Verify(ctx); err != nil {
		_ = client.Close()
		return err
	}

	sinkFactory := pipeline.NewRedisSinkFactory(client.Client, cfg.FlushTimeout(), c.logger)

	if err := c.start(ctx, cfg, sinkFactory); err != nil {
		_ = client.Close()
		return err
	}

	c.client = client

	c.logger.Info(ctx, "Conector conectado",
		"addr", client.Config.Addr(),
		"stream_base", cfg.StreamBaseName,
		"batch_size", cfg.BatchSize)

	return nil
}

// ConnectMap es la variante con el mapa crudo que entrega el host, como
// el dict de configuracion del SDK original.
func (c *Connector) ConnectMap(ctx context.Context, values map[string]interface{}) error {
	cfg, err := config.FromMap(values)
	if err != nil {
		return err
	}

	return c.Connect(ctx, cfg)
}

// start arma el pipeline sobre un sink factory ya construido. Separado de
// Connect para poder ejercitar el ciclo de vida sin un Redis real.
func (c *Connector) start(ctx context.Context, cfg *config.ConnectorConfig, factory pipeline.SinkFactory) error {
	router, err := pipeline.NewRouter(cfg.KeyPrefix, cfg.StreamBaseName)
	if err != nil {
		return &config.ConfigurationError{Key: "stream_base_name", Reason: err.Error()}
	}

	dispatcher := pipeline.NewDispatcher(
		pipeline.NewNormalizer(cfg.KeyFields),
		router,
		pipeline.NewAccumulator(cfg.BatchSize),
		factory,
		pipeline.NewRetryPolicy(cfg.MaxRetries, cfg.RetryBackoff()),
		c.reporter,
		cfg.MaxPendingBatches,
		cfg.FlushInterval(),
		c.logger,
	)

	dispatcher.Start(ctx)

	c.cfg = cfg
	c.dispatcher = dispatcher
	c.connected = true

	return nil
}

// Write conduce el pipeline para un lote de eventos entrantes. Bloquea
// hasta que los batches que quedaron listos se resuelvan; retorna el
// primer WriteError irrecuperable despues de intentar todos.
func (c *Connector) Write(ctx context.Context, events []*pipeline.SourceEvent) error {
	c.mu.Lock()
	dispatcher := c.dispatcher
	connected := c.connected
	c.mu.Unlock()

	if !connected {
		return fmt.Errorf("connector is not connected")
	}

	return dispatcher.Write(ctx, events)
}

// Drain fuerza la salida de los batches abiertos sin esperar al flush por
// tiempo. Es el analogo del commit() del SDK original.
func (c *Connector) Drain(ctx context.Context) error {
	c.mu.Lock()
	dispatcher := c.dispatcher
	connected := c.connected
	c.mu.Unlock()

	if !connected {
		return nil
	}

	return dispatcher.FlushOpen(ctx)
}

// Close drena lo pendiente, detiene los workers y libera la conexion.
// Idempotente: llamadas repetidas no fallan ni liberan dos veces.
func (c *Connector) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.dispatcher != nil {
		c.logger.Trace(ctx, "Deteniendo dispatcher")
		c.dispatcher.Stop(ctx)
		c.dispatcher = nil
	}

	if c.client != nil {
		c.logger.Trace(ctx, "Cerrando cliente de Redis")
		if err := c.client.Close(); err != nil {
			c.logger.Error(ctx, "Error cerrando cliente de Redis", err)
		}
		c.client = nil
	}

	c.connected = false

	c.logger.Info(ctx, "Conector cerrado")

	return nil
}

// loggingReporter es el reporter por defecto: deja constancia del batch
// agotado con contexto suficiente para alertar o derivarlo a mano.
type loggingReporter struct {
	logger observability.Logger
}

func (r *loggingReporter) ReportWriteError(ctx context.Context, werr *pipeline.WriteError) {
	r.logger.Error(ctx, "Batch agoto reintentos, requiere intervencion del host", werr,
		"target", werr.Target,
		"events", werr.Batch.Len(),
		"attempts", werr.Attempts)
}
