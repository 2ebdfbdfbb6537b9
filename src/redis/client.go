package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marcoeg/gs-redis-sink/src/observability"
)

// ConnectionError indica destino inalcanzable o autenticacion fallida.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("redis connection to %s failed: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

type ClientConfig struct {
	host     string
	port     int
	password string
	ssl      bool

	poolSize      int
	dialTimeoutMs int
	ioTimeoutMs   int
}

func NewClientConfig(host string, port int) (*ClientConfig, error) {
	if host == "" {
		return nil, errors.New("host is required")
	}

	if port <= 0 || port > 65535 {
		return nil, errors.New("port must be between 1 and 65535")
	}

	return &ClientConfig{
		host:          host,
		port:          port,
		poolSize:      10,
		dialTimeoutMs: 5000,
		ioTimeoutMs:   5000,
	}, nil
}

func (c *ClientConfig) WithPassword(password string) *ClientConfig {
	c.password = password
	return c
}

func (c *ClientConfig) WithSSL(enabled bool) *ClientConfig {
	c.ssl = enabled
	return c
}

func (c *ClientConfig) WithPoolSize(poolSize int) *ClientConfig {
	if poolSize <= 0 {
		return c
	}
	c.poolSize = poolSize
	return c
}

func (c *ClientConfig) WithDialTimeoutMs(dialTimeoutMs int) *ClientConfig {
	if dialTimeoutMs < 0 {
		return c
	}
	c.dialTimeoutMs = dialTimeoutMs
	return c
}

func (c *ClientConfig) WithIOTimeoutMs(ioTimeoutMs int) *ClientConfig {
	if ioTimeoutMs < 0 {
		return c
	}
	c.ioTimeoutMs = ioTimeoutMs
	return c
}

func (c *ClientConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.host, c.port)
}

func (c *ClientConfig) Build() *redis.Options {
	opts := &redis.Options{
		Addr:        c.Addr(),
		Password:    c.password,
		PoolSize:    c.poolSize,
		DialTimeout: time.Duration(c.dialTimeoutMs) * time.Millisecond,
		ReadTimeout: time.Duration(c.ioTimeoutMs) * time.Millisecond,

		// los reintentos los maneja el executor del pipeline, no el cliente
		MaxRetries: -1,
	}

	if c.ssl {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return opts
}

// ClientService envuelve el cliente de go-redis. Es el unico punto donde
// se abre y cierra la conexion al destino.
type ClientService struct {
	Config *ClientConfig
	*redis.Client
	logger observability.Logger
}

func NewClientService(config *ClientConfig, logger observability.Logger) (*ClientService, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	return &ClientService{
		Config: config,
		Client: redis.NewClient(config.Build()),
		logger: logger,
	}, nil
}

// Verify comprueba la conexion con un PING antes de permitir que corra
// cualquier worker del executor.
func (s *ClientService) Verify(ctx context.Context) error {
	if err := s.Client.Ping(ctx).Err(); err != nil {
		s.logger.Error(ctx, "Error verificando conexion a Redis", err,
			"addr", s.Config.Addr())

		return &ConnectionError{Addr: s.Config.Addr(), Err: err}
	}

	s.logger.Info(ctx, "Conectado a Redis", "addr", s.Config.Addr())

	return nil
}

func (s *ClientService) Close() error {
	if s.Client != nil {
		return s.Client.Close()
	}

	return nil
}
