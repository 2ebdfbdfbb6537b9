package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/SOLUCIONESSYCOM/configuro"
	"github.com/SOLUCIONESSYCOM/scribe"

	"github.com/marcoeg/gs-redis-sink/src/utils"
)

var cfg *configuro.AppConfig

// Defaults del conector, tomados del sink original de GlueSync
const (
	DefaultHost           = "localhost"
	DefaultPort           = 6379
	DefaultStreamBaseName = "gluesync_events"
	DefaultKeyPrefix      = "gluesync:"
	DefaultBatchSize      = 100

	DefaultFlushIntervalMs   = 1000
	DefaultFlushTimeoutMs    = 5000
	DefaultRetryBackoffMs    = 100
	DefaultMaxRetries        = 5
	DefaultMaxPendingBatches = 4
)

// ConfigurationError indica una clave requerida ausente o invalida. Fatal
// en connect, nunca se reintenta.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration key %q: %s", e.Key, e.Reason)
}

// ConnectorConfig es la configuracion del conector, inmutable despues de
// cargarse en connect.
type ConnectorConfig struct {
	Host           string   `json:"Host"`
	Port           int      `json:"Port"`
	Password       string   `json:"Password,omitempty"`
	SSL            bool     `json:"SSL,omitempty"`
	StreamBaseName string   `json:"StreamBaseName,omitempty"`
	KeyPrefix      string   `json:"KeyPrefix,omitempty"`
	BatchSize      int      `json:"BatchSize,omitempty"`
	KeyFields      []string `json:"KeyFields,omitempty"`

	FlushIntervalMs   int `json:"FlushIntervalMs,omitempty"`
	FlushTimeoutMs    int `json:"FlushTimeoutMs,omitempty"`
	RetryBackoffMs    int `json:"RetryBackoffMs,omitempty"`
	MaxRetries        int `json:"MaxRetries,omitempty"`
	MaxPendingBatches int `json:"MaxPendingBatches,omitempty"`
}

func (c *ConnectorConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMs) * time.Millisecond
}

func (c *ConnectorConfig) FlushTimeout() time.Duration {
	return time.Duration(c.FlushTimeoutMs) * time.Millisecond
}

func (c *ConnectorConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMs) * time.Millisecond
}

// ApplyDefaults completa las claves opcionales ausentes.
func (c *ConnectorConfig) ApplyDefaults() {
	if utils.StringIsEmptyOrWhitespace(c.StreamBaseName) {
		c.StreamBaseName = DefaultStreamBaseName
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if len(c.KeyFields) == 0 {
		c.KeyFields = []string{"id"}
	}
	if c.FlushIntervalMs == 0 {
		c.FlushIntervalMs = DefaultFlushIntervalMs
	}
	if c.FlushTimeoutMs == 0 {
		c.FlushTimeoutMs = DefaultFlushTimeoutMs
	}
	if c.RetryBackoffMs == 0 {
		c.RetryBackoffMs = DefaultRetryBackoffMs
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.MaxPendingBatches == 0 {
		c.MaxPendingBatches = DefaultMaxPendingBatches
	}
}

func (c *ConnectorConfig) Validate() error {
	if utils.StringIsEmptyOrWhitespace(c.Host) {
		return &ConfigurationError{Key: "host", Reason: "required key is missing"}
	}
	if c.Port <= 0 || c.Port > 65535 {
		return &ConfigurationError{Key: "port", Reason: "must be between 1 and 65535"}
	}
	if c.BatchSize <= 0 {
		return &ConfigurationError{Key: "batch_size", Reason: "must be greater than 0"}
	}
	if c.MaxRetries <= 0 {
		return &ConfigurationError{Key: "max_retries", Reason: "must be greater than 0"}
	}
	if c.MaxPendingBatches <= 0 {
		return &ConfigurationError{Key: "max_pending_batches", Reason: "must be greater than 0"}
	}
	if utils.StringIsEmptyOrWhitespace(c.StreamBaseName) {
		return &ConfigurationError{Key: "stream_base_name", Reason: "must not be empty"}
	}

	return nil
}

// FromMap construye la configuracion desde el mapa que entrega el host en
// connect, como el dict del SDK original. host y port son obligatorios.
func FromMap(values map[string]interface{}) (*ConnectorConfig, error) {
	c := &ConnectorConfig{}

	var err error

	if c.Host, err = stringKey(values, "host", true); err != nil {
		return nil, err
	}
	if c.Port, err = intKey(values, "port", true); err != nil {
		return nil, err
	}
	if c.Password, err = stringKey(values, "password", false); err != nil {
		return nil, err
	}
	if c.SSL, err = boolKey(values, "ssl"); err != nil {
		return nil, err
	}
	if c.StreamBaseName, err = stringKey(values, "stream_base_name", false); err != nil {
		return nil, err
	}
	if prefix, ok := values["key_prefix"]; ok {
		s, isString := prefix.(string)
		if !isString {
			return nil, &ConfigurationError{Key: "key_prefix", Reason: "must be a string"}
		}
		c.KeyPrefix = s
	} else {
		c.KeyPrefix = DefaultKeyPrefix
	}
	if c.BatchSize, err = intKey(values, "batch_size", false); err != nil {
		return nil, err
	}

	if c.FlushIntervalMs, err = intKey(values, "flush_interval_ms", false); err != nil {
		return nil, err
	}
	if c.FlushTimeoutMs, err = intKey(values, "flush_timeout_ms", false); err != nil {
		return nil, err
	}
	if c.RetryBackoffMs, err = intKey(values, "retry_backoff_ms", false); err != nil {
		return nil, err
	}
	if c.MaxRetries, err = intKey(values, "max_retries", false); err != nil {
		return nil, err
	}
	if c.MaxPendingBatches, err = intKey(values, "max_pending_batches", false); err != nil {
		return nil, err
	}

	if fields, ok := values["key_fields"]; ok {
		list, isList := fields.([]interface{})
		if !isList {
			return nil, &ConfigurationError{Key: "key_fields", Reason: "must be a list of strings"}
		}
		for _, item := range list {
			s, isString := item.(string)
			if !isString {
				return nil, &ConfigurationError{Key: "key_fields", Reason: "must be a list of strings"}
			}
			c.KeyFields = append(c.KeyFields, s)
		}
	}

	c.ApplyDefaults()

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

func stringKey(values map[string]interface{}, key string, required bool) (string, error) {
	raw, ok := values[key]
	if !ok {
		if required {
			return "", &ConfigurationError{Key: key, Reason: "required key is missing"}
		}
		return "", nil
	}

	s, isString := raw.(string)
	if !isString {
		return "", &ConfigurationError{Key: key, Reason: "must be a string"}
	}

	if required && utils.StringIsEmptyOrWhitespace(s) {
		return "", &ConfigurationError{Key: key, Reason: "must not be empty"}
	}

	return s, nil
}

// intKey acepta numeros nativos, float64 (JSON) y strings numericos.
func intKey(values map[string]interface{}, key string, required bool) (int, error) {
	raw, ok := values[key]
	if !ok {
		if required {
			return 0, &ConfigurationError{Key: key, Reason: "required key is missing"}
		}
		return 0, nil
	}

	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, &ConfigurationError{Key: key, Reason: "must be an integer"}
		}
		return n, nil
	default:
		return 0, &ConfigurationError{Key: key, Reason: "must be an integer"}
	}
}

func boolKey(values map[string]interface{}, key string) (bool, error) {
	raw, ok := values[key]
	if !ok {
		return false, nil
	}

	b, isBool := raw.(bool)
	if !isBool {
		return false, &ConfigurationError{Key: key, Reason: "must be a boolean"}
	}

	return b, nil
}

type ServerConfig struct {
	HttpPort int `json:"HttpPort"`
}

func loadConfig() error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("error al obtener el path del archivo de configuración: %w", err)
	}

	execDir := filepath.Dir(execPath)
	configPath := filepath.Join(execDir, "config.json")

	cfg, err = configuro.NewFromJsonFiles(true, configPath)
	if err != nil {
		return fmt.Errorf("error al cargar el archivo de configuración: %w", err)
	}
	return nil
}

// RedisCfg carga la seccion Redis del config.json del binario.
func RedisCfg() (*ConnectorConfig, error) {
	if cfg == nil || !cfg.IsBeenLoaded() {
		if err := loadConfig(); err != nil {
			return nil, err
		}
	}

	connectorCfg, err := configuro.GetSection[ConnectorConfig](cfg, "Redis")
	if err != nil {
		return nil, fmt.Errorf("error al obtener la configuración de Redis: %w", err)
	}

	if connectorCfg.Host == "" {
		connectorCfg.Host = DefaultHost
	}
	if connectorCfg.Port == 0 {
		connectorCfg.Port = DefaultPort
	}

	connectorCfg.ApplyDefaults()

	if err := connectorCfg.Validate(); err != nil {
		return nil, err
	}

	return connectorCfg, nil
}

func LogCfg() (*scribe.ConfigLogger, error) {
	if cfg == nil || !cfg.IsBeenLoaded() {
		if err := loadConfig(); err != nil {
			return nil, err
		}
	}

	logConfig, err := configuro.GetSection[scribe.ConfigLogger](cfg, "Log")
	if err != nil {
		return nil, fmt.Errorf("error al obtener la configuración de log: %w", err)
	}

	return logConfig, nil
}

func ServerCfg() (*ServerConfig, error) {
	if cfg == nil || !cfg.IsBeenLoaded() {
		if err := loadConfig(); err != nil {
			return nil, err
		}
	}

	serverConfig, err := configuro.GetSection[ServerConfig](cfg, "Server")
	if err != nil {
		return nil, fmt.Errorf("error al obtener la configuración del servidor: %w", err)
	}

	if serverConfig.HttpPort == 0 {
		serverConfig.HttpPort = 8080
	}

	return serverConfig, nil
}
