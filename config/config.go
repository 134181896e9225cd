package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del guardian.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Broker  BrokerConfig  `yaml:"broker"`
	Storage StorageConfig `yaml:"storage"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
	Plan    *PlanConfig   `yaml:"plan,omitempty"`
}

// EngineConfig controla la cadencia del ciclo de enforcement.
type EngineConfig struct {
	IntervalSeconds  int `yaml:"interval_seconds"`
	DealLookbackDays int `yaml:"deal_lookback_days"`
}

// BrokerConfig apunta al proveedor de conectividad del broker.
type BrokerConfig struct {
	BaseURL        string `yaml:"base_url"`
	Token          string `yaml:"token"` // normalmente via METAAPI_TOKEN
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// StorageConfig controla dónde vive el ledger.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// MetricsConfig habilita el listener de Prometheus si ListenAddr no es "".
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// PlanConfig es un plan de trading declarado en YAML, instalable con
// `guardian -install-plan`.
type PlanConfig struct {
	MaxTradesPerDay     int      `yaml:"max_trades_per_day"`
	MaxRiskPercent      float64  `yaml:"max_risk_percent"`
	AllowedSymbols      []string `yaml:"allowed_symbols"`
	SessionStart        string   `yaml:"session_start"` // "HH:MM" UTC
	SessionEnd          string   `yaml:"session_end"`
	MaxDailyLossPercent float64  `yaml:"max_daily_loss_percent"`
}

// Load carga la configuración desde el archivo YAML y el archivo .env si
// existe. Los valores del .env sobreescriben los del YAML.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// Interval devuelve la cadencia del scheduler como time.Duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Engine.IntervalSeconds) * time.Second
}

// DealLookback devuelve la ventana de history-deals como time.Duration.
func (c *Config) DealLookback() time.Duration {
	return time.Duration(c.Engine.DealLookbackDays) * 24 * time.Hour
}

// BrokerTimeout devuelve el timeout por llamada HTTP al broker.
func (c *Config) BrokerTimeout() time.Duration {
	return time.Duration(c.Broker.TimeoutSeconds) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("METAAPI_TOKEN"); v != "" {
		cfg.Broker.Token = v
	}
	if v := os.Getenv("METAAPI_BASE_URL"); v != "" {
		cfg.Broker.BaseURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Engine.IntervalSeconds <= 0 {
		cfg.Engine.IntervalSeconds = 30
	}
	if cfg.Engine.DealLookbackDays <= 0 {
		cfg.Engine.DealLookbackDays = 7
	}
	if cfg.Broker.TimeoutSeconds <= 0 {
		cfg.Broker.TimeoutSeconds = 10
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "disciplina.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
