package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ollystack/correlation-engine/internal/llm"
)

// Config captures the settings required to boot the correlation engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Cache     CacheConfig     `yaml:"cache"`
	Incidents IncidentsConfig `yaml:"incidents"`
	Anomaly   AnomalyConfig   `yaml:"anomaly"`
	RCA       RCAConfig       `yaml:"rca"`
	LLM       llm.Config      `yaml:"llm"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the HTTP listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// StoreConfig configures access to the columnar signal store.
type StoreConfig struct {
	BaseURL     string        `yaml:"baseURL"`
	SpansPath   string        `yaml:"spansPath"`
	LogsPath    string        `yaml:"logsPath"`
	MetricsPath string        `yaml:"metricsPath"`
	SeriesPath  string        `yaml:"seriesPath"`
	Timeout     time.Duration `yaml:"timeout"`
	// FetchTimeout boxes each of the three parallel sub-fetches.
	FetchTimeout time.Duration `yaml:"fetchTimeout"`
}

// CacheConfig controls the Redis-backed result cache. With Enabled false
// an in-process cache is used instead; Backend "none" disables caching.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Backend      string        `yaml:"backend"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	ContextTTL   time.Duration `yaml:"contextTTL"`
}

// IncidentsConfig configures the similarity store for past analyses.
type IncidentsConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"apiKey"`
	Timeout  time.Duration `yaml:"timeout"`
}

// WatchPair names one (service, metric) series the learner keeps a
// baseline for.
type WatchPair struct {
	Service string `yaml:"service"`
	Metric  string `yaml:"metric"`
}

// AnomalyConfig controls the baseline subsystem.
type AnomalyConfig struct {
	MinHistory        time.Duration `yaml:"minHistory"`
	Lookback          time.Duration `yaml:"lookback"`
	MaxBaselineAge    time.Duration `yaml:"maxBaselineAge"`
	FullInterval      time.Duration `yaml:"fullInterval"`
	RefreshInterval   time.Duration `yaml:"refreshInterval"`
	StatThreshold     float64       `yaml:"statThreshold"`
	SeasonalThreshold float64       `yaml:"seasonalThreshold"`
	ModelThreshold    float64       `yaml:"modelThreshold"`
	Watch             []WatchPair   `yaml:"watch"`
}

// RCAConfig controls the strategy chain.
type RCAConfig struct {
	PatternsPath        string        `yaml:"patternsPath"`
	DeterministicBudget time.Duration `yaml:"deterministicBudget"`
	StatisticalBudget   time.Duration `yaml:"statisticalBudget"`
	CausalBudget        time.Duration `yaml:"causalBudget"`
	GenerativeBudget    time.Duration `yaml:"generativeBudget"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("OLLYSTACK_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			RequestTimeout:  10 * time.Second,
			GracefulTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			SpansPath:    "/api/v1/query/spans",
			LogsPath:     "/api/v1/query/logs",
			MetricsPath:  "/api/v1/query/metrics",
			SeriesPath:   "/api/v1/query/series",
			Timeout:      5 * time.Second,
			FetchTimeout: 2 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:      false,
			Backend:      "memory",
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			ContextTTL:   5 * time.Minute,
		},
		Incidents: IncidentsConfig{Timeout: 5 * time.Second},
		Anomaly: AnomalyConfig{
			MinHistory:        7 * 24 * time.Hour,
			Lookback:          14 * 24 * time.Hour,
			MaxBaselineAge:    24 * time.Hour,
			FullInterval:      24 * time.Hour,
			RefreshInterval:   time.Hour,
			StatThreshold:     3.0,
			SeasonalThreshold: 0.5,
			ModelThreshold:    0.8,
		},
		RCA: RCAConfig{
			PatternsPath:        "configs/patterns/default.yaml",
			DeterministicBudget: 10 * time.Millisecond,
			StatisticalBudget:   100 * time.Millisecond,
			CausalBudget:        500 * time.Millisecond,
			GenerativeBudget:    2 * time.Second,
		},
		LLM:     llm.Config{Timeout: 10 * time.Second},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OLLYSTACK_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("OLLYSTACK_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("OLLYSTACK_STORE_BASE_URL"); v != "" {
		cfg.Store.BaseURL = v
	}
	if v := os.Getenv("OLLYSTACK_STORE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Store.Timeout = d
		}
	}
	if v := os.Getenv("OLLYSTACK_FETCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Store.FetchTimeout = d
		}
	}
	if v := os.Getenv("OLLYSTACK_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("OLLYSTACK_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv("OLLYSTACK_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("OLLYSTACK_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("OLLYSTACK_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("OLLYSTACK_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("OLLYSTACK_CACHE_TLS"); strings.EqualFold(v, "true") || v == "1" {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("OLLYSTACK_CONTEXT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.ContextTTL = d
		}
	}
	if v := os.Getenv("OLLYSTACK_INCIDENTS_ENDPOINT"); v != "" {
		cfg.Incidents.Endpoint = v
	}
	if v := os.Getenv("OLLYSTACK_INCIDENTS_API_KEY"); v != "" {
		cfg.Incidents.APIKey = v
	}
	if v := os.Getenv("OLLYSTACK_ANOMALY_MIN_HISTORY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Anomaly.MinHistory = d
		}
	}
	if v := os.Getenv("OLLYSTACK_ANOMALY_MAX_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Anomaly.MaxBaselineAge = d
		}
	}
	if v := os.Getenv("OLLYSTACK_RCA_PATTERNS_PATH"); v != "" {
		cfg.RCA.PatternsPath = v
	}
	if v := os.Getenv("OLLYSTACK_LLM_BACKEND"); v != "" {
		cfg.LLM.Backend = v
	}
	if v := os.Getenv("OLLYSTACK_LLM_ENDPOINT"); v != "" {
		cfg.LLM.Endpoint = v
	}
	if v := os.Getenv("OLLYSTACK_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("OLLYSTACK_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("OLLYSTACK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("OLLYSTACK_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
}

// StageBudgets flattens the RCA budget settings keyed by stage name.
func (c RCAConfig) StageBudgets() map[string]time.Duration {
	return map[string]time.Duration{
		"deterministic": c.DeterministicBudget,
		"statistical":   c.StatisticalBudget,
		"causal":        c.CausalBudget,
		"generative":    c.GenerativeBudget,
	}
}
