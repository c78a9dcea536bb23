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
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config captures the settings required to boot the sentinel engine.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Detection   DetectionConfig   `yaml:"detection"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Remediation RemediationConfig `yaml:"remediation"`
	Patterns    PatternsConfig    `yaml:"patterns"`
	Store       StoreConfig       `yaml:"store"`
	Cache       CacheConfig       `yaml:"cache"`
	Publisher   PublisherConfig   `yaml:"publisher"`
	Model       ModelConfig       `yaml:"model"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// ServerConfig controls the gRPC and HTTP listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	HTTPAddress     string        `yaml:"httpAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// DetectionConfig selects the threshold policy and error metric.
type DetectionConfig struct {
	Policy      string  `yaml:"policy"`
	Percentile  float64 `yaml:"percentile"`
	ErrorMetric string  `yaml:"errorMetric"`
}

// CorrelationConfig controls anomaly grouping.
type CorrelationConfig struct {
	TimeWindow          time.Duration `yaml:"timeWindow"`
	Strategy            string        `yaml:"strategy"`
	SimilarityThreshold float64       `yaml:"similarityThreshold"`
	Workers             int           `yaml:"workers"`
}

// RemediationConfig points at an optional catalog overriding the embedded one.
type RemediationConfig struct {
	CatalogPath string `yaml:"catalogPath"`
}

// PatternsConfig controls message template mining.
type PatternsConfig struct {
	MinSupport int `yaml:"minSupport"`
}

// StoreConfig selects the record database.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// CacheConfig controls the in-process listing cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Size    int           `yaml:"size"`
	TTL     time.Duration `yaml:"ttl"`
}

// PublisherConfig controls NATS publication of findings.
type PublisherConfig struct {
	URL     string        `yaml:"url"`
	Subject string        `yaml:"subject"`
	Timeout time.Duration `yaml:"timeout"`
}

// ModelConfig configures the external reconstruction model.
type ModelConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// TelemetryConfig controls trace export.
type TelemetryConfig struct {
	Exporter     string `yaml:"exporter"`
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	OTLPInsecure bool   `yaml:"otlpInsecure"`
}

// Load initialises Config from a YAML file and optional environment
// overrides, then validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_SENTINEL_CONFIG")
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
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			HTTPAddress:     ":8080",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Detection: DetectionConfig{
			Policy:      "percentile",
			Percentile:  95,
			ErrorMetric: "mse",
		},
		Correlation: CorrelationConfig{
			TimeWindow:          2 * time.Minute,
			Strategy:            "service_time",
			SimilarityThreshold: 0.6,
			Workers:             4,
		},
		Patterns: PatternsConfig{MinSupport: 2},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "file:sentinel.db?_pragma=busy_timeout(5000)",
		},
		Cache: CacheConfig{
			Enabled: true,
			Size:    256,
			TTL:     30 * time.Second,
		},
		Publisher: PublisherConfig{
			Subject: "mirador.sentinel.root_causes",
			Timeout: 5 * time.Second,
		},
		Model:     ModelConfig{Timeout: 10 * time.Second},
		Telemetry: TelemetryConfig{Exporter: "none"},
	}
}

// Validate rejects unknown enum values and out-of-range numbers.
func (c *Config) Validate() error {
	var problems []string
	check := func(field, value string, allowed ...string) {
		for _, a := range allowed {
			if strings.EqualFold(strings.TrimSpace(value), a) {
				return
			}
		}
		problems = append(problems, fmt.Sprintf("%s %q not one of %s", field, value, strings.Join(allowed, "|")))
	}

	check("detection.policy", c.Detection.Policy, "percentile", "stddev")
	check("detection.errorMetric", c.Detection.ErrorMetric, "mse", "mae", "cosine")
	check("correlation.strategy", c.Correlation.Strategy, "service_time", "similarity")
	check("store.driver", c.Store.Driver, "sqlite", "postgres")
	check("telemetry.exporter", c.Telemetry.Exporter, "none", "stdout", "otlp")

	if p := c.Detection.Percentile; p < 0 || p > 100 {
		problems = append(problems, fmt.Sprintf("detection.percentile %v outside [0,100]", p))
	}
	if s := c.Correlation.SimilarityThreshold; s < 0 || s > 1 {
		problems = append(problems, fmt.Sprintf("correlation.similarityThreshold %v outside [0,1]", s))
	}
	if c.Correlation.TimeWindow < 0 {
		problems = append(problems, "correlation.timeWindow must not be negative")
	}
	if c.Store.DSN == "" {
		problems = append(problems, "store.dsn is required")
	}
	if c.Cache.Enabled && c.Cache.Size <= 0 {
		problems = append(problems, "cache.size must be positive when the cache is enabled")
	}
	if strings.EqualFold(c.Telemetry.Exporter, "otlp") && c.Telemetry.OTLPEndpoint == "" {
		problems = append(problems, "telemetry.otlpEndpoint is required for the otlp exporter")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_SENTINEL_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_HTTP_ADDRESS"); v != "" {
		cfg.Server.HTTPAddress = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_SENTINEL_DETECTION_POLICY"); v != "" {
		cfg.Detection.Policy = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_DETECTION_PERCENTILE"); v != "" {
		if p, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Detection.Percentile = p
		}
	}
	if v := os.Getenv("MIRADOR_SENTINEL_ERROR_METRIC"); v != "" {
		cfg.Detection.ErrorMetric = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_CORRELATION_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Correlation.TimeWindow = d
		}
	}
	if v := os.Getenv("MIRADOR_SENTINEL_CORRELATION_STRATEGY"); v != "" {
		cfg.Correlation.Strategy = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_SIMILARITY_THRESHOLD"); v != "" {
		if s, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Correlation.SimilarityThreshold = s
		}
	}
	if v := os.Getenv("MIRADOR_SENTINEL_CATALOG_PATH"); v != "" {
		cfg.Remediation.CatalogPath = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("MIRADOR_SENTINEL_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.TTL = d
		}
	}
	if v := os.Getenv("MIRADOR_SENTINEL_NATS_URL"); v != "" {
		cfg.Publisher.URL = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_NATS_SUBJECT"); v != "" {
		cfg.Publisher.Subject = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_MODEL_ENDPOINT"); v != "" {
		cfg.Model.Endpoint = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_TELEMETRY_EXPORTER"); v != "" {
		cfg.Telemetry.Exporter = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_OTLP_INSECURE"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Telemetry.OTLPInsecure = true
	}
}
