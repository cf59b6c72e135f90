// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/canary-data/docharvester/internal/harvest"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Harvester HarvesterConfig                 `mapstructure:"harvester"`
	HTTP      HTTPConfig                      `mapstructure:"http"`
	Storage   StorageConfig                   `mapstructure:"storage"`
	Logging   LoggingConfig                   `mapstructure:"logging"`
	Sources   map[string]harvest.SourceConfig `mapstructure:"sources"`
}

// HarvesterConfig governs pipeline-wide behavior.
type HarvesterConfig struct {
	Concurrency                int      `mapstructure:"concurrency"`
	MaxDocumentsPerInstitution int      `mapstructure:"max_documents_per_institution"`
	DelaySeconds               float64  `mapstructure:"delay_seconds"`
	RespectRobots              bool     `mapstructure:"respect_robots"`
	SeedDedup                  bool     `mapstructure:"seed_dedup"`
	UserAgents                 []string `mapstructure:"user_agents"`
}

// HTTPConfig configures fetch timeouts and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int   `mapstructure:"timeout_seconds"`
	MaxRetries       int   `mapstructure:"max_retries"`
	BackoffInitialMs int   `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int   `mapstructure:"backoff_max_ms"`
	MaxBodyBytes     int64 `mapstructure:"max_body_bytes"`
}

// StorageConfig sets where documents and metadata land on disk.
type StorageConfig struct {
	OutputDir string `mapstructure:"output_dir"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.Sources) == 0 {
		cfg.Sources = DefaultSources()
	}
	applySourceDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("harvester.concurrency", 3)
	v.SetDefault("harvester.max_documents_per_institution", 50)
	v.SetDefault("harvester.delay_seconds", 2.0)
	v.SetDefault("harvester.respect_robots", true)
	v.SetDefault("harvester.seed_dedup", false)
	v.SetDefault("harvester.user_agents", defaultUserAgents)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("http.max_body_bytes", 64<<20)
	v.SetDefault("storage.output_dir", "./documents")
	v.SetDefault("logging.development", false)
}

// applySourceDefaults propagates global knobs into sources that leave the
// corresponding field unset.
func applySourceDefaults(cfg *Config) {
	for id, src := range cfg.Sources {
		src.ID = id
		if src.MaxDocuments == 0 {
			src.MaxDocuments = cfg.Harvester.MaxDocumentsPerInstitution
		}
		if src.Delay == 0 {
			src.Delay = time.Duration(cfg.Harvester.DelaySeconds * float64(time.Second))
		}
		if src.Timeout == 0 {
			src.Timeout = time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second
		}
		if src.MaxRetries == 0 {
			src.MaxRetries = cfg.HTTP.MaxRetries
		}
		cfg.Sources[id] = src
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Harvester.Concurrency <= 0 {
		return fmt.Errorf("harvester.concurrency must be > 0")
	}
	if c.Harvester.MaxDocumentsPerInstitution <= 0 {
		return fmt.Errorf("harvester.max_documents_per_institution must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 1 {
		return fmt.Errorf("http.max_retries must be >= 1")
	}
	if c.HTTP.BackoffInitialMs <= 0 {
		return fmt.Errorf("http.backoff_initial_ms must be > 0")
	}
	if strings.TrimSpace(c.Storage.OutputDir) == "" {
		return fmt.Errorf("storage.output_dir is required")
	}
	if len(c.Harvester.UserAgents) == 0 {
		return fmt.Errorf("harvester.user_agents must not be empty")
	}
	for id, src := range c.Sources {
		if src.BaseURL == "" {
			return fmt.Errorf("sources.%s.base_url is required", id)
		}
		if src.Variant == "" {
			return fmt.Errorf("sources.%s.variant is required", id)
		}
	}
	return nil
}

// Timeout converts the HTTP timeout config into a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BackoffInitial returns the base retry delay.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond
}

// BackoffMax returns the retry delay cap.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}

// Delay returns the per-host politeness interval.
func (c Config) Delay() time.Duration {
	return time.Duration(c.Harvester.DelaySeconds * float64(time.Second))
}

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
}

// DefaultSources returns the built-in Canary Islands institution table.
// Entries can be overridden or extended via the sources section of the
// config file.
func DefaultSources() map[string]harvest.SourceConfig {
	return map[string]harvest.SourceConfig{
		"hacienda_canarias": {
			BaseURL:         "https://www.gobiernodecanarias.org/hacienda/",
			Areas:           []string{"tributaria", "empresas", "autonomos", "impuestos"},
			Variant:         "hacienda",
			DefaultCategory: "fiscal",
			Priority:        1,
		},
		"gobcan": {
			BaseURL:         "https://www.gobiernodecanarias.org/",
			Areas:           []string{"economia", "empleo", "industria", "turismo"},
			Variant:         "gobcan",
			DefaultCategory: "autonomico",
			Priority:        2,
		},
		"seguridad_social": {
			BaseURL:         "https://www.seg-social.es/",
			Areas:           []string{"autonomos", "empresas", "cotizacion", "afiliacion"},
			Variant:         "seguridad_social",
			DefaultCategory: "laboral",
			Priority:        2,
		},
		"cabildo_tenerife": {
			BaseURL:         "https://www.tenerife.es/",
			Areas:           []string{"empresas", "empleo", "economia", "desarrollo"},
			Variant:         "cabildo",
			DefaultCategory: "municipal",
			Priority:        3,
		},
		"cabildo_grancanaria": {
			BaseURL:         "https://www.grancanaria.com/",
			Areas:           []string{"empresas", "desarrollo", "economia"},
			Variant:         "cabildo",
			DefaultCategory: "municipal",
			Priority:        3,
		},
		"ayto_santacruz": {
			BaseURL:         "https://www.santacruzdetenerife.es/",
			Areas:           []string{"licencias", "empresas", "tramites"},
			Variant:         "ayuntamiento",
			DefaultCategory: "municipal",
			Priority:        4,
		},
		"ayto_laspalmas": {
			BaseURL:         "https://www.laspalmasgc.es/",
			Areas:           []string{"licencias", "empresas", "tramites"},
			Variant:         "ayuntamiento",
			DefaultCategory: "municipal",
			Priority:        4,
		},
	}
}
