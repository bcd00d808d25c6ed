package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Formula   FormulaConfig   `yaml:"formula" mapstructure:"formula"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Notes     NotesConfig     `yaml:"notes" mapstructure:"notes"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// FormulaConfig configures the evaluator.
type FormulaConfig struct {
	// Scale is the fractional-digit precision of computed amounts, 2-4.
	Scale int `yaml:"scale" mapstructure:"scale"`
}

// ExtractConfig configures formula extraction.
type ExtractConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	MaxTokens           int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs         int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxConcurrent       int     `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	RequestsPerSecond   float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	// PersistFormulas writes extracted formulas back to their rate entries.
	PersistFormulas bool `yaml:"persist_formulas" mapstructure:"persist_formulas"`
}

// NotesConfig configures note resolution.
type NotesConfig struct {
	// ExactOnly disables similarity widening when no exact note matches.
	ExactOnly bool `yaml:"exact_only" mapstructure:"exact_only"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TARIFF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("formula.scale", 2)
	v.SetDefault("extract.confidence_threshold", 0.7)
	v.SetDefault("extract.max_tokens", 1024)
	v.SetDefault("extract.timeout_secs", 30)
	v.SetDefault("extract.max_concurrent", 5)
	v.SetDefault("extract.requests_per_second", 5)
	v.SetDefault("extract.persist_formulas", true)
	v.SetDefault("notes.exact_only", false)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the configuration for the given command mode.
// Modes: "calculate" needs storage and extraction settings, "ingest" needs
// storage only, "extract" needs the Anthropic key for the AI fallback.
func (c *Config) Validate(mode string) error {
	var problems []string

	checkStore := func() {
		if c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
			problems = append(problems, "store.driver must be postgres or sqlite")
		}
		if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	}
	checkBounds := func() {
		if c.Formula.Scale < 2 || c.Formula.Scale > 4 {
			problems = append(problems, "formula.scale must be between 2 and 4")
		}
		if c.Extract.ConfidenceThreshold < 0 || c.Extract.ConfidenceThreshold > 1 {
			problems = append(problems, "extract.confidence_threshold must be between 0 and 1")
		}
		if c.Extract.MaxConcurrent < 1 || c.Extract.MaxConcurrent > 50 {
			problems = append(problems, "extract.max_concurrent must be between 1 and 50")
		}
	}

	switch mode {
	case "calculate":
		checkStore()
		checkBounds()
	case "ingest":
		checkStore()
	case "extract":
		checkBounds()
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
