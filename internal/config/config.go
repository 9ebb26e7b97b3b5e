package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the runtime configuration for the FHIR persistence engine.
// Fields are bound from environment variables prefixed FHIRSTORE_ (e.g.
// FHIRSTORE_DATABASE_URL) with an optional YAML file as a lower-priority
// source, mirroring the teacher's viper-over-env convention.
type Config struct {
	Port              string `mapstructure:"PORT"`
	Env               string `mapstructure:"ENV"`
	DatabaseURL       string `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32  `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir     string `mapstructure:"MIGRATIONS_DIR"`
	DefaultPageSize   int    `mapstructure:"DEFAULT_PAGE_SIZE"`
	MaxPageSize       int    `mapstructure:"MAX_PAGE_SIZE"`
	FHIRPathCacheSize int    `mapstructure:"FHIRPATH_CACHE_SIZE"`
	LogLevel          string `mapstructure:"LOG_LEVEL"`
}

// Load reads configuration from FHIRSTORE_*-prefixed environment variables
// (and an optional ./fhirstore.yaml), applying defaults for everything the
// core needs to boot.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("fhirstore")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("FHIRSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("DEFAULT_PAGE_SIZE", 20)
	v.SetDefault("MAX_PAGE_SIZE", 1000)
	v.SetDefault("FHIRPATH_CACHE_SIZE", 1000)
	v.SetDefault("LOG_LEVEL", "info")

	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"MIGRATIONS_DIR", "DEFAULT_PAGE_SIZE", "MAX_PAGE_SIZE",
		"FHIRPATH_CACHE_SIZE", "LOG_LEVEL",
	} {
		_ = v.BindEnv(key)
	}

	// Optional config file; absence is not an error.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("FHIRSTORE_DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}
