package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/covid-cli/internal/catalog"
	"github.com/sells-group/covid-cli/internal/db"
	"github.com/sells-group/covid-cli/internal/fetcher"
	"github.com/sells-group/covid-cli/internal/indicator"
	"github.com/sells-group/covid-cli/internal/source"
)

// Config holds the full application configuration.
type Config struct {
	Log        LogConfig           `yaml:"log" mapstructure:"log"`
	Store      StoreConfig         `yaml:"store" mapstructure:"store"`
	RunLog     RunLogConfig        `yaml:"runlog" mapstructure:"runlog"`
	Catalog    catalog.LoadOptions `yaml:"catalog" mapstructure:"catalog"`
	Sources    source.Config       `yaml:"sources" mapstructure:"sources"`
	Fetch      FetchConfig         `yaml:"fetch" mapstructure:"fetch"`
	Run        RunConfig           `yaml:"run" mapstructure:"run"`
	Server     ServerConfig        `yaml:"server" mapstructure:"server"`
	Indicators []indicator.Def     `yaml:"indicators" mapstructure:"indicators"`
}

// StoreConfig configures the snapshot store backend.
type StoreConfig struct {
	Driver      string        `yaml:"driver" mapstructure:"driver"` // fs or postgres
	Dir         string        `yaml:"dir" mapstructure:"dir"`
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url"`
	Country     string        `yaml:"country" mapstructure:"country"`
	Pool        db.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// RunLogConfig configures the SQLite run log. An empty path disables it.
type RunLogConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// FetchConfig configures source downloads.
type FetchConfig struct {
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerHost float64 `yaml:"rate_per_host" mapstructure:"rate_per_host"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	Concurrency int     `yaml:"concurrency" mapstructure:"concurrency"`
}

// HTTPOptions converts the fetch settings into fetcher options.
func (c FetchConfig) HTTPOptions() fetcher.HTTPOptions {
	return fetcher.HTTPOptions{
		UserAgent:    c.UserAgent,
		Timeout:      time.Duration(c.TimeoutSecs) * time.Second,
		MaxRetries:   c.MaxRetries,
		RatePerHost:  c.RatePerHost,
		RateLimiters: fetcher.DefaultRateLimiters(),
	}
}

// Fetcher builds the source fetcher: HTTP(S) with rate limiting and
// retries, and FTP for mirrors.
func (c FetchConfig) Fetcher() fetcher.Fetcher {
	return fetcher.NewSchemeFetcher(
		fetcher.NewHTTPFetcher(c.HTTPOptions()),
		fetcher.NewFTPFetcher(fetcher.FTPOptions{Timeout: time.Duration(c.TimeoutSecs) * time.Second}),
	)
}

// RunConfig configures what a run reconciles.
type RunConfig struct {
	Dataset    string   `yaml:"dataset" mapstructure:"dataset"`
	Geometries []string `yaml:"geometries" mapstructure:"geometries"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultCatalogLevels are the boundary files read when none are configured.
func DefaultCatalogLevels() []catalog.LevelSource {
	return []catalog.LevelSource{
		{Level: "leaf", Path: "data/departements.geojson", CodeProperty: "code", NameProperty: "nom", ParentProperty: "region"},
		{Level: "intermediate", Path: "data/regions.geojson", CodeProperty: "code", NameProperty: "nom"},
	}
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("COVID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.driver", "fs")
	v.SetDefault("store.dir", "output")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.country", "France")
	v.SetDefault("runlog.path", "covid-runs.db")
	v.SetDefault("catalog.root.code", "FRA")
	v.SetDefault("catalog.root.name", "France")
	v.SetDefault("sources.ars.base_url", source.DefaultARSBaseURL)
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.rate_per_host", 5)
	v.SetDefault("fetch.user_agent", "covid-cli/1.0")
	v.SetDefault("fetch.concurrency", 4)
	v.SetDefault("run.dataset", "covid-19")
	v.SetDefault("run.geometries", []string{"Point", "Polygon"})
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})

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
	if len(cfg.Catalog.Levels) == 0 {
		cfg.Catalog.Levels = DefaultCatalogLevels()
	}

	return &cfg, nil
}

// Validate checks the settings needed by mode ("run", "serve" or "catalog")
// and reports every problem at once.
func (c *Config) Validate(mode string) error {
	var errs []string

	checkStore := func() {
		switch c.Store.Driver {
		case "fs":
			if c.Store.Dir == "" {
				errs = append(errs, "store.dir is required for the fs driver")
			}
		case "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required for the postgres driver")
			}
		default:
			errs = append(errs, fmt.Sprintf("unknown store.driver %q (valid: fs, postgres)", c.Store.Driver))
		}
	}
	checkCatalog := func() {
		if len(c.Catalog.Levels) == 0 {
			errs = append(errs, "catalog.levels is empty")
		}
		for i, l := range c.Catalog.Levels {
			if l.Path == "" {
				errs = append(errs, fmt.Sprintf("catalog.levels[%d].path is required", i))
			}
		}
	}

	switch mode {
	case "run":
		checkStore()
		checkCatalog()
		if c.Run.Dataset == "" {
			errs = append(errs, "run.dataset is required")
		}
		if _, err := c.Geometries(); err != nil {
			errs = append(errs, err.Error())
		}
		if _, err := c.Registry(); err != nil {
			errs = append(errs, err.Error())
		}
		if c.Fetch.Concurrency < 1 || c.Fetch.Concurrency > 32 {
			errs = append(errs, "fetch.concurrency must be between 1 and 32")
		}
	case "serve":
		checkStore()
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		if _, err := c.Registry(); err != nil {
			errs = append(errs, err.Error())
		}
	case "catalog":
		checkCatalog()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Geometries parses run.geometries.
func (c *Config) Geometries() ([]catalog.Geometry, error) {
	if len(c.Run.Geometries) == 0 {
		return nil, eris.New("config: run.geometries is empty")
	}
	out := make([]catalog.Geometry, 0, len(c.Run.Geometries))
	for _, g := range c.Run.Geometries {
		geo, err := catalog.ParseGeometry(g)
		if err != nil {
			return nil, eris.Wrap(err, "config: run.geometries")
		}
		out = append(out, geo)
	}
	return out, nil
}

// Registry builds the indicator registry, falling back to the built-in
// indicators when none are configured.
func (c *Config) Registry() (*indicator.Registry, error) {
	if len(c.Indicators) == 0 {
		return indicator.Default(), nil
	}
	reg, err := indicator.FromDefs(c.Indicators)
	if err != nil {
		return nil, eris.Wrap(err, "config: indicators")
	}
	return reg, nil
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
