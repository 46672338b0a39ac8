// Package config loads application settings and sets up logging.
package config

import (
	"strings"
	"time"

	"github.com/paulmach/orb/maptile"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/joeblew999/uhi-map/internal/classify"
	"github.com/joeblew999/uhi-map/internal/overlay"
	"github.com/joeblew999/uhi-map/internal/source"
	"github.com/joeblew999/uhi-map/internal/tiler"
)

// Config holds the full application configuration.
type Config struct {
	Data    DataConfig    `yaml:"data" mapstructure:"data"`
	Overlay OverlayConfig `yaml:"overlay" mapstructure:"overlay"`
	Session SessionConfig `yaml:"session" mapstructure:"session"`
	Tiles   TilesConfig   `yaml:"tiles" mapstructure:"tiles"`
	DB      DBConfig      `yaml:"db" mapstructure:"db"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// DataConfig locates the data files.
type DataConfig struct {
	// Dir is read directly unless BaseURL is set.
	Dir string `yaml:"dir" mapstructure:"dir"`
	// Prefix is the URL path the files are published under.
	Prefix string `yaml:"prefix" mapstructure:"prefix"`
	// BaseURL switches fetching to HTTP GET against a remote host.
	BaseURL   string        `yaml:"base_url" mapstructure:"base_url"`
	KeyColumn string        `yaml:"key_column" mapstructure:"key_column"`
	// RateLimit caps requests per second against BaseURL; zero is unlimited.
	RateLimit float64       `yaml:"rate_limit" mapstructure:"rate_limit"`
	Files     source.Layout `yaml:"files" mapstructure:"files"`
}

// OverlayConfig tunes the raster overlays.
type OverlayConfig struct {
	MaxWidth    int     `yaml:"max_width" mapstructure:"max_width"`
	PadX        int     `yaml:"pad_x" mapstructure:"pad_x"`
	PadY        int     `yaml:"pad_y" mapstructure:"pad_y"`
	NDVIOpacity float64 `yaml:"ndvi_opacity" mapstructure:"ndvi_opacity"`
	LSTOpacity  float64 `yaml:"lst_opacity" mapstructure:"lst_opacity"`
	ThumbSize   uint    `yaml:"thumb_size" mapstructure:"thumb_size"`
}

// SessionConfig controls viewer session lifetime.
type SessionConfig struct {
	TTL time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// TilesConfig sets the zoom range of the grid vector tiles.
type TilesConfig struct {
	Layer   string `yaml:"layer" mapstructure:"layer"`
	MinZoom uint32 `yaml:"min_zoom" mapstructure:"min_zoom"`
	MaxZoom uint32 `yaml:"max_zoom" mapstructure:"max_zoom"`
}

// DBConfig configures the DuckDB store of grid statistics.
type DBConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Dir     string `yaml:"dir" mapstructure:"dir"`
	Name    string `yaml:"name" mapstructure:"name"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file (if present) and environment variables.
// An explicit path must exist; otherwise uhi.yaml is looked up in the
// working directory.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("uhi")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("UHI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	layout := source.DefaultLayout()
	v.SetDefault("data.dir", "data")
	v.SetDefault("data.prefix", "data")
	v.SetDefault("data.base_url", "")
	v.SetDefault("data.key_column", "OBJECTID_1")
	v.SetDefault("data.rate_limit", 0)
	v.SetDefault("data.files.city", layout.City)
	v.SetDefault("data.files.grid", layout.Grid)
	v.SetDefault("data.files.stats", layout.Stats)
	v.SetDefault("data.files.ndvi", layout.NDVI)
	v.SetDefault("data.files.lst", layout.LST)
	v.SetDefault("overlay.max_width", 1400)
	v.SetDefault("overlay.pad_x", 20)
	v.SetDefault("overlay.pad_y", 20)
	v.SetDefault("overlay.ndvi_opacity", 0.70)
	v.SetDefault("overlay.lst_opacity", 0.65)
	v.SetDefault("overlay.thumb_size", 256)
	v.SetDefault("session.ttl", "30m")
	v.SetDefault("tiles.layer", "grid")
	v.SetDefault("tiles.min_zoom", 8)
	v.SetDefault("tiles.max_zoom", 14)
	v.SetDefault("db.enabled", true)
	v.SetDefault("db.dir", "")
	v.SetDefault("db.name", "uhi")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks settings that would otherwise fail deep inside a request.
func (c *Config) Validate() error {
	if c.Overlay.MaxWidth < 0 {
		return eris.New("config: overlay.max_width must not be negative")
	}
	if c.Session.TTL <= 0 {
		return eris.New("config: session.ttl must be positive")
	}
	if c.Tiles.MinZoom > c.Tiles.MaxZoom || c.Tiles.MaxZoom > 22 {
		return eris.New("config: tiles zoom range must satisfy min_zoom <= max_zoom <= 22")
	}
	if c.Data.RateLimit < 0 {
		return eris.New("config: data.rate_limit must not be negative")
	}
	if c.Data.BaseURL == "" && c.Data.Dir == "" {
		return eris.New("config: one of data.dir or data.base_url is required")
	}
	return nil
}

// OverlayManagerConfig builds the overlay manager settings.
func (c *Config) OverlayManagerConfig() overlay.Config {
	return overlay.Config{
		Sources: map[classify.Kind]overlay.Source{
			classify.NDVI: {URL: c.dataURL(c.Data.Files.NDVI), DefaultOpacity: c.Overlay.NDVIOpacity},
			classify.LST:  {URL: c.dataURL(c.Data.Files.LST), DefaultOpacity: c.Overlay.LSTOpacity},
		},
		MaxWidth: c.Overlay.MaxWidth,
		PadX:     c.Overlay.PadX,
		PadY:     c.Overlay.PadY,
	}
}

func (c *Config) dataURL(name string) string {
	prefix := strings.Trim(c.Data.Prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// Fetcher returns the data fetcher: HTTP when a base URL is configured,
// otherwise the local data directory.
func (c *Config) Fetcher(logger *zap.Logger) (source.Fetcher, error) {
	if c.Data.BaseURL != "" {
		opts := source.HTTPOptions{BaseURL: c.Data.BaseURL, Logger: logger}
		if c.Data.RateLimit > 0 {
			opts.Limiter = rate.NewLimiter(rate.Limit(c.Data.RateLimit), 1)
		}
		f, err := source.NewHTTPFetcher(opts)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	return source.DirFetcher{Dir: c.Data.Dir, Prefix: c.Data.Prefix}, nil
}

// Loader returns the vector and table loader.
func (c *Config) Loader(f source.Fetcher, logger *zap.Logger) *source.Loader {
	return &source.Loader{
		Fetcher:   f,
		Prefix:    strings.Trim(c.Data.Prefix, "/"),
		Layout:    c.Data.Files,
		KeyColumn: c.Data.KeyColumn,
		Logger:    logger,
	}
}

// TileOptions builds the grid tiler settings.
func (c *Config) TileOptions() tiler.Options {
	return tiler.Options{
		Layer:   c.Tiles.Layer,
		MinZoom: maptile.Zoom(c.Tiles.MinZoom),
		MaxZoom: maptile.Zoom(c.Tiles.MaxZoom),
	}
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
