package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/joeblew999/uhi-map/internal/classify"
	"github.com/joeblew999/uhi-map/internal/source"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "data", cfg.Data.Dir)
	assert.Equal(t, "OBJECTID_1", cfg.Data.KeyColumn)
	assert.Equal(t, source.DefaultLayout(), cfg.Data.Files)
	assert.Equal(t, 1400, cfg.Overlay.MaxWidth)
	assert.Equal(t, 20, cfg.Overlay.PadX)
	assert.InDelta(t, 0.70, cfg.Overlay.NDVIOpacity, 1e-9)
	assert.InDelta(t, 0.65, cfg.Overlay.LSTOpacity, 1e-9)
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	oc := cfg.OverlayManagerConfig()
	assert.Equal(t, "data/NDVI_classified.tif", oc.Sources[classify.NDVI].URL)
	assert.Equal(t, "data/LST_classified.tif", oc.Sources[classify.LST].URL)
	assert.Equal(t, 20, oc.PadY)

	to := cfg.TileOptions()
	assert.Equal(t, "grid", to.Layer)
	assert.EqualValues(t, 8, to.MinZoom)
	assert.EqualValues(t, 14, to.MaxZoom)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	yaml := `
data:
  dir: /srv/uhi
  files:
    ndvi: ndvi.tif
overlay:
  max_width: 800
  lst_opacity: 0.4
session:
  ttl: 5m
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "uhi.yaml"), []byte(yaml), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/srv/uhi", cfg.Data.Dir)
	assert.Equal(t, "ndvi.tif", cfg.Data.Files.NDVI)
	assert.Equal(t, "LST_classified.tif", cfg.Data.Files.LST, "defaults still apply")
	assert.Equal(t, 800, cfg.Overlay.MaxWidth)
	assert.InDelta(t, 0.4, cfg.Overlay.LSTOpacity, 1e-9)
	assert.Equal(t, 5*time.Minute, cfg.Session.TTL)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoadExplicitPath(t *testing.T) {
	chdir(t, t.TempDir())

	_, err := Load("missing.yaml")
	assert.Error(t, err)

	p := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(p, []byte("data:\n  prefix: static/data\n"), 0o644))
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "static/data/LST_classified.tif", cfg.OverlayManagerConfig().Sources[classify.LST].URL)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("UHI_LOG_LEVEL", "warn")
	t.Setenv("UHI_OVERLAY_MAX_WIDTH", "640")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 640, cfg.Overlay.MaxWidth)
}

func TestValidate(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)

	bad := *cfg
	bad.Session.TTL = 0
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Overlay.MaxWidth = -1
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Tiles.MinZoom = 15
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Data.Dir = ""
	assert.Error(t, bad.Validate())
	bad.Data.BaseURL = "http://localhost:8080"
	assert.NoError(t, bad.Validate())
	bad.Data.RateLimit = -1
	assert.Error(t, bad.Validate())
}

func TestFetcher(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)

	f, err := cfg.Fetcher(zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, source.DirFetcher{}, f)

	cfg.Data.BaseURL = "http://localhost:8080"
	cfg.Data.RateLimit = 5
	f, err = cfg.Fetcher(zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &source.HTTPFetcher{}, f)

	l := cfg.Loader(f, zap.NewNop())
	assert.Equal(t, "data/lodz_city.geojson", l.URL(l.Layout.City))
}

func TestInitLogger(t *testing.T) {
	prev := zap.L()
	t.Cleanup(func() { zap.ReplaceGlobals(prev) })

	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.True(t, zap.L().Core().Enabled(zap.DebugLevel))

	require.NoError(t, InitLogger(LogConfig{Level: "error", Format: "json"}))
	assert.False(t, zap.L().Core().Enabled(zap.InfoLevel))

	assert.Error(t, InitLogger(LogConfig{Level: "loud"}))
}
