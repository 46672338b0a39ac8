package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/joeblew999/uhi-map/internal/db"
	"github.com/joeblew999/uhi-map/internal/overlay"
	"github.com/joeblew999/uhi-map/internal/raster"
	"github.com/joeblew999/uhi-map/internal/service"
	"github.com/joeblew999/uhi-map/internal/source"
)

const gridJSON = `{"type":"FeatureCollection","features":[
 {"type":"Feature","properties":{"OBJECTID_1":1},"geometry":{"type":"Polygon","coordinates":[[[19.4,51.7],[19.5,51.7],[19.5,51.8],[19.4,51.7]]]}},
 {"type":"Feature","properties":{"OBJECTID_1":2},"geometry":{"type":"Polygon","coordinates":[[[19.5,51.7],[19.6,51.7],[19.6,51.8],[19.5,51.7]]]}},
 {"type":"Feature","properties":{"OBJECTID_1":3},"geometry":{"type":"Polygon","coordinates":[[[19.6,51.7],[19.7,51.7],[19.7,51.8],[19.6,51.7]]]}}
]}`

const cityJSON = `{"type":"FeatureCollection","features":[
 {"type":"Feature","properties":{"name":"Łódź"},"geometry":{"type":"Polygon","coordinates":[[[19.3,51.6],[19.7,51.6],[19.7,51.9],[19.3,51.6]]]}}
]}`

const statsCSV = "OBJECTID_1,MEDIAN,MEAN_1\n1,0.62,29.5\n2,0.05,33.1\n"

type testServer struct {
	mux      *http.ServeMux
	sessions *service.SessionService
}

func newTestServer(t *testing.T, lstURL string) *testServer {
	t.Helper()

	dir := t.TempDir()
	for name, body := range map[string]string{
		"lodz_city.geojson":       cityJSON,
		"lodz_grid.geojson":       gridJSON,
		"ndvi_lst_grid_stats.csv": statsCSV,
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}

	cfg := overlay.DefaultConfig()
	cfg.Sources["lst"] = overlay.Source{URL: lstURL, DefaultOpacity: 0.65}

	sessions := service.NewSessionService(service.SessionOptions{
		Overlay: cfg,
		Fetcher: overlay.FetcherFunc(func(_ context.Context, url string) ([]byte, error) {
			if url == "missing" {
				return nil, raster.Failf(raster.FetchFailure, "404 %s", url)
			}
			return []byte(url), nil
		}),
		Decoder: raster.DecoderFunc(func(_ context.Context, data []byte) (*raster.DecodedRaster, error) {
			if string(data) == "garbage" {
				return nil, raster.Failf(raster.DecodeFailure, "not a tiff")
			}
			return &raster.DecodedRaster{
				Width:  2,
				Height: 2,
				Bounds: orb.Bound{Min: orb.Point{19.3, 51.6}, Max: orb.Point{19.7, 51.9}},
				Band:   [][]float64{{1, 2}, {3, 4}},
			}, nil
		}),
		TTL:    time.Hour,
		Logger: zap.NewNop(),
	})

	conn, err := db.Open(db.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	loader := &source.Loader{
		Fetcher: source.DirFetcher{Dir: dir, Prefix: "data/"},
		Prefix:  "data",
		Layout:  source.DefaultLayout(),
		Logger:  zap.NewNop(),
	}
	data := service.NewDataService(loader, db.NewStatsStore(conn, zap.NewNop()), sessions.Bus(), zap.NewNop())

	config := huma.DefaultConfig("test", Version)
	config.Transformers = append(config.Transformers, LinkTransformer())
	mux := http.NewServeMux()
	api := humago.New(mux, config)

	huma.AutoRegister(api, NewAPIHandler(&Services{
		Sessions: sessions,
		Data:     data,
		Files:    service.NewFileService(dir),
	}))
	NewInfoHandler(dir, true).RegisterRoutes(api)
	NewDBHandler(conn).RegisterRoutes(api)

	return &testServer{mux: mux, sessions: sessions}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, "lst.tif")
	rec := s.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[HealthBody](t, rec)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, Version, body.Version)
	assert.Contains(t, strings.Join(rec.Header().Values("Link"), ","), `</api/v1/info>; rel="info"`)
}

func TestInfo(t *testing.T) {
	s := newTestServer(t, "lst.tif")
	rec := s.do(http.MethodGet, "/api/v1/info", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[InfoBody](t, rec)
	assert.Equal(t, "uhi-map", body.Name)
	assert.Equal(t, []string{"ndvi", "lst"}, body.Kinds)
	assert.Contains(t, body.Features, "duckdb")
}

func TestLegendAndClasses(t *testing.T) {
	s := newTestServer(t, "lst.tif")

	rec := s.do(http.MethodGet, "/api/v1/legend/ndvi", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "NDVI classes (raster)")

	rec = s.do(http.MethodGet, "/api/v1/legend/none", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Turn on NDVI/LST to see legend.")

	rec = s.do(http.MethodGet, "/api/v1/legend/evi", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/classes/lst", "")
	require.Equal(t, http.StatusOK, rec.Code)
	classes := decode[ClassesBody](t, rec)
	assert.Equal(t, "lst", classes.Kind)
	assert.Len(t, classes.Classes, 4)

	rec = s.do(http.MethodGet, "/api/v1/classes/ndvi/3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "#21918c")

	rec = s.do(http.MethodGet, "/api/v1/classes/ndvi/9", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t, "lst.tif")

	rec := s.do(http.MethodPost, "/api/v1/sessions", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[service.SessionSnapshot](t, rec)
	assert.Equal(t, "none", created.Mode)
	base := "/api/v1/sessions/" + created.ID

	rec = s.do(http.MethodPost, base+"/overlays/ndvi", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	on := decode[service.SessionSnapshot](t, rec)
	assert.Equal(t, "ndvi", on.Mode)
	require.Len(t, on.Map.Layers, 1)
	layer := on.Map.Layers[0]
	assert.False(t, layer.Interactive)
	assert.Equal(t, "NDVI classes (raster)", on.View.Legend.Title)

	links := strings.Join(rec.Header().Values("Link"), ",")
	assert.Contains(t, links, `rel="toggle-off"`)
	assert.Contains(t, links, `rel="toggle-on"`)

	rec = s.do(http.MethodGet, layer.ImageURL, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "\x89PNG", rec.Body.String()[:4])

	rec = s.do(http.MethodGet, layer.ThumbURL, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPut, base+"/overlays/ndvi/opacity", `{"opacity":0.3}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	withOpacity := decode[service.SessionSnapshot](t, rec)
	assert.InDelta(t, 0.3, withOpacity.Map.Layers[0].Opacity, 1e-9)

	// switching kinds replaces the layer
	rec = s.do(http.MethodPost, base+"/overlays/lst", "")
	require.Equal(t, http.StatusOK, rec.Code)
	lst := decode[service.SessionSnapshot](t, rec)
	assert.Equal(t, "lst", lst.Mode)
	require.Len(t, lst.Map.Layers, 1)
	assert.Equal(t, "lst", lst.Map.Layers[0].Kind)

	rec = s.do(http.MethodGet, layer.ImageURL, "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "removed layer")

	rec = s.do(http.MethodDelete, base+"/overlays/lst", "")
	require.Equal(t, http.StatusOK, rec.Code)
	off := decode[service.SessionSnapshot](t, rec)
	assert.Equal(t, "none", off.Mode)
	assert.Empty(t, off.Map.Layers)

	rec = s.do(http.MethodDelete, base, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodGet, base, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestToggleOnFailureStatus(t *testing.T) {
	tests := []struct {
		url    string
		status int
	}{
		{"missing", http.StatusBadGateway},
		{"garbage", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			s := newTestServer(t, tt.url)
			sess := s.sessions.Create()

			rec := s.do(http.MethodPost, "/api/v1/sessions/"+sess.ID+"/overlays/lst", "")
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), "Failed to load LST GeoTIFF")
			assert.Equal(t, "none", sess.Snapshot().Mode)
		})
	}
}

func TestInvalidOpacity(t *testing.T) {
	s := newTestServer(t, "lst.tif")
	sess := s.sessions.Create()

	rec := s.do(http.MethodPut, "/api/v1/sessions/"+sess.ID+"/overlays/ndvi/opacity", `{"opacity":"high"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// values outside [0,1] are stored as given
	rec = s.do(http.MethodPut, "/api/v1/sessions/"+sess.ID+"/overlays/ndvi/opacity", `{"opacity":1.5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 1.5, sess.Manager.Opacity("ndvi"), 1e-9)
}

func TestData(t *testing.T) {
	s := newTestServer(t, "lst.tif")

	rec := s.do(http.MethodGet, "/api/v1/city", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Łódź")

	rec = s.do(http.MethodGet, "/api/v1/grid", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fillColor")

	rec = s.do(http.MethodGet, "/api/v1/grid/cells?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[struct {
		Total int        `json:"total"`
		Data  []CellBody `json:"data"`
	}](t, rec)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Data, 2)
	assert.Equal(t, "1", page.Data[0].ID)
	assert.Equal(t, 4, page.Data[0].Class)
	links := strings.Join(rec.Header().Values("Link"), ",")
	assert.Contains(t, links, `</api/v1/grid/cells?offset=2&limit=2>; rel="next"`)

	rec = s.do(http.MethodGet, "/api/v1/grid/cells/3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	cell := decode[CellBody](t, rec)
	assert.False(t, cell.Matched)
	assert.Equal(t, 0, cell.Class)

	rec = s.do(http.MethodGet, "/api/v1/grid/cells/99", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/sources", "")
	require.Equal(t, http.StatusOK, rec.Code)
	files := decode[[]service.DataFile](t, rec)
	require.Len(t, files, 3)
	assert.Equal(t, "lodz_city.geojson", files[0].Name)
}

func TestClassSummary(t *testing.T) {
	s := newTestServer(t, "lst.tif")

	rec := s.do(http.MethodGet, "/api/v1/stats/classes", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "grid not loaded yet")

	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/v1/grid", "").Code)

	rec = s.do(http.MethodGet, "/api/v1/stats/classes", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rows := decode[[]ClassRow](t, rec)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].Class)
	assert.Equal(t, 4, rows[1].Class)
	require.NotNil(t, rows[1].LSTMean)
	assert.InDelta(t, 29.5, *rows[1].LSTMean, 1e-9)
}

func TestGridTiles(t *testing.T) {
	s := newTestServer(t, "lst.tif")

	tile := maptile.At(orb.Point{19.45, 51.75}, 12)
	rec := s.do(http.MethodGet, fmt.Sprintf("/api/v1/grid/tiles/%d/%d/%d", tile.Z, tile.X, tile.Y), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/vnd.mapbox-vector-tile", rec.Header().Get("Content-Type"))
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	assert.NotEmpty(t, rec.Body.Bytes())

	rec = s.do(http.MethodGet, "/api/v1/grid/tiles/12/0/0", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/grid/tiles/3/4/2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/grid/tiles/10/5000/1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReloadData(t *testing.T) {
	s := newTestServer(t, "lst.tif")
	ch := s.sessions.Bus().Subscribe()
	defer s.sessions.Bus().Unsubscribe(ch)

	rec := s.do(http.MethodPost, "/api/v1/data/reload", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "Data reloaded")

	select {
	case ev := <-ch:
		assert.Equal(t, "data", ev.Resource)
		assert.Equal(t, "reloaded", ev.Action)
	case <-time.After(time.Second):
		t.Fatal("no reload event")
	}
}
