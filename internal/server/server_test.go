package server

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/joeblew999/uhi-map/internal/config"
)

func newTestServer(t *testing.T, page string) *Server {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Data.Dir = t.TempDir()
	cfg.DB.Enabled = false

	web := ""
	if page != "" {
		web = t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(web, "templates"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(web, "templates", "viewer.html"), []byte(page), 0o644))
	}

	srv, err := New(Config{Host: "localhost", Port: "0", WebDir: web, App: cfg, Logger: zap.NewNop()})
	require.NoError(t, err)
	return srv
}

func get(srv *Server, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestViewerPage(t *testing.T) {
	srv := newTestServer(t, `{{.Session}}|{{range .Kinds}}{{.Kind}}:{{.Key}}:{{.Checked}}:{{.Opacity}};{{end}}`)

	rec := get(srv, "/viewer")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	id, kinds, ok := strings.Cut(rec.Body.String(), "|")
	require.True(t, ok)
	assert.Equal(t, "ndvi:n:ndvichecked:ndviopacity;lst:t:lstchecked:lstopacity;", kinds)

	_, err := srv.Sessions().Get(id)
	assert.NoError(t, err)

	// every load is a new session
	other, _, _ := strings.Cut(get(srv, "/viewer").Body.String(), "|")
	assert.NotEqual(t, id, other)
}

func TestShippedViewerPage(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Data.Dir = t.TempDir()
	cfg.DB.Enabled = false

	srv, err := New(Config{Host: "localhost", Port: "0", WebDir: filepath.Join("..", "..", "web"), App: cfg, Logger: zap.NewNop()})
	require.NoError(t, err)

	rec := get(srv, "/viewer")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()

	assert.Contains(t, body, `data-signals:ndvichecked="false"`)
	assert.Contains(t, body, `data-bind="lstchecked"`)

	// the city boundary starts on, the grid starts off; both can be removed
	assert.Contains(t, body, `id="chkCity" checked`)
	assert.Contains(t, body, `id="chkGridStats" onchange`)
	assert.Contains(t, body, "toggleVector(this, loadCity, unloadCity)")
	assert.Contains(t, body, "toggleVector(this, loadGrid, unloadGrid)")
	assert.Contains(t, body, "if (grid.checked) loadGrid()")
}

func TestRoutes(t *testing.T) {
	srv := newTestServer(t, "")

	rec := get(srv, "/")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/viewer", rec.Header().Get("Location"))

	assert.Equal(t, http.StatusNotFound, get(srv, "/viewer").Code)
	assert.Equal(t, http.StatusNotFound, get(srv, "/nope").Code)
	assert.Equal(t, http.StatusOK, get(srv, "/health").Code)

	assert.NotNil(t, srv.OpenAPI().Paths["/api/v1/viewer/{session}/events"])
	assert.NotNil(t, srv.OpenAPI().Paths["/api/v1/grid/tiles/{z}/{x}/{y}"])
}

func TestCloseEndsStreams(t *testing.T) {
	srv := newTestServer(t, "")
	ch := srv.Sessions().Bus().Subscribe()
	require.NoError(t, srv.Close())
	_, open := <-ch
	assert.False(t, open)
}
