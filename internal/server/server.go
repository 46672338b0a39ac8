package server

import (
	"context"
	"database/sql"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joeblew999/uhi-map/internal/api"
	"github.com/joeblew999/uhi-map/internal/api/viewer"
	"github.com/joeblew999/uhi-map/internal/classify"
	"github.com/joeblew999/uhi-map/internal/config"
	"github.com/joeblew999/uhi-map/internal/db"
	"github.com/joeblew999/uhi-map/internal/raster"
	"github.com/joeblew999/uhi-map/internal/service"
	"github.com/joeblew999/uhi-map/internal/templates"
)

// Config holds the server configuration.
type Config struct {
	Host   string
	Port   string
	WebDir string // Path to web/ directory for static files and templates
	App    *config.Config
	Logger *zap.Logger
}

// Server is the uhi-map HTTP server.
type Server struct {
	config   Config
	mux      *http.ServeMux
	humaAPI  huma.API
	db       *sql.DB
	services *api.Services
	renderer *templates.Renderer
	page     *template.Template
	logger   *zap.Logger
}

// New wires the services, the REST API, the viewer SSE handlers and the
// page routes.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.L()
	}
	app := cfg.App
	logger := cfg.Logger.Named("server")

	mux := http.NewServeMux()

	humaConfig := huma.DefaultConfig("uhi-map API", api.Version)
	humaConfig.Info.Description = "Urban heat island viewer: NDVI and LST raster overlays, grid statistics and viewer sessions."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, api.LinkTransformer())

	humaAPI := humago.New(mux, humaConfig)

	fetcher, err := app.Fetcher(cfg.Logger)
	if err != nil {
		return nil, eris.Wrap(err, "server: data fetcher")
	}

	s := &Server{
		config:  cfg,
		mux:     mux,
		humaAPI: humaAPI,
		logger:  logger,
	}

	// DuckDB is optional: without it the grid is still served, only the
	// SQL endpoints report 503.
	var store service.StatsStore
	if app.DB.Enabled {
		conn, err := db.Get(db.Config{DataDir: app.DB.Dir, DBName: app.DB.Name})
		if err != nil {
			logger.Warn("duckdb unavailable", zap.Error(err))
		} else {
			s.db = conn
			store = db.NewStatsStore(conn, cfg.Logger)
		}
	}

	bus := service.NewEventBus()
	sessions := service.NewSessionService(service.SessionOptions{
		Overlay:   app.OverlayManagerConfig(),
		Fetcher:   fetcher,
		Decoder:   raster.NewGeoTIFFDecoder(cfg.Logger),
		ThumbSize: app.Overlay.ThumbSize,
		TTL:       app.Session.TTL,
		Bus:       bus,
		Logger:    cfg.Logger,
	})
	data := service.NewDataService(app.Loader(fetcher, cfg.Logger), store, bus, cfg.Logger)
	data.SetTileOptions(app.TileOptions())

	s.services = &api.Services{
		Sessions: sessions,
		Data:     data,
		Files:    service.NewFileService(app.Data.Dir),
	}

	// Fragments on disk override the compiled-in ones, for editing markup
	// without a rebuild.
	s.renderer, err = templates.Default()
	if err != nil {
		return nil, eris.Wrap(err, "server: embedded fragments")
	}
	if cfg.WebDir != "" {
		fragmentsDir := filepath.Join(cfg.WebDir, "templates", "fragments")
		if n, err := s.renderer.Override(fragmentsDir); err != nil {
			logger.Warn("fragment templates not loaded", zap.String("dir", fragmentsDir), zap.Error(err))
		} else if n > 0 {
			logger.Info("loaded fragment templates", zap.String("dir", fragmentsDir), zap.Int("files", n))
		}

		pagePath := filepath.Join(cfg.WebDir, "templates", "viewer.html")
		if _, err := os.Stat(pagePath); err == nil {
			page, err := template.ParseFiles(pagePath)
			if err != nil {
				return nil, eris.Wrapf(err, "server: parse %s", pagePath)
			}
			s.page = page
		}
	}

	s.routes()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// OpenAPI returns the generated API document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Sessions returns the viewer session service.
func (s *Server) Sessions() *service.SessionService {
	return s.services.Sessions
}

// Data returns the vector data service.
func (s *Server) Data() *service.DataService {
	return s.services.Data
}

// Run expires idle sessions until ctx is done.
func (s *Server) Run(ctx context.Context) {
	every := s.config.App.Session.TTL / 4
	if every < time.Second {
		every = time.Second
	}
	s.services.Sessions.Run(ctx, every)
}

// Close ends open event streams and closes the database.
func (s *Server) Close() error {
	s.services.Sessions.Bus().Close()
	return db.Close()
}

func (s *Server) routes() {
	// REST API (OpenAPI-documented JSON endpoints)
	huma.AutoRegister(s.humaAPI, api.NewAPIHandler(s.services))
	api.NewInfoHandler(s.config.App.Data.Dir, s.db != nil).RegisterRoutes(s.humaAPI)
	api.NewDBHandler(s.db).RegisterRoutes(s.humaAPI)

	// Viewer SSE routes using Huma + Datastar SDK
	viewer.NewHandler(s.services.Sessions, s.renderer, s.config.Logger).RegisterRoutes(s.humaAPI)

	// Raw data files under their published prefix
	if dir, prefix := s.config.App.Data.Dir, strings.Trim(s.config.App.Data.Prefix, "/"); dir != "" && prefix != "" {
		prefix = "/" + prefix + "/"
		s.mux.Handle(prefix, http.StripPrefix(prefix, http.FileServer(http.Dir(dir))))
	}

	if s.config.WebDir != "" {
		staticDir := filepath.Join(s.config.WebDir, "static")
		s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
	}

	// Page routes
	s.mux.HandleFunc("GET /viewer", s.handleViewer)
	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, "/viewer", http.StatusFound)
}

// pageData is what viewer.html renders with.
type pageData struct {
	Session string
	Kinds   []pageKind
	Version string
}

// shortcuts are the quick-show keys, one letter per kind.
var shortcuts = map[classify.Kind]string{classify.NDVI: "n", classify.LST: "t"}

type pageKind struct {
	Kind    string
	Label   string
	Key     string
	Checked string
	Opacity string
}

// handleViewer starts a fresh session per page load, so a reload always
// begins in the none state.
func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	if s.page == nil {
		http.Error(w, "viewer page not available: set --web-dir", http.StatusNotFound)
		return
	}
	sess := s.services.Sessions.Create()

	data := pageData{Session: sess.ID, Version: api.Version}
	for _, kind := range classify.Kinds {
		data.Kinds = append(data.Kinds, pageKind{
			Kind:    string(kind),
			Label:   kind.Label(),
			Key:     shortcuts[kind],
			Checked: viewer.CheckedSignal(kind),
			Opacity: viewer.OpacitySignal(kind),
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := s.page.Execute(w, data); err != nil {
		s.logger.Error("render viewer page", zap.Error(err))
	}
}
