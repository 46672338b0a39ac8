package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/uhi-map/internal/config"
	"github.com/joeblew999/uhi-map/internal/server"
)

// Options defines all CLI flags and env vars for the uhi server.
// Flags: --host, --port, --data-dir, --web-dir, --config
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, SERVICE_WEB_DIR, SERVICE_CONFIG
type Options struct {
	Host    string `doc:"Host to bind to" default:"0.0.0.0"`
	Port    int    `doc:"Port to listen on" short:"p" default:"8086"`
	DataDir string `doc:"Directory holding the rasters, GeoJSON and CSV (overrides data.dir)"`
	WebDir  string `doc:"Path to web/ directory" default:"web"`
	Config  string `doc:"Path to uhi.yaml (default: ./uhi.yaml when present)"`
}

// loadConfig reads uhi.yaml and the environment, applies flag overrides and
// sets up the global logger.
func loadConfig(opts *Options) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, err
	}
	if opts.DataDir != "" {
		cfg.Data.Dir = opts.DataDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := config.InitLogger(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newServer(opts *Options) (*server.Server, *config.Config, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, nil, err
	}
	srv, err := server.New(server.Config{
		Host:   opts.Host,
		Port:   fmt.Sprintf("%d", opts.Port),
		WebDir: opts.WebDir,
		App:    cfg,
		Logger: zap.L(),
	})
	if err != nil {
		return nil, nil, err
	}
	return srv, cfg, nil
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		var (
			httpSrv *http.Server
			cancel  context.CancelFunc
		)

		hooks.OnStart(func() {
			srv, cfg, err := newServer(opts)
			if err != nil {
				fail(err)
			}
			defer srv.Close()

			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go srv.Run(ctx)

			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("uhi-map server starting...\n")
			fmt.Printf("  Server:  %s\n", baseURL)
			fmt.Printf("  Data:    %s\n", dataLocation(cfg))
			fmt.Println()
			fmt.Printf("  Viewer:  %s/viewer\n", baseURL)
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Println()

			httpSrv = &http.Server{Addr: addr, Handler: srv, ReadHeaderTimeout: 10 * time.Second}
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				zap.L().Fatal("server error", zap.Error(err))
			}
		})

		hooks.OnStop(func() {
			if cancel != nil {
				cancel()
			}
			if httpSrv == nil {
				return
			}
			ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = httpSrv.Shutdown(ctx)
		})
	})

	cli.Root().Use = "uhi"
	cli.Root().Short = "Urban heat island map: NDVI and LST overlays for Łódź"
	cli.Root().Version = "1.0.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv, _, err := newServer(opts)
			if err != nil {
				fail(err)
			}
			defer srv.Close()
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fail(fmt.Errorf("marshaling spec: %w", err))
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	cli.Root().AddCommand(renderCmd())
	cli.Root().AddCommand(tilesCmd())

	cli.Run()
}

func dataLocation(cfg *config.Config) string {
	if cfg.Data.BaseURL != "" {
		return cfg.Data.BaseURL
	}
	return cfg.Data.Dir
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}
