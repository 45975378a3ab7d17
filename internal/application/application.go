package application

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/tapcfg/internal/api"
	"github.com/eugenenazirov/tapcfg/internal/config"
	"github.com/eugenenazirov/tapcfg/internal/configdict"
	"github.com/eugenenazirov/tapcfg/internal/storage"
	"github.com/eugenenazirov/tapcfg/internal/tapnet"
)

// App encapsulates the application dependencies and HTTP server.
type App struct {
	storage storage.Storage
	handler *api.Handler
	router  http.Handler
	logger  *zap.Logger
	server  *http.Server
}

// BuildExperimentConfig builds the TapNet record, applies overrides from
// every source and checks the result.
func BuildExperimentConfig(overrides config.Overrides) (*configdict.ConfigDict, error) {
	cfg := tapnet.Config()
	if err := overrides.Apply(cfg); err != nil {
		return nil, err
	}
	if _, err := tapnet.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Render writes value to w in the requested format. Records keep their key
// order and references are resolved.
func Render(w io.Writer, value any, format string) error {
	switch format {
	case config.FormatJSON:
		out, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			return fmt.Errorf("encode JSON: %w", err)
		}
		out = append(out, '\n')
		_, err = w.Write(out)
		return err
	case config.FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(value); err != nil {
			return fmt.Errorf("encode YAML: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

// New initializes the application with all dependencies from the provided configuration.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	experiment, err := BuildExperimentConfig(cfg.Overrides)
	if err != nil {
		return nil, fmt.Errorf("failed to build experiment config: %w", err)
	}

	store := storage.NewMemoryStorage()
	if err := store.Replace(experiment); err != nil {
		return nil, fmt.Errorf("failed to store experiment config: %w", err)
	}

	handler := api.NewHandler(store)
	apiRouter := api.NewRouter(handler, logger,
		api.WithLogging(cfg.EnableRequestLogging),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)

	return &App{
		storage: store,
		handler: handler,
		router:  apiRouter,
		logger:  logger,
		server:  NewServer(cfg, BuildRootHandler(apiRouter)),
	}, nil
}

// BuildRootHandler mounts the API under /api/ and redirects the bare root to
// the full record.
func BuildRootHandler(apiHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/", apiHandler)
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, "/api/config", http.StatusFound)
	}))
	return mux
}

// NewServer creates and configures an HTTP server from the provided configuration.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	addr := cfg.Port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// Start starts the HTTP server in a goroutine and logs the listening address.
func (a *App) Start() error {
	go func() {
		a.logger.Info("server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("server error", zap.Error(err))
		}
	}()
	return nil
}

// Server returns the HTTP server instance for shutdown handling.
func (a *App) Server() *http.Server {
	return a.server
}
