package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/tapcfg/internal/application"
	"github.com/eugenenazirov/tapcfg/internal/config"
	"github.com/eugenenazirov/tapcfg/internal/logging"
)

var signalNotify = signal.Notify

type cli struct {
	app *kingpin.Application

	configFile *string
	envFile    *string
	set        *[]string
	logLevel   *string
	format     *string

	show *kingpin.CmdClause

	get     *kingpin.CmdClause
	getPath *string

	serve          *kingpin.CmdClause
	port           *string
	rateLimitRPS   *float64
	rateLimitBurst *int
}

func newCLI() *cli {
	c := &cli{
		app: kingpin.New("tapcfg", "TapNet experiment configuration - builds, overrides and serves the locked experiment record"),
	}
	c.configFile = c.app.Flag("config", "Path to YAML configuration file").String()
	c.envFile = c.app.Flag("env-file", "Path to a dotenv file read beneath the process environment").String()
	c.set = c.app.Flag("set", "Experiment override as path=value (repeatable)").Short('s').Strings()
	c.logLevel = c.app.Flag("log-level", "Log level: debug, info, warn or error").String()
	c.format = c.app.Flag("format", "Output format: yaml or json").String()

	c.show = c.app.Command("show", "Print the full experiment record").Default()

	c.get = c.app.Command("get", "Print a single field of the experiment record")
	c.getPath = c.get.Arg("path", "Dotted path of the field, e.g. experiment_kwargs.config.optimizer.base_lr").Required().String()

	c.serve = c.app.Command("serve", "Serve the experiment record over HTTP")
	c.port = c.serve.Flag("port", "HTTP port exposed by the service").String()
	c.rateLimitRPS = c.serve.Flag("rate-limit-rps", "Config writes per second allowed (set 0 to disable)").Default("-1").Float64()
	c.rateLimitBurst = c.serve.Flag("rate-limit-burst", "Burst capacity for config writes (set 0 to disable)").Default("-1").Int()
	return c
}

func (c *cli) overrides() *config.CLIOverrides {
	overrides := &config.CLIOverrides{
		ConfigFile: *c.configFile,
		EnvFile:    *c.envFile,
		Set:        *c.set,
	}
	if *c.logLevel != "" {
		overrides.LogLevel = c.logLevel
	}
	if *c.format != "" {
		overrides.Format = c.format
	}
	if *c.port != "" {
		overrides.Port = c.port
	}
	if *c.rateLimitRPS >= 0 {
		overrides.RateLimitRPS = c.rateLimitRPS
	}
	if *c.rateLimitBurst >= 0 {
		overrides.RateLimitBurst = c.rateLimitBurst
	}
	return overrides
}

func main() {
	kingpin.FatalIfError(run(os.Args[1:], os.Stdout), "")
}

func run(args []string, stdout io.Writer) error {
	c := newCLI()
	command, err := c.app.Parse(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(c.overrides())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	switch command {
	case c.get.FullCommand():
		return runGet(stdout, cfg, *c.getPath, logger)
	case c.serve.FullCommand():
		return runServe(cfg, logger)
	default:
		return runShow(stdout, cfg, logger)
	}
}

func runShow(w io.Writer, cfg config.Config, logger *zap.Logger) error {
	experiment, err := application.BuildExperimentConfig(cfg.Overrides)
	if err != nil {
		return err
	}
	logger.Debug("experiment config built",
		zap.Int("env_overrides", len(cfg.Overrides.Env)),
		zap.Int("file_overrides", len(cfg.Overrides.File)),
		zap.Int("flag_overrides", len(cfg.Overrides.Flags)),
	)
	return application.Render(w, experiment, cfg.Format)
}

func runGet(w io.Writer, cfg config.Config, path string, logger *zap.Logger) error {
	experiment, err := application.BuildExperimentConfig(cfg.Overrides)
	if err != nil {
		return err
	}
	value, err := experiment.Get(path)
	if err != nil {
		return err
	}
	logger.Debug("experiment field resolved", zap.String("path", path), zap.Bool("reference", experiment.IsRef(path)))
	return application.Render(w, value, cfg.Format)
}

func runServe(cfg config.Config, logger *zap.Logger) error {
	app, err := application.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	if err := app.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	shutdown(app.Server(), cfg.ShutdownGracePeriod, logger)
	return nil
}

func shutdown(server *http.Server, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("forced close failed", zap.Error(closeErr))
		}
	}
}
