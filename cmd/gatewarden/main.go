// Command gatewarden runs the request-admission gateway: a front door that
// verifies bearer credentials, gates operations by tier and enforces
// sliding-window quotas against a shared Redis store.
//
// Usage:
//
//	gatewarden serve --config gatewarden.yaml
//	gatewarden validate --config gatewarden.yaml
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/gatewarden/gatewarden/pkg/config"
	"github.com/gatewarden/gatewarden/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the admission gateway."`
	Validate ValidateCmd `cmd:"" help:"Validate configuration file."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:""`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose)." default:""`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("gatewarden version %s\n", version)
	return nil
}

// ValidateCmd validates the configuration file.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return fmt.Errorf("--config is required")
	}

	cfg, err := config.LoadFromFile(cli.Config)
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	fmt.Printf("Configuration OK: %d tier(s), %d gated operation(s), limits backend %s\n",
		len(cfg.Tiers), len(cfg.Operations), cfg.Limits.Backend)
	return nil
}

// ServeCmd starts the gateway server.
type ServeCmd struct {
	Port  int  `help:"Port to listen on (overrides config)." default:"0"`
	Watch bool `help:"Watch config file for tier/operation changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	var cfg *config.Config
	var err error
	if cli.Config != "" {
		cfg, err = config.LoadFromFile(cli.Config)
	} else {
		// Zero-config mode: defaults plus a secret from the environment.
		cfg, err = config.Default(os.Getenv("GATEWARDEN_SECRET"))
		if err != nil {
			return fmt.Errorf("provide --config or set GATEWARDEN_SECRET: %w", err)
		}
	}
	if err != nil {
		return err
	}
	if c.Watch && cli.Config == "" {
		return fmt.Errorf("--watch requires --config")
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	cleanup, err := initLogger(cli, cfg)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	srv, err := buildServer(ctx, cli, cfg, c.Watch)
	if err != nil {
		return err
	}
	defer srv.Close()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Gateway listening",
			"addr", srv.httpServer.Addr,
			"backend", cfg.Limits.Backend,
			"scope", cfg.Limits.Scope)
		if err := srv.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer shutdownCancel()
	return srv.httpServer.Shutdown(shutdownCtx)
}

// initLogger applies CLI log flags over config file settings.
func initLogger(cli *CLI, cfg *config.Config) (func(), error) {
	level := cfg.Logging.Level
	if cli.LogLevel != "" {
		level = cli.LogLevel
	}
	format := cfg.Logging.Format
	if cli.LogFormat != "" {
		format = cli.LogFormat
	}
	path := cfg.Logging.File
	if cli.LogFile != "" {
		path = cli.LogFile
	}

	output := os.Stderr
	var cleanup func()
	if path != "" {
		file, close, err := logger.OpenLogFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
		cleanup = close
	}

	logger.Init(logger.ParseLevel(level), output, format)
	return cleanup, nil
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("gatewarden"),
		kong.Description("gatewarden - tier-aware request admission gateway"),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}

// timeoutOrDefault guards against zero-valued timeouts from partial configs.
func timeoutOrDefault(d time.Duration, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
