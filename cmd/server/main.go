package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"example.com/thermoweb/v2/internal/app"
	"example.com/thermoweb/v2/internal/config"
	"example.com/thermoweb/v2/internal/logger"
	"example.com/thermoweb/v2/internal/sensor"
	"example.com/thermoweb/v2/internal/storage"
	"example.com/thermoweb/v2/internal/thermostat"
)

// options are the command line flags. Empty strings mean "not given".
type options struct {
	configPath string
	address    string
	root       string
	basePath   string
	logLevel   string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("thermoweb", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "Path to the configuration file (JSON or TOML)")
	fs.StringVar(&opts.address, "address", "", "Listen address, overrides server.address")
	fs.StringVar(&opts.root, "root", "", "Host directory backing the storage mount, overrides storage.root")
	fs.StringVar(&opts.basePath, "base-path", "", "Base path passed to the file server, overrides server.base_path")
	fs.StringVar(&opts.logLevel, "log-level", "", "DEBUG, INFO, WARNING or ERROR, overrides logging.log_level")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

// buildConfig loads the file if one is given, applies the flag overrides and
// validates the result.
func buildConfig(opts *options) (*config.Config, error) {
	var cfg *config.Config
	if opts.configPath != "" {
		absPath, err := filepath.Abs(opts.configPath)
		if err != nil {
			return nil, fmt.Errorf("resolving config path %s: %w", opts.configPath, err)
		}
		opts.configPath = absPath
		if cfg, err = config.LoadConfigUnvalidated(absPath); err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}

	if opts.address != "" {
		cfg.Server.Address = &opts.address
	}
	if opts.root != "" {
		root, err := filepath.Abs(opts.root)
		if err != nil {
			return nil, fmt.Errorf("resolving root %s: %w", opts.root, err)
		}
		cfg.Storage.Root = root
	}
	if opts.basePath != "" {
		cfg.Server.BasePath = &opts.basePath
	}
	if opts.logLevel != "" {
		cfg.Logging.LogLevel = config.LogLevel(strings.ToUpper(opts.logLevel))
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(args []string, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, "Error:", err)
		return 2
	}
	cfg, err := buildConfig(opts)
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}

	lg, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintln(stderr, "Failed to initialize logger:", err)
		return 1
	}
	defer lg.CloseLogFiles()

	mount, err := storage.NewMount(cfg.Storage.MountPoint, cfg.Storage.Root)
	if err != nil {
		lg.Error("Failed to mount storage", logger.LogFields{"root": cfg.Storage.Root, "error": err.Error()})
		return 1
	}
	defer mount.Close()
	lg.Info("Storage mounted", logger.LogFields{"mount_point": mount.MountPoint(), "root": cfg.Storage.Root})

	sp := thermostat.NewSetpoints(*cfg.Thermostat.Goal, *cfg.Thermostat.LowerMargin, *cfg.Thermostat.UpperMargin)
	display := thermostat.NewLogDisplay(sp, lg)
	display.Update()

	a, err := app.New(cfg, lg, mount, sp, display)
	if err != nil {
		lg.Error("Failed to create file server", logger.LogFields{"error": err.Error()})
		return 1
	}
	a.SetConfigPath(opts.configPath)
	if err := a.Start(*cfg.Server.BasePath); err != nil {
		lg.Error("File server failed to start", logger.LogFields{"error": err.Error()})
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if feed := sensor.New(cfg.Sensor, sp, display, lg); feed != nil {
		go feed.Run(ctx)
	}

	return waitForSignals(a, cfg, lg)
}

// waitForSignals blocks until SIGINT/SIGTERM or an unexpected server exit.
// SIGHUP reopens file log targets for rotation.
func waitForSignals(a *app.App, cfg *config.Config, lg *logger.Logger) int {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-a.Done():
			lg.Error("Server stopped unexpectedly")
			return 1
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				if err := lg.ReopenLogFiles(); err != nil {
					lg.Error("Failed to reopen log files", logger.LogFields{"error": err.Error()})
				} else {
					lg.Info("Log files reopened")
				}
				continue
			}
			lg.Info("Shutting down", logger.LogFields{"signal": sig.String()})
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout.Duration)
			err := a.Shutdown(ctx)
			cancel()
			if err != nil {
				lg.Error("Shutdown did not complete cleanly", logger.LogFields{"error": err.Error()})
				return 1
			}
			return 0
		}
	}
}
