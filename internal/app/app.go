// Package app assembles the file server: it validates the start request,
// allocates the shared server context, builds the routed handlers and
// starts the transport.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"example.com/thermoweb/v2/internal/config"
	"example.com/thermoweb/v2/internal/handlers/api"
	"example.com/thermoweb/v2/internal/handlers/fileserver"
	"example.com/thermoweb/v2/internal/handlers/status"
	"example.com/thermoweb/v2/internal/logger"
	"example.com/thermoweb/v2/internal/router"
	"example.com/thermoweb/v2/internal/server"
	"example.com/thermoweb/v2/internal/storage"
	"example.com/thermoweb/v2/internal/thermostat"
)

// Start failures, checked in this order.
var (
	ErrBadBasePath    = errors.New("unsupported base path")
	ErrAlreadyRunning = errors.New("file server already started")
	ErrAllocFailure   = errors.New("failed to allocate server context")
	ErrServerFailure  = errors.New("failed to start file server")
)

// App owns one file server instance.
type App struct {
	cfg        *config.Config
	configPath string
	log        *logger.Logger
	fs         storage.Filesystem
	setpoints  *thermostat.Setpoints
	display    thermostat.Display

	mu  sync.Mutex
	srv *server.Server
}

// New creates an App. cfg must be defaulted and validated.
func New(cfg *config.Config, lg *logger.Logger, fsys storage.Filesystem, sp *thermostat.Setpoints, display thermostat.Display) (*App, error) {
	switch {
	case cfg == nil:
		return nil, fmt.Errorf("config cannot be nil")
	case lg == nil:
		return nil, fmt.Errorf("logger cannot be nil")
	case fsys == nil:
		return nil, fmt.Errorf("filesystem cannot be nil")
	case sp == nil:
		return nil, fmt.Errorf("setpoints cannot be nil")
	case display == nil:
		return nil, fmt.Errorf("display cannot be nil")
	}
	return &App{cfg: cfg, log: lg, fs: fsys, setpoints: sp, display: display}, nil
}

// SetConfigPath anchors relative paths inside handler configs, such as
// mime_types_path.
func (a *App) SetConfigPath(path string) { a.configPath = path }

// Start serves basePath, which must be the storage mount point. It returns
// once the listener is bound.
func (a *App) Start(basePath string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if basePath == "" || basePath != a.cfg.Storage.MountPoint {
		a.log.Error("File server only supports its mount point as base path", logger.LogFields{
			"base_path": basePath, "mount_point": a.cfg.Storage.MountPoint,
		})
		return fmt.Errorf("%w: %q (want %q)", ErrBadBasePath, basePath, a.cfg.Storage.MountPoint)
	}
	if a.srv != nil {
		a.log.Error("File server already started")
		return ErrAlreadyRunning
	}

	sc, err := fileserver.NewContext(basePath, *a.cfg.Server.ScratchSize, *a.cfg.Server.MaxPathLength)
	if err != nil {
		a.log.Error("Failed to allocate memory for server data", logger.LogFields{"error": err.Error()})
		if errors.Is(err, fileserver.ErrScratchSize) {
			return fmt.Errorf("%w: %v", ErrAllocFailure, err)
		}
		return fmt.Errorf("%w: %v", ErrServerFailure, err)
	}

	a.log.Info("Starting HTTP server", logger.LogFields{"base_path": basePath, "routes": len(a.cfg.Routing.Routes)})
	reg, err := a.registry(sc)
	if err != nil {
		a.log.Error("Failed to register handlers", logger.LogFields{"error": err.Error()})
		return fmt.Errorf("%w: %v", ErrServerFailure, err)
	}
	rt, err := router.NewRouter(a.cfg.Routing.Routes, reg, a.log)
	if err != nil {
		a.log.Error("Failed to build routes", logger.LogFields{"error": err.Error()})
		return fmt.Errorf("%w: %v", ErrServerFailure, err)
	}
	if st := a.cfg.Server.SendTimeout; st != nil {
		rt.SetSendTimeout(st.Duration)
	}
	srv, err := server.NewServer(a.cfg.Server, a.log, rt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServerFailure, err)
	}
	if err := srv.Start(); err != nil {
		a.log.Error("Failed to start file server", logger.LogFields{"error": err.Error()})
		return fmt.Errorf("%w: %v", ErrServerFailure, err)
	}
	a.srv = srv
	return nil
}

// namedFactory pairs a handler type with the factory building it.
type namedFactory struct {
	handlerType string
	factory     server.HandlerFactory
}

// registerAll registers every factory, failing on the first duplicate type.
func registerAll(reg *server.HandlerRegistry, factories []namedFactory) error {
	for _, nf := range factories {
		if err := reg.Register(nf.handlerType, nf.factory); err != nil {
			return err
		}
	}
	return nil
}

// registry binds the handler types to this App's collaborators.
func (a *App) registry(sc *fileserver.ServerContext) (*server.HandlerRegistry, error) {
	reg := server.NewHandlerRegistry()
	err := registerAll(reg, []namedFactory{
		{config.HandlerTypeStatusPoll, func(_ json.RawMessage, lg *logger.Logger) (server.Handler, error) {
			h, err := status.New(a.setpoints, lg)
			if err != nil {
				return nil, err
			}
			return h, nil
		}},
		{config.HandlerTypeFileServer, func(raw json.RawMessage, lg *logger.Logger) (server.Handler, error) {
			cfg, err := config.ParseAndValidateFileServerConfig(raw, a.configPath)
			if err != nil {
				return nil, err
			}
			h, err := fileserver.New(sc, a.fs, cfg, lg)
			if err != nil {
				return nil, err
			}
			return h, nil
		}},
		{config.HandlerTypeAPICommand, func(raw json.RawMessage, lg *logger.Logger) (server.Handler, error) {
			cfg, err := config.ParseAndValidateAPICommandConfig(raw)
			if err != nil {
				return nil, err
			}
			h, err := api.New(a.setpoints, a.display, cfg, lg)
			if err != nil {
				return nil, err
			}
			return h, nil
		}},
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// Addr returns the bound address, or nil when not running.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.srv == nil {
		return nil
	}
	return a.srv.Addr()
}

// Done is closed if the server stops on its own. It is nil when not running.
func (a *App) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.srv == nil {
		return nil
	}
	return a.srv.Done()
}

// Shutdown stops the server. Start may be called again afterwards.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.srv == nil {
		return nil
	}
	err := a.srv.Shutdown(ctx)
	a.srv = nil
	a.log.Info("File server stopped")
	return err
}
