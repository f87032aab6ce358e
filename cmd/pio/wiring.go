package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"github.com/ajkula/GoPIO/adapter/inbound/rest"
	"github.com/ajkula/GoPIO/adapter/inbound/websocket"
	"github.com/ajkula/GoPIO/adapter/outbound/filewatcher"
	"github.com/ajkula/GoPIO/adapter/outbound/logging"
	"github.com/ajkula/GoPIO/adapter/outbound/machineid"
	"github.com/ajkula/GoPIO/adapter/outbound/orchestrator"
	"github.com/ajkula/GoPIO/config"
	"github.com/ajkula/GoPIO/domain/port/inbound"
	"github.com/ajkula/GoPIO/domain/port/outbound"
	"github.com/ajkula/GoPIO/domain/service"
)

type environment struct {
	cfg    *config.Config
	logger outbound.ManagedLogger
}

func (e *environment) close() {
	e.logger.Shutdown()
}

// setup loads the configuration, applies the global flags and starts the logger
func (a *app) setup() (*environment, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	if a.verbose {
		cfg.General.Verbose = true
	}
	if a.debug {
		cfg.General.LogLevel = "debug"
	}

	logger, err := logging.NewSlogAdapter(cfg)
	if err != nil {
		return nil, err
	}
	logger.Debug("Configuration loaded", "path", a.configPath, "workspace", cfg.General.Workspace)
	return &environment{cfg: cfg, logger: logger}, nil
}

// loadConfig falls back to the defaults when the default config file is absent
func (a *app) loadConfig() (*config.Config, error) {
	if !a.configSet {
		if _, err := os.Stat(a.configPath); errors.Is(err, fs.ErrNotExist) {
			cfg := config.DefaultConfig()
			cfg.ApplyEnv()
			return cfg, cfg.Validate()
		}
	}
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	return cfg, nil
}

func newOrchestrator(cfg *config.Config, logger outbound.Logger) (*orchestrator.Client, error) {
	tokens, err := newTokenIssuer(cfg, logger)
	if err != nil {
		return nil, err
	}

	switch cfg.Orchestrator.Transport {
	case "grpc":
		return orchestrator.NewGRPCClient(cfg.Orchestrator.Endpoint, tokens, logger)
	default:
		return orchestrator.NewHTTPClient(cfg.Orchestrator.Endpoint, tokens, cfg.Orchestrator.H2C, logger)
	}
}

// newTokenIssuer returns nil when no profile secret is configured
func newTokenIssuer(cfg *config.Config, logger outbound.Logger) (*orchestrator.TokenIssuer, error) {
	if cfg.Orchestrator.Secret == "" {
		logger.Warn("No profile secret configured, engine requests are unauthenticated", "env", config.SecretEnv)
		return nil, nil
	}
	subject, err := machineid.NewHardwareMachineID().GetMachineID()
	if err != nil {
		return nil, err
	}
	return orchestrator.NewTokenIssuer(cfg.Orchestrator.Secret, subject, cfg.Orchestrator.TokenTTL)
}

func spinOptions(cfg *config.Config) service.SpinOptions {
	return service.SpinOptions{
		ShortlistInterval: cfg.Spin.ShortlistInterval,
		CompleteInterval:  cfg.Spin.CompleteInterval,
		QuietWindow:       cfg.Spin.QuietWindow,
		StatConcurrency:   cfg.Spin.StatConcurrency,
		UploadConcurrency: cfg.Spin.UploadConcurrency,
		CallTimeout:       cfg.Spin.CallTimeout,
		RemoteRoot:        cfg.Spin.RemoteRoot,
		Denylist:          cfg.Spin.Denylist,
		HashShortlist:     cfg.Spin.HashShortlist,
		MaxAttempts:       cfg.Spin.MaxAttempts,
		Verbose:           cfg.General.Verbose,
	}
}

func hintFactory(cfg *config.Config) service.HintWatcherFactory {
	if !cfg.Spin.FSHints {
		return nil
	}
	debounce := cfg.Spin.HintDebounce
	return func() (outbound.FileWatcher, error) {
		watcher, err := filewatcher.NewFSWatcher(debounce)
		if err != nil {
			return nil, err
		}
		return watcher, nil
	}
}

// startDiagnostics serves the status API and the flush stream until the
// returned func is called
func startDiagnostics(cfg *config.Config, spin inbound.SpinService, logger outbound.Logger) func() {
	router := mux.NewRouter()
	rest.NewHandler(spin, logger).SetupRoutes(router)

	wsHandler := websocket.NewHandler(spin, logger)
	router.HandleFunc("/api/spin/events", wsHandler.HandleConnection)

	addr := fmt.Sprintf("%s:%d", cfg.Diagnostics.Address, cfg.Diagnostics.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Diagnostics server listening", "address", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Diagnostics server error", "error", err)
		}
	}()

	return func() {
		// hijacked websocket connections are not tracked by Shutdown
		wsHandler.Cleanup()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Warn("Diagnostics server shutdown failed", "error", err)
		}
	}
}

type nopLogger struct{}

func (nopLogger) Error(msg string, args ...any) {}
func (nopLogger) Warn(msg string, args ...any)  {}
func (nopLogger) Info(msg string, args ...any)  {}
func (nopLogger) Debug(msg string, args ...any) {}
