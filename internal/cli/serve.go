package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgeene/parallel-appium/internal/backend"
	"github.com/dgeene/parallel-appium/internal/config"
	"github.com/dgeene/parallel-appium/internal/gateway"
	"github.com/dgeene/parallel-appium/internal/logger"
	"github.com/dgeene/parallel-appium/internal/portpool"
	"github.com/dgeene/parallel-appium/internal/proxy"
	"github.com/dgeene/parallel-appium/internal/registry"
)

const readHeaderTimeout = 10 * time.Second

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			return runServe(cmd, cfg)
		},
	}
	// Flags must be registered at construction time: cobra parses os.Args
	// against this FlagSet before RunE runs, so anything added from inside
	// RunE is too late to be recognized on the command line.
	if err := config.BindFlags(cmd.Flags(), v); err != nil {
		panic(fmt.Sprintf("cli: binding serve flags: %v", err))
	}
	return cmd
}

func runServe(cmd *cobra.Command, cfg config.Config) error {
	if err := logger.Initialize(logger.Options{
		Debug:   cfg.Debug,
		LogFile: filepath.Join(cfg.LogDir, "appium_hub.log"),
	}); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	pool := portpool.New(cfg.AppiumPortStart, cfg.AppiumPortEnd)

	factory := func(sessionID string, port int) registry.Supervisor {
		logPath := filepath.Join(cfg.LogDir, fmt.Sprintf("appium_server_%s_%d.log", sessionID, port))
		return backend.New(backend.Config{
			Bin:       cfg.BackendBin,
			Host:      "127.0.0.1",
			Port:      port,
			LogPath:   logPath,
			SessionID: sessionID,
		})
	}

	reg := registry.New(registry.Config{
		Pool:             pool,
		MaxSessions:      cfg.MaxSessions,
		SessionTimeout:   cfg.SessionTimeout,
		StartTimeout:     30 * time.Second,
		EvictionInterval: 60 * time.Second,
		Factory:          factory,
	})

	gw := gateway.New(reg, proxy.New(), Version)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              addr,
		Handler:           gw.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("apiumhubd: listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Infof("apiumhubd: shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	reg.Stop()
	reg.ShutdownAll(context.Background())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Infof("apiumhubd: shutdown complete")
	return nil
}
