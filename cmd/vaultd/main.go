package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"sessionvault/config"
	"sessionvault/core/events"
	"sessionvault/core/runtime"
	"sessionvault/native/vault"
	"sessionvault/observability/logging"
	"sessionvault/rpc"
	"sessionvault/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	if err := run(*configFile); err != nil {
		fmt.Fprintf(os.Stderr, "vaultd: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logOpts := []logging.Option{logging.WithLevel(cfg.LogLevel)}
	if cfg.LogFile != "" {
		logOpts = append(logOpts, logging.WithFile(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays))
	}
	logger := logging.Setup("vaultd", cfg.Environment, logOpts...)

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		return fmt.Errorf("open ledger database: %w", err)
	}
	defer db.Close()

	feed := events.NewFeed(cfg.EventBacklog)
	rt := runtime.New(db,
		runtime.WithEmitter(feed),
		runtime.WithLogger(logger),
		runtime.WithAirdrop(cfg.AllowAirdrop),
	)
	programID := cfg.Program()
	program, err := vault.New(programID)
	if err != nil {
		return fmt.Errorf("init vault program: %w", err)
	}
	if err := rt.Register(program); err != nil {
		return fmt.Errorf("register vault program: %w", err)
	}
	addrs := program.Addresses()

	server := rpc.NewServer(rt, feed, programID, rpc.WithLogger(logger))
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("vaultd listening",
			slog.String("addr", cfg.ListenAddress),
			slog.String("program", programID.String()),
			slog.String("config", addrs.Config.String()),
			slog.String("vault", addrs.Vault.String()),
			slog.Bool("airdrop", cfg.AllowAirdrop),
		)
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		logger.Info("vaultd shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
