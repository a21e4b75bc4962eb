package authorityd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"sessionvault/observability/logging"
	telemetry "sessionvault/observability/otel"
	"sessionvault/rpc"
)

// Main initialises and runs the authority daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/authorityd/config.yaml", "path to authorityd configuration")
	flag.Parse()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logOpts := []logging.Option{logging.WithLevel(cfg.Log.Level)}
	if cfg.Log.File != "" {
		logOpts = append(logOpts, logging.WithFile(cfg.Log.File, 100, 5, 28))
	}
	logger := logging.Setup("authorityd", cfg.Environment, logOpts...)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv("authorityd", cfg.Environment))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	program, err := cfg.Program()
	if err != nil {
		return fmt.Errorf("program id: %w", err)
	}
	signer, err := cfg.Authority.Keypair()
	if err != nil {
		return fmt.Errorf("load authority key: %w", err)
	}
	store, err := OpenStore(cfg.Database)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ledger := rpc.NewClient(cfg.Ledger.Endpoint, &http.Client{
		Timeout:   cfg.Ledger.Timeout.Duration,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	})
	policy := Policy{
		Expiry:         cfg.Authorization.Expiry.Duration,
		PlayerInterval: cfg.Authorization.PlayerInterval.Duration,
		TierCaps:       cfg.Authorization.TierCaps,
	}
	authorizer, err := NewAuthorizer(ledger, store, signer, program, policy, WithAuthorizerLogger(logger))
	if err != nil {
		return err
	}
	auth, err := NewAuthenticator(cfg.API.Secret, cfg.API.JWTIssuer)
	if err != nil {
		return err
	}
	limiter := NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
	server := NewServer(authorizer, auth, limiter, logger)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           otelhttp.NewHandler(server.Handler(), "authorityd"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("authorityd listening",
			slog.String("addr", cfg.ListenAddress),
			slog.String("authority", signer.PublicKey().String()),
			slog.String("program", program.String()),
		)
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
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
