// Package main is the entry point for the reseply virtual chef server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/haykal-fe-verd/reseply-sub001/internal/chat"
	"github.com/haykal-fe-verd/reseply-sub001/internal/config"
	"github.com/haykal-fe-verd/reseply-sub001/internal/logx"
	"github.com/haykal-fe-verd/reseply-sub001/internal/metrics"
	"github.com/haykal-fe-verd/reseply-sub001/internal/provider"
	"github.com/haykal-fe-verd/reseply-sub001/internal/ratelimit"
	"github.com/haykal-fe-verd/reseply-sub001/internal/server"
)

// CLI is the command line. Everything else comes from the config file and
// RESEPLY_* environment variables.
type CLI struct {
	Config    string `help:"Path to the YAML config file. A missing file is fine." default:"config.yaml" type:"path"`
	LogLevel  string `help:"Override log.level (trace, debug, info, warn, error)."`
	LogFormat string `help:"Override log.format (json or text)."`
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("reseply"),
		kong.Description("Virtual chef chat relay: streams a model's answer to the browser as it is generated."),
		kong.UsageOnError(),
	)

	if err := run(cli); err != nil {
		logx.Log.Fatal().Err(err).Msg("reseply stopped")
	}
}

func run(cli CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Log.Format = cli.LogFormat
	}
	logx.Configure(cfg.Log.Level, cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// No client timeout: a long answer can legitimately stream for
	// minutes. Request contexts bound every call instead.
	p, err := provider.New(cfg.Provider.Name, cfg.Provider.APIKey, cfg.Provider.BaseURL, cfg.Provider.Model, &http.Client{})
	if err != nil {
		return err
	}
	if cfg.Provider.APIKey == "" {
		logx.Log.Warn().Str("provider", p.Name()).Msg("provider API key is not set, chat requests will get 503")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec, err := metrics.NewRecorder(reg, p.Name())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := server.Deps{
		Chat: chat.NewHandler(chat.Options{
			APIKey:          cfg.Provider.APIKey,
			SystemPrompt:    cfg.Chat.SystemPrompt,
			Temperature:     cfg.Chat.Temperature,
			MaxOutputTokens: cfg.Chat.MaxOutputTokens,
			MaxBodyBytes:    cfg.Chat.MaxBodyBytes,
		}, p, logx.Log, rec),
		OnRateLimited: rec.ObserveRateLimited,
		Gatherer:      reg,
		Log:           logx.Log,
	}

	if cfg.RateLimit.RedisURL != "" {
		lim, err := ratelimit.NewRedisLimiter(ctx, cfg.RateLimit.RedisURL, cfg.RateLimit.Requests, cfg.RateLimit.Window)
		if err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		defer lim.Close()
		deps.Limiter = lim
		logx.Log.Info().
			Int("requests", cfg.RateLimit.Requests).
			Dur("window", cfg.RateLimit.Window).
			Msg("chat rate limit enabled")
	}

	// In-flight streams keep their context through a graceful shutdown and
	// are only cancelled, together with their provider calls, once the
	// grace period runs out.
	baseCtx, cancelInflight := context.WithCancel(context.Background())
	defer cancelInflight()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.New(cfg, deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		logx.Log.Info().
			Int("port", cfg.Server.Port).
			Str("provider", p.Name()).
			Str("model", cfg.Provider.Model).
			Msg("reseply listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logx.Log.Info().Dur("grace", cfg.Server.ShutdownTimeout).Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		cancelInflight()
		_ = httpServer.Close()
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
