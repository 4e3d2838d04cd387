package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goRefresh "github.com/MrEthical07/goRefresh"
	"github.com/MrEthical07/goRefresh/audit/natsaudit"
	"github.com/MrEthical07/goRefresh/internal/logger"
	promexport "github.com/MrEthical07/goRefresh/metrics/export/prometheus"
	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "refresh-opsd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	env, err := goRefresh.LoadConfigFromEnv(".env")
	if err != nil {
		return err
	}

	log, err := logger.New(env.LogLevel, env.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	// Without REDIS_ADDR the daemon runs against an embedded store so it can
	// be tried locally.
	if len(env.RedisAddrs) == 0 {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start embedded redis: %w", err)
		}
		defer mr.Close()
		env.RedisAddrs = []string{mr.Addr()}
		log.Warn("REDIS_ADDR not set; using embedded redis", zap.String("addr", mr.Addr()))
	}

	cfg, err := env.Config()
	if err != nil {
		return err
	}

	b := goRefresh.New().WithConfig(cfg).WithLogger(log)

	if env.NATSURL != "" {
		sink, drain, err := natsaudit.Connect(env.NATSURL, env.NATSAuditSubject, log)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer drain()
		b = b.WithAuditSink(sink)
		log.Info("audit events published to nats", zap.String("subject", sink.Subject()))
	} else {
		b = b.WithAuditSink(goRefresh.NewLogSink(log))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := b.BuildContext(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	exporter, err := promexport.NewExporter(svc)
	if err != nil {
		return err
	}
	ops, err := newOpsServer(svc, exporter.Registry(), log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              env.OpsListenAddr,
		Handler:           ops.routes(exporter.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting ops server",
			zap.String("addr", env.OpsListenAddr),
			zap.String("backend", svc.Backend()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	log.Info("shutting down ops server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
