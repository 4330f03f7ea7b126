package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/eyalp7/SyncSphere/config"
	"github.com/eyalp7/SyncSphere/internal/api/handler"
	"github.com/eyalp7/SyncSphere/internal/api/router"
	"github.com/eyalp7/SyncSphere/internal/hub"
	"github.com/eyalp7/SyncSphere/pkg/logger"
	"github.com/eyalp7/SyncSphere/pkg/observability"
	"github.com/eyalp7/SyncSphere/pkg/tlsutil"
)

var version = "dev"

func main() {
	cfgPath := pflag.StringP("config", "c", "", "config file (default: config.yaml, ./config/config.yaml)")
	pflag.Parse()

	if err := run(*cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, "hub:", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	if cfgPath == "" {
		cfgPath = os.Getenv(config.EnvPrefix + "_CONFIG")
	}
	cfg, err := config.LoadFile(cfgPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	flush, err := observability.InitSentry(cfg.Sentry, version)
	if err != nil {
		return err
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	var tlsConf *tls.Config
	if cfg.Hub.TLSEnabled() {
		if tlsConf, err = tlsutil.ServerConfig(cfg.Hub.CertFile, cfg.Hub.KeyFile); err != nil {
			return err
		}
	} else {
		logger.Warn("no certificate configured, hub accepts plaintext connections")
	}

	h := hub.New(hub.OptionsFromConfig(cfg.Hub, cfg.Wire, tlsConf))
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router.NewHub(cfg, handler.NewHubHandler(h)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	p := pool.New().WithErrors().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		return h.ListenAndServe(ctx, cfg.Hub.ListenAddr())
	})
	p.Go(func(ctx context.Context) error {
		logger.Info("admin api listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	p.Go(func(ctx context.Context) error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return p.Wait()
}
