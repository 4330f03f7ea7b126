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

	"github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/eyalp7/SyncSphere/config"
	"github.com/eyalp7/SyncSphere/internal/agent"
	"github.com/eyalp7/SyncSphere/internal/api/handler"
	"github.com/eyalp7/SyncSphere/internal/api/router"
	"github.com/eyalp7/SyncSphere/internal/cache"
	"github.com/eyalp7/SyncSphere/internal/filestore"
	"github.com/eyalp7/SyncSphere/internal/queue"
	"github.com/eyalp7/SyncSphere/internal/service"
	"github.com/eyalp7/SyncSphere/pkg/database"
	"github.com/eyalp7/SyncSphere/pkg/logger"
	"github.com/eyalp7/SyncSphere/pkg/observability"
	"github.com/eyalp7/SyncSphere/pkg/tlsutil"
)

var version = "dev"

func main() {
	cfgPath := pflag.StringP("config", "c", "", "config file (default: config.yaml, ./config/config.yaml)")
	pflag.Parse()

	if err := run(*cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, "regional:", err)
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

	db, err := database.InitDB(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close(db) }()

	var rdb *redis.Client
	if cfg.Agent.Queue == "redis" || cfg.Cache.FriendTTL > 0 {
		if rdb, err = newRedis(ctx, cfg.Redis); err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
	}
	q := newQueue(cfg, db, rdb)
	var friendCache *cache.FriendLists
	if cfg.Cache.FriendTTL > 0 {
		friendCache = cache.NewFriendLists(rdb, cfg.Cache.FriendTTL)
	}

	var tlsConf *tls.Config
	if !cfg.Agent.Plaintext {
		serverName := cfg.Agent.ServerName
		if serverName == "" {
			serverName = cfg.Agent.HubHost
		}
		if tlsConf, err = tlsutil.ClientConfig(serverName, cfg.Agent.CAFile, cfg.Agent.InsecureSkipVerify); err != nil {
			return err
		}
		if cfg.Agent.InsecureSkipVerify {
			logger.Warn("hub certificate verification disabled")
		}
	}

	files := filestore.New(cfg.Agent.UploadDir)
	ag := agent.New(agent.OptionsFromConfig(cfg.Agent, cfg.Wire, tlsConf), q, service.NewApplier(db, files).WithCache(friendCache))

	h := handler.New(handler.Options{
		Users:     service.NewUserService(db, q),
		Files:     service.NewFileService(db, q, files).WithMaxFrameBytes(cfg.Wire.MaxFrameBytes),
		Friends:   service.NewFriendService(db, q).WithCache(friendCache),
		Agent:     ag,
		JWTSecret: cfg.JWT.Secret,
		TokenTTL:  cfg.JWT.TTL,
		// base64 inflates content by 4/3 inside a frame
		MaxUpload: int64(cfg.Wire.MaxFrameBytes) / 4 * 3,
	})
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router.NewRegional(cfg, h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	p := pool.New().WithErrors().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		// 同步断开不影响本地服务，变更继续在队列中累积
		if err := ag.Run(ctx); err != nil {
			logger.Error("sync agent stopped", zap.Error(err))
		}
		return nil
	})
	p.Go(func(ctx context.Context) error {
		logger.Info("regional api listening", zap.String("addr", srv.Addr), zap.String("region", cfg.Agent.Region))
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

func newRedis(ctx context.Context, rc config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func newQueue(cfg *config.Config, db *gorm.DB, rdb *redis.Client) queue.Queue {
	switch cfg.Agent.Queue {
	case "redis":
		return queue.NewRedis(rdb, cfg.Agent.Region)
	case "outbox":
		return queue.NewOutbox(db)
	default:
		return queue.NewMemory()
	}
}
