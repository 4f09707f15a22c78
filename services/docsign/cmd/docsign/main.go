package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"docsign/internal/doclock"
	"docsign/internal/util"
	"docsign/pkg/compositor"
	"docsign/pkg/queue"
	"docsign/pkg/storage"
	"docsign/pkg/store"
	"docsign/services/docsign/internal/app"
	"docsign/services/docsign/internal/config"
	"docsign/services/docsign/internal/events"
	"docsign/services/docsign/internal/oauth"
	"docsign/services/docsign/internal/server"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("docsign exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.FileConfig) error {
	var rdb redis.UniversalClient
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
	}

	meta, closeMeta, err := openStore(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer closeMeta()

	blobs, err := openBlobs(cfg)
	if err != nil {
		return err
	}

	sessions, err := openSessions(cfg, rdb)
	if err != nil {
		return err
	}

	var locker doclock.Locker = doclock.NewMemoryLocker()
	var cleanup app.CleanupQueue
	if rdb != nil {
		redisLocker, err := doclock.NewRedisLocker(rdb, "")
		if err != nil {
			return fmt.Errorf("init document lock: %w", err)
		}
		locker = redisLocker
		q, err := queue.NewRedisCleanupQueue(queue.RedisQueueConfig{Client: rdb, Stream: cfg.CleanupStream})
		if err != nil {
			return fmt.Errorf("init cleanup queue: %w", err)
		}
		cleanup = q
	}

	var publisher events.Publisher = events.LogPublisher{}
	if cfg.AMQPURL != "" {
		amqpPublisher, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return fmt.Errorf("init events: %w", err)
		}
		publisher = amqpPublisher
	}

	blobTimeout, _ := config.ParseDuration("blobTimeout", cfg.BlobTimeout)
	lockTTL, _ := config.ParseDuration("lockTTL", cfg.LockTTL)
	appCore, err := app.New(app.Config{
		Store:    meta,
		Blobs:    blobs,
		Sessions: sessions,
		Locker:   locker,
		Cleanup:  cleanup,
		Events:   publisher,
		Compositor: compositor.New(compositor.Options{
			Scale:       cfg.SignatureScale,
			MaxImageDim: cfg.MaxSignatureDim,
		}),
		MaxUploadBytes: cfg.MaxUploadBytes,
		BlobTimeout:    blobTimeout,
		LockTTL:        lockTTL,
	})
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer appCore.Close()

	var google *oauth.Google
	if cfg.GoogleEnabled() {
		google, err = oauth.NewGoogle(oauth.GoogleConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		})
		if err != nil {
			return fmt.Errorf("init google login: %w", err)
		}
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return fmt.Errorf("parse trusted proxies: %w", err)
	}

	httpServer, err := server.New(server.Config{
		App:    appCore,
		Keys:   sessions,
		Google: google,
		Redis:  rdb,
		RateLimits: server.RateLimits{
			RegisterPerMinute: cfg.RegisterRateLimitPerMinute,
			LoginPerMinute:    cfg.LoginRateLimitPerMinute,
			UploadPerMinute:   cfg.UploadRateLimitPerMinute,
			SignPerMinute:     cfg.SignRateLimitPerMinute,
		},
		AllowedOrigins:       cfg.CORSAllowedOrigins,
		TrustedProxies:       trusted,
		CookieName:           cfg.SessionCookieName,
		CookieSecure:         cfg.SessionCookieSecure,
		OAuthSuccessRedirect: cfg.OAuthSuccessRedirect,
	})
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	if appCore.CleanupEnabled() {
		slog.Info("cleanup worker started", "concurrency", cfg.CleanupConcurrency)
		g.Go(func() error {
			appCore.RunCleanupWorker(gctx, cfg.CleanupConcurrency)
			return nil
		})
	}
	g.Go(func() error {
		slog.Info("docsign server listening", "addr", addr, "storage", cfg.StorageBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		slog.Info("docsign server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(dsn string) (store.Store, func(), error) {
	if strings.EqualFold(strings.TrimSpace(dsn), "memory") {
		slog.Warn("using in-memory metadata store; data is lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}
	s, err := store.NewGormStore(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return s, func() { _ = s.Close() }, nil
}

func openBlobs(cfg config.FileConfig) (storage.BlobStore, error) {
	switch cfg.StorageBackend {
	case "minio":
		s, err := storage.NewMinioStore(storage.MinioOptions{
			Endpoint:      cfg.MinioEndpoint,
			AccessKey:     cfg.MinioAccessKey,
			SecretKey:     cfg.MinioSecretKey,
			Bucket:        cfg.MinioBucket,
			UseSSL:        cfg.MinioUseSSL,
			PublicBaseURL: cfg.MinioPublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("open minio storage: %w", err)
		}
		return s, nil
	default:
		s, err := storage.NewFileStore(cfg.StorageDir)
		if err != nil {
			return nil, fmt.Errorf("open file storage: %w", err)
		}
		return s, nil
	}
}

func openSessions(cfg config.FileConfig, rdb redis.UniversalClient) (*store.JWTSessionStore, error) {
	ttl, _ := config.ParseDuration("sessionTTL", cfg.SessionTTL)
	leeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		return nil, err
	}
	verifyKeys, err := config.ParseVerifyPublicKeys(cfg.JWTVerifyPublicKeys)
	if err != nil {
		return nil, err
	}
	var revoker store.TokenRevoker = store.NewMemoryTokenRevoker()
	if rdb != nil {
		revoker = store.NewRedisTokenRevoker(rdb, "")
	}
	sessions, err := store.NewJWTSessionStoreFromPEM(cfg.JWTPrivateKeyPath, cfg.JWTKeyID, verifyKeys, ttl, revoker, store.JWTOptions{
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   leeway,
	})
	if err != nil {
		return nil, fmt.Errorf("init sessions: %w", err)
	}
	return sessions, nil
}
