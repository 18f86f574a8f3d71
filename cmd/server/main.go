package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"campuscoin/internal/cache"
	"campuscoin/internal/config"
	"campuscoin/internal/db"
	campusgrpc "campuscoin/internal/grpc"
	internalhttp "campuscoin/internal/http"
	"campuscoin/internal/jobs"
	"campuscoin/internal/logger"
	"campuscoin/internal/mail"
	"campuscoin/internal/metrics"
	"campuscoin/internal/notify"
	"campuscoin/internal/storage"
)

func main() {
	cfg := config.Load()
	logger.InitLogger(cfg.LogLevel)
	log := logger.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connection failed: %v", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, "up"); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}
	store := db.NewStore(pool)

	emitter := notify.NewEmitter()
	emitter.Subscribe(func(ev notify.Event) {
		log.WithField("type", ev.Type).WithField("user_id", ev.UserID).WithField("success", ev.Success).Debug("event")
	})
	deps := internalhttp.Deps{
		KV:       cache.NewMemory(),
		Notifier: emitter,
		Metrics:  metrics.New(),
		Mailer:   mail.Log{},
	}

	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			log.Fatalf("redis ping failed: %v", err)
		}
		cancel()
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Printf("redis close error: %v", err)
			}
		}()
		deps.KV = cache.NewRedis(redisClient)
		deps.Notifier = notify.Multi{emitter, notify.NewRedis(redisClient, cfg.NotifyChannel)}
	}

	if cfg.SMTPHost != "" {
		deps.Mailer = mail.SMTP{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		}
	}

	files, err := storage.New(ctx, storage.Options{
		Driver:          cfg.StorageDriver,
		Path:            cfg.StoragePath,
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		Prefix:          cfg.S3Prefix,
	})
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}
	deps.Files = files

	server := internalhttp.NewServer(cfg, store, deps)
	if err := server.EnsureSuperadmin(ctx); err != nil {
		log.Fatalf("superadmin bootstrap failed: %v", err)
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer, health, err := campusgrpc.NewServer(cfg.ServiceAuthToken)
	if err != nil {
		log.Fatalf("grpc server init failed: %v", err)
	}
	campusgrpc.Watch(ctx, health, pool, 15*time.Second)

	jobs.StartEventStatusJob(ctx, cfg, store.Queries, deps.Metrics)
	jobs.StartOrderExpiryJob(ctx, cfg, jobs.Orders{Store: store}, deps.Metrics)
	jobs.StartLimiterSweep(ctx, server.Limiter(), 5*time.Minute)

	go func() {
		log.Printf("campuscoin http listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	go func() {
		listener, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen error: %v", err)
		}
		log.Printf("campuscoin grpc health listening on %s", cfg.GRPCAddr)
		if err := grpcServer.Serve(listener); err != nil {
			log.Fatalf("grpc server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	grpcServer.GracefulStop()
}
