package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/qiminjie89/chatsys/internal/cache"
	"github.com/qiminjie89/chatsys/internal/chat"
	"github.com/qiminjie89/chatsys/internal/event"
	"github.com/qiminjie89/chatsys/internal/presence"
	"github.com/qiminjie89/chatsys/internal/protocol"
	"github.com/qiminjie89/chatsys/internal/push"
	"github.com/qiminjie89/chatsys/internal/router"
	"github.com/qiminjie89/chatsys/internal/server"
	"github.com/qiminjie89/chatsys/internal/store"
	"github.com/qiminjie89/chatsys/pkg/auth"
	"github.com/qiminjie89/chatsys/pkg/config"
	"github.com/qiminjie89/chatsys/pkg/kafka"
	"github.com/qiminjie89/chatsys/pkg/logger"
)

func main() {
	// 解析命令行参数
	configPath := flag.String("config", "", "config file path (yaml)")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config failed:", err)
		os.Exit(1)
	}

	// 初始化日志
	if err := logger.Init(cfg.Log); err != nil {
		fmt.Fprintln(os.Stderr, "init logger failed:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting chat server",
		zap.String("config", *configPath),
		zap.String("id", cfg.Server.ID),
	)

	if err := run(cfg); err != nil {
		logger.Error("chat server exited", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(store.Options{
		WriteDSN:        cfg.Database.WriteDSN,
		ReadDSN:         cfg.Database.ReadDSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	c, redisCache, err := openCache(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	bus, err := openBus(cfg, redisCache)
	if err != nil {
		return err
	}
	defer bus.Close()

	signer, err := protocol.NewSigner(cfg.Auth.Secret, protocol.SignAlgorithm(cfg.Auth.Algorithm))
	if err != nil {
		return err
	}

	log := logger.L()
	registry := presence.NewRegistry()
	dist := push.NewDistributor(registry, cfg.Push.Shards, cfg.Push.QueueSize, logger.Named("push"))
	pusher := push.NewPusher(db, registry, dist, logger.Named("push"))

	routes := router.New(router.Options{AliasUnknown: cfg.Router.AliasUnknown})
	chat.NewService(chat.Config{
		Store:    db,
		Cache:    c,
		Events:   bus,
		Presence: registry,
		Logger:   logger.Named("chat"),
		Origin:   cfg.Server.ID,
	}).Register(routes)

	var admin *auth.JWTValidator
	if cfg.Auth.AdminJWTSecret != "" {
		admin = auth.NewJWTValidator(cfg.Auth.AdminJWTSecret)
	} else {
		log.Warn("admin jwt secret not set, push api disabled")
	}

	srv := server.New(cfg, signer, server.Deps{
		Routes:   routes,
		Presence: registry,
		Pusher:   pusher,
		Database: db,
		Cache:    c,
		Bus:      bus,
		Admin:    admin,
		Logger:   log,
	})

	dist.Start(ctx)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	// 等待退出信号
	<-ctx.Done()
	log.Info("received shutdown signal")
	srv.Stop()
	dist.Wait()
	return nil
}

// openCache 配置了 Redis 时使用 Redis，否则使用进程内缓存
func openCache(cfg *config.Config) (cache.Cache, *cache.RedisCache, error) {
	if cfg.Redis.URL == "" {
		logger.Info("using in-memory cache")
		return cache.NewMemory(cfg.Redis.MessageTTL), nil, nil
	}
	rc, err := cache.NewRedis(cfg.Redis.URL, cfg.Redis.MessageTTL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using redis cache")
	return rc, rc, nil
}

// openBus 依次选择 Kafka、Redis pub/sub、进程内总线
func openBus(cfg *config.Config, rc *cache.RedisCache) (event.Bus, error) {
	switch {
	case len(cfg.Kafka.Brokers) > 0:
		bus, err := event.NewKafkaBus(event.KafkaConfig{
			Producer: kafka.ProducerConfig{
				Brokers:      cfg.Kafka.Brokers,
				Topic:        cfg.Kafka.Topic,
				BatchSize:    cfg.Kafka.BatchSize,
				BatchTimeout: cfg.Kafka.BatchTimeout,
			},
			Consumer: kafka.ConsumerConfig{
				Brokers:       cfg.Kafka.Brokers,
				Topic:         cfg.Kafka.Topic,
				ConsumerGroup: cfg.Kafka.GroupID + "-" + cfg.Server.ID,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("kafka bus: %w", err)
		}
		logger.Info("using kafka event bus", zap.Strings("brokers", cfg.Kafka.Brokers))
		return bus, nil
	case rc != nil:
		logger.Info("using redis event bus")
		return event.NewRedisBus(rc.Client()), nil
	default:
		logger.Info("using local event bus")
		return event.NewLocalBus(cfg.Push.QueueSize), nil
	}
}
