package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"aetherCollab/backend/internal/auth"
	"aetherCollab/backend/internal/cache"
	"aetherCollab/backend/internal/collab"
	"aetherCollab/backend/internal/httpapi/handlers"
	"aetherCollab/backend/internal/httpapi/middleware"
	"aetherCollab/backend/internal/presence"
	"aetherCollab/backend/internal/store"
	"aetherCollab/backend/internal/ws"
)

type CollabConfig struct {
	Running struct {
		Port int `mapstructure:"Port"`
	} `mapstructure:"Running"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"Mysql"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
	} `mapstructure:"Redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"Kafka"`
	Auth struct {
		JWTSecret      string `mapstructure:"jwtSecret"`
		AccessTTLMin   int    `mapstructure:"accessTtlMinutes"`
		RefreshTTLHour int    `mapstructure:"refreshTtlHours"`
	} `mapstructure:"Auth"`
	Collab struct {
		StoreTimeoutMs int `mapstructure:"storeTimeoutMs"`
		RecentWindow   int `mapstructure:"recentWindow"`
	} `mapstructure:"Collab"`
}

func initConfig() (*CollabConfig, error) {
	cfg := &CollabConfig{}
	v := viper.New()
	v.SetConfigName("collabConfig")
	v.SetConfigType("yaml")
	// 兼容从项目根目录或 backend 目录启动
	v.AddConfigPath("./backend/config")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	cfg, err := initConfig()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}

	// === MySQL ===
	db, err := store.InitMySQL(cfg.Mysql.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	st, err := store.NewMySQLStore(db)
	if err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// === Redis（可选，缺了只影响跨实例的在线状态共享） ===
	var presenceCache cache.PresenceCache
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Printf("redis unavailable, presence mirror disabled: %v", err)
	} else {
		presenceCache = cache.NewRedisPresence(rdb)
		defer rdb.Close()
	}

	// === Kafka Producer ===
	kafkaCfg := sarama.NewConfig()
	// SyncProducer 必须开启 Return.Successes
	kafkaCfg.Producer.Return.Successes = true
	kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	var producer sarama.SyncProducer
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err = sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
		if err != nil {
			log.Fatalf("Failed to connect kafka: %v", err)
		}
		defer producer.Close()
	}

	kafkaSem := collab.NewSemaphoreControl(100)
	wsSem := collab.NewSemaphoreControl(100)

	// Kafka 本地队列 + worker 重试发送
	dispatcher := collab.NewKafkaDispatcher(producer, cfg.Kafka.Topic, kafkaSem,
		collab.KafkaDispatcherOptions{
			QueueSize:   10_000,
			Workers:     4,
			MaxRetry:    3,
			BaseBackoff: 50 * time.Millisecond,
			MaxBackoff:  1 * time.Second,
		})

	// === 在线状态 ===
	tracker := presence.NewTracker(5*time.Minute, 30*time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tracker.Run(ctx, time.Minute)

	// === 协作引擎 ===
	mgr := collab.NewManager(st, collab.NewLastWriteWinsResolver(), collab.ManagerOptions{
		StoreTimeout: time.Duration(cfg.Collab.StoreTimeoutMs) * time.Millisecond,
		RecentWindow: cfg.Collab.RecentWindow,
	})
	mgr.SetPresence(tracker)
	mgr.AddNotifier(dispatcher)

	hub := ws.NewHub()
	mgr.AddNotifier(hub)

	tokens := auth.NewTokenService(cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.AccessTTLMin)*time.Minute,
		time.Duration(cfg.Auth.RefreshTTLHour)*time.Hour)

	wsManager := ws.NewManager(hub, mgr, tracker, presenceCache, wsSem)
	docHandler := handlers.NewDocumentHandler(mgr, tracker)
	authHandler := handlers.NewAuthHandler(st, tokens)

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(cors.New(cors.Config{
		// 允许任意来源（包含 file:// 场景的 Origin: null）
		AllowOriginFunc: func(origin string) bool { return true },
		AllowMethods:    []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization", "docid", "docId", "doc_id"},
		ExposeHeaders:   []string{"Content-Length"},
	}))

	v1 := r.Group("/v1/auth")
	v1.POST("/register", authHandler.Register)
	v1.POST("/login", authHandler.Login)
	v1.POST("/refresh", authHandler.Refresh)
	v1.POST("/verify", authHandler.Verify)

	cg := r.Group("/collab")
	cg.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "ok"})
	})
	cg.Use(middleware.AuthMiddleware(tokens))
	cg.GET("/ws", wsManager.WebSocketConnect)
	cg.POST("/documents/:docID/operations", docHandler.SubmitOperation)
	cg.GET("/documents/:docID", docHandler.GetDocument)
	cg.POST("/documents/:docID/presence", docHandler.PresencePing)
	cg.POST("/documents/:docID/snapshots", docHandler.CreateSnapshot)

	_ = r.Run(fmt.Sprintf(":%d", cfg.Running.Port))
}
