package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"im-chat/internal/auth"
	"im-chat/internal/config"
	"im-chat/internal/crypto"
	"im-chat/internal/handlers/chatserver"
	appKafka "im-chat/internal/kafka"
	"im-chat/internal/logger"
	"im-chat/internal/middleware"
	appRedis "im-chat/internal/redis"
	"im-chat/internal/services"
	"im-chat/internal/storage"
	"im-chat/internal/websocket"
)

func main() {
	// 1. 加载配置
	cfg, err := config.LoadConfig(os.Getenv("IM_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法加载配置: %v\n", err)
		os.Exit(1)
	}
	log := logger.Must(cfg.LogLevel, cfg.LogFormat).Named("chatserver")
	defer func() { _ = log.Sync() }()
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	// 2. 初始化数据库连接并迁移表结构
	db, err := storage.InitDB(cfg.Database, log)
	if err != nil {
		log.Fatal("无法初始化数据库", zap.Error(err))
	}
	if err := storage.AutoMigrateTables(db, log); err != nil {
		log.Fatal("数据库表迁移失败", zap.Error(err))
	}

	cipher, err := crypto.NewMessageCipher(cfg.Security.MessageEncryptionKey)
	if err != nil {
		log.Fatal("invalid message encryption key", zap.Error(err))
	}

	// 服务进程的生命周期，关闭时取消
	appCtx, cancelApp := context.WithCancel(context.Background())
	defer cancelApp()
	var workers sync.WaitGroup

	// 3. Redis：令牌黑名单与跨进程在线状态。未配置时在线状态只在本进程内统计。
	var (
		blacklist auth.TokenBlacklist
		presence  services.PresenceStore
		registry  *appRedis.PresenceRegistry
	)
	if cfg.Redis.Addr != "" {
		redisClient, err := appRedis.NewClient(cfg.Redis, log)
		if err != nil {
			log.Fatal("无法连接到 Redis", zap.Error(err))
		}
		defer redisClient.Close()
		blacklist = appRedis.NewTokenBlacklist(redisClient)
		registry = appRedis.NewPresenceRegistry(redisClient, cfg.Redis.PresenceTTL)
		presence = registry
	} else {
		log.Warn("redis disabled, presence is tracked per process")
	}
	verifier := auth.NewJWTVerifier(cfg.Auth, blacklist)

	// 4. Hub 实现本进程的事件发布
	hub := websocket.NewHub(log)
	publisher := services.PublisherFunc(hub.Emit)

	opTimeout := cfg.Database.OpTimeout
	userRepo := storage.NewGormUserRepository(db)
	groupRepo := storage.NewGormGroupRepository(db)
	msgRepo := storage.NewGormMessageRepository(db)

	conversationService := services.NewConversationService(db, storage.NewGormConversationRepository(db), userRepo, msgRepo, cipher, publisher, opTimeout, log)
	groupService := services.NewGroupService(db, groupRepo, userRepo, publisher, opTimeout, log)
	messageService := services.NewMessageService(db, msgRepo, groupRepo, conversationService, cipher, publisher, opTimeout, log)
	userService := services.NewUserService(db, userRepo, presence, opTimeout, log)

	// 5. 消费 apiserver 经 Kafka 发来的实时事件
	if cfg.Kafka.Enabled {
		outgoing := appKafka.NewConfluentKafkaConsumer(cfg.Kafka, log)
		workers.Add(1)
		go func() {
			defer workers.Done()
			defer outgoing.Close()
			topics := []string{cfg.Kafka.WebSocketOutgoingTopic}
			if err := outgoing.Consume(appCtx, topics, cfg.Kafka.OutgoingConsumerGroup, appKafka.OutgoingEventHandler(hub, log)); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Kafka 实时事件消费者错误", zap.Error(err))
			}
		}()
	} else {
		log.Warn("kafka disabled, events produced by the api server will not reach websocket clients")
	}

	if registry != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			refreshPresence(appCtx, hub, registry, cfg.Redis.PresenceTTL/2, log)
		}()
	}

	// 6. 设置路由
	wsHandler := chatserver.NewWebSocketHandler(appCtx, hub, verifier, messageService, conversationService, groupService, userService, cfg.WebSocket, log)
	r := mux.NewRouter()
	r.HandleFunc(cfg.Server.WebSocketPath, wsHandler.ServeWS).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"status":"ok","sessions":%d}`, hub.SessionCount())
	}).Methods(http.MethodGet)

	handler := handlers.RecoveryHandler(handlers.RecoveryLogger(zap.NewStdLog(log)), handlers.PrintRecoveryStack(true))(r)
	handler = middleware.AccessLog(log)(handler)

	// 7. 启动服务器；WebSocket 连接是长连接，不设置读写超时
	serverAddr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:           serverAddr,
		Handler:        handler,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		ErrorLog:       zap.NewStdLog(log),
	}

	go func() {
		log.Info("Chat 服务器启动", zap.String("addr", serverAddr), zap.String("path", cfg.Server.WebSocketPath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Chat 服务器启动失败", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("收到关闭信号，正在关闭 Chat 服务器...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		log.Error("Chat 服务器强制关闭", zap.Error(err))
	}
	// Shutdown 不会关闭被劫持的 WebSocket 连接
	hub.CloseAll()
	// 等待各会话写完离线状态和最后在线时间
	if err := hub.Drain(ctxShutdown); err != nil {
		log.Warn("未能等待所有会话结束", zap.Error(err))
	}

	cancelApp()
	workers.Wait()
	log.Info("Chat 服务器已成功关闭")
}

// refreshPresence 定期延长本进程在线用户的计数 TTL。
func refreshPresence(ctx context.Context, hub *websocket.Hub, registry *appRedis.PresenceRegistry, every time.Duration, log *zap.Logger) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, userID := range hub.ConnectedUsers() {
				if err := registry.Refresh(ctx, userID); err != nil {
					log.Warn("refresh presence failed", zap.Uint("userId", userID), zap.Error(err))
				}
			}
		}
	}
}
