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
	"go.uber.org/zap"

	"im-chat/internal/auth"
	"im-chat/internal/config"
	"im-chat/internal/crypto"
	"im-chat/internal/handlers/apiserver"
	appKafka "im-chat/internal/kafka"
	kafkahandlers "im-chat/internal/kafka/handlers"
	"im-chat/internal/logger"
	"im-chat/internal/middleware"
	appRedis "im-chat/internal/redis"
	"im-chat/internal/services"
	"im-chat/internal/storage"
)

func main() {
	// 1. 加载配置
	cfg, err := config.LoadConfig(os.Getenv("IM_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法加载配置: %v\n", err)
		os.Exit(1)
	}
	log := logger.Must(cfg.LogLevel, cfg.LogFormat).Named("apiserver")
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

	// 3. Redis：令牌黑名单。未配置地址时登出不吊销令牌。
	var blacklist auth.TokenBlacklist
	if cfg.Redis.Addr != "" {
		redisClient, err := appRedis.NewClient(cfg.Redis, log)
		if err != nil {
			log.Fatal("无法连接到 Redis", zap.Error(err))
		}
		defer redisClient.Close()
		blacklist = appRedis.NewTokenBlacklist(redisClient)
	} else {
		log.Warn("redis disabled, logout will not revoke tokens")
	}
	verifier := auth.NewJWTVerifier(cfg.Auth, blacklist)

	// 4. Kafka：好友请求和发往 chatserver 的实时事件
	var (
		producer  appKafka.MessageProducer
		publisher services.EventPublisher
	)
	if cfg.Kafka.Enabled {
		producer, err = appKafka.NewConfluentKafkaProducer(cfg.Kafka, log)
		if err != nil {
			log.Fatal("无法创建 Kafka 生产者", zap.Error(err))
		}
		defer producer.Close()
		publisher = appKafka.NewEventBridge(producer, cfg.Kafka.WebSocketOutgoingTopic, log)
	} else {
		log.Warn("kafka disabled, friend requests are processed inline and realtime events are dropped")
	}

	// 5. 初始化 Repositories 和 Services
	opTimeout := cfg.Database.OpTimeout
	userRepo := storage.NewGormUserRepository(db)
	convoRepo := storage.NewGormConversationRepository(db)
	groupRepo := storage.NewGormGroupRepository(db)
	msgRepo := storage.NewGormMessageRepository(db)

	conversationService := services.NewConversationService(db, convoRepo, userRepo, msgRepo, cipher, publisher, opTimeout, log)
	groupService := services.NewGroupService(db, groupRepo, userRepo, publisher, opTimeout, log)
	messageService := services.NewMessageService(db, msgRepo, groupRepo, conversationService, cipher, publisher, opTimeout, log)
	userService := services.NewUserService(db, userRepo, nil, opTimeout, log)
	authService := services.NewAuthService(db, userRepo, verifier, cfg.Auth, opTimeout, log)
	friendReqService := services.NewFriendRequestService(db, userRepo,
		storage.NewGormFriendRequestRepository(db), storage.NewGormFriendshipRepository(db),
		conversationService, producer, cfg.Kafka.FriendRequestTopic, publisher, opTimeout, log)

	// 6. 设置 HTTP 路由
	router := apiserver.NewRouter(apiserver.Handlers{
		Auth:          apiserver.NewAuthHandler(authService, log),
		Users:         apiserver.NewUserHandler(userService, cfg.Pagination, log),
		Conversations: apiserver.NewConversationHandler(conversationService, messageService, cfg.Pagination, log),
		Messages:      apiserver.NewMessageHandler(messageService, cfg.Pagination, log),
		Groups:        apiserver.NewGroupHandler(groupService, cfg.Pagination, log),
		Friends:       apiserver.NewFriendRequestHandler(friendReqService, log),
	}, middleware.AuthMiddleware(verifier, log))

	// 7. 好友请求消费者
	consumerCtx, cancelConsumers := context.WithCancel(context.Background())
	defer cancelConsumers()
	var consumers sync.WaitGroup
	if cfg.Kafka.Enabled {
		friendReqConsumer := appKafka.NewConfluentKafkaConsumer(cfg.Kafka, log)
		consumerLogic := kafkahandlers.NewFriendRequestConsumerLogic(friendReqService, log)
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			defer friendReqConsumer.Close()
			topics := []string{cfg.Kafka.FriendRequestTopic}
			if err := friendReqConsumer.Consume(consumerCtx, topics, cfg.Kafka.ConsumerGroup, consumerLogic.HandleFriendRequest); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Kafka 好友请求消费者错误", zap.Error(err))
			}
		}()
	}

	// 8. 启动 HTTP 服务器并实现优雅关闭
	corsOptions := []handlers.CORSOption{
		handlers.AllowedOrigins(cfg.APIServer.CORS.AllowedOrigins),
		handlers.AllowedMethods(cfg.APIServer.CORS.AllowedMethods),
		handlers.AllowedHeaders(cfg.APIServer.CORS.AllowedHeaders),
		handlers.ExposedHeaders(cfg.APIServer.CORS.ExposedHeaders),
		handlers.MaxAge(cfg.APIServer.CORS.MaxAge),
	}
	if cfg.APIServer.CORS.AllowCredentials {
		corsOptions = append(corsOptions, handlers.AllowCredentials())
	}
	handler := handlers.CORS(corsOptions...)(router)
	handler = handlers.RecoveryHandler(handlers.RecoveryLogger(zap.NewStdLog(log)), handlers.PrintRecoveryStack(true))(handler)
	handler = middleware.AccessLog(log)(handler)

	serverAddr := fmt.Sprintf("%s:%s", cfg.APIServer.Host, cfg.APIServer.Port)
	srv := &http.Server{
		Addr:           serverAddr,
		Handler:        handler,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		IdleTimeout:    60 * time.Second,
		ErrorLog:       zap.NewStdLog(log),
	}

	go func() {
		log.Info("API 服务器启动", zap.String("addr", serverAddr), zap.Bool("kafka", cfg.Kafka.Enabled))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("API 服务器启动失败", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("收到关闭信号，正在关闭 API 服务器...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		log.Error("API 服务器强制关闭", zap.Error(err))
	}

	cancelConsumers()
	consumers.Wait()
	log.Info("API 服务器已成功关闭")
}
