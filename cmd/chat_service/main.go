package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"trackus_chat/internal/chat/app"
	"trackus_chat/internal/chat/repository"
	"trackus_chat/internal/chat/repository/memory"
	"trackus_chat/internal/chat/router"
	"trackus_chat/pkg/config"
	"trackus_chat/pkg/database"
	"trackus_chat/pkg/logger"
	testtool "trackus_chat/pkg/test_tool"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	fiber_log "github.com/gofiber/fiber/v2/middleware/logger"
	"go.uber.org/zap"
)

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.ChatService, config.EnvConfig.ChatServiceLogPath)
	defer logger.Log.Sync()
	logger.Log.SetDebugMode(config.IsLocal())
	cfg := config.LoadConfig[config.Chat](config.EnvConfig.ChatService, config.EnvConfig.ChatServiceYAMLPath)
	testtool.StartPprof()

	ctx := context.Background()
	deps := app.HandlerDeps{
		BadgeFor:      app.LogBadgeSink,
		CascadeDelete: cfg.Sync.CascadeDelete,
		Location:      cfg.Sync.Location(),
	}

	// 1. 文件儲存: 沒有設定 mongo host 時使用 in-process store (本機開發)
	if cfg.Mongo.Host == "" {
		logger.Log.Warn("mongo host not configured, using in-memory chat store")
		store := memory.New()
		deps.Rooms, deps.Messages, deps.Profiles = store, store, store
	} else {
		mongo := connectMongo(ctx, cfg.Mongo)
		defer mongo.Close(ctx)
		deps.Rooms = repository.NewMongoChatRoomRepository(mongo.Database, cfg.Sync.PollInterval)
		deps.Messages = repository.NewMongoChatMessageRepository(mongo.Database, cfg.Sync.PollInterval)
		deps.Profiles = repository.NewMongoProfileRepository(mongo.Database, cfg.Sync.PollInterval)
	}

	// 2. 圖片附件 (MinIO)
	if cfg.MinIO.Endpoint != "" {
		minioClient, err := database.NewMinIOConnection(database.MinIOConnection{
			Endpoint:      cfg.MinIO.Endpoint,
			User:          cfg.MinIO.User,
			Password:      cfg.MinIO.Password,
			BucketName:    cfg.MinIO.BucketName,
			UseSSL:        cfg.MinIO.UseSSL,
			RetryCount:    cfg.MinIO.RetryCount,
			RetryInterval: time.Duration(cfg.MinIO.RetryInterval) * time.Second,
		})
		if err != nil {
			logger.Log.Fatal("Unable to connect to MinIO", zap.String("endpoint", cfg.MinIO.Endpoint), zap.Error(err))
		}
		deps.Attachments = repository.NewMinIOAttachmentRepository(minioClient)
	}

	// 3. 推播
	push, closePush := newPushDispatcher(cfg)
	defer closePush()
	deps.Push = push

	// 4. 啟動 Fiber
	r := fiber.New()
	file, err := os.OpenFile(fmt.Sprintf("%s/access.log", config.EnvConfig.ChatServiceLogPath), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer file.Close()

	r.Use(fiber_log.New(fiber_log.Config{
		Output: file, // 将日志输出到文件
	}))

	router.RegisterRoutes(r, app.NewChatWebsocketHandler(deps))

	port := ":" + cfg.Port
	if config.EnvConfig.ChatServicePort != "" {
		port = ":" + config.EnvConfig.ChatServicePort
	}
	logger.Log.Info("Chat Service listening", zap.String("port", port))
	if err := r.Listen(port); err != nil {
		logger.Log.Fatal("Failed to start Fiber", zap.Error(err))
	}
}

func connectMongo(ctx context.Context, c config.DatabaseConfig) *database.MongoDB {
	uri := fmt.Sprintf("mongodb://%s:%d", c.Host, c.Port)
	if c.User != "" {
		uri = fmt.Sprintf("mongodb://%s:%s@%s:%d", c.User, c.Password, c.Host, c.Port)
	}
	mongo, err := database.NewMongoDB(ctx,
		database.Connection{
			ConnectStr:    uri,
			RetryCount:    c.RetryCount,
			RetryInterval: time.Duration(c.RetryInterval) * time.Second,
		},
		c.Database)
	if err != nil {
		logger.Log.Fatal(
			"Unable to connect to mongoDB database after retries",
			zap.String("host", c.Host),
			zap.Error(err),
		)
	}
	return mongo
}

// newPushDispatcher picks the push transport from config
func newPushDispatcher(cfg config.Chat) (repository.PushDispatcher, func()) {
	retry := time.Duration(cfg.Push.RetryInterval) * time.Second

	switch cfg.Push.Driver {
	case config.PushDriverRedis:
		var (
			client *redis.Client
			err    error
		)
		if cfg.Redis.Addr != "" {
			client, err = database.NewRedisClientAddr(cfg.Redis.Addr, cfg.Redis.RedisDB)
		} else {
			masterName, sentinel := config.GetRedisSetting()
			client, err = database.NewRedisClient(masterName, sentinel, cfg.Redis.RedisDB)
		}
		if err != nil {
			logger.Log.Fatal("connect redis failed", zap.Error(err))
		}
		return repository.NewRedisPubSub(client, cfg.Push.Channel), func() { _ = client.Close() }

	case config.PushDriverRabbitMQ:
		conn, err := database.ConnectRabbitMQWithRetry(database.Connection{
			ConnectStr:    cfg.Push.URL,
			RetryCount:    cfg.Push.RetryCount,
			RetryInterval: retry,
		})
		if err != nil {
			logger.Log.Fatal("connect rabbitmq failed", zap.Error(err))
		}
		ch, err := database.GetRabbitMQChannelWithRetry(conn, cfg.Push.RetryCount, retry)
		if err != nil {
			logger.Log.Fatal("open rabbitmq channel failed", zap.Error(err))
		}
		rabbit := database.NewRabbitRepository(ch)
		dispatcher, err := repository.NewRabbitDispatcher(rabbit, cfg.Push.Channel)
		if err != nil {
			logger.Log.Fatal("declare push queue failed", zap.Error(err))
		}
		return dispatcher, func() {
			_ = rabbit.Close()
			_ = conn.Close()
		}

	case config.PushDriverKafka:
		writer, err := database.NewKafkaWriterWithRetry(database.KafkaConnection{
			Brokers:       cfg.Push.Brokers,
			Topic:         cfg.Push.Channel,
			RetryCount:    cfg.Push.RetryCount,
			RetryInterval: retry,
		})
		if err != nil {
			logger.Log.Fatal("connect kafka failed", zap.Error(err))
		}
		return repository.NewKafkaDispatcher(writer), func() { _ = writer.Close() }

	default:
		logger.Log.Info("push dispatch disabled", zap.String("driver", string(cfg.Push.Driver)))
		return repository.NoopDispatcher{}, func() {}
	}
}
