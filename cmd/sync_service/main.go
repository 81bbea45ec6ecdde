package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"study_sync_service/internal/session/app"
	"study_sync_service/internal/session/repository"
	"study_sync_service/internal/session/router"
	"study_sync_service/pkg/config"
	"study_sync_service/pkg/database"
	"study_sync_service/pkg/logger"

	"github.com/gofiber/fiber/v2"
	fiber_log "github.com/gofiber/fiber/v2/middleware/logger"
	"go.uber.org/zap"
)

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.SyncService, config.EnvConfig.SyncServiceLogPath)
	cfg := config.LoadConfig[config.Sync](config.EnvConfig.SyncService, config.EnvConfig.SyncServiceYAMLPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// redis carries the room registry, presence and the pub/sub channels
	masterName, sentinel := config.GetRedisSetting()
	redisClient, err := database.NewRedisClient(masterName, sentinel, cfg.Redis.RedisDB)
	if err != nil {
		logger.Log.Fatal(fmt.Sprintf("connect redis err : %v", err))
	}

	// kafka carries room expiry notifications across instances
	kafkaConn := database.KafkaConnection{
		Brokers:       cfg.Kafka.Brokers,
		Topic:         cfg.Kafka.Topic,
		GroupID:       cfg.Kafka.GroupID,
		RetryCount:    cfg.Kafka.RetryCount,
		RetryInterval: time.Duration(cfg.Kafka.RetryInterval),
	}
	kafkaWriter, err := database.NewKafkaWriterWithRetry(kafkaConn)
	if err != nil {
		logger.Log.Fatal("connect kafka failed", zap.Error(err))
	}
	defer kafkaWriter.Close()
	kafkaReader := database.NewKafkaReader(kafkaConn)
	defer kafkaReader.Close()

	// minio stores the shared study documents
	minioClient, err := database.NewMinIOConnection(database.MinIOConnection{
		Endpoint:      cfg.MinIO.Endpoint,
		User:          cfg.MinIO.User,
		Password:      cfg.MinIO.Password,
		BucketName:    cfg.MinIO.Bucket,
		UseSSL:        cfg.MinIO.UseSSL,
		RetryCount:    cfg.MinIO.RetryCount,
		RetryInterval: time.Duration(cfg.MinIO.RetryInterval),
	})
	if err != nil {
		logger.Log.Fatal("connect minio failed", zap.Error(err))
	}

	roomRepo := repository.NewRedisRoomRepository(redisClient)
	docRepo := repository.NewMinioDocRepository(minioClient)
	expiryFeed := repository.NewKafkaExpiryFeed(kafkaWriter, kafkaReader)

	roomUC := app.NewRoomUseCase(roomRepo, docRepo, expiryFeed, cfg.Room.TTL)
	registry := app.NewEngineRegistry()

	go app.NewRoomSweeper(roomUC, cfg.Room.SweepInterval).Run(ctx)
	go app.NewRevocationWatcher(expiryFeed, registry).Run(ctx)

	r := fiber.New()
	file, err := os.OpenFile(fmt.Sprintf("%s/access.log", config.EnvConfig.SyncServiceLogPath), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer file.Close()

	r.Use(fiber_log.New(fiber_log.Config{
		Output: file,
	}))

	router.RegisterRoutes(r,
		app.NewRoomHandler(roomUC),
		app.NewSessionWebsocketHandler(roomUC, registry, redisClient, app.SyncTuning{
			SnapshotWait:    cfg.Room.SnapshotWait,
			SnapshotRetries: cfg.Room.SnapshotRetries,
			ScrollInterval:  cfg.Room.ScrollInterval,
		}))

	port := ":" + cfg.Port
	log.Printf("Sync Service listening on %s", port)
	if err := r.Listen(port); err != nil {
		log.Fatalf("Failed to start Fiber: %v", err)
	}
}
