package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"livechat-server/internal/config"
	"livechat-server/internal/delivery"
	"livechat-server/internal/infrastructure/kafka"
	"livechat-server/internal/infrastructure/redis"
	"livechat-server/internal/presence"
	"livechat-server/internal/router"
	"livechat-server/internal/store"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Application recovered from panic: %v", r)
			os.Exit(1)
		}
	}()

	_ = godotenv.Load()

	cfg := config.LoadConfig()

	log.Printf("Starting LiveChat Routing Server")
	log.Printf("Environment: %s", cfg.Environment)
	log.Printf("Port: %s", cfg.Port)
	log.Printf("Redis: %s:%s", cfg.RedisHost, cfg.RedisPort)
	log.Printf("Kafka Brokers: %v", cfg.KafkaBrokers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient := redis.NewClient(cfg.RedisHost, cfg.RedisPort, cfg.RedisPassword)
	if err := redisClient.Ping(ctx); err != nil {
		log.Printf("Warning: Redis connection failed: %v", err)
	} else {
		log.Println("Redis connection successful")
	}

	var st store.Store
	if cfg.DatabaseURL != "" {
		if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Database connection failed: %v", err)
		}
		defer pg.Close()
		st = pg
		log.Println("Postgres connection successful")
	} else {
		log.Println("Warning: DATABASE_URL not set, using in-memory store")
		st = store.NewMemoryStore()
	}

	registry := presence.NewRegistry(redisClient)
	rt := router.New(st, registry)
	hub := delivery.NewHub()

	kafkaBroker := strings.Join(cfg.KafkaBrokers, ",")
	producer := kafka.NewProducer(kafkaBroker)

	server := delivery.NewServer(cfg, st, registry, rt, hub, producer, redisClient)

	consumer := kafka.NewConsumer(cfg.KafkaBrokers, "livechat-server-group", server)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Shutting down...")
		cancel()
		if err := consumer.Close(); err != nil {
			log.Printf("Error closing Kafka consumer: %v", err)
		}
		if err := producer.Close(); err != nil {
			log.Printf("Error closing Kafka producer: %v", err)
		}
		if err := redisClient.Close(); err != nil {
			log.Printf("Error closing Redis client: %v", err)
		}
	}()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("Kafka consumer goroutine recovered from panic: %v", r)
			}
		}()

		if err := consumer.Start(ctx); err != nil {
			log.Printf("Kafka consumer error: %v", err)
		}
	}()

	log.Fatal(server.Start())
}
