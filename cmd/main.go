package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"storefront/internal/api"
	"storefront/internal/config"
	"storefront/internal/consumer"
	"storefront/internal/gateway"
	"storefront/internal/repository"
	"storefront/internal/service"
	"storefront/internal/sharding"
	"storefront/migrations"
)

func connectDB(dsn string) (*sql.DB, error) {
	var db *sql.DB
	var err error
	for i := 0; i < 10; i++ {
		db, err = sql.Open("mysql", dsn)
		if err == nil {
			err = db.Ping()
			if err == nil {
				return db, nil
			}
			db.Close()
		}
		log.Warn().Err(err).Msgf("Retry %d: failed to connect to DB", i+1)
		time.Sleep(3 * time.Second)
	}
	return nil, fmt.Errorf("failed to connect to DB after retries: %w", err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	dbShards := make([]*sql.DB, 0, len(cfg.DBShards))
	for i, dsn := range cfg.DBShards {
		db, err := connectDB(dsn)
		if err != nil {
			log.Fatal().Err(err).Msgf("Failed to connect to shard %d", i)
		}
		defer db.Close()
		dbShards = append(dbShards, db)
	}

	if err := migrations.AutoMigrate(3, dbShards...); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate tables")
	}
	if cfg.FinalizeIdempotent {
		if err := migrations.AddPaymentIDUniqueIndex(3, dbShards...); err != nil {
			log.Fatal().Err(err).Msg("Failed to add payment id index")
		}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	defer rdb.Close()

	kafkaWriter := config.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer kafkaWriter.Close()
	events := service.NewKafkaPublisher(kafkaWriter)

	router := sharding.NewShardRouter(len(dbShards))
	orderRepo := repository.NewOrderRepository(dbShards, router)
	userRepo := repository.NewUserRepository(dbShards[0])

	gw := gateway.NewClient(gateway.Config{
		KeyID:     cfg.RazorpayKeyID,
		KeySecret: cfg.RazorpayKeySecret,
		BaseURL:   cfg.RazorpayAPIURL,
		Timeout:   cfg.GatewayTimeout,
	}, nil)

	paymentService := service.NewPaymentService(gw, orderRepo, events, cfg.Currency, cfg.Rates)
	orderService := service.NewOrderService(orderRepo, gw, service.NewRedisIdempotencyStore(rdb), events, service.OrderOptions{
		Idempotent:        cfg.FinalizeIdempotent,
		StrictTransitions: cfg.StrictDeliveryTransitions,
		GuardDelete:       cfg.GuardOrderDelete,
		RequireSignature:  cfg.RequirePaymentSignature,
	})
	userService := service.NewUserService(userRepo, rdb)

	handler := api.NewOrderHandler(paymentService, orderService, userService)
	e := api.NewRouter(handler, api.RouterConfig{
		JWTSecret:      cfg.JWTSecret,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reconciler := consumer.NewReconciler(config.NewKafkaReader(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID), orderRepo)
	go func() {
		if err := reconciler.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Reconciler stopped")
		}
	}()

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server stopped")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error shutting down server")
	}
}
