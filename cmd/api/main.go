package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/corebank/transfer-engine/internal/api"
	"github.com/corebank/transfer-engine/internal/cache"
	"github.com/corebank/transfer-engine/internal/config"
	"github.com/corebank/transfer-engine/internal/events"
	"github.com/corebank/transfer-engine/internal/idempotency"
	"github.com/corebank/transfer-engine/internal/ratelimit"
	"github.com/corebank/transfer-engine/internal/service"
	"github.com/corebank/transfer-engine/internal/store"
)

const purgeInterval = 15 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()

	st, err := store.NewPostgres(ctx, cfg.DBSource)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer st.Close()

	var publisher events.Publisher = events.Noop{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		publisher = kp
		log.Printf("Publishing %s events to %v", cfg.KafkaTopic, cfg.KafkaBrokers)
	}

	accountCache := cache.NewAccountCache(nil, 0)
	if cfg.RedisAddr != "" {
		client, err := cache.NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatalf("Unable to connect to redis: %v", err)
		}
		defer client.Close()
		accountCache = cache.NewAccountCache(client, 30*time.Second)
		log.Printf("Account cache enabled via %s", cfg.RedisAddr)
	}

	limiter := ratelimit.NewLimiter(cfg.RateLimitCapacity, cfg.RateLimitLeakPerSecond)
	coordinator := idempotency.NewCoordinator(time.Duration(cfg.IdempotencyTTLHours) * time.Hour)
	transferService := service.NewTransferService(st, limiter, coordinator, publisher)

	go purgeExpired(ctx, coordinator, st)

	handler := api.NewHandler(st, transferService, accountCache)

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	handler.Routes(r)

	log.Printf("Server starting on :%s (%s)", cfg.Port, cfg.Env)
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal(err)
	}
}

// purgeExpired garbage-collects idempotency records past their TTL.
func purgeExpired(ctx context.Context, coordinator *idempotency.Coordinator, st store.Store) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for range ticker.C {
		purged, err := coordinator.PurgeExpired(ctx, st)
		if err != nil {
			log.Printf("Idempotency purge failed: %v", err)
			continue
		}
		if purged > 0 {
			log.Printf("Purged %d expired idempotency records", purged)
		}
	}
}
