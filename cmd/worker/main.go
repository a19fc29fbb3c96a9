package main

import (
	"log"
	"time"

	"github.com/tradewatch/surveillance-engine/internal/api"
	"github.com/tradewatch/surveillance-engine/internal/cache"
	"github.com/tradewatch/surveillance-engine/internal/config"
	"github.com/tradewatch/surveillance-engine/internal/detector"
	"github.com/tradewatch/surveillance-engine/pkg/models"
)

func main() {
	log.Println("Starting TradeWatch Detector Worker...")
	config.Load()

	det := buildDetector(config.String("DETECTOR", models.ServiceLayering))

	idem, err := cache.New(config.CacheSize())
	if err != nil {
		log.Fatalf("Failed to create idempotency cache: %v", err)
	}

	handler := api.NewWorkerHandler(det, idem, api.WorkerConfig{
		APIKey:          config.String("API_KEY", ""),
		MaxRequestBytes: config.MaxRequestSizeBytes(),
		MaxEvents:       config.MaxEventsPerRequest(),
	})
	limiter := api.NewRateLimiter(config.RateLimitPerMinute(), time.Minute)

	r := api.SetupWorkerRouter(handler, limiter)

	port := config.String("PORT", "8081")
	log.Printf("Worker %s running on :%s", det.Name(), port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// buildDetector picks the hosted algorithm from the DETECTOR env var and
// applies the window/threshold overrides.
func buildDetector(name string) detector.Detector {
	switch name {
	case models.ServiceLayering:
		cfg := models.DetectionConfig{
			OrdersWindow:        config.Seconds("ORDERS_WINDOW_SECONDS", models.DefaultDetectionConfig().OrdersWindow),
			CancelWindow:        config.Seconds("CANCEL_WINDOW_SECONDS", models.DefaultDetectionConfig().CancelWindow),
			OppositeTradeWindow: config.Seconds("OPPOSITE_TRADE_WINDOW_SECONDS", models.DefaultDetectionConfig().OppositeTradeWindow),
		}
		if err := cfg.Validate(); err != nil {
			log.Fatalf("Invalid layering config: %v", err)
		}
		return detector.NewLayeringDetector(cfg)
	case models.ServiceWashTrading:
		cfg := models.DefaultWashTradingConfig()
		if err := cfg.Validate(); err != nil {
			log.Fatalf("Invalid wash-trading config: %v", err)
		}
		return detector.NewWashTradingDetector(cfg)
	default:
		log.Fatalf("Unknown DETECTOR %q (want %s or %s)", name, models.ServiceLayering, models.ServiceWashTrading)
		return nil
	}
}
