package main

import (
	"log"
	"time"

	"github.com/tradewatch/surveillance-engine/internal/api"
	"github.com/tradewatch/surveillance-engine/internal/config"
	"github.com/tradewatch/surveillance-engine/internal/coordinator"
	"github.com/tradewatch/surveillance-engine/pkg/models"
)

func main() {
	log.Println("Starting TradeWatch Coordinator...")
	config.Load()

	layeringURL := config.Require("LAYERING_WORKER_URL")
	washTradingURL := config.Require("WASH_TRADING_WORKER_URL")
	aggregatorURL := config.Require("AGGREGATOR_URL")
	apiKey := config.String("API_KEY", "")

	// Setup WebSocket hub for live finding alerts.
	wsHub := api.NewHub()
	go wsHub.Run()

	client := coordinator.NewClient(apiKey)
	runner := coordinator.NewRunner(coordinator.Config{
		Workers: []coordinator.WorkerSpec{
			{Name: models.ServiceLayering, URL: layeringURL},
			{Name: models.ServiceWashTrading, URL: washTradingURL},
		},
		AggregatorURL: aggregatorURL,
		MaxRetries:    config.MaxRetries(),
		BackoffBase:   config.RetryBackoffBase(),
		Timeout:       config.AlgorithmTimeout(),
	}, client, api.BroadcastFindingAlert(wsHub))

	handler := api.NewCoordinatorHandler(runner, wsHub, config.String("INPUT_DIR", "./input"))
	limiter := api.NewRateLimiter(config.RateLimitPerMinute(), time.Minute)

	r := api.SetupCoordinatorRouter(handler, limiter, apiKey)

	port := config.String("PORT", "8080")
	log.Printf("Coordinator running on :%s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
