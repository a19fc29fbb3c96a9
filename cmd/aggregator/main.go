package main

import (
	"log"
	"os"
	"time"

	"github.com/tradewatch/surveillance-engine/internal/aggregator"
	"github.com/tradewatch/surveillance-engine/internal/api"
	"github.com/tradewatch/surveillance-engine/internal/config"
	"github.com/tradewatch/surveillance-engine/internal/csvio"
	"github.com/tradewatch/surveillance-engine/internal/db"
)

func main() {
	log.Println("Starting TradeWatch Aggregator...")
	config.Load()

	// The findings archive is optional: no DATABASE_URL means the CSV
	// artefacts are the only output, which is the normal batch mode.
	var store *db.Store
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		var err error
		store, err = db.Connect(dbURL)
		if err != nil {
			log.Printf("Warning: Failed to connect to PostgreSQL, continuing without archiving. Error: %v", err)
			store = nil
		} else {
			defer store.Close()
			if err := store.InitSchema(); err != nil {
				log.Printf("Warning: DB schema init failed: %v", err)
			}
		}
	}

	pseudonymize := config.Bool("PSEUDONYMIZE_ACCOUNTS", false)
	salt := config.String("PSEUDONYMIZATION_SALT", "")
	if pseudonymize && salt == "" {
		log.Fatal("FATAL: PSEUDONYMIZE_ACCOUNTS is enabled but PSEUDONYMIZATION_SALT is not set")
	}

	agg := aggregator.New(aggregator.Config{
		ValidationStrict:    config.ValidationStrict(),
		AllowPartialResults: config.AllowPartialResults(),
		OutputDir:           config.String("OUTPUT_DIR", "./output"),
		LogOptions: csvio.LogOptions{
			PseudonymizeAccounts: pseudonymize,
			Salt:                 salt,
		},
	}, store)

	handler := api.NewAggregatorHandler(agg, store)
	limiter := api.NewRateLimiter(config.RateLimitPerMinute(), time.Minute)

	r := api.SetupAggregatorRouter(handler, limiter, config.String("API_KEY", ""))

	port := config.String("PORT", "8083")
	log.Printf("Aggregator running on :%s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
