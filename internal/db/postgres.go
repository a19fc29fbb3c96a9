package db

import (
	"context"
	_ "embed"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradewatch/surveillance-engine/pkg/models"
)

// schemaSQL is compiled into the binary at build time so schema init
// works inside runtime images that ship no source tree.
//
//go:embed schema.sql
var schemaSQL string

// Store archives run summaries and merged findings. The archive is
// optional: the aggregator works fully without a database, and archive
// failures are logged rather than failing the request.
type Store struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx.
func Connect(connStr string) (*Store, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("[DB] Connected to PostgreSQL findings archive")
	return &Store{pool: pool}, nil
}

// Close gracefully closes the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded DDL statements.
func (s *Store) InitSchema() error {
	if _, err := s.pool.Exec(context.Background(), schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}
	log.Println("[DB] Findings archive schema initialized")
	return nil
}

// SaveRun persists one run summary and its merged findings in a single
// transaction. Re-running the same request id upserts the summary and
// leaves already-archived findings in place.
func (s *Store) SaveRun(ctx context.Context, requestID string, status string, eventCount, mergedCount int, failedServices []string, findings []models.SuspiciousSequence) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	insertRunSQL := `
		INSERT INTO pipeline_runs (request_id, status, event_count, merged_count, failed_services)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (request_id) DO UPDATE
		SET status = EXCLUDED.status, merged_count = EXCLUDED.merged_count,
		    failed_services = EXCLUDED.failed_services;
	`
	if failedServices == nil {
		failedServices = []string{}
	}
	_, err = tx.Exec(ctx, insertRunSQL, requestID, status, eventCount, mergedCount, failedServices)
	if err != nil {
		return fmt.Errorf("failed to insert pipeline run: %v", err)
	}

	insertFindingSQL := `
		INSERT INTO findings
		(request_id, account_id, product_id, detection_type, start_timestamp, end_timestamp,
		 total_buy_qty, total_sell_qty, num_cancelled_orders, alternation_percentage, price_change_percentage)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT DO NOTHING;
	`
	for _, f := range findings {
		_, err = tx.Exec(ctx, insertFindingSQL,
			requestID,
			f.AccountID,
			f.ProductID,
			string(f.DetectionType),
			f.StartTimestamp,
			f.EndTimestamp,
			f.TotalBuyQty,
			f.TotalSellQty,
			f.NumCancelledOrders,
			f.AlternationPercentage,
			f.PriceChangePercentage,
		)
		if err != nil {
			return fmt.Errorf("failed to insert finding: %v", err)
		}
	}

	return tx.Commit(ctx)
}

// RecentRuns returns the latest archived run summaries, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunInfo, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT request_id, status, event_count, merged_count, failed_services, created_at
		FROM pipeline_runs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunInfo
	for rows.Next() {
		var r RunInfo
		if err := rows.Scan(&r.RequestID, &r.Status, &r.EventCount, &r.MergedCount, &r.FailedServices, &r.CreatedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunInfo is one archived run summary row.
type RunInfo struct {
	RequestID      string    `json:"requestId"`
	Status         string    `json:"status"`
	EventCount     int64     `json:"eventCount"`
	MergedCount    int64     `json:"mergedCount"`
	FailedServices []string  `json:"failedServices"`
	CreatedAt      time.Time `json:"createdAt"`
}
