package csvio

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tradewatch/surveillance-engine/internal/fingerprint"
	"github.com/tradewatch/surveillance-engine/pkg/models"
)

// LogOptions controls the detection-log artefact. Pseudonymisation is a
// one-way transform of account_id; enabling it without a salt is a
// configuration error.
type LogOptions struct {
	PseudonymizeAccounts bool
	Salt                 string
}

var summaryHeader = []string{
	"account_id", "product_id", "total_buy_qty", "total_sell_qty",
	"num_cancelled_orders", "detected_timestamp", "detection_type",
	"alternation_percentage", "price_change_percentage",
}

var logHeader = []string{
	"account_id", "product_id", "order_timestamps", "duration_seconds",
}

// WriteSummary emits the detection summary table, one row per finding.
// Layering rows leave the wash-trading metric columns empty; wash-trading
// rows carry num_cancelled_orders = 0. detected_timestamp is the
// completing trade for layering and the window end for wash trading,
// i.e. the sequence's end timestamp in both cases.
func WriteSummary(path string, findings []models.SuspiciousSequence) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create summary: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(summaryHeader); err != nil {
		return err
	}

	for _, s := range findings {
		alternation, priceChange := "", ""
		if s.AlternationPercentage != nil {
			alternation = fmt.Sprintf("%.2f", *s.AlternationPercentage)
		}
		if s.PriceChangePercentage != nil {
			priceChange = fmt.Sprintf("%.2f", *s.PriceChangePercentage)
		}
		row := []string{
			Sanitize(s.AccountID),
			Sanitize(s.ProductID),
			fmt.Sprintf("%d", s.TotalBuyQty),
			fmt.Sprintf("%d", s.TotalSellQty),
			fmt.Sprintf("%d", s.NumCancelledOrders),
			s.EndTimestamp.UTC().Format(time.RFC3339),
			string(s.DetectionType),
			alternation,
			priceChange,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

// WriteDetectionLog emits the per-sequence log: the placement timestamp
// sequence (semicolon-separated, empty for wash trading) and the
// sequence duration in seconds with three decimals.
func WriteDetectionLog(path string, findings []models.SuspiciousSequence, opts LogOptions) error {
	if opts.PseudonymizeAccounts && opts.Salt == "" {
		return fmt.Errorf("pseudonymisation enabled but no salt configured")
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create detection log: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(logHeader); err != nil {
		return err
	}

	for _, s := range findings {
		account := s.AccountID
		if opts.PseudonymizeAccounts {
			account = fingerprint.PseudonymizeAccount(opts.Salt, account)
		}

		stamps := make([]string, len(s.OrderTimestamps))
		for i, ts := range s.OrderTimestamps {
			stamps[i] = ts.UTC().Format(time.RFC3339)
		}

		duration := s.EndTimestamp.Sub(s.StartTimestamp).Seconds()
		row := []string{
			Sanitize(account),
			Sanitize(s.ProductID),
			Sanitize(strings.Join(stamps, ";")),
			fmt.Sprintf("%.3f", duration),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

// Sanitize neutralises spreadsheet-formula interpretation: any cell
// containing one of = + - @ tab CR anywhere is emitted with a leading
// apostrophe.
func Sanitize(cell string) string {
	if strings.ContainsAny(cell, "=+-@\t\r") {
		return "'" + cell
	}
	return cell
}
