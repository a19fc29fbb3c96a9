// Package aggregator validates the completeness of a fan-out, merges the
// per-worker findings and writes the output artefacts. It is the last
// stage of the pipeline; its call is never retried, so every failure
// surfaces verbatim (with sanitised messages) to the coordinator.
package aggregator

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/tradewatch/surveillance-engine/internal/csvio"
	"github.com/tradewatch/surveillance-engine/internal/db"
	"github.com/tradewatch/surveillance-engine/pkg/models"
)

// Config holds the aggregation policy knobs and output locations.
type Config struct {
	// ValidationStrict fails closed when any expected worker is missing
	// from the results or arrives non-final.
	ValidationStrict bool
	// AllowPartialResults downgrades those validation failures to a
	// partial merge over whatever SUCCESS entries are present.
	AllowPartialResults bool
	OutputDir           string
	LogOptions          csvio.LogOptions
}

// Aggregator merges worker results and writes artefacts. The archive
// store is optional; a nil store disables archiving.
type Aggregator struct {
	cfg   Config
	store *db.Store
}

// New builds an aggregator. store may be nil.
func New(cfg Config, store *db.Store) *Aggregator {
	return &Aggregator{cfg: cfg, store: store}
}

// Aggregate validates, merges, deduplicates and writes. Exhausted
// workers never fail the request: their names are reported in
// failed_services and their (empty) results are skipped.
func (a *Aggregator) Aggregate(ctx context.Context, req models.AggregateRequest) models.AggregateResponse {
	failedServices := []string{}

	if err := a.validate(req); err != nil {
		if a.cfg.ValidationStrict && !a.cfg.AllowPartialResults {
			log.Printf("[Aggregator] request_id=%s validation failed: %v", req.RequestID, err)
			return models.AggregateResponse{
				Status:         models.AggregateValidationFailed,
				FailedServices: failedServices,
				Error:          err.Error(),
			}
		}
		log.Printf("[Aggregator] request_id=%s validation warning (partial results allowed): %v",
			req.RequestID, err)
	}

	var merged []models.SuspiciousSequence
	for _, r := range req.Results {
		switch r.Status {
		case models.WorkerSuccess:
			merged = append(merged, r.Results...)
		case models.WorkerExhausted:
			log.Printf("[Aggregator] request_id=%s service %s exhausted: %s",
				req.RequestID, r.ServiceName, r.Error)
			failedServices = append(failedServices, r.ServiceName)
		default:
			log.Printf("[Aggregator] request_id=%s service %s in unexpected state %s, skipping",
				req.RequestID, r.ServiceName, r.Status)
			failedServices = append(failedServices, r.ServiceName)
		}
	}

	merged = Deduplicate(merged)
	models.SortFindings(merged)

	if err := a.write(req.RequestID, merged); err != nil {
		log.Printf("[Aggregator] request_id=%s write failed: %v", req.RequestID, err)
		return models.AggregateResponse{
			Status:         models.AggregateValidationFailed,
			FailedServices: failedServices,
			Error:          "failed to write output artefacts",
		}
	}

	a.archive(ctx, req, merged, failedServices)

	log.Printf("[Aggregator] request_id=%s merged %d findings (%d failed services)",
		req.RequestID, len(merged), len(failedServices))
	return models.AggregateResponse{
		Status:         models.AggregateCompleted,
		MergedCount:    len(merged),
		FailedServices: failedServices,
	}
}

// validate checks that every expected worker answered and that every
// answer is terminal.
func (a *Aggregator) validate(req models.AggregateRequest) error {
	present := make(map[string]bool, len(req.Results))
	for _, r := range req.Results {
		present[r.ServiceName] = true
	}

	var missing []string
	for _, name := range req.ExpectedServices {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing results from expected services: %s", strings.Join(missing, ", "))
	}

	for _, r := range req.Results {
		if !r.FinalStatus {
			return fmt.Errorf("service %s submitted a non-final result", r.ServiceName)
		}
	}
	return nil
}

// Deduplicate removes findings with identical identity
// (account, product, start, end, detection_type), keeping the first.
// The pass is idempotent.
func Deduplicate(findings []models.SuspiciousSequence) []models.SuspiciousSequence {
	seen := make(map[models.DedupKey]bool, len(findings))
	out := findings[:0:0]
	for _, f := range findings {
		k := f.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, f)
	}
	return out
}

func (a *Aggregator) write(requestID string, merged []models.SuspiciousSequence) error {
	summaryPath := filepath.Join(a.cfg.OutputDir, fmt.Sprintf("detection_summary_%s.csv", requestID))
	if err := csvio.WriteSummary(summaryPath, merged); err != nil {
		return err
	}
	logPath := filepath.Join(a.cfg.OutputDir, fmt.Sprintf("detection_log_%s.csv", requestID))
	return csvio.WriteDetectionLog(logPath, merged, a.cfg.LogOptions)
}

// archive stores the run in the optional findings archive. Failures are
// logged only: the artefacts on disk are the source of truth.
func (a *Aggregator) archive(ctx context.Context, req models.AggregateRequest, merged []models.SuspiciousSequence, failedServices []string) {
	if a.store == nil {
		return
	}
	if err := a.store.SaveRun(ctx, req.RequestID, models.AggregateCompleted, 0, len(merged), failedServices, merged); err != nil {
		log.Printf("[Aggregator] request_id=%s archive failed: %v", req.RequestID, err)
	}
}
