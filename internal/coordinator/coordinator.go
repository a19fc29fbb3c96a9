// Package coordinator fans a batch of events out to the detector
// workers in parallel, retries transient failures with exponential
// backoff, tracks per-worker completion, and hands the collected
// results to the aggregator once every worker is terminal.
package coordinator

import (
	"context"
	"errors"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tradewatch/surveillance-engine/internal/fingerprint"
	"github.com/tradewatch/surveillance-engine/pkg/models"
)

// WorkerSpec names one expected detector worker and where it lives.
type WorkerSpec struct {
	Name string
	URL  string
}

// Config holds the fan-out policy.
type Config struct {
	Workers       []WorkerSpec
	AggregatorURL string
	// MaxRetries is the number of additional attempts after the first;
	// total attempts never exceed MaxRetries+1.
	MaxRetries int
	// BackoffBase makes attempt n sleep base^n seconds before retrying.
	BackoffBase int
	// Timeout bounds one worker call; expiry is retryable.
	Timeout time.Duration
}

// Progress is the runner's current state for the API.
type Progress struct {
	IsRunning        bool   `json:"isRunning"`
	RequestID        string `json:"requestId"`
	EventCount       int64  `json:"eventCount"`
	CompletedWorkers int64  `json:"completedWorkers"`
	TotalWorkers     int64  `json:"totalWorkers"`
}

// Runner executes pipeline runs. One run at a time; per-worker branches
// run concurrently inside a run.
type Runner struct {
	cfg       Config
	client    *Client
	alertFunc func(models.SuspiciousSequence) // optional broadcast callback

	// Progress tracking (atomic for safe concurrent reads).
	isRunning        atomic.Bool
	eventCount       atomic.Int64
	completedWorkers atomic.Int64
	requestID        atomic.Value // string

	// sleep is swappable so tests need no real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner wires a runner. alertFunc may be nil.
func NewRunner(cfg Config, client *Client, alertFunc func(models.SuspiciousSequence)) *Runner {
	r := &Runner{cfg: cfg, client: client, alertFunc: alertFunc, sleep: sleepCtx}
	r.requestID.Store("")
	return r
}

// Progress returns the current run state (thread-safe).
func (r *Runner) Progress() Progress {
	id, _ := r.requestID.Load().(string)
	return Progress{
		IsRunning:        r.isRunning.Load(),
		RequestID:        id,
		EventCount:       r.eventCount.Load(),
		CompletedWorkers: r.completedWorkers.Load(),
		TotalWorkers:     int64(len(r.cfg.Workers)),
	}
}

// TryBegin claims the single-run slot. The caller must call End when
// the run finishes. Returns false when a run is already in flight.
func (r *Runner) TryBegin() bool { return r.isRunning.CompareAndSwap(false, true) }

// End releases the single-run slot.
func (r *Runner) End() { r.isRunning.Store(false) }

// Run executes one full pipeline pass over an in-memory batch: mint the
// request id, fingerprint the events once, contact every worker in
// parallel under the retry policy, wait for all of them to reach a
// terminal state, then submit the vector to the aggregator.
func (r *Runner) Run(ctx context.Context, events []models.TransactionEvent) models.PipelineSummary {
	requestID := uuid.NewString()
	eventFingerprint := fingerprint.Compute(events)

	r.requestID.Store(requestID)
	r.eventCount.Store(int64(len(events)))
	r.completedWorkers.Store(0)

	log.Printf("[Coordinator] request_id=%s starting fan-out: %d events, %d workers",
		requestID, len(events), len(r.cfg.Workers))

	req := models.DetectRequest{
		RequestID:        requestID,
		EventFingerprint: eventFingerprint,
		Events:           events,
	}

	// One branch per expected worker. Branches share only the read-only
	// request; results land in their own slot under the mutex. A branch
	// never aborts its siblings: exhaustion is recorded, not propagated.
	records := make(map[string]*models.ServiceResult, len(r.cfg.Workers))
	var mu sync.Mutex
	for _, w := range r.cfg.Workers {
		records[w.Name] = &models.ServiceResult{
			ServiceName: w.Name,
			Status:      models.WorkerPending,
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range r.cfg.Workers {
		g.Go(func() error {
			rec := r.callWithRetry(gctx, w, req)
			mu.Lock()
			records[w.Name] = rec
			mu.Unlock()
			r.completedWorkers.Add(1)
			return nil
		})
	}
	// Branches always return nil; Wait is a pure join.
	_ = g.Wait()

	results := make([]models.ServiceResult, 0, len(r.cfg.Workers))
	expected := make([]string, 0, len(r.cfg.Workers))
	for _, w := range r.cfg.Workers {
		expected = append(expected, w.Name)
		results = append(results, *records[w.Name])
	}

	// Completion gate: every record must be terminal before the
	// aggregator sees it. Given the join above this cannot fail; if it
	// does, the run aborts as an internal error.
	for _, rec := range results {
		if !rec.FinalStatus {
			log.Printf("[Coordinator] request_id=%s INTERNAL: worker %s not final after join",
				requestID, rec.ServiceName)
			return models.PipelineSummary{
				RequestID:  requestID,
				Status:     "failed",
				EventCount: len(events),
				Error:      "internal error: incomplete worker state",
			}
		}
	}

	if r.alertFunc != nil {
		for _, rec := range results {
			for _, f := range rec.Results {
				r.alertFunc(f)
			}
		}
	}

	aggResp, err := r.client.Aggregate(ctx, r.cfg.AggregatorURL, models.AggregateRequest{
		RequestID:        requestID,
		ExpectedServices: expected,
		Results:          results,
	})
	if err != nil {
		log.Printf("[Coordinator] request_id=%s aggregation failed: %v", requestID, err)
		if aggResp != nil {
			// Structured refusal (e.g. completeness violation): relay it.
			return models.PipelineSummary{
				RequestID:      requestID,
				Status:         aggResp.Status,
				EventCount:     len(events),
				FailedServices: aggResp.FailedServices,
				Error:          aggResp.Error,
			}
		}
		return models.PipelineSummary{
			RequestID:  requestID,
			Status:     "failed",
			EventCount: len(events),
			Error:      "aggregation failed",
		}
	}

	log.Printf("[Coordinator] request_id=%s pipeline %s: %d findings, failed services: %v",
		requestID, aggResp.Status, aggResp.MergedCount, aggResp.FailedServices)
	return models.PipelineSummary{
		RequestID:       requestID,
		Status:          aggResp.Status,
		EventCount:      len(events),
		AggregatedCount: aggResp.MergedCount,
		FailedServices:  aggResp.FailedServices,
		Error:           aggResp.Error,
	}
}

// callWithRetry drives one worker to a terminal state. Retries reuse
// the identical (request_id, fingerprint) pair so a worker that already
// finished the first attempt serves its idempotency cache instead of
// re-running the detector.
func (r *Runner) callWithRetry(ctx context.Context, w WorkerSpec, req models.DetectRequest) *models.ServiceResult {
	rec := &models.ServiceResult{ServiceName: w.Name, Status: models.WorkerPending}

	for attempt := 0; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		resp, err := r.client.Detect(attemptCtx, w.URL, req)
		cancel()

		if err == nil {
			rec.Status = models.WorkerSuccess
			rec.FinalStatus = true
			rec.Results = resp.Results
			log.Printf("[Coordinator] request_id=%s worker %s succeeded on attempt %d (%d findings)",
				req.RequestID, w.Name, attempt+1, len(resp.Results))
			return rec
		}

		if errors.Is(err, context.Canceled) {
			rec.Status = models.WorkerExhausted
			rec.FinalStatus = true
			rec.Error = "cancelled"
			return rec
		}

		if !isRetryable(err) || attempt >= r.cfg.MaxRetries {
			rec.Status = models.WorkerExhausted
			rec.FinalStatus = true
			rec.Error = err.Error()
			log.Printf("[Coordinator] request_id=%s worker %s exhausted after %d attempt(s): %v",
				req.RequestID, w.Name, attempt+1, err)
			return rec
		}

		backoff := time.Duration(math.Pow(float64(r.cfg.BackoffBase), float64(attempt))) * time.Second
		log.Printf("[Coordinator] request_id=%s worker %s attempt %d failed (%v), retrying in %s",
			req.RequestID, w.Name, attempt+1, err, backoff)
		rec.RetryCount++
		if err := r.sleep(ctx, backoff); err != nil {
			rec.Status = models.WorkerExhausted
			rec.FinalStatus = true
			rec.Error = "cancelled during backoff"
			return rec
		}
	}
}

// sleepCtx sleeps for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
