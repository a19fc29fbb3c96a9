package api

import (
	"log"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/tradewatch/surveillance-engine/internal/cache"
	"github.com/tradewatch/surveillance-engine/internal/detector"
	"github.com/tradewatch/surveillance-engine/pkg/models"
)

// WorkerConfig carries the admission-control limits for one worker.
type WorkerConfig struct {
	APIKey          string
	MaxRequestBytes int64
	MaxEvents       int
}

// WorkerHandler hosts one detector behind the detect endpoint.
type WorkerHandler struct {
	detector    detector.Detector
	cache       *cache.IdempotencyCache
	cfg         WorkerConfig
	invocations atomic.Int64 // detector runs, excludes cache hits
}

// NewWorkerHandler wires a detector and its idempotency cache.
func NewWorkerHandler(det detector.Detector, idem *cache.IdempotencyCache, cfg WorkerConfig) *WorkerHandler {
	return &WorkerHandler{detector: det, cache: idem, cfg: cfg}
}

// Invocations returns how many times the detector actually ran.
func (h *WorkerHandler) Invocations() int64 { return h.invocations.Load() }

// SetupWorkerRouter builds the worker's Gin engine. Health stays outside
// auth and rate limiting so coordinator pre-flight probes are never
// throttled or rejected.
func SetupWorkerRouter(h *WorkerHandler, limiter *RateLimiter) *gin.Engine {
	r := gin.Default()

	api := r.Group("/api/v1")
	api.GET("/health", h.handleHealth)

	protected := api.Group("")
	protected.Use(limiter.Middleware(), AuthMiddleware(h.cfg.APIKey))
	protected.POST("/detect", h.handleDetect)

	return r
}

// handleDetect runs the hosted detector over the submitted batch, or
// serves the cached result when the same (request_id, fingerprint) pair
// was already processed. The response is structured in every branch;
// transport-level failure is reserved for genuine transport faults.
func (h *WorkerHandler) handleDetect(c *gin.Context) {
	// Payload cap applies before any parsing.
	if c.Request.ContentLength > h.cfg.MaxRequestBytes {
		c.JSON(http.StatusRequestEntityTooLarge, models.DetectResponse{
			ServiceName: h.detector.Name(),
			Status:      models.StatusFailure,
			Error:       "request payload exceeds size limit",
		})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxRequestBytes)

	var req models.DetectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.DetectResponse{
			ServiceName: h.detector.Name(),
			Status:      models.StatusFailure,
			Error:       "invalid request body",
		})
		return
	}
	if req.RequestID == "" || len(req.EventFingerprint) != 64 {
		c.JSON(http.StatusBadRequest, models.DetectResponse{
			RequestID:   req.RequestID,
			ServiceName: h.detector.Name(),
			Status:      models.StatusFailure,
			Error:       "request_id and 64-hex event_fingerprint are required",
		})
		return
	}
	if len(req.Events) > h.cfg.MaxEvents {
		c.JSON(http.StatusBadRequest, models.DetectResponse{
			RequestID:   req.RequestID,
			ServiceName: h.detector.Name(),
			Status:      models.StatusFailure,
			Error:       "event list exceeds length limit",
		})
		return
	}

	key := cache.Key{RequestID: req.RequestID, Fingerprint: req.EventFingerprint}
	if results, ok := h.cache.Get(key); ok {
		log.Printf("[Worker:%s] request_id=%s cache hit (%d findings)",
			h.detector.Name(), req.RequestID, len(results))
		c.JSON(http.StatusOK, models.DetectResponse{
			RequestID:   req.RequestID,
			ServiceName: h.detector.Name(),
			Status:      models.StatusSuccess,
			Results:     results,
		})
		return
	}

	results, err := h.runDetector(req.Events)
	if err != nil {
		// Programmer error surfaced as a transient server fault; the
		// coordinator will retry and the message stays sanitised.
		log.Printf("[Worker:%s] request_id=%s detector panic: %v",
			h.detector.Name(), req.RequestID, err)
		c.JSON(http.StatusInternalServerError, models.DetectResponse{
			RequestID:   req.RequestID,
			ServiceName: h.detector.Name(),
			Status:      models.StatusFailure,
			Error:       "internal detector error",
		})
		return
	}

	h.cache.Put(key, results)
	log.Printf("[Worker:%s] request_id=%s analysed %d events, %d findings",
		h.detector.Name(), req.RequestID, len(req.Events), len(results))

	c.JSON(http.StatusOK, models.DetectResponse{
		RequestID:   req.RequestID,
		ServiceName: h.detector.Name(),
		Status:      models.StatusSuccess,
		Results:     results,
	})
}

// runDetector executes the detector, converting a panic (impossible
// state) into an error so the handler can answer with structure.
func (h *WorkerHandler) runDetector(events []models.TransactionEvent) (results []models.SuspiciousSequence, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &detectorPanic{value: r}
		}
	}()
	h.invocations.Add(1)
	results = h.detector.Detect(events)
	if results == nil {
		results = []models.SuspiciousSequence{}
	}
	return results, nil
}

type detectorPanic struct{ value any }

func (p *detectorPanic) Error() string { return "detector panicked" }

// handleHealth returns the static ready indicator plus cache and
// invocation counters for operational visibility.
func (h *WorkerHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ready",
		"service":      h.detector.Name(),
		"cacheEntries": h.cache.Len(),
		"cacheHits":    h.cache.Hits(),
		"invocations":  h.invocations.Load(),
	})
}
