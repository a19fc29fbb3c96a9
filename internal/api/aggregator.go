package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tradewatch/surveillance-engine/internal/aggregator"
	"github.com/tradewatch/surveillance-engine/internal/db"
	"github.com/tradewatch/surveillance-engine/pkg/models"
)

// AggregatorHandler exposes the aggregate endpoint and, when an archive
// store is configured, the run history.
type AggregatorHandler struct {
	agg   *aggregator.Aggregator
	store *db.Store
}

// NewAggregatorHandler wires the aggregation core. store may be nil.
func NewAggregatorHandler(agg *aggregator.Aggregator, store *db.Store) *AggregatorHandler {
	return &AggregatorHandler{agg: agg, store: store}
}

// SetupAggregatorRouter builds the aggregator's Gin engine.
func SetupAggregatorRouter(h *AggregatorHandler, limiter *RateLimiter, apiKey string) *gin.Engine {
	r := gin.Default()

	api := r.Group("/api/v1")
	api.GET("/health", h.handleHealth)

	protected := api.Group("")
	protected.Use(limiter.Middleware(), AuthMiddleware(apiKey))
	protected.POST("/aggregate", h.handleAggregate)
	protected.GET("/runs", h.handleRuns)

	return r
}

// handleAggregate validates and merges the coordinator's collected
// worker results. Completeness violations answer 422 with the
// structured validation_failed body; success answers 200.
func (h *AggregatorHandler) handleAggregate(c *gin.Context) {
	var req models.AggregateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.AggregateResponse{
			Status: models.AggregateValidationFailed,
			Error:  "invalid request body",
		})
		return
	}
	if req.RequestID == "" || len(req.ExpectedServices) == 0 {
		c.JSON(http.StatusBadRequest, models.AggregateResponse{
			Status: models.AggregateValidationFailed,
			Error:  "request_id and expected_services are required",
		})
		return
	}

	resp := h.agg.Aggregate(c.Request.Context(), req)
	if resp.Status != models.AggregateCompleted {
		c.JSON(http.StatusUnprocessableEntity, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleRuns lists recent archived run summaries. Without a configured
// archive the endpoint reports that history is unavailable.
func (h *AggregatorHandler) handleRuns(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run archive is not configured"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := h.store.RecentRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load run history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

func (h *AggregatorHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ready",
		"service": "aggregator",
	})
}
