package api

import (
	"log"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tradewatch/surveillance-engine/internal/coordinator"
	"github.com/tradewatch/surveillance-engine/internal/csvio"
	"github.com/tradewatch/surveillance-engine/pkg/models"
)

// CoordinatorHandler exposes the pipeline trigger, progress polling and
// the live finding stream.
type CoordinatorHandler struct {
	runner   *coordinator.Runner
	hub      *Hub
	inputDir string
}

// NewCoordinatorHandler wires the runner, the websocket hub and the
// directory input files are resolved under.
func NewCoordinatorHandler(runner *coordinator.Runner, hub *Hub, inputDir string) *CoordinatorHandler {
	return &CoordinatorHandler{runner: runner, hub: hub, inputDir: inputDir}
}

// SetupCoordinatorRouter builds the coordinator's Gin engine. Only
// health is public; the trigger, progress and stream require the key.
func SetupCoordinatorRouter(h *CoordinatorHandler, limiter *RateLimiter, apiKey string) *gin.Engine {
	r := gin.Default()

	api := r.Group("/api/v1")
	api.GET("/health", h.handleHealth)

	protected := api.Group("")
	protected.Use(limiter.Middleware(), AuthMiddleware(apiKey))
	protected.POST("/pipeline/run", h.handleRun)
	protected.GET("/pipeline/progress", h.handleProgress)
	protected.GET("/stream", h.hub.Subscribe)

	return r
}

// handleRun executes one batch pipeline pass synchronously and returns
// the summary. A second trigger while a run is in flight gets 409.
//
// The input reference is a bare file name resolved under the configured
// input directory; traversal attempts are rejected and error messages
// never echo filesystem paths.
func (h *CoordinatorHandler) handleRun(c *gin.Context) {
	var req struct {
		InputFile string `json:"input_file"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {input_file}"})
		return
	}
	if !validInputName(req.InputFile) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input file name"})
		return
	}

	if !h.runner.TryBegin() {
		c.JSON(http.StatusConflict, gin.H{"error": "A pipeline run is already in progress"})
		return
	}
	defer h.runner.End()

	events, skipped, err := csvio.ReadEvents(filepath.Join(h.inputDir, req.InputFile))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Input file not found or unreadable"})
		return
	}

	h.hub.BroadcastEvent("run_started", gin.H{
		"inputFile":   req.InputFile,
		"eventCount":  len(events),
		"skippedRows": skipped,
	})

	summary := h.runner.Run(c.Request.Context(), events)

	h.hub.BroadcastEvent("run_completed", summary)
	c.JSON(http.StatusOK, summary)
}

// validInputName accepts bare file names only: no separators, no
// traversal, no absolute paths.
func validInputName(name string) bool {
	if name == "" || strings.ContainsAny(name, "/\\") {
		return false
	}
	if name == "." || name == ".." || filepath.IsAbs(name) {
		return false
	}
	return filepath.Base(name) == name
}

// handleProgress returns the runner's current state.
func (h *CoordinatorHandler) handleProgress(c *gin.Context) {
	c.JSON(http.StatusOK, h.runner.Progress())
}

func (h *CoordinatorHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ready",
		"service": "coordinator",
	})
}

// BroadcastFindingAlert returns the alert callback the runner invokes
// for every finding a worker reported, pushing it to stream clients.
func BroadcastFindingAlert(wsHub *Hub) func(models.SuspiciousSequence) {
	return func(finding models.SuspiciousSequence) {
		wsHub.BroadcastEvent("finding", finding)
		log.Printf("[ALERT] %s detected for %s/%s (buy %d, sell %d)",
			finding.DetectionType, finding.AccountID, finding.ProductID,
			finding.TotalBuyQty, finding.TotalSellQty)
	}
}
