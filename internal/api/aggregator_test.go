package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tradewatch/surveillance-engine/internal/aggregator"
	"github.com/tradewatch/surveillance-engine/pkg/models"
)

func newAggregatorRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	agg := aggregator.New(aggregator.Config{
		ValidationStrict: true,
		OutputDir:        t.TempDir(),
	}, nil)
	h := NewAggregatorHandler(agg, nil)
	return SetupAggregatorRouter(h, NewRateLimiter(1000, time.Minute), testKey)
}

func postAggregate(t *testing.T, r *gin.Engine, req models.AggregateRequest) (*httptest.ResponseRecorder, models.AggregateResponse) {
	t.Helper()
	body, _ := json.Marshal(req)
	httpReq := httptest.NewRequest(http.MethodPost, "/api/v1/aggregate", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(APIKeyHeader, testKey)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httpReq)

	var resp models.AggregateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Undecodable response (HTTP %d): %s", w.Code, w.Body.String())
	}
	return w, resp
}

func TestAggregatorHandler_Completed(t *testing.T) {
	r := newAggregatorRouter(t)

	w, resp := postAggregate(t, r, models.AggregateRequest{
		RequestID:        "req-1",
		ExpectedServices: []string{models.ServiceLayering},
		Results: []models.ServiceResult{{
			ServiceName: models.ServiceLayering,
			Status:      models.WorkerSuccess,
			FinalStatus: true,
		}},
	})
	if w.Code != http.StatusOK || resp.Status != models.AggregateCompleted {
		t.Errorf("Expected 200 completed, got %d %+v", w.Code, resp)
	}
}

func TestAggregatorHandler_ValidationFailureIs422(t *testing.T) {
	r := newAggregatorRouter(t)

	w, resp := postAggregate(t, r, models.AggregateRequest{
		RequestID:        "req-1",
		ExpectedServices: []string{models.ServiceLayering, models.ServiceWashTrading},
		Results: []models.ServiceResult{{
			ServiceName: models.ServiceLayering,
			Status:      models.WorkerSuccess,
			FinalStatus: true,
		}},
	})
	if w.Code != http.StatusUnprocessableEntity || resp.Status != models.AggregateValidationFailed {
		t.Errorf("Expected 422 validation_failed, got %d %+v", w.Code, resp)
	}
}

func TestAggregatorHandler_RunsWithoutArchive(t *testing.T) {
	r := newAggregatorRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
	req.Header.Set(APIKeyHeader, testKey)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 when no archive is configured, got %d", w.Code)
	}
}

func TestAggregatorHandler_RejectsIncompleteRequest(t *testing.T) {
	r := newAggregatorRouter(t)

	w, resp := postAggregate(t, r, models.AggregateRequest{RequestID: "req-1"})
	if w.Code != http.StatusBadRequest || resp.Status != models.AggregateValidationFailed {
		t.Errorf("Expected 400 for a request without expected services, got %d %+v", w.Code, resp)
	}
}
