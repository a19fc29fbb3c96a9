package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/tradewatch/surveillance-engine/pkg/models"
)

// Error/retry taxonomy. Retryable: timeouts, connection failures and
// server-side faults (5xx, 429). Non-retryable: client errors (other
// 4xx), malformed responses and schema violations. Exhausting retries
// or hitting a non-retryable error makes a worker EXHAUSTED.

// callError carries the classification alongside the sanitised message.
type callError struct {
	msg       string
	retryable bool
}

func (e *callError) Error() string { return e.msg }

func retryableErr(format string, args ...any) error {
	return &callError{msg: fmt.Sprintf(format, args...), retryable: true}
}

func permanentErr(format string, args ...any) error {
	return &callError{msg: fmt.Sprintf(format, args...), retryable: false}
}

// isRetryable classifies any error returned by a worker call.
func isRetryable(err error) bool {
	var ce *callError
	if errors.As(err, &ce) {
		return ce.retryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// Client posts one-shot JSON requests to workers and the aggregator.
type Client struct {
	httpClient *http.Client
	apiKey     string
}

// NewClient builds a client authenticating with the preshared key. The
// per-call deadline comes from the caller's context, so the underlying
// http.Client carries no timeout of its own.
func NewClient(apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{},
		apiKey:     apiKey,
	}
}

// Detect posts a detect request to a worker and decodes the structured
// reply. HTTP and wire statuses are folded into the taxonomy above.
func (c *Client) Detect(ctx context.Context, url string, req models.DetectRequest) (*models.DetectResponse, error) {
	body, status, err := c.post(ctx, url+"/api/v1/detect", req)
	if err != nil {
		return nil, err
	}

	var resp models.DetectResponse
	if decodeErr := json.Unmarshal(body, &resp); decodeErr != nil {
		return nil, permanentErr("malformed detect response (HTTP %d)", status)
	}

	switch {
	case status >= 500 || status == http.StatusTooManyRequests:
		return nil, retryableErr("worker transient failure (HTTP %d): %s", status, resp.Error)
	case status >= 400:
		return nil, permanentErr("worker rejected request (HTTP %d): %s", status, resp.Error)
	}

	if resp.Status != models.StatusSuccess {
		// A 2xx carrying a non-success wire status is a contract
		// violation; do not retry into it.
		return nil, permanentErr("worker returned status %q", resp.Status)
	}
	return &resp, nil
}

// Aggregate submits the collected worker results. Never retried; errors
// surface verbatim to the caller.
func (c *Client) Aggregate(ctx context.Context, url string, req models.AggregateRequest) (*models.AggregateResponse, error) {
	body, status, err := c.post(ctx, url+"/api/v1/aggregate", req)
	if err != nil {
		return nil, err
	}

	var resp models.AggregateResponse
	if decodeErr := json.Unmarshal(body, &resp); decodeErr != nil {
		return nil, fmt.Errorf("malformed aggregate response (HTTP %d)", status)
	}
	if status != http.StatusOK {
		return &resp, fmt.Errorf("aggregator returned HTTP %d: %s", status, resp.Error)
	}
	return &resp, nil
}

// post encodes the payload and returns the raw response body and status.
// Transport errors come back classified as retryable.
func (c *Client) post(ctx context.Context, url string, payload any) ([]byte, int, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, permanentErr("encode request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, 0, permanentErr("build request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set(models.APIKeyHeader, c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, 0, err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, 0, retryableErr("call %s: timed out", url)
		}
		return nil, 0, retryableErr("call %s: connection failure", url)
	}
	defer httpResp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(httpResp.Body); err != nil {
		return nil, 0, retryableErr("read response from %s: %v", url, err)
	}
	return buf.Bytes(), httpResp.StatusCode, nil
}
