package models

// Wire contract shared by the coordinator, the detector workers and the
// aggregator. Every cross-component call is one-shot JSON over HTTP with
// these shapes; no component ever calls back upstream.

// APIKeyHeader carries the preshared key on every protected operation.
const APIKeyHeader = "X-API-Key"

// Wire status values for detect responses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusTimeout = "timeout"
)

// Terminal per-worker states tracked by the coordinator.
const (
	WorkerPending   = "PENDING"
	WorkerSuccess   = "SUCCESS"
	WorkerExhausted = "EXHAUSTED"
)

// Aggregate response statuses.
const (
	AggregateCompleted        = "completed"
	AggregateValidationFailed = "validation_failed"
)

// Expected worker service names.
const (
	ServiceLayering    = "layering"
	ServiceWashTrading = "wash_trading"
)

// DetectRequest is the payload the coordinator posts to a detector worker.
type DetectRequest struct {
	RequestID        string             `json:"request_id"`
	EventFingerprint string             `json:"event_fingerprint"`
	Events           []TransactionEvent `json:"events"`
}

// DetectResponse is a worker's structured reply. Workers always answer
// with this shape under normal conditions; transport-level failures are
// reserved for genuine transport faults.
type DetectResponse struct {
	RequestID   string               `json:"request_id"`
	ServiceName string               `json:"service_name"`
	Status      string               `json:"status"`
	Results     []SuspiciousSequence `json:"results"`
	Error       string               `json:"error,omitempty"`
}

// ServiceResult is the coordinator's terminal record for one worker,
// forwarded verbatim to the aggregator.
type ServiceResult struct {
	ServiceName string               `json:"service_name"`
	Status      string               `json:"status"`
	FinalStatus bool                 `json:"final_status"`
	RetryCount  int                  `json:"retry_count"`
	Results     []SuspiciousSequence `json:"results"`
	Error       string               `json:"error,omitempty"`
}

// AggregateRequest carries every worker's terminal result plus the list
// of workers the coordinator expected to hear from.
type AggregateRequest struct {
	RequestID        string          `json:"request_id"`
	ExpectedServices []string        `json:"expected_services"`
	Results          []ServiceResult `json:"results"`
}

// AggregateResponse reports the merge outcome.
type AggregateResponse struct {
	Status         string   `json:"status"`
	MergedCount    int      `json:"merged_count"`
	FailedServices []string `json:"failed_services"`
	Error          string   `json:"error,omitempty"`
}

// PipelineSummary is the coordinator's reply to the pipeline trigger.
type PipelineSummary struct {
	RequestID       string   `json:"request_id"`
	Status          string   `json:"status"`
	EventCount      int      `json:"event_count"`
	AggregatedCount int      `json:"aggregated_count"`
	FailedServices  []string `json:"failed_services"`
	Error           string   `json:"error,omitempty"`
}
