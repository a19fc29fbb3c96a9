package models

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the order/trade side of a transaction event.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side (BUY<->SELL).
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid reports whether the side is one of the two known values.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// EventType classifies a transaction event.
type EventType string

const (
	EventOrderPlaced    EventType = "ORDER_PLACED"
	EventOrderCancelled EventType = "ORDER_CANCELLED"
	EventTradeExecuted  EventType = "TRADE_EXECUTED"
)

// Valid reports whether the event type is one of the three known values.
func (e EventType) Valid() bool {
	switch e {
	case EventOrderPlaced, EventOrderCancelled, EventTradeExecuted:
		return true
	}
	return false
}

// Rank gives the stable secondary sort key for events sharing a timestamp:
// PLACED < CANCELLED < EXECUTED. Unknown types sort last.
func (e EventType) Rank() int {
	switch e {
	case EventOrderPlaced:
		return 0
	case EventOrderCancelled:
		return 1
	case EventTradeExecuted:
		return 2
	}
	return 3
}

// DetectionType names the manipulation pattern a finding belongs to.
type DetectionType string

const (
	DetectionLayering    DetectionType = "LAYERING"
	DetectionWashTrading DetectionType = "WASH_TRADING"
)

// TransactionEvent is an immutable intraday trading event. Two events with
// identical fields are indistinguishable; detectors never mutate them.
type TransactionEvent struct {
	Timestamp time.Time       `json:"timestamp"`
	AccountID string          `json:"account_id"`
	ProductID string          `json:"product_id"`
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int64           `json:"quantity"`
	EventType EventType       `json:"event_type"`
}

// Validate checks the field-level invariants: known enums, strictly
// positive price and quantity, and a non-zero timestamp.
func (e TransactionEvent) Validate() error {
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is zero")
	}
	if e.AccountID == "" {
		return fmt.Errorf("account_id is empty")
	}
	if e.ProductID == "" {
		return fmt.Errorf("product_id is empty")
	}
	if !e.Side.Valid() {
		return fmt.Errorf("invalid side %q", e.Side)
	}
	if !e.Price.IsPositive() {
		return fmt.Errorf("price %s is not strictly positive", e.Price)
	}
	if e.Quantity <= 0 {
		return fmt.Errorf("quantity %d is not strictly positive", e.Quantity)
	}
	if !e.EventType.Valid() {
		return fmt.Errorf("invalid event_type %q", e.EventType)
	}
	return nil
}

// SuspiciousSequence is one detected manipulation pattern. The common
// fields are always present; the layering and wash-trading fields are
// populated per DetectionType and omitted on the wire otherwise.
type SuspiciousSequence struct {
	AccountID      string        `json:"account_id"`
	ProductID      string        `json:"product_id"`
	StartTimestamp time.Time     `json:"start_timestamp"`
	EndTimestamp   time.Time     `json:"end_timestamp"`
	TotalBuyQty    int64         `json:"total_buy_qty"`
	TotalSellQty   int64         `json:"total_sell_qty"`
	DetectionType  DetectionType `json:"detection_type"`

	// Layering only.
	Side               *Side       `json:"side,omitempty"`
	NumCancelledOrders int         `json:"num_cancelled_orders,omitempty"`
	OrderTimestamps    []time.Time `json:"order_timestamps,omitempty"`

	// Wash trading only. PriceChangePercentage is present only when >= 1.
	AlternationPercentage *float64 `json:"alternation_percentage,omitempty"`
	PriceChangePercentage *float64 `json:"price_change_percentage,omitempty"`
}

// DedupKey identifies a finding for the aggregator's deduplication pass.
type DedupKey struct {
	AccountID      string
	ProductID      string
	StartTimestamp time.Time
	EndTimestamp   time.Time
	DetectionType  DetectionType
}

// Key returns the deduplication identity of the sequence.
func (s SuspiciousSequence) Key() DedupKey {
	return DedupKey{
		AccountID:      s.AccountID,
		ProductID:      s.ProductID,
		StartTimestamp: s.StartTimestamp,
		EndTimestamp:   s.EndTimestamp,
		DetectionType:  s.DetectionType,
	}
}

// SortFindings imposes the canonical deterministic order on a findings
// list: (account_id, product_id, end_timestamp, detection_type). Both
// detectors and the aggregator sort with this before emitting.
func SortFindings(findings []SuspiciousSequence) {
	sort.SliceStable(findings, func(a, b int) bool {
		fa, fb := findings[a], findings[b]
		if fa.AccountID != fb.AccountID {
			return fa.AccountID < fb.AccountID
		}
		if fa.ProductID != fb.ProductID {
			return fa.ProductID < fb.ProductID
		}
		if !fa.EndTimestamp.Equal(fb.EndTimestamp) {
			return fa.EndTimestamp.Before(fb.EndTimestamp)
		}
		return fa.DetectionType < fb.DetectionType
	})
}

// DetectionConfig holds the layering detector windows. All durations must
// be strictly positive.
type DetectionConfig struct {
	OrdersWindow        time.Duration
	CancelWindow        time.Duration
	OppositeTradeWindow time.Duration
}

// DefaultDetectionConfig returns the production defaults (10s / 5s / 2s).
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		OrdersWindow:        10 * time.Second,
		CancelWindow:        5 * time.Second,
		OppositeTradeWindow: 2 * time.Second,
	}
}

// Validate enforces the positivity invariant on every window.
func (c DetectionConfig) Validate() error {
	if c.OrdersWindow <= 0 || c.CancelWindow <= 0 || c.OppositeTradeWindow <= 0 {
		return fmt.Errorf("detection windows must be strictly positive: %+v", c)
	}
	return nil
}

// WashTradingConfig holds the wash-trading thresholds. Constants in
// production but carried as config so tests can tighten or relax them.
type WashTradingConfig struct {
	Window            time.Duration
	MinTradesPerSide  int
	MinTotalQuantity  int64
	MinAlternationPct float64
	MinPriceChangePct float64
}

// DefaultWashTradingConfig returns the production thresholds
// (30min window, 3 trades per side, 10000 volume, 60% alternation, 1% price move).
func DefaultWashTradingConfig() WashTradingConfig {
	return WashTradingConfig{
		Window:            30 * time.Minute,
		MinTradesPerSide:  3,
		MinTotalQuantity:  10000,
		MinAlternationPct: 60,
		MinPriceChangePct: 1,
	}
}

// Validate enforces the positivity invariant on every threshold.
func (c WashTradingConfig) Validate() error {
	if c.Window <= 0 || c.MinTradesPerSide <= 0 || c.MinTotalQuantity <= 0 ||
		c.MinAlternationPct <= 0 || c.MinPriceChangePct <= 0 {
		return fmt.Errorf("wash-trading thresholds must be strictly positive: %+v", c)
	}
	return nil
}
