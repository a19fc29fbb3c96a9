package detector

import (
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradewatch/surveillance-engine/pkg/models"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func ev(tstr string, side models.Side, price string, qty int64, et models.EventType) models.TransactionEvent {
	return models.TransactionEvent{
		Timestamp: ts(tstr),
		AccountID: "ACC001",
		ProductID: "IBM",
		Side:      side,
		Price:     decimal.RequireFromString(price),
		Quantity:  qty,
		EventType: et,
	}
}

// canonicalLayeringEvents is the classic spoof: three BUY placements,
// three cancellations, one opposite SELL execution.
func canonicalLayeringEvents() []models.TransactionEvent {
	return []models.TransactionEvent{
		ev("2025-01-15T10:30:00Z", models.SideBuy, "100.50", 1000, models.EventOrderPlaced),
		ev("2025-01-15T10:30:02Z", models.SideBuy, "100.60", 1000, models.EventOrderPlaced),
		ev("2025-01-15T10:30:04Z", models.SideBuy, "100.70", 1000, models.EventOrderPlaced),
		ev("2025-01-15T10:30:06Z", models.SideBuy, "100.50", 1000, models.EventOrderCancelled),
		ev("2025-01-15T10:30:07Z", models.SideBuy, "100.60", 1000, models.EventOrderCancelled),
		ev("2025-01-15T10:30:08Z", models.SideBuy, "100.70", 1000, models.EventOrderCancelled),
		ev("2025-01-15T10:30:09Z", models.SideSell, "100.40", 500, models.EventTradeExecuted),
	}
}

func TestLayering_CanonicalMatch(t *testing.T) {
	d := NewLayeringDetector(models.DefaultDetectionConfig())
	findings := d.Detect(canonicalLayeringEvents())

	if len(findings) != 1 {
		t.Fatalf("Expected exactly 1 layering finding, got %d", len(findings))
	}
	f := findings[0]
	if f.DetectionType != models.DetectionLayering {
		t.Errorf("Expected LAYERING, got %s", f.DetectionType)
	}
	if f.Side == nil || *f.Side != models.SideBuy {
		t.Errorf("Expected spoof side BUY, got %v", f.Side)
	}
	if f.NumCancelledOrders != 3 {
		t.Errorf("Expected 3 cancelled orders, got %d", f.NumCancelledOrders)
	}
	if f.TotalBuyQty != 3000 {
		t.Errorf("Expected total_buy_qty 3000, got %d", f.TotalBuyQty)
	}
	if f.TotalSellQty != 500 {
		t.Errorf("Expected total_sell_qty 500, got %d", f.TotalSellQty)
	}
	if !f.StartTimestamp.Equal(ts("2025-01-15T10:30:00Z")) {
		t.Errorf("Expected start at anchor placement, got %s", f.StartTimestamp)
	}
	if !f.EndTimestamp.Equal(ts("2025-01-15T10:30:09Z")) {
		t.Errorf("Expected end at completing trade, got %s", f.EndTimestamp)
	}
	if len(f.OrderTimestamps) != 3 || !f.OrderTimestamps[0].Equal(ts("2025-01-15T10:30:00Z")) {
		t.Errorf("Expected 3 placement timestamps starting at the anchor, got %v", f.OrderTimestamps)
	}
}

func TestLayering_LateCancellationDisqualifies(t *testing.T) {
	// Last cancellation arrives 6s after its placement, outside the
	// 5s cancel window: the whole run fails.
	events := canonicalLayeringEvents()
	events[5] = ev("2025-01-15T10:30:10Z", models.SideBuy, "100.70", 1000, models.EventOrderCancelled)

	d := NewLayeringDetector(models.DefaultDetectionConfig())
	if findings := d.Detect(events); len(findings) != 0 {
		t.Errorf("Expected no findings with a late cancellation, got %d", len(findings))
	}
}

func TestLayering_MissingOppositeTradeDisqualifies(t *testing.T) {
	events := canonicalLayeringEvents()[:6]

	d := NewLayeringDetector(models.DefaultDetectionConfig())
	if findings := d.Detect(events); len(findings) != 0 {
		t.Errorf("Expected no findings without a completing trade, got %d", len(findings))
	}
}

func TestLayering_TwoPlacementsAreNotEnough(t *testing.T) {
	events := []models.TransactionEvent{
		ev("2025-01-15T10:30:00Z", models.SideBuy, "100.50", 1000, models.EventOrderPlaced),
		ev("2025-01-15T10:30:02Z", models.SideBuy, "100.60", 1000, models.EventOrderPlaced),
		ev("2025-01-15T10:30:03Z", models.SideBuy, "100.50", 1000, models.EventOrderCancelled),
		ev("2025-01-15T10:30:04Z", models.SideBuy, "100.60", 1000, models.EventOrderCancelled),
		ev("2025-01-15T10:30:05Z", models.SideSell, "100.40", 500, models.EventTradeExecuted),
	}

	d := NewLayeringDetector(models.DefaultDetectionConfig())
	if findings := d.Detect(events); len(findings) != 0 {
		t.Errorf("Expected no findings with only 2 placements, got %d", len(findings))
	}
}

func TestLayering_OrdersWindowBoundary(t *testing.T) {
	// Third placement exactly at the 10s window edge is included; one
	// second past it is excluded and the run collapses to 2 placements.
	base := []models.TransactionEvent{
		ev("2025-01-15T10:30:00Z", models.SideBuy, "100.50", 1000, models.EventOrderPlaced),
		ev("2025-01-15T10:30:05Z", models.SideBuy, "100.60", 1000, models.EventOrderPlaced),
		ev("2025-01-15T10:30:10Z", models.SideBuy, "100.70", 1000, models.EventOrderPlaced),
		ev("2025-01-15T10:30:11Z", models.SideBuy, "100.50", 1000, models.EventOrderCancelled),
		ev("2025-01-15T10:30:12Z", models.SideBuy, "100.60", 1000, models.EventOrderCancelled),
		ev("2025-01-15T10:30:13Z", models.SideBuy, "100.70", 1000, models.EventOrderCancelled),
		ev("2025-01-15T10:30:14Z", models.SideSell, "100.40", 500, models.EventTradeExecuted),
	}

	d := NewLayeringDetector(models.DefaultDetectionConfig())
	if findings := d.Detect(base); len(findings) != 1 {
		t.Fatalf("Expected placement at the exact window edge to count, got %d findings", len(findings))
	}

	past := append([]models.TransactionEvent(nil), base...)
	past[2] = ev("2025-01-15T10:30:11Z", models.SideBuy, "100.70", 1000, models.EventOrderPlaced)
	if findings := d.Detect(past); len(findings) != 0 {
		t.Errorf("Expected placement past the window edge to break the run, got %d findings", len(findings))
	}
}

func TestLayering_InterposedExecutionDisqualifies(t *testing.T) {
	// A same-side execution lands between the second placement and its
	// cancellation: timing says the order filled before it was
	// cancelled, so the run is disqualified.
	events := canonicalLayeringEvents()
	events = append(events,
		ev("2025-01-15T10:30:03Z", models.SideBuy, "100.60", 1000, models.EventTradeExecuted))

	d := NewLayeringDetector(models.DefaultDetectionConfig())
	if findings := d.Detect(events); len(findings) != 0 {
		t.Errorf("Expected interposed same-side execution to disqualify, got %d findings", len(findings))
	}
}

func TestLayering_DistinctCancellationsRequired(t *testing.T) {
	// Three placements but only two cancellations: the third placement
	// cannot reuse an already-matched cancellation.
	events := []models.TransactionEvent{
		ev("2025-01-15T10:30:00Z", models.SideBuy, "100.50", 1000, models.EventOrderPlaced),
		ev("2025-01-15T10:30:01Z", models.SideBuy, "100.60", 1000, models.EventOrderPlaced),
		ev("2025-01-15T10:30:02Z", models.SideBuy, "100.70", 1000, models.EventOrderPlaced),
		ev("2025-01-15T10:30:03Z", models.SideBuy, "100.50", 1000, models.EventOrderCancelled),
		ev("2025-01-15T10:30:04Z", models.SideBuy, "100.60", 1000, models.EventOrderCancelled),
		ev("2025-01-15T10:30:05Z", models.SideSell, "100.40", 500, models.EventTradeExecuted),
	}

	d := NewLayeringDetector(models.DefaultDetectionConfig())
	if findings := d.Detect(events); len(findings) != 0 {
		t.Errorf("Expected no findings when cancellations cannot be matched distinctly, got %d", len(findings))
	}
}

func TestLayering_ConsumedOrdersAreNotReused(t *testing.T) {
	// Two back-to-back bursts in the same group must yield two disjoint
	// sequences; no cancellation may appear in both.
	events := canonicalLayeringEvents()
	second := []models.TransactionEvent{
		ev("2025-01-15T10:31:00Z", models.SideBuy, "101.50", 500, models.EventOrderPlaced),
		ev("2025-01-15T10:31:01Z", models.SideBuy, "101.60", 500, models.EventOrderPlaced),
		ev("2025-01-15T10:31:02Z", models.SideBuy, "101.70", 500, models.EventOrderPlaced),
		ev("2025-01-15T10:31:03Z", models.SideBuy, "101.50", 500, models.EventOrderCancelled),
		ev("2025-01-15T10:31:04Z", models.SideBuy, "101.60", 500, models.EventOrderCancelled),
		ev("2025-01-15T10:31:05Z", models.SideBuy, "101.70", 500, models.EventOrderCancelled),
		ev("2025-01-15T10:31:06Z", models.SideSell, "101.40", 300, models.EventTradeExecuted),
	}
	events = append(events, second...)

	d := NewLayeringDetector(models.DefaultDetectionConfig())
	findings := d.Detect(events)
	if len(findings) != 2 {
		t.Fatalf("Expected 2 disjoint sequences, got %d", len(findings))
	}
	if findings[0].EndTimestamp.Equal(findings[1].EndTimestamp) {
		t.Errorf("Expected distinct sequences, both end at %s", findings[0].EndTimestamp)
	}
	if findings[0].TotalBuyQty != 3000 || findings[1].TotalBuyQty != 1500 {
		t.Errorf("Expected buy quantities 3000 and 1500, got %d and %d",
			findings[0].TotalBuyQty, findings[1].TotalBuyQty)
	}
}

func TestLayering_SellSideSpoof(t *testing.T) {
	// Mirror pattern: SELL placements spoofing, BUY execution completes.
	events := []models.TransactionEvent{
		ev("2025-01-15T10:30:00Z", models.SideSell, "100.50", 1000, models.EventOrderPlaced),
		ev("2025-01-15T10:30:02Z", models.SideSell, "100.40", 1000, models.EventOrderPlaced),
		ev("2025-01-15T10:30:04Z", models.SideSell, "100.30", 1000, models.EventOrderPlaced),
		ev("2025-01-15T10:30:06Z", models.SideSell, "100.50", 1000, models.EventOrderCancelled),
		ev("2025-01-15T10:30:07Z", models.SideSell, "100.40", 1000, models.EventOrderCancelled),
		ev("2025-01-15T10:30:08Z", models.SideSell, "100.30", 1000, models.EventOrderCancelled),
		ev("2025-01-15T10:30:09Z", models.SideBuy, "100.60", 700, models.EventTradeExecuted),
	}

	d := NewLayeringDetector(models.DefaultDetectionConfig())
	findings := d.Detect(events)
	if len(findings) != 1 {
		t.Fatalf("Expected 1 finding for the SELL-side spoof, got %d", len(findings))
	}
	f := findings[0]
	if f.Side == nil || *f.Side != models.SideSell {
		t.Errorf("Expected spoof side SELL, got %v", f.Side)
	}
	if f.TotalSellQty != 3000 || f.TotalBuyQty != 700 {
		t.Errorf("Expected sell 3000 / buy 700, got sell %d / buy %d", f.TotalSellQty, f.TotalBuyQty)
	}
}

func TestLayering_OppositeTradeWindowBoundary(t *testing.T) {
	// Completing trade exactly 2s after the last cancellation counts;
	// 3s after does not.
	events := canonicalLayeringEvents()[:6]
	atEdge := append(append([]models.TransactionEvent(nil), events...),
		ev("2025-01-15T10:30:10Z", models.SideSell, "100.40", 500, models.EventTradeExecuted))
	pastEdge := append(append([]models.TransactionEvent(nil), events...),
		ev("2025-01-15T10:30:11Z", models.SideSell, "100.40", 500, models.EventTradeExecuted))

	d := NewLayeringDetector(models.DefaultDetectionConfig())
	if findings := d.Detect(atEdge); len(findings) != 1 {
		t.Errorf("Expected trade at the exact opposite window edge to complete the pattern, got %d findings", len(findings))
	}
	if findings := d.Detect(pastEdge); len(findings) != 0 {
		t.Errorf("Expected trade past the opposite window edge to be ignored, got %d findings", len(findings))
	}
}

func TestLayering_EmptyInput(t *testing.T) {
	d := NewLayeringDetector(models.DefaultDetectionConfig())
	if findings := d.Detect(nil); len(findings) != 0 {
		t.Errorf("Expected no findings on empty input, got %d", len(findings))
	}
}

// TestLayering_IndexedMatchesLinear feeds the same large group through
// both execution strategies and requires byte-identical output.
func TestLayering_IndexedMatchesLinear(t *testing.T) {
	var events []models.TransactionEvent
	base := ts("2025-01-15T09:00:00Z")

	// 40 bursts of placement/cancel/execute triples, some of which form
	// complete layering patterns, interleaved with noise trades.
	for burst := 0; burst < 40; burst++ {
		start := base.Add(time.Duration(burst) * time.Minute)
		for i := 0; i < 3; i++ {
			events = append(events, models.TransactionEvent{
				Timestamp: start.Add(time.Duration(i) * time.Second),
				AccountID: "ACC100", ProductID: "MSFT", Side: models.SideBuy,
				Price:    decimal.New(int64(10000+burst*10+i), -2),
				Quantity: 100, EventType: models.EventOrderPlaced,
			})
		}
		// Every third burst is left uncancelled (no pattern).
		if burst%3 != 0 {
			for i := 0; i < 3; i++ {
				events = append(events, models.TransactionEvent{
					Timestamp: start.Add(time.Duration(4+i) * time.Second),
					AccountID: "ACC100", ProductID: "MSFT", Side: models.SideBuy,
					Price:    decimal.New(int64(10000+burst*10+i), -2),
					Quantity: 100, EventType: models.EventOrderCancelled,
				})
			}
			events = append(events, models.TransactionEvent{
				Timestamp: start.Add(7 * time.Second),
				AccountID: "ACC100", ProductID: "MSFT", Side: models.SideSell,
				Price:    decimal.New(int64(9990+burst), -2),
				Quantity: 50, EventType: models.EventTradeExecuted,
			})
		}
	}
	if len(events) < indexThreshold {
		t.Fatalf("Test group must exceed the index threshold, got %d events", len(events))
	}

	d := NewLayeringDetector(models.DefaultDetectionConfig())
	_, groups := groupAndSort(events)
	sorted := groups[groupKey{account: "ACC100", product: "MSFT"}]

	linear := d.matchGroup(sorted, linearView(sorted))
	indexed := d.matchGroup(sorted, newIndexedView(sorted))

	if !reflect.DeepEqual(linear, indexed) {
		t.Fatalf("Linear and indexed strategies diverge:\nlinear:  %v\nindexed: %v", linear, indexed)
	}
	if len(linear) == 0 {
		t.Error("Expected the synthetic bursts to produce findings")
	}
}

func TestLayering_DeterministicAcrossShuffles(t *testing.T) {
	events := canonicalLayeringEvents()
	// A fixed permutation of the input must not change the output.
	shuffled := []models.TransactionEvent{
		events[4], events[0], events[6], events[2], events[5], events[1], events[3],
	}

	d := NewLayeringDetector(models.DefaultDetectionConfig())
	a := d.Detect(events)
	b := d.Detect(shuffled)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("Detection output depends on input order:\n%v\n%v", a, b)
	}
}
