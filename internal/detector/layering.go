package detector

import (
	"sort"
	"time"

	"github.com/tradewatch/surveillance-engine/pkg/models"
)

// Layering: a burst of same-side placements (the spoof side), each
// cancelled shortly after, followed by an execution on the opposite side
// that profits from the price pressure the spoof orders created.
//
// The matcher runs in three stages per anchor placement:
//
//  1. Accumulate a run of >= 3 same-side placements within OrdersWindow
//     of the anchor.
//  2. Match every placement in the run to a distinct cancellation that
//     follows it and lands within CancelWindow of the run's last
//     placement, with no same-side execution interposed between a
//     placement and its cancellation (the timing-only proxy for "the
//     order filled before it was cancelled").
//  3. Find at least one opposite-side execution strictly after the last
//     matched cancellation and within OppositeTradeWindow of it.
//
// Matched placements and cancellations are consumed: no cancellation is
// attributed to two sequences within the same group.

// indexThreshold is the group size at which the matcher switches from a
// linear scan to the binary-search index.
const indexThreshold = 100

// LayeringDetector is the grouped, time-windowed three-stage matcher.
type LayeringDetector struct {
	cfg models.DetectionConfig
}

// NewLayeringDetector builds a detector with the given windows. The
// config must already satisfy Validate.
func NewLayeringDetector(cfg models.DetectionConfig) *LayeringDetector {
	return &LayeringDetector{cfg: cfg}
}

// Name implements Detector.
func (d *LayeringDetector) Name() string { return models.ServiceLayering }

// Detect implements Detector.
func (d *LayeringDetector) Detect(events []models.TransactionEvent) []models.SuspiciousSequence {
	keys, groups := groupAndSort(events)

	var findings []models.SuspiciousSequence
	for _, k := range keys {
		findings = append(findings, d.detectGroup(groups[k])...)
	}
	sortFindings(findings)
	return findings
}

// groupView answers the two window queries the matcher needs. The linear
// implementation scans the sorted slice; the indexed one resolves each
// query with binary search over per-(type,side) position lists.
type groupView interface {
	// anyBetween reports whether an event of (et, side) exists at a
	// sorted position strictly between lo and hi.
	anyBetween(et models.EventType, side models.Side, lo, hi int) bool
	// after returns sorted positions of (et, side) events with position
	// > lo and timestamp <= maxTs, ascending.
	after(et models.EventType, side models.Side, lo int, maxTs time.Time) []int
}

func newGroupView(events []models.TransactionEvent) groupView {
	if len(events) < indexThreshold {
		return linearView(events)
	}
	return newIndexedView(events)
}

type linearView []models.TransactionEvent

func (v linearView) anyBetween(et models.EventType, side models.Side, lo, hi int) bool {
	for i := lo + 1; i < hi && i < len(v); i++ {
		if v[i].EventType == et && v[i].Side == side {
			return true
		}
	}
	return false
}

func (v linearView) after(et models.EventType, side models.Side, lo int, maxTs time.Time) []int {
	var out []int
	for i := lo + 1; i < len(v); i++ {
		if v[i].Timestamp.After(maxTs) {
			break
		}
		if v[i].EventType == et && v[i].Side == side {
			out = append(out, i)
		}
	}
	return out
}

type viewKey struct {
	et   models.EventType
	side models.Side
}

// indexedView maps (event_type, side) to the ascending positions of the
// matching events. Positions ascend with timestamps, so every window
// query is two binary searches plus the matched range.
type indexedView struct {
	events  []models.TransactionEvent
	buckets map[viewKey][]int
}

func newIndexedView(events []models.TransactionEvent) *indexedView {
	v := &indexedView{events: events, buckets: make(map[viewKey][]int)}
	for i, ev := range events {
		k := viewKey{et: ev.EventType, side: ev.Side}
		v.buckets[k] = append(v.buckets[k], i)
	}
	return v
}

func (v *indexedView) anyBetween(et models.EventType, side models.Side, lo, hi int) bool {
	bucket := v.buckets[viewKey{et: et, side: side}]
	p := sort.SearchInts(bucket, lo+1)
	return p < len(bucket) && bucket[p] < hi
}

func (v *indexedView) after(et models.EventType, side models.Side, lo int, maxTs time.Time) []int {
	bucket := v.buckets[viewKey{et: et, side: side}]
	p := sort.SearchInts(bucket, lo+1)
	var out []int
	for ; p < len(bucket); p++ {
		if v.events[bucket[p]].Timestamp.After(maxTs) {
			break
		}
		out = append(out, bucket[p])
	}
	return out
}

// detectGroup runs the three-stage matcher over one sorted group.
func (d *LayeringDetector) detectGroup(events []models.TransactionEvent) []models.SuspiciousSequence {
	return d.matchGroup(events, newGroupView(events))
}

// matchGroup is the strategy-independent matcher; the view decides
// whether window queries scan or binary-search.
func (d *LayeringDetector) matchGroup(events []models.TransactionEvent, view groupView) []models.SuspiciousSequence {
	var placements []int
	for i, ev := range events {
		if ev.EventType == models.EventOrderPlaced {
			placements = append(placements, i)
		}
	}

	usedPlacement := make(map[int]bool)
	usedCancel := make(map[int]bool)

	var findings []models.SuspiciousSequence
	i := 0
	for i < len(placements) {
		anchorIdx := placements[i]
		if usedPlacement[anchorIdx] {
			i++
			continue
		}
		anchor := events[anchorIdx]
		side := anchor.Side

		// Stage 1: extend the same-side run while placements stay
		// within OrdersWindow of the anchor. Boundary inclusive.
		run := []int{anchorIdx}
		lastRunPos := i
		for j := i + 1; j < len(placements); j++ {
			p := placements[j]
			if usedPlacement[p] || events[p].Side != side {
				continue
			}
			if events[p].Timestamp.Sub(anchor.Timestamp) > d.cfg.OrdersWindow {
				break
			}
			run = append(run, p)
			lastRunPos = j
		}
		if len(run) < 3 {
			i++
			continue
		}

		// Stage 2: one distinct cancellation per placement, greedy
		// earliest. The cancellation deadline runs from the last
		// placement of the run; events carry no order ids, so a burst
		// is cancelled as a unit. A same-side execution between a
		// placement and its candidate cancellation disqualifies the
		// placement outright.
		cancelDeadline := events[run[len(run)-1]].Timestamp.Add(d.cfg.CancelWindow)
		matched := make(map[int]bool, len(run))
		lastCancel := -1
		ok := true
		for _, p := range run {
			found := -1
			for _, c := range view.after(models.EventOrderCancelled, side, p, cancelDeadline) {
				if usedCancel[c] || matched[c] {
					continue
				}
				if view.anyBetween(models.EventTradeExecuted, side, p, c) {
					break
				}
				found = c
				break
			}
			if found < 0 {
				ok = false
				break
			}
			matched[found] = true
			if found > lastCancel {
				lastCancel = found
			}
		}
		if !ok {
			i++
			continue
		}

		// Stage 3: opposite-side execution strictly after the last
		// cancellation, within OppositeTradeWindow of it.
		lastCancelTs := events[lastCancel].Timestamp
		tradeDeadline := lastCancelTs.Add(d.cfg.OppositeTradeWindow)
		var completing []int
		for _, t := range view.after(models.EventTradeExecuted, side.Opposite(), lastCancel, tradeDeadline) {
			if events[t].Timestamp.After(lastCancelTs) {
				completing = append(completing, t)
			}
		}
		if len(completing) == 0 {
			i++
			continue
		}

		findings = append(findings, d.emit(events, side, run, completing))

		// Non-overlap: consume the matched orders and advance the
		// anchor past the last placement in the run.
		for _, p := range run {
			usedPlacement[p] = true
		}
		for c := range matched {
			usedCancel[c] = true
		}
		i = lastRunPos + 1
	}
	return findings
}

func (d *LayeringDetector) emit(events []models.TransactionEvent, side models.Side, run, completing []int) models.SuspiciousSequence {
	var spoofQty, oppositeQty int64
	orderTimestamps := make([]time.Time, len(run))
	for i, p := range run {
		spoofQty += events[p].Quantity
		orderTimestamps[i] = events[p].Timestamp
	}
	for _, t := range completing {
		oppositeQty += events[t].Quantity
	}

	anchor := events[run[0]]
	seq := models.SuspiciousSequence{
		AccountID:          anchor.AccountID,
		ProductID:          anchor.ProductID,
		StartTimestamp:     anchor.Timestamp,
		EndTimestamp:       events[completing[len(completing)-1]].Timestamp,
		DetectionType:      models.DetectionLayering,
		Side:               &side,
		NumCancelledOrders: len(run),
		OrderTimestamps:    orderTimestamps,
	}
	if side == models.SideBuy {
		seq.TotalBuyQty = spoofQty
		seq.TotalSellQty = oppositeQty
	} else {
		seq.TotalSellQty = spoofQty
		seq.TotalBuyQty = oppositeQty
	}
	return seq
}
