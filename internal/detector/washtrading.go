package detector

import (
	"github.com/shopspring/decimal"
	"github.com/tradewatch/surveillance-engine/pkg/models"
)

// Wash trading: repeated self-crossing buy/sell activity that inflates
// apparent volume. The detector filters the batch to executions and
// sweeps a two-pointer sliding window per group, so each group costs
// O(n): every trade enters and leaves the window exactly once, and the
// alternation and volume counters are maintained incrementally.

// WashTradingDetector is the sliding-window alternation/volume analyser.
type WashTradingDetector struct {
	cfg models.WashTradingConfig
}

// NewWashTradingDetector builds a detector with the given thresholds.
// The config must already satisfy Validate.
func NewWashTradingDetector(cfg models.WashTradingConfig) *WashTradingDetector {
	return &WashTradingDetector{cfg: cfg}
}

// Name implements Detector.
func (d *WashTradingDetector) Name() string { return models.ServiceWashTrading }

// Detect implements Detector.
func (d *WashTradingDetector) Detect(events []models.TransactionEvent) []models.SuspiciousSequence {
	var trades []models.TransactionEvent
	for _, ev := range events {
		if ev.EventType == models.EventTradeExecuted {
			trades = append(trades, ev)
		}
	}

	keys, groups := groupAndSort(trades)
	var findings []models.SuspiciousSequence
	for _, k := range keys {
		findings = append(findings, d.detectGroup(groups[k])...)
	}
	sortFindings(findings)
	return findings
}

// windowState carries the incrementally maintained metrics of the
// current [left, right] trade window.
type windowState struct {
	buyCount  int
	sellCount int
	buyQty    int64
	sellQty   int64
	switches  int // adjacent pairs in the window whose sides differ
}

func (w *windowState) add(t models.TransactionEvent) {
	if t.Side == models.SideBuy {
		w.buyCount++
		w.buyQty += t.Quantity
	} else {
		w.sellCount++
		w.sellQty += t.Quantity
	}
}

func (w *windowState) remove(t models.TransactionEvent) {
	if t.Side == models.SideBuy {
		w.buyCount--
		w.buyQty -= t.Quantity
	} else {
		w.sellCount--
		w.sellQty -= t.Quantity
	}
}

func (w *windowState) count() int      { return w.buyCount + w.sellCount }
func (w *windowState) totalQty() int64 { return w.buyQty + w.sellQty }

// alternationPct is (side switches) / (trades - 1) * 100 over the window.
func (w *windowState) alternationPct() float64 {
	if w.count() < 2 {
		return 0
	}
	return float64(w.switches) / float64(w.count()-1) * 100
}

func (d *WashTradingDetector) detectGroup(trades []models.TransactionEvent) []models.SuspiciousSequence {
	var findings []models.SuspiciousSequence
	var w windowState

	left := 0
	for right := 0; right < len(trades); right++ {
		w.add(trades[right])
		if right > left && trades[right].Side != trades[right-1].Side {
			w.switches++
		}

		// Slide: the window bound is inclusive, a trade exactly
		// Window after the left edge stays in.
		for trades[right].Timestamp.Sub(trades[left].Timestamp) > d.cfg.Window {
			w.remove(trades[left])
			if left+1 <= right && trades[left].Side != trades[left+1].Side {
				w.switches--
			}
			left++
		}

		if w.buyCount < d.cfg.MinTradesPerSide || w.sellCount < d.cfg.MinTradesPerSide {
			continue
		}
		if w.totalQty() < d.cfg.MinTotalQuantity {
			continue
		}
		alternation := w.alternationPct()
		if alternation < d.cfg.MinAlternationPct {
			continue
		}

		findings = append(findings, d.emit(trades, left, right, &w, alternation))

		// One emission per burst: jump the window past the match.
		left = right + 1
		w = windowState{}
	}
	return findings
}

func (d *WashTradingDetector) emit(trades []models.TransactionEvent, left, right int, w *windowState, alternation float64) models.SuspiciousSequence {
	seq := models.SuspiciousSequence{
		AccountID:             trades[left].AccountID,
		ProductID:             trades[left].ProductID,
		StartTimestamp:        trades[left].Timestamp,
		EndTimestamp:          trades[right].Timestamp,
		TotalBuyQty:           w.buyQty,
		TotalSellQty:          w.sellQty,
		DetectionType:         models.DetectionWashTrading,
		AlternationPercentage: &alternation,
	}

	if change, ok := d.priceChangePct(trades[left : right+1]); ok {
		seq.PriceChangePercentage = &change
	}
	return seq
}

// priceChangePct returns ((max - min) / min) * 100 over the window
// prices, and whether it clears the reporting threshold. Exact decimal
// comparison; the float conversion happens only on the reported value.
func (d *WashTradingDetector) priceChangePct(window []models.TransactionEvent) (float64, bool) {
	min, max := window[0].Price, window[0].Price
	for _, t := range window[1:] {
		if t.Price.LessThan(min) {
			min = t.Price
		}
		if t.Price.GreaterThan(max) {
			max = t.Price
		}
	}
	change, _ := max.Sub(min).Div(min).Mul(decimal.NewFromInt(100)).Float64()
	if change < d.cfg.MinPriceChangePct {
		return 0, false
	}
	return change, true
}
