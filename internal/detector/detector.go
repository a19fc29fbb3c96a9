// Package detector holds the pure detection core. Detectors are
// stateless over a batch: they take an unsorted slice of events and
// return findings, never touching shared state, so a worker can run
// concurrent requests against the same detector value.
package detector

import (
	"sort"

	"github.com/tradewatch/surveillance-engine/pkg/models"
)

// Detector is one hosted detection algorithm.
type Detector interface {
	// Name returns the wire service name ("layering", "wash_trading").
	Name() string
	// Detect scans the batch and returns findings ordered by
	// (account_id, product_id, end_timestamp). Malformed-but-typed
	// input yields an empty result, never an error.
	Detect(events []models.TransactionEvent) []models.SuspiciousSequence
}

type groupKey struct {
	account string
	product string
}

// groupAndSort partitions events by (account_id, product_id) and sorts
// each group by timestamp with a stable, deterministic tie-break:
// event-type order PLACED < CANCELLED < EXECUTED, then insertion index.
// Returned keys are sorted so iteration order is reproducible.
func groupAndSort(events []models.TransactionEvent) ([]groupKey, map[groupKey][]models.TransactionEvent) {
	type tagged struct {
		ev  models.TransactionEvent
		idx int
	}

	groups := make(map[groupKey][]tagged)
	for i, ev := range events {
		k := groupKey{account: ev.AccountID, product: ev.ProductID}
		groups[k] = append(groups[k], tagged{ev: ev, idx: i})
	}

	keys := make([]groupKey, 0, len(groups))
	sorted := make(map[groupKey][]models.TransactionEvent, len(groups))
	for k, tag := range groups {
		sort.Slice(tag, func(a, b int) bool {
			ta, tb := tag[a], tag[b]
			if !ta.ev.Timestamp.Equal(tb.ev.Timestamp) {
				return ta.ev.Timestamp.Before(tb.ev.Timestamp)
			}
			if ra, rb := ta.ev.EventType.Rank(), tb.ev.EventType.Rank(); ra != rb {
				return ra < rb
			}
			return ta.idx < tb.idx
		})
		evs := make([]models.TransactionEvent, len(tag))
		for i, t := range tag {
			evs[i] = t.ev
		}
		sorted[k] = evs
		keys = append(keys, k)
	}

	sort.Slice(keys, func(a, b int) bool {
		if keys[a].account != keys[b].account {
			return keys[a].account < keys[b].account
		}
		return keys[a].product < keys[b].product
	})
	return keys, sorted
}

// sortFindings imposes the deterministic output order shared by both
// detectors and by the aggregator's merged list.
func sortFindings(findings []models.SuspiciousSequence) {
	models.SortFindings(findings)
}
