// Package fingerprint derives the idempotency key for a batch of events.
//
// The digest is order-independent: the same set of events always hashes
// to the same value regardless of input order, so a coordinator retry
// with a reshuffled batch still hits the worker's cache.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tradewatch/surveillance-engine/pkg/models"
)

// Compute returns the 64-hex-character digest of the event set.
//
// Each event is rendered as a canonical fixed-order tuple, the tuples are
// sorted lexicographically, joined, and hashed with SHA-256.
func Compute(events []models.TransactionEvent) string {
	lines := make([]string, len(events))
	for i, e := range events {
		lines[i] = canonicalTuple(e)
	}
	sort.Strings(lines)

	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

// canonicalTuple renders one event as its stable wire-independent form.
// Timestamps are normalised to UTC so equal instants in different zones
// produce equal tuples.
func canonicalTuple(e models.TransactionEvent) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%d|%s",
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.AccountID,
		e.ProductID,
		e.Side,
		e.Price.String(),
		e.Quantity,
		e.EventType,
	)
}

// PseudonymizeAccount applies the one-way account transform used by the
// detection-log artefact: SHA256(salt || ":" || account_id) as 64-hex.
func PseudonymizeAccount(salt, accountID string) string {
	sum := sha256.Sum256([]byte(salt + ":" + accountID))
	return hex.EncodeToString(sum[:])
}
