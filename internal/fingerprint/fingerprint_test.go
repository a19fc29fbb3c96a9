package fingerprint

import (
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradewatch/surveillance-engine/pkg/models"
)

var hexDigest = regexp.MustCompile(`^[0-9a-f]{64}$`)

func sampleEvents() []models.TransactionEvent {
	base := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)
	return []models.TransactionEvent{
		{
			Timestamp: base,
			AccountID: "ACC001", ProductID: "IBM", Side: models.SideBuy,
			Price: decimal.RequireFromString("100.50"), Quantity: 1000,
			EventType: models.EventOrderPlaced,
		},
		{
			Timestamp: base.Add(2 * time.Second),
			AccountID: "ACC001", ProductID: "IBM", Side: models.SideBuy,
			Price: decimal.RequireFromString("100.60"), Quantity: 1000,
			EventType: models.EventOrderCancelled,
		},
		{
			Timestamp: base.Add(4 * time.Second),
			AccountID: "ACC002", ProductID: "MSFT", Side: models.SideSell,
			Price: decimal.RequireFromString("250.00"), Quantity: 500,
			EventType: models.EventTradeExecuted,
		},
	}
}

func TestCompute_OrderIndependent(t *testing.T) {
	events := sampleEvents()
	reordered := []models.TransactionEvent{events[2], events[0], events[1]}

	a := Compute(events)
	b := Compute(reordered)
	if a != b {
		t.Errorf("Reordered batch hashed differently: %s vs %s", a, b)
	}
}

func TestCompute_DigestShape(t *testing.T) {
	digest := Compute(sampleEvents())
	if !hexDigest.MatchString(digest) {
		t.Errorf("Digest is not 64 lowercase hex characters: %q", digest)
	}
}

func TestCompute_FieldPerturbationChangesDigest(t *testing.T) {
	base := Compute(sampleEvents())

	perturb := []func(*models.TransactionEvent){
		func(e *models.TransactionEvent) { e.Timestamp = e.Timestamp.Add(time.Nanosecond) },
		func(e *models.TransactionEvent) { e.AccountID = "ACC099" },
		func(e *models.TransactionEvent) { e.ProductID = "AAPL" },
		func(e *models.TransactionEvent) { e.Side = e.Side.Opposite() },
		func(e *models.TransactionEvent) { e.Price = e.Price.Add(decimal.New(1, -2)) },
		func(e *models.TransactionEvent) { e.Quantity++ },
		func(e *models.TransactionEvent) { e.EventType = models.EventTradeExecuted },
	}
	for i, mutate := range perturb {
		events := sampleEvents()
		mutate(&events[0])
		if got := Compute(events); got == base {
			t.Errorf("Perturbation %d did not change the digest", i)
		}
	}
}

func TestCompute_TimezoneNormalised(t *testing.T) {
	events := sampleEvents()
	shifted := sampleEvents()
	loc := time.FixedZone("UTC+2", 2*3600)
	for i := range shifted {
		shifted[i].Timestamp = shifted[i].Timestamp.In(loc)
	}

	if Compute(events) != Compute(shifted) {
		t.Error("Equal instants in different zones hashed differently")
	}
}

func TestCompute_EmptyBatchIsStable(t *testing.T) {
	if Compute(nil) != Compute([]models.TransactionEvent{}) {
		t.Error("Nil and empty batches hashed differently")
	}
}

func TestPseudonymizeAccount(t *testing.T) {
	a := PseudonymizeAccount("salt-1", "ACC001")
	if !hexDigest.MatchString(a) {
		t.Errorf("Pseudonym is not 64 lowercase hex characters: %q", a)
	}
	if a != PseudonymizeAccount("salt-1", "ACC001") {
		t.Error("Pseudonymisation is not deterministic")
	}
	if a == PseudonymizeAccount("salt-2", "ACC001") {
		t.Error("Different salts produced the same pseudonym")
	}
	if a == PseudonymizeAccount("salt-1", "ACC002") {
		t.Error("Different accounts produced the same pseudonym")
	}
}
