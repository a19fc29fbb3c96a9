// Package csvio reads the event input file and writes the two output
// artefacts. All string cells pass through spreadsheet-formula
// sanitisation on the way out, and the detection log can pseudonymise
// account ids with a salted one-way hash.
package csvio

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradewatch/surveillance-engine/pkg/models"
)

// eventFields is the fixed column order of the input file.
var eventFields = []string{
	"timestamp", "account_id", "product_id", "side", "price", "quantity", "event_type",
}

// ReadEvents parses a header-bearing CSV of transaction events. Rows
// that fail field validation are skipped with a warning and counted;
// the pipeline continues. Only I/O and header errors are fatal.
func ReadEvents(path string) (events []models.TransactionEvent, skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(eventFields)

	if _, err := r.Read(); err != nil {
		return nil, 0, fmt.Errorf("read header: %w", err)
	}

	line := 1
	for {
		line++
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("[Reader] Skipping line %d: %v", line, err)
			skipped++
			continue
		}

		ev, err := parseEvent(record)
		if err != nil {
			log.Printf("[Reader] Skipping line %d: %v", line, err)
			skipped++
			continue
		}
		events = append(events, ev)
	}
	return events, skipped, nil
}

func parseEvent(record []string) (models.TransactionEvent, error) {
	ts, err := time.Parse(time.RFC3339, record[0])
	if err != nil {
		return models.TransactionEvent{}, fmt.Errorf("bad timestamp %q", record[0])
	}

	price, err := decimal.NewFromString(record[4])
	if err != nil {
		return models.TransactionEvent{}, fmt.Errorf("bad price %q", record[4])
	}

	qty, err := strconv.ParseInt(record[5], 10, 64)
	if err != nil {
		return models.TransactionEvent{}, fmt.Errorf("bad quantity %q", record[5])
	}

	ev := models.TransactionEvent{
		Timestamp: ts,
		AccountID: record[1],
		ProductID: record[2],
		Side:      models.Side(record[3]),
		Price:     price,
		Quantity:  qty,
		EventType: models.EventType(record[6]),
	}
	if err := ev.Validate(); err != nil {
		return models.TransactionEvent{}, err
	}
	return ev, nil
}
