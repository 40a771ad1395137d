package store

import (
	"encoding/json"
	"fmt"
	"os"

	"transit-ingest/internal/transit"
)

// LoadDelaysFromFile reads a JSON array of delay events used to bulk-seed
// the historical record at startup. Later corrective loads simply re-run
// this; AppendDelays ignores duplicates.
func LoadDelaysFromFile(path string) ([]transit.DelayEvent, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read delay seed: %w", err)
	}
	var events []transit.DelayEvent
	if err := json.Unmarshal(b, &events); err != nil {
		return nil, fmt.Errorf("decode delay seed: %w", err)
	}
	return events, nil
}
