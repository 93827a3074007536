package ingestion

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"listings-hub/internal/logging"
	"listings-hub/internal/model"
)

const maxJSONLLine = 4 << 20

// ReadJSONL parses one flattened listing per line. Blank lines are ignored; malformed
// lines and records without a string listingId are skipped with a warning.
func ReadJSONL(r io.Reader, logger *slog.Logger) ([]model.FlattenedListing, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), maxJSONLLine)
	var out []model.FlattenedListing
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec model.FlattenedListing
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			logger.Warn("skipping malformed line", "line", lineNo, "prefix", prefix(line, 60), "error", err)
			continue
		}
		if id, ok := rec[model.FieldListingID].(string); !ok || id == "" {
			logger.Warn("skipping line without listingId", "line", lineNo)
			continue
		}
		out = append(out, Sanitize(rec))
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("read jsonl line %d: %w", lineNo+1, err)
	}
	return out, nil
}

// WriteJSONL writes listings one per line.
func WriteJSONL(w io.Writer, listings []model.FlattenedListing) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, l := range listings {
		if err := enc.Encode(l); err != nil {
			return fmt.Errorf("encode listing %v: %w", l[model.FieldListingID], err)
		}
	}
	return nil
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
