// Copyright 2025 James Ross
package driver

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/medkg/ingestcore/internal/adapter"
)

// ReadBatch decodes one Parameters value per NDJSON line from r.
// Blank lines are skipped; a malformed line is a fatal parse error since
// it would otherwise silently drop a batch entry.
func ReadBatch(r io.Reader) ([]adapter.Parameters, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var out []adapter.Parameters
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var p adapter.Parameters
		if err := json.Unmarshal(line, &p); err != nil {
			return nil, fmt.Errorf("driver: batch line %d: %w", lineNum, err)
		}
		out = append(out, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("driver: reading batch: %w", err)
	}
	return out, nil
}

// parseISO8601 accepts the date and date-time ISO 8601 forms the CLI's
// --start-date/--end-date flags document.
func parseISO8601(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
