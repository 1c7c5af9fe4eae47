package market

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

var errNonFinite = errors.New("value is not a finite number")

// ReadCSV parses timestamp,open,high,low,close,volume rows. A header row is
// skipped. Timestamps may be unix seconds, unix milliseconds or RFC3339.
func ReadCSV(r io.Reader) (Bars, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var bars Bars
	line := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Bars{}, fmt.Errorf("csv: %w", err)
		}
		line++
		if len(rec) < 6 {
			return Bars{}, fmt.Errorf("csv line %d: want 6 columns, got %d", line, len(rec))
		}
		ts, err := parseTime(rec[0])
		if err != nil {
			if line == 1 {
				continue
			}
			return Bars{}, fmt.Errorf("csv line %d: %w", line, err)
		}
		var vals [5]float64
		for i := range vals {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
			if err != nil {
				return Bars{}, fmt.Errorf("csv line %d column %d: %w", line, i+2, err)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return Bars{}, fmt.Errorf("csv line %d column %d: %w", line, i+2, errNonFinite)
			}
			vals[i] = v
		}
		bars = bars.Append(Bar{
			Time:   ts,
			Open:   vals[0],
			High:   vals[1],
			Low:    vals[2],
			Close:  vals[3],
			Volume: vals[4],
		}, 0)
	}
	return bars, nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 1e12 {
			return time.Unix(n, 0).UTC(), nil
		}
		return time.UnixMilli(n).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
