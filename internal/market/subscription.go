package market

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultInterval is the kline interval used when none is configured.
const DefaultInterval = "1m"

// Subscription names one kline stream. Bars of different intervals for the
// same symbol never share a window.
type Subscription struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
}

// Normalize upper-cases the symbol and fills in DefaultInterval.
func (s Subscription) Normalize() Subscription {
	s.Symbol = strings.ToUpper(strings.TrimSpace(s.Symbol))
	s.Interval = strings.TrimSpace(s.Interval)
	if s.Interval == "" {
		s.Interval = DefaultInterval
	}
	return s
}

func (s Subscription) String() string {
	return s.Symbol + "@" + s.Interval
}

// MergeSubscriptions normalizes, de-duplicates and sorts subscriptions.
func MergeSubscriptions(lists ...[]Subscription) []Subscription {
	seen := map[Subscription]bool{}
	var out []Subscription
	for _, l := range lists {
		for _, s := range l {
			s = s.Normalize()
			if s.Symbol == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return IntervalDuration(out[i].Interval) < IntervalDuration(out[j].Interval)
	})
	return out
}

// IntervalDuration converts a kline interval such as "1m", "4h" or "1d".
// Unparseable intervals count as one minute.
func IntervalDuration(s string) time.Duration {
	if len(s) < 2 {
		return time.Minute
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return time.Minute
	}
	unit := map[byte]time.Duration{
		's': time.Second,
		'm': time.Minute,
		'h': time.Hour,
		'd': 24 * time.Hour,
		'w': 7 * 24 * time.Hour,
	}[s[len(s)-1]]
	if unit == 0 {
		return time.Minute
	}
	return time.Duration(n) * unit
}
