// Package market holds bar/snapshot types and the live price feed.
package market

import (
	"strings"
	"time"
)

// Field names a column of a bar series.
type Field string

const (
	FieldOpen   Field = "open"
	FieldHigh   Field = "high"
	FieldLow    Field = "low"
	FieldClose  Field = "close"
	FieldVolume Field = "volume"
)

// ParseField maps a user supplied name onto a Field; unknown names fall back to close.
func ParseField(name string) (Field, bool) {
	switch Field(strings.ToLower(strings.TrimSpace(name))) {
	case FieldOpen:
		return FieldOpen, true
	case FieldHigh:
		return FieldHigh, true
	case FieldLow:
		return FieldLow, true
	case FieldClose, "", "price":
		return FieldClose, true
	case FieldVolume:
		return FieldVolume, true
	}
	return FieldClose, false
}

// Bar is a single OHLCV candle.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Bars is the columnar form used by snapshots and backtests.
// Timestamp is unix milliseconds and may be empty.
type Bars struct {
	Open      []float64 `json:"open"`
	High      []float64 `json:"high"`
	Low       []float64 `json:"low"`
	Close     []float64 `json:"close"`
	Volume    []float64 `json:"volume"`
	Timestamp []int64   `json:"timestamp,omitempty"`
}

// Len is the number of complete bars.
func (b Bars) Len() int {
	n := len(b.Close)
	for _, l := range []int{len(b.Open), len(b.High), len(b.Low), len(b.Volume)} {
		if l < n {
			n = l
		}
	}
	if len(b.Timestamp) > 0 && len(b.Timestamp) < n {
		n = len(b.Timestamp)
	}
	return n
}

// Normalize truncates every column to the shortest common length.
func (b Bars) Normalize() Bars {
	return b.Slice(b.Len())
}

// Slice returns the first n bars, sharing the underlying arrays.
func (b Bars) Slice(n int) Bars {
	if n < 0 {
		n = 0
	}
	if max := b.Len(); n > max {
		n = max
	}
	out := Bars{
		Open:   b.Open[:n:n],
		High:   b.High[:n:n],
		Low:    b.Low[:n:n],
		Close:  b.Close[:n:n],
		Volume: b.Volume[:n:n],
	}
	if len(b.Timestamp) > 0 {
		out.Timestamp = b.Timestamp[:n:n]
	}
	return out
}

// Clone returns a copy that shares no memory with b.
func (b Bars) Clone() Bars {
	b = b.Normalize()
	out := Bars{
		Open:   append([]float64(nil), b.Open...),
		High:   append([]float64(nil), b.High...),
		Low:    append([]float64(nil), b.Low...),
		Close:  append([]float64(nil), b.Close...),
		Volume: append([]float64(nil), b.Volume...),
	}
	if len(b.Timestamp) > 0 {
		out.Timestamp = append([]int64(nil), b.Timestamp...)
	}
	return out
}

// Bar returns the i-th bar.
func (b Bars) Bar(i int) Bar {
	bar := Bar{
		Open:   b.Open[i],
		High:   b.High[i],
		Low:    b.Low[i],
		Close:  b.Close[i],
		Volume: b.Volume[i],
	}
	if i < len(b.Timestamp) {
		bar.Time = time.UnixMilli(b.Timestamp[i]).UTC()
	}
	return bar
}

// Append adds a bar, keeping at most window bars when window > 0.
func (b Bars) Append(bar Bar, window int) Bars {
	b = b.Normalize()
	for len(b.Timestamp) < len(b.Close) {
		b.Timestamp = append(b.Timestamp, 0)
	}
	b.Open = append(b.Open, bar.Open)
	b.High = append(b.High, bar.High)
	b.Low = append(b.Low, bar.Low)
	b.Close = append(b.Close, bar.Close)
	b.Volume = append(b.Volume, bar.Volume)
	b.Timestamp = append(b.Timestamp, bar.Time.UnixMilli())
	if window > 0 && len(b.Close) > window {
		cut := len(b.Close) - window
		b.Open = b.Open[cut:]
		b.High = b.High[cut:]
		b.Low = b.Low[cut:]
		b.Close = b.Close[cut:]
		b.Volume = b.Volume[cut:]
		b.Timestamp = b.Timestamp[cut:]
	}
	return b
}

// Series returns the column for f.
func (b Bars) Series(f Field) []float64 {
	switch f {
	case FieldOpen:
		return b.Open
	case FieldHigh:
		return b.High
	case FieldLow:
		return b.Low
	case FieldVolume:
		return b.Volume
	default:
		return b.Close
	}
}

// Snapshot returns the data visible at bar i: history truncated to [0..i].
func (b Bars) Snapshot(symbol string, i int) Snapshot {
	bar := b.Bar(i)
	return Snapshot{
		Symbol:  symbol,
		Time:    bar.Time,
		Open:    bar.Open,
		High:    bar.High,
		Low:     bar.Low,
		Close:   bar.Close,
		Volume:  bar.Volume,
		History: b.Slice(i + 1),
	}
}

// Snapshot is the data available to one evaluation tick.
type Snapshot struct {
	Symbol  string    `json:"symbol"`
	Time    time.Time `json:"time"`
	Open    float64   `json:"open"`
	High    float64   `json:"high"`
	Low     float64   `json:"low"`
	Close   float64   `json:"close"`
	Volume  float64   `json:"volume"`
	History Bars      `json:"history"`
}

// Value returns the current bar's field.
func (s Snapshot) Value(f Field) float64 {
	switch f {
	case FieldOpen:
		return s.Open
	case FieldHigh:
		return s.High
	case FieldLow:
		return s.Low
	case FieldVolume:
		return s.Volume
	default:
		return s.Close
	}
}

// Previous returns the snapshot one bar earlier, if any.
func (s Snapshot) Previous() (Snapshot, bool) {
	n := s.History.Len()
	if n < 2 {
		return Snapshot{}, false
	}
	return s.History.Snapshot(s.Symbol, n-2), true
}
