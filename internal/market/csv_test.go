package market

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	in := `timestamp,open,high,low,close,volume
1704067200,100,101,99,100.5,10
1704067260000,100.5,102,100,101,12
2024-01-01T00:02:00Z,101,103,100.5,102.5,8
`
	bars, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Equal(t, 3, bars.Len())
	assert.Equal(t, []float64{100.5, 101, 102.5}, bars.Close)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		assert.True(t, start.Add(time.Duration(i)*time.Minute).Equal(bars.Bar(i).Time), "bar %d", i)
	}
}

func TestReadCSVErrors(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("1704067200,1,2,3\n"))
	assert.ErrorContains(t, err, "want 6 columns")

	_, err = ReadCSV(strings.NewReader("1704067200,1,1,1,1,1\nnot-a-time,1,1,1,1,1\n"))
	assert.ErrorContains(t, err, "line 2")

	_, err = ReadCSV(strings.NewReader("1704067200,1,x,1,1,1\n"))
	assert.ErrorContains(t, err, "column 3")

	_, err = ReadCSV(strings.NewReader("1704067200,10,10,10,10,1\n1704067260,11,11,11,NaN,1\n"))
	assert.ErrorIs(t, err, errNonFinite)
	assert.ErrorContains(t, err, "line 2 column 5")

	_, err = ReadCSV(strings.NewReader("1704067200,1,+Inf,1,1,1\n"))
	assert.ErrorIs(t, err, errNonFinite)
}
