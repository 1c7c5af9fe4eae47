package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"signal-core/internal/market"
)

type fakeRows struct {
	data [][]any
	i    int
	err  error
}

func (r *fakeRows) Next() bool {
	r.i++
	return r.i <= len(r.data)
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.i-1]
	*dest[0].(*uint64) = row[0].(uint64)
	for j := 1; j < len(dest); j++ {
		*dest[j].(*float64) = row[j].(float64)
	}
	return nil
}

func (r *fakeRows) Err() error { return r.err }

func TestScanBars(t *testing.T) {
	rows := &fakeRows{data: [][]any{
		{uint64(60_000), 1.0, 2.0, 0.5, 1.5, 10.0},
		{uint64(120_000), 1.5, 2.5, 1.0, 2.0, 12.0},
	}}
	bars, err := scanBars(rows)
	require.NoError(t, err)
	require.Equal(t, 2, bars.Len())
	assert.Equal(t, []int64{60_000, 120_000}, bars.Timestamp)
	assert.Equal(t, []float64{1.5, 2.0}, bars.Close)

	_, err = scanBars(&fakeRows{err: errors.New("broken")})
	assert.Error(t, err)
}

func setupTestConn(t *testing.T) *Conn {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "clickhouse/clickhouse-server:24.1-alpine",
			ExposedPorts: []string{"9000/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForLog("Ready for connections").WithStartupTimeout(60*time.Second),
				wait.ForListeningPort("9000/tcp"),
			),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	conn, err := NewConn(ctx, Options{Addr: fmt.Sprintf("%s:%s", host, port.Port()), Database: "default", Username: "default"})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestBarStoreRoundTrip(t *testing.T) {
	conn := setupTestConn(t)
	ctx := context.Background()
	store := NewBarStore(conn)
	require.NoError(t, store.EnsureSchema(ctx))

	bars := market.Bars{
		Open:      []float64{1, 2, 3},
		High:      []float64{2, 3, 4},
		Low:       []float64{0.5, 1.5, 2.5},
		Close:     []float64{1.5, 2.5, 3.5},
		Volume:    []float64{10, 20, 30},
		Timestamp: []int64{60_000, 120_000, 180_000},
	}
	require.NoError(t, store.Insert(ctx, "BTCUSDT", "1m", bars))

	got, err := store.Load(ctx, "BTCUSDT", "1m", time.UnixMilli(120_000), time.Time{})
	require.NoError(t, err)
	require.Equal(t, 2, got.Len())
	assert.Equal(t, []float64{2.5, 3.5}, got.Close)
}
