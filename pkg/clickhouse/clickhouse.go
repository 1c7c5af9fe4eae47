// Package clickhouse reads and writes historical OHLCV bars for backtests.
package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Options selects the server and credentials.
type Options struct {
	Addr     string
	Database string
	Username string
	Password string
}

// Conn wraps clickhouse driver.Conn for dependency injection.
type Conn struct {
	driver.Conn
}

// NewConn opens and pings a native-protocol connection.
func NewConn(ctx context.Context, o Options) (*Conn, error) {
	if o.Addr == "" {
		return nil, fmt.Errorf("clickhouse address is empty")
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr:     []string{o.Addr},
		Protocol: clickhouse.Native,
		Auth: clickhouse.Auth{
			Database: o.Database,
			Username: o.Username,
			Password: o.Password,
		},
		DialTimeout: 10 * time.Second,
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse connection: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	return &Conn{Conn: conn}, nil
}
