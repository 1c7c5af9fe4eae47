package market

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	readTimeout  = 30 * time.Second
	pingInterval = 15 * time.Second
	writeTimeout = 5 * time.Second
)

// WebsocketSource streams kline updates from a combined-stream websocket endpoint.
type WebsocketSource struct {
	BaseURL       string
	Subscriptions []Subscription
	dialer        *websocket.Dialer
	log           zerolog.Logger
}

// NewWebsocketSource builds a kline source with one stream per subscription.
func NewWebsocketSource(baseURL string, subs []Subscription, log zerolog.Logger) *WebsocketSource {
	return &WebsocketSource{
		BaseURL:       strings.TrimSuffix(baseURL, "/"),
		Subscriptions: MergeSubscriptions(subs),
		dialer:        &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:           log,
	}
}

func (s *WebsocketSource) Name() string { return "websocket" }

// URL returns the combined-stream address for the configured subscriptions.
func (s *WebsocketSource) URL() string {
	streams := make([]string, 0, len(s.Subscriptions))
	for _, sub := range s.Subscriptions {
		streams = append(streams, fmt.Sprintf("%s@kline_%s", strings.ToLower(sub.Symbol), sub.Interval))
	}
	return fmt.Sprintf("%s/stream?streams=%s", s.BaseURL, strings.Join(streams, "/"))
}

// Stream runs one connection cycle.
func (s *WebsocketSource) Stream(ctx context.Context, emit func(Tick)) error {
	if len(s.Subscriptions) == 0 {
		return fmt.Errorf("websocket feed requires at least one subscription")
	}
	conn, _, err := s.dialer.DialContext(ctx, s.URL(), nil)
	if err != nil {
		return fmt.Errorf("dial feed: %w", err)
	}
	defer conn.Close()

	s.log.Info().Int("streams", len(s.Subscriptions)).Msg("connected market data feed")

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
					s.log.Warn().Err(err).Msg("feed ping failed")
					return
				}
			case <-pingCtx.Done():
				// unblocks ReadMessage on cancellation
				_ = conn.Close()
				return
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read feed: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		tick, err := ParseKline(msg)
		if err != nil {
			s.log.Debug().Err(err).Msg("skipping undecodable feed message")
			continue
		}
		emit(tick)
	}
}
