// Package ingestion feeds live candles into the candle store. The WebSocket
// source supplements the batch fetch path: it subscribes to a candle stream,
// survives disconnects by reconnecting and resubscribing, and hands finalized
// bars to the Ingester for batched insertion.
package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"token-feature-lab/internal/domain"
)

// SourceConfig configures WebSocket candle source behavior.
type SourceConfig struct {
	// ReconnectDelay is initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultSourceConfig returns default WebSocket source configuration.
func DefaultSourceConfig() SourceConfig {
	return SourceConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// candleMessage is the wire format for one candle update.
type candleMessage struct {
	Type        string  `json:"type"`
	TokenID     string  `json:"token_id"`
	Timeframe   string  `json:"timeframe"`
	TimestampMs int64   `json:"timestamp_ms"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
	QuoteVolume float64 `json:"quote_volume"`
	// Final marks the bar as closed. Partial bars are dropped: the feature
	// pipeline only ever sees finalized candles.
	Final bool `json:"final"`
}

// subscribeRequest asks the feed for candle updates on a token set.
type subscribeRequest struct {
	Op        string   `json:"op"`
	Tokens    []string `json:"tokens"`
	Timeframe string   `json:"timeframe"`
}

// WSCandleSource streams finalized candles from a WebSocket feed. It owns a
// single connection and a single output channel; disconnects trigger
// reconnection with exponential backoff and resubscription of all active
// subscriptions.
type WSCandleSource struct {
	endpoint string
	config   SourceConfig
	logger   *logrus.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	out chan *domain.Candle

	// subs holds active subscriptions for replay after reconnect.
	subs   []subscribeRequest
	subsMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
	reconnects   atomic.Uint64

	// onReconnect is invoked after each successful reconnect, used to feed
	// the reconnect counter metric.
	onReconnect func()
}

// NewWSCandleSource connects to the endpoint and starts the read and ping
// loops. A nil config uses DefaultSourceConfig.
func NewWSCandleSource(ctx context.Context, endpoint string, config *SourceConfig, logger *logrus.Logger) (*WSCandleSource, error) {
	cfg := DefaultSourceConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = logrus.New()
	}

	s := &WSCandleSource{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger,
		out:      make(chan *domain.Candle, 1024),
		done:     make(chan struct{}),
	}

	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.readLoop()

	s.wg.Add(1)
	go s.pingLoop()

	return s, nil
}

// OnReconnect registers a callback invoked after each successful reconnect.
// Must be set before the first disconnect to be reliable.
func (s *WSCandleSource) OnReconnect(fn func()) { s.onReconnect = fn }

// Candles returns the output channel of finalized candles. The channel is
// closed by Close.
func (s *WSCandleSource) Candles() <-chan *domain.Candle { return s.out }

// Reconnects reports how many times the source has reconnected.
func (s *WSCandleSource) Reconnects() uint64 { return s.reconnects.Load() }

// connect establishes the WebSocket connection.
func (s *WSCandleSource) connect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	s.conn = conn
	return nil
}

// Subscribe requests candle updates for the given tokens on one timeframe.
// The subscription is replayed automatically after a reconnect.
func (s *WSCandleSource) Subscribe(ctx context.Context, tokens []string, timeframe domain.Timeframe) error {
	if s.closed.Load() {
		return fmt.Errorf("source closed")
	}
	if !timeframe.Valid() {
		return fmt.Errorf("unsupported timeframe %q", timeframe)
	}
	if len(tokens) == 0 {
		return fmt.Errorf("no tokens to subscribe")
	}

	req := subscribeRequest{
		Op:        "subscribe",
		Tokens:    tokens,
		Timeframe: string(timeframe),
	}

	if err := s.writeJSON(req); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}

	s.subsMu.Lock()
	s.subs = append(s.subs, req)
	s.subsMu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"tokens":    len(tokens),
		"timeframe": timeframe,
	}).Info("subscribed to candle feed")
	return nil
}

func (s *WSCandleSource) writeJSON(v interface{}) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	return s.conn.WriteJSON(v)
}

// Close closes the connection and the output channel.
func (s *WSCandleSource) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	close(s.done)

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	close(s.out)
	return nil
}

// readLoop reads candle messages and dispatches finalized bars to the output
// channel. Read errors trigger a reconnect with exponential backoff.
func (s *WSCandleSource) readLoop() {
	defer s.wg.Done()

	reconnectDelay := s.config.ReconnectDelay

	for !s.closed.Load() {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		if conn == nil {
			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}

			if !s.reconnecting.Swap(true) {
				go s.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > s.config.MaxReconnectDelay {
				reconnectDelay = s.config.MaxReconnectDelay
			}

			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		// Reset delay on successful read
		reconnectDelay = s.config.ReconnectDelay

		s.handleMessage(message)
	}
}

// reconnect waits, redials and replays active subscriptions.
func (s *WSCandleSource) reconnect(delay time.Duration) {
	defer s.reconnecting.Store(false)

	if s.closed.Load() {
		return
	}

	select {
	case <-s.done:
		return
	case <-time.After(delay):
	}

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.connect(ctx); err != nil {
		s.logger.WithError(err).Warn("candle feed reconnect failed, will retry on next read error")
		return
	}

	s.reconnects.Add(1)
	if s.onReconnect != nil {
		s.onReconnect()
	}
	s.logger.Info("candle feed reconnected")

	s.resubscribeAll()
}

// resubscribeAll replays every active subscription on the new connection.
func (s *WSCandleSource) resubscribeAll() {
	s.subsMu.Lock()
	subs := make([]subscribeRequest, len(s.subs))
	copy(subs, s.subs)
	s.subsMu.Unlock()

	for _, req := range subs {
		if err := s.writeJSON(req); err != nil {
			s.logger.WithError(err).WithField("timeframe", req.Timeframe).
				Warn("resubscribe failed")
		}
	}
}

// handleMessage parses one message and forwards finalized candles.
func (s *WSCandleSource) handleMessage(message []byte) {
	var msg candleMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		s.logger.WithError(err).Debug("unparseable candle feed message")
		return
	}
	if msg.Type != "candle" || !msg.Final {
		return
	}
	if msg.TokenID == "" || !domain.Timeframe(msg.Timeframe).Valid() {
		return
	}

	candle := &domain.Candle{
		TokenID:     msg.TokenID,
		Timeframe:   domain.Timeframe(msg.Timeframe),
		TimestampMs: msg.TimestampMs,
		Open:        msg.Open,
		High:        msg.High,
		Low:         msg.Low,
		Close:       msg.Close,
		Volume:      msg.Volume,
		QuoteVolume: msg.QuoteVolume,
	}

	// Block until the ingester drains; never drop finalized bars.
	select {
	case s.out <- candle:
	case <-s.done:
	}
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (s *WSCandleSource) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.connMu.Lock()
			if s.conn != nil {
				s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
				if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Connection might be dead, reader will handle reconnect
				}
			}
			s.connMu.Unlock()
		}
	}
}
