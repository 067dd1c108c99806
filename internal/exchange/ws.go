// ws.go implements real-time order book streaming over WebSocket.
//
// Each subscribed token gets its own session goroutine: it dials the market
// channel, sends a subscribe frame for that asset ID, and forwards "book"
// snapshots to the registered callback as parsed decimal books. Sessions
// auto-reconnect with exponential backoff (1s → 30s max, reset after a
// successful connect) and a read deadline (90s) catches silent server
// failures within ~2 missed pings.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"polyarb/pkg/types"
)

const (
	pingInterval     = 50 * time.Second // how often we send PING to keep alive
	readTimeout      = 90 * time.Second // ~2 missed pings triggers reconnect
	maxReconnectWait = 30 * time.Second // cap on exponential backoff
	writeTimeout     = 10 * time.Second // deadline for outgoing messages
)

// BookStreamer manages one WebSocket session per subscribed token. Callbacks
// run on the session's read goroutine, so a slow consumer delays only its own
// token's stream.
type BookStreamer struct {
	url    string
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*bookSession // token ID → live session
}

type bookSession struct {
	tokenID string
	cancel  context.CancelFunc
	done    chan struct{}

	cbMu sync.Mutex
	cb   BookCallback

	connMu sync.Mutex
	conn   *websocket.Conn
}

func (sess *bookSession) callback() BookCallback {
	sess.cbMu.Lock()
	defer sess.cbMu.Unlock()
	return sess.cb
}

func (sess *bookSession) setCallback(cb BookCallback) {
	sess.cbMu.Lock()
	sess.cb = cb
	sess.cbMu.Unlock()
}

// NewBookStreamer creates a streamer for the market WS channel.
func NewBookStreamer(wsURL string, logger *slog.Logger) *BookStreamer {
	return &BookStreamer{
		url:      wsURL,
		logger:   logger.With("component", "book_streamer"),
		sessions: make(map[string]*bookSession),
	}
}

// Subscribe starts a streaming session for the token. If the token is already
// subscribed, only the callback is replaced.
func (s *BookStreamer) Subscribe(tokenID string, cb BookCallback) error {
	if tokenID == "" {
		return fmt.Errorf("subscribe: empty token ID")
	}
	if cb == nil {
		return fmt.Errorf("subscribe: nil callback")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[tokenID]; ok {
		existing.setCallback(cb)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &bookSession{
		tokenID: tokenID,
		cb:      cb,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.sessions[tokenID] = sess

	go s.run(ctx, sess)
	return nil
}

// Unsubscribe stops the token's session and waits for its loop to exit.
func (s *BookStreamer) Unsubscribe(tokenID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[tokenID]
	if ok {
		delete(s.sessions, tokenID)
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}
	sess.stop()
	return nil
}

// StopAll stops every session. Used on shutdown.
func (s *BookStreamer) StopAll() {
	s.mu.Lock()
	sessions := make([]*bookSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[string]*bookSession)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.stop()
	}
}

// ActiveTokens returns the token IDs with a live session.
func (s *BookStreamer) ActiveTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		out = append(out, id)
	}
	return out
}

func (sess *bookSession) stop() {
	sess.cancel()
	sess.connMu.Lock()
	if sess.conn != nil {
		sess.conn.Close()
	}
	sess.connMu.Unlock()
	<-sess.done
}

// run maintains the session connection until its context is cancelled.
func (s *BookStreamer) run(ctx context.Context, sess *bookSession) {
	defer close(sess.done)

	backoff := time.Second
	for {
		connected, err := s.connectAndStream(ctx, sess)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = time.Second
		}

		s.logger.Warn("book session disconnected, reconnecting",
			"token_id", sess.tokenID,
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// connectAndStream dials, subscribes, and reads until the connection drops.
// The returned bool reports whether the dial itself succeeded.
func (s *BookStreamer) connectAndStream(ctx context.Context, sess *bookSession) (bool, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}

	sess.connMu.Lock()
	sess.conn = conn
	sess.connMu.Unlock()

	defer func() {
		sess.connMu.Lock()
		conn.Close()
		sess.conn = nil
		sess.connMu.Unlock()
	}()

	sub := types.WSSubscribeMsg{
		Type:     "market",
		AssetIDs: []string{sess.tokenID},
	}
	if err := sess.writeJSON(sub); err != nil {
		return true, fmt.Errorf("subscribe: %w", err)
	}

	s.logger.Info("book session connected", "token_id", sess.tokenID)

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go sess.pingLoop(pingCtx, s.logger)

	for {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}

		s.dispatch(sess, msg)
	}
}

// dispatch parses an incoming frame and, for book snapshots on this session's
// token, hands the decimal book to the callback.
func (s *BookStreamer) dispatch(sess *bookSession, data []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		s.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	switch envelope.EventType {
	case "book":
		var evt types.WSBookEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			s.logger.Error("unmarshal book event", "error", err)
			return
		}
		if evt.AssetID != "" && evt.AssetID != sess.tokenID {
			return
		}
		book, err := ParseBook(sess.tokenID, &types.BookResponse{
			Market:    evt.Market,
			AssetID:   sess.tokenID,
			Bids:      evt.Buys,
			Asks:      evt.Sells,
			Hash:      evt.Hash,
			Timestamp: evt.Timestamp,
		})
		if err != nil {
			s.logger.Error("parse book event", "token_id", sess.tokenID, "error", err)
			return
		}
		sess.callback()(book)

	case "price_change", "last_trade_price", "tick_size_change", "best_bid_ask":
		// Deltas and informational events; the scanner works from snapshots.
		s.logger.Debug("ignoring event", "type", envelope.EventType)

	default:
		s.logger.Debug("unknown ws event type", "type", envelope.EventType)
	}
}

func (sess *bookSession) pingLoop(ctx context.Context, logger *slog.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sess.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				logger.Warn("ping failed", "token_id", sess.tokenID, "error", err)
				return
			}
		}
	}
}

func (sess *bookSession) writeJSON(v interface{}) error {
	sess.connMu.Lock()
	defer sess.connMu.Unlock()
	if sess.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	sess.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return sess.conn.WriteJSON(v)
}

func (sess *bookSession) writeMessage(msgType int, data []byte) error {
	sess.connMu.Lock()
	defer sess.connMu.Unlock()
	if sess.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	sess.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return sess.conn.WriteMessage(msgType, data)
}
