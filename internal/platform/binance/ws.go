package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nsavelyev/scalpbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// DepthHandler is called for each decoded depth diff.
type DepthHandler func(diff domain.DepthDiff)

// DepthStream is a WebSocket client for the venue's partial-depth diff
// stream. It manages one connection per symbol and dispatches decoded diffs
// to the registered handler; reconnect policy lives in the feed layer.
type DepthStream struct {
	wsURL  string
	symbol string
	levels int
	conn   *websocket.Conn

	mu     sync.Mutex
	closed bool

	handler   DepthHandler
	handlerMu sync.RWMutex

	// errCh receives the terminal read-loop error.
	errCh chan error
	done  chan struct{}
}

// NewDepthStream creates a stream client for symbol. wsURL may be empty to
// use the default production endpoint. levels selects the partial-depth
// variant (5, 10, or 20 visible levels per side).
func NewDepthStream(wsURL, symbol string, levels int) *DepthStream {
	if wsURL == "" {
		wsURL = defaultWSURL
	}
	return &DepthStream{
		wsURL:  strings.TrimRight(wsURL, "/"),
		symbol: symbol,
		levels: levels,
		errCh:  make(chan error, 1),
		done:   make(chan struct{}),
	}
}

// OnDepth registers the handler invoked for every decoded diff.
func (s *DepthStream) OnDepth(h DepthHandler) {
	s.handlerMu.Lock()
	s.handler = h
	s.handlerMu.Unlock()
}

// Connect dials the stream endpoint and starts the read and ping loops.
func (s *DepthStream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("binance/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	streamURL := fmt.Sprintf("%s/%s@depth%d@100ms", s.wsURL, strings.ToLower(s.symbol), s.levels)
	conn, _, err := dialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return fmt.Errorf("binance/ws: connect %s: %w", streamURL, err)
	}
	s.conn = conn

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go s.readLoop(conn)
	go s.pingLoop(conn)

	return nil
}

// Err returns a channel that receives the terminal error once the read loop
// exits. The feed layer uses it to drive reconnection.
func (s *DepthStream) Err() <-chan error {
	return s.errCh
}

// Close shuts the stream down. Safe to call multiple times.
func (s *DepthStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

func (s *DepthStream) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case s.errCh <- fmt.Errorf("binance/ws: read: %w", err):
			default:
			}
			return
		}

		var ev wsDepthEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			// Not a depth payload (subscription ack, etc.) so skip it.
			continue
		}
		if ev.EventType != "depthUpdate" {
			continue
		}

		bids, err := parseLevels(ev.Bids)
		if err != nil {
			continue
		}
		asks, err := parseLevels(ev.Asks)
		if err != nil {
			continue
		}

		s.handlerMu.RLock()
		h := s.handler
		s.handlerMu.RUnlock()
		if h != nil {
			h(domain.DepthDiff{
				Symbol:        ev.Symbol,
				Bids:          bids,
				Asks:          asks,
				FirstUpdateID: ev.FirstUpdateID,
				FinalUpdateID: ev.FinalUpdateID,
				EventTime:     time.UnixMilli(ev.EventTime),
			})
		}
	}
}

func (s *DepthStream) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
