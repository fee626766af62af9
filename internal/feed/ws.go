package feed

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"time"

	"charting-systemv1/internal/model"
	"charting-systemv1/internal/ringbuf"

	"github.com/gorilla/websocket"
)

const (
	heartbeatInterval = 10 * time.Second
	pongWait          = 30 * time.Second
)

// IngestConfig configures the tick WebSocket ingest.
type IngestConfig struct {
	// URL of the tick stream, e.g. "wss://feed.provider.example/stream"
	URL string

	// Symbols to subscribe on connect.
	Symbols []string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *IngestConfig) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// Ingest connects to the provider tick WebSocket and pushes parsed ticks
// into the ring buffer consumed by the resampler. When session is non-nil
// the handshake carries the session's auth headers; a nil session connects
// unauthenticated (staging tick servers).
type Ingest struct {
	cfg     IngestConfig
	session *Session

	// Optional hooks
	OnReconnect func()
	OnTick      func()
	OnDrop      func()
}

// NewIngest creates a tick ingest. Returns an error if the URL is unparseable.
func NewIngest(cfg IngestConfig, session *Session) (*Ingest, error) {
	cfg.defaults()
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, err
	}
	return &Ingest{cfg: cfg, session: session}, nil
}

// Start connects to the WebSocket and streams ticks into the ring buffer.
// Blocks until ctx is cancelled. Reconnects automatically on disconnect,
// renewing the session before each authenticated reconnect.
func (ing *Ingest) Start(ctx context.Context, ring *ringbuf.Ring) error {
	delay := ing.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := ing.runOnce(ctx, ring)
		if err == nil {
			// Context cancelled cleanly
			return nil
		}

		log.Printf("[feed-ws] disconnected (%v), reconnecting in %s", err, delay)
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		// Exponential backoff
		delay *= 2
		if delay > ing.cfg.MaxReconnectDelay {
			delay = ing.cfg.MaxReconnectDelay
		}

		if ing.session != nil {
			if rerr := ing.session.Renew(); rerr != nil {
				log.Printf("[feed-ws] session renew failed: %v", rerr)
				continue
			}
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or
// ctx cancel. Returns nil only on clean context cancellation.
func (ing *Ingest) runOnce(ctx context.Context, ring *ringbuf.Ring) error {
	dialer := websocket.DefaultDialer
	var hdr http.Header
	if ing.session != nil {
		hdr = ing.session.WSHeaders()
	}

	conn, _, err := dialer.DialContext(ctx, ing.cfg.URL, hdr)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Printf("[feed-ws] connected to %s", ing.cfg.URL)

	if len(ing.cfg.Symbols) > 0 {
		if err := ing.subscribe(conn); err != nil {
			return err
		}
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Heartbeat + context watcher. Closing the connection unblocks the
	// read loop below.
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
				conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var tick model.Tick
		if err := json.Unmarshal(raw, &tick); err != nil {
			log.Printf("[feed-ws] parse error: %v (raw: %s)", err, raw)
			continue
		}
		if tick.Symbol == "" {
			continue
		}
		if tick.TS == 0 {
			tick.TS = time.Now().UnixMilli()
		}

		if !ring.Push(tick) {
			if ing.OnDrop != nil {
				ing.OnDrop()
			}
			continue
		}
		if ing.OnTick != nil {
			ing.OnTick()
		}
	}
}

// subscribe sends the symbol subscription request.
func (ing *Ingest) subscribe(conn *websocket.Conn) error {
	req := map[string]interface{}{
		"action":  "subscribe",
		"symbols": ing.cfg.Symbols,
	}
	if err := conn.WriteJSON(req); err != nil {
		return err
	}
	log.Printf("[feed-ws] subscribed to %d symbols", len(ing.cfg.Symbols))
	return nil
}
