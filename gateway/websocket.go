package gateway

import (
	"chat-hub/observability"
	"chat-hub/runtime"
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	DefaultMaxMessageSize = 64 * 1024
)

type WebSocketConfig struct {
	AllowedOrigins []string
	MaxMessageSize int64
	OutboxCapacity int
	// Events per second accepted from one connection, and the burst above it.
	RateLimit float64
	RateBurst int
}

// WebSocketServer upgrades HTTP requests and runs one read pump and one write pump per connection.
type WebSocketServer struct {
	log      *slog.Logger
	gateway  *Gateway
	metrics  *observability.Metrics
	config   WebSocketConfig
	upgrader websocket.Upgrader
	ctx      context.Context

	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup
}

func NewWebSocketServer(ctx context.Context, log *slog.Logger, gateway *Gateway, metrics *observability.Metrics, config WebSocketConfig) *WebSocketServer {
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.OutboxCapacity <= 0 {
		config.OutboxCapacity = runtime.DefaultOutboxCapacity
	}
	w := &WebSocketServer{
		log:      log,
		gateway:  gateway,
		metrics:  metrics,
		config:   config,
		ctx:      ctx,
		sessions: make(map[string]*Session),
	}
	w.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     w.checkOrigin,
	}
	return w
}

func (w *WebSocketServer) checkOrigin(r *http.Request) bool {
	return OriginAllowed(r.Header.Get("Origin"), r.Host, w.config.AllowedOrigins)
}

// OriginAllowed accepts requests without an Origin header, any origin when "*" is configured,
// listed origins, and same-host origins.
func OriginAllowed(origin, host string, allowed []string) bool {
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, host)
}

func (w *WebSocketServer) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.log.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	s := NewSession(uuid.NewString(), runtime.NewOutbox(w.config.OutboxCapacity), w.metrics)
	if !w.track(s) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	w.log.Debug("Connection opened", "session_id", s.SessionID(), "remote", r.RemoteAddr)

	w.wg.Add(2)
	go w.writePump(conn, s)
	go w.readPump(conn, s)
}

func (w *WebSocketServer) track(s *Session) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sessions == nil {
		return false
	}
	w.sessions[s.SessionID()] = s
	return true
}

func (w *WebSocketServer) untrack(s *Session) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.sessions, s.SessionID())
}

func (w *WebSocketServer) readPump(conn *websocket.Conn, s *Session) {
	defer w.wg.Done()
	defer func() {
		w.gateway.Disconnect(s)
		w.untrack(s)
	}()

	limiter := w.limiter()
	conn.SetReadLimit(w.config.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			w.handleReadError(s, err)
			return
		}
		if limiter != nil && !limiter.Allow() {
			w.gateway.RejectRateLimited(s, raw)
			continue
		}
		w.gateway.Handle(w.ctx, s, raw)
		if s.State() == StateClosed {
			return
		}
	}
}

func (w *WebSocketServer) limiter() *rate.Limiter {
	if w.config.RateLimit <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(w.config.RateLimit), max(w.config.RateBurst, 1))
}

func (w *WebSocketServer) handleReadError(s *Session, err error) {
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		w.log.Debug("Connection closed by peer", "session_id", s.SessionID())
	case websocket.IsUnexpectedCloseError(err):
		w.log.Debug("Connection lost", "session_id", s.SessionID(), "error", err)
	default:
		w.log.Warn("Read failed", "session_id", s.SessionID(), "error", err)
	}
}

func (w *WebSocketServer) writePump(conn *websocket.Conn, s *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
		w.wg.Done()
	}()

	outbox := s.Outbox()
	for {
		select {
		case <-outbox.Ready():
			if err := w.flush(conn, outbox); err != nil {
				w.log.Debug("Write failed", "session_id", s.SessionID(), "error", err)
				s.Close()
				return
			}
		case <-outbox.Done():
			_ = w.flush(conn, outbox)
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		}
	}
}

func (w *WebSocketServer) flush(conn *websocket.Conn, outbox *runtime.Outbox) error {
	for _, f := range outbox.Drain() {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, f.Payload); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown closes every open session and waits for their pumps to exit or ctx to expire.
func (w *WebSocketServer) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	sessions := w.sessions
	w.sessions = nil
	w.mu.Unlock()

	for _, s := range sessions {
		w.gateway.Disconnect(s)
	}
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		w.log.Info("All connections closed", "count", len(sessions))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
