// Package wssource is the WebSocket endpoint for browser editors. Editors
// send the outcomes of their writes as "edits" envelopes and receive
// propagation notices as "notice" envelopes on the same connection.
//
// Every envelope has the shape
//
//	{"type": "...", "id": "...", "timestamp": 1700000000000, "payload": {...}}
//
// An "edits" envelope is answered with an "ack" carrying the same id, or a
// "nack" whose payload holds a reason and an error message.
package wssource

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/c360/featuresync/errors"
	"github.com/c360/featuresync/metric"
	"github.com/c360/featuresync/notify"
	"github.com/c360/featuresync/source"
)

// Envelope types.
const (
	TypeEdits  = "edits"
	TypeAck    = "ack"
	TypeNack   = "nack"
	TypeNotice = "notice"
	TypePing   = "ping"
	TypePong   = "pong"
)

// Envelope wraps every message on the connection.
type Envelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NackPayload explains a rejected envelope.
type NackPayload struct {
	Reason string `json:"reason"`
	Error  string `json:"error"`
}

type client struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex
}

// Server accepts editor connections. It is a source.Source for the edits it
// receives and a notify.Sink that broadcasts notices to every editor.
type Server struct {
	name    string
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics

	upgrader websocket.Upgrader
	emitter  *source.Emitter

	mu      sync.RWMutex
	clients map[string]*client
	nextID  atomic.Int64

	lifecycleMu sync.Mutex
	httpServer  *http.Server
	listener    net.Listener
	shutdown    chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

var (
	_ source.Source = (*Server)(nil)
	_ notify.Sink   = (*Server)(nil)
)

// Option configures a Server.
type Option func(*Server)

// WithName sets the source name used in events.
func WithName(name string) Option {
	return func(s *Server) {
		if name != "" {
			s.name = name
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records connection and message metrics in registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(s *Server) { s.metrics = newMetrics(registry) }
}

// New creates a server. It does not listen until Start.
func New(cfg Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		name:     "websocket",
		cfg:      cfg,
		logger:   slog.Default(),
		clients:  make(map[string]*client),
		shutdown: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.emitter = source.NewEmitter(s.name)
	s.logger = s.logger.With("component", "wssource", "source", s.name)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     s.checkOrigin,
	}
	return s, nil
}

// Name implements source.Source.
func (s *Server) Name() string { return s.name }

// Subscribe implements source.Source.
func (s *Server) Subscribe(ctx context.Context, h source.Handler) (source.Subscription, error) {
	return s.emitter.Subscribe(ctx, h)
}

// Handler returns the upgrade handler, for mounting on another mux.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

// Start listens on the configured port and serves until Stop.
func (s *Server) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.httpServer != nil {
		return errors.WrapFatal(fmt.Errorf("server already started"), "wssource", "Start", "check started state")
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", ":"+strconv.Itoa(s.cfg.Port))
	if err != nil {
		return errors.WrapFatal(err, "wssource", "Start", "listen")
	}

	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, s.Handler())
	s.listener = ln
	s.httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.trackError("server_error")
			s.logger.Error("WebSocket server stopped", "error", err)
		}
	}()

	s.logger.Info("WebSocket server listening", "addr", ln.Addr().String(), "path", s.cfg.Path)
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() net.Addr {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes every connection and shuts the HTTP server down.
func (s *Server) Stop(timeout time.Duration) error {
	s.closeOnce.Do(func() { close(s.shutdown) })

	s.lifecycleMu.Lock()
	srv := s.httpServer
	s.lifecycleMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if srv != nil {
		_ = srv.Shutdown(ctx)
	}

	s.mu.Lock()
	for _, c := range s.clients {
		_ = c.conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.WrapTransient(fmt.Errorf("shutdown timeout after %v", timeout), "wssource", "Stop", "wait for connections")
	}
}

// Clients returns the number of connected editors.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Notify implements notify.Sink by broadcasting the notice to every editor.
func (s *Server) Notify(n notify.Notice) {
	payload, err := json.Marshal(n)
	if err != nil {
		s.logger.Error("Encode notice", "error", err)
		return
	}
	data, err := json.Marshal(Envelope{Type: TypeNotice, ID: uuid.NewString(), Timestamp: time.Now().UnixMilli(), Payload: payload})
	if err != nil {
		return
	}

	s.mu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		if err := s.write(c, data); err != nil {
			s.trackError("write_error")
			s.logger.Debug("Notice not delivered", "client", c.id, "error", err)
			continue
		}
		if s.metrics != nil {
			s.metrics.noticesSent.Inc()
		}
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (s *Server) authenticate(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true
	}
	token := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Token)) == 1
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.shutdown:
		http.Error(w, "Shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	if !s.authenticate(r) {
		s.trackError("auth_failed")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if s.cfg.MaxConnections > 0 && s.Clients() >= s.cfg.MaxConnections {
		s.trackError("too_many_connections")
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.trackError("upgrade_error")
		return
	}
	if s.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(s.cfg.MaxMessageSize)
	}

	c := &client{id: fmt.Sprintf("editor-%d", s.nextID.Add(1)), conn: conn}
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.connectionsActive.Inc()
		s.metrics.connectionsTotal.Inc()
	}
	s.logger.Debug("Editor connected", "client", c.id, "remote", r.RemoteAddr)

	s.wg.Add(1)
	go s.serve(c)
}

// serve reads envelopes until the connection fails or the server stops.
func (s *Server) serve(c *client) {
	defer s.wg.Done()
	defer func() {
		_ = c.conn.Close()
		s.mu.Lock()
		delete(s.clients, c.id)
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.connectionsActive.Dec()
		}
		s.logger.Debug("Editor disconnected", "client", c.id)
	}()

	stopPing := s.keepAlive(c)
	defer stopPing()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.trackError("read_error")
			}
			return
		}
		s.handleMessage(c, data)
	}
}

func (s *Server) keepAlive(c *client) func() {
	if s.cfg.PingInterval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-s.shutdown:
				return
			case <-ticker.C:
				c.writeMu.Lock()
				err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout()))
				c.writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

func (s *Server) handleMessage(c *client, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		s.trackError("parse_error")
		s.reply(c, Envelope{Type: TypeNack}, &NackPayload{Reason: "invalid_envelope", Error: "envelope must be JSON with a type"})
		return
	}
	if s.metrics != nil {
		s.metrics.messagesReceived.WithLabelValues(env.Type).Inc()
	}

	switch env.Type {
	case TypeEdits:
		event, err := source.Decode(s.name, env.Payload)
		if err != nil {
			s.trackError("invalid_payload")
			s.reply(c, Envelope{Type: TypeNack, ID: env.ID}, &NackPayload{Reason: "invalid_payload", Error: err.Error()})
			return
		}
		s.emitter.Emit(event)
		s.reply(c, Envelope{Type: TypeAck, ID: env.ID}, nil)

	case TypePing:
		s.reply(c, Envelope{Type: TypePong, ID: env.ID}, nil)

	case TypeAck, TypeNack, TypePong:

	default:
		s.trackError("unknown_type")
		s.reply(c, Envelope{Type: TypeNack, ID: env.ID}, &NackPayload{Reason: "unknown_type", Error: "unsupported type " + env.Type})
	}
}

func (s *Server) reply(c *client, env Envelope, nack *NackPayload) {
	env.Timestamp = time.Now().UnixMilli()
	if nack != nil {
		env.Payload, _ = json.Marshal(nack)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	if err := s.write(c, data); err != nil {
		s.trackError("write_error")
	}
}

func (s *Server) write(c *client, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout()))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Server) writeTimeout() time.Duration {
	if s.cfg.WriteTimeout > 0 {
		return s.cfg.WriteTimeout
	}
	return 5 * time.Second
}

func (s *Server) trackError(kind string) {
	if s.metrics != nil {
		s.metrics.errorsTotal.WithLabelValues(kind).Inc()
	}
}
