// Package relay is the room-scoped realtime service the viewer clients talk
// to: presence, chat and typing over websockets, plus the request/response
// fallback endpoints and the invitation plumbing. Nothing here persists;
// the service of record lives elsewhere.
package relay

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"teleview/internal/invite"
	"teleview/internal/wire"
)

// Directory resolves bearer tokens and user ids to participants. Credential
// validation itself belongs to the external identity service; the relay
// only consumes its answers.
type Directory interface {
	UserByToken(token string) (invite.User, bool)
	UserByID(id string) (invite.User, bool)
}

// StaticDirectory is a token-to-user table, useful for tests and single-node
// deployments.
type StaticDirectory map[string]invite.User

// UserByToken implements Directory.
func (d StaticDirectory) UserByToken(token string) (invite.User, bool) {
	u, ok := d[token]
	return u, ok
}

// UserByID implements Directory.
func (d StaticDirectory) UserByID(id string) (invite.User, bool) {
	for _, u := range d {
		if u.ID == id {
			return u, true
		}
	}
	return invite.User{}, false
}

// Server wraps the websocket hub and HTTP handlers.
type Server struct {
	cfg             Config
	logger          *slog.Logger
	mux             *http.ServeMux
	directory       Directory
	metrics         *metrics
	allowedOrigins  []string
	allowAllOrigins bool
	upgrader        websocket.Upgrader

	wsMu    sync.Mutex
	clients map[*client]bool
	rooms   map[string]map[*client]invite.User

	mu          sync.Mutex
	messages    map[string][]wire.Message
	invitations map[string]*invite.Invitation
	owners      map[string]string

	done chan struct{}
}

// New constructs a Server with routes and middleware configured.
func New(cfg Config, directory Directory) (*Server, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true}))

	srv := &Server{
		cfg:            cfg,
		logger:         logger,
		mux:            http.NewServeMux(),
		directory:      directory,
		metrics:        newMetrics(),
		allowedOrigins: cfg.AllowedOrigins,
		clients:        make(map[*client]bool),
		rooms:          make(map[string]map[*client]invite.User),
		messages:       make(map[string][]wire.Message),
		invitations:    make(map[string]*invite.Invitation),
		owners:         make(map[string]string),
		done:           make(chan struct{}),
	}
	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			srv.allowAllOrigins = true
		}
	}
	srv.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return srv.matchOrigin(r.Header.Get("Origin")) != "" || r.Header.Get("Origin") == ""
		},
	}

	srv.routes()
	go srv.expirySweep()
	return srv, nil
}

// Run starts the HTTP server.
func (s *Server) Run() error {
	addr := ":" + s.cfg.Port
	s.logger.Info("starting relay", slog.String("addr", addr))
	return http.ListenAndServe(addr, s.Handler())
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.withCORS(s.loggingMiddleware(s.mux))
}

// Close stops background work.
func (s *Server) Close() {
	close(s.done)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/metrics", s.metrics.handler())
	s.mux.HandleFunc("/ws", s.handleWebsocket)
	s.mux.HandleFunc("/invitations", s.handleInvitations)
	s.mux.HandleFunc("/invitations/", s.handleInvitationAction)
	s.mux.HandleFunc("/images/", s.handleImages)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		s.logger.Info("request", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.Int("status", rw.status), slog.Duration("duration", time.Since(start)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// client is one connected websocket participant. Writes are serialized.
type client struct {
	conn *websocket.Conn
	user invite.User
	mu   sync.Mutex
}

func (c *client) write(env wire.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(env)
}

func (c *client) send(eventType string, payload any) {
	env, err := wire.NewEnvelope(eventType, payload)
	if err != nil {
		return
	}
	_ = c.write(env)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	user, ok := s.authenticate(r)
	if !ok {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade", slog.String("error", err.Error()))
		return
	}

	cl := &client{conn: conn, user: user}
	s.wsMu.Lock()
	s.clients[cl] = true
	s.wsMu.Unlock()
	s.metrics.connectedClients.Inc()
	s.logger.Info("ws connected", slog.String("user", user.ID))

	// Block until the read loop exits so cleanup executes reliably.
	s.readLoop(cl)

	s.dropFromAllRooms(cl)
	s.wsMu.Lock()
	delete(s.clients, cl)
	s.wsMu.Unlock()
	s.metrics.connectedClients.Dec()
	_ = conn.Close()
	s.logger.Info("ws disconnected", slog.String("user", user.ID))
}

// authenticate resolves the bearer credential from the Authorization header
// or, for browser websocket clients that cannot set headers, a token query
// parameter.
func (s *Server) authenticate(r *http.Request) (invite.User, bool) {
	token := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		token = token[len("bearer "):]
	}
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return invite.User{}, false
	}
	return s.directory.UserByToken(token)
}

func (s *Server) readLoop(cl *client) {
	for {
		var env wire.Envelope
		if err := cl.conn.ReadJSON(&env); err != nil {
			return
		}
		s.handleEvent(cl, env)
	}
}

func (s *Server) handleEvent(cl *client, env wire.Envelope) {
	switch env.Type {
	case wire.EventJoinRoom:
		if p, ok := decode[wire.RoomPayload](s, cl, env); ok && p.RoomRef != "" {
			s.joinRoom(cl, p.RoomRef)
		}
	case wire.EventLeaveRoom:
		if p, ok := decode[wire.RoomPayload](s, cl, env); ok && p.RoomRef != "" {
			s.leaveRoom(cl, p.RoomRef)
		}
	case wire.EventSendMessage:
		if p, ok := decode[wire.SendMessagePayload](s, cl, env); ok {
			s.relayMessage(cl, p)
		}
	case wire.EventTyping:
		if p, ok := decode[wire.TypingPayload](s, cl, env); ok {
			s.broadcast(p.RoomRef, wire.EventUserTyping, wire.TypingPayload{
				RoomRef:  p.RoomRef,
				UserID:   cl.user.ID,
				IsTyping: p.IsTyping,
			}, cl)
		}
	case wire.EventGetOnlineUsers:
		if p, ok := decode[wire.RoomPayload](s, cl, env); ok {
			cl.send(wire.EventOnlineUsers, wire.OnlineUsersPayload{
				RoomRef: p.RoomRef,
				Users:   s.roomMembers(p.RoomRef),
			})
		}
	case wire.EventPing:
		cl.send(wire.EventPong, struct{}{})
	default:
		s.logger.Warn("unknown event", slog.String("type", env.Type))
	}
}

func decode[T any](s *Server, cl *client, env wire.Envelope) (T, bool) {
	var p T
	if err := env.Decode(&p); err != nil {
		s.logger.Warn("bad payload", slog.String("type", env.Type), slog.String("error", err.Error()))
		cl.send(wire.EventError, wire.ErrorPayload{Message: "malformed " + env.Type + " payload"})
		var zero T
		return zero, false
	}
	return p, true
}

func (s *Server) joinRoom(cl *client, roomRef string) {
	s.wsMu.Lock()
	if s.rooms[roomRef] == nil {
		s.rooms[roomRef] = make(map[*client]invite.User)
	}
	s.rooms[roomRef][cl] = cl.user
	peers := len(s.rooms[roomRef])
	open := len(s.rooms)
	s.wsMu.Unlock()
	s.metrics.openRooms.Set(float64(open))

	s.logger.Info("room joined", slog.String("room", roomRef), slog.String("user", cl.user.ID), slog.Int("peers", peers))
	cl.send(wire.EventJoinedRoom, wire.RoomPayload{RoomRef: roomRef})
	s.broadcast(roomRef, wire.EventUserJoinedRoom, wire.PresencePayload{RoomRef: roomRef, UserID: cl.user.ID}, cl)
}

func (s *Server) leaveRoom(cl *client, roomRef string) {
	s.wsMu.Lock()
	peers := s.rooms[roomRef]
	if peers != nil {
		delete(peers, cl)
		if len(peers) == 0 {
			delete(s.rooms, roomRef)
		}
	}
	open := len(s.rooms)
	s.wsMu.Unlock()
	s.metrics.openRooms.Set(float64(open))

	s.logger.Info("room left", slog.String("room", roomRef), slog.String("user", cl.user.ID))
	cl.send(wire.EventLeftRoom, wire.RoomPayload{RoomRef: roomRef})
	s.broadcast(roomRef, wire.EventUserLeftRoom, wire.PresencePayload{RoomRef: roomRef, UserID: cl.user.ID}, cl)
}

func (s *Server) dropFromAllRooms(cl *client) {
	s.wsMu.Lock()
	var left []string
	for roomRef, peers := range s.rooms {
		if _, ok := peers[cl]; ok {
			delete(peers, cl)
			if len(peers) == 0 {
				delete(s.rooms, roomRef)
			}
			left = append(left, roomRef)
		}
	}
	open := len(s.rooms)
	s.wsMu.Unlock()
	s.metrics.openRooms.Set(float64(open))

	for _, roomRef := range left {
		s.broadcast(roomRef, wire.EventUserLeftRoom, wire.PresencePayload{RoomRef: roomRef, UserID: cl.user.ID}, cl)
	}
}

func (s *Server) relayMessage(cl *client, p wire.SendMessagePayload) {
	if strings.TrimSpace(p.Content) == "" {
		cl.send(wire.EventError, wire.ErrorPayload{ClientRef: p.ClientRef, Message: "empty message"})
		return
	}
	if !s.isMember(cl, p.RoomRef) {
		cl.send(wire.EventError, wire.ErrorPayload{ClientRef: p.ClientRef, Message: "not joined to room"})
		return
	}

	msg := s.storeMessage(p.RoomRef, cl.user.ID, p.Content)

	// The sender gets the ack; everyone, sender included, gets the
	// broadcast. Clients rely on the broadcast instead of a local echo.
	cl.send(wire.EventMessageSent, wire.MessageSentPayload{ClientRef: p.ClientRef, MessageID: msg.ID})
	s.broadcast(p.RoomRef, wire.EventNewMessage, msg, nil)
}

func (s *Server) storeMessage(roomRef, senderID, content string) wire.Message {
	msg := wire.Message{
		ID:        uuid.NewString(),
		RoomRef:   roomRef,
		SenderID:  senderID,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	s.mu.Lock()
	log := append(s.messages[roomRef], msg)
	if s.cfg.RecentMessages > 0 && len(log) > s.cfg.RecentMessages {
		log = log[len(log)-s.cfg.RecentMessages:]
	}
	s.messages[roomRef] = log
	s.mu.Unlock()
	s.metrics.messagesTotal.Inc()
	return msg
}

func (s *Server) isMember(cl *client, roomRef string) bool {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	_, ok := s.rooms[roomRef][cl]
	return ok
}

func (s *Server) roomMembers(roomRef string) []string {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, user := range s.rooms[roomRef] {
		if !seen[user.ID] {
			seen[user.ID] = true
			out = append(out, user.ID)
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}

// broadcast fans an event to a room's members, skipping except when set.
// The member list is copied before writing so the lock is not held during
// network writes.
func (s *Server) broadcast(roomRef, eventType string, payload any, except *client) {
	env, err := wire.NewEnvelope(eventType, payload)
	if err != nil {
		s.logger.Error("marshal broadcast", slog.String("error", err.Error()))
		return
	}

	s.wsMu.Lock()
	peers := s.rooms[roomRef]
	conns := make([]*client, 0, len(peers))
	for c := range peers {
		if c != except {
			conns = append(conns, c)
		}
	}
	s.wsMu.Unlock()

	for _, c := range conns {
		if err := c.write(env); err != nil {
			s.logger.Error("broadcast", slog.String("room", roomRef), slog.String("error", err.Error()))
		}
	}
}

// DisconnectUser severs every connection held by userID, forcing the client
// to re-establish and re-authenticate. Returns the number of connections
// closed.
func (s *Server) DisconnectUser(userID string) int {
	s.wsMu.Lock()
	var victims []*client
	for cl := range s.clients {
		if cl.user.ID == userID {
			victims = append(victims, cl)
		}
	}
	s.wsMu.Unlock()

	for _, cl := range victims {
		_ = cl.conn.Close()
	}
	return len(victims)
}

// expirySweep applies the 24 hour validity policy: pending invitations past
// the window become EXPIRED. Clients only ever display this state.
func (s *Server) expirySweep() {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweepOnce(time.Now())
		case <-s.done:
			return
		}
	}
}

func (s *Server) sweepOnce(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range s.invitations {
		if inv.ExpiredBy(now) {
			inv.Status = invite.StatusExpired
			s.logger.Info("invitation expired", slog.String("id", inv.ID))
		}
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

// Hijack allows websocket handlers to upgrade the connection through the
// wrapped writer.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijack not supported")
}
