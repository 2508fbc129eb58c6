package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"teleview/internal/wire"
)

// Transport is the slice of the shared client a room controller needs.
type Transport interface {
	Status() Status
	JoinRoom(ctx context.Context, roomRef string) error
	LeaveRoom(roomRef string)
	SendMessage(ctx context.Context, roomRef, content string) error
	SendTyping(roomRef string, isTyping bool)
	RequestOnlineUsers(roomRef string) error
	On(eventType string, fn func(wire.Envelope)) func()
}

// Fallback is the degraded request/response path used when the room gate is
// closed or the transport is down.
type Fallback interface {
	Messages(ctx context.Context, imageRef string) ([]wire.Message, error)
	SendMessage(ctx context.Context, imageRef, content string) (wire.Message, error)
}

// ErrNoFallback reports a send that could use neither the realtime transport
// nor a degraded path, because the room was built without one.
var ErrNoFallback = errors.New("no fallback path configured")

// Room is the room-scoped controller for one image's collaboration panel:
// the append-only message log and the server-confirmed presence and typing
// sets, reconciled from events and never invented locally.
type Room struct {
	ref    string
	selfID string

	transport Transport
	fallback  Fallback
	gate      func() bool

	typingIdle  time.Duration
	recentLimit int
	logger      *slog.Logger

	mu        sync.Mutex
	log       []wire.Message
	presence  map[string]bool
	typing    map[string]bool
	joined    bool
	offs      []func()
	idleTimer *time.Timer
}

// RoomOption tweaks a Room.
type RoomOption func(*Room)

// WithRecentLimit bounds the locally kept message window; older entries are
// pruned on append. Zero keeps everything.
func WithRecentLimit(n int) RoomOption {
	return func(r *Room) { r.recentLimit = n }
}

// WithTypingIdle overrides the inactivity delay before the typing indicator
// auto-clears.
func WithTypingIdle(d time.Duration) RoomOption {
	return func(r *Room) { r.typingIdle = d }
}

// WithRoomLogger sets the room logger.
func WithRoomLogger(l *slog.Logger) RoomOption {
	return func(r *Room) { r.logger = l }
}

// NewRoom builds the controller for roomRef. gate reports whether the image
// currently has collaborators other than self; while it returns false the
// realtime transport is never engaged for this room.
func NewRoom(roomRef, selfID string, transport Transport, fallback Fallback, gate func() bool, opts ...RoomOption) *Room {
	r := &Room{
		ref:        roomRef,
		selfID:     selfID,
		transport:  transport,
		fallback:   fallback,
		gate:       gate,
		typingIdle: time.Second,
		logger:     slog.Default(),
		presence:   make(map[string]bool),
		typing:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open loads the existing message log and, when the gate allows it, joins
// the realtime room and requests the presence snapshot.
func (r *Room) Open(ctx context.Context) error {
	if r.fallback != nil {
		history, err := r.fallback.Messages(ctx, r.ref)
		if err != nil {
			r.logger.Warn("load message history", slog.String("room", r.ref), slog.String("error", err.Error()))
		} else {
			r.mu.Lock()
			r.log = history
			r.prune()
			r.mu.Unlock()
		}
	}

	if !r.gate() {
		return nil
	}

	r.subscribe()
	if err := r.transport.JoinRoom(ctx, r.ref); err != nil {
		return err
	}
	r.mu.Lock()
	r.joined = true
	r.mu.Unlock()
	return r.transport.RequestOnlineUsers(r.ref)
}

// Close tears the room down. The leave notification is attempted
// unconditionally, even if the join never completed, so the server does not
// leak a presence entry.
func (r *Room) Close() {
	r.transport.LeaveRoom(r.ref)

	r.mu.Lock()
	offs := r.offs
	r.offs = nil
	r.joined = false
	if r.idleTimer != nil {
		r.idleTimer.Stop()
		r.idleTimer = nil
	}
	r.mu.Unlock()
	for _, off := range offs {
		off()
	}
}

// Send routes a chat message: the realtime path when the gate is open and
// the transport connected, otherwise the degraded request/response path
// with an immediate optimistic append (there is no broadcast to wait for).
func (r *Room) Send(ctx context.Context, content string) error {
	if r.gate() && r.transport.Status() == StatusConnected {
		return r.transport.SendMessage(ctx, r.ref, content)
	}

	if r.fallback == nil {
		return ErrNoFallback
	}
	msg, err := r.fallback.SendMessage(ctx, r.ref, content)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.log = append(r.log, msg)
	r.prune()
	r.mu.Unlock()
	return nil
}

// InputTyping signals a keystroke. The typing indicator is emitted
// immediately and auto-cleared after the idle window; every call resets the
// timer.
func (r *Room) InputTyping() {
	if r.transport.Status() != StatusConnected || !r.gate() {
		return
	}
	r.transport.SendTyping(r.ref, true)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.idleTimer != nil {
		r.idleTimer.Stop()
	}
	r.idleTimer = time.AfterFunc(r.typingIdle, func() {
		r.transport.SendTyping(r.ref, false)
	})
}

// Messages returns a copy of the local message log.
func (r *Room) Messages() []wire.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]wire.Message(nil), r.log...)
}

// Presence returns the sorted ids currently connected to the room.
func (r *Room) Presence() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.presence)
}

// TypingUsers returns the sorted ids currently typing.
func (r *Room) TypingUsers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.typing)
}

func (r *Room) subscribe() {
	offs := []func(){
		r.transport.On(wire.EventNewMessage, r.onNewMessage),
		r.transport.On(wire.EventOnlineUsers, r.onOnlineUsers),
		r.transport.On(wire.EventUserJoinedRoom, r.onUserJoined),
		r.transport.On(wire.EventUserLeftRoom, r.onUserLeft),
		r.transport.On(wire.EventUserTyping, r.onUserTyping),
	}
	r.mu.Lock()
	r.offs = append(r.offs, offs...)
	r.mu.Unlock()
}

func (r *Room) onNewMessage(env wire.Envelope) {
	var msg wire.Message
	if err := json.Unmarshal(env.Payload, &msg); err != nil || msg.RoomRef != r.ref {
		return
	}
	r.mu.Lock()
	r.log = append(r.log, msg)
	r.prune()
	r.mu.Unlock()
}

func (r *Room) onOnlineUsers(env wire.Envelope) {
	var p wire.OnlineUsersPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.RoomRef != r.ref {
		return
	}
	r.mu.Lock()
	// Snapshot replaces the set wholesale; presence is server truth.
	r.presence = make(map[string]bool, len(p.Users))
	for _, id := range p.Users {
		r.presence[id] = true
	}
	r.mu.Unlock()
}

func (r *Room) onUserJoined(env wire.Envelope) {
	var p wire.PresencePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.RoomRef != r.ref {
		return
	}
	r.mu.Lock()
	r.presence[p.UserID] = true
	r.mu.Unlock()
}

func (r *Room) onUserLeft(env wire.Envelope) {
	var p wire.PresencePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.RoomRef != r.ref {
		return
	}
	r.mu.Lock()
	delete(r.presence, p.UserID)
	delete(r.typing, p.UserID)
	r.mu.Unlock()
}

func (r *Room) onUserTyping(env wire.Envelope) {
	var p wire.TypingPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.RoomRef != r.ref {
		return
	}
	if p.UserID == r.selfID {
		return
	}
	r.mu.Lock()
	if p.IsTyping {
		r.typing[p.UserID] = true
	} else {
		delete(r.typing, p.UserID)
	}
	r.mu.Unlock()
}

// prune drops messages beyond the recent window. Caller holds the lock.
func (r *Room) prune() {
	if r.recentLimit > 0 && len(r.log) > r.recentLimit {
		r.log = append([]wire.Message(nil), r.log[len(r.log)-r.recentLimit:]...)
	}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
