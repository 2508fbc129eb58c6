package relay

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"teleview/internal/wire"
)

// The logging wrapper must stay hijackable or websocket upgrades behind the
// middleware chain fail with a 500.
var _ http.Hijacker = (*responseWriter)(nil)

func dialWS(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil drains frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, eventType string) wire.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var env wire.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("waiting for %s: %v", eventType, err)
		}
		if env.Type == eventType {
			return env
		}
	}
}

func sendEvent(t *testing.T, conn *websocket.Conn, eventType string, payload any) {
	t.Helper()
	env, err := wire.NewEnvelope(eventType, payload)
	if err != nil {
		t.Fatalf("marshal %s: %v", eventType, err)
	}
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("write %s: %v", eventType, err)
	}
}

func TestWebsocketRejectsBadToken(t *testing.T) {
	_, ts := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=tok-bogus"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("dial with bogus token succeeded")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Fatalf("expected 401 handshake rejection, got %+v", resp)
	}
}

func TestWebsocketJoinLeavePresence(t *testing.T) {
	_, ts := newTestServer(t)
	owner := dialWS(t, ts, "tok-owner")
	spec := dialWS(t, ts, "tok-spec")

	sendEvent(t, owner, wire.EventJoinRoom, wire.RoomPayload{RoomRef: "img-1"})
	readUntil(t, owner, wire.EventJoinedRoom)

	sendEvent(t, spec, wire.EventJoinRoom, wire.RoomPayload{RoomRef: "img-1"})
	readUntil(t, spec, wire.EventJoinedRoom)

	// The earlier member sees the newcomer.
	env := readUntil(t, owner, wire.EventUserJoinedRoom)
	var joined wire.PresencePayload
	if err := env.Decode(&joined); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if joined.UserID != "spec" || joined.RoomRef != "img-1" {
		t.Fatalf("join broadcast = %+v", joined)
	}

	sendEvent(t, spec, wire.EventGetOnlineUsers, wire.RoomPayload{RoomRef: "img-1"})
	env = readUntil(t, spec, wire.EventOnlineUsers)
	var snapshot wire.OnlineUsersPayload
	if err := env.Decode(&snapshot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snapshot.Users) != 2 {
		t.Fatalf("snapshot = %v", snapshot.Users)
	}

	sendEvent(t, spec, wire.EventLeaveRoom, wire.RoomPayload{RoomRef: "img-1"})
	readUntil(t, spec, wire.EventLeftRoom)

	env = readUntil(t, owner, wire.EventUserLeftRoom)
	var left wire.PresencePayload
	if err := env.Decode(&left); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if left.UserID != "spec" {
		t.Fatalf("leave broadcast = %+v", left)
	}
}

func TestWebsocketTypingExcludesSender(t *testing.T) {
	_, ts := newTestServer(t)
	owner := dialWS(t, ts, "tok-owner")
	spec := dialWS(t, ts, "tok-spec")

	sendEvent(t, owner, wire.EventJoinRoom, wire.RoomPayload{RoomRef: "img-1"})
	readUntil(t, owner, wire.EventJoinedRoom)
	sendEvent(t, spec, wire.EventJoinRoom, wire.RoomPayload{RoomRef: "img-1"})
	readUntil(t, spec, wire.EventJoinedRoom)

	sendEvent(t, owner, wire.EventTyping, wire.TypingPayload{RoomRef: "img-1", IsTyping: true})

	env := readUntil(t, spec, wire.EventUserTyping)
	var typing wire.TypingPayload
	if err := env.Decode(&typing); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if typing.UserID != "owner" || !typing.IsTyping {
		t.Fatalf("typing broadcast = %+v", typing)
	}

	// The sender must not get its own indicator; a ping round trip proves
	// nothing else was queued.
	sendEvent(t, owner, wire.EventPing, struct{}{})
	env = readUntil(t, owner, wire.EventPong)
	if env.Type != wire.EventPong {
		t.Fatalf("expected pong, got %s", env.Type)
	}
}

func TestWebsocketDisconnectBroadcastsLeave(t *testing.T) {
	_, ts := newTestServer(t)
	owner := dialWS(t, ts, "tok-owner")
	spec := dialWS(t, ts, "tok-spec")

	sendEvent(t, owner, wire.EventJoinRoom, wire.RoomPayload{RoomRef: "img-1"})
	readUntil(t, owner, wire.EventJoinedRoom)
	sendEvent(t, spec, wire.EventJoinRoom, wire.RoomPayload{RoomRef: "img-1"})
	readUntil(t, spec, wire.EventJoinedRoom)

	spec.Close()

	env := readUntil(t, owner, wire.EventUserLeftRoom)
	var left wire.PresencePayload
	if err := env.Decode(&left); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if left.UserID != "spec" {
		t.Fatalf("leave broadcast = %+v", left)
	}
}

func TestDisconnectUser(t *testing.T) {
	srv, ts := newTestServer(t)
	owner := dialWS(t, ts, "tok-owner")
	spec := dialWS(t, ts, "tok-spec")

	sendEvent(t, owner, wire.EventJoinRoom, wire.RoomPayload{RoomRef: "img-1"})
	readUntil(t, owner, wire.EventJoinedRoom)
	sendEvent(t, spec, wire.EventJoinRoom, wire.RoomPayload{RoomRef: "img-1"})
	readUntil(t, spec, wire.EventJoinedRoom)

	if n := srv.DisconnectUser("spec"); n != 1 {
		t.Fatalf("DisconnectUser severed %d connections, want 1", n)
	}

	// The severed peer's departure is broadcast like any disconnect.
	env := readUntil(t, owner, wire.EventUserLeftRoom)
	var left wire.PresencePayload
	if err := env.Decode(&left); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if left.UserID != "spec" {
		t.Fatalf("leave broadcast = %+v", left)
	}

	_ = spec.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := spec.ReadMessage(); err != nil {
			break
		}
	}

	// Server-side cleanup deregisters the connection shortly after.
	deadline := time.Now().Add(3 * time.Second)
	for srv.DisconnectUser("spec") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("severed connection never deregistered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebsocketMessageAckAndBroadcast(t *testing.T) {
	_, ts := newTestServer(t)
	owner := dialWS(t, ts, "tok-owner")
	spec := dialWS(t, ts, "tok-spec")

	sendEvent(t, owner, wire.EventJoinRoom, wire.RoomPayload{RoomRef: "img-1"})
	readUntil(t, owner, wire.EventJoinedRoom)
	sendEvent(t, spec, wire.EventJoinRoom, wire.RoomPayload{RoomRef: "img-1"})
	readUntil(t, spec, wire.EventJoinedRoom)

	sendEvent(t, owner, wire.EventSendMessage, wire.SendMessagePayload{
		RoomRef: "img-1", Content: "hello", ClientRef: "ref-1",
	})

	env := readUntil(t, owner, wire.EventMessageSent)
	var ack wire.MessageSentPayload
	if err := env.Decode(&ack); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ack.ClientRef != "ref-1" || ack.MessageID == "" {
		t.Fatalf("ack = %+v", ack)
	}

	for _, conn := range []*websocket.Conn{owner, spec} {
		env := readUntil(t, conn, wire.EventNewMessage)
		var msg wire.Message
		if err := env.Decode(&msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.ID != ack.MessageID || msg.Content != "hello" || msg.SenderID != "owner" {
			t.Fatalf("broadcast = %+v", msg)
		}
	}
}

func TestWebsocketSendErrors(t *testing.T) {
	_, ts := newTestServer(t)
	owner := dialWS(t, ts, "tok-owner")

	t.Run("not joined", func(t *testing.T) {
		sendEvent(t, owner, wire.EventSendMessage, wire.SendMessagePayload{
			RoomRef: "img-1", Content: "hello", ClientRef: "ref-1",
		})
		env := readUntil(t, owner, wire.EventError)
		var p wire.ErrorPayload
		if err := env.Decode(&p); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if p.ClientRef != "ref-1" {
			t.Fatalf("error not correlated: %+v", p)
		}
	})

	t.Run("empty content", func(t *testing.T) {
		sendEvent(t, owner, wire.EventJoinRoom, wire.RoomPayload{RoomRef: "img-1"})
		readUntil(t, owner, wire.EventJoinedRoom)
		sendEvent(t, owner, wire.EventSendMessage, wire.SendMessagePayload{
			RoomRef: "img-1", Content: "  ", ClientRef: "ref-2",
		})
		env := readUntil(t, owner, wire.EventError)
		var p wire.ErrorPayload
		if err := env.Decode(&p); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if p.ClientRef != "ref-2" {
			t.Fatalf("error not correlated: %+v", p)
		}
	})
}

func TestParseAllowedOrigins(t *testing.T) {
	cases := []struct {
		raw  string
		want []string
	}{
		{"*", []string{"*"}},
		{"https://a.example.com, https://b.example.com", []string{"https://a.example.com", "https://b.example.com"}},
		{" , ", []string{"*"}},
	}
	for _, tc := range cases {
		got := parseAllowedOrigins(tc.raw)
		if len(got) != len(tc.want) {
			t.Fatalf("parseAllowedOrigins(%q) = %v, want %v", tc.raw, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("parseAllowedOrigins(%q) = %v, want %v", tc.raw, got, tc.want)
			}
		}
	}
}
