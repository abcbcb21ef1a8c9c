// ABOUTME: Tests for the transport channel
// ABOUTME: Covers backoff sequence, queue bounds, flush order and lifecycle
package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Converse-Protocol/converse-go/pkg/faultguard"
	"github.com/Converse-Protocol/converse-go/pkg/protocol"
)

func TestBackoffSequence(t *testing.T) {
	initial := 1000 * time.Millisecond
	max := 30000 * time.Millisecond

	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
		30000 * time.Millisecond,
		30000 * time.Millisecond,
	}

	for attempt, expected := range want {
		if got := backoffDelay(attempt, initial, max); got != expected {
			t.Errorf("attempt %d: got %v, want %v", attempt, got, expected)
		}
	}
}

func TestQueueBoundDropsOldest(t *testing.T) {
	c := NewChannel(Config{URL: "ws://127.0.0.1:1/converse"})

	for i := 1; i <= 105; i++ {
		c.Send(protocol.Text{Data: fmt.Sprintf("msg-%d", i)})
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) != 100 {
		t.Fatalf("expected 100 queued messages, got %d", len(c.queue))
	}
	for i, msg := range c.queue {
		want := fmt.Sprintf("msg-%d", i+6)
		if got := msg.(protocol.Text).Data; got != want {
			t.Fatalf("queue[%d]: got %q, want %q", i, got, want)
		}
	}
}

// testServer is a minimal websocket endpoint that records every text
// frame it receives. Accepted connections are kept so tests can sever
// them, and upgrades can be refused to simulate an unreachable server.
type testServer struct {
	*httptest.Server
	mu       sync.Mutex
	received []string
	header   http.Header
	conns    []*websocket.Conn
	upgrades int
	refuse   bool
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{}
	upgrader := websocket.Upgrader{}

	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		ts.header = r.Header.Clone()
		refuse := ts.refuse
		ts.mu.Unlock()

		if refuse {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ts.mu.Lock()
		ts.conns = append(ts.conns, conn)
		ts.upgrades++
		ts.mu.Unlock()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			ts.mu.Lock()
			ts.received = append(ts.received, string(data))
			ts.mu.Unlock()
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func (ts *testServer) messages() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]string, len(ts.received))
	copy(out, ts.received)
	return out
}

func (ts *testServer) upgradeCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.upgrades
}

func (ts *testServer) setRefuse(refuse bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.refuse = refuse
}

// severAll tears down every accepted socket at the TCP level.
// httptest.CloseClientConnections skips hijacked websocket conns, so
// the underlying conn is closed directly.
func (ts *testServer) severAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, conn := range ts.conns {
		conn.UnderlyingConn().Close()
	}
	ts.conns = nil
}

// lastConn returns the most recently accepted connection.
func (ts *testServer) lastConn() *websocket.Conn {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.conns) == 0 {
		return nil
	}
	return ts.conns[len(ts.conns)-1]
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestFlushAfterConnectPreservesOrder(t *testing.T) {
	ts := newTestServer(t)

	c := NewChannel(Config{
		URL:               ts.wsURL(),
		Codec:             protocol.JSONCodec{},
		HeartbeatInterval: time.Hour,
	})
	defer c.Disconnect()

	for i := 1; i <= 3; i++ {
		c.Send(protocol.Text{Data: fmt.Sprintf("queued-%d", i)})
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return len(ts.messages()) == 3 })

	for i, raw := range ts.messages() {
		want := fmt.Sprintf(`{"type":"text","data":"queued-%d"}`, i+1)
		if raw != want {
			t.Errorf("flush[%d]: got %s, want %s", i, raw, want)
		}
	}

	if c.QueueLen() != 0 {
		t.Errorf("queue should be empty after flush, has %d", c.QueueLen())
	}
}

func TestConnectIsIdempotentWhileConnected(t *testing.T) {
	ts := newTestServer(t)

	c := NewChannel(Config{
		URL:               ts.wsURL(),
		Codec:             protocol.JSONCodec{},
		HeartbeatInterval: time.Hour,
	})
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return c.State() == StateConnected })

	if err := c.Connect(context.Background()); err != nil {
		t.Errorf("second connect should be a no-op, got %v", err)
	}
	if c.State() != StateConnected {
		t.Errorf("state: got %v, want connected", c.State())
	}
}

type staticTokens struct {
	mu          sync.Mutex
	token       string
	invalidated int
}

func (s *staticTokens) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

func (s *staticTokens) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated++
}

func TestDialSendsBearerToken(t *testing.T) {
	ts := newTestServer(t)

	c := NewChannel(Config{
		URL:               ts.wsURL(),
		Codec:             protocol.JSONCodec{},
		Tokens:            &staticTokens{token: "secret-123"},
		HeartbeatInterval: time.Hour,
	})
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	ts.mu.Lock()
	auth := ts.header.Get("Authorization")
	ts.mu.Unlock()

	if auth != "Bearer secret-123" {
		t.Errorf("authorization header: got %q, want %q", auth, "Bearer secret-123")
	}
}

func TestAuthRejectionInvalidatesToken(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad token"),
			time.Now().Add(time.Second))
		conn.Close()
	}))
	defer srv.Close()

	tokens := &staticTokens{token: "stale"}
	c := NewChannel(Config{
		URL:                   "ws" + strings.TrimPrefix(srv.URL, "http"),
		Codec:                 protocol.JSONCodec{},
		Tokens:                tokens,
		MaxReconnectAttempts:  1,
		InitialReconnectDelay: 10 * time.Millisecond,
		HeartbeatInterval:     time.Hour,
	})
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		tokens.mu.Lock()
		defer tokens.mu.Unlock()
		return tokens.invalidated >= 1
	})
}

func TestDisconnectIsIdempotent(t *testing.T) {
	ts := newTestServer(t)

	c := NewChannel(Config{
		URL:               ts.wsURL(),
		Codec:             protocol.JSONCodec{},
		HeartbeatInterval: time.Hour,
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	c.Disconnect()
	c.Disconnect()
	c.Disconnect()

	if c.State() != StateDisconnected {
		t.Errorf("state: got %v, want disconnected", c.State())
	}
}

func TestSendWhileDisconnectedQueues(t *testing.T) {
	c := NewChannel(Config{URL: "ws://127.0.0.1:1/converse"})

	if err := c.Send(protocol.Ping{}); err != nil {
		t.Errorf("send while disconnected should queue, got %v", err)
	}
	if c.QueueLen() != 1 {
		t.Errorf("queue length: got %d, want 1", c.QueueLen())
	}
}

func TestReconnectsAfterConnectionDrop(t *testing.T) {
	ts := newTestServer(t)

	c := NewChannel(Config{
		URL:                   ts.wsURL(),
		Codec:                 protocol.JSONCodec{},
		InitialReconnectDelay: 10 * time.Millisecond,
		HeartbeatInterval:     time.Hour,
	})
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return c.State() == StateConnected })

	ts.severAll()
	waitFor(t, 2*time.Second, func() bool { return c.State() != StateConnected })

	// Queued while down; must arrive on the replacement socket.
	c.Send(protocol.Text{Data: "while-down"})

	waitFor(t, 2*time.Second, func() bool {
		return c.State() == StateConnected && ts.upgradeCount() == 2
	})
	waitFor(t, 2*time.Second, func() bool {
		for _, m := range ts.messages() {
			if m == `{"type":"text","data":"while-down"}` {
				return true
			}
		}
		return false
	})

	if c.QueueLen() != 0 {
		t.Errorf("queue should be empty after reconnect flush, has %d", c.QueueLen())
	}
}

func TestReconnectExhaustionIsTerminal(t *testing.T) {
	ts := newTestServer(t)

	var mu sync.Mutex
	failed := 0

	c := NewChannel(Config{
		URL:                   ts.wsURL(),
		Codec:                 protocol.JSONCodec{},
		MaxReconnectAttempts:  2,
		InitialReconnectDelay: 5 * time.Millisecond,
		HeartbeatInterval:     time.Hour,
		OnConnectionFailed: func() {
			mu.Lock()
			failed++
			mu.Unlock()
		},
	})
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return c.State() == StateConnected })

	ts.setRefuse(true)
	ts.severAll()

	waitFor(t, 2*time.Second, func() bool { return c.State() == StateError })

	// Give any stray timer a chance to fire twice before asserting.
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if failed != 1 {
		t.Errorf("OnConnectionFailed fired %d times, want exactly 1", failed)
	}
	if got := ts.upgradeCount(); got != 1 {
		t.Errorf("upgrades: got %d, want 1 (all retries refused)", got)
	}
}

func TestUndecodableFrameIsDroppedSilently(t *testing.T) {
	ts := newTestServer(t)

	var mu sync.Mutex
	var reported []string

	guard := faultguard.New(faultguard.Config{
		OnError: func(domain string, err error) {
			mu.Lock()
			reported = append(reported, domain)
			mu.Unlock()
		},
	})

	c := NewChannel(Config{
		URL:               ts.wsURL(),
		Codec:             protocol.BinaryCodec{},
		Guard:             guard,
		HeartbeatInterval: time.Hour,
	})
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return ts.lastConn() != nil })

	server := ts.lastConn()
	// Unknown frame code, then a valid control frame behind it.
	if err := server.WriteMessage(websocket.BinaryMessage, []byte{0xFF, 0, 0, 0, 0}); err != nil {
		t.Fatalf("server write: %v", err)
	}
	if err := server.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`)); err != nil {
		t.Fatalf("server write: %v", err)
	}

	select {
	case msg := <-c.Inbound():
		if _, ok := msg.(protocol.Pong); !ok {
			t.Fatalf("inbound: got %T, want Pong", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message behind the malformed frame never arrived")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reported) != 0 {
		t.Errorf("malformed frame surfaced as errors: %v", reported)
	}
}

func TestInboundDeliveryNeverDrops(t *testing.T) {
	ts := newTestServer(t)

	c := NewChannel(Config{
		URL:               ts.wsURL(),
		Codec:             protocol.JSONCodec{},
		HeartbeatInterval: time.Hour,
	})
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return ts.lastConn() != nil })

	// Overfill the inbound buffer before the consumer starts reading;
	// the reader must stall rather than discard.
	const total = 105
	server := ts.lastConn()
	for i := 1; i <= total; i++ {
		payload := fmt.Sprintf(`{"type":"avatar_state","state":"s-%d"}`, i)
		if err := server.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
			t.Fatalf("server write %d: %v", i, err)
		}
	}

	timeout := time.After(2 * time.Second)
	for i := 1; i <= total; i++ {
		select {
		case msg := <-c.Inbound():
			state := msg.(protocol.AvatarState).State
			if want := fmt.Sprintf("s-%d", i); state != want {
				t.Fatalf("message %d: got %s, want %s", i, state, want)
			}
		case <-timeout:
			t.Fatalf("received %d of %d messages", i-1, total)
		}
	}
}

func TestHeartbeatSendsPings(t *testing.T) {
	ts := newTestServer(t)

	c := NewChannel(Config{
		URL:               ts.wsURL(),
		Codec:             protocol.JSONCodec{},
		HeartbeatInterval: 20 * time.Millisecond,
	})
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		for _, m := range ts.messages() {
			if m == `{"type":"ping"}` {
				return true
			}
		}
		return false
	})
}
