package session

import (
	"context"
	"net"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mudlark/mudlark/automation"
	"github.com/mudlark/mudlark/config"
	"github.com/mudlark/mudlark/store"
	"github.com/mudlark/mudlark/style"
)

// pipeDialer hands out the client half of a net.Pipe and retains the
// server half for the test to drive.
type pipeDialer struct {
	mu      sync.Mutex
	servers []net.Conn
}

func (d *pipeDialer) DialContext(_ context.Context, _, _ string) (net.Conn, error) {
	client, server := net.Pipe()
	d.mu.Lock()
	d.servers = append(d.servers, server)
	d.mu.Unlock()
	return client, nil
}

func (d *pipeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.servers)
}

func (d *pipeDialer) server(t *testing.T) net.Conn {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.servers)
	return d.servers[len(d.servers)-1]
}

// serverHarness reads everything the session writes so that unbuffered
// pipe writes never block, and records it for assertions.
type serverHarness struct {
	conn net.Conn

	mu  sync.Mutex
	buf []byte
}

func newHarness(conn net.Conn) *serverHarness {
	h := &serverHarness{conn: conn}
	go func() {
		chunk := make([]byte, 1024)
		for {
			n, err := conn.Read(chunk)
			if n > 0 {
				h.mu.Lock()
				h.buf = append(h.buf, chunk[:n]...)
				h.mu.Unlock()
			}
			if err != nil {
				return
			}
		}
	}()
	return h
}

func (h *serverHarness) received() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return string(h.buf)
}

func (h *serverHarness) waitFor(t *testing.T, substr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(h.received(), substr) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("server never received %q; got %q", substr, h.received())
}

func testSettings() config.Config {
	cfg := config.Default()
	cfg.AutoReconnect = false
	cfg.BatchWindow = 5 * time.Millisecond
	return cfg
}

func newTestSession(t *testing.T, cfg config.Config, repo automation.Repository, hooks EventHooks) (*Session, *pipeDialer) {
	t.Helper()
	if repo == nil {
		repo = store.NewMemStore()
	}
	dialer := &pipeDialer{}
	s, err := New(automation.NewEngine(cfg, repo, "midgaard"), Options{
		World:    "midgaard",
		Settings: cfg,
		Dialer:   dialer,
		Hooks:    hooks,
	})
	require.NoError(t, err)
	return s, dialer
}

func TestNewWithDefaultSettings(t *testing.T) {
	// The stock charset chain must build a decoder; a bad name here
	// would make every default-config session unstartable.
	cfg := config.Default()
	_, err := New(automation.NewEngine(cfg, store.NewMemStore(), "midgaard"), Options{
		World:    "midgaard",
		Settings: cfg,
	})
	require.NoError(t, err)
}

func TestConnectValidation(t *testing.T) {
	s, _ := newTestSession(t, testSettings(), nil, EventHooks{})

	assert.ErrorIs(t, s.Connect(context.Background(), "", 4000), ErrInvalidHost)
	assert.ErrorIs(t, s.Connect(context.Background(), "bad host!", 4000), ErrInvalidHost)
	assert.ErrorIs(t, s.Connect(context.Background(), "mud.example.com", 0), ErrInvalidPort)
	assert.ErrorIs(t, s.Connect(context.Background(), "mud.example.com", 70000), ErrInvalidPort)

	// Validation failures never touch the network.
	assert.Equal(t, StateDisconnected, s.State())
}

func TestConnectSendsColorVariable(t *testing.T) {
	s, dialer := newTestSession(t, testSettings(), nil, EventHooks{})
	require.NoError(t, s.Connect(context.Background(), "mud.example.com", 4000))
	defer s.Disconnect()

	h := newHarness(dialer.server(t))
	h.waitFor(t, "XTERM_256_COLORS")
	assert.Equal(t, StateReady, s.State())
}

func TestConnectDoesNotBlockOnUnreadPeer(t *testing.T) {
	s, dialer := newTestSession(t, testSettings(), nil, EventHooks{})

	done := make(chan error, 1)
	go func() { done <- s.Connect(context.Background(), "mud.example.com", 4000) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Connect blocked writing to a peer that was not reading yet")
	}
	defer s.Disconnect()

	// The session-start frame still goes out once someone reads.
	h := newHarness(dialer.server(t))
	h.waitFor(t, "XTERM_256_COLORS")
}

func TestNegotiationReplies(t *testing.T) {
	s, dialer := newTestSession(t, testSettings(), nil, EventHooks{})
	require.NoError(t, s.Connect(context.Background(), "mud.example.com", 4000))
	defer s.Disconnect()

	server := dialer.server(t)
	h := newHarness(server)

	_, err := server.Write([]byte{255, 253, 24}) // IAC DO TTYPE
	require.NoError(t, err)
	h.waitFor(t, string([]byte{255, 251, 24})) // IAC WILL TTYPE
}

func TestReceiveLineFiresTrigger(t *testing.T) {
	repo := store.NewMemStore()
	repo.AddTrigger(&automation.Trigger{
		Rule: automation.Rule{
			ID: "t1", World: "midgaard",
			Pattern:  "* says, '*'",
			Commands: []string{"say %1 said: %2"},
			Options:  automation.OptEnabled,
		},
		Dialect: automation.DialectWildcard,
	})

	var mu sync.Mutex
	var lines []string
	hooks := EventHooks{
		LineReceived: []LineHandler{func(_ *Session, line string) {
			mu.Lock()
			lines = append(lines, line)
			mu.Unlock()
		}},
	}

	s, dialer := newTestSession(t, testSettings(), repo, hooks)
	require.NoError(t, s.Connect(context.Background(), "mud.example.com", 4000))
	defer s.Disconnect()

	server := dialer.server(t)
	h := newHarness(server)

	_, err := server.Write([]byte("Biscuit says, 'hello'\r\n"))
	require.NoError(t, err)

	h.waitFor(t, "say Biscuit said: hello\r\n")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"Biscuit says, 'hello'"}, lines)
}

func TestFragmentsBatchedInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []style.Fragment
	hooks := EventHooks{
		Fragments: []FragmentsHandler{func(_ *Session, fragments []style.Fragment) {
			mu.Lock()
			got = append(got, fragments...)
			mu.Unlock()
		}},
	}

	s, dialer := newTestSession(t, testSettings(), nil, hooks)
	require.NoError(t, s.Connect(context.Background(), "mud.example.com", 4000))
	defer s.Disconnect()

	server := dialer.server(t)
	newHarness(server)

	_, err := server.Write([]byte("\x1b[1;31mHP LOW\x1b[0m\r\nall quiet\r\n"))
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		text := ""
		for _, f := range got {
			text += f.Text
		}
		mu.Unlock()
		if strings.Contains(text, "HP LOW") && strings.Contains(text, "all quiet") {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, got)
	assert.Equal(t, "HP LOW", got[0].Text)
	assert.True(t, got[0].Style.Bold)
}

func TestSendAliasExpansionAndFraming(t *testing.T) {
	repo := store.NewMemStore()
	repo.AddAlias(&automation.Alias{Rule: automation.Rule{
		ID: "a1", World: "midgaard", Pattern: "k",
		Commands: []string{"kill $1$"}, Options: automation.OptEnabled,
	}})

	s, dialer := newTestSession(t, testSettings(), repo, EventHooks{})
	require.NoError(t, s.Connect(context.Background(), "mud.example.com", 4000))
	defer s.Disconnect()

	h := newHarness(dialer.server(t))

	require.NoError(t, s.Send("k goblin"))
	h.waitFor(t, "kill goblin\r\n")

	// Empty input still sends a bare terminator.
	require.NoError(t, s.Send(""))
	h.waitFor(t, "kill goblin\r\n\r\n")
}

func TestSendWhileDisconnected(t *testing.T) {
	s, _ := newTestSession(t, testSettings(), nil, EventHooks{})
	assert.ErrorIs(t, s.Send("look"), ErrNotConnected)
}

func TestDisconnectIsManualAndIdempotent(t *testing.T) {
	var mu sync.Mutex
	var events []DisconnectEvent
	hooks := EventHooks{
		Disconnected: []DisconnectedHandler{func(_ *Session, ev DisconnectEvent) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		}},
	}

	cfg := testSettings()
	cfg.AutoReconnect = true
	s, dialer := newTestSession(t, cfg, nil, hooks)
	require.NoError(t, s.Connect(context.Background(), "mud.example.com", 4000))
	newHarness(dialer.server(t))

	s.Disconnect()
	s.Disconnect()

	assert.Equal(t, StateDisconnected, s.State())

	// A manual disconnect never schedules a reconnect.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, StateDisconnected, s.State())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.NoError(t, events[0].Cause)
}

func TestRemoteDropSchedulesReconnect(t *testing.T) {
	cfg := testSettings()
	cfg.AutoReconnect = true

	s, dialer := newTestSession(t, cfg, nil, EventHooks{})
	require.NoError(t, s.Connect(context.Background(), "mud.example.com", 4000))
	defer s.Disconnect()

	first := dialer.server(t)
	newHarness(first)
	require.NoError(t, first.Close())

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == StateReady && dialer.count() > 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, StateReady, s.State())
	assert.GreaterOrEqual(t, dialer.count(), 2)
	newHarness(dialer.server(t))

	// A successful reconnect restarts the backoff schedule, so the next
	// failure begins from the shortest delay again.
	s.mu.Lock()
	backoff := s.backoff
	s.mu.Unlock()
	assert.Zero(t, backoff)
}

func TestTransientErrno(t *testing.T) {
	assert.True(t, transientErrno(syscall.ECONNABORTED))
	assert.True(t, transientErrno(&net.OpError{Op: "read", Err: syscall.ENETDOWN}))
	assert.False(t, transientErrno(syscall.ECONNREFUSED))
	assert.False(t, transientErrno(nil))
}
