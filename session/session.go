// Package session owns the lifetime of one connection to one world: the
// dial/reconnect state machine, keep-alive probing, the receive loop that
// feeds bytes through telnet framing, charset decoding, automation, and
// style processing, and the batched delivery of styled fragments to the
// renderer.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/mudlark/mudlark/automation"
	"github.com/mudlark/mudlark/config"
	"github.com/mudlark/mudlark/logging"
	"github.com/mudlark/mudlark/style"
	"github.com/mudlark/mudlark/telnet"
)

// State is the connection lifecycle state of a Session.
type State int

const (
	// StateDisconnected is the resting state, before any connect and after
	// a manual disconnect.
	StateDisconnected State = iota
	// StateConnecting covers the dial and negotiation window.
	StateConnecting
	// StateReady means the transport is up and the receive loop is running.
	StateReady
	// StateWaiting means a reconnect attempt has been scheduled.
	StateWaiting
	// StateFailed means the transport dropped and no retry is pending.
	StateFailed
	// StateCancelled is the transient state during a manual disconnect.
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateWaiting:
		return "waiting"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

var (
	// ErrInvalidHost is returned by Connect before any network activity when
	// the host is neither an IP address nor a plausible hostname.
	ErrInvalidHost = errors.New("invalid hostname")
	// ErrInvalidPort is returned by Connect when the port is outside 1-65535.
	ErrInvalidPort = errors.New("port must be between 1 and 65535")
	// ErrAlreadyConnected is returned by Connect while a connection is live
	// or pending.
	ErrAlreadyConnected = errors.New("session already connected")
	// ErrNotConnected is returned by Send when no transport is up.
	ErrNotConnected = errors.New("session is not connected")

	errSilence       = errors.New("no data received within silence window")
	errProbeFailures = errors.New("keep-alive probe failure limit reached")
)

// hostnameForm accepts RFC 952/1123 style labels. IP literals are checked
// separately with net.ParseIP.
var hostnameForm = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]*[A-Za-z0-9])?(\.[A-Za-z0-9]([A-Za-z0-9-]*[A-Za-z0-9])?)*$`)

// Dialer abstracts the transport for testing. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Options configures a Session at construction time.
type Options struct {
	// World names the rule namespace this session runs under.
	World string
	// Settings supplies the connection and batching tunables.
	Settings config.Config
	// Dialer is the transport factory. Nil means a plain *net.Dialer with
	// a 10 second timeout.
	Dialer Dialer
	// Hooks are registered before the first event can fire.
	Hooks EventHooks
}

// Session drives one connection to one world. All exported methods are
// safe for concurrent use.
type Session struct {
	world  string
	cfg    config.Config
	dialer Dialer
	engine *automation.Engine
	log    zerolog.Logger

	connectedHooks    *EventPublisher[string]
	disconnectedHooks *EventPublisher[DisconnectEvent]
	lineHooks         *EventPublisher[string]
	sentHooks         *EventPublisher[string]
	fragmentHooks     *EventPublisher[[]style.Fragment]

	mu            sync.Mutex
	state         State
	host          string
	port          int
	conn          net.Conn
	connCancel    context.CancelFunc
	baseCtx       context.Context
	autoReconnect bool
	background    bool

	backoff        time.Duration
	lastDataAt     time.Time
	probeFails     int
	bgProbes       int
	quality        float64
	keepAliveTimer *time.Timer
	reconnectTimer *time.Timer

	partial []byte
	styles  *style.Processor
	decoder *telnet.Decoder
	batcher *Batcher
}

// New builds a Session around an automation engine. The engine must be
// scoped to the same world.
func New(engine *automation.Engine, opts Options) (*Session, error) {
	decoder, err := telnet.NewDecoder(opts.Settings.Charsets)
	if err != nil {
		return nil, fmt.Errorf("building charset chain: %w", err)
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &net.Dialer{Timeout: 10 * time.Second}
	}

	s := &Session{
		world:   opts.World,
		cfg:     opts.Settings,
		dialer:  dialer,
		engine:  engine,
		log:     logging.GetLogger("session").With().Str("world", opts.World).Logger(),
		state:   StateDisconnected,
		quality: 1,
		decoder: decoder,

		connectedHooks:    NewPublisher(opts.Hooks.Connected),
		disconnectedHooks: NewPublisher(opts.Hooks.Disconnected),
		lineHooks:         NewPublisher(opts.Hooks.LineReceived),
		sentHooks:         NewPublisher(opts.Hooks.CommandSent),
		fragmentHooks:     NewPublisher(opts.Hooks.Fragments),
	}
	s.batcher = NewBatcher(opts.Settings.BatchWindow, opts.Settings.BatchLimit, func(batch []style.Fragment) {
		s.fragmentHooks.Fire(s, batch)
	})
	return s, nil
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// World reports the rule namespace this session runs under.
func (s *Session) World() string {
	return s.world
}

// LastDataAt reports when the server last sent application data. The zero
// time means nothing has arrived yet.
func (s *Session) LastDataAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDataAt
}

// Connect validates the endpoint and establishes the connection. Validation
// failures are returned before any network activity. A successful return
// means the session reached ready; the receive loop then runs until the
// context is cancelled, the transport drops, or Disconnect is called.
func (s *Session) Connect(ctx context.Context, host string, port int) error {
	if err := validateEndpoint(host, port); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != StateDisconnected && s.state != StateFailed {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.host = host
	s.port = port
	s.baseCtx = ctx
	s.autoReconnect = s.cfg.AutoReconnect
	s.backoff = 0
	s.mu.Unlock()

	return s.dial(ctx)
}

func validateEndpoint(host string, port int) error {
	if host == "" || len(host) > 253 {
		return ErrInvalidHost
	}
	if net.ParseIP(host) == nil && !hostnameForm.MatchString(host) {
		return ErrInvalidHost
	}
	if port < 1 || port > 65535 {
		return ErrInvalidPort
	}
	return nil
}

// dial performs one connection attempt and, on success, starts the receive
// and ticker loops.
func (s *Session) dial(ctx context.Context) error {
	s.mu.Lock()
	s.state = StateConnecting
	s.mu.Unlock()
	address := net.JoinHostPort(s.host, strconv.Itoa(s.port))

	conn, err := s.dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		s.log.Warn().Err(err).Str("address", address).Msg("dial failed")
		s.handleFailure(err)
		return err
	}
	tuneTCP(conn, s.cfg.KeepAliveInterval)

	connCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.conn = conn
	s.connCancel = cancel
	s.state = StateReady
	s.lastDataAt = time.Now()
	s.probeFails = 0
	s.bgProbes = 0
	s.quality = 1
	s.partial = nil
	s.backoff = 0
	s.styles = style.NewProcessor(s.cfg.ExtendedBrightAliases)
	framer := telnet.NewFramer(s.cfg.TermType)
	s.mu.Unlock()

	s.log.Info().Str("address", address).Msg("connected")
	s.connectedHooks.Fire(s, address)

	go func() {
		// Ask the server for 256-color output. Sent exactly once per
		// connection, as the first write after connect; servers without
		// MSDP ignore the frame. Writing from the receive goroutine keeps
		// Connect from blocking on a peer that is not reading yet.
		if _, err := conn.Write(telnet.EncodeMSDP("XTERM_256_COLORS", "1")); err != nil {
			s.log.Warn().Err(err).Msg("failed to send MSDP color variable")
		}
		s.receiveLoop(connCtx, conn, framer)
	}()
	go s.tickerLoop(connCtx)
	s.scheduleKeepAlive()
	return nil
}

// tuneTCP requests OS keep-alive and disables write coalescing. Both are
// best effort; non-TCP test transports pass through untouched.
func tuneTCP(conn net.Conn, keepAlive time.Duration) {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tcp.SetKeepAlive(true)
	_ = tcp.SetKeepAlivePeriod(keepAlive)
	_ = tcp.SetNoDelay(true)
}

// receiveLoop pulls raw bytes off the socket and pushes them through the
// framer, the charset chain, and the automation engine.
func (s *Session) receiveLoop(ctx context.Context, conn net.Conn, framer *telnet.Framer) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			s.consume(conn, framer, buf[:n])
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.handleFailure(err)
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// consume runs one read's worth of bytes through framing and hands any
// completed lines to the automation pipeline.
func (s *Session) consume(conn net.Conn, framer *telnet.Framer, raw []byte) {
	clean, replies := framer.Consume(raw)
	for _, reply := range replies {
		if _, err := conn.Write(reply); err != nil {
			s.log.Warn().Err(err).Msg("failed to write negotiation reply")
		}
	}
	if len(clean) == 0 {
		return
	}

	s.mu.Lock()
	s.lastDataAt = time.Now()
	s.probeFails = 0
	s.quality = 1
	s.partial = append(s.partial, clean...)
	var lines [][]byte
	for {
		idx := bytes.IndexByte(s.partial, '\n')
		if idx < 0 {
			break
		}
		line := s.partial[:idx]
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		lines = append(lines, append([]byte(nil), line...))
		s.partial = s.partial[idx+1:]
	}
	s.mu.Unlock()

	for _, line := range lines {
		s.handleLine(line)
	}
}

// handleLine decodes one server line and runs it through automation and
// style processing. Undecodable lines are dropped rather than surfaced.
func (s *Session) handleLine(raw []byte) {
	text, charset, err := s.decoder.Decode(raw)
	if err != nil {
		s.log.Debug().Err(err).Int("bytes", len(raw)).Msg("dropping undecodable line")
		return
	}
	if charset != "UTF-8" {
		s.log.Trace().Str("charset", charset).Msg("line decoded via fallback charset")
	}

	s.lineHooks.Fire(s, text)

	result := s.engine.ProcessLine(text)
	if !result.OmitOutput {
		s.mu.Lock()
		styles := s.styles
		s.mu.Unlock()
		if styles != nil {
			s.batcher.Add(styles.Process(result.Display + "\n"))
		}
	}
	for _, cmd := range result.Commands {
		if err := s.sendCommand(cmd); err != nil {
			s.log.Warn().Err(err).Str("command", cmd).Msg("failed to send triggered command")
		}
	}
}

// Send expands user input through the alias set and writes the resulting
// commands to the transport. Empty input still sends a bare line
// terminator, which most servers treat as "repeat prompt".
func (s *Session) Send(input string) error {
	for _, cmd := range s.engine.ProcessInput(input) {
		if err := s.sendCommand(cmd); err != nil {
			return err
		}
	}
	return nil
}

// sendCommand writes one CRLF-terminated command. Commands arriving with
// their own terminator are normalized rather than doubled.
func (s *Session) sendCommand(cmd string) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	cmd = strings.TrimRight(cmd, "\r\n")
	if _, err := conn.Write([]byte(cmd + "\r\n")); err != nil {
		return fmt.Errorf("writing command: %w", err)
	}
	s.sentHooks.Fire(s, cmd)
	return nil
}

// tickerLoop drives time-based automation rules once per second while the
// connection is up.
func (s *Session) tickerLoop(ctx context.Context) {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick.C:
			for _, cmd := range s.engine.Tick(now) {
				if err := s.sendCommand(cmd); err != nil {
					s.log.Warn().Err(err).Str("command", cmd).Msg("failed to send ticker command")
				}
			}
		}
	}
}

// scheduleKeepAlive arms the next probe. Foreground sessions probe at the
// configured cadence; background ones follow the adaptive policy.
func (s *Session) scheduleKeepAlive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduleKeepAliveLocked()
}

func (s *Session) scheduleKeepAliveLocked() {
	if s.keepAliveTimer != nil {
		s.keepAliveTimer.Stop()
	}
	if s.state != StateReady {
		return
	}

	interval := s.cfg.KeepAliveInterval
	if s.background {
		interval = NextKeepAliveInterval(s.quality, 0, s.cfg.KeepAliveInterval, s.cfg.BackgroundKeepAliveFloor)
	}
	s.keepAliveTimer = time.AfterFunc(interval, s.probe)
}

// probe sends one keep-alive and evaluates connection health. A healthy
// foreground probe is a telnet NOP; deep background probes escalate to a
// rotating command that makes the server answer with data.
func (s *Session) probe() {
	s.mu.Lock()
	if s.state != StateReady || s.conn == nil {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	silent := time.Since(s.lastDataAt) > s.cfg.SilenceWindow
	background := s.background
	provoke := ""
	if background {
		s.bgProbes++
		if s.bgProbes > 2 {
			provoke = provokeCommand(s.bgProbes - 3)
		}
	}
	s.mu.Unlock()

	if silent {
		s.log.Warn().Dur("window", s.cfg.SilenceWindow).Msg("silence window exceeded, reconnecting")
		s.forceReconnect(errSilence)
		return
	}

	var err error
	if provoke != "" {
		err = s.sendCommand(provoke)
	} else {
		_, err = conn.Write([]byte{telnet.IAC, telnet.NOP})
	}

	s.mu.Lock()
	if err != nil {
		s.probeFails++
		s.quality /= 2
		fails := s.probeFails
		s.mu.Unlock()
		s.log.Warn().Err(err).Int("failures", fails).Msg("keep-alive probe failed")
		if fails >= s.cfg.ProbeFailureLimit {
			s.forceReconnect(errProbeFailures)
			return
		}
	} else {
		s.mu.Unlock()
	}
	s.scheduleKeepAlive()
}

// forceReconnect tears down the current transport and goes through the
// normal failure path so the reconnect policy applies.
func (s *Session) forceReconnect(cause error) {
	s.mu.Lock()
	conn := s.conn
	cancel := s.connCancel
	s.conn = nil
	s.connCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	s.handleFailure(cause)
}

// handleFailure records a transport failure and schedules a retry when
// auto-reconnect applies.
func (s *Session) handleFailure(cause error) {
	s.mu.Lock()
	if s.state == StateCancelled || s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	if s.keepAliveTimer != nil {
		s.keepAliveTimer.Stop()
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	if s.connCancel != nil {
		s.connCancel()
		s.connCancel = nil
	}
	retry := s.autoReconnect && s.baseCtx != nil && s.baseCtx.Err() == nil
	if retry {
		s.state = StateWaiting
	} else {
		s.state = StateFailed
	}
	address := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	s.mu.Unlock()

	s.batcher.Flush()
	s.disconnectedHooks.Fire(s, DisconnectEvent{Address: address, Cause: cause})

	if retry {
		s.scheduleReconnect(cause)
	}
}

// scheduleReconnect arms the retry timer. Transient OS-level failures and
// backgrounded sessions retry almost immediately, since the cause is
// expected to clear on its own; everything else backs off exponentially
// up to the configured cap.
func (s *Session) scheduleReconnect(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateWaiting {
		return
	}

	var delay time.Duration
	if transientErrno(cause) || s.background {
		delay = 100 * time.Millisecond
	} else {
		if s.backoff == 0 {
			s.backoff = 500 * time.Millisecond
		} else {
			s.backoff *= 2
		}
		if s.backoff > s.cfg.ReconnectBackoffCap {
			s.backoff = s.cfg.ReconnectBackoffCap
		}
		delay = s.backoff
	}

	s.log.Info().Dur("delay", delay).Msg("reconnect scheduled")
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
	}
	ctx := s.baseCtx
	s.reconnectTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		waiting := s.state == StateWaiting
		s.mu.Unlock()
		if waiting && ctx.Err() == nil {
			_ = s.dial(ctx)
		}
	})
}

// transientErrno reports whether the failure looks like OS-level resource
// reclamation rather than a real network problem.
func transientErrno(err error) bool {
	for _, code := range []syscall.Errno{
		syscall.ECONNABORTED,
		syscall.ENETDOWN,
		syscall.ENETUNREACH,
		syscall.ETIMEDOUT,
	} {
		if errors.Is(err, code) {
			return true
		}
	}
	return false
}

// Disconnect is the explicit, user-driven teardown. It disables
// auto-reconnect, stops every timer, and closes the transport. Calling it
// on an already-disconnected session is a no-op.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.state = StateCancelled
	s.autoReconnect = false
	if s.keepAliveTimer != nil {
		s.keepAliveTimer.Stop()
		s.keepAliveTimer = nil
	}
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	conn := s.conn
	cancel := s.connCancel
	s.conn = nil
	s.connCancel = nil
	s.state = StateDisconnected
	address := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	s.batcher.Stop()
	s.log.Info().Msg("disconnected")
	s.disconnectedHooks.Fire(s, DisconnectEvent{Address: address})
}

// EnterBackground switches keep-alive to the adaptive background schedule.
func (s *Session) EnterBackground() {
	s.mu.Lock()
	s.background = true
	s.bgProbes = 0
	s.scheduleKeepAliveLocked()
	s.mu.Unlock()
}

// EnterForeground restores the foreground probe cadence and immediately
// checks connection health, since the socket may have died while the host
// had us suspended.
func (s *Session) EnterForeground() {
	s.mu.Lock()
	s.background = false
	s.bgProbes = 0
	ready := s.state == StateReady
	s.mu.Unlock()

	if ready {
		s.probe()
	}
}

// NetworkPathChanged proactively validates the connection after an
// interface change instead of waiting for the next read to fail. A session
// already waiting on a backoff timer retries immediately on the new path.
func (s *Session) NetworkPathChanged() {
	s.mu.Lock()
	state := s.state
	if state == StateWaiting && s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	ctx := s.baseCtx
	s.mu.Unlock()

	switch state {
	case StateReady:
		s.probe()
	case StateWaiting:
		if ctx != nil && ctx.Err() == nil {
			_ = s.dial(ctx)
		}
	}
}
