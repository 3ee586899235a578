// Package client implements the stranger-chat client: a session state
// machine driving reconnection, pairing and idle teardown, plus the call
// negotiation driver. Everything runs on the session's single goroutine;
// public methods only enqueue commands onto it.
package client

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ghostpair/ghostpair/internal/domain"
	"github.com/ghostpair/ghostpair/internal/protocol"
)

type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusWaiting
	StatusPaired
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusWaiting:
		return "waiting"
	case StatusPaired:
		return "paired"
	}
	return "disconnected"
}

// Conn is the client side of the transport, an indirection over
// *websocket.Conn to ease testing.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	Close() error
}

// Dialer opens transport connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type wsDialer struct{}

func (wsDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Events receives UI-facing callbacks. All of them fire on the session
// goroutine; handlers must not block.
type Events struct {
	OnStatus       func(Status)
	OnNotice       func(string)
	OnMessage      func(text, reply string)
	OnTyping       func()
	OnPartnerEnded func()
	OnSignal       func(protocol.Message)
}

type Config struct {
	URL        string
	IPEndpoint string // optional; GET returning the caller address as text
	UserAgent  string
	Geo        *domain.Geo

	ConnectTimeout  time.Duration // default 10s
	IdleTimeout     time.Duration // default 15m
	RedialDelay     time.Duration // after partner ended; default 1s
	NewPartnerDelay time.Duration // after the new-partner action; default 500ms
}

func (c *Config) applyDefaults() {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 15 * time.Minute
	}
	if c.RedialDelay == 0 {
		c.RedialDelay = time.Second
	}
	if c.NewPartnerDelay == 0 {
		c.NewPartnerDelay = 500 * time.Millisecond
	}
}

type sockEvent struct {
	gen    int
	data   []byte
	closed bool
}

// Session owns its socket, timers and pairing state. One teardown path
// (teardownSocket) runs on every exit: reconnect, manual end, idle timeout.
type Session struct {
	cfg    Config
	events Events
	dialer Dialer
	http   *http.Client
	bo     backoff.BackOff

	cmds       chan func()
	sockEvents chan sockEvent

	// Everything below is touched only from the Run goroutine.
	gen       int
	conn      Conn
	status    Status
	manual    bool // user chose to disconnect; suppresses reconnection
	idle      *time.Timer
	reconnect *time.Timer
}

func NewSession(cfg Config, events Events) *Session {
	cfg.applyDefaults()
	return &Session{
		cfg:        cfg,
		events:     events,
		dialer:     wsDialer{},
		http:       &http.Client{Timeout: 5 * time.Second},
		bo:         newReconnectBackoff(),
		cmds:       make(chan func(), 32),
		sockEvents: make(chan sockEvent, 32),
	}
}

// newReconnectBackoff reproduces the reconnect schedule: 1s doubling to a
// 10s cap, no jitter, never giving up.
func newReconnectBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// Do runs fn on the session goroutine. The negotiation driver is driven
// exclusively through this, which is what lets it skip locking.
func (s *Session) Do(fn func()) { s.cmds <- fn }

func (s *Session) SendChat(text, reply string) {
	s.Do(func() {
		if s.status != StatusPaired || s.conn == nil {
			return
		}
		s.write(protocol.EncodeChat(text, reply))
	})
}

func (s *Session) Typing() {
	s.Do(func() {
		if s.conn != nil {
			s.write([]byte(protocol.SentinelTyping))
		}
	})
}

// EndChat ends the current session for good; no reconnection follows.
func (s *Session) EndChat() {
	s.Do(func() {
		if s.conn != nil {
			s.write([]byte(protocol.SentinelEndChat))
		}
		s.manual = true
		s.stopReconnect()
		s.teardownSocket()
		s.setStatus(StatusDisconnected)
		s.notice("Chat ended. Reconnect to find a new user.")
	})
}

// NewPartner ends the current session and immediately hunts for a new one.
// This is the one action that resets the reconnect backoff.
func (s *Session) NewPartner() {
	s.Do(func() {
		if s.conn != nil && !s.manual {
			s.write([]byte(protocol.SentinelEndChat))
		}
		s.manual = false
		s.bo.Reset()
		s.teardownSocket()
		s.notice("Searching for a new user...")
		s.setStatus(StatusConnecting)
		s.scheduleReconnect(s.cfg.NewPartnerDelay)
	})
}

// Activity marks user interaction and rearms the idle timer.
func (s *Session) Activity() {
	s.Do(s.resetIdle)
}

// SendRaw transmits a pre-encoded frame; used by the negotiation driver.
// Must be called from the session goroutine (inside Do).
func (s *Session) SendRaw(data []byte) {
	if s.conn == nil {
		return
	}
	s.write(data)
}

// Run drives the session until ctx is canceled. It dials immediately.
func (s *Session) Run(ctx context.Context) {
	s.idle = time.NewTimer(s.cfg.IdleTimeout)
	defer func() {
		s.idle.Stop()
		s.stopReconnect()
		s.teardownSocket()
	}()

	s.connect(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-s.cmds:
			fn()
		case ev := <-s.sockEvents:
			s.handleSockEvent(ev)
		case <-timerC(s.reconnect):
			s.reconnect = nil
			s.connect(ctx)
		case <-s.idle.C:
			s.onIdle()
		}
	}
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

// connect tears down any prior socket first: at most one socket is ever
// live, and stale reader goroutines are fenced off by the generation bump.
func (s *Session) connect(ctx context.Context) {
	s.teardownSocket()
	s.setStatus(StatusConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	conn, err := s.dialer.Dial(dialCtx, s.cfg.URL)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		delay := s.bo.NextBackOff()
		log.Warn().Err(err).Str("module", "client.session").Dur("retry_in", delay).Msg("connect failed")
		s.notice("Disconnected. Searching for a new user...")
		s.scheduleReconnect(delay)
		return
	}

	s.gen++
	s.conn = conn
	s.manual = false
	s.setStatus(StatusWaiting)
	s.sendInit()
	go s.readLoop(s.gen, conn)
}

func (s *Session) readLoop(gen int, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.sockEvents <- sockEvent{gen: gen, closed: true}
			return
		}
		s.sockEvents <- sockEvent{gen: gen, data: data}
	}
}

func (s *Session) handleSockEvent(ev sockEvent) {
	if ev.gen != s.gen {
		return // stale socket, already torn down
	}
	if ev.closed {
		s.teardownSocket()
		if s.manual {
			s.setStatus(StatusDisconnected)
			return
		}
		delay := s.bo.NextBackOff()
		log.Info().Str("module", "client.session").Dur("retry_in", delay).Msg("connection lost")
		s.notice("Disconnected. Searching for a new user...")
		s.setStatus(StatusConnecting)
		s.scheduleReconnect(delay)
		return
	}
	s.handleFrame(protocol.Decode(ev.data))
}

func (s *Session) handleFrame(msg protocol.Message) {
	switch {
	case msg.Kind == protocol.KindTyping:
		if s.events.OnTyping != nil {
			s.events.OnTyping()
		}
	case msg.Kind == protocol.KindPaired:
		s.setStatus(StatusPaired)
	case msg.Kind == protocol.KindPartnerEnded:
		if s.events.OnPartnerEnded != nil {
			s.events.OnPartnerEnded()
		}
		s.teardownSocket()
		s.setStatus(StatusConnecting)
		s.scheduleReconnect(s.cfg.RedialDelay)
	case msg.IsCallSignal():
		if s.events.OnSignal != nil {
			s.events.OnSignal(msg)
		}
	case msg.Kind == protocol.KindChat && s.status == StatusPaired:
		if s.events.OnMessage != nil {
			s.events.OnMessage(msg.Text, msg.Reply)
		}
	default:
		// Server notices (waiting, paired, not-paired) arrive as plain text.
		s.notice(msg.Text)
	}
}

// onIdle fires after IdleTimeout without user interaction. The client ends
// the session itself; the server plays no part in idle enforcement.
func (s *Session) onIdle() {
	if s.conn == nil {
		return
	}
	s.write([]byte(protocol.SentinelEndChat))
	s.manual = true
	s.stopReconnect()
	s.teardownSocket()
	s.setStatus(StatusDisconnected)
	s.notice("Disconnected due to inactivity.")
}

// sendInit reports origin, agent and optional location once per connection.
// Best effort: a failed IP lookup just means an emptier init frame.
func (s *Session) sendInit() {
	ip := ""
	if s.cfg.IPEndpoint != "" {
		if resp, err := s.http.Get(s.cfg.IPEndpoint); err == nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 64))
			resp.Body.Close()
			ip = strings.TrimSpace(string(body))
		} else {
			log.Warn().Err(err).Str("module", "client.session").Msg("ip lookup failed")
		}
	}
	s.write(protocol.EncodeInit(ip, s.cfg.UserAgent, s.cfg.Geo))
}

// teardownSocket is the single cleanup path for the transport. Idempotent;
// the generation bump detaches any reader still draining the old socket.
func (s *Session) teardownSocket() {
	if s.conn == nil {
		return
	}
	_ = s.conn.Close()
	s.conn = nil
	s.gen++
}

func (s *Session) scheduleReconnect(d time.Duration) {
	s.stopReconnect()
	s.reconnect = time.NewTimer(d)
}

func (s *Session) stopReconnect() {
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
}

func (s *Session) resetIdle() {
	if !s.idle.Stop() {
		select {
		case <-s.idle.C:
		default:
		}
	}
	s.idle.Reset(s.cfg.IdleTimeout)
}

func (s *Session) write(data []byte) {
	if s.conn == nil {
		return
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Warn().Err(err).Str("module", "client.session").Msg("write failed")
	}
}

func (s *Session) setStatus(st Status) {
	if st == s.status {
		return
	}
	s.status = st
	if s.events.OnStatus != nil {
		s.events.OnStatus(st)
	}
}

func (s *Session) notice(text string) {
	if text != "" && s.events.OnNotice != nil {
		s.events.OnNotice(text)
	}
}
