package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghostpair/ghostpair/internal/protocol"
)

var errConnClosed = errors.New("use of closed connection")

type fakeClientConn struct {
	in     chan []byte
	writes chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeClientConn() *fakeClientConn {
	return &fakeClientConn{
		in:     make(chan []byte, 16),
		writes: make(chan []byte, 32),
		closed: make(chan struct{}),
	}
}

func (c *fakeClientConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.in:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, errConnClosed
	}
}

func (c *fakeClientConn) WriteMessage(mt int, data []byte) error {
	select {
	case c.writes <- data:
		return nil
	case <-c.closed:
		return errConnClosed
	}
}

func (c *fakeClientConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeClientConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type fakeDialer struct {
	mu    sync.Mutex
	fails int
	dials chan *fakeClientConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{dials: make(chan *fakeClientConn, 8)}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	if d.fails > 0 {
		d.fails--
		d.mu.Unlock()
		return nil, errors.New("dial refused")
	}
	d.mu.Unlock()
	c := newFakeClientConn()
	d.dials <- c
	return c, nil
}

type sessionProbe struct {
	statuses chan Status
	notices  chan string
	messages chan string
	ended    chan struct{}
}

func newSessionProbe() *sessionProbe {
	return &sessionProbe{
		statuses: make(chan Status, 32),
		notices:  make(chan string, 32),
		messages: make(chan string, 32),
		ended:    make(chan struct{}, 8),
	}
}

func (p *sessionProbe) events() Events {
	return Events{
		OnStatus:       func(s Status) { p.statuses <- s },
		OnNotice:       func(n string) { p.notices <- n },
		OnMessage:      func(text, reply string) { p.messages <- text },
		OnPartnerEnded: func() { p.ended <- struct{}{} },
	}
}

func newTestSession(p *sessionProbe, d Dialer, mut func(*Config)) *Session {
	cfg := Config{
		URL:             "ws://test/ws",
		UserAgent:       "test-agent",
		ConnectTimeout:  250 * time.Millisecond,
		IdleTimeout:     time.Hour,
		RedialDelay:     10 * time.Millisecond,
		NewPartnerDelay: 10 * time.Millisecond,
	}
	if mut != nil {
		mut(&cfg)
	}
	s := NewSession(cfg, p.events())
	s.dialer = d
	s.bo = backoff.NewConstantBackOff(10 * time.Millisecond)
	return s
}

func recvConn(t *testing.T, d *fakeDialer) *fakeClientConn {
	t.Helper()
	select {
	case c := <-d.dials:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a dial")
		return nil
	}
}

func recvWrite(t *testing.T, c *fakeClientConn) []byte {
	t.Helper()
	select {
	case b := <-c.writes:
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a client write")
		return nil
	}
}

func waitStatus(t *testing.T, p *sessionProbe, want Status) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-p.statuses:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("never reached status %v", want)
		}
	}
}

func TestReconnectBackoffSchedule(t *testing.T) {
	bo := newReconnectBackoff()
	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		10000 * time.Millisecond,
		10000 * time.Millisecond,
	}
	for i, w := range want {
		assert.Equal(t, w, bo.NextBackOff(), "attempt %d", i)
	}

	// A deliberate user reconnect starts over at one second.
	bo.Reset()
	assert.Equal(t, time.Second, bo.NextBackOff())
}

func TestSessionSendsInitOnOpen(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := newSessionProbe()
	d := newFakeDialer()
	s := newTestSession(p, d, nil)
	go s.Run(ctx)

	conn := recvConn(t, d)
	msg := protocol.Decode(recvWrite(t, conn))
	require.Equal(t, protocol.KindInit, msg.Kind)
	assert.Equal(t, "test-agent", msg.UserAgent)
	waitStatus(t, p, StatusWaiting)
}

func TestSessionPairsAndChats(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := newSessionProbe()
	d := newFakeDialer()
	s := newTestSession(p, d, nil)
	go s.Run(ctx)

	conn := recvConn(t, d)
	recvWrite(t, conn) // init

	conn.in <- []byte(protocol.SentinelPaired)
	waitStatus(t, p, StatusPaired)

	s.SendChat("hi there", "")
	msg := protocol.Decode(recvWrite(t, conn))
	require.Equal(t, protocol.KindChat, msg.Kind)
	assert.Equal(t, "hi there", msg.Text)

	s.Typing()
	assert.Equal(t, protocol.SentinelTyping, string(recvWrite(t, conn)))

	conn.in <- []byte(`{"text":"yo"}`)
	select {
	case got := <-p.messages:
		assert.Equal(t, "yo", got)
	case <-time.After(2 * time.Second):
		t.Fatal("incoming chat never surfaced")
	}
}

func TestChatIgnoredBeforePairing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := newSessionProbe()
	d := newFakeDialer()
	s := newTestSession(p, d, nil)
	go s.Run(ctx)

	conn := recvConn(t, d)
	recvWrite(t, conn) // init

	s.SendChat("too early", "")
	select {
	case b := <-conn.writes:
		t.Fatalf("unpaired chat must not be sent, wrote %q", b)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPartnerEndedTriggersRedial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := newSessionProbe()
	d := newFakeDialer()
	s := newTestSession(p, d, nil)
	go s.Run(ctx)

	conn1 := recvConn(t, d)
	recvWrite(t, conn1) // init
	conn1.in <- []byte(protocol.SentinelPaired)
	waitStatus(t, p, StatusPaired)

	conn1.in <- []byte(protocol.SentinelPartnerEnded)
	select {
	case <-p.ended:
	case <-time.After(2 * time.Second):
		t.Fatal("partner-ended never surfaced")
	}

	conn2 := recvConn(t, d)
	assert.True(t, conn1.isClosed(), "old socket must be torn down before the new dial")
	assert.NotSame(t, conn1, conn2)
}

func TestUnexpectedCloseRedials(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := newSessionProbe()
	d := newFakeDialer()
	s := newTestSession(p, d, nil)
	go s.Run(ctx)

	conn1 := recvConn(t, d)
	recvWrite(t, conn1)

	conn1.Close() // server dropped us
	conn2 := recvConn(t, d)
	assert.NotSame(t, conn1, conn2)
}

func TestDialFailureRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := newSessionProbe()
	d := newFakeDialer()
	d.fails = 2
	s := newTestSession(p, d, nil)
	go s.Run(ctx)

	// Two refused attempts, then a socket.
	conn := recvConn(t, d)
	msg := protocol.Decode(recvWrite(t, conn))
	assert.Equal(t, protocol.KindInit, msg.Kind)
}

func TestEndChatIsFinal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := newSessionProbe()
	d := newFakeDialer()
	s := newTestSession(p, d, nil)
	go s.Run(ctx)

	conn := recvConn(t, d)
	recvWrite(t, conn) // init
	conn.in <- []byte(protocol.SentinelPaired)
	waitStatus(t, p, StatusPaired)

	s.EndChat()
	assert.Equal(t, protocol.SentinelEndChat, string(recvWrite(t, conn)))
	waitStatus(t, p, StatusDisconnected)

	select {
	case <-d.dials:
		t.Fatal("manual disconnect must not reconnect")
	case <-time.After(100 * time.Millisecond):
	}
	assert.True(t, conn.isClosed())
}

func TestNewPartnerRedialsImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := newSessionProbe()
	d := newFakeDialer()
	s := newTestSession(p, d, nil)
	go s.Run(ctx)

	conn1 := recvConn(t, d)
	recvWrite(t, conn1) // init
	conn1.in <- []byte(protocol.SentinelPaired)
	waitStatus(t, p, StatusPaired)

	s.NewPartner()
	assert.Equal(t, protocol.SentinelEndChat, string(recvWrite(t, conn1)))

	conn2 := recvConn(t, d)
	assert.True(t, conn1.isClosed(), "at most one live socket")
	assert.NotSame(t, conn1, conn2)
}

func TestIdleTimeoutEndsSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := newSessionProbe()
	d := newFakeDialer()
	s := newTestSession(p, d, func(c *Config) {
		c.IdleTimeout = 50 * time.Millisecond
	})
	go s.Run(ctx)

	conn := recvConn(t, d)
	recvWrite(t, conn) // init
	conn.in <- []byte(protocol.SentinelPaired)
	waitStatus(t, p, StatusPaired)

	// No Activity() calls: the idle timer fires and the client hangs up.
	assert.Equal(t, protocol.SentinelEndChat, string(recvWrite(t, conn)))
	waitStatus(t, p, StatusDisconnected)
	assert.True(t, conn.isClosed())

	deadline := time.After(2 * time.Second)
	for {
		select {
		case n := <-p.notices:
			if n == "Disconnected due to inactivity." {
				return
			}
		case <-deadline:
			t.Fatal("inactivity notice never surfaced")
		}
	}
}

func TestActivityDefersIdleTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := newSessionProbe()
	d := newFakeDialer()
	s := newTestSession(p, d, func(c *Config) {
		c.IdleTimeout = 150 * time.Millisecond
	})
	go s.Run(ctx)

	conn := recvConn(t, d)
	recvWrite(t, conn) // init

	for i := 0; i < 4; i++ {
		time.Sleep(60 * time.Millisecond)
		s.Activity()
	}
	assert.False(t, conn.isClosed(), "interaction must keep the session alive")
}
