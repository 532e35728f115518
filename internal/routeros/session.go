package routeros

import (
	"context"
	"errors"
	"sync"
	"time"

	routerosapi "github.com/go-routeros/routeros/v3"
	"github.com/rs/zerolog/log"

	"github.com/wsn-portal/provisioning-server/internal/config"
)

// Common errors
var (
	ErrNotConnected   = errors.New("router session not connected")
	ErrCommandTimeout = errors.New("router command timed out")
)

// Row is one attribute list from a device reply
type Row map[string]string

// Conn is a live transport session to the device. The production
// implementation wraps the RouterOS API client; tests inject fakes.
type Conn interface {
	Run(sentence ...string) ([]Row, error)
	Close()
}

// Dialer establishes a new device session
type Dialer func() (Conn, error)

// NewDialer returns a Dialer backed by the RouterOS API client
func NewDialer(cfg config.RouterConfig) Dialer {
	return func() (Conn, error) {
		cl, err := routerosapi.DialTimeout(cfg.Addr(), cfg.Username, cfg.Password, cfg.CommandTimeout)
		if err != nil {
			return nil, err
		}
		return &apiConn{cl: cl}, nil
	}
}

// apiConn adapts the RouterOS client to the Conn interface
type apiConn struct {
	cl *routerosapi.Client
}

func (c *apiConn) Run(sentence ...string) ([]Row, error) {
	reply, err := c.cl.Run(sentence...)
	if err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(reply.Re))
	for _, re := range reply.Re {
		row := make(Row, len(re.Map))
		for k, v := range re.Map {
			row[k] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (c *apiConn) Close() {
	c.cl.Close()
}

// Session owns the single persistent connection to the device. Run
// keeps it alive with exponential backoff; it never surfaces connection
// errors to callers. Command failures are reported back through
// MarkDisconnected, which tears the transport down and wakes the
// reconnect loop.
type Session struct {
	dial       Dialer
	minBackoff time.Duration
	maxBackoff time.Duration

	mu        sync.Mutex
	conn      Conn
	connected bool
	connCh    chan struct{}
	wake      chan struct{}

	onStateChange func(connected bool)
}

// NewSession creates a session manager. Run must be started for the
// session to connect.
func NewSession(dial Dialer, minBackoff, maxBackoff time.Duration) *Session {
	return &Session{
		dial:       dial,
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
		connCh:     make(chan struct{}),
		wake:       make(chan struct{}, 1),
	}
}

// OnStateChange registers a callback fired on every connect and
// disconnect. Must be set before Run starts; the callback runs outside
// the session lock.
func (s *Session) OnStateChange(fn func(connected bool)) {
	s.onStateChange = fn
}

func (s *Session) notifyState(connected bool) {
	if s.onStateChange != nil {
		s.onStateChange(connected)
	}
}

// Run maintains the connection until ctx is cancelled. Dial failures
// are retried forever with doubling backoff capped at maxBackoff; the
// delay resets to minBackoff after every successful connect.
func (s *Session) Run(ctx context.Context) {
	backoff := s.minBackoff

	for {
		if ctx.Err() != nil {
			s.teardown()
			return
		}

		if !s.IsConnected() {
			log.Info().Msg("Connecting to router")
			conn, err := s.dial()
			if err != nil {
				log.Warn().Err(err).Dur("retry_in", backoff).Msg("Router connection failed")
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				backoff *= 2
				if backoff > s.maxBackoff {
					backoff = s.maxBackoff
				}
				continue
			}

			s.mu.Lock()
			s.conn = conn
			s.connected = true
			close(s.connCh)
			s.mu.Unlock()

			backoff = s.minBackoff
			log.Info().Msg("Connected to router")
			s.notifyState(true)
		}

		select {
		case <-ctx.Done():
			s.teardown()
			return
		case <-s.wake:
		}
	}
}

// IsConnected reports the current connection state
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// AwaitConnection blocks until the session is connected or ctx is done
func (s *Session) AwaitConnection(ctx context.Context) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	ch := s.connCh
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

// Current returns the live transport, or ErrNotConnected
func (s *Session) Current() (Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected || s.conn == nil {
		return nil, ErrNotConnected
	}
	return s.conn, nil
}

// MarkDisconnected tears down the transport and wakes the reconnect
// loop. Called when a command fails or times out.
func (s *Session) MarkDisconnected() {
	s.mu.Lock()
	wasConnected := s.connected
	if s.connected {
		s.connected = false
		if s.conn != nil {
			s.conn.Close()
			s.conn = nil
		}
		s.connCh = make(chan struct{})
		log.Warn().Msg("Router session marked disconnected")
	}
	s.mu.Unlock()

	if wasConnected {
		s.notifyState(false)
	}

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// teardown closes the transport on shutdown
func (s *Session) teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		log.Info().Msg("Closing router connection")
		s.conn.Close()
		s.conn = nil
	}
	s.connected = false
}
