package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"gigsync/internal/common"
	"gigsync/internal/logger"
	"gigsync/internal/metrics"

	"github.com/gorilla/websocket"
)

// Config holds push channel settings.
type Config struct {
	URL   string
	Token string

	// BaseBackoff and MaxBackoff bound the exponential reconnect delay.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// MaxRetries is the number of consecutive failed attempts tolerated
	// before Run gives up. Zero means unlimited.
	MaxRetries int

	// LivenessWindow is how long the channel may stay silent before it is
	// considered dead and reopened.
	LivenessWindow time.Duration

	// PingInterval is how often a WebSocket ping is sent. Keep it below LivenessWindow.
	PingInterval time.Duration

	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration

	// SendBuffer caps outbound frames held while disconnected; the oldest is dropped first.
	SendBuffer int
}

func (c *Config) applyDefaults() {
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.LivenessWindow <= 0 {
		c.LivenessWindow = 45 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = c.LivenessWindow / 2
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
}

type frame struct {
	data    []byte
	control bool
}

// Manager owns the single push connection of a session. The connection
// object lives only inside Run; other goroutines reach it through the
// outbound queue.
type Manager struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *logger.Logger

	mu        sync.Mutex
	status    Status
	connected bool
	queue     []frame
	wake      chan struct{}
}

// NewManager creates a manager. Nothing is dialed until Run.
func NewManager(cfg Config, log *logger.Logger) *Manager {
	cfg.applyDefaults()
	if log == nil {
		log = logger.Discard()
	}
	return &Manager{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: log.WithComponent("transport"),
		status: StatusClosed,
		wake:   make(chan struct{}, 1),
	}
}

// Status returns the current connection state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Send queues a data frame. While disconnected it is buffered and written on
// the next connection; when the buffer is full the oldest frame is dropped.
func (m *Manager) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling frame: %w", err)
	}
	m.enqueue(frame{data: data})
	return nil
}

// SendControl queues a subscription control message. Control messages are
// never buffered across connections: offline, it fails with ErrNotConnected
// and the subscription registry regenerates it after reconnecting.
func (m *Manager) SendControl(action Action, topic string) error {
	data, err := json.Marshal(Control{Action: action, Topic: topic})
	if err != nil {
		return fmt.Errorf("marshaling control: %w", err)
	}

	// Checked and queued under one lock so a frame can never slip in after
	// the disconnect purge.
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	m.enqueueLocked(frame{data: data, control: true})
	m.mu.Unlock()

	m.notify()
	return nil
}

// Buffered returns the number of queued outbound frames.
func (m *Manager) Buffered() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *Manager) enqueue(f frame) {
	m.mu.Lock()
	m.enqueueLocked(f)
	m.mu.Unlock()
	m.notify()
}

func (m *Manager) enqueueLocked(f frame) {
	if len(m.queue) >= m.cfg.SendBuffer {
		m.queue = m.queue[1:]
		metrics.DroppedFrames.Inc()
	}
	m.queue = append(m.queue, f)
}

func (m *Manager) notify() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Run connects and keeps the channel open until ctx ends or the retry budget
// is spent. It blocks; run it in a goroutine. A connection only resets the
// failure count once the server has sent something on it; one that is
// accepted and then dropped counts as a failed attempt.
func (m *Manager) Run(ctx context.Context, l Listener) error {
	log := m.logger
	failures := 0
	status := StatusConnecting

	for {
		m.setStatus(status, l)

		conn, err := m.dial(ctx)
		if err == nil {
			var healthy bool
			healthy, err = m.serve(ctx, conn, l)
			if ctx.Err() != nil {
				m.setStatus(StatusClosed, l)
				return nil
			}
			if healthy {
				failures = 0
			}
			metrics.ChannelDisconnects.Inc()
			l.Disconnected(common.NewConnectionLostError(err))
			log.Warn("push channel lost", slog.String("error", err.Error()))
		} else if ctx.Err() != nil {
			m.setStatus(StatusClosed, l)
			return nil
		}

		failures++
		if m.cfg.MaxRetries > 0 && failures > m.cfg.MaxRetries {
			m.setStatus(StatusClosed, l)
			return fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, failures, err)
		}

		delay := Backoff(failures, m.cfg.BaseBackoff, m.cfg.MaxBackoff)
		log.Info("reconnecting push channel",
			slog.Int("attempt", failures),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))

		status = StatusReconnecting
		m.setStatus(status, l)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.setStatus(StatusClosed, l)
			return nil
		case <-timer.C:
		}
	}
}

// Backoff returns the delay before reconnect attempt n (1-based): base·2^(n-1)
// capped at max, with equal jitter so the result lies in [d/2, d].
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := max
	if attempt <= 32 {
		if exp := base << uint(attempt-1); exp > 0 && exp < max {
			d = exp
		}
	}
	half := d / 2
	return half + rand.N(d-half+1)
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if m.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+m.cfg.Token)
	}

	conn, resp, err := m.dialer.DialContext(ctx, m.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing push channel (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dialing push channel: %w", err)
	}
	return conn, nil
}

// serve runs one connection until it fails or ctx ends. The boolean reports
// whether any inbound traffic arrived on it.
func (m *Manager) serve(ctx context.Context, conn *websocket.Conn, l Listener) (bool, error) {
	defer conn.Close()

	var healthy atomic.Bool
	liveness := m.cfg.LivenessWindow
	_ = conn.SetReadDeadline(time.Now().Add(liveness))
	conn.SetPongHandler(func(string) error {
		healthy.Store(true)
		return conn.SetReadDeadline(time.Now().Add(liveness))
	})

	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()

	metrics.ChannelConnects.Inc()
	m.setStatus(StatusOpen, l)
	m.logger.Info("push channel open", slog.String("url", m.cfg.URL))
	l.Connected()

	readErr := make(chan error, 1)
	go func() { readErr <- m.readLoop(conn, l, &healthy) }()

	ping := time.NewTicker(m.cfg.PingInterval)
	defer ping.Stop()

	readerDone, err := m.writeLoop(ctx, conn, ping.C, readErr)
	m.disconnect()

	conn.Close()
	if !readerDone {
		<-readErr
	}
	return healthy.Load(), err
}

// disconnect marks the channel offline and purges queued control frames; the
// registry regenerates them on the next connection.
func (m *Manager) disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connected = false
	kept := m.queue[:0]
	for _, f := range m.queue {
		if !f.control {
			kept = append(kept, f)
		}
	}
	m.queue = kept
}

// writeLoop writes queued frames and pings until the connection fails. The
// boolean reports whether the reader goroutine has already returned.
func (m *Manager) writeLoop(ctx context.Context, conn *websocket.Conn, ping <-chan time.Time, readErr <-chan error) (bool, error) {
	for {
		if err := m.drain(conn); err != nil {
			return false, err
		}

		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
				time.Now().Add(time.Second))
			return false, ctx.Err()
		case err := <-readErr:
			return true, err
		case <-m.wake:
		case <-ping:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.cfg.WriteTimeout)); err != nil {
				return false, fmt.Errorf("writing ping: %w", err)
			}
		}
	}
}

// drain writes queued frames. A data frame that fails to write goes back to
// the head of the queue for the next connection.
func (m *Manager) drain(conn *websocket.Conn) error {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return nil
		}
		f := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		_ = conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
			if !f.control {
				m.mu.Lock()
				m.queue = append([]frame{f}, m.queue...)
				m.mu.Unlock()
			}
			return fmt.Errorf("writing frame: %w", err)
		}
	}
}

func (m *Manager) readLoop(conn *websocket.Conn, l Listener, healthy *atomic.Bool) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		healthy.Store(true)
		_ = conn.SetReadDeadline(time.Now().Add(m.cfg.LivenessWindow))

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			m.logger.Debug("dropping malformed frame", slog.Int("bytes", len(data)))
			continue
		}

		switch env.Type {
		case TypeHeartbeat, TypePong:
			// liveness only
		case TypeSubscribed:
			l.Acknowledged(ActionSubscribe, ackTopic(env))
		case TypeUnsubscribed:
			l.Acknowledged(ActionUnsubscribe, ackTopic(env))
		case TypeError:
			m.logger.Warn("push channel error frame", slog.String("data", string(env.Data)))
		default:
			l.Received(env)
		}
	}
}

// ackTopic reads the topic from the envelope or, failing that, from data.
func ackTopic(env Envelope) string {
	if env.Topic != "" {
		return env.Topic
	}
	var body struct {
		Topic string `json:"topic"`
	}
	_ = json.Unmarshal(env.Data, &body)
	return body.Topic
}

func (m *Manager) setStatus(s Status, l Listener) {
	m.mu.Lock()
	changed := m.status != s
	m.status = s
	m.mu.Unlock()
	if changed && l != nil {
		l.StatusChanged(s)
	}
}
