package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/voxchat/pkg/metrics"
	"github.com/go-go-golems/voxchat/pkg/transcript"
)

var ErrAlreadyOpen = errors.New("push channel already open")

const closeGrace = time.Second

// Manager owns at most one live push-channel connection and turns its frames
// and failures into transcript entries. It never retries on its own; callers
// re-invoke Open.
type Manager struct {
	url       string
	dialer    *websocket.Dialer
	sink      transcript.Appender
	onState   func(prev, next State)
	readLimit int64
	metrics   *metrics.Metrics
	log       zerolog.Logger

	state atomic.Int32

	// mu guards the fields below and is held while appending, so setting
	// closing under it cuts off every later frame.
	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	closing bool
	done    chan struct{}
}

type Option func(*Manager)

func WithDialer(d *websocket.Dialer) Option {
	return func(m *Manager) {
		if d != nil {
			m.dialer = d
		}
	}
}

// WithHandshakeTimeout bounds the websocket handshake of each Open.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			dialer := *m.dialer
			dialer.HandshakeTimeout = d
			m.dialer = &dialer
		}
	}
}

func WithReadLimit(n int64) Option {
	return func(m *Manager) { m.readLimit = n }
}

// WithStateListener registers a callback for every state transition, called
// in transition order. It must not call Open or Close.
func WithStateListener(fn func(prev, next State)) Option {
	return func(m *Manager) { m.onState = fn }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func NewManager(url string, sink transcript.Appender, opts ...Option) (*Manager, error) {
	if url == "" {
		return nil, errors.New("connection manager: url is empty")
	}
	if sink == nil {
		return nil, errors.New("connection manager: sink is nil")
	}
	dialer := *websocket.DefaultDialer
	m := &Manager{
		url:    url,
		dialer: &dialer,
		sink:   sink,
		log:    log.With().Str("component", "connection").Str("url", url).Logger(),
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

func (m *Manager) URL() string { return m.url }

func (m *Manager) State() State { return State(m.state.Load()) }

// Open starts dialing in the background and returns immediately. ctx bounds
// the dial only; an established connection lives until Close or a transport
// error.
func (m *Manager) Open(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.State() != Disconnected {
		return ErrAlreadyOpen
	}
	dialCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.closing = false
	m.done = make(chan struct{})
	m.setStateLocked(Connecting)
	go m.run(dialCtx, cancel, m.done)
	return nil
}

// Close moves an open connection through closing to disconnected and waits
// for the reader to exit. Frames read after Close is called are discarded.
// Closing a disconnected manager is a no-op.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.State() == Disconnected {
		m.mu.Unlock()
		return nil
	}
	done := m.done
	var err error
	if !m.closing {
		m.closing = true
		m.setStateLocked(Closing)
		if m.cancel != nil {
			m.cancel()
		}
		if conn := m.conn; conn != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if werr := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace)); werr != nil {
				m.log.Debug().Err(werr).Msg("close frame not sent")
			}
			err = conn.Close()
		}
	}
	m.mu.Unlock()

	if done != nil {
		<-done
	}
	if err != nil {
		return errors.Wrap(err, "close push channel")
	}
	return nil
}

func (m *Manager) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)
	defer cancel()

	conn, _, err := m.dialer.DialContext(ctx, m.url, nil)

	m.mu.Lock()
	if err != nil {
		if !m.closing {
			m.log.Warn().Err(err).Msg("push channel dial failed")
			m.appendLocked(transcript.Entry{
				Origin:  transcript.OriginError,
				Sender:  transcript.SenderSystem,
				Text:    "Connection failed",
				Failure: transcript.FailureTransport,
				Detail:  err.Error(),
			})
		}
		m.setStateLocked(Disconnected)
		m.mu.Unlock()
		return
	}
	if m.closing {
		m.setStateLocked(Disconnected)
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	if m.readLimit > 0 {
		conn.SetReadLimit(m.readLimit)
	}
	m.conn = conn
	m.setStateLocked(Connected)
	m.log.Info().Msg("push channel connected")
	m.mu.Unlock()

	m.readLoop(conn)
}

func (m *Manager) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()

		m.mu.Lock()
		if m.closing {
			if err == nil {
				m.metrics.PushFrame("discarded")
				m.log.Debug().Int("bytes", len(data)).Msg("frame discarded after close")
				m.mu.Unlock()
				continue
			}
			m.conn = nil
			m.setStateLocked(Disconnected)
			m.mu.Unlock()
			m.log.Info().Msg("push channel closed")
			return
		}
		if err != nil {
			m.conn = nil
			m.appendLocked(transportLost(err))
			m.setStateLocked(Disconnected)
			m.mu.Unlock()
			m.log.Warn().Err(err).Msg("push channel lost")
			_ = conn.Close()
			return
		}
		m.appendLocked(frameEntry(data))
		m.mu.Unlock()
	}
}

func (m *Manager) appendLocked(e transcript.Entry) {
	switch {
	case e.Origin == transcript.OriginRemotePush:
		m.metrics.PushFrame("ok")
	case e.Failure == transcript.FailureProtocol:
		m.metrics.PushFrame("malformed")
		m.log.Warn().Str("detail", e.Detail).Msg("malformed push frame")
	}
	m.sink.Append(e)
}

func (m *Manager) setStateLocked(next State) {
	prev := State(m.state.Swap(int32(next)))
	if prev == next {
		return
	}
	m.metrics.StateTransition(next.String())
	m.log.Debug().Stringer("from", prev).Stringer("to", next).Msg("state transition")
	if m.onState != nil {
		m.onState(prev, next)
	}
}

// frameEntry re-serializes a frame as compact JSON, or reports it as malformed.
func frameEntry(data []byte) transcript.Entry {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return transcript.Entry{
			Origin:  transcript.OriginError,
			Sender:  transcript.SenderSystem,
			Text:    "Malformed push frame",
			Failure: transcript.FailureProtocol,
			Detail:  err.Error(),
		}
	}
	return transcript.Entry{
		Origin: transcript.OriginRemotePush,
		Sender: transcript.SenderSystem,
		Text:   buf.String(),
		Raw:    json.RawMessage(buf.Bytes()),
	}
}

func transportLost(err error) transcript.Entry {
	text := "Connection lost"
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		text = "Connection closed by server"
	}
	return transcript.Entry{
		Origin:  transcript.OriginError,
		Sender:  transcript.SenderSystem,
		Text:    text,
		Failure: transcript.FailureTransport,
		Detail:  err.Error(),
	}
}
