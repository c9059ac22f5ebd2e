// Package client is the facade UIs talk to. It owns the transcript and wires
// the push channel and the action dispatcher to it; neither of them ever sees
// the store itself, only an append function.
package client

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/voxchat/pkg/actions"
	"github.com/go-go-golems/voxchat/pkg/config"
	"github.com/go-go-golems/voxchat/pkg/connection"
	"github.com/go-go-golems/voxchat/pkg/logging"
	"github.com/go-go-golems/voxchat/pkg/metrics"
	"github.com/go-go-golems/voxchat/pkg/transcript"
)

// ErrDisposed is returned by every call that would start work after Dispose.
var ErrDisposed = actions.ErrDisposed

type options struct {
	registerer prometheus.Registerer
	httpClient actions.Doer
	dialer     *websocket.Dialer
	onState    func(prev, next connection.State)
	feedBuffer int64
	clock      func() time.Time
}

type Option func(*options)

// WithRegisterer registers the client's collectors. Without it metrics are
// still counted but not exported.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

func WithHTTPClient(c actions.Doer) Option {
	return func(o *options) { o.httpClient = c }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithStateListener is called on every connection state transition. It must
// not call Start, Reconnect or Dispose.
func WithStateListener(fn func(prev, next connection.State)) Option {
	return func(o *options) { o.onState = fn }
}

func WithFeedBuffer(n int64) Option {
	return func(o *options) { o.feedBuffer = n }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

type Client struct {
	settings config.Settings
	store    *transcript.Store
	feed     *transcript.Feed
	metrics  *metrics.Metrics
	conn     *connection.Manager
	actions  *actions.Dispatcher
	log      zerolog.Logger

	mu       sync.Mutex
	started  bool
	disposed bool
}

func New(settings config.Settings, opts ...Option) (*Client, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	m, err := metrics.New(o.registerer)
	if err != nil {
		return nil, err
	}

	c := &Client{
		settings: settings,
		metrics:  m,
		log:      log.With().Str("component", "client").Logger(),
	}
	c.feed = transcript.NewFeed(
		logging.NewWatermillAdapter(log.With().Str("component", "feed").Logger()),
		o.feedBuffer,
	)

	storeOpts := []transcript.StoreOption{
		transcript.WithMaxEntries(settings.MaxEntries),
		transcript.WithObserver(c.feed.Observe),
	}
	if o.clock != nil {
		storeOpts = append(storeOpts, transcript.WithClock(o.clock))
	}
	c.store = transcript.NewStore(storeOpts...)

	sink := transcript.AppenderFunc(c.append)

	connOpts := []connection.Option{
		connection.WithDialer(o.dialer),
		connection.WithHandshakeTimeout(settings.DialTimeout),
		connection.WithReadLimit(settings.ReadLimit),
		connection.WithMetrics(m),
	}
	if o.onState != nil {
		connOpts = append(connOpts, connection.WithStateListener(o.onState))
	}
	c.conn, err = connection.NewManager(settings.PushURL(), sink, connOpts...)
	if err != nil {
		_ = c.feed.Close()
		return nil, err
	}

	actionOpts := []actions.Option{
		actions.WithHTTPClient(o.httpClient),
		actions.WithRequestTimeout(settings.RequestTimeout),
		actions.WithSerializedKinds(settings.SerializeKinds),
		actions.WithMetrics(m),
	}
	if o.clock != nil {
		actionOpts = append(actionOpts, actions.WithClock(o.clock))
	}
	c.actions, err = actions.NewDispatcher(settings.BaseURL(), sink, actionOpts...)
	if err != nil {
		_ = c.feed.Close()
		return nil, err
	}

	c.log.Debug().
		Str("base_url", settings.BaseURL()).
		Str("push_url", settings.PushURL()).
		Int("max_entries", settings.MaxEntries).
		Msg("client created")
	return c, nil
}

func (c *Client) append(e transcript.Entry) uint64 {
	return c.store.Append(e)
}

// Start opens the push channel. Only the first call dials; later calls are
// no-ops. Use Reconnect to retry after the connection dropped.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrDisposed
	}
	if c.started {
		return nil
	}
	c.started = true
	return c.conn.Open(ctx)
}

// Reconnect opens the push channel again. It returns
// connection.ErrAlreadyOpen while a connection is live or being dialed.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrDisposed
	}
	c.started = true
	return c.conn.Open(ctx)
}

func (c *Client) SendMessage(ctx context.Context, text string) (*actions.Handle, error) {
	return c.actions.SendMessage(ctx, text)
}

func (c *Client) EvalCode(ctx context.Context, code, language string) (*actions.Handle, error) {
	return c.actions.EvalCode(ctx, code, language)
}

func (c *Client) QueryLLM(ctx context.Context, q actions.LLMQuery) (*actions.Handle, error) {
	return c.actions.QueryLLM(ctx, q)
}

func (c *Client) RunTests(ctx context.Context) (*actions.Handle, error) {
	return c.actions.RunTests(ctx)
}

func (c *Client) ExportCode(ctx context.Context) (*actions.Handle, error) {
	return c.actions.ExportCode(ctx)
}

func (c *Client) GenerateDocs(ctx context.Context) (*actions.Handle, error) {
	return c.actions.GenerateDocs(ctx)
}

// Transcript stays readable after Dispose.
func (c *Client) Transcript() transcript.View { return c.store }

// Subscribe streams every entry appended from now on. Messages must be acked.
func (c *Client) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return c.feed.Subscribe(ctx)
}

func (c *Client) State() connection.State { return c.conn.State() }

func (c *Client) Pending() []actions.PendingAction { return c.actions.Pending() }

func (c *Client) Settings() config.Settings { return c.settings }

func (c *Client) Metrics() *metrics.Metrics { return c.metrics }

// Drain waits for every in-flight action to append its terminal entry.
func (c *Client) Drain(ctx context.Context) error {
	return c.actions.Wait(ctx)
}

// Dispose closes the push channel, rejects new actions and closes the feed.
// Actions already in flight still append their terminal entry. Calling
// Dispose again does nothing.
func (c *Client) Dispose() error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	c.disposed = true
	c.actions.Close()
	c.mu.Unlock()

	err := c.conn.Close()
	if ferr := c.feed.Close(); ferr != nil && err == nil {
		err = errors.Wrap(ferr, "close transcript feed")
	}
	c.log.Debug().Int("pending", len(c.actions.Pending())).Msg("client disposed")
	return err
}
