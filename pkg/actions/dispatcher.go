package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/voxchat/pkg/metrics"
	"github.com/go-go-golems/voxchat/pkg/transcript"
)

const defaultMaxResponseBytes = 8 << 20

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Dispatcher runs every accepted action in its own goroutine. Actions are not
// cancellable: the caller's context contributes values only.
type Dispatcher struct {
	baseURL          string
	client           Doer
	sink             transcript.Appender
	timeout          time.Duration
	serialize        bool
	maxResponseBytes int64
	metrics          *metrics.Metrics
	now              func() time.Time
	log              zerolog.Logger

	mu      sync.Mutex
	closed  bool
	pending map[string]PendingAction
	// tails holds the done channel of the last queued action per kind when
	// same-kind requests are serialized.
	tails map[transcript.Kind]chan struct{}
	wg    sync.WaitGroup
}

type Option func(*Dispatcher)

func WithHTTPClient(c Doer) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.client = c
		}
	}
}

// WithRequestTimeout bounds each request; 0 leaves requests unbounded.
func WithRequestTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = t }
}

// WithSerializedKinds issues same-kind requests one at a time in submission
// order. Different kinds still run concurrently.
func WithSerializedKinds(v bool) Option {
	return func(d *Dispatcher) { d.serialize = v }
}

func WithMaxResponseBytes(n int64) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxResponseBytes = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func NewDispatcher(baseURL string, sink transcript.Appender, opts ...Option) (*Dispatcher, error) {
	if sink == nil {
		return nil, errors.New("action dispatcher: sink is nil")
	}
	d := &Dispatcher{
		baseURL:          strings.TrimRight(baseURL, "/"),
		client:           &http.Client{},
		sink:             sink,
		maxResponseBytes: defaultMaxResponseBytes,
		now:              time.Now,
		log:              log.With().Str("component", "actions").Logger(),
		pending:          map[string]PendingAction{},
		tails:            map[transcript.Kind]chan struct{}{},
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// SendMessage echoes text locally, then posts it to /api/message.
func (d *Dispatcher) SendMessage(ctx context.Context, text string) (*Handle, error) {
	text = strings.TrimSpace(text)
	return d.submit(ctx, call{
		route: routes[transcript.KindMessage],
		input: text,
		body:  messageBody{Text: text},
		echo:  text,
	})
}

// EvalCode posts code to /api/eval. There is no local echo.
func (d *Dispatcher) EvalCode(ctx context.Context, code, language string) (*Handle, error) {
	code = strings.TrimSpace(code)
	if language = strings.TrimSpace(language); language == "" {
		language = DefaultLanguage
	}
	return d.submit(ctx, call{
		route: routes[transcript.KindEval],
		input: code,
		body:  evalBody{Code: code, Language: language},
	})
}

// QueryLLM echoes the prompt tagged with its provider, then posts to /api/llm.
func (d *Dispatcher) QueryLLM(ctx context.Context, q LLMQuery) (*Handle, error) {
	prompt := strings.TrimSpace(q.Prompt)
	provider := strings.TrimSpace(q.Provider)
	if provider == "" {
		provider = DefaultProvider
	}
	mode := strings.TrimSpace(q.Mode)
	if mode == "" {
		mode = DefaultMode
	}
	return d.submit(ctx, call{
		route: routes[transcript.KindLLM],
		input: prompt,
		body:  llmBody{Prompt: prompt, Provider: provider, Mode: mode, UseAI: q.UseAI},
		echo:  fmt.Sprintf("[LLM %s] %s", provider, prompt),
	})
}

func (d *Dispatcher) RunTests(ctx context.Context) (*Handle, error) {
	return d.submit(ctx, call{route: routes[transcript.KindTest], noInput: true})
}

func (d *Dispatcher) ExportCode(ctx context.Context) (*Handle, error) {
	return d.submit(ctx, call{route: routes[transcript.KindExport], noInput: true, body: emptyBody{}})
}

func (d *Dispatcher) GenerateDocs(ctx context.Context) (*Handle, error) {
	return d.submit(ctx, call{route: routes[transcript.KindDoc], noInput: true})
}

// Pending lists outstanding actions in submission order.
func (d *Dispatcher) Pending() []PendingAction {
	d.mu.Lock()
	out := make([]PendingAction, 0, len(d.pending))
	for _, p := range d.pending {
		out = append(out, p)
	}
	d.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// Close rejects every later call with ErrDisposed. In-flight actions still
// append their terminal entry. Close is idempotent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

// Wait blocks until every in-flight action has resolved or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type call struct {
	route   route
	input   string
	noInput bool
	body    any // nil sends no body
	echo    string
}

func (d *Dispatcher) submit(ctx context.Context, c call) (*Handle, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	kind := c.route.kind

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrDisposed
	}
	if !c.noInput && c.input == "" {
		d.mu.Unlock()
		return nil, errors.Wrapf(ErrEmptyInput, "%s", kind)
	}
	id := uuid.NewString()
	start := d.now()
	d.pending[id] = PendingAction{ID: id, Kind: kind, SubmittedAt: start}
	h := newHandle(id, kind)
	var prev chan struct{}
	if d.serialize {
		prev = d.tails[kind]
		d.tails[kind] = h.done
	}
	d.wg.Add(1)
	d.mu.Unlock()

	d.metrics.ActionStarted(string(kind))
	d.log.Debug().Str("kind", string(kind)).Str("action_id", id).Msg("action submitted")

	if c.echo != "" {
		h.EchoSeq = d.sink.Append(transcript.Entry{
			Origin:   transcript.OriginLocalEcho,
			Kind:     kind,
			Sender:   transcript.SenderYou,
			Text:     c.echo,
			ActionID: id,
		})
	}

	reqCtx := context.WithoutCancel(ctx)
	go func() {
		defer d.wg.Done()
		if prev != nil {
			<-prev
		}
		d.execute(reqCtx, h, c, start)
	}()
	return h, nil
}

func (d *Dispatcher) execute(ctx context.Context, h *Handle, c call, start time.Time) {
	var e transcript.Entry
	defer func() {
		if r := recover(); r != nil {
			e = c.route.failure(h.ID, transcript.FailureTransport, errors.Errorf("panic: %v", r))
		}
		d.finish(h, e, start)
	}()
	e = d.roundTrip(ctx, h.ID, c)
}

func (d *Dispatcher) roundTrip(ctx context.Context, id string, c call) transcript.Entry {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	req, err := d.newRequest(ctx, id, c)
	if err != nil {
		return c.route.failure(id, transcript.FailureTransport, err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return c.route.failure(id, classify(ctx, err), errors.Wrap(err, "request failed"))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, d.maxResponseBytes))
	if err != nil {
		return c.route.failure(id, classify(ctx, err), errors.Wrap(err, "read response"))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		d.log.Warn().Str("kind", string(c.route.kind)).Str("action_id", id).Int("status", resp.StatusCode).Msg("backend returned an error status")
	}
	text, failure, err := Resolve(body)
	if err != nil {
		return c.route.failure(id, failure, err)
	}
	return c.route.result(id, text, failure)
}

func (d *Dispatcher) newRequest(ctx context.Context, id string, c call) (*http.Request, error) {
	var body io.Reader
	if c.body != nil {
		b, err := json.Marshal(c.body)
		if err != nil {
			return nil, errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+c.route.path, body)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, id)
	return req, nil
}

func (d *Dispatcher) finish(h *Handle, e transcript.Entry, start time.Time) {
	seq := d.sink.Append(e)

	d.mu.Lock()
	delete(d.pending, h.ID)
	if d.tails[h.Kind] == h.done {
		delete(d.tails, h.Kind)
	}
	d.mu.Unlock()

	outcome := "ok"
	if e.Failure != transcript.FailureNone {
		outcome = string(e.Failure)
	}
	elapsed := d.now().Sub(start)
	d.metrics.ActionCompleted(string(h.Kind), outcome, elapsed)

	level := zerolog.DebugLevel
	if e.Origin == transcript.OriginError {
		level = zerolog.WarnLevel
	}
	d.log.WithLevel(level).
		Str("kind", string(h.Kind)).
		Str("action_id", h.ID).
		Str("outcome", outcome).
		Str("detail", e.Detail).
		Uint64("seq", seq).
		Dur("elapsed", elapsed).
		Msg("action resolved")

	h.resolve(seq)
}

func classify(ctx context.Context, err error) transcript.Failure {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return transcript.FailureTimeout
	}
	return transcript.FailureTransport
}
