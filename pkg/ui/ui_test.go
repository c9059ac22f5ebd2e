package ui

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/voxchat/pkg/actions"
	"github.com/go-go-golems/voxchat/pkg/connection"
	"github.com/go-go-golems/voxchat/pkg/transcript"
)

type fakeBackend struct {
	mu        sync.Mutex
	store     *transcript.Store
	messages  []string
	evals     [][2]string
	queries   []actions.LLMQuery
	others    []transcript.Kind
	reconnect error
	disposed  bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{store: transcript.NewStore()}
}

func (f *fakeBackend) accept(kind transcript.Kind, input string) (*actions.Handle, error) {
	if f.disposed {
		return nil, actions.ErrDisposed
	}
	if input == "" && (kind == transcript.KindMessage || kind == transcript.KindEval || kind == transcript.KindLLM) {
		return nil, actions.ErrEmptyInput
	}
	return &actions.Handle{ID: string(kind) + "-1", Kind: kind}, nil
}

func (f *fakeBackend) SendMessage(_ context.Context, text string) (*actions.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, err := f.accept(transcript.KindMessage, text)
	if err == nil {
		f.messages = append(f.messages, text)
	}
	return h, err
}

func (f *fakeBackend) EvalCode(_ context.Context, code, language string) (*actions.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, err := f.accept(transcript.KindEval, code)
	if err == nil {
		f.evals = append(f.evals, [2]string{code, language})
	}
	return h, err
}

func (f *fakeBackend) QueryLLM(_ context.Context, q actions.LLMQuery) (*actions.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, err := f.accept(transcript.KindLLM, q.Prompt)
	if err == nil {
		f.queries = append(f.queries, q)
	}
	return h, err
}

func (f *fakeBackend) other(kind transcript.Kind) (*actions.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, err := f.accept(kind, "")
	if err == nil {
		f.others = append(f.others, kind)
	}
	return h, err
}

func (f *fakeBackend) RunTests(context.Context) (*actions.Handle, error) {
	return f.other(transcript.KindTest)
}

func (f *fakeBackend) ExportCode(context.Context) (*actions.Handle, error) {
	return f.other(transcript.KindExport)
}

func (f *fakeBackend) GenerateDocs(context.Context) (*actions.Handle, error) {
	return f.other(transcript.KindDoc)
}

func (f *fakeBackend) Reconnect(context.Context) error { return f.reconnect }

func (f *fakeBackend) State() connection.State { return connection.Connected }

func (f *fakeBackend) Pending() []actions.PendingAction {
	return []actions.PendingAction{{ID: "abc", Kind: transcript.KindEval, SubmittedAt: time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC)}}
}

func (f *fakeBackend) Transcript() transcript.View { return f.store }

func TestSessionRoutesCommands(t *testing.T) {
	b := newFakeBackend()
	var out bytes.Buffer
	var copied []string
	s := NewSession(b, &out, WithClipboard(func(text string) error {
		copied = append(copied, text)
		return nil
	}))
	ctx := context.Background()

	for _, line := range []string{
		"hello vox",
		"/lang javascript",
		"/eval console.log(1)",
		"/provider claude",
		"/mode critic",
		"/ai",
		"/llm explain this",
		"/test",
		"/export",
		"/doc",
		"/state",
		"/pending",
		"   ",
	} {
		require.NoError(t, s.Handle(ctx, line), line)
	}

	require.Equal(t, []string{"hello vox"}, b.messages)
	require.Equal(t, [][2]string{{"console.log(1)", "javascript"}}, b.evals)
	require.Equal(t, []actions.LLMQuery{{Prompt: "explain this", Provider: "claude", Mode: "critic", UseAI: true}}, b.queries)
	require.Equal(t, []transcript.Kind{transcript.KindTest, transcript.KindExport, transcript.KindDoc}, b.others)
	require.Contains(t, out.String(), "connection: connected")
	require.Contains(t, out.String(), "eval abc since 12:30:00")

	b.store.Append(transcript.Entry{Origin: transcript.OriginActionResult, Text: "Eval result: 1"})
	b.store.Append(transcript.Entry{Origin: transcript.OriginError, Text: "Error calling LLM"})
	require.NoError(t, s.Handle(ctx, "/copy"))
	require.Equal(t, []string{"Eval result: 1"}, copied)
}

func TestSessionReportsUserErrors(t *testing.T) {
	b := newFakeBackend()
	b.reconnect = connection.ErrAlreadyOpen
	var out bytes.Buffer
	s := NewSession(b, &out)
	ctx := context.Background()

	require.NoError(t, s.Handle(ctx, "/eval"))
	require.NoError(t, s.Handle(ctx, "/lang cobol"))
	require.NoError(t, s.Handle(ctx, "/bogus"))
	require.NoError(t, s.Handle(ctx, "/reconnect"))
	require.NoError(t, s.Handle(ctx, "/copy"))

	text := out.String()
	require.Contains(t, text, "nothing to send")
	require.Contains(t, text, `unknown language "cobol"`)
	require.Contains(t, text, "unknown command /bogus")
	require.Contains(t, text, "already open")
	require.Contains(t, text, "clipboard not available")
	require.Equal(t, actions.DefaultLanguage, s.Language)

	require.ErrorIs(t, s.Handle(ctx, "/quit"), ErrQuit)
	b.disposed = true
	require.ErrorIs(t, s.Handle(ctx, "hi"), actions.ErrDisposed)
}

func TestSessionRunStopsOnQuitAndEOF(t *testing.T) {
	b := newFakeBackend()
	var out bytes.Buffer
	s := NewSession(b, NewSyncWriter(&out))

	require.NoError(t, s.Run(context.Background(), strings.NewReader("one\n/quit\ntwo\n"), nil))
	require.Equal(t, []string{"one"}, b.messages)

	require.NoError(t, s.Run(context.Background(), strings.NewReader("three\n"), nil))
	require.Equal(t, []string{"one", "three"}, b.messages)
}

func TestSessionRunStopsOnCancel(t *testing.T) {
	s := NewSession(newFakeBackend(), &bytes.Buffer{})
	ctx, cancel := context.WithCancel(context.Background())
	blocked := &blockingReader{release: make(chan struct{})}
	defer close(blocked.release)

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, blocked, nil) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

type blockingReader struct{ release chan struct{} }

func (r *blockingReader) Read([]byte) (int, error) {
	<-r.release
	return 0, errors.New("closed")
}

func TestPrinterFollowsTranscriptOrder(t *testing.T) {
	store := transcript.NewStore()
	var out bytes.Buffer
	p := NewPrinter(store, &out, NewRenderer(0, true).Render)

	store.Append(transcript.Entry{Origin: transcript.OriginLocalEcho, Sender: transcript.SenderYou, Text: "hi"})
	store.Append(transcript.Entry{Origin: transcript.OriginActionResult, Sender: transcript.SenderVox, Text: "hello"})
	require.Equal(t, 2, p.Flush())
	require.Equal(t, 0, p.Flush())
	store.Append(transcript.Entry{
		Origin:  transcript.OriginError,
		Sender:  transcript.SenderSystem,
		Text:    "Connection lost",
		Failure: transcript.FailureTransport,
		Detail:  "EOF",
	})
	require.Equal(t, 1, p.Flush())

	require.Equal(t, "you: hi\nvox: hello\nsystem: Connection lost (EOF)\n", out.String())
}

func TestPrinterRunWakesOnFeed(t *testing.T) {
	feed := transcript.NewFeed(nil, 0)
	defer func() { _ = feed.Close() }()
	store := transcript.NewStore(transcript.WithObserver(feed.Observe))
	var out bytes.Buffer
	w := NewSyncWriter(&out)
	p := NewPrinter(store, w, NewRenderer(0, true).Render)

	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := feed.Subscribe(ctx)
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, msgs) }()

	store.Append(transcript.Entry{Origin: transcript.OriginRemotePush, Text: `{"a":1}`})
	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return strings.Contains(out.String(), `system: {"a":1}`)
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestRendererKeepsDocHeading(t *testing.T) {
	r := NewRenderer(60, false)
	text := r.Render(transcript.Entry{
		Origin: transcript.OriginActionResult,
		Kind:   transcript.KindDoc,
		Sender: transcript.SenderSystem,
		Text:   "Documentation:\n# API\n\nCall `run()`.",
	})
	require.Contains(t, text, "Documentation:")
	require.Contains(t, text, "API")
	require.Contains(t, text, "run()")
}
