package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/voxchat/pkg/actions"
	"github.com/go-go-golems/voxchat/pkg/connection"
	"github.com/go-go-golems/voxchat/pkg/transcript"
)

// ErrQuit ends a session.
var ErrQuit = errors.New("quit")

// Backend is the part of the client a session drives.
type Backend interface {
	SendMessage(ctx context.Context, text string) (*actions.Handle, error)
	EvalCode(ctx context.Context, code, language string) (*actions.Handle, error)
	QueryLLM(ctx context.Context, q actions.LLMQuery) (*actions.Handle, error)
	RunTests(ctx context.Context) (*actions.Handle, error)
	ExportCode(ctx context.Context) (*actions.Handle, error)
	GenerateDocs(ctx context.Context) (*actions.Handle, error)
	Reconnect(ctx context.Context) error
	State() connection.State
	Pending() []actions.PendingAction
	Transcript() transcript.View
}

// Session is a line-oriented chat surface. Plain lines are chat messages,
// lines starting with / are commands.
type Session struct {
	backend Backend
	out     io.Writer
	copy    func(string) error

	Language string
	Provider string
	Mode     string
	UseAI    bool
}

type SessionOption func(*Session)

// WithClipboard sets the function /copy writes through.
func WithClipboard(fn func(string) error) SessionOption {
	return func(s *Session) { s.copy = fn }
}

func NewSession(backend Backend, out io.Writer, opts ...SessionOption) *Session {
	s := &Session{
		backend:  backend,
		out:      out,
		Language: actions.DefaultLanguage,
		Provider: actions.DefaultProvider,
		Mode:     actions.DefaultMode,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

const helpText = `commands:
  <text>              send a chat message
  /eval <code>        evaluate code in the current language
  /lang <language>    set the eval language
  /llm <prompt>       ask the LLM
  /provider <name>    set the LLM provider
  /mode <mode>        set the LLM mode
  /ai [on|off]        toggle use_ai for /llm
  /test               run the tests
  /export             export the code
  /doc                generate documentation
  /reconnect          reopen the push channel
  /state              show the connection state
  /pending            list outstanding actions
  /copy               copy the latest reply to the clipboard
  /quit               leave`

// Run reads lines from in until EOF, /quit or ctx is done. Lines are read in
// a separate goroutine so cancellation does not wait on the reader.
func (s *Session) Run(ctx context.Context, in io.Reader, prompt func()) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), 1<<20)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		if prompt != nil {
			prompt()
		}
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return errors.Wrap(err, "read input")
		case line := <-lines:
			if err := s.Handle(ctx, line); err != nil {
				if errors.Is(err, ErrQuit) {
					return nil
				}
				return err
			}
		}
	}
}

// Handle executes one input line. Only ErrQuit and ErrDisposed are returned;
// every other problem is reported to the user.
func (s *Session) Handle(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return s.submit(s.backend.SendMessage(ctx, line))
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "quit", "exit":
		return ErrQuit
	case "help":
		s.say(helpText)
	case "eval":
		return s.submit(s.backend.EvalCode(ctx, arg, s.Language))
	case "llm":
		return s.submit(s.backend.QueryLLM(ctx, actions.LLMQuery{
			Prompt:   arg,
			Provider: s.Provider,
			Mode:     s.Mode,
			UseAI:    s.UseAI,
		}))
	case "test":
		return s.submit(s.backend.RunTests(ctx))
	case "export":
		return s.submit(s.backend.ExportCode(ctx))
	case "doc":
		return s.submit(s.backend.GenerateDocs(ctx))
	case "lang":
		s.choose("language", &s.Language, arg, actions.Languages)
	case "provider":
		s.choose("provider", &s.Provider, arg, actions.Providers)
	case "mode":
		s.choose("mode", &s.Mode, arg, actions.Modes)
	case "ai":
		switch arg {
		case "":
			s.UseAI = !s.UseAI
		case "on", "true", "1":
			s.UseAI = true
		case "off", "false", "0":
			s.UseAI = false
		default:
			s.say("usage: /ai [on|off]")
			return nil
		}
		s.say("use_ai: %t", s.UseAI)
	case "reconnect":
		if err := s.backend.Reconnect(ctx); err != nil {
			if errors.Is(err, actions.ErrDisposed) {
				return err
			}
			s.say("reconnect: %v", err)
		}
	case "state":
		s.say("connection: %s", s.backend.State())
	case "pending":
		s.pending()
	case "copy":
		s.copyLatest()
	default:
		s.say("unknown command /%s, try /help", name)
	}
	return nil
}

func (s *Session) submit(h *actions.Handle, err error) error {
	switch {
	case err == nil:
		log.Debug().Str("action_id", h.ID).Str("kind", string(h.Kind)).Msg("action accepted")
		return nil
	case errors.Is(err, actions.ErrEmptyInput):
		s.say("nothing to send")
		return nil
	default:
		return err
	}
}

func (s *Session) choose(what string, target *string, value string, known []string) {
	if value == "" {
		s.say("%s: %s (one of %s)", what, *target, strings.Join(known, ", "))
		return
	}
	if !slices.Contains(known, value) {
		s.say("unknown %s %q, one of %s", what, value, strings.Join(known, ", "))
		return
	}
	*target = value
	s.say("%s: %s", what, value)
}

func (s *Session) pending() {
	p := s.backend.Pending()
	if len(p) == 0 {
		s.say("no pending actions")
		return
	}
	for _, a := range p {
		s.say("%s %s since %s", a.Kind, a.ID, a.SubmittedAt.Format("15:04:05"))
	}
}

// copyLatest copies the newest reply or push entry.
func (s *Session) copyLatest() {
	if s.copy == nil {
		s.say("clipboard not available")
		return
	}
	snap := s.backend.Transcript().Snapshot()
	for i := len(snap) - 1; i >= 0; i-- {
		e := snap[i]
		if e.Origin != transcript.OriginActionResult && e.Origin != transcript.OriginRemotePush {
			continue
		}
		if err := s.copy(e.Text); err != nil {
			s.say("copy failed: %v", err)
			return
		}
		s.say("copied entry %d", e.Seq)
		return
	}
	s.say("nothing to copy")
}

func (s *Session) say(format string, args ...any) {
	_, _ = fmt.Fprintf(s.out, "» "+format+"\n", args...)
}
