// Package actions issues the six request/response calls of the client
// (message, eval, llm, test, export, doc). Every accepted call resolves into
// exactly one terminal transcript entry, whatever the backend does.
package actions

import (
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/voxchat/pkg/transcript"
)

var (
	ErrDisposed   = errors.New("client disposed")
	ErrEmptyInput = errors.New("input is empty")
)

// NoReply is shown when a response carries neither a reply nor an error.
const NoReply = "No reply"

// RequestIDHeader carries the correlation token of each request.
const RequestIDHeader = "X-Request-Id"

const (
	DefaultLanguage = "python"
	DefaultProvider = "groq"
	DefaultMode     = "respond"
)

// Choices offered to users. They are hints for UIs; the dispatcher
// forwards whatever it is given.
var (
	Languages = []string{"python", "javascript"}
	Providers = []string{"groq", "claude", "openai", "openrouter", "gemini"}
	Modes     = []string{"respond", "learn", "disagree", "critic"}
)

type LLMQuery struct {
	Prompt   string
	Provider string
	Mode     string
	UseAI    bool
}

// PendingAction exists from the moment a request is issued until its
// terminal entry is appended.
type PendingAction struct {
	ID          string          `json:"id"`
	Kind        transcript.Kind `json:"kind"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

type route struct {
	kind        transcript.Kind
	path        string
	sender      string
	prefix      string
	failureText string
}

var routes = map[transcript.Kind]route{
	transcript.KindMessage: {
		kind:        transcript.KindMessage,
		path:        "/api/message",
		sender:      transcript.SenderVox,
		failureText: "Error sending message",
	},
	transcript.KindEval: {
		kind:        transcript.KindEval,
		path:        "/api/eval",
		sender:      transcript.SenderSystem,
		prefix:      "Eval result: ",
		failureText: "Error evaluating code",
	},
	transcript.KindLLM: {
		kind:        transcript.KindLLM,
		path:        "/api/llm",
		sender:      transcript.SenderSystem,
		prefix:      "LLM reply: ",
		failureText: "Error calling LLM",
	},
	transcript.KindTest: {
		kind:        transcript.KindTest,
		path:        "/api/test",
		sender:      transcript.SenderSystem,
		prefix:      "Test report: ",
		failureText: "Error running tests",
	},
	transcript.KindExport: {
		kind:        transcript.KindExport,
		path:        "/api/export_code",
		sender:      transcript.SenderSystem,
		failureText: "Error exporting code",
	},
	transcript.KindDoc: {
		kind:        transcript.KindDoc,
		path:        "/api/doc",
		sender:      transcript.SenderSystem,
		prefix:      "Documentation:\n",
		failureText: "Error generating docs",
	},
}

func (r route) result(actionID, text string, failure transcript.Failure) transcript.Entry {
	return transcript.Entry{
		Origin:   transcript.OriginActionResult,
		Kind:     r.kind,
		Sender:   r.sender,
		Text:     r.prefix + text,
		ActionID: actionID,
		Failure:  failure,
	}
}

func (r route) failure(actionID string, failure transcript.Failure, err error) transcript.Entry {
	e := transcript.Entry{
		Origin:   transcript.OriginError,
		Kind:     r.kind,
		Sender:   transcript.SenderSystem,
		Text:     r.failureText,
		ActionID: actionID,
		Failure:  failure,
	}
	if err != nil {
		e.Detail = err.Error()
	}
	return e
}

type messageBody struct {
	Text string `json:"text"`
}

type evalBody struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

type llmBody struct {
	Prompt   string `json:"prompt"`
	Provider string `json:"provider"`
	Mode     string `json:"mode"`
	UseAI    bool   `json:"use_ai"`
}

type emptyBody struct{}
