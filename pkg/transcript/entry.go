package transcript

import (
	"encoding/json"
	"time"
)

// Origin identifies which source produced an entry.
type Origin string

const (
	OriginLocalEcho    Origin = "local-echo"
	OriginRemotePush   Origin = "remote-push"
	OriginActionResult Origin = "action-result"
	OriginError        Origin = "error"
)

// Kind tags the action an entry belongs to. Push-channel entries carry no kind.
type Kind string

const (
	KindMessage Kind = "message"
	KindEval    Kind = "eval"
	KindLLM     Kind = "llm"
	KindTest    Kind = "test"
	KindExport  Kind = "export"
	KindDoc     Kind = "doc"
)

// Kinds lists every action kind in display order.
var Kinds = []Kind{KindMessage, KindEval, KindLLM, KindTest, KindExport, KindDoc}

// Failure classifies an unsuccessful outcome.
type Failure string

const (
	FailureNone        Failure = ""
	FailureTransport   Failure = "transport"
	FailureProtocol    Failure = "protocol"
	FailureApplication Failure = "application"
	FailureTimeout     Failure = "timeout"
)

// Display authors.
const (
	SenderYou    = "you"
	SenderVox    = "vox"
	SenderSystem = "system"
)

// Entry is one immutable transcript line. Seq and Timestamp are assigned by
// Store.Append; values set by the producer for Seq are ignored.
type Entry struct {
	Seq       uint64          `json:"seq"`
	Origin    Origin          `json:"origin"`
	Kind      Kind            `json:"kind,omitempty"`
	Sender    string          `json:"sender"`
	Text      string          `json:"text"`
	Raw       json.RawMessage `json:"raw,omitempty"`
	ActionID  string          `json:"action_id,omitempty"`
	Failure   Failure         `json:"failure,omitempty"`
	Detail    string          `json:"detail,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// IsFailure reports whether the entry describes a failed outcome.
func (e Entry) IsFailure() bool {
	return e.Origin == OriginError || e.Failure != FailureNone
}

func (e Entry) clone() Entry {
	if e.Raw != nil {
		e.Raw = append(json.RawMessage(nil), e.Raw...)
	}
	return e
}

// Appender is the only write surface handed to producers.
type Appender interface {
	Append(e Entry) uint64
}

// AppenderFunc adapts a function to Appender.
type AppenderFunc func(e Entry) uint64

func (f AppenderFunc) Append(e Entry) uint64 { return f(e) }
