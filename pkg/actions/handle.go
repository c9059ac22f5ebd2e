package actions

import (
	"context"

	"github.com/go-go-golems/voxchat/pkg/transcript"
)

// Handle tracks one accepted action. Receiving a Handle means the request was
// initiated; UIs clear their input at that point.
type Handle struct {
	ID   string
	Kind transcript.Kind
	// EchoSeq is the sequence number of the local echo, 0 when the action
	// has none.
	EchoSeq uint64

	done      chan struct{}
	resultSeq uint64
}

func newHandle(id string, kind transcript.Kind) *Handle {
	return &Handle{ID: id, Kind: kind, done: make(chan struct{})}
}

// Done is closed once the terminal entry has been appended.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the terminal entry is appended and returns its sequence
// number. Cancelling ctx stops the wait, not the action.
func (h *Handle) Wait(ctx context.Context) (uint64, error) {
	select {
	case <-h.done:
		return h.resultSeq, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (h *Handle) resolve(seq uint64) {
	h.resultSeq = seq
	close(h.done)
}
