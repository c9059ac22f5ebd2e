package ui

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/go-go-golems/voxchat/pkg/transcript"
)

// SyncWriter serializes writes from the printer and the REPL.
type SyncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewSyncWriter(w io.Writer) *SyncWriter {
	return &SyncWriter{w: w}
}

func (s *SyncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// Printer writes transcript entries in sequence order. Feed messages only
// wake it up; what gets printed always comes from the transcript view, so
// out-of-order or dropped feed deliveries never reorder the output.
type Printer struct {
	view   transcript.View
	out    io.Writer
	render func(transcript.Entry) string

	mu   sync.Mutex
	last uint64
}

func NewPrinter(view transcript.View, out io.Writer, render func(transcript.Entry) string) *Printer {
	return &Printer{view: view, out: out, render: render}
}

// Flush prints every entry newer than the last one printed and returns how
// many it printed.
func (p *Printer) Flush() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	entries := p.view.Since(p.last)
	for _, e := range entries {
		_, _ = fmt.Fprintln(p.out, p.render(e))
		p.last = e.Seq
	}
	return len(entries)
}

// Run acks every feed message and flushes, until ctx is done or msgs closes.
func (p *Printer) Run(ctx context.Context, msgs <-chan *message.Message) error {
	for {
		select {
		case <-ctx.Done():
			p.Flush()
			return nil
		case msg, ok := <-msgs:
			if !ok {
				p.Flush()
				return nil
			}
			msg.Ack()
			p.Flush()
		}
	}
}
