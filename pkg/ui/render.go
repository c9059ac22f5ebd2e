package ui

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/go-go-golems/voxchat/pkg/transcript"
)

const (
	defaultWidth = 80
	minWidth     = 40
)

// TerminalWidth returns the width of stdout, or 80 when it is not a terminal.
func TerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return defaultWidth
	}
	if width < minWidth {
		return minWidth
	}
	return width
}

var (
	youStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5FAFFF"))
	voxStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#87D787"))
	systemStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#AFAFAF"))
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5F5F"))
	detailStyle = lipgloss.NewStyle().Faint(true)
)

// Renderer turns transcript entries into terminal lines.
type Renderer struct {
	plain    bool
	markdown *glamour.TermRenderer
}

// NewRenderer styles output unless plain is set. Documentation results are
// rendered as markdown wrapped at width.
func NewRenderer(width int, plain bool) *Renderer {
	r := &Renderer{plain: plain}
	if plain {
		return r
	}
	if width <= 0 {
		width = defaultWidth
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err == nil {
		r.markdown = md
	}
	return r
}

func (r *Renderer) Render(e transcript.Entry) string {
	label := r.label(e)
	text := e.Text
	if e.Kind == transcript.KindDoc && e.Origin == transcript.OriginActionResult && e.Failure == transcript.FailureNone {
		text = r.renderDoc(text)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", label, text)
	if e.Detail != "" {
		b.WriteString(" ")
		b.WriteString(r.style(detailStyle, "("+e.Detail+")"))
	}
	return b.String()
}

func (r *Renderer) label(e transcript.Entry) string {
	name := e.Sender
	if name == "" {
		name = transcript.SenderSystem
	}
	label := name + ":"
	switch {
	case e.Origin == transcript.OriginError || e.Failure == transcript.FailureApplication:
		return r.style(errorStyle, label)
	case name == transcript.SenderYou:
		return r.style(youStyle, label)
	case name == transcript.SenderVox:
		return r.style(voxStyle, label)
	default:
		return r.style(systemStyle, label)
	}
}

// renderDoc keeps the first line as a heading and renders the rest as markdown.
func (r *Renderer) renderDoc(text string) string {
	if r.markdown == nil {
		return text
	}
	head, body, ok := strings.Cut(text, "\n")
	if !ok || strings.TrimSpace(body) == "" {
		return text
	}
	out, err := r.markdown.Render(body)
	if err != nil {
		return text
	}
	return head + "\n" + strings.TrimRight(out, "\n")
}

func (r *Renderer) style(s lipgloss.Style, text string) string {
	if r.plain {
		return text
	}
	return s.Render(text)
}
