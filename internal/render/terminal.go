// Package render presents lifecycle views to a terminal, as JSONL records,
// or to the system clipboard.
package render

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"

	"github.com/3leaps/genwatch/pkg/lifecycle"
)

// DefaultRemark is shown while streaming when the server sent no remark.
const DefaultRemark = "processing..."

const defaultBarWidth = 30

// Terminal renders each distinct view as one human-readable line.
type Terminal struct {
	w io.Writer

	mu           sync.Mutex
	bar          progress.Model
	frames       []string
	frame        int
	lastKey      string
	lastVariants string

	ok   lipgloss.Style
	bad  lipgloss.Style
	dim  lipgloss.Style
	bold lipgloss.Style
}

// TerminalOption configures a Terminal.
type TerminalOption func(*Terminal)

// WithBarWidth sets the progress bar width in cells.
func WithBarWidth(width int) TerminalOption {
	return func(t *Terminal) {
		if width > 0 {
			t.bar.Width = width
		}
	}
}

// NewTerminal returns a Terminal writing to w. Colors are only emitted when
// w is a terminal that supports them.
func NewTerminal(w io.Writer, opts ...TerminalOption) *Terminal {
	r := lipgloss.NewRenderer(w)
	t := &Terminal{
		w: w,
		bar: progress.New(
			progress.WithDefaultGradient(),
			progress.WithWidth(defaultBarWidth),
			progress.WithoutPercentage(),
		),
		frames: spinner.Dot.Frames,
		ok:     r.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		bad:    r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		dim:    r.NewStyle().Faint(true),
		bold:   r.NewStyle().Bold(true),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Render implements lifecycle.Renderer.
func (t *Terminal) Render(v lifecycle.View) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if vs := strings.Join(v.Variants, ", "); vs != t.lastVariants {
		t.lastVariants = vs
		if vs != "" {
			t.println(t.dim.Render("models: ") + vs)
		}
	}

	key := viewKey(v)
	if key == t.lastKey {
		return
	}
	t.lastKey = key

	if line := t.line(v); line != "" {
		t.println(line)
	}
}

func (t *Terminal) line(v lifecycle.View) string {
	st := v.State
	switch st.Phase {
	case lifecycle.PhaseIdle:
		if v.Listing {
			return t.dim.Render("loading models...")
		}
		return ""
	case lifecycle.PhaseSubmitting:
		return t.dim.Render("submitting job...")
	case lifecycle.PhaseStreaming:
		remark := st.Remark
		if remark == "" {
			remark = DefaultRemark
		}
		frame := t.frames[t.frame%len(t.frames)]
		t.frame++
		line := fmt.Sprintf("%s %s %3d%% %s", frame, t.bar.ViewAs(float64(st.Percent)/100), st.Percent, remark)
		if v.JobID != "" {
			line += " " + t.dim.Render("["+v.JobID+"]")
		}
		if !v.Busy {
			line += " " + t.dim.Render("(stream closed)")
		}
		return line
	case lifecycle.PhaseComplete:
		return t.ok.Render("done: ") + t.bold.Render(st.ResultURL)
	case lifecycle.PhaseError:
		return t.bad.Render("error: ") + st.Message
	default:
		return st.String()
	}
}

func (t *Terminal) println(s string) {
	_, _ = io.WriteString(t.w, s+"\n")
}

// viewKey identifies the visible parts of a view so repeated renders of the
// same view print nothing.
func viewKey(v lifecycle.View) string {
	return fmt.Sprintf("%d|%s|%t|%t|%s|%t", v.Cycle, v.State.String(), v.Listing, v.SubmitEnabled, v.JobID, v.Busy)
}

var _ lifecycle.Renderer = (*Terminal)(nil)
