package render

import (
	"errors"
	"sync"

	"github.com/atotto/clipboard"
	"go.uber.org/zap"

	"github.com/3leaps/genwatch/pkg/lifecycle"
)

// ErrClipboardUnsupported is returned by the default copier on systems
// without a clipboard utility.
var ErrClipboardUnsupported = errors.New("clipboard is not supported on this system")

// Clipboard forwards views to next and copies the result URL to the system
// clipboard once per cycle when a job completes.
type Clipboard struct {
	next   lifecycle.Renderer
	copy   func(string) error
	logger *zap.Logger

	mu     sync.Mutex
	copied map[uint64]bool
}

// ClipboardOption configures a Clipboard.
type ClipboardOption func(*Clipboard)

// WithCopier replaces the system clipboard writer.
func WithCopier(fn func(string) error) ClipboardOption {
	return func(c *Clipboard) { c.copy = fn }
}

// NewClipboard wraps next. next may be nil.
func NewClipboard(next lifecycle.Renderer, logger *zap.Logger, opts ...ClipboardOption) *Clipboard {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Clipboard{
		next:   next,
		copy:   systemCopy,
		logger: logger,
		copied: make(map[uint64]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Render implements lifecycle.Renderer.
func (c *Clipboard) Render(v lifecycle.View) {
	if c.next != nil {
		c.next.Render(v)
	}
	if v.State.Phase != lifecycle.PhaseComplete || v.State.ResultURL == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.copied[v.Cycle] {
		return
	}
	c.copied[v.Cycle] = true

	if err := c.copy(v.State.ResultURL); err != nil {
		c.logger.Warn("Failed to copy result URL to clipboard", zap.Error(err))
		return
	}
	c.logger.Info("Result URL copied to clipboard", zap.String("url", v.State.ResultURL))
}

func systemCopy(s string) error {
	if clipboard.Unsupported {
		return ErrClipboardUnsupported
	}
	return clipboard.WriteAll(s)
}

var _ lifecycle.Renderer = (*Clipboard)(nil)
