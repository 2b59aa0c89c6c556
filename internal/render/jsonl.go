package render

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/3leaps/genwatch/pkg/lifecycle"
	"github.com/3leaps/genwatch/pkg/output"
)

// JSONL emits a state record per distinct view and a variants record
// whenever the variant list changes.
type JSONL struct {
	ctx    context.Context
	w      output.Writer
	logger *zap.Logger

	mu           sync.Mutex
	last         *output.StateRecord
	lastVariants string
}

// NewJSONL returns a JSONL renderer. Write failures are logged, never
// returned, since rendering cannot fail the lifecycle.
func NewJSONL(ctx context.Context, w output.Writer, logger *zap.Logger) *JSONL {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JSONL{ctx: ctx, w: w, logger: logger}
}

// Render implements lifecycle.Renderer.
func (j *JSONL) Render(v lifecycle.View) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if vs := strings.Join(v.Variants, "\x00"); vs != j.lastVariants {
		j.lastVariants = vs
		if len(v.Variants) > 0 {
			if err := j.w.WriteVariants(j.ctx, &output.VariantsRecord{Variants: v.Variants}); err != nil {
				j.logger.Warn("Failed to write variants record", zap.Error(err))
			}
		}
	}

	rec := stateRecord(v)
	if j.last != nil && sameState(*j.last, rec) {
		return
	}
	j.last = &rec
	if err := j.w.WriteState(j.ctx, &rec); err != nil {
		j.logger.Warn("Failed to write state record", zap.Error(err))
	}
}

// stateRecord converts a view into its JSONL payload.
func stateRecord(v lifecycle.View) output.StateRecord {
	rec := output.StateRecord{
		State:         v.State.Phase.String(),
		Cycle:         v.Cycle,
		TaskID:        v.JobID,
		SubmitEnabled: v.SubmitEnabled,
	}
	switch v.State.Phase {
	case lifecycle.PhaseStreaming:
		p := v.State.Percent
		rec.Percent = &p
		rec.Remark = v.State.Remark
	case lifecycle.PhaseComplete:
		rec.URL = v.State.ResultURL
	case lifecycle.PhaseError:
		rec.Message = v.State.Message
	}
	return rec
}

func sameState(a, b output.StateRecord) bool {
	if (a.Percent == nil) != (b.Percent == nil) {
		return false
	}
	if a.Percent != nil && *a.Percent != *b.Percent {
		return false
	}
	a.Percent, b.Percent = nil, nil
	return a == b
}

var _ lifecycle.Renderer = (*JSONL)(nil)
