package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/genwatch/internal/config"
	"github.com/3leaps/genwatch/internal/observability"
	"github.com/3leaps/genwatch/internal/render"
	"github.com/3leaps/genwatch/pkg/jobapi"
	"github.com/3leaps/genwatch/pkg/lifecycle"
	"github.com/3leaps/genwatch/pkg/output"
	"github.com/3leaps/genwatch/pkg/stream"
)

// errStreamEnded reports a progress stream that closed without a result.
var errStreamEnded = errors.New("progress stream ended without a result")

// newClient builds the listing and submission client from cfg.
func newClient(cfg *config.Config) (*jobapi.Client, error) {
	return jobapi.New(jobapi.Config{
		BaseURL:    cfg.API.BaseURL,
		ListPath:   cfg.API.ListPath,
		SubmitPath: cfg.API.SubmitPath,
		Timeout:    cfg.API.Timeout,
		RateLimit:  cfg.API.RateLimit,
		Burst:      cfg.API.Burst,
		Logger:     observability.CLILogger.Named("jobapi"),
	})
}

// newSubscriber builds the progress stream opener from cfg.
func newSubscriber(cfg *config.Config) (*stream.Subscriber, error) {
	return stream.NewSubscriber(stream.Config{
		BaseURL:      cfg.API.BaseURL,
		StreamPath:   cfg.API.StreamPath,
		Credential:   jobapi.Credential(cfg.API.Key),
		MaxLineBytes: cfg.Stream.MaxLineBytes,
		Logger:       observability.CLILogger.Named("stream"),
	})
}

// newRenderer picks the presentation for cfg, wrapped with the clipboard
// decorator when copying is enabled.
func newRenderer(ctx context.Context, cfg *config.Config, w io.Writer, copyURL bool) lifecycle.Renderer {
	var r lifecycle.Renderer
	if cfg.Output.Format == config.OutputJSONL {
		r = render.NewJSONL(ctx, output.NewJSONLWriter(w, uuid.NewString()), observability.CLILogger)
	} else {
		r = render.NewTerminal(w)
	}
	if copyURL {
		r = render.NewClipboard(r, observability.CLILogger)
	}
	return r
}

// session runs a lifecycle controller and exposes its views.
type session struct {
	ctrl   *lifecycle.Controller
	views  chan lifecycle.View
	cancel context.CancelFunc
	done   chan error
}

func startSession(ctx context.Context, cfg *config.Config, r lifecycle.Renderer) (*session, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, exitError(exitInvalidArgument, "Invalid API configuration", err)
	}
	subscriber, err := newSubscriber(cfg)
	if err != nil {
		return nil, exitError(exitInvalidArgument, "Invalid stream configuration", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &session{
		views:  make(chan lifecycle.View, 64),
		cancel: cancel,
		done:   make(chan error, 1),
	}
	forward := lifecycle.RenderFunc(func(v lifecycle.View) {
		select {
		case s.views <- v:
		case <-runCtx.Done():
		}
	})

	ctrl, err := lifecycle.New(lifecycle.Config{
		Lister:    client,
		Submitter: client,
		Streams:   subscriber,
		Renderer:  lifecycle.Tee(r, forward),
		Logger:    observability.CLILogger.Named("lifecycle"),
	})
	if err != nil {
		cancel()
		return nil, err
	}
	s.ctrl = ctrl

	go func() { s.done <- ctrl.Run(runCtx) }()
	return s, nil
}

// stop ends the controller loop and waits for it.
func (s *session) stop() {
	s.cancel()
	<-s.done
}

// waitFor returns the first view satisfying pred.
func (s *session) waitFor(ctx context.Context, pred func(lifecycle.View) bool) (lifecycle.View, error) {
	for {
		select {
		case <-ctx.Done():
			return lifecycle.View{}, ctx.Err()
		case v := <-s.views:
			if pred(v) {
				return v, nil
			}
		}
	}
}

// awaitVariants waits for the listing started by OnCredentialChanged.
func (s *session) awaitVariants(ctx context.Context) ([]string, error) {
	sawListing := false
	v, err := s.waitFor(ctx, func(v lifecycle.View) bool {
		if v.State.Phase == lifecycle.PhaseError {
			return true
		}
		if v.Listing {
			sawListing = true
			return false
		}
		return sawListing
	})
	if err != nil {
		return nil, err
	}
	if v.State.Phase == lifecycle.PhaseError {
		return nil, errors.New(v.State.Message)
	}
	return v.Variants, nil
}

// awaitOutcome waits until the job of cycle reaches a terminal state or its
// stream ends without one, and converts the outcome to a command error.
func (s *session) awaitOutcome(ctx context.Context, cycle uint64) (lifecycle.View, error) {
	var lastPhase lifecycle.Phase
	v, err := s.waitFor(ctx, func(v lifecycle.View) bool {
		if v.Cycle < cycle {
			return false
		}
		if v.State.Terminal() {
			return true
		}
		lastPhase = v.State.Phase
		return v.State.Phase == lifecycle.PhaseStreaming && !v.Busy
	})
	if err != nil {
		return v, exitError(exitSignalInt, "Interrupted", err)
	}

	switch v.State.Phase {
	case lifecycle.PhaseComplete:
		observability.CLILogger.Debug("Job finished", zap.String("url", v.State.ResultURL))
		return v, nil
	case lifecycle.PhaseError:
		msg := v.State.Message
		switch {
		case lastPhase == lifecycle.PhaseStreaming && msg == jobapi.MsgConnLost:
			return v, exitError(exitServiceDown, "Progress stream lost", errors.New(msg))
		case lastPhase == lifecycle.PhaseStreaming:
			return v, exitError(exitJobFailed, "Job failed", errors.New(msg))
		case lastPhase == lifecycle.PhaseSubmitting:
			return v, exitError(exitServiceDown, "Job submission failed", errors.New(msg))
		default:
			return v, exitError(exitInvalidArgument, "Job rejected", errors.New(msg))
		}
	default:
		return v, exitError(exitServiceDown, fmt.Sprintf("Job %s", v.JobID), errStreamEnded)
	}
}
