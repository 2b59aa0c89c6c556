package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/3leaps/genwatch/pkg/jobapi"
	"github.com/3leaps/genwatch/pkg/stream"
)

// VariantLister fetches the selectable variants for a credential.
type VariantLister interface {
	ListVariants(ctx context.Context, cred jobapi.Credential) ([]jobapi.Variant, error)
}

// JobSubmitter submits a job and returns its handle.
type JobSubmitter interface {
	Submit(ctx context.Context, cred jobapi.Credential, req jobapi.JobRequest) (jobapi.JobHandle, error)
}

// StreamOpener opens the progress stream of a job.
type StreamOpener interface {
	Subscribe(ctx context.Context, handle jobapi.JobHandle) stream.Events
}

// ListFailedPrefix prefixes the Error message shown when listing fails.
const ListFailedPrefix = "failed to load models: "

const inboxSize = 64

// Config wires a Controller to its collaborators.
type Config struct {
	Lister    VariantLister
	Submitter JobSubmitter
	Streams   StreamOpener
	Renderer  Renderer
	Logger    *zap.Logger
}

// Controller owns the lifecycle state of one job at a time.
//
// All state lives on the goroutine running Run. Commands and I/O completions
// are posted to it as messages and applied in arrival order, so no field
// below the inbox is ever touched concurrently.
type Controller struct {
	lister    VariantLister
	submitter JobSubmitter
	streams   StreamOpener
	renderer  Renderer
	logger    *zap.Logger

	inbox   chan func()
	stopped chan struct{}
	started atomic.Bool

	// Loop-owned.
	ctx           context.Context
	state         State
	submitEnabled bool
	listing       bool
	variants      []string
	credential    jobapi.Credential
	cycle         uint64
	listSeq       uint64
	sub           stream.Events
	subCycle      uint64
	jobID         string
}

// New constructs a Controller in the Idle state.
func New(cfg Config) (*Controller, error) {
	if cfg.Lister == nil || cfg.Submitter == nil || cfg.Streams == nil {
		return nil, errors.New("lifecycle: lister, submitter and streams are required")
	}
	renderer := cfg.Renderer
	if renderer == nil {
		renderer = RenderFunc(func(View) {})
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		lister:        cfg.Lister,
		submitter:     cfg.Submitter,
		streams:       cfg.Streams,
		renderer:      renderer,
		logger:        logger,
		inbox:         make(chan func(), inboxSize),
		stopped:       make(chan struct{}),
		state:         Idle(),
		submitEnabled: true,
	}, nil
}

// Run processes commands and I/O completions until ctx is cancelled.
// It renders the initial state first and closes any open subscription on
// exit. Run may only be called once.
func (c *Controller) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("lifecycle: controller already running")
	}
	defer close(c.stopped)

	c.ctx = ctx
	c.render()

	for {
		select {
		case <-ctx.Done():
			c.closeSubscription()
			return ctx.Err()
		case fn := <-c.inbox:
			fn()
		}
	}
}

// OnSubmit handles the user's submit command.
func (c *Controller) OnSubmit(req jobapi.JobRequest) {
	c.post(func() { c.submit(req) })
}

// OnCredentialChanged stores cred and refreshes the variant list.
func (c *Controller) OnCredentialChanged(cred jobapi.Credential) {
	c.post(func() { c.refreshVariants(cred) })
}

// Watch attaches to the progress stream of an already submitted job.
func (c *Controller) Watch(handle jobapi.JobHandle) {
	c.post(func() { c.watch(handle) })
}

func (c *Controller) post(fn func()) bool {
	select {
	case c.inbox <- fn:
		return true
	case <-c.stopped:
		return false
	}
}

func (c *Controller) busy() bool {
	return c.state.Phase == PhaseSubmitting || (c.state.Phase == PhaseStreaming && c.sub != nil)
}

func (c *Controller) submit(req jobapi.JobRequest) {
	err := c.credential.Validate(jobapi.OpSubmit)
	if err == nil {
		err = req.Validate()
	}

	if c.busy() {
		if err != nil {
			c.logger.Warn("Ignoring invalid submission while a job is in flight", zap.Error(err))
			return
		}
		c.logger.Warn("Submission while a job is in flight, replacing it", zap.String("task_id", c.jobID))
	}

	c.cycle++
	cycle := c.cycle
	c.closeSubscription()
	c.jobID = ""

	if err != nil {
		c.state = Failed(jobapi.UserMessage(err))
		c.render()
		return
	}

	c.state = Submitting()
	c.submitEnabled = false
	c.render()

	ctx, cred := c.ctx, c.credential
	go func() {
		handle, err := c.submitter.Submit(ctx, cred, req)
		c.post(func() { c.onSubmitted(cycle, handle, err) })
	}()
}

func (c *Controller) onSubmitted(cycle uint64, handle jobapi.JobHandle, err error) {
	if cycle != c.cycle {
		c.logger.Debug("Dropping superseded submission result", zap.Uint64("cycle", cycle))
		return
	}
	if err != nil {
		c.logger.Info("Job submission failed", zap.Error(err))
		c.state = Failed(jobapi.UserMessage(err))
		c.submitEnabled = true
		c.render()
		return
	}
	c.logger.Info("Job submitted", zap.String("task_id", handle.JobID))
	c.startStream(cycle, handle, RemarkSubmitted)
}

func (c *Controller) watch(handle jobapi.JobHandle) {
	if c.busy() {
		c.logger.Warn("Watch while a job is in flight, replacing it", zap.String("task_id", c.jobID))
	}
	c.cycle++
	c.closeSubscription()
	c.jobID = ""

	if handle.JobID == "" {
		c.state = Failed("a task id is required")
		c.submitEnabled = true
		c.render()
		return
	}
	c.startStream(c.cycle, handle, RemarkAttached)
}

func (c *Controller) startStream(cycle uint64, handle jobapi.JobHandle, remark string) {
	c.closeSubscription()

	events := c.streams.Subscribe(c.ctx, handle)
	c.sub = events
	c.subCycle = cycle
	c.jobID = handle.JobID
	c.state = Streaming(0, remark)
	c.submitEnabled = false
	c.render()

	go c.pump(cycle, events)
}

// pump forwards events in transport order until the sequence ends.
func (c *Controller) pump(cycle uint64, events stream.Events) {
	for {
		ev, err := events.Next()
		if err != nil {
			return
		}
		if !c.post(func() { c.onEvent(cycle, ev) }) {
			return
		}
	}
}

func (c *Controller) onEvent(cycle uint64, ev stream.Event) {
	if c.sub == nil || cycle != c.subCycle {
		return
	}

	switch ev.Kind {
	case stream.EventProcessing:
		c.state = Streaming(ev.Percent, ev.Remark)
		c.render()

	case stream.EventCompleted:
		c.logger.Info("Job completed", zap.String("task_id", c.jobID), zap.String("url", ev.ResultURL))
		c.state = Complete(ev.ResultURL)
		c.finishStream()

	case stream.EventFailed:
		if ev.Connectivity() {
			c.logger.Warn("Progress stream lost", zap.String("task_id", c.jobID), zap.Error(ev.Err))
		} else {
			c.logger.Info("Job failed", zap.String("task_id", c.jobID), zap.Error(ev.Reason))
		}
		c.state = Failed(ev.Message)
		c.finishStream()

	case stream.EventStreamEnd:
		// No terminal event arrived before the sentinel: delivery is over but
		// the outcome is unknown, so the state is left as is.
		c.logger.Warn("Progress stream ended without a result", zap.String("task_id", c.jobID))
		c.closeSubscription()
		c.submitEnabled = true
		c.render()

	default:
		c.logger.Warn("Ignoring unknown stream event", zap.String("kind", ev.Kind.String()))
	}
}

func (c *Controller) finishStream() {
	c.closeSubscription()
	c.jobID = ""
	c.submitEnabled = true
	c.render()
}

func (c *Controller) closeSubscription() {
	if c.sub == nil {
		return
	}
	if err := c.sub.Close(); err != nil {
		c.logger.Debug("Closing progress stream", zap.Error(err))
	}
	c.sub = nil
}

func (c *Controller) refreshVariants(cred jobapi.Credential) {
	c.credential = cred
	c.listSeq++
	seq := c.listSeq

	if err := cred.Validate(jobapi.OpList); err != nil {
		c.listing = false
		c.variants = nil
		c.listFailed(err)
		return
	}

	c.listing = true
	c.submitEnabled = false
	c.render()

	ctx := c.ctx
	go func() {
		variants, err := c.lister.ListVariants(ctx, cred)
		c.post(func() { c.onListed(seq, variants, err) })
	}()
}

func (c *Controller) onListed(seq uint64, variants []jobapi.Variant, err error) {
	if seq != c.listSeq {
		return
	}
	c.listing = false
	if err != nil {
		c.variants = nil
		c.listFailed(err)
		return
	}
	c.variants = jobapi.VariantIDs(variants)
	if !c.busy() {
		c.submitEnabled = true
	}
	c.render()
}

func (c *Controller) listFailed(err error) {
	c.logger.Info("Variant listing failed", zap.Error(err))
	if c.busy() {
		c.render()
		return
	}
	c.state = Failed(ListFailedPrefix + jobapi.UserMessage(err))
	c.submitEnabled = false
	c.render()
}

func (c *Controller) render() {
	variants := make([]string, len(c.variants))
	copy(variants, c.variants)
	c.renderer.Render(View{
		State:         c.state,
		SubmitEnabled: c.submitEnabled,
		Listing:       c.listing,
		Variants:      variants,
		Cycle:         c.cycle,
		JobID:         c.jobID,
		Busy:          c.busy(),
	})
}
