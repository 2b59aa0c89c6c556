package lifecycle

// View is the snapshot handed to a Renderer after every change.
type View struct {
	State State

	// SubmitEnabled mirrors whether the UI should accept a new submission.
	SubmitEnabled bool

	// Listing is true while a variant refresh is in flight.
	Listing bool

	// Variants is the most recently listed variant ids, in server order.
	Variants []string

	// Cycle counts submissions (and watches) issued so far.
	Cycle uint64

	// JobID is the handle of the job being streamed, if any.
	JobID string

	// Busy is true while a job is in flight: submitting, or streaming with
	// the subscription still open.
	Busy bool
}

// Renderer presents views. Render must be idempotent: rendering the same view
// twice has no additional visible effect. It is called from the controller's
// loop goroutine and must not call back into the controller synchronously.
type Renderer interface {
	Render(View)
}

// RenderFunc adapts a function to Renderer.
type RenderFunc func(View)

func (f RenderFunc) Render(v View) { f(v) }

// Tee renders to each renderer in order.
func Tee(renderers ...Renderer) Renderer {
	return RenderFunc(func(v View) {
		for _, r := range renderers {
			if r != nil {
				r.Render(v)
			}
		}
	})
}
