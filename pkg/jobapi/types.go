// Package jobapi is the client side of the remote generation service.
//
// It covers the two request/response calls of a job's lifecycle: listing
// the selectable variants (models) and submitting a job. Progress for a
// submitted job is consumed separately through package stream, keyed by the
// JobHandle returned from Submit.
package jobapi

import "strings"

// DefaultSize is the size spec used when the caller does not provide one.
const DefaultSize = "720x1280"

// Credential is an opaque bearer token supplied by the user.
//
// The client never interprets its contents; it is only attached to requests
// as "Authorization: Bearer <credential>".
type Credential string

// Empty reports whether the credential is blank after trimming whitespace.
func (c Credential) Empty() bool {
	return strings.TrimSpace(string(c)) == ""
}

// Validate returns a validation error when the credential is empty.
func (c Credential) Validate(op string) error {
	if c.Empty() {
		return newValidationError(op, "an API key is required")
	}
	return nil
}

// JobRequest describes one generation job.
type JobRequest struct {
	// VariantID selects the model to run the job with.
	VariantID string `json:"model" yaml:"model"`

	// Prompt is the free-text generation prompt.
	Prompt string `json:"prompt" yaml:"prompt"`

	// SizeSpec is the output size, e.g. "720x1280".
	SizeSpec string `json:"size" yaml:"size"`
}

// Validate checks that every field is non-empty.
func (r JobRequest) Validate() error {
	var missing []string
	if strings.TrimSpace(r.VariantID) == "" {
		missing = append(missing, "model")
	}
	if strings.TrimSpace(r.Prompt) == "" {
		missing = append(missing, "prompt")
	}
	if strings.TrimSpace(r.SizeSpec) == "" {
		missing = append(missing, "size")
	}
	if len(missing) > 0 {
		return newValidationError(OpSubmit, "missing required fields: "+strings.Join(missing, ", "))
	}
	return nil
}

// JobHandle identifies a submitted job. It is only used as the stream key.
type JobHandle struct {
	JobID string
}

// Variant is a selectable job configuration exposed by the service.
type Variant struct {
	ID      string `json:"id"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// VariantIDs returns the identifiers of variants in server order.
func VariantIDs(variants []Variant) []string {
	ids := make([]string, 0, len(variants))
	for _, v := range variants {
		ids = append(ids, v.ID)
	}
	return ids
}
