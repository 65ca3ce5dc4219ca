package domain

import (
	"errors"
	"fmt"
)

// UpstreamError wraps a failed call to an external service (search, LLM, TTS, storage).
// It is always treated as transient by the pipeline.
type UpstreamError struct {
	Service    string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: upstream http %d: %v", e.Service, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: upstream: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Transient reports whether a later retry can reasonably succeed.
// Network errors, 429 and 5xx are transient; other 4xx usually mean bad config.
func (e *UpstreamError) Transient() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

// IntegrityError means an artifact a stage depends on is missing or unusable.
// Retrying cannot repair it.
type IntegrityError struct {
	JobID  string
	Kind   string
	Reason string // empty means missing
}

func (e *IntegrityError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("job %s: %s artifact %s", e.JobID, e.Kind, e.Reason)
	}
	return fmt.Sprintf("job %s: %s artifact missing", e.JobID, e.Kind)
}

func (e *IntegrityError) Unwrap() error { return ErrArtifactMissing }

// ValidationError means model output did not have the expected shape.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid model output: " + e.Reason }

func NewUpstreamError(service string, status int, err error) error {
	if err == nil {
		err = errors.New("unexpected response")
	}
	return &UpstreamError{Service: service, StatusCode: status, Err: err}
}

func IsIntegrity(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
