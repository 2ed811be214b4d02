package invites

import "errors"

// FailureKind classifies a terminal pipeline failure. The server layer maps
// each kind to a boundary response status.
type FailureKind int

const (
	FailureBadRequest FailureKind = iota
	FailureForbidden
	FailureNotFound
	FailureMethodNotAllowed
	FailureLengthRequired
	FailurePayloadTooLarge
)

// Failure wraps a step error with its terminal classification.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return "invites: pipeline failure"
	}
	return f.Err.Error()
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// KindOf extracts the failure classification from a pipeline error.
func KindOf(err error) (FailureKind, bool) {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure.Kind, true
	}
	return 0, false
}

func fail(kind FailureKind, err error) error {
	return &Failure{Kind: kind, Err: err}
}
