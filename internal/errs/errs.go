// Package errs defines the error-kind taxonomy shared across rig node and
// fleet hub packages. The packet hot path never returns these to a caller
// that would abort processing — they are logged and converted into a
// downgraded result. Background tasks use them to decide retry vs. halt.
package errs

import "fmt"

// Kind tags an error with the recovery policy that applies to it.
type Kind string

const (
	KindIngestionTransient    Kind = "ingestion_transient"
	KindIngestionQualityReject Kind = "ingestion_quality_reject"
	KindConfigInvalid         Kind = "config_invalid"
	KindPhysicsNumeric        Kind = "physics_numeric"
	KindRecurrentNumeric      Kind = "recurrent_numeric"
	KindPersistenceTransient  Kind = "persistence_transient"
	KindPersistenceCorrupt    Kind = "persistence_corrupt"
	KindReasonerFailure       Kind = "reasoner_failure"
	KindUploadTransport       Kind = "upload_transport"
	KindUploadRejectDuplicate Kind = "upload_reject_duplicate"
	KindUploadRejectAuth      Kind = "upload_reject_auth"
	KindHubIntegrity          Kind = "hub_integrity"
)

// Error is a taxonomy-tagged error. Kind selects the recovery policy;
// Err is the underlying cause, if any.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a tagged error without a wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap tags an existing error with a recovery kind.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Recoverable reports whether the taxonomy says this kind is recovered
// locally (per the propagation policy: only UploadRejectAuth escalates).
func Recoverable(kind Kind) bool {
	return kind != KindUploadRejectAuth
}
