package orchestrator

import "fmt"

// Kind is one of the error kinds spec.md §7 requires the core to surface.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindTimeout            Kind = "timeout"
	KindWorkerFailure      Kind = "worker_failure"
	KindPersistenceFailure Kind = "persistence_failure"
	KindInvalidRole        Kind = "invalid_role"
	KindAlreadySubscribed  Kind = "already_subscribed"
)

// CoreError is the single error type the orchestrator raises; the HTTP
// layer maps Kind to a response status in internal/httpapi/respond.go.
type CoreError struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *CoreError) Unwrap() error { return e.Err }

func newNotFound(msg string) *CoreError {
	return &CoreError{Kind: KindNotFound, Msg: msg}
}

func newAlreadySubscribed(streamID string) *CoreError {
	return &CoreError{Kind: KindAlreadySubscribed, Msg: "stream " + streamID + " already has a subscriber"}
}
