// Package errkind classifies the errors this router produces by the kind of
// behaviour they should trigger in a caller, not by Go type. See section 7
// of the design: classification governs retry/log/surface behaviour.
package errkind

import "fmt"

// Kind is one of the seven error classifications the router distinguishes.
type Kind string

const (
	// Configuration covers malformed shape, a missing required field, or an
	// invalid transport. Fatal at startup; surfaced to the host.
	Configuration Kind = "configuration"

	// EmbeddingUnavailable covers network/reachability failures talking to
	// the embedding service. Never fatal to the process.
	EmbeddingUnavailable Kind = "embedding_unavailable"

	// ServerUnavailable covers connectivity faults to a capability server.
	// Retryable within the indexer's budget; terminal after the final attempt.
	ServerUnavailable Kind = "server_unavailable"

	// Protocol covers non-2xx or malformed responses from an otherwise
	// reachable service.
	Protocol Kind = "protocol"

	// InvalidInput covers caller mistakes: empty query, non-object params.
	InvalidInput Kind = "invalid_input"

	// Cancelled covers cooperative cancellation. No retry, no warn.
	Cancelled Kind = "cancelled"

	// UnknownTool covers a call/lookup against a tool name the registry has
	// no record of.
	UnknownTool Kind = "unknown_tool"
)

// Error is a classified error carrying an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New builds a classified error with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a classified error wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Error implements error.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap implements the errors.Unwrap interface.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether err is a classified error of kind k.
func Is(err error, k Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == k
}
