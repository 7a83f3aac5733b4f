// Package marketsimerr defines the error kinds shared across marketsim's
// components (§7 of the specification), wrapping a sentinel per kind so
// callers can classify failures with errors.Is while still carrying a
// human-readable message via %w chains.
package marketsimerr

import "errors"

// Kind classifies an error for the purposes of propagation policy and API
// status-code mapping. The engine and scheduler only ever need to ask
// "which kind is this", never to pattern-match a specific message.
type Kind int

const (
	// KindInternal is an unclassified error: logged, fatal on the startup
	// path, swallowed on the per-tick path.
	KindInternal Kind = iota
	// KindInvalidArgument marks bad input to a sanitizer or a quota
	// violation; surfaced as HTTP 400 at the API edge.
	KindInvalidArgument
	// KindNotFound marks an unknown simulation id; surfaced as HTTP 404.
	KindNotFound
	// KindForbidden marks a disabled simulation or disabled chat;
	// surfaced as HTTP 403.
	KindForbidden
	// KindUpstreamUnavailable marks a market-data source failure,
	// recovered via the source cascade.
	KindUpstreamUnavailable
	// KindTimeout marks an LLM call that exceeded its deadline, recovered
	// as empty trades.
	KindTimeout
	// KindConflict marks persistence row contention; Manager.SaveAll
	// retries it once. The other save paths do not retry.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindTimeout:
		return "timeout"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is a classified error. Wrap an underlying cause with New so
// %w-chains and errors.Is/As both keep working.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a classified error.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
