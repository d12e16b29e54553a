package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the SDK. Callers match with errors.Is;
// richer context is wrapped around these with fmt.Errorf("...: %w", ...).
var (
	// ErrInvalidFormat marks a malformed address or identifier. Caller's
	// fault, never retried.
	ErrInvalidFormat = errors.New("invalid format")

	// ErrUnsupportedChain marks an intent against a chain no adapter serves.
	ErrUnsupportedChain = errors.New("unsupported chain")

	// ErrUnsupportedIntent marks an intent missing fields required by the
	// target ecosystem.
	ErrUnsupportedIntent = errors.New("unsupported intent")

	// ErrPoolExhausted is surfaced when the retry budget is spent or no
	// connection in a pool is selectable.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrConfirmationTimeout is returned when a transaction does not reach
	// the configured confirmation policy before its deadline. The caller
	// decides whether to resubmit.
	ErrConfirmationTimeout = errors.New("confirmation timeout")

	// ErrSigningUnavailable marks key material that cannot be used right
	// now (locked keystore, disconnected device). Recoverable, retryable.
	ErrSigningUnavailable = errors.New("signing unavailable")

	// ErrNonceConflict is returned when the chain-observed nonce no longer
	// matches what was signed. Triggers exactly one refetch-and-resubmit
	// cycle in the builder, never an unbounded loop.
	ErrNonceConflict = errors.New("nonce conflict")

	// ErrInsufficientFunds is a node-side rejection for balance shortfall.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrTransferStuck marks a bridge transfer that exhausted destination
	// retries with source funds already locked. Manual intervention signal.
	ErrTransferStuck = errors.New("bridge transfer requires manual intervention")

	// ErrTransferNotFound is returned by transfer stores for unknown IDs.
	ErrTransferNotFound = errors.New("transfer not found")
)

// TransportError wraps endpoint-level failures (unreachable, timed out,
// malformed response). Retried internally up to the pool's budget before
// surfacing.
type TransportError struct {
	Endpoint string
	Op       string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s via %s: %v", e.Op, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NodeError is an application-level rejection from a node. The raw reason
// string is preserved verbatim; Code carries the JSON-RPC error code when
// one was present.
type NodeError struct {
	Code   int
	Reason string
}

func (e *NodeError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("rejected by node (%d): %s", e.Code, e.Reason)
	}
	return "rejected by node: " + e.Reason
}

// ValidationError reports a malformed intent field before any network call.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// IsTransport reports whether err originated at the transport layer and is
// therefore safe to retry against another connection.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// AsNodeError unwraps a node rejection if one is present.
func AsNodeError(err error) (*NodeError, bool) {
	var ne *NodeError
	if errors.As(err, &ne) {
		return ne, true
	}
	return nil, false
}
