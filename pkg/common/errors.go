package common

import (
	"context"
	"errors"
	"net"
	"net/url"
	"syscall"
)

// Error kinds shared by every component. Callers wrap them with fmt.Errorf("%w") and test with errors.Is.
var (
	// ErrTransientNetwork is recoverable: the operation is retried on the next poll tick.
	ErrTransientNetwork = errors.New("transient network error")
	// ErrEventNotFound means a confirmed burn transaction did not emit the expected message event.
	ErrEventNotFound = errors.New("message event not found in transaction logs")
	// ErrMalformedMessage covers short messages, undecodable log payloads and invalid attestation encodings.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrChainRejected means the chain refused the transaction (revert, insufficient allowance, insufficient balance).
	ErrChainRejected = errors.New("transaction rejected by chain")
	// ErrDerivationExhausted means no bump seed in [0, 255] produced an off-curve program address.
	ErrDerivationExhausted = errors.New("no viable bump seed for program address")
	// ErrNotConfigured means this process lacks the RPC or wallet for a chain. The transfer is left as is
	// so a process that has them can pick it up.
	ErrNotConfigured = errors.New("chain not configured")
)

// IsFatal reports whether err should move a transfer to Failed. Cancellation, transient and configuration
// errors are not fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrTransientNetwork) || errors.Is(err, ErrNotConfigured) {
		return false
	}
	return errors.Is(err, ErrEventNotFound) ||
		errors.Is(err, ErrMalformedMessage) ||
		errors.Is(err, ErrChainRejected) ||
		errors.Is(err, ErrDerivationExhausted)
}

// IsNetworkError reports whether err originates from the transport rather than from the remote peer's answer.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransientNetwork) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// Cause returns a short label for metrics.
func Cause(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrEventNotFound):
		return "event_not_found"
	case errors.Is(err, ErrMalformedMessage):
		return "malformed_message"
	case errors.Is(err, ErrChainRejected):
		return "chain_rejected"
	case errors.Is(err, ErrDerivationExhausted):
		return "derivation_exhausted"
	case errors.Is(err, ErrTransientNetwork):
		return "transient_network"
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	default:
		return "internal"
	}
}
