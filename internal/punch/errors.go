package punch

import (
	"context"
	"errors"
	"net"
	"net/url"
	"syscall"
)

var (
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrSessionAlreadyOpen   = errors.New("an active session is already open; punch out first")
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionAlreadyClosed = errors.New("session already closed")
	ErrCheckpointLimit      = errors.New("too many checkpoints for this session")
	ErrInvalidCompanyCode   = errors.New("invalid company code")
	ErrNetworkUnavailable   = errors.New("network unavailable")
	// ErrConflict surfaces after bounded retries of a version-guarded write
	// keep losing to concurrent mutations.
	ErrConflict = errors.New("session was modified concurrently, try again")
)

// CheckpointLimit caps the embedded checkpoint list so a record stays under
// the store's document size ceiling.
const CheckpointLimit = 80

// IsNetworkError classifies transport-level failures. Callers enqueue the
// attempted operation for offline replay when this returns true.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNetworkUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
