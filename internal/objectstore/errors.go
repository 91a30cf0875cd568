package objectstore

import (
	"context"
	"errors"
	"net"
	"net/url"
	"syscall"

	"github.com/minio/minio-go/v7"
)

// IsUnavailable reports whether err indicates the storage backend itself is
// unreachable, as opposed to a per-object failure. Context cancellation and
// deadline expiry are never classified as unavailability; callers handle
// those separately.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// A populated S3 error response means the backend answered: the object
	// operation failed, but the service is up.
	if resp := minio.ToErrorResponse(err); resp.Code != "" {
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	// http transport errors surface as *url.Error wrapping the dial failure.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return !urlErr.Timeout()
	}

	return false
}
