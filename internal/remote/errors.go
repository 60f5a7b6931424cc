package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jweiland-net/bynder2/internal/domain"
	"github.com/jweiland-net/bynder2/internal/retry"
)

// mapStatus converts a non-2xx API response to a domain error. Rate limits
// and server errors are marked retryable.
func mapStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return domain.ErrNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", domain.ErrPermissionDenied, status)
	case status == http.StatusTooManyRequests:
		return retry.Retryable(domain.ErrRateLimited)
	case status >= 500:
		return retry.Retryable(fmt.Errorf("%w: status %d", domain.ErrRemoteUnavailable, status))
	default:
		return fmt.Errorf("%w: unexpected status %d", domain.ErrRemoteUnavailable, status)
	}
}

// mapTransportError converts an http.Client error. Context cancellation is
// passed through unchanged so callers can tell it apart.
func mapTransportError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return retry.Retryable(fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err))
}
