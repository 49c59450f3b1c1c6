// Package retry wraps exponential backoff with a shared policy for Google API
// and HTTP calls: rate limits and server errors retry, auth and other client
// errors fail fast.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"google.golang.org/api/googleapi"
)

// Policy controls backoff shape and attempt count.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxTries        uint
}

// DefaultPolicy suits interactive API calls.
var DefaultPolicy = Policy{
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     30 * time.Second,
	MaxTries:        4,
}

// StatusCoder is implemented by errors that carry an HTTP status from a
// non-Google endpoint.
type StatusCoder interface {
	HTTPStatus() int
}

// Retryable reports whether the error is transient: network failures,
// HTTP 429 and 5xx. Auth errors (401, 403) and other 4xx are terminal here;
// callers that can re-mint credentials handle 401 at a higher level.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == 429 || gerr.Code >= 500
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		code := sc.HTTPStatus()
		return code == 429 || code >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return true
	}
	return false
}

// Do runs op with exponential backoff under the policy. Terminal errors stop
// immediately.
func Do[T any](ctx context.Context, p Policy, name string, op func() (T, error)) (T, error) {
	wrapped := func() (T, error) {
		v, err := op()
		if err != nil && !Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialInterval
	bo.MaxInterval = p.MaxInterval

	return backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(p.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("retrying operation",
				slog.String("op", name),
				slog.Duration("next", next),
				slog.Any("err", err))
		}),
	)
}

// IsAuthError reports a 401 or 403 from a Google API call. These never retry
// at this level; DoWithReauth uses the signal to refresh credentials once.
func IsAuthError(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == 401 || gerr.Code == 403
	}
	return false
}

// DoWithReauth runs op via Do; on an auth error it calls reauth once (which
// should refresh the access token) and runs op a second time. Any auth error
// after the single reauth is terminal.
func DoWithReauth[T any](ctx context.Context, p Policy, name string, reauth func(ctx context.Context) error, op func() (T, error)) (T, error) {
	v, err := Do(ctx, p, name, op)
	if err == nil || !IsAuthError(err) {
		return v, err
	}
	if rerr := reauth(ctx); rerr != nil {
		return v, rerr
	}
	return Do(ctx, p, name, op)
}
