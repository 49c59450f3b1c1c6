package googleapi

import (
	"errors"
	"fmt"

	gapi "google.golang.org/api/googleapi"
)

// Sentinel errors for the failure classes the HTTP layer distinguishes.
var (
	ErrUnauthorized  = errors.New("google api unauthorized")
	ErrQuotaExceeded = errors.New("google api quota exceeded")
	ErrPermission    = errors.New("google api permission denied")
	ErrNotFound      = errors.New("google api resource not found")
)

// WrapError maps a Google API error onto the sentinel taxonomy while keeping
// the original error in the chain. Non-API errors pass through annotated.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var gerr *gapi.Error
	if !errors.As(err, &gerr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	switch gerr.Code {
	case 401:
		return fmt.Errorf("%s: %w: %w", op, ErrUnauthorized, err)
	case 403:
		if isQuotaReason(gerr) {
			return fmt.Errorf("%s: %w: %w", op, ErrQuotaExceeded, err)
		}
		return fmt.Errorf("%s: %w: %w", op, ErrPermission, err)
	case 404:
		return fmt.Errorf("%s: %w: %w", op, ErrNotFound, err)
	case 429:
		return fmt.Errorf("%s: %w: %w", op, ErrQuotaExceeded, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isQuotaReason(gerr *gapi.Error) bool {
	for _, e := range gerr.Errors {
		switch e.Reason {
		case "quotaExceeded", "rateLimitExceeded", "userRateLimitExceeded", "dailyLimitExceeded", "uploadLimitExceeded":
			return true
		}
	}
	return false
}
