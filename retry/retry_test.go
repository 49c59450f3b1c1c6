package retry

import (
	"context"
	"errors"
	"net"
	"net/url"
	"testing"
	"time"

	"google.golang.org/api/googleapi"
)

func fastPolicy() Policy {
	return Policy{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, MaxTries: 3}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit", &googleapi.Error{Code: 429}, true},
		{"server error", &googleapi.Error{Code: 503}, true},
		{"unauthorized", &googleapi.Error{Code: 401}, false},
		{"forbidden", &googleapi.Error{Code: 403}, false},
		{"not found", &googleapi.Error{Code: 404}, false},
		{"bad request", &googleapi.Error{Code: 400}, false},
		{"timeout", &net.DNSError{IsTimeout: true}, true},
		{"url error", &url.Error{Op: "Get", URL: "https://example.com", Err: errors.New("connection refused")}, true},
		{"context canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestDoRetriesTransient(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), fastPolicy(), "test", func() (string, error) {
		calls++
		if calls < 3 {
			return "", &googleapi.Error{Code: 503}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if v != "ok" {
		t.Errorf("Do = %q, want ok", v)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoStopsOnTerminal(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(), "test", func() (string, error) {
		calls++
		return "", &googleapi.Error{Code: 401}
	})
	if err == nil {
		t.Fatal("Do returned nil error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on auth error)", calls)
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) || gerr.Code != 401 {
		t.Errorf("expected wrapped 401, got %v", err)
	}
}

func TestDoExhaustsTries(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(), "test", func() (int, error) {
		calls++
		return 0, &googleapi.Error{Code: 500}
	})
	if err == nil {
		t.Fatal("Do returned nil error after exhausting tries")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoWithReauthRefreshesOnce(t *testing.T) {
	calls := 0
	reauths := 0
	v, err := DoWithReauth(context.Background(), fastPolicy(), "test",
		func(ctx context.Context) error {
			reauths++
			return nil
		},
		func() (string, error) {
			calls++
			if calls == 1 {
				return "", &googleapi.Error{Code: 401}
			}
			return "ok", nil
		})
	if err != nil {
		t.Fatalf("DoWithReauth returned error: %v", err)
	}
	if v != "ok" {
		t.Errorf("DoWithReauth = %q, want ok", v)
	}
	if reauths != 1 {
		t.Errorf("reauths = %d, want 1", reauths)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestDoWithReauthTerminalAfterSecondAuthError(t *testing.T) {
	calls := 0
	reauths := 0
	_, err := DoWithReauth(context.Background(), fastPolicy(), "test",
		func(ctx context.Context) error {
			reauths++
			return nil
		},
		func() (string, error) {
			calls++
			return "", &googleapi.Error{Code: 403}
		})
	if err == nil {
		t.Fatal("DoWithReauth returned nil error")
	}
	if reauths != 1 {
		t.Errorf("reauths = %d, want exactly 1", reauths)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestDoWithReauthPropagatesReauthFailure(t *testing.T) {
	reauthErr := errors.New("revoked")
	_, err := DoWithReauth(context.Background(), fastPolicy(), "test",
		func(ctx context.Context) error { return reauthErr },
		func() (string, error) {
			return "", &googleapi.Error{Code: 401}
		})
	if !errors.Is(err, reauthErr) {
		t.Errorf("expected reauth error, got %v", err)
	}
}
