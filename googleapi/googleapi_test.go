package googleapi

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"google.golang.org/api/option"

	gapi "google.golang.org/api/googleapi"

	"github.com/okaneo/drivetube/backend/config"
	"github.com/okaneo/drivetube/backend/testutil"
)

func TestOAuthConfig(t *testing.T) {
	cfg := &config.Config{
		GoogleClientID:     "test-client-id",
		GoogleClientSecret: "test-secret",
		GoogleRedirectURI:  "http://localhost/api/auth/callback",
		Scopes:             []string{"openid", "email", "https://www.googleapis.com/auth/drive"},
	}
	oc := OAuthConfig(cfg)
	if oc.ClientID != "test-client-id" {
		t.Errorf("ClientID = %q", oc.ClientID)
	}
	if len(oc.Scopes) != 3 {
		t.Errorf("Scopes len = %d, want 3", len(oc.Scopes))
	}
}

func TestAuthCodeURLForcesOffline(t *testing.T) {
	cfg := &config.Config{
		GoogleClientID:    "cid",
		GoogleRedirectURI: "http://localhost/cb",
		Scopes:            []string{"openid"},
	}
	raw := AuthCodeURL(OAuthConfig(cfg), "state-123")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	q := u.Query()
	if q.Get("access_type") != "offline" {
		t.Errorf("access_type = %q, want offline", q.Get("access_type"))
	}
	if q.Get("prompt") == "" && q.Get("approval_prompt") == "" {
		t.Error("approval not forced")
	}
	if q.Get("state") != "state-123" {
		t.Errorf("state = %q", q.Get("state"))
	}
}

func TestWrapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unauthorized", &gapi.Error{Code: 401}, ErrUnauthorized},
		{"rate limit 429", &gapi.Error{Code: 429}, ErrQuotaExceeded},
		{"quota 403", &gapi.Error{Code: 403, Errors: []gapi.ErrorItem{{Reason: "quotaExceeded"}}}, ErrQuotaExceeded},
		{"user rate limit 403", &gapi.Error{Code: 403, Errors: []gapi.ErrorItem{{Reason: "userRateLimitExceeded"}}}, ErrQuotaExceeded},
		{"plain forbidden", &gapi.Error{Code: 403}, ErrPermission},
		{"not found", &gapi.Error{Code: 404}, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := WrapError("op", tt.err)
			if !errors.Is(wrapped, tt.want) {
				t.Errorf("WrapError(%v) = %v, want %v in chain", tt.err, wrapped, tt.want)
			}
			var gerr *gapi.Error
			if !errors.As(wrapped, &gerr) {
				t.Error("original googleapi.Error lost from chain")
			}
		})
	}
}

func TestWrapErrorPassthrough(t *testing.T) {
	if WrapError("op", nil) != nil {
		t.Error("WrapError(nil) != nil")
	}
	plain := errors.New("boom")
	wrapped := WrapError("op", plain)
	if !errors.Is(wrapped, plain) {
		t.Error("plain error lost from chain")
	}
	if !strings.Contains(wrapped.Error(), "op") {
		t.Error("op annotation missing")
	}
}

func TestListVideosAgainstMock(t *testing.T) {
	mock := testutil.NewMockGoogleServer(t)
	mock.MockDriveFilesResponse([]map[string]interface{}{
		{"id": "f1", "name": "clip.mp4", "mimeType": "video/mp4", "size": "1024"},
		{"id": "f2", "name": "talk.mov", "mimeType": "video/quicktime", "size": "2048"},
	}, "next-page")

	d, err := NewDrive(context.Background(), "",
		option.WithEndpoint(mock.URL), option.WithoutAuthentication())
	if err != nil {
		t.Fatalf("NewDrive: %v", err)
	}
	files, next, err := d.ListVideos(context.Background(), "folder-1", "")
	if err != nil {
		t.Fatalf("ListVideos: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("len(files) = %d, want 2", len(files))
	}
	if files[0].ID != "f1" || files[0].Name != "clip.mp4" {
		t.Errorf("files[0] = %+v", files[0])
	}
	if files[0].Size != 1024 {
		t.Errorf("files[0].Size = %d, want 1024", files[0].Size)
	}
	if next != "next-page" {
		t.Errorf("next = %q, want next-page", next)
	}
}

func TestWatchURL(t *testing.T) {
	if got := WatchURL("abc123"); got != "https://www.youtube.com/watch?v=abc123" {
		t.Errorf("WatchURL = %q", got)
	}
}
