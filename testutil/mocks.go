package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// MockGoogleServer creates a test server that mocks Google API responses
type MockGoogleServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockGoogleServer creates a new mock Google API server
func NewMockGoogleServer(t *testing.T) *MockGoogleServer {
	t.Helper()
	m := &MockGoogleServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockTokenResponse adds a handler for the OAuth token endpoint
func (m *MockGoogleServer) MockTokenResponse(accessToken, refreshToken string, expiresIn int) {
	m.Handlers["/token"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"access_token":  accessToken,
			"refresh_token": refreshToken,
			"expires_in":    expiresIn,
			"token_type":    "Bearer",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockTokenError adds a handler that fails the token endpoint with an OAuth
// error code such as invalid_grant.
func (m *MockGoogleServer) MockTokenError(status int, errorCode string) {
	m.Handlers["/token"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": errorCode}) //nolint:errcheck // test mock response
	}
}

// MockDriveFilesResponse adds a handler for the Drive files list endpoint.
// Registered under both the bare and the versioned path so it works whatever
// base path the client resolves against.
func (m *MockGoogleServer) MockDriveFilesResponse(files []map[string]interface{}, nextPageToken string) {
	h := func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"files": files,
		}
		if nextPageToken != "" {
			response["nextPageToken"] = nextPageToken
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
	m.Handlers["/files"] = h
	m.Handlers["/drive/v3/files"] = h
}

// MockUserinfoResponse adds a handler for the OIDC userinfo endpoint
func (m *MockGoogleServer) MockUserinfoResponse(sub, email, name, picture string) {
	m.Handlers["/oauth2/v3/userinfo"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]string{
			"sub":     sub,
			"email":   email,
			"name":    name,
			"picture": picture,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}
