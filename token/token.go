// Package token owns the OAuth access-token lifecycle for linked Google
// accounts: validity checks against a stored expiry, refreshes via the token
// endpoint, and classification of refresh failures so callers can tell a
// revoked grant from a flaky network.
package token

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/okaneo/drivetube/backend/db"
	"github.com/okaneo/drivetube/backend/telemetry"
)

// ExpiryBuffer treats tokens expiring within this window as already expired,
// so a token handed to a caller stays valid for the duration of the call.
const ExpiryBuffer = 5 * time.Minute

// ErrReauthRequired signals that the grant is gone on Google's side: the
// stored token row has been deleted and the user must relink the account.
var ErrReauthRequired = errors.New("account requires re-authorization")

// ErrNoToken is returned when no token row exists for the account.
var ErrNoToken = errors.New("no stored token for account")

// FailureKind classifies a refresh failure.
type FailureKind int

const (
	// FailureOther is any failure that is neither a revocation nor a
	// network problem.
	FailureOther FailureKind = iota
	// FailureRevoked means Google rejected the refresh token itself.
	FailureRevoked
	// FailureNetwork means the token endpoint was unreachable; the stored
	// credentials may still be good.
	FailureNetwork
)

// ClassifyRefreshError inspects a token-endpoint error. invalid_grant and
// access_denied mean the user revoked access or the token was invalidated;
// transport-level failures are network; everything else is other.
func ClassifyRefreshError(err error) FailureKind {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		switch rerr.ErrorCode {
		case "invalid_grant", "access_denied":
			return FailureRevoked
		}
		return FailureOther
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return FailureNetwork
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return FailureNetwork
	}
	return FailureOther
}

// RefreshFunc exchanges a refresh token for a fresh token. Production uses
// the oauth2 token source; tests substitute their own.
type RefreshFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

// Manager loads, validates and refreshes per-account tokens.
type Manager struct {
	db      *sql.DB
	refresh RefreshFunc
	now     func() time.Time
}

// NewManager builds a Manager that refreshes against the given oauth2 config.
func NewManager(dbx *sql.DB, cfg *oauth2.Config) *Manager {
	return &Manager{
		db: dbx,
		refresh: func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
			src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
			return src.Token()
		},
		now: time.Now,
	}
}

// NewManagerWithRefresh is the test constructor.
func NewManagerWithRefresh(dbx *sql.DB, fn RefreshFunc, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{db: dbx, refresh: fn, now: now}
}

// Valid reports whether the stored token can be used without a refresh. No
// network traffic happens here.
func (m *Manager) Valid(tok *db.UserToken) bool {
	if tok == nil || tok.AccessToken == "" {
		return false
	}
	if tok.ExpiresAt.IsZero() {
		return false
	}
	return tok.ExpiresAt.After(m.now().Add(ExpiryBuffer))
}

// GetValidAccessToken returns a usable access token for the account,
// refreshing first when the stored one is expired or about to expire.
// A still-valid token is returned without touching the network.
func (m *Manager) GetValidAccessToken(ctx context.Context, userID, accountID string) (string, error) {
	tok, err := db.GetUserToken(ctx, m.db, userID, accountID)
	if err == sql.ErrNoRows {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("load token: %w", err)
	}
	if m.Valid(tok) {
		return tok.AccessToken, nil
	}
	refreshed, err := m.Refresh(ctx, tok)
	if err != nil {
		// On a network failure Refresh hands back the stale token; serve it
		// best-effort since the credentials may still work upstream.
		if refreshed != nil && refreshed.AccessToken != "" {
			slog.Warn("token endpoint unreachable, serving stale token",
				slog.String("account", accountID), slog.Any("err", err))
			return refreshed.AccessToken, nil
		}
		return "", err
	}
	return refreshed.AccessToken, nil
}

// Refresh exchanges the stored refresh token for new credentials and persists
// them. Failures are classified three ways:
//
//   - revoked grant: the token row is deleted and ErrReauthRequired returned;
//   - network failure: the row is annotated and the stale token returned
//     best-effort alongside the error, since the credentials may still work;
//   - anything else: the row is annotated and a generic error returned.
func (m *Manager) Refresh(ctx context.Context, tok *db.UserToken) (*db.UserToken, error) {
	if tok.RefreshToken == "" {
		return nil, ErrReauthRequired
	}

	newTok, err := m.refresh(ctx, tok.RefreshToken)
	if err != nil {
		if telemetry.TokenRefreshFails != nil {
			telemetry.TokenRefreshFails.Inc()
		}
		switch ClassifyRefreshError(err) {
		case FailureRevoked:
			if telemetry.TokensRevoked != nil {
				telemetry.TokensRevoked.Inc()
			}
			if derr := db.DeleteUserToken(ctx, m.db, tok.AuthUserID, tok.AccountID); derr != nil {
				slog.Error("failed to delete revoked token",
					slog.String("account", tok.AccountID), slog.Any("err", derr))
			}
			slog.Warn("token revoked, re-auth required", slog.String("account", tok.AccountID))
			return nil, ErrReauthRequired
		case FailureNetwork:
			if aerr := db.AnnotateTokenError(ctx, m.db, tok.AuthUserID, tok.AccountID, "refresh unreachable: "+err.Error()); aerr != nil {
				slog.Error("failed to annotate token", slog.Any("err", aerr))
			}
			return tok, fmt.Errorf("token refresh unreachable: %w", err)
		default:
			if aerr := db.AnnotateTokenError(ctx, m.db, tok.AuthUserID, tok.AccountID, "refresh failed: "+err.Error()); aerr != nil {
				slog.Error("failed to annotate token", slog.Any("err", aerr))
			}
			return nil, fmt.Errorf("token refresh failed: %w", err)
		}
	}

	updated := &db.UserToken{
		AuthUserID:   tok.AuthUserID,
		AccountID:    tok.AccountID,
		AccessToken:  newTok.AccessToken,
		RefreshToken: newTok.RefreshToken,
		ExpiresAt:    newTok.Expiry,
		Scope:        tok.Scope,
	}
	// Google omits the refresh token on refresh responses; keep the old one.
	if updated.RefreshToken == "" {
		updated.RefreshToken = tok.RefreshToken
	}
	if err := db.UpsertUserToken(ctx, m.db, *updated); err != nil {
		return nil, fmt.Errorf("persist refreshed token: %w", err)
	}
	if telemetry.TokenRefreshes != nil {
		telemetry.TokenRefreshes.Inc()
	}
	slog.Info("token refreshed", slog.String("account", tok.AccountID))
	return updated, nil
}
