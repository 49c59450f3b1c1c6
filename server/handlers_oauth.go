package server

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/okaneo/drivetube/backend/auth"
	dbpkg "github.com/okaneo/drivetube/backend/db"
	"github.com/okaneo/drivetube/backend/googleapi"
)

// HandleGoogleOAuthStart initiates the Google OAuth flow by redirecting to
// the consent screen. Works both for first sign-in and for linking an extra
// account to an existing session.
func (h *Handlers) HandleGoogleOAuthStart(w http.ResponseWriter, r *http.Request) {
	if err := h.cfg.ValidateGoogleReady(); err != nil {
		http.Error(w, "oauth not configured (need GOOGLE_CLIENT_ID + GOOGLE_CLIENT_SECRET + GOOGLE_REDIRECT_URI)", http.StatusBadRequest)
		return
	}
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		http.Error(w, "state gen error", 500)
		return
	}
	st := hex.EncodeToString(b)
	h.addOAuthState(st, time.Now().Add(10*time.Minute))
	authURL := googleapi.AuthCodeURL(googleapi.OAuthConfig(h.cfg), st)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleGoogleOAuthCallback exchanges the auth code, persists the account and
// its tokens, and issues a session cookie. When the caller already has a
// session the new Google account is linked to that user instead of creating
// a fresh one.
func (h *Handlers) HandleGoogleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", 400)
		return
	}
	if !h.takeOAuthState(st) {
		http.Error(w, "invalid state", 400)
		return
	}

	ctx := r.Context()
	ocfg := googleapi.OAuthConfig(h.cfg)
	tok, err := ocfg.Exchange(ctx, code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	info, err := googleapi.FetchUserinfo(ctx, ocfg, tok)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	// An existing session means this is an account link, not a sign-in.
	var sess *auth.Session
	if raw := sessionToken(r); raw != "" {
		sess, _ = h.sessions.Verify(raw)
	}

	var ownerID, ownerEmail string
	if sess != nil {
		ownerID, ownerEmail = sess.UserID, sess.Email
	} else {
		ownerID, err = dbpkg.UpsertUser(ctx, h.db, dbpkg.User{
			Email:     info.Email,
			Name:      info.Name,
			AvatarURL: info.Picture,
			GoogleID:  info.Sub,
		})
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		ownerEmail = info.Email
	}

	accountID, err := dbpkg.UpsertAccount(ctx, h.db, dbpkg.Account{
		OwnerID:     ownerID,
		Name:        info.Name,
		Email:       info.Email,
		Image:       info.Picture,
		AccountType: "google",
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := dbpkg.UpsertUserToken(ctx, h.db, dbpkg.UserToken{
		AuthUserID:   ownerID,
		AccountID:    accountID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		Scope:        strings.Join(h.cfg.Scopes, " "),
		IsValid:      true,
	}); err != nil {
		h.writeError(w, r, err)
		return
	}

	signed, err := h.sessions.Issue(auth.Session{UserID: ownerID, Email: ownerEmail})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.setSessionCookie(w, r, signed)

	if redirect := os.Getenv("POST_LOGIN_REDIRECT"); redirect != "" {
		http.Redirect(w, r, redirect, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"user_id":    ownerID,
		"account_id": accountID,
		"linked":     sess != nil,
	})
}

// HandleSessionInfo returns the signed-in user for the current session.
func (h *Handlers) HandleSessionInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	raw := sessionToken(r)
	if raw == "" {
		h.writeError(w, r, auth.ErrInvalidSession)
		return
	}
	sess, err := h.sessions.Verify(raw)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	user, err := dbpkg.GetUserByID(r.Context(), h.db, sess.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": user.ID,
		"email":   user.Email,
		"name":    user.Name,
		"avatar":  user.AvatarURL,
	})
}

// HandleLogout clears the session cookie. The JWT itself stays valid until
// expiry; logout is a client-side forget.
func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) setSessionCookie(w http.ResponseWriter, r *http.Request, signed string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    signed,
		Path:     "/",
		Expires:  time.Now().Add(h.cfg.SessionTTL),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}
