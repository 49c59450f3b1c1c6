package server

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	dbpkg "github.com/okaneo/drivetube/backend/db"
	"github.com/okaneo/drivetube/backend/googleapi"
)

type accountJSON struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Image       string `json:"image,omitempty"`
	AccountType string `json:"account_type"`
	IsPrimary   bool   `json:"is_primary"`
}

func toAccountJSON(a dbpkg.Account) accountJSON {
	return accountJSON{
		ID:          a.ID,
		Name:        a.Name,
		Email:       a.Email,
		Image:       a.Image,
		AccountType: a.AccountType,
		IsPrimary:   a.IsPrimary,
	}
}

// HandleAccounts lists the user's linked Google accounts (GET) or starts a
// link flow for an additional one (POST, returns the consent URL so the
// frontend can redirect).
func (h *Handlers) HandleAccounts(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	switch r.Method {
	case http.MethodGet:
		accounts, err := dbpkg.ListAccounts(r.Context(), h.db, sess.UserID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		out := make([]accountJSON, 0, len(accounts))
		for _, a := range accounts {
			out = append(out, toAccountJSON(a))
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		if err := h.cfg.ValidateGoogleReady(); err != nil {
			writeJSONError(w, http.StatusBadRequest, "validation_error", "google oauth not configured")
			return
		}
		b := make([]byte, 16)
		if _, err := rand.Read(b); err != nil {
			h.writeError(w, r, err)
			return
		}
		st := hex.EncodeToString(b)
		h.addOAuthState(st, time.Now().Add(10*time.Minute))
		writeJSON(w, http.StatusOK, map[string]string{
			"auth_url": googleapi.AuthCodeURL(googleapi.OAuthConfig(h.cfg), st),
		})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleAccountsDispatcher routes /api/accounts/{id} and
// /api/accounts/{id}/primary.
func (h *Handlers) HandleAccountsDispatcher(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/accounts/")
	parts := strings.Split(path, "/")
	accountID := parts[0]
	tail := ""
	if len(parts) > 1 {
		tail = strings.Join(parts[1:], "/")
	}
	switch {
	case accountID == "":
		http.NotFound(w, r)
	case tail == "":
		h.handleAccountDelete(w, r, accountID)
	case tail == "primary":
		h.handleAccountPrimary(w, r, accountID)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handlers) handleAccountDelete(w http.ResponseWriter, r *http.Request, accountID string) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess := sessionFromContext(r.Context())
	// Stored tokens cascade via FK.
	if err := dbpkg.DeleteAccount(r.Context(), h.db, sess.UserID, accountID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handleAccountPrimary(w http.ResponseWriter, r *http.Request, accountID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess := sessionFromContext(r.Context())
	if err := dbpkg.SetPrimaryAccount(r.Context(), h.db, sess.UserID, accountID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "primary_account_id": accountID})
}
