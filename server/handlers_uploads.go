package server

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	dbpkg "github.com/okaneo/drivetube/backend/db"
	"github.com/okaneo/drivetube/backend/uploads"
)

type uploadJSON struct {
	ID            string    `json:"id"`
	AccountID     string    `json:"account_id,omitempty"`
	FileID        string    `json:"file_id"`
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	Privacy       string    `json:"privacy"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Status        string    `json:"status"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	Attempts      int       `json:"attempts"`
	BytesUploaded int64     `json:"bytes_uploaded"`
	BytesTotal    int64     `json:"bytes_total"`
	CreatedAt     time.Time `json:"created_at"`
}

func toUploadJSON(u dbpkg.ScheduledUpload) uploadJSON {
	return uploadJSON{
		ID:            u.ID,
		AccountID:     u.AccountID,
		FileID:        u.FileID,
		Title:         u.Title,
		Description:   u.Description,
		Privacy:       u.Privacy,
		ScheduledTime: u.ScheduledTime,
		Status:        u.Status,
		ErrorMessage:  u.ErrorMessage,
		Attempts:      u.Attempts,
		BytesUploaded: u.BytesUploaded,
		BytesTotal:    u.BytesTotal,
		CreatedAt:     u.CreatedAt,
	}
}

var validPrivacy = map[string]bool{"private": true, "unlisted": true, "public": true}

// HandleUploads lists the user's scheduled uploads (GET) or schedules a new
// one (POST).
func (h *Handlers) HandleUploads(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	switch r.Method {
	case http.MethodGet:
		limit := parseIntQuery(r, "limit", 100)
		if limit <= 0 || limit > 500 {
			limit = 100
		}
		list, err := dbpkg.ListScheduledUploads(r.Context(), h.db, sess.Email, limit)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		out := make([]uploadJSON, 0, len(list))
		for _, u := range list {
			out = append(out, toUploadJSON(u))
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var body struct {
			AccountID     string `json:"account_id"`
			FileID        string `json:"file_id"`
			Title         string `json:"title"`
			Description   string `json:"description"`
			Privacy       string `json:"privacy"`
			ScheduledTime string `json:"scheduled_time"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "validation_error", "invalid json")
			return
		}
		if body.FileID == "" || body.Title == "" {
			writeJSONError(w, http.StatusBadRequest, "validation_error", "file_id and title are required")
			return
		}
		if body.Privacy != "" && !validPrivacy[body.Privacy] {
			writeJSONError(w, http.StatusBadRequest, "validation_error", "privacy must be private, unlisted, or public")
			return
		}
		when := time.Now()
		if body.ScheduledTime != "" {
			t, err := time.Parse(time.RFC3339, body.ScheduledTime)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "validation_error", "scheduled_time must be RFC3339")
				return
			}
			when = t
		}
		accountID := body.AccountID
		if accountID != "" {
			// Reject accounts the user does not own.
			if _, err := dbpkg.GetAccount(r.Context(), h.db, sess.UserID, accountID); err != nil {
				h.writeError(w, r, err)
				return
			}
		} else {
			// Pin the current primary account so the transfer does not depend
			// on which account is primary when the row is claimed.
			primary, err := dbpkg.PrimaryAccount(r.Context(), h.db, sess.UserID)
			if err == sql.ErrNoRows {
				writeJSONError(w, http.StatusBadRequest, "validation_error", "no linked account; connect a Google account first")
				return
			}
			if err != nil {
				h.writeError(w, r, err)
				return
			}
			accountID = primary.ID
		}
		id, err := dbpkg.InsertScheduledUpload(r.Context(), h.db, dbpkg.ScheduledUpload{
			UserEmail:     sess.Email,
			AccountID:     accountID,
			FileID:        body.FileID,
			Title:         body.Title,
			Description:   body.Description,
			Privacy:       body.Privacy,
			ScheduledTime: when,
		})
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		u, err := dbpkg.GetScheduledUpload(r.Context(), h.db, id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toUploadJSON(*u))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleUploadsDispatcher routes requests under /api/uploads/{id}/* to
// appropriate sub-handlers.
func (h *Handlers) HandleUploadsDispatcher(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/uploads/")
	parts := strings.Split(path, "/")
	uploadID := parts[0]
	tail := ""
	if len(parts) > 1 {
		tail = strings.Join(parts[1:], "/")
	}
	switch {
	case uploadID == "":
		http.NotFound(w, r)
	case tail == "":
		h.handleUploadDetail(w, r, uploadID)
	case tail == "progress":
		h.handleUploadProgress(w, r, uploadID)
	case tail == "cancel":
		h.handleUploadCancel(w, r, uploadID)
	default:
		http.NotFound(w, r)
	}
}

// getOwnUpload loads an upload and verifies it belongs to the session's
// user. Foreign uploads look identical to missing ones.
func (h *Handlers) getOwnUpload(r *http.Request, id string) (*dbpkg.ScheduledUpload, error) {
	sess := sessionFromContext(r.Context())
	u, err := dbpkg.GetScheduledUpload(r.Context(), h.db, id)
	if err != nil {
		return nil, err
	}
	if u.UserEmail != sess.Email {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

func (h *Handlers) handleUploadDetail(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		u, err := h.getOwnUpload(r, id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toUploadJSON(*u))
	case http.MethodDelete:
		h.cancelUpload(w, r, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) handleUploadProgress(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	u, err := h.getOwnUpload(r, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var percent float64
	if u.BytesTotal > 0 {
		percent = float64(u.BytesUploaded) / float64(u.BytesTotal) * 100
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":             u.ID,
		"status":         u.Status,
		"bytes_uploaded": u.BytesUploaded,
		"bytes_total":    u.BytesTotal,
		"percent":        percent,
		"state":          u.UploadState,
	})
}

func (h *Handlers) handleUploadCancel(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.cancelUpload(w, r, id)
}

// cancelUpload interrupts an in-flight transfer if there is one and removes
// the row. Cancellation leaves no trace in the upload history.
func (h *Handlers) cancelUpload(w http.ResponseWriter, r *http.Request, id string) {
	sess := sessionFromContext(r.Context())
	interrupted := uploads.CancelTransfer(id)
	if err := dbpkg.CancelUpload(r.Context(), h.db, sess.Email, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cancelled", "interrupted": interrupted})
}

// HandleUploadLogs returns the user's upload history, newest first.
func (h *Handlers) HandleUploadLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess := sessionFromContext(r.Context())
	limit := parseIntQuery(r, "limit", 100)
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	logs, err := dbpkg.ListUploadLogs(r.Context(), h.db, sess.Email, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	type logJSON struct {
		ID           string    `json:"id"`
		VideoID      string    `json:"video_id,omitempty"`
		FileID       string    `json:"file_id,omitempty"`
		YouTubeURL   string    `json:"youtube_url,omitempty"`
		Status       string    `json:"status"`
		ErrorMessage string    `json:"error_message,omitempty"`
		CreatedAt    time.Time `json:"created_at"`
	}
	out := make([]logJSON, 0, len(logs))
	for _, l := range logs {
		out = append(out, logJSON{
			ID:           l.ID,
			VideoID:      l.VideoID,
			FileID:       l.FileID,
			YouTubeURL:   l.YouTubeURL,
			Status:       l.Status,
			ErrorMessage: l.ErrorMessage,
			CreatedAt:    l.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
