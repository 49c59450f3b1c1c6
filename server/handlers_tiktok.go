package server

import (
	"net/http"
	"time"

	dbpkg "github.com/okaneo/drivetube/backend/db"
	"github.com/okaneo/drivetube/backend/googleapi"
	"github.com/okaneo/drivetube/backend/tiktok"
)

// HandleTikTokImport accepts a batch export (bare array or {"videos": [...]})
// and downloads every video in it. With ?drive=0 the videos are only
// recorded, not saved to Drive. Runs synchronously; large batches take a
// while, which the processing report reflects.
func (h *Handlers) HandleTikTokImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess := sessionFromContext(r.Context())
	items, err := tiktok.ParseBatch(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if len(items) == 0 {
		writeJSONError(w, http.StatusBadRequest, "validation_error", "batch contains no videos")
		return
	}

	saveToDrive := r.URL.Query().Get("drive") != "0"
	var drive tiktok.DriveSaver
	accountID := ""
	if saveToDrive {
		account, err := dbpkg.PrimaryAccount(r.Context(), h.db, sess.UserID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		accountID = account.ID
		access, err := h.tokens.GetValidAccessToken(r.Context(), sess.UserID, accountID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		d, err := googleapi.NewDrive(r.Context(), access)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		drive = d
	}

	dl := tiktok.NewDownloader(h.db, h.cfg.TikTokDriveFolder)
	res, err := dl.Run(r.Context(), sess.UserID, accountID, drive, items)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleTikTokVideos lists previously imported videos, newest first.
func (h *Handlers) HandleTikTokVideos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess := sessionFromContext(r.Context())
	limit := parseIntQuery(r, "limit", 100)
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	videos, err := dbpkg.ListTikTokVideos(r.Context(), h.db, sess.UserID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	type videoJSON struct {
		ID            string    `json:"id"`
		VideoID       string    `json:"video_id"`
		DriveFileID   string    `json:"drive_file_id,omitempty"`
		DriveFolderID string    `json:"drive_folder_id,omitempty"`
		Hashtags      []string  `json:"hashtags"`
		CreatedAt     time.Time `json:"created_at"`
	}
	out := make([]videoJSON, 0, len(videos))
	for _, v := range videos {
		out = append(out, videoJSON{
			ID:            v.ID,
			VideoID:       v.VideoID,
			DriveFileID:   v.DriveFileID,
			DriveFolderID: v.DriveFolderID,
			Hashtags:      v.Hashtags,
			CreatedAt:     v.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
