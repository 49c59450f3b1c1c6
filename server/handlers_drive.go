package server

import (
	"net/http"
	"strings"

	"github.com/okaneo/drivetube/backend/auth"
	dbpkg "github.com/okaneo/drivetube/backend/db"
	"github.com/okaneo/drivetube/backend/googleapi"
)

type driveFileJSON struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MimeType     string `json:"mime_type"`
	Size         int64  `json:"size,omitempty"`
	ModifiedTime string `json:"modified_time,omitempty"`
	Thumbnail    string `json:"thumbnail,omitempty"`
}

func toDriveFileJSON(f googleapi.File) driveFileJSON {
	return driveFileJSON{
		ID:           f.ID,
		Name:         f.Name,
		MimeType:     f.MimeType,
		Size:         f.Size,
		ModifiedTime: f.ModifiedTime,
		Thumbnail:    f.Thumbnail,
	}
}

// resolveAccountID picks the account for a Drive call: the ?account= query
// parameter when given (verified to belong to the user), else the primary.
func (h *Handlers) resolveAccountID(r *http.Request, sess *auth.Session) (string, error) {
	if id := r.URL.Query().Get("account"); id != "" {
		a, err := dbpkg.GetAccount(r.Context(), h.db, sess.UserID, id)
		if err != nil {
			return "", err
		}
		return a.ID, nil
	}
	a, err := dbpkg.PrimaryAccount(r.Context(), h.db, sess.UserID)
	if err != nil {
		return "", err
	}
	return a.ID, nil
}

// driveFor mints a Drive client for the chosen account with a fresh access
// token. The token manager refreshes expired tokens transparently; revoked
// grants surface as ErrReauthRequired which writeError maps to needs_reauth.
func (h *Handlers) driveFor(r *http.Request, sess *auth.Session) (*googleapi.Drive, string, error) {
	accountID, err := h.resolveAccountID(r, sess)
	if err != nil {
		return nil, "", err
	}
	access, err := h.tokens.GetValidAccessToken(r.Context(), sess.UserID, accountID)
	if err != nil {
		return nil, "", err
	}
	d, err := googleapi.NewDrive(r.Context(), access)
	if err != nil {
		return nil, "", err
	}
	return d, accountID, nil
}

// HandleDriveFolders lists child folders of ?parent= (Drive root by default).
func (h *Handlers) HandleDriveFolders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess := sessionFromContext(r.Context())
	d, _, err := h.driveFor(r, sess)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	files, next, err := d.ListFolders(r.Context(), r.URL.Query().Get("parent"), r.URL.Query().Get("page_token"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeDriveListing(w, files, next)
}

// HandleDriveFiles lists video files inside ?folder= (Drive root by default).
func (h *Handlers) HandleDriveFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess := sessionFromContext(r.Context())
	d, _, err := h.driveFor(r, sess)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	files, next, err := d.ListVideos(r.Context(), r.URL.Query().Get("folder"), r.URL.Query().Get("page_token"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeDriveListing(w, files, next)
}

func writeDriveListing(w http.ResponseWriter, files []googleapi.File, next string) {
	out := make([]driveFileJSON, 0, len(files))
	for _, f := range files {
		out = append(out, toDriveFileJSON(f))
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": out, "next_page_token": next})
}

// HandleDriveFileDetail returns metadata for /api/drive/files/{id}.
func (h *Handlers) HandleDriveFileDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	fileID := strings.TrimPrefix(r.URL.Path, "/api/drive/files/")
	if fileID == "" || strings.Contains(fileID, "/") {
		http.NotFound(w, r)
		return
	}
	sess := sessionFromContext(r.Context())
	d, _, err := h.driveFor(r, sess)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	f, err := d.GetFile(r.Context(), fileID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDriveFileJSON(*f))
}

// HandleDriveChanges returns Drive changes since the stored cursor for the
// account. The first call establishes the cursor and returns an empty set.
func (h *Handlers) HandleDriveChanges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess := sessionFromContext(r.Context())
	d, _, err := h.driveFor(r, sess)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	pageToken, err := dbpkg.GetDrivePageToken(r.Context(), h.db, sess.Email)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if pageToken == "" {
		start, err := d.StartPageToken(r.Context())
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if err := dbpkg.SetDrivePageToken(r.Context(), h.db, sess.Email, start); err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"changes": []any{}, "initial_sync": true})
		return
	}
	changes, newToken, err := d.Changes(r.Context(), pageToken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if newToken != "" {
		if err := dbpkg.SetDrivePageToken(r.Context(), h.db, sess.Email, newToken); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	type changeJSON struct {
		FileID  string         `json:"file_id"`
		Removed bool           `json:"removed"`
		File    *driveFileJSON `json:"file,omitempty"`
	}
	out := make([]changeJSON, 0, len(changes))
	for _, c := range changes {
		cj := changeJSON{FileID: c.FileID, Removed: c.Removed}
		if c.File != nil {
			fj := toDriveFileJSON(*c.File)
			cj.File = &fj
		}
		out = append(out, cj)
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": out})
}
