package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Upload statuses. An upload moves pending -> processing; the row is deleted
// on success or cancellation, and marked failed otherwise. Failed rows with
// attempts left are reset to pending after a cooldown.
const (
	UploadStatusPending    = "pending"
	UploadStatusProcessing = "processing"
	UploadStatusFailed     = "failed"
)

// ScheduledUpload is one Drive video queued for YouTube.
type ScheduledUpload struct {
	ID            string
	UserEmail     string
	AccountID     string
	FileID        string
	Title         string
	Description   string
	Privacy       string
	ScheduledTime time.Time
	Status        string
	ErrorMessage  string
	Attempts      int
	BytesUploaded int64
	BytesTotal    int64
	UploadState   string
	CreatedAt     time.Time
}

// UploadLog is one terminal outcome of an upload attempt, kept for the
// history view.
type UploadLog struct {
	ID           string
	UserEmail    string
	VideoID      string
	FileID       string
	YouTubeURL   string
	Status       string
	ErrorMessage string
	CreatedAt    time.Time
}

// InsertScheduledUpload stores a new pending upload and returns its ID.
func InsertScheduledUpload(ctx context.Context, dbx *sql.DB, u ScheduledUpload) (string, error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.Privacy == "" {
		u.Privacy = "private"
	}
	_, err := dbx.ExecContext(ctx,
		`INSERT INTO scheduled_uploads(id, user_email, account_id, file_id, title, description, privacy, scheduled_time, status)
		 VALUES($1,$2,NULLIF($3,'')::uuid,$4,$5,$6,$7,$8,'pending')`,
		u.ID, u.UserEmail, u.AccountID, u.FileID, u.Title, u.Description, u.Privacy, u.ScheduledTime.UTC())
	if err != nil {
		return "", fmt.Errorf("insert scheduled upload: %w", err)
	}
	return u.ID, nil
}

func scanUpload(row interface{ Scan(...any) error }) (*ScheduledUpload, error) {
	var u ScheduledUpload
	var acct, errMsg, state sql.NullString
	err := row.Scan(&u.ID, &u.UserEmail, &acct, &u.FileID, &u.Title, &u.Description,
		&u.Privacy, &u.ScheduledTime, &u.Status, &errMsg, &u.Attempts,
		&u.BytesUploaded, &u.BytesTotal, &state, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	u.AccountID = acct.String
	u.ErrorMessage = errMsg.String
	u.UploadState = state.String
	return &u, nil
}

const uploadCols = `id, user_email, account_id, file_id, COALESCE(title,''), COALESCE(description,''),
	COALESCE(privacy,'private'), scheduled_time, status, error_message, COALESCE(attempts,0),
	COALESCE(bytes_uploaded,0), COALESCE(bytes_total,0), upload_state, created_at`

// GetScheduledUpload loads one upload row.
func GetScheduledUpload(ctx context.Context, dbx *sql.DB, id string) (*ScheduledUpload, error) {
	return scanUpload(dbx.QueryRowContext(ctx,
		`SELECT `+uploadCols+` FROM scheduled_uploads WHERE id=$1`, id))
}

// ListScheduledUploads returns the user's uploads, newest first.
func ListScheduledUploads(ctx context.Context, dbx *sql.DB, userEmail string, limit int) ([]ScheduledUpload, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := dbx.QueryContext(ctx,
		`SELECT `+uploadCols+` FROM scheduled_uploads WHERE user_email=$1 ORDER BY created_at DESC LIMIT $2`,
		userEmail, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]ScheduledUpload, 0)
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// ClaimDueUpload atomically claims the oldest due pending upload and marks it
// processing. Returns sql.ErrNoRows when nothing is due. The CTE with
// FOR UPDATE SKIP LOCKED lets multiple processors run without double-claiming.
func ClaimDueUpload(ctx context.Context, dbx *sql.DB) (*ScheduledUpload, error) {
	return scanUpload(dbx.QueryRowContext(ctx,
		`WITH due AS (
			SELECT id FROM scheduled_uploads
			WHERE status='pending' AND scheduled_time <= NOW()
			ORDER BY scheduled_time ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE scheduled_uploads s
		SET status='processing', attempts=COALESCE(attempts,0)+1, updated_at=NOW()
		FROM due WHERE s.id=due.id
		RETURNING `+qualifyCols("s")+``))
}

func qualifyCols(alias string) string {
	return alias + `.id, ` + alias + `.user_email, ` + alias + `.account_id, ` + alias + `.file_id,
	COALESCE(` + alias + `.title,''), COALESCE(` + alias + `.description,''),
	COALESCE(` + alias + `.privacy,'private'), ` + alias + `.scheduled_time, ` + alias + `.status,
	` + alias + `.error_message, COALESCE(` + alias + `.attempts,0),
	COALESCE(` + alias + `.bytes_uploaded,0), COALESCE(` + alias + `.bytes_total,0),
	` + alias + `.upload_state, ` + alias + `.created_at`
}

// UpdateUploadProgress persists byte counters so progress survives restarts.
func UpdateUploadProgress(ctx context.Context, dbx *sql.DB, id string, uploaded, total int64, state string) error {
	_, err := dbx.ExecContext(ctx,
		`UPDATE scheduled_uploads SET bytes_uploaded=$2, bytes_total=$3, upload_state=$4,
		 progress_updated_at=NOW(), updated_at=NOW() WHERE id=$1`,
		id, uploaded, total, state)
	return err
}

// DeleteScheduledUpload removes the row once the transfer succeeded; the
// upload_logs entry is the durable record.
func DeleteScheduledUpload(ctx context.Context, dbx *sql.DB, id string) error {
	_, err := dbx.ExecContext(ctx, `DELETE FROM scheduled_uploads WHERE id=$1`, id)
	return err
}

// MarkUploadFailed records a failure with its message.
func MarkUploadFailed(ctx context.Context, dbx *sql.DB, id, msg string) error {
	_, err := dbx.ExecContext(ctx,
		`UPDATE scheduled_uploads SET status='failed', error_message=$2, updated_at=NOW() WHERE id=$1`, id, msg)
	return err
}

// CancelUpload deletes a not-yet-finished upload owned by the user. Returns
// sql.ErrNoRows when nothing matched. In-flight transfers are additionally
// interrupted through the cancellation registry.
func CancelUpload(ctx context.Context, dbx *sql.DB, userEmail, id string) error {
	res, err := dbx.ExecContext(ctx,
		`DELETE FROM scheduled_uploads
		 WHERE id=$1 AND user_email=$2 AND status IN ('pending','processing','failed')`, id, userEmail)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RequeueFailedUploads resets failed uploads that still have attempts left and
// whose last update is older than the cooldown. Returns the number requeued.
func RequeueFailedUploads(ctx context.Context, dbx *sql.DB, maxAttempts int, cooldown time.Duration) (int64, error) {
	res, err := dbx.ExecContext(ctx,
		`UPDATE scheduled_uploads SET status='pending', error_message=NULL
		 WHERE status='failed' AND COALESCE(attempts,0) < $1
		   AND updated_at < NOW() - $2::interval`,
		maxAttempts, fmt.Sprintf("%d seconds", int(cooldown.Seconds())))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ResetStuckUploads returns processing rows older than the threshold to
// pending. Covers crashes mid-upload; resumable upload state lets the next
// attempt continue where it stopped.
func ResetStuckUploads(ctx context.Context, dbx *sql.DB, olderThan time.Duration) (int64, error) {
	res, err := dbx.ExecContext(ctx,
		`UPDATE scheduled_uploads SET status='pending'
		 WHERE status='processing' AND updated_at < NOW() - $1::interval`,
		fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PruneUploadLogs trims the audit trail to the retention window.
func PruneUploadLogs(ctx context.Context, dbx *sql.DB, olderThan time.Duration) (int64, error) {
	res, err := dbx.ExecContext(ctx,
		`DELETE FROM upload_logs WHERE created_at < NOW() - $1::interval`,
		fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountPendingUploads reports queue depth for metrics.
func CountPendingUploads(ctx context.Context, dbx *sql.DB) (int, error) {
	var n int
	err := dbx.QueryRowContext(ctx, `SELECT COUNT(1) FROM scheduled_uploads WHERE status='pending'`).Scan(&n)
	return n, err
}

// AppendUploadLog records an attempt outcome.
func AppendUploadLog(ctx context.Context, dbx *sql.DB, l UploadLog) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	_, err := dbx.ExecContext(ctx,
		`INSERT INTO upload_logs(id, user_email, video_id, file_id, youtube_url, status, error_message)
		 VALUES($1,$2,$3,$4,$5,$6,NULLIF($7,''))`,
		l.ID, l.UserEmail, l.VideoID, l.FileID, l.YouTubeURL, l.Status, l.ErrorMessage)
	if err != nil {
		return fmt.Errorf("append upload log: %w", err)
	}
	return err
}

// ListUploadLogs returns the user's upload history, newest first.
func ListUploadLogs(ctx context.Context, dbx *sql.DB, userEmail string, limit int) ([]UploadLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := dbx.QueryContext(ctx,
		`SELECT id, user_email, COALESCE(video_id,''), COALESCE(file_id,''), COALESCE(youtube_url,''), status, COALESCE(error_message,''), created_at
		 FROM upload_logs WHERE user_email=$1 ORDER BY created_at DESC LIMIT $2`,
		userEmail, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]UploadLog, 0)
	for rows.Next() {
		var l UploadLog
		if err := rows.Scan(&l.ID, &l.UserEmail, &l.VideoID, &l.FileID, &l.YouTubeURL, &l.Status, &l.ErrorMessage, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
