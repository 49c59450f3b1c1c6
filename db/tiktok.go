package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TikTokVideo records one downloaded TikTok video and where it ended up.
type TikTokVideo struct {
	ID            string
	AuthUserID    string
	AccountID     string
	VideoID       string
	DriveFileID   string
	DriveFolderID string
	Hashtags      []string
	CreatedAt     time.Time
}

// InsertTikTokVideo stores a download record. Hashtags are kept as JSONB.
func InsertTikTokVideo(ctx context.Context, dbx *sql.DB, v TikTokVideo) (string, error) {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	tags, err := json.Marshal(v.Hashtags)
	if err != nil {
		return "", fmt.Errorf("marshal hashtags: %w", err)
	}
	_, err = dbx.ExecContext(ctx,
		`INSERT INTO tiktok_videos(id, auth_user_id, account_id, video_id, drive_file_id, drive_folder_id, hashtags)
		 VALUES($1,$2,NULLIF($3,'')::uuid,$4,NULLIF($5,''),NULLIF($6,''),$7)`,
		v.ID, v.AuthUserID, v.AccountID, v.VideoID, v.DriveFileID, v.DriveFolderID, tags)
	if err != nil {
		return "", fmt.Errorf("insert tiktok video: %w", err)
	}
	return v.ID, nil
}

// ListTikTokVideos returns the user's downloaded videos, newest first.
func ListTikTokVideos(ctx context.Context, dbx *sql.DB, authUserID string, limit int) ([]TikTokVideo, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := dbx.QueryContext(ctx,
		`SELECT id, auth_user_id, COALESCE(account_id::text,''), video_id, COALESCE(drive_file_id,''), COALESCE(drive_folder_id,''), hashtags, created_at
		 FROM tiktok_videos WHERE auth_user_id=$1 ORDER BY created_at DESC LIMIT $2`,
		authUserID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]TikTokVideo, 0)
	for rows.Next() {
		var v TikTokVideo
		var tags []byte
		if err := rows.Scan(&v.ID, &v.AuthUserID, &v.AccountID, &v.VideoID, &v.DriveFileID, &v.DriveFolderID, &tags, &v.CreatedAt); err != nil {
			return nil, err
		}
		if len(tags) > 0 {
			if err := json.Unmarshal(tags, &v.Hashtags); err != nil {
				return nil, fmt.Errorf("unmarshal hashtags: %w", err)
			}
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// HasTikTokVideo reports whether the video was already downloaded for the user.
// Used to skip duplicates inside a batch.
func HasTikTokVideo(ctx context.Context, dbx *sql.DB, authUserID, videoID string) (bool, error) {
	var one int
	err := dbx.QueryRowContext(ctx,
		`SELECT 1 FROM tiktok_videos WHERE auth_user_id=$1 AND video_id=$2 LIMIT 1`,
		authUserID, videoID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
