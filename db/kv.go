package db

import (
	"context"
	"database/sql"
)

// SetKV upserts a small operational value (job heartbeats, circuit state).
func SetKV(ctx context.Context, dbx *sql.DB, key, value string) error {
	_, err := dbx.ExecContext(ctx,
		`INSERT INTO kv (key,value,updated_at) VALUES ($1,$2,NOW())
		 ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`,
		key, value)
	return err
}

// GetKV returns the stored value, or "" when absent.
func GetKV(ctx context.Context, dbx *sql.DB, key string) (string, error) {
	var v string
	err := dbx.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=$1`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

// GetDrivePageToken returns the user's saved Changes cursor, or "" when the
// sync has never run.
func GetDrivePageToken(ctx context.Context, dbx *sql.DB, userEmail string) (string, error) {
	var tok string
	err := dbx.QueryRowContext(ctx,
		`SELECT COALESCE(page_token,'') FROM drive_sync WHERE user_email=$1`, userEmail).Scan(&tok)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return tok, nil
}

// SetDrivePageToken saves the cursor returned by the Drive Changes API.
func SetDrivePageToken(ctx context.Context, dbx *sql.DB, userEmail, token string) error {
	_, err := dbx.ExecContext(ctx,
		`INSERT INTO drive_sync (user_email, page_token, updated_at) VALUES ($1,$2,NOW())
		 ON CONFLICT(user_email) DO UPDATE SET page_token=EXCLUDED.page_token, updated_at=NOW()`,
		userEmail, token)
	return err
}
