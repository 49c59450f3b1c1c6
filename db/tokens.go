package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/okaneo/drivetube/backend/crypto"
)

// UserToken is a stored Google OAuth credential for one linked account.
// A row is the sole source of truth for whether that account can call
// Google APIs on the user's behalf.
type UserToken struct {
	AuthUserID   string
	AccountID    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scope        string
	IsValid      bool
	ErrorMessage string
}

// UpsertUserToken stores or updates the token for (auth_user_id, account_id),
// clearing any prior error annotation. If encryption is enabled (ENCRYPTION_KEY
// set), tokens are encrypted before storage; encryption_version=1 marks
// encrypted rows, version=0 plaintext.
func UpsertUserToken(ctx context.Context, dbx *sql.DB, t UserToken) error {
	enc, err := getEncryptor()
	if err != nil {
		return fmt.Errorf("get encryptor: %w", err)
	}

	encVersion := 0
	accessToStore := t.AccessToken
	refreshToStore := t.RefreshToken
	if enc != nil {
		encVersion = 1
		if t.AccessToken != "" {
			if accessToStore, err = crypto.EncryptString(enc, t.AccessToken); err != nil {
				return fmt.Errorf("encrypt access token: %w", err)
			}
		}
		if t.RefreshToken != "" {
			if refreshToStore, err = crypto.EncryptString(enc, t.RefreshToken); err != nil {
				return fmt.Errorf("encrypt refresh token: %w", err)
			}
		}
	}

	q := `INSERT INTO user_tokens(auth_user_id, account_id, access_token, refresh_token, expires_at, scope, is_valid, error_message, encryption_version, updated_at)
		  VALUES($1,$2,$3,$4,$5,$6,TRUE,NULL,$7,NOW())
		  ON CONFLICT(auth_user_id, account_id) DO UPDATE SET
		    access_token=EXCLUDED.access_token,
		    refresh_token=EXCLUDED.refresh_token,
		    expires_at=EXCLUDED.expires_at,
		    scope=EXCLUDED.scope,
		    is_valid=TRUE,
		    error_message=NULL,
		    encryption_version=EXCLUDED.encryption_version,
		    updated_at=NOW()`
	_, err = dbx.ExecContext(ctx, q, t.AuthUserID, t.AccountID, accessToStore, refreshToStore, t.ExpiresAt, t.Scope, encVersion)
	return err
}

// GetUserToken retrieves a stored token row, decrypting when encryption_version=1.
// Returns sql.ErrNoRows when no row exists for the identity.
func GetUserToken(ctx context.Context, dbx *sql.DB, authUserID, accountID string) (*UserToken, error) {
	var t UserToken
	var encVersion int
	var errMsg sql.NullString
	row := dbx.QueryRowContext(ctx,
		`SELECT auth_user_id, account_id, COALESCE(access_token,''), COALESCE(refresh_token,''),
		        COALESCE(expires_at, to_timestamp(0)), COALESCE(scope,''), COALESCE(is_valid,TRUE),
		        error_message, COALESCE(encryption_version, 0)
		 FROM user_tokens WHERE auth_user_id=$1 AND account_id=$2`, authUserID, accountID)
	if err := row.Scan(&t.AuthUserID, &t.AccountID, &t.AccessToken, &t.RefreshToken,
		&t.ExpiresAt, &t.Scope, &t.IsValid, &errMsg, &encVersion); err != nil {
		return nil, err
	}
	t.ErrorMessage = errMsg.String

	if encVersion == 1 {
		enc, err := getEncryptor()
		if err != nil {
			return nil, fmt.Errorf("get encryptor for decryption: %w", err)
		}
		if enc == nil {
			return nil, fmt.Errorf("token is encrypted but ENCRYPTION_KEY not configured")
		}
		if t.AccessToken != "" {
			if t.AccessToken, err = crypto.DecryptString(enc, t.AccessToken); err != nil {
				return nil, fmt.Errorf("decrypt access token: %w", err)
			}
		}
		if t.RefreshToken != "" {
			if t.RefreshToken, err = crypto.DecryptString(enc, t.RefreshToken); err != nil {
				return nil, fmt.Errorf("decrypt refresh token: %w", err)
			}
		}
	}
	return &t, nil
}

// DeleteUserToken removes the stored credential entirely. Used when Google
// reports the grant revoked; the user must re-authenticate the account.
func DeleteUserToken(ctx context.Context, dbx *sql.DB, authUserID, accountID string) error {
	_, err := dbx.ExecContext(ctx, `DELETE FROM user_tokens WHERE auth_user_id=$1 AND account_id=$2`, authUserID, accountID)
	return err
}

// AnnotateTokenError records a soft failure on the token row without touching
// the stored credential. The row stays usable for best-effort fallback.
func AnnotateTokenError(ctx context.Context, dbx *sql.DB, authUserID, accountID, msg string) error {
	_, err := dbx.ExecContext(ctx,
		`UPDATE user_tokens SET is_valid=FALSE, error_message=$3, updated_at=NOW()
		 WHERE auth_user_id=$1 AND account_id=$2`, authUserID, accountID, msg)
	return err
}

// ListTokensExpiringWithin returns identities whose tokens expire within the
// window and that still carry a refresh token. Used by the background refresher.
func ListTokensExpiringWithin(ctx context.Context, dbx *sql.DB, window time.Duration) ([]UserToken, error) {
	rows, err := dbx.QueryContext(ctx,
		`SELECT auth_user_id, account_id FROM user_tokens
		 WHERE refresh_token IS NOT NULL AND refresh_token <> ''
		   AND expires_at <= NOW() + $1::interval`,
		fmt.Sprintf("%d seconds", int(window.Seconds())))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []UserToken
	for rows.Next() {
		var t UserToken
		if err := rows.Scan(&t.AuthUserID, &t.AccountID); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
