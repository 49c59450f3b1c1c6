package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// User is one authenticated person; created on first Google sign-in.
type User struct {
	ID        string
	Email     string
	Name      string
	AvatarURL string
	GoogleID  string
}

// Account is one linked Google account. A user may own many; at most one is
// primary (enforced both by SetPrimaryAccount's transaction and a partial
// unique index).
type Account struct {
	ID          string
	OwnerID     string
	Name        string
	Email       string
	Image       string
	AccountType string
	IsPrimary   bool
}

// UpsertUser creates the user on first sign-in (keyed by google_id) or
// refreshes profile fields on subsequent sign-ins. Returns the user ID.
func UpsertUser(ctx context.Context, dbx *sql.DB, u User) (string, error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	var id string
	err := dbx.QueryRowContext(ctx,
		`INSERT INTO users(id, email, name, avatar_url, google_id)
		 VALUES($1,$2,$3,$4,$5)
		 ON CONFLICT(google_id) DO UPDATE SET email=EXCLUDED.email, name=EXCLUDED.name, avatar_url=EXCLUDED.avatar_url
		 RETURNING id`,
		u.ID, u.Email, u.Name, u.AvatarURL, u.GoogleID).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert user: %w", err)
	}
	return id, nil
}

// GetUserByID loads a user row.
func GetUserByID(ctx context.Context, dbx *sql.DB, id string) (*User, error) {
	var u User
	err := dbx.QueryRowContext(ctx,
		`SELECT id, email, COALESCE(name,''), COALESCE(avatar_url,''), COALESCE(google_id,'') FROM users WHERE id=$1`, id).
		Scan(&u.ID, &u.Email, &u.Name, &u.AvatarURL, &u.GoogleID)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UpsertAccount links a Google account to a user (keyed by owner+email) and
// returns the account ID. The first account a user links becomes primary.
func UpsertAccount(ctx context.Context, dbx *sql.DB, a Account) (string, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.AccountType == "" {
		a.AccountType = "google"
	}
	var existing string
	err := dbx.QueryRowContext(ctx,
		`SELECT id FROM accounts WHERE owner_id=$1 AND email=$2`, a.OwnerID, a.Email).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		var count int
		if err := dbx.QueryRowContext(ctx, `SELECT COUNT(1) FROM accounts WHERE owner_id=$1`, a.OwnerID).Scan(&count); err != nil {
			return "", err
		}
		_, err = dbx.ExecContext(ctx,
			`INSERT INTO accounts(id, owner_id, name, email, image, account_type, is_primary)
			 VALUES($1,$2,$3,$4,$5,$6,$7)`,
			a.ID, a.OwnerID, a.Name, a.Email, a.Image, a.AccountType, count == 0)
		if err != nil {
			return "", fmt.Errorf("insert account: %w", err)
		}
		return a.ID, nil
	case err != nil:
		return "", err
	default:
		_, err = dbx.ExecContext(ctx,
			`UPDATE accounts SET name=$2, image=$3 WHERE id=$1`, existing, a.Name, a.Image)
		if err != nil {
			return "", fmt.Errorf("update account: %w", err)
		}
		return existing, nil
	}
}

// ListAccounts returns all accounts owned by a user, primary first.
func ListAccounts(ctx context.Context, dbx *sql.DB, ownerID string) ([]Account, error) {
	rows, err := dbx.QueryContext(ctx,
		`SELECT id, owner_id, COALESCE(name,''), email, COALESCE(image,''), COALESCE(account_type,'google'), COALESCE(is_primary,FALSE)
		 FROM accounts WHERE owner_id=$1 ORDER BY is_primary DESC, created_at ASC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]Account, 0)
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.Name, &a.Email, &a.Image, &a.AccountType, &a.IsPrimary); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetAccount loads a single account owned by the given user.
func GetAccount(ctx context.Context, dbx *sql.DB, ownerID, accountID string) (*Account, error) {
	var a Account
	err := dbx.QueryRowContext(ctx,
		`SELECT id, owner_id, COALESCE(name,''), email, COALESCE(image,''), COALESCE(account_type,'google'), COALESCE(is_primary,FALSE)
		 FROM accounts WHERE owner_id=$1 AND id=$2`, ownerID, accountID).
		Scan(&a.ID, &a.OwnerID, &a.Name, &a.Email, &a.Image, &a.AccountType, &a.IsPrimary)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// PrimaryAccount returns the user's primary account, or sql.ErrNoRows when none is set.
func PrimaryAccount(ctx context.Context, dbx *sql.DB, ownerID string) (*Account, error) {
	var a Account
	err := dbx.QueryRowContext(ctx,
		`SELECT id, owner_id, COALESCE(name,''), email, COALESCE(image,''), COALESCE(account_type,'google'), COALESCE(is_primary,FALSE)
		 FROM accounts WHERE owner_id=$1 AND is_primary`, ownerID).
		Scan(&a.ID, &a.OwnerID, &a.Name, &a.Email, &a.Image, &a.AccountType, &a.IsPrimary)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// SetPrimaryAccount makes exactly one account primary for the owner. The
// clear-then-set runs inside a single transaction so concurrent requests
// serialize instead of leaving two primaries.
func SetPrimaryAccount(ctx context.Context, dbx *sql.DB, ownerID, accountID string) error {
	tx, err := dbx.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Serialize per owner: concurrent flips queue on the user row instead of
	// interleaving clear and set, which could leave two primaries or trip the
	// partial unique index.
	if _, err := tx.ExecContext(ctx,
		`SELECT 1 FROM users WHERE id=$1 FOR UPDATE`, ownerID); err != nil {
		return fmt.Errorf("lock owner: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE accounts SET is_primary=FALSE WHERE owner_id=$1 AND is_primary`, ownerID); err != nil {
		return fmt.Errorf("clear primary: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE accounts SET is_primary=TRUE WHERE owner_id=$1 AND id=$2`, ownerID, accountID)
	if err != nil {
		return fmt.Errorf("set primary: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return tx.Commit()
}

// AccountOwner resolves the owning user of an account.
func AccountOwner(ctx context.Context, dbx *sql.DB, accountID string) (string, error) {
	var ownerID string
	err := dbx.QueryRowContext(ctx, `SELECT owner_id FROM accounts WHERE id=$1`, accountID).Scan(&ownerID)
	if err != nil {
		return "", err
	}
	return ownerID, nil
}

// DeleteAccount unlinks an account (tokens cascade via FK).
func DeleteAccount(ctx context.Context, dbx *sql.DB, ownerID, accountID string) error {
	res, err := dbx.ExecContext(ctx, `DELETE FROM accounts WHERE owner_id=$1 AND id=$2`, ownerID, accountID)
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
