package db_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okaneo/drivetube/backend/db"
	"github.com/okaneo/drivetube/backend/testutil"
)

func seedUser(t *testing.T, dbx *sql.DB, email, googleID string) string {
	t.Helper()
	id, err := db.UpsertUser(context.Background(), dbx, db.User{Email: email, GoogleID: googleID})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	t.Cleanup(func() {
		_, _ = dbx.Exec(`DELETE FROM users WHERE id=$1`, id)
	})
	return id
}

func TestUpsertUserIdempotent(t *testing.T) {
	dbx := testutil.SetupTestDB(t)
	ctx := context.Background()

	id1, err := db.UpsertUser(ctx, dbx, db.User{Email: "u1@example.com", Name: "First", GoogleID: "g-u1"})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	t.Cleanup(func() { _, _ = dbx.Exec(`DELETE FROM users WHERE id=$1`, id1) })

	id2, err := db.UpsertUser(ctx, dbx, db.User{Email: "u1@example.com", Name: "Renamed", GoogleID: "g-u1"})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if id1 != id2 {
		t.Errorf("same google_id produced two users: %s vs %s", id1, id2)
	}

	u, err := db.GetUserByID(ctx, dbx, id1)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if u.Name != "Renamed" {
		t.Errorf("name = %q, want Renamed", u.Name)
	}
}

func TestFirstAccountBecomesPrimary(t *testing.T) {
	dbx := testutil.SetupTestDB(t)
	ctx := context.Background()
	userID := seedUser(t, dbx, "acc1@example.com", "g-acc1")

	first, err := db.UpsertAccount(ctx, dbx, db.Account{OwnerID: userID, Email: "acc1@example.com"})
	if err != nil {
		t.Fatalf("first account: %v", err)
	}
	second, err := db.UpsertAccount(ctx, dbx, db.Account{OwnerID: userID, Email: "acc1-alt@example.com"})
	if err != nil {
		t.Fatalf("second account: %v", err)
	}

	accounts, err := db.ListAccounts(ctx, dbx, userID)
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("len(accounts) = %d, want 2", len(accounts))
	}
	if accounts[0].ID != first || !accounts[0].IsPrimary {
		t.Errorf("first linked account not primary: %+v", accounts[0])
	}
	for _, a := range accounts {
		if a.ID == second && a.IsPrimary {
			t.Error("second account unexpectedly primary")
		}
	}
}

func TestSetPrimaryAccountExactlyOne(t *testing.T) {
	dbx := testutil.SetupTestDB(t)
	ctx := context.Background()
	userID := seedUser(t, dbx, "prim@example.com", "g-prim")

	a1, err := db.UpsertAccount(ctx, dbx, db.Account{OwnerID: userID, Email: "prim-a@example.com"})
	if err != nil {
		t.Fatalf("account a: %v", err)
	}
	a2, err := db.UpsertAccount(ctx, dbx, db.Account{OwnerID: userID, Email: "prim-b@example.com"})
	if err != nil {
		t.Fatalf("account b: %v", err)
	}

	if err := db.SetPrimaryAccount(ctx, dbx, userID, a2); err != nil {
		t.Fatalf("SetPrimaryAccount: %v", err)
	}

	var primaries int
	if err := dbx.QueryRow(`SELECT COUNT(1) FROM accounts WHERE owner_id=$1 AND is_primary`, userID).Scan(&primaries); err != nil {
		t.Fatalf("count primaries: %v", err)
	}
	if primaries != 1 {
		t.Errorf("primaries = %d, want exactly 1", primaries)
	}

	p, err := db.PrimaryAccount(ctx, dbx, userID)
	if err != nil {
		t.Fatalf("PrimaryAccount: %v", err)
	}
	if p.ID != a2 {
		t.Errorf("primary = %s, want %s", p.ID, a2)
	}

	// Flipping back also leaves exactly one.
	if err := db.SetPrimaryAccount(ctx, dbx, userID, a1); err != nil {
		t.Fatalf("SetPrimaryAccount back: %v", err)
	}
	if err := dbx.QueryRow(`SELECT COUNT(1) FROM accounts WHERE owner_id=$1 AND is_primary`, userID).Scan(&primaries); err != nil {
		t.Fatalf("count primaries: %v", err)
	}
	if primaries != 1 {
		t.Errorf("after flip primaries = %d, want 1", primaries)
	}
}

func TestSetPrimaryAccountConcurrent(t *testing.T) {
	dbx := testutil.SetupTestDB(t)
	ctx := context.Background()
	userID := seedUser(t, dbx, "race@example.com", "g-race")

	accounts := make([]string, 4)
	for i := range accounts {
		id, err := db.UpsertAccount(ctx, dbx, db.Account{
			OwnerID: userID,
			Email:   fmt.Sprintf("race-%d@example.com", i),
		})
		if err != nil {
			t.Fatalf("account %d: %v", i, err)
		}
		accounts[i] = id
	}

	// Flip the primary from many goroutines at once. Requests must serialize:
	// every call succeeds and exactly one account ends up primary.
	var wg sync.WaitGroup
	errs := make(chan error, len(accounts)*3)
	for i := 0; i < len(accounts)*3; i++ {
		wg.Add(1)
		go func(accountID string) {
			defer wg.Done()
			if err := db.SetPrimaryAccount(ctx, dbx, userID, accountID); err != nil {
				errs <- err
			}
		}(accounts[i%len(accounts)])
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent SetPrimaryAccount: %v", err)
	}

	var primaries int
	if err := dbx.QueryRow(`SELECT COUNT(1) FROM accounts WHERE owner_id=$1 AND is_primary`, userID).Scan(&primaries); err != nil {
		t.Fatalf("count primaries: %v", err)
	}
	if primaries != 1 {
		t.Errorf("primaries = %d, want exactly 1", primaries)
	}
}

func TestSetPrimaryAccountUnknownID(t *testing.T) {
	dbx := testutil.SetupTestDB(t)
	userID := seedUser(t, dbx, "prim2@example.com", "g-prim2")
	err := db.SetPrimaryAccount(context.Background(), dbx, userID, "00000000-0000-0000-0000-00000000dead")
	if err != sql.ErrNoRows {
		t.Errorf("err = %v, want sql.ErrNoRows", err)
	}
}

func TestClaimDueUpload(t *testing.T) {
	dbx := testutil.SetupTestDB(t)
	ctx := context.Background()

	id, err := db.InsertScheduledUpload(ctx, dbx, db.ScheduledUpload{
		UserEmail:     "claim@example.com",
		FileID:        "drive-file-1",
		Title:         "clip",
		ScheduledTime: time.Now().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	t.Cleanup(func() { _, _ = dbx.Exec(`DELETE FROM scheduled_uploads WHERE id=$1`, id) })

	claimed, err := db.ClaimDueUpload(ctx, dbx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.ID != id {
		t.Errorf("claimed %s, want %s", claimed.ID, id)
	}
	if claimed.Status != db.UploadStatusProcessing {
		t.Errorf("status = %q, want processing", claimed.Status)
	}
	if claimed.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", claimed.Attempts)
	}

	// Nothing else due.
	if _, err := db.ClaimDueUpload(ctx, dbx); err != sql.ErrNoRows {
		t.Errorf("second claim err = %v, want sql.ErrNoRows", err)
	}
}

func TestClaimSkipsFutureUploads(t *testing.T) {
	dbx := testutil.SetupTestDB(t)
	ctx := context.Background()

	id, err := db.InsertScheduledUpload(ctx, dbx, db.ScheduledUpload{
		UserEmail:     "future@example.com",
		FileID:        "drive-file-2",
		ScheduledTime: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	t.Cleanup(func() { _, _ = dbx.Exec(`DELETE FROM scheduled_uploads WHERE id=$1`, id) })

	if _, err := db.ClaimDueUpload(ctx, dbx); err != sql.ErrNoRows {
		t.Errorf("claim of future upload err = %v, want sql.ErrNoRows", err)
	}
}

func TestUploadProgressPersists(t *testing.T) {
	dbx := testutil.SetupTestDB(t)
	ctx := context.Background()

	id, err := db.InsertScheduledUpload(ctx, dbx, db.ScheduledUpload{
		UserEmail:     "prog@example.com",
		FileID:        "drive-file-3",
		ScheduledTime: time.Now().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	t.Cleanup(func() { _, _ = dbx.Exec(`DELETE FROM scheduled_uploads WHERE id=$1`, id) })

	if err := db.UpdateUploadProgress(ctx, dbx, id, 1024, 4096, "resume-uri-xyz"); err != nil {
		t.Fatalf("UpdateUploadProgress: %v", err)
	}
	got, err := db.GetScheduledUpload(ctx, dbx, id)
	if err != nil {
		t.Fatalf("GetScheduledUpload: %v", err)
	}
	if got.BytesUploaded != 1024 || got.BytesTotal != 4096 {
		t.Errorf("progress = %d/%d, want 1024/4096", got.BytesUploaded, got.BytesTotal)
	}
	if got.UploadState != "resume-uri-xyz" {
		t.Errorf("upload state = %q", got.UploadState)
	}
}

func TestCancelDeletesRow(t *testing.T) {
	dbx := testutil.SetupTestDB(t)
	ctx := context.Background()

	id, err := db.InsertScheduledUpload(ctx, dbx, db.ScheduledUpload{
		UserEmail:     "cancel@example.com",
		FileID:        "drive-file-4",
		ScheduledTime: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := db.CancelUpload(ctx, dbx, "cancel@example.com", id); err != nil {
		t.Fatalf("CancelUpload: %v", err)
	}
	if _, err := db.GetScheduledUpload(ctx, dbx, id); err != sql.ErrNoRows {
		t.Errorf("row still present after cancel: %v", err)
	}

	// Cancelling someone else's upload is a no-op.
	if err := db.CancelUpload(ctx, dbx, "other@example.com", id); err != sql.ErrNoRows {
		t.Errorf("cross-user cancel err = %v, want sql.ErrNoRows", err)
	}
}

func TestTikTokDedup(t *testing.T) {
	dbx := testutil.SetupTestDB(t)
	ctx := context.Background()
	userID := seedUser(t, dbx, "tt@example.com", "g-tt")

	_, err := db.InsertTikTokVideo(ctx, dbx, db.TikTokVideo{
		AuthUserID: userID,
		VideoID:    "7123456789",
		Hashtags:   []string{"fyp", "golang"},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	seen, err := db.HasTikTokVideo(ctx, dbx, userID, "7123456789")
	if err != nil {
		t.Fatalf("HasTikTokVideo: %v", err)
	}
	if !seen {
		t.Error("inserted video not found")
	}
	seen, err = db.HasTikTokVideo(ctx, dbx, userID, "000")
	if err != nil {
		t.Fatalf("HasTikTokVideo: %v", err)
	}
	if seen {
		t.Error("unknown video reported as seen")
	}

	vids, err := db.ListTikTokVideos(ctx, dbx, userID, 10)
	if err != nil {
		t.Fatalf("ListTikTokVideos: %v", err)
	}
	if len(vids) != 1 {
		t.Fatalf("len = %d, want 1", len(vids))
	}
	if len(vids[0].Hashtags) != 2 {
		t.Errorf("hashtags = %v", vids[0].Hashtags)
	}

	t.Cleanup(func() { _, _ = dbx.Exec(`DELETE FROM tiktok_videos WHERE auth_user_id=$1`, userID) })
}

func TestKVRoundTrip(t *testing.T) {
	dbx := testutil.SetupTestDB(t)
	ctx := context.Background()

	if v, err := db.GetKV(ctx, dbx, "test_missing_key"); err != nil || v != "" {
		t.Errorf("GetKV missing = (%q, %v), want empty", v, err)
	}
	if err := db.SetKV(ctx, dbx, "test_key", "v1"); err != nil {
		t.Fatalf("SetKV: %v", err)
	}
	if err := db.SetKV(ctx, dbx, "test_key", "v2"); err != nil {
		t.Fatalf("SetKV overwrite: %v", err)
	}
	v, err := db.GetKV(ctx, dbx, "test_key")
	if err != nil {
		t.Fatalf("GetKV: %v", err)
	}
	if v != "v2" {
		t.Errorf("GetKV = %q, want v2", v)
	}
	t.Cleanup(func() { _, _ = dbx.Exec(`DELETE FROM kv WHERE key='test_key'`) })
}

func TestDrivePageTokenRoundTrip(t *testing.T) {
	dbx := testutil.SetupTestDB(t)
	ctx := context.Background()

	if tok, err := db.GetDrivePageToken(ctx, dbx, "sync@example.com"); err != nil || tok != "" {
		t.Errorf("initial token = (%q, %v), want empty", tok, err)
	}
	if err := db.SetDrivePageToken(ctx, dbx, "sync@example.com", "cursor-9"); err != nil {
		t.Fatalf("SetDrivePageToken: %v", err)
	}
	tok, err := db.GetDrivePageToken(ctx, dbx, "sync@example.com")
	if err != nil {
		t.Fatalf("GetDrivePageToken: %v", err)
	}
	if tok != "cursor-9" {
		t.Errorf("token = %q, want cursor-9", tok)
	}
	t.Cleanup(func() { _, _ = dbx.Exec(`DELETE FROM drive_sync WHERE user_email='sync@example.com'`) })
}
