package uploads

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/okaneo/drivetube/backend/db"
	"github.com/okaneo/drivetube/backend/googleapi"
	"github.com/okaneo/drivetube/backend/token"
)

// Scheduler runs periodic maintenance: audit-log retention and Drive change
// polling for every user with a saved cursor.
type Scheduler struct {
	cron   *cron.Cron
	db     *sql.DB
	tokens *token.Manager
}

// NewScheduler creates the maintenance scheduler.
func NewScheduler(dbx *sql.DB, tm *token.Manager) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		db:     dbx,
		tokens: tm,
	}
}

// Start registers the jobs and begins ticking. Stop with ctx cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	// Trim upload history daily at 3:14 AM.
	_, _ = s.cron.AddFunc("14 3 * * *", func() {
		s.pruneLogs(ctx)
	})
	// Record a sweep heartbeat and poll Drive changes every 15 minutes.
	_, _ = s.cron.AddFunc("*/15 * * * *", func() {
		s.pollDriveChanges(ctx)
	})
	s.cron.Start()
	slog.Info("maintenance scheduler started")

	go func() {
		<-ctx.Done()
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
		slog.Info("maintenance scheduler stopped")
	}()
}

func retentionDays() int {
	if s := os.Getenv("LOG_RETENTION_DAYS"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 90
}

func (s *Scheduler) pruneLogs(ctx context.Context) {
	days := retentionDays()
	n, err := db.PruneUploadLogs(ctx, s.db, time.Duration(days)*24*time.Hour)
	if err != nil {
		slog.Warn("prune upload logs", slog.Any("err", err))
		return
	}
	_ = db.SetKV(ctx, s.db, "job_log_retention_last", time.Now().UTC().Format(time.RFC3339))
	if n > 0 {
		slog.Info("pruned upload logs", slog.Int64("count", n), slog.Int("retention_days", days))
	}
}

// pollDriveChanges advances every saved Changes cursor. A user appears here
// after their first file listing stored a start token.
func (s *Scheduler) pollDriveChanges(ctx context.Context) {
	_ = db.SetKV(ctx, s.db, "job_drive_sync_last", time.Now().UTC().Format(time.RFC3339))

	rows, err := s.db.QueryContext(ctx,
		`SELECT ds.user_email, a.id, a.owner_id
		 FROM drive_sync ds
		 JOIN accounts a ON a.email = ds.user_email AND a.is_primary
		 WHERE ds.page_token <> ''`)
	if err != nil {
		slog.Warn("drive sync query", slog.Any("err", err))
		return
	}
	defer func() { _ = rows.Close() }()

	type target struct{ email, accountID, ownerID string }
	var targets []target
	for rows.Next() {
		var t target
		if err := rows.Scan(&t.email, &t.accountID, &t.ownerID); err != nil {
			slog.Warn("drive sync scan", slog.Any("err", err))
			return
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		slog.Warn("drive sync rows", slog.Any("err", err))
		return
	}

	for _, t := range targets {
		if ctx.Err() != nil {
			return
		}
		s.syncOne(ctx, t.email, t.ownerID, t.accountID)
	}
}

func (s *Scheduler) syncOne(ctx context.Context, email, ownerID, accountID string) {
	pageToken, err := db.GetDrivePageToken(ctx, s.db, email)
	if err != nil || pageToken == "" {
		return
	}
	accessToken, err := s.tokens.GetValidAccessToken(ctx, ownerID, accountID)
	if err != nil {
		slog.Warn("drive sync token", slog.String("email", email), slog.Any("err", err))
		return
	}
	drive, err := googleapi.NewDrive(ctx, accessToken)
	if err != nil {
		slog.Warn("drive sync client", slog.Any("err", err))
		return
	}
	changes, newToken, err := drive.Changes(ctx, pageToken)
	if err != nil {
		slog.Warn("drive sync changes", slog.String("email", email), slog.Any("err", err))
		return
	}
	if newToken != "" && newToken != pageToken {
		if err := db.SetDrivePageToken(ctx, s.db, email, newToken); err != nil {
			slog.Warn("drive sync save cursor", slog.Any("err", err))
			return
		}
	}
	if len(changes) > 0 {
		slog.Info("drive changes observed",
			slog.String("email", email), slog.Int("count", len(changes)))
	}
}
