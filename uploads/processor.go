// Package uploads runs the scheduled Drive→YouTube transfer pipeline: a
// ticker-driven claim loop over scheduled_uploads, a kv-backed circuit
// breaker, a concurrency cap, and cron maintenance jobs.
package uploads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/okaneo/drivetube/backend/db"
	"github.com/okaneo/drivetube/backend/googleapi"
	"github.com/okaneo/drivetube/backend/telemetry"
	"github.com/okaneo/drivetube/backend/token"
)

// TransferFunc moves one claimed upload from Drive to YouTube and returns the
// resulting video ID. progress persists byte counters as chunks land.
type TransferFunc func(ctx context.Context, up *db.ScheduledUpload, progress func(current, total int64)) (string, error)

// Processor owns the claim loop.
type Processor struct {
	DB       *sql.DB
	Tokens   *token.Manager
	Transfer TransferFunc

	Interval    time.Duration
	MaxAttempts int
	Cooldown    time.Duration
	StuckAfter  time.Duration
}

// NewProcessor builds a Processor using the real Drive→YouTube transfer and
// env-tunable knobs.
func NewProcessor(dbx *sql.DB, tm *token.Manager) *Processor {
	p := &Processor{
		DB:          dbx,
		Tokens:      tm,
		Interval:    time.Minute,
		MaxAttempts: 5,
		Cooldown:    10 * time.Minute,
		StuckAfter:  30 * time.Minute,
	}
	p.Transfer = p.driveToYouTube
	if s := os.Getenv("UPLOAD_PROCESS_INTERVAL"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			p.Interval = d
		}
	}
	if s := os.Getenv("UPLOAD_MAX_ATTEMPTS"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			p.MaxAttempts = n
		}
	}
	if s := os.Getenv("UPLOAD_RETRY_COOLDOWN"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			p.Cooldown = d
		}
	}
	return p
}

// Start runs the claim loop until ctx is canceled.
func (p *Processor) Start(ctx context.Context) {
	slog.Info("upload processing job starting", slog.Duration("interval", p.Interval))
	// Kick an immediate run so we don't wait a full interval after boot.
	if err := p.ProcessOnce(ctx); err != nil {
		slog.Warn("process once", slog.Any("err", err))
	}
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("upload processing job stopped")
			return
		case <-ticker.C:
			if err := p.ProcessOnce(ctx); err != nil {
				slog.Warn("process once", slog.Any("err", err))
			}
		}
	}
}

// ProcessOnce claims and transfers at most one due upload.
func (p *Processor) ProcessOnce(ctx context.Context) error {
	_ = db.SetKV(ctx, p.DB, "job_upload_process_last",
		time.Now().UTC().Format(time.RFC3339))

	if !circuitAllows(ctx, p.DB) {
		telemetry.UpdateCircuitGauge(true)
		return nil
	}

	if n, err := db.ResetStuckUploads(ctx, p.DB, p.StuckAfter); err == nil && n > 0 {
		slog.Warn("reset stuck uploads", slog.Int64("count", n))
	}
	if n, err := db.RequeueFailedUploads(ctx, p.DB, p.MaxAttempts, p.Cooldown); err == nil && n > 0 {
		slog.Info("requeued failed uploads", slog.Int64("count", n))
	}

	if depth, err := db.CountPendingUploads(ctx, p.DB); err == nil {
		telemetry.SetQueueDepth(depth)
	}

	up, err := db.ClaimDueUpload(ctx, p.DB)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim upload: %w", err)
	}

	if telemetry.ProcessingCycles != nil {
		telemetry.ProcessingCycles.Inc()
	}
	logger := slog.Default().With(
		slog.String("upload_id", up.ID),
		slog.String("file_id", up.FileID),
		slog.String("component", "upload_process"))

	if !acquireTransferSlot(ctx) {
		// Shutting down; put the row back for the next instance.
		_, _ = p.DB.ExecContext(ctx, `UPDATE scheduled_uploads SET status='pending' WHERE id=$1`, up.ID)
		return ctx.Err()
	}
	defer releaseTransferSlot()

	tctx, cancel := context.WithCancel(ctx)
	registerCancel(up.ID, cancel)
	defer func() {
		cancel()
		unregisterCancel(up.ID)
	}()

	if telemetry.UploadsStarted != nil {
		telemetry.UploadsStarted.Inc()
	}
	start := time.Now()
	videoID, err := p.Transfer(tctx, up, func(current, total int64) {
		_ = db.UpdateUploadProgress(ctx, p.DB, up.ID, current, total, "uploading")
	})
	if err != nil {
		return p.finishFailure(ctx, logger, up, err)
	}

	dur := time.Since(start)
	if telemetry.UploadsSucceeded != nil {
		telemetry.UploadsSucceeded.Inc()
	}
	if telemetry.UploadDuration != nil {
		telemetry.UploadDuration.Observe(dur.Seconds())
	}
	resetCircuit(ctx, p.DB)
	telemetry.UpdateCircuitGauge(false)

	_ = db.AppendUploadLog(ctx, p.DB, db.UploadLog{
		UserEmail:  up.UserEmail,
		VideoID:    videoID,
		FileID:     up.FileID,
		YouTubeURL: googleapi.WatchURL(videoID),
		Status:     "success",
	})
	if err := db.DeleteScheduledUpload(ctx, p.DB, up.ID); err != nil {
		logger.Warn("failed to remove finished upload", slog.Any("err", err))
	}
	logger.Info("upload complete",
		slog.String("video_id", videoID), slog.Duration("upload_duration", dur))
	return nil
}

func (p *Processor) finishFailure(ctx context.Context, logger *slog.Logger, up *db.ScheduledUpload, err error) error {
	if telemetry.UploadsFailed != nil {
		telemetry.UploadsFailed.Inc()
	}
	msg := err.Error()
	switch {
	case errors.Is(err, context.Canceled):
		// Cancelled via the registry; the row was already deleted by the
		// cancel endpoint, so logging is all that is left.
		logger.Info("upload cancelled mid-transfer")
		return nil
	case errors.Is(err, token.ErrReauthRequired):
		// Retrying is pointless until the user relinks the account.
		logger.Warn("upload needs re-authorization")
		_, _ = p.DB.ExecContext(ctx,
			`UPDATE scheduled_uploads SET status='failed', error_message=$2, attempts=$3, updated_at=NOW() WHERE id=$1`,
			up.ID, "account requires re-authorization", p.MaxAttempts)
	default:
		logger.Error("upload failed", slog.Any("err", err))
		_ = db.MarkUploadFailed(ctx, p.DB, up.ID, msg)
		updateCircuitOnFailure(ctx, p.DB)
		telemetry.UpdateCircuitGauge(true)
	}
	_ = db.AppendUploadLog(ctx, p.DB, db.UploadLog{
		UserEmail:    up.UserEmail,
		FileID:       up.FileID,
		Status:       "error",
		ErrorMessage: msg,
	})
	return nil
}

// driveToYouTube is the production transfer: mint an access token for the
// upload's account, stream the file out of Drive and into a YouTube insert.
func (p *Processor) driveToYouTube(ctx context.Context, up *db.ScheduledUpload, progress func(current, total int64)) (string, error) {
	if up.AccountID == "" {
		return "", fmt.Errorf("upload %s has no account", up.ID)
	}
	ownerID, err := db.AccountOwner(ctx, p.DB, up.AccountID)
	if err != nil {
		return "", fmt.Errorf("resolve account owner: %w", err)
	}
	accessToken, err := p.Tokens.GetValidAccessToken(ctx, ownerID, up.AccountID)
	if err != nil {
		return "", err
	}

	drive, err := googleapi.NewDrive(ctx, accessToken)
	if err != nil {
		return "", err
	}
	body, size, err := drive.Download(ctx, up.FileID)
	if err != nil {
		return "", err
	}
	defer func() { _ = body.Close() }()

	yt, err := googleapi.NewYouTube(ctx, accessToken)
	if err != nil {
		return "", err
	}
	return yt.Upload(ctx, body, size, googleapi.VideoMeta{
		Title:       up.Title,
		Description: up.Description,
		Privacy:     up.Privacy,
	}, progress)
}
