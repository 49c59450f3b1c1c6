// Package tiktok implements the batch downloader: parse an exported list of
// video links, fetch each video over HTTP, optionally save it to a Drive
// folder, and record the result.
package tiktok

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"time"

	"github.com/okaneo/drivetube/backend/db"
	"github.com/okaneo/drivetube/backend/retry"
	"github.com/okaneo/drivetube/backend/telemetry"
)

// Item is one entry from the exported TikTok JSON.
type Item struct {
	VideoID     string `json:"id"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// ParseBatch decodes either a bare JSON array of items or an object with a
// "videos" field. Items missing both an ID and a URL are dropped; a missing
// ID is recovered from the URL path.
func ParseBatch(r io.Reader) ([]Item, error) {
	raw, err := io.ReadAll(io.LimitReader(r, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read batch: %w", err)
	}
	var items []Item
	if err := json.Unmarshal(raw, &items); err != nil {
		var wrapper struct {
			Videos []Item `json:"videos"`
		}
		if err2 := json.Unmarshal(raw, &wrapper); err2 != nil {
			return nil, fmt.Errorf("decode batch: %w", err)
		}
		items = wrapper.Videos
	}
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.VideoID == "" {
			it.VideoID = videoIDFromURL(it.URL)
		}
		if it.VideoID == "" && it.URL == "" {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

var videoIDRe = regexp.MustCompile(`/video/(\d+)`)

func videoIDFromURL(u string) string {
	m := videoIDRe.FindStringSubmatch(u)
	if len(m) == 2 {
		return m[1]
	}
	return ""
}

var hashtagRe = regexp.MustCompile(`#([\p{L}\p{N}_]+)`)

// ExtractHashtags returns the set of hashtags in a description: duplicates
// removed, leading '#' stripped, original casing preserved, sorted so equal
// sets compare equal.
func ExtractHashtags(description string) []string {
	matches := hashtagRe.FindAllStringSubmatch(description, -1)
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		tag := m[1]
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// DriveSaver is the slice of the Drive client the downloader needs.
type DriveSaver interface {
	EnsureFolder(ctx context.Context, name, parentID string) (string, error)
	Upload(ctx context.Context, name, parentID, mimeType string, r io.Reader) (string, error)
}

// Downloader fetches batch items and records them.
type Downloader struct {
	DB         *sql.DB
	HTTPClient *http.Client
	FolderName string
	Policy     retry.Policy
}

// NewDownloader builds a Downloader with sane HTTP timeouts.
func NewDownloader(dbx *sql.DB, folderName string) *Downloader {
	if folderName == "" {
		folderName = "TikTok Videos"
	}
	return &Downloader{
		DB:         dbx,
		HTTPClient: &http.Client{Timeout: 5 * time.Minute},
		FolderName: folderName,
		Policy:     retry.DefaultPolicy,
	}
}

// Result summarizes one batch run.
type Result struct {
	Downloaded int      `json:"downloaded"`
	Skipped    int      `json:"skipped"`
	Failed     []string `json:"failed,omitempty"`
}

// Run downloads every item in the batch for the given user. When drive is
// non-nil the videos are stored in the configured folder; records are written
// either way. Already-downloaded videos are skipped. One bad item does not
// stop the batch.
func (d *Downloader) Run(ctx context.Context, authUserID, accountID string, drive DriveSaver, items []Item) (*Result, error) {
	res := &Result{}
	folderID := ""
	if drive != nil {
		var err error
		folderID, err = drive.EnsureFolder(ctx, d.FolderName, "")
		if err != nil {
			return nil, fmt.Errorf("ensure folder: %w", err)
		}
	}
	for _, it := range items {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		seen, err := db.HasTikTokVideo(ctx, d.DB, authUserID, it.VideoID)
		if err != nil {
			return res, fmt.Errorf("dedup check: %w", err)
		}
		if seen {
			res.Skipped++
			continue
		}
		start := time.Now()
		if err := d.downloadOne(ctx, authUserID, accountID, drive, folderID, it); err != nil {
			if telemetry.TikTokFailed != nil {
				telemetry.TikTokFailed.Inc()
			}
			slog.Warn("tiktok download failed",
				slog.String("video", it.VideoID), slog.Any("err", err))
			res.Failed = append(res.Failed, it.VideoID)
			continue
		}
		if telemetry.TikTokDownloads != nil {
			telemetry.TikTokDownloads.Inc()
		}
		if telemetry.DownloadDuration != nil {
			telemetry.DownloadDuration.Observe(time.Since(start).Seconds())
		}
		res.Downloaded++
	}
	return res, nil
}

func (d *Downloader) downloadOne(ctx context.Context, authUserID, accountID string, drive DriveSaver, folderID string, it Item) error {
	body, err := retry.Do(ctx, d.Policy, "tiktok fetch", func() ([]byte, error) {
		return d.fetch(ctx, it.URL)
	})
	if err != nil {
		return err
	}

	driveFileID := ""
	if drive != nil {
		name := it.VideoID + ".mp4"
		driveFileID, err = drive.Upload(ctx, name, folderID, "video/mp4", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("drive save: %w", err)
		}
	}

	_, err = db.InsertTikTokVideo(ctx, d.DB, db.TikTokVideo{
		AuthUserID:    authUserID,
		AccountID:     accountID,
		VideoID:       it.VideoID,
		DriveFileID:   driveFileID,
		DriveFolderID: folderID,
		Hashtags:      ExtractHashtags(it.Description),
	})
	return err
}

func (d *Downloader) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, &httpStatusError{status: resp.StatusCode, url: url}
	}
	return io.ReadAll(resp.Body)
}

type httpStatusError struct {
	status int
	url    string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.url, e.status)
}

func (e *httpStatusError) HTTPStatus() int { return e.status }
