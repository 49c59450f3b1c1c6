package tiktok

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/okaneo/drivetube/backend/db"
	"github.com/okaneo/drivetube/backend/retry"
	"github.com/okaneo/drivetube/backend/telemetry"
	"github.com/okaneo/drivetube/backend/testutil"
)

// downloadSampleCount reads the current observation count of the download
// duration histogram.
func downloadSampleCount(t *testing.T) uint64 {
	t.Helper()
	h, ok := telemetry.DownloadDuration.(prometheus.Histogram)
	if !ok {
		t.Fatalf("DownloadDuration is %T, want a histogram", telemetry.DownloadDuration)
	}
	metric := &dto.Metric{}
	if err := h.Write(metric); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return metric.Histogram.GetSampleCount()
}

type fakeDrive struct {
	uploads int32
}

func (f *fakeDrive) EnsureFolder(ctx context.Context, name, parentID string) (string, error) {
	return "folder-1", nil
}

func (f *fakeDrive) Upload(ctx context.Context, name, parentID, mimeType string, r io.Reader) (string, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	n := atomic.AddInt32(&f.uploads, 1)
	return fmt.Sprintf("drive-file-%d", n), nil
}

func TestDownloaderRun(t *testing.T) {
	dbx := testutil.SetupTestDB(t)
	ctx := context.Background()
	telemetry.Init()
	samplesBefore := downloadSampleCount(t)

	userID, err := db.UpsertUser(ctx, dbx, db.User{Email: "ttrun@example.com", GoogleID: "g-ttrun"})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	t.Cleanup(func() {
		_, _ = dbx.Exec(`DELETE FROM tiktok_videos WHERE auth_user_id=$1`, userID)
		_, _ = dbx.Exec(`DELETE FROM users WHERE id=$1`, userID)
	})

	var flaky int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v/ok":
			_, _ = w.Write([]byte("video-bytes"))
		case "/v/flaky":
			// First hit fails with a retryable status, then succeeds.
			if atomic.AddInt32(&flaky, 1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte("video-bytes"))
		case "/v/gone":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	d := NewDownloader(dbx, "Test TikTok")
	d.Policy = retry.Policy{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, MaxTries: 3}
	drive := &fakeDrive{}

	items := []Item{
		{VideoID: "run-1", URL: srv.URL + "/v/ok", Description: "#a #b"},
		{VideoID: "run-2", URL: srv.URL + "/v/flaky"},
		{VideoID: "run-3", URL: srv.URL + "/v/gone"},
	}
	res, err := d.Run(ctx, userID, "", drive, items)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Downloaded != 2 {
		t.Errorf("Downloaded = %d, want 2", res.Downloaded)
	}
	if len(res.Failed) != 1 || res.Failed[0] != "run-3" {
		t.Errorf("Failed = %v, want [run-3]", res.Failed)
	}
	if got := atomic.LoadInt32(&drive.uploads); got != 2 {
		t.Errorf("drive uploads = %d, want 2", got)
	}
	if got := downloadSampleCount(t) - samplesBefore; got != 2 {
		t.Errorf("download duration observations = %d, want 2", got)
	}

	// Second run skips everything already recorded.
	res2, err := d.Run(ctx, userID, "", drive, items[:2])
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if res2.Skipped != 2 || res2.Downloaded != 0 {
		t.Errorf("second run = %+v, want all skipped", res2)
	}
}
