package googleapi

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/oauth2"
	gapi "google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"
)

// YouTube wraps one account's YouTube Data API service.
type YouTube struct {
	svc *yt.Service
}

// NewYouTube builds a YouTube client authenticated with the given access token.
func NewYouTube(ctx context.Context, accessToken string, extra ...option.ClientOption) (*YouTube, error) {
	var opts []option.ClientOption
	if accessToken != "" {
		opts = append(opts, option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})))
	}
	opts = append(opts, extra...)
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}
	return &YouTube{svc: svc}, nil
}

// VideoMeta is what the scheduler recorded about the upload.
type VideoMeta struct {
	Title       string
	Description string
	Privacy     string
}

// WatchURL returns the public URL for an uploaded video ID.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// Upload streams r to YouTube as a resumable upload and returns the video ID.
// size may be 0 when unknown. progress, if non-nil, is invoked as chunks land
// so callers can persist byte counters.
func (y *YouTube) Upload(ctx context.Context, r io.Reader, size int64, meta VideoMeta, progress func(current, total int64)) (string, error) {
	if meta.Privacy == "" {
		meta.Privacy = "private"
	}
	video := &yt.Video{
		Snippet: &yt.VideoSnippet{Title: meta.Title, Description: meta.Description},
		Status:  &yt.VideoStatus{PrivacyStatus: meta.Privacy},
	}
	call := y.svc.Videos.Insert([]string{"snippet", "status"}, video).
		Media(r, gapi.ChunkSize(gapi.DefaultUploadChunkSize))
	if progress != nil {
		call = call.ProgressUpdater(func(current, total int64) {
			if total == 0 {
				total = size
			}
			progress(current, total)
		})
	}
	res, err := call.Context(ctx).Do()
	if err != nil {
		return "", WrapError("youtube upload", err)
	}
	if res.Id == "" {
		return "", fmt.Errorf("youtube upload: empty id")
	}
	return res.Id, nil
}
