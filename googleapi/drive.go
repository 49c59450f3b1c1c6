package googleapi

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const folderMime = "application/vnd.google-apps.folder"

// listFields keeps responses small; Drive returns nothing it is not asked for.
const listFields = "nextPageToken, files(id, name, mimeType, size, modifiedTime, thumbnailLink, parents)"

// File is the subset of Drive metadata the UI and the upload pipeline need.
type File struct {
	ID           string
	Name         string
	MimeType     string
	Size         int64
	ModifiedTime string
	Thumbnail    string
	Parents      []string
}

// Drive wraps one account's Drive v3 service.
type Drive struct {
	svc *drive.Service
}

// NewDrive builds a Drive client authenticated with the given access token.
// Extra options let tests point at a local server.
func NewDrive(ctx context.Context, accessToken string, extra ...option.ClientOption) (*Drive, error) {
	var opts []option.ClientOption
	if accessToken != "" {
		opts = append(opts, option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})))
	}
	opts = append(opts, extra...)
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("drive service: %w", err)
	}
	return &Drive{svc: svc}, nil
}

func fromDriveFile(f *drive.File) File {
	return File{
		ID:           f.Id,
		Name:         f.Name,
		MimeType:     f.MimeType,
		Size:         f.Size,
		ModifiedTime: f.ModifiedTime,
		Thumbnail:    f.ThumbnailLink,
		Parents:      f.Parents,
	}
}

// ListFolders returns the child folders of parentID ("root" for the Drive
// root) one page at a time.
func (d *Drive) ListFolders(ctx context.Context, parentID, pageToken string) ([]File, string, error) {
	if parentID == "" {
		parentID = "root"
	}
	q := fmt.Sprintf("'%s' in parents and mimeType = '%s' and trashed = false", parentID, folderMime)
	call := d.svc.Files.List().Context(ctx).Q(q).Fields(listFields).OrderBy("name").PageSize(100)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Do()
	if err != nil {
		return nil, "", WrapError("drive list folders", err)
	}
	out := make([]File, 0, len(res.Files))
	for _, f := range res.Files {
		out = append(out, fromDriveFile(f))
	}
	return out, res.NextPageToken, nil
}

// ListVideos returns the video files directly inside folderID.
func (d *Drive) ListVideos(ctx context.Context, folderID, pageToken string) ([]File, string, error) {
	if folderID == "" {
		folderID = "root"
	}
	q := fmt.Sprintf("'%s' in parents and mimeType contains 'video/' and trashed = false", folderID)
	call := d.svc.Files.List().Context(ctx).Q(q).Fields(listFields).OrderBy("modifiedTime desc").PageSize(100)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Do()
	if err != nil {
		return nil, "", WrapError("drive list videos", err)
	}
	out := make([]File, 0, len(res.Files))
	for _, f := range res.Files {
		out = append(out, fromDriveFile(f))
	}
	return out, res.NextPageToken, nil
}

// GetFile fetches metadata for one file.
func (d *Drive) GetFile(ctx context.Context, fileID string) (*File, error) {
	f, err := d.svc.Files.Get(fileID).Context(ctx).
		Fields("id, name, mimeType, size, modifiedTime, thumbnailLink, parents").Do()
	if err != nil {
		return nil, WrapError("drive get file", err)
	}
	out := fromDriveFile(f)
	return &out, nil
}

// Download streams the file content. Caller closes the reader.
func (d *Drive) Download(ctx context.Context, fileID string) (io.ReadCloser, int64, error) {
	resp, err := d.svc.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return nil, 0, WrapError("drive download", err)
	}
	return resp.Body, resp.ContentLength, nil
}

// EnsureFolder finds a folder by name under parentID, creating it when absent,
// and returns its ID.
func (d *Drive) EnsureFolder(ctx context.Context, name, parentID string) (string, error) {
	if parentID == "" {
		parentID = "root"
	}
	q := fmt.Sprintf("'%s' in parents and mimeType = '%s' and name = '%s' and trashed = false",
		parentID, folderMime, name)
	res, err := d.svc.Files.List().Context(ctx).Q(q).Fields("files(id)").PageSize(1).Do()
	if err != nil {
		return "", WrapError("drive find folder", err)
	}
	if len(res.Files) > 0 {
		return res.Files[0].Id, nil
	}
	created, err := d.svc.Files.Create(&drive.File{
		Name:     name,
		MimeType: folderMime,
		Parents:  []string{parentID},
	}).Context(ctx).Fields("id").Do()
	if err != nil {
		return "", WrapError("drive create folder", err)
	}
	return created.Id, nil
}

// Upload stores content as a new file under parentID and returns the file ID.
func (d *Drive) Upload(ctx context.Context, name, parentID, mimeType string, r io.Reader) (string, error) {
	meta := &drive.File{Name: name, MimeType: mimeType}
	if parentID != "" {
		meta.Parents = []string{parentID}
	}
	f, err := d.svc.Files.Create(meta).Context(ctx).Media(r).Fields("id").Do()
	if err != nil {
		return "", WrapError("drive upload", err)
	}
	return f.Id, nil
}

// StartPageToken returns the cursor marking "now" for the Changes feed.
func (d *Drive) StartPageToken(ctx context.Context) (string, error) {
	res, err := d.svc.Changes.GetStartPageToken().Context(ctx).Do()
	if err != nil {
		return "", WrapError("drive start page token", err)
	}
	return res.StartPageToken, nil
}

// Change is one entry from the Changes feed.
type Change struct {
	FileID  string
	Removed bool
	File    *File
}

// Changes drains the feed from pageToken and returns changed files plus the
// cursor to save for the next sync.
func (d *Drive) Changes(ctx context.Context, pageToken string) ([]Change, string, error) {
	var out []Change
	for pageToken != "" {
		res, err := d.svc.Changes.List(pageToken).Context(ctx).
			Fields("nextPageToken, newStartPageToken, changes(fileId, removed, file(id, name, mimeType, size, modifiedTime, thumbnailLink, parents))").
			Do()
		if err != nil {
			return nil, "", WrapError("drive changes", err)
		}
		for _, c := range res.Changes {
			ch := Change{FileID: c.FileId, Removed: c.Removed}
			if c.File != nil {
				f := fromDriveFile(c.File)
				ch.File = &f
			}
			out = append(out, ch)
		}
		if res.NewStartPageToken != "" {
			return out, res.NewStartPageToken, nil
		}
		pageToken = res.NextPageToken
	}
	return out, pageToken, nil
}
