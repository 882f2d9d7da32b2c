// Package archive copies finished sessions to S3-compatible object storage.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/multierr"
)

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
}

// Uploaded lists the object keys written for one session.
type Uploaded struct {
	VideoKey     string `json:"video_key"`
	ThumbnailKey string `json:"thumbnail_key,omitempty"`
	SizeBytes    int64  `json:"size_bytes"`
}

type Archiver struct {
	client *minio.Client
	bucket string
}

func New(opts Options) (*Archiver, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("archive endpoint is required")
	}
	if opts.Bucket == "" {
		return nil, errors.New("archive bucket is required")
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}
	return &Archiver{client: client, bucket: opts.Bucket}, nil
}

func (a *Archiver) Bucket() string { return a.bucket }

// EnsureBucket creates the bucket when it does not exist yet.
func (a *Archiver) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", a.bucket, err)
	}
	slog.Info("Created archive bucket", "bucket", a.bucket)
	return nil
}

// Upload stores the session video and, when present, its thumbnail. A missing
// thumbnail is not an error.
func (a *Archiver) Upload(ctx context.Context, sessionID, videoPath, thumbnailPath string) (Uploaded, error) {
	var out Uploaded

	if _, err := os.Stat(videoPath); err != nil {
		return out, fmt.Errorf("video file not found: %s", videoPath)
	}
	if err := a.EnsureBucket(ctx); err != nil {
		return out, err
	}

	key := ObjectKey(sessionID, videoPath)
	info, err := a.client.FPutObject(ctx, a.bucket, key, videoPath, minio.PutObjectOptions{
		ContentType: contentType(videoPath),
	})
	if err != nil {
		return out, fmt.Errorf("failed to upload %s: %w", videoPath, err)
	}
	out.VideoKey = key
	out.SizeBytes = info.Size
	slog.Info("Archived video", "session", sessionID, "bucket", a.bucket, "key", key, "size", info.Size)

	if thumbnailPath == "" {
		return out, nil
	}
	if _, err := os.Stat(thumbnailPath); err != nil {
		slog.Debug("No thumbnail to archive", "session", sessionID, "path", thumbnailPath)
		return out, nil
	}
	thumbKey := ObjectKey(sessionID, thumbnailPath)
	if _, err := a.client.FPutObject(ctx, a.bucket, thumbKey, thumbnailPath, minio.PutObjectOptions{
		ContentType: contentType(thumbnailPath),
	}); err != nil {
		slog.Warn("Failed to archive thumbnail", "session", sessionID, "error", err)
		return out, nil
	}
	out.ThumbnailKey = thumbKey
	return out, nil
}

// Remove deletes every archived object of the session.
func (a *Archiver) Remove(ctx context.Context, sessionID string) error {
	prefix := path.Join("sessions", sessionID) + "/"
	var errs error
	for obj := range a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return fmt.Errorf("failed to list archived objects: %w", obj.Err)
		}
		if err := a.client.RemoveObject(ctx, a.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", obj.Key, err))
		}
	}
	return errs
}

// ObjectKey is sessions/<id>/<file name>.
func ObjectKey(sessionID, file string) string {
	return path.Join("sessions", sessionID, filepath.Base(file))
}

func contentType(file string) string {
	switch ext := filepath.Ext(file); ext {
	case ".mp4":
		return "video/mp4"
	case ".mkv":
		return "video/x-matroska"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
		return "application/octet-stream"
	}
}
