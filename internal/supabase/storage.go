package supabase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/justestif/syncmaster/internal/models"
)

// UploadAudio stores an audio file for ownerID and returns its public URL.
func (c *Client) UploadAudio(ctx context.Context, file models.File, ownerID string) (string, error) {
	return c.upload(ctx, "uploading audio", c.cfg.AudioBuckets, file, ownerID)
}

// UploadAvatar stores a profile image for ownerID and returns its public URL.
func (c *Client) UploadAvatar(ctx context.Context, file models.File, ownerID string) (string, error) {
	return c.upload(ctx, "uploading avatar", c.cfg.AvatarBuckets, file, ownerID)
}

// upload tries each bucket in order. Only a missing bucket moves on to the
// next name; any other failure is returned as is.
func (c *Client) upload(ctx context.Context, op string, buckets []string, file models.File, ownerID string) (string, error) {
	if file.Body == nil || file.Name == "" {
		return "", models.Validationf("no file selected")
	}
	if ownerID == "" {
		return "", models.Validationf("owner is required")
	}

	objectPath := ownerID + "/" + uuid.NewString() + "-" + sanitizeName(file.Name)
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	for i, bucket := range buckets {
		if i > 0 {
			if _, err := file.Body.Seek(0, io.SeekStart); err != nil {
				return "", fmt.Errorf("%s: rewinding file: %w", op, err)
			}
		}

		err := c.do(ctx, request{
			op:      op,
			service: "storage",
			method:  http.MethodPost,
			path:    "/storage/v1/object/" + bucket + "/" + objectPath,
			raw:     &countingReader{r: file.Body, progress: file.Progress},
			size:    file.Size,
			headers: map[string]string{
				"Content-Type":  contentType,
				"Cache-Control": "max-age=3600",
				"x-upsert":      "false",
			},
		}, nil)
		if err == nil {
			return c.PublicURL(bucket, objectPath), nil
		}
		if !errors.Is(err, ErrBucketNotFound) {
			return "", err
		}
		c.log.Warn().Str("bucket", bucket).Msg("storage bucket not found, trying next")
	}

	return "", &Error{
		Kind:     KindStorage,
		Op:       op,
		Message:  fmt.Sprintf("none of the buckets [%s] exist; create one of them in the Supabase dashboard and make it public", strings.Join(buckets, ", ")),
		sentinel: ErrStorageMisconfigured,
	}
}

// PublicURL returns the public URL of an object.
func (c *Client) PublicURL(bucket, objectPath string) string {
	u := url.URL{Path: "/storage/v1/object/public/" + bucket + "/" + objectPath}
	return c.cfg.URL + u.EscapedPath()
}

// sanitizeName keeps the base name and replaces characters storage keys reject.
func sanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

// countingReader reports cumulative bytes read.
type countingReader struct {
	r        io.Reader
	n        atomic.Int64
	progress func(int64)
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		total := cr.n.Add(int64(n))
		if cr.progress != nil {
			cr.progress(total)
		}
	}
	return n, err
}
