// Package media stores uploaded message attachments on local disk.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/bitethatthing2/no-creyeron-sub000/core"
)

// DefaultMaxBytes is the largest accepted upload.
const DefaultMaxBytes = 10 << 20

// ErrTooLarge is returned for uploads above the size limit.
var ErrTooLarge = errors.New("media too large")

var _ core.Uploader = (*Disk)(nil)

// Disk stores objects under Dir and serves them below BaseURL.
type Disk struct {
	Dir      string
	BaseURL  string
	MaxBytes int64
}

// NewDisk creates dir if needed and returns a Disk storing into it.
func NewDisk(dir, baseURL string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &Disk{Dir: dir, BaseURL: strings.TrimSuffix(baseURL, "/"), MaxBytes: DefaultMaxBytes}, nil
}

// Upload writes r under a fresh random name and returns its URL. The
// caller's file name only contributes its extension.
func (d *Disk) Upload(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	object := uuid.NewString() + extension(name, contentType)
	path := filepath.Join(d.Dir, object)

	f, err := os.CreateTemp(d.Dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(f.Name())

	limit := d.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	n, err := io.Copy(f, io.LimitReader(r, limit+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("write media: %w", err)
	}
	if n > limit {
		return "", ErrTooLarge
	}
	if err := os.Rename(f.Name(), path); err != nil {
		return "", fmt.Errorf("store media: %w", err)
	}
	return d.BaseURL + "/" + object, nil
}

// Handler serves stored objects. Mount it at the path of BaseURL.
func (d *Disk) Handler() http.Handler {
	return http.FileServer(http.Dir(d.Dir))
}

func extension(name, contentType string) string {
	if ext := strings.ToLower(filepath.Ext(name)); ext != "" && len(ext) <= 6 {
		return ext
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}
