// Package upload stores patient images on local disk and serves the upload
// endpoint. Stored files are exposed by the server under /uploads.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

var (
	ErrUnsupportedType = errors.New("only .jpg, .jpeg and .png images are allowed")
	ErrFileTooLarge    = errors.New("file exceeds maximum allowed size")
	ErrEmptyFile       = errors.New("file is empty")
)

// DefaultMaxBytes bounds a single upload (5 MiB).
const DefaultMaxBytes = 5 << 20

// PublicPrefix is the URL path under which stored files are served.
const PublicPrefix = "/uploads/"

// allowedTypes maps permitted extensions to the content type their bytes
// must sniff as.
var allowedTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

var fieldPattern = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// ImageStore persists an uploaded image and returns the public path a
// patient record can reference.
type ImageStore interface {
	Store(ctx context.Context, field, originalName string, r io.Reader) (string, error)
}

// LocalImageStore writes images to a directory on disk.
type LocalImageStore struct {
	dir      string
	maxBytes int64
	now      func() time.Time
	mu       sync.Mutex
}

// NewLocalImageStore creates dir if needed. maxBytes <= 0 selects
// DefaultMaxBytes.
func NewLocalImageStore(dir string, maxBytes int64) (*LocalImageStore, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir %s: %w", dir, err)
	}
	return &LocalImageStore{dir: dir, maxBytes: maxBytes, now: time.Now}, nil
}

func (s *LocalImageStore) Dir() string { return s.dir }

func (s *LocalImageStore) MaxBytes() int64 { return s.maxBytes }

// Store validates the extension and sniffed content of r, then writes it as
// <field>-<unix millis><ext>, adding a numeric suffix if that name is taken.
func (s *LocalImageStore) Store(ctx context.Context, field, originalName string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	wantType, ok := allowedTypes[ext]
	if !ok {
		return "", ErrUnsupportedType
	}

	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return "", ErrEmptyFile
	}
	if int64(len(data)) > s.maxBytes {
		return "", ErrFileTooLarge
	}
	if http.DetectContentType(data) != wantType {
		return "", ErrUnsupportedType
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name, err := s.write(sanitizeField(field), ext, data)
	if err != nil {
		return "", err
	}
	return PublicPrefix + name, nil
}

func (s *LocalImageStore) write(field, ext string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := fmt.Sprintf("%s-%d", field, s.now().UnixMilli())
	for n := 0; n < 100; n++ {
		name := base + ext
		if n > 0 {
			name = fmt.Sprintf("%s-%d%s", base, n, ext)
		}

		f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create %s: %w", name, err)
		}
		if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
			f.Close()
			os.Remove(f.Name())
			return "", fmt.Errorf("write %s: %w", name, err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("close %s: %w", name, err)
		}
		return name, nil
	}
	return "", fmt.Errorf("no free file name for %s%s", base, ext)
}

func sanitizeField(field string) string {
	field = fieldPattern.ReplaceAllString(field, "")
	if field == "" {
		return "image"
	}
	return field
}
