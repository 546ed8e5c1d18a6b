package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"

	"github.com/ifuryst/autopost/internal/config"
)

var (
	ErrFileTooLarge    = errors.New("file too large")
	ErrUnsupportedType = errors.New("invalid file type, only JPEG, PNG and GIF images are allowed")
	ErrNotFound        = errors.New("media not found")
)

// MediaStore persists uploaded images. A ref is the object name returned by
// Save and is what posts store in their image field.
type MediaStore interface {
	Save(ctx context.Context, name, contentType string, body io.Reader) (string, error)
	// Open makes the media available as a local file for the browser upload.
	// cleanup must be called once the file is no longer needed.
	Open(ctx context.Context, ref string) (localPath string, cleanup func(), err error)
	Delete(ctx context.Context, ref string) error
	// URL is where clients can fetch the media.
	URL(ref string) string
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (MediaStore, error) {
	switch cfg.Storage.Type {
	case "s3":
		return NewS3Store(ctx, &cfg.Storage.S3, logger)
	case "local", "":
		return NewLocalStore(cfg.Upload.Dir, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
}

// Uploader validates incoming images before handing them to a MediaStore.
type Uploader struct {
	store   MediaStore
	maxSize int64
	allowed map[string]bool
}

func NewUploader(store MediaStore, cfg *config.UploadConfig) *Uploader {
	allowed := make(map[string]bool, len(cfg.AllowedMIME))
	for _, mime := range cfg.AllowedMIME {
		allowed[strings.ToLower(mime)] = true
	}
	return &Uploader{
		store:   store,
		maxSize: cfg.MaxFileSize,
		allowed: allowed,
	}
}

// Upload sniffs the content type from the bytes themselves and stores the
// image under a fresh post-<id>.<ext> name. It returns the stored ref.
func (u *Uploader) Upload(ctx context.Context, body io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(body, u.maxSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > u.maxSize {
		return "", fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, u.maxSize)
	}

	kind, err := filetype.Match(data)
	if err != nil || kind == types.Unknown || !u.allowed[kind.MIME.Value] {
		return "", ErrUnsupportedType
	}

	name, err := NewObjectName(kind.Extension)
	if err != nil {
		return "", err
	}

	return u.store.Save(ctx, name, kind.MIME.Value, bytes.NewReader(data))
}

func (u *Uploader) Store() MediaStore {
	return u.store
}

// NewObjectName returns post-<nanoid>.<ext>.
func NewObjectName(ext string) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate object name: %w", err)
	}
	return fmt.Sprintf("post-%s.%s", id, strings.TrimPrefix(ext, ".")), nil
}

// cleanRef strips directories so refs cannot escape the store.
func cleanRef(ref string) (string, error) {
	name := path.Base(strings.ReplaceAll(ref, "\\", "/"))
	if name == "." || name == "/" || name == ".." || name == "" {
		return "", fmt.Errorf("invalid media ref %q", ref)
	}
	return name, nil
}
