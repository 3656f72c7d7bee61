// Package blob abstracts file content storage behind a small Put/Get/Delete
// surface with optional AES-GCM encryption at rest. Backends: local disk and
// S3-compatible object stores.
package blob

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/modelrelay/modelrelay/internal/config"
)

// ErrNotFound is returned when the key has no stored object.
var ErrNotFound = errors.New("object not found")

type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
	Metadata    map[string]string
	Encrypted   bool
}

type Store interface {
	Put(ctx context.Context, key string, body io.Reader, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// store wraps a backend with transparent encryption when a key is configured.
type store struct {
	backend Store
	box     *cipherBox
}

func New(ctx context.Context, cfg config.FilesConfig) (Store, error) {
	backend, err := buildBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	box, err := newCipherBox(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	if box == nil {
		return backend, nil
	}
	return &store{backend: backend, box: box}, nil
}

func buildBackend(ctx context.Context, cfg config.FilesConfig) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Storage)) {
	case "s3":
		return newS3Store(ctx, cfg)
	default:
		return newLocalStore(cfg)
	}
}

func (s *store) Put(ctx context.Context, key string, body io.Reader, opts PutOptions) (ObjectInfo, error) {
	sealed, size, meta, err := s.box.seal(body)
	if err != nil {
		return ObjectInfo{}, err
	}
	info, err := s.backend.Put(ctx, key, sealed, PutOptions{
		ContentType: opts.ContentType,
		Metadata:    mergeMetadata(opts.Metadata, meta),
	})
	if err != nil {
		return ObjectInfo{}, err
	}
	info.Size = size
	info.Encrypted = true
	return info, nil
}

func (s *store) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	reader, info, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	// Objects written before encryption was enabled pass through untouched.
	if !isSealed(info.Metadata) {
		return reader, info, nil
	}
	defer reader.Close()
	plain, size, err := s.box.open(reader)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	info.Size = size
	info.Encrypted = true
	return plain, info, nil
}

func (s *store) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}

func mergeMetadata(a, b map[string]string) map[string]string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	merged := make(map[string]string, len(a)+len(b))
	for k, v := range a {
		merged[k] = v
	}
	for k, v := range b {
		merged[k] = v
	}
	return merged
}
