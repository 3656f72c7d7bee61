package files

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/storage/blob"
	"github.com/modelrelay/modelrelay/internal/store"
)

const (
	StatusUploaded = "uploaded"
	StatusDeleted  = "deleted"

	PurposeBatch       = "batch"
	PurposeBatchOutput = "batch_output"
	PurposeBatchErrors = "batch_errors"
	PurposeUserUpload  = "user_upload"
)

var allowedPurposes = map[string]struct{}{
	PurposeBatch:       {},
	PurposeBatchOutput: {},
	PurposeBatchErrors: {},
	PurposeUserUpload:  {},
}

var (
	ErrNotFound         = store.ErrNotFound
	ErrTooLarge         = errors.New("file exceeds maximum size")
	ErrInvalidPurpose   = errors.New("unsupported file purpose")
	ErrFilenameRequired = errors.New("filename required")
)

type fileQueries interface {
	InsertFile(ctx context.Context, arg store.InsertFileParams) (store.File, error)
	GetFile(ctx context.Context, id uuid.UUID) (store.File, error)
	GetTenantFile(ctx context.Context, tenantID, id uuid.UUID) (store.File, error)
	ListFiles(ctx context.Context, arg store.ListFilesParams) ([]store.File, error)
	MarkFileDeleted(ctx context.Context, id uuid.UUID) (store.File, error)
	ListExpiredFiles(ctx context.Context, cutoff time.Time, limit int32) ([]store.File, error)
}

// Service couples file metadata rows with blob content and owns the TTL
// sweeper.
type Service struct {
	queries  fileQueries
	blobs    blob.Store
	settings *config.SnapshotStore
	logger   *slog.Logger
}

func NewService(queries fileQueries, blobs blob.Store, settings *config.SnapshotStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{queries: queries, blobs: blobs, settings: settings, logger: logger}
}

type UploadParams struct {
	TenantID    uuid.UUID
	OwnerUserID uuid.UUID
	Filename    string
	Purpose     string
	ContentType string
	TTL         time.Duration
	Reader      io.Reader
}

// Upload streams the body to blob storage, hashing as it goes, then records
// the metadata row. The blob is removed again when the insert fails.
func (s *Service) Upload(ctx context.Context, params UploadParams) (store.File, error) {
	if strings.TrimSpace(params.Filename) == "" {
		return store.File{}, ErrFilenameRequired
	}
	if _, ok := allowedPurposes[params.Purpose]; !ok {
		return store.File{}, fmt.Errorf("%w: %q", ErrInvalidPurpose, params.Purpose)
	}

	limits := s.settings.Current().Files
	maxBytes := int64(limits.MaxSizeMB) * 1024 * 1024
	ttl := params.TTL
	if ttl <= 0 {
		ttl = limits.DefaultTTL
	}
	if limits.MaxTTL > 0 && ttl > limits.MaxTTL {
		ttl = limits.MaxTTL
	}

	hash := sha256.New()
	reader := io.TeeReader(params.Reader, hash)
	if maxBytes > 0 {
		reader = io.LimitReader(reader, maxBytes+1)
	}

	key := fmt.Sprintf("tenant/%s/%s", params.TenantID, uuid.New())
	info, err := s.blobs.Put(ctx, key, reader, blob.PutOptions{
		ContentType: params.ContentType,
		Metadata: map[string]string{
			"purpose":  params.Purpose,
			"filename": params.Filename,
		},
	})
	if err != nil {
		return store.File{}, err
	}
	if maxBytes > 0 && info.Size > maxBytes {
		_ = s.blobs.Delete(ctx, key)
		return store.File{}, fmt.Errorf("%w: limit %d MB", ErrTooLarge, limits.MaxSizeMB)
	}

	record, err := s.queries.InsertFile(ctx, store.InsertFileParams{
		TenantID:    params.TenantID,
		OwnerUserID: params.OwnerUserID,
		Purpose:     params.Purpose,
		Filename:    params.Filename,
		ContentType: params.ContentType,
		Bytes:       info.Size,
		SHA256:      hex.EncodeToString(hash.Sum(nil)),
		StorageKey:  key,
		ExpiresAt:   time.Now().Add(ttl),
	})
	if err != nil {
		_ = s.blobs.Delete(ctx, key)
		return store.File{}, err
	}
	return record, nil
}

// Get returns the metadata row; deleted or expired rows read as not found.
func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (store.File, error) {
	f, err := s.queries.GetTenantFile(ctx, tenantID, id)
	if err != nil {
		return store.File{}, err
	}
	if !available(f, time.Now()) {
		return store.File{}, ErrNotFound
	}
	return f, nil
}

// Open returns the content reader alongside the metadata.
func (s *Service) Open(ctx context.Context, tenantID, id uuid.UUID) (io.ReadCloser, store.File, error) {
	f, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, store.File{}, err
	}
	reader, _, err := s.blobs.Get(ctx, f.StorageKey)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, store.File{}, ErrNotFound
		}
		return nil, store.File{}, err
	}
	return reader, f, nil
}

// OpenByID is the batch executor's entry point: no tenant scoping, the caller
// already resolved ownership.
func (s *Service) OpenByID(ctx context.Context, id uuid.UUID) (io.ReadCloser, store.File, error) {
	f, err := s.queries.GetFile(ctx, id)
	if err != nil {
		return nil, store.File{}, err
	}
	if !available(f, time.Now()) {
		return nil, store.File{}, ErrNotFound
	}
	reader, _, err := s.blobs.Get(ctx, f.StorageKey)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, store.File{}, ErrNotFound
		}
		return nil, store.File{}, err
	}
	return reader, f, nil
}

func (s *Service) List(ctx context.Context, tenantID uuid.UUID, purpose string, limit int32) ([]store.File, error) {
	return s.queries.ListFiles(ctx, store.ListFilesParams{
		TenantID: tenantID,
		Purpose:  purpose,
		Limit:    limit,
	})
}

// Delete tombstones the row first, then removes the blob. A failed blob
// removal is retried by nothing; the row already reads as deleted.
func (s *Service) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	f, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if _, err := s.queries.MarkFileDeleted(ctx, f.ID); err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, f.StorageKey); err != nil {
		s.logger.Warn("blob delete failed",
			slog.String("file_id", f.ID.String()),
			slog.String("error", err.Error()))
	}
	return nil
}

// SweepExpired tombstones files whose TTL elapsed and removes their blobs.
// Returns the number of files swept.
func (s *Service) SweepExpired(ctx context.Context, now time.Time, limit int32) (int, error) {
	expired, err := s.queries.ListExpiredFiles(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, f := range expired {
		if _, err := s.queries.MarkFileDeleted(ctx, f.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return swept, err
		}
		if err := s.blobs.Delete(ctx, f.StorageKey); err != nil && !errors.Is(err, blob.ErrNotFound) {
			s.logger.Warn("blob delete failed during sweep",
				slog.String("file_id", f.ID.String()),
				slog.String("error", err.Error()))
		}
		swept++
	}
	return swept, nil
}

// RunSweeper loops the expiry sweep until the context ends.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if swept, err := s.SweepExpired(ctx, now, 500); err != nil {
				s.logger.Warn("file sweep failed", slog.String("error", err.Error()))
			} else if swept > 0 {
				s.logger.Info("expired files swept", slog.Int("count", swept))
			}
		}
	}
}

func available(f store.File, now time.Time) bool {
	if f.Status != StatusUploaded {
		return false
	}
	if !f.ExpiresAt.IsZero() && !now.Before(f.ExpiresAt) {
		return false
	}
	return true
}
