package files

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/storage/blob"
	"github.com/modelrelay/modelrelay/internal/store"
)

type memQueries struct {
	mu    sync.Mutex
	files map[uuid.UUID]store.File
}

func newMemQueries() *memQueries {
	return &memQueries{files: make(map[uuid.UUID]store.File)}
}

func (m *memQueries) InsertFile(ctx context.Context, arg store.InsertFileParams) (store.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := store.File{
		ID:          uuid.New(),
		TenantID:    arg.TenantID,
		OwnerUserID: arg.OwnerUserID,
		Purpose:     arg.Purpose,
		Filename:    arg.Filename,
		ContentType: arg.ContentType,
		Bytes:       arg.Bytes,
		SHA256:      arg.SHA256,
		StorageKey:  arg.StorageKey,
		Status:      StatusUploaded,
		ExpiresAt:   arg.ExpiresAt,
		CreatedAt:   time.Now(),
	}
	m.files[f.ID] = f
	return f, nil
}

func (m *memQueries) GetFile(ctx context.Context, id uuid.UUID) (store.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return store.File{}, store.ErrNotFound
	}
	return f, nil
}

func (m *memQueries) GetTenantFile(ctx context.Context, tenantID, id uuid.UUID) (store.File, error) {
	f, err := m.GetFile(ctx, id)
	if err != nil || f.TenantID != tenantID {
		return store.File{}, store.ErrNotFound
	}
	return f, nil
}

func (m *memQueries) ListFiles(ctx context.Context, arg store.ListFilesParams) ([]store.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.File
	for _, f := range m.files {
		if f.TenantID != arg.TenantID || f.Status != StatusUploaded {
			continue
		}
		if arg.Purpose != "" && f.Purpose != arg.Purpose {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func (m *memQueries) MarkFileDeleted(ctx context.Context, id uuid.UUID) (store.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok || f.Status != StatusUploaded {
		return store.File{}, store.ErrNotFound
	}
	f.Status = StatusDeleted
	f.DeletedAt = time.Now()
	m.files[id] = f
	return f, nil
}

func (m *memQueries) ListExpiredFiles(ctx context.Context, cutoff time.Time, limit int32) ([]store.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.File
	for _, f := range m.files {
		if f.Status == StatusUploaded && !f.ExpiresAt.IsZero() && !f.ExpiresAt.After(cutoff) {
			out = append(out, f)
		}
	}
	return out, nil
}

func newTestService(t *testing.T, cfg config.FilesConfig) (*Service, *memQueries) {
	t.Helper()
	cfg.Storage = "local"
	cfg.Local.Directory = t.TempDir()
	blobs, err := blob.New(context.Background(), cfg)
	require.NoError(t, err)
	queries := newMemQueries()
	settings := config.NewSnapshotStore(&config.Config{Files: cfg})
	return NewService(queries, blobs, settings, nil), queries
}

func TestUploadAndOpenRoundTrip(t *testing.T) {
	svc, _ := newTestService(t, config.FilesConfig{MaxSizeMB: 1, DefaultTTL: time.Hour})
	tenantID := uuid.New()

	content := "line one\nline two\n"
	rec, err := svc.Upload(context.Background(), UploadParams{
		TenantID:    tenantID,
		Filename:    "input.jsonl",
		Purpose:     PurposeBatch,
		ContentType: "application/jsonl",
		Reader:      strings.NewReader(content),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), rec.Bytes)

	sum := sha256.Sum256([]byte(content))
	assert.Equal(t, hex.EncodeToString(sum[:]), rec.SHA256)

	reader, got, err := svc.Open(context.Background(), tenantID, rec.ID)
	require.NoError(t, err)
	defer reader.Close()
	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
	assert.Equal(t, rec.ID, got.ID)
}

func TestUploadRejectsBadInput(t *testing.T) {
	svc, _ := newTestService(t, config.FilesConfig{MaxSizeMB: 1, DefaultTTL: time.Hour})

	_, err := svc.Upload(context.Background(), UploadParams{
		TenantID: uuid.New(),
		Purpose:  PurposeBatch,
		Reader:   strings.NewReader("x"),
	})
	assert.ErrorIs(t, err, ErrFilenameRequired)

	_, err = svc.Upload(context.Background(), UploadParams{
		TenantID: uuid.New(),
		Filename: "f.txt",
		Purpose:  "fine-tune",
		Reader:   strings.NewReader("x"),
	})
	assert.ErrorIs(t, err, ErrInvalidPurpose)
}

func TestUploadEnforcesMaxSize(t *testing.T) {
	svc, queries := newTestService(t, config.FilesConfig{MaxSizeMB: 1, DefaultTTL: time.Hour})

	big := strings.NewReader(strings.Repeat("a", 1024*1024+1))
	_, err := svc.Upload(context.Background(), UploadParams{
		TenantID: uuid.New(),
		Filename: "big.bin",
		Purpose:  PurposeUserUpload,
		Reader:   big,
	})
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Empty(t, queries.files)
}

func TestUploadClampsTTLToMax(t *testing.T) {
	svc, _ := newTestService(t, config.FilesConfig{
		MaxSizeMB:  1,
		DefaultTTL: time.Hour,
		MaxTTL:     2 * time.Hour,
	})

	rec, err := svc.Upload(context.Background(), UploadParams{
		TenantID: uuid.New(),
		Filename: "f.txt",
		Purpose:  PurposeUserUpload,
		TTL:      100 * time.Hour,
		Reader:   strings.NewReader("x"),
	})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), rec.ExpiresAt, time.Minute)
}

func TestOpenDeletedOrExpiredFileFails(t *testing.T) {
	svc, queries := newTestService(t, config.FilesConfig{MaxSizeMB: 1, DefaultTTL: time.Hour})
	tenantID := uuid.New()

	rec, err := svc.Upload(context.Background(), UploadParams{
		TenantID: tenantID,
		Filename: "f.txt",
		Purpose:  PurposeUserUpload,
		Reader:   strings.NewReader("x"),
	})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), tenantID, rec.ID))
	_, _, err = svc.Open(context.Background(), tenantID, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	rec2, err := svc.Upload(context.Background(), UploadParams{
		TenantID: tenantID,
		Filename: "g.txt",
		Purpose:  PurposeUserUpload,
		Reader:   strings.NewReader("y"),
	})
	require.NoError(t, err)
	expired := queries.files[rec2.ID]
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	queries.files[rec2.ID] = expired
	_, _, err = svc.Open(context.Background(), tenantID, rec2.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSweepExpiredRemovesBlobs(t *testing.T) {
	svc, queries := newTestService(t, config.FilesConfig{MaxSizeMB: 1, DefaultTTL: time.Hour})
	tenantID := uuid.New()

	rec, err := svc.Upload(context.Background(), UploadParams{
		TenantID: tenantID,
		Filename: "f.txt",
		Purpose:  PurposeBatch,
		Reader:   strings.NewReader("x"),
	})
	require.NoError(t, err)

	f := queries.files[rec.ID]
	f.ExpiresAt = time.Now().Add(-time.Minute)
	queries.files[rec.ID] = f

	swept, err := svc.SweepExpired(context.Background(), time.Now(), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)
	assert.Equal(t, StatusDeleted, queries.files[rec.ID].Status)

	_, _, err = svc.OpenByID(context.Background(), rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSweepIsIdempotent(t *testing.T) {
	svc, queries := newTestService(t, config.FilesConfig{MaxSizeMB: 1, DefaultTTL: time.Hour})
	rec, err := svc.Upload(context.Background(), UploadParams{
		TenantID: uuid.New(),
		Filename: "f.txt",
		Purpose:  PurposeBatch,
		Reader:   strings.NewReader("x"),
	})
	require.NoError(t, err)
	f := queries.files[rec.ID]
	f.ExpiresAt = time.Now().Add(-time.Minute)
	queries.files[rec.ID] = f

	_, err = svc.SweepExpired(context.Background(), time.Now(), 100)
	require.NoError(t, err)
	swept, err := svc.SweepExpired(context.Background(), time.Now(), 100)
	require.NoError(t, err)
	assert.Zero(t, swept)
	assert.False(t, errors.Is(err, ErrNotFound))
}
