package blob

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/modelrelay/modelrelay/internal/config"
)

func testKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestLocalRoundTrip(t *testing.T) {
	cfg := config.FilesConfig{Storage: "local"}
	cfg.Local.Directory = t.TempDir()

	store, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	body := strings.NewReader("hello world")
	info, err := store.Put(context.Background(), "tenant/abc.txt", body, PutOptions{ContentType: "text/plain"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 11 {
		t.Fatalf("expected size 11, got %d", info.Size)
	}

	reader, got, err := store.Get(context.Background(), "tenant/abc.txt")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("unexpected content %q", data)
	}
	if got.ContentType != "text/plain" {
		t.Fatalf("unexpected content type %q", got.ContentType)
	}

	if err := store.Delete(context.Background(), "tenant/abc.txt"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := store.Get(context.Background(), "tenant/abc.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestEncryptedRoundTrip(t *testing.T) {
	cfg := config.FilesConfig{Storage: "local", EncryptionKey: testKey(t)}
	cfg.Local.Directory = t.TempDir()

	store, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	plain := "sensitive payload"
	info, err := store.Put(context.Background(), "f/secret.bin", strings.NewReader(plain), PutOptions{})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !info.Encrypted {
		t.Fatalf("expected encrypted object info")
	}
	if info.Size != int64(len(plain)) {
		t.Fatalf("expected plaintext size %d, got %d", len(plain), info.Size)
	}

	reader, got, err := store.Get(context.Background(), "f/secret.bin")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != plain {
		t.Fatalf("decrypted content mismatch: %q", data)
	}
	if !got.Encrypted {
		t.Fatalf("expected encrypted flag on read")
	}
}

func TestCipherBoxRejectsBadKey(t *testing.T) {
	if _, err := newCipherBox("not base64!!"); err == nil {
		t.Fatalf("expected error for invalid base64")
	}
	short := base64.StdEncoding.EncodeToString([]byte("tooshort"))
	if _, err := newCipherBox(short); err == nil {
		t.Fatalf("expected error for short key")
	}
	box, err := newCipherBox("   ")
	if err != nil || box != nil {
		t.Fatalf("expected nil box for blank key, got %v %v", box, err)
	}
}

func TestLocalRejectsTraversalKeys(t *testing.T) {
	cfg := config.FilesConfig{Storage: "local"}
	cfg.Local.Directory = t.TempDir()
	store, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.Put(context.Background(), "../escape", strings.NewReader("x"), PutOptions{}); err == nil {
		t.Fatalf("expected traversal key to be rejected")
	}
	if _, err := store.Put(context.Background(), "/abs/path", strings.NewReader("x"), PutOptions{}); err == nil {
		t.Fatalf("expected absolute key to be rejected")
	}
}
