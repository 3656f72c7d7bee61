package public

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/auth"
	"github.com/modelrelay/modelrelay/internal/store"
)

func TestUnknownPrefixRunsFullVerification(t *testing.T) {
	if !strings.HasPrefix(decoySecretHash, "argon2id$") {
		t.Fatalf("decoy hash is not an argon2id encoding: %q", decoySecretHash)
	}
	match, err := auth.VerifySecret("some-presented-secret", decoySecretHash)
	if err != nil {
		t.Fatalf("verification against decoy hash must succeed mechanically: %v", err)
	}
	if match {
		t.Fatal("decoy hash must never match a presented secret")
	}
}

func TestFileIDAcceptsWireForm(t *testing.T) {
	want := uuid.New()

	got, err := fileID("file-" + want.String())
	if err != nil {
		t.Fatalf("parse wire form: %v", err)
	}
	if got != want {
		t.Fatalf("wire form parsed to %s, want %s", got, want)
	}

	got, err = fileID(want.String())
	if err != nil {
		t.Fatalf("parse bare uuid: %v", err)
	}
	if got != want {
		t.Fatalf("bare uuid parsed to %s, want %s", got, want)
	}

	if _, err := fileID("file-not-a-uuid"); err == nil {
		t.Fatal("expected error for malformed id")
	}
}

func TestBatchIDAcceptsWireForm(t *testing.T) {
	want := uuid.New()

	got, err := batchID("batch_" + want.String())
	if err != nil {
		t.Fatalf("parse wire form: %v", err)
	}
	if got != want {
		t.Fatalf("wire form parsed to %s, want %s", got, want)
	}

	if _, err := batchID("batch_nope"); err == nil {
		t.Fatal("expected error for malformed id")
	}
}

func TestCompletionWindowTTL(t *testing.T) {
	d, err := completionWindowTTL("24h")
	if err != nil {
		t.Fatalf("parse 24h: %v", err)
	}
	if d != 24*time.Hour {
		t.Fatalf("got %v, want 24h", d)
	}

	d, err = completionWindowTTL("")
	if err != nil {
		t.Fatalf("empty window: %v", err)
	}
	if d != 0 {
		t.Fatalf("empty window should defer to default, got %v", d)
	}

	if _, err := completionWindowTTL("-1h"); err == nil {
		t.Fatal("expected error for negative window")
	}
	if _, err := completionWindowTTL("soon"); err == nil {
		t.Fatal("expected error for junk window")
	}
}

func TestSpeechContentType(t *testing.T) {
	cases := map[string]string{
		"":     "audio/mpeg",
		"mp3":  "audio/mpeg",
		"MP3":  "audio/mpeg",
		"opus": "audio/opus",
		"wav":  "audio/wav",
		"webm": "application/octet-stream",
	}
	for format, want := range cases {
		if got := speechContentType(format); got != want {
			t.Fatalf("format %q: got %q, want %q", format, got, want)
		}
	}
}

func TestAliasVisible(t *testing.T) {
	if !aliasVisible(nil, "gpt-4o") {
		t.Fatal("nil allowlist should make every alias visible")
	}

	allowed := map[string]struct{}{"gpt-4o": {}}
	if !aliasVisible(allowed, "GPT-4o") {
		t.Fatal("allowlist match should be case insensitive")
	}
	if aliasVisible(allowed, "claude-haiku") {
		t.Fatal("alias outside allowlist should be hidden")
	}
}

func TestBatchToResponse(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := store.Batch{
		ID:             uuid.New(),
		InputFileID:    uuid.New(),
		OutputFileID:   uuid.New(),
		Endpoint:       "/v1/chat/completions",
		Status:         "completed",
		TotalItems:     10,
		CompletedItems: 8,
		FailedItems:    2,
		CreatedAt:      created,
		StartedAt:      created.Add(time.Second),
		FinishedAt:     created.Add(time.Minute),
		ExpiresAt:      created.Add(24 * time.Hour),
	}

	resp := batchToResponse(b)
	if resp.ID != "batch_"+b.ID.String() {
		t.Fatalf("id %q", resp.ID)
	}
	if resp.Object != "batch" {
		t.Fatalf("object %q", resp.Object)
	}
	if resp.InputFileID != "file-"+b.InputFileID.String() {
		t.Fatalf("input file id %q", resp.InputFileID)
	}
	if resp.OutputFileID != "file-"+b.OutputFileID.String() {
		t.Fatalf("output file id %q", resp.OutputFileID)
	}
	if resp.ErrorFileID != "" {
		t.Fatalf("error file id should be omitted, got %q", resp.ErrorFileID)
	}
	if resp.RequestCounts.Total != 10 || resp.RequestCounts.Completed != 8 || resp.RequestCounts.Failed != 2 {
		t.Fatalf("request counts %+v", resp.RequestCounts)
	}
	if resp.CreatedAt != created.Unix() {
		t.Fatalf("created_at %d", resp.CreatedAt)
	}
	if resp.CompletedAt != created.Add(time.Minute).Unix() {
		t.Fatalf("completed_at %d", resp.CompletedAt)
	}
}

func TestFileToResponse(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := store.File{
		ID:        uuid.New(),
		Bytes:     2048,
		Filename:  "input.jsonl",
		Purpose:   "batch",
		Status:    "uploaded",
		CreatedAt: created,
	}

	resp := fileToResponse(f)
	if resp.ID != "file-"+f.ID.String() {
		t.Fatalf("id %q", resp.ID)
	}
	if resp.Object != "file" {
		t.Fatalf("object %q", resp.Object)
	}
	if resp.Bytes != 2048 {
		t.Fatalf("bytes %d", resp.Bytes)
	}
	if resp.ExpiresAt != 0 {
		t.Fatalf("zero expiry should be omitted, got %d", resp.ExpiresAt)
	}

	f.ExpiresAt = created.Add(time.Hour)
	if got := fileToResponse(f).ExpiresAt; got != f.ExpiresAt.Unix() {
		t.Fatalf("expires_at %d", got)
	}
}
