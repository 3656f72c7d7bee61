package bedrock

import (
	"testing"

	"github.com/modelrelay/modelrelay/internal/providers/fixtures"
)

func TestClaudeStreamDeltaFixture(t *testing.T) {
	var evt claudeStreamEvent
	if err := fixtures.Load("bedrock_stream_delta.json", &evt); err != nil {
		t.Fatalf("load fixture: %v", err)
	}
	if evt.Type != "message_delta" {
		t.Fatalf("unexpected type %q", evt.Type)
	}
	if evt.Usage.InputTokens != 27 || evt.Usage.OutputTokens != 580 {
		t.Fatalf("unexpected usage: %+v", evt.Usage)
	}
	if got := mapClaudeStopReason(evt.stopReason()); got != "stop" {
		t.Fatalf("expected end_turn remapped to stop, got %s", got)
	}
}

func TestParseTitanEmbeddingShapes(t *testing.T) {
	primary, err := fixtures.Read("titan_embed_primary.json")
	if err != nil {
		t.Fatalf("read primary: %v", err)
	}
	vec, tokens, err := parseTitanEmbedding(primary)
	if err != nil {
		t.Fatalf("parse primary: %v", err)
	}
	if tokens != 27 {
		t.Fatalf("expected 27 tokens, got %d", tokens)
	}
	if len(vec) != 3 || vec[0] != float32(0.12) || vec[1] != float32(-0.34) || vec[2] != float32(0.56) {
		t.Fatalf("unexpected primary vector: %v", vec)
	}

	alt, err := fixtures.Read("titan_embed_alt.json")
	if err != nil {
		t.Fatalf("read alt: %v", err)
	}
	vec, tokens, err = parseTitanEmbedding(alt)
	if err != nil {
		t.Fatalf("parse alt: %v", err)
	}
	if tokens != 14 {
		t.Fatalf("expected 14 tokens, got %d", tokens)
	}
	if len(vec) != 2 || vec[0] != float32(0.9) || vec[1] != float32(0.1) {
		t.Fatalf("unexpected alt vector: %v", vec)
	}

	if _, _, err := parseTitanEmbedding([]byte(`{"unrelated":true}`)); err == nil {
		t.Fatalf("expected error for unknown payload shape")
	}
}

func TestClampImageCount(t *testing.T) {
	cases := map[int]int{
		-5: 1,
		0:  1,
		1:  1,
		3:  3,
		10: 4,
	}
	for input, want := range cases {
		if got := clampImageCount(input, 4); got != want {
			t.Fatalf("input %d: want %d got %d", input, want, got)
		}
	}
}

func TestParseImageSizeClampsToBedrockGrid(t *testing.T) {
	cases := []struct {
		size          string
		width, height int
	}{
		{"", 1024, 1024},
		{"512x512", 512, 512},
		{"300x900", 256, 896},
		{"4096x100", 1024, 256},
	}
	for _, tc := range cases {
		w, h := parseImageSize(tc.size)
		if w != tc.width || h != tc.height {
			t.Fatalf("size %q: want %dx%d got %dx%d", tc.size, tc.width, tc.height, w, h)
		}
	}
}
