package models

import (
	"encoding/json"
	"fmt"
)

type EmbeddingsRequest struct {
	Model          string        `json:"model"`
	Input          EmbeddingText `json:"input"`
	EncodingFormat string        `json:"encoding_format,omitempty"`
	User           string        `json:"user,omitempty"`
}

// EmbeddingText accepts either a single string or an array of strings on the
// wire, normalizing both to a slice.
type EmbeddingText []string

func (e *EmbeddingText) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*e = EmbeddingText{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("input must be a string or array of strings")
	}
	*e = EmbeddingText(many)
	return nil
}

func (e EmbeddingText) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string(e))
}

type Embedding struct {
	Index  int       `json:"index"`
	Vector []float32 `json:"vector"`
}

type EmbeddingsResponse struct {
	Model      string      `json:"model"`
	Embeddings []Embedding `json:"data"`
	Usage      Usage       `json:"usage"`
}
