package models

import (
	"bytes"
	"errors"
	"io"
	"time"
)

// ErrImageOperationUnsupported indicates the upstream family has no
// equivalent for the requested image workflow (edits, variations).
var ErrImageOperationUnsupported = errors.New("image operation unsupported")

// ImageInput buffers an uploaded image so the payload can be replayed when a
// request fails over to another deployment.
type ImageInput struct {
	Data        []byte
	Filename    string
	ContentType string
}

// Reader returns a fresh ReadCloser over the buffered bytes.
func (in ImageInput) Reader() io.ReadCloser {
	return io.NopCloser(bytes.NewReader(in.Data))
}

func (in ImageInput) Size() int64 {
	return int64(len(in.Data))
}

// ImageRequest drives /v1/images/generations.
type ImageRequest struct {
	Model          string
	Prompt         string
	Size           string
	ResponseFormat string
	Quality        string
	N              int
	User           string
	Background     string
	Style          string
}

// ImageEditRequest carries the multipart inputs for /v1/images/edits.
type ImageEditRequest struct {
	Model          string
	Prompt         string
	Images         []ImageInput
	Mask           *ImageInput
	Size           string
	ResponseFormat string
	Quality        string
	Background     string
	Style          string
	N              int
	User           string
}

// ImageVariationRequest carries the payload for /v1/images/variations.
type ImageVariationRequest struct {
	Model          string
	Image          ImageInput
	Size           string
	ResponseFormat string
	Quality        string
	Background     string
	Style          string
	N              int
	User           string
}

type ImageData struct {
	B64JSON       string
	URL           string
	RevisedPrompt string
}

type ImageResponse struct {
	Created time.Time
	Data    []ImageData
	Usage   Usage
}
