package models

import "io"

// AudioInput wraps an uploaded audio payload.
type AudioInput struct {
	Reader      io.Reader
	Filename    string
	ContentType string
	Bytes       int64
}

type AudioTranscriptionTask string

const (
	AudioTranscriptionTaskTranscribe AudioTranscriptionTask = "transcribe"
	AudioTranscriptionTaskTranslate  AudioTranscriptionTask = "translate"
)

// AudioTranscriptionRequest covers both transcription and translation.
type AudioTranscriptionRequest struct {
	Model       string
	Task        AudioTranscriptionTask
	Input       AudioInput
	Prompt      string
	Temperature *float32
	Language    string
}

type AudioTranscriptionResponse struct {
	Text  string
	Usage Usage
}

// AudioSpeechRequest drives text-to-speech generation.
type AudioSpeechRequest struct {
	Model        string
	Input        string
	Voice        string
	Format       string
	Stream       bool
	StreamFormat string
}

type AudioSpeechResponse struct {
	Audio []byte
	Usage Usage
}

// AudioSpeechChunk is one streamed speech fragment.
type AudioSpeechChunk struct {
	Audio []byte
	Done  bool
}
