// Package openai implements the stt.Transcriber interface using the
// OpenAI audio transcription API.
//
// Clips arrive as raw PCM and are wrapped in a WAV container before
// upload. The model is passed per call so the transcription planner can
// route short clips to a stronger model without holding multiple client
// instances.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/chimebot/chime/pkg/audio"
	"github.com/chimebot/chime/pkg/provider/stt"
)

// DefaultModel is the transcription model used when the caller passes an
// empty model name.
const DefaultModel = "whisper-1"

// Compile-time assertion that Transcriber satisfies stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Option is a functional option for configuring a Transcriber.
type Option func(*config)

type config struct {
	baseURL string
	timeout time.Duration
}

// WithBaseURL overrides the default OpenAI API base URL. Primarily used in
// tests to point at a local mock server.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout. The default is 30 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Transcriber implements stt.Transcriber using the OpenAI API.
type Transcriber struct {
	client oai.Client
}

// New constructs a Transcriber with the given API key and options.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}

	cfg := &config{timeout: 30 * time.Second}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(cfg.timeout),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &Transcriber{client: oai.NewClient(reqOpts...)}, nil
}

// Transcribe implements stt.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte, model string, sampleRateHz int) (string, error) {
	if len(pcm) == 0 {
		return "", fmt.Errorf("openai stt: %w", stt.ErrEmptyTranscript)
	}
	if model == "" {
		model = DefaultModel
	}

	wav := audio.WAVFromPCM(pcm, sampleRateHz, 1)

	resp, err := t.client.Audio.Transcriptions.New(ctx, oai.AudioTranscriptionNewParams{
		Model: oai.AudioModel(model),
		File:  oai.File(bytes.NewReader(wav), "clip.wav", "audio/wav"),
	})
	if err != nil {
		return "", fmt.Errorf("openai stt: transcribe: %w: %v", stt.ErrUnavailable, err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("openai stt: model %s: %w", model, stt.ErrEmptyTranscript)
	}
	return text, nil
}
