// Package openai implements the tts.Synthesizer interface using the
// OpenAI speech synthesis API with raw PCM output.
package openai

import (
	"context"
	"fmt"
	"io"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/chimebot/chime/pkg/provider/tts"
)

const (
	// DefaultModel is the synthesis model used when none is configured.
	DefaultModel = "gpt-4o-mini-tts"

	// DefaultVoice is the voice used when none is configured.
	DefaultVoice = "alloy"

	// pcmSampleRate is the fixed sample rate of the API's PCM response
	// format.
	pcmSampleRate = 24000
)

// Compile-time assertion that Synthesizer satisfies tts.Synthesizer.
var _ tts.Synthesizer = (*Synthesizer)(nil)

// Option is a functional option for configuring a Synthesizer.
type Option func(*Synthesizer)

// WithModel sets the synthesis model. Defaults to [DefaultModel].
func WithModel(model string) Option {
	return func(s *Synthesizer) { s.model = model }
}

// WithVoice sets the synthesis voice. Defaults to [DefaultVoice].
func WithVoice(voice string) Option {
	return func(s *Synthesizer) { s.voice = voice }
}

// WithBaseURL overrides the default OpenAI API base URL. Primarily used
// in tests to point at a local mock server.
func WithBaseURL(url string) Option {
	return func(s *Synthesizer) { s.baseURL = url }
}

// Synthesizer implements tts.Synthesizer using the OpenAI API.
type Synthesizer struct {
	client  oai.Client
	model   string
	voice   string
	baseURL string
}

// New constructs a Synthesizer with the given API key and options.
func New(apiKey string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai tts: apiKey must not be empty")
	}

	s := &Synthesizer{model: DefaultModel, voice: DefaultVoice}
	for _, o := range opts {
		o(s)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(30 * time.Second),
	}
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}
	s.client = oai.NewClient(reqOpts...)

	return s, nil
}

// Synthesize implements tts.Synthesizer. The returned clip is 16-bit
// little-endian mono PCM at 24 kHz.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("openai tts: text must not be empty")
	}

	resp, err := s.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(s.model),
		Voice:          oai.AudioSpeechNewParamsVoice(s.voice),
		Input:          text,
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return nil, fmt.Errorf("openai tts: synthesize: %w", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai tts: read audio: %w", err)
	}
	return pcm, nil
}

// SampleRate implements tts.Synthesizer.
func (s *Synthesizer) SampleRate() int { return pcmSampleRate }
