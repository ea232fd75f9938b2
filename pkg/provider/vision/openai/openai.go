// Package openai implements the vision.Describer interface using the
// OpenAI chat completions API with image input.
package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/chimebot/chime/pkg/provider/vision"
)

// DefaultModel is the vision model used when none is configured.
const DefaultModel = "gpt-4o-mini"

// Compile-time assertion that Describer satisfies vision.Describer.
var _ vision.Describer = (*Describer)(nil)

// Option is a functional option for configuring a Describer.
type Option func(*Describer)

// WithModel sets the vision model. Defaults to [DefaultModel].
func WithModel(model string) Option {
	return func(d *Describer) { d.model = model }
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(d *Describer) { d.baseURL = url }
}

// Describer implements vision.Describer using the OpenAI API.
type Describer struct {
	client  oai.Client
	model   string
	baseURL string
}

// New constructs a Describer with the given API key and options.
func New(apiKey string, opts ...Option) (*Describer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai vision: apiKey must not be empty")
	}

	d := &Describer{model: DefaultModel}
	for _, o := range opts {
		o(d)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(30 * time.Second),
	}
	if d.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(d.baseURL))
	}
	d.client = oai.NewClient(reqOpts...)

	return d, nil
}

// Describe implements vision.Describer.
func (d *Describer) Describe(ctx context.Context, frame []byte, mimeType string, prompt string) (string, error) {
	if len(frame) == 0 {
		return "", fmt.Errorf("openai vision: frame must not be empty")
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(frame))

	resp, err := d.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: oai.ChatModel(d.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.UserMessage([]oai.ChatCompletionContentPartUnionParam{
				oai.TextContentPart(prompt),
				oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			}),
		},
		MaxTokens: oai.Int(120),
	})
	if err != nil {
		return "", fmt.Errorf("openai vision: describe: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai vision: empty choices in response")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
