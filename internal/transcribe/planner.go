// Package transcribe selects the speech-to-text model for a captured
// clip and tracks empty-result streaks.
//
// Cheap "mini" transcription models under-transcribe very short clips,
// so the planner routes those straight to the full-quality model and
// gives longer clips the mini model with the full model as an explicit
// empty-result fallback. Operator-configured non-mini models pass
// through unchanged.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chimebot/chime/internal/turn"
	"github.com/chimebot/chime/pkg/audio"
	"github.com/chimebot/chime/pkg/provider/stt"
)

// Default transcription model tiers.
const (
	DefaultMiniModel = "gpt-4o-mini-transcribe"
	DefaultFullModel = "gpt-4o-transcribe"
)

// ShortClipThreshold is the clip duration below which the mini model is
// skipped entirely in favor of the full model.
const ShortClipThreshold = 2500 * time.Millisecond

// PlanReason explains a model routing decision.
type PlanReason string

const (
	ReasonShortClipPrefersFull PlanReason = "short_clip_prefers_full_model"
	ReasonMiniWithFallback     PlanReason = "mini_with_full_fallback"
	ReasonConfiguredNonMini    PlanReason = "configured_non_mini_model"
	ReasonConfiguredModel      PlanReason = "configured_model"
)

// Plan is the resolved transcription strategy for one clip.
type Plan struct {
	// PrimaryModel handles the clip first.
	PrimaryModel string

	// FallbackModel, when set, retries a clip whose primary pass came
	// back empty.
	FallbackModel string

	Reason PlanReason
}

// Planner resolves model routing. Safe for concurrent use; read-only
// after construction.
type Planner struct {
	miniModel string
	fullModel string
}

// NewPlanner returns a planner with the given tier models. Empty
// arguments select the defaults.
func NewPlanner(miniModel, fullModel string) *Planner {
	if miniModel == "" {
		miniModel = DefaultMiniModel
	}
	if fullModel == "" {
		fullModel = DefaultFullModel
	}
	return &Planner{miniModel: miniModel, fullModel: fullModel}
}

// Plan resolves the model strategy for a 16-bit mono PCM clip of
// clipBytes at sampleRateHz. An empty configuredModel selects the
// cost-tiered default under the realtime mode; any other configured
// model passes through unchanged.
func (p *Planner) Plan(mode turn.Mode, configuredModel string, clipBytes, sampleRateHz int) Plan {
	if mode != turn.ModeRealtime {
		model := configuredModel
		if model == "" {
			model = p.miniModel
		}
		return Plan{PrimaryModel: model, Reason: ReasonConfiguredModel}
	}

	if configuredModel != "" && configuredModel != p.miniModel {
		return Plan{PrimaryModel: configuredModel, Reason: ReasonConfiguredNonMini}
	}

	if audio.PCMDuration(clipBytes, sampleRateHz) < ShortClipThreshold {
		return Plan{PrimaryModel: p.fullModel, Reason: ReasonShortClipPrefersFull}
	}
	return Plan{
		PrimaryModel:  p.miniModel,
		FallbackModel: p.fullModel,
		Reason:        ReasonMiniWithFallback,
	}
}

// Run executes plan against t: one primary pass, then the fallback
// model when the primary returned an empty transcript. It reports the
// model that produced the text. An empty result from every pass
// surfaces as [stt.ErrEmptyTranscript].
func Run(ctx context.Context, t stt.Transcriber, plan Plan, pcm []byte, sampleRateHz int) (text, usedModel string, err error) {
	text, err = t.Transcribe(ctx, pcm, plan.PrimaryModel, sampleRateHz)
	if err == nil {
		return text, plan.PrimaryModel, nil
	}
	if plan.FallbackModel == "" || !errors.Is(err, stt.ErrEmptyTranscript) {
		return "", plan.PrimaryModel, fmt.Errorf("transcribe: %s: %w", plan.PrimaryModel, err)
	}

	text, err = t.Transcribe(ctx, pcm, plan.FallbackModel, sampleRateHz)
	if err != nil {
		return "", plan.FallbackModel, fmt.Errorf("transcribe: fallback %s: %w", plan.FallbackModel, err)
	}
	return text, plan.FallbackModel, nil
}
