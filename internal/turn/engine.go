package turn

import (
	"context"
	"strings"
	"time"

	"github.com/chimebot/chime/internal/config"
	"github.com/chimebot/chime/internal/observe"
)

const (
	// focusedFollowupWindow is how long an admitted speaker keeps the
	// floor for classifier-free follow-ups.
	focusedFollowupWindow = 8 * time.Second

	// unaddressedCooldownMax is the cooldown after an unaddressed reply
	// at eagerness 0; the effective cooldown shrinks linearly as
	// eagerness rises.
	unaddressedCooldownMax = 60 * time.Second
)

// Option configures an [Engine].
type Option func(*Engine)

// WithClock overrides the engine's time source. Tests use a fixed
// clock so decisions stay reproducible.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics directs decision counters to m instead of the default
// instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine evaluates turn admission. A nil classifier behaves like the
// classifier-disabled configuration.
type Engine struct {
	classifier *Classifier
	metrics    *observe.Metrics
	now        func() time.Time
}

// NewEngine returns an engine using classifier for ambiguous turns.
// classifier may be nil.
func NewEngine(classifier *Classifier, opts ...Option) *Engine {
	e := &Engine{
		classifier: classifier,
		now:        time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Decide evaluates one utterance against the session snapshot and
// settings, in priority order:
//
//  1. bot-turn-open override — the caller must defer, not discard
//  2. missing transcript
//  3. direct address (mention, name, wake-word variant) — fast path,
//     zero classifier calls; a low-signal wake ping still admits
//  4. low-signal filter, with an ack exemption inside the
//     focused-speaker window
//  5. focused-speaker follow-up
//  6. eagerness gate and unaddressed cooldown
//  7. classifier-disabled handling per mode
//  8. bounded-retry YES/NO classifier
//
// Decide performs no I/O except the classifier call in the final step.
func (e *Engine) Decide(ctx context.Context, snap Snapshot, speakerID string, settings config.Settings, transcript string) Decision {
	now := e.now()
	transcript = strings.TrimSpace(transcript)

	addressed, _ := DetectAddress(transcript, AddressOptions{
		BotUserID: snap.BotUserID,
		BotName:   settings.BotName,
		WakeWords: settings.WakeWords,
	})

	if snap.BotTurnOpen {
		return e.finish(ctx, Decision{Reason: ReasonBotTurnOpen, DirectAddressed: addressed, Transcript: transcript})
	}

	if transcript == "" {
		return e.finish(ctx, Decision{Reason: ReasonMissingTranscript})
	}

	low := IsLowSignal(transcript)

	if addressed {
		reason := ReasonDirectAddress
		if low {
			reason = ReasonDirectAddressPing
		}
		return e.finish(ctx, Decision{Allow: true, Reason: reason, DirectAddressed: true, Transcript: transcript})
	}

	focused := speakerID != "" &&
		speakerID == snap.FocusedSpeakerID &&
		!snap.FocusedSpeakerAt.IsZero() &&
		now.Sub(snap.FocusedSpeakerAt) <= focusedFollowupWindow

	if low && !(focused && IsAck(transcript)) {
		return e.finish(ctx, Decision{Reason: ReasonLowSignalFragment, Transcript: transcript})
	}

	if focused {
		return e.finish(ctx, Decision{Allow: true, Reason: ReasonFocusedFollowup, Transcript: transcript})
	}

	if settings.Eagerness <= 0 {
		return e.finish(ctx, Decision{Reason: ReasonEagernessDisabled, Transcript: transcript})
	}

	if cd := unaddressedCooldown(settings.Eagerness); cd > 0 &&
		!snap.LastUnaddressedReplyAt.IsZero() &&
		now.Sub(snap.LastUnaddressedReplyAt) < cd {
		return e.finish(ctx, Decision{Reason: ReasonUnaddressedCooldown, Transcript: transcript})
	}

	if !settings.ClassifierEnabled || e.classifier == nil {
		if snap.Mode == ModePipeline {
			return e.finish(ctx, Decision{Allow: true, Reason: ReasonClassifierMerged, Transcript: transcript})
		}
		return e.finish(ctx, Decision{Reason: ReasonClassifierDisabled, Transcript: transcript})
	}

	system := classifierSystemPrompt(settings.BotName)
	user := BuildClassifierPrompt(snap, snap.speakerName(speakerID), transcript, now)

	verdict, attempts, usage, err := e.classifier.Classify(ctx, system, user)
	d := Decision{
		Transcript:  transcript,
		LLMProvider: e.classifier.ProviderName(),
		LLMModel:    e.classifier.Model(),
		Attempts:    attempts,
		Usage:       usage,
	}
	switch {
	case err != nil:
		d.Reason = ReasonLLMContractViolated
	case verdict == VerdictYes && attempts > 1:
		d.Allow, d.Reason = true, ReasonLLMYesRetry
	case verdict == VerdictYes:
		d.Allow, d.Reason = true, ReasonLLMYes
	default:
		d.Reason = ReasonLLMNo
	}
	return e.finish(ctx, d)
}

// finish records the decision counters and returns d unchanged.
func (e *Engine) finish(ctx context.Context, d Decision) Decision {
	if e.metrics != nil {
		e.metrics.RecordDecision(ctx, string(d.Reason), d.Allow)
		if d.Attempts > 1 {
			e.metrics.ClassifierRetries.Add(ctx, int64(d.Attempts-1))
		}
	}
	return d
}

// unaddressedCooldown maps eagerness in (0, 100] to a cooldown between
// unaddressed replies: 100 means no cooldown, lower values wait longer.
func unaddressedCooldown(eagerness int) time.Duration {
	if eagerness >= 100 {
		return 0
	}
	return unaddressedCooldownMax * time.Duration(100-eagerness) / 100
}
