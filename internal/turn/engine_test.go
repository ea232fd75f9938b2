package turn

import (
	"context"
	"testing"
	"time"

	"github.com/chimebot/chime/internal/config"
	"github.com/chimebot/chime/pkg/provider/llm"
	llmmock "github.com/chimebot/chime/pkg/provider/llm/mock"
)

var testNow = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func testSettings() config.Settings {
	return config.Settings{
		BotName:           "clanker",
		WakeWords:         []string{"clank"},
		Eagerness:         60,
		ClassifierEnabled: true,
	}
}

func newTestEngine(responses ...llm.CompletionResponse) (*Engine, *llmmock.Provider) {
	p := &llmmock.Provider{Responses: responses}
	c := NewClassifier(p, "groq", "llama-3.1-8b-instant")
	return NewEngine(c, WithClock(fixedClock)), p
}

func TestDecide_MissingTranscript(t *testing.T) {
	t.Parallel()

	e, p := newTestEngine()
	d := e.Decide(context.Background(), Snapshot{Mode: ModeRealtime}, "u1", testSettings(), "   ")

	if d.Allow || d.Reason != ReasonMissingTranscript {
		t.Errorf("decision = %+v, want deny missing_transcript", d)
	}
	if p.Calls() != 0 {
		t.Errorf("classifier calls = %d, want 0", p.Calls())
	}
}

func TestDecide_LowSignalUnaddressed(t *testing.T) {
	t.Parallel()

	e, p := newTestEngine()
	d := e.Decide(context.Background(), Snapshot{Mode: ModeRealtime}, "u1", testSettings(), "yo")

	if d.Allow || d.Reason != ReasonLowSignalFragment {
		t.Errorf("decision = %+v, want deny low_signal_fragment", d)
	}
	if p.Calls() != 0 {
		t.Errorf("classifier calls = %d, want 0 (cost invariant)", p.Calls())
	}
}

func TestDecide_DirectAddressFastPath(t *testing.T) {
	t.Parallel()

	e, p := newTestEngine()
	d := e.Decide(context.Background(), Snapshot{Mode: ModeRealtime}, "u1", testSettings(), "clanker what do you think")

	if !d.Allow || d.Reason != ReasonDirectAddress || !d.DirectAddressed {
		t.Errorf("decision = %+v, want allow direct_address_fast_path addressed", d)
	}
	if p.Calls() != 0 {
		t.Errorf("classifier calls = %d, want 0 (cost invariant)", p.Calls())
	}
}

func TestDecide_WakePingAdmitsDespiteLowSignal(t *testing.T) {
	t.Parallel()

	e, p := newTestEngine()
	d := e.Decide(context.Background(), Snapshot{Mode: ModeRealtime}, "u1", testSettings(), "clanker")

	if !d.Allow || d.Reason != ReasonDirectAddressPing {
		t.Errorf("decision = %+v, want allow direct_address_wake_ping", d)
	}
	if p.Calls() != 0 {
		t.Errorf("classifier calls = %d, want 0", p.Calls())
	}
}

func TestDecide_BotTurnOpenOverridesEverything(t *testing.T) {
	t.Parallel()

	e, p := newTestEngine()
	snap := Snapshot{Mode: ModeRealtime, BotTurnOpen: true}
	d := e.Decide(context.Background(), snap, "u1", testSettings(), "clanker what do you think")

	if d.Allow || d.Reason != ReasonBotTurnOpen {
		t.Errorf("decision = %+v, want deny bot_turn_open", d)
	}
	if !d.DirectAddressed {
		t.Error("DirectAddressed flag lost on deferral decision")
	}
	if p.Calls() != 0 {
		t.Errorf("classifier calls = %d, want 0", p.Calls())
	}
}

func TestDecide_FocusedSpeakerFollowup(t *testing.T) {
	t.Parallel()

	e, p := newTestEngine()
	snap := Snapshot{
		Mode:             ModeRealtime,
		FocusedSpeakerID: "u1",
		FocusedSpeakerAt: testNow.Add(-3 * time.Second),
	}
	d := e.Decide(context.Background(), snap, "u1", testSettings(), "and what about the second map")

	if !d.Allow || d.Reason != ReasonFocusedFollowup {
		t.Errorf("decision = %+v, want allow focused_speaker_followup", d)
	}
	if p.Calls() != 0 {
		t.Errorf("classifier calls = %d, want 0", p.Calls())
	}
}

func TestDecide_FocusedWindowAdmitsAck(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine()
	snap := Snapshot{
		Mode:             ModeRealtime,
		FocusedSpeakerID: "u1",
		FocusedSpeakerAt: testNow.Add(-2 * time.Second),
	}
	d := e.Decide(context.Background(), snap, "u1", testSettings(), "yeah")

	if !d.Allow || d.Reason != ReasonFocusedFollowup {
		t.Errorf("decision = %+v, want allow for an ack inside the focus window", d)
	}
}

func TestDecide_FocusedWindowExpired(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(llm.CompletionResponse{Content: "NO"})
	snap := Snapshot{
		Mode:             ModeRealtime,
		FocusedSpeakerID: "u1",
		FocusedSpeakerAt: testNow.Add(-focusedFollowupWindow - time.Second),
	}
	d := e.Decide(context.Background(), snap, "u1", testSettings(), "and what about the second map")

	if d.Reason == ReasonFocusedFollowup {
		t.Errorf("decision = %+v; expired focus window must not admit", d)
	}
}

func TestDecide_EagernessZeroDeniesUnaddressed(t *testing.T) {
	t.Parallel()

	e, p := newTestEngine()
	settings := testSettings()
	settings.Eagerness = 0

	d := e.Decide(context.Background(), Snapshot{Mode: ModeRealtime}, "u1", settings, "that was a wild round honestly")
	if d.Allow || d.Reason != ReasonEagernessDisabled {
		t.Errorf("decision = %+v, want deny eagerness_disabled_without_direct_address", d)
	}
	if p.Calls() != 0 {
		t.Errorf("classifier calls = %d, want 0", p.Calls())
	}

	d = e.Decide(context.Background(), Snapshot{Mode: ModeRealtime}, "u1", settings, "clanker what do you think")
	if !d.Allow || d.Reason != ReasonDirectAddress {
		t.Errorf("decision = %+v; eagerness 0 must still admit direct address", d)
	}
}

func TestDecide_UnaddressedCooldown(t *testing.T) {
	t.Parallel()

	e, p := newTestEngine()
	snap := Snapshot{
		Mode:                   ModeRealtime,
		LastUnaddressedReplyAt: testNow.Add(-5 * time.Second),
	}
	d := e.Decide(context.Background(), snap, "u1", testSettings(), "that was a wild round honestly")

	if d.Allow || d.Reason != ReasonUnaddressedCooldown {
		t.Errorf("decision = %+v, want deny unaddressed_cooldown", d)
	}
	if p.Calls() != 0 {
		t.Errorf("classifier calls = %d, want 0", p.Calls())
	}
}

func TestDecide_ClassifierYes(t *testing.T) {
	t.Parallel()

	e, p := newTestEngine(llm.CompletionResponse{
		Content: "YES",
		Usage:   llm.Usage{PromptTokens: 150, CompletionTokens: 1, TotalTokens: 151},
	})
	d := e.Decide(context.Background(), Snapshot{Mode: ModeRealtime}, "u1", testSettings(),
		"that reminds me of yesterday, what happened again?")

	if !d.Allow || d.Reason != ReasonLLMYes {
		t.Errorf("decision = %+v, want allow llm_yes", d)
	}
	if d.LLMProvider != "groq" || d.LLMModel != "llama-3.1-8b-instant" {
		t.Errorf("decision backend = %q/%q", d.LLMProvider, d.LLMModel)
	}
	if d.Usage.TotalTokens != 151 {
		t.Errorf("usage total = %d, want 151", d.Usage.TotalTokens)
	}
	if p.Calls() != 1 {
		t.Errorf("classifier calls = %d, want 1", p.Calls())
	}
}

func TestDecide_ClassifierYesOnRetry(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(
		llm.CompletionResponse{Content: "hmm, probably"},
		llm.CompletionResponse{Content: "YES"},
	)
	d := e.Decide(context.Background(), Snapshot{Mode: ModeRealtime}, "u1", testSettings(),
		"that reminds me of yesterday, what happened again?")

	if !d.Allow || d.Reason != ReasonLLMYesRetry {
		t.Errorf("decision = %+v, want allow llm_yes_retry", d)
	}
	if d.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", d.Attempts)
	}
}

func TestDecide_ClassifierNo(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(llm.CompletionResponse{Content: "NO"})
	d := e.Decide(context.Background(), Snapshot{Mode: ModeRealtime}, "u1", testSettings(),
		"we should order food at some point")

	if d.Allow || d.Reason != ReasonLLMNo {
		t.Errorf("decision = %+v, want deny llm_no", d)
	}
}

func TestDecide_ClassifierContractViolation(t *testing.T) {
	t.Parallel()

	e, p := newTestEngine(llm.CompletionResponse{Content: "as an assistant I would say"})
	d := e.Decide(context.Background(), Snapshot{Mode: ModeRealtime}, "u1", testSettings(),
		"that reminds me of yesterday, what happened again?")

	if d.Allow || d.Reason != ReasonLLMContractViolated {
		t.Errorf("decision = %+v, want deny llm_contract_violation", d)
	}
	if p.Calls() != classifierMaxAttempts {
		t.Errorf("classifier calls = %d, want %d", p.Calls(), classifierMaxAttempts)
	}
}

func TestDecide_ClassifierDisabledPerMode(t *testing.T) {
	t.Parallel()

	settings := testSettings()
	settings.ClassifierEnabled = false
	transcript := "that reminds me of yesterday, what happened again?"

	e, p := newTestEngine()

	d := e.Decide(context.Background(), Snapshot{Mode: ModePipeline}, "u1", settings, transcript)
	if !d.Allow || d.Reason != ReasonClassifierMerged {
		t.Errorf("pipeline decision = %+v, want allow classifier_disabled_merged_with_generation", d)
	}

	d = e.Decide(context.Background(), Snapshot{Mode: ModeRealtime}, "u1", settings, transcript)
	if d.Allow || d.Reason != ReasonClassifierDisabled {
		t.Errorf("realtime decision = %+v, want deny classifier_disabled", d)
	}

	if p.Calls() != 0 {
		t.Errorf("classifier calls = %d, want 0", p.Calls())
	}
}

func TestDecide_NilClassifierBehavesDisabled(t *testing.T) {
	t.Parallel()

	e := NewEngine(nil, WithClock(fixedClock))
	d := e.Decide(context.Background(), Snapshot{Mode: ModeRealtime}, "u1", testSettings(),
		"that reminds me of yesterday, what happened again?")

	if d.Allow || d.Reason != ReasonClassifierDisabled {
		t.Errorf("decision = %+v, want deny classifier_disabled", d)
	}
}

func TestDecide_Idempotent(t *testing.T) {
	t.Parallel()

	snap := Snapshot{
		Mode:             ModeRealtime,
		StartedAt:        testNow.Add(-time.Hour),
		FocusedSpeakerID: "u2",
		FocusedSpeakerAt: testNow.Add(-time.Minute),
		Participants:     []Participant{{ID: "u1", Name: "Ada"}},
	}
	settings := testSettings()
	transcript := "that reminds me of yesterday, what happened again?"

	e, _ := newTestEngine(llm.CompletionResponse{Content: "YES"})

	first := e.Decide(context.Background(), snap, "u1", settings, transcript)
	second := e.Decide(context.Background(), snap, "u1", settings, transcript)
	if first != second {
		t.Errorf("Decide is not idempotent:\nfirst  = %+v\nsecond = %+v", first, second)
	}
}

func TestDecide_AllowAlwaysCarriesTranscript(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(llm.CompletionResponse{Content: "YES"})
	settings := testSettings()

	for _, transcript := range []string{
		"clanker what do you think",
		"clanker?",
		"that reminds me of yesterday, what happened again?",
	} {
		d := e.Decide(context.Background(), Snapshot{Mode: ModeRealtime}, "u1", settings, transcript)
		if d.Allow && d.Transcript == "" {
			t.Errorf("admitted decision for %q has empty transcript", transcript)
		}
	}
}
