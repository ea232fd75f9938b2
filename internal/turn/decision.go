// Package turn implements the turn-admission decision engine: given a
// transcript and a snapshot of the session state, decide whether the
// bot should speak and classify why.
//
// Decide is a pure function of its explicit inputs. All session state
// it needs arrives in a [Snapshot] captured by the caller; the engine
// never reaches back into live session state, so two calls with
// identical inputs produce identical decisions.
package turn

import (
	"time"

	"github.com/chimebot/chime/pkg/provider/llm"
)

// Mode selects how admitted turns are turned into speech.
type Mode string

const (
	// ModeRealtime forwards admitted audio to the provider-native
	// realtime transport.
	ModeRealtime Mode = "realtime"

	// ModePipeline runs the transcribe → generate → synthesize path.
	ModePipeline Mode = "pipeline"
)

// Reason classifies a turn-admission decision.
type Reason string

const (
	ReasonMissingTranscript   Reason = "missing_transcript"
	ReasonLowSignalFragment   Reason = "low_signal_fragment"
	ReasonEagernessDisabled   Reason = "eagerness_disabled_without_direct_address"
	ReasonDirectAddress       Reason = "direct_address_fast_path"
	ReasonDirectAddressPing   Reason = "direct_address_wake_ping"
	ReasonFocusedFollowup     Reason = "focused_speaker_followup"
	ReasonLLMYes              Reason = "llm_yes"
	ReasonLLMYesRetry         Reason = "llm_yes_retry"
	ReasonLLMNo               Reason = "llm_no"
	ReasonLLMContractViolated Reason = "llm_contract_violation"
	ReasonClassifierDisabled  Reason = "classifier_disabled"
	ReasonClassifierMerged    Reason = "classifier_disabled_merged_with_generation"
	ReasonBotTurnOpen         Reason = "bot_turn_open"
	ReasonUnaddressedCooldown Reason = "unaddressed_cooldown"
)

// Decision is the outcome of one admission evaluation. Produced fresh
// per evaluation and never persisted beyond the turn.
type Decision struct {
	Allow           bool
	Reason          Reason
	DirectAddressed bool

	// Transcript is the evaluated text. Non-empty whenever Allow is
	// true.
	Transcript string

	// LLMProvider and LLMModel identify the classifier backend when one
	// was invoked.
	LLMProvider string
	LLMModel    string

	// Attempts is the number of classifier calls made, zero when the
	// classifier was not invoked.
	Attempts int

	// Usage is the classifier token spend summed across attempts.
	Usage llm.Usage
}

// Participant names one current voice-channel member for prompt
// context.
type Participant struct {
	ID   string
	Name string
}

// HistoryTurn is one entry of the bounded recent-turn history.
type HistoryTurn struct {
	// Role is "user" or "assistant".
	Role string

	SpeakerName string
	Text        string
	At          time.Time
}

// Snapshot is the immutable view of session state an evaluation runs
// against. The caller captures it once per evaluation; the engine never
// mutates it.
type Snapshot struct {
	Mode Mode

	// BotUserID enables explicit mention-marker matching.
	BotUserID string

	// BotTurnOpen is true while the bot's own audio is being
	// synthesized or played back.
	BotTurnOpen bool

	// StartedAt is when the session began, used for the greeting bias
	// in the classifier prompt.
	StartedAt time.Time

	// FocusedSpeakerID and FocusedSpeakerAt record the most recently
	// admitted speaker for the follow-up window.
	FocusedSpeakerID string
	FocusedSpeakerAt time.Time

	// LastUnaddressedReplyAt is when the bot last replied to a turn
	// that did not address it directly.
	LastUnaddressedReplyAt time.Time

	Participants []Participant
	RecentTurns  []HistoryTurn
}

// speakerName resolves the display name for id, falling back to the id
// itself.
func (s Snapshot) speakerName(id string) string {
	for _, p := range s.Participants {
		if p.ID == id {
			return p.Name
		}
	}
	return id
}
