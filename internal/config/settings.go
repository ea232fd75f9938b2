package config

import (
	"slices"
	"sync/atomic"
)

// Default voice behaviour values applied when the config leaves them
// unset.
const (
	DefaultBotName   = "chime"
	DefaultEagerness = 40
)

// Settings is one immutable snapshot of the runtime voice behaviour.
//
// A turn captures the snapshot once when processing begins and uses it
// for every decision in that turn, so a mid-turn settings change never
// splits one utterance across two configurations. Mutation happens only
// by publishing a whole new snapshot through [SettingsStore.Replace].
type Settings struct {
	// BotName is the primary address word.
	BotName string

	// WakeWords are additional address words, already lower-cased.
	WakeWords []string

	// Eagerness in [0, 100]. 0 admits direct address only.
	Eagerness int

	// ClassifierEnabled gates the LLM admission classifier.
	ClassifierEnabled bool

	// Persona is the system instruction text for response generation.
	Persona string

	// TranscriptionModel is the configured transcription model; empty
	// selects the cost-tiered default.
	TranscriptionModel string

	// StreamWatchEnabled gates autonomous stream commentary.
	StreamWatchEnabled bool
}

// SettingsFromConfig builds the initial snapshot from the loaded config,
// applying defaults.
func SettingsFromConfig(cfg *Config) Settings {
	s := Settings{
		BotName:            cfg.Voice.BotName,
		WakeWords:          slices.Clone(cfg.Voice.WakeWords),
		Eagerness:          cfg.Voice.Eagerness,
		ClassifierEnabled:  true,
		Persona:            cfg.Voice.Persona,
		TranscriptionModel: cfg.Providers.Transcription.Model,
		StreamWatchEnabled: cfg.Voice.StreamWatchEnabled,
	}
	if s.BotName == "" {
		s.BotName = DefaultBotName
	}
	if cfg.Voice.Eagerness == 0 && cfg.Voice.ClassifierEnabled == nil && cfg.Voice.BotName == "" {
		// Entirely unset voice block: use the tuned default eagerness.
		s.Eagerness = DefaultEagerness
	}
	if cfg.Voice.ClassifierEnabled != nil {
		s.ClassifierEnabled = *cfg.Voice.ClassifierEnabled
	}
	return s
}

// SettingsStore publishes Settings snapshots to concurrent readers.
// Reads never block writes and vice versa.
type SettingsStore struct {
	current atomic.Pointer[Settings]
}

// NewSettingsStore returns a store seeded with the given snapshot.
func NewSettingsStore(initial Settings) *SettingsStore {
	st := &SettingsStore{}
	st.Replace(initial)
	return st
}

// Snapshot returns the current settings. The returned value is a copy;
// callers may hold it for the duration of a turn.
func (st *SettingsStore) Snapshot() Settings {
	s := *st.current.Load()
	s.WakeWords = slices.Clone(s.WakeWords)
	return s
}

// Replace publishes s as the new current snapshot. The store clones the
// wake-word slice so later caller mutations cannot leak in.
func (st *SettingsStore) Replace(s Settings) {
	s.WakeWords = slices.Clone(s.WakeWords)
	st.current.Store(&s)
}
