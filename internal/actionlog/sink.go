// Package actionlog records every externally visible action the bot
// takes — admission decisions, spoken replies, stream commentary,
// session lifecycle events — so operators can answer "why did it speak
// just then" after the fact.
package actionlog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a logged action.
type Kind string

const (
	// KindDecision is one turn-admission decision, admitted or not.
	KindDecision Kind = "decision"

	// KindResponse is a spoken reply delivered to the channel.
	KindResponse Kind = "response"

	// KindCommentary is an autonomous stream-watch remark.
	KindCommentary Kind = "commentary"

	// KindSession marks session lifecycle events (join, leave, expire).
	KindSession Kind = "session"
)

// Action is one recorded bot action. Decision actions carry the
// admission reason and outcome; response and commentary actions carry
// the spoken text in Detail.
type Action struct {
	// ID is assigned by the sink when empty.
	ID string

	// SessionID identifies the voice session the action belongs to.
	SessionID string

	GuildID   string
	ChannelID string

	Kind Kind

	// SpeakerID is the user whose utterance triggered the action, when
	// one exists.
	SpeakerID string

	// Transcript is the utterance text the action responded to.
	Transcript string

	// Reason is the admission reason tag for decision actions.
	Reason string

	// Admitted reports the decision outcome for decision actions.
	Admitted bool

	// Detail carries kind-specific fields (reply text, commentary
	// prompt, eviction counts).
	Detail map[string]any

	// Cost is the LLM token spend attributed to the action: prompt plus
	// completion tokens summed across every call it triggered. Zero for
	// actions with no model involvement.
	Cost float64

	// TraceID links the action to its distributed trace.
	TraceID string

	CreatedAt time.Time
}

// Sink persists actions. Implementations must be safe for concurrent
// use. Record must not block turn processing for long; slow sinks
// should buffer internally.
type Sink interface {
	// Record persists one action. The sink fills ID and CreatedAt when
	// unset.
	Record(ctx context.Context, a *Action) error

	// RecentForSession returns up to limit actions for the session,
	// newest first.
	RecentForSession(ctx context.Context, sessionID string, limit int) ([]Action, error)

	// Close releases sink resources.
	Close(ctx context.Context) error
}

// stamp fills the generated fields of a before persistence.
func stamp(a *Action) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
}

// SlogSink writes actions to the structured log only. It is the
// fallback when no postgres DSN is configured.
type SlogSink struct {
	logger *slog.Logger
}

var _ Sink = (*SlogSink)(nil)

// NewSlogSink returns a sink that logs actions via logger. A nil
// logger uses [slog.Default].
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Record(ctx context.Context, a *Action) error {
	stamp(a)
	s.logger.LogAttrs(ctx, slog.LevelInfo, "action",
		slog.String("id", a.ID),
		slog.String("session_id", a.SessionID),
		slog.String("kind", string(a.Kind)),
		slog.String("speaker_id", a.SpeakerID),
		slog.String("reason", a.Reason),
		slog.Bool("admitted", a.Admitted),
		slog.Float64("cost", a.Cost),
		slog.String("trace_id", a.TraceID),
	)
	return nil
}

// RecentForSession always returns nil; log lines are not queryable.
func (s *SlogSink) RecentForSession(context.Context, string, int) ([]Action, error) {
	return nil, nil
}

func (s *SlogSink) Close(context.Context) error { return nil }

// MemorySink keeps actions in memory. Used in tests and as a building
// block for session-local history.
type MemorySink struct {
	mu      sync.Mutex
	actions []Action
}

var _ Sink = (*MemorySink)(nil)

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Record(_ context.Context, a *Action) error {
	stamp(a)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, *a)
	return nil
}

func (s *MemorySink) RecentForSession(_ context.Context, sessionID string, limit int) ([]Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Action
	for i := len(s.actions) - 1; i >= 0 && len(out) < limit; i-- {
		if s.actions[i].SessionID == sessionID {
			out = append(out, s.actions[i])
		}
	}
	return out, nil
}

func (s *MemorySink) Close(context.Context) error { return nil }

// All returns a copy of every recorded action in insertion order.
func (s *MemorySink) All() []Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Action, len(s.actions))
	copy(out, s.actions)
	return out
}
