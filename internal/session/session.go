// Package session owns the per-guild voice session: the lifecycle of
// one voice-channel connection, the queue discipline for captured
// turns, the bot-turn-open state, and the stream-watch sub-state.
//
// A Session sits between the capture layer (which hands it finished
// utterances) and the provider boundaries (realtime transport, or the
// transcribe → generate → synthesize pipeline). It serializes turn
// processing so at most one admission evaluation runs at a time, defers
// turns that arrive while the bot is speaking, and flushes the deferred
// batch as one coalesced turn once the channel falls silent.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/chimebot/chime/internal/actionlog"
	"github.com/chimebot/chime/internal/config"
	"github.com/chimebot/chime/internal/observe"
	"github.com/chimebot/chime/internal/transcribe"
	"github.com/chimebot/chime/internal/turn"
	"github.com/chimebot/chime/internal/turnqueue"
	"github.com/chimebot/chime/pkg/audio"
	"github.com/chimebot/chime/pkg/provider/llm"
	"github.com/chimebot/chime/pkg/provider/realtime"
	"github.com/chimebot/chime/pkg/provider/stt"
	"github.com/chimebot/chime/pkg/provider/tts"
	"github.com/chimebot/chime/pkg/provider/vision"
)

// Lifecycle bounds. A session that hears nothing for the inactivity
// window leaves the channel; no session outlives the maximum duration.
const (
	DefaultInactivityTimeout = 5 * time.Minute
	DefaultMaxDuration       = 2 * time.Hour
)

const (
	defaultSampleRateHz    = 24000
	defaultFlushRetryDelay = 400 * time.Millisecond
	drainTimeout           = 15 * time.Second
	historyLimit           = 24
	membershipLimit        = 32
)

// Config carries the collaborators a Session needs. GuildID, Conn,
// Settings, Engine and Actions are required; the provider fields depend
// on the mode.
type Config struct {
	GuildID   string
	ChannelID string

	// BotUserID is the bot's own platform user id, used for explicit
	// mention matching and for filtering the bot out of the roster.
	BotUserID string

	Mode turn.Mode

	Settings *config.SettingsStore
	Engine   *turn.Engine
	Conn     audio.Connection
	Actions  actionlog.Sink
	Metrics  *observe.Metrics

	// Realtime is the open provider transport. Required in
	// ModeRealtime; ignored in ModePipeline.
	Realtime     realtime.Client
	RealtimeName string

	// SupportsVideo mirrors the provider's native video capability and
	// selects the stream-watch commentary path.
	SupportsVideo bool

	// Transcriber converts captured clips to text when a request
	// arrives without a pre-computed transcript. Optional.
	Transcriber stt.Transcriber
	Planner     *transcribe.Planner

	// Generator and GeneratorModel drive reply text in ModePipeline.
	Generator      llm.Provider
	GeneratorModel string

	// Synthesizer speaks pipeline replies and vision-fallback
	// commentary.
	Synthesizer tts.Synthesizer

	// Vision is the describe fallback for stream-watch commentary on
	// providers without native video, and the brain-context note path.
	Vision vision.Describer

	// CaptureSampleRateHz is the rate of PCM handed to HandleCapture;
	// PlaybackSampleRateHz is the rate of frames written to the output
	// stream. Both default to 24 kHz.
	CaptureSampleRateHz  int
	PlaybackSampleRateHz int

	// OnClose runs once after the session has fully shut down.
	OnClose func(*Session)
}

// Option configures a Session beyond its Config.
type Option func(*Session)

// WithClock overrides the session's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithInactivityTimeout overrides the silence window after which the
// session expires.
func WithInactivityTimeout(d time.Duration) Option {
	return func(s *Session) { s.inactivityTimeout = d }
}

// WithMaxDuration overrides the hard session lifetime cap.
func WithMaxDuration(d time.Duration) Option {
	return func(s *Session) { s.maxDuration = d }
}

// WithFlushRetryDelay overrides how long a deferred flush waits before
// re-checking for silence.
func WithFlushRetryDelay(d time.Duration) Option {
	return func(s *Session) { s.flushRetryDelay = d }
}

// WithWatchInterval overrides the stream-watch tick cadence.
func WithWatchInterval(d time.Duration) Option {
	return func(s *Session) { s.watchInterval = d }
}

// Session is one live voice session on a guild channel. All exported
// methods are safe for concurrent use.
type Session struct {
	id  string
	cfg Config

	queue     *turnqueue.Queue
	deferred  *turnqueue.Deferral
	escalator *transcribe.Escalator

	now               func() time.Time
	flushRetryDelay   time.Duration
	inactivityTimeout time.Duration
	maxDuration       time.Duration
	watchInterval     time.Duration

	mu              sync.Mutex
	closed          bool
	inFlight        bool
	botSpeaking     bool
	respRequestedAt time.Time
	focusedID       string
	focusedAt       time.Time
	lastUnaddressed time.Time
	lastUserAudioAt time.Time
	captures        map[string]struct{}
	recentTurns     []turn.HistoryTurn
	memberships     []audio.Event
	watch           watchState
	flushTimer      *time.Timer
	inactivityTimer *time.Timer
	maxTimer        *time.Timer
	startedAt       time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// New validates cfg and builds a Session. The session is inert until
// Start is called.
func New(cfg Config, opts ...Option) (*Session, error) {
	var errs []error
	if cfg.GuildID == "" {
		errs = append(errs, errors.New("session: guild id is required"))
	}
	if cfg.Conn == nil {
		errs = append(errs, errors.New("session: voice connection is required"))
	}
	if cfg.Settings == nil {
		errs = append(errs, errors.New("session: settings store is required"))
	}
	if cfg.Engine == nil {
		errs = append(errs, errors.New("session: admission engine is required"))
	}
	if cfg.Actions == nil {
		errs = append(errs, errors.New("session: action sink is required"))
	}
	if cfg.Mode == turn.ModeRealtime && cfg.Realtime == nil {
		errs = append(errs, errors.New("session: realtime mode needs an open realtime client"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if cfg.Mode == "" {
		cfg.Mode = turn.ModeRealtime
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Planner == nil {
		cfg.Planner = transcribe.NewPlanner("", "")
	}
	if cfg.CaptureSampleRateHz == 0 {
		cfg.CaptureSampleRateHz = defaultSampleRateHz
	}
	if cfg.PlaybackSampleRateHz == 0 {
		cfg.PlaybackSampleRateHz = defaultSampleRateHz
	}

	s := &Session{
		id:                uuid.NewString(),
		cfg:               cfg,
		queue:             turnqueue.NewQueue(),
		deferred:          turnqueue.NewDeferral(),
		escalator:         transcribe.NewEscalator(),
		now:               time.Now,
		flushRetryDelay:   defaultFlushRetryDelay,
		inactivityTimeout: DefaultInactivityTimeout,
		maxDuration:       DefaultMaxDuration,
		watchInterval:     time.Second,
		captures:          make(map[string]struct{}),
		done:              make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.startedAt = s.now()
	return s, nil
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// GuildID returns the guild this session serves.
func (s *Session) GuildID() string { return s.cfg.GuildID }

// ChannelID returns the voice channel this session is connected to.
func (s *Session) ChannelID() string { return s.cfg.ChannelID }

// Mode returns the configured response path.
func (s *Session) Mode() turn.Mode { return s.cfg.Mode }

// Done is closed when the session has fully shut down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Start arms the lifecycle timers and launches the background loops:
// the realtime event pump and the stream-watch ticker.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	s.inactivityTimer = time.AfterFunc(s.inactivityTimeout, func() { s.expire("inactivity") })
	s.maxTimer = time.AfterFunc(s.maxDuration, func() { s.expire("max_duration") })
	s.mu.Unlock()

	s.cfg.Conn.OnMembershipChange(s.handleMembership)
	s.cfg.Metrics.ActiveSessions.Add(ctx, 1)
	s.recordSession(ctx, "start", nil)

	if s.cfg.Realtime != nil {
		go s.pumpEvents(ctx)
	}
	go s.watchLoop(ctx)
}

// CaptureStarted marks userID as actively speaking. The deferred flush
// treats any active capture as "channel not silent".
func (s *Session) CaptureStarted(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.captures[userID] = struct{}{}
	s.lastUserAudioAt = s.now()
}

// CaptureEnded clears the active-speech mark for userID without
// submitting a turn, for captures abandoned by the segmenter.
func (s *Session) CaptureEnded(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.captures, userID)
}

// HandleCapture accepts one finished utterance. It enqueues the request
// on the drain queue and, when no turn is currently being processed,
// starts the drain worker. Never blocks on providers.
func (s *Session) HandleCapture(ctx context.Context, req turnqueue.Request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.captures, req.UserID)
	if req.UserID != "" {
		s.lastUserAudioAt = s.now()
	}
	before := s.queue.Len()
	res := s.queue.Enqueue(req)
	after := s.queue.Len()
	start := !s.inFlight
	if start {
		s.inFlight = true
	}
	s.mu.Unlock()

	s.resetInactivity()
	if res.Coalesced {
		s.cfg.Metrics.RecordCoalesce(ctx, "drain")
	}
	if res.Evicted != nil {
		s.cfg.Metrics.RecordEviction(ctx, "drain")
		observe.Logger(ctx).Debug("turn superseded by a fresher capture",
			"guild_id", s.cfg.GuildID, "user_id", res.Evicted.UserID)
	}
	s.noteQueueDepth(ctx, before, after)

	if start {
		go s.drainLoop(context.WithoutCancel(ctx))
	}
}

// drainLoop processes queued turns one at a time until the queue is
// empty, then releases the in-flight slot.
func (s *Session) drainLoop(ctx context.Context) {
	for {
		s.mu.Lock()
		before := s.queue.Len()
		req, ok := s.queue.Drain()
		after := s.queue.Len()
		if !ok {
			s.inFlight = false
			s.mu.Unlock()
			s.noteQueueDepth(ctx, before, after)
			return
		}
		closed := s.closed
		s.mu.Unlock()
		s.noteQueueDepth(ctx, before, after)
		if closed {
			continue
		}
		s.processTurn(ctx, req)
	}
}

// processTurn runs one captured utterance through transcription,
// admission and delivery.
func (s *Session) processTurn(ctx context.Context, req turnqueue.Request) {
	ctx, span := observe.StartSpan(ctx, "session.processTurn")
	defer span.End()

	settings := s.cfg.Settings.Snapshot()
	transcript := strings.TrimSpace(req.Transcript)
	usedModel := ""
	var planReason transcribe.PlanReason
	if transcript == "" {
		text, model, reason, err := s.transcribe(ctx, settings, req)
		if err != nil {
			return
		}
		transcript, usedModel, planReason = text, model, reason
	}

	snap := s.snapshot(settings)
	d := s.cfg.Engine.Decide(ctx, snap, req.UserID, settings, transcript)
	s.recordDecision(ctx, req, d, usedModel, planReason)

	switch {
	case d.Reason == turn.ReasonBotTurnOpen:
		dreq := req
		dreq.Transcript = transcript
		dreq.DirectAddressed = d.DirectAddressed
		if ev := s.deferred.Defer(dreq); ev != nil {
			s.cfg.Metrics.RecordEviction(ctx, "deferred")
			observe.Logger(ctx).Debug("deferred turn superseded",
				"guild_id", s.cfg.GuildID, "user_id", ev.UserID)
		}
	case !d.Allow:
		// Denied; the decision record is the only trace.
	default:
		s.noteFocus(req.UserID, d.DirectAddressed)
		s.deliver(ctx, req, d, settings, displayName(snap.Participants, req.UserID), transcript)
	}
}

// transcribe resolves the model plan for the clip and runs it. An empty
// result is tracked by the escalator and surfaces as ("", "", reason, nil)
// so the engine records a missing-transcript decision; hard provider
// failures drop the turn.
func (s *Session) transcribe(ctx context.Context, settings config.Settings, req turnqueue.Request) (text, model string, reason transcribe.PlanReason, err error) {
	if s.cfg.Transcriber == nil || len(req.Audio) == 0 {
		return "", "", "", nil
	}

	plan := s.cfg.Planner.Plan(s.cfg.Mode, settings.TranscriptionModel, len(req.Audio), s.cfg.CaptureSampleRateHz)
	start := s.now()
	text, model, err = transcribe.Run(ctx, s.cfg.Transcriber, plan, req.Audio, s.cfg.CaptureSampleRateHz)
	s.cfg.Metrics.TranscriptionDuration.Record(ctx, s.now().Sub(start).Seconds(),
		metric.WithAttributes(observe.Attr("model", model)))

	if err == nil {
		s.escalator.RecordSuccess()
		return text, model, plan.Reason, nil
	}
	if errors.Is(err, stt.ErrEmptyTranscript) {
		if s.escalator.RecordEmpty() {
			observe.Logger(ctx).Error("transcription keeps coming back empty",
				"guild_id", s.cfg.GuildID, "user_id", req.UserID, "streak", s.escalator.Streak())
			s.cfg.Metrics.RecordProviderError(ctx, "stt", "empty_streak")
		} else {
			observe.Logger(ctx).Debug("empty transcript",
				"guild_id", s.cfg.GuildID, "user_id", req.UserID)
		}
		return "", "", plan.Reason, nil
	}
	observe.Logger(ctx).Warn("transcription failed",
		"guild_id", s.cfg.GuildID, "user_id", req.UserID, "error", err)
	s.cfg.Metrics.RecordProviderError(ctx, "stt", "transcribe")
	return "", "", plan.Reason, err
}

// deliver turns an admitted decision into speech.
func (s *Session) deliver(ctx context.Context, req turnqueue.Request, d turn.Decision, settings config.Settings, speakerName, transcript string) {
	if s.cfg.Mode == turn.ModeRealtime && s.cfg.Realtime != nil {
		s.deliverRealtime(ctx, req, speakerName, transcript)
		return
	}
	s.deliverPipeline(ctx, d, settings, speakerName, transcript)
}

// deliverRealtime forwards the admitted clip to the provider transport.
// The reply arrives asynchronously on the event channel; the event pump
// closes the bot turn after playback drains.
func (s *Session) deliverRealtime(ctx context.Context, req turnqueue.Request, speakerName, transcript string) {
	s.mu.Lock()
	s.respRequestedAt = s.now()
	s.mu.Unlock()
	s.appendTurn("user", speakerName, transcript)

	err := s.cfg.Realtime.AppendAudio(req.Audio)
	if err == nil {
		err = s.cfg.Realtime.CommitInput()
	}
	if err == nil {
		err = s.cfg.Realtime.CreateResponse()
	}
	if err != nil {
		observe.Logger(ctx).Warn("realtime forward failed",
			"guild_id", s.cfg.GuildID, "provider", s.cfg.RealtimeName, "error", err)
		s.cfg.Metrics.RecordProviderError(ctx, s.cfg.RealtimeName, "outbound")
		s.mu.Lock()
		s.respRequestedAt = time.Time{}
		s.mu.Unlock()
		s.finishBotTurn(ctx)
	}
}

// deliverPipeline runs generate → synthesize → playback synchronously.
func (s *Session) deliverPipeline(ctx context.Context, d turn.Decision, settings config.Settings, speakerName, transcript string) {
	admittedAt := s.now()

	s.mu.Lock()
	s.botSpeaking = true
	s.mu.Unlock()
	defer s.finishBotTurn(ctx)

	reply, usage, err := s.generateReply(ctx, settings, speakerName, transcript)
	if err != nil {
		observe.Logger(ctx).Warn("reply generation failed",
			"guild_id", s.cfg.GuildID, "error", err)
		s.cfg.Metrics.RecordProviderError(ctx, "llm", "generate")
		return
	}
	s.appendTurn("user", speakerName, transcript)
	if reply == "" {
		return
	}
	s.appendTurn("assistant", settings.BotName, reply)

	if s.cfg.Synthesizer == nil {
		observe.Logger(ctx).Warn("no synthesizer configured, dropping reply",
			"guild_id", s.cfg.GuildID)
		return
	}
	pcm, err := s.cfg.Synthesizer.Synthesize(ctx, reply)
	if err != nil {
		observe.Logger(ctx).Warn("synthesis failed",
			"guild_id", s.cfg.GuildID, "error", err)
		s.cfg.Metrics.RecordProviderError(ctx, "tts", "synthesize")
		return
	}
	s.cfg.Metrics.ResponseDuration.Record(ctx, s.now().Sub(admittedAt).Seconds())

	s.playPCM(ctx, pcm, s.cfg.Synthesizer.SampleRate())

	s.recordAction(ctx, &actionlog.Action{
		Kind:       actionlog.KindResponse,
		SpeakerID:  s.cfg.BotUserID,
		Transcript: transcript,
		Reason:     string(d.Reason),
		Admitted:   true,
		Detail:     map[string]any{"reply": reply},
		Cost:       float64(usage.TotalTokens),
	})
}

// generateReply asks the generation provider for reply text, feeding it
// the persona, the bounded recent history and the latest stream note.
// It also reports the token usage of the call.
func (s *Session) generateReply(ctx context.Context, settings config.Settings, speakerName, transcript string) (string, llm.Usage, error) {
	if s.cfg.Generator == nil {
		return "", llm.Usage{}, errors.New("session: no generation provider configured")
	}

	s.mu.Lock()
	turns := slices.Clone(s.recentTurns)
	var note string
	if n := len(s.watch.brainNotes); n > 0 {
		note = s.watch.brainNotes[n-1]
	}
	s.mu.Unlock()

	system := settings.Persona
	if system == "" {
		system = "You are " + settings.BotName + ", a voice assistant sitting in a group voice chat. Answer in one or two short spoken sentences."
	}
	if note != "" {
		system += "\nYou are also watching a live stream. Latest on screen: " + note
	}

	msgs := make([]llm.Message, 0, len(turns)+1)
	for _, t := range turns {
		msgs = append(msgs, llm.Message{Role: t.Role, Content: t.Text, Name: t.SpeakerName})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: transcript, Name: speakerName})

	resp, err := s.cfg.Generator.Complete(ctx, llm.CompletionRequest{
		Messages:     msgs,
		SystemPrompt: system,
		Temperature:  0.7,
		MaxTokens:    300,
	})
	if err != nil {
		return "", llm.Usage{}, fmt.Errorf("session: generate reply: %w", err)
	}
	return strings.TrimSpace(resp.Content), resp.Usage, nil
}

// playPCM writes one clip to the playback stream and waits for it to
// drain.
func (s *Session) playPCM(ctx context.Context, pcm []byte, sampleRateHz int) {
	s.cfg.Conn.OutputStream() <- audio.Frame{
		Data:       pcm,
		SampleRate: sampleRateHz,
		Channels:   1,
	}
	dctx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()
	if err := s.cfg.Conn.WaitDrained(dctx); err != nil {
		observe.Logger(ctx).Warn("playback drain interrupted",
			"guild_id", s.cfg.GuildID, "error", err)
	}
}

// finishBotTurn closes the bot's turn and flushes any deferred
// captures. Every delivery path ends here, success or failure.
func (s *Session) finishBotTurn(ctx context.Context) {
	s.mu.Lock()
	s.botSpeaking = false
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.flushDeferred(ctx)
}

// flushDeferred attempts the single coalesced flush of the deferred
// queue. When the channel is not yet silent the flush is retried after
// a short delay instead of being dropped.
func (s *Session) flushDeferred(ctx context.Context) {
	req, outcome := s.deferred.Flush(s.silenceConfirmed)
	switch outcome {
	case turnqueue.FlushEmpty:
	case turnqueue.FlushRescheduled:
		s.scheduleFlushRetry()
	case turnqueue.FlushReady:
		observe.Logger(ctx).Debug("flushing deferred turns",
			"guild_id", s.cfg.GuildID, "user_id", req.UserID)
		s.HandleCapture(ctx, req)
	}
}

func (s *Session) scheduleFlushRetry() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.flushTimer != nil {
		return
	}
	s.flushTimer = time.AfterFunc(s.flushRetryDelay, func() {
		s.mu.Lock()
		s.flushTimer = nil
		skip := s.closed || s.botTurnOpenLocked()
		s.mu.Unlock()
		if skip {
			// An open bot turn flushes again from finishBotTurn.
			return
		}
		s.flushDeferred(context.Background())
	})
}

// silenceConfirmed reports whether no participant is currently
// mid-utterance.
func (s *Session) silenceConfirmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.captures) == 0
}

// pumpEvents is the single reader of the realtime event channel.
func (s *Session) pumpEvents(ctx context.Context) {
	for evt := range s.cfg.Realtime.Events() {
		switch evt.Type {
		case realtime.EventAudioDelta:
			s.forwardReplyAudio(ctx, evt.Audio)
		case realtime.EventTranscript:
			s.noteProviderTranscript(evt)
		case realtime.EventResponseDone:
			s.afterResponse(ctx)
		case realtime.EventError:
			observe.Logger(ctx).Warn("realtime provider error",
				"guild_id", s.cfg.GuildID, "provider", s.cfg.RealtimeName, "error", evt.Err)
			s.cfg.Metrics.RecordProviderError(ctx, s.cfg.RealtimeName, "event")
			s.finishBotTurn(ctx)
		case realtime.EventSocketClosed:
			if evt.Err != nil {
				observe.Logger(ctx).Warn("realtime socket closed",
					"guild_id", s.cfg.GuildID, "provider", s.cfg.RealtimeName, "error", evt.Err)
			}
			s.Close(context.WithoutCancel(ctx))
			return
		}
	}
}

func (s *Session) forwardReplyAudio(ctx context.Context, pcm []byte) {
	s.mu.Lock()
	if !s.respRequestedAt.IsZero() {
		s.cfg.Metrics.ResponseDuration.Record(ctx, s.now().Sub(s.respRequestedAt).Seconds())
		s.respRequestedAt = time.Time{}
	}
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.cfg.Conn.OutputStream() <- audio.Frame{
		Data:       pcm,
		SampleRate: s.cfg.PlaybackSampleRateHz,
		Channels:   1,
	}
}

func (s *Session) noteProviderTranscript(evt realtime.Event) {
	name := evt.Role
	if evt.Role == "assistant" {
		name = s.cfg.Settings.Snapshot().BotName
	} else {
		s.mu.Lock()
		if s.focusedID != "" {
			name = s.focusedID
		}
		s.mu.Unlock()
	}
	s.appendTurn(evt.Role, name, evt.Text)
}

// afterResponse waits for local playback to drain, then closes the bot
// turn.
func (s *Session) afterResponse(ctx context.Context) {
	dctx, cancel := context.WithTimeout(ctx, drainTimeout)
	if err := s.cfg.Conn.WaitDrained(dctx); err != nil {
		observe.Logger(ctx).Warn("playback drain interrupted",
			"guild_id", s.cfg.GuildID, "error", err)
	}
	cancel()
	s.finishBotTurn(ctx)
}

// snapshot captures the immutable view one admission evaluation runs
// against.
func (s *Session) snapshot(settings config.Settings) turn.Snapshot {
	parts := s.participants()
	s.mu.Lock()
	defer s.mu.Unlock()
	return turn.Snapshot{
		Mode:                   s.cfg.Mode,
		BotUserID:              s.cfg.BotUserID,
		BotTurnOpen:            s.botTurnOpenLocked(),
		StartedAt:              s.startedAt,
		FocusedSpeakerID:       s.focusedID,
		FocusedSpeakerAt:       s.focusedAt,
		LastUnaddressedReplyAt: s.lastUnaddressed,
		Participants:           parts,
		RecentTurns:            slices.Clone(s.recentTurns),
	}
}

func (s *Session) participants() []turn.Participant {
	roster := s.cfg.Conn.Roster()
	parts := make([]turn.Participant, 0, len(roster))
	for _, p := range roster {
		if p.Bot || p.ID == s.cfg.BotUserID {
			continue
		}
		name := p.DisplayName
		if name == "" {
			name = p.Username
		}
		parts = append(parts, turn.Participant{ID: p.ID, Name: name})
	}
	return parts
}

// displayName resolves the display name for id, falling back to the id
// itself.
func displayName(parts []turn.Participant, id string) string {
	for _, p := range parts {
		if p.ID == id {
			return p.Name
		}
	}
	return id
}

func (s *Session) botTurnOpenLocked() bool {
	if s.botSpeaking {
		return true
	}
	return s.cfg.Realtime != nil && s.cfg.Realtime.ResponseInProgress()
}

// BotTurnOpen reports whether the bot's own turn is currently open.
func (s *Session) BotTurnOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.botTurnOpenLocked()
}

// FocusedSpeaker returns the current focused speaker and when they
// gained the floor.
func (s *Session) FocusedSpeaker() (string, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focusedID, s.focusedAt
}

// noteFocus records an admitted speaker for the follow-up window and,
// for unaddressed admissions, starts the cooldown.
func (s *Session) noteFocus(userID string, directAddressed bool) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focusedID = userID
	s.focusedAt = now
	if !directAddressed {
		s.lastUnaddressed = now
	}
}

func (s *Session) appendTurn(role, speakerName, text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recentTurns = append(s.recentTurns, turn.HistoryTurn{
		Role:        role,
		SpeakerName: speakerName,
		Text:        text,
		At:          s.now(),
	})
	if len(s.recentTurns) > historyLimit {
		s.recentTurns = s.recentTurns[len(s.recentTurns)-historyLimit:]
	}
}

// handleMembership is the connection's membership callback. A leaving
// focused speaker loses the floor immediately.
func (s *Session) handleMembership(ev audio.Event) {
	s.mu.Lock()
	s.memberships = append(s.memberships, ev)
	if len(s.memberships) > membershipLimit {
		s.memberships = s.memberships[len(s.memberships)-membershipLimit:]
	}
	if ev.Type == audio.EventLeave {
		delete(s.captures, ev.UserID)
		if ev.UserID == s.focusedID {
			s.focusedID = ""
			s.focusedAt = time.Time{}
		}
	}
	s.mu.Unlock()

	ctx := context.Background()
	switch ev.Type {
	case audio.EventJoin:
		s.cfg.Metrics.ActiveParticipants.Add(ctx, 1)
		s.resetInactivity()
	case audio.EventLeave:
		s.cfg.Metrics.ActiveParticipants.Add(ctx, -1)
	}
}

// MembershipLog returns the bounded join/leave history.
func (s *Session) MembershipLog() []audio.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.memberships)
}

func (s *Session) resetInactivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.inactivityTimer == nil {
		return
	}
	s.inactivityTimer.Reset(s.inactivityTimeout)
}

func (s *Session) expire(reason string) {
	ctx := context.Background()
	observe.Logger(ctx).Info("session expired",
		"guild_id", s.cfg.GuildID, "session_id", s.id, "reason", reason)
	s.recordSession(ctx, "expire", map[string]any{"reason": reason})
	s.Close(ctx)
}

// recordDecision persists one admission decision to the action log.
func (s *Session) recordDecision(ctx context.Context, req turnqueue.Request, d turn.Decision, transcriptionModel string, planReason transcribe.PlanReason) {
	detail := map[string]any{}
	if d.LLMProvider != "" {
		detail["llm_provider"] = d.LLMProvider
		detail["llm_model"] = d.LLMModel
		detail["attempts"] = d.Attempts
	}
	if transcriptionModel != "" {
		detail["transcription_model"] = transcriptionModel
	}
	if planReason != "" {
		detail["transcription_plan"] = string(planReason)
	}
	if req.Reason != "" {
		detail["capture_reason"] = string(req.Reason)
	}
	s.recordAction(ctx, &actionlog.Action{
		Kind:       actionlog.KindDecision,
		SpeakerID:  req.UserID,
		Transcript: d.Transcript,
		Reason:     string(d.Reason),
		Admitted:   d.Allow,
		Detail:     detail,
		Cost:       float64(d.Usage.TotalTokens),
	})
}

func (s *Session) recordSession(ctx context.Context, event string, detail map[string]any) {
	if detail == nil {
		detail = map[string]any{}
	}
	detail["event"] = event
	detail["mode"] = string(s.cfg.Mode)
	s.recordAction(ctx, &actionlog.Action{
		Kind:   actionlog.KindSession,
		Detail: detail,
	})
}

func (s *Session) recordAction(ctx context.Context, a *actionlog.Action) {
	a.SessionID = s.id
	a.GuildID = s.cfg.GuildID
	a.ChannelID = s.cfg.ChannelID
	a.TraceID = observe.CorrelationID(ctx)
	if err := s.cfg.Actions.Record(ctx, a); err != nil {
		observe.Logger(ctx).Warn("action log write failed",
			"guild_id", s.cfg.GuildID, "kind", string(a.Kind), "error", err)
	}
}

func (s *Session) noteQueueDepth(ctx context.Context, before, after int) {
	if d := int64(after - before); d != 0 {
		s.cfg.Metrics.QueueDepth.Add(ctx, d,
			metric.WithAttributes(observe.Attr("queue", "drain")))
	}
}

// Close shuts the session down: stops timers, discards queued and
// deferred turns without flushing, cancels any in-flight provider
// response before closing the transport, and leaves the voice channel.
// Safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		if s.flushTimer != nil {
			s.flushTimer.Stop()
			s.flushTimer = nil
		}
		if s.inactivityTimer != nil {
			s.inactivityTimer.Stop()
		}
		if s.maxTimer != nil {
			s.maxTimer.Stop()
		}
		s.mu.Unlock()

		s.queue.Clear()
		s.deferred.Clear()

		if rt := s.cfg.Realtime; rt != nil {
			if rt.ResponseInProgress() {
				rt.CancelResponse()
			}
			if err := rt.Close(); err != nil {
				observe.Logger(ctx).Warn("realtime close failed",
					"guild_id", s.cfg.GuildID, "error", err)
			}
		}
		if err := s.cfg.Conn.Disconnect(); err != nil {
			observe.Logger(ctx).Warn("voice disconnect failed",
				"guild_id", s.cfg.GuildID, "error", err)
		}

		s.cfg.Metrics.ActiveSessions.Add(ctx, -1)
		s.recordSession(ctx, "end", nil)
		close(s.done)
		if s.cfg.OnClose != nil {
			s.cfg.OnClose(s)
		}
	})
	return nil
}
