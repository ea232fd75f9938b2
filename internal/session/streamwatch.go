package session

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/chimebot/chime/internal/actionlog"
	"github.com/chimebot/chime/internal/config"
	"github.com/chimebot/chime/internal/observe"
)

// Stream-watch limits. Frames beyond the size or rate caps are
// rejected at ingress; commentary is throttled so the bot reacts to
// the stream without talking over the room.
const (
	maxFrameBytes         = 2 << 20
	maxFramesPerMinute    = 10
	minCommentaryInterval = 25 * time.Second
	quietWindow           = 6 * time.Second
	brainNoteInterval     = 45 * time.Second
	brainNotesLimit       = 8
)

// Ingress rejection reasons returned by IngestFrame.
const (
	RejectDifferentStreamer = "different_streamer"
	RejectUnsupportedMime   = "unsupported_mime"
	RejectInvalidBase64     = "invalid_base64"
	RejectFrameTooLarge     = "frame_too_large"
	RejectRateLimited       = "rate_limited"
	RejectSessionClosed     = "session_closed"
)

const commentaryPrompt = "You are watching this stream together with the people in the voice channel. React to what is on screen right now in one short casual spoken sentence. Do not describe the image mechanically."

const brainNotePrompt = "State in one short factual sentence what is currently visible on this stream frame."

// watchState is the stream-watch sub-state of a session. Guarded by the
// session mutex.
type watchState struct {
	active     bool
	streamerID string

	frame   []byte
	mime    string
	frameAt time.Time

	windowStart  time.Time
	windowFrames int

	lastCommentaryAt time.Time
	lastBrainNoteAt  time.Time

	brainNotes []string
}

// StartWatch begins watching userID's stream. A watch already running
// on another user is replaced.
func (s *Session) StartWatch(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.watch.streamerID != userID {
		s.watch = watchState{}
	}
	s.watch.active = true
	s.watch.streamerID = userID
}

// StopWatch ends the current watch and discards its buffered frame and
// notes.
func (s *Session) StopWatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watch = watchState{}
}

// Watching returns the watched streamer, if any.
func (s *Session) Watching() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watch.streamerID, s.watch.active
}

// BrainNotes returns the bounded private notes the vision path has
// accumulated about the watched stream.
func (s *Session) BrainNotes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.watch.brainNotes))
	copy(out, s.watch.brainNotes)
	return out
}

// IngestFrame accepts one base64-encoded stream frame. The first frame
// from a user starts the watch on them; frames from anyone else are
// rejected while that watch is active. Returns whether the frame was
// accepted and the rejection reason when not.
func (s *Session) IngestFrame(ctx context.Context, userID, mimeType, b64Frame string) (bool, string) {
	if !strings.HasPrefix(mimeType, "image/") {
		return false, RejectUnsupportedMime
	}
	frame, err := base64.StdEncoding.DecodeString(b64Frame)
	if err != nil {
		return false, RejectInvalidBase64
	}
	if len(frame) > maxFrameBytes {
		return false, RejectFrameTooLarge
	}

	now := s.now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, RejectSessionClosed
	}
	if s.watch.active && s.watch.streamerID != userID {
		s.mu.Unlock()
		return false, RejectDifferentStreamer
	}
	if !s.watch.active {
		s.watch = watchState{active: true, streamerID: userID}
	}
	if now.Sub(s.watch.windowStart) >= time.Minute {
		s.watch.windowStart = now
		s.watch.windowFrames = 0
	}
	if s.watch.windowFrames >= maxFramesPerMinute {
		s.mu.Unlock()
		return false, RejectRateLimited
	}
	s.watch.windowFrames++
	s.watch.frame = frame
	s.watch.mime = mimeType
	s.watch.frameAt = now
	s.mu.Unlock()

	s.resetInactivity()
	return true, ""
}

// watchLoop drives autonomous commentary and brain-context notes off a
// steady tick until the session closes.
func (s *Session) watchLoop(ctx context.Context) {
	ticker := time.NewTicker(s.watchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.maybeComment(ctx)
			s.maybeBrainNote(ctx)
		}
	}
}

// maybeComment speaks one commentary line when every gate passes: a
// fresh frame exists, the commentary interval elapsed, the bot is not
// mid-turn and the channel has been quiet long enough.
func (s *Session) maybeComment(ctx context.Context) {
	settings := s.cfg.Settings.Snapshot()
	if !settings.StreamWatchEnabled {
		return
	}
	now := s.now()

	s.mu.Lock()
	w := &s.watch
	ready := !s.closed &&
		w.active && len(w.frame) > 0 &&
		(w.lastCommentaryAt.IsZero() || now.Sub(w.lastCommentaryAt) >= minCommentaryInterval) &&
		!s.botTurnOpenLocked() &&
		len(s.captures) == 0 &&
		(s.lastUserAudioAt.IsZero() || now.Sub(s.lastUserAudioAt) >= quietWindow)
	var frame []byte
	var mime string
	if ready {
		w.lastCommentaryAt = now
		frame = append([]byte(nil), w.frame...)
		mime = w.mime
	}
	s.mu.Unlock()
	if !ready {
		return
	}

	if s.cfg.Realtime != nil && s.cfg.SupportsVideo {
		s.commentNative(ctx, mime, frame)
		return
	}
	s.commentViaVision(ctx, settings, mime, frame)
}

// commentNative pushes the frame down the realtime transport and asks
// the provider to speak about it.
func (s *Session) commentNative(ctx context.Context, mime string, frame []byte) {
	err := s.cfg.Realtime.AppendVideoFrame(mime, frame)
	if err == nil {
		err = s.cfg.Realtime.RequestCommentary(commentaryPrompt)
	}
	if err != nil {
		observe.Logger(ctx).Warn("native commentary failed",
			"guild_id", s.cfg.GuildID, "provider", s.cfg.RealtimeName, "error", err)
		s.cfg.Metrics.RecordCommentary(ctx, "native", "error")
		return
	}
	s.cfg.Metrics.RecordCommentary(ctx, "native", "ok")
	s.recordAction(ctx, &actionlog.Action{
		Kind:   actionlog.KindCommentary,
		Detail: map[string]any{"path": "native"},
	})
}

// commentViaVision describes the frame with a vision model and speaks
// the line through the regular playback path.
func (s *Session) commentViaVision(ctx context.Context, settings config.Settings, mime string, frame []byte) {
	if s.cfg.Vision == nil || s.cfg.Synthesizer == nil {
		return
	}
	line, err := s.cfg.Vision.Describe(ctx, frame, mime, commentaryPrompt)
	if err != nil {
		observe.Logger(ctx).Warn("vision commentary failed",
			"guild_id", s.cfg.GuildID, "error", err)
		s.cfg.Metrics.RecordCommentary(ctx, "vision_fallback", "error")
		return
	}
	line = strings.TrimSpace(line)
	if line == "" {
		s.cfg.Metrics.RecordCommentary(ctx, "vision_fallback", "empty")
		return
	}

	// Claim the bot turn; yield silently if someone beat us to it.
	s.mu.Lock()
	if s.botTurnOpenLocked() {
		s.mu.Unlock()
		return
	}
	s.botSpeaking = true
	s.mu.Unlock()
	defer s.finishBotTurn(ctx)

	pcm, err := s.cfg.Synthesizer.Synthesize(ctx, line)
	if err != nil {
		observe.Logger(ctx).Warn("commentary synthesis failed",
			"guild_id", s.cfg.GuildID, "error", err)
		s.cfg.Metrics.RecordProviderError(ctx, "tts", "synthesize")
		s.cfg.Metrics.RecordCommentary(ctx, "vision_fallback", "error")
		return
	}
	s.playPCM(ctx, pcm, s.cfg.Synthesizer.SampleRate())
	s.appendTurn("assistant", settings.BotName, line)

	s.cfg.Metrics.RecordCommentary(ctx, "vision_fallback", "ok")
	s.recordAction(ctx, &actionlog.Action{
		Kind:   actionlog.KindCommentary,
		Detail: map[string]any{"path": "vision_fallback", "line": line},
	})
}

// maybeBrainNote refreshes the private stream notes. Notes accumulate
// whether or not spoken commentary is enabled, so a later reply can
// reference the stream.
func (s *Session) maybeBrainNote(ctx context.Context) {
	if s.cfg.Vision == nil {
		return
	}
	now := s.now()

	s.mu.Lock()
	w := &s.watch
	ready := !s.closed && w.active && len(w.frame) > 0 &&
		(w.lastBrainNoteAt.IsZero() || now.Sub(w.lastBrainNoteAt) >= brainNoteInterval)
	var frame []byte
	var mime, streamer string
	if ready {
		w.lastBrainNoteAt = now
		frame = append([]byte(nil), w.frame...)
		mime = w.mime
		streamer = w.streamerID
	}
	s.mu.Unlock()
	if !ready {
		return
	}

	note, err := s.cfg.Vision.Describe(ctx, frame, mime, brainNotePrompt)
	if err != nil {
		observe.Logger(ctx).Debug("brain note failed",
			"guild_id", s.cfg.GuildID, "error", err)
		return
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return
	}

	s.mu.Lock()
	// The watch may have stopped or moved on while the model ran.
	if s.watch.active && s.watch.streamerID == streamer {
		s.watch.brainNotes = append(s.watch.brainNotes, note)
		if len(s.watch.brainNotes) > brainNotesLimit {
			s.watch.brainNotes = s.watch.brainNotes[len(s.watch.brainNotes)-brainNotesLimit:]
		}
	}
	s.mu.Unlock()
}
