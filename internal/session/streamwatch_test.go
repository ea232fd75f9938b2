package session

import (
	"context"
	"encoding/base64"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/chimebot/chime/internal/actionlog"
	"github.com/chimebot/chime/internal/config"
	"github.com/chimebot/chime/internal/turn"
	rtmock "github.com/chimebot/chime/pkg/provider/realtime/mock"
	ttsmock "github.com/chimebot/chime/pkg/provider/tts/mock"
	"github.com/chimebot/chime/pkg/provider/vision"
)

// fakeDescriber is a scriptable vision.Describer.
type fakeDescriber struct {
	mu      sync.Mutex
	line    string
	err     error
	prompts []string
}

var _ vision.Describer = (*fakeDescriber)(nil)

func (f *fakeDescriber) Describe(_ context.Context, _ []byte, _ string, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.line, nil
}

func (f *fakeDescriber) promptLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.prompts)
}

func watchSettings(commentary bool) *config.SettingsStore {
	return config.NewSettingsStore(config.Settings{
		BotName:            "clanker",
		WakeWords:          []string{"clank"},
		Eagerness:          60,
		ClassifierEnabled:  true,
		StreamWatchEnabled: commentary,
	})
}

type watchFixture struct {
	session *Session
	conn    *testConn
	rt      *rtmock.Client
	sink    *actionlog.MemorySink
	vision  *fakeDescriber
}

func newWatchSession(t *testing.T, supportsVideo, commentary bool) watchFixture {
	t.Helper()
	f := watchFixture{
		conn:   newTestConn(),
		rt:     rtmock.NewClient(),
		sink:   actionlog.NewMemorySink(),
		vision: &fakeDescriber{line: "a dark cave entrance"},
	}
	s, err := New(Config{
		GuildID:       "g1",
		ChannelID:     "c1",
		BotUserID:     "bot",
		Mode:          turn.ModeRealtime,
		Settings:      watchSettings(commentary),
		Engine:        turn.NewEngine(nil),
		Conn:          f.conn,
		Actions:       f.sink,
		Realtime:      f.rt,
		RealtimeName:  "mock",
		SupportsVideo: supportsVideo,
		Vision:        f.vision,
		Synthesizer:   &ttsmock.Synthesizer{Clip: []byte{7, 7}},
	}, WithWatchInterval(5*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.session = s
	return f
}

func frameB64(n int) string {
	return base64.StdEncoding.EncodeToString(make([]byte, n))
}

func TestIngestFrame_Validation(t *testing.T) {
	t.Parallel()

	f := newWatchSession(t, true, false)
	ctx := context.Background()
	f.session.Start(ctx)
	defer f.session.Close(ctx)

	if ok, reason := f.session.IngestFrame(ctx, "u1", "text/plain", frameB64(4)); ok || reason != RejectUnsupportedMime {
		t.Errorf("non-image mime = (%v, %q), want rejected unsupported_mime", ok, reason)
	}
	if ok, reason := f.session.IngestFrame(ctx, "u1", "image/jpeg", "!!not base64!!"); ok || reason != RejectInvalidBase64 {
		t.Errorf("bad encoding = (%v, %q), want rejected invalid_base64", ok, reason)
	}
	if ok, reason := f.session.IngestFrame(ctx, "u1", "image/jpeg", frameB64(maxFrameBytes+1)); ok || reason != RejectFrameTooLarge {
		t.Errorf("oversized frame = (%v, %q), want rejected frame_too_large", ok, reason)
	}

	if ok, reason := f.session.IngestFrame(ctx, "u1", "image/jpeg", frameB64(16)); !ok {
		t.Fatalf("first valid frame rejected: %q", reason)
	}
	if id, active := f.session.Watching(); !active || id != "u1" {
		t.Errorf("watch = (%q, %v), want auto-started on u1", id, active)
	}
	if ok, reason := f.session.IngestFrame(ctx, "u2", "image/jpeg", frameB64(16)); ok || reason != RejectDifferentStreamer {
		t.Errorf("second streamer = (%v, %q), want rejected different_streamer", ok, reason)
	}
}

func TestIngestFrame_RateLimit(t *testing.T) {
	t.Parallel()

	f := newWatchSession(t, true, false)
	ctx := context.Background()
	f.session.Start(ctx)
	defer f.session.Close(ctx)

	for i := range maxFramesPerMinute {
		if ok, reason := f.session.IngestFrame(ctx, "u1", "image/png", frameB64(8)); !ok {
			t.Fatalf("frame %d rejected: %q", i, reason)
		}
	}
	if ok, reason := f.session.IngestFrame(ctx, "u1", "image/png", frameB64(8)); ok || reason != RejectRateLimited {
		t.Errorf("frame %d = (%v, %q), want rejected rate_limited", maxFramesPerMinute, ok, reason)
	}
}

func TestWatch_NativeCommentary(t *testing.T) {
	t.Parallel()

	f := newWatchSession(t, true, true)
	ctx := context.Background()
	f.session.Start(ctx)
	defer f.session.Close(ctx)

	if ok, reason := f.session.IngestFrame(ctx, "u1", "image/jpeg", frameB64(32)); !ok {
		t.Fatalf("frame rejected: %q", reason)
	}

	waitFor(t, func() bool { return f.rt.Counts().CommentaryPrompts == 1 }, "native commentary")
	if got := f.rt.Counts().VideoFrames; got != 1 {
		t.Errorf("video frames = %d, want 1", got)
	}

	// The next tick must respect the commentary interval.
	time.Sleep(40 * time.Millisecond)
	if got := f.rt.Counts().CommentaryPrompts; got != 1 {
		t.Errorf("commentary prompts = %d, want still 1 inside the interval", got)
	}

	waitFor(t, func() bool {
		for _, a := range f.sink.All() {
			if a.Kind == actionlog.KindCommentary && a.Detail["path"] == "native" {
				return true
			}
		}
		return false
	}, "commentary record")
}

func TestWatch_VisionFallbackSpeaks(t *testing.T) {
	t.Parallel()

	f := newWatchSession(t, false, true)
	f.vision.mu.Lock()
	f.vision.line = "nice clutch on the last round"
	f.vision.mu.Unlock()
	ctx := context.Background()
	f.session.Start(ctx)
	defer f.session.Close(ctx)

	if ok, reason := f.session.IngestFrame(ctx, "u1", "image/jpeg", frameB64(32)); !ok {
		t.Fatalf("frame rejected: %q", reason)
	}

	select {
	case frame := <-f.conn.out:
		if !slices.Equal(frame.Data, []byte{7, 7}) {
			t.Errorf("frame data = %v, want the synthesized commentary clip", frame.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no spoken commentary frame")
	}

	if got := f.rt.Counts().CommentaryPrompts; got != 0 {
		t.Errorf("native commentary prompts = %d, want 0 on a video-less provider", got)
	}

	waitFor(t, func() bool {
		for _, a := range f.sink.All() {
			if a.Kind == actionlog.KindCommentary && a.Detail["path"] == "vision_fallback" {
				return a.Detail["line"] == "nice clutch on the last round"
			}
		}
		return false
	}, "commentary record")

	prompts := f.vision.promptLog()
	if len(prompts) == 0 || prompts[0] != commentaryPrompt {
		t.Errorf("vision prompts = %v, want the commentary prompt first", prompts)
	}
}

func TestWatch_BrainNotesAccumulateWithCommentaryDisabled(t *testing.T) {
	t.Parallel()

	f := newWatchSession(t, false, false)
	ctx := context.Background()
	f.session.Start(ctx)
	defer f.session.Close(ctx)

	if ok, reason := f.session.IngestFrame(ctx, "u1", "image/jpeg", frameB64(32)); !ok {
		t.Fatalf("frame rejected: %q", reason)
	}

	waitFor(t, func() bool { return len(f.session.BrainNotes()) == 1 }, "brain note")
	if got := f.session.BrainNotes()[0]; got != "a dark cave entrance" {
		t.Errorf("brain note = %q, want the describer line", got)
	}

	for _, a := range f.sink.All() {
		if a.Kind == actionlog.KindCommentary {
			t.Fatalf("commentary recorded while disabled: %+v", a)
		}
	}
	select {
	case frame := <-f.conn.out:
		t.Fatalf("unexpected playback frame: %+v", frame)
	default:
	}

	prompts := f.vision.promptLog()
	if len(prompts) == 0 || prompts[0] != brainNotePrompt {
		t.Errorf("vision prompts = %v, want the brain-note prompt", prompts)
	}
}

func TestWatch_StopWatchDiscardsState(t *testing.T) {
	t.Parallel()

	f := newWatchSession(t, true, false)
	ctx := context.Background()
	f.session.Start(ctx)
	defer f.session.Close(ctx)

	if ok, _ := f.session.IngestFrame(ctx, "u1", "image/jpeg", frameB64(8)); !ok {
		t.Fatal("frame rejected")
	}
	f.session.StopWatch()

	if id, active := f.session.Watching(); active || id != "" {
		t.Errorf("watch after stop = (%q, %v), want cleared", id, active)
	}
	if got := len(f.session.BrainNotes()); got != 0 {
		t.Errorf("brain notes after stop = %d, want 0", got)
	}

	// A frame from a different user may now start a fresh watch.
	if ok, reason := f.session.IngestFrame(ctx, "u2", "image/jpeg", frameB64(8)); !ok {
		t.Errorf("fresh watch rejected: %q", reason)
	}
}
