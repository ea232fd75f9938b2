// Package capture turns raw per-speaker audio streams into finished
// utterances.
//
// A Segmenter consumes one speaker's frame channel, normalises every
// frame to the transcription format, and closes the utterance on a
// silence gap, a maximum-length cutoff, or the end of the stream. The
// Manager watches a voice connection for new speaker streams and runs
// one segmenter per speaker.
package capture

import (
	"context"
	"time"

	"github.com/chimebot/chime/internal/turnqueue"
	"github.com/chimebot/chime/pkg/audio"
)

// Segmentation bounds.
const (
	// DefaultSilenceGap is how long a speaker must stay quiet before
	// their utterance is considered finished.
	DefaultSilenceGap = 600 * time.Millisecond

	// DefaultMaxUtterance force-closes an utterance that never pauses.
	DefaultMaxUtterance = 30 * time.Second

	// minClipDuration drops key-click blips that cannot carry speech.
	minClipDuration = 150 * time.Millisecond
)

// Sink receives capture lifecycle notifications and finished
// utterances. *session.Session satisfies it.
type Sink interface {
	// CaptureStarted marks the speaker as mid-utterance.
	CaptureStarted(userID string)

	// CaptureEnded clears the mid-utterance mark without submitting a
	// turn, for clips the segmenter dropped.
	CaptureEnded(userID string)

	// HandleCapture accepts one finished utterance.
	HandleCapture(ctx context.Context, req turnqueue.Request)
}

// SegmenterOption configures a Segmenter.
type SegmenterOption func(*Segmenter)

// WithSilenceGap overrides the end-of-utterance silence gap.
func WithSilenceGap(d time.Duration) SegmenterOption {
	return func(s *Segmenter) { s.silenceGap = d }
}

// WithMaxUtterance overrides the forced utterance cutoff.
func WithMaxUtterance(d time.Duration) SegmenterOption {
	return func(s *Segmenter) { s.maxUtterance = d }
}

// Segmenter accumulates one speaker's frames into utterances. Run owns
// all state; a Segmenter must not be shared across goroutines.
type Segmenter struct {
	userID string
	sink   Sink
	conv   audio.Converter

	silenceGap   time.Duration
	maxUtterance time.Duration

	buf       []byte
	startedAt time.Time
	open      bool
}

// NewSegmenter returns a segmenter for userID that normalises frames to
// 16-bit mono PCM at sampleRateHz before buffering.
func NewSegmenter(userID string, sink Sink, sampleRateHz int, opts ...SegmenterOption) *Segmenter {
	s := &Segmenter{
		userID:       userID,
		sink:         sink,
		conv:         audio.Converter{Target: audio.Format{SampleRate: sampleRateHz, Channels: 1}},
		silenceGap:   DefaultSilenceGap,
		maxUtterance: DefaultMaxUtterance,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run consumes frames until the channel closes or ctx is cancelled. Any
// buffered audio is flushed as a stream-end capture on exit.
func (s *Segmenter) Run(ctx context.Context, frames <-chan audio.Frame) {
	gap := time.NewTimer(s.silenceGap)
	if !gap.Stop() {
		<-gap.C
	}
	defer gap.Stop()

	for {
		select {
		case <-ctx.Done():
			s.flush(ctx, turnqueue.CaptureStreamEnd)
			return

		case frame, ok := <-frames:
			if !ok {
				s.flush(ctx, turnqueue.CaptureStreamEnd)
				return
			}
			s.ingest(ctx, frame)
			if s.open {
				if !gap.Stop() {
					select {
					case <-gap.C:
					default:
					}
				}
				gap.Reset(s.silenceGap)
			}

		case <-gap.C:
			s.flush(ctx, turnqueue.CaptureSpeakingEnd)
		}
	}
}

func (s *Segmenter) ingest(ctx context.Context, frame audio.Frame) {
	converted := s.conv.Convert(frame)
	if len(converted.Data) == 0 {
		return
	}
	if !s.open {
		s.open = true
		s.startedAt = time.Now()
		s.sink.CaptureStarted(s.userID)
	}
	s.buf = audio.Concat(s.buf, converted.Data)

	if time.Since(s.startedAt) >= s.maxUtterance {
		s.flush(ctx, turnqueue.CaptureIdleTimeout)
	}
}

// flush hands the buffered utterance to the sink and resets. Clips too
// short to carry speech are dropped.
func (s *Segmenter) flush(ctx context.Context, reason turnqueue.CaptureReason) {
	if !s.open {
		return
	}
	buf := s.buf
	s.buf = nil
	s.open = false

	if audio.PCMDuration(len(buf), s.conv.Target.SampleRate) < minClipDuration {
		s.sink.CaptureEnded(s.userID)
		return
	}
	s.sink.HandleCapture(ctx, turnqueue.Request{
		UserID: s.userID,
		Audio:  buf,
		Reason: reason,
	})
}
