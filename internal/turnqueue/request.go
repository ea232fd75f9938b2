// Package turnqueue holds the per-session queue discipline for
// captured turns: a bounded drain queue that coalesces bursts and
// evicts the oldest entry when full, and a deferral queue that batches
// turns arriving while the bot's own turn is open into one flush.
//
// Nothing in this package performs I/O; every operation is safe to
// call from the audio-capture-completion callback.
package turnqueue

import (
	"strings"
	"time"

	"github.com/chimebot/chime/pkg/audio"
)

// CaptureReason says why a capture was finalized.
type CaptureReason string

const (
	CaptureSpeakingEnd CaptureReason = "speaking_end"
	CaptureIdleTimeout CaptureReason = "idle_timeout"
	CaptureStreamEnd   CaptureReason = "stream_end"
)

// Request is one captured utterance awaiting evaluation. It is
// immutable once dequeued; merging produces a new value.
type Request struct {
	UserID string

	// Audio is the captured PCM clip.
	Audio []byte

	Reason   CaptureReason
	QueuedAt time.Time

	// Transcript is optionally pre-computed (realtime transports
	// deliver text alongside audio).
	Transcript string

	// DirectAddressed is set when address detection already ran on the
	// pre-computed transcript.
	DirectAddressed bool
}

// Merge combines r with a newer request into one: audio concatenated in
// arrival order, transcripts space-joined, metadata taken from the
// newer request. Direct address survives from either side. Neither
// input is modified.
func (r Request) Merge(newer Request) Request {
	merged := Request{
		UserID:          newer.UserID,
		Audio:           audio.Concat(r.Audio, newer.Audio),
		Reason:          newer.Reason,
		QueuedAt:        newer.QueuedAt,
		Transcript:      joinTranscripts(r.Transcript, newer.Transcript),
		DirectAddressed: r.DirectAddressed || newer.DirectAddressed,
	}
	return merged
}

func joinTranscripts(a, b string) string {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " " + b
}
