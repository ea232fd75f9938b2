// Package stt defines the Transcriber interface for speech-to-text
// backends.
//
// The turn pipeline transcribes one finished capture at a time — a short
// PCM clip bounded by the capture layer's own segmentation — so the
// boundary here is a single blocking call rather than a streaming session.
// Model selection (cheap model vs. strong model, short-clip routing,
// empty-result fallback) is owned by the transcription planner, not by
// implementations of this interface.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrEmptyTranscript is returned when the provider processed the clip
// successfully but recognised no speech. Callers distinguish this from
// [ErrUnavailable] to decide between a model fallback and dropping the
// turn.
var ErrEmptyTranscript = errors.New("stt: empty transcript")

// ErrUnavailable is returned when the provider could not be reached or
// rejected the request. The clip may still be transcribable by another
// provider or model.
var ErrUnavailable = errors.New("stt: provider unavailable")

// Transcriber converts one PCM clip to text.
type Transcriber interface {
	// Transcribe sends a 16-bit little-endian mono PCM clip to the
	// provider and returns the recognised text. model selects the
	// provider-specific recognition model; an empty model uses the
	// provider default.
	//
	// Returns [ErrEmptyTranscript] (possibly wrapped) when the provider
	// returned no text, and [ErrUnavailable] (possibly wrapped) when the
	// provider could not be reached.
	Transcribe(ctx context.Context, pcm []byte, model string, sampleRateHz int) (string, error)
}
