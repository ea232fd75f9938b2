// Package tts defines the Synthesizer interface for text-to-speech
// backends.
//
// Synthesis is used by the speech-to-text pipeline mode (where replies are
// generated as text and then spoken) and by stream-watch commentary lines
// produced through the vision fallback path. Provider-native realtime
// modes synthesise speech inside the provider and never touch this
// boundary.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Synthesizer converts one line of text into a playable audio clip.
type Synthesizer interface {
	// Synthesize renders text as 16-bit little-endian mono PCM at the
	// sample rate reported by SampleRate. Returns an error if the
	// provider cannot be reached or rejects the input.
	Synthesize(ctx context.Context, text string) ([]byte, error)

	// SampleRate reports the sample rate in Hz of the PCM returned by
	// Synthesize. Constant for the lifetime of the Synthesizer.
	SampleRate() int
}
