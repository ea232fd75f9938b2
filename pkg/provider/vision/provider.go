// Package vision defines the Describer interface used by stream-watch
// commentary when the active realtime provider has no native video
// support.
//
// A Describer receives the most recently buffered stream frame and a
// short prompt and returns one line of text — either a spoken commentary
// line or a private "brain context" note, depending on the prompt.
//
// Implementations must be safe for concurrent use.
package vision

import "context"

// Describer produces a short text description of one image frame.
type Describer interface {
	// Describe sends the frame (raw image bytes with its MIME type) and
	// prompt to a vision-capable model and returns the model's one-line
	// response.
	Describe(ctx context.Context, frame []byte, mimeType string, prompt string) (string, error)
}
