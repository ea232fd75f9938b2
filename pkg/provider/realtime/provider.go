// Package realtime defines the uniform transport abstraction over
// heterogeneous realtime speech backends.
//
// A Provider dials a bidirectional session against one external realtime
// service (OpenAI Realtime, Gemini Live, …) and returns a [Client]. All
// provider-specific wire events are normalised into one [Event] stream
// that the owning voice session reads from a single channel, so ordering
// and backpressure are visible in the types rather than hidden behind
// callback registration.
//
// Mid-session socket errors and closes are surfaced as events, never
// returned from method calls, so the session can decide whether to
// recover or end. Only Connect itself fails with a typed error.
//
// All implementations must be safe for concurrent use.
package realtime

import (
	"context"
	"errors"
	"fmt"
)

// ErrVideoUnsupported is returned by [Client.AppendVideoFrame] on
// providers without native video input. Callers fall back to a
// vision-capable describe call against the buffered frame.
var ErrVideoUnsupported = errors.New("realtime: provider does not support video input")

// ErrClosed is returned by outbound calls after the client has been
// closed.
var ErrClosed = errors.New("realtime: client closed")

// ConnectError is the typed error returned when a session cannot be
// established.
type ConnectError struct {
	// Provider names the backend that failed ("openai", "gemini").
	Provider string

	// Err is the underlying dial or handshake failure.
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("realtime: connect %s: %v", e.Provider, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// EventType identifies a normalised inbound event.
type EventType string

const (
	// EventAudioDelta carries a chunk of synthesised reply audio.
	EventAudioDelta EventType = "audio_delta"

	// EventTranscript carries a completed transcript line, either the
	// provider's recognition of user speech or the text of the
	// assistant's spoken reply.
	EventTranscript EventType = "transcript"

	// EventResponseDone signals that the provider finished generating
	// the current response. Playback may still be draining locally.
	EventResponseDone EventType = "response_done"

	// EventError carries a provider-side error that did not close the
	// socket. The session stays usable.
	EventError EventType = "error_event"

	// EventSocketClosed is the final event before the event channel
	// closes. Err holds the cause, or nil for a clean shutdown.
	EventSocketClosed EventType = "socket_closed"
)

// Event is one normalised inbound event from the provider.
type Event struct {
	Type EventType

	// Audio is set for EventAudioDelta: raw 16-bit PCM.
	Audio []byte

	// Text is set for EventTranscript.
	Text string

	// Role is set for EventTranscript: "user" or "assistant".
	Role string

	// Err is set for EventError and EventSocketClosed.
	Err error
}

// SessionConfig is the initial configuration for a new realtime session.
type SessionConfig struct {
	// Instructions is the system-level prompt defining the assistant's
	// persona and behavioural constraints.
	Instructions string

	// Voice selects the provider voice for synthesised speech.
	Voice string

	// InputSampleRateHz is the sample rate of PCM passed to AppendAudio.
	InputSampleRateHz int

	// DisableServerVAD turns off the provider's automatic voice-activity
	// detection. The session manager performs its own segmentation, so
	// adapters must then frame every turn explicitly: AppendAudio calls
	// bracketed by CommitInput and an explicit CreateResponse.
	DisableServerVAD bool
}

// Client is one open realtime session.
//
// Outbound methods never block on response generation; they enqueue wire
// messages and return. Inbound traffic arrives exclusively on the channel
// returned by Events, which is closed after the terminal
// [EventSocketClosed] event.
//
// Callers must call Close when the session is no longer needed and must
// drain Events to avoid stalling the adapter's receive loop.
type Client interface {
	// AppendAudio streams a chunk of caller audio (raw 16-bit PCM at the
	// configured input sample rate) into the provider's input buffer.
	AppendAudio(pcm []byte) error

	// CommitInput marks the end of the current speech segment. Required
	// when server VAD is disabled; a no-op on providers that infer
	// segment boundaries themselves.
	CommitInput() error

	// CreateResponse asks the provider to generate a spoken response to
	// the committed input.
	CreateResponse() error

	// CancelResponse aborts the in-flight response, if any. Reports
	// whether a cancel was actually issued.
	CancelResponse() bool

	// AppendVideoFrame streams one visual frame for stream-watch
	// commentary. Providers without native video input return
	// [ErrVideoUnsupported].
	AppendVideoFrame(mimeType string, frame []byte) error

	// RequestCommentary injects a short text prompt and asks the
	// provider to speak a response to it, used for autonomous
	// stream-watch commentary.
	RequestCommentary(prompt string) error

	// Events returns the normalised inbound event stream. The channel is
	// closed after EventSocketClosed is delivered.
	Events() <-chan Event

	// ResponseInProgress reports whether a response is currently being
	// generated. This flag is the authoritative signal for the session's
	// bot-turn-open state.
	ResponseInProgress() bool

	// LastError returns the most recent provider-side error observed on
	// this session, or nil.
	LastError() error

	// RecentOutbound returns a bounded history of recently sent wire
	// events with capped payload previews, for diagnostics.
	RecentOutbound() []OutboundRecord

	// Close terminates the session and releases all resources. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any realtime speech backend.
type Provider interface {
	// Connect establishes a new session. The returned Client is ready to
	// accept audio immediately. Failures are reported as a
	// [*ConnectError].
	Connect(ctx context.Context, cfg SessionConfig) (Client, error)

	// SupportsVideo reports whether AppendVideoFrame is natively
	// supported by this backend.
	SupportsVideo() bool

	// Name returns the short backend identifier used in logs and the
	// action log ("openai", "gemini").
	Name() string
}
