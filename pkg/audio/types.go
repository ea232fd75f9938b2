package audio

import "time"

// Frame is a single chunk of PCM audio flowing through the pipeline.
// Frames are the atomic transport unit: captured per speaker from the
// voice channel, segmented into utterances, and played back through the
// output stream.
type Frame struct {
	// Data is little-endian 16-bit PCM.
	Data []byte

	// SampleRate in Hz (48000 for Discord voice, 24000 for synthesised
	// replies, 16000 for transcription input).
	SampleRate int

	// Channels: 1 for mono (provider input), 2 for stereo (Discord).
	Channels int

	// Timestamp marks when this frame was captured, relative to stream
	// start.
	Timestamp time.Duration
}

// Duration returns the play time of the frame's PCM data.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	return PCMDuration(len(f.Data)/f.Channels, f.SampleRate)
}

// EventType classifies membership events emitted by a [Connection].
type EventType int

const (
	// EventJoin is emitted when a member enters the voice channel.
	EventJoin EventType = iota

	// EventLeave is emitted when a member leaves the voice channel.
	EventLeave
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventJoin:
		return "JOIN"
	case EventLeave:
		return "LEAVE"
	default:
		return "UNKNOWN"
	}
}

// Event describes a membership change on a voice channel. Join events
// feed the session's greeting window; leave events retire the focused
// speaker when they apply to them.
type Event struct {
	// Type indicates whether the member joined or left.
	Type EventType

	// UserID is the platform-specific unique identifier for the member.
	UserID string

	// Username is the human-readable name of the member.
	Username string

	// At is when the event was observed.
	At time.Time
}

// Participant describes one current member of the voice channel.
type Participant struct {
	// ID is the platform-specific unique identifier.
	ID string

	// Username is the account name.
	Username string

	// DisplayName is the per-server display name when set, otherwise
	// equal to Username.
	DisplayName string

	// Bot reports whether the member is an automated account.
	Bot bool
}
