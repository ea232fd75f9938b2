// Package audio defines the types and interfaces for voice-channel
// connectivity and PCM plumbing.
//
// The two primary abstractions are:
//
//   - [Platform] — connects to a voice channel and returns a [Connection].
//   - [Connection] — an active session on that channel, exposing
//     per-speaker input streams, a single playback stream, membership
//     events, and a roster snapshot.
//
// Implementations are provided by platform-specific adapter packages
// (audio/discord today). The interfaces stay narrow so the session layer
// never touches provider SDK types.
package audio

import "context"

// Connection is an active session on a voice channel.
//
// A Connection is obtained from [Platform.Connect] and remains valid
// until Disconnect is called. All channels returned by Connection
// methods are closed when the connection terminates.
//
// Implementations must be safe for concurrent use.
type Connection interface {
	// InputStreams returns a snapshot of the current per-speaker audio
	// channels, keyed by user ID (or SSRC until the user is identified).
	// Callers should re-snapshot after an [EventJoin] to pick up new
	// entries.
	InputStreams() map[string]<-chan Frame

	// OutputStream returns the write-only playback channel. Frames
	// written here are converted to the channel's native format and
	// played to all members. The platform never closes this channel;
	// writes after Disconnect drop frames rather than panic.
	OutputStream() chan<- Frame

	// Speaking reports whether playback audio is queued or currently
	// being transmitted.
	Speaking() bool

	// WaitDrained blocks until all queued playback audio has been
	// transmitted, or ctx is cancelled.
	WaitDrained(ctx context.Context) error

	// OnMembershipChange registers cb for join/leave events. Only one
	// callback may be registered; subsequent calls replace it. The
	// callback runs on an internal goroutine and must not block.
	OnMembershipChange(cb func(Event))

	// Roster returns the current members of the voice channel. The
	// result excludes no one; callers filter bots themselves.
	Roster() []Participant

	// Disconnect tears down the connection and closes all input
	// channels. Safe to call more than once.
	Disconnect() error
}

// Platform is the entry point for a voice-channel provider.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins the voice channel identified by channelID. The ctx
	// governs the connection attempt only; the returned Connection lives
	// until Disconnect.
	Connect(ctx context.Context, channelID string) (Connection, error)
}
