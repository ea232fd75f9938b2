// Package mock provides hand-written mock implementations of
// [realtime.Provider] and [realtime.Client] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/chimebot/chime/pkg/provider/realtime"
)

// Compile-time assertions that the mocks satisfy the realtime interfaces.
var _ realtime.Provider = (*Provider)(nil)
var _ realtime.Client = (*Client)(nil)

// Provider is a scriptable realtime.Provider. The zero value connects
// successfully and hands out a fresh zero-value Client per Connect call.
type Provider struct {
	mu sync.Mutex

	// ConnectErr, when non-nil, is returned (wrapped in a ConnectError)
	// by every Connect call.
	ConnectErr error

	// NextClient, when non-nil, is returned by the next Connect call.
	NextClient *Client

	// Video controls SupportsVideo.
	Video bool

	// Configs records the SessionConfig of every Connect call.
	Configs []realtime.SessionConfig

	clients []*Client
}

// Connect implements realtime.Provider.
func (p *Provider) Connect(ctx context.Context, cfg realtime.SessionConfig) (realtime.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, &realtime.ConnectError{Provider: "mock", Err: err}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.Configs = append(p.Configs, cfg)
	if p.ConnectErr != nil {
		return nil, &realtime.ConnectError{Provider: "mock", Err: p.ConnectErr}
	}

	c := p.NextClient
	p.NextClient = nil
	if c == nil {
		c = NewClient()
	}
	p.clients = append(p.clients, c)
	return c, nil
}

// SupportsVideo implements realtime.Provider.
func (p *Provider) SupportsVideo() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Video
}

// Name implements realtime.Provider.
func (p *Provider) Name() string { return "mock" }

// Clients returns every Client handed out so far.
func (p *Provider) Clients() []*Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Client, len(p.clients))
	copy(out, p.clients)
	return out
}

// Client is a scriptable realtime.Client. Tests push inbound events with
// Emit and inspect outbound traffic via the recorded calls. All methods
// are safe for concurrent use.
type Client struct {
	mu sync.Mutex

	// OutboundErr, when non-nil, is returned by every outbound call.
	OutboundErr error

	// VideoErr is returned by AppendVideoFrame. Defaults to nil; set to
	// realtime.ErrVideoUnsupported to mimic an audio-only backend.
	VideoErr error

	// AudioChunks records every AppendAudio payload.
	AudioChunks [][]byte

	// VideoFrames records every AppendVideoFrame payload.
	VideoFrames [][]byte

	// CommentaryPrompts records every RequestCommentary prompt.
	CommentaryPrompts []string

	// Commits counts CommitInput calls.
	Commits int

	// Creates counts CreateResponse calls.
	Creates int

	// Cancels counts CancelResponse calls that reported true.
	Cancels int

	respOpen bool
	lastErr  error
	closed   bool

	events    chan realtime.Event
	closeOnce sync.Once
}

// NewClient returns a Client with a buffered event channel ready for
// scripting.
func NewClient() *Client {
	return &Client{events: make(chan realtime.Event, 64)}
}

// Emit delivers an inbound event to the session under test.
func (c *Client) Emit(evt realtime.Event) {
	c.mu.Lock()
	switch evt.Type {
	case realtime.EventResponseDone:
		c.respOpen = false
	case realtime.EventError:
		c.respOpen = false
		c.lastErr = evt.Err
	}
	c.mu.Unlock()

	c.events <- evt
}

// CloseEvents emits the terminal socket_closed event and closes the
// channel, simulating the provider hanging up.
func (c *Client) CloseEvents(cause error) {
	c.closeOnce.Do(func() {
		c.events <- realtime.Event{Type: realtime.EventSocketClosed, Err: cause}
		close(c.events)
	})
}

// SetResponseInProgress overrides the generation flag.
func (c *Client) SetResponseInProgress(open bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.respOpen = open
}

// AppendAudio implements realtime.Client.
func (c *Client) AppendAudio(pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return realtime.ErrClosed
	}
	if c.OutboundErr != nil {
		return c.OutboundErr
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	c.AudioChunks = append(c.AudioChunks, buf)
	return nil
}

// CommitInput implements realtime.Client.
func (c *Client) CommitInput() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return realtime.ErrClosed
	}
	if c.OutboundErr != nil {
		return c.OutboundErr
	}
	c.Commits++
	return nil
}

// CreateResponse implements realtime.Client.
func (c *Client) CreateResponse() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return realtime.ErrClosed
	}
	if c.OutboundErr != nil {
		return c.OutboundErr
	}
	c.Creates++
	c.respOpen = true
	return nil
}

// CancelResponse implements realtime.Client.
func (c *Client) CancelResponse() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || !c.respOpen {
		return false
	}
	c.Cancels++
	c.respOpen = false
	return true
}

// AppendVideoFrame implements realtime.Client.
func (c *Client) AppendVideoFrame(mimeType string, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return realtime.ErrClosed
	}
	if c.VideoErr != nil {
		return c.VideoErr
	}
	buf := make([]byte, len(frame))
	copy(buf, frame)
	c.VideoFrames = append(c.VideoFrames, buf)
	return nil
}

// RequestCommentary implements realtime.Client.
func (c *Client) RequestCommentary(prompt string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return realtime.ErrClosed
	}
	if c.OutboundErr != nil {
		return c.OutboundErr
	}
	c.CommentaryPrompts = append(c.CommentaryPrompts, prompt)
	c.respOpen = true
	return nil
}

// Events implements realtime.Client.
func (c *Client) Events() <-chan realtime.Event { return c.events }

// ResponseInProgress implements realtime.Client.
func (c *Client) ResponseInProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.respOpen
}

// LastError implements realtime.Client.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// RecentOutbound implements realtime.Client. The mock keeps no wire
// history; it always returns nil.
func (c *Client) RecentOutbound() []realtime.OutboundRecord { return nil }

// Close implements realtime.Client. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.CloseEvents(nil)
	return nil
}

// Counts is a point-in-time snapshot of the mock's outbound call
// counters, safe to read while the session under test is running.
type Counts struct {
	AudioChunks       int
	VideoFrames       int
	CommentaryPrompts int
	Commits           int
	Creates           int
	Cancels           int
}

// Counts returns the current outbound call counters.
func (c *Client) Counts() Counts {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Counts{
		AudioChunks:       len(c.AudioChunks),
		VideoFrames:       len(c.VideoFrames),
		CommentaryPrompts: len(c.CommentaryPrompts),
		Commits:           c.Commits,
		Creates:           c.Creates,
		Cancels:           c.Cancels,
	}
}

// Audio returns a copy of every AppendAudio payload so far.
func (c *Client) Audio() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.AudioChunks))
	copy(out, c.AudioChunks)
	return out
}

// Prompts returns a copy of every RequestCommentary prompt so far.
func (c *Client) Prompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.CommentaryPrompts))
	copy(out, c.CommentaryPrompts)
	return out
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
