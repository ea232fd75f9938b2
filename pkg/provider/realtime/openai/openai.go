// Package openai implements the realtime.Provider interface for OpenAI's
// Realtime API.
//
// It establishes a bidirectional WebSocket connection to the OpenAI
// Realtime endpoint and exchanges JSON events according to the Realtime
// API protocol. Audio is transmitted as base64-encoded PCM16 chunks.
// Server-side voice activity detection is disabled when the session
// manager performs its own segmentation; turns are then framed explicitly
// with input_audio_buffer.commit and response.create.
//
// The Realtime API has no video input, so AppendVideoFrame reports
// realtime.ErrVideoUnsupported and stream-watch falls back to a
// vision-capable describe call.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/chimebot/chime/pkg/provider/realtime"
)

// Compile-time assertions that Provider and client satisfy the realtime
// interfaces.
var _ realtime.Provider = (*Provider)(nil)
var _ realtime.Client = (*client)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the OpenAI realtime model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements realtime.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new OpenAI Realtime Provider with the given API key and
// options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name returns "openai".
func (p *Provider) Name() string { return "openai" }

// SupportsVideo reports false: the Realtime API accepts audio and text only.
func (p *Provider) SupportsVideo() bool { return false }

// Connect establishes a new OpenAI Realtime session. The returned Client
// is ready to accept audio immediately after the session.update message
// is sent.
func (p *Provider) Connect(ctx context.Context, cfg realtime.SessionConfig) (realtime.Client, error) {
	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, p.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, &realtime.ConnectError{Provider: "openai", Err: fmt.Errorf("dial: %w", err)}
	}

	cliCtx, cliCancel := context.WithCancel(context.Background())
	c := &client{
		conn:     conn,
		events:   make(chan realtime.Event, 64),
		outbound: realtime.NewOutboundLog(),
		ctx:      cliCtx,
		cancel:   cliCancel,
	}

	if err := c.sendSessionUpdate(cfg); err != nil {
		cliCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, &realtime.ConnectError{Provider: "openai", Err: fmt.Errorf("session update: %w", err)}
	}

	go c.receiveLoop()

	return c, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Voice             string         `json:"voice,omitempty"`
	Instructions      string         `json:"instructions,omitempty"`
	InputAudioFormat  string         `json:"input_audio_format"`
	OutputAudioFormat string         `json:"output_audio_format"`
	TurnDetection     *turnDetection `json:"turn_detection"`
}

// turnDetection is left nil to disable server VAD; the session then waits
// for explicit input_audio_buffer.commit / response.create framing.
type turnDetection struct {
	Type string `json:"type"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string             `json:"type"`
	Role    string             `json:"role,omitempty"`
	Content []conversationPart `json:"content,omitempty"`
}

type conversationPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// serverErrorDetail represents the nested error object in an OpenAI
// Realtime error event.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── client ─────────────────────────────────────────────────────────────────────

type client struct {
	conn     *websocket.Conn
	events   chan realtime.Event
	outbound *realtime.OutboundLog

	mu        sync.Mutex
	errVal    error
	closed    bool
	respOpen  bool
	replyText string // accumulates response.audio_transcript.delta

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSessionUpdate configures voice, instructions, audio formats, and
// turn detection for the session.
func (c *client) sendSessionUpdate(cfg realtime.SessionConfig) error {
	params := sessionParams{
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
	}
	if cfg.Voice != "" {
		params.Voice = cfg.Voice
	}
	if cfg.Instructions != "" {
		params.Instructions = cfg.Instructions
	}
	if !cfg.DisableServerVAD {
		params.TurnDetection = &turnDetection{Type: "server_vad"}
	}
	return c.writeJSON("session.update", sessionUpdateMessage{Type: "session.update", Session: params})
}

// writeJSON marshals v, records it in the outbound history, and writes it
// as a text WebSocket message.
func (c *client) writeJSON(kind string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	c.outbound.Record(kind, string(data))
	return c.conn.Write(c.ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and dispatches them. It
// owns the events channel: it emits the terminal socket_closed event and
// closes the channel when it exits.
func (c *client) receiveLoop() {
	var cause error

	defer func() {
		c.closeOnce.Do(func() {
			c.emit(realtime.Event{Type: realtime.EventSocketClosed, Err: cause})
			close(c.events)
		})
	}()

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil {
				cause = err
				c.setErr(err)
			}
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		c.handleServerEvent(&evt)
	}
}

func (c *client) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "response.created":
		c.setRespOpen(true)

	case "response.audio.delta":
		if evt.Delta == "" {
			return
		}
		audioData, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(audioData) == 0 {
			return
		}
		c.emit(realtime.Event{Type: realtime.EventAudioDelta, Audio: audioData})

	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return
		}
		c.mu.Lock()
		c.replyText += evt.Delta
		c.mu.Unlock()

	case "response.audio_transcript.done":
		c.mu.Lock()
		text := c.replyText
		c.replyText = ""
		c.mu.Unlock()

		if text == "" {
			return
		}
		c.emit(realtime.Event{Type: realtime.EventTranscript, Text: text, Role: "assistant"})

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return
		}
		c.emit(realtime.Event{Type: realtime.EventTranscript, Text: evt.Transcript, Role: "user"})

	case "response.done", "response.cancelled":
		c.setRespOpen(false)
		c.emit(realtime.Event{Type: realtime.EventResponseDone})

	case "error":
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		err := fmt.Errorf("openai: %s", msg)
		c.setErr(err)
		// A failed response is no longer in progress.
		c.setRespOpen(false)
		c.emit(realtime.Event{Type: realtime.EventError, Err: err})
	}
}

// emit delivers an event unless the client context is done.
func (c *client) emit(evt realtime.Event) {
	select {
	case c.events <- evt:
	case <-c.ctx.Done():
	}
}

func (c *client) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errVal = err
}

func (c *client) setRespOpen(open bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.respOpen = open
}

func (c *client) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return realtime.ErrClosed
	}
	return nil
}

// ── Client methods ─────────────────────────────────────────────────────────────

// AppendAudio delivers a raw PCM16 audio chunk to the model's input buffer.
func (c *client) AppendAudio(pcm []byte) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	encoded := base64.StdEncoding.EncodeToString(pcm)
	return c.writeJSON("input_audio_buffer.append", appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: encoded,
	})
}

// CommitInput closes the current input segment.
func (c *client) CommitInput() error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.writeJSON("input_audio_buffer.commit", map[string]string{"type": "input_audio_buffer.commit"})
}

// CreateResponse asks the model to speak a response to the committed input.
func (c *client) CreateResponse() error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	c.setRespOpen(true)
	return c.writeJSON("response.create", map[string]string{"type": "response.create"})
}

// CancelResponse sends response.cancel if a response is in progress.
func (c *client) CancelResponse() bool {
	c.mu.Lock()
	open := c.respOpen && !c.closed
	c.mu.Unlock()

	if !open {
		return false
	}
	if err := c.writeJSON("response.cancel", map[string]string{"type": "response.cancel"}); err != nil {
		return false
	}
	return true
}

// AppendVideoFrame always reports that video is unsupported.
func (c *client) AppendVideoFrame(mimeType string, frame []byte) error {
	return realtime.ErrVideoUnsupported
}

// RequestCommentary injects prompt as a user conversation item and
// triggers a spoken response to it.
func (c *client) RequestCommentary(prompt string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	msg := createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type: "message",
			Role: "user",
			Content: []conversationPart{
				{Type: "input_text", Text: prompt},
			},
		},
	}
	if err := c.writeJSON("conversation.item.create", msg); err != nil {
		return err
	}
	return c.CreateResponse()
}

// Events returns the normalised inbound event stream.
func (c *client) Events() <-chan realtime.Event { return c.events }

// ResponseInProgress reports whether the model is generating a response.
func (c *client) ResponseInProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.respOpen
}

// LastError returns the most recent provider-side error, or nil.
func (c *client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errVal
}

// RecentOutbound returns the bounded outbound wire-event history.
func (c *client) RecentOutbound() []realtime.OutboundRecord {
	return c.outbound.Snapshot()
}

// Close terminates the session and releases all resources. Idempotent.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
