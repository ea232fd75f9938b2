// Package gemini implements the realtime.Provider interface for Google's
// Gemini Live API.
//
// It establishes a bidirectional WebSocket connection to the Gemini Live
// endpoint and exchanges JSON messages according to the BidiGenerateContent
// protocol. Audio is transmitted as base64-encoded PCM chunks. Gemini Live
// accepts image media chunks on the same stream, so AppendVideoFrame is
// supported natively and stream-watch needs no vision fallback.
//
// The protocol has no explicit response.cancel; interruption happens
// server-side and is surfaced via the interrupted flag, so CancelResponse
// always reports false.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/chimebot/chime/pkg/provider/realtime"
)

// Compile-time assertions that Provider and client satisfy the realtime
// interfaces.
var _ realtime.Provider = (*Provider)(nil)
var _ realtime.Client = (*client)(nil)

const (
	defaultModel   = "gemini-2.0-flash-live-001"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements realtime.Provider for Google's Gemini Live API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new Gemini Live Provider with the given API key and options.
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

// Name returns "gemini".
func (p *Provider) Name() string { return "gemini" }

// SupportsVideo reports true: Gemini Live accepts image media chunks.
func (p *Provider) SupportsVideo() bool { return true }

// Connect establishes a new Gemini Live session. The returned Client is
// ready to accept audio immediately after the setup message is sent.
func (p *Provider) Connect(ctx context.Context, cfg realtime.SessionConfig) (realtime.Client, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		p.baseURL, p.apiKey,
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, &realtime.ConnectError{Provider: "gemini", Err: fmt.Errorf("dial: %w", err)}
	}

	sampleRate := cfg.InputSampleRateHz
	if sampleRate == 0 {
		sampleRate = 16000
	}

	cliCtx, cliCancel := context.WithCancel(context.Background())
	c := &client{
		conn:      conn,
		events:    make(chan realtime.Event, 64),
		outbound:  realtime.NewOutboundLog(),
		audioMIME: fmt.Sprintf("audio/pcm;rate=%d", sampleRate),
		done:      make(chan struct{}),
		ctx:       cliCtx,
		cancel:    cliCancel,
	}

	if err := c.sendSetup(p.model, cfg); err != nil {
		cliCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, &realtime.ConnectError{Provider: "gemini", Err: fmt.Errorf("setup: %w", err)}
	}

	go c.receiveLoop()
	go c.keepaliveLoop()

	return c, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model             string             `json:"model"`
	GenerationConfig  generationConfig   `json:"generationConfig"`
	SystemInstruction *systemInstruction `json:"systemInstruction,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"mediaChunks"`
}

type mediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type clientContentMessage struct {
	ClientContent clientContent `json:"clientContent"`
}

type clientContent struct {
	Turns        []contentTurn `json:"turns,omitempty"`
	TurnComplete bool          `json:"turnComplete"`
}

type contentTurn struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type transcription struct {
	Text string `json:"text"`
}

// ── client ─────────────────────────────────────────────────────────────────────

type client struct {
	conn      *websocket.Conn
	events    chan realtime.Event
	outbound  *realtime.OutboundLog
	audioMIME string

	mu       sync.Mutex
	errVal   error
	closed   bool
	respOpen bool
	done     chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSetup sends the initial BidiGenerateContent setup message.
func (c *client) sendSetup(model string, cfg realtime.SessionConfig) error {
	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"audio"},
			},
		},
	}

	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: cfg.Instructions}},
		}
	}

	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}

	return c.writeJSON("setup", msg)
}

// writeJSON marshals v, records it in the outbound history, and writes it
// as a text WebSocket message.
func (c *client) writeJSON(kind string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	c.outbound.Record(kind, string(data))
	return c.conn.Write(c.ctx, websocket.MessageText, data)
}

// receiveLoop reads messages from the WebSocket and dispatches them. It
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

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // skip malformed frames
		}

		c.handleServerMessage(&msg)
	}
}

func (c *client) handleServerMessage(msg *serverMessage) {
	if msg.Error != nil {
		errMsg := "unknown error"
		if msg.Error.Message != "" {
			errMsg = msg.Error.Message
		}
		err := fmt.Errorf("gemini: %s", errMsg)
		c.setErr(err)
		// A failed response is no longer in progress.
		c.setRespOpen(false)
		c.emit(realtime.Event{Type: realtime.EventError, Err: err})
	}
	if msg.ServerContent != nil {
		c.handleServerContent(msg.ServerContent)
	}
}

func (c *client) handleServerContent(sc *serverContent) {
	if sc.ModelTurn != nil {
		c.setRespOpen(true)
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil {
				audioData, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil || len(audioData) == 0 {
					continue
				}
				c.emit(realtime.Event{Type: realtime.EventAudioDelta, Audio: audioData})
			}
			if p.Text != "" {
				c.emit(realtime.Event{Type: realtime.EventTranscript, Text: p.Text, Role: "assistant"})
			}
		}
	}

	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		c.emit(realtime.Event{Type: realtime.EventTranscript, Text: sc.InputTranscription.Text, Role: "user"})
	}

	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		c.emit(realtime.Event{Type: realtime.EventTranscript, Text: sc.OutputTranscription.Text, Role: "assistant"})
	}

	// Both turn completion and server-side interruption end the current
	// model turn.
	if sc.TurnComplete || sc.Interrupted {
		c.setRespOpen(false)
		c.emit(realtime.Event{Type: realtime.EventResponseDone})
	}
}

// keepaliveLoop sends WebSocket pings to keep the Gemini Live connection
// alive.
func (c *client) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, keepaliveTimeout)
			_ = c.conn.Ping(pingCtx)
			cancel()
		}
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

// AppendAudio delivers a raw PCM chunk to the model as a media chunk.
func (c *client) AppendAudio(pcm []byte) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{
				{MIMEType: c.audioMIME, Data: base64.StdEncoding.EncodeToString(pcm)},
			},
		},
	}
	return c.writeJSON("realtimeInput", msg)
}

// CommitInput is a no-op: Gemini Live infers segment boundaries from the
// media stream.
func (c *client) CommitInput() error {
	return c.checkOpen()
}

// CreateResponse signals the end of the caller's turn, prompting the
// model to respond to the streamed input.
func (c *client) CreateResponse() error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	c.setRespOpen(true)
	msg := clientContentMessage{
		ClientContent: clientContent{TurnComplete: true},
	}
	return c.writeJSON("clientContent", msg)
}

// CancelResponse always reports false: the protocol has no explicit
// cancel, interruption is driven server-side.
func (c *client) CancelResponse() bool { return false }

// AppendVideoFrame streams one image frame as a media chunk.
func (c *client) AppendVideoFrame(mimeType string, frame []byte) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{
				{MIMEType: mimeType, Data: base64.StdEncoding.EncodeToString(frame)},
			},
		},
	}
	return c.writeJSON("realtimeInput", msg)
}

// RequestCommentary injects prompt as a user turn and marks the turn
// complete, prompting a spoken response.
func (c *client) RequestCommentary(prompt string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	c.setRespOpen(true)
	msg := clientContentMessage{
		ClientContent: clientContent{
			Turns: []contentTurn{
				{Role: "user", Parts: []part{{Text: prompt}}},
			},
			TurnComplete: true,
		},
	}
	return c.writeJSON("clientContent", msg)
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

	c.cancel()    // unblocks receiveLoop and keepaliveLoop
	close(c.done) // signals keepaliveLoop via done channel
	c.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
