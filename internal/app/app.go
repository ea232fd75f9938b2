// Package app wires the chime subsystems into a running application.
//
// The App owns the turn engine, the settings store, and the session
// registry. The bot layer calls into it to join or leave voice channels
// and to adjust runtime settings; Run serves the HTTP surface (metrics,
// health, stream-frame ingress) until the context is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chimebot/chime/internal/actionlog"
	"github.com/chimebot/chime/internal/capture"
	"github.com/chimebot/chime/internal/config"
	"github.com/chimebot/chime/internal/observe"
	"github.com/chimebot/chime/internal/session"
	"github.com/chimebot/chime/internal/transcribe"
	"github.com/chimebot/chime/internal/turn"
	"github.com/chimebot/chime/pkg/audio"
	"github.com/chimebot/chime/pkg/provider/llm"
	"github.com/chimebot/chime/pkg/provider/realtime"
	"github.com/chimebot/chime/pkg/provider/stt"
	"github.com/chimebot/chime/pkg/provider/tts"
	"github.com/chimebot/chime/pkg/provider/vision"
)

// voiceSampleRateHz is the PCM rate used on both the capture and the
// playback side of a session.
const voiceSampleRateHz = 24000

// connectTimeout bounds the voice-channel join plus the realtime
// provider handshake.
const connectTimeout = 30 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured; New reports an error when a slot the
// configured voice mode depends on is empty.
type Providers struct {
	Audio       audio.Platform
	Realtime    realtime.Provider // nil in pipeline mode
	Transcriber stt.Transcriber
	Classifier  llm.Provider // nil disables the admission classifier
	Generator   llm.Provider // reply text in pipeline mode
	Synthesizer tts.Synthesizer
	Vision      vision.Describer
	Actions     actionlog.Sink
}

// App owns the per-guild session lifecycle and the shared decision
// machinery. All exported methods are safe for concurrent use.
type App struct {
	cfg       *config.Config
	providers Providers

	settings *config.SettingsStore
	engine   *turn.Engine
	planner  *transcribe.Planner
	registry *session.Registry
	metrics  *observe.Metrics

	botUserID string
	srv       *http.Server
}

// Option configures optional App dependencies.
type Option func(*App)

// WithMetrics injects the metrics set instead of the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithBotUserID sets the bot's own platform user id, used for explicit
// mention matching and roster filtering.
func WithBotUserID(id string) Option {
	return func(a *App) { a.botUserID = id }
}

// New builds an App from the loaded config and the constructed
// providers. The initial settings snapshot comes from the config's
// voice block.
func New(cfg *config.Config, providers Providers, opts ...Option) (*App, error) {
	var errs []error
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if providers.Audio == nil {
		errs = append(errs, errors.New("app: audio platform is required"))
	}
	if providers.Actions == nil {
		errs = append(errs, errors.New("app: action log sink is required"))
	}
	if cfg.Voice.Mode != config.VoiceModePipeline && providers.Realtime == nil {
		errs = append(errs, errors.New("app: realtime provider is required in realtime mode"))
	}
	if cfg.Voice.Mode == config.VoiceModePipeline {
		if providers.Generator == nil {
			errs = append(errs, errors.New("app: generation provider is required in pipeline mode"))
		}
		if providers.Synthesizer == nil {
			errs = append(errs, errors.New("app: speech synthesizer is required in pipeline mode"))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		settings:  config.NewSettingsStore(config.SettingsFromConfig(cfg)),
		planner: transcribe.NewPlanner(
			cfg.Providers.Transcription.MiniModel,
			cfg.Providers.Transcription.FullModel,
		),
		registry: session.NewRegistry(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	var classifier *turn.Classifier
	if providers.Classifier != nil {
		cl := cfg.Providers.Classifier
		classifier = turn.NewClassifier(providers.Classifier, cl.Provider, cl.Model)
	}
	a.engine = turn.NewEngine(classifier, turn.WithMetrics(a.metrics))

	a.srv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(a.routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return a, nil
}

// Settings returns the current voice settings snapshot.
func (a *App) Settings() config.Settings {
	return a.settings.Snapshot()
}

// UpdateSettings applies mutate to a copy of the current settings,
// publishes the result, and returns it. Active sessions pick up the new
// snapshot on their next decision.
func (a *App) UpdateSettings(mutate func(*config.Settings)) config.Settings {
	next := a.settings.Snapshot()
	mutate(&next)
	a.settings.Replace(next)
	return next
}

// Status describes the guild's active session for command responses.
type Status struct {
	SessionID   string
	ChannelID   string
	Mode        turn.Mode
	BotTurnOpen bool

	// Watching is the streamer the session follows, empty when stream
	// watch is inactive.
	Watching string
}

// Status reports the active session, if any.
func (a *App) Status() (Status, bool) {
	sess, ok := a.registry.Lookup(a.cfg.Discord.GuildID)
	if !ok {
		return Status{}, false
	}
	st := Status{
		SessionID:   sess.ID(),
		ChannelID:   sess.ChannelID(),
		Mode:        sess.Mode(),
		BotTurnOpen: sess.BotTurnOpen(),
	}
	if streamer, watching := sess.Watching(); watching {
		st.Watching = streamer
	}
	return st, true
}

// JoinVoice connects the bot to channelID and starts a session for the
// configured guild. Fails when the guild already has one.
func (a *App) JoinVoice(ctx context.Context, channelID string) error {
	guildID := a.cfg.Discord.GuildID
	if _, ok := a.registry.Lookup(guildID); ok {
		return fmt.Errorf("app: guild %s already has an active session", guildID)
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	conn, err := a.providers.Audio.Connect(connectCtx, channelID)
	if err != nil {
		return fmt.Errorf("app: connect voice channel %s: %w", channelID, err)
	}

	mode := turn.ModeRealtime
	if a.cfg.Voice.Mode == config.VoiceModePipeline {
		mode = turn.ModePipeline
	}

	var (
		client        realtime.Client
		realtimeName  string
		supportsVideo bool
	)
	if mode == turn.ModeRealtime {
		snap := a.settings.Snapshot()
		client, err = a.providers.Realtime.Connect(connectCtx, realtime.SessionConfig{
			Instructions:      snap.Persona,
			Voice:             a.cfg.Providers.Realtime.Voice,
			InputSampleRateHz: voiceSampleRateHz,
			DisableServerVAD:  true,
		})
		if err != nil {
			conn.Disconnect()
			return fmt.Errorf("app: open realtime session: %w", err)
		}
		realtimeName = a.providers.Realtime.Name()
		supportsVideo = a.providers.Realtime.SupportsVideo()
	}

	sess, err := session.New(session.Config{
		GuildID:              guildID,
		ChannelID:            channelID,
		BotUserID:            a.botUserID,
		Mode:                 mode,
		Settings:             a.settings,
		Engine:               a.engine,
		Conn:                 conn,
		Actions:              a.providers.Actions,
		Metrics:              a.metrics,
		Realtime:             client,
		RealtimeName:         realtimeName,
		SupportsVideo:        supportsVideo,
		Transcriber:          a.providers.Transcriber,
		Planner:              a.planner,
		Generator:            a.providers.Generator,
		GeneratorModel:       a.generatorModel(),
		Synthesizer:          a.providers.Synthesizer,
		Vision:               a.providers.Vision,
		CaptureSampleRateHz:  voiceSampleRateHz,
		PlaybackSampleRateHz: voiceSampleRateHz,
		OnClose: func(s *session.Session) {
			a.registry.Remove(s.GuildID())
		},
	})
	if err != nil {
		if client != nil {
			client.Close()
		}
		conn.Disconnect()
		return fmt.Errorf("app: create session: %w", err)
	}

	if err := a.registry.Insert(sess); err != nil {
		if client != nil {
			client.Close()
		}
		conn.Disconnect()
		return err
	}

	// The session and its capture pipeline outlive the join command.
	runCtx := context.WithoutCancel(ctx)
	sess.Start(runCtx)

	captureCtx, stopCapture := context.WithCancel(runCtx)
	mgr := capture.NewManager(conn, sess, voiceSampleRateHz)
	go mgr.Run(captureCtx)
	go func() {
		<-sess.Done()
		stopCapture()
	}()

	observe.Logger(ctx).Info("voice session started",
		"session_id", sess.ID(),
		"guild_id", guildID,
		"channel_id", channelID,
		"mode", mode,
	)
	return nil
}

// LeaveVoice closes the guild's active session.
func (a *App) LeaveVoice(ctx context.Context) error {
	sess, ok := a.registry.Lookup(a.cfg.Discord.GuildID)
	if !ok {
		return errors.New("app: no active voice session")
	}
	return sess.Close(ctx)
}

// WatchStream points the active session's stream watch at userID and
// enables commentary.
func (a *App) WatchStream(ctx context.Context, userID string) error {
	sess, ok := a.registry.Lookup(a.cfg.Discord.GuildID)
	if !ok {
		return errors.New("app: no active voice session")
	}
	a.UpdateSettings(func(s *config.Settings) { s.StreamWatchEnabled = true })
	sess.StartWatch(userID)
	observe.Logger(ctx).Info("stream watch started", "session_id", sess.ID(), "streamer_id", userID)
	return nil
}

// StopWatching stops the active session's stream watch.
func (a *App) StopWatching(ctx context.Context) error {
	sess, ok := a.registry.Lookup(a.cfg.Discord.GuildID)
	if !ok {
		return errors.New("app: no active voice session")
	}
	sess.StopWatch()
	observe.Logger(ctx).Info("stream watch stopped", "session_id", sess.ID())
	return nil
}

// Run serves the HTTP surface until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		observe.Logger(ctx).Info("http server listening", "addr", a.srv.Addr)
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.srv.Shutdown(shutdownCtx)
		return ctx.Err()
	})

	return g.Wait()
}

// Shutdown closes every active session and the action sink.
func (a *App) Shutdown(ctx context.Context) error {
	a.registry.CloseAll(ctx)
	return a.providers.Actions.Close(ctx)
}

// generatorModel resolves the reply-generation model: the generation
// entry when set, otherwise the classifier's model.
func (a *App) generatorModel() string {
	if m := a.cfg.Providers.Generation.Model; m != "" {
		return m
	}
	return a.cfg.Providers.Classifier.Model
}
