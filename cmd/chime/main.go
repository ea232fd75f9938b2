// Command chime is the voice companion server: it joins a Discord
// voice channel, listens to the conversation, and speaks when spoken
// to.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"go.opentelemetry.io/otel"

	"github.com/chimebot/chime/internal/actionlog"
	"github.com/chimebot/chime/internal/app"
	"github.com/chimebot/chime/internal/bot"
	"github.com/chimebot/chime/internal/config"
	"github.com/chimebot/chime/internal/observe"
	"github.com/chimebot/chime/pkg/provider/llm/anyllm"
	rtgemini "github.com/chimebot/chime/pkg/provider/realtime/gemini"
	rtopenai "github.com/chimebot/chime/pkg/provider/realtime/openai"
	sttopenai "github.com/chimebot/chime/pkg/provider/stt/openai"
	"github.com/chimebot/chime/pkg/provider/stt/whisperlocal"
	ttsopenai "github.com/chimebot/chime/pkg/provider/tts/openai"
	visionopenai "github.com/chimebot/chime/pkg/provider/vision/openai"
)

const version = "0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "chime: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "chime: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("chime starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"voice_mode", cfg.Voice.Mode,
	)

	otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName:    "chime",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	actions, err := buildActionSink(ctx, cfg)
	if err != nil {
		slog.Error("failed to set up the action log", "err", err)
		return 1
	}

	providers, err := buildProviders(cfg, actions)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	b, err := bot.New(ctx, bot.Config{Token: cfg.Discord.Token, GuildID: cfg.Discord.GuildID})
	if err != nil {
		slog.Error("failed to connect to Discord", "err", err)
		return 1
	}
	providers.Audio = b.Platform()
	slog.Info("discord connected", "guild_id", cfg.Discord.GuildID, "bot_user_id", b.UserID())

	application, err := app.New(cfg, providers,
		app.WithMetrics(metrics),
		app.WithBotUserID(b.UserID()),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	bot.RegisterVoiceCommands(b, application)

	go func() {
		if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("discord bot error", "err", err)
		}
	}()

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := b.Close(); err != nil {
		slog.Warn("discord close error", "err", err)
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown error", "err", err)
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// newLogger builds the process logger at the configured level.
func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// buildActionSink returns the Postgres sink when a DSN is configured,
// otherwise actions go to the structured log.
func buildActionSink(ctx context.Context, cfg *config.Config) (actionlog.Sink, error) {
	dsn := cfg.ActionLog.PostgresDSN
	if dsn == "" {
		return actionlog.NewSlogSink(slog.Default()), nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("action log: connect postgres: %w", err)
	}
	sink := actionlog.NewPostgresSink(pool)
	if err := sink.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("action log: migrate: %w", err)
	}
	slog.Info("action log using postgres")
	return sink, nil
}

// buildProviders constructs every configured provider adapter.
func buildProviders(cfg *config.Config, actions actionlog.Sink) (app.Providers, error) {
	providers := app.Providers{Actions: actions}

	if cfg.Voice.Mode != config.VoiceModePipeline {
		rt := cfg.Providers.Realtime
		switch rt.Backend {
		case config.RealtimeOpenAI:
			var opts []rtopenai.Option
			if rt.Model != "" {
				opts = append(opts, rtopenai.WithModel(rt.Model))
			}
			if rt.BaseURL != "" {
				opts = append(opts, rtopenai.WithBaseURL(rt.BaseURL))
			}
			providers.Realtime = rtopenai.New(rt.APIKey, opts...)
		case config.RealtimeGemini:
			var opts []rtgemini.Option
			if rt.Model != "" {
				opts = append(opts, rtgemini.WithModel(rt.Model))
			}
			if rt.BaseURL != "" {
				opts = append(opts, rtgemini.WithBaseURL(rt.BaseURL))
			}
			providers.Realtime = rtgemini.New(rt.APIKey, opts...)
		default:
			return providers, fmt.Errorf("providers: unsupported realtime backend %q", rt.Backend)
		}
	}

	tr := cfg.Providers.Transcription
	switch {
	case tr.APIKey != "":
		var opts []sttopenai.Option
		if tr.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(tr.BaseURL))
		}
		transcriber, err := sttopenai.New(tr.APIKey, opts...)
		if err != nil {
			return providers, fmt.Errorf("providers: transcription: %w", err)
		}
		providers.Transcriber = transcriber
	case tr.WhisperModelPath != "":
		transcriber, err := whisperlocal.New(tr.WhisperModelPath)
		if err != nil {
			return providers, fmt.Errorf("providers: local whisper: %w", err)
		}
		providers.Transcriber = transcriber
	}

	if cl := cfg.Providers.Classifier; cl.Provider != "" {
		p, err := newLLM(cl)
		if err != nil {
			return providers, fmt.Errorf("providers: classifier: %w", err)
		}
		providers.Classifier = p
	}

	gen := cfg.Providers.Generation
	if gen.Provider == "" {
		gen = cfg.Providers.Classifier
	}
	if gen.Provider != "" {
		p, err := newLLM(gen)
		if err != nil {
			return providers, fmt.Errorf("providers: generation: %w", err)
		}
		providers.Generator = p
	}

	if sp := cfg.Providers.Speech; sp.APIKey != "" {
		var opts []ttsopenai.Option
		if sp.Model != "" {
			opts = append(opts, ttsopenai.WithModel(sp.Model))
		}
		if sp.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(sp.BaseURL))
		}
		synth, err := ttsopenai.New(sp.APIKey, opts...)
		if err != nil {
			return providers, fmt.Errorf("providers: speech: %w", err)
		}
		providers.Synthesizer = synth
	}

	if vi := cfg.Providers.Vision; vi.APIKey != "" {
		var opts []visionopenai.Option
		if vi.Model != "" {
			opts = append(opts, visionopenai.WithModel(vi.Model))
		}
		if vi.BaseURL != "" {
			opts = append(opts, visionopenai.WithBaseURL(vi.BaseURL))
		}
		describer, err := visionopenai.New(vi.APIKey, opts...)
		if err != nil {
			return providers, fmt.Errorf("providers: vision: %w", err)
		}
		providers.Vision = describer
	}

	return providers, nil
}

// newLLM builds an any-llm provider from a classifier/generation entry.
func newLLM(entry config.ClassifierEntry) (*anyllm.Provider, error) {
	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	return anyllm.New(entry.Provider, entry.Model, opts...)
}
