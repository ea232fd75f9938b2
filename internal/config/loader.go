package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// knownClassifierProviders lists the any-llm backend names the classifier
// can be routed through. Used by [Validate] to warn about likely typos.
var knownClassifierProviders = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Unknown fields are rejected. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns
// a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required"))
	}
	if cfg.Discord.GuildID == "" {
		errs = append(errs, errors.New("discord.guild_id is required"))
	}

	if cfg.Voice.Mode != "" && !cfg.Voice.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("voice.mode %q is invalid; valid values: realtime, pipeline", cfg.Voice.Mode))
	}
	pipelineMode := cfg.Voice.Mode == VoiceModePipeline

	rt := cfg.Providers.Realtime
	if rt.Backend == "" {
		if !pipelineMode {
			errs = append(errs, errors.New("providers.realtime.backend is required"))
		}
	} else if !rt.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("providers.realtime.backend %q is invalid; valid values: openai, gemini", rt.Backend))
	}
	if rt.Backend.IsValid() && rt.APIKey == "" {
		errs = append(errs, fmt.Errorf("providers.realtime.api_key is required for backend %q", rt.Backend))
	}

	tr := cfg.Providers.Transcription
	if tr.APIKey == "" && tr.WhisperModelPath == "" {
		errs = append(errs, errors.New("providers.transcription requires api_key or whisper_model_path"))
	}

	cl := cfg.Providers.Classifier
	if cl.Provider != "" && !slices.Contains(knownClassifierProviders, cl.Provider) {
		slog.Warn("unknown classifier provider — may be a typo or third-party backend",
			"provider", cl.Provider,
			"known", knownClassifierProviders,
		)
	}
	if cl.Provider != "" && cl.Model == "" {
		errs = append(errs, errors.New("providers.classifier.model is required when a classifier provider is set"))
	}

	gen := cfg.Providers.Generation
	if gen.Provider != "" && gen.Model == "" {
		errs = append(errs, errors.New("providers.generation.model is required when a generation provider is set"))
	}
	if pipelineMode && gen.Provider == "" && cl.Provider == "" {
		errs = append(errs, errors.New("voice.mode pipeline requires providers.generation or providers.classifier"))
	}
	if pipelineMode && cfg.Providers.Speech.APIKey == "" {
		errs = append(errs, errors.New("voice.mode pipeline requires providers.speech.api_key"))
	}

	if cfg.ActionLog.PostgresDSN == "" {
		slog.Warn("action_log.postgres_dsn is empty; admission decisions will not be durably recorded")
	}

	if cfg.Voice.Eagerness < 0 || cfg.Voice.Eagerness > 100 {
		errs = append(errs, fmt.Errorf("voice.eagerness %d is out of range [0, 100]", cfg.Voice.Eagerness))
	}
	if cfg.Voice.StreamWatchEnabled && rt.Backend == RealtimeOpenAI && cfg.Providers.Vision.APIKey == "" {
		slog.Warn("stream watch enabled on an audio-only realtime backend without a vision provider; frames will be dropped")
	}

	return errors.Join(errs...)
}
