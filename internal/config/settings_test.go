package config_test

import (
	"sync"
	"testing"

	"github.com/chimebot/chime/internal/config"
)

func TestSettingsFromConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	s := config.SettingsFromConfig(cfg)

	if s.BotName != config.DefaultBotName {
		t.Errorf("BotName = %q; want %q", s.BotName, config.DefaultBotName)
	}
	if s.Eagerness != config.DefaultEagerness {
		t.Errorf("Eagerness = %d; want %d", s.Eagerness, config.DefaultEagerness)
	}
	if !s.ClassifierEnabled {
		t.Error("ClassifierEnabled should default to true")
	}
}

func TestSettingsFromConfig_ExplicitValues(t *testing.T) {
	t.Parallel()

	off := false
	cfg := &config.Config{}
	cfg.Voice.BotName = "clanker"
	cfg.Voice.Eagerness = 0
	cfg.Voice.ClassifierEnabled = &off

	s := config.SettingsFromConfig(cfg)
	if s.BotName != "clanker" {
		t.Errorf("BotName = %q; want clanker", s.BotName)
	}
	if s.Eagerness != 0 {
		t.Errorf("Eagerness = %d; explicit zero must survive", s.Eagerness)
	}
	if s.ClassifierEnabled {
		t.Error("ClassifierEnabled = true; want false")
	}
}

func TestSettingsStore_SnapshotIsolation(t *testing.T) {
	t.Parallel()

	st := config.NewSettingsStore(config.Settings{
		BotName:   "chime",
		WakeWords: []string{"chime", "chimey"},
		Eagerness: 40,
	})

	snap := st.Snapshot()
	snap.WakeWords[0] = "mutated"
	snap.Eagerness = 99

	fresh := st.Snapshot()
	if fresh.WakeWords[0] != "chime" {
		t.Errorf("stored wake word = %q; snapshot mutation leaked", fresh.WakeWords[0])
	}
	if fresh.Eagerness != 40 {
		t.Errorf("stored eagerness = %d; want 40", fresh.Eagerness)
	}
}

func TestSettingsStore_ReplacePublishesWholeSnapshot(t *testing.T) {
	t.Parallel()

	st := config.NewSettingsStore(config.Settings{BotName: "chime", Eagerness: 40})

	next := st.Snapshot()
	next.Eagerness = 75
	next.StreamWatchEnabled = true
	st.Replace(next)

	got := st.Snapshot()
	if got.Eagerness != 75 || !got.StreamWatchEnabled {
		t.Errorf("snapshot after Replace = %+v", got)
	}
	if got.BotName != "chime" {
		t.Errorf("BotName = %q; unrelated fields must carry over", got.BotName)
	}
}

func TestSettingsStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	st := config.NewSettingsStore(config.Settings{BotName: "chime", Eagerness: 40})

	var wg sync.WaitGroup
	for i := range 8 {
		eager := i * 10
		wg.Go(func() {
			s := st.Snapshot()
			s.Eagerness = eager
			st.Replace(s)
		})
		wg.Go(func() {
			_ = st.Snapshot()
		})
	}
	wg.Wait()

	got := st.Snapshot()
	if got.Eagerness%10 != 0 {
		t.Errorf("Eagerness = %d; want a multiple of 10", got.Eagerness)
	}
}
