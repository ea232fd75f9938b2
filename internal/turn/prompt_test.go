package turn

import (
	"strings"
	"testing"
	"time"
)

func TestBuildClassifierPrompt_IncludesContext(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartedAt: now.Add(-10 * time.Minute),
		Participants: []Participant{
			{ID: "1", Name: "Ada"},
			{ID: "2", Name: "Grace"},
		},
		RecentTurns: []HistoryTurn{
			{Role: "user", SpeakerName: "Ada", Text: "anyone up for another round"},
			{Role: "assistant", SpeakerName: "chime", Text: "count me in"},
		},
	}

	prompt := BuildClassifierPrompt(snap, "Grace", "that reminds me of yesterday, what happened again?", now)

	for _, want := range []string{
		"Ada, Grace",
		"Ada: anyone up for another round",
		"chime: count me in",
		`Grace said: "that reminds me of yesterday, what happened again?"`,
		"Should the bot reply?",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "just joined") {
		t.Error("greeting bias present outside the join window")
	}
}

func TestBuildClassifierPrompt_GreetingBiasInJoinWindow(t *testing.T) {
	t.Parallel()

	now := time.Now()
	snap := Snapshot{StartedAt: now.Add(-20 * time.Second)}

	prompt := BuildClassifierPrompt(snap, "Ada", "hello everyone", now)
	if !strings.Contains(prompt, "just joined") {
		t.Error("greeting bias missing for a greeting inside the join window")
	}

	prompt = BuildClassifierPrompt(snap, "Ada", "the build finished", now)
	if strings.Contains(prompt, "just joined") {
		t.Error("greeting bias added to a non-greeting utterance")
	}
}

func TestHistoryLines_NewestFirstTruncation(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 600)
	turns := []HistoryTurn{
		{SpeakerName: "old", Text: long},
		{SpeakerName: "mid", Text: long},
		{SpeakerName: "newA", Text: "short one"},
		{SpeakerName: "newB", Text: "short two"},
	}

	lines := historyLines(turns)

	// Budget 1200: both short lines and "mid" fit; "old" must be cut.
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3: %v", len(lines), lines)
	}
	if !strings.HasPrefix(lines[0], "mid:") {
		t.Errorf("oldest surviving line = %q, want mid", lines[0])
	}
	if !strings.HasPrefix(lines[2], "newB:") {
		t.Errorf("newest line = %q, want newB", lines[2])
	}

	total := 0
	for _, l := range lines {
		total += len(l)
	}
	if total > historyCharBudget {
		t.Errorf("history size %d exceeds budget %d", total, historyCharBudget)
	}
}
