package turn

import (
	"strings"
	"time"
)

const (
	// historyCharBudget caps the recent-turn history included in the
	// classifier prompt. Truncation keeps the newest turns.
	historyCharBudget = 1200

	// joinWindow is how long after session start a greeting-shaped
	// utterance earns a bias hint in the prompt.
	joinWindow = 90 * time.Second
)

// greetingTokens mark an utterance as a likely channel greeting.
var greetingTokens = map[string]struct{}{
	"hi": {}, "hello": {}, "hey": {}, "yo": {}, "sup": {},
	"greetings": {}, "morning": {}, "evening": {}, "welcome": {},
}

// classifierSystemPrompt returns the strict-contract instruction for
// the admission classifier.
func classifierSystemPrompt(botName string) string {
	var b strings.Builder
	b.WriteString("You decide whether a voice-chat bot named ")
	b.WriteString(botName)
	b.WriteString(" should reply to the latest utterance in a group voice channel. ")
	b.WriteString("The utterance did not address the bot directly. ")
	b.WriteString("Reply YES only when the utterance invites a response the group would welcome. ")
	b.WriteString("Answer with exactly one word: YES or NO.")
	return b.String()
}

// BuildClassifierPrompt formats the classifier user prompt: channel
// participants, recent turn history bounded by [historyCharBudget] with
// newest-first truncation, the utterance under evaluation, and a
// greeting bias hint when the session is newly started.
func BuildClassifierPrompt(snap Snapshot, speakerName, transcript string, now time.Time) string {
	var b strings.Builder

	if len(snap.Participants) > 0 {
		names := make([]string, 0, len(snap.Participants))
		for _, p := range snap.Participants {
			names = append(names, p.Name)
		}
		b.WriteString("In the channel: ")
		b.WriteString(strings.Join(names, ", "))
		b.WriteString(".\n")
	}

	if lines := historyLines(snap.RecentTurns); len(lines) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, l := range lines {
			b.WriteString(l)
			b.WriteByte('\n')
		}
	}

	if now.Sub(snap.StartedAt) < joinWindow && isGreeting(transcript) {
		b.WriteString("The bot just joined the channel; a greeting aimed at the room often includes it.\n")
	}

	b.WriteString(speakerName)
	b.WriteString(" said: \"")
	b.WriteString(strings.TrimSpace(transcript))
	b.WriteString("\"\nShould the bot reply?")
	return b.String()
}

// historyLines renders the recent turns oldest-first, dropping oldest
// entries until the character budget holds.
func historyLines(turns []HistoryTurn) []string {
	var (
		lines []string
		total int
	)
	for i := len(turns) - 1; i >= 0; i-- {
		line := turns[i].SpeakerName + ": " + turns[i].Text
		if total+len(line) > historyCharBudget {
			break
		}
		total += len(line)
		lines = append(lines, line)
	}
	// Collected newest-first; present in spoken order.
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines
}

// isGreeting reports whether the first word of transcript is a common
// greeting token.
func isGreeting(transcript string) bool {
	fields := strings.Fields(strings.ToLower(transcript))
	if len(fields) == 0 {
		return false
	}
	first := strings.Trim(fields[0], ".,!?")
	_, ok := greetingTokens[first]
	return ok
}
