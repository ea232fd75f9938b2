package turn

import (
	"strings"
	"unicode"
)

// Thresholds for the low-signal filter. An utterance below both floors
// carries too little content to justify a classifier call.
const (
	minWords        = 3
	minAlnumRunes   = 6
	shortAlnumFloor = 10
)

// ackTokens are short acknowledgements ("yo", "yeah", …). On their own
// they are still low-signal; inside an engaged exchange (direct address
// or the focused-speaker window) an exact match counts as a real turn.
var ackTokens = map[string]struct{}{
	"yo": {}, "hi": {}, "hey": {}, "sup": {}, "hello": {},
	"yeah": {}, "yep": {}, "nah": {}, "nope": {}, "ok": {}, "okay": {},
	"thanks": {}, "thx": {}, "bye": {},
}

// interrogatives open questions that deserve evaluation even when
// short.
var interrogatives = map[string]struct{}{
	"what": {}, "who": {}, "where": {}, "when": {}, "why": {}, "how": {},
	"which": {}, "whose": {}, "can": {}, "could": {}, "should": {},
	"would": {}, "will": {}, "do": {}, "does": {}, "did": {}, "is": {},
	"are": {}, "was": {}, "were": {}, "am": {},
}

// questionMarks covers Latin and common non-Latin question punctuation.
const questionMarks = "?？¿؟;"

// IsLowSignal reports whether transcript is too short or unclear to be
// worth an admission evaluation. A transcript is high-signal when it
// contains question punctuation, begins with an interrogative word, or
// clears the minimum word and alphanumeric floors.
func IsLowSignal(transcript string) bool {
	t := strings.TrimSpace(transcript)
	if t == "" {
		return true
	}

	if strings.ContainsAny(t, questionMarks) {
		return false
	}

	lower := strings.ToLower(t)
	words := strings.Fields(lower)
	first := strings.Trim(words[0], ".,!")
	if _, ok := interrogatives[first]; ok {
		return false
	}

	alnum := countAlnum(lower)
	if len(words) >= minWords && alnum >= minAlnumRunes {
		return false
	}

	// A dense single- or two-word utterance can still carry content
	// ("screenshare", "rematch anyone").
	return alnum < shortAlnumFloor
}

// IsAck reports whether transcript is exactly one short acknowledgement
// token, ignoring case and trailing punctuation.
func IsAck(transcript string) bool {
	t := strings.ToLower(strings.TrimSpace(transcript))
	t = strings.Trim(t, ".,!")
	_, ok := ackTokens[t]
	return ok
}

// countAlnum returns the number of letter or digit runes in s.
func countAlnum(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			n++
		}
	}
	return n
}
