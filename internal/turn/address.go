package turn

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// Jaro-Winkler floors for wake-word matching. Phonetic candidates
// (Double Metaphone overlap) accept looser string similarity than pure
// fuzzy matches.
const (
	phoneticThreshold = 0.70
	fuzzyThreshold    = 0.85
)

// AddressKind says how a transcript addressed the bot.
type AddressKind string

const (
	AddressNone     AddressKind = ""
	AddressMention  AddressKind = "mention"
	AddressName     AddressKind = "name"
	AddressWakeWord AddressKind = "wake_word"
)

// AddressOptions configures direct-address detection for one
// evaluation.
type AddressOptions struct {
	// BotUserID enables explicit mention-marker matching ("<@id>").
	BotUserID string

	// BotName is the display name the bot answers to.
	BotName string

	// WakeWords are additional address words, including informal
	// variants.
	WakeWords []string
}

// DetectAddress reports whether transcript directly addresses the bot
// and how. Matching covers the explicit mention marker, exact name and
// wake-word tokens, and phonetic or misspelled variants of the name —
// including a variant split across two adjacent tokens ("clan ker").
func DetectAddress(transcript string, opts AddressOptions) (bool, AddressKind) {
	t := strings.TrimSpace(transcript)
	if t == "" {
		return false, AddressNone
	}

	if opts.BotUserID != "" {
		if strings.Contains(t, "<@"+opts.BotUserID+">") || strings.Contains(t, "<@!"+opts.BotUserID+">") {
			return true, AddressMention
		}
	}

	lower := strings.ToLower(t)
	tokens := addressTokens(lower)
	name := strings.ToLower(strings.TrimSpace(opts.BotName))

	// Exact token matches first.
	for _, tok := range tokens {
		if name != "" && (tok == name || tok == "@"+name) {
			return true, AddressName
		}
		for _, w := range opts.WakeWords {
			if tok == strings.ToLower(strings.TrimSpace(w)) {
				return true, AddressWakeWord
			}
		}
	}

	// Phonetic variants of the name and wake words, over single tokens
	// and adjacent-token merges.
	targets := make([]string, 0, len(opts.WakeWords)+1)
	if name != "" {
		targets = append(targets, name)
	}
	for _, w := range opts.WakeWords {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			targets = append(targets, w)
		}
	}
	if len(targets) == 0 {
		return false, AddressNone
	}

	candidates := tokens
	for i := 0; i+1 < len(tokens); i++ {
		candidates = append(candidates, tokens[i]+tokens[i+1])
	}

	for _, cand := range candidates {
		if matchesVariant(cand, targets) {
			return true, AddressWakeWord
		}
	}
	return false, AddressNone
}

// addressTokens splits lower into words stripped of punctuation,
// keeping the "@" prefix that marks an informal mention.
func addressTokens(lower string) []string {
	fields := strings.Fields(lower)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		tok := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '@' {
				return r
			}
			return -1
		}, f)
		if tok != "" && tok != "@" {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// matchesVariant reports whether cand is a phonetic or close-spelled
// variant of any target. Double Metaphone overlap gates the looser
// similarity floor; without overlap the stricter fuzzy floor applies.
func matchesVariant(cand string, targets []string) bool {
	cand = strings.TrimPrefix(cand, "@")
	if len(cand) < 3 {
		return false
	}

	cp, cs := matchr.DoubleMetaphone(cand)
	for _, target := range targets {
		tp, ts := matchr.DoubleMetaphone(target)
		phonetic := codeOverlap(cp, cs, tp, ts)

		score := matchr.JaroWinkler(cand, target, false)
		if phonetic && score >= phoneticThreshold {
			return true
		}
		if score >= fuzzyThreshold {
			return true
		}
	}
	return false
}

// codeOverlap reports whether the two Double Metaphone code pairs share
// a non-empty code.
func codeOverlap(ap, as, bp, bs string) bool {
	for _, a := range [2]string{ap, as} {
		if a == "" {
			continue
		}
		if a == bp || (bs != "" && a == bs) {
			return true
		}
	}
	return false
}
