package turn

import "testing"

func TestDetectAddress(t *testing.T) {
	t.Parallel()

	opts := AddressOptions{
		BotUserID: "9001",
		BotName:   "clanker",
		WakeWords: []string{"clank"},
	}

	tests := []struct {
		name       string
		transcript string
		want       bool
		wantKind   AddressKind
	}{
		{"mention marker", "hey <@9001> you there", true, AddressMention},
		{"nick mention marker", "<@!9001> wake up", true, AddressMention},
		{"exact name", "clanker what do you think", true, AddressName},
		{"exact name cased", "Clanker, thoughts?", true, AddressName},
		{"at-name", "@clanker stop", true, AddressName},
		{"wake word", "clank are you listening", true, AddressWakeWord},
		{"phonetic variant", "klanker what was that", true, AddressWakeWord},
		{"misheard split tokens", "hey clan ker say something", true, AddressWakeWord},
		{"unaddressed", "that round was rough", false, AddressNone},
		{"similar but different word", "the clock is broken", false, AddressNone},
		{"empty", "", false, AddressNone},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, kind := DetectAddress(tc.transcript, opts)
			if got != tc.want || kind != tc.wantKind {
				t.Errorf("DetectAddress(%q) = (%v, %q), want (%v, %q)",
					tc.transcript, got, kind, tc.want, tc.wantKind)
			}
		})
	}
}

func TestDetectAddress_NoTargetsConfigured(t *testing.T) {
	t.Parallel()

	got, kind := DetectAddress("clanker hello", AddressOptions{})
	if got || kind != AddressNone {
		t.Errorf("DetectAddress with empty options = (%v, %q), want (false, none)", got, kind)
	}
}
