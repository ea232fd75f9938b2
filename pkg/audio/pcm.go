// Package audio provides small PCM utilities shared by the capture,
// playback, and transcription paths.
//
// All helpers assume 16-bit little-endian PCM unless stated otherwise —
// the format Discord voice decodes to and the format the realtime
// providers accept.
package audio

import "time"

// BytesPerSample is the size of one 16-bit PCM sample.
const BytesPerSample = 2

// PCMDuration returns the playback duration of a 16-bit mono PCM clip of
// byteLen bytes at the given sample rate. A non-positive sample rate
// returns zero.
func PCMDuration(byteLen int, sampleRateHz int) time.Duration {
	if sampleRateHz <= 0 || byteLen <= 0 {
		return 0
	}
	samples := byteLen / BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRateHz)
}

// Concat returns a new buffer containing a followed by b. Neither input is
// modified; the result never aliases either argument, so callers may keep
// mutating their own copies.
func Concat(a, b []byte) []byte {
	out := make([]byte, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}
