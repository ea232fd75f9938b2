// Package mock provides a hand-written mock implementation of
// [tts.Synthesizer] for tests.
package mock

import (
	"context"
	"sync"
)

// Synthesizer is a scriptable tts.Synthesizer. The zero value returns a
// fixed short clip for any input. All methods are safe for concurrent use.
type Synthesizer struct {
	mu sync.Mutex

	// Clip is returned by every Synthesize call. When nil, a four-byte
	// placeholder clip is returned.
	Clip []byte

	// Err, when non-nil, is returned by every Synthesize call.
	Err error

	// Inputs records the text of every invocation.
	Inputs []string
}

// Synthesize implements tts.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.Inputs = append(s.Inputs, text)
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Clip == nil {
		return []byte{0, 0, 0, 0}, nil
	}
	out := make([]byte, len(s.Clip))
	copy(out, s.Clip)
	return out, nil
}

// SampleRate implements tts.Synthesizer.
func (s *Synthesizer) SampleRate() int { return 24000 }

// Calls returns the number of Synthesize invocations so far.
func (s *Synthesizer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Inputs)
}
