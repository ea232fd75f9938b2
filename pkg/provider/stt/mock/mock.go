// Package mock provides a hand-written mock implementation of
// [stt.Transcriber] for tests.
package mock

import (
	"context"
	"sync"
)

// Call records the arguments of one Transcribe invocation.
type Call struct {
	PCMLen       int
	Model        string
	SampleRateHz int
}

// Transcriber is a scriptable stt.Transcriber. Results are consumed in
// order; once exhausted the last one repeats. All methods are safe for
// concurrent use.
type Transcriber struct {
	mu sync.Mutex

	// Texts are returned by successive Transcribe calls, in order.
	Texts []string

	// Errs are returned by successive Transcribe calls, in order. A nil
	// entry means the corresponding call succeeds.
	Errs []error

	// CallLog records every invocation.
	CallLog []Call

	calls int
}

// Transcribe implements stt.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte, model string, sampleRateHz int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.CallLog = append(t.CallLog, Call{PCMLen: len(pcm), Model: model, SampleRateHz: sampleRateHz})
	i := t.calls
	t.calls++

	if i < len(t.Errs) && t.Errs[i] != nil {
		return "", t.Errs[i]
	}
	if len(t.Texts) == 0 {
		return "", nil
	}
	if i >= len(t.Texts) {
		i = len(t.Texts) - 1
	}
	return t.Texts[i], nil
}

// Calls returns the number of Transcribe invocations so far.
func (t *Transcriber) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}
