package transcribe

import "sync"

// EmptyStreakThreshold is how many consecutive empty transcription
// results a session tolerates before the failure escalates from a
// routine log entry to a hard error event.
const EmptyStreakThreshold = 3

// Escalator tracks consecutive empty-transcript outcomes per session.
// Safe for concurrent use.
type Escalator struct {
	mu        sync.Mutex
	streak    int
	threshold int
}

// NewEscalator returns an escalator with the default threshold.
func NewEscalator() *Escalator {
	return &Escalator{threshold: EmptyStreakThreshold}
}

// RecordEmpty notes one empty result and reports whether the streak
// has reached the escalation threshold.
func (e *Escalator) RecordEmpty() (escalate bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.streak++
	return e.streak >= e.threshold
}

// RecordSuccess resets the streak.
func (e *Escalator) RecordSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.streak = 0
}

// Streak returns the current consecutive-empty count.
func (e *Escalator) Streak() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streak
}
