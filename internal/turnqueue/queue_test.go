package turnqueue

import (
	"bytes"
	"testing"
	"time"
)

var base = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func TestRequest_Merge(t *testing.T) {
	t.Parallel()

	older := Request{
		UserID:     "u1",
		Audio:      []byte{1, 2},
		Reason:     CaptureSpeakingEnd,
		QueuedAt:   base,
		Transcript: "first part",
	}
	newer := Request{
		UserID:          "u2",
		Audio:           []byte{3, 4},
		Reason:          CaptureIdleTimeout,
		QueuedAt:        base.Add(time.Second),
		Transcript:      "second part",
		DirectAddressed: true,
	}

	merged := older.Merge(newer)

	if !bytes.Equal(merged.Audio, []byte{1, 2, 3, 4}) {
		t.Errorf("merged audio = %v, want byte-wise concatenation", merged.Audio)
	}
	if merged.UserID != "u2" || merged.Reason != CaptureIdleTimeout {
		t.Errorf("merged metadata = %q/%q, want the newer request's", merged.UserID, merged.Reason)
	}
	if merged.Transcript != "first part second part" {
		t.Errorf("merged transcript = %q", merged.Transcript)
	}
	if !merged.DirectAddressed {
		t.Error("direct address must survive the merge")
	}
	if !merged.QueuedAt.Equal(newer.QueuedAt) {
		t.Errorf("merged QueuedAt = %v, want the newer timestamp", merged.QueuedAt)
	}

	// Owned transform: the inputs stay untouched.
	if !bytes.Equal(older.Audio, []byte{1, 2}) || !bytes.Equal(newer.Audio, []byte{3, 4}) {
		t.Error("Merge mutated an input")
	}
}

func TestQueue_CoalescesSameSpeakerBurst(t *testing.T) {
	t.Parallel()

	q := NewQueue(WithQueueClock(func() time.Time { return base }))

	q.Enqueue(Request{UserID: "u1", Audio: []byte{1, 2}})
	res := q.Enqueue(Request{UserID: "u1", Audio: []byte{3, 4}})

	if !res.Coalesced {
		t.Error("second back-to-back enqueue should coalesce")
	}
	if q.Len() != 1 {
		t.Fatalf("queue length = %d, want 1", q.Len())
	}

	head, ok := q.Drain()
	if !ok {
		t.Fatal("Drain returned empty")
	}
	if !bytes.Equal(head.Audio, []byte{1, 2, 3, 4}) {
		t.Errorf("coalesced audio = %v, want concatenation of both inputs", head.Audio)
	}
}

func TestQueue_KeepsDistinctSpeakersSeparate(t *testing.T) {
	t.Parallel()

	q := NewQueue(WithQueueClock(func() time.Time { return base }))

	q.Enqueue(Request{UserID: "u1", Audio: []byte{1, 2}})
	res := q.Enqueue(Request{UserID: "u2", Audio: []byte{3, 4}})

	if res.Coalesced {
		t.Error("a different speaker's turn must not merge into the tail")
	}
	if q.Len() != 2 {
		t.Fatalf("queue length = %d, want 2 distinct entries", q.Len())
	}

	for _, want := range []string{"u1", "u2"} {
		got, ok := q.Drain()
		if !ok {
			t.Fatalf("queue ran dry before %q", want)
		}
		if got.UserID != want {
			t.Errorf("drained %q, want %q", got.UserID, want)
		}
	}
}

func TestQueue_CapacityEvictsOldest(t *testing.T) {
	t.Parallel()

	q := NewQueue(WithQueueClock(func() time.Time { return base }))

	users := []string{"u1", "u2", "u3", "u4", "u5"}
	var evictions int
	for _, u := range users {
		res := q.Enqueue(Request{UserID: u, Audio: []byte(u)})
		if res.Evicted != nil {
			evictions++
			if res.Evicted.UserID != "u1" {
				t.Errorf("evicted %q, want the oldest u1", res.Evicted.UserID)
			}
		}
	}

	if evictions != 1 {
		t.Errorf("evictions = %d, want exactly 1", evictions)
	}
	if q.Len() != DefaultCapacity {
		t.Errorf("queue length = %d, want capacity %d", q.Len(), DefaultCapacity)
	}

	// The survivors are the most recent entries, in order.
	for _, want := range users[1:] {
		got, ok := q.Drain()
		if !ok {
			t.Fatalf("queue ran dry before %q", want)
		}
		if got.UserID != want {
			t.Errorf("drained %q, want %q", got.UserID, want)
		}
	}
}

func TestQueue_DrainSkipsStaleBehindNewer(t *testing.T) {
	t.Parallel()

	now := base
	q := NewQueue(WithQueueClock(func() time.Time { return now }))

	q.Enqueue(Request{UserID: "u1", QueuedAt: base.Add(-20 * time.Second)})
	q.Enqueue(Request{UserID: "u2", QueuedAt: base.Add(-time.Second)})

	got, ok := q.Drain()
	if !ok {
		t.Fatal("Drain returned empty")
	}
	if got.UserID != "u2" {
		t.Errorf("drained %q, want the fresh u2 with stale u1 skipped", got.UserID)
	}
	if q.Len() != 0 {
		t.Errorf("queue length = %d after drain, want 0", q.Len())
	}
}

func TestQueue_DrainKeepsLoneStaleEntry(t *testing.T) {
	t.Parallel()

	q := NewQueue(WithQueueClock(func() time.Time { return base }))
	q.Enqueue(Request{UserID: "u1", QueuedAt: base.Add(-time.Minute)})

	got, ok := q.Drain()
	if !ok || got.UserID != "u1" {
		t.Errorf("lone stale entry must still drain, got (%+v, %v)", got, ok)
	}
}

func TestQueue_DrainEmpty(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	if _, ok := q.Drain(); ok {
		t.Error("Drain on empty queue returned an entry")
	}
}

func TestQueue_Clear(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	q.Enqueue(Request{UserID: "u1"})
	q.Enqueue(Request{UserID: "u2"})
	q.Clear()
	if q.Len() != 0 {
		t.Errorf("queue length after Clear = %d, want 0", q.Len())
	}
}
