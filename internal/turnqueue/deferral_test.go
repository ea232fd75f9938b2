package turnqueue

import (
	"bytes"
	"fmt"
	"testing"
	"time"
)

func TestDeferral_FlushCoalescesAcrossSpeakers(t *testing.T) {
	t.Parallel()

	d := NewDeferral()
	d.Defer(Request{UserID: "u1", Audio: []byte{1}, Transcript: "should we ask it", QueuedAt: base})
	d.Defer(Request{UserID: "u2", Audio: []byte{2}, Transcript: "yeah go ahead", QueuedAt: base.Add(time.Second)})

	merged, outcome := d.Flush(func() bool { return true })
	if outcome != FlushReady {
		t.Fatalf("outcome = %v, want FlushReady", outcome)
	}
	if merged.Transcript != "should we ask it yeah go ahead" {
		t.Errorf("merged transcript = %q, want space-joined arrival order", merged.Transcript)
	}
	if !bytes.Equal(merged.Audio, []byte{1, 2}) {
		t.Errorf("merged audio = %v, want arrival-order concatenation", merged.Audio)
	}
	if merged.UserID != "u2" {
		t.Errorf("merged speaker = %q, want the newest", merged.UserID)
	}
	if d.Len() != 0 {
		t.Errorf("deferral length after flush = %d, want 0", d.Len())
	}
}

func TestDeferral_FlushEmpty(t *testing.T) {
	t.Parallel()

	d := NewDeferral()
	if _, outcome := d.Flush(func() bool { return true }); outcome != FlushEmpty {
		t.Errorf("outcome = %v, want FlushEmpty", outcome)
	}
}

func TestDeferral_FlushReschedulesWhileCaptureActive(t *testing.T) {
	t.Parallel()

	d := NewDeferral()
	d.Defer(Request{UserID: "u1", Transcript: "hold on"})

	if _, outcome := d.Flush(func() bool { return false }); outcome != FlushRescheduled {
		t.Fatalf("outcome = %v, want FlushRescheduled", outcome)
	}
	if d.Len() != 1 {
		t.Errorf("rescheduled flush must keep entries, length = %d", d.Len())
	}

	// Once silence is confirmed the same entries flush.
	merged, outcome := d.Flush(func() bool { return true })
	if outcome != FlushReady || merged.Transcript != "hold on" {
		t.Errorf("after silence: (%+v, %v), want FlushReady with the kept entry", merged, outcome)
	}
}

func TestDeferral_CapacityEvictsOldest(t *testing.T) {
	t.Parallel()

	d := NewDeferral(WithDeferredCapacity(2))
	if ev := d.Defer(Request{UserID: "u1"}); ev != nil {
		t.Fatalf("unexpected eviction: %+v", ev)
	}
	if ev := d.Defer(Request{UserID: "u2"}); ev != nil {
		t.Fatalf("unexpected eviction: %+v", ev)
	}
	ev := d.Defer(Request{UserID: "u3"})
	if ev == nil || ev.UserID != "u1" {
		t.Fatalf("eviction = %+v, want the oldest u1", ev)
	}
	if d.Len() != 2 {
		t.Errorf("length = %d, want capacity 2", d.Len())
	}
}

func TestDeferral_Clear(t *testing.T) {
	t.Parallel()

	d := NewDeferral()
	for i := range 3 {
		d.Defer(Request{UserID: fmt.Sprintf("u%d", i)})
	}
	d.Clear()
	if d.Len() != 0 {
		t.Errorf("length after Clear = %d, want 0", d.Len())
	}

	if _, outcome := d.Flush(func() bool { return true }); outcome != FlushEmpty {
		t.Errorf("flush after Clear = %v, want FlushEmpty", outcome)
	}
}
