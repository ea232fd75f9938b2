package realtime

import (
	"sync"
	"time"
)

const (
	// outboundHistorySize is the number of recent outbound wire events
	// retained per client for diagnostics.
	outboundHistorySize = 32

	// outboundPreviewLen caps the payload preview stored per record so a
	// burst of audio appends cannot pin large buffers.
	outboundPreviewLen = 96
)

// OutboundRecord describes one wire event sent to the provider.
type OutboundRecord struct {
	// Kind is the provider-level event type ("input_audio_buffer.append",
	// "realtimeInput", …).
	Kind string

	// Preview is a truncated copy of the payload, at most
	// [outboundPreviewLen] bytes rendered as text.
	Preview string

	// SentAt is when the event was written to the socket.
	SentAt time.Time
}

// OutboundLog is a bounded ring of OutboundRecord shared by the adapter
// implementations. All methods are safe for concurrent use.
type OutboundLog struct {
	mu      sync.Mutex
	records []OutboundRecord
	pos     int
	full    bool
}

// NewOutboundLog returns an empty ring sized to [outboundHistorySize].
func NewOutboundLog() *OutboundLog {
	return &OutboundLog{records: make([]OutboundRecord, outboundHistorySize)}
}

// Record appends a wire event to the ring, truncating the preview.
func (l *OutboundLog) Record(kind string, payload string) {
	if len(payload) > outboundPreviewLen {
		payload = payload[:outboundPreviewLen] + "…"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.records[l.pos] = OutboundRecord{Kind: kind, Preview: payload, SentAt: time.Now()}
	l.pos = (l.pos + 1) % len(l.records)
	if l.pos == 0 {
		l.full = true
	}
}

// Snapshot returns the retained records in send order, oldest first.
func (l *OutboundLog) Snapshot() []OutboundRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.full {
		out := make([]OutboundRecord, l.pos)
		copy(out, l.records[:l.pos])
		return out
	}

	out := make([]OutboundRecord, 0, len(l.records))
	for i := range l.records {
		out = append(out, l.records[(l.pos+i)%len(l.records)])
	}
	return out
}
