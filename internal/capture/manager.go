package capture

import (
	"context"
	"sync"
	"time"

	"github.com/chimebot/chime/internal/observe"
	"github.com/chimebot/chime/pkg/audio"
)

// rescanInterval is how often the manager re-snapshots the connection's
// input streams to pick up newly joined speakers.
const rescanInterval = time.Second

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRescanInterval overrides the stream rescan cadence.
func WithRescanInterval(d time.Duration) ManagerOption {
	return func(m *Manager) { m.rescan = d }
}

// WithSegmenterOptions forwards options to every spawned segmenter.
func WithSegmenterOptions(opts ...SegmenterOption) ManagerOption {
	return func(m *Manager) { m.segOpts = opts }
}

// Manager runs one Segmenter per speaker stream of a voice connection.
type Manager struct {
	conn         audio.Connection
	sink         Sink
	sampleRateHz int
	rescan       time.Duration
	segOpts      []SegmenterOption

	mu      sync.Mutex
	running map[string]bool
	wg      sync.WaitGroup
}

// NewManager returns a manager that segments every speaker on conn into
// sink, normalising to mono PCM at sampleRateHz.
func NewManager(conn audio.Connection, sink Sink, sampleRateHz int, opts ...ManagerOption) *Manager {
	m := &Manager{
		conn:         conn,
		sink:         sink,
		sampleRateHz: sampleRateHz,
		rescan:       rescanInterval,
		running:      make(map[string]bool),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Run rescans the connection for new speaker streams until ctx is
// cancelled, then waits for every segmenter to flush and exit.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.rescan)
	defer ticker.Stop()

	m.spawnNew(ctx)
	for {
		select {
		case <-ctx.Done():
			m.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			m.spawnNew(ctx)
		}
	}
}

func (m *Manager) spawnNew(ctx context.Context) {
	for userID, frames := range m.conn.InputStreams() {
		m.mu.Lock()
		if m.running[userID] {
			m.mu.Unlock()
			continue
		}
		m.running[userID] = true
		m.mu.Unlock()

		observe.Logger(ctx).Debug("capture stream attached", "user_id", userID)
		m.wg.Add(1)
		go func(userID string, frames <-chan audio.Frame) {
			defer m.wg.Done()
			NewSegmenter(userID, m.sink, m.sampleRateHz, m.segOpts...).Run(ctx, frames)
			m.mu.Lock()
			delete(m.running, userID)
			m.mu.Unlock()
		}(userID, frames)
	}
}
