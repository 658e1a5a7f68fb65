// Package livetail keeps one SSE monitor per active pool, turning stream
// events into candidate transactions while the backfill covers history.
package livetail

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tonscope/lambo-indexer/pkg/models"
)

const reconnectDelay = 10 * time.Second

// State is the lifecycle of a single pool monitor.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Streamer is the upstream SSE surface a monitor consumes.
type Streamer interface {
	StreamTransactions(ctx context.Context, account string, connected func(), handler func(models.StreamEvent) error) error
}

// Store persists stream events as candidate transactions.
type Store interface {
	SaveStreamCandidate(ctx context.Context, poolID int64, txHash string, lt uint64, timestamp int64) (bool, error)
}

// Monitor tails the transaction stream of one pool. Disconnects reconnect
// forever with a fixed delay; only context cancellation stops the loop.
type Monitor struct {
	client Streamer
	store  Store
	pool   models.Pool

	state atomic.Int32
	saved atomic.Int64

	// Overridable in tests so reconnect loops don't sleep for real.
	delay time.Duration
}

func NewMonitor(client Streamer, store Store, pool models.Pool) *Monitor {
	return &Monitor{
		client: client,
		store:  store,
		pool:   pool,
		delay:  reconnectDelay,
	}
}

// State returns the monitor's current lifecycle state.
func (m *Monitor) State() State {
	return State(m.state.Load())
}

// Saved returns how many candidates this monitor has persisted.
func (m *Monitor) Saved() int64 {
	return m.saved.Load()
}

func (m *Monitor) setState(s State) {
	m.state.Store(int32(s))
}

// Run blocks until ctx is cancelled, reconnecting after every stream break.
func (m *Monitor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			m.setState(StateStopped)
			return
		}

		m.setState(StateConnecting)
		err := m.client.StreamTransactions(ctx, m.pool.Address, func() {
			m.setState(StateConnected)
			log.Printf("[LiveTail] Pool %s: stream connected", m.pool.Address)
		}, func(ev models.StreamEvent) error {
			return m.handleEvent(ctx, ev)
		})

		if ctx.Err() != nil {
			m.setState(StateDraining)
			log.Printf("[LiveTail] Pool %s: shutting down", m.pool.Address)
			m.setState(StateStopped)
			return
		}

		log.Printf("[LiveTail] Pool %s: stream broke (%v), reconnecting in %s",
			m.pool.Address, err, m.delay)
		m.setState(StateConnecting)
		select {
		case <-ctx.Done():
			m.setState(StateStopped)
			return
		case <-time.After(m.delay):
		}
	}
}

// handleEvent persists one stream event as a candidate row keyed by its
// event id. Events without an id or lt carry nothing actionable and are
// dropped; a failed insert is logged and the stream keeps going.
func (m *Monitor) handleEvent(ctx context.Context, ev models.StreamEvent) error {
	if ev.EventID == "" || ev.LT == 0 {
		return nil
	}
	ts := ev.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}

	inserted, err := m.store.SaveStreamCandidate(ctx, m.pool.ID, ev.EventID, ev.LT, ts)
	if err != nil {
		return err
	}
	if inserted {
		m.saved.Add(1)
		log.Printf("[LiveTail] Pool %s: candidate %s saved (lt=%d)",
			m.pool.Address, ev.EventID, ev.LT)
	}
	return nil
}

// Tail fans out one Monitor per pool and waits for all of them.
type Tail struct {
	client Streamer
	store  Store

	mu       sync.Mutex
	monitors []*Monitor
}

func New(client Streamer, store Store) *Tail {
	return &Tail{client: client, store: store}
}

// Run starts a monitor for every pool and blocks until ctx cancels them all.
func (t *Tail) Run(ctx context.Context, pools []models.Pool) {
	var wg sync.WaitGroup
	for _, pool := range pools {
		m := NewMonitor(t.client, t.store, pool)
		t.mu.Lock()
		t.monitors = append(t.monitors, m)
		t.mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Run(ctx)
		}()
	}
	wg.Wait()
}

// Monitors returns the monitors started so far, for health reporting.
func (t *Tail) Monitors() []*Monitor {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Monitor, len(t.monitors))
	copy(out, t.monitors)
	return out
}
