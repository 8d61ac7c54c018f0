package consensus

import (
	"sync"
	"sync/atomic"
	"time"
)

// timeoutChannelSize is the buffer size of the tock channel.
const timeoutChannelSize = 16

// TimeoutInfo describes one scheduled step deadline.
type TimeoutInfo struct {
	Round    uint64
	Step     RoundStep
	Duration time.Duration
	seq      uint64
}

// TimeoutTicker keeps at most one outstanding step deadline. Scheduling a new
// deadline replaces the previous one; a deadline that already fired into the
// channel before being replaced is recognized as stale by IsCurrent.
type TimeoutTicker struct {
	mu      sync.Mutex
	config  TimeoutConfig
	timer   *time.Timer
	seq     uint64
	pending *TimeoutInfo
	running bool

	tockCh  chan TimeoutInfo
	dropped atomic.Uint64
}

// NewTimeoutTicker creates a stopped TimeoutTicker.
func NewTimeoutTicker(config TimeoutConfig) *TimeoutTicker {
	return &TimeoutTicker{
		config: config,
		tockCh: make(chan TimeoutInfo, timeoutChannelSize),
	}
}

// Start arms the most recently scheduled deadline, if any. Deadlines
// scheduled before Start are held until then.
func (tt *TimeoutTicker) Start() {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	if tt.running {
		return
	}
	tt.running = true
	if tt.pending != nil {
		tt.arm(*tt.pending)
		tt.pending = nil
	}
}

// Stop cancels the outstanding deadline.
func (tt *TimeoutTicker) Stop() {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	tt.running = false
	tt.seq++
	if tt.timer != nil {
		tt.timer.Stop()
		tt.timer = nil
	}
}

// Chan returns the channel that delivers fired deadlines.
func (tt *TimeoutTicker) Chan() <-chan TimeoutInfo {
	return tt.tockCh
}

// Schedule replaces the outstanding deadline with one for (round, step).
func (tt *TimeoutTicker) Schedule(round uint64, step RoundStep) TimeoutInfo {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	if tt.timer != nil {
		tt.timer.Stop()
		tt.timer = nil
	}
	tt.seq++
	ti := TimeoutInfo{
		Round:    round,
		Step:     step,
		Duration: tt.config.For(step),
		seq:      tt.seq,
	}
	if !tt.running {
		tt.pending = &ti
		return ti
	}
	tt.arm(ti)
	return ti
}

// IsCurrent reports whether ti is the latest scheduled deadline.
func (tt *TimeoutTicker) IsCurrent(ti TimeoutInfo) bool {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	return tt.running && ti.seq == tt.seq
}

// Dropped returns the number of fired deadlines lost to a full channel.
func (tt *TimeoutTicker) Dropped() uint64 {
	return tt.dropped.Load()
}

// arm must be called with tt.mu held.
func (tt *TimeoutTicker) arm(ti TimeoutInfo) {
	tt.timer = time.AfterFunc(ti.Duration, func() {
		select {
		case tt.tockCh <- ti:
		default:
			tt.dropped.Add(1)
		}
	})
}
