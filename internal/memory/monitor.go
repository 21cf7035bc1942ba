// Package memory samples process memory on a fixed interval and applies
// graduated cleanup through the room manager. This is cooperative
// backpressure: it narrows the timing window under pressure but never
// rejects new connections preemptively.
package memory

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/mossy-p/collab-signaling/internal/room"
)

// Sampler reports current process memory usage in bytes. Injected so
// tests can simulate pressure.
type Sampler func() uint64

// HeapSampler reads live heap usage from the runtime.
func HeapSampler() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.Alloc
}

// Monitor watches memory against two thresholds. At WARNING it runs an
// out-of-cycle sweep; at CRITICAL it additionally force-closes every
// idle room and asks the runtime to return memory to the OS.
type Monitor struct {
	rooms    *room.Manager
	sample   Sampler
	interval time.Duration
	warn     uint64
	critical uint64
	now      func() time.Time
	log      *zap.Logger
}

func NewMonitor(rooms *room.Manager, interval time.Duration, warnMB, criticalMB int, log *zap.Logger) *Monitor {
	return &Monitor{
		rooms:    rooms,
		sample:   HeapSampler,
		interval: interval,
		warn:     uint64(warnMB) * 1024 * 1024,
		critical: uint64(criticalMB) * 1024 * 1024,
		now:      time.Now,
		log:      log,
	}
}

// SetSampler overrides the memory source. Intended for tests.
func (m *Monitor) SetSampler(s Sampler) {
	m.sample = s
}

// SetClock overrides the monitor's time source. Intended for tests.
func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
}

// Run samples on the configured interval until the context is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check()
		}
	}
}

// Check performs one sample and reacts to the thresholds.
func (m *Monitor) Check() {
	used := m.sample()

	switch {
	case used >= m.critical:
		m.log.Warn("memory critical, forcing cleanup",
			zap.Uint64("usedBytes", used),
			zap.Uint64("criticalBytes", m.critical))
		m.rooms.SweepStale(m.now())
		closed := m.rooms.ForceCloseIdle()
		m.log.Info("forced idle room closure", zap.Int("roomsClosed", closed))
		debug.FreeOSMemory()

	case used >= m.warn:
		m.log.Warn("memory warning, sweeping early",
			zap.Uint64("usedBytes", used),
			zap.Uint64("warnBytes", m.warn))
		m.rooms.SweepStale(m.now())
	}
}
