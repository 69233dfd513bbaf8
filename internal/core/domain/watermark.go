package domain

import (
	"sync/atomic"
	"time"
)

// Watermark tracks the poller's progress through the shared store.
// LastTimestamp/IsFirst are only ever touched by the single poll loop;
// PacketsSent/PacketsFailed are atomic.Uint64 so the Poller's getters can
// read them from another goroutine while PollAndSend updates them. The
// counters are observability only, never synchronization.
type Watermark struct {
	LastTimestamp time.Time
	IsFirst       bool
	PacketsSent   atomic.Uint64
	PacketsFailed atomic.Uint64
}

// BootstrapWindow is the lookback window used on the very first poll.
const BootstrapWindow = 30 * time.Second

// TransientLookback is the lookback window used when LastTimestamp is
// unexpectedly zero after the first poll (should not normally happen).
const TransientLookback = 5 * time.Second
