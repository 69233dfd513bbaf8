// Package poller implements the watermark-driven PacketStore poll loop and
// re-injection of frames addressed to the local host.
package poller

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/dradis-net/rdbtunnel/internal/core/domain"
	"github.com/dradis-net/rdbtunnel/internal/core/ports"
	"github.com/dradis-net/rdbtunnel/internal/telemetry"
)

// DefaultPollInterval is the poller's default tick interval.
const DefaultPollInterval = time.Second

// RetryAttempts/RetryDelay gate an opt-in bounded injection retry, disabled
// by default to preserve at-most-once semantics: a failed send is not
// retried unless explicitly enabled.
const (
	RetryAttempts = 3
	RetryDelay    = 100 * time.Millisecond
)

// Poller owns one Watermark per local address and drives PollSince/inject.
type Poller struct {
	store    ports.PacketStore
	sink     ports.FrameSink
	localIP  net.IP
	interval time.Duration

	// wm is mutex-free save for its own atomic counters, because the poll
	// loop itself (LastTimestamp/IsFirst) runs on a single task.
	wm domain.Watermark

	// RetryEnabled opts into the bounded retry described above; off by
	// default.
	RetryEnabled bool
}

// New constructs a Poller for localIP, polling store and re-injecting
// through sink.
func New(store ports.PacketStore, sink ports.FrameSink, localIP net.IP) *Poller {
	return &Poller{
		store:    store,
		sink:     sink,
		localIP:  localIP,
		interval: DefaultPollInterval,
		wm:       domain.Watermark{IsFirst: true},
	}
}

// WithInterval overrides the poll tick, for tests.
func (p *Poller) WithInterval(d time.Duration) *Poller {
	p.interval = d
	return p
}

// PacketsSent/PacketsFailed expose the relaxed injection counters, for
// telemetry only.
func (p *Poller) PacketsSent() uint64   { return p.wm.PacketsSent.Load() }
func (p *Poller) PacketsFailed() uint64 { return p.wm.PacketsFailed.Load() }

func isBroadcastOrMulticast(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		if v4.Equal(net.IPv4bcast) || v4.IsMulticast() {
			return true
		}
		return false
	}
	return ip.IsMulticast()
}

func (p *Poller) shouldProcess(row domain.StoredRow, dstIP net.IP) bool {
	return dstIP.Equal(p.localIP) || isBroadcastOrMulticast(dstIP)
}

// Poll fetches rows addressed to localIP since the current watermark,
// applies the first-call bootstrap window / transient-nil lookback rules,
// and advances the watermark to the max timestamp observed.
func (p *Poller) Poll(ctx context.Context) ([]domain.StoredRow, error) {
	window := time.Duration(0)
	since := p.wm.LastTimestamp

	switch {
	case p.wm.IsFirst:
		window = domain.BootstrapWindow
		since = time.Time{}
	case p.wm.LastTimestamp.IsZero():
		// Transient nil watermark after the first poll: fall back to a
		// short lookback rather than replaying the whole history.
		since = time.Now().Add(-domain.TransientLookback)
		window = domain.TransientLookback
	}

	rows, err := p.store.PollSince(ctx, p.localIP, since, window)
	if err != nil {
		// Jump the watermark forward to now rather than leaving it where it
		// was: a transient DB fault must not turn into a flood-replay of
		// everything since the last successful poll once the store recovers.
		p.wm.LastTimestamp = time.Now()
		p.wm.IsFirst = false
		return nil, fmt.Errorf("%w: %v", domain.ErrTransientStore, err)
	}

	var latest time.Time
	out := rows[:0:0]
	for _, r := range rows {
		if !p.shouldProcess(r, r.DstIP.Addr) {
			continue
		}
		out = append(out, r)
		if r.Timestamp.After(latest) {
			latest = r.Timestamp
		}
	}
	if !latest.IsZero() {
		p.wm.LastTimestamp = latest
	} else if p.wm.IsFirst {
		// Bootstrap call returned nothing: seed the watermark at now so the
		// next call polls strictly forward instead of replaying the window.
		p.wm.LastTimestamp = time.Now()
	}
	p.wm.IsFirst = false
	telemetry.PacketsPolled.WithLabelValues().Add(float64(len(out)))
	return out, nil
}

// PollAndSend polls once and re-injects every returned row through sink,
// counting successes/failures. Oversize rows (>1500 bytes) are skipped and
// counted as failures.
func (p *Poller) PollAndSend(ctx context.Context) error {
	rows, err := p.Poll(ctx)
	if err != nil {
		return err
	}

	for _, row := range rows {
		if len(row.RawPacket) > domain.MaxFrameSize {
			p.wm.PacketsFailed.Add(1)
			continue
		}
		if err := p.send(ctx, row.RawPacket); err != nil {
			log.Printf("poller: injection failed: %v", err)
			p.wm.PacketsFailed.Add(1)
			continue
		}
		p.wm.PacketsSent.Add(1)
	}
	return nil
}

func (p *Poller) send(ctx context.Context, raw []byte) error {
	if !p.RetryEnabled {
		return p.sink.WriteFrame(ctx, raw)
	}
	var lastErr error
	for attempt := 0; attempt < RetryAttempts; attempt++ {
		if lastErr = p.sink.WriteFrame(ctx, raw); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(RetryDelay):
		}
	}
	return lastErr
}

// Run ticks PollAndSend every interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.PollAndSend(ctx); err != nil {
				log.Printf("poller: poll failed: %v", err)
			}
		}
	}
}
