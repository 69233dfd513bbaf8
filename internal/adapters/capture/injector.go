package capture

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/dradis-net/rdbtunnel/internal/core/domain"
	"github.com/dradis-net/rdbtunnel/internal/telemetry"
)

// frameInjector is the minimal mechanism Injector delegates raw sends to.
type frameInjector interface {
	Inject(packet []byte) error
	Close() error
}

// Injector is a ports.FrameSink backed by a raw AF_PACKET socket where
// available, falling back to pcap injection otherwise.
type Injector struct {
	mu        sync.Mutex
	mechanism frameInjector
	iface     string
}

// NewInjector constructs an unopened Injector.
func NewInjector() *Injector {
	return &Injector{}
}

// Open prepares the injector for ifaceName, preferring a raw socket and
// falling back to pcap when raw sockets are unavailable (non-Linux, or
// insufficient privilege).
func (i *Injector) Open(ctx context.Context, ifaceName string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.iface = ifaceName

	mech, err := newRawInjector(ifaceName)
	if err != nil {
		log.Printf("capture: raw injection unavailable on %s (%v), falling back to pcap", ifaceName, err)
		mech, err = newPcapInjector(ifaceName)
		if err != nil {
			return fmt.Errorf("%w: injector init failed on %s: %v", domain.ErrCapture, ifaceName, err)
		}
	}
	i.mechanism = mech
	return nil
}

// WriteFrame emits a single contiguous frame, rejecting anything over
// domain.MaxFrameSize before attempting the send.
func (i *Injector) WriteFrame(ctx context.Context, raw []byte) error {
	if len(raw) > domain.MaxFrameSize {
		telemetry.InjectionErrors.WithLabelValues(i.iface).Inc()
		return fmt.Errorf("frame of %d bytes exceeds max %d", len(raw), domain.MaxFrameSize)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.mechanism == nil {
		telemetry.InjectionErrors.WithLabelValues(i.iface).Inc()
		return fmt.Errorf("%w: injector not open", domain.ErrCapture)
	}
	telemetry.InjectionsTotal.WithLabelValues(i.iface).Inc()
	if err := i.mechanism.Inject(raw); err != nil {
		telemetry.InjectionErrors.WithLabelValues(i.iface).Inc()
		return err
	}
	return nil
}

// Close releases the underlying injection mechanism.
func (i *Injector) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.mechanism != nil {
		return i.mechanism.Close()
	}
	return nil
}
