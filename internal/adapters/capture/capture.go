// Package capture adapts google/gopacket/pcap to ports.FrameSource and
// ports.FrameSink: pcap.OpenLive for capture plus a raw-socket injection
// path with a pcap fallback. Non-Ethernet channels are rejected at Open.
package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/dradis-net/rdbtunnel/internal/core/domain"
)

// SnapLen bounds captured frame length.
const SnapLen = 65536

// PcapSource captures frames from a live interface. Non-Ethernet link types
// are rejected at Open.
type PcapSource struct {
	handle  *pcap.Handle
	packets chan gopacket.Packet
}

// NewPcapSource constructs an unopened PcapSource.
func NewPcapSource() *PcapSource {
	return &PcapSource{}
}

// Open begins capture on ifaceName. It is an error if the interface's link
// type is not Ethernet.
func (s *PcapSource) Open(ctx context.Context, ifaceName string) error {
	handle, err := pcap.OpenLive(ifaceName, SnapLen, true, pcap.BlockForever)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", domain.ErrCapture, ifaceName, err)
	}
	if handle.LinkType() != layers.LinkTypeEthernet {
		handle.Close()
		return fmt.Errorf("%w: %s is link type %s", domain.ErrNonEthernetChannel, ifaceName, handle.LinkType())
	}
	s.handle = handle
	source := gopacket.NewPacketSource(handle, handle.LinkType())
	s.packets = source.Packets()
	return nil
}

// ReadFrame blocks until a frame arrives, ctx ends, or the capture source
// closes.
func (s *PcapSource) ReadFrame(ctx context.Context) (domain.Frame, time.Time, error) {
	select {
	case <-ctx.Done():
		return nil, time.Time{}, ctx.Err()
	case pkt, ok := <-s.packets:
		if !ok {
			return nil, time.Time{}, fmt.Errorf("%w: capture source closed", domain.ErrCapture)
		}
		md := pkt.Metadata()
		ts := time.Now()
		if md != nil && !md.Timestamp.IsZero() {
			ts = md.Timestamp
		}
		return domain.Frame(append([]byte(nil), pkt.Data()...)), ts, nil
	}
}

// Close releases the pcap handle.
func (s *PcapSource) Close() error {
	if s.handle != nil {
		s.handle.Close()
	}
	return nil
}
