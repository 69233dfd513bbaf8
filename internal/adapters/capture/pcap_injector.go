package capture

import (
	"fmt"

	"github.com/google/gopacket/pcap"

	"github.com/dradis-net/rdbtunnel/internal/core/domain"
)

// pcapInjector writes frames through a dedicated pcap handle opened in write
// mode. It only exists because newRawInjector can fail for reasons that have
// nothing to do with the interface being reachable: non-Linux builds (the
// stub always errors), or a Linux host where CAP_NET_RAW was dropped before
// exec. libpcap's own injection path (pcap_sendpacket) still works in both
// cases since it shells out to whatever send mechanism the platform offers,
// so it is the fallback rather than the primary: opening it unconditionally
// would mask real raw-socket bind failures as "working" when only the
// degraded path is.
type pcapInjector struct {
	handle *pcap.Handle
}

func newPcapInjector(iface string) (frameInjector, error) {
	handle, err := pcap.OpenLive(iface, SnapLen, false, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("%w: pcap open %s: %v", domain.ErrCapture, iface, err)
	}
	return &pcapInjector{handle: handle}, nil
}

// Inject hands the frame to libpcap's send path. Unlike rawInjector.Inject,
// a failure here carries no errno: pcap_sendpacket collapses the platform's
// underlying error into a single string, so callers can't distinguish
// e.g. EMSGSIZE from a down interface the way the raw-socket path can.
func (p *pcapInjector) Inject(packet []byte) error {
	if err := p.handle.WritePacketData(packet); err != nil {
		return fmt.Errorf("%w: pcap inject: %v", domain.ErrCapture, err)
	}
	return nil
}

// Close releases the handle. pcap.Handle.Close is void, so unlike
// rawInjector.Close (a real syscall close that can fail) this can never
// report an error; it still returns one to satisfy frameInjector.
func (p *pcapInjector) Close() error {
	p.handle.Close()
	return nil
}
