//go:build linux

package capture

import (
	"fmt"
	"net"
	"syscall"
)

// rawInjector sends frames through an AF_PACKET/SOCK_RAW socket bound to one
// interface.
type rawInjector struct {
	fd      int
	ifIndex int
}

func newRawInjector(iface string) (frameInjector, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("interface %s not found: %w", iface, err)
	}

	fd, err := syscall.Socket(syscall.AF_PACKET, syscall.SOCK_RAW, 0)
	if err != nil {
		return nil, fmt.Errorf("socket creation failed: %w", err)
	}

	ll := syscall.SockaddrLinklayer{Ifindex: ifi.Index}
	if err := syscall.Bind(fd, &ll); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("bind failed: %w", err)
	}

	return &rawInjector{fd: fd, ifIndex: ifi.Index}, nil
}

func (r *rawInjector) Inject(packet []byte) error {
	ll := syscall.SockaddrLinklayer{Ifindex: r.ifIndex}
	return syscall.Sendto(r.fd, packet, 0, &ll)
}

func (r *rawInjector) Close() error {
	return syscall.Close(r.fd)
}
