package capture

import (
	"fmt"

	"github.com/google/gopacket/pcap"
)

// ListInterfaces enumerates capture-capable interface names on the host,
// for the DeviceSelector prompt when NETWORK_INTERFACE is unset.
func ListInterfaces() ([]string, error) {
	devices, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("enumerate interfaces: %w", err)
	}

	names := make([]string, 0, len(devices))
	for _, d := range devices {
		if len(d.Addresses) == 0 && d.Name == "lo" {
			continue
		}
		names = append(names, d.Name)
	}
	return names, nil
}
