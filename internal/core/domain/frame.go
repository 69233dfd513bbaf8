package domain

import (
	"net"
	"time"
)

// EtherType identifies the L3 protocol carried by an Ethernet frame.
type EtherType uint16

const (
	EtherTypeIPv4 EtherType = 0x0800
	EtherTypeARP  EtherType = 0x0806
	EtherTypeVLAN EtherType = 0x8100
	EtherTypeIPv6 EtherType = 0x86DD
)

// IANA protocol numbers recorded in IPProtocol.
const (
	ProtoICMP   = 1
	ProtoTCP    = 6
	ProtoUDP    = 17
	ProtoICMPv6 = 58
)

// MaxVLANDepth bounds recursive VLAN tag unwrapping in HeaderParser.
const MaxVLANDepth = 5

// MaxFrameSize is the largest raw frame the injector will re-inject.
const MaxFrameSize = 1500

// MinFrameSize is the smallest byte slice HeaderParser will attempt to decode.
const MinFrameSize = 14

// DefaultInsertChunkSize bounds the row count per multi-row INSERT statement
// a PacketStore issues inside a single BatchWriter transaction.
const DefaultInsertChunkSize = 1000

// Frame is a raw L2 capture. Identity is the capture moment, not content.
type Frame []byte

// ParsedFrame is the decoded view of a Frame. Raw always holds an owned copy
// of the original bytes; every other field is best-effort and zero-valued
// when the frame could not be decoded that far.
type ParsedFrame struct {
	SrcMAC        net.HardwareAddr
	DstMAC        net.HardwareAddr
	EtherType     EtherType
	SrcIP         net.IP
	DstIP         net.IP
	SrcPort       uint16
	DstPort       uint16
	IPProtocol    uint8
	PayloadOffset int
	Timestamp     time.Time
	Raw           []byte
}

// Data returns the L4 payload, i.e. Raw[PayloadOffset:].
func (p ParsedFrame) Data() []byte {
	if p.PayloadOffset < 0 || p.PayloadOffset > len(p.Raw) {
		return nil
	}
	return p.Raw[p.PayloadOffset:]
}

// Empty reports whether the frame carries no decoded header information,
// i.e. HeaderParser gave up past the Ethernet header.
func (p ParsedFrame) Empty() bool {
	return p.EtherType == 0 && p.SrcIP == nil && p.DstIP == nil
}

// ProtocolName renders a human-readable label for logging/metrics, never
// for control flow. DNS and DHCP are recognized by their well-known ports.
func ProtocolName(ipProtocol uint8, srcPort, dstPort uint16) string {
	switch ipProtocol {
	case ProtoTCP:
		if srcPort == 53 || dstPort == 53 {
			return "dns"
		}
		return "tcp"
	case ProtoUDP:
		if srcPort == 53 || dstPort == 53 {
			return "dns"
		}
		if srcPort == 67 || dstPort == 67 || srcPort == 68 || dstPort == 68 {
			return "dhcp"
		}
		return "udp"
	case ProtoICMP:
		return "icmp"
	case ProtoICMPv6:
		return "icmpv6"
	default:
		return "unknown"
	}
}
