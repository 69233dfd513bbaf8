// Package parser decodes raw L2 frames into domain.ParsedFrame without ever
// failing or panicking.
package parser

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/dradis-net/rdbtunnel/internal/core/domain"
)

// HeaderParser decodes Ethernet/VLAN/IPv4/IPv6/ARP/TCP/UDP/ICMP headers by
// explicit byte offsets. It holds no state; a zero value is ready to use.
type HeaderParser struct{}

// NewHeaderParser constructs a HeaderParser.
func NewHeaderParser() *HeaderParser {
	return &HeaderParser{}
}

// Parse decodes raw into a ParsedFrame. It never panics and never reads past
// len(raw); undecodable input yields the "empty" frame (zero EtherType, nil
// IPs) with Raw still set to a copy of the input.
func (p *HeaderParser) Parse(raw []byte, capturedAt time.Time) domain.ParsedFrame {
	out := domain.ParsedFrame{
		Raw:       append([]byte(nil), raw...),
		Timestamp: capturedAt,
	}
	if len(raw) < domain.MinFrameSize {
		return out
	}

	out.DstMAC = net.HardwareAddr(append([]byte(nil), raw[0:6]...))
	out.SrcMAC = net.HardwareAddr(append([]byte(nil), raw[6:12]...))

	offset := 12
	etherType := domain.EtherType(binary.BigEndian.Uint16(raw[offset : offset+2]))
	offset += 2

	depth := 0
	for etherType == domain.EtherTypeVLAN && depth < domain.MaxVLANDepth {
		// A tagged frame must extend past the tag itself; at exactly
		// offset+4 bytes there is nothing left to decode behind it.
		if len(raw) <= offset+4 {
			return out
		}
		etherType = domain.EtherType(binary.BigEndian.Uint16(raw[offset+2 : offset+4]))
		offset += 4
		depth++
	}
	if depth >= domain.MaxVLANDepth && etherType == domain.EtherTypeVLAN {
		// VLAN nesting exceeded the hard cap; refuse to decode further.
		return domain.ParsedFrame{Raw: out.Raw, Timestamp: capturedAt}
	}

	out.EtherType = etherType
	out.PayloadOffset = offset

	switch etherType {
	case domain.EtherTypeIPv4:
		p.parseIPv4(raw, offset, &out)
	case domain.EtherTypeIPv6:
		p.parseIPv6(raw, offset, &out)
	case domain.EtherTypeARP:
		p.parseARP(raw, offset, &out)
	}

	return out
}

func (p *HeaderParser) parseARP(raw []byte, offset int, out *domain.ParsedFrame) {
	// ARP header: hw type(2) proto type(2) hw len(1) proto len(1) opcode(2)
	// sender hw(6) sender proto(4) target hw(6) target proto(4) = 28 bytes.
	if len(raw) < offset+28 {
		return
	}
	out.SrcIP = net.IP(append([]byte(nil), raw[offset+14:offset+18]...))
	out.DstIP = net.IP(append([]byte(nil), raw[offset+24:offset+28]...))
	out.PayloadOffset = offset + 28
}

func (p *HeaderParser) parseIPv4(raw []byte, offset int, out *domain.ParsedFrame) {
	if len(raw) < offset+20 {
		return
	}
	ihl := int(raw[offset]&0x0F) * 4
	if ihl < 20 || len(raw) < offset+ihl {
		return
	}
	totalLen := int(binary.BigEndian.Uint16(raw[offset+2 : offset+4]))
	proto := raw[offset+9]
	srcIP := net.IP(append([]byte(nil), raw[offset+12:offset+16]...))
	dstIP := net.IP(append([]byte(nil), raw[offset+16:offset+20]...))

	out.SrcIP = srcIP
	out.DstIP = dstIP
	out.IPProtocol = proto

	l4Offset := offset + ihl
	end := offset + totalLen
	if totalLen == 0 || end > len(raw) {
		end = len(raw)
	}
	out.PayloadOffset = l4Offset
	p.parseL4(raw, l4Offset, end, proto, out)
}

func (p *HeaderParser) parseIPv6(raw []byte, offset int, out *domain.ParsedFrame) {
	if len(raw) < offset+40 {
		return
	}
	payloadLen := int(binary.BigEndian.Uint16(raw[offset+4 : offset+6]))
	nextHeader := raw[offset+6]
	srcIP := net.IP(append([]byte(nil), raw[offset+8:offset+24]...))
	dstIP := net.IP(append([]byte(nil), raw[offset+24:offset+40]...))

	out.SrcIP = srcIP
	out.DstIP = dstIP
	out.IPProtocol = nextHeader

	l4Offset := offset + 40
	end := l4Offset + payloadLen
	if payloadLen == 0 || end > len(raw) {
		end = len(raw)
	}
	out.PayloadOffset = l4Offset
	p.parseL4(raw, l4Offset, end, nextHeader, out)
}

// parseL4 fills SrcPort/DstPort for TCP, UDP, and ICMP/ICMPv6, then advances
// out.PayloadOffset past the L4 header so Data() returns only the L4 payload:
// by the TCP data offset*4, or by the fixed 8-byte UDP header. ICMP carries no
// variable-length header to skip; its Type/Code octets land in the port
// fields for observability.
func (p *HeaderParser) parseL4(raw []byte, offset, end int, proto uint8, out *domain.ParsedFrame) {
	if offset < 0 || offset > len(raw) {
		return
	}
	if end > len(raw) {
		end = len(raw)
	}
	switch proto {
	case domain.ProtoTCP:
		if end < offset+4 {
			return
		}
		out.SrcPort = binary.BigEndian.Uint16(raw[offset : offset+2])
		out.DstPort = binary.BigEndian.Uint16(raw[offset+2 : offset+4])
		if end < offset+13 {
			return
		}
		dataOffset := int(raw[offset+12]>>4) * 4
		if dataOffset >= 20 && offset+dataOffset <= len(raw) {
			out.PayloadOffset = offset + dataOffset
		}
	case domain.ProtoUDP:
		if end < offset+4 {
			return
		}
		out.SrcPort = binary.BigEndian.Uint16(raw[offset : offset+2])
		out.DstPort = binary.BigEndian.Uint16(raw[offset+2 : offset+4])
		if offset+8 <= len(raw) {
			out.PayloadOffset = offset + 8
		}
	case domain.ProtoICMP, domain.ProtoICMPv6:
		if end < offset+2 {
			return
		}
		out.SrcPort = uint16(raw[offset])
		out.DstPort = uint16(raw[offset+1])
	}
}
