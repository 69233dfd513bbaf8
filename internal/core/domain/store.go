package domain

import (
	"net"
	"time"
)

// StoredRow is the persisted representation of a captured frame, the unit
// the BatchWriter commits and the poller reads back. Timestamp is the
// watermark column every backend indexes on.
type StoredRow struct {
	ID        int64
	SrcMAC    net.HardwareAddr
	DstMAC    net.HardwareAddr
	EtherType EtherType
	SrcIP     IP
	DstIP     IP
	SrcPort   uint16
	DstPort   uint16
	Protocol  uint8
	Timestamp time.Time
	Data      []byte
	RawPacket []byte
}

// IP is a net.IP wrapper carrying the bit-exact INET wire codec
// [family, prefix, is_cidr, len, addr...], with family 2 for IPv4 and 3 for
// IPv6, matching libpq's internal family byte convention.
type IP struct {
	Addr   []byte // 4 or 16 raw bytes
	Prefix uint8  // prefix length in bits
	CIDR   bool   // whether this represents a network (CIDR) or a host address
}

const (
	inetFamilyV4 = 2
	inetFamilyV6 = 3
)

// EncodeInet renders the [family, prefix, is_cidr, len, addr...] byte layout.
func EncodeInet(ip IP) []byte {
	family := byte(inetFamilyV4)
	if len(ip.Addr) == 16 {
		family = inetFamilyV6
	}
	isCIDR := byte(0)
	if ip.CIDR {
		isCIDR = 1
	}
	buf := make([]byte, 0, 4+len(ip.Addr))
	buf = append(buf, family, ip.Prefix, isCIDR, byte(len(ip.Addr)))
	buf = append(buf, ip.Addr...)
	return buf
}

// DecodeInet parses the layout EncodeInet produces. Returns false if buf is
// malformed (too short or length byte inconsistent with the remainder).
func DecodeInet(buf []byte) (IP, bool) {
	if len(buf) < 4 {
		return IP{}, false
	}
	prefix := buf[1]
	isCIDR := buf[2] == 1
	n := int(buf[3])
	if len(buf) != 4+n || (n != 4 && n != 16) {
		return IP{}, false
	}
	addr := make([]byte, n)
	copy(addr, buf[4:])
	return IP{Addr: addr, Prefix: prefix, CIDR: isCIDR}, true
}

// EncodeMAC renders a hardware address as its 6 raw bytes. Addresses that
// are not exactly 6 bytes long are truncated/zero-padded defensively, which
// should never trigger for Ethernet frames.
func EncodeMAC(mac []byte) []byte {
	out := make([]byte, 6)
	copy(out, mac)
	return out
}
