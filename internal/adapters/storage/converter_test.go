package storage

import (
	"net"
	"testing"
	"time"

	"github.com/dradis-net/rdbtunnel/internal/core/domain"
)

func TestSQLiteRowRoundTrip(t *testing.T) {
	row := domain.StoredRow{
		SrcMAC:    net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		DstMAC:    net.HardwareAddr{0x11, 0x22, 0x33, 0x44, 0x55, 0x66},
		EtherType: domain.EtherTypeIPv4,
		SrcIP:     domain.IP{Addr: net.ParseIP("10.0.0.1").To4(), Prefix: 32},
		DstIP:     domain.IP{Addr: net.ParseIP("10.0.0.2").To4(), Prefix: 32},
		SrcPort:   1000,
		DstPort:   53,
		Protocol:  domain.ProtoUDP,
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
		Data:      []byte("payload"),
		RawPacket: []byte("rawframe"),
	}

	model := rowToSQLiteModel(row)
	got := sqliteModelToRow(model)

	if got.SrcMAC.String() != row.SrcMAC.String() {
		t.Errorf("SrcMAC mismatch: got %v want %v", got.SrcMAC, row.SrcMAC)
	}
	if got.DstMAC.String() != row.DstMAC.String() {
		t.Errorf("DstMAC mismatch: got %v want %v", got.DstMAC, row.DstMAC)
	}
	if got.SrcIP.Addr == nil || net.IP(got.SrcIP.Addr).String() != "10.0.0.1" {
		t.Errorf("SrcIP mismatch: got %v", got.SrcIP)
	}
	if got.SrcPort != row.SrcPort || got.DstPort != row.DstPort {
		t.Errorf("port mismatch: got %d/%d want %d/%d", got.SrcPort, got.DstPort, row.SrcPort, row.DstPort)
	}
	if got.Protocol != row.Protocol {
		t.Errorf("protocol mismatch: got %d want %d", got.Protocol, row.Protocol)
	}
	if string(got.Data) != string(row.Data) || string(got.RawPacket) != string(row.RawPacket) {
		t.Errorf("payload mismatch")
	}
}

func TestPostgresRowRoundTrip(t *testing.T) {
	row := domain.StoredRow{
		SrcMAC:    net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		DstMAC:    net.HardwareAddr{0x11, 0x22, 0x33, 0x44, 0x55, 0x66},
		EtherType: domain.EtherTypeIPv6,
		SrcIP:     domain.IP{Addr: net.ParseIP("2001:db8::1").To16(), Prefix: 128},
		DstIP:     domain.IP{Addr: net.ParseIP("2001:db8::2").To16(), Prefix: 128},
		SrcPort:   443,
		DstPort:   51000,
		Protocol:  domain.ProtoTCP,
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
	}

	model := rowToPostgresModel(row)
	got := postgresModelToRow(model)

	if got.SrcMAC.String() != row.SrcMAC.String() {
		t.Errorf("SrcMAC mismatch: got %v want %v", got.SrcMAC, row.SrcMAC)
	}
	if net.IP(got.SrcIP.Addr).String() != "2001:db8::1" {
		t.Errorf("SrcIP mismatch: got %v", net.IP(got.SrcIP.Addr))
	}
	if got.EtherType != row.EtherType {
		t.Errorf("EtherType mismatch: got %v want %v", got.EtherType, row.EtherType)
	}
}

func TestIpToInetTextHostAddress(t *testing.T) {
	s := ipToInetText(domain.IP{Addr: net.ParseIP("192.168.1.1").To4(), Prefix: 32})
	if s != "192.168.1.1" {
		t.Errorf("got %q, want plain host address with no /32 suffix", s)
	}
}

func TestIpToInetTextCIDR(t *testing.T) {
	s := ipToInetText(domain.IP{Addr: net.ParseIP("192.168.1.0").To4(), Prefix: 24})
	if s != "192.168.1.0/24" {
		t.Errorf("got %q, want CIDR form", s)
	}
}
