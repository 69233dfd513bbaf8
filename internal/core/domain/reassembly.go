package domain

import (
	"net"
	"time"

	"github.com/google/uuid"
)

// ReassemblyKey identifies an in-flight IPv4 fragmentation group.
type ReassemblyKey struct {
	SrcIP          [4]byte
	DstIP          [4]byte
	Identification uint16
}

// NewReassemblyKey builds a key from decoded IPv4 header fields, truncating
// src/dst to their 4-byte form (IPv4 fragmentation is IPv4-only).
func NewReassemblyKey(src, dst net.IP, id uint16) ReassemblyKey {
	var k ReassemblyKey
	s4 := src.To4()
	d4 := dst.To4()
	copy(k.SrcIP[:], s4)
	copy(k.DstIP[:], d4)
	k.Identification = id
	return k
}

// IPFragment is one fragment of a datagram awaiting reassembly.
type IPFragment struct {
	Offset        int    // byte offset within the reassembled payload
	MoreFragments bool   // more-fragments bit from the IPv4 header
	Payload       []byte // fragment payload bytes (post IP header)
}

// ReassemblyBuffer accumulates fragments for one ReassemblyKey. DiagnosticID
// is a per-buffer correlation ID for log/trace output only; it plays no part
// in reassembly logic or eviction.
type ReassemblyBuffer struct {
	DiagnosticID string
	Fragments    []IPFragment
	FirstSeen    time.Time
	LastSeen     time.Time
}

// NewReassemblyBuffer starts a fragment group with a fresh diagnostic ID.
func NewReassemblyBuffer(firstSeen time.Time) *ReassemblyBuffer {
	return &ReassemblyBuffer{DiagnosticID: uuid.NewString(), FirstSeen: firstSeen}
}
