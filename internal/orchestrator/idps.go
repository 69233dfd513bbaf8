package orchestrator

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/dradis-net/rdbtunnel/internal/core/domain"
	"github.com/dradis-net/rdbtunnel/internal/core/services/reassembly"
	"github.com/dradis-net/rdbtunnel/internal/core/services/tcptrack"
	"github.com/dradis-net/rdbtunnel/internal/telemetry"
)

// inspect feeds a parsed frame through the optional host-IDS services
// (IpReassembler, TcpTracker) when IDPS_ENABLED is set. It re-reads the raw
// IPv4/TCP header fields HeaderParser doesn't carry on ParsedFrame, using
// the same byte offsets parser.HeaderParser does.
func (app *Application) inspect(p domain.ParsedFrame, now time.Time) {
	if app.reassembler != nil && p.EtherType == domain.EtherTypeIPv4 {
		if frag, ok := extractFragmentInfo(p); ok {
			app.reassembler.Process(now, frag)
		}
		telemetry.ReassemblyBuffersActive.WithLabelValues().Set(float64(app.reassembler.Len()))
	}

	if app.tcpTracker != nil && p.IPProtocol == domain.ProtoTCP {
		if seg, ok := extractTCPSegment(p); ok {
			app.tcpTracker.Update(seg, now)
			telemetry.TcpFlowsTracked.WithLabelValues().Set(float64(app.tcpTracker.Len()))
		}
	}
}

// extractFragmentInfo reads the IPv4 identification and flags/offset field
// directly from the raw frame; ParsedFrame itself doesn't carry them since
// HeaderParser does not decode them.
func extractFragmentInfo(p domain.ParsedFrame) (reassembly.FragmentInfo, bool) {
	ipOffset := ipHeaderOffset(p)
	if ipOffset < 0 || len(p.Raw) < ipOffset+20 {
		return reassembly.FragmentInfo{}, false
	}
	ihl := int(p.Raw[ipOffset]&0x0F) * 4
	if ihl < 20 || len(p.Raw) < ipOffset+ihl {
		return reassembly.FragmentInfo{}, false
	}
	identification := binary.BigEndian.Uint16(p.Raw[ipOffset+4 : ipOffset+6])
	flagsAndOffset := binary.BigEndian.Uint16(p.Raw[ipOffset+6 : ipOffset+8])

	// Unfragmented datagrams (offset 0, MF clear) need no reassembly at all.
	if flagsAndOffset&0x3FFF == 0 {
		return reassembly.FragmentInfo{}, false
	}

	payloadStart := ipOffset + ihl
	if payloadStart > len(p.Raw) {
		payloadStart = len(p.Raw)
	}
	return reassembly.FragmentInfo{
		SrcIP:                  p.SrcIP,
		DstIP:                  p.DstIP,
		Identification:         identification,
		FragmentOffsetAndFlags: flagsAndOffset,
		Payload:                p.Raw[payloadStart:],
	}, true
}

// extractTCPSegment reads Seq/Ack/Flags/MSS directly from the raw frame. It
// recomputes the TCP header start rather than trusting p.PayloadOffset, which
// HeaderParser advances past the TCP header (to the L4 payload) once it has
// read the ports.
func extractTCPSegment(p domain.ParsedFrame) (tcptrack.Segment, bool) {
	ipOffset := ipHeaderOffset(p)
	if ipOffset < 0 || len(p.Raw) < ipOffset+20 {
		return tcptrack.Segment{}, false
	}
	ihl := int(p.Raw[ipOffset]&0x0F) * 4
	if ihl < 20 || len(p.Raw) < ipOffset+ihl {
		return tcptrack.Segment{}, false
	}
	off := ipOffset + ihl
	if len(p.Raw) < off+20 {
		return tcptrack.Segment{}, false
	}
	seq := binary.BigEndian.Uint32(p.Raw[off+4 : off+8])
	ack := binary.BigEndian.Uint32(p.Raw[off+8 : off+12])
	dataOffsetAndFlags := p.Raw[off+12]
	dataOffset := int(dataOffsetAndFlags>>4) * 4
	flags := p.Raw[off+13]
	window := binary.BigEndian.Uint16(p.Raw[off+14 : off+16])

	payloadStart := off + dataOffset
	if payloadStart > len(p.Raw) {
		payloadStart = len(p.Raw)
	}

	seg := tcptrack.Segment{
		SrcIP:   []byte(p.SrcIP),
		DstIP:   []byte(p.DstIP),
		SrcPort: p.SrcPort,
		DstPort: p.DstPort,
		Seq:     seq,
		Ack:     ack,
		Window:  window,
		Flags:   flags,
		Payload: p.Raw[payloadStart:],
	}

	if mss, ok := extractMSS(p.Raw, off+20, off+dataOffset); ok {
		seg.MSS = mss
		seg.HasMSS = true
	}
	return seg, true
}

// extractMSS scans TCP options for kind 2 (MSS), the only option
// TcpFlow.SetMSS records.
func extractMSS(raw []byte, start, end int) (uint16, bool) {
	if end > len(raw) {
		end = len(raw)
	}
	for i := start; i+1 < end; {
		kind := raw[i]
		switch kind {
		case 0: // end of options
			return 0, false
		case 1: // no-op
			i++
			continue
		}
		if i+1 >= end {
			return 0, false
		}
		length := int(raw[i+1])
		if length < 2 || i+length > end {
			return 0, false
		}
		if kind == 2 && length == 4 && i+4 <= end {
			return binary.BigEndian.Uint16(raw[i+2 : i+4]), true
		}
		i += length
	}
	return 0, false
}

// ipHeaderOffset returns where the IPv4 header starts in p.Raw. HeaderParser
// doesn't record this directly (PayloadOffset is advanced past the L4 header
// for TCP/UDP), so this walks the Ethernet header the same way
// parser.HeaderParser does: a fixed 14-byte Ethernet header followed by zero
// or more 4-byte 802.1Q tags.
func ipHeaderOffset(p domain.ParsedFrame) int {
	if len(p.Raw) < 14 {
		return -1
	}
	offset := 12
	etherType := domain.EtherType(binary.BigEndian.Uint16(p.Raw[offset : offset+2]))
	offset += 2
	depth := 0
	for etherType == domain.EtherTypeVLAN && depth < domain.MaxVLANDepth {
		if len(p.Raw) < offset+4 {
			return -1
		}
		etherType = domain.EtherType(binary.BigEndian.Uint16(p.Raw[offset+2 : offset+4]))
		offset += 4
		depth++
	}
	if etherType != domain.EtherTypeIPv4 {
		return -1
	}
	return offset
}

// runIDPSEvictor periodically sweeps the reassembler and tcp tracker for
// timed-out state.
func (app *Application) runIDPSEvictor(ctx context.Context) {
	ticker := time.NewTicker(IDPSEvictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			if app.reassembler != nil {
				app.reassembler.Cleanup(now)
				telemetry.ReassemblyBuffersActive.WithLabelValues().Set(float64(app.reassembler.Len()))
			}
			if app.tcpTracker != nil {
				app.tcpTracker.Evict(now)
				telemetry.TcpFlowsTracked.WithLabelValues().Set(float64(app.tcpTracker.Len()))
			}
		}
	}
}
