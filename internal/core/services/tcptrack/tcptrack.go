// Package tcptrack maintains per-flow TCP connection state and
// per-direction byte streams for passively observed segments.
package tcptrack

import (
	"sync"
	"time"

	"github.com/dradis-net/rdbtunnel/internal/core/domain"
)

// TimeWaitDuration is the RFC 793 2*MSL collapse window, simplified to a
// fixed 120s.
const TimeWaitDuration = 120 * time.Second

// FlowIdleTimeout evicts any flow with no activity for this long.
const FlowIdleTimeout = 300 * time.Second

// Segment is the subset of a TCP header TcpTracker needs. Payload is the L4
// data carried by the segment, possibly empty for pure control segments.
type Segment struct {
	SrcIP, DstIP     []byte
	SrcPort, DstPort uint16
	Seq, Ack         uint32
	Window           uint16
	Flags            uint8
	Payload          []byte
	MSS              uint16
	HasMSS           bool
}

// TcpTracker holds one TcpFlow per TcpFlowKey.
type TcpTracker struct {
	mu    sync.Mutex
	flows map[domain.TcpFlowKey]*domain.TcpFlow
}

// New constructs an empty TcpTracker.
func New() *TcpTracker {
	return &TcpTracker{flows: make(map[domain.TcpFlowKey]*domain.TcpFlow)}
}

// lookup finds seg's flow under either direction: the flow key is stored in
// the direction of the segment that created the flow (its sender is the
// "client"), so the forward key is tried first, then the reverse key. The
// bool reports whether seg travels in the client direction; it is true when
// no flow exists yet.
func (t *TcpTracker) lookup(seg Segment, now time.Time) (*domain.TcpFlow, bool) {
	fwd := domain.NewTcpFlowKey(seg.SrcIP, seg.DstIP, seg.SrcPort, seg.DstPort)
	if f, ok := t.flows[fwd]; ok {
		return f, true
	}
	rev := domain.NewTcpFlowKey(seg.DstIP, seg.SrcIP, seg.DstPort, seg.SrcPort)
	if f, ok := t.flows[rev]; ok {
		return f, false
	}
	return nil, true
}

// Update feeds one segment through the state machine and returns the flow's
// new state. A FIN observed without a prior SYN does not create an
// Established flow; it is tracked but starts from Listen and only a SYN can
// move it forward.
func (t *TcpTracker) Update(seg Segment, now time.Time) domain.TcpState {
	t.mu.Lock()
	defer t.mu.Unlock()

	flow, isClientDir := t.lookup(seg, now)
	if flow == nil {
		key := domain.NewTcpFlowKey(seg.SrcIP, seg.DstIP, seg.SrcPort, seg.DstPort)
		flow = &domain.TcpFlow{Key: key, State: domain.TcpStateListen, FirstSeen: now}
		t.flows[key] = flow
		isClientDir = true
	}
	flow.LastSeen = now

	if seg.HasMSS {
		flow.SetMSS(isClientDir, seg.MSS)
	}

	t.transition(flow, seg, isClientDir, now)
	t.updateDataStream(flow, seg, isClientDir)

	if isClientDir {
		flow.ClientWindow = seg.Window
		flow.ClientCwnd += cwndDelta(seg.Flags)
	} else {
		flow.ServerWindow = seg.Window
		flow.ServerCwnd += cwndDelta(seg.Flags)
	}

	return flow.State
}

// updateDataStream appends in-order payload bytes to the sender's direction
// and, on ACK, advances the opposite direction's next-expected-sequence to
// the acknowledged value. Out-of-order or retransmitted segments (seq !=
// next expected) are not appended.
func (t *TcpTracker) updateDataStream(f *domain.TcpFlow, seg Segment, isClientDir bool) {
	if len(seg.Payload) > 0 {
		if isClientDir {
			if seg.Seq == f.ClientNextSeq {
				f.ClientData = append(f.ClientData, seg.Payload...)
				f.ClientNextSeq += uint32(len(seg.Payload))
			}
		} else {
			if seg.Seq == f.ServerNextSeq {
				f.ServerData = append(f.ServerData, seg.Payload...)
				f.ServerNextSeq += uint32(len(seg.Payload))
			}
		}
	}

	if seg.Flags&domain.TCPFlagACK == 0 {
		return
	}
	// An ACK confirms the opposite direction's bytes up to seg.Ack; only
	// advance forward, since a stale/duplicate ACK must not roll the
	// watermark backward.
	if isClientDir {
		if seqGreater(seg.Ack, f.ServerNextSeq) {
			f.ServerNextSeq = seg.Ack
		}
	} else {
		if seqGreater(seg.Ack, f.ClientNextSeq) {
			f.ClientNextSeq = seg.Ack
		}
	}
}

// seqGreater compares two 32-bit TCP sequence numbers under wraparound,
// per RFC 1323 §4.3's serial-number arithmetic.
func seqGreater(a, b uint32) bool {
	return int32(a-b) > 0
}

func cwndDelta(flags uint8) uint32 {
	// Simplified observability counter, never used for flow control.
	if flags&domain.TCPFlagACK != 0 {
		return 1
	}
	return 0
}

func (t *TcpTracker) transition(f *domain.TcpFlow, seg Segment, isClientDir bool, now time.Time) {
	syn := seg.Flags&domain.TCPFlagSYN != 0
	ack := seg.Flags&domain.TCPFlagACK != 0
	fin := seg.Flags&domain.TCPFlagFIN != 0
	rst := seg.Flags&domain.TCPFlagRST != 0

	if rst {
		f.State = domain.TcpStateClosed
		return
	}

	switch f.State {
	case domain.TcpStateListen:
		if syn && !ack && isClientDir {
			f.State = domain.TcpStateSynSent
			f.ClientISN = seg.Seq
			f.ClientNextSeq = seg.Seq + 1
		}
		// A bare FIN (or anything else) with no prior SYN stays in
		// Listen; it must not jump straight to Established.
	case domain.TcpStateSynSent:
		if syn && ack && !isClientDir {
			f.State = domain.TcpStateEstablished
			f.ServerISN = seg.Seq
			f.ServerNextSeq = seg.Seq + 1
		}
	case domain.TcpStateSynReceived:
		if ack && isClientDir && seg.Seq == f.ClientNextSeq {
			f.State = domain.TcpStateEstablished
		}
	case domain.TcpStateEstablished:
		if fin {
			if isClientDir {
				f.State = domain.TcpStateFinWait1
				f.ClientNextSeq = seg.Seq + 1
			} else {
				f.State = domain.TcpStateCloseWait
				f.ServerNextSeq = seg.Seq + 1
			}
		}
	case domain.TcpStateFinWait1:
		if fin && ack && !isClientDir {
			f.State = domain.TcpStateTimeWait
			f.TimeWaitAt = now
		} else if ack && !fin && !isClientDir {
			f.State = domain.TcpStateFinWait2
		}
		// Anything else (e.g. a bare FIN with no ACK) stays in FinWait1.
	case domain.TcpStateFinWait2:
		if ack && !isClientDir {
			f.State = domain.TcpStateTimeWait
			f.TimeWaitAt = now
		}
	case domain.TcpStateCloseWait:
		// CloseWait was entered by the server's FIN; the client's own FIN
		// moves the flow to LastAck.
		if fin && isClientDir {
			f.State = domain.TcpStateLastAck
		}
	case domain.TcpStateClosing:
		if ack {
			f.State = domain.TcpStateTimeWait
			f.TimeWaitAt = now
		}
	case domain.TcpStateLastAck:
		if ack && !isClientDir {
			f.State = domain.TcpStateClosed
		}
	case domain.TcpStateTimeWait:
		if now.Sub(f.TimeWaitAt) >= TimeWaitDuration {
			f.State = domain.TcpStateClosed
		}
	}
}

// Evict collapses expired TimeWait flows, then removes any flow that is
// Closed or has been idle longer than FlowIdleTimeout.
func (t *TcpTracker) Evict(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, f := range t.flows {
		if f.State == domain.TcpStateTimeWait && now.Sub(f.TimeWaitAt) >= TimeWaitDuration {
			f.State = domain.TcpStateClosed
		}
		if f.State == domain.TcpStateClosed || now.Sub(f.LastSeen) >= FlowIdleTimeout {
			delete(t.flows, k)
		}
	}
}

// Len reports the number of tracked flows, for telemetry.
func (t *TcpTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.flows)
}

// Lookup returns a copy of the flow state for a given segment's direction,
// for tests and diagnostics.
func (t *TcpTracker) Lookup(seg Segment) (domain.TcpFlow, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, _ := t.lookup(seg, time.Time{})
	if f == nil {
		return domain.TcpFlow{}, false
	}
	return *f, true
}
