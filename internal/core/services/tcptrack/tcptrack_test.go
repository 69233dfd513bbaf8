package tcptrack

import (
	"net"
	"testing"
	"time"

	"github.com/dradis-net/rdbtunnel/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ip(s string) []byte { return net.ParseIP(s).To4() }

func TestTcpTracker_FullHandshake(t *testing.T) {
	tr := New()
	now := time.Now()

	a, b := ip("10.0.0.1"), ip("10.0.0.2")

	st := tr.Update(Segment{SrcIP: a, DstIP: b, SrcPort: 5000, DstPort: 80, Seq: 100, Flags: domain.TCPFlagSYN}, now)
	assert.Equal(t, domain.TcpStateSynSent, st)

	st = tr.Update(Segment{SrcIP: b, DstIP: a, SrcPort: 80, DstPort: 5000, Seq: 500, Ack: 101, Flags: domain.TCPFlagSYN | domain.TCPFlagACK}, now)
	assert.Equal(t, domain.TcpStateEstablished, st)

	st = tr.Update(Segment{SrcIP: a, DstIP: b, SrcPort: 5000, DstPort: 80, Seq: 101, Ack: 501, Flags: domain.TCPFlagACK}, now)
	assert.Equal(t, domain.TcpStateEstablished, st)

	flow, ok := tr.Lookup(Segment{SrcIP: a, DstIP: b, SrcPort: 5000, DstPort: 80})
	require.True(t, ok)
	assert.EqualValues(t, 101, flow.ClientNextSeq)
	assert.EqualValues(t, 501, flow.ServerNextSeq)
}

func TestTcpTracker_DataStreamAppendsInOrderPayload(t *testing.T) {
	tr := New()
	now := time.Now()
	a, b := ip("10.0.0.1"), ip("10.0.0.2")

	tr.Update(Segment{SrcIP: a, DstIP: b, SrcPort: 5000, DstPort: 80, Seq: 100, Flags: domain.TCPFlagSYN}, now)
	tr.Update(Segment{SrcIP: b, DstIP: a, SrcPort: 80, DstPort: 5000, Seq: 500, Ack: 101, Flags: domain.TCPFlagSYN | domain.TCPFlagACK}, now)
	tr.Update(Segment{SrcIP: a, DstIP: b, SrcPort: 5000, DstPort: 80, Seq: 101, Ack: 501, Flags: domain.TCPFlagACK}, now)

	tr.Update(Segment{SrcIP: a, DstIP: b, SrcPort: 5000, DstPort: 80, Seq: 101, Ack: 501, Flags: domain.TCPFlagACK | domain.TCPFlagPSH, Payload: []byte("GET /")}, now)

	flow, ok := tr.Lookup(Segment{SrcIP: a, DstIP: b, SrcPort: 5000, DstPort: 80})
	require.True(t, ok)
	assert.Equal(t, []byte("GET /"), flow.ClientData)
	assert.EqualValues(t, 106, flow.ClientNextSeq)

	// A retransmission of the same bytes (seq unchanged) must not be
	// appended twice.
	tr.Update(Segment{SrcIP: a, DstIP: b, SrcPort: 5000, DstPort: 80, Seq: 101, Ack: 501, Flags: domain.TCPFlagACK | domain.TCPFlagPSH, Payload: []byte("GET /")}, now)
	flow, _ = tr.Lookup(Segment{SrcIP: a, DstIP: b, SrcPort: 5000, DstPort: 80})
	assert.Equal(t, []byte("GET /"), flow.ClientData)
}

func TestTcpTracker_FinWithoutSynDoesNotReachEstablished(t *testing.T) {
	tr := New()
	now := time.Now()
	a, b := ip("10.0.0.1"), ip("10.0.0.2")

	st := tr.Update(Segment{SrcIP: a, DstIP: b, SrcPort: 5000, DstPort: 80, Flags: domain.TCPFlagFIN}, now)
	assert.Equal(t, domain.TcpStateListen, st)
}

func TestTcpTracker_TimeWaitCollapsesAfter120s(t *testing.T) {
	tr := New()
	now := time.Now()
	a, b := ip("10.0.0.1"), ip("10.0.0.2")

	tr.Update(Segment{SrcIP: a, DstIP: b, SrcPort: 1, DstPort: 2, Seq: 1, Flags: domain.TCPFlagSYN}, now)
	tr.Update(Segment{SrcIP: b, DstIP: a, SrcPort: 2, DstPort: 1, Seq: 1, Ack: 2, Flags: domain.TCPFlagSYN | domain.TCPFlagACK}, now)
	tr.Update(Segment{SrcIP: a, DstIP: b, SrcPort: 1, DstPort: 2, Seq: 2, Ack: 2, Flags: domain.TCPFlagACK}, now)
	tr.Update(Segment{SrcIP: a, DstIP: b, SrcPort: 1, DstPort: 2, Seq: 2, Flags: domain.TCPFlagFIN}, now)
	tr.Update(Segment{SrcIP: b, DstIP: a, SrcPort: 2, DstPort: 1, Seq: 2, Flags: domain.TCPFlagFIN | domain.TCPFlagACK}, now)

	flow, ok := tr.Lookup(Segment{SrcIP: a, DstIP: b, SrcPort: 1, DstPort: 2})
	require.True(t, ok)
	assert.Equal(t, domain.TcpStateTimeWait, flow.State)

	tr.Update(Segment{SrcIP: a, DstIP: b, SrcPort: 1, DstPort: 2, Flags: domain.TCPFlagACK}, now)
	flow, _ = tr.Lookup(Segment{SrcIP: a, DstIP: b, SrcPort: 1, DstPort: 2})
	assert.Equal(t, domain.TcpStateTimeWait, flow.State)

	// Past the 2*MSL window the sweep collapses TimeWait to Closed and
	// removes the flow in the same pass.
	tr.Evict(now.Add(TimeWaitDuration + time.Second))
	_, ok = tr.Lookup(Segment{SrcIP: a, DstIP: b, SrcPort: 1, DstPort: 2})
	assert.False(t, ok)
}

func TestTcpTracker_ServerInitiatedClose(t *testing.T) {
	tr := New()
	now := time.Now()
	a, b := ip("10.0.0.1"), ip("10.0.0.2")

	tr.Update(Segment{SrcIP: a, DstIP: b, SrcPort: 1, DstPort: 2, Seq: 1, Flags: domain.TCPFlagSYN}, now)
	tr.Update(Segment{SrcIP: b, DstIP: a, SrcPort: 2, DstPort: 1, Seq: 1, Ack: 2, Flags: domain.TCPFlagSYN | domain.TCPFlagACK}, now)
	tr.Update(Segment{SrcIP: a, DstIP: b, SrcPort: 1, DstPort: 2, Seq: 2, Ack: 2, Flags: domain.TCPFlagACK}, now)

	st := tr.Update(Segment{SrcIP: b, DstIP: a, SrcPort: 2, DstPort: 1, Seq: 2, Flags: domain.TCPFlagFIN}, now)
	assert.Equal(t, domain.TcpStateCloseWait, st)

	st = tr.Update(Segment{SrcIP: a, DstIP: b, SrcPort: 1, DstPort: 2, Seq: 2, Flags: domain.TCPFlagFIN}, now)
	assert.Equal(t, domain.TcpStateLastAck, st)

	st = tr.Update(Segment{SrcIP: b, DstIP: a, SrcPort: 2, DstPort: 1, Ack: 3, Flags: domain.TCPFlagACK}, now)
	assert.Equal(t, domain.TcpStateClosed, st)
}

func TestTcpTracker_IdleFlowEvicted(t *testing.T) {
	tr := New()
	now := time.Now()
	a, b := ip("10.0.0.1"), ip("10.0.0.2")

	tr.Update(Segment{SrcIP: a, DstIP: b, SrcPort: 1, DstPort: 2, Seq: 1, Flags: domain.TCPFlagSYN}, now)
	assert.Equal(t, 1, tr.Len())

	tr.Evict(now.Add(FlowIdleTimeout - time.Second))
	assert.Equal(t, 1, tr.Len())

	tr.Evict(now.Add(FlowIdleTimeout + time.Second))
	assert.Equal(t, 0, tr.Len())
}
