package reassembly

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frag(offsetBytes int, more bool, payload []byte) FragmentInfo {
	off := uint16(offsetBytes / 8)
	flags := off
	if more {
		flags |= 0x2000
	}
	return FragmentInfo{
		SrcIP:                  net.ParseIP("10.0.0.1"),
		DstIP:                  net.ParseIP("10.0.0.2"),
		Identification:         0xABCD,
		FragmentOffsetAndFlags: flags,
		Payload:                payload,
	}
}

func TestIpReassembler_ThreeFragmentsInOrder(t *testing.T) {
	r := New()
	now := time.Now()

	p1 := make([]byte, 1480)
	p2 := make([]byte, 1480)
	p3 := make([]byte, 100)

	_, ok := r.Process(now, frag(0, true, p1))
	assert.False(t, ok)
	_, ok = r.Process(now, frag(1480, true, p2))
	assert.False(t, ok)
	out, ok := r.Process(now, frag(2960, false, p3))
	require.True(t, ok)
	assert.Equal(t, 1480+1480+100, len(out))
}

func TestIpReassembler_DuplicateAfterCompletionStartsFreshBuffer(t *testing.T) {
	r := New()
	now := time.Now()

	r.Process(now, frag(0, false, []byte("hello")))
	assert.Equal(t, 0, r.Len())

	// A duplicate fragment after completion starts a fresh buffer rather
	// than reappearing in an already-emitted datagram; it must not panic
	// or resurrect the old buffer's state.
	_, ok := r.Process(now, frag(0, false, []byte("hello")))
	assert.True(t, ok)
}

func TestIpReassembler_OutOfOrderArrival(t *testing.T) {
	r := New()
	now := time.Now()

	r.Process(now, frag(1480, false, make([]byte, 100)))
	out, ok := r.Process(now, frag(0, true, make([]byte, 1480)))
	require.True(t, ok)
	assert.Equal(t, 1580, len(out))
}

func TestIpReassembler_CleanupEvictsTimedOutBuffers(t *testing.T) {
	r := New()
	start := time.Now()
	r.Process(start, frag(0, true, []byte("partial")))
	assert.Equal(t, 1, r.Len())

	r.Cleanup(start.Add(DefaultTimeout + time.Second))
	assert.Equal(t, 0, r.Len())
}
