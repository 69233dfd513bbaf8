// Package reassembly reconstructs fragmented IPv4 datagrams keyed by
// (src, dst, identification).
package reassembly

import (
	"log"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/dradis-net/rdbtunnel/internal/core/domain"
)

// DefaultTimeout evicts an incomplete fragment group after this long.
const DefaultTimeout = 30 * time.Second

// DefaultMaxBuffers caps the number of concurrently tracked fragment groups.
const DefaultMaxBuffers = 5000

// CleanupEvery runs eviction after this many processed fragments.
const CleanupEvery = 1000

// CleanupInterval runs eviction after this much wall-clock time has elapsed
// since the last sweep, regardless of processed count.
const CleanupInterval = 60 * time.Second

// IpReassembler tracks in-flight IPv4 fragment groups keyed by
// (src, dst, identification) and emits the reassembled payload exactly once
// per completed datagram.
type IpReassembler struct {
	mu          sync.Mutex
	buffers     map[domain.ReassemblyKey]*domain.ReassemblyBuffer
	timeout     time.Duration
	maxBuf      int
	processed   int
	lastCleanup time.Time
}

// New constructs an IpReassembler with the default timeout and capacity.
func New() *IpReassembler {
	return &IpReassembler{
		buffers: make(map[domain.ReassemblyKey]*domain.ReassemblyBuffer),
		timeout: DefaultTimeout,
		maxBuf:  DefaultMaxBuffers,
	}
}

// FragmentInfo describes one IPv4 fragment's header fields, as decoded by
// HeaderParser/the capture path before reassembly.
type FragmentInfo struct {
	SrcIP          net.IP
	DstIP          net.IP
	Identification uint16
	// FragmentOffsetAndFlags is the raw 16-bit IPv4 "flags+fragment offset"
	// field; offset is &0x1FFF * 8 bytes, more-fragments is bit 0x2000.
	FragmentOffsetAndFlags uint16
	Payload                []byte
}

// Offset returns the fragment's byte offset within the reassembled payload.
func (f FragmentInfo) Offset() int {
	return int(f.FragmentOffsetAndFlags&0x1FFF) * 8
}

// MoreFragments reports whether the more-fragments bit is set.
func (f FragmentInfo) MoreFragments() bool {
	return f.FragmentOffsetAndFlags&0x2000 != 0
}

// Process ingests one fragment and returns the reassembled payload once all
// fragments for its key have arrived contiguously from offset 0 and the
// last fragment (more_fragments=false) has been seen. Returns (nil, false)
// otherwise. A completed key's buffer is removed and not remembered: a
// fragment arriving for that key afterwards starts a new buffer, and is
// emitted again only if it completes a datagram on its own.
func (r *IpReassembler) Process(now time.Time, frag FragmentInfo) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.processed++
	if r.processed%CleanupEvery == 0 || len(r.buffers) > r.maxBuf || now.Sub(r.lastCleanup) >= CleanupInterval {
		r.cleanupLocked(now)
	}

	key := domain.NewReassemblyKey(frag.SrcIP, frag.DstIP, frag.Identification)
	buf, ok := r.buffers[key]
	if !ok {
		if len(r.buffers) >= r.maxBuf {
			return nil, false
		}
		buf = domain.NewReassemblyBuffer(now)
		r.buffers[key] = buf
	}
	buf.LastSeen = now
	buf.Fragments = append(buf.Fragments, domain.IPFragment{
		Offset:        frag.Offset(),
		MoreFragments: frag.MoreFragments(),
		Payload:       append([]byte(nil), frag.Payload...),
	})

	payload, complete := tryReassemble(buf)
	if complete {
		delete(r.buffers, key)
		log.Printf("reassembly: datagram complete id=%s bytes=%d", buf.DiagnosticID, len(payload))
	}
	return payload, complete
}

func tryReassemble(buf *domain.ReassemblyBuffer) ([]byte, bool) {
	frags := append([]domain.IPFragment(nil), buf.Fragments...)
	sort.Slice(frags, func(i, j int) bool { return frags[i].Offset < frags[j].Offset })

	if len(frags) == 0 || frags[0].Offset != 0 {
		return nil, false
	}
	last := frags[len(frags)-1]
	if last.MoreFragments {
		return nil, false
	}

	out := make([]byte, 0, len(frags)*1480)
	expected := 0
	for _, f := range frags {
		if f.Offset != expected {
			return nil, false
		}
		out = append(out, f.Payload...)
		expected += len(f.Payload)
	}
	return out, true
}

// Cleanup evicts fragment groups that have exceeded the timeout.
func (r *IpReassembler) Cleanup(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanupLocked(now)
}

// cleanupLocked removes timed-out entries, then, if the buffer count is
// still over maxBuf, evicts the oldest-by-LastSeen entries until it is back
// at or under the cap.
func (r *IpReassembler) cleanupLocked(now time.Time) {
	r.lastCleanup = now
	for k, buf := range r.buffers {
		if now.Sub(buf.LastSeen) > r.timeout {
			delete(r.buffers, k)
		}
	}
	if len(r.buffers) <= r.maxBuf {
		return
	}

	type keyed struct {
		key      domain.ReassemblyKey
		lastSeen time.Time
	}
	ordered := make([]keyed, 0, len(r.buffers))
	for k, buf := range r.buffers {
		ordered = append(ordered, keyed{k, buf.LastSeen})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].lastSeen.Before(ordered[j].lastSeen) })

	excess := len(r.buffers) - r.maxBuf
	for i := 0; i < excess; i++ {
		delete(r.buffers, ordered[i].key)
	}
}

// Len reports the number of in-flight fragment groups, for telemetry.
func (r *IpReassembler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffers)
}
