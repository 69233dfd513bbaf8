package poller

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/dradis-net/rdbtunnel/internal/core/domain"
	"github.com/dradis-net/rdbtunnel/internal/core/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	rows       []domain.StoredRow
	lastSince  time.Time
	lastWindow time.Duration
	callCount  int
}

func (f *fakeStore) InsertBatch(ctx context.Context, rows []domain.StoredRow) (int, error) {
	return len(rows), nil
}
func (f *fakeStore) PollSince(ctx context.Context, localIP []byte, since time.Time, window time.Duration) ([]domain.StoredRow, error) {
	f.callCount++
	f.lastSince = since
	f.lastWindow = window
	out := f.rows
	f.rows = nil
	return out, nil
}
func (f *fakeStore) Migrate(ctx context.Context) error { return nil }
func (f *fakeStore) Stats() ports.StoreStats           { return ports.StoreStats{} }
func (f *fakeStore) Close() error                      { return nil }

type fakeSink struct {
	sent [][]byte
}

func (s *fakeSink) Open(ctx context.Context, iface string) error { return nil }
func (s *fakeSink) WriteFrame(ctx context.Context, raw []byte) error {
	s.sent = append(s.sent, raw)
	return nil
}
func (s *fakeSink) Close() error { return nil }

func TestPoller_FirstCallUsesBootstrapWindow(t *testing.T) {
	store := &fakeStore{}
	sink := &fakeSink{}
	local := net.ParseIP("10.0.0.2")
	p := New(store, sink, local)

	before := time.Now()
	_, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.BootstrapWindow, store.lastWindow)
	assert.True(t, store.lastSince.IsZero())

	// A bootstrap call that returned no rows seeds the watermark at now, so
	// the second call polls strictly forward instead of replaying history.
	_, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), store.lastWindow)
	assert.False(t, store.lastSince.Before(before))
}

func TestPoller_SecondCallWithNoNewRowsReturnsEmpty(t *testing.T) {
	store := &fakeStore{}
	sink := &fakeSink{}
	local := net.ParseIP("10.0.0.2")
	p := New(store, sink, local)

	t1 := time.Now()
	store.rows = []domain.StoredRow{
		{Timestamp: t1, DstIP: domain.IP{Addr: local.To4()}},
	}
	rows, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)

	rows, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, t1, store.lastSince)
}

func TestPoller_WatermarkMonotonic(t *testing.T) {
	store := &fakeStore{}
	sink := &fakeSink{}
	local := net.ParseIP("10.0.0.2")
	p := New(store, sink, local)

	base := time.Now()
	store.rows = []domain.StoredRow{
		{Timestamp: base, DstIP: domain.IP{Addr: local.To4()}},
		{Timestamp: base.Add(time.Second), DstIP: domain.IP{Addr: local.To4()}},
	}
	_, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, base.Add(time.Second), p.wm.LastTimestamp)
}

func TestPoller_PollAndSendCountsOversizeAsFailure(t *testing.T) {
	store := &fakeStore{}
	sink := &fakeSink{}
	local := net.ParseIP("10.0.0.2")
	p := New(store, sink, local)

	store.rows = []domain.StoredRow{
		{Timestamp: time.Now(), DstIP: domain.IP{Addr: local.To4()}, RawPacket: make([]byte, 1501)},
	}
	err := p.PollAndSend(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 0, p.PacketsSent())
	assert.EqualValues(t, 1, p.PacketsFailed())
	assert.Empty(t, sink.sent)
}

func TestPoller_PollAndSendCountsSuccess(t *testing.T) {
	store := &fakeStore{}
	sink := &fakeSink{}
	local := net.ParseIP("10.0.0.2")
	p := New(store, sink, local)

	store.rows = []domain.StoredRow{
		{Timestamp: time.Now(), DstIP: domain.IP{Addr: local.To4()}, RawPacket: make([]byte, 70)},
	}
	err := p.PollAndSend(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.PacketsSent())
	assert.Len(t, sink.sent, 1)
}
