package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/behrlich/mpigo/internal/message"
)

type fakeMessage struct{ id int }

func (f *fakeMessage) Progress() {}
func (f *fakeMessage) Status() (message.Status, *message.Fault) {
	return message.StatusInProgress, nil
}
func (f *fakeMessage) PackedBytes() int64 { return 0 }
func (f *fakeMessage) RegionBytes() int64 { return 0 }

var _ message.Message = (*fakeMessage)(nil)

func TestHandleStabilityAcrossAddRemoveAdd(t *testing.T) {
	r := New()
	h1 := r.Add(&fakeMessage{id: 1})
	h2 := r.Add(&fakeMessage{id: 2})

	r.Remove(h1)

	h3 := r.Add(&fakeMessage{id: 3})
	assert.Equal(t, h1, h3, "expected the freed slot to be reused")

	m2, ok := r.Get(h2)
	require.True(t, ok, "h2 should still be live")
	assert.Equal(t, &fakeMessage{id: 2}, m2)

	m3, ok := r.Get(h3)
	require.True(t, ok)
	assert.Equal(t, &fakeMessage{id: 3}, m3)
}

func TestGetOnRemovedOrOutOfRangeHandle(t *testing.T) {
	r := New()
	h := r.Add(&fakeMessage{id: 1})
	r.Remove(h)
	_, ok := r.Get(h)
	assert.False(t, ok, "expected removed handle to report not-ok")

	_, ok = r.Get(Handle(999))
	assert.False(t, ok, "expected out-of-range handle to report not-ok")
}

func TestLenTracksLiveEntries(t *testing.T) {
	r := New()
	h1 := r.Add(&fakeMessage{})
	_ = r.Add(&fakeMessage{})
	assert.Equal(t, 2, r.Len())

	r.Remove(h1)
	assert.Equal(t, 1, r.Len())
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := New()
	h := r.Add(&fakeMessage{})
	r.Remove(h)
	r.Remove(h)
	assert.Equal(t, 0, r.Len())
}
