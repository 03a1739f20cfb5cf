package services

import (
	"sync/atomic"
	"testing"
	"time"

	"sfulink/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func desired(entries ...domain.DesiredStream) []domain.DesiredStream { return entries }

func pub(id domain.StreamID) domain.DesiredStream {
	return domain.DesiredStream{StreamID: id, Role: domain.RolePublisher}
}

func sub(id domain.StreamID) domain.DesiredStream {
	return domain.DesiredStream{StreamID: id, Role: domain.RoleSubscriber}
}

func TestDiff_SetDifference(t *testing.T) {
	d := Diff(desired(sub("B"), sub("C")), []domain.StreamID{"A", "B"})

	assert.Equal(t, desired(sub("C")), d.ToConnect)
	assert.Equal(t, []domain.StreamID{"A"}, d.ToDisconnect)
}

func TestDiff_Idempotent(t *testing.T) {
	want := desired(pub("A"), sub("B"), sub("C"))
	connected := []domain.StreamID{}

	d := Diff(want, connected)
	for _, s := range d.ToConnect {
		connected = append(connected, s.StreamID)
	}

	assert.True(t, Diff(want, connected).Empty())
}

func TestDiff_PreservesDesiredOrderAndDropsDuplicates(t *testing.T) {
	d := Diff(desired(sub("Z"), sub("A"), sub("Z"), sub("M")), nil)

	ids := []domain.StreamID{}
	for _, s := range d.ToConnect {
		ids = append(ids, s.StreamID)
	}
	assert.Equal(t, []domain.StreamID{"Z", "A", "M"}, ids)
}

func TestStreamDiffEngine_PageChangeDefersConnectsOnly(t *testing.T) {
	e := NewStreamDiffEngine(10*time.Millisecond, true)

	now, deferred := e.Plan(domain.DesiredUpdate{Streams: desired(sub("B"), sub("C")), PageChanged: true}, []domain.StreamID{"A", "B"})

	assert.True(t, deferred)
	assert.Empty(t, now.ToConnect)
	assert.Equal(t, []domain.StreamID{"A"}, now.ToDisconnect)
}

func TestStreamDiffEngine_MembershipChangeNotDeferred(t *testing.T) {
	e := NewStreamDiffEngine(10*time.Millisecond, true)

	now, deferred := e.Plan(domain.DesiredUpdate{Streams: desired(sub("C"))}, nil)

	assert.False(t, deferred)
	assert.Len(t, now.ToConnect, 1)
}

func TestStreamDiffEngine_PaginationDisabled(t *testing.T) {
	e := NewStreamDiffEngine(10*time.Millisecond, false)

	now, deferred := e.Plan(domain.DesiredUpdate{Streams: desired(sub("C")), PageChanged: true}, nil)

	assert.False(t, deferred)
	assert.Len(t, now.ToConnect, 1)
}

func TestStreamDiffEngine_DeferCoalesces(t *testing.T) {
	e := NewStreamDiffEngine(20*time.Millisecond, true)

	var calls, last int32
	for i := int32(1); i <= 5; i++ {
		i := i
		e.Defer(func() {
			atomic.AddInt32(&calls, 1)
			atomic.StoreInt32(&last, i)
		})
	}

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(5), atomic.LoadInt32(&last))
}

func TestStreamDiffEngine_ObserveFloor(t *testing.T) {
	e := NewStreamDiffEngine(0, false)

	floor, changed := e.ObserveFloor(domain.DesiredUpdate{Streams: []domain.DesiredStream{{StreamID: "A", Role: domain.RolePublisher, IsFloor: true}}})
	assert.True(t, changed)
	assert.Equal(t, domain.StreamID("A"), floor)

	_, changed = e.ObserveFloor(domain.DesiredUpdate{Streams: []domain.DesiredStream{{StreamID: "A", Role: domain.RolePublisher, IsFloor: true}}})
	assert.False(t, changed)

	floor, changed = e.ObserveFloor(domain.DesiredUpdate{})
	assert.True(t, changed)
	assert.Empty(t, floor)
}
