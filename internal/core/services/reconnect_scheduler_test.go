package services

import (
	"testing"
	"time"

	"sfulink/internal/core/domain"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type firing struct {
	id    domain.StreamID
	token uint64
}

func newTestScheduler() (*ReconnectScheduler, *clock.Mock, chan firing) {
	mock := clock.NewMock()
	fired := make(chan firing, 8)
	s := NewReconnectScheduler(mock, 15*time.Second, 60*time.Second, func(id domain.StreamID, token uint64) {
		fired <- firing{id, token}
	})
	return s, mock, fired
}

func waitFiring(t *testing.T, fired chan firing) firing {
	t.Helper()
	select {
	case f := <-fired:
		return f
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
		return firing{}
	}
}

func TestReconnectScheduler_FirstArmUsesBase(t *testing.T) {
	s, mock, fired := newTestScheduler()

	require.True(t, s.Arm("cam-1"))
	assert.True(t, s.Pending("cam-1"))

	mock.Add(15*time.Second - time.Millisecond)
	assert.Empty(t, fired)

	mock.Add(time.Millisecond)
	f := waitFiring(t, fired)
	assert.True(t, s.Fired(f.id, f.token))
	assert.False(t, s.Pending("cam-1"))
}

func TestReconnectScheduler_ArmIsIdempotentWhilePending(t *testing.T) {
	s, _, _ := newTestScheduler()

	require.True(t, s.Arm("cam-1"))
	assert.False(t, s.Arm("cam-1"))
}

func TestReconnectScheduler_DelaySequenceIsCapped(t *testing.T) {
	s, mock, fired := newTestScheduler()

	var observed []time.Duration
	for i := 0; i < 4; i++ {
		observed = append(observed, s.Delay("cam-1"))
		require.True(t, s.Arm("cam-1"))
		mock.Add(s.Delay("cam-1"))
		f := waitFiring(t, fired)
		require.True(t, s.Fired(f.id, f.token))
		s.Escalate("cam-1")
	}

	assert.Equal(t, []time.Duration{15 * time.Second, 30 * time.Second, 60 * time.Second, 60 * time.Second}, observed)
	for i := 1; i < len(observed); i++ {
		assert.GreaterOrEqual(t, observed[i], observed[i-1])
	}
}

func TestReconnectScheduler_ClearResetsToBase(t *testing.T) {
	s, _, _ := newTestScheduler()

	s.Escalate("cam-1")
	s.Escalate("cam-1")
	assert.Equal(t, 60*time.Second, s.Delay("cam-1"))

	s.Clear("cam-1")
	assert.Equal(t, 15*time.Second, s.Delay("cam-1"))
}

func TestReconnectScheduler_StaleFiringIgnored(t *testing.T) {
	s, mock, fired := newTestScheduler()

	require.True(t, s.Arm("cam-1"))
	s.Clear("cam-1")
	require.True(t, s.Arm("cam-1"))

	mock.Add(15 * time.Second)
	f := waitFiring(t, fired)

	assert.False(t, s.Fired(f.id, f.token-1), "token of the cleared timer")
	assert.True(t, s.Fired(f.id, f.token))
	assert.False(t, s.Fired(f.id, f.token), "second delivery of the same firing")
}

func TestReconnectScheduler_ClearAll(t *testing.T) {
	s, mock, fired := newTestScheduler()

	s.Arm("a")
	s.Arm("b")
	s.ClearAll()

	mock.Add(time.Minute)
	assert.False(t, s.Pending("a"))
	assert.False(t, s.Pending("b"))
	select {
	case f := <-fired:
		t.Fatalf("unexpected firing for %s", f.id)
	case <-time.After(20 * time.Millisecond):
	}
}
