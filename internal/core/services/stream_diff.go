package services

import (
	"sort"
	"time"

	"sfulink/internal/core/domain"

	"github.com/bep/debounce"
)

// StreamDiff is the outcome of one reconciliation pass
type StreamDiff struct {
	ToConnect    []domain.DesiredStream
	ToDisconnect []domain.StreamID
}

// Empty reports whether the pass has nothing to do
func (d StreamDiff) Empty() bool {
	return len(d.ToConnect) == 0 && len(d.ToDisconnect) == 0
}

// Diff computes Desired - Connected and Connected - Desired by stream id.
// ToConnect keeps desired-list order, ToDisconnect is sorted.
func Diff(desired []domain.DesiredStream, connected []domain.StreamID) StreamDiff {
	live := make(map[domain.StreamID]struct{}, len(connected))
	for _, id := range connected {
		live[id] = struct{}{}
	}

	wanted := make(map[domain.StreamID]struct{}, len(desired))
	var d StreamDiff
	for _, s := range desired {
		if _, dup := wanted[s.StreamID]; dup {
			continue
		}
		wanted[s.StreamID] = struct{}{}
		if _, ok := live[s.StreamID]; !ok {
			d.ToConnect = append(d.ToConnect, s)
		}
	}

	for id := range live {
		if _, ok := wanted[id]; !ok {
			d.ToDisconnect = append(d.ToDisconnect, id)
		}
	}
	sort.Slice(d.ToDisconnect, func(i, j int) bool { return d.ToDisconnect[i] < d.ToDisconnect[j] })

	return d
}

// StreamDiffEngine reconciles desired updates against the connected set and
// coalesces connects caused by pagination.
type StreamDiffEngine struct {
	paginationEnabled bool
	debounced         func(f func())
	floor             domain.StreamID
}

func NewStreamDiffEngine(window time.Duration, paginationEnabled bool) *StreamDiffEngine {
	e := &StreamDiffEngine{paginationEnabled: paginationEnabled}
	if window > 0 {
		e.debounced = debounce.New(window)
	}
	return e
}

// Plan returns the diff to apply now. When the update is a page change the
// connects are withheld and deferred is true; the caller recomputes them
// through Defer. Disconnects are never withheld.
func (e *StreamDiffEngine) Plan(update domain.DesiredUpdate, connected []domain.StreamID) (now StreamDiff, deferred bool) {
	d := Diff(update.Streams, connected)
	if update.PageChanged && e.paginationEnabled && e.debounced != nil && len(d.ToConnect) > 0 {
		return StreamDiff{ToDisconnect: d.ToDisconnect}, true
	}
	return d, false
}

// Defer schedules fn after the debounce window; later calls replace earlier ones.
func (e *StreamDiffEngine) Defer(fn func()) {
	if e.debounced == nil {
		fn()
		return
	}
	e.debounced(fn)
}

// ObserveFloor records the floor stream of an update and reports whether it changed.
func (e *StreamDiffEngine) ObserveFloor(update domain.DesiredUpdate) (domain.StreamID, bool) {
	floor := update.Floor()
	if floor == e.floor {
		return floor, false
	}
	e.floor = floor
	return floor, true
}

// Floor returns the last observed floor stream
func (e *StreamDiffEngine) Floor() domain.StreamID {
	return e.floor
}
