package delivery

import (
	"fmt"
	"sync"

	"bulletin/internal/types"
)

// Stats is the aggregate outcome of a dispatch. Sent+Failed+Bounced+Pending
// equals Total whenever Stats is observed.
type Stats struct {
	types.DispatchStats
	Items []types.DeliveryItem `json:"items,omitempty"`
}

// Observer receives dispatcher events. Calls are serialized: no two hook
// invocations overlap, even though sends within a batch run concurrently.
type Observer interface {
	OnProgress(stats Stats)
	OnError(err error, item types.DeliveryItem)
	OnComplete(stats Stats)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Progress func(Stats)
	Error    func(error, types.DeliveryItem)
	Complete func(Stats)
}

func (f ObserverFuncs) OnProgress(s Stats) {
	if f.Progress != nil {
		f.Progress(s)
	}
}

func (f ObserverFuncs) OnError(err error, item types.DeliveryItem) {
	if f.Error != nil {
		f.Error(err, item)
	}
}

func (f ObserverFuncs) OnComplete(s Stats) {
	if f.Complete != nil {
		f.Complete(s)
	}
}

// tally owns the running counters for one dispatch and serializes observer
// calls under its mutex.
type tally struct {
	mu       sync.Mutex
	stats    types.DispatchStats
	observer Observer
	logger   types.Logger
}

func newTally(total int, observer Observer, logger types.Logger) *tally {
	return &tally{
		stats:    types.DispatchStats{Total: total, Pending: total},
		observer: observer,
		logger:   logger,
	}
}

// resolve moves one item out of pending and notifies the observer.
func (t *tally) resolve(item types.DeliveryItem, cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.Pending--
	switch item.Status {
	case types.DeliverySent:
		t.stats.Sent++
	case types.DeliveryBounced:
		t.stats.Bounced++
	default:
		t.stats.Failed++
	}
	t.stats.SuccessRate = successRate(t.stats)

	if t.observer == nil {
		return
	}
	if cause != nil {
		t.notify("OnError", func() { t.observer.OnError(cause, item) })
	}
	snapshot := Stats{DispatchStats: t.stats}
	t.notify("OnProgress", func() { t.observer.OnProgress(snapshot) })
}

func (t *tally) batchDone() {
	t.mu.Lock()
	t.stats.Batches++
	t.mu.Unlock()
}

func (t *tally) complete(items []*Item) Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := Stats{DispatchStats: t.stats, Items: make([]types.DeliveryItem, len(items))}
	for i, it := range items {
		out.Items[i] = it.Snapshot()
	}
	if t.observer != nil {
		t.notify("OnComplete", func() { t.observer.OnComplete(out) })
	}
	return out
}

// notify runs an observer hook, recovering from panics so a faulty observer
// cannot abort the dispatch.
func (t *tally) notify(hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("dispatch observer panicked", "hook", hook, "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

func successRate(s types.DispatchStats) float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Sent) / float64(s.Total)
}
