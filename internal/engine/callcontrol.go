package engine

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"secure-dialer/internal/events"
	"secure-dialer/internal/models"
	"secure-dialer/pkg/utils"
)

// DefaultStatusTTL is how long a terminal call status stays visible.
const DefaultStatusTTL = 5 * time.Second

// clearedRetention must outlast a provider request so a call cleared while
// its ring-out is pending stays cleared.
const clearedRetention = time.Minute

// Publisher receives tracker changes (the events bus in production).
type Publisher interface {
	Publish(ev events.CallEvent)
}

type trackedCall struct {
	status models.CallStatus
	// expireAt is set only when this exact record was stored with a terminal
	// phase. Replacing the record replaces expireAt with it.
	expireAt time.Time
}

// CallTracker is the registry of in-flight and recently finished call attempts.
// It is passive: phases are pushed in by the Dialer and the Progression.
type CallTracker struct {
	mu      sync.RWMutex
	calls   map[string]*trackedCall
	cleared map[string]time.Time // id -> when the tombstone lapses
	ttl     time.Duration
	bus     Publisher
	onClear []func(id string)
	now     func() time.Time
}

func NewCallTracker(ttl time.Duration, bus Publisher) *CallTracker {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &CallTracker{
		calls:   make(map[string]*trackedCall),
		cleared: make(map[string]time.Time),
		ttl:     ttl,
		bus:     bus,
		now:     time.Now,
	}
}

// OnClear registers fn to run after an explicit Clear (not after expiry).
func (t *CallTracker) OnClear(fn func(id string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClear = append(t.onClear, fn)
}

// Upsert inserts the status or replaces the record with the same id. Nothing
// of the previous record survives, including a pending expiry. Statuses for
// an id that was cleared are dropped.
func (t *CallTracker) Upsert(st models.CallStatus) {
	if st.Timestamp.IsZero() {
		st.Timestamp = t.now()
	}
	rec := &trackedCall{status: st}
	if st.Status.Terminal() {
		rec.expireAt = t.now().Add(t.ttl)
	}

	t.mu.Lock()
	if _, gone := t.cleared[st.ID]; gone {
		t.mu.Unlock()
		return
	}
	t.calls[st.ID] = rec
	t.updateGaugeLocked()
	t.mu.Unlock()

	t.publish(events.CallEvent{Type: events.CallUpdated, Status: st})
}

// Clear removes the record immediately and keeps later phases for the same id
// out. Clearing an unknown id only leaves the tombstone.
func (t *CallTracker) Clear(id string) {
	t.mu.Lock()
	t.cleared[id] = t.now().Add(clearedRetention)
	rec, ok := t.calls[id]
	if ok {
		delete(t.calls, id)
		t.updateGaugeLocked()
	}
	hooks := append([]func(string){}, t.onClear...)
	t.mu.Unlock()

	for _, fn := range hooks {
		fn(id)
	}
	if ok {
		log.Printf("[Tracker] Status %s cleared", id)
		t.publish(events.CallEvent{Type: events.CallCleared, Status: rec.status})
	}
}

// Cleared reports whether id was explicitly cleared.
func (t *CallTracker) Cleared(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.cleared[id]
	return ok
}

func (t *CallTracker) Get(id string) (models.CallStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.calls[id]
	if !ok {
		return models.CallStatus{}, false
	}
	return rec.status, true
}

// List returns a snapshot ordered by timestamp, then id.
func (t *CallTracker) List() []models.CallStatus {
	t.mu.RLock()
	list := make([]models.CallStatus, 0, len(t.calls))
	for _, rec := range t.calls {
		list = append(list, rec.status)
	}
	t.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if !list[i].Timestamp.Equal(list[j].Timestamp) {
			return list[i].Timestamp.Before(list[j].Timestamp)
		}
		return list[i].ID < list[j].ID
	})
	return list
}

// Sweep removes terminal records whose expiry is at or before now and
// returns how many were removed.
func (t *CallTracker) Sweep(now time.Time) int {
	var expired []models.CallStatus

	t.mu.Lock()
	for id, rec := range t.calls {
		if !rec.expireAt.IsZero() && !now.Before(rec.expireAt) {
			delete(t.calls, id)
			expired = append(expired, rec.status)
		}
	}
	if len(expired) > 0 {
		t.updateGaugeLocked()
	}
	for id, until := range t.cleared {
		if !now.Before(until) {
			delete(t.cleared, id)
		}
	}
	t.mu.Unlock()

	for _, st := range expired {
		t.publish(events.CallEvent{Type: events.CallCleared, Status: st})
	}
	return len(expired)
}

// Start runs the expiry sweeper until ctx is done.
func (t *CallTracker) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				t.Sweep(now)
			}
		}
	}()
}

func (t *CallTracker) updateGaugeLocked() {
	active := 0
	for _, rec := range t.calls {
		if !rec.status.Status.Terminal() {
			active++
		}
	}
	utils.ActiveCalls.Set(float64(active))
}

func (t *CallTracker) publish(ev events.CallEvent) {
	if t.bus != nil {
		t.bus.Publish(ev)
	}
}
