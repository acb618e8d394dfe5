package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"secure-dialer/internal/models"
)

// Phase is one step of a synthetic call progression. Delay is measured from
// the previous phase (or from Begin for the first one).
type Phase struct {
	Delay    time.Duration
	Status   models.CallPhase
	Progress int
	Step     string
}

// StatusSink receives emitted phases. CallTracker implements it.
type StatusSink interface {
	Upsert(st models.CallStatus)
}

type sequence struct {
	base   models.CallStatus
	phases []Phase
	next   int
	dueAt  time.Time
}

// Progression advances per-call phase sequences from a single dispatcher.
// RingCentral's ring-out request returns once the call is queued and reports no
// further progress in this integration, so the phases after "ringing" are
// synthesized here and flagged Simulated.
type Progression struct {
	mu   sync.Mutex
	seqs map[string]*sequence
	sink StatusSink
	now  func() time.Time
}

func NewProgression(sink StatusSink) *Progression {
	return &Progression{
		seqs: make(map[string]*sequence),
		sink: sink,
		now:  time.Now,
	}
}

// Begin registers phases for base.ID, replacing any sequence already pending for it.
func (p *Progression) Begin(base models.CallStatus, phases []Phase) {
	if len(phases) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seqs[base.ID] = &sequence{
		base:   base,
		phases: phases,
		dueAt:  p.now().Add(phases[0].Delay),
	}
}

// Cancel drops the pending sequence for id, if any.
func (p *Progression) Cancel(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.seqs[id]; ok {
		delete(p.seqs, id)
		log.Printf("[Progression] Cancelled %s", id)
	}
}

func (p *Progression) Pending(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.seqs[id]
	return ok
}

// Advance emits every phase due at or before now and returns how many were
// emitted. Phases of one call come out in order; the lock is held while
// emitting so a concurrent Cancel cannot be overtaken by a stale phase.
func (p *Progression) Advance(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	emitted := 0
	for id, seq := range p.seqs {
		for seq.next < len(seq.phases) && !now.Before(seq.dueAt) {
			ph := seq.phases[seq.next]
			st := seq.base
			st.Status = ph.Status
			st.Progress = ph.Progress
			st.Step = ph.Step
			st.Timestamp = now
			st.Simulated = true
			p.sink.Upsert(st)
			emitted++

			seq.next++
			if seq.next < len(seq.phases) {
				seq.dueAt = seq.dueAt.Add(seq.phases[seq.next].Delay)
			}
		}
		if seq.next >= len(seq.phases) {
			delete(p.seqs, id)
		}
	}
	return emitted
}

// Start runs the dispatcher until ctx is done.
func (p *Progression) Start(ctx context.Context, interval time.Duration) {
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
				p.Advance(now)
			}
		}
	}()
}

// RingOutPhases is the post-"ringing" sequence shown while a ring-out call runs.
func RingOutPhases(name string, connected, answered, completed time.Duration) []Phase {
	return []Phase{
		{Delay: connected, Status: models.PhaseConnected, Progress: 75, Step: "Call connected to " + name},
		{Delay: answered, Status: models.PhaseAnswered, Progress: 90, Step: name + " answered the call"},
		{Delay: completed, Status: models.PhaseCompleted, Progress: 100, Step: "Call with " + name + " completed successfully"},
	}
}
