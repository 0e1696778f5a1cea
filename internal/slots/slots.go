package slots

import (
	"context"
	"sync"
	"sync/atomic"

	"media-indexer/internal/catalog"
	"media-indexer/internal/logging"
	"media-indexer/internal/mediatypes"
)

// Item is one unit of conversion work dequeued from the scanner.
type Item struct {
	Kind mediatypes.Kind
	File string
}

// Slot is one fixed lane of the conversion pool. A slot runs at most one
// pipeline task at a time; its id and occurrence list are mutated only under
// the pool lock while the slot is active.
type Slot struct {
	Index int
	Row   int

	// ProgressTotal and ProgressValue expose transcode progress in
	// milliseconds, observable independently of any UI. Total stays 0
	// until the tool reports a duration.
	ProgressTotal atomic.Int64
	ProgressValue atomic.Int64

	active      bool
	id          string
	occurrences []catalog.Occurrence
}

// Pool is the fixed-size slot pool. It bounds conversion concurrency and
// carries the in-flight dedup state.
type Pool struct {
	mu    sync.Mutex
	slots []*Slot
}

// NewPool creates a pool of n slots. Row numbers are assigned top-down for
// the terminal UI.
func NewPool(n int) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{slots: make([]*Slot, n)}
	for i := range p.slots {
		p.slots[i] = &Slot{Index: i, Row: i}
	}
	return p
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return len(p.slots)
}

// Acquire claims the first free slot, or nil when every slot is busy. Workers
// sized to the pool never see nil.
func (p *Pool) Acquire() *Slot {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range p.slots {
		if !s.active {
			s.active = true
			s.id = ""
			s.occurrences = nil
			s.ProgressTotal.Store(0)
			s.ProgressValue.Store(0)
			return s
		}
	}
	return nil
}

// Release frees a slot after its task returns, successful or not.
func (p *Pool) Release(s *Slot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s.active = false
	s.id = ""
	s.occurrences = nil
}

// ClaimOrPublish resolves fingerprint ownership in one critical section. If
// another active slot already owns id, occ is appended to that slot's
// occurrence list and true is returned; the caller must then abandon its own
// task. Otherwise the calling slot becomes the owner and false is returned.
// Claim and publish share the lock so two slots hashing identical files can
// never both end up owning the fingerprint.
func (p *Pool) ClaimOrPublish(self *Slot, id string, occ catalog.Occurrence) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, other := range p.slots {
		if other == self || !other.active || other.id != id {
			continue
		}
		for _, existing := range other.occurrences {
			if existing.File == occ.File {
				return true
			}
		}
		other.occurrences = append(other.occurrences, occ)
		logging.Debug("slot %d handed %s to slot %d (in-flight %s)",
			self.Index, occ.File, other.Index, id)
		return true
	}

	self.id = id
	return false
}

// TakeOccurrences drains the occurrences sibling slots handed to s. Called
// once when the owning pipeline builds its record.
func (p *Pool) TakeOccurrences(s *Slot) []catalog.Occurrence {
	p.mu.Lock()
	defer p.mu.Unlock()
	occ := s.occurrences
	s.occurrences = nil
	return occ
}

// Handler runs one conversion in a slot.
type Handler func(ctx context.Context, item Item, slot *Slot)

// Run consumes items until the channel closes or ctx is cancelled, running
// each in a free slot with one worker per slot. Completion order is not
// arrival order.
func (p *Pool) Run(ctx context.Context, items <-chan Item, handle Handler) {
	var wg sync.WaitGroup
	for i := 0; i < len(p.slots); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case item, ok := <-items:
					if !ok {
						return
					}
					slot := p.Acquire()
					if slot == nil {
						// one worker per slot makes this unreachable
						logging.Error("no free slot for %s", item.File)
						continue
					}
					handle(ctx, item, slot)
					p.Release(slot)
				}
			}
		}()
	}
	wg.Wait()
}
