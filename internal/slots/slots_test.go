package slots

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"media-indexer/internal/catalog"
	"media-indexer/internal/mediatypes"
)

func TestPoolAcquireRelease(t *testing.T) {
	p := NewPool(2)
	if p.Size() != 2 {
		t.Fatalf("Size = %d", p.Size())
	}

	a := p.Acquire()
	b := p.Acquire()
	if a == nil || b == nil {
		t.Fatal("expected two free slots")
	}
	if a.Index == b.Index {
		t.Error("same slot acquired twice")
	}
	if p.Acquire() != nil {
		t.Error("third acquire should fail on a full pool")
	}

	p.Release(a)
	if p.Acquire() == nil {
		t.Error("released slot should be acquirable")
	}
}

func TestAcquireResetsState(t *testing.T) {
	p := NewPool(1)
	s := p.Acquire()
	p.ClaimOrPublish(s, "old", catalog.Occurrence{File: "/x"})
	s.ProgressTotal.Store(100)
	s.ProgressValue.Store(50)
	p.Release(s)

	s = p.Acquire()
	if s.id != "" || len(s.occurrences) != 0 {
		t.Error("slot state not reset")
	}
	if s.ProgressTotal.Load() != 0 || s.ProgressValue.Load() != 0 {
		t.Error("progress not reset")
	}
}

func TestClaimOrPublish(t *testing.T) {
	p := NewPool(3)
	owner := p.Acquire()
	other := p.Acquire()
	third := p.Acquire()

	if p.ClaimOrPublish(owner, "fp1", catalog.Occurrence{ID: "fp1", File: "/dup/zero.jpg"}) {
		t.Fatal("first slot on fp1 should become the owner")
	}

	occ := catalog.Occurrence{ID: "fp1", File: "/dup/one.jpg"}
	if !p.ClaimOrPublish(other, "fp1", occ) {
		t.Fatal("sibling working on fp1 should absorb the occurrence")
	}
	// same file again is absorbed, not duplicated
	if !p.ClaimOrPublish(other, "fp1", occ) {
		t.Fatal("repeat claim should still report in-flight")
	}
	// nothing is working on fp2, so the caller becomes its owner
	if p.ClaimOrPublish(third, "fp2", catalog.Occurrence{ID: "fp2", File: "/dup/two.jpg"}) {
		t.Error("first slot on fp2 should become the owner")
	}

	got := p.TakeOccurrences(owner)
	if len(got) != 1 || got[0].File != "/dup/one.jpg" {
		t.Errorf("TakeOccurrences = %v", got)
	}
	if len(p.TakeOccurrences(owner)) != 0 {
		t.Error("second take should be empty")
	}
}

func TestClaimOrPublishExactlyOneOwner(t *testing.T) {
	p := NewPool(2)
	a := p.Acquire()
	b := p.Acquire()

	// two slots racing on the same fingerprint: claim and publish share one
	// critical section, so exactly one may win ownership
	var owners atomic.Int64
	var wg sync.WaitGroup
	for i, s := range []*Slot{a, b} {
		s := s
		occ := catalog.Occurrence{ID: "fp", File: "/dup/" + string(rune('a'+i)) + ".jpg"}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !p.ClaimOrPublish(s, "fp", occ) {
				owners.Add(1)
			}
		}()
	}
	wg.Wait()

	if owners.Load() != 1 {
		t.Fatalf("%d slots claimed ownership of the same fingerprint, want 1", owners.Load())
	}
	handed := len(p.TakeOccurrences(a)) + len(p.TakeOccurrences(b))
	if handed != 1 {
		t.Errorf("owner holds %d handed-over occurrences, want 1", handed)
	}
}

func TestClaimIgnoresInactiveSlots(t *testing.T) {
	p := NewPool(2)
	owner := p.Acquire()
	other := p.Acquire()
	p.ClaimOrPublish(owner, "fp1", catalog.Occurrence{File: "/in/a.jpg"})
	p.Release(owner)

	if p.ClaimOrPublish(other, "fp1", catalog.Occurrence{File: "/x"}) {
		t.Error("released slot should not receive claims")
	}
}

func TestRunProcessesEverything(t *testing.T) {
	p := NewPool(3)
	items := make(chan Item)

	var processed atomic.Int64
	var mu sync.Mutex
	seenSlots := make(map[int]bool)

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(context.Background(), items, func(_ context.Context, item Item, slot *Slot) {
			mu.Lock()
			seenSlots[slot.Index] = true
			mu.Unlock()
			processed.Add(1)
		})
	}()

	const n = 20
	for i := 0; i < n; i++ {
		items <- Item{Kind: mediatypes.KindText, File: "/f"}
	}
	close(items)
	<-done

	if processed.Load() != n {
		t.Errorf("processed %d items, want %d", processed.Load(), n)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seenSlots) == 0 || len(seenSlots) > 3 {
		t.Errorf("used %d slots", len(seenSlots))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	p := NewPool(1)
	items := make(chan Item)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx, items, func(context.Context, Item, *Slot) {})
	}()

	cancel()
	<-done // must return without the channel closing
}
