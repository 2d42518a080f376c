package registry

import (
	"sync"
	"testing"
)

type fakeSession struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeSession) Send(event string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func TestRegisterOverwrites(t *testing.T) {
	r := New()
	h1 := &fakeSession{}
	h2 := &fakeSession{}
	r.Register("user-1", h1)
	r.Register("user-1", h2)
	got, ok := r.Lookup("user-1")
	if !ok || got != h2 {
		t.Fatalf("expected h2 after overwrite, got %v ok=%v", got, ok)
	}
	// removing the stale handle must not disturb the fresh mapping
	r.Remove(h1)
	if got, ok := r.Lookup("user-1"); !ok || got != h2 {
		t.Fatalf("remove of old handle evicted fresh entry: %v ok=%v", got, ok)
	}
}

func TestRemoveEvictsAllActorsOnHandle(t *testing.T) {
	r := New()
	shared := &fakeSession{}
	r.Register("user-1", shared)
	r.Register("driver-9", shared)
	r.Remove(shared)
	if _, ok := r.Lookup("user-1"); ok {
		t.Fatal("user-1 should be evicted")
	}
	if _, ok := r.Lookup("driver-9"); ok {
		t.Fatal("driver-9 should be evicted")
	}
	if r.Size() != 0 {
		t.Fatalf("expected empty registry, size=%d", r.Size())
	}
}

func TestNotifyAbsentActor(t *testing.T) {
	r := New()
	if r.Notify("ghost", "newBookingRequest", nil) {
		t.Fatal("notify of unregistered actor should report false")
	}
}

func TestConcurrentRegisterLookupRemove(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		s := &fakeSession{}
		go func() { defer wg.Done(); r.Register("driver-1", s) }()
		go func() { defer wg.Done(); r.Lookup("driver-1") }()
		go func() { defer wg.Done(); r.Remove(s) }()
	}
	wg.Wait()
}
