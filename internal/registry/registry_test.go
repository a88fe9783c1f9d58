package registry

import (
	"fmt"
	"sync"
	"testing"
)

func TestRegistry_RegisterAndRoute(t *testing.T) {
	r := New()
	r.Register("c1")

	if _, ok := r.CurrentRoom("c1"); ok {
		t.Error("CurrentRoom() for fresh connection should be absent")
	}

	r.SetCurrentRoom("c1", "r1")
	key, ok := r.CurrentRoom("c1")
	if !ok || key != "r1" {
		t.Errorf("CurrentRoom() = %q, %v, want r1, true", key, ok)
	}

	r.SetCurrentRoom("c1", "")
	if _, ok := r.CurrentRoom("c1"); ok {
		t.Error("CurrentRoom() after clearing should be absent")
	}
}

func TestRegistry_UnknownIDsAreNoops(t *testing.T) {
	r := New()
	r.SetCurrentRoom("ghost", "r1")
	if _, ok := r.CurrentRoom("ghost"); ok {
		t.Error("SetCurrentRoom() on unregistered id should be ignored")
	}
	r.Unregister("ghost")
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistry_ReRegisterKeepsRoom(t *testing.T) {
	r := New()
	r.Register("c1")
	r.SetCurrentRoom("c1", "r1")
	r.Register("c1")
	if key, _ := r.CurrentRoom("c1"); key != "r1" {
		t.Errorf("CurrentRoom() = %q, want r1", key)
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			r.Register(id)
			r.SetCurrentRoom(id, "room")
		}(i)
	}
	wg.Wait()

	if r.Len() != 50 {
		t.Errorf("Len() = %d, want 50", r.Len())
	}
	if got := len(r.Connections()); got != 50 {
		t.Errorf("Connections() len = %d, want 50", got)
	}
}
