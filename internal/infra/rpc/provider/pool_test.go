package provider

import (
	"errors"
	"sync"
	"testing"

	"github.com/vietddude/apex/internal/core/domain"
)

type fakeProvider struct {
	mu        sync.Mutex
	name      string
	available bool
	closed    bool
}

func (f *fakeProvider) GetName() string { return f.name }

func (f *fakeProvider) GetHealth() HealthStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return HealthStatus{Available: f.available}
}

func (f *fakeProvider) IsAvailable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available
}

func (f *fakeProvider) HasQuotaRemaining() bool { return true }
func (f *fakeProvider) HasCapacity(int) bool    { return true }

func (f *fakeProvider) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeProvider) setAvailable(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.available = v
}

func TestPool_RoundRobin(t *testing.T) {
	pool := NewPool(domain.ChainIDEthereum, 0)
	a := &fakeProvider{name: "a", available: true}
	b := &fakeProvider{name: "b", available: true}
	pool.Add(a)
	pool.Add(b)

	want := []string{"a", "b", "a", "b"}
	for i, expected := range want {
		p, err := pool.Next()
		if err != nil {
			t.Fatalf("next %d: %v", i, err)
		}
		if p.GetName() != expected {
			t.Errorf("next %d: expected %s, got %s", i, expected, p.GetName())
		}
	}
}

func TestPool_SkipsDeadEndpoints(t *testing.T) {
	pool := NewPool(domain.ChainIDEthereum, 0)
	a := &fakeProvider{name: "a", available: false}
	b := &fakeProvider{name: "b", available: true}
	pool.Add(a)
	pool.Add(b)

	for i := 0; i < 3; i++ {
		p, err := pool.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if p.GetName() != "b" {
			t.Errorf("expected b while a is dead, got %s", p.GetName())
		}
	}

	a.setAvailable(true)
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		p, _ := pool.Next()
		seen[p.GetName()] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Errorf("expected both endpoints back in rotation, got %v", seen)
	}
}

func TestPool_Exhausted(t *testing.T) {
	pool := NewPool(domain.ChainIDPolkadot, 0)

	if _, err := pool.Next(); !errors.Is(err, domain.ErrPoolExhausted) {
		t.Fatalf("empty pool: expected ErrPoolExhausted, got %v", err)
	}

	a := &fakeProvider{name: "a", available: false}
	pool.Add(a)
	if _, err := pool.Next(); !errors.Is(err, domain.ErrPoolExhausted) {
		t.Fatalf("all dead: expected ErrPoolExhausted, got %v", err)
	}
}

func TestPool_SweepReportsTransitions(t *testing.T) {
	pool := NewPool(domain.ChainIDEthereum, 0)

	var mu sync.Mutex
	type change struct {
		endpoint string
		from, to EndpointStatus
	}
	var changes []change
	pool.OnStateChange(func(chain domain.ChainID, endpoint string, from, to EndpointStatus) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, change{endpoint, from, to})
	})

	a := &fakeProvider{name: "a", available: true}
	pool.Add(a)

	pool.Sweep()
	mu.Lock()
	if len(changes) != 0 {
		t.Fatalf("no transition expected while healthy, got %v", changes)
	}
	mu.Unlock()

	a.setAvailable(false)
	pool.Sweep()

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 1 {
		t.Fatalf("expected one transition, got %d", len(changes))
	}
	if changes[0].endpoint != "a" || changes[0].from != StatusHealthy || changes[0].to != StatusDead {
		t.Errorf("unexpected transition: %+v", changes[0])
	}
}

func TestPool_CloseClosesEndpoints(t *testing.T) {
	pool := NewPool(domain.ChainIDEthereum, 0)
	a := &fakeProvider{name: "a", available: true}
	pool.Add(a)

	if err := pool.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !a.closed {
		t.Error("expected endpoint to be closed")
	}
	// Double close must not panic
	if err := pool.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
