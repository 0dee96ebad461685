package objective

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/fortiblox/genvm/internal/types"
)

// flaky answers x[0] until down is set, then reports ErrUnavailable.
type flaky struct {
	down  atomic.Bool
	calls atomic.Int32
}

func (f *flaky) Evaluate(x types.Vector) (float64, error) {
	f.calls.Add(1)
	if f.down.Load() {
		return 0, fmt.Errorf("%w: connection refused", ErrUnavailable)
	}
	return x[0], nil
}

func TestPoolRoundRobin(t *testing.T) {
	a, b := &flaky{}, &flaky{}
	p := NewPool()
	p.Add("a", a)
	p.Add("b", b)
	p.Add("a", &flaky{}) // duplicate name ignored

	if p.Size() != 2 {
		t.Fatalf("Size() = %d, want 2", p.Size())
	}
	for i := 0; i < 10; i++ {
		if f, err := p.Evaluate(types.Vec(float64(i), 0)); err != nil || f != float64(i) {
			t.Fatalf("Evaluate() = %g, %v", f, err)
		}
	}
	if a.calls.Load() != 5 || b.calls.Load() != 5 {
		t.Errorf("calls a=%d b=%d, want 5 each", a.calls.Load(), b.calls.Load())
	}
}

func TestPoolFailover(t *testing.T) {
	a, b := &flaky{}, &flaky{}
	p := NewPool()
	p.MaxFailures = 2

	var mu sync.Mutex
	changes := map[string][]bool{}
	p.SetOnHealthChange(func(name string, healthy bool) {
		mu.Lock()
		changes[name] = append(changes[name], healthy)
		mu.Unlock()
	})
	p.Add("a", a)
	p.Add("b", b)

	a.down.Store(true)
	for i := 0; i < 6; i++ {
		if _, err := p.Evaluate(types.Vec(1, 0)); err != nil {
			t.Fatalf("Evaluate() with one server down failed: %v", err)
		}
	}
	if p.HealthyCount() != 1 {
		t.Errorf("HealthyCount() = %d, want 1", p.HealthyCount())
	}
	if got := changes["a"]; len(got) != 1 || got[0] {
		t.Errorf("health changes for a = %v", got)
	}

	// A probe brings a back once it answers again.
	p.ProbeUnhealthy()
	if p.HealthyCount() != 1 {
		t.Error("probe revived a server that is still down")
	}
	a.down.Store(false)
	p.ProbeUnhealthy()
	if p.HealthyCount() != 2 {
		t.Errorf("HealthyCount() after recovery = %d, want 2", p.HealthyCount())
	}
	if got := changes["a"]; len(got) != 2 || !got[1] {
		t.Errorf("health changes for a = %v", got)
	}

	status := p.MemberStatus()
	if len(status) != 2 || status[0].Name != "a" || status[0].LastCheck.IsZero() || status[1].Calls != 6 {
		t.Errorf("MemberStatus() = %+v", status)
	}
}

func TestPoolAllDown(t *testing.T) {
	a := &flaky{}
	a.down.Store(true)
	p := NewPool()
	p.MaxFailures = 1
	p.Add("a", a)

	_, err := p.Evaluate(types.Vec(0, 0))
	if !errors.Is(err, ErrNoHealthyServers) {
		t.Fatalf("Evaluate() = %v, want ErrNoHealthyServers", err)
	}
	if _, err := p.Evaluate(types.Vec(0, 0)); !errors.Is(err, ErrNoHealthyServers) {
		t.Errorf("Evaluate() with no healthy servers = %v", err)
	}
	if a.calls.Load() != 1 {
		t.Errorf("unhealthy server called %d times, want 1", a.calls.Load())
	}
}

func TestPoolObjectiveErrorKeepsHealth(t *testing.T) {
	p := NewPool()
	p.MaxFailures = 1
	p.Add("broken", brokenObjective{})

	_, err := p.Evaluate(types.Vec(0, 0))
	if err == nil || errors.Is(err, ErrNoHealthyServers) {
		t.Errorf("Evaluate() = %v, want the objective's error", err)
	}
	if p.HealthyCount() != 1 {
		t.Error("objective error marked the server unhealthy")
	}
}

func TestPoolOfRemotes(t *testing.T) {
	fn := Table{Index: 1}
	srvA, lisA := startServer(t, DefaultConfig(), fn)
	srvB, lisB := startServer(t, DefaultConfig(), fn)

	p := NewPool()
	p.Add("a", dialBuf(t, DefaultConfig(), lisA))
	p.Add("b", dialBuf(t, DefaultConfig(), lisB))

	for i := 0; i < 4; i++ {
		x := types.Vec(float64(i)/4, -0.5)
		got, err := p.Evaluate(x)
		if err != nil {
			t.Fatalf("Evaluate() failed: %v", err)
		}
		if want, _ := fn.Evaluate(x); got != want {
			t.Errorf("Evaluate(%v) = %g, want %g", x, got, want)
		}
	}
	if srvA.Served() != 2 || srvB.Served() != 2 {
		t.Errorf("served a=%d b=%d, want 2 each", srvA.Served(), srvB.Served())
	}

	if err := p.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}
	if _, err := p.Evaluate(types.Vec(0, 0)); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Evaluate() after Close = %v", err)
	}
}
