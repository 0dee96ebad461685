package history

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/fortiblox/genvm/internal/types"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history", "history.db")
	cfg := DefaultConfig(path)
	cfg.NoSync = true
	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func testRecord(gen uint64) *Record {
	best := types.NewIndividual([]byte{23, byte(gen), 17, byte(gen)})
	best.Fitness = types.Fitness{Main: -1 / float64(gen), Evals: -100, Steps: -1000, Length: -4}
	best.Generation = gen
	return &Record{
		Generation: gen,
		Time:       time.Unix(1700000000+int64(gen), 0).UTC(),
		Best:       best,
		PoolSize:   1000,
		Evaluated:  1000,
		MeanMain:   -2.5,
		Duration:   time.Duration(gen) * time.Second,
	}
}

func TestPutGetGeneration(t *testing.T) {
	s, _ := openTestStore(t)

	if _, err := s.Latest(); !errors.Is(err, ErrEmpty) {
		t.Errorf("Latest() on empty store = %v, want ErrEmpty", err)
	}

	for gen := uint64(1); gen <= 3; gen++ {
		if err := s.PutGeneration(testRecord(gen)); err != nil {
			t.Fatalf("PutGeneration(%d) failed: %v", gen, err)
		}
	}

	rec, err := s.GetGeneration(2)
	if err != nil {
		t.Fatalf("GetGeneration(2) failed: %v", err)
	}
	want := testRecord(2)
	if rec.Best.ID != want.Best.ID || rec.Best.Fitness != want.Best.Fitness || !rec.Time.Equal(want.Time) {
		t.Errorf("GetGeneration(2) = %+v, want %+v", rec, want)
	}

	if _, err := s.GetGeneration(9); !errors.Is(err, ErrGenerationNotFound) {
		t.Errorf("GetGeneration(9) = %v, want ErrGenerationNotFound", err)
	}

	latest, err := s.Latest()
	if err != nil || latest.Generation != 3 {
		t.Errorf("Latest() = %v, %v, want generation 3", latest, err)
	}
	if s.Count() != 3 {
		t.Errorf("Count() = %d, want 3", s.Count())
	}

	// Overwriting keeps the count.
	if err := s.PutGeneration(testRecord(2)); err != nil {
		t.Fatalf("PutGeneration() failed: %v", err)
	}
	if s.Count() != 3 {
		t.Errorf("Count() after overwrite = %d, want 3", s.Count())
	}
}

func TestRange(t *testing.T) {
	s, _ := openTestStore(t)
	for gen := uint64(1); gen <= 10; gen++ {
		if err := s.PutGeneration(testRecord(gen)); err != nil {
			t.Fatalf("PutGeneration(%d) failed: %v", gen, err)
		}
	}

	var got []uint64
	err := s.Range(4, 7, func(r *Record) error {
		got = append(got, r.Generation)
		return nil
	})
	if err != nil {
		t.Fatalf("Range() failed: %v", err)
	}
	if len(got) != 4 || got[0] != 4 || got[3] != 7 {
		t.Errorf("Range(4, 7) = %v", got)
	}

	stop := errors.New("stop")
	n := 0
	err = s.Range(0, 100, func(*Record) error {
		n++
		if n == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) || n != 2 {
		t.Errorf("Range() with stop = %v after %d records", err, n)
	}
}

func TestPrune(t *testing.T) {
	s, _ := openTestStore(t)
	for gen := uint64(1); gen <= 10; gen++ {
		if err := s.PutGeneration(testRecord(gen)); err != nil {
			t.Fatalf("PutGeneration(%d) failed: %v", gen, err)
		}
	}

	pruned, err := s.Prune(3)
	if err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}
	if pruned != 7 || s.Count() != 3 {
		t.Errorf("Prune(3) removed %d, count %d; want 7 and 3", pruned, s.Count())
	}
	if _, err := s.GetGeneration(7); !errors.Is(err, ErrGenerationNotFound) {
		t.Errorf("generation 7 survived pruning: %v", err)
	}
	if _, err := s.GetGeneration(8); err != nil {
		t.Errorf("generation 8 pruned: %v", err)
	}

	if pruned, _ := s.Prune(50); pruned != 0 {
		t.Errorf("Prune(50) removed %d", pruned)
	}
}

func TestReopen(t *testing.T) {
	s, path := openTestStore(t)
	for gen := uint64(1); gen <= 5; gen++ {
		if err := s.PutGeneration(testRecord(gen)); err != nil {
			t.Fatalf("PutGeneration(%d) failed: %v", gen, err)
		}
	}
	if err := s.SetCommandSystem("abc123"); err != nil {
		t.Fatalf("SetCommandSystem() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if _, err := s.GetGeneration(1); !errors.Is(err, ErrClosed) {
		t.Errorf("GetGeneration() after Close = %v, want ErrClosed", err)
	}

	cfg := DefaultConfig(path)
	cfg.ReadOnly = true
	r, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer r.Close()

	if r.Count() != 5 {
		t.Errorf("Count() after reopen = %d, want 5", r.Count())
	}
	latest, err := r.Latest()
	if err != nil || latest.Generation != 5 {
		t.Errorf("Latest() after reopen = %v, %v", latest, err)
	}
	if cs, _ := r.CommandSystem(); cs != "abc123" {
		t.Errorf("CommandSystem() = %q", cs)
	}
}
