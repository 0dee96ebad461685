package dashboard

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fortiblox/genvm/internal/types"
	"github.com/fortiblox/genvm/pkg/asm"
	"github.com/fortiblox/genvm/pkg/evolve"
	"github.com/fortiblox/genvm/pkg/history"
)

// mockHistory implements History for testing.
type mockHistory struct {
	records []*history.Record
}

func (m *mockHistory) Latest() (*history.Record, error) {
	if len(m.records) == 0 {
		return nil, history.ErrEmpty
	}
	return m.records[len(m.records)-1], nil
}

func (m *mockHistory) Range(from, to uint64, fn func(*history.Record) error) error {
	for _, rec := range m.records {
		if rec.Generation >= from && rec.Generation <= to {
			if err := fn(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// mockPopulation implements Population for testing.
type mockPopulation struct {
	inds []types.Individual
}

func (m *mockPopulation) Best(n int) ([]types.Individual, error) {
	return m.inds[:min(n, len(m.inds))], nil
}

func (m *mockPopulation) Get(id types.GenomeID) (*types.Individual, error) {
	for i := range m.inds {
		if m.inds[i].ID == id {
			return &m.inds[i], nil
		}
	}
	return nil, errors.New("not found")
}

func (m *mockPopulation) Count() uint64 { return uint64(len(m.inds)) }

func individual(src string, main float64) types.Individual {
	ind := types.NewIndividual(asm.MustAssemble(src))
	ind.Fitness = types.Fitness{Main: main, Evals: -12, Steps: -300, Length: -float64(len(ind.Genome))}
	return ind
}

func stats(gen uint64, best types.Individual) evolve.Stats {
	return evolve.Stats{
		Generation: gen,
		Best:       best,
		PoolSize:   20,
		Evaluated:  20,
		MeanMain:   -3,
		Duration:   40 * time.Millisecond,
	}
}

func newTestDashboard(t *testing.T, hist History, pop Population) *Dashboard {
	t.Helper()
	d, err := New(DefaultConfig(), hist, pop)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return d
}

func get(t *testing.T, d *Dashboard, path string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	d.Handler().ServeHTTP(rec, req)
	body, _ := io.ReadAll(rec.Body)
	return rec.Code, string(body)
}

func TestNewAppliesDefaults(t *testing.T) {
	d := newTestDashboard(t, nil, nil)
	if d.Address() != "127.0.0.1:8080" {
		t.Errorf("Address() = %q", d.Address())
	}
	if d.config.RecentGenerations != 50 {
		t.Errorf("RecentGenerations = %d", d.config.RecentGenerations)
	}
}

func TestStatusFromObservedGenerations(t *testing.T) {
	d := newTestDashboard(t, nil, nil)
	a := individual("vless 1", -2)
	b := individual("vless 2\nvstore 0", -1)
	d.Observe(stats(1, a))
	d.Observe(stats(2, b))

	code, body := get(t, d, "/api/status")
	if code != http.StatusOK {
		t.Fatalf("GET /api/status = %d", code)
	}
	var status StatusResponse
	if err := json.Unmarshal([]byte(body), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Generation != 2 || status.Observed != 2 || status.Best == nil || status.Best.ID != b.ID.String() {
		t.Errorf("status = %+v", status)
	}
	if status.Best.Fitness[0] != -1 || status.PoolSize != 20 {
		t.Errorf("status best = %+v", status.Best)
	}

	// Without a history store generations come from memory, newest first.
	_, body = get(t, d, "/api/generations")
	var gens []GenerationResponse
	if err := json.Unmarshal([]byte(body), &gens); err != nil {
		t.Fatalf("decode generations: %v", err)
	}
	if len(gens) != 2 || gens[0].Generation != 2 || gens[1].Generation != 1 || gens[0].DurationMs != 40 {
		t.Errorf("generations = %+v", gens)
	}
}

func TestObserveKeepsRecent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecentGenerations = 3
	d, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	ind := individual("nop", 0)
	for g := uint64(1); g <= 10; g++ {
		d.Observe(stats(g, ind))
	}
	gens, _ := d.generations(100)
	if len(gens) != 3 || gens[0].Generation != 10 || gens[2].Generation != 8 {
		t.Errorf("generations = %+v", gens)
	}
	if d.status().Observed != 10 {
		t.Errorf("Observed = %d", d.status().Observed)
	}
}

func TestGenerationsFromHistory(t *testing.T) {
	hist := &mockHistory{}
	best := individual("vless 3", -0.5)
	for g := uint64(1); g <= 8; g++ {
		hist.records = append(hist.records, &history.Record{
			Generation: g,
			Time:       time.Unix(int64(g), 0).UTC(),
			Best:       best,
			PoolSize:   10,
			MeanMain:   math.Inf(-1),
		})
	}
	d := newTestDashboard(t, hist, nil)

	code, body := get(t, d, "/api/generations?n=3")
	if code != http.StatusOK {
		t.Fatalf("GET /api/generations = %d: %s", code, body)
	}
	var gens []GenerationResponse
	if err := json.Unmarshal([]byte(body), &gens); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(gens) != 3 || gens[0].Generation != 8 || gens[2].Generation != 6 {
		t.Fatalf("generations = %+v", gens)
	}
	if gens[0].MeanMain != -math.MaxFloat64 || gens[0].Time == nil {
		t.Errorf("generation 8 = %+v", gens[0])
	}

	empty := newTestDashboard(t, &mockHistory{}, nil)
	if _, body := get(t, empty, "/api/generations"); strings.TrimSpace(body) != "[]" {
		t.Errorf("empty history = %s", body)
	}
}

func TestBestAndGenome(t *testing.T) {
	pop := &mockPopulation{inds: []types.Individual{
		individual("label 1\njump_up 1", 0),
		individual("vless 1", -1),
		individual("vless 2", -2),
	}}
	d := newTestDashboard(t, nil, pop)

	_, body := get(t, d, "/api/best?n=2")
	var best []IndividualResponse
	if err := json.Unmarshal([]byte(body), &best); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(best) != 2 || best[0].ID != pop.inds[0].ID.String() {
		t.Errorf("best = %+v", best)
	}

	code, body := get(t, d, "/api/genomes/"+pop.inds[0].ID.String())
	if code != http.StatusOK {
		t.Fatalf("GET genome = %d: %s", code, body)
	}
	var ind IndividualResponse
	if err := json.Unmarshal([]byte(body), &ind); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ind.Disassembly != asm.Disassemble(pop.inds[0].Genome) || ind.Length != 4 {
		t.Errorf("genome = %+v", ind)
	}

	missing := types.ComputeGenomeID([]byte{1, 2, 3})
	if code, _ := get(t, d, "/api/genomes/"+missing.String()); code != http.StatusNotFound {
		t.Errorf("missing genome = %d, want 404", code)
	}
	if code, _ := get(t, d, "/api/genomes/not-base58!"); code != http.StatusBadRequest {
		t.Errorf("bad id = %d, want 400", code)
	}

	code, page := get(t, d, "/genomes/"+pop.inds[0].ID.String())
	if code != http.StatusOK || !strings.Contains(page, "jump_up 1#--&gt;0") {
		t.Errorf("genome page = %d:\n%s", code, page)
	}
}

func TestPages(t *testing.T) {
	pop := &mockPopulation{inds: []types.Individual{individual("vless 1", -1)}}
	d := newTestDashboard(t, nil, pop)
	d.Observe(stats(7, pop.inds[0]))
	d.SetError(errors.New("objective offline"))

	for _, path := range []string{"/", "/best"} {
		code, body := get(t, d, path)
		if code != http.StatusOK || !strings.Contains(body, "<html") {
			t.Errorf("GET %s = %d", path, code)
		}
	}
	_, home := get(t, d, "/")
	if !strings.Contains(home, "objective offline") || !strings.Contains(home, pop.inds[0].ID.Short()) {
		t.Errorf("home page missing status:\n%s", home)
	}
	if code, _ := get(t, d, "/nowhere"); code != http.StatusNotFound {
		t.Errorf("GET /nowhere = %d", code)
	}
}

func TestAPIMethodNotAllowed(t *testing.T) {
	d := newTestDashboard(t, nil, nil)
	for _, path := range []string{"/api/status", "/api/generations", "/api/best", "/api/metrics"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		rec := httptest.NewRecorder()
		d.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s = %d", path, rec.Code)
		}
	}
}

func TestMetrics(t *testing.T) {
	d := newTestDashboard(t, nil, &mockPopulation{inds: []types.Individual{individual("nop", 0)}})
	_, body := get(t, d, "/api/metrics")
	var m MetricsResponse
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Population != 1 || m.NumCPU == 0 || m.GoVersion == "" {
		t.Errorf("metrics = %+v", m)
	}
}

func TestFormatHelpers(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{formatDuration(42 * time.Second), "42s"},
		{formatDuration(90 * time.Minute), "1h 30m"},
		{formatDuration(50 * time.Hour), "2d 2h"},
		{formatNumber(999), "999"},
		{formatNumber(uint64(12500)), "12.5K"},
		{formatNumber(-0.123456), "-0.1235"},
		{formatFitness([4]float64{-1, -12, -300, -8}), "-1 / -12 / -300 / -8"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
