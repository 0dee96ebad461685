package dashboard

import (
	"encoding/hex"
	"errors"
	"math"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/fortiblox/genvm/internal/types"
	"github.com/fortiblox/genvm/pkg/asm"
	"github.com/fortiblox/genvm/pkg/evolve"
	"github.com/fortiblox/genvm/pkg/history"
)

// API response types

// StatusResponse is the response for GET /api/status.
type StatusResponse struct {
	Running           bool                `json:"running"`
	Generation        uint64              `json:"generation"`
	Observed          uint64              `json:"observed"`
	Best              *IndividualResponse `json:"best,omitempty"`
	MeanMain          float64             `json:"meanMain"`
	PoolSize          int                 `json:"poolSize"`
	Failed            int                 `json:"failed"`
	LastDuration      string              `json:"lastDuration,omitempty"`
	GenerationsPerSec float64             `json:"generationsPerSec"`
	Population        uint64              `json:"population"`
	Uptime            string              `json:"uptime"`
	UptimeSeconds     float64             `json:"uptimeSeconds"`
	LastError         string              `json:"lastError,omitempty"`
}

// GenerationResponse summarises one generation.
type GenerationResponse struct {
	Generation uint64     `json:"generation"`
	Time       *time.Time `json:"time,omitempty"`
	BestID     string     `json:"bestId"`
	Fitness    [4]float64 `json:"fitness"`
	MeanMain   float64    `json:"meanMain"`
	PoolSize   int        `json:"poolSize"`
	Failed     int        `json:"failed"`
	DurationMs float64    `json:"durationMs"`
}

// IndividualResponse is the response for GET /api/genomes/:id.
type IndividualResponse struct {
	ID          string     `json:"id"`
	Short       string     `json:"short"`
	Generation  uint64     `json:"generation"`
	Fitness     [4]float64 `json:"fitness"`
	Length      int        `json:"length"`
	Hexcode     string     `json:"hexcode"`
	Disassembly string     `json:"disassembly,omitempty"`
}

// MetricsResponse is the response for GET /api/metrics.
type MetricsResponse struct {
	// Memory stats
	MemAlloc      uint64 `json:"memAlloc"`
	MemTotalAlloc uint64 `json:"memTotalAlloc"`
	MemSys        uint64 `json:"memSys"`
	MemHeapInuse  uint64 `json:"memHeapInuse"`
	NumGC         uint32 `json:"numGC"`

	// Runtime stats
	NumGoroutine int    `json:"numGoroutine"`
	NumCPU       int    `json:"numCPU"`
	GoVersion    string `json:"goVersion"`

	Population uint64  `json:"population"`
	Observed   uint64  `json:"observed"`
	Uptime     float64 `json:"uptimeSeconds"`
}

// finite maps values JSON cannot carry into range: NaN to 0 and the
// infinities to the largest float.
func finite(x float64) float64 {
	switch {
	case math.IsNaN(x):
		return 0
	case math.IsInf(x, 1):
		return math.MaxFloat64
	case math.IsInf(x, -1):
		return -math.MaxFloat64
	}
	return x
}

func fitnessArray(f types.Fitness) [4]float64 {
	return [4]float64{finite(f.Main), finite(f.Evals), finite(f.Steps), finite(f.Length)}
}

func newIndividualResponse(ind *types.Individual) IndividualResponse {
	return IndividualResponse{
		ID:         ind.ID.String(),
		Short:      ind.ID.Short(),
		Generation: ind.Generation,
		Fitness:    fitnessArray(ind.Fitness),
		Length:     len(ind.Genome),
		Hexcode:    hex.EncodeToString(ind.Genome),
	}
}

func newGenerationFromStats(s evolve.Stats) GenerationResponse {
	return GenerationResponse{
		Generation: s.Generation,
		BestID:     s.Best.ID.String(),
		Fitness:    fitnessArray(s.Best.Fitness),
		MeanMain:   finite(s.MeanMain),
		PoolSize:   s.PoolSize,
		Failed:     s.Failed,
		DurationMs: float64(s.Duration) / float64(time.Millisecond),
	}
}

func newGenerationFromRecord(rec *history.Record) GenerationResponse {
	t := rec.Time
	return GenerationResponse{
		Generation: rec.Generation,
		Time:       &t,
		BestID:     rec.Best.ID.String(),
		Fitness:    fitnessArray(rec.Best.Fitness),
		MeanMain:   finite(rec.MeanMain),
		PoolSize:   rec.PoolSize,
		Failed:     rec.Failed,
		DurationMs: float64(rec.Duration) / float64(time.Millisecond),
	}
}

// queryInt reads a positive integer query parameter, bounded to 1000.
func queryInt(r *http.Request, name string, def int) int {
	if s := r.URL.Query().Get(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return min(v, 1000)
		}
	}
	return def
}

// handleAPIStatus handles GET /api/status.
func (d *Dashboard) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, d.status())
}

// handleAPIGenerations handles GET /api/generations?n=N.
func (d *Dashboard) handleAPIGenerations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	gens, err := d.generations(queryInt(r, "n", d.config.RecentGenerations))
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if gens == nil {
		gens = []GenerationResponse{}
	}
	writeJSON(w, gens)
}

// handleAPIBest handles GET /api/best?n=N.
func (d *Dashboard) handleAPIBest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	inds, err := d.best(queryInt(r, "n", 10))
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, inds)
}

// handleAPIGenome handles GET /api/genomes/:id.
func (d *Dashboard) handleAPIGenome(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	idStr := strings.TrimPrefix(r.URL.Path, "/api/genomes/")
	if idStr == "" {
		writeError(w, "Genome id required", http.StatusBadRequest)
		return
	}

	ind, err := d.lookup(idStr)
	switch {
	case errors.Is(err, errGenomeNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := newIndividualResponse(ind)
	resp.Disassembly = asm.Disassemble(ind.Genome)
	writeJSON(w, resp)
}

// handleAPIMetrics handles GET /api/metrics.
func (d *Dashboard) handleAPIMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	resp := MetricsResponse{
		MemAlloc:      memStats.Alloc,
		MemTotalAlloc: memStats.TotalAlloc,
		MemSys:        memStats.Sys,
		MemHeapInuse:  memStats.HeapInuse,
		NumGC:         memStats.NumGC,

		NumGoroutine: runtime.NumGoroutine(),
		NumCPU:       runtime.NumCPU(),
		GoVersion:    runtime.Version(),
	}
	if d.population != nil {
		resp.Population = d.population.Count()
	}

	d.mu.RLock()
	resp.Observed = d.observed
	resp.Uptime = time.Since(d.startTime).Seconds()
	d.mu.RUnlock()

	writeJSON(w, resp)
}
