// Package dashboard provides an embedded web dashboard for monitoring an
// evolution run.
//
// The dashboard provides:
// - Live progress of the running engine
// - Recent generations from the history store
// - The best stored individuals and a listing of any genome
// - Process metrics (memory, goroutines, uptime)
//
// Templates are compiled into the binary, so the dashboard needs no assets
// on disk.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fortiblox/genvm/internal/types"
	"github.com/fortiblox/genvm/pkg/asm"
	"github.com/fortiblox/genvm/pkg/evolve"
	"github.com/fortiblox/genvm/pkg/history"
)

// Config holds dashboard configuration options.
type Config struct {
	// BindAddress is the address to bind the HTTP server to.
	// Default: "127.0.0.1"
	BindAddress string

	// Port is the port to listen on.
	// Default: 8080
	Port int

	// RecentGenerations is how many generations are kept in memory when no
	// history store is attached, and shown on the overview page.
	RecentGenerations int

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration

	// IdleTimeout is the maximum time to wait for the next request.
	IdleTimeout time.Duration
}

// DefaultConfig returns the default dashboard configuration.
func DefaultConfig() Config {
	return Config{
		BindAddress:       "127.0.0.1",
		Port:              8080,
		RecentGenerations: 50,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// History is the part of the history store the dashboard reads.
type History interface {
	Latest() (*history.Record, error)
	Range(from, to uint64, fn func(*history.Record) error) error
}

// Population is the part of the population store the dashboard reads.
type Population interface {
	Best(n int) ([]types.Individual, error)
	Get(id types.GenomeID) (*types.Individual, error)
	Count() uint64
}

// Dashboard is the web dashboard server.
type Dashboard struct {
	config     Config
	server     *http.Server
	history    History
	population Population

	templates *template.Template

	mu        sync.RWMutex
	running   bool
	startTime time.Time
	recent    []evolve.Stats
	observed  uint64
	lastErr   error
}

// New creates a dashboard. Either store may be nil; the dashboard then
// falls back to the generations it has observed.
func New(config Config, hist History, pop Population) (*Dashboard, error) {
	def := DefaultConfig()
	if config.BindAddress == "" {
		config.BindAddress = def.BindAddress
	}
	if config.Port == 0 {
		config.Port = def.Port
	}
	if config.RecentGenerations <= 0 {
		config.RecentGenerations = def.RecentGenerations
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = def.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = def.WriteTimeout
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = def.IdleTimeout
	}

	d := &Dashboard{
		config:     config,
		history:    hist,
		population: pop,
		startTime:  time.Now(),
	}

	tmpl, err := d.parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	d.templates = tmpl
	return d, nil
}

// Observe records a completed generation. It matches evolve.OnGeneration
// apart from the return value.
func (d *Dashboard) Observe(s evolve.Stats) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observed++
	d.recent = append(d.recent, s)
	if over := len(d.recent) - d.config.RecentGenerations; over > 0 {
		d.recent = append(d.recent[:0], d.recent[over:]...)
	}
}

// SetError records the error that ended the run, if any.
func (d *Dashboard) SetError(err error) {
	d.mu.Lock()
	d.lastErr = err
	d.mu.Unlock()
}

// parseTemplates parses all embedded templates.
func (d *Dashboard) parseTemplates() (*template.Template, error) {
	funcMap := template.FuncMap{
		"formatDuration": formatDuration,
		"formatNumber":   formatNumber,
		"formatFitness":  formatFitness,
	}

	tmpl := template.New("").Funcs(funcMap)
	if _, err := tmpl.New("layout").Parse(layoutTemplate); err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}

	templates := map[string]string{
		"home":   homeTemplate,
		"best":   bestTemplate,
		"genome": genomeTemplate,
	}
	for name, content := range templates {
		if _, err := tmpl.New(name).Parse(content); err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
	}
	return tmpl, nil
}

// Handler returns the dashboard's routes.
func (d *Dashboard) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", d.handleHome)
	mux.HandleFunc("/best", d.handleBest)
	mux.HandleFunc("/genomes/", d.handleGenome)

	mux.HandleFunc("/api/status", d.handleAPIStatus)
	mux.HandleFunc("/api/generations", d.handleAPIGenerations)
	mux.HandleFunc("/api/best", d.handleAPIBest)
	mux.HandleFunc("/api/genomes/", d.handleAPIGenome)
	mux.HandleFunc("/api/metrics", d.handleAPIMetrics)
	return mux
}

// Start serves the dashboard until ctx is cancelled.
func (d *Dashboard) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("dashboard already running")
	}
	d.running = true
	d.mu.Unlock()

	d.server = &http.Server{
		Addr:         d.Address(),
		Handler:      d.Handler(),
		ReadTimeout:  d.config.ReadTimeout,
		WriteTimeout: d.config.WriteTimeout,
		IdleTimeout:  d.config.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		d.Stop()
	}()

	if err := d.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the dashboard server.
func (d *Dashboard) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	if d.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return d.server.Shutdown(ctx)
	}
	return nil
}

// Address returns the address the dashboard listens on.
func (d *Dashboard) Address() string {
	return net.JoinHostPort(d.config.BindAddress, fmt.Sprint(d.config.Port))
}

// handleHome renders the overview page.
func (d *Dashboard) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	gens, err := d.generations(d.config.RecentGenerations)
	data := map[string]interface{}{
		"Status":      d.status(),
		"Generations": gens,
	}
	if err != nil {
		data["HistoryErr"] = err.Error()
	}
	d.renderPage(w, "home", data)
}

// handleBest renders the best stored individuals.
func (d *Dashboard) handleBest(w http.ResponseWriter, r *http.Request) {
	inds, err := d.best(queryInt(r, "n", 25))
	data := map[string]interface{}{
		"Individuals": inds,
	}
	if err != nil {
		data["Error"] = err.Error()
	}
	d.renderPage(w, "best", data)
}

// handleGenome renders a genome listing.
func (d *Dashboard) handleGenome(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/genomes/")
	if idStr == "" {
		http.Redirect(w, r, "/best", http.StatusFound)
		return
	}

	ind, err := d.lookup(idStr)
	if err != nil {
		d.renderPage(w, "genome", map[string]interface{}{
			"Error": err.Error(),
			"ID":    idStr,
		})
		return
	}

	var listing strings.Builder
	opts := asm.DefaultListingOptions()
	opts.ShowDead = false
	if err := asm.Listing(&listing, ind.Genome, opts); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	d.renderPage(w, "genome", map[string]interface{}{
		"Individual": newIndividualResponse(ind),
		"Listing":    listing.String(),
	})
}

// status summarises the run.
func (d *Dashboard) status() StatusResponse {
	d.mu.RLock()
	defer d.mu.RUnlock()

	uptime := time.Since(d.startTime)
	resp := StatusResponse{
		Running:       d.running,
		Observed:      d.observed,
		Uptime:        formatDuration(uptime),
		UptimeSeconds: uptime.Seconds(),
	}
	if n := len(d.recent); n > 0 {
		last := d.recent[n-1]
		best := newIndividualResponse(&last.Best)
		resp.Generation = last.Generation
		resp.Best = &best
		resp.MeanMain = finite(last.MeanMain)
		resp.PoolSize = last.PoolSize
		resp.Failed = last.Failed
		resp.LastDuration = last.Duration.String()
	}
	if uptime > 0 {
		resp.GenerationsPerSec = float64(d.observed) / uptime.Seconds()
	}
	if d.population != nil {
		resp.Population = d.population.Count()
	}
	if d.lastErr != nil {
		resp.LastError = d.lastErr.Error()
	}
	return resp
}

// generations returns the newest n generations, newest first, from the
// history store when one is attached.
func (d *Dashboard) generations(n int) ([]GenerationResponse, error) {
	if d.history == nil {
		d.mu.RLock()
		defer d.mu.RUnlock()
		out := make([]GenerationResponse, 0, min(n, len(d.recent)))
		for i := len(d.recent) - 1; i >= 0 && len(out) < n; i-- {
			out = append(out, newGenerationFromStats(d.recent[i]))
		}
		return out, nil
	}

	latest, err := d.history.Latest()
	if errors.Is(err, history.ErrEmpty) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	from := uint64(0)
	if latest.Generation >= uint64(n) {
		from = latest.Generation - uint64(n) + 1
	}
	var out []GenerationResponse
	err = d.history.Range(from, latest.Generation, func(rec *history.Record) error {
		out = append(out, newGenerationFromRecord(rec))
		return nil
	})
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, err
}

// best returns the n best individuals, from the population store when one
// is attached, otherwise the best of each observed generation.
func (d *Dashboard) best(n int) ([]IndividualResponse, error) {
	var inds []types.Individual
	if d.population != nil {
		var err error
		if inds, err = d.population.Best(n); err != nil {
			return nil, err
		}
	} else {
		d.mu.RLock()
		for i := len(d.recent) - 1; i >= 0 && len(inds) < n; i-- {
			inds = append(inds, d.recent[i].Best)
		}
		d.mu.RUnlock()
	}
	out := make([]IndividualResponse, len(inds))
	for i := range inds {
		out[i] = newIndividualResponse(&inds[i])
	}
	return out, nil
}

// errGenomeNotFound is returned by lookup.
var errGenomeNotFound = errors.New("genome not found")

// lookup finds an individual by base58 ID.
func (d *Dashboard) lookup(idStr string) (*types.Individual, error) {
	id, err := types.GenomeIDFromBase58(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid genome id: %w", err)
	}
	if d.population != nil {
		if ind, err := d.population.Get(id); err == nil {
			return ind, nil
		}
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for i := len(d.recent) - 1; i >= 0; i-- {
		if d.recent[i].Best.ID == id {
			ind := d.recent[i].Best
			return &ind, nil
		}
	}
	return nil, errGenomeNotFound
}

// renderPage renders a page template inside the layout.
func (d *Dashboard) renderPage(w http.ResponseWriter, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	var contentBuf strings.Builder
	if err := d.templates.ExecuteTemplate(&contentBuf, name, data); err != nil {
		http.Error(w, fmt.Sprintf("Template error: %v", err), http.StatusInternalServerError)
		return
	}

	pageData := map[string]interface{}{
		"PageName": name,
		"Content":  template.HTML(contentBuf.String()),
	}
	if err := d.templates.ExecuteTemplate(w, "layout", pageData); err != nil {
		http.Error(w, fmt.Sprintf("Template error: %v", err), http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// Template helper functions

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}

func formatNumber(n interface{}) string {
	switch v := n.(type) {
	case int:
		return formatInt(int64(v))
	case int64:
		return formatInt(v)
	case uint64:
		return formatInt(int64(v))
	case float64:
		return fmt.Sprintf("%.4g", v)
	default:
		return fmt.Sprintf("%v", n)
	}
}

func formatInt(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

func formatFitness(f [4]float64) string {
	return fmt.Sprintf("%.4g / %g / %g / %g", f[0], f[1], f[2], f[3])
}
