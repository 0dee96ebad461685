package evolve

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fortiblox/genvm/internal/types"
	"github.com/fortiblox/genvm/pkg/gvm"
	"github.com/fortiblox/genvm/pkg/history"
)

// ErrStop may be returned by an OnGeneration callback to end Run without
// an error.
var ErrStop = errors.New("stop evolution")

// Store receives the survivors of every generation.
type Store interface {
	PutBatch(inds []types.Individual) error
}

// History receives one record per generation.
type History interface {
	PutGeneration(rec *history.Record) error
}

// Stats summarises one generation.
type Stats struct {
	Generation uint64
	Best       types.Individual

	// PoolSize individuals were run; Evaluated of them without an
	// objective error.
	PoolSize  int
	Evaluated int
	Failed    int

	// MeanMain is the mean main fitness of the survivors.
	MeanMain float64
	Duration time.Duration
}

// OnGeneration is called after each generation is ranked.
type OnGeneration func(Stats) error

// Engine runs the genetic algorithm.
type Engine struct {
	cfg     Config
	obj     gvm.Objective
	log     logrus.FieldLogger
	rng     *rand.Rand
	ops     *Operators
	store   Store
	history History

	generation uint64
	pool       []types.Individual
}

// NewEngine creates an engine evaluating genomes against obj, which must be
// safe for concurrent use when cfg.Workers > 1.
func NewEngine(cfg Config, obj gvm.Objective, log logrus.FieldLogger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, gvm.ErrNoObjective
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	return &Engine{
		cfg: cfg,
		obj: obj,
		log: log.WithField("component", "evolve"),
		rng: rng,
		ops: NewOperators(cfg, rng),
	}, nil
}

// SetStore attaches a population sink.
func (e *Engine) SetStore(s Store) { e.store = s }

// SetHistory attaches a generation history sink.
func (e *Engine) SetHistory(h History) { e.history = h }

// Seed adds genomes to the initial pool, e.g. from a previous run. The rest
// of the pool is filled with new individuals on the first generation.
func (e *Engine) Seed(genomes ...[]byte) {
	for _, g := range genomes {
		e.pool = append(e.pool, types.NewIndividual(truncate(g, e.cfg.MaxGenome)))
	}
}

// Resume continues generation numbering after gen.
func (e *Engine) Resume(gen uint64) { e.generation = gen }

// Generation returns the number of the last completed generation.
func (e *Engine) Generation() uint64 { return e.generation }

// Pool returns the current ranked survivors.
func (e *Engine) Pool() []types.Individual {
	return append([]types.Individual(nil), e.pool...)
}

// Run evolves for the given number of generations, or until ctx is
// cancelled or onGeneration returns an error. Zero generations runs until
// stopped.
func (e *Engine) Run(ctx context.Context, generations int, onGeneration OnGeneration) error {
	e.log.WithFields(logrus.Fields{
		"pool":    e.cfg.PoolSize,
		"top":     e.cfg.TopSize,
		"workers": e.cfg.Workers,
		"target":  e.cfg.TargetPoint().String(),
	}).Info("Starting evolution")

	for i := 0; generations == 0 || i < generations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats, err := e.step(ctx)
		if err != nil {
			return err
		}
		if onGeneration != nil {
			if err := onGeneration(stats); err != nil {
				if errors.Is(err, ErrStop) {
					return nil
				}
				return err
			}
		}
	}
	return nil
}

// step refills, evaluates and ranks one generation.
func (e *Engine) step(ctx context.Context) (Stats, error) {
	start := time.Now()
	e.generation++
	e.refill()

	failed, err := e.evaluateAll(ctx)
	if err != nil {
		e.generation--
		return Stats{}, err
	}

	sort.SliceStable(e.pool, func(i, j int) bool {
		return e.pool[i].Fitness.Better(e.pool[j].Fitness)
	})
	poolSize := len(e.pool)
	if len(e.pool) > e.cfg.TopSize {
		e.pool = e.pool[:e.cfg.TopSize]
	}

	mean := 0.0
	for _, ind := range e.pool {
		mean += ind.Fitness.Main
	}
	mean /= float64(len(e.pool))

	stats := Stats{
		Generation: e.generation,
		Best:       e.pool[0],
		PoolSize:   poolSize,
		Evaluated:  poolSize - failed,
		Failed:     failed,
		MeanMain:   mean,
		Duration:   time.Since(start),
	}
	e.log.WithFields(logrus.Fields{
		"generation": stats.Generation,
		"best":       stats.Best.ID.Short(),
		"fitness":    stats.Best.Fitness.String(),
		"mean_main":  stats.MeanMain,
		"failed":     stats.Failed,
		"duration":   stats.Duration,
	}).Info("Generation complete")

	if err := e.persist(&stats); err != nil {
		return stats, err
	}
	return stats, nil
}

// refill tops the pool up to PoolSize: 1 in 11 new individuals, 5 in 11
// mutants and 5 in 11 crossover pairs. The very first generation is all
// new individuals.
func (e *Engine) refill() {
	parents := len(e.pool)
	for len(e.pool) < e.cfg.PoolSize {
		key := e.rng.Intn(11)
		switch {
		case parents == 0 || key == 0:
			e.add(e.ops.Create())
		case key <= 5:
			e.add(e.ops.Mutate(e.pool[e.rng.Intn(parents)].Genome))
		default:
			a, b := e.ops.Crossover(e.pool[e.rng.Intn(parents)].Genome, e.pool[e.rng.Intn(parents)].Genome)
			e.add(a)
			e.add(b)
		}
	}
}

func (e *Engine) add(genome []byte) {
	ind := types.NewIndividual(truncate(genome, e.cfg.MaxGenome))
	ind.Generation = e.generation
	e.pool = append(e.pool, ind)
}

// evaluateAll scores every individual in the pool using a pool of workers,
// each with its own machine. It returns the number of failed evaluations.
func (e *Engine) evaluateAll(ctx context.Context) (int, error) {
	jobs := make(chan int)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failed   int
		firstErr error
	)

	for w := 0; w < e.cfg.Workers; w++ {
		ev := NewEvaluator(e.cfg, e.obj, e.rng.Int63())
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				f, err := ev.Evaluate(e.pool[i].Genome)
				e.pool[i].Fitness = f
				if err != nil {
					mu.Lock()
					failed++
					if firstErr == nil {
						firstErr = fmt.Errorf("evaluate %s: %w", e.pool[i].ID.Short(), err)
					}
					mu.Unlock()
				}
			}
		}()
	}

	var cancelled error
dispatch:
	for i := range e.pool {
		select {
		case jobs <- i:
		case <-ctx.Done():
			cancelled = ctx.Err()
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	if cancelled != nil {
		return failed, cancelled
	}
	if failed > 0 {
		e.log.WithError(firstErr).WithField("failed", failed).Warn("Objective errors during evaluation")
	}
	if failed == len(e.pool) {
		return failed, fmt.Errorf("all evaluations failed: %w", firstErr)
	}
	return failed, nil
}

func (e *Engine) persist(stats *Stats) error {
	if e.store != nil {
		if err := e.store.PutBatch(e.pool); err != nil {
			return fmt.Errorf("store generation %d: %w", stats.Generation, err)
		}
	}
	if e.history != nil {
		rec := &history.Record{
			Generation: stats.Generation,
			Time:       time.Now().UTC(),
			Best:       stats.Best,
			PoolSize:   stats.PoolSize,
			Evaluated:  stats.Evaluated,
			Failed:     stats.Failed,
			MeanMain:   stats.MeanMain,
			Duration:   stats.Duration,
		}
		if err := e.history.PutGeneration(rec); err != nil {
			return fmt.Errorf("record generation %d: %w", stats.Generation, err)
		}
	}
	return nil
}
