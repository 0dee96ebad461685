package evolve

import (
	"math"

	"github.com/fortiblox/genvm/internal/types"
	"github.com/fortiblox/genvm/pkg/gvm"
)

const (
	// nanMiss replaces a NaN distance to the target.
	nanMiss = 1e100

	// minEvals is the evaluation count below which a genome is penalised,
	// so that programs which never consult the objective lose to ones
	// that do.
	minEvals = 10
	lazyCost = 10.0

	// failedMain scores a genome whose run hit an objective error.
	failedMain = -1e300
)

// Evaluator scores genomes on a machine it owns. Use one per goroutine.
type Evaluator struct {
	cfg    Config
	target types.Vector
	m      *gvm.Machine
}

// NewEvaluator creates an evaluator whose machine uses obj and seed.
func NewEvaluator(cfg Config, obj gvm.Objective, seed int64) *Evaluator {
	mcfg := gvm.DefaultConfig()
	mcfg.Seed = seed
	m := gvm.New(mcfg)
	m.SetObjective(obj)
	return &Evaluator{cfg: cfg, target: cfg.TargetPoint(), m: m}
}

// Evaluate runs genome Attempts times from fresh random states and averages
// the outcome. An objective error yields the worst main score along with
// the error.
func (e *Evaluator) Evaluate(genome []byte) (types.Fitness, error) {
	e.m.Load(genome)

	var main, evals, steps float64
	for i := 0; i < e.cfg.Attempts; i++ {
		e.m.Reset()
		reached, err := e.m.RunTo(e.cfg.MaxSteps, e.cfg.MaxEvals, e.target, e.cfg.Tol)
		if err != nil {
			return types.Fitness{Main: failedMain, Length: -float64(len(genome))}, err
		}

		score := 0.0
		if !reached {
			miss := e.m.VecReg(0).Sub(e.target).Norm()
			if math.IsNaN(miss) {
				miss = nanMiss
			}
			score = -miss
		}
		if n := e.m.Evals(); n < minEvals {
			score -= lazyCost * float64(minEvals-n)
		}

		main += score
		evals += float64(e.m.Evals())
		steps += float64(e.m.Steps())
	}

	n := float64(e.cfg.Attempts)
	return types.Fitness{
		Main:   main / n,
		Evals:  -evals / n,
		Steps:  -steps / n,
		Length: -float64(len(genome)),
	}, nil
}
