// Package evolve breeds genomes for the genome machine with a simple
// truncation-selection genetic algorithm.
//
// Each generation every individual is scored by running it on a fresh
// machine state against the objective; the best TopSize survive and the
// pool is refilled with new random genomes, mutants and crossovers.
package evolve

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/fortiblox/genvm/internal/types"
	"github.com/fortiblox/genvm/pkg/objective"
)

// Default configuration values.
const (
	DefaultPoolSize         = 1000
	DefaultTopSize          = 300
	DefaultMaxGenome        = 500
	DefaultMinInitialLength = 50
	DefaultMaxInitialLength = 1500

	DefaultMutatePercent          = 0.02
	DefaultAverageMutationLength  = 1
	DefaultAverageDuplicateLength = 10

	DefaultCrossoverSignature = 6
	DefaultCrossoverRadius    = 12

	DefaultAttempts        = 1
	DefaultSeedProbability = 0.01

	DefaultMaxSteps = 10000
	DefaultMaxEvals = 1000
	DefaultTol      = 1e-5
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid evolve configuration")

// Config holds the evolution parameters.
type Config struct {
	// Pool and selection sizes.
	PoolSize int
	TopSize  int

	// MaxGenome truncates offspring to this many bytes.
	MaxGenome int

	// Random genomes have a length in [MinInitialLength, MaxInitialLength).
	MinInitialLength int
	MaxInitialLength int

	// Mutation: the number of edits is 1 + Exp(len*MutatePercent); edit
	// lengths are exponential with the given means.
	MutatePercent          float64
	AverageMutationLength  float64
	AverageDuplicateLength float64

	// Crossover aligns the cut points by matching a signature of this many
	// bytes within CrossoverRadius of the first cut.
	CrossoverSignature int
	CrossoverRadius    int

	// Attempts is the number of runs averaged per fitness evaluation.
	Attempts int

	// SeedProbability is the chance that a new individual is the
	// hand-written Nelder-Mead genome rather than random bytes.
	SeedProbability float64

	// Objective selects the built-in table function. Target defaults to
	// its minimiser.
	ObjectiveIndex int
	Target         *types.Vector

	// Run budget per attempt.
	MaxSteps uint64
	MaxEvals uint64
	Tol      float64

	// Workers evaluating a generation in parallel.
	Workers int

	// Seed for the engine's random source. Zero picks a time-based seed.
	Seed int64
}

// DefaultConfig returns the standard configuration.
func DefaultConfig() Config {
	return Config{
		PoolSize:               DefaultPoolSize,
		TopSize:                DefaultTopSize,
		MaxGenome:              DefaultMaxGenome,
		MinInitialLength:       DefaultMinInitialLength,
		MaxInitialLength:       DefaultMaxInitialLength,
		MutatePercent:          DefaultMutatePercent,
		AverageMutationLength:  DefaultAverageMutationLength,
		AverageDuplicateLength: DefaultAverageDuplicateLength,
		CrossoverSignature:     DefaultCrossoverSignature,
		CrossoverRadius:        DefaultCrossoverRadius,
		Attempts:               DefaultAttempts,
		SeedProbability:        DefaultSeedProbability,
		MaxSteps:               DefaultMaxSteps,
		MaxEvals:               DefaultMaxEvals,
		Tol:                    DefaultTol,
		Workers:                runtime.GOMAXPROCS(0),
	}
}

// TargetPoint returns the configured target or the minimiser of the table
// function.
func (c *Config) TargetPoint() types.Vector {
	if c.Target != nil {
		return *c.Target
	}
	return objective.Table{Index: c.ObjectiveIndex}.Target()
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.PoolSize <= 0 {
		return fmt.Errorf("%w: pool size must be positive", ErrInvalidConfig)
	}
	if c.TopSize <= 0 || c.TopSize > c.PoolSize {
		return fmt.Errorf("%w: top size must be in [1, pool size]", ErrInvalidConfig)
	}
	if c.MaxGenome < 2 {
		return fmt.Errorf("%w: max genome must hold an instruction", ErrInvalidConfig)
	}
	if c.MinInitialLength < 0 || c.MaxInitialLength <= c.MinInitialLength {
		return fmt.Errorf("%w: initial length range is empty", ErrInvalidConfig)
	}
	if c.MutatePercent < 0 || c.AverageMutationLength < 0 || c.AverageDuplicateLength < 0 {
		return fmt.Errorf("%w: mutation parameters must not be negative", ErrInvalidConfig)
	}
	if c.CrossoverSignature <= 0 || c.CrossoverRadius < 0 {
		return fmt.Errorf("%w: bad crossover parameters", ErrInvalidConfig)
	}
	if c.Attempts <= 0 {
		return fmt.Errorf("%w: attempts must be positive", ErrInvalidConfig)
	}
	if c.SeedProbability < 0 || c.SeedProbability > 1 {
		return fmt.Errorf("%w: seed probability must be in [0, 1]", ErrInvalidConfig)
	}
	if c.MaxSteps == 0 || c.MaxEvals == 0 {
		return fmt.Errorf("%w: run budget must be positive", ErrInvalidConfig)
	}
	if c.Tol < 0 {
		return fmt.Errorf("%w: tolerance must not be negative", ErrInvalidConfig)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	}
	return nil
}
