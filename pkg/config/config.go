// Package config loads genvm experiment files.
//
// An experiment file is TOML with [machine], [evolve], [store] and
// [objective] sections. Keys that are absent keep their defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/fortiblox/genvm/internal/types"
	"github.com/fortiblox/genvm/pkg/evolve"
	"github.com/fortiblox/genvm/pkg/gvm"
	"github.com/fortiblox/genvm/pkg/history"
	"github.com/fortiblox/genvm/pkg/objective"
	"github.com/fortiblox/genvm/pkg/population"
)

var (
	// ErrInvalidConfig is returned by Validate.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnknownKey indicates a key that no section defines.
	ErrUnknownKey = errors.New("unknown configuration key")
)

// Config is a complete experiment configuration.
type Config struct {
	Machine   Machine   `toml:"machine"`
	Evolve    Evolve    `toml:"evolve"`
	Store     Store     `toml:"store"`
	Objective Objective `toml:"objective"`

	// Path is the file the configuration was loaded from, if any.
	Path string `toml:"-"`
}

// Machine configures the genome machine run budget.
type Machine struct {
	Seed     int64   `toml:"seed"`
	Trace    bool    `toml:"trace"`
	MaxSteps uint64  `toml:"max_steps"`
	MaxEvals uint64  `toml:"max_evals"`
	Tol      float64 `toml:"tol"`
}

// Evolve configures the genetic algorithm.
type Evolve struct {
	PoolSize               int     `toml:"pool_size"`
	TopSize                int     `toml:"top_size"`
	MaxGenome              int     `toml:"max_genome"`
	MinInitialLength       int     `toml:"min_initial_length"`
	MaxInitialLength       int     `toml:"max_initial_length"`
	MutatePercent          float64 `toml:"mutate_percent"`
	AverageMutationLength  float64 `toml:"average_mutation_length"`
	AverageDuplicateLength float64 `toml:"average_duplicate_length"`
	CrossoverSignature     int     `toml:"crossover_signature"`
	CrossoverRadius        int     `toml:"crossover_radius"`
	Attempts               int     `toml:"attempts"`
	SeedProbability        float64 `toml:"seed_probability"`
	Workers                int     `toml:"workers"`
	Seed                   int64   `toml:"seed"`

	// Generations to run; zero runs until interrupted.
	Generations int `toml:"generations"`
}

// Store configures where populations and history are kept.
type Store struct {
	// Dir holds population/ (badger) and history.db (bbolt). Empty keeps
	// nothing on disk.
	Dir        string `toml:"dir"`
	SyncWrites bool   `toml:"sync_writes"`

	// KeepGenerations prunes history to this many records; zero keeps all.
	KeepGenerations uint64 `toml:"keep_generations"`
}

// Objective selects the built-in table function or a remote server.
type Objective struct {
	Index int `toml:"index"`

	// Target overrides the table function's minimiser.
	Target []float64 `toml:"target"`

	// Address of a remote objective server. Empty uses the table function.
	Address string        `toml:"address"`
	Token   string        `toml:"token"`
	UseTLS  bool          `toml:"use_tls"`
	Timeout time.Duration `toml:"timeout"`

	// Servers adds further servers for the same function. Evaluations are
	// spread over Address and Servers.
	Servers []string `toml:"servers"`

	// Listen is the address `genvm serve` listens on.
	Listen string `toml:"listen"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	ec := evolve.DefaultConfig()
	return &Config{
		Machine: Machine{
			MaxSteps: ec.MaxSteps,
			MaxEvals: ec.MaxEvals,
			Tol:      ec.Tol,
		},
		Evolve: Evolve{
			PoolSize:               ec.PoolSize,
			TopSize:                ec.TopSize,
			MaxGenome:              ec.MaxGenome,
			MinInitialLength:       ec.MinInitialLength,
			MaxInitialLength:       ec.MaxInitialLength,
			MutatePercent:          ec.MutatePercent,
			AverageMutationLength:  ec.AverageMutationLength,
			AverageDuplicateLength: ec.AverageDuplicateLength,
			CrossoverSignature:     ec.CrossoverSignature,
			CrossoverRadius:        ec.CrossoverRadius,
			Attempts:               ec.Attempts,
			SeedProbability:        ec.SeedProbability,
			Workers:                ec.Workers,
		},
		Objective: Objective{
			Timeout: objective.DefaultTimeout,
			Listen:  "127.0.0.1:7411",
		},
	}
}

// Load reads path over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	cfg, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	cfg.Path = path
	if cfg.Store.Dir != "" && !filepath.IsAbs(cfg.Store.Dir) {
		cfg.Store.Dir = filepath.Join(filepath.Dir(path), cfg.Store.Dir)
	}
	return cfg, nil
}

// Parse decodes TOML text over the defaults and validates the result.
func Parse(text string) (*Config, error) {
	cfg := Default()
	md, err := toml.Decode(text, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the sections that are not checked by the packages they
// configure, then the evolve configuration.
func (c *Config) Validate() error {
	if c.Machine.MaxSteps == 0 {
		return fmt.Errorf("%w: machine.max_steps must be positive", ErrInvalidConfig)
	}
	if c.Machine.Tol < 0 {
		return fmt.Errorf("%w: machine.tol must not be negative", ErrInvalidConfig)
	}
	if t := c.Objective.Target; t != nil && len(t) != 2 {
		return fmt.Errorf("%w: objective.target needs 2 coordinates, got %d", ErrInvalidConfig, len(t))
	}
	if c.Objective.Timeout < 0 {
		return fmt.Errorf("%w: objective.timeout must not be negative", ErrInvalidConfig)
	}
	if c.Evolve.Generations < 0 {
		return fmt.Errorf("%w: evolve.generations must not be negative", ErrInvalidConfig)
	}
	ec := c.EvolveConfig()
	if err := ec.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Target returns the objective target, or nil for the table minimiser.
func (c *Config) Target() *types.Vector {
	if len(c.Objective.Target) != 2 {
		return nil
	}
	v := types.Vec(c.Objective.Target[0], c.Objective.Target[1])
	return &v
}

// EvolveConfig returns the engine configuration.
func (c *Config) EvolveConfig() evolve.Config {
	e := c.Evolve
	return evolve.Config{
		PoolSize:               e.PoolSize,
		TopSize:                e.TopSize,
		MaxGenome:              e.MaxGenome,
		MinInitialLength:       e.MinInitialLength,
		MaxInitialLength:       e.MaxInitialLength,
		MutatePercent:          e.MutatePercent,
		AverageMutationLength:  e.AverageMutationLength,
		AverageDuplicateLength: e.AverageDuplicateLength,
		CrossoverSignature:     e.CrossoverSignature,
		CrossoverRadius:        e.CrossoverRadius,
		Attempts:               e.Attempts,
		SeedProbability:        e.SeedProbability,
		ObjectiveIndex:         c.Objective.Index,
		Target:                 c.Target(),
		MaxSteps:               c.Machine.MaxSteps,
		MaxEvals:               c.Machine.MaxEvals,
		Tol:                    c.Machine.Tol,
		Workers:                e.Workers,
		Seed:                   e.Seed,
	}
}

// MachineConfig returns the machine configuration.
func (c *Config) MachineConfig(log logrus.FieldLogger) gvm.Config {
	mc := gvm.DefaultConfig()
	mc.Seed = c.Machine.Seed
	mc.Trace = c.Machine.Trace
	if log != nil {
		mc.Logger = log
	}
	return mc
}

// PopulationConfig returns the population store configuration under
// Store.Dir.
func (c *Config) PopulationConfig() population.Config {
	pc := population.DefaultConfig(filepath.Join(c.Store.Dir, "population"))
	pc.SyncWrites = c.Store.SyncWrites
	return pc
}

// HistoryConfig returns the history store configuration under Store.Dir.
func (c *Config) HistoryConfig() history.Config {
	hc := history.DefaultConfig(filepath.Join(c.Store.Dir, "history.db"))
	hc.NoSync = !c.Store.SyncWrites
	return hc
}

// RemoteAddresses returns every configured objective server, Address
// first, without duplicates.
func (c *Config) RemoteAddresses() []string {
	var out []string
	seen := make(map[string]bool)
	for _, a := range append([]string{c.Objective.Address}, c.Objective.Servers...) {
		if a != "" && !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}

// RemoteConfig returns the client configuration for a remote objective.
func (c *Config) RemoteConfig() objective.Config {
	oc := objective.DefaultConfig()
	oc.Address = c.Objective.Address
	oc.Token = c.Objective.Token
	oc.UseTLS = c.Objective.UseTLS
	if c.Objective.Timeout > 0 {
		oc.Timeout = c.Objective.Timeout
	}
	return oc
}

// ServerConfig returns the configuration for serving the objective.
func (c *Config) ServerConfig() objective.Config {
	oc := c.RemoteConfig()
	oc.Address = c.Objective.Listen
	return oc
}
