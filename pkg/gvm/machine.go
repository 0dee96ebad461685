// Package gvm implements the genome virtual machine.
//
// A genome is an arbitrary byte string. Load decodes it into instructions and
// resolves jump targets by fuzzy label matching, so any genome yields a
// runnable program. Execution is circular: the program counter wraps around the
// end of the code and a program only stops when its driver stops stepping it.
//
// The machine state is a small register file:
//   - a vector accumulator and NVecReg vector registers, each a Point whose
//     objective value is computed lazily on first use;
//   - a float accumulator and NFloatReg float registers;
//   - a boolean flag set by comparisons and read by conditional jumps.
//
// A Machine is not safe for concurrent use.
package gvm

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fortiblox/genvm/internal/types"
)

// Errors.
var (
	// ErrNoObjective is returned when an evaluation is needed and no objective is set.
	ErrNoObjective = errors.New("objective not specified")
)

// ConfigError reports an evaluation attempted without an objective.
type ConfigError struct {
	Pos int    // Code position of the instruction, -1 for direct evaluation
	Op  Opcode // Instruction that needed the evaluation
	Err error
}

func (e *ConfigError) Error() string {
	if e.Pos < 0 {
		return fmt.Sprintf("evaluate: %v", e.Err)
	}
	return fmt.Sprintf("step %d (%s): %v", e.Pos, e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Objective scores a vector. Machines query it lazily, at most once per
// assignment of a register.
type Objective interface {
	Evaluate(x types.Vector) (float64, error)
}

// Config configures a Machine.
type Config struct {
	// Seed seeds register randomisation. Zero seeds from the clock.
	Seed int64

	// Trace logs the jump map after each Load and every executed instruction.
	Trace bool

	// Logger receives trace output. Defaults to the logrus standard logger.
	Logger logrus.FieldLogger
}

// DefaultConfig returns the default machine configuration.
func DefaultConfig() Config {
	return Config{
		Logger: logrus.StandardLogger(),
	}
}

// Machine is a genome virtual machine.
type Machine struct {
	// Working registers
	vecAccum   types.Point
	floatAccum float64
	flag       bool

	// Memory
	vecRegs    [NVecReg]types.Point
	vecChanged [NVecReg]bool
	floatRegs  [NFloatReg]float64

	pc int

	// Loaded program
	code   []Instruction
	labels []Label

	// Accounting
	steps uint64
	evals uint64

	objective Objective
	rng       *rand.Rand

	tracing bool
	log     logrus.FieldLogger

	// Live-code map, nil when not tracing live code.
	live []bool
}

// New creates a reset machine with no code and no objective.
func New(cfg Config) *Machine {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	m := &Machine{
		rng:     rand.New(rand.NewSource(seed)),
		tracing: cfg.Trace,
		log:     log,
	}
	m.Reset()
	return m
}

// SetObjective attaches the objective. A nil objective detaches it.
func (m *Machine) SetObjective(obj Objective) {
	m.objective = obj
}

// Objective returns the attached objective, or nil.
func (m *Machine) Objective() Objective {
	return m.objective
}

// SetTracing toggles trace logging.
func (m *Machine) SetTracing(on bool) {
	m.tracing = on
}

// Reset reinitialises the register file. Loaded code is kept.
func (m *Machine) Reset() {
	m.floatAccum = 0
	m.flag = false
	m.pc = 0
	m.steps = 0
	m.evals = 0
	m.randomPoint(&m.vecAccum)
	for i := range m.vecRegs {
		m.randomPoint(&m.vecRegs[i])
		m.vecChanged[i] = true
	}
	for i := range m.floatRegs {
		m.floatRegs[i] = 0
	}
}

func (m *Machine) randomVec() types.Vector {
	var v types.Vector
	for i := range v {
		v[i] = 2*m.rng.Float64() - 1
	}
	return v
}

func (m *Machine) randomPoint(p *types.Point) {
	p.Set(m.randomVec())
	p.F = 0
}

// Load replaces the program with the decoded and resolved genome. Any genome
// is accepted; an empty one yields an empty program.
func (m *Machine) Load(genome []byte) {
	code := Decode(genome)
	labels := FindLabels(code)
	Resolve(code, labels)

	m.code = code
	m.labels = labels
	if m.pc >= len(code) {
		m.pc = 0
	}
	if m.live != nil {
		m.live = make([]bool, len(code))
	}
	if m.tracing {
		m.log.WithFields(logrus.Fields{
			"instructions": len(code),
			"labels":       len(labels),
		}).Infof("jump map %s", jumpMap(code))
	}
}

// Len returns the number of loaded instructions.
func (m *Machine) Len() int { return len(m.code) }

// Code returns a copy of the loaded instructions.
func (m *Machine) Code() []Instruction {
	return append([]Instruction(nil), m.code...)
}

// Labels returns a copy of the label table of the loaded code.
func (m *Machine) Labels() []Label {
	return append([]Label(nil), m.labels...)
}

// JumpTarget returns the resolved address of the jump at pos, or NotAJump.
func (m *Machine) JumpTarget(pos int) int {
	if pos < 0 || pos >= len(m.code) {
		return NotAJump
	}
	in := m.code[pos]
	addr, ok := in.Arg.(AddressArg)
	if !ok || !in.Op.IsJump() {
		return NotAJump
	}
	return int(addr)
}

// JumpMap formats all resolved jumps as {pos:addr, ...}.
func (m *Machine) JumpMap() string {
	return jumpMap(m.code)
}

// Register accessors. Indices wrap modulo the register count.

// VecReg returns the position held by vector register i.
func (m *Machine) VecReg(i int) types.Vector {
	return m.vecRegs[wrap(i, NVecReg)].X
}

// VecPoint returns vector register i with its cached value.
func (m *Machine) VecPoint(i int) types.Point {
	return m.vecRegs[wrap(i, NVecReg)]
}

// SetVecReg stores v in vector register i, forgets its value and marks it changed.
func (m *Machine) SetVecReg(i int, v types.Vector) {
	i = wrap(i, NVecReg)
	m.vecRegs[i].Set(v)
	m.vecChanged[i] = true
}

// FloatReg returns float register i.
func (m *Machine) FloatReg(i int) float64 {
	return m.floatRegs[wrap(i, NFloatReg)]
}

// SetFloatReg stores v in float register i.
func (m *Machine) SetFloatReg(i int, v float64) {
	m.floatRegs[wrap(i, NFloatReg)] = v
}

// Changed reports the dirty bit of vector register i.
func (m *Machine) Changed(i int) bool {
	return m.vecChanged[wrap(i, NVecReg)]
}

// ClearChanged clears the dirty bit of vector register i.
func (m *Machine) ClearChanged(i int) {
	m.vecChanged[wrap(i, NVecReg)] = false
}

// VecAccum returns the vector accumulator.
func (m *Machine) VecAccum() types.Point { return m.vecAccum }

// SetVecAccum stores v in the vector accumulator and forgets its value.
func (m *Machine) SetVecAccum(v types.Vector) { m.vecAccum.Set(v) }

// FloatAccum returns the float accumulator.
func (m *Machine) FloatAccum() float64 { return m.floatAccum }

// Flag returns the comparison flag.
func (m *Machine) Flag() bool { return m.flag }

// PC returns the program counter.
func (m *Machine) PC() int { return m.pc }

// Steps returns the number of executed steps since Reset.
func (m *Machine) Steps() uint64 { return m.steps }

// Evals returns the number of objective evaluations since Reset.
func (m *Machine) Evals() uint64 { return m.evals }

// EvaluateVecReg returns the objective value of vector register i, computing it
// if the register has not been evaluated since its last assignment.
func (m *Machine) EvaluateVecReg(i int) (float64, error) {
	p := &m.vecRegs[wrap(i, NVecReg)]
	if err := m.evaluate(p); err != nil {
		if errors.Is(err, ErrNoObjective) {
			return 0, &ConfigError{Pos: -1, Err: err}
		}
		return 0, err
	}
	return p.F, nil
}

// evaluate ensures p carries its objective value.
func (m *Machine) evaluate(p *types.Point) error {
	if p.Evaluated {
		return nil
	}
	if m.objective == nil {
		return ErrNoObjective
	}
	f, err := m.objective.Evaluate(p.X)
	if err != nil {
		return fmt.Errorf("objective: %w", err)
	}
	p.F = f
	p.Evaluated = true
	m.evals++
	return nil
}

func wrap(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}
