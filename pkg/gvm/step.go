package gvm

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/fortiblox/genvm/internal/types"
)

// Step executes the instruction at the program counter.
//
// Non-jump instructions advance the program counter by one, wrapping to zero at
// the end of the code. A taken jump moves it to the resolved address. The flag
// is only read by conditional jumps, never cleared.
//
// If the instruction needs an objective value and none can be computed, Step
// returns the error and leaves the program counter and step counter as they
// were.
func (m *Machine) Step() error {
	if len(m.code) == 0 {
		m.steps++
		return nil
	}

	pos := m.pc
	in := m.code[pos]
	if m.live != nil {
		m.live[pos] = true
	}
	next := pos + 1
	if next == len(m.code) {
		next = 0
	}

	if in.Op.Enabled() {
		taken, err := m.execute(in)
		if err != nil {
			if errors.Is(err, ErrNoObjective) {
				return &ConfigError{Pos: pos, Op: in.Op, Err: err}
			}
			return fmt.Errorf("step %d (%s): %w", pos, in.Op, err)
		}
		if taken {
			next = int(in.Arg.(AddressArg))
		}
	}

	if m.tracing {
		m.traceStep(pos, in, next)
	}
	m.pc = next
	m.steps++
	return nil
}

// execute applies the effect of in and reports whether a jump was taken.
func (m *Machine) execute(in Instruction) (bool, error) {
	switch in.Op {
	case OpNop, OpLabel:

	// Vector operations
	case OpVLoad:
		m.vecAccum = m.vecRegs[in.Arg.(VecReg)]
	case OpVStore:
		r := in.Arg.(VecReg)
		m.vecRegs[r] = m.vecAccum
		m.vecChanged[r] = true
	case OpVRand:
		m.vecAccum.Set(m.randomVec())
	case OpVMerge:
		r := in.Arg.(VecReg)
		m.vecAccum.Set(m.vecAccum.X.Scale(m.floatAccum).AddScaled(1-m.floatAccum, m.vecRegs[r].X))
	case OpVSwap:
		r := in.Arg.(VecReg)
		m.vecAccum, m.vecRegs[r] = m.vecRegs[r], m.vecAccum
		m.vecChanged[r] = true
	case OpVLess:
		r := in.Arg.(VecReg)
		if err := m.evaluate(&m.vecAccum); err != nil {
			return false, err
		}
		if err := m.evaluate(&m.vecRegs[r]); err != nil {
			return false, err
		}
		m.flag = m.vecAccum.F < m.vecRegs[r].F

	// Float operations
	case OpFLoad:
		m.floatAccum = m.floatRegs[in.Arg.(FloatReg)]
	case OpFLoadValue:
		m.floatAccum = float64(in.Arg.(FloatValue))
	case OpFStore:
		m.floatRegs[in.Arg.(FloatReg)] = m.floatAccum
	case OpFAdd:
		m.floatAccum += m.floatRegs[in.Arg.(FloatReg)]
	case OpFAddValue:
		m.floatAccum += float64(in.Arg.(FloatValue))
	case OpFMul:
		m.floatAccum *= m.floatRegs[in.Arg.(FloatReg)]
	case OpFMulValue:
		m.floatAccum *= float64(in.Arg.(FloatValue))
	case OpFSwap:
		r := in.Arg.(FloatReg)
		m.floatAccum, m.floatRegs[r] = m.floatRegs[r], m.floatAccum
	case OpFLess:
		m.flag = m.floatAccum < m.floatRegs[in.Arg.(FloatReg)]
	case OpFLessValue:
		m.flag = m.floatAccum < float64(in.Arg.(FloatValue))

	// Control flow
	case OpJumpUp, OpJumpDown, OpIfTrueUp, OpIfTrueDown, OpIfFalseUp, OpIfFalseDown:
		switch in.Op.Info().Cond {
		case CondTrue:
			return m.flag, nil
		case CondFalse:
			return !m.flag, nil
		default:
			return true, nil
		}

	case OpTrace:
		m.log.Info("machine state\n" + m.String())
	}
	return false, nil
}

func (m *Machine) traceStep(pos int, in Instruction, next int) {
	fields := logrus.Fields{"pos": pos, "op": in.String()}
	switch in.Op {
	case OpVLoad, OpVMerge, OpVSwap, OpVRand:
		fields["vacc"] = m.vecAccum.String()
	case OpVStore:
		fields["vreg"] = m.vecRegs[in.Arg.(VecReg)].String()
	case OpVLess, OpFLess, OpFLessValue:
		fields["flag"] = m.flag
	case OpFLoad, OpFLoadValue, OpFAdd, OpFAddValue, OpFMul, OpFMulValue, OpFSwap:
		fields["facc"] = m.floatAccum
	case OpFStore:
		fields["freg"] = m.floatRegs[in.Arg.(FloatReg)]
	}
	if in.Op.IsJump() {
		fields["next"] = next
	}
	m.log.WithFields(fields).Info("step")
}

// Run executes n steps, stopping early only on error.
func (m *Machine) Run(n int) error {
	for i := 0; i < n; i++ {
		if err := m.Step(); err != nil {
			return err
		}
	}
	return nil
}

// RunTo steps the machine until vector register 0 lies within tol (L1) of
// target, or until the step or evaluation budget is spent.
//
// Register 0 is only compared on iterations where its changed bit is set; the
// bit is cleared by the check. It reports whether the target was reached.
func (m *Machine) RunTo(maxSteps, maxEvals uint64, target types.Vector, tol float64) (bool, error) {
	for m.steps < maxSteps && m.evals < maxEvals {
		if m.vecChanged[0] {
			m.vecChanged[0] = false
			if m.vecRegs[0].X.Sub(target).Norm() <= tol {
				return true, nil
			}
		}
		if err := m.Step(); err != nil {
			return false, err
		}
	}
	return false, nil
}
