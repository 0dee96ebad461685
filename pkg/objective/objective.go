// Package objective provides objective functions for genome machines.
//
// Local objectives (Table, Func) are evaluated in process. Remote forwards
// evaluations over gRPC to a Server, so expensive objectives can live in a
// separate process from the evolution loop.
package objective

import (
	"fmt"
	"sync/atomic"

	"github.com/fortiblox/genvm/internal/types"
	"github.com/fortiblox/genvm/pkg/gvm"
)

// NumTableFunctions is the number of functions in the built-in table.
const NumTableFunctions = 4

func sqr(x float64) float64 { return x * x }

// rozen is a Rosenbrock-like valley with its minimum at the origin.
func rozen(x, y float64) float64 {
	return sqr(x) + 20*sqr(y+1-sqr(x+1))
}

// Table is one of the built-in test functions, selected by Index modulo
// NumTableFunctions.
type Table struct {
	Index int
}

// Evaluate implements gvm.Objective.
func (t Table) Evaluate(v types.Vector) (float64, error) {
	x, y := v[0], v[1]
	switch t.index() {
	case 0:
		return rozen(x-1, y-1), nil
	case 1:
		return rozen(x, y), nil
	case 2:
		return rozen(y-2, x-1), nil
	default:
		return x*x + y*y, nil
	}
}

// Target returns the minimiser of the function.
func (t Table) Target() types.Vector {
	switch t.index() {
	case 0:
		return types.Vec(1, 1)
	case 2:
		return types.Vec(1, 2)
	default:
		return types.Vec(0, 0)
	}
}

func (t Table) String() string {
	names := [NumTableFunctions]string{"rozen-shifted", "rozen", "rozen-swapped", "sphere"}
	return fmt.Sprintf("table[%d] %s", t.index(), names[t.index()])
}

func (t Table) index() int {
	i := t.Index % NumTableFunctions
	if i < 0 {
		i += NumTableFunctions
	}
	return i
}

// Func adapts a plain function to gvm.Objective.
type Func func(x types.Vector) float64

// Evaluate implements gvm.Objective.
func (f Func) Evaluate(x types.Vector) (float64, error) {
	return f(x), nil
}

// Counting wraps an objective and counts successful evaluations.
// It is safe for concurrent use if the wrapped objective is.
type Counting struct {
	obj   gvm.Objective
	calls atomic.Uint64
}

// NewCounting wraps obj.
func NewCounting(obj gvm.Objective) *Counting {
	return &Counting{obj: obj}
}

// Evaluate implements gvm.Objective.
func (c *Counting) Evaluate(x types.Vector) (float64, error) {
	f, err := c.obj.Evaluate(x)
	if err != nil {
		return 0, err
	}
	c.calls.Add(1)
	return f, nil
}

// Calls returns the number of successful evaluations.
func (c *Counting) Calls() uint64 {
	return c.calls.Load()
}
