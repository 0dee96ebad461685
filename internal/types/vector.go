package types

import (
	"fmt"
	"math"
	"strings"
)

// Dimension is the fixed dimension of every Vector.
const Dimension = 2

// Vector is a point in the search space.
type Vector [Dimension]float64

// Vec builds a Vector from its coordinates.
func Vec(x, y float64) Vector {
	return Vector{x, y}
}

// Add returns v + w.
func (v Vector) Add(w Vector) Vector {
	for i := range v {
		v[i] += w[i]
	}
	return v
}

// Sub returns v - w.
func (v Vector) Sub(w Vector) Vector {
	for i := range v {
		v[i] -= w[i]
	}
	return v
}

// Scale returns k*v.
func (v Vector) Scale(k float64) Vector {
	for i := range v {
		v[i] *= k
	}
	return v
}

// AddScaled returns v + k*w.
func (v Vector) AddScaled(k float64, w Vector) Vector {
	for i := range v {
		v[i] += k * w[i]
	}
	return v
}

// Norm returns the L1 norm of v.
func (v Vector) Norm() float64 {
	s := 0.0
	for _, c := range v {
		s += math.Abs(c)
	}
	return s
}

// String formats v as {x,y}.
func (v Vector) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, c := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%g", c)
	}
	sb.WriteByte('}')
	return sb.String()
}

// Point is a Vector with a lazily computed objective value.
// F is meaningful only when Evaluated is true.
type Point struct {
	X         Vector
	F         float64
	Evaluated bool
}

// Set assigns a new position and forgets the cached value.
func (p *Point) Set(v Vector) {
	p.X = v
	p.Evaluated = false
}

// String formats the point as {x,y}:f, or {x,y}:? when unevaluated.
func (p Point) String() string {
	if !p.Evaluated {
		return p.X.String() + ":?"
	}
	return fmt.Sprintf("%s:%g", p.X, p.F)
}
