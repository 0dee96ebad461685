package gvm

import (
	"fmt"
	"math/bits"
	"strings"
)

// NotAJump is returned by JumpTarget for positions that hold no jump.
const NotAJump = -1

// Label is a label marker found in decoded code.
type Label struct {
	Pos   int
	Label int8
}

// FindLabels collects every label marker in code, in ascending position.
func FindLabels(code []Instruction) []Label {
	var labels []Label
	for i, in := range code {
		if in.Op != OpLabel {
			continue
		}
		if l, ok := in.Arg.(LabelArg); ok {
			labels = append(labels, Label{Pos: i, Label: int8(l)})
		}
	}
	return labels
}

// Resolve rewrites the payload of every jump in code into the address of its
// best matching label. Matching is fuzzy so that mutated genomes keep a
// working control flow:
//
//   - the label with the fewest differing bits from the jump's label byte wins;
//   - ties go to the label nearest in the jump direction, wrapping around the
//     end of the code;
//   - with no labels at all, a jump targets itself.
//
// Jumps that already carry an AddressArg are left untouched.
func Resolve(code []Instruction, labels []Label) {
	for i := range code {
		dir := code[i].Op.JumpDir()
		if dir == JumpNone {
			continue
		}
		want, ok := code[i].Arg.(LabelArg)
		if !ok {
			continue
		}
		code[i].Arg = AddressArg(findLabel(labels, i, int8(want), dir, len(code)))
	}
}

// labelDistance is the Hamming distance between two label bytes.
func labelDistance(a, b int8) int {
	return bits.OnesCount8(uint8(a ^ b))
}

// labelFitness ranks a candidate label for a jump at from. Lower is better.
type labelFitness struct {
	hamming  int
	distance int
}

func (f labelFitness) less(g labelFitness) bool {
	if f.hamming != g.hamming {
		return f.hamming < g.hamming
	}
	return f.distance < g.distance
}

func fitnessOf(l Label, from int, want int8, dir JumpDir, n int) labelFitness {
	d := l.Pos - from
	if dir == JumpBackward {
		d = -d
	}
	d %= n
	if d < 0 {
		d += n
	}
	return labelFitness{hamming: labelDistance(l.Label, want), distance: d}
}

func findLabel(labels []Label, from int, want int8, dir JumpDir, n int) int {
	best := from
	var bestFit labelFitness
	for i, l := range labels {
		fit := fitnessOf(l, from, want, dir, n)
		if i == 0 || fit.less(bestFit) {
			best, bestFit = l.Pos, fit
		}
	}
	return best
}

// jumpMap formats resolved jumps as {pos:addr, ...}.
func jumpMap(code []Instruction) string {
	var sb strings.Builder
	sb.WriteByte('{')
	first := true
	for i, in := range code {
		addr, ok := in.Arg.(AddressArg)
		if !ok || !in.Op.IsJump() {
			continue
		}
		if !first {
			sb.WriteString(", ")
		}
		first = false
		fmt.Fprintf(&sb, "%d:%d", i, int(addr))
	}
	sb.WriteByte('}')
	return sb.String()
}
