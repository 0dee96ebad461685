package gvm

import (
	"fmt"
	"io"
	"strings"
)

// Show writes a human-readable dump of the machine state.
func (m *Machine) Show(w io.Writer) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Machine T=%d CP=%d E=%d\n", m.steps, m.pc, m.evals)
	fmt.Fprintf(&sb, "  float accum=%g vec accum=%s\n", m.floatAccum, m.vecAccum)
	fmt.Fprintf(&sb, "  flag=%t\n", m.flag)
	sb.WriteString("  Float registers:\n")
	for i := 0; i < NFloatReg; i += 4 {
		fmt.Fprintf(&sb, "   %d)", i)
		for j := i; j < i+4 && j < NFloatReg; j++ {
			fmt.Fprintf(&sb, "\t%g", m.floatRegs[j])
		}
		sb.WriteByte('\n')
	}
	sb.WriteString("  Vec registers:\n")
	for i := range m.vecRegs {
		mark := ""
		if m.vecChanged[i] {
			mark = " *"
		}
		fmt.Fprintf(&sb, "    %d) %s%s\n", i, m.vecRegs[i], mark)
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func (m *Machine) String() string {
	var sb strings.Builder
	m.Show(&sb)
	return sb.String()
}
