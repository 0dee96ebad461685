package asm

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/fortiblox/genvm/pkg/gvm"
	"github.com/fortiblox/genvm/pkg/objective"
)

// Disassemble renders genome bytes as assembly, one instruction per line.
// Disabled instructions are omitted.
func Disassemble(genome []byte) string {
	var lines []string
	for _, in := range gvm.Decode(genome) {
		if !in.Op.Enabled() {
			continue
		}
		lines = append(lines, in.String())
	}
	return strings.Join(lines, "\n")
}

// ListingOptions controls Listing.
type ListingOptions struct {
	// ShowDead marks instructions never reached in a live-code run.
	ShowDead bool

	// Objective used for the live-code run. Defaults to table function 0
	// when nil.
	Objective gvm.Objective

	// Steps per attempt and number of attempts for the live-code run.
	Steps    int
	Attempts int

	// Seed for the live-code machine.
	Seed int64
}

// DefaultListingOptions returns options matching the evolution budget.
func DefaultListingOptions() ListingOptions {
	return ListingOptions{
		ShowDead: true,
		Steps:    10000,
		Attempts: 10,
		Seed:     1,
	}
}

// JumpMap maps byte offsets of jump instructions to the byte offset they
// transfer to. A jump with no matching label maps to its own offset, where
// a taken jump loops.
func JumpMap(genome []byte) map[int]int {
	m := gvm.New(gvm.DefaultConfig())
	m.Load(genome)

	jumps := make(map[int]int)
	n := m.Len()
	for i := 0; i < n; i++ {
		target := m.JumpTarget(i)
		if target == gvm.NotAJump {
			continue
		}
		jumps[2*i] = 2 * target
	}
	return jumps
}

// LiveCode runs the genome opts.Attempts times from fresh random states and
// reports which instructions executed at least once.
func LiveCode(genome []byte, opts ListingOptions) ([]bool, error) {
	cfg := gvm.DefaultConfig()
	cfg.Seed = opts.Seed
	m := gvm.New(cfg)
	if opts.Objective != nil {
		m.SetObjective(opts.Objective)
	} else {
		m.SetObjective(objective.Table{})
	}
	m.Load(genome)
	m.SetTraceLiveCode(true)

	for i := 0; i < opts.Attempts; i++ {
		if i != 0 {
			m.Reset()
		}
		if err := m.Run(opts.Steps); err != nil {
			return nil, fmt.Errorf("live-code run %d: %w", i, err)
		}
	}
	live := m.LiveMap()
	if live == nil {
		live = make([]bool, m.Len())
	}
	return live, nil
}

// Listing writes an annotated disassembly: byte offset, instruction, jump
// target and, with ShowDead, a #DEAD mark on unreached instructions.
func Listing(w io.Writer, genome []byte, opts ListingOptions) error {
	jumps := JumpMap(genome)
	var live []bool
	if opts.ShowDead {
		var err error
		if live, err = LiveCode(genome, opts); err != nil {
			return err
		}
	}

	bw := bufio.NewWriter(w)
	for i, in := range gvm.Decode(genome) {
		var line string
		if in.Op.Enabled() {
			line = in.String()
		}
		if target, ok := jumps[2*i]; ok {
			line += fmt.Sprintf("#-->%d", target)
		}
		if live != nil && !live[i] {
			line += "#DEAD"
		}
		fmt.Fprintf(bw, "%d\t%s\n", 2*i, line)
	}
	return bw.Flush()
}
