// Package asm converts between genome bytes and a line-oriented assembly
// text, and produces annotated listings.
//
// Each source line holds one instruction: a mnemonic followed by at most one
// argument. Everything after '#' is a comment.
package asm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fortiblox/genvm/pkg/gvm"
)

// Assembly errors.
var (
	ErrUnknownOpcode = errors.New("unknown opcode")
	ErrArgCount      = errors.New("wrong number of arguments")
	ErrBadArgument   = errors.New("bad argument")
)

// SyntaxError reports a source line that could not be assembled.
type SyntaxError struct {
	Line int // 1-based
	Text string
	Err  error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %v: %q", e.Line, e.Err, e.Text)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// Assemble compiles source into genome bytes, two bytes per instruction.
// Instructions without an argument are emitted with a zero argument byte.
func Assemble(source string) ([]byte, error) {
	var out []byte
	for n, raw := range strings.Split(source, "\n") {
		line, _, _ := strings.Cut(raw, "#")
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		op, arg, err := assembleLine(fields)
		if err != nil {
			return nil, &SyntaxError{Line: n + 1, Text: strings.TrimSpace(raw), Err: err}
		}
		out = append(out, byte(op), arg)
	}
	return out, nil
}

// MustAssemble is like Assemble but panics on error. It is intended for
// sources compiled into the binary.
func MustAssemble(source string) []byte {
	code, err := Assemble(source)
	if err != nil {
		panic(err)
	}
	return code
}

func assembleLine(fields []string) (gvm.Opcode, byte, error) {
	op, ok := gvm.OpcodeByName(fields[0])
	if !ok {
		return 0, 0, fmt.Errorf("%w %s", ErrUnknownOpcode, fields[0])
	}
	args := fields[1:]
	kind := op.ArgKind()
	if kind == gvm.ArgNone {
		if len(args) != 0 {
			return 0, 0, fmt.Errorf("%w: %s takes none", ErrArgCount, op)
		}
		return op, 0, nil
	}
	if len(args) != 1 {
		return 0, 0, fmt.Errorf("%w: %s takes one", ErrArgCount, op)
	}

	switch kind {
	case gvm.ArgFloatValue:
		x, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %v", ErrBadArgument, err)
		}
		return op, byte(gvm.FloatToByte(x)), nil
	default:
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %v", ErrBadArgument, err)
		}
		if n < -128 || n > 255 {
			return 0, 0, fmt.Errorf("%w: %d does not fit in a byte", ErrBadArgument, n)
		}
		return op, byte(n), nil
	}
}
