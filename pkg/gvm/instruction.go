package gvm

import (
	"fmt"
	"strconv"
)

// Arg is the payload of an instruction. Exactly one concrete type is valid for
// a given opcode: see Opcode.ArgKind.
type Arg interface {
	isArg()
	String() string
}

// NoArg is the payload of ArgNone opcodes.
type NoArg struct{}

// FloatReg indexes the float register file.
type FloatReg uint8

// VecReg indexes the vector register file.
type VecReg uint8

// FloatValue is a literal operand.
type FloatValue float64

// LabelArg is a raw label byte: the payload of label markers, and of jumps
// until they are resolved.
type LabelArg int8

// AddressArg is the resolved code position of a jump.
type AddressArg int

func (NoArg) isArg()      {}
func (FloatReg) isArg()   {}
func (VecReg) isArg()     {}
func (FloatValue) isArg() {}
func (LabelArg) isArg()   {}
func (AddressArg) isArg() {}

func (NoArg) String() string        { return "" }
func (r FloatReg) String() string   { return strconv.Itoa(int(r)) }
func (r VecReg) String() string     { return strconv.Itoa(int(r)) }
func (v FloatValue) String() string { return strconv.FormatFloat(float64(v), 'g', -1, 64) }
func (l LabelArg) String() string   { return strconv.Itoa(int(l)) }
func (a AddressArg) String() string { return "@" + strconv.Itoa(int(a)) }

// Instruction is one decoded machine instruction.
type Instruction struct {
	Op  Opcode
	Arg Arg
}

func (in Instruction) String() string {
	if _, ok := in.Arg.(NoArg); ok || in.Arg == nil {
		return in.Op.String()
	}
	return fmt.Sprintf("%s %s", in.Op, in.Arg)
}
