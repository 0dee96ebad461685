package gvm

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Register file sizes.
const (
	NVecReg   = 16 // Vector registers
	NFloatReg = 16 // Float registers
)

// Opcode is an instruction tag. Every byte maps onto an Opcode modulo NumOpcodes.
type Opcode uint8

// Opcodes, in encoding order. The numeric value is the decoded opcode byte.
const (
	OpNop Opcode = iota
	OpVLoad
	OpVStore
	OpVRand
	OpVMerge
	OpVSwap
	OpVLess
	OpFLoad
	OpFLoadValue
	OpFStore
	OpFAdd
	OpFAddValue
	OpFMul
	OpFMulValue
	OpFSwap
	OpFLess
	OpFLessValue
	OpJumpUp
	OpJumpDown
	OpIfTrueUp
	OpIfTrueDown
	OpIfFalseUp
	OpIfFalseDown
	OpLabel
	OpTrace

	opCount
)

// NumOpcodes is the size of the opcode space.
const NumOpcodes = int(opCount)

// ArgKind describes how the argument byte of an instruction is interpreted.
type ArgKind uint8

const (
	ArgNone       ArgKind = iota // Argument byte ignored
	ArgFloatValue                // Literal: int8(b) / 32
	ArgFloatReg                  // Float register index
	ArgVecReg                    // Vector register index
	ArgLabel                     // Raw signed label byte
)

var argKindNames = [...]string{"no", "float_value", "float_register", "vec_register", "label"}

func (k ArgKind) String() string {
	if int(k) < len(argKindNames) {
		return argKindNames[k]
	}
	return fmt.Sprintf("argkind(%d)", k)
}

// JumpDir is the direction a jump searches for its label.
type JumpDir int8

const (
	JumpBackward JumpDir = -1
	JumpNone     JumpDir = 0
	JumpForward  JumpDir = 1
)

func (d JumpDir) String() string {
	switch d {
	case JumpBackward:
		return "up"
	case JumpForward:
		return "down"
	default:
		return "none"
	}
}

// Condition tells when a jump is taken.
type Condition uint8

const (
	CondAlways Condition = iota
	CondTrue             // Taken when the flag is set
	CondFalse            // Taken when the flag is clear
)

func (c Condition) String() string {
	switch c {
	case CondTrue:
		return "true"
	case CondFalse:
		return "false"
	default:
		return "always"
	}
}

// OpInfo is the static description of an opcode.
type OpInfo struct {
	Name string
	Arg  ArgKind
	Dir  JumpDir
	Cond Condition

	// Disabled opcodes keep their slot in the encoding but execute as no-ops.
	Enabled bool
}

var opTable = [NumOpcodes]OpInfo{
	OpNop:         {Name: "nop", Arg: ArgNone, Enabled: true},
	OpVLoad:       {Name: "vload", Arg: ArgVecReg, Enabled: true},
	OpVStore:      {Name: "vstore", Arg: ArgVecReg, Enabled: true},
	OpVRand:       {Name: "vrand", Arg: ArgNone},
	OpVMerge:      {Name: "vmerge", Arg: ArgVecReg, Enabled: true},
	OpVSwap:       {Name: "vswap", Arg: ArgVecReg, Enabled: true},
	OpVLess:       {Name: "vless", Arg: ArgVecReg, Enabled: true},
	OpFLoad:       {Name: "fload", Arg: ArgFloatReg, Enabled: true},
	OpFLoadValue:  {Name: "fload_value", Arg: ArgFloatValue, Enabled: true},
	OpFStore:      {Name: "fstore", Arg: ArgFloatReg, Enabled: true},
	OpFAdd:        {Name: "fadd", Arg: ArgFloatReg, Enabled: true},
	OpFAddValue:   {Name: "fadd_value", Arg: ArgFloatValue, Enabled: true},
	OpFMul:        {Name: "fmul", Arg: ArgFloatReg},
	OpFMulValue:   {Name: "fmul_value", Arg: ArgFloatValue},
	OpFSwap:       {Name: "fswap", Arg: ArgFloatReg, Enabled: true},
	OpFLess:       {Name: "fless", Arg: ArgFloatReg, Enabled: true},
	OpFLessValue:  {Name: "fless_value", Arg: ArgFloatValue, Enabled: true},
	OpJumpUp:      {Name: "jump_up", Arg: ArgLabel, Dir: JumpBackward, Enabled: true},
	OpJumpDown:    {Name: "jump_down", Arg: ArgLabel, Dir: JumpForward, Enabled: true},
	OpIfTrueUp:    {Name: "iftrue_up", Arg: ArgLabel, Dir: JumpBackward, Cond: CondTrue, Enabled: true},
	OpIfTrueDown:  {Name: "iftrue_down", Arg: ArgLabel, Dir: JumpForward, Cond: CondTrue, Enabled: true},
	OpIfFalseUp:   {Name: "iffalse_up", Arg: ArgLabel, Dir: JumpBackward, Cond: CondFalse, Enabled: true},
	OpIfFalseDown: {Name: "iffalse_down", Arg: ArgLabel, Dir: JumpForward, Cond: CondFalse, Enabled: true},
	OpLabel:       {Name: "label", Arg: ArgLabel, Enabled: true},
	OpTrace:       {Name: "trace", Arg: ArgNone},
}

var opByName = func() map[string]Opcode {
	m := make(map[string]Opcode, NumOpcodes)
	for op, info := range opTable {
		m[info.Name] = Opcode(op)
	}
	return m
}()

// Info returns the static description of op. Out-of-range values are reduced
// modulo NumOpcodes, as the decoder does.
func (op Opcode) Info() OpInfo {
	return opTable[int(op)%NumOpcodes]
}

// ArgKind returns the argument kind of op.
func (op Opcode) ArgKind() ArgKind { return op.Info().Arg }

// JumpDir returns the jump direction of op, JumpNone for non-jumps.
func (op Opcode) JumpDir() JumpDir { return op.Info().Dir }

// IsJump reports whether op transfers control to a resolved address.
func (op Opcode) IsJump() bool { return op.Info().Dir != JumpNone }

// Enabled reports whether op has an effect when executed.
func (op Opcode) Enabled() bool { return op.Info().Enabled }

func (op Opcode) String() string {
	if int(op) >= NumOpcodes {
		return fmt.Sprintf("badcmd%d", op)
	}
	return opTable[op].Name
}

// OpcodeByName looks up an opcode by mnemonic.
func OpcodeByName(name string) (Opcode, bool) {
	op, ok := opByName[strings.ToLower(name)]
	return op, ok
}

// CommandSystem returns the canonical text description of the opcode table.
// Genomes are only meaningful relative to the table they evolved against.
func CommandSystem() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "NVECREG %d\nNFLOATREG %d\n", NVecReg, NFloatReg)
	for op, info := range opTable {
		fmt.Fprintf(&sb, "%d %s %s %s %s %t\n", op, info.Name, info.Arg, info.Dir, info.Cond, info.Enabled)
	}
	return sb.String()
}

// CommandSystemHash fingerprints CommandSystem with sha3-256.
func CommandSystemHash() string {
	sum := sha3.Sum256([]byte(CommandSystem()))
	return hex.EncodeToString(sum[:16])
}
