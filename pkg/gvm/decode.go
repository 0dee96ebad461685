package gvm

import "math"

// floatScale maps a signed argument byte to a literal in [-4, 3.97].
const floatScale = 32.0

// ByteToFloat decodes a literal argument byte.
func ByteToFloat(b int8) float64 {
	return float64(b) / floatScale
}

// FloatToByte encodes a literal, rounding to the nearest step and wrapping
// values outside the representable range.
func FloatToByte(x float64) int8 {
	return int8(uint8(int64(math.Round(x*floatScale)) & 0xff))
}

// Decode turns a genome into instructions. Bytes are consumed in
// (opcode, argument) pairs and a trailing odd byte is dropped. Every opcode byte
// is reduced modulo NumOpcodes, so any genome decodes.
//
// Jump payloads are left as LabelArg; see Resolve.
func Decode(genome []byte) []Instruction {
	code := make([]Instruction, 0, len(genome)/2)
	for i := 0; i+1 < len(genome); i += 2 {
		op := Opcode(int(genome[i]) % NumOpcodes)
		code = append(code, Instruction{Op: op, Arg: decodeArg(op.ArgKind(), genome[i+1])})
	}
	return code
}

func decodeArg(kind ArgKind, b byte) Arg {
	switch kind {
	case ArgFloatReg:
		return FloatReg(int(b) % NFloatReg)
	case ArgVecReg:
		return VecReg(int(b) % NVecReg)
	case ArgFloatValue:
		return FloatValue(ByteToFloat(int8(b)))
	case ArgLabel:
		return LabelArg(int8(b))
	default:
		return NoArg{}
	}
}
