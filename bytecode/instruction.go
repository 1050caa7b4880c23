package bytecode

import (
	"strconv"
	"strings"
)

type Instruction uint32

/*
** layout of an instruction word:
**   ABC format:  B(31-24) C(23-16) A(15-8) OP(7-0)
**   AD format:   D(31-16)          A(15-8) OP(7-0)
 */
const (
	posOp = 0
	posA  = 8
	posC  = 16
	posB  = 24
	posD  = 16

	maxArgA = 1<<8 - 1
	maxArgB = 1<<8 - 1
	maxArgC = 1<<8 - 1
	maxArgD = 1<<16 - 1

	// jump displacements are stored biased so they fit an unsigned D
	JumpBias = 0x8000
)

func (i Instruction) Op() OpCode { return OpCode(i >> posOp & 0xff) }
func (i Instruction) A() uint8   { return uint8(i >> posA & maxArgA) }
func (i Instruction) B() uint8   { return uint8(i >> posB & maxArgB) }
func (i Instruction) C() uint8   { return uint8(i >> posC & maxArgC) }
func (i Instruction) D() uint16  { return uint16(i >> posD & maxArgD) }

// SignedD interprets D as the KSHORT-style signed 16 bit literal.
func (i Instruction) SignedD() int16 { return int16(i.D()) }

func CreateABC(op OpCode, a, b, c uint8) Instruction {
	return Instruction(op)<<posOp |
		Instruction(a)<<posA |
		Instruction(b)<<posB |
		Instruction(c)<<posC
}

func CreateAD(op OpCode, a uint8, d uint16) Instruction {
	return Instruction(op)<<posOp |
		Instruction(a)<<posA |
		Instruction(d)<<posD
}

// CreateAJ builds a jump-format instruction from an unbiased displacement.
func CreateAJ(op OpCode, a uint8, j int) Instruction {
	return CreateAD(op, a, uint16(j+JumpBias))
}

func (i Instruction) String() string {
	op := i.Op()
	s := strings.ToLower(op.String())

	switch op.Format() {
	case fmtABC:
		s += " " + strconv.Itoa(int(i.A())) + " " + strconv.Itoa(int(i.B())) + " " + strconv.Itoa(int(i.C()))
	case fmtAJ:
		s += " " + strconv.Itoa(int(i.A())) + " => " + strconv.Itoa(int(i.D())-JumpBias)
	default:
		s += " " + strconv.Itoa(int(i.A())) + " " + strconv.Itoa(int(i.D()))
	}

	return s
}
