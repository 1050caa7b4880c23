package bytecode

import (
	"testing"
)

func TestInstructionFieldLayout(t *testing.T) {
	instruction := CreateABC(OP_ADDVV, 2, 0, 1)
	if instruction.Op() != OP_ADDVV || instruction.A() != 2 || instruction.B() != 0 || instruction.C() != 1 {
		t.Error("ABC fields did not survive the round trip:", instruction)
		return
	}

	instruction = CreateAD(OP_KSHORT, 3, 1000)
	if instruction.Op() != OP_KSHORT || instruction.A() != 3 || instruction.D() != 1000 {
		t.Error("AD fields did not survive the round trip:", instruction)
	}
}

func TestInstructionSignedD(t *testing.T) {
	instruction := CreateAD(OP_KSHORT, 0, 0xffff)
	if instruction.SignedD() != -1 {
		t.Error("D operand was not sign extended:", instruction.SignedD())
	}
}

func TestJumpOffsetBias(t *testing.T) {
	instruction := CreateAJ(OP_JMP, 0, 2)
	if instruction.D() != 2+JumpBias {
		t.Error("forward jump offset lost its bias:", instruction.D())
		return
	}

	instruction = CreateAJ(OP_JMP, 0, -3)
	if int(instruction.D())-JumpBias != -3 {
		t.Error("backward jump offset lost its bias:", instruction.D())
	}
}

func TestTranslateOpcode(t *testing.T) {
	if op := translateOpcode(2, uint8(OP_ISTYPE)); op != OP_ISTYPE {
		t.Error("version 2 dropped a type guard opcode:", op)
		return
	}

	// version 1 dumps have no ISTYPE/ISNUM, so raw 16 is MOV there
	if op := translateOpcode(1, uint8(OP_ISTYPE)); op != OP_MOV {
		t.Error("version 1 opcode 16 should decode as MOV:", op)
		return
	}

	if op := translateOpcode(2, uint8(NUM_OPCODES)); op != OP_INVALID {
		t.Error("out of range opcode should be invalid:", op)
	}
}
