package lifter

import (
	"github.com/glualang/ljdec/bytecode"
)

// groupJumps fuses every compare and test with its trailing jump into a
// single condition statement, registers the remaining jumps as labels and
// cleans up the jump shapes the compiler only emits for bookkeeping.
func (l *Lifter) groupJumps(function *Function) {
	for i := len(function.block); i > 0; i-- {
		statement := function.block[i-1]

		switch statement.Instruction.Type {
		case bytecode.OP_ISTC, bytecode.OP_ISFC,
			bytecode.OP_ISLT, bytecode.OP_ISGE, bytecode.OP_ISLE, bytecode.OP_ISGT,
			bytecode.OP_ISEQV, bytecode.OP_ISNEV, bytecode.OP_ISEQS, bytecode.OP_ISNES,
			bytecode.OP_ISEQN, bytecode.OP_ISNEN, bytecode.OP_ISEQP, bytecode.OP_ISNEP,
			bytecode.OP_IST, bytecode.OP_ISF:
			if statement.Instruction.Type == bytecode.OP_ISTC || statement.Instruction.Type == bytecode.OP_ISFC {
				function.addJump(statement.Instruction.ID, statement.Instruction.ID+2)
			}

			statement.Type = StatementCondition
			statement.Instruction.Target = function.block[i].Instruction.Target
			function.block = append(function.block[:i], function.block[i+1:]...)
			function.slotScopeCollector.addJump(statement.Instruction.ID+1, statement.Instruction.Target)
		case bytecode.OP_UCLO, bytecode.OP_JMP, bytecode.OP_LOOP:
			if statement.Instruction.Type == bytecode.OP_UCLO {
				function.slotScopeCollector.addUpvalueClose(statement.Instruction.ID, statement.Instruction.Target, statement.Instruction.A)
			}

			if statement.Instruction.Type != bytecode.OP_LOOP {
				statement.Type = StatementGoto
			}

			function.addJump(statement.Instruction.ID, statement.Instruction.Target)
		}
	}

	for i := len(function.block); i > 0; i-- {
		statement := function.block[i-1]
		statement.Instruction.AttachedLabel = function.getLabelFromID(statement.Instruction.ID)

		switch statement.Instruction.Type {
		case bytecode.OP_UCLO:
			if statement.Instruction.Target == getExtendedIDFromStatement(function.block[i]) {
				statement.Type = StatementEmpty
				function.removeJump(statement.Instruction.ID, statement.Instruction.Target)
			}
		case bytecode.OP_ITERC:
			index := getBlockIndexFromID(function.block, function.labels[statement.Instruction.AttachedLabel].JumpIds[0])
			function.block[index].Type = StatementInstruction
			function.removeJump(function.block[index].Instruction.ID, function.block[index].Instruction.Target)
		case bytecode.OP_JMP:
			if statement.Type != StatementGoto {
				continue
			}

			function.slotScopeCollector.addJump(statement.Instruction.ID, statement.Instruction.Target)

			if statement.Instruction.Target == statement.Instruction.ID ||
				i-1 == 0 ||
				function.block[i-2].Instruction.Type != bytecode.OP_JMP ||
				function.block[i-2].Instruction.D != bytecode.JumpBias {
				continue
			}

			// A jump over a jump is the compiler's encoding of an
			// inverted condition with no test instruction.
			previous := function.block[i-2]
			function.removeJump(previous.Instruction.ID, previous.Instruction.Target)
			previous.Type = StatementCondition
			previous.Instruction.Target = statement.Instruction.Target
			function.block = append(function.block[:i-1], function.block[i:]...)
		}
	}

	for i := len(function.block); i > 0; i-- {
		statement := function.block[i-1]

		if i-1 > 0 &&
			statement.Type == StatementReturn &&
			function.block[i-2].Type == StatementReturn &&
			function.isValidLabel(statement.Instruction.AttachedLabel) &&
			len(function.labels[statement.Instruction.AttachedLabel].JumpIds) == 1 {
			index := getBlockIndexFromID(function.block, function.labels[statement.Instruction.AttachedLabel].JumpIds[0])

			if index != invalidID && function.block[index].Instruction.Type == bytecode.OP_UCLO {
				source := function.block[index]
				function.removeJump(source.Instruction.ID, source.Instruction.Target)
				source.Instruction.Type = statement.Instruction.Type
				source.Instruction.A = statement.Instruction.A
				source.Instruction.B = statement.Instruction.B
				source.Instruction.C = statement.Instruction.C
				source.Instruction.D = statement.Instruction.D
				statement.Type = StatementEmpty
				continue
			}
		}

		if statement.Instruction.Type == bytecode.OP_RET0 {
			statement.Type = StatementEmpty
		}

		break
	}

	l.buildLoops(function)
}
