package lifter

import (
	"github.com/glualang/ljdec/bytecode"
)

func buildBreakStatements(block []*Statement, breakTarget uint32) {
	for i := len(block); i > 0; i-- {
		if block[i-1].Type != StatementGoto || block[i-1].Instruction.Target != breakTarget {
			continue
		}

		block[i-1].Type = StatementBreak
	}
}

// buildLoops folds the flat statement list into nested loop statements.
// Iterator loops are recognized by the jump into their ITERC/ITERL
// triplet, numeric loops by FORI, and bare LOOP markers cover while,
// repeat and goto shapes.
func (l *Lifter) buildLoops(function *Function) {
	for i := len(function.block); i > 0; i-- {
		statement := function.block[i-1]

		if statement.Type != StatementInstruction {
			continue
		}

		switch statement.Instruction.Type {
		case bytecode.OP_ISNEXT, bytecode.OP_JMP:
			statement.Type = StatementGenericFor
			targetIndex := getBlockIndexFromID(function.block, statement.Instruction.Target)
			breakTarget := getExtendedIDFromStatement(function.block[targetIndex+2])
			statement.Instruction = function.block[targetIndex].Instruction
			statement.Instruction.ID = function.block[targetIndex+1].Instruction.Target - 1
			statement.Instruction.Target = function.block[targetIndex+1].Instruction.ID + 1
			function.block[targetIndex].Type = StatementEmpty
			statement.Block = append(statement.Block, function.block[i:targetIndex+1]...)
			function.block = append(function.block[:i], function.block[targetIndex+2:]...)
			function.slotScopeCollector.addLoop(statement.Instruction.ID, statement.Instruction.Target)
			buildBreakStatements(statement.Block, breakTarget)
			l.buildLocalScopes(function, blockRef{function: function, statement: statement})
		case bytecode.OP_FORI:
			statement.Type = StatementNumericFor
			targetIndex := getBlockIndexFromID(function.block, statement.Instruction.Target)
			breakTarget := getExtendedIDFromStatement(function.block[targetIndex])
			function.block[targetIndex-1].Type = StatementEmpty
			statement.Block = append(statement.Block, function.block[i:targetIndex]...)
			function.block = append(function.block[:i], function.block[targetIndex:]...)
			function.slotScopeCollector.addLoop(statement.Instruction.ID, statement.Instruction.Target)
			buildBreakStatements(statement.Block, breakTarget)
			l.buildLocalScopes(function, blockRef{function: function, statement: statement})
		case bytecode.OP_LOOP:
			l.assert(statement.Instruction.Target >= statement.Instruction.ID, MalformedBytecode, "LOOP instruction has invalid jump target")
			function.removeJump(statement.Instruction.ID, statement.Instruction.Target)

			if statement.Instruction.Target == statement.Instruction.ID {
				l.assert(i < len(function.block) &&
					function.block[i].Type == StatementGoto &&
					function.block[i].Instruction.Target <= statement.Instruction.ID &&
					!function.isValidLabel(function.block[i].Instruction.AttachedLabel),
					UnrecognizedIdiom, "invalid goto loop")
				statement.Type = StatementEmpty
				function.block[i].Instruction.Type = statement.Instruction.Type
				continue
			}

			statement.Type = StatementLoop
			targetIndex := getBlockIndexFromID(function.block, statement.Instruction.Target)
			breakTarget := getExtendedIDFromStatement(function.block[targetIndex])
			statement.Block = append(statement.Block, function.block[i:targetIndex]...)
			function.block = append(function.block[:i], function.block[targetIndex:]...)
			function.slotScopeCollector.addLoop(statement.Instruction.ID, statement.Instruction.Target)
			buildBreakStatements(statement.Block, breakTarget)

			if len(statement.Block) != 0 &&
				statement.Block[len(statement.Block)-1].Type == StatementCondition &&
				function.isValidLabel(statement.Instruction.AttachedLabel) &&
				breakTarget != statement.Instruction.ID {
				jumpIds := function.labels[statement.Instruction.AttachedLabel].JumpIds

				for j := len(jumpIds); j > 0 && jumpIds[j-1] > statement.Instruction.ID; j-- {
					if jumpIds[j-1] >= statement.Instruction.Target {
						continue
					}

					conditionIndex := getBlockIndexFromID(statement.Block, jumpIds[j-1]-1)

					if conditionIndex != invalidID && statement.Block[conditionIndex].Type == StatementCondition {
						// Repeat loops keep their trailing condition inside the
						// body, so close the shape with a synthetic break and a
						// jump back to the head.
						breakStatement := newStatement(StatementBreak)
						breakStatement.Instruction.Type = bytecode.OP_JMP
						breakStatement.Instruction.Target = breakTarget
						statement.Block = append(statement.Block, breakStatement)
						gotoStatement := newStatement(StatementGoto)
						gotoStatement.Instruction.Type = bytecode.OP_JMP
						gotoStatement.Instruction.Target = statement.Instruction.ID
						statement.Block = append(statement.Block, gotoStatement)
					}

					break
				}
			}

			l.buildLocalScopes(function, blockRef{function: function, statement: statement})
		}
	}

	l.buildLocalScopes(function, blockRef{function: function})
}
