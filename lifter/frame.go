package lifter

// buildIfStatements promotes the remaining conditions to if statements.
// The body runs from the statement after the condition up to the one
// whose follow label matches the condition's jump target. Breaks drop
// their jump edges here since no later pass reads them.
func (l *Lifter) buildIfStatements(function *Function, ref blockRef, previousBlock *blockInfo) {
	block := ref.get()
	info := blockInfo{block: block, previousBlock: previousBlock}

	for i := len(block) - 1; i >= 0; i-- {
		switch block[i].Type {
		case StatementCondition:
			block[i].Type = StatementIf
			targetLabel := invalidID
			index := i

			for ; index < len(block); index++ {
				info.index = uint32(index)
				info.block = block
				targetLabel = l.getLabelFromNextStatement(function, &info, uint32(index), true, false)

				if targetLabel != invalidID &&
					targetLabel < uint32(len(function.labels)) &&
					function.labels[targetLabel].Target == block[i].Instruction.Target {
					break
				}
			}

			l.assert(targetLabel != invalidID &&
				targetLabel < uint32(len(function.labels)) &&
				function.labels[targetLabel].Target == block[i].Instruction.Target,
				UnrecognizedIdiom, "failed to build if statement")
			block[i].Block = append(block[i].Block, block[i+1:index+1]...)
			block = append(block[:i+1], block[index+1:]...)
			function.removeJump(block[i].Instruction.ID, block[i].Instruction.Target)
		case StatementBreak:
			function.removeJump(block[i].Instruction.ID, block[i].Instruction.Target)
		case StatementNumericFor, StatementGenericFor, StatementLoop, StatementDeclaration:
			info.index = uint32(i)
			info.block = block
			l.buildIfStatements(function, blockRef{function: function, statement: block[i]}, &info)
		}
	}

	ref.set(block)
}
