package lifter

// buildLocalScopes materializes the declaration groups recovered from
// debug info as declaration statements and moves the statements covered
// by each scope into the declaration's block. For loops the group is
// attached to the loop statement itself since the loop head declares its
// control variables.
func (l *Lifter) buildLocalScopes(function *Function, ref blockRef) {
	if !function.hasDebugInfo {
		l.buildExpressions(function, ref)
		return
	}

	block := ref.get()

	for i := len(function.locals); i > 0; i-- {
		local := &function.locals[i-1]
		scopeBeginIndex := getBlockIndexFromID(block, local.ScopeBegin)

		if scopeBeginIndex == invalidID {
			continue
		}

		switch block[scopeBeginIndex].Type {
		case StatementNumericFor, StatementGenericFor:
			block[scopeBeginIndex].Locals = local
			continue
		}

		scopeBeginIndex++
		declaration := newStatement(StatementDeclaration)
		declaration.Locals = local
		block = append(block, nil)
		copy(block[scopeBeginIndex+1:], block[scopeBeginIndex:])
		block[scopeBeginIndex] = declaration

		if local.ScopeEnd > local.ScopeBegin {
			declaration.Instruction.ID = local.ScopeBegin + 1
			scopeEndIndex := getBlockIndexFromID(block, local.ScopeEnd+1)

			if scopeEndIndex == invalidID {
				scopeEndIndex = uint32(len(block))
			}

			for block[scopeEndIndex-1].Type == StatementDeclaration && block[scopeEndIndex-1].Locals.ExcludeBlock {
				scopeEndIndex--
			}

			declaration.Block = append(declaration.Block, block[scopeBeginIndex+1:scopeEndIndex]...)
			block = append(block[:scopeBeginIndex+1], block[scopeEndIndex:]...)
			ref.set(block)
			l.buildExpressions(function, blockRef{function: function, statement: declaration})
		}
	}

	ref.set(block)
	l.buildExpressions(function, ref)
}
