package lifter

import (
	"github.com/glualang/ljdec/bytecode"
)

// buildInstructions creates one statement per bytecode instruction and
// classifies the control flow carriers. Child prototypes referenced by
// FNEW are instantiated here so their upvalue bindings can be resolved
// against the parent while the parent's slots are still linear.
func (l *Lifter) buildInstructions(function *Function) {
	var upvalues []uint8

	function.block = make([]*Statement, len(function.prototype.Instructions))

	for i := len(function.block); i > 0; i-- {
		statement := newStatement(StatementInstruction)
		instruction := function.prototype.Instructions[i-1]
		statement.Instruction = newInstructionInfo(instruction, uint32(i-1))
		function.block[i-1] = statement

		switch statement.Instruction.Type {
		case bytecode.OP_FNEW:
			child := newFunction(function.getConstant(statement.Instruction.D).Prototype, function.level+1)
			statement.Function = child
			function.childFunctions = append(function.childFunctions, child)
			child.upvalues = make([]upvalue, len(child.prototype.Upvalues))

			for j := len(child.upvalues); j > 0; j-- {
				descriptor := child.prototype.Upvalues[j-1]
				child.upvalues[j-1].Slot = bytecode.UpvalueSlot(descriptor)

				if !bytecode.UpvalueIsLocal(descriptor) {
					child.upvalues[j-1].SlotScope = function.upvalues[child.upvalues[j-1].Slot].SlotScope
					continue
				}

				child.upvalues[j-1].Local = true

				if child.upvalues[j-1].Slot >= function.prototype.Parameters {
					upvalues = append(upvalues, child.upvalues[j-1].Slot)
				}
			}

			if len(upvalues) != 0 {
				function.slotScopeCollector.addUpvalues(statement.Instruction.ID, upvalues)
				upvalues = nil
			}
		case bytecode.OP_CALLMT, bytecode.OP_CALLT, bytecode.OP_RETM, bytecode.OP_RET, bytecode.OP_RET0, bytecode.OP_RET1:
			statement.Type = StatementReturn
		case bytecode.OP_UCLO, bytecode.OP_ISNEXT, bytecode.OP_FORI, bytecode.OP_FORL, bytecode.OP_ITERL, bytecode.OP_LOOP, bytecode.OP_JMP:
			statement.Instruction.Target = jumpTarget(statement.Instruction.ID, statement.Instruction.D)
		}
	}

	l.assignDebugInfo(function)
}

func jumpTarget(id uint32, d uint16) uint32 {
	return uint32(int64(id) + int64(d) - bytecode.JumpBias + 1)
}

// assignDebugInfo folds the variable debug records into declaration
// groups. Records arrive ordered by scope begin, with internal loop
// control markers interleaved between named variables, and the active
// scope stack mirrors the slot assignment the compiler used.
func (l *Lifter) assignDebugInfo(function *Function) {
	if !function.hasDebugInfo {
		l.groupJumps(function)
		return
	}

	var activeLocalScopes []uint32

	function.parameterNames = make([]string, function.prototype.Parameters)

	for i := len(function.parameterNames); i > 0; i-- {
		function.parameterNames[i-1] = function.prototype.VariableInfos[i-1].Name
		activeLocalScopes = append(activeLocalScopes, function.prototype.VariableInfos[i-1].ScopeEnd)
	}

	for i := len(function.parameterNames); i < len(function.prototype.VariableInfos); i++ {
		info := &function.prototype.VariableInfos[i]

		l.assert(len(activeLocalScopes) == 0 ||
			info.ScopeBegin > activeLocalScopes[len(activeLocalScopes)-1] ||
			info.ScopeEnd <= activeLocalScopes[len(activeLocalScopes)-1] ||
			info.ScopeBegin == activeLocalScopes[len(activeLocalScopes)-1],
			MalformedBytecode, "illegal variable scope border overlap")

		for len(activeLocalScopes) != 0 && info.ScopeEnd > activeLocalScopes[len(activeLocalScopes)-1] {
			activeLocalScopes = activeLocalScopes[:len(activeLocalScopes)-1]
		}

		if info.Kind != bytecode.VAR_STR {
			activeLocalScopes = append(activeLocalScopes, info.ScopeEnd)
			continue
		}

		if len(function.locals) != 0 &&
			info.ScopeBegin == info.ScopeEnd &&
			function.locals[len(function.locals)-1].ScopeEnd == info.ScopeEnd {
			index := getBlockIndexFromID(function.block, info.ScopeBegin)
			instruction := &function.block[index].Instruction

			zeroSpan := false

			switch instruction.Type {
			case bytecode.OP_KPRI:
				zeroSpan = instruction.D == 0 && uint32(instruction.A) < uint32(len(activeLocalScopes))
			case bytecode.OP_KNIL:
				zeroSpan = uint32(instruction.D) < uint32(len(activeLocalScopes))
			}

			if zeroSpan {
				for uint32(len(activeLocalScopes)) != function.locals[len(function.locals)-1].BaseSlot {
					l.assert(len(activeLocalScopes) != 0 && activeLocalScopes[len(activeLocalScopes)-1] == info.ScopeEnd,
						MalformedBytecode, "unable to build variable scope")
					activeLocalScopes = activeLocalScopes[:len(activeLocalScopes)-1]
				}

				previous := &function.locals[len(function.locals)-1]
				excludeBlock := true

				if previous.ScopeBegin == previous.ScopeEnd {
					excludeBlock = previous.ExcludeBlock
				}

				function.locals = append(function.locals, Local{
					BaseSlot:     uint32(len(activeLocalScopes)),
					ScopeBegin:   info.ScopeBegin,
					ScopeEnd:     info.ScopeEnd,
					ExcludeBlock: excludeBlock,
				})
			}
		}

		if len(function.locals) == 0 ||
			info.ScopeBegin != function.locals[len(function.locals)-1].ScopeBegin ||
			info.ScopeEnd != function.locals[len(function.locals)-1].ScopeEnd {
			function.locals = append(function.locals, Local{
				BaseSlot:   uint32(len(activeLocalScopes)),
				ScopeBegin: info.ScopeBegin,
				ScopeEnd:   info.ScopeEnd,
			})
		}

		last := &function.locals[len(function.locals)-1]
		last.Names = append(last.Names, info.Name)
		activeLocalScopes = append(activeLocalScopes, last.ScopeEnd)
	}

	l.groupJumps(function)
}
