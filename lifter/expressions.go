package lifter

import (
	"math"

	"github.com/glualang/ljdec/bytecode"
)

// buildExpressions turns every remaining instruction statement into an
// assignment with materialized operand expressions. Slot reads stay
// unresolved variable references registered as open slots, which is what
// the elimination pass later substitutes through.
func (l *Lifter) buildExpressions(function *Function, ref blockRef) {
	block := ref.get()

	for i := len(block) - 1; i >= 0; i-- {
		statement := block[i]

		switch statement.Type {
		case StatementInstruction:
			statement.Type = StatementAssignment
			statement.Assignment.Expressions = make([]*Expression, 1)
			expressions := statement.Assignment.Expressions

			switch statement.Instruction.Type {
			case bytecode.OP_MOV:
				expressions[0] = l.newSlot(uint8(statement.Instruction.D))
				statement.Assignment.registerOpenSlots(&expressions[0])
			case bytecode.OP_NOT, bytecode.OP_UNM, bytecode.OP_LEN:
				switch statement.Instruction.Type {
				case bytecode.OP_NOT:
					expressions[0] = newExpression(ExpressionUnaryNot)
					statement.Assignment.AllowedConstantType = constantInvalid
				case bytecode.OP_UNM:
					expressions[0] = newExpression(ExpressionUnaryMinus)
					statement.Assignment.AllowedConstantType = constantBool
				case bytecode.OP_LEN:
					expressions[0] = newExpression(ExpressionUnaryLength)
				}

				expressions[0].UnaryOp.Operand = l.newSlot(uint8(statement.Instruction.D))
				statement.Assignment.registerOpenSlots(&expressions[0].UnaryOp.Operand)
			case bytecode.OP_ADDVN, bytecode.OP_SUBVN, bytecode.OP_MULVN, bytecode.OP_DIVVN, bytecode.OP_MODVN,
				bytecode.OP_ADDNV, bytecode.OP_SUBNV, bytecode.OP_MULNV, bytecode.OP_DIVNV, bytecode.OP_MODNV,
				bytecode.OP_ADDVV, bytecode.OP_SUBVV, bytecode.OP_MULVV, bytecode.OP_DIVVV, bytecode.OP_MODVV,
				bytecode.OP_POW, bytecode.OP_CAT:
				if statement.Instruction.Type != bytecode.OP_CAT {
					statement.Assignment.AllowedConstantType = constantBool
				}

				expressions[0] = newExpression(binaryTypeForArith(statement.Instruction.Type))
				operation := expressions[0].BinaryOp

				switch statement.Instruction.Type {
				case bytecode.OP_ADDVN, bytecode.OP_SUBVN, bytecode.OP_MULVN, bytecode.OP_DIVVN, bytecode.OP_MODVN:
					operation.LeftOperand = l.newSlot(statement.Instruction.B)
					statement.Assignment.registerOpenSlots(&operation.LeftOperand)
					operation.RightOperand = l.newNumber(function, uint16(statement.Instruction.C))
				case bytecode.OP_ADDNV, bytecode.OP_SUBNV, bytecode.OP_MULNV, bytecode.OP_DIVNV, bytecode.OP_MODNV:
					operation.LeftOperand = l.newNumber(function, uint16(statement.Instruction.C))
					operation.RightOperand = l.newSlot(statement.Instruction.B)
					statement.Assignment.registerOpenSlots(&operation.RightOperand)
				case bytecode.OP_ADDVV, bytecode.OP_SUBVV, bytecode.OP_MULVV, bytecode.OP_DIVVV, bytecode.OP_MODVV, bytecode.OP_POW:
					operation.LeftOperand = l.newSlot(statement.Instruction.B)
					operation.RightOperand = l.newSlot(statement.Instruction.C)
					statement.Assignment.registerOpenSlots(&operation.LeftOperand, &operation.RightOperand)
				case bytecode.OP_CAT:
					// Concatenation covers slots b..c and nests to the
					// right, one operand per slot.
					operation.LeftOperand = l.newSlot(statement.Instruction.B)

					for expression := expressions[0]; ; expression = expression.BinaryOp.RightOperand {
						statement.Assignment.registerOpenSlots(&expression.BinaryOp.LeftOperand)

						if expression.BinaryOp.LeftOperand.Variable.Slot == statement.Instruction.C-1 {
							expression.BinaryOp.RightOperand = l.newSlot(statement.Instruction.C)
							statement.Assignment.registerOpenSlots(&expression.BinaryOp.RightOperand)
							break
						}

						next := newExpression(ExpressionBinaryConcatenation)
						next.BinaryOp.LeftOperand = l.newSlot(expression.BinaryOp.LeftOperand.Variable.Slot + 1)
						expression.BinaryOp.RightOperand = next
					}
				}
			case bytecode.OP_KSTR:
				expressions[0] = l.newString(function, statement.Instruction.D)
			case bytecode.OP_KCDATA:
				expressions[0] = l.newCdata(function, statement.Instruction.D)
			case bytecode.OP_KSHORT:
				expressions[0] = l.newSignedLiteral(statement.Instruction.D)
			case bytecode.OP_KNUM:
				expressions[0] = l.newNumber(function, statement.Instruction.D)
			case bytecode.OP_KPRI:
				expressions[0] = l.newPrimitive(statement.Instruction.D)
			case bytecode.OP_KNIL:
				expressions[0] = l.newPrimitive(0)

				if uint16(statement.Instruction.A) != statement.Instruction.D {
					// Split off one slot per statement so each nil gets
					// its own assignment.
					clone := newStatement(StatementInstruction)
					clone.Instruction = statement.Instruction
					clone.Instruction.D--
					block = append(block, nil)
					copy(block[i+1:], block[i:])
					block[i] = clone
					i++
					statement.Instruction.A = uint8(statement.Instruction.D)
					statement.Instruction.ID = invalidID
					statement.Instruction.AttachedLabel = invalidID
				}
			case bytecode.OP_UGET:
				expressions[0] = newExpression(ExpressionVariable)
				expressions[0].Variable.Type = VariableUpvalue
				expressions[0].Variable.SlotScope = function.upvalues[statement.Instruction.D].SlotScope
			case bytecode.OP_USETV, bytecode.OP_USETS, bytecode.OP_USETN, bytecode.OP_USETP:
				statement.Assignment.Variables = make([]Variable, 1)
				statement.Assignment.Variables[0].Type = VariableUpvalue
				statement.Assignment.Variables[0].SlotScope = function.upvalues[statement.Instruction.A].SlotScope

				switch statement.Instruction.Type {
				case bytecode.OP_USETV:
					expressions[0] = l.newSlot(uint8(statement.Instruction.D))
					statement.Assignment.registerOpenSlots(&expressions[0])
				case bytecode.OP_USETS:
					expressions[0] = l.newString(function, statement.Instruction.D)
				case bytecode.OP_USETN:
					expressions[0] = l.newNumber(function, statement.Instruction.D)
				case bytecode.OP_USETP:
					expressions[0] = l.newPrimitive(statement.Instruction.D)
				}

				continue
			case bytecode.OP_FNEW:
				expressions[0] = newExpression(ExpressionFunction)
				expressions[0].Function = statement.Function
			case bytecode.OP_TNEW:
				expressions[0] = newExpression(ExpressionTable)
				statement.Assignment.IsTableConstructor = true
			case bytecode.OP_TDUP:
				expressions[0] = l.newTable(function, statement.Instruction.D)
				statement.Assignment.IsTableConstructor = true
			case bytecode.OP_GGET:
				expressions[0] = newExpression(ExpressionVariable)
				expressions[0].Variable.Type = VariableGlobal
				expressions[0].Variable.Name = function.getConstant(statement.Instruction.D).String

				if function.hasDebugInfo {
					function.usedGlobals[expressions[0].Variable.Name] = struct{}{}
				}
			case bytecode.OP_GSET:
				statement.Assignment.Variables = make([]Variable, 1)
				statement.Assignment.Variables[0].Type = VariableGlobal
				statement.Assignment.Variables[0].Name = function.getConstant(statement.Instruction.D).String

				if function.hasDebugInfo {
					function.usedGlobals[statement.Assignment.Variables[0].Name] = struct{}{}
				}

				expressions[0] = l.newSlot(statement.Instruction.A)
				statement.Assignment.registerOpenSlots(&expressions[0])
				continue
			case bytecode.OP_TGETV, bytecode.OP_TGETS, bytecode.OP_TGETB:
				expressions[0] = newExpression(ExpressionVariable)
				variable := expressions[0].Variable
				variable.Type = VariableTableIndex
				variable.Table = l.newSlot(statement.Instruction.B)
				statement.Assignment.registerOpenSlots(&variable.Table)

				switch statement.Instruction.Type {
				case bytecode.OP_TGETV:
					variable.TableIndex = l.newSlot(statement.Instruction.C)
					statement.Assignment.registerOpenSlots(&variable.TableIndex)
				case bytecode.OP_TGETS:
					variable.TableIndex = l.newString(function, uint16(statement.Instruction.C))
					checkValidName(variable.TableIndex.Constant)
				case bytecode.OP_TGETB:
					variable.TableIndex = l.newLiteral(statement.Instruction.C)
				}
			case bytecode.OP_TSETV, bytecode.OP_TSETS, bytecode.OP_TSETB:
				statement.Assignment.Variables = make([]Variable, 1)
				variable := &statement.Assignment.Variables[0]
				variable.Type = VariableTableIndex
				variable.Table = l.newSlot(statement.Instruction.B)

				switch statement.Instruction.Type {
				case bytecode.OP_TSETV:
					variable.TableIndex = l.newSlot(statement.Instruction.C)
					statement.Assignment.registerOpenSlots(&variable.TableIndex)
				case bytecode.OP_TSETS:
					variable.TableIndex = l.newString(function, uint16(statement.Instruction.C))
					checkValidName(variable.TableIndex.Constant)
				case bytecode.OP_TSETB:
					variable.TableIndex = l.newLiteral(statement.Instruction.C)
				}

				expressions[0] = l.newSlot(statement.Instruction.A)
				statement.Assignment.registerOpenSlots(&expressions[0])
				continue
			case bytecode.OP_TSETM:
				statement.Assignment.Variables = make([]Variable, 1)
				variable := &statement.Assignment.Variables[0]
				variable.Type = VariableTableIndex
				variable.IsMultres = true
				variable.Table = l.newSlot(statement.Instruction.A - 1)
				l.assert(function.getNumberConstant(statement.Instruction.D).Type == bytecode.KNUM_NUM,
					MalformedBytecode, "multres table index is not a valid number constant")
				variable.MultresIndex = math.Float64frombits(function.getNumberConstant(statement.Instruction.D).Number)
				expressions[0] = l.newSlot(statement.Instruction.A)
				expressions[0].Variable.IsMultres = true
				statement.Assignment.registerOpenSlots(&expressions[0])
				continue
			case bytecode.OP_CALLM, bytecode.OP_CALL:
				expressions[0] = newExpression(ExpressionFunctionCall)
				call := expressions[0].FunctionCall

				if statement.Instruction.B != 0 {
					if statement.Instruction.B == 1 {
						statement.Type = StatementFunctionCall
					} else {
						statement.Assignment.Variables = make([]Variable, statement.Instruction.B-1)

						for j := range statement.Assignment.Variables {
							statement.Assignment.Variables[j].Type = VariableSlot
							statement.Assignment.Variables[j].Slot = statement.Instruction.A + uint8(j)
						}

						call.ReturnCount = uint8(len(statement.Assignment.Variables))
					}
				} else {
					statement.Assignment.Variables = make([]Variable, 1)
					statement.Assignment.Variables[0].Type = VariableSlot
					statement.Assignment.Variables[0].Slot = statement.Instruction.A
					statement.Assignment.Variables[0].IsMultres = true
				}

				call.Function = l.newSlot(statement.Instruction.A)
				statement.Assignment.registerOpenSlots(&call.Function)

				argumentCount := int(statement.Instruction.C)
				if statement.Instruction.Type != bytecode.OP_CALLM {
					argumentCount--
				}

				call.Arguments = make([]*Expression, argumentCount)

				if argumentCount != 0 {
					statement.Assignment.IsPotentialMethod = true
				}

				for j := 0; j < argumentCount; j++ {
					call.Arguments[j] = l.newSlot(statement.Instruction.A + l.argumentBase() + uint8(j))
					statement.Assignment.registerOpenSlots(&call.Arguments[j])
				}

				if statement.Instruction.Type == bytecode.OP_CALLM {
					call.MultresArgument = l.newSlot(statement.Instruction.A + l.argumentBase() + statement.Instruction.C)
					call.MultresArgument.Variable.IsMultres = true
					statement.Assignment.registerOpenSlots(&call.MultresArgument)
				}

				continue
			case bytecode.OP_VARG:
				expressions[0] = newExpression(ExpressionVararg)

				if statement.Instruction.B != 0 {
					if statement.Instruction.B == 1 {
						statement.Type = StatementFunctionCall
					} else {
						statement.Assignment.Variables = make([]Variable, statement.Instruction.B-1)

						for j := range statement.Assignment.Variables {
							statement.Assignment.Variables[j].Type = VariableSlot
							statement.Assignment.Variables[j].Slot = statement.Instruction.A + uint8(j)
						}

						expressions[0].Vararg.ReturnCount = uint8(len(statement.Assignment.Variables))
					}
				} else {
					statement.Assignment.Variables = make([]Variable, 1)
					statement.Assignment.Variables[0].Type = VariableSlot
					statement.Assignment.Variables[0].Slot = statement.Instruction.A
					statement.Assignment.Variables[0].IsMultres = true
				}

				continue
			}

			if statement.Type == StatementAssignment && len(statement.Assignment.Variables) == 0 {
				statement.Assignment.Variables = make([]Variable, 1)
				statement.Assignment.Variables[0].Type = VariableSlot
				statement.Assignment.Variables[0].Slot = statement.Instruction.A
			}
		case StatementReturn:
			if i > 0 &&
				block[i-1].Type == StatementEmpty &&
				block[i-1].Instruction.Type == bytecode.OP_UCLO &&
				!function.isValidLabel(statement.Instruction.AttachedLabel) {
				statement.Instruction.ID = block[i-1].Instruction.ID
				statement.Instruction.AttachedLabel = block[i-1].Instruction.AttachedLabel
				block = append(block[:i-1], block[i:]...)
				i--
			}

			switch statement.Instruction.Type {
			case bytecode.OP_CALLMT, bytecode.OP_CALLT:
				statement.Assignment.Expressions = make([]*Expression, 1)
				statement.Assignment.Expressions[0] = newExpression(ExpressionFunctionCall)
				call := statement.Assignment.Expressions[0].FunctionCall
				call.Function = l.newSlot(statement.Instruction.A)
				statement.Assignment.registerOpenSlots(&call.Function)

				argumentCount := int(statement.Instruction.D)
				if statement.Instruction.Type != bytecode.OP_CALLMT {
					argumentCount--
				}

				call.Arguments = make([]*Expression, argumentCount)

				if argumentCount != 0 {
					statement.Assignment.IsPotentialMethod = true
				}

				for j := 0; j < argumentCount; j++ {
					call.Arguments[j] = l.newSlot(statement.Instruction.A + l.argumentBase() + uint8(j))
					statement.Assignment.registerOpenSlots(&call.Arguments[j])
				}

				if statement.Instruction.Type == bytecode.OP_CALLMT {
					call.MultresArgument = l.newSlot(statement.Instruction.A + l.argumentBase() + uint8(statement.Instruction.D))
					call.MultresArgument.Variable.IsMultres = true
					statement.Assignment.registerOpenSlots(&call.MultresArgument)
				}
			case bytecode.OP_RETM, bytecode.OP_RET, bytecode.OP_RET1:
				returnCount := int(statement.Instruction.D)
				if statement.Instruction.Type != bytecode.OP_RETM {
					returnCount--
				}

				statement.Assignment.Expressions = make([]*Expression, returnCount)

				for j := 0; j < returnCount; j++ {
					statement.Assignment.Expressions[j] = l.newSlot(statement.Instruction.A + uint8(j))
					statement.Assignment.registerOpenSlots(&statement.Assignment.Expressions[j])
				}

				if statement.Instruction.Type == bytecode.OP_RETM {
					statement.Assignment.MultresReturn = l.newSlot(statement.Instruction.A + uint8(statement.Instruction.D))
					statement.Assignment.MultresReturn.Variable.IsMultres = true
					statement.Assignment.registerOpenSlots(&statement.Assignment.MultresReturn)
				}
			}
		case StatementCondition:
			switch statement.Instruction.Type {
			case bytecode.OP_ISLT, bytecode.OP_ISGE, bytecode.OP_ISLE, bytecode.OP_ISGT,
				bytecode.OP_ISEQV, bytecode.OP_ISNEV, bytecode.OP_ISEQS, bytecode.OP_ISNES,
				bytecode.OP_ISEQN, bytecode.OP_ISNEN, bytecode.OP_ISEQP, bytecode.OP_ISNEP:
				statement.Assignment.Expressions = make([]*Expression, 2)
				statement.Assignment.Expressions[0] = l.newSlot(statement.Instruction.A)
				statement.Assignment.registerOpenSlots(&statement.Assignment.Expressions[0])

				switch statement.Instruction.Type {
				case bytecode.OP_ISLT, bytecode.OP_ISGE, bytecode.OP_ISLE, bytecode.OP_ISGT, bytecode.OP_ISEQV, bytecode.OP_ISNEV:
					if statement.Instruction.Type != bytecode.OP_ISEQV && statement.Instruction.Type != bytecode.OP_ISNEV {
						statement.Condition.AllowSlotSwap = true
					}

					statement.Assignment.Expressions[1] = l.newSlot(uint8(statement.Instruction.D))
					statement.Assignment.registerOpenSlots(&statement.Assignment.Expressions[1])
				case bytecode.OP_ISEQS, bytecode.OP_ISNES:
					statement.Assignment.Expressions[1] = l.newString(function, statement.Instruction.D)
				case bytecode.OP_ISEQN, bytecode.OP_ISNEN:
					statement.Assignment.Expressions[1] = l.newNumber(function, statement.Instruction.D)
				case bytecode.OP_ISEQP, bytecode.OP_ISNEP:
					statement.Assignment.Expressions[1] = l.newPrimitive(statement.Instruction.D)
				}
			case bytecode.OP_ISTC, bytecode.OP_ISFC, bytecode.OP_IST, bytecode.OP_ISF:
				if statement.Instruction.Type == bytecode.OP_ISTC || statement.Instruction.Type == bytecode.OP_ISFC {
					statement.Assignment.Variables = make([]Variable, 1)
					statement.Assignment.Variables[0].Type = VariableSlot
					statement.Assignment.Variables[0].Slot = statement.Instruction.A
				}

				statement.Assignment.Expressions = make([]*Expression, 1)
				statement.Assignment.Expressions[0] = l.newSlot(uint8(statement.Instruction.D))
				statement.Assignment.registerOpenSlots(&statement.Assignment.Expressions[0])
				statement.Assignment.AllowedConstantType = constantInvalid
			}
		case StatementNumericFor:
			statement.Assignment.Variables = make([]Variable, 1)
			statement.Assignment.Variables[0].Type = VariableSlot
			statement.Assignment.Variables[0].Slot = statement.Instruction.A + 3
			l.assert(!function.hasDebugInfo ||
				(statement.Locals != nil &&
					uint32(statement.Assignment.Variables[0].Slot) == statement.Locals.BaseSlot &&
					len(statement.Locals.Names) == 1),
				MalformedBytecode, "numeric for loop variable does not match with debug info")
			statement.Assignment.Expressions = make([]*Expression, 3)
			statement.Assignment.Expressions[0] = l.newSlot(statement.Instruction.A)
			statement.Assignment.Expressions[1] = l.newSlot(statement.Instruction.A + 1)
			statement.Assignment.Expressions[2] = l.newSlot(statement.Instruction.A + 2)
			statement.Assignment.registerOpenSlots(&statement.Assignment.Expressions[0], &statement.Assignment.Expressions[1], &statement.Assignment.Expressions[2])
		case StatementGenericFor:
			statement.Assignment.Variables = make([]Variable, statement.Instruction.B-1)

			for j := range statement.Assignment.Variables {
				statement.Assignment.Variables[j].Type = VariableSlot
				statement.Assignment.Variables[j].Slot = statement.Instruction.A + uint8(j)
			}

			l.assert(!function.hasDebugInfo ||
				(statement.Locals != nil &&
					uint32(statement.Assignment.Variables[0].Slot) == statement.Locals.BaseSlot &&
					len(statement.Locals.Names) == len(statement.Assignment.Variables)),
				MalformedBytecode, "generic for loop variables do not match with debug info")
			statement.Assignment.Expressions = make([]*Expression, 3)
			statement.Assignment.Expressions[0] = l.newSlot(statement.Instruction.A - 3)
			statement.Assignment.Expressions[1] = l.newSlot(statement.Instruction.A - 2)
			statement.Assignment.Expressions[2] = l.newSlot(statement.Instruction.A - 1)
			statement.Assignment.registerOpenSlots(&statement.Assignment.Expressions[0], &statement.Assignment.Expressions[1], &statement.Assignment.Expressions[2])
		case StatementDeclaration:
			statement.Assignment.Variables = make([]Variable, len(statement.Locals.Names))
			statement.Assignment.Expressions = make([]*Expression, len(statement.Assignment.Variables))

			for j := range statement.Assignment.Variables {
				statement.Assignment.Variables[j].Type = VariableSlot
				statement.Assignment.Variables[j].Slot = uint8(statement.Locals.BaseSlot) + uint8(j)
				statement.Assignment.Expressions[j] = l.newSlot(statement.Assignment.Variables[j].Slot)
				statement.Assignment.registerOpenSlots(&statement.Assignment.Expressions[j])
			}
		}
	}

	ref.set(block)
}

func (l *Lifter) argumentBase() uint8 {
	if l.isFR2Enabled {
		return 2
	}

	return 1
}

func binaryTypeForArith(op bytecode.OpCode) ExpressionType {
	switch op {
	case bytecode.OP_ADDVN, bytecode.OP_ADDNV, bytecode.OP_ADDVV:
		return ExpressionBinaryAddition
	case bytecode.OP_SUBVN, bytecode.OP_SUBNV, bytecode.OP_SUBVV:
		return ExpressionBinarySubtraction
	case bytecode.OP_MULVN, bytecode.OP_MULNV, bytecode.OP_MULVV:
		return ExpressionBinaryMultiplication
	case bytecode.OP_DIVVN, bytecode.OP_DIVNV, bytecode.OP_DIVVV:
		return ExpressionBinaryDivision
	case bytecode.OP_MODVN, bytecode.OP_MODNV, bytecode.OP_MODVV:
		return ExpressionBinaryModulo
	case bytecode.OP_POW:
		return ExpressionBinaryExponentation
	}

	return ExpressionBinaryConcatenation
}
