package lifter

import (
	"fmt"

	"github.com/glualang/ljdec/bytecode"
)

// eliminateSlots substitutes single-use slot definitions into the open
// slots of the statement that reads them, folds table constructor stores
// back into their constructor, gathers expression lists for declarations
// and generic for loops, and rebuilds conditional assignments whose value
// flows in over more than one branch.
func (l *Lifter) eliminateSlots(function *Function, ref blockRef, previousBlock *blockInfo) {
	block := ref.get()
	info := blockInfo{block: block, previousBlock: previousBlock}

	for i := 0; i < len(block); i++ {
		statement := block[i]

		switch statement.Type {
		case StatementCondition:
			if statement.Condition.AllowSlotSwap &&
				i != 0 &&
				!function.isValidLabel(statement.Instruction.AttachedLabel) &&
				block[i-1].Type == StatementAssignment &&
				len(block[i-1].Assignment.Variables) == 1 &&
				block[i-1].Assignment.Variables[0].Type == VariableSlot &&
				(*block[i-1].Assignment.Variables[0].SlotScope).Usages == 1 &&
				block[i-1].Assignment.Variables[0].Slot == statement.Assignment.Expressions[0].Variable.Slot {
				expression := statement.Assignment.Expressions[0]
				statement.Assignment.Expressions[0] = statement.Assignment.Expressions[1]
				statement.Assignment.Expressions[1] = expression
				statement.Condition.Swapped = true
			}
		case StatementGenericFor, StatementDeclaration:
			for i != 0 && !function.isValidLabel(statement.Instruction.AttachedLabel) {
				previous := block[i-1]
				gather := false

				switch previous.Type {
				case StatementAssignment:
					if previous.Assignment.Variables[0].Slot <= statement.Assignment.Expressions[len(statement.Assignment.OpenSlots)-1].Variable.Slot {
						break
					}

					l.assert(len(previous.Assignment.Variables) == 1 && (*previous.Assignment.Variables[0].SlotScope).Usages == 0,
						InvariantBroken, "invalid expression list assignment")
					gather = true
				case StatementFunctionCall:
					gather = true
				}

				if gather {
					insertAt := len(statement.Assignment.OpenSlots)
					statement.Assignment.Expressions = append(statement.Assignment.Expressions, nil)
					copy(statement.Assignment.Expressions[insertAt+1:], statement.Assignment.Expressions[insertAt:])
					statement.Assignment.Expressions[insertAt] = previous.Assignment.Expressions[len(previous.Assignment.Expressions)-1]
					statement.Assignment.UsedSlots = append(statement.Assignment.UsedSlots, previous.Assignment.UsedSlots...)
					statement.Instruction.AttachedLabel = previous.Instruction.AttachedLabel
					i--
					block = append(block[:i], block[i+1:]...)
					continue
				}

				if previous.Type == StatementAssignment && len(previous.Assignment.Variables) != 1 {
					l.assert(len(statement.Assignment.Expressions) == len(statement.Assignment.OpenSlots) &&
						statement.Assignment.Expressions[len(statement.Assignment.Expressions)-1].Variable.Slot == previous.Assignment.Variables[len(previous.Assignment.Variables)-1].Slot,
						InvariantBroken, "invalid multres expression list assignment")

					for {
						last := statement.Assignment.Expressions[len(statement.Assignment.Expressions)-1]
						function.slotScopeCollector.removeScope(last.Variable.Slot, last.Variable.SlotScope)
						statement.Assignment.OpenSlots = statement.Assignment.OpenSlots[:len(statement.Assignment.OpenSlots)-1]

						if last.Variable.Slot != previous.Assignment.Variables[0].Slot {
							statement.Assignment.Expressions = statement.Assignment.Expressions[:len(statement.Assignment.Expressions)-1]
							continue
						}

						statement.Assignment.Expressions[len(statement.Assignment.Expressions)-1] = previous.Assignment.Expressions[len(previous.Assignment.Expressions)-1]
						statement.Assignment.UsedSlots = append(statement.Assignment.UsedSlots, previous.Assignment.UsedSlots...)
						statement.Instruction.AttachedLabel = previous.Instruction.AttachedLabel
						i--
						block = append(block[:i], block[i+1:]...)
						break
					}
				}

				for j := len(statement.Assignment.OpenSlots) - 1; j >= 0; j-- {
					statement.Assignment.OpenSlots[j] = &statement.Assignment.Expressions[j]
				}

				break
			}
		case StatementAssignment:
			if statement.Assignment.Variables[len(statement.Assignment.Variables)-1].Type == VariableTableIndex &&
				!statement.Assignment.Variables[len(statement.Assignment.Variables)-1].IsMultres &&
				statement.Assignment.Variables[len(statement.Assignment.Variables)-1].TableIndex.Type == ExpressionVariable &&
				i >= 3 &&
				!function.isValidLabel(statement.Instruction.AttachedLabel) &&
				!function.isValidLabel(block[i-1].Instruction.AttachedLabel) &&
				!function.isValidLabel(block[i-2].Instruction.AttachedLabel) &&
				block[i-1].Type == StatementAssignment &&
				len(block[i-1].Assignment.Variables) == 1 &&
				block[i-1].Assignment.Variables[0].Type == VariableSlot &&
				(*block[i-1].Assignment.Variables[0].SlotScope).Usages == 1 &&
				block[i-1].Assignment.Variables[0].Slot == statement.Assignment.Variables[len(statement.Assignment.Variables)-1].TableIndex.Variable.Slot &&
				l.getConstantType(block[i-1].Assignment.Expressions[len(block[i-1].Assignment.Expressions)-1]) != constantInvalid &&
				block[i-2].Type == StatementAssignment &&
				len(block[i-2].Assignment.Variables) == 1 &&
				block[i-2].Assignment.Variables[0].Type == VariableSlot &&
				(*block[i-2].Assignment.Variables[0].SlotScope).Usages == 1 &&
				block[i-2].Assignment.Variables[0].Slot == statement.Assignment.Expressions[len(statement.Assignment.Expressions)-1].Variable.Slot &&
				l.getConstantType(block[i-2].Assignment.Expressions[len(block[i-2].Assignment.Expressions)-1]) == constantInvalid &&
				block[i-3].Assignment.IsTableConstructor &&
				block[i-3].Assignment.Variables[len(block[i-3].Assignment.Variables)-1].Slot == statement.Assignment.Variables[len(statement.Assignment.Variables)-1].Table.Variable.Slot &&
				block[i-3].Assignment.Expressions[len(block[i-3].Assignment.Expressions)-1].Table.MultresField == nil {
				// The key and the value were computed in reverse order, so
				// substitution has to visit the key first.
				statement.Assignment.OpenSlots[0] = &statement.Assignment.Expressions[len(statement.Assignment.Expressions)-1]
				statement.Assignment.OpenSlots[1] = &statement.Assignment.Variables[len(statement.Assignment.Variables)-1].TableIndex
			}
		}

		for j := len(statement.Assignment.OpenSlots) - 1; j >= 0 &&
			i != 0 &&
			!function.isValidLabel(statement.Instruction.AttachedLabel) &&
			block[i-1].Type == StatementAssignment &&
			len(block[i-1].Assignment.Variables) == 1 &&
			block[i-1].Assignment.Variables[0].Type == VariableSlot &&
			(*block[i-1].Assignment.Variables[0].SlotScope).Usages == 1; j-- {
			if j == 1 &&
				statement.Assignment.IsPotentialMethod &&
				i >= 2 &&
				!function.isValidLabel(block[i-1].Instruction.AttachedLabel) &&
				block[i-1].Assignment.Variables[0].Slot == statement.Assignment.Expressions[len(statement.Assignment.Expressions)-1].FunctionCall.Function.Variable.Slot &&
				len(block[i-1].Assignment.UsedSlots) == 1 &&
				block[i-1].Assignment.Expressions[len(block[i-1].Assignment.Expressions)-1].Type == ExpressionVariable &&
				block[i-1].Assignment.Expressions[len(block[i-1].Assignment.Expressions)-1].Variable.Type == VariableTableIndex &&
				block[i-1].Assignment.Expressions[len(block[i-1].Assignment.Expressions)-1].Variable.Table.Type == ExpressionVariable &&
				block[i-1].Assignment.Expressions[len(block[i-1].Assignment.Expressions)-1].Variable.Table.Variable.Type == VariableSlot &&
				block[i-1].Assignment.Expressions[len(block[i-1].Assignment.Expressions)-1].Variable.TableIndex.Type == ExpressionConstant &&
				block[i-1].Assignment.Expressions[len(block[i-1].Assignment.Expressions)-1].Variable.TableIndex.Constant.Kind == ConstantString &&
				block[i-1].Assignment.Expressions[len(block[i-1].Assignment.Expressions)-1].Variable.TableIndex.Constant.IsName &&
				block[i-2].Type == StatementAssignment &&
				len(block[i-2].Assignment.Variables) == 1 &&
				block[i-2].Assignment.Variables[0].Type == VariableSlot &&
				(*block[i-2].Assignment.Variables[0].SlotScope).Usages == 1 &&
				block[i-2].Assignment.Variables[0].Slot == statement.Assignment.Expressions[len(statement.Assignment.Expressions)-1].FunctionCall.Arguments[0].Variable.Slot &&
				len(block[i-2].Assignment.UsedSlots) == 1 &&
				block[i-2].Assignment.Expressions[len(block[i-2].Assignment.Expressions)-1].Type == ExpressionVariable &&
				block[i-2].Assignment.Expressions[len(block[i-2].Assignment.Expressions)-1].Variable.Type == VariableSlot &&
				block[i-2].Assignment.Expressions[len(block[i-2].Assignment.Expressions)-1].Variable.Slot == block[i-1].Assignment.Expressions[len(block[i-1].Assignment.Expressions)-1].Variable.Table.Variable.Slot {
				call := statement.Assignment.Expressions[len(statement.Assignment.Expressions)-1].FunctionCall
				call.IsMethod = true
				call.Arguments = call.Arguments[1:]
				statement.Assignment.OpenSlots = append(statement.Assignment.OpenSlots[:j], statement.Assignment.OpenSlots[j+1:]...)
				statement.Assignment.OpenSlots = append([]**Expression{&block[i-1].Assignment.Expressions[len(block[i-1].Assignment.Expressions)-1].Variable.Table}, statement.Assignment.OpenSlots...)
				function.slotScopeCollector.removeScope(block[i-2].Assignment.Variables[0].Slot, block[i-2].Assignment.Variables[0].SlotScope)
				block[i-1].Instruction.AttachedLabel = block[i-2].Instruction.AttachedLabel
				(*block[i-2].Assignment.Expressions[len(block[i-2].Assignment.Expressions)-1].Variable.SlotScope).Usages--
				i--
				block = append(block[:i-1], block[i:]...)
			}

			if block[i-1].Assignment.Variables[0].Slot != (*statement.Assignment.OpenSlots[j]).Variable.Slot {
				continue
			}

			l.assert(block[i-1].Assignment.Variables[0].IsMultres == (*statement.Assignment.OpenSlots[j]).Variable.IsMultres,
				InvariantBroken, "multres type mismatch when trying to eliminate slot")
			expression := *statement.Assignment.OpenSlots[j]
			*statement.Assignment.OpenSlots[j] = block[i-1].Assignment.Expressions[len(block[i-1].Assignment.Expressions)-1]

			if j == 0 &&
				statement.Assignment.AllowedConstantType != constantNumber &&
				l.getConstantType(statement.Assignment.Expressions[len(statement.Assignment.Expressions)-1]) > statement.Assignment.AllowedConstantType {
				*statement.Assignment.OpenSlots[j] = expression
				break
			}

			function.slotScopeCollector.removeScope(block[i-1].Assignment.Variables[0].Slot, block[i-1].Assignment.Variables[0].SlotScope)
			statement.Assignment.UsedSlots = append(statement.Assignment.UsedSlots, block[i-1].Assignment.UsedSlots...)
			statement.Instruction.AttachedLabel = block[i-1].Instruction.AttachedLabel
			i--
			block = append(block[:i], block[i+1:]...)
		}

		l.assert(len(statement.Assignment.OpenSlots) == 0 ||
			(*statement.Assignment.OpenSlots[len(statement.Assignment.OpenSlots)-1]).Type != ExpressionVariable ||
			!(*statement.Assignment.OpenSlots[len(statement.Assignment.OpenSlots)-1]).Variable.IsMultres,
			InvariantBroken, "unable to eliminate multres slot")

		switch statement.Type {
		case StatementNumericFor, StatementGenericFor, StatementLoop, StatementDeclaration:
			info.index = uint32(i)
			info.block = block
			l.eliminateSlots(function, blockRef{function: function, statement: statement}, &info)
		case StatementAssignment:
			if len(statement.Assignment.Variables) != 1 {
				break
			}

			switch statement.Assignment.Variables[0].Type {
			case VariableSlot:
				if statement.Instruction.ID == invalidID {
					break
				}

				info.index = uint32(i)
				info.block = block
				targetLabel := l.getLabelFromNextStatement(function, &info, uint32(i), false, true)
				extendedTargetLabel := l.getLabelFromNextStatement(function, &info, uint32(i), true, true)

				if !function.isValidLabel(targetLabel) || function.labels[targetLabel].JumpIds[0] > statement.Instruction.ID {
					break
				}

				if (*statement.Assignment.Variables[0].SlotScope).Usages >= 2 {
					if (*statement.Assignment.Variables[0].SlotScope).ScopeBegin >= function.labels[targetLabel].JumpIds[0] ||
						(extendedTargetLabel != targetLabel &&
							(function.labels[extendedTargetLabel].Target <= statement.Instruction.ID ||
								function.labels[extendedTargetLabel].Target >= function.labels[targetLabel].JumpIds[0])) {
						break
					}

					index := getBlockIndexFromID(block, function.labels[targetLabel].JumpIds[0]-1)

					if index == invalidID {
						break
					}

					switch block[index].Type {
					case StatementCondition:
						matches := false

						if len(block[index].Assignment.Variables) != 0 {
							if (*block[index].Assignment.Variables[len(block[index].Assignment.Variables)-1].SlotScope).ScopeBegin == block[index].Instruction.ID &&
								*block[index].Assignment.Variables[len(block[index].Assignment.Variables)-1].SlotScope == *statement.Assignment.Variables[0].SlotScope {
								matches = true
							}
						} else if index != 0 &&
							len(block[index].Assignment.Expressions) == 1 &&
							!function.isValidLabel(block[index].Instruction.AttachedLabel) &&
							block[index-1].Type == StatementAssignment &&
							len(block[index-1].Assignment.Variables) == 1 &&
							block[index-1].Assignment.Variables[0].Type == VariableSlot &&
							(*block[index-1].Assignment.Variables[0].SlotScope).ScopeBegin == block[index-1].Instruction.ID &&
							*block[index-1].Assignment.Variables[0].SlotScope == *statement.Assignment.Variables[0].SlotScope {
							matches = true
						}

						if !matches {
							index = invalidID
						}
					case StatementAssignment:
						if len(block[index].Assignment.Variables) != 1 ||
							block[index].Assignment.Variables[0].Type != VariableSlot ||
							(*block[index].Assignment.Variables[0].SlotScope).ScopeBegin != block[index].Instruction.ID ||
							*block[index].Assignment.Variables[0].SlotScope != *statement.Assignment.Variables[0].SlotScope ||
							block[index].Assignment.Expressions[len(block[index].Assignment.Expressions)-1].Type != ExpressionConstant ||
							l.getConstantType(block[index].Assignment.Expressions[len(block[index].Assignment.Expressions)-1]) == constantInvalid {
							index = invalidID
						}
					}

					if index == invalidID {
						break
					}

					hasBoolConstruct := false

					if i >= 3 &&
						statement.Assignment.Expressions[len(statement.Assignment.Expressions)-1].Type == ExpressionConstant &&
						statement.Assignment.Expressions[len(statement.Assignment.Expressions)-1].Constant.Kind == ConstantTrue &&
						(block[i-1].Type == StatementGoto || block[i-1].Type == StatementBreak) &&
						block[i-1].Instruction.Type == bytecode.OP_JMP &&
						block[i-1].Instruction.Target == function.labels[targetLabel].Target &&
						block[i-2].Type == StatementAssignment &&
						block[i-2].Assignment.Expressions[len(block[i-2].Assignment.Expressions)-1].Type == ExpressionConstant &&
						block[i-2].Assignment.Expressions[len(block[i-2].Assignment.Expressions)-1].Constant.Kind == ConstantFalse &&
						len(block[i-2].Assignment.Variables) == 1 &&
						block[i-2].Assignment.Variables[0].Type == VariableSlot &&
						*block[i-2].Assignment.Variables[0].SlotScope == *statement.Assignment.Variables[0].SlotScope {
						switch block[i-3].Type {
						case StatementCondition:
							if len(block[i-3].Assignment.Expressions) == 2 && block[i-3].Instruction.Target == statement.Instruction.ID {
								hasBoolConstruct = true
							}
						case StatementGoto, StatementBreak:
							if i < 5 ||
								block[i-3].Instruction.Type != bytecode.OP_JMP ||
								block[i-3].Instruction.Target != function.labels[extendedTargetLabel].Target ||
								(!function.isValidLabel(statement.Instruction.AttachedLabel) &&
									!function.isValidLabel(block[i-2].Instruction.AttachedLabel)) ||
								block[i-4].Type != StatementAssignment ||
								len(block[i-4].Assignment.Variables) != 1 ||
								block[i-4].Assignment.Variables[0].Type != VariableSlot ||
								block[i-4].Assignment.Variables[0].Slot != statement.Assignment.Variables[0].Slot {
								break
							}

							if index == uint32(i-2) && !function.isValidLabel(statement.Instruction.AttachedLabel) {
								if function.labels[block[i-2].Instruction.AttachedLabel].JumpIds[0] > block[i-2].Instruction.ID {
									break
								}

								index = getBlockIndexFromID(block, function.labels[block[i-2].Instruction.AttachedLabel].JumpIds[0]-1)

								if index == invalidID {
									index = uint32(i - 2)
									break
								}
							}

							hasBoolConstruct = true
						}

						if hasBoolConstruct {
							if (function.isValidLabel(statement.Instruction.AttachedLabel) &&
								function.labels[statement.Instruction.AttachedLabel].JumpIds[len(function.labels[statement.Instruction.AttachedLabel].JumpIds)-1] >= statement.Instruction.ID) ||
								(function.isValidLabel(block[i-2].Instruction.AttachedLabel) &&
									function.labels[block[i-2].Instruction.AttachedLabel].JumpIds[len(function.labels[block[i-2].Instruction.AttachedLabel].JumpIds)-1] >= block[i-2].Instruction.ID) {
								break
							}

							if function.isValidLabel(statement.Instruction.AttachedLabel) {
								for j := len(function.labels[statement.Instruction.AttachedLabel].JumpIds) - 1; j >= 0; j-- {
									targetIndex := getBlockIndexFromID(block, function.labels[statement.Instruction.AttachedLabel].JumpIds[j]-1)

									if targetIndex == invalidID ||
										block[targetIndex].Type != StatementCondition ||
										len(block[targetIndex].Assignment.Variables) != 0 {
										index = invalidID
										break
									}

									if len(block[targetIndex].Assignment.Expressions) == 0 {
										hasBoolConstruct = false
										break
									}
								}
							}

							if hasBoolConstruct && function.isValidLabel(block[i-2].Instruction.AttachedLabel) {
								for j := len(function.labels[block[i-2].Instruction.AttachedLabel].JumpIds) - 1; j >= 0; j-- {
									targetIndex := getBlockIndexFromID(block, function.labels[block[i-2].Instruction.AttachedLabel].JumpIds[j]-1)

									if targetIndex == invalidID || block[targetIndex].Type != StatementCondition {
										index = invalidID
										break
									}

									if len(block[targetIndex].Assignment.Expressions) == 0 || len(block[targetIndex].Assignment.Variables) != 0 {
										hasBoolConstruct = false
										break
									}
								}
							}

							if index == invalidID {
								break
							}
						}
					}

					for j := uint32(i); index != invalidID && block[index].Instruction.ID < block[j].Instruction.ID; j-- {
						if function.isValidLabel(block[j].Instruction.AttachedLabel) {
							if function.labels[block[j].Instruction.AttachedLabel].JumpIds[len(function.labels[block[j].Instruction.AttachedLabel].JumpIds)-1] >= block[j].Instruction.ID {
								index = invalidID
								break
							}

							for function.labels[block[j].Instruction.AttachedLabel].JumpIds[0] < block[index].Instruction.ID {
								if index == 0 {
									index = invalidID
									break
								}

								index--
							}
						}
					}

					if index == invalidID {
						break
					}

					switch block[index].Type {
					case StatementCondition, StatementGoto, StatementBreak:
						if block[index].Type == StatementCondition && len(block[index].Assignment.Variables) != 0 {
							break
						}

						if block[index].Instruction.Target == function.labels[targetLabel].Target && index != 0 {
							index--
						}
					}

					trueLabel, falseLabel := invalidID, invalidID
					if hasBoolConstruct {
						trueLabel = statement.Instruction.AttachedLabel
						falseLabel = block[i-2].Instruction.AttachedLabel
					}

					builder := newConditionBuilder(conditionAssignment, function, targetLabel, trueLabel, falseLabel)
					targetIndex := uint32(i)

					if hasBoolConstruct {
						if block[i-3].Type == StatementGoto {
							targetIndex = uint32(i - 4)
						} else {
							targetIndex = uint32(i - 2)
						}
					}

				nodes:
					for j := index; j < targetIndex; j++ {
						switch block[j].Type {
						case StatementCondition:
							if block[j].Instruction.Target <= block[j].Instruction.ID ||
								block[j].Instruction.Target > function.labels[targetLabel].Target {
								break
							}

							if block[j].Instruction.Target == function.labels[targetLabel].Target {
								if len(block[j].Assignment.Variables) == 0 ||
									*block[j].Assignment.Variables[len(block[j].Assignment.Variables)-1].SlotScope != *statement.Assignment.Variables[0].SlotScope {
									break
								}
							} else if len(block[j].Assignment.Variables) != 0 {
								break
							}

							builder.addNode(builder.nodeType(block[j].Instruction.Type, block[j].Condition.Swapped),
								block[j].Instruction.AttachedLabel,
								function.getLabelFromID(block[j].Instruction.Target),
								block[j].Assignment.Expressions)
							continue nodes
						case StatementAssignment:
							if len(block[j].Assignment.Variables) != 1 ||
								block[j].Assignment.Variables[0].Type != VariableSlot ||
								*block[j].Assignment.Variables[0].SlotScope != *statement.Assignment.Variables[0].SlotScope ||
								j+1 == targetIndex ||
								function.isValidLabel(block[j+1].Instruction.AttachedLabel) {
								break
							}

							j++

							switch block[j].Type {
							case StatementCondition:
								if block[j].Instruction.Target != function.labels[targetLabel].Target ||
									len(block[j].Assignment.Variables) != 0 ||
									len(block[j].Assignment.Expressions) != 1 ||
									block[j].Assignment.Expressions[0].Type != ExpressionVariable ||
									block[j].Assignment.Expressions[0].Variable.Type != VariableSlot ||
									*block[j].Assignment.Expressions[0].Variable.SlotScope != *statement.Assignment.Variables[0].SlotScope {
									break
								}

								builder.addNode(builder.nodeType(block[j].Instruction.Type, block[j].Condition.Swapped),
									block[j-1].Instruction.AttachedLabel,
									function.getLabelFromID(block[j].Instruction.Target),
									block[j-1].Assignment.Expressions)
								continue nodes
							case StatementGoto, StatementBreak:
								if block[j].Instruction.Type != bytecode.OP_JMP ||
									block[j].Instruction.Target != function.labels[targetLabel].Target ||
									block[j-1].Assignment.Expressions[len(block[j-1].Assignment.Expressions)-1].Type != ExpressionConstant ||
									l.getConstantType(block[j-1].Assignment.Expressions[len(block[j-1].Assignment.Expressions)-1]) == constantInvalid {
									break
								}

								switch block[j-1].Assignment.Expressions[len(block[j-1].Assignment.Expressions)-1].Constant.Kind {
								case ConstantNil, ConstantFalse:
									builder.addNode(nodeFalsyTest,
										block[j-1].Instruction.AttachedLabel,
										function.getLabelFromID(block[j].Instruction.Target),
										block[j-1].Assignment.Expressions)
								case ConstantTrue, ConstantString, ConstantNumber:
									builder.addNode(nodeTruthyTest,
										block[j-1].Instruction.AttachedLabel,
										function.getLabelFromID(block[j].Instruction.Target),
										block[j-1].Assignment.Expressions)
								}

								continue nodes
							}
						}

						index = invalidID
						break
					}

					if !hasBoolConstruct {
						builder.addNode(nodeTruthyTest, statement.Instruction.AttachedLabel, targetLabel, statement.Assignment.Expressions)
					} else if block[i-3].Type == StatementGoto {
						builder.addNode(nodeTruthyTest, block[i-4].Instruction.AttachedLabel, targetLabel, block[i-4].Assignment.Expressions)
					}

					if index != invalidID {
						expression := builder.buildCondition()
						l.assert(expression != nil, UnrecognizedIdiom, fmt.Sprintf("failed to build condition in function %d", function.id))
						statement.Assignment.Expressions[len(statement.Assignment.Expressions)-1] = expression

						for j := index; j < uint32(i); j++ {
							switch block[j].Type {
							case StatementCondition:
								if block[j].Instruction.Target == function.labels[targetLabel].Target {
									(*statement.Assignment.Variables[0].SlotScope).Usages--
								}

								function.removeJump(block[j].Instruction.ID+1, block[j].Instruction.Target)

								if len(block[j].Assignment.Variables) != 0 {
									function.removeJump(block[j].Instruction.ID, block[j].Instruction.ID+2)
								}
							case StatementGoto, StatementBreak:
								function.removeJump(block[j].Instruction.ID, block[j].Instruction.Target)
							case StatementAssignment:
								(*statement.Assignment.Variables[0].SlotScope).Usages--
							}
						}

						statement.Instruction.AttachedLabel = block[index].Instruction.AttachedLabel
						block = append(block[:index], block[i:]...)
						i = int(index)
					}
				} else {
					if (*statement.Assignment.Variables[0].SlotScope).Usages == 1 &&
						(i == len(block)-1 || block[i+1].Type != StatementDeclaration) {
						break
					}
				}
			case VariableTableIndex:
				variable := &statement.Assignment.Variables[len(statement.Assignment.Variables)-1]

				if i != 0 &&
					!function.isValidLabel(statement.Instruction.AttachedLabel) &&
					block[i-1].Type == StatementAssignment &&
					len(block[i-1].Assignment.Variables) == 1 &&
					block[i-1].Assignment.Variables[0].Type == VariableSlot &&
					block[i-1].Assignment.Variables[0].Slot == variable.Table.Variable.Slot {
					if block[i-1].Assignment.IsTableConstructor &&
						block[i-1].Assignment.Expressions[len(block[i-1].Assignment.Expressions)-1].Table.MultresField == nil &&
						(variable.IsMultres ||
							l.getConstantType(variable.TableIndex) <= constantNil ||
							l.getConstantType(statement.Assignment.Expressions[len(statement.Assignment.Expressions)-1]) == constantInvalid) {
						for j := len(statement.Assignment.UsedSlots) - 1; j >= 0 && statement.Assignment.UsedSlots[j] != variable.Table.Variable.Slot; j-- {
							statement.Assignment.UsedSlots = append(statement.Assignment.UsedSlots[:j], statement.Assignment.UsedSlots[j+1:]...)
						}

						if len(statement.Assignment.UsedSlots) == 0 {
							table := block[i-1].Assignment.Expressions[len(block[i-1].Assignment.Expressions)-1].Table

							if variable.IsMultres {
								table.MultresIndex = variable.MultresIndex
								table.MultresField = statement.Assignment.Expressions[len(statement.Assignment.Expressions)-1]
							} else {
								table.Fields = append(table.Fields, TableField{
									Key:   variable.TableIndex,
									Value: statement.Assignment.Expressions[len(statement.Assignment.Expressions)-1],
								})
							}

							(*block[i-1].Assignment.Variables[0].SlotScope).Usages--
							block = append(block[:i], block[i+1:]...)
							i--
							break
						}
					}

					if !variable.IsMultres && (*block[i-1].Assignment.Variables[0].SlotScope).Usages == 1 {
						variable.Table = block[i-1].Assignment.Expressions[len(block[i-1].Assignment.Expressions)-1]
						function.slotScopeCollector.removeScope(block[i-1].Assignment.Variables[0].Slot, block[i-1].Assignment.Variables[0].SlotScope)
						statement.Instruction.AttachedLabel = block[i-1].Instruction.AttachedLabel
						i--
						block = append(block[:i], block[i+1:]...)
						break
					}
				}

				l.assert(!variable.IsMultres, InvariantBroken, "unable to eliminate multres table index")
			}
		}
	}

	ref.set(block)
}
