package lifter

import (
	"github.com/glualang/ljdec/bytecode"
)

func (l *Lifter) buildNilAssignment(slot uint8) *Statement {
	statement := newStatement(StatementAssignment)
	statement.Assignment.Expressions = []*Expression{l.newPrimitive(0)}
	statement.Assignment.Variables = make([]Variable, 1)
	statement.Assignment.Variables[0].Type = VariableSlot
	statement.Assignment.Variables[0].Slot = slot
	return statement
}

// collectSlotScopes walks the statement tree backward and resolves every
// slot read and write to a shared scope handle. Writes normally close the
// scope opened by the reads above them, loop and label edges keep scopes
// open across reassignments, and assignments that turn out to feed a
// conditional expression are re-walked per branch so all branches share
// the target's scope.
func (l *Lifter) collectSlotScopes(function *Function, ref blockRef, previousBlock *blockInfo) {
	block := ref.get()
	info := blockInfo{block: block, previousBlock: previousBlock}
	collector := &function.slotScopeCollector

	for i := len(block) - 1; i >= 0; i-- {
		statement := block[i]

		switch statement.Type {
		case StatementNumericFor, StatementGenericFor:
			for j := len(statement.Assignment.Variables) - 1; j >= 0; j-- {
				l.assert(collector.slotInfos[statement.Assignment.Variables[j].Slot].activeSlotScope == nil,
					InvariantBroken, "slot scope does not match with for loop variable")
				collector.beginScope(statement.Assignment.Variables[j].Slot, statement.Instruction.Target-1)
			}

			fallthrough
		case StatementLoop:
			collector.extendScopes(statement.Instruction.ID)
			info.index = uint32(i)
			l.collectSlotScopes(function, blockRef{function: function, statement: statement}, &info)
			collector.mergeScopes(statement.Instruction.Target)
		case StatementDeclaration:
			statement.Instruction.ID = invalidID

			for j := len(collector.slotInfos) - 1; j >= int(statement.Locals.BaseSlot); j-- {
				if collector.slotInfos[j].activeSlotScope == nil {
					continue
				}

				for k := j; ; k-- {
					l.assert(collector.slotInfos[k].activeSlotScope != nil && collector.slotInfos[k].minScopeBegin == invalidID,
						InvariantBroken, "slot scope does not match with variable debug info")
					nilAssignment := l.buildNilAssignment(uint8(k))
					block = append(block, nil)
					copy(block[i+2:], block[i+1:])
					block[i+1] = nilAssignment
					nilAssignment.Assignment.Variables[0].SlotScope = collector.completeScope(uint8(k), statement.Locals.ScopeEnd)

					if k == int(statement.Locals.BaseSlot) {
						break
					}
				}

				break
			}

			info.block = block

			for j := len(statement.Assignment.Variables) - 1; j >= 0; j-- {
				collector.beginScope(statement.Assignment.Variables[j].Slot, statement.Locals.ScopeEnd)
			}

			collector.extendScopes(statement.Locals.ScopeBegin)
			info.index = uint32(i)
			l.collectSlotScopes(function, blockRef{function: function, statement: statement}, &info)
			lastSlot := int(statement.Assignment.Variables[len(statement.Assignment.Variables)-1].Slot)

			for j := len(collector.slotInfos) - 1; j >= lastSlot+1; j-- {
				if collector.slotInfos[j].activeSlotScope == nil {
					continue
				}

				for k := j; ; k-- {
					l.assert(collector.slotInfos[k].activeSlotScope != nil && collector.slotInfos[k].minScopeBegin == invalidID,
						InvariantBroken, "slot scope does not match with variable debug info")
					nilAssignment := l.buildNilAssignment(uint8(k))
					statement.Block = append([]*Statement{nilAssignment}, statement.Block...)
					nilAssignment.Assignment.Variables[0].SlotScope = collector.completeScope(uint8(k), statement.Locals.ScopeBegin)

					if k == lastSlot+1 {
						break
					}
				}

				break
			}
		}

		var id uint32

		if statement.Instruction.ID != invalidID {
			id = statement.Instruction.ID
			info.index = uint32(i)
			info.block = block
			targetLabel := l.getLabelFromNextStatement(function, &info, uint32(i), false, true)
			extendedTargetLabel := l.getLabelFromNextStatement(function, &info, uint32(i), true, true)

			if function.isValidLabel(targetLabel) &&
				function.labels[targetLabel].JumpIds[0] < id &&
				(extendedTargetLabel == targetLabel ||
					function.labels[extendedTargetLabel].Target > id ||
					function.labels[extendedTargetLabel].Target < function.labels[targetLabel].JumpIds[0]) {
				index := getBlockIndexFromID(block, function.labels[targetLabel].JumpIds[0]-1)

				if index != invalidID {
					isPossibleCondition := false
					hasBoolConstruct := false
					var targetSlot uint8

					switch statement.Type {
					case StatementCondition:
						if len(statement.Assignment.Variables) == 0 && statement.Instruction.Target == function.labels[extendedTargetLabel].Target {
							switch block[index].Type {
							case StatementCondition:
								if len(block[index].Assignment.Expressions) == 1 {
									if len(block[index].Assignment.Variables) != 0 {
										slot := block[index].Assignment.Variables[len(block[index].Assignment.Variables)-1].Slot

										if collector.slotInfos[slot].activeSlotScope != nil && collector.slotInfos[slot].minScopeBegin == block[index].Instruction.ID {
											isPossibleCondition = true
											targetSlot = slot
										}
									} else {
										slot := block[index].Assignment.Expressions[len(block[index].Assignment.Expressions)-1].Variable.Slot

										if collector.slotInfos[slot].activeSlotScope != nil && collector.slotInfos[slot].minScopeBegin == block[index].Instruction.ID {
											isPossibleCondition = true
											targetSlot = slot
										}
									}
								}
							case StatementAssignment:
								if len(block[index].Assignment.Variables) == 1 &&
									block[index].Assignment.Variables[0].Type == VariableSlot &&
									collector.slotInfos[block[index].Assignment.Variables[0].Slot].activeSlotScope != nil &&
									collector.slotInfos[block[index].Assignment.Variables[0].Slot].minScopeBegin == block[index].Instruction.ID &&
									l.getConstantType(block[index].Assignment.Expressions[len(block[index].Assignment.Expressions)-1]) != constantInvalid {
									isPossibleCondition = true
									targetSlot = block[index].Assignment.Variables[0].Slot
								}
							}
						}
					case StatementAssignment:
						if len(statement.Assignment.Variables) == 1 {
							switch statement.Assignment.Variables[0].Type {
							case VariableSlot:
								if collector.slotInfos[statement.Assignment.Variables[0].Slot].activeSlotScope != nil &&
									collector.slotInfos[statement.Assignment.Variables[0].Slot].minScopeBegin == block[index].Instruction.ID {
									isPossibleCondition = true
									targetSlot = statement.Assignment.Variables[0].Slot

									if i >= 5 &&
										index <= uint32(i-4) &&
										(((block[i-3].Type == StatementGoto || block[i-3].Type == StatementBreak) &&
											block[i-3].Instruction.Target == function.labels[extendedTargetLabel].Target) ||
											(block[i-3].Type == StatementCondition &&
												len(block[i-3].Assignment.Expressions) == 2 &&
												block[i-3].Instruction.Target == statement.Instruction.ID)) &&
										statement.Assignment.Expressions[len(statement.Assignment.Expressions)-1].Type == ExpressionConstant &&
										statement.Assignment.Expressions[len(statement.Assignment.Expressions)-1].Constant.Kind == ConstantTrue &&
										(block[i-1].Type == StatementGoto || block[i-1].Type == StatementBreak) &&
										block[i-1].Instruction.Target == function.labels[targetLabel].Target &&
										block[i-2].Type == StatementAssignment &&
										block[i-2].Assignment.Expressions[len(block[i-2].Assignment.Expressions)-1].Type == ExpressionConstant &&
										block[i-2].Assignment.Expressions[len(block[i-2].Assignment.Expressions)-1].Constant.Kind == ConstantFalse &&
										(function.isValidLabel(statement.Instruction.AttachedLabel) ||
											function.isValidLabel(block[i-2].Instruction.AttachedLabel)) {
										hasBoolConstruct = true
									}
								}
							case VariableTableIndex:
								if collector.slotInfos[statement.Assignment.Variables[0].Table.Variable.Slot].activeSlotScope != nil &&
									collector.slotInfos[statement.Assignment.Variables[0].Table.Variable.Slot].minScopeBegin == block[index].Instruction.ID {
									isPossibleCondition = true
									targetSlot = statement.Assignment.Variables[0].Table.Variable.Slot
								}
							}
						}
					}

					if isPossibleCondition {
						var conditionBlocks [][]*Statement

						if hasBoolConstruct {
							conditionBlocks = [][]*Statement{
								{block[i]},
								{block[i-2], block[i-1]},
							}

							if block[i-3].Type == StatementCondition {
								index = uint32(i - 3)
							} else {
								index = uint32(i - 4)
							}
						} else {
							index = uint32(i)
						}

						if !hasBoolConstruct || index == uint32(i-4) {
							isPossibleCondition = false

							if block[index].Type == StatementAssignment &&
								len(block[index].Assignment.Variables) == 1 &&
								block[index].Assignment.Variables[0].Type == VariableSlot {
								if block[index].Assignment.Variables[0].Slot == targetSlot {
									isPossibleCondition = true
								}
							} else if (block[index].Type == StatementAssignment &&
								len(block[index].Assignment.Variables) == 1 &&
								block[index].Assignment.Variables[0].Type == VariableTableIndex &&
								block[index].Assignment.Variables[0].Table.Variable.Slot == targetSlot) ||
								(block[index].Type == StatementCondition &&
									block[index].Instruction.Target == function.labels[extendedTargetLabel].Target &&
									len(block[index].Assignment.Variables) == 0) {
								boundIndex := uint32(i)
								if hasBoolConstruct {
									boundIndex = uint32(i - 4)
								}

								for index > 0 {
									index--

									switch block[index].Type {
									case StatementCondition, StatementGoto, StatementBreak:
										if block[index].Type == StatementCondition &&
											len(block[index].Assignment.Variables) == 0 &&
											block[index].Instruction.Target == function.labels[extendedTargetLabel].Target {
											continue
										}

										if block[index].Instruction.Target == function.labels[targetLabel].Target ||
											block[index].Instruction.Target == function.labels[extendedTargetLabel].Target ||
											block[index].Instruction.Target > block[boundIndex].Instruction.ID {
											break
										}

										continue
									case StatementAssignment:
										if len(block[index].Assignment.Variables) == 1 &&
											block[index].Assignment.Variables[0].Type == VariableSlot &&
											block[index].Assignment.Variables[0].Slot == targetSlot {
											if block[index].Assignment.IsTableConstructor &&
												(hasBoolConstruct || block[index].Instruction.ID > function.labels[targetLabel].JumpIds[0]) &&
												function.isValidBlockRange(block[index+1].Instruction.ID, block[boundIndex].Instruction.ID) {
												isPossibleCondition = true
											}

											break
										}

										continue
									default:
										continue
									}

									break
								}
							}
						}

						blockIndex := uint32(i)
						if hasBoolConstruct {
							blockIndex = uint32(i - 3)
						}

						for isPossibleCondition {
							if block[index].Instruction.ID < function.labels[targetLabel].JumpIds[0] {
								conditionBlocks = append(conditionBlocks, append([]*Statement{}, block[index:blockIndex+1]...))
								break
							}

							isPossibleCondition = false

							for index > 0 {
								index--

								switch block[index].Type {
								case StatementCondition, StatementGoto, StatementBreak:
									if block[index].Instruction.Target != function.labels[targetLabel].Target {
										continue
									}
								default:
									continue
								}

								conditionBlocks = append(conditionBlocks, append([]*Statement{}, block[index+1:blockIndex+1]...))
								blockIndex = index

								switch block[index].Type {
								case StatementCondition:
									if len(block[index].Assignment.Expressions) != 1 {
										break
									}

									if len(block[index].Assignment.Variables) != 0 {
										if block[index].Assignment.Variables[len(block[index].Assignment.Variables)-1].Slot == targetSlot {
											isPossibleCondition = true
										}
									} else if block[index].Assignment.Expressions[len(block[index].Assignment.Expressions)-1].Variable.Slot == targetSlot {
										index--

										if block[index].Type == StatementAssignment &&
											len(block[index].Assignment.Variables) == 1 &&
											block[index].Assignment.Variables[0].Type == VariableSlot {
											if block[index].Assignment.Variables[0].Slot == targetSlot &&
												!function.isValidLabel(block[index+1].Instruction.AttachedLabel) {
												isPossibleCondition = true
											}
										} else if (block[index].Type == StatementAssignment &&
											len(block[index].Assignment.Variables) == 1 &&
											block[index].Assignment.Variables[0].Type == VariableTableIndex &&
											block[index].Assignment.Variables[0].Table.Variable.Slot == targetSlot &&
											!function.isValidLabel(block[index+1].Instruction.AttachedLabel)) ||
											(block[index].Type == StatementCondition &&
												block[index].Instruction.Target == block[blockIndex].Instruction.ID &&
												len(block[index].Assignment.Variables) == 0) {
											for index > 0 {
												index--

												switch block[index].Type {
												case StatementCondition, StatementGoto, StatementBreak:
													if block[index].Type == StatementCondition &&
														len(block[index].Assignment.Variables) == 0 &&
														block[index].Instruction.Target == block[blockIndex].Instruction.ID {
														continue
													}

													if block[index].Instruction.Target == function.labels[targetLabel].Target ||
														block[index].Instruction.Target == function.labels[extendedTargetLabel].Target ||
														block[index].Instruction.Target >= block[blockIndex].Instruction.ID {
														break
													}

													continue
												case StatementAssignment:
													if len(block[index].Assignment.Variables) == 1 &&
														block[index].Assignment.Variables[0].Type == VariableSlot &&
														block[index].Assignment.Variables[0].Slot == targetSlot {
														if block[index].Assignment.IsTableConstructor &&
															function.isValidBlockRange(block[index+1].Instruction.ID, block[blockIndex].Instruction.ID) {
															isPossibleCondition = true
														}

														break
													}

													continue
												default:
													continue
												}

												break
											}
										}
									}
								case StatementGoto, StatementBreak:
									index--

									if len(block[index].Assignment.Variables) == 1 &&
										block[index].Assignment.Variables[len(block[index].Assignment.Variables)-1].Type == VariableSlot &&
										block[index].Assignment.Variables[len(block[index].Assignment.Variables)-1].Slot == targetSlot &&
										l.getConstantType(block[index].Assignment.Expressions[len(block[index].Assignment.Expressions)-1]) != constantInvalid {
										isPossibleCondition = true
									}
								}

								break
							}
						}

						if isPossibleCondition {
							for j := index; j <= uint32(i) && isPossibleCondition; j++ {
								switch block[j].Type {
								case StatementAssignment:
									if len(block[j].Assignment.Variables) == 1 {
										switch block[j].Assignment.Variables[0].Type {
										case VariableSlot, VariableTableIndex:
											continue
										}
									}

									isPossibleCondition = false
								case StatementGoto, StatementBreak, StatementCondition:
									if (block[j].Type == StatementCondition || block[j].Instruction.Type == bytecode.OP_JMP) &&
										(block[j].Instruction.Target == function.labels[targetLabel].Target ||
											block[j].Instruction.Target == function.labels[extendedTargetLabel].Target ||
											(block[j].Instruction.Target <= id && block[j].Instruction.Target > block[j].Instruction.ID)) {
										continue
									}

									isPossibleCondition = false
								case StatementEmpty, StatementReturn, StatementNumericFor,
									StatementGenericFor, StatementLoop, StatementDeclaration,
									StatementFunctionCall:
									isPossibleCondition = false
								}
							}
						}

						if isPossibleCondition {
							for j := len(conditionBlocks) - 1; j >= 0; j-- {
								conditionBlock := conditionBlocks[j]

								if (len(conditionBlock) > 1 &&
									!function.isValidBlockRange(conditionBlock[1].Instruction.ID, conditionBlock[len(conditionBlock)-1].Instruction.ID)) ||
									(function.isValidLabel(conditionBlock[0].Instruction.AttachedLabel) &&
										function.labels[conditionBlock[0].Instruction.AttachedLabel].JumpIds[len(function.labels[conditionBlock[0].Instruction.AttachedLabel].JumpIds)-1] >= conditionBlock[0].Instruction.ID) {
									isPossibleCondition = false
									break
								}
							}
						}

						if isPossibleCondition {
							targetSlotScope := collector.slotInfos[targetSlot].activeSlotScope
							collector.slotInfos[targetSlot].minScopeBegin = invalidID
							i++

							for j := 0; j < len(conditionBlocks); j++ {
								if j != 0 &&
									(!hasBoolConstruct || j != 2 || conditionBlocks[j][len(conditionBlocks[j])-1].Type != StatementCondition) {
									(*targetSlotScope).Usages++
									collector.slotInfos[targetSlot].activeSlotScope = targetSlotScope
								}

								conditionRef := &Statement{Block: conditionBlocks[j]}
								l.collectSlotScopes(function, blockRef{function: function, statement: conditionRef}, nil)
								i -= len(conditionBlocks[j])

								if collector.slotInfos[targetSlot].activeSlotScope == nil || j == len(conditionBlocks)-1 {
									continue
								}

								for collector.slotInfos[targetSlot].slotScopes[len(collector.slotInfos[targetSlot].slotScopes)-1] != targetSlotScope {
									top := collector.slotInfos[targetSlot].slotScopes[len(collector.slotInfos[targetSlot].slotScopes)-1]
									(*targetSlotScope).Usages += (*top).Usages + 1
									collector.slotInfos[targetSlot].slotScopes = collector.slotInfos[targetSlot].slotScopes[:len(collector.slotInfos[targetSlot].slotScopes)-1]
								}

								collector.slotInfos[targetSlot].activeSlotScope = targetSlotScope
								collector.slotInfos[targetSlot].minScopeBegin = function.getScopeBeginFromLabel(targetLabel, (*targetSlotScope).ScopeEnd)
								break
							}

							continue
						}
					}
				}
			}
		} else {
			id = collector.previousID - 1
		}

		collector.beginUpvalueScopes(id)

		if statement.Function != nil {
			for j := len(statement.Function.upvalues) - 1; j >= 0; j-- {
				capture := &statement.Function.upvalues[j]

				if !capture.Local {
					continue
				}

				if capture.Slot == statement.Assignment.Variables[len(statement.Assignment.Variables)-1].Slot {
					statement.Function.assignmentSlotIsUpvalue = true
				}

				statement.Assignment.UsedSlots = append(statement.Assignment.UsedSlots, capture.Slot)
				capture.SlotScope = collector.addToScope(capture.Slot, id)
			}
		}

		for j := len(statement.Assignment.Variables) - 1; j >= 0; j-- {
			variable := &statement.Assignment.Variables[j]

			switch variable.Type {
			case VariableSlot:
				variable.SlotScope = collector.completeScope(variable.Slot, id)
			case VariableTableIndex:
				variable.Table.Variable.SlotScope = collector.addToScope(variable.Table.Variable.Slot, id)
			}
		}

		l.assert(len(statement.Assignment.Variables) == 0 ||
			statement.Assignment.Variables[0].Type != VariableSlot ||
			!statement.Assignment.Variables[0].IsMultres ||
			((*statement.Assignment.Variables[0].SlotScope).Usages == 1 &&
				(collector.slotInfos[statement.Assignment.Variables[0].Slot].activeSlotScope == nil ||
					*collector.slotInfos[statement.Assignment.Variables[0].Slot].activeSlotScope != *statement.Assignment.Variables[0].SlotScope)),
			InvariantBroken, "multres assignment has invalid number of usages")

		if statement.Type == StatementDeclaration {
			lastVariable := &statement.Assignment.Variables[len(statement.Assignment.Variables)-1]

			if collector.slotInfos[lastVariable.Slot].activeSlotScope != nil {
				savedMinScopeBegin := collector.slotInfos[lastVariable.Slot].minScopeBegin
				collector.slotInfos[lastVariable.Slot].minScopeBegin = invalidID
				lastVariable.SlotScope = collector.completeScope(lastVariable.Slot, id)
				(*lastVariable.SlotScope).Usages--
				collector.slotInfos[lastVariable.Slot].minScopeBegin = savedMinScopeBegin
			}
		}

		for j := len(statement.Assignment.OpenSlots) - 1; j >= 0; j-- {
			open := *statement.Assignment.OpenSlots[j]
			open.Variable.SlotScope = collector.addToScope(open.Variable.Slot, id)
		}

		if statement.Instruction.ID != invalidID {
			collector.previousID = id

			if function.isValidLabel(statement.Instruction.AttachedLabel) {
				id = function.getScopeEndFromLabel(statement.Instruction.AttachedLabel)
				collector.mergeScopes(id)
				collector.extendScopes(function.getScopeBeginFromLabel(statement.Instruction.AttachedLabel, id))
			}
		}
	}

	ref.set(block)
}
