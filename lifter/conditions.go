package lifter

import (
	"fmt"

	"github.com/glualang/ljdec/bytecode"
)

type conditionMode uint8

const (
	conditionAssignment conditionMode = iota
	conditionStatement
)

type conditionNodeType uint8

const (
	nodeInvalid conditionNodeType = iota
	nodeTruthyTest
	nodeFalsyTest
	nodeLessThan
	nodeGreaterEqual
	nodeLessEqual
	nodeGreaterThan
	nodeEqual
	nodeNotEqual
)

func negateNodeType(t conditionNodeType) conditionNodeType {
	switch t {
	case nodeTruthyTest:
		return nodeFalsyTest
	case nodeFalsyTest:
		return nodeTruthyTest
	case nodeLessThan:
		return nodeGreaterEqual
	case nodeGreaterEqual:
		return nodeLessThan
	case nodeLessEqual:
		return nodeGreaterThan
	case nodeGreaterThan:
		return nodeLessEqual
	case nodeEqual:
		return nodeNotEqual
	case nodeNotEqual:
		return nodeEqual
	}

	return nodeInvalid
}

// conditionNode is one jump site of a short circuit chain. The exit label
// is where the jump lands when the test holds, the attached label marks
// where earlier jumps land on this node.
type conditionNode struct {
	t             conditionNodeType
	attachedLabel uint32
	exitLabel     uint32
	expressions   []*Expression
}

// conditionBuilder reassembles a run of test and jump statements into one
// and/or/not expression tree. Jumps resolve against the true and false
// sinks of a bool construct, the assignment sink, or a later node's
// attached label for short circuit grouping. Chains that resolve against
// none of those produce a nil expression.
type conditionBuilder struct {
	mode        conditionMode
	function    *Function
	targetLabel uint32
	trueLabel   uint32
	falseLabel  uint32
	nodes       []conditionNode
}

func newConditionBuilder(mode conditionMode, function *Function, targetLabel, trueLabel, falseLabel uint32) *conditionBuilder {
	return &conditionBuilder{
		mode:        mode,
		function:    function,
		targetLabel: targetLabel,
		trueLabel:   trueLabel,
		falseLabel:  falseLabel,
	}
}

// nodeType maps the jump taken sense of a compare or test opcode onto a
// node kind. Swapped conditions had their operands exchanged, so the
// relational kinds mirror.
func (cb *conditionBuilder) nodeType(op bytecode.OpCode, swapped bool) conditionNodeType {
	switch op {
	case bytecode.OP_ISLT:
		if swapped {
			return nodeGreaterThan
		}

		return nodeLessThan
	case bytecode.OP_ISGE:
		if swapped {
			return nodeLessEqual
		}

		return nodeGreaterEqual
	case bytecode.OP_ISLE:
		if swapped {
			return nodeGreaterEqual
		}

		return nodeLessEqual
	case bytecode.OP_ISGT:
		if swapped {
			return nodeLessThan
		}

		return nodeGreaterThan
	case bytecode.OP_ISEQV, bytecode.OP_ISEQS, bytecode.OP_ISEQN, bytecode.OP_ISEQP:
		return nodeEqual
	case bytecode.OP_ISNEV, bytecode.OP_ISNES, bytecode.OP_ISNEN, bytecode.OP_ISNEP:
		return nodeNotEqual
	case bytecode.OP_IST, bytecode.OP_ISTC:
		return nodeTruthyTest
	case bytecode.OP_ISF, bytecode.OP_ISFC:
		return nodeFalsyTest
	}

	return nodeInvalid
}

func (cb *conditionBuilder) addNode(t conditionNodeType, attachedLabel, exitLabel uint32, expressions []*Expression) {
	cb.nodes = append(cb.nodes, conditionNode{
		t:             t,
		attachedLabel: attachedLabel,
		exitLabel:     exitLabel,
		expressions:   expressions,
	})
}

func (cb *conditionBuilder) buildCondition() *Expression {
	if len(cb.nodes) == 0 {
		return nil
	}

	expression, ok := cb.buildRange(0, len(cb.nodes)-1)

	if !ok {
		return nil
	}

	return expression
}

// nodeExpression materializes one node under the given kind. Truthy tests
// yield the raw operand so copied values survive into the tree, falsy
// tests wrap it in a not.
func (cb *conditionBuilder) nodeExpression(n *conditionNode, t conditionNodeType) *Expression {
	switch t {
	case nodeTruthyTest:
		if len(n.expressions) == 0 {
			return nil
		}

		return n.expressions[len(n.expressions)-1]
	case nodeFalsyTest:
		if len(n.expressions) == 0 {
			return nil
		}

		expression := newExpression(ExpressionUnaryNot)
		expression.UnaryOp.Operand = n.expressions[len(n.expressions)-1]
		return expression
	}

	var binaryType ExpressionType

	switch t {
	case nodeLessThan:
		binaryType = ExpressionBinaryLessThan
	case nodeGreaterEqual:
		binaryType = ExpressionBinaryGreaterEqual
	case nodeLessEqual:
		binaryType = ExpressionBinaryLessEqual
	case nodeGreaterThan:
		binaryType = ExpressionBinaryGreaterThan
	case nodeEqual:
		binaryType = ExpressionBinaryEqual
	case nodeNotEqual:
		binaryType = ExpressionBinaryNotEqual
	default:
		return nil
	}

	if len(n.expressions) != 2 {
		return nil
	}

	expression := newExpression(binaryType)
	expression.BinaryOp.LeftOperand = n.expressions[0]
	expression.BinaryOp.RightOperand = n.expressions[1]
	return expression
}

func combineCondition(t ExpressionType, left, right *Expression) *Expression {
	if right == nil {
		return left
	}

	expression := newExpression(t)
	expression.BinaryOp.LeftOperand = left
	expression.BinaryOp.RightOperand = right
	return expression
}

// isEndExit reports whether the exit leaves the whole expression carrying
// the tested value. Exits at or past the label count are the synthetic
// end marker used when the bytecode jump lands on the extended target.
func (cb *conditionBuilder) isEndExit(exit uint32) bool {
	if cb.mode != conditionAssignment {
		return false
	}

	return (cb.targetLabel != invalidID && exit == cb.targetLabel) || exit >= uint32(len(cb.function.labels))
}

// isOrGroup decides how a jump over a nested group recombines with its
// tail. The last node of the group tells the two apart: falling out of
// the group toward the false sink means the jump short circuited an or,
// falling toward the true sink or the value exit means it guarded an and.
func (cb *conditionBuilder) isOrGroup(lo, hi int) bool {
	if lo > hi {
		return true
	}

	n := &cb.nodes[hi]

	switch {
	case cb.falseLabel != invalidID && n.exitLabel == cb.falseLabel:
		return true
	case cb.trueLabel != invalidID && n.exitLabel == cb.trueLabel:
		return false
	}

	switch n.t {
	case nodeFalsyTest:
		return true
	case nodeTruthyTest:
		return false
	}

	return true
}

func (cb *conditionBuilder) buildRange(lo, hi int) (*Expression, bool) {
	if lo > hi {
		return nil, true
	}

	n := &cb.nodes[lo]

	if n.t == nodeInvalid || n.exitLabel == invalidID {
		return nil, false
	}

	switch {
	case cb.trueLabel != invalidID && n.exitLabel == cb.trueLabel:
		test := cb.nodeExpression(n, n.t)
		rest, ok := cb.buildRange(lo+1, hi)

		if test == nil || !ok {
			return nil, false
		}

		return combineCondition(ExpressionBinaryOr, test, rest), true
	case cb.falseLabel != invalidID && n.exitLabel == cb.falseLabel:
		test := cb.nodeExpression(n, negateNodeType(n.t))
		rest, ok := cb.buildRange(lo+1, hi)

		if test == nil || !ok {
			return nil, false
		}

		return combineCondition(ExpressionBinaryAnd, test, rest), true
	case cb.isEndExit(n.exitLabel):
		test := cb.nodeExpression(n, nodeTruthyTest)
		rest, ok := cb.buildRange(lo+1, hi)

		if test == nil || !ok {
			return nil, false
		}

		switch n.t {
		case nodeTruthyTest:
			return combineCondition(ExpressionBinaryOr, test, rest), true
		case nodeFalsyTest:
			return combineCondition(ExpressionBinaryAnd, test, rest), true
		}

		return nil, false
	}

	for j := lo + 1; j <= hi; j++ {
		if cb.nodes[j].attachedLabel != n.exitLabel {
			continue
		}

		mid, ok := cb.buildRange(lo+1, j-1)

		if !ok {
			return nil, false
		}

		tail, ok := cb.buildRange(j, hi)

		if !ok || tail == nil {
			return nil, false
		}

		if cb.isOrGroup(lo+1, j-1) {
			test := cb.nodeExpression(n, n.t)

			if test == nil {
				return nil, false
			}

			return combineCondition(ExpressionBinaryAnd, combineCondition(ExpressionBinaryOr, test, mid), tail), true
		}

		test := cb.nodeExpression(n, negateNodeType(n.t))

		if test == nil {
			return nil, false
		}

		return combineCondition(ExpressionBinaryOr, combineCondition(ExpressionBinaryAnd, test, mid), tail), true
	}

	return nil, false
}

// eliminateConditions folds the surviving test and copy conditions of a
// block into expressions. The first scan collapses conditional assignment
// regions onto the assignment that receives the value, the second merges
// runs of plain conditions that guard the same body into one condition
// statement carrying the combined expression.
func (l *Lifter) eliminateConditions(function *Function, ref blockRef, previousBlock *blockInfo) {
	block := ref.get()
	info := blockInfo{block: block, previousBlock: previousBlock}

	for i := len(block) - 1; i >= 0; i-- {
		if block[i].Instruction.ID == invalidID {
			continue
		}

		info.index = uint32(i)
		info.block = block
		targetLabel := l.getLabelFromNextStatement(function, &info, uint32(i), false, false)
		extendedTargetLabel := l.getLabelFromNextStatement(function, &info, uint32(i), true, false)

		if !function.isValidLabel(targetLabel) || function.labels[targetLabel].JumpIds[0] > block[i].Instruction.ID {
			continue
		}

		var assignmentIndex uint32
		index := invalidID

		switch block[i].Type {
		case StatementCondition:
			for j := len(function.labels[targetLabel].JumpIds); j > 0; j-- {
				jumpID := function.labels[targetLabel].JumpIds[j-1]

				if jumpID > block[i].Instruction.ID {
					continue
				}

				index = getBlockIndexFromID(block, jumpID)

				if index == invalidID {
					break
				}

				switch block[index].Type {
				case StatementCondition:
					if len(block[index].Assignment.Variables) == 0 {
						candidate := block[index]
						index = invalidID

						if targetLabel == extendedTargetLabel ||
							(len(candidate.Assignment.Expressions) == 1 &&
								candidate.Assignment.Expressions[0].Type == ExpressionVariable &&
								candidate.Assignment.Expressions[0].Variable.Type == VariableSlot) {
							continue
						}
					}
				case StatementAssignment:
					if index+1 < uint32(len(block)) &&
						block[index+1].Instruction.Type == bytecode.OP_JMP &&
						len(block[index].Assignment.Variables) == 1 &&
						block[index].Assignment.Variables[0].Type == VariableSlot &&
						block[index].Assignment.Expressions[len(block[index].Assignment.Expressions)-1].Type == ExpressionConstant &&
						l.getConstantType(block[index].Assignment.Expressions[len(block[index].Assignment.Expressions)-1]) != constantInvalid {
						break
					}

					index = invalidID
				default:
					index = invalidID
				}

				break
			}

			if index == invalidID {
				continue
			}

			assignmentIndex = index
		case StatementGoto, StatementBreak:
			if i == 0 ||
				block[i].Instruction.Type != bytecode.OP_JMP ||
				block[i].Instruction.Target != function.labels[targetLabel].Target ||
				block[i-1].Type != StatementAssignment ||
				len(block[i-1].Assignment.Variables) != 1 ||
				block[i-1].Assignment.Variables[0].Type != VariableSlot ||
				block[i-1].Assignment.Expressions[len(block[i-1].Assignment.Expressions)-1].Type != ExpressionConstant ||
				l.getConstantType(block[i-1].Assignment.Expressions[len(block[i-1].Assignment.Expressions)-1]) == constantInvalid {
				continue
			}

			assignmentIndex = uint32(i - 1)
		case StatementAssignment:
			if len(block[i].Assignment.Variables) != 1 || block[i].Assignment.Variables[0].Type != VariableSlot {
				continue
			}

			assignmentIndex = uint32(i)
		default:
			continue
		}

		index = assignmentIndex
		hasBoolConstruct := false

		if i >= 3 &&
			block[i].Type == StatementAssignment &&
			block[i].Assignment.Expressions[len(block[i].Assignment.Expressions)-1].Type == ExpressionConstant &&
			block[i].Assignment.Expressions[len(block[i].Assignment.Expressions)-1].Constant.Kind == ConstantTrue &&
			(block[i-1].Type == StatementGoto || block[i-1].Type == StatementBreak) &&
			block[i-1].Instruction.Type == bytecode.OP_JMP &&
			block[i-1].Instruction.Target == function.labels[targetLabel].Target &&
			block[i-2].Type == StatementAssignment &&
			block[i-2].Assignment.Expressions[len(block[i-2].Assignment.Expressions)-1].Type == ExpressionConstant &&
			block[i-2].Assignment.Expressions[len(block[i-2].Assignment.Expressions)-1].Constant.Kind == ConstantFalse &&
			len(block[i-2].Assignment.Variables) == 1 &&
			block[i-2].Assignment.Variables[0].Type == VariableSlot &&
			block[i-2].Assignment.Variables[0].Slot == block[assignmentIndex].Assignment.Variables[len(block[assignmentIndex].Assignment.Variables)-1].Slot {
			switch block[i-3].Type {
			case StatementCondition:
				if len(block[i-3].Assignment.Expressions) == 2 && block[i-3].Instruction.Target == block[i].Instruction.ID {
					hasBoolConstruct = true
				}
			case StatementGoto, StatementBreak:
				if i < 4 ||
					block[i-3].Instruction.Type != bytecode.OP_JMP ||
					!function.isValidLabel(extendedTargetLabel) ||
					block[i-3].Instruction.Target != function.labels[extendedTargetLabel].Target ||
					(!function.isValidLabel(block[i].Instruction.AttachedLabel) &&
						!function.isValidLabel(block[i-2].Instruction.AttachedLabel)) {
					break
				}

				if index == uint32(i-2) && !function.isValidLabel(block[i].Instruction.AttachedLabel) {
					if function.labels[block[i-2].Instruction.AttachedLabel].JumpIds[0] < block[i-2].Instruction.ID {
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
				if (function.isValidLabel(block[i].Instruction.AttachedLabel) &&
					function.labels[block[i].Instruction.AttachedLabel].JumpIds[len(function.labels[block[i].Instruction.AttachedLabel].JumpIds)-1] >= block[i].Instruction.ID) ||
					(function.isValidLabel(block[i-2].Instruction.AttachedLabel) &&
						function.labels[block[i-2].Instruction.AttachedLabel].JumpIds[len(function.labels[block[i-2].Instruction.AttachedLabel].JumpIds)-1] >= block[i-2].Instruction.ID) {
					continue
				}

				if function.isValidLabel(block[i].Instruction.AttachedLabel) {
					jumpIds := function.labels[block[i].Instruction.AttachedLabel].JumpIds

					for j := len(jumpIds); j > 0; j-- {
						targetIndex := getBlockIndexFromID(block, jumpIds[j-1]-1)

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

				if hasBoolConstruct && index != invalidID && function.isValidLabel(block[i-2].Instruction.AttachedLabel) {
					jumpIds := function.labels[block[i-2].Instruction.AttachedLabel].JumpIds

					for j := len(jumpIds); j > 0; j-- {
						targetIndex := getBlockIndexFromID(block, jumpIds[j-1]-1)

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
					continue
				}
			}
		}

		previousValidIndex := invalidID
		var hasEndAssignment bool

		if hasBoolConstruct {
			hasEndAssignment = block[i-3].Type == StatementCondition || block[i-4].Type == StatementAssignment
		} else {
			hasEndAssignment = block[i].Type == StatementAssignment
		}

		var targetIndex uint32

		if hasBoolConstruct {
			if block[i-3].Type == StatementGoto {
				if hasEndAssignment {
					targetIndex = uint32(i - 4)
				} else {
					targetIndex = uint32(i - 3)
				}
			} else {
				targetIndex = uint32(i - 2)
			}
		} else if hasEndAssignment {
			targetIndex = uint32(i)
		} else {
			targetIndex = uint32(i + 1)
		}

		assignmentSlot := block[assignmentIndex].Assignment.Variables[len(block[assignmentIndex].Assignment.Variables)-1].Slot

		for j := len(function.labels[targetLabel].JumpIds); j > 0; j-- {
			jumpIds := function.labels[targetLabel].JumpIds

			if jumpIds[j-1] > block[i].Instruction.ID ||
				(j > 1 && jumpIds[j-2] < block[index].Instruction.ID) {
				continue
			}

			if jumpIds[j-1] < block[index].Instruction.ID {
				index = getBlockIndexFromID(block, jumpIds[j-1]-1)
			}

			for k := i; index != invalidID && block[index].Instruction.ID < block[k].Instruction.ID; k-- {
				if !function.isValidLabel(block[k].Instruction.AttachedLabel) {
					continue
				}

				attached := function.labels[block[k].Instruction.AttachedLabel]

				if attached.JumpIds[len(attached.JumpIds)-1] >= block[k].Instruction.ID {
					index = invalidID
					break
				}

				for attached.JumpIds[0] < block[index].Instruction.ID {
					if index == 0 {
						index = invalidID
						break
					}

					index--
				}
			}

			if index == invalidID {
				break
			}

			switch block[index].Type {
			case StatementGoto, StatementBreak:
				if block[index].Instruction.Target == function.labels[targetLabel].Target && index != 0 {
					index--
				}
			}

			valid := true

			for k := index; k < targetIndex; k++ {
				switch block[k].Type {
				case StatementCondition:
					if len(block[k].Assignment.Variables) != 0 {
						if block[k].Instruction.Target == function.labels[targetLabel].Target &&
							block[k].Assignment.Variables[len(block[k].Assignment.Variables)-1].Slot == assignmentSlot {
							continue
						}
					} else if block[k].Instruction.Target == function.labels[targetLabel].Target &&
						len(block[k].Assignment.Expressions) == 1 &&
						block[k].Assignment.Expressions[0].Type == ExpressionVariable &&
						block[k].Assignment.Expressions[0].Variable.Type == VariableSlot &&
						block[k].Assignment.Expressions[0].Variable.Slot == assignmentSlot {
						continue
					} else if !hasEndAssignment &&
						function.isValidLabel(extendedTargetLabel) &&
						block[k].Instruction.Target == function.labels[extendedTargetLabel].Target {
						continue
					} else if block[k].Instruction.Target > block[k].Instruction.ID &&
						block[k].Instruction.Target < function.labels[targetLabel].Target {
						continue
					}
				case StatementAssignment:
					if len(block[k].Assignment.Variables) == 1 &&
						block[k].Assignment.Variables[0].Type == VariableSlot &&
						block[k].Assignment.Variables[0].Slot == assignmentSlot &&
						block[k].Assignment.Expressions[len(block[k].Assignment.Expressions)-1].Type == ExpressionConstant &&
						l.getConstantType(block[k].Assignment.Expressions[len(block[k].Assignment.Expressions)-1]) != constantInvalid {
						k++

						if k != targetIndex &&
							(block[k].Type == StatementGoto || block[k].Type == StatementBreak) &&
							block[k].Instruction.Type == bytecode.OP_JMP &&
							block[k].Instruction.Target == function.labels[targetLabel].Target {
							continue
						}
					}
				}

				valid = false
				break
			}

			if !valid {
				index = invalidID
				break
			}

			previousValidIndex = index
		}

		if previousValidIndex == invalidID {
			continue
		}

		index = previousValidIndex
		trueLabel, falseLabel := invalidID, invalidID

		if hasBoolConstruct {
			trueLabel = block[i].Instruction.AttachedLabel
			falseLabel = block[i-2].Instruction.AttachedLabel
		}

		builder := newConditionBuilder(conditionAssignment, function, targetLabel, trueLabel, falseLabel)

		for j := previousValidIndex; j < targetIndex; j++ {
			switch block[j].Type {
			case StatementCondition:
				exitLabel := uint32(len(function.labels))

				if hasEndAssignment ||
					len(block[j].Assignment.Variables) != 0 ||
					(block[j].Instruction.Target == function.labels[targetLabel].Target &&
						targetLabel != extendedTargetLabel) ||
					(block[j].Instruction.Target != function.labels[targetLabel].Target &&
						(!function.isValidLabel(extendedTargetLabel) ||
							block[j].Instruction.Target != function.labels[extendedTargetLabel].Target)) {
					exitLabel = function.getLabelFromID(block[j].Instruction.Target)
				}

				builder.addNode(builder.nodeType(block[j].Instruction.Type, block[j].Condition.Swapped),
					block[j].Instruction.AttachedLabel, exitLabel, block[j].Assignment.Expressions)
			case StatementAssignment:
				switch block[j].Assignment.Expressions[len(block[j].Assignment.Expressions)-1].Constant.Kind {
				case ConstantNil, ConstantFalse:
					builder.addNode(nodeFalsyTest, block[j].Instruction.AttachedLabel,
						function.getLabelFromID(block[j+1].Instruction.Target), block[j].Assignment.Expressions)
				case ConstantTrue, ConstantString, ConstantNumber:
					builder.addNode(nodeTruthyTest, block[j].Instruction.AttachedLabel,
						function.getLabelFromID(block[j+1].Instruction.Target), block[j].Assignment.Expressions)
				}

				j++
			}
		}

		if hasEndAssignment {
			if !hasBoolConstruct {
				builder.addNode(nodeTruthyTest, block[i].Instruction.AttachedLabel, targetLabel, block[i].Assignment.Expressions)
			} else if block[i-3].Type == StatementGoto {
				builder.addNode(nodeTruthyTest, block[i-4].Instruction.AttachedLabel, targetLabel, block[i-4].Assignment.Expressions)
			}
		} else {
			slotExpression := l.newSlot(assignmentSlot)
			slotExpression.Variable.SlotScope = block[assignmentIndex].Assignment.Variables[len(block[assignmentIndex].Assignment.Variables)-1].SlotScope
			builder.addNode(nodeTruthyTest, uint32(len(function.labels)), targetLabel, []*Expression{slotExpression})
		}

		expression := builder.buildCondition()
		l.assert(expression != nil, UnrecognizedIdiom, fmt.Sprintf("failed to build condition in function %d", function.id))
		block[assignmentIndex].Assignment.Expressions[len(block[assignmentIndex].Assignment.Expressions)-1] = expression
		assignmentScope := block[assignmentIndex].Assignment.Variables[len(block[assignmentIndex].Assignment.Variables)-1].SlotScope

		for j := index; j < uint32(i); j++ {
			switch block[j].Type {
			case StatementCondition:
				function.removeJump(block[j].Instruction.ID+1, block[j].Instruction.Target)

				if len(block[j].Assignment.Variables) == 0 {
					continue
				}

				function.removeJump(block[j].Instruction.ID, block[j].Instruction.ID+2)
				fallthrough
			case StatementAssignment:
				scope := block[j].Assignment.Variables[len(block[j].Assignment.Variables)-1].SlotScope

				if *scope != *assignmentScope {
					(*assignmentScope).Usages += (*scope).Usages

					if (*scope).ScopeBegin < (*assignmentScope).ScopeBegin {
						(*assignmentScope).ScopeBegin = (*scope).ScopeBegin
					}

					if (*scope).ScopeEnd > (*assignmentScope).ScopeEnd {
						(*assignmentScope).ScopeEnd = (*scope).ScopeEnd
					}

					*scope = *assignmentScope

					if scope != assignmentScope {
						function.slotScopeCollector.removeScope(block[j].Assignment.Variables[len(block[j].Assignment.Variables)-1].Slot, scope)
					}
				}
			case StatementGoto, StatementBreak:
				function.removeJump(block[j].Instruction.ID, block[j].Instruction.Target)
			}
		}

		block[i] = block[assignmentIndex]
		block[i].Type = StatementAssignment
		block[i].Instruction.AttachedLabel = block[index].Instruction.AttachedLabel

		if (*assignmentScope).ScopeBegin >= block[index].Instruction.ID {
			block[i].Assignment.NeedsForwardDeclaration = true
		}

		block = append(block[:index], block[i:]...)
		i = int(index)
	}

	for i := len(block) - 1; i >= 0; i-- {
		switch block[i].Type {
		case StatementCondition:
			info.index = uint32(i)
			info.block = block
			targetLabel := l.getLabelFromNextStatement(function, &info, uint32(i), true, false)
			targetIndex := invalidID
			index := uint32(i)

			for index > 0 && block[index-1].Type == StatementCondition {
				index--
			}

			for j := index; j <= uint32(i); j++ {
				if function.isValidLabel(block[j].Instruction.AttachedLabel) {
					attached := function.labels[block[j].Instruction.AttachedLabel]

					if attached.JumpIds[0] < block[index].Instruction.ID ||
						attached.JumpIds[len(attached.JumpIds)-1] > block[j].Instruction.ID {
						index = j
						targetIndex = invalidID
					} else if j > 0 && j-1 >= index && block[j-1].Instruction.Target == attached.Target {
						for k := index; k < j &&
							block[k].Instruction.Target > block[k].Instruction.ID &&
							block[k].Instruction.Target <= block[j].Instruction.ID; k++ {
							if k != j-1 {
								continue
							}

							index = j
							targetIndex = invalidID
							break
						}
					}
				}

				if (targetLabel == invalidID || block[j].Instruction.Target != function.labels[targetLabel].Target) &&
					(block[j].Instruction.Target < block[j].Instruction.ID ||
						block[j].Instruction.Target > block[i].Instruction.ID) {
					if targetIndex != invalidID {
						if block[j].Instruction.Target == block[targetIndex].Instruction.Target {
							continue
						}

						index = targetIndex + 1
						j = targetIndex
						targetIndex = invalidID
						continue
					}

					targetIndex = j
				}
			}

			var extendedTargetLabel uint32

			if targetIndex == invalidID {
				extendedTargetLabel = targetLabel
				targetLabel = invalidID
			} else {
				extendedTargetLabel = function.getLabelFromID(block[targetIndex].Instruction.Target)
			}

			builder := newConditionBuilder(conditionStatement, function, invalidID, targetLabel, extendedTargetLabel)

			for j := index; j <= uint32(i); j++ {
				l.assert(len(block[j].Assignment.Variables) == 0, UnrecognizedIdiom, "failed to eliminate all test and copy conditions")
				builder.addNode(builder.nodeType(block[j].Instruction.Type, block[j].Condition.Swapped),
					block[j].Instruction.AttachedLabel, function.getLabelFromID(block[j].Instruction.Target), block[j].Assignment.Expressions)
			}

			expression := builder.buildCondition()
			l.assert(expression != nil, UnrecognizedIdiom, fmt.Sprintf("failed to build condition in function %d", function.id))
			block[i].Assignment.Expressions = []*Expression{expression}

			for j := index; j <= uint32(i); j++ {
				function.removeJump(block[j].Instruction.ID+1, block[j].Instruction.Target)
			}

			block[i].Instruction.Target = function.labels[extendedTargetLabel].Target
			function.addJump(block[i].Instruction.ID, block[i].Instruction.Target)
			block[i].Instruction.AttachedLabel = block[index].Instruction.AttachedLabel
			block = append(block[:index], block[i:]...)
			i = int(index)
		case StatementNumericFor, StatementGenericFor, StatementLoop, StatementDeclaration:
			info.index = uint32(i)
			info.block = block
			l.eliminateConditions(function, blockRef{function: function, statement: block[i]}, &info)
		}
	}

	ref.set(block)
}
