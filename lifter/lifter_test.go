package lifter

import (
	"context"
	"testing"

	"github.com/glualang/ljdec/bytecode"
)

func liftPrototype(t *testing.T, main *bytecode.Prototype) *Function {
	t.Helper()

	main.Flags |= bytecode.ProtoVararg

	module := &bytecode.Module{
		FilePath: "chunk.lua",
		Header:   bytecode.Header{Version: 2, Flags: bytecode.FlagStrip},
		Main:     main,
	}

	chunk, err := NewLifter(module).Lift(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	return chunk
}

func TestLiftReturnConstant(t *testing.T) {
	chunk := liftPrototype(t, &bytecode.Prototype{
		FrameSize: 2,
		Instructions: []bytecode.Instruction{
			bytecode.CreateAD(bytecode.OP_KSHORT, 0, 5),
			bytecode.CreateAD(bytecode.OP_RET1, 0, 2),
		},
	})

	block := chunk.Block()
	if len(block) != 1 || block[0].Type != StatementReturn {
		t.Error("expected a single return statement")
		return
	}

	expressions := block[0].Assignment.Expressions
	if len(expressions) != 1 || expressions[0].Type != ExpressionConstant {
		t.Error("the returned slot was not replaced by its constant")
		return
	}

	if expressions[0].Constant.Kind != ConstantNumber || expressions[0].Constant.Number != 5 {
		t.Error("unexpected return value:", expressions[0].Constant)
	}
}

func TestLiftGlobalCall(t *testing.T) {
	chunk := liftPrototype(t, &bytecode.Prototype{
		FrameSize: 2,
		Instructions: []bytecode.Instruction{
			bytecode.CreateAD(bytecode.OP_GGET, 0, 0),
			bytecode.CreateAD(bytecode.OP_KSHORT, 1, 42),
			bytecode.CreateABC(bytecode.OP_CALL, 0, 1, 2),
			bytecode.CreateAD(bytecode.OP_RET0, 0, 1),
		},
		Constants: []bytecode.Constant{
			{Type: bytecode.KGC_STR, String: "print"},
		},
	})

	block := chunk.Block()
	if len(block) == 0 || block[0].Type != StatementFunctionCall {
		t.Error("expected a call statement at the top of the chunk")
		return
	}

	call := block[0].Assignment.Expressions[0].FunctionCall
	if call.Function.Type != ExpressionVariable ||
		call.Function.Variable.Type != VariableGlobal ||
		call.Function.Variable.Name != "print" {
		t.Error("the callee slot was not replaced by the global")
		return
	}

	if len(call.Arguments) != 1 ||
		call.Arguments[0].Type != ExpressionConstant ||
		call.Arguments[0].Constant.Number != 42 {
		t.Error("the argument slot was not replaced by its constant")
	}
}

func TestLiftBinaryExpression(t *testing.T) {
	chunk := liftPrototype(t, &bytecode.Prototype{
		FrameSize: 3,
		Instructions: []bytecode.Instruction{
			bytecode.CreateAD(bytecode.OP_GGET, 0, 0),
			bytecode.CreateAD(bytecode.OP_KSHORT, 1, 3),
			bytecode.CreateABC(bytecode.OP_ADDVV, 2, 0, 1),
			bytecode.CreateAD(bytecode.OP_RET1, 2, 2),
		},
		Constants: []bytecode.Constant{
			{Type: bytecode.KGC_STR, String: "x"},
		},
	})

	block := chunk.Block()
	if len(block) != 1 || block[0].Type != StatementReturn {
		t.Error("expected a single return statement")
		return
	}

	expression := block[0].Assignment.Expressions[0]
	if expression.Type != ExpressionBinaryAddition {
		t.Error("expected an addition, got expression type", expression.Type)
		return
	}

	left, right := expression.BinaryOp.LeftOperand, expression.BinaryOp.RightOperand
	if left.Type != ExpressionVariable || left.Variable.Type != VariableGlobal || left.Variable.Name != "x" {
		t.Error("left operand was not replaced by the global")
		return
	}

	if right.Type != ExpressionConstant || right.Constant.Number != 3 {
		t.Error("right operand was not replaced by its constant")
	}
}

// Arithmetic over two constants cannot come from a literal expression
// since the compiler folds those, so one operand has to stay behind in a
// local.
func TestLiftConstantOperandsKeepSlot(t *testing.T) {
	chunk := liftPrototype(t, &bytecode.Prototype{
		FrameSize: 3,
		Instructions: []bytecode.Instruction{
			bytecode.CreateAD(bytecode.OP_KSHORT, 0, 2),
			bytecode.CreateAD(bytecode.OP_KSHORT, 1, 3),
			bytecode.CreateABC(bytecode.OP_ADDVV, 2, 0, 1),
			bytecode.CreateAD(bytecode.OP_RET1, 2, 2),
		},
	})

	block := chunk.Block()
	if len(block) != 2 || block[0].Type != StatementAssignment || block[1].Type != StatementReturn {
		t.Error("expected an assignment followed by a return")
		return
	}

	if block[0].Assignment.Variables[0].Slot != 0 ||
		block[0].Assignment.Expressions[0].Type != ExpressionConstant ||
		block[0].Assignment.Expressions[0].Constant.Number != 2 {
		t.Error("the surviving local lost its constant")
		return
	}

	expression := block[1].Assignment.Expressions[0]
	if expression.Type != ExpressionBinaryAddition ||
		expression.BinaryOp.LeftOperand.Type != ExpressionVariable ||
		expression.BinaryOp.LeftOperand.Variable.Type != VariableSlot ||
		expression.BinaryOp.RightOperand.Type != ExpressionConstant {
		t.Error("the returned addition should read the local on the left")
	}
}

func TestLiftIfStatement(t *testing.T) {
	chunk := liftPrototype(t, &bytecode.Prototype{
		FrameSize: 3,
		Instructions: []bytecode.Instruction{
			bytecode.CreateAD(bytecode.OP_KSHORT, 0, 1),
			bytecode.CreateAD(bytecode.OP_KSHORT, 1, 2),
			bytecode.CreateAD(bytecode.OP_ISGE, 0, 1),
			bytecode.CreateAJ(bytecode.OP_JMP, 2, 2),
			bytecode.CreateAD(bytecode.OP_GGET, 2, 0),
			bytecode.CreateABC(bytecode.OP_CALL, 2, 1, 1),
			bytecode.CreateAD(bytecode.OP_RET0, 0, 1),
		},
		Constants: []bytecode.Constant{
			{Type: bytecode.KGC_STR, String: "print"},
		},
	})

	block := chunk.Block()
	if len(block) == 0 || block[0].Type != StatementIf {
		t.Error("expected an if statement at the top of the chunk")
		return
	}

	condition := block[0].Assignment.Expressions[0]
	if condition.Type != ExpressionBinaryLessThan {
		t.Error("a guard jumping on >= should read back as <, got type", condition.Type)
		return
	}

	if condition.BinaryOp.LeftOperand.Constant.Number != 1 ||
		condition.BinaryOp.RightOperand.Constant.Number != 2 {
		t.Error("condition operands were not replaced by their constants")
		return
	}

	if len(block[0].Block) != 1 || block[0].Block[0].Type != StatementFunctionCall {
		t.Error("the call should have moved into the if body")
	}
}

func TestLiftNumericFor(t *testing.T) {
	chunk := liftPrototype(t, &bytecode.Prototype{
		FrameSize: 5,
		Instructions: []bytecode.Instruction{
			bytecode.CreateAD(bytecode.OP_KSHORT, 0, 1),
			bytecode.CreateAD(bytecode.OP_KSHORT, 1, 3),
			bytecode.CreateAD(bytecode.OP_KSHORT, 2, 1),
			bytecode.CreateAJ(bytecode.OP_FORI, 0, 3),
			bytecode.CreateAD(bytecode.OP_GGET, 4, 0),
			bytecode.CreateABC(bytecode.OP_CALL, 4, 1, 1),
			bytecode.CreateAJ(bytecode.OP_FORL, 0, -3),
			bytecode.CreateAD(bytecode.OP_RET0, 0, 1),
		},
		Constants: []bytecode.Constant{
			{Type: bytecode.KGC_STR, String: "print"},
		},
	})

	var loop *Statement
	for _, statement := range chunk.Block() {
		if statement.Type == StatementNumericFor {
			loop = statement
			break
		}
	}

	if loop == nil {
		t.Error("expected a numeric for loop in the chunk")
		return
	}

	if len(loop.Assignment.Variables) != 1 || loop.Assignment.Variables[0].Slot != 3 {
		t.Error("the loop variable should live three slots above the control base")
		return
	}

	expressions := loop.Assignment.Expressions
	if len(expressions) != 3 ||
		expressions[0].Constant.Number != 1 ||
		expressions[1].Constant.Number != 3 ||
		expressions[2].Constant.Number != 1 {
		t.Error("loop bounds were not replaced by their constants")
		return
	}

	calls := 0
	for _, statement := range loop.Block {
		switch statement.Type {
		case StatementFunctionCall:
			calls++
		case StatementEmpty:
		default:
			t.Error("unexpected statement type in the loop body:", statement.Type)
			return
		}
	}

	if calls != 1 {
		t.Error("the call should have moved into the loop body")
	}
}
