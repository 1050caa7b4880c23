package output

import (
	"context"
	"log"
	"testing"

	"github.com/glualang/ljdec/bytecode"
	"github.com/glualang/ljdec/lifter"
	"github.com/glualang/ljdec/utils"
)

func number(value float64) *lifter.Expression {
	return &lifter.Expression{
		Type:     lifter.ExpressionConstant,
		Constant: &lifter.Constant{Kind: lifter.ConstantNumber, Number: value},
	}
}

func binary(expressionType lifter.ExpressionType, left, right *lifter.Expression) *lifter.Expression {
	return &lifter.Expression{
		Type:     expressionType,
		BinaryOp: &lifter.BinaryOperation{LeftOperand: left, RightOperand: right},
	}
}

func renderChunk(t *testing.T, main *bytecode.Prototype) string {
	t.Helper()

	main.Flags |= bytecode.ProtoVararg

	module := &bytecode.Module{
		FilePath: "chunk.lua",
		Header:   bytecode.Header{Version: 2, Flags: bytecode.FlagStrip},
		Main:     main,
	}

	chunk, err := lifter.NewLifter(module).Lift(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	stream := utils.NewSimpleByteStream()
	err = NewWriter(stream).WriteChunk(chunk)
	if err != nil {
		t.Fatal(err)
	}

	return string(stream.ToBytes())
}

func TestQuoteString(t *testing.T) {
	cases := []struct {
		input    string
		expected string
	}{
		{"hello", `"hello"`},
		{`a"b`, `"a\"b"`},
		{`a\b`, `"a\\b"`},
		{"a\nb", `"a\nb"`},
		{"\x07", `"\7"`},
		{"\x011", `"\0011"`},
		{"\x7f", `"\127"`},
	}

	for _, c := range cases {
		if quoted := quoteString(c.input); quoted != c.expected {
			t.Error("unexpected quoting:", quoted, "wanted:", c.expected)
			return
		}
	}
}

func TestFormatNumber(t *testing.T) {
	cases := []struct {
		input    float64
		expected string
	}{
		{42, "42"},
		{0.5, "0.5"},
		{-7, "-7"},
		{1e100, "1e+100"},
	}

	for _, c := range cases {
		if formatted := formatNumber(c.input); formatted != c.expected {
			t.Error("unexpected formatting:", formatted, "wanted:", c.expected)
			return
		}
	}
}

func TestExpressionPrecedence(t *testing.T) {
	w := NewWriter(utils.NewSimpleByteStream())

	cases := []struct {
		expression *lifter.Expression
		expected   string
	}{
		{
			binary(lifter.ExpressionBinaryAddition, number(1),
				binary(lifter.ExpressionBinaryMultiplication, number(2), number(3))),
			"1 + 2 * 3",
		},
		{
			binary(lifter.ExpressionBinaryMultiplication,
				binary(lifter.ExpressionBinaryAddition, number(1), number(2)), number(3)),
			"(1 + 2) * 3",
		},
		{
			binary(lifter.ExpressionBinarySubtraction, number(1),
				binary(lifter.ExpressionBinarySubtraction, number(2), number(3))),
			"1 - (2 - 3)",
		},
		{
			binary(lifter.ExpressionBinaryExponentation, number(2),
				binary(lifter.ExpressionBinaryExponentation, number(3), number(4))),
			"2 ^ 3 ^ 4",
		},
		{
			binary(lifter.ExpressionBinaryExponentation,
				binary(lifter.ExpressionBinaryExponentation, number(2), number(3)), number(4)),
			"(2 ^ 3) ^ 4",
		},
	}

	for _, c := range cases {
		if rendered := w.expressionString(nil, c.expression, precedenceNone); rendered != c.expected {
			t.Error("unexpected rendering:", rendered, "wanted:", c.expected)
			return
		}
	}

	if w.err != nil {
		t.Error(w.err)
	}
}

func TestNegativeOperandSpacing(t *testing.T) {
	w := NewWriter(utils.NewSimpleByteStream())

	expression := &lifter.Expression{
		Type:    lifter.ExpressionUnaryMinus,
		UnaryOp: &lifter.UnaryOperation{Operand: number(-5)},
	}

	if rendered := w.expressionString(nil, expression, precedenceNone); rendered != "- -5" {
		t.Error("adjacent minus signs have to stay apart:", rendered)
	}
}

func TestWriteGlobalCallChunk(t *testing.T) {
	source := renderChunk(t, &bytecode.Prototype{
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

	if source != "print(42)\n" {
		t.Error("unexpected source:", source)
	}
}

func TestWriteIfChunk(t *testing.T) {
	source := renderChunk(t, &bytecode.Prototype{
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

	log.Printf("rendered chunk:\n%s", source)

	if source != "if 1 < 2 then\n\tprint()\nend\n" {
		t.Error("unexpected source:", source)
	}
}

func TestWriteNumericForChunk(t *testing.T) {
	source := renderChunk(t, &bytecode.Prototype{
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

	if source != "for slot3_1 = 1, 3 do\n\tprint()\nend\n" {
		t.Error("unexpected source:", source)
	}
}
