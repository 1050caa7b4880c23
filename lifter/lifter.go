package lifter

import (
	"context"
	"math"

	"github.com/nikandfor/errors"
	"github.com/nikandfor/tlog"

	"github.com/glualang/ljdec/bytecode"
)

// ErrorKind classifies lifter failures. All of them are fatal for the
// module being lifted.
type ErrorKind uint8

const (
	MalformedBytecode ErrorKind = iota
	UnrecognizedIdiom
	InvariantBroken
	NumericLiteral
)

func (k ErrorKind) String() string {
	switch k {
	case MalformedBytecode:
		return "malformed bytecode"
	case UnrecognizedIdiom:
		return "unrecognized idiom"
	case InvariantBroken:
		return "invariant broken"
	case NumericLiteral:
		return "numeric literal"
	}

	return "unknown"
}

type Error struct {
	Kind     ErrorKind
	Message  string
	FilePath string
}

func (e *Error) Error() string {
	return errors.New("%v: %v: %v", e.FilePath, e.Kind, e.Message).Error()
}

// Lifter turns a loaded bytecode module into the nested statement tree of
// its main chunk.
type Lifter struct {
	module       *bytecode.Module
	chunk        *Function
	isFR2Enabled bool
	nextFunctionID uint32
}

func NewLifter(module *bytecode.Module) *Lifter {
	return &Lifter{
		module:       module,
		isFR2Enabled: module.Header.IsFR2Enabled(),
	}
}

// Lift runs the whole pass pipeline over the main prototype and every
// child prototype reachable from it. Internal passes signal failure by
// panicking with *Error, which is recovered here so callers get a plain
// error value.
func (l *Lifter) Lift(ctx context.Context) (chunk *Function, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "lift chunk", "file", l.module.FilePath)
	defer tr.Finish("err", &err)

	defer func() {
		p := recover()
		if p == nil {
			return
		}

		e, ok := p.(*Error)
		if !ok {
			panic(p)
		}

		e.FilePath = l.module.FilePath
		err = e
	}()

	l.chunk = newFunction(l.module.Main, 0)
	l.buildFunctions(l.chunk, tr)

	chunk = l.chunk
	return
}

func (l *Lifter) buildFunctions(function *Function, tr tlog.Span) {
	l.buildInstructions(function)

	if !function.hasDebugInfo {
		function.slotScopeCollector.buildUpvalueScopes()
	}

	l.collectSlotScopes(function, blockRef{function: function}, nil)
	l.assert(function.slotScopeCollector.scopesClosed(), InvariantBroken, "failed to close slot scopes")
	l.eliminateSlots(function, blockRef{function: function}, nil)
	l.eliminateConditions(function, blockRef{function: function}, nil)
	l.buildIfStatements(function, blockRef{function: function}, nil)

	tr.Printw("function lifted", "id", function.id, "level", function.level, "statements", len(function.block))

	for i := len(function.childFunctions); i > 0; i-- {
		function.childFunctions[i-1].id = l.nextFunctionID
		l.nextFunctionID++
		l.buildFunctions(function.childFunctions[i-1], tr)
	}
}

func (l *Lifter) assert(condition bool, kind ErrorKind, message string) {
	if condition {
		return
	}

	panic(&Error{Kind: kind, Message: message})
}

// blockRef addresses a statement block in place. Statements own their
// nested blocks as slice fields, so passes that insert or erase have to go
// through the owner rather than a copied slice header.
type blockRef struct {
	function  *Function
	statement *Statement
}

func (r blockRef) get() []*Statement {
	if r.statement != nil {
		return r.statement.Block
	}

	return r.function.block
}

func (r blockRef) set(block []*Statement) {
	if r.statement != nil {
		r.statement.Block = block
		return
	}

	r.function.block = block
}

// blockInfo links a nested block back to its enclosing block during the
// later passes, so label lookups can continue across block boundaries.
type blockInfo struct {
	index         uint32
	block         []*Statement
	previousBlock *blockInfo
}

// getBlockIndexFromID finds the statement carrying id, scanning backward
// past statements whose id was invalidated by earlier folding.
func getBlockIndexFromID(block []*Statement, id uint32) uint32 {
	for i := len(block); i > 0; i-- {
		if block[i-1].Instruction.ID == invalidID || block[i-1].Instruction.ID >= id {
			if block[i-1].Instruction.ID == id {
				return uint32(i - 1)
			}

			continue
		}

		break
	}

	return invalidID
}

// getExtendedIDFromStatement resolves gotos and breaks to the id they
// land on instead of the jump itself.
func getExtendedIDFromStatement(statement *Statement) uint32 {
	switch statement.Type {
	case StatementGoto, StatementBreak:
		if statement.Instruction.Type == bytecode.OP_JMP {
			return statement.Instruction.Target
		}
	}

	return statement.Instruction.ID
}

// getLabelFromNextStatement returns the label control falls into after
// index, following the enclosing blocks when index is the last statement
// and stepping over declarations when asked to.
func (l *Lifter) getLabelFromNextStatement(function *Function, info *blockInfo, index uint32, returnExtendedLabel, excludeDeclaration bool) uint32 {
	block := info.block

	if index == uint32(len(block))-1 {
		if info.previousBlock == nil {
			return invalidID
		}

		return l.getLabelFromNextStatement(function, info.previousBlock, info.previousBlock.index, returnExtendedLabel, false)
	}

	next := block[index+1]

	if excludeDeclaration && next.Type == StatementDeclaration {
		switch {
		case len(next.Block) != 0:
			next = next.Block[0]
		case index+2 != uint32(len(block)):
			next = block[index+2]
		case info.previousBlock != nil:
			return l.getLabelFromNextStatement(function, info.previousBlock, info.previousBlock.index, returnExtendedLabel, false)
		default:
			return invalidID
		}
	}

	if returnExtendedLabel {
		switch next.Type {
		case StatementGoto, StatementBreak:
			if next.Instruction.Type == bytecode.OP_JMP {
				return function.getLabelFromID(next.Instruction.Target)
			}
		}
	}

	return next.Instruction.AttachedLabel
}

var reservedWords = map[string]struct{}{
	"and": {}, "break": {}, "do": {}, "else": {}, "elseif": {}, "end": {},
	"false": {}, "for": {}, "function": {}, "goto": {}, "if": {}, "in": {},
	"local": {}, "nil": {}, "not": {}, "or": {}, "repeat": {}, "return": {},
	"then": {}, "true": {}, "until": {}, "while": {},
}

// checkValidName marks a string constant usable as an identifier, which
// lets table accesses print as field syntax and keys drop their brackets.
func checkValidName(constant *Constant) {
	if len(constant.String) == 0 {
		return
	}

	if _, ok := reservedWords[constant.String]; ok {
		return
	}

	if constant.String[0] < 'A' {
		return
	}

	for i := 0; i < len(constant.String); i++ {
		ch := constant.String[i]

		if ch < '0' || ch > 'z' {
			return
		}

		switch ch {
		case ':', ';', '<', '=', '>', '?', '@', '[', '\\', ']', '^', '`':
			return
		}
	}

	constant.IsName = true
}

const (
	doubleSign         = 0x8000000000000000
	doubleExponent     = 0x7FF0000000000000
	doubleFraction     = 0x000FFFFFFFFFFFFF
	doubleSpecial      = doubleExponent
	doubleNegativeZero = doubleSign
)

// checkSpecialNumber rejects literals Lua source cannot spell and
// rewrites infinities into a division so the emitted text evaluates back
// to the same value.
func (l *Lifter) checkSpecialNumber(expression *Expression, isCdata bool) {
	raw := math.Float64bits(expression.Constant.Number)

	if raw&doubleExponent == doubleSpecial {
		l.assert(raw&doubleFraction == 0, NumericLiteral, "number constant is NaN")

		if isCdata {
			return
		}

		numerator := float64(1)
		if raw&doubleSign != 0 {
			numerator = -1
		}

		expression.setType(ExpressionBinaryDivision)
		expression.BinaryOp.LeftOperand = l.newNumberLiteral(numerator)
		expression.BinaryOp.RightOperand = l.newNumberLiteral(0)
		return
	}

	l.assert(raw != doubleNegativeZero || isCdata, NumericLiteral, "number constant is negative zero")
}

func (l *Lifter) newSlot(slot uint8) *Expression {
	expression := newExpression(ExpressionVariable)
	expression.Variable.Type = VariableSlot
	expression.Variable.Slot = slot
	return expression
}

func (l *Lifter) newLiteral(value uint8) *Expression {
	expression := newExpression(ExpressionConstant)
	expression.Constant.Kind = ConstantNumber
	expression.Constant.Number = float64(value)
	return expression
}

func (l *Lifter) newSignedLiteral(value uint16) *Expression {
	expression := newExpression(ExpressionConstant)
	expression.Constant.Kind = ConstantNumber
	expression.Constant.Number = float64(int16(value))
	return expression
}

func (l *Lifter) newPrimitive(value uint16) *Expression {
	expression := newExpression(ExpressionConstant)

	switch value {
	case 0:
		expression.Constant.Kind = ConstantNil
	case 1:
		expression.Constant.Kind = ConstantFalse
	case 2:
		expression.Constant.Kind = ConstantTrue
	}

	return expression
}

func (l *Lifter) newNumberLiteral(value float64) *Expression {
	expression := newExpression(ExpressionConstant)
	expression.Constant.Kind = ConstantNumber
	expression.Constant.Number = value
	return expression
}

func (l *Lifter) newNumber(function *Function, index uint16) *Expression {
	expression := newExpression(ExpressionConstant)
	expression.Constant.Kind = ConstantNumber
	constant := function.getNumberConstant(index)

	switch constant.Type {
	case bytecode.KNUM_INT:
		expression.Constant.Number = float64(int32(constant.Integer))
	case bytecode.KNUM_NUM:
		expression.Constant.Number = math.Float64frombits(constant.Number)
		l.checkSpecialNumber(expression, false)
	}

	return expression
}

func (l *Lifter) newString(function *Function, index uint16) *Expression {
	expression := newExpression(ExpressionConstant)
	expression.Constant.Kind = ConstantString
	expression.Constant.String = function.getConstant(index).String
	checkValidName(expression.Constant)
	return expression
}

func (l *Lifter) newTable(function *Function, index uint16) *Expression {
	expression := newExpression(ExpressionTable)
	constant := function.getConstant(index)

	for i := range constant.Array {
		expression.Table.ConstantList = append(expression.Table.ConstantList, l.newTableConstant(&constant.Array[i]))
	}

	for i := range constant.Table {
		key := l.newTableConstant(&constant.Table[i].Key)

		if key.Type == ExpressionConstant && key.Constant.Kind == ConstantString {
			checkValidName(key.Constant)
		}

		expression.Table.ConstantFields = append(expression.Table.ConstantFields, TableField{
			Key:   key,
			Value: l.newTableConstant(&constant.Table[i].Value),
		})
	}

	return expression
}

func (l *Lifter) newTableConstant(constant *bytecode.TableConstant) *Expression {
	expression := newExpression(ExpressionConstant)

	switch constant.Type {
	case bytecode.KTAB_NIL:
		expression.Constant.Kind = ConstantNil
	case bytecode.KTAB_FALSE:
		expression.Constant.Kind = ConstantFalse
	case bytecode.KTAB_TRUE:
		expression.Constant.Kind = ConstantTrue
	case bytecode.KTAB_INT:
		expression.Constant.Kind = ConstantNumber
		expression.Constant.Number = float64(int32(constant.Integer))
	case bytecode.KTAB_NUM:
		expression.Constant.Kind = ConstantNumber
		expression.Constant.Number = math.Float64frombits(constant.Number)
		l.checkSpecialNumber(expression, false)
	default:
		expression.Constant.Kind = ConstantString
		expression.Constant.String = constant.String
	}

	return expression
}

func (l *Lifter) newCdata(function *Function, index uint16) *Expression {
	expression := newExpression(ExpressionConstant)
	constant := function.getConstant(index)

	switch constant.Type {
	case bytecode.KGC_I64:
		expression.Constant.Kind = ConstantCdataSigned
		expression.Constant.Signed = int64(constant.Cdata)
	case bytecode.KGC_U64:
		expression.Constant.Kind = ConstantCdataUnsigned
		expression.Constant.Unsigned = constant.Cdata
	case bytecode.KGC_COMPLEX:
		expression.Constant.Kind = ConstantCdataImaginary
		expression.Constant.Number = math.Float64frombits(constant.Cdata)
		l.checkSpecialNumber(expression, true)
	}

	return expression
}

// getConstantType ranks an expression for inlining into an operand that
// only accepts constants up to a certain strength, folding constant
// arithmetic while it looks.
func (l *Lifter) getConstantType(expression *Expression) constantType {
	switch expression.Type {
	case ExpressionConstant:
		switch expression.Constant.Kind {
		case ConstantNil:
			return constantNil
		case ConstantFalse, ConstantTrue, ConstantString:
			return constantBool
		case ConstantNumber:
			return constantNumber
		}

		return constantInvalid
	case ExpressionBinaryAddition, ExpressionBinarySubtraction, ExpressionBinaryMultiplication,
		ExpressionBinaryDivision, ExpressionBinaryExponentation, ExpressionBinaryModulo:
		if l.getConstantType(expression.BinaryOp.LeftOperand) != constantNumber ||
			l.getConstantType(expression.BinaryOp.RightOperand) != constantNumber {
			return constantInvalid
		}

		left := expression.BinaryOp.LeftOperand.Constant.Number
		right := expression.BinaryOp.RightOperand.Constant.Number
		var folded float64

		switch expression.Type {
		case ExpressionBinaryAddition:
			folded = left + right
		case ExpressionBinarySubtraction:
			folded = left - right
		case ExpressionBinaryMultiplication:
			folded = left * right
		case ExpressionBinaryDivision:
			folded = left / right
		case ExpressionBinaryExponentation:
			folded = math.Pow(left, right)
		case ExpressionBinaryModulo:
			folded = left - math.Floor(left/right)*right
		}

		if isValidNumberConstant(folded) {
			return constantNumber
		}

		return constantInvalid
	case ExpressionUnaryNot:
		if l.getConstantType(expression.UnaryOp.Operand) != constantInvalid {
			return constantBool
		}

		return constantInvalid
	case ExpressionUnaryMinus:
		operand := expression.UnaryOp.Operand

		if operand.Type == ExpressionConstant {
			switch operand.Constant.Kind {
			case ConstantNumber:
				if isValidNumberConstant(-operand.Constant.Number) {
					return constantNumber
				}
			case ConstantCdataSigned, ConstantCdataUnsigned, ConstantCdataImaginary:
				return constantNumber
			}
		}

		return constantInvalid
	}

	return constantInvalid
}

func isValidNumberConstant(value float64) bool {
	raw := math.Float64bits(value)
	return raw&doubleExponent != doubleSpecial && raw != doubleNegativeZero
}
