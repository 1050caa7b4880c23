package output

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nikandfor/errors"

	"github.com/glualang/ljdec/lifter"
	"github.com/glualang/ljdec/utils"
)

// Lua operator precedence levels, from weakest to strongest. Atoms use a
// level above every operator so they never get parenthesized.
const (
	precedenceNone = iota
	precedenceOr
	precedenceAnd
	precedenceCompare
	precedenceConcat
	precedenceAdditive
	precedenceMultiplicative
	precedenceUnary
	precedencePower
	precedenceAtom = precedencePower + 2
)

// Writer renders a lifted function tree back to Lua source text. Slot
// scopes without a debug name get a synthetic one on first use, so a
// scope reads the same everywhere it appears.
type Writer struct {
	stream      utils.ByteStream
	gotoTargets map[uint32]bool
	depth       int
	nameCounter uint32
	err         error
}

func NewWriter(stream utils.ByteStream) *Writer {
	return &Writer{stream: stream}
}

// WriteChunk renders the main function as a bare chunk body.
func (w *Writer) WriteChunk(chunk *lifter.Function) error {
	w.gotoTargets = collectGotoTargets(chunk.Block(), map[uint32]bool{})
	w.writeFunctionBody(chunk)
	return w.err
}

func (w *Writer) writeFunctionBody(function *lifter.Function) {
	w.writeForwardDeclarations(function, function.Block())
	w.writeBlock(function, function.Block())
}

func (w *Writer) writeBlock(function *lifter.Function, block []*lifter.Statement) {
	for _, statement := range block {
		w.writeStatement(function, statement)
	}
}

// writeForwardDeclarations hoists locals whose first write sits inside a
// nested block while reads continue past it. The write site then renders
// as a plain assignment since the scope already carries a name.
func (w *Writer) writeForwardDeclarations(function *lifter.Function, block []*lifter.Statement) {
	for _, statement := range block {
		if statement.Type == lifter.StatementAssignment &&
			statement.Assignment.NeedsForwardDeclaration &&
			len(statement.Assignment.Variables) == 1 &&
			statement.Assignment.Variables[0].Type == lifter.VariableSlot &&
			statement.Assignment.Variables[0].SlotScope != nil &&
			(*statement.Assignment.Variables[0].SlotScope).Name == "" {
			w.line("local ", w.scopeName(function, &statement.Assignment.Variables[0]))
		}

		if len(statement.Block) != 0 {
			w.writeForwardDeclarations(function, statement.Block)
		}
	}
}

func (w *Writer) writeStatement(function *lifter.Function, statement *lifter.Statement) {
	if statement.Type == lifter.StatementEmpty {
		return
	}

	w.writeLabel(function, statement)

	switch statement.Type {
	case lifter.StatementDeclaration:
		w.writeDeclaration(function, statement)
	case lifter.StatementAssignment:
		w.writeAssignment(function, statement)
	case lifter.StatementFunctionCall:
		if len(statement.Assignment.Expressions) == 0 {
			w.fail("call statement carries no expression")
			return
		}

		w.line(w.expressionString(function, statement.Assignment.Expressions[0], precedenceNone))
	case lifter.StatementReturn:
		w.writeReturn(function, statement)
	case lifter.StatementBreak:
		w.line("break")
	case lifter.StatementGoto:
		w.line("goto ", labelName(statement.Instruction.Target))
	case lifter.StatementIf:
		if len(statement.Assignment.Expressions) == 0 {
			w.fail("if statement carries no condition")
			return
		}

		w.line("if ", w.expressionString(function, statement.Assignment.Expressions[0], precedenceNone), " then")
		w.writeNested(function, statement.Block)
		w.line("end")
	case lifter.StatementLoop:
		w.line("while true do")
		w.writeNested(function, statement.Block)
		w.line("end")
	case lifter.StatementNumericFor:
		w.writeNumericFor(function, statement)
	case lifter.StatementGenericFor:
		w.writeGenericFor(function, statement)
	default:
		w.fail(fmt.Sprintf("cannot render statement type %d", statement.Type))
	}
}

func (w *Writer) writeNested(function *lifter.Function, block []*lifter.Statement) {
	w.depth++
	w.writeBlock(function, block)
	w.depth--
}

// writeLabel emits a label line when some goto in the function still
// targets the instruction this statement is attached to.
func (w *Writer) writeLabel(function *lifter.Function, statement *lifter.Statement) {
	target, ok := function.LabelTarget(statement.Instruction.AttachedLabel)
	if ok && w.gotoTargets[target] {
		w.line("::", labelName(target), "::")
	}
}

func (w *Writer) writeDeclaration(function *lifter.Function, statement *lifter.Statement) {
	names := make([]string, len(statement.Assignment.Variables))

	for i := range statement.Assignment.Variables {
		variable := &statement.Assignment.Variables[i]

		if statement.Locals != nil &&
			i < len(statement.Locals.Names) &&
			variable.SlotScope != nil &&
			(*variable.SlotScope).Name == "" {
			(*variable.SlotScope).Name = statement.Locals.Names[i]
		}

		names[i] = w.variableString(function, variable)
	}

	expressions := make([]string, len(statement.Assignment.Expressions))
	for i, expression := range statement.Assignment.Expressions {
		expressions[i] = w.expressionString(function, expression, precedenceNone)
	}

	if len(expressions) != 0 {
		w.line("local ", strings.Join(names, ", "), " = ", strings.Join(expressions, ", "))
	} else {
		w.line("local ", strings.Join(names, ", "))
	}

	w.writeBlock(function, statement.Block)
}

func (w *Writer) writeAssignment(function *lifter.Function, statement *lifter.Statement) {
	isLocal := len(statement.Assignment.Variables) != 0

	for i := range statement.Assignment.Variables {
		variable := &statement.Assignment.Variables[i]

		if variable.Type != lifter.VariableSlot ||
			variable.IsMultres ||
			variable.SlotScope == nil ||
			(*variable.SlotScope).Name != "" {
			isLocal = false
		}
	}

	names := make([]string, len(statement.Assignment.Variables))
	for i := range statement.Assignment.Variables {
		names[i] = w.variableString(function, &statement.Assignment.Variables[i])
	}

	expressions := make([]string, len(statement.Assignment.Expressions))
	for i, expression := range statement.Assignment.Expressions {
		expressions[i] = w.expressionString(function, expression, precedenceNone)
	}

	prefix := ""
	if isLocal {
		prefix = "local "
	}

	w.line(prefix, strings.Join(names, ", "), " = ", strings.Join(expressions, ", "))
}

func (w *Writer) writeReturn(function *lifter.Function, statement *lifter.Statement) {
	values := make([]string, 0, len(statement.Assignment.Expressions)+1)

	for _, expression := range statement.Assignment.Expressions {
		values = append(values, w.expressionString(function, expression, precedenceNone))
	}

	if statement.Assignment.MultresReturn != nil {
		values = append(values, w.expressionString(function, statement.Assignment.MultresReturn, precedenceNone))
	}

	if len(values) == 0 {
		w.line("return")
	} else {
		w.line("return ", strings.Join(values, ", "))
	}
}

func (w *Writer) writeNumericFor(function *lifter.Function, statement *lifter.Statement) {
	variable := &statement.Assignment.Variables[0]

	if statement.Locals != nil &&
		len(statement.Locals.Names) != 0 &&
		variable.SlotScope != nil &&
		(*variable.SlotScope).Name == "" {
		(*variable.SlotScope).Name = statement.Locals.Names[0]
	}

	header := w.variableString(function, variable) +
		" = " + w.expressionString(function, statement.Assignment.Expressions[0], precedenceNone) +
		", " + w.expressionString(function, statement.Assignment.Expressions[1], precedenceNone)

	if !isConstantOne(statement.Assignment.Expressions[2]) {
		header += ", " + w.expressionString(function, statement.Assignment.Expressions[2], precedenceNone)
	}

	w.line("for ", header, " do")
	w.writeNested(function, statement.Block)
	w.line("end")
}

func (w *Writer) writeGenericFor(function *lifter.Function, statement *lifter.Statement) {
	names := make([]string, len(statement.Assignment.Variables))

	for i := range statement.Assignment.Variables {
		variable := &statement.Assignment.Variables[i]

		if statement.Locals != nil &&
			i < len(statement.Locals.Names) &&
			variable.SlotScope != nil &&
			(*variable.SlotScope).Name == "" {
			(*variable.SlotScope).Name = statement.Locals.Names[i]
		}

		names[i] = w.variableString(function, variable)
	}

	iterators := make([]string, 0, 3)
	for _, expression := range statement.Assignment.Expressions {
		iterators = append(iterators, w.expressionString(function, expression, precedenceNone))
	}

	// The state and control values read as noise when the generator left
	// them nil, which is the common pairs-style shape.
	for len(iterators) > 1 && iterators[len(iterators)-1] == "nil" {
		iterators = iterators[:len(iterators)-1]
	}

	w.line("for ", strings.Join(names, ", "), " in ", strings.Join(iterators, ", "), " do")
	w.writeNested(function, statement.Block)
	w.line("end")
}

func (w *Writer) renderExpression(function *lifter.Function, expression *lifter.Expression) (string, int) {
	switch expression.Type {
	case lifter.ExpressionConstant:
		return w.constantString(expression.Constant)
	case lifter.ExpressionVariable:
		return w.variableString(function, expression.Variable), precedenceAtom
	case lifter.ExpressionFunction:
		return w.functionString(expression.Function), precedenceAtom
	case lifter.ExpressionFunctionCall:
		return w.callString(function, expression.FunctionCall), precedenceAtom
	case lifter.ExpressionVararg:
		return "...", precedenceAtom
	case lifter.ExpressionTable:
		return w.tableString(function, expression.Table), precedenceAtom
	}

	if symbol, precedence, rightAssociative := binaryOperator(expression.Type); symbol != "" {
		leftContext, rightContext := precedence, precedence+1
		if rightAssociative {
			leftContext, rightContext = precedence+1, precedence
		}

		left := w.expressionString(function, expression.BinaryOp.LeftOperand, leftContext)
		right := w.expressionString(function, expression.BinaryOp.RightOperand, rightContext)
		return left + " " + symbol + " " + right, precedence
	}

	switch expression.Type {
	case lifter.ExpressionUnaryMinus:
		operand := w.expressionString(function, expression.UnaryOp.Operand, precedenceUnary)

		if strings.HasPrefix(operand, "-") {
			return "- " + operand, precedenceUnary
		}

		return "-" + operand, precedenceUnary
	case lifter.ExpressionUnaryNot:
		return "not " + w.expressionString(function, expression.UnaryOp.Operand, precedenceUnary), precedenceUnary
	case lifter.ExpressionUnaryLength:
		return "#" + w.expressionString(function, expression.UnaryOp.Operand, precedenceUnary), precedenceUnary
	}

	w.fail(fmt.Sprintf("cannot render expression type %d", expression.Type))
	return "nil", precedenceAtom
}

func (w *Writer) expressionString(function *lifter.Function, expression *lifter.Expression, contextPrecedence int) string {
	text, precedence := w.renderExpression(function, expression)

	if precedence < contextPrecedence {
		return "(" + text + ")"
	}

	return text
}

// prefixString renders an expression in callee or index-base position,
// where Lua only allows variables and calls without parentheses.
func (w *Writer) prefixString(function *lifter.Function, expression *lifter.Expression) string {
	text := w.expressionString(function, expression, precedenceAtom)

	if expression.Type != lifter.ExpressionVariable && expression.Type != lifter.ExpressionFunctionCall {
		return "(" + text + ")"
	}

	return text
}

func (w *Writer) callString(function *lifter.Function, call *lifter.FunctionCall) string {
	arguments := make([]string, 0, len(call.Arguments)+1)

	for _, argument := range call.Arguments {
		arguments = append(arguments, w.expressionString(function, argument, precedenceNone))
	}

	if call.MultresArgument != nil {
		arguments = append(arguments, w.expressionString(function, call.MultresArgument, precedenceNone))
	}

	argumentList := "(" + strings.Join(arguments, ", ") + ")"

	if call.IsMethod &&
		call.Function.Type == lifter.ExpressionVariable &&
		call.Function.Variable.Type == lifter.VariableTableIndex &&
		call.Function.Variable.TableIndex.Type == lifter.ExpressionConstant &&
		call.Function.Variable.TableIndex.Constant.Kind == lifter.ConstantString &&
		call.Function.Variable.TableIndex.Constant.IsName {
		return w.prefixString(function, call.Function.Variable.Table) +
			":" + call.Function.Variable.TableIndex.Constant.String + argumentList
	}

	return w.prefixString(function, call.Function) + argumentList
}

func (w *Writer) variableString(function *lifter.Function, variable *lifter.Variable) string {
	switch variable.Type {
	case lifter.VariableSlot, lifter.VariableUpvalue:
		return w.scopeName(function, variable)
	case lifter.VariableGlobal:
		return variable.Name
	case lifter.VariableTableIndex:
		base := w.prefixString(function, variable.Table)

		if variable.IsMultres {
			index := strconv.FormatFloat(variable.MultresIndex, 'g', 14, 64)
			return base + "[" + index + "]"
		}

		if variable.TableIndex.Type == lifter.ExpressionConstant &&
			variable.TableIndex.Constant.Kind == lifter.ConstantString &&
			variable.TableIndex.Constant.IsName {
			return base + "." + variable.TableIndex.Constant.String
		}

		return base + "[" + w.expressionString(function, variable.TableIndex, precedenceNone) + "]"
	}

	w.fail("temporary value survived into rendering")
	return "..."
}

// scopeName returns the scope's name, synthesizing one on first use.
// Unnamed scopes that open at instruction zero in a parameter slot take
// the parameter's name so reads match the function header.
func (w *Writer) scopeName(function *lifter.Function, variable *lifter.Variable) string {
	if variable.SlotScope == nil {
		return fmt.Sprintf("slot%d", variable.Slot)
	}

	scope := *variable.SlotScope

	if scope.Name == "" {
		if scope.ScopeBegin == 0 && int(scope.Slot) < function.ParameterCount() {
			scope.Name = w.parameterName(function, int(scope.Slot))
		} else {
			w.nameCounter++
			scope.Name = fmt.Sprintf("slot%d_%d", scope.Slot, w.nameCounter)
		}
	}

	return scope.Name
}

func (w *Writer) parameterName(function *lifter.Function, index int) string {
	names := function.ParameterNames()

	if index < len(names) && names[index] != "" {
		return names[index]
	}

	return fmt.Sprintf("arg%d", index)
}

func (w *Writer) functionString(function *lifter.Function) string {
	parameters := make([]string, 0, function.ParameterCount()+1)
	for i := 0; i < function.ParameterCount(); i++ {
		parameters = append(parameters, w.parameterName(function, i))
	}

	if function.IsVariadic() {
		parameters = append(parameters, "...")
	}

	savedStream, savedTargets := w.stream, w.gotoTargets
	buffer := utils.NewSimpleByteStream()
	w.stream = buffer
	w.gotoTargets = collectGotoTargets(function.Block(), map[uint32]bool{})

	w.print("function(", strings.Join(parameters, ", "), ")\n")
	w.depth++
	w.writeFunctionBody(function)
	w.depth--
	w.print(strings.Repeat("\t", w.depth), "end")

	w.stream, w.gotoTargets = savedStream, savedTargets
	return string(buffer.ToBytes())
}

func (w *Writer) tableString(function *lifter.Function, table *lifter.Table) string {
	items := make([]string, 0, len(table.ConstantList)+len(table.ConstantFields)+len(table.Fields))

	for i, entry := range table.ConstantList {
		// Template arrays start at index zero, which Lua constructors
		// cannot express positionally.
		if i == 0 {
			if entry.Type != lifter.ExpressionConstant || entry.Constant.Kind != lifter.ConstantNil {
				items = append(items, "[0] = "+w.expressionString(function, entry, precedenceNone))
			}

			continue
		}

		items = append(items, w.expressionString(function, entry, precedenceNone))
	}

	for _, field := range table.ConstantFields {
		items = append(items, w.fieldString(function, field))
	}

	for _, field := range table.Fields {
		items = append(items, w.fieldString(function, field))
	}

	if table.MultresField != nil {
		items = append(items, w.expressionString(function, table.MultresField, precedenceNone))
	}

	if len(items) == 0 {
		return "{}"
	}

	return "{" + strings.Join(items, ", ") + "}"
}

func (w *Writer) fieldString(function *lifter.Function, field lifter.TableField) string {
	value := w.expressionString(function, field.Value, precedenceNone)

	if field.Key.Type == lifter.ExpressionConstant &&
		field.Key.Constant.Kind == lifter.ConstantString &&
		field.Key.Constant.IsName {
		return field.Key.Constant.String + " = " + value
	}

	return "[" + w.expressionString(function, field.Key, precedenceNone) + "] = " + value
}

func (w *Writer) constantString(constant *lifter.Constant) (string, int) {
	switch constant.Kind {
	case lifter.ConstantNil:
		return "nil", precedenceAtom
	case lifter.ConstantFalse:
		return "false", precedenceAtom
	case lifter.ConstantTrue:
		return "true", precedenceAtom
	case lifter.ConstantNumber:
		return formatNumber(constant.Number), numberPrecedence(constant.Number)
	case lifter.ConstantString:
		return quoteString(constant.String), precedenceAtom
	case lifter.ConstantCdataSigned:
		text := strconv.FormatInt(constant.Signed, 10) + "LL"

		if constant.Signed < 0 {
			return text, precedenceUnary
		}

		return text, precedenceAtom
	case lifter.ConstantCdataUnsigned:
		return strconv.FormatUint(constant.Unsigned, 10) + "ULL", precedenceAtom
	case lifter.ConstantCdataImaginary:
		return formatNumber(constant.Number) + "i", numberPrecedence(constant.Number)
	}

	w.fail("invalid constant kind")
	return "nil", precedenceAtom
}

func (w *Writer) print(parts ...string) {
	for _, part := range parts {
		if w.err != nil {
			return
		}

		w.err = w.stream.WriteString(part)
	}
}

func (w *Writer) line(parts ...string) {
	w.print(strings.Repeat("\t", w.depth))
	w.print(parts...)
	w.print("\n")
}

func (w *Writer) fail(message string) {
	if w.err == nil {
		w.err = errors.New("%v", message)
	}
}

func binaryOperator(t lifter.ExpressionType) (string, int, bool) {
	switch t {
	case lifter.ExpressionBinaryAddition:
		return "+", precedenceAdditive, false
	case lifter.ExpressionBinarySubtraction:
		return "-", precedenceAdditive, false
	case lifter.ExpressionBinaryMultiplication:
		return "*", precedenceMultiplicative, false
	case lifter.ExpressionBinaryDivision:
		return "/", precedenceMultiplicative, false
	case lifter.ExpressionBinaryModulo:
		return "%", precedenceMultiplicative, false
	case lifter.ExpressionBinaryExponentation:
		return "^", precedencePower, true
	case lifter.ExpressionBinaryConcatenation:
		return "..", precedenceConcat, true
	case lifter.ExpressionBinaryLessThan:
		return "<", precedenceCompare, false
	case lifter.ExpressionBinaryLessEqual:
		return "<=", precedenceCompare, false
	case lifter.ExpressionBinaryGreaterThan:
		return ">", precedenceCompare, false
	case lifter.ExpressionBinaryGreaterEqual:
		return ">=", precedenceCompare, false
	case lifter.ExpressionBinaryEqual:
		return "==", precedenceCompare, false
	case lifter.ExpressionBinaryNotEqual:
		return "~=", precedenceCompare, false
	case lifter.ExpressionBinaryAnd:
		return "and", precedenceAnd, false
	case lifter.ExpressionBinaryOr:
		return "or", precedenceOr, false
	}

	return "", 0, false
}

func labelName(target uint32) string {
	return fmt.Sprintf("lbl_%d", target)
}

func collectGotoTargets(block []*lifter.Statement, targets map[uint32]bool) map[uint32]bool {
	for _, statement := range block {
		if statement.Type == lifter.StatementGoto {
			targets[statement.Instruction.Target] = true
		}

		if len(statement.Block) != 0 {
			collectGotoTargets(statement.Block, targets)
		}
	}

	return targets
}

func isConstantOne(expression *lifter.Expression) bool {
	return expression.Type == lifter.ExpressionConstant &&
		expression.Constant.Kind == lifter.ConstantNumber &&
		expression.Constant.Number == 1
}

func formatNumber(value float64) string {
	switch {
	case math.IsInf(value, 1):
		return "(1/0)"
	case math.IsInf(value, -1):
		return "(-1/0)"
	case math.IsNaN(value):
		return "(0/0)"
	}

	return strconv.FormatFloat(value, 'g', 14, 64)
}

func numberPrecedence(value float64) int {
	if value < 0 {
		return precedenceUnary
	}

	return precedenceAtom
}

func quoteString(value string) string {
	var builder strings.Builder
	builder.WriteByte('"')

	for i := 0; i < len(value); i++ {
		b := value[i]

		switch b {
		case '"':
			builder.WriteString("\\\"")
		case '\\':
			builder.WriteString("\\\\")
		case '\n':
			builder.WriteString("\\n")
		case '\r':
			builder.WriteString("\\r")
		case '\t':
			builder.WriteString("\\t")
		default:
			if b < 0x20 || b == 0x7f {
				if i+1 < len(value) && value[i+1] >= '0' && value[i+1] <= '9' {
					builder.WriteString(fmt.Sprintf("\\%03d", b))
				} else {
					builder.WriteString("\\" + strconv.Itoa(int(b)))
				}
			} else {
				builder.WriteByte(b)
			}
		}
	}

	builder.WriteByte('"')
	return builder.String()
}
