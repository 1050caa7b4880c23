package lifter

import (
	"github.com/glualang/ljdec/bytecode"
)

// invalidID marks an absent instruction id, label index or slot scope.
const invalidID = ^uint32(0)

type StatementType uint8

const (
	StatementEmpty StatementType = iota
	StatementInstruction
	StatementCondition
	StatementGoto
	StatementBreak
	StatementReturn
	StatementNumericFor
	StatementGenericFor
	StatementLoop
	StatementDeclaration
	StatementAssignment
	StatementFunctionCall
	StatementIf
)

type ExpressionType uint8

const (
	ExpressionConstant ExpressionType = iota
	ExpressionVariable
	ExpressionFunction
	ExpressionFunctionCall
	ExpressionVararg
	ExpressionTable
	ExpressionBinaryAddition
	ExpressionBinarySubtraction
	ExpressionBinaryMultiplication
	ExpressionBinaryDivision
	ExpressionBinaryExponentation
	ExpressionBinaryModulo
	ExpressionBinaryConcatenation
	ExpressionBinaryLessThan
	ExpressionBinaryLessEqual
	ExpressionBinaryGreaterThan
	ExpressionBinaryGreaterEqual
	ExpressionBinaryEqual
	ExpressionBinaryNotEqual
	ExpressionBinaryAnd
	ExpressionBinaryOr
	ExpressionUnaryMinus
	ExpressionUnaryNot
	ExpressionUnaryLength
)

func (t ExpressionType) isBinary() bool {
	return t >= ExpressionBinaryAddition && t <= ExpressionBinaryOr
}

func (t ExpressionType) isUnary() bool {
	return t >= ExpressionUnaryMinus && t <= ExpressionUnaryLength
}

// constantType orders inlinable constants so an inlining site can refuse
// anything ranked above the constant type it accepts.
type constantType uint8

const (
	constantInvalid constantType = iota
	constantNil
	constantBool
	constantNumber
)

type ConstantKind uint8

const (
	ConstantNil ConstantKind = iota
	ConstantFalse
	ConstantTrue
	ConstantNumber
	ConstantString
	ConstantCdataSigned
	ConstantCdataUnsigned
	ConstantCdataImaginary
)

// Constant is a materialized literal. Number holds the value for
// ConstantNumber and ConstantCdataImaginary, Signed/Unsigned back the two
// integer cdata kinds.
type Constant struct {
	Kind     ConstantKind
	Number   float64
	Signed   int64
	Unsigned uint64
	String   string
	IsName   bool
}

type VariableType uint8

const (
	VariableSlot VariableType = iota
	VariableUpvalue
	VariableGlobal
	VariableTableIndex
	VariableMultres
)

// Variable is an assignable location. Slot variables carry a shared scope
// handle so elimination can rename or merge them after the fact.
type Variable struct {
	Type         VariableType
	Slot         uint8
	SlotScope    **SlotScope
	Name         string
	Table        *Expression
	TableIndex   *Expression
	IsMultres    bool
	MultresIndex float64
}

type FunctionCall struct {
	Function        *Expression
	Arguments       []*Expression
	MultresArgument *Expression
	IsMethod        bool
	ReturnCount     uint8
}

type TableField struct {
	Key   *Expression
	Value *Expression
}

type Vararg struct {
	ReturnCount uint8
}

// Table is a constructor under assembly. ConstantList and ConstantFields
// hold the TDUP template, Fields the runtime stores folded back in.
type Table struct {
	ConstantList   []*Expression
	ConstantFields []TableField
	Fields         []TableField
	MultresIndex   float64
	MultresField   *Expression
}

type BinaryOperation struct {
	LeftOperand  *Expression
	RightOperand *Expression
}

type UnaryOperation struct {
	Operand *Expression
}

type Expression struct {
	Type         ExpressionType
	Constant     *Constant
	Variable     *Variable
	Function     *Function
	FunctionCall *FunctionCall
	Vararg       *Vararg
	Table        *Table
	BinaryOp     *BinaryOperation
	UnaryOp      *UnaryOperation
}

// setType rewrites an expression in place, dropping the payload of the
// previous kind. Used when constant rewriting or operand swapping changes
// the node's shape without reallocating it.
func (e *Expression) setType(t ExpressionType) {
	e.Type = t
	e.Constant = nil
	e.Variable = nil
	e.Function = nil
	e.FunctionCall = nil
	e.Vararg = nil
	e.Table = nil
	e.BinaryOp = nil
	e.UnaryOp = nil

	switch {
	case t == ExpressionConstant:
		e.Constant = &Constant{}
	case t == ExpressionVariable:
		e.Variable = &Variable{}
	case t == ExpressionFunctionCall:
		e.FunctionCall = &FunctionCall{}
	case t == ExpressionVararg:
		e.Vararg = &Vararg{}
	case t == ExpressionTable:
		e.Table = &Table{}
	case t.isBinary():
		e.BinaryOp = &BinaryOperation{}
	case t.isUnary():
		e.UnaryOp = &UnaryOperation{}
	}
}

func newExpression(t ExpressionType) *Expression {
	e := &Expression{}
	e.setType(t)
	return e
}

// instructionInfo keeps the decoded operands of the originating
// instruction together with its absolute id and resolved jump target.
type instructionInfo struct {
	Type          bytecode.OpCode
	A             uint8
	B             uint8
	C             uint8
	D             uint16
	ID            uint32
	Target        uint32
	AttachedLabel uint32
}

func newInstructionInfo(inst bytecode.Instruction, id uint32) instructionInfo {
	return instructionInfo{
		Type:          inst.Op(),
		A:             inst.A(),
		B:             inst.B(),
		C:             inst.C(),
		D:             inst.D(),
		ID:            id,
		Target:        invalidID,
		AttachedLabel: invalidID,
	}
}

// Assignment carries everything both assignment-shaped and call-shaped
// statements need. OpenSlots addresses expression fields that still hold
// slot reads, so elimination can substitute through them in place.
type Assignment struct {
	Variables               []Variable
	Expressions             []*Expression
	OpenSlots               []**Expression
	UsedSlots               []uint8
	AllowedConstantType     constantType
	IsPotentialMethod       bool
	IsTableConstructor      bool
	MultresReturn           *Expression
	NeedsForwardDeclaration bool
}

type Condition struct {
	AllowSlotSwap bool
	Swapped       bool
}

// Local describes one declaration group recovered from debug variable
// info. ExcludeBlock suppresses the scope block when the declaration is
// the compiler's own temporary grouping rather than a source-level scope.
type Local struct {
	BaseSlot     uint32
	ScopeBegin   uint32
	ScopeEnd     uint32
	Names        []string
	ExcludeBlock bool
}

type Statement struct {
	Type        StatementType
	Instruction instructionInfo
	Assignment  Assignment
	Condition   Condition
	Block       []*Statement
	Locals      *Local
	Function    *Function
}

func newStatement(t StatementType) *Statement {
	return &Statement{
		Type:        t,
		Instruction: instructionInfo{ID: invalidID, Target: invalidID, AttachedLabel: invalidID},
		Assignment:  Assignment{AllowedConstantType: constantNumber},
	}
}

func (a *Assignment) registerOpenSlots(slots ...**Expression) {
	a.OpenSlots = append(a.OpenSlots, slots...)
}

// SlotScope is the shared lifetime record of one slot write. All reads
// and the defining write point at the same handle, so usage counts and
// renames propagate without walking the tree.
type SlotScope struct {
	ScopeBegin uint32
	ScopeEnd   uint32
	Usages     uint32
	Name       string
	Slot       uint8
}

type upvalue struct {
	Slot      uint8
	Local     bool
	SlotScope **SlotScope
}

// label collects the jump sources targeting one instruction id. Labels
// are never erased so indices stored on statements stay stable; a label
// with no remaining jump sources is simply invalid.
type label struct {
	Target  uint32
	JumpIds []uint32
}

type Function struct {
	prototype     *bytecode.Prototype
	block         []*Statement
	childFunctions []*Function
	upvalues      []upvalue
	locals        []Local
	labels        []label
	usedGlobals   map[string]struct{}
	parameterNames []string
	slotScopeCollector slotScopeCollector
	hasDebugInfo  bool
	isVariadic    bool
	assignmentSlotIsUpvalue bool
	id            uint32
	level         uint32
}

func newFunction(prototype *bytecode.Prototype, level uint32) *Function {
	f := &Function{
		prototype:    prototype,
		usedGlobals:  map[string]struct{}{},
		hasDebugInfo: len(prototype.Lines) != 0 || len(prototype.VariableInfos) != 0,
		isVariadic:   prototype.IsVararg(),
		id:           invalidID,
		level:        level,
	}

	f.slotScopeCollector.init(uint32(prototype.FrameSize), uint32(len(prototype.Instructions)))
	return f
}

// Block returns the root statement list after lifting.
func (f *Function) Block() []*Statement { return f.block }

func (f *Function) ParameterCount() int { return int(f.prototype.Parameters) }

// ParameterNames is empty when the chunk was stripped of debug info.
func (f *Function) ParameterNames() []string { return f.parameterNames }

func (f *Function) IsVariadic() bool { return f.isVariadic }

func (f *Function) HasDebugInfo() bool { return f.hasDebugInfo }

// LabelTarget resolves a label index to the instruction id it marks.
// Labels survive jump removal, so the target stays resolvable even when
// no jump sources remain.
func (f *Function) LabelTarget(index uint32) (uint32, bool) {
	if index == invalidID || index >= uint32(len(f.labels)) {
		return 0, false
	}

	return f.labels[index].Target, true
}

func (f *Function) addJump(id, target uint32) {
	for i := range f.labels {
		if f.labels[i].Target != target {
			continue
		}

		jumpIds := f.labels[i].JumpIds
		position := len(jumpIds)

		for position > 0 && jumpIds[position-1] > id {
			position--
		}

		if position != len(jumpIds) && jumpIds[position] == id {
			return
		}

		jumpIds = append(jumpIds, 0)
		copy(jumpIds[position+1:], jumpIds[position:])
		jumpIds[position] = id
		f.labels[i].JumpIds = jumpIds
		return
	}

	f.labels = append(f.labels, label{Target: target, JumpIds: []uint32{id}})
}

func (f *Function) removeJump(id, target uint32) {
	for i := range f.labels {
		if f.labels[i].Target != target {
			continue
		}

		for j, jumpID := range f.labels[i].JumpIds {
			if jumpID == id {
				f.labels[i].JumpIds = append(f.labels[i].JumpIds[:j], f.labels[i].JumpIds[j+1:]...)
				return
			}
		}

		break
	}

	panic(&Error{Kind: InvariantBroken, Message: "unable to remove jump"})
}

func (f *Function) getLabelFromID(id uint32) uint32 {
	for i := range f.labels {
		if f.labels[i].Target == id && len(f.labels[i].JumpIds) != 0 {
			return uint32(i)
		}
	}

	return invalidID
}

func (f *Function) isValidLabel(labelIndex uint32) bool {
	return labelIndex != invalidID && labelIndex < uint32(len(f.labels)) && len(f.labels[labelIndex].JumpIds) != 0
}

// isValidBlockRange reports whether no jump from outside [begin, end]
// lands in (begin, end]; a jump that does would make the range unsafe to
// fold into one statement.
func (f *Function) isValidBlockRange(begin, end uint32) bool {
	for i := range f.labels {
		if len(f.labels[i].JumpIds) == 0 {
			continue
		}

		if f.labels[i].Target > begin && f.labels[i].Target <= end {
			for _, jumpID := range f.labels[i].JumpIds {
				if jumpID < begin || jumpID > end {
					return false
				}
			}
		}
	}

	return true
}

// getScopeEndFromLabel returns the last instruction id a value live at the
// label must survive to, which is the latest backward jump source when one
// exists.
func (f *Function) getScopeEndFromLabel(labelIndex uint32) uint32 {
	l := &f.labels[labelIndex]

	if last := l.JumpIds[len(l.JumpIds)-1]; last > l.Target {
		return last
	}

	return l.Target
}

// getScopeBeginFromLabel returns the earliest id a scope live at the label
// must extend back to, which is the first forward jump source when one
// exists.
func (f *Function) getScopeBeginFromLabel(labelIndex, id uint32) uint32 {
	if labelIndex == invalidID || !f.isValidLabel(labelIndex) {
		return id
	}

	if first := f.labels[labelIndex].JumpIds[0]; first < id {
		return first
	}

	return id
}

func (f *Function) getConstant(index uint16) *bytecode.Constant {
	return &f.prototype.Constants[index]
}

func (f *Function) getNumberConstant(index uint16) *bytecode.NumberConstant {
	return &f.prototype.NumberConstants[index]
}
