package bytecode

type OpCode uint8

const (
	/*----------------------------------------------------------------------
	  name		args	description
	  ------------------------------------------------------------------------*/
	OP_ISLT OpCode = iota /*	A D	if R(A) < R(D) then JMP else skip		*/
	OP_ISGE               /*	A D	if R(A) >= R(D) then JMP else skip		*/
	OP_ISLE               /*	A D	if R(A) <= R(D) then JMP else skip		*/
	OP_ISGT               /*	A D	if R(A) > R(D) then JMP else skip		*/
	OP_ISEQV              /*	A D	if R(A) == R(D) then JMP else skip		*/
	OP_ISNEV              /*	A D	if R(A) ~= R(D) then JMP else skip		*/
	OP_ISEQS              /*	A D	if R(A) == Kstr(D) then JMP else skip		*/
	OP_ISNES              /*	A D	if R(A) ~= Kstr(D) then JMP else skip		*/
	OP_ISEQN              /*	A D	if R(A) == Knum(D) then JMP else skip		*/
	OP_ISNEN              /*	A D	if R(A) ~= Knum(D) then JMP else skip		*/
	OP_ISEQP              /*	A D	if R(A) == pri(D) then JMP else skip		*/
	OP_ISNEP              /*	A D	if R(A) ~= pri(D) then JMP else skip		*/

	OP_ISTC /*	A D	if truthy(R(D)) then R(A) := R(D); JMP else skip*/
	OP_ISFC /*	A D	if falsy(R(D)) then R(A) := R(D); JMP else skip	*/
	OP_IST  /*	D	if truthy(R(D)) then JMP else skip		*/
	OP_ISF  /*	D	if falsy(R(D)) then JMP else skip		*/

	OP_ISTYPE /*	A D	type guard (internal, version 2 only)		*/
	OP_ISNUM  /*	A D	number guard (internal, version 2 only)		*/

	OP_MOV /*	A D	R(A) := R(D)					*/
	OP_NOT /*	A D	R(A) := not R(D)				*/
	OP_UNM /*	A D	R(A) := -R(D)					*/
	OP_LEN /*	A D	R(A) := #R(D)					*/

	OP_ADDVN /*	A B C	R(A) := R(B) + Knum(C)				*/
	OP_SUBVN /*	A B C	R(A) := R(B) - Knum(C)				*/
	OP_MULVN /*	A B C	R(A) := R(B) * Knum(C)				*/
	OP_DIVVN /*	A B C	R(A) := R(B) / Knum(C)				*/
	OP_MODVN /*	A B C	R(A) := R(B) % Knum(C)				*/

	OP_ADDNV /*	A B C	R(A) := Knum(C) + R(B)				*/
	OP_SUBNV /*	A B C	R(A) := Knum(C) - R(B)				*/
	OP_MULNV /*	A B C	R(A) := Knum(C) * R(B)				*/
	OP_DIVNV /*	A B C	R(A) := Knum(C) / R(B)				*/
	OP_MODNV /*	A B C	R(A) := Knum(C) % R(B)				*/

	OP_ADDVV /*	A B C	R(A) := R(B) + R(C)				*/
	OP_SUBVV /*	A B C	R(A) := R(B) - R(C)				*/
	OP_MULVV /*	A B C	R(A) := R(B) * R(C)				*/
	OP_DIVVV /*	A B C	R(A) := R(B) / R(C)				*/
	OP_MODVV /*	A B C	R(A) := R(B) % R(C)				*/

	OP_POW /*	A B C	R(A) := R(B) ^ R(C)				*/
	OP_CAT /*	A B C	R(A) := R(B) .. ... .. R(C)			*/

	OP_KSTR   /*	A D	R(A) := Kstr(D)					*/
	OP_KCDATA /*	A D	R(A) := Kcdata(D)				*/
	OP_KSHORT /*	A D	R(A) := sD					*/
	OP_KNUM   /*	A D	R(A) := Knum(D)					*/
	OP_KPRI   /*	A D	R(A) := pri(D)					*/
	OP_KNIL   /*	A D	R(A), ..., R(D) := nil				*/

	OP_UGET  /*	A D	R(A) := U(D)					*/
	OP_USETV /*	A D	U(A) := R(D)					*/
	OP_USETS /*	A D	U(A) := Kstr(D)					*/
	OP_USETN /*	A D	U(A) := Knum(D)					*/
	OP_USETP /*	A D	U(A) := pri(D)					*/
	OP_UCLO  /*	A J	close upvalues >= R(A); JMP			*/
	OP_FNEW  /*	A D	R(A) := closure(Kproto(D))			*/

	OP_TNEW  /*	A D	R(A) := new table(asize D&0x7ff, hbits D>>11)	*/
	OP_TDUP  /*	A D	R(A) := copy of Ktab(D)				*/
	OP_GGET  /*	A D	R(A) := _G[Kstr(D)]				*/
	OP_GSET  /*	A D	_G[Kstr(D)] := R(A)				*/
	OP_TGETV /*	A B C	R(A) := R(B)[R(C)]				*/
	OP_TGETS /*	A B C	R(A) := R(B)[Kstr(C)]				*/
	OP_TGETB /*	A B C	R(A) := R(B)[C]					*/
	OP_TGETR /*	A B C	raw table get (internal, version 2 only)	*/
	OP_TSETV /*	A B C	R(B)[R(C)] := R(A)				*/
	OP_TSETS /*	A B C	R(B)[Kstr(C)] := R(A)				*/
	OP_TSETB /*	A B C	R(B)[C] := R(A)					*/
	OP_TSETM /*	A D	R(A-1)[D, D+1, ...] := R(A), ..., multres	*/
	OP_TSETR /*	A B C	raw table set (internal, version 2 only)	*/

	OP_CALLM  /*	A B C	R(A), ... := R(A)(R(A+1+FR2), ..., R(A+C+FR2), multres) */
	OP_CALL   /*	A B C	R(A), ... := R(A)(R(A+1+FR2), ..., R(A+C-1+FR2)) */
	OP_CALLMT /*	A D	return R(A)(R(A+1+FR2), ..., R(A+D+FR2), multres) */
	OP_CALLT  /*	A D	return R(A)(R(A+1+FR2), ..., R(A+D-1+FR2))	*/
	OP_ITERC  /*	A B C	R(A), R(A+1), R(A+2) := R(A-3), R(A-2), R(A-1); call iterator */
	OP_ITERN  /*	A B C	specialized ITERC for next()			*/
	OP_VARG   /*	A B C	R(A), ..., R(A+B-2) := ...			*/
	OP_ISNEXT /*	A J	verify ITERN specialization; JMP		*/

	OP_RETM /*	A D	return R(A), ..., R(A+D-1), multres		*/
	OP_RET  /*	A D	return R(A), ..., R(A+D-2)			*/
	OP_RET0 /*	A D	return						*/
	OP_RET1 /*	A D	return R(A)					*/

	OP_FORI  /*	A J	numeric for init; JMP past loop if done		*/
	OP_JFORI /*	A J	JIT-compiled FORI				*/
	OP_FORL  /*	A J	numeric for step; JMP back if not done		*/
	OP_IFORL /*	A J	interpreted FORL				*/
	OP_JFORL /*	A J	JIT-compiled FORL				*/

	OP_ITERL  /*	A J	iterator for step; JMP back if not done		*/
	OP_IITERL /*	A J	interpreted ITERL				*/
	OP_JITERL /*	A J	JIT-compiled ITERL				*/

	OP_LOOP  /*	A J	generic loop marker; JMP delimits the body	*/
	OP_ILOOP /*	A J	interpreted LOOP				*/
	OP_JLOOP /*	A J	JIT-compiled LOOP				*/

	OP_JMP /*	A J	JMP						*/

	OP_FUNCF  /*	A	fixed-arg function header			*/
	OP_IFUNCF /*	A	interpreted FUNCF				*/
	OP_JFUNCF /*	A D	JIT-compiled FUNCF				*/
	OP_FUNCV  /*	A	vararg function header				*/
	OP_IFUNCV /*	A	interpreted FUNCV				*/
	OP_JFUNCV /*	A D	JIT-compiled FUNCV				*/
	OP_FUNCC  /*	A	C function header				*/
	OP_FUNCCW /*	A	wrapped C function header			*/

	NUM_OPCODES

	OP_INVALID OpCode = 0xff
)

var opNames = []string{
	"ISLT", "ISGE", "ISLE", "ISGT",
	"ISEQV", "ISNEV", "ISEQS", "ISNES", "ISEQN", "ISNEN", "ISEQP", "ISNEP",
	"ISTC", "ISFC", "IST", "ISF",
	"ISTYPE", "ISNUM",
	"MOV", "NOT", "UNM", "LEN",
	"ADDVN", "SUBVN", "MULVN", "DIVVN", "MODVN",
	"ADDNV", "SUBNV", "MULNV", "DIVNV", "MODNV",
	"ADDVV", "SUBVV", "MULVV", "DIVVV", "MODVV",
	"POW", "CAT",
	"KSTR", "KCDATA", "KSHORT", "KNUM", "KPRI", "KNIL",
	"UGET", "USETV", "USETS", "USETN", "USETP", "UCLO", "FNEW",
	"TNEW", "TDUP", "GGET", "GSET",
	"TGETV", "TGETS", "TGETB", "TGETR",
	"TSETV", "TSETS", "TSETB", "TSETM", "TSETR",
	"CALLM", "CALL", "CALLMT", "CALLT",
	"ITERC", "ITERN", "VARG", "ISNEXT",
	"RETM", "RET", "RET0", "RET1",
	"FORI", "JFORI", "FORL", "IFORL", "JFORL",
	"ITERL", "IITERL", "JITERL",
	"LOOP", "ILOOP", "JLOOP",
	"JMP",
	"FUNCF", "IFUNCF", "JFUNCF", "FUNCV", "IFUNCV", "JFUNCV", "FUNCC", "FUNCCW",
}

func (op OpCode) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return "INVALID"
}

// operand layout of an instruction word
const (
	fmtAD int = iota // A(8) D(16)
	fmtABC           // A(8) C(8) B(8)
	fmtAJ            // A(8) J(16), J biased by JumpBias
)

var opFormats = []int{
	fmtAD, fmtAD, fmtAD, fmtAD, // ISLT..ISGT
	fmtAD, fmtAD, fmtAD, fmtAD, fmtAD, fmtAD, fmtAD, fmtAD, // ISEQV..ISNEP
	fmtAD, fmtAD, fmtAD, fmtAD, // ISTC..ISF
	fmtAD, fmtAD, // ISTYPE ISNUM
	fmtAD, fmtAD, fmtAD, fmtAD, // MOV..LEN
	fmtABC, fmtABC, fmtABC, fmtABC, fmtABC, // ADDVN..MODVN
	fmtABC, fmtABC, fmtABC, fmtABC, fmtABC, // ADDNV..MODNV
	fmtABC, fmtABC, fmtABC, fmtABC, fmtABC, // ADDVV..MODVV
	fmtABC, fmtABC, // POW CAT
	fmtAD, fmtAD, fmtAD, fmtAD, fmtAD, fmtAD, // KSTR..KNIL
	fmtAD, fmtAD, fmtAD, fmtAD, fmtAD, fmtAJ, fmtAD, // UGET..FNEW
	fmtAD, fmtAD, fmtAD, fmtAD, // TNEW..GSET
	fmtABC, fmtABC, fmtABC, fmtABC, // TGETV..TGETR
	fmtABC, fmtABC, fmtABC, fmtAD, fmtABC, // TSETV..TSETR
	fmtABC, fmtABC, fmtAD, fmtAD, // CALLM..CALLT
	fmtABC, fmtABC, fmtABC, fmtAJ, // ITERC..ISNEXT
	fmtAD, fmtAD, fmtAD, fmtAD, // RETM..RET1
	fmtAJ, fmtAJ, fmtAJ, fmtAJ, fmtAJ, // FORI..JFORL
	fmtAJ, fmtAJ, fmtAD, // ITERL IITERL JITERL(D = trace)
	fmtAJ, fmtAJ, fmtAD, // LOOP ILOOP JLOOP(D = trace)
	fmtAJ, // JMP
	fmtAD, fmtAD, fmtAD, fmtAD, fmtAD, fmtAD, fmtAD, fmtAD, // FUNCF..FUNCCW
}

func (op OpCode) Format() int {
	if int(op) < len(opFormats) {
		return opFormats[op]
	}
	return fmtAD
}

// IsJump reports whether the D operand is a biased jump displacement.
func (op OpCode) IsJump() bool { return op.Format() == fmtAJ }

// version 1 chunks use a shorter opcode numbering without the
// type-guard and raw table ops added later
var opcodeMapVersion1 = buildVersion1Map()

func buildVersion1Map() []OpCode {
	skip := map[OpCode]bool{
		OP_ISTYPE: true,
		OP_ISNUM:  true,
		OP_TGETR:  true,
		OP_TSETR:  true,
	}
	m := make([]OpCode, 0, int(NUM_OPCODES))
	for op := OpCode(0); op < NUM_OPCODES; op++ {
		if skip[op] {
			continue
		}
		m = append(m, op)
	}
	return m
}

func translateOpcode(version uint8, raw uint8) OpCode {
	if version == 1 {
		if int(raw) >= len(opcodeMapVersion1) {
			return OP_INVALID
		}
		return opcodeMapVersion1[raw]
	}
	if raw >= uint8(NUM_OPCODES) {
		return OP_INVALID
	}
	return OpCode(raw)
}
