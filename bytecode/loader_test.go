package bytecode

import (
	"testing"
)

func appendWord(data []byte, instruction Instruction) []byte {
	word := uint32(instruction)
	return append(data, byte(word), byte(word>>8), byte(word>>16), byte(word>>24))
}

// buildStrippedChunk wraps prototype payloads in a chunk envelope. The
// payloads have to arrive innermost first and each one has to stay under
// 128 bytes so the length prefix fits in a single uleb byte.
func buildStrippedChunk(prototypes ...[]byte) []byte {
	data := []byte{0x1b, 'L', 'J', 2, FlagStrip}

	for _, prototype := range prototypes {
		data = append(data, byte(len(prototype)))
		data = append(data, prototype...)
	}

	return append(data, 0)
}

func TestLoadStrippedChunk(t *testing.T) {
	prototype := []byte{ProtoVararg, 0, 2, 0}
	prototype = append(prototype, 1, 1, 2)
	prototype = appendWord(prototype, CreateAD(OP_KSHORT, 0, 5))
	prototype = appendWord(prototype, CreateAD(OP_RET1, 0, 2))
	prototype = append(prototype, byte(KGC_STR)+5)
	prototype = append(prototype, "print"...)
	prototype = append(prototype, 7<<1)

	module, err := Load(buildStrippedChunk(prototype))
	if err != nil {
		t.Error(err)
		return
	}

	if module.Header.Version != 2 || module.Header.HasDebugInfo() {
		t.Error("unexpected header:", module.Header)
		return
	}

	main := module.Main
	if !main.IsVararg() || main.FrameSize != 2 || len(main.Instructions) != 2 {
		t.Error("main prototype head was misread")
		return
	}

	if main.Instructions[0].Op() != OP_KSHORT || main.Instructions[0].D() != 5 {
		t.Error("unexpected first instruction:", main.Instructions[0])
		return
	}

	if len(main.Constants) != 1 || main.Constants[0].Type != KGC_STR || main.Constants[0].String != "print" {
		t.Error("string constant was misread:", main.Constants)
		return
	}

	if len(main.NumberConstants) != 1 ||
		main.NumberConstants[0].Type != KNUM_INT ||
		main.NumberConstants[0].Integer != 7 {
		t.Error("number constant was misread:", main.NumberConstants)
	}
}

func TestLoadChildPrototype(t *testing.T) {
	child := []byte{0, 1, 1, 0}
	child = append(child, 0, 0, 1)
	child = appendWord(child, CreateAD(OP_RET0, 0, 1))

	main := []byte{ProtoVararg | ProtoChild, 0, 2, 0}
	main = append(main, 1, 0, 2)
	main = appendWord(main, CreateAD(OP_FNEW, 0, 0))
	main = appendWord(main, CreateAD(OP_RET1, 0, 2))
	main = append(main, byte(KGC_CHILD))

	module, err := Load(buildStrippedChunk(child, main))
	if err != nil {
		t.Error(err)
		return
	}

	constants := module.Main.Constants
	if len(constants) != 1 || constants[0].Type != KGC_CHILD || constants[0].Prototype == nil {
		t.Error("child prototype was not attached to the constant pool")
		return
	}

	if constants[0].Prototype.Parameters != 1 || len(constants[0].Prototype.Instructions) != 1 {
		t.Error("child prototype head was misread")
	}
}

func TestLoadRejectsBadMagic(t *testing.T) {
	_, err := Load([]byte{0x1b, 'L', 'X', 2, FlagStrip, 0})
	if err == nil {
		t.Error("a chunk with bad magic should not load")
	}
}

func TestLoadRejectsBigEndian(t *testing.T) {
	_, err := Load([]byte{0x1b, 'L', 'J', 2, FlagStrip | FlagBigEndian, 0})
	if err == nil {
		t.Error("a big endian chunk should not load")
	}
}
