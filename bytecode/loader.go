package bytecode

import (
	"encoding/binary"
	"os"

	"github.com/nikandfor/errors"

	"github.com/glualang/ljdec/utils"
)

// binary chunk reader for dump versions 1 and 2

const (
	chunkMagic0 = 0x1b
	chunkMagic1 = 'L'
	chunkMagic2 = 'J'

	maxChunkVersion = 2
)

// LoadFile reads and parses a dumped chunk from disk.
func LoadFile(path string) (module *Module, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read chunk")
	}
	module, err = Load(data)
	if err != nil {
		return nil, errors.Wrap(err, "%v", path)
	}
	module.FilePath = path
	return module, nil
}

// Load parses a dumped chunk held in memory.
func Load(data []byte) (module *Module, err error) {
	loader := &chunkLoader{reader: utils.NewByteReader(data)}
	return loader.load()
}

type chunkLoader struct {
	reader utils.ByteReader
	header Header
}

func (l *chunkLoader) load() (module *Module, err error) {
	err = l.readHeader()
	if err != nil {
		return nil, errors.Wrap(err, "header")
	}

	// prototypes arrive innermost first; children of a prototype are
	// the topmost entries of the stack when it is read
	var stack []*Prototype

	for {
		length, err := l.uleb128()
		if err != nil {
			return nil, errors.Wrap(err, "prototype length")
		}
		if length == 0 {
			break
		}

		end := l.reader.Position() + int(length)
		proto, err := l.readPrototype(&stack)
		if err != nil {
			return nil, errors.Wrap(err, "prototype %d", len(stack))
		}
		if l.reader.Position() != end {
			return nil, errors.New("prototype %d has trailing data", len(stack))
		}
		stack = append(stack, proto)

		if l.reader.Remaining() == 0 {
			break
		}
	}

	if len(stack) != 1 {
		return nil, errors.New("chunk has %d root prototypes", len(stack))
	}

	return &Module{Header: l.header, Main: stack[0]}, nil
}

func (l *chunkLoader) readHeader() (err error) {
	magic, err := l.reader.ReadBytes(3)
	if err != nil {
		return err
	}
	if magic[0] != chunkMagic0 || magic[1] != chunkMagic1 || magic[2] != chunkMagic2 {
		return errors.New("bad magic")
	}

	version, err := l.reader.ReadByte()
	if err != nil {
		return err
	}
	if version == 0 || version > maxChunkVersion {
		return errors.New("unsupported dump version %d", version)
	}

	flags, err := l.uleb128()
	if err != nil {
		return err
	}

	l.header = Header{Version: version, Flags: uint8(flags)}
	if l.header.Flags&FlagBigEndian != 0 {
		return errors.New("big endian chunks are not supported")
	}

	if l.header.HasDebugInfo() {
		nameLen, err := l.uleb128()
		if err != nil {
			return err
		}
		_, err = l.reader.ReadBytes(int(nameLen))
		if err != nil {
			return err
		}
	}

	return nil
}

func (l *chunkLoader) readPrototype(stack *[]*Prototype) (proto *Prototype, err error) {
	proto = &Prototype{}

	head, err := l.reader.ReadBytes(4)
	if err != nil {
		return nil, err
	}
	proto.Flags = head[0]
	proto.Parameters = head[1]
	proto.FrameSize = head[2]
	upvalueCount := int(head[3])

	constantCount, err := l.uleb128()
	if err != nil {
		return nil, err
	}
	numberCount, err := l.uleb128()
	if err != nil {
		return nil, err
	}
	instructionCount, err := l.uleb128()
	if err != nil {
		return nil, err
	}

	debugSize := uint32(0)
	if l.header.HasDebugInfo() {
		debugSize, err = l.uleb128()
		if err != nil {
			return nil, err
		}
		if debugSize != 0 {
			proto.FirstLine, err = l.uleb128()
			if err != nil {
				return nil, err
			}
			proto.LineCount, err = l.uleb128()
			if err != nil {
				return nil, err
			}
		}
	}

	proto.Instructions = make([]Instruction, instructionCount)
	for i := range proto.Instructions {
		word, err := l.reader.ReadBytes(4)
		if err != nil {
			return nil, err
		}
		instruction := Instruction(binary.LittleEndian.Uint32(word))
		op := translateOpcode(l.header.Version, uint8(instruction&0xff))
		if op == OP_INVALID {
			return nil, errors.New("invalid opcode %d at %d", instruction&0xff, i)
		}
		proto.Instructions[i] = instruction&^0xff | Instruction(op)
	}

	proto.Upvalues = make([]uint16, upvalueCount)
	for i := range proto.Upvalues {
		word, err := l.reader.ReadBytes(2)
		if err != nil {
			return nil, err
		}
		proto.Upvalues[i] = binary.LittleEndian.Uint16(word)
	}

	err = l.readConstants(proto, int(constantCount), stack)
	if err != nil {
		return nil, errors.Wrap(err, "constants")
	}

	err = l.readNumberConstants(proto, int(numberCount))
	if err != nil {
		return nil, errors.Wrap(err, "number constants")
	}

	if debugSize != 0 {
		debugEnd := l.reader.Position() + int(debugSize)
		err = l.readDebugInfo(proto, int(instructionCount), upvalueCount, debugEnd)
		if err != nil {
			return nil, errors.Wrap(err, "debug info")
		}
		if l.reader.Position() != debugEnd {
			return nil, errors.New("debug info has trailing data")
		}
	}

	return proto, nil
}

func (l *chunkLoader) readConstants(proto *Prototype, count int, stack *[]*Prototype) (err error) {
	// the dump writes GC constants outermost last; reverse so the D
	// operand indexes the slice directly
	proto.Constants = make([]Constant, count)

	for i := count - 1; i >= 0; i-- {
		tag, err := l.uleb128()
		if err != nil {
			return err
		}

		switch {
		case tag >= uint32(KGC_STR):
			str, err := l.reader.ReadBytes(int(tag - uint32(KGC_STR)))
			if err != nil {
				return err
			}
			proto.Constants[i] = Constant{Type: KGC_STR, String: string(str)}
		case ConstantType(tag) == KGC_CHILD:
			if len(*stack) == 0 {
				return errors.New("child prototype underflow")
			}
			child := (*stack)[len(*stack)-1]
			*stack = (*stack)[:len(*stack)-1]
			proto.Constants[i] = Constant{Type: KGC_CHILD, Prototype: child}
		case ConstantType(tag) == KGC_TAB:
			constant, err := l.readTableConstant()
			if err != nil {
				return err
			}
			proto.Constants[i] = constant
		case ConstantType(tag) == KGC_I64 || ConstantType(tag) == KGC_U64:
			lo, err := l.uleb128()
			if err != nil {
				return err
			}
			hi, err := l.uleb128()
			if err != nil {
				return err
			}
			proto.Constants[i] = Constant{Type: ConstantType(tag), Cdata: uint64(hi)<<32 | uint64(lo)}
		case ConstantType(tag) == KGC_COMPLEX:
			// real part first, imaginary second; literals only ever
			// carry the imaginary part
			_, err = l.uleb128()
			if err != nil {
				return err
			}
			_, err = l.uleb128()
			if err != nil {
				return err
			}
			lo, err := l.uleb128()
			if err != nil {
				return err
			}
			hi, err := l.uleb128()
			if err != nil {
				return err
			}
			proto.Constants[i] = Constant{Type: KGC_COMPLEX, Cdata: uint64(hi)<<32 | uint64(lo)}
		default:
			return errors.New("invalid constant tag %d", tag)
		}
	}

	return nil
}

func (l *chunkLoader) readTableConstant() (constant Constant, err error) {
	arrayCount, err := l.uleb128()
	if err != nil {
		return constant, err
	}
	hashCount, err := l.uleb128()
	if err != nil {
		return constant, err
	}

	constant.Type = KGC_TAB
	constant.Array = make([]TableConstant, arrayCount)
	for i := range constant.Array {
		constant.Array[i], err = l.readTableEntry()
		if err != nil {
			return constant, err
		}
	}

	constant.Table = make([]TableField, hashCount)
	for i := range constant.Table {
		constant.Table[i].Key, err = l.readTableEntry()
		if err != nil {
			return constant, err
		}
		constant.Table[i].Value, err = l.readTableEntry()
		if err != nil {
			return constant, err
		}
	}

	return constant, nil
}

func (l *chunkLoader) readTableEntry() (entry TableConstant, err error) {
	tag, err := l.uleb128()
	if err != nil {
		return entry, err
	}

	switch {
	case tag >= uint32(KTAB_STR):
		str, err := l.reader.ReadBytes(int(tag - uint32(KTAB_STR)))
		if err != nil {
			return entry, err
		}
		entry = TableConstant{Type: KTAB_STR, String: string(str)}
	case TableConstantType(tag) == KTAB_INT:
		value, err := l.uleb128()
		if err != nil {
			return entry, err
		}
		entry = TableConstant{Type: KTAB_INT, Integer: value}
	case TableConstantType(tag) == KTAB_NUM:
		lo, err := l.uleb128()
		if err != nil {
			return entry, err
		}
		hi, err := l.uleb128()
		if err != nil {
			return entry, err
		}
		entry = TableConstant{Type: KTAB_NUM, Number: uint64(hi)<<32 | uint64(lo)}
	case tag <= uint32(KTAB_TRUE):
		entry = TableConstant{Type: TableConstantType(tag)}
	default:
		return entry, errors.New("invalid table constant tag %d", tag)
	}

	return entry, nil
}

func (l *chunkLoader) readNumberConstants(proto *Prototype, count int) (err error) {
	proto.NumberConstants = make([]NumberConstant, count)

	for i := range proto.NumberConstants {
		isNumber, lo, err := l.uleb128_33()
		if err != nil {
			return err
		}

		if isNumber {
			hi, err := l.uleb128()
			if err != nil {
				return err
			}
			proto.NumberConstants[i] = NumberConstant{Type: KNUM_NUM, Number: uint64(hi)<<32 | uint64(lo)}
		} else {
			proto.NumberConstants[i] = NumberConstant{Type: KNUM_INT, Integer: lo}
		}
	}

	return nil
}

func (l *chunkLoader) readDebugInfo(proto *Prototype, instructionCount, upvalueCount, debugEnd int) (err error) {
	lineEnd := proto.FirstLine + proto.LineCount
	entrySize := 1
	if lineEnd >= 1<<16 {
		entrySize = 4
	} else if lineEnd >= 1<<8 {
		entrySize = 2
	}

	proto.Lines = make([]uint32, instructionCount)
	for i := range proto.Lines {
		entry, err := l.reader.ReadBytes(entrySize)
		if err != nil {
			return err
		}
		var delta uint32
		switch entrySize {
		case 1:
			delta = uint32(entry[0])
		case 2:
			delta = uint32(binary.LittleEndian.Uint16(entry))
		default:
			delta = binary.LittleEndian.Uint32(entry)
		}
		proto.Lines[i] = proto.FirstLine + delta
	}

	proto.UpvalueNames = make([]string, upvalueCount)
	for i := range proto.UpvalueNames {
		proto.UpvalueNames[i], err = l.zeroTerminatedString()
		if err != nil {
			return err
		}
	}

	// variable info records, pc deltas accumulate over the stream
	lastBegin := uint32(0)

	for l.reader.Position() < debugEnd {
		kindByte, err := l.reader.ReadByte()
		if err != nil {
			return err
		}
		if VariableKind(kindByte) == VAR_END {
			break
		}

		info := VariableInfo{}
		if kindByte >= uint8(VAR_STR) {
			err = l.reader.Reset(l.reader.Position() - 1)
			if err != nil {
				return err
			}
			info.Kind = VAR_STR
			info.Name, err = l.zeroTerminatedString()
			if err != nil {
				return err
			}
		} else {
			info.Kind = VariableKind(kindByte)
		}

		beginDelta, err := l.uleb128()
		if err != nil {
			return err
		}
		spanDelta, err := l.uleb128()
		if err != nil {
			return err
		}

		lastBegin += beginDelta
		// stored pcs count the function header slot; shift to 0-based
		// instruction ids
		info.ScopeBegin = lastBegin - 1
		info.ScopeEnd = info.ScopeBegin + spanDelta
		proto.VariableInfos = append(proto.VariableInfos, info)
	}

	return nil
}

func (l *chunkLoader) zeroTerminatedString() (str string, err error) {
	var buffer []byte
	for {
		b, err := l.reader.ReadByte()
		if err != nil {
			return "", err
		}
		if b == 0 {
			return string(buffer), nil
		}
		buffer = append(buffer, b)
	}
}

func (l *chunkLoader) uleb128() (value uint32, err error) {
	shift := uint(0)
	for {
		b, err := l.reader.ReadByte()
		if err != nil {
			return 0, err
		}
		value |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return value, nil
		}
		shift += 7
		if shift > 32 {
			return 0, errors.New("uleb128 overflow")
		}
	}
}

// uleb128_33 reads a 33 bit value whose lowest bit tags the entry as a
// double; the remaining 32 bits are returned separately.
func (l *chunkLoader) uleb128_33() (tagged bool, value uint32, err error) {
	b, err := l.reader.ReadByte()
	if err != nil {
		return false, 0, err
	}
	tagged = b&1 != 0
	value = uint32(b>>1) & 0x3f
	if b&0x80 == 0 {
		return tagged, value, nil
	}

	shift := uint(6)
	for {
		b, err = l.reader.ReadByte()
		if err != nil {
			return false, 0, err
		}
		value |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return tagged, value, nil
		}
		shift += 7
		if shift > 32 {
			return false, 0, errors.New("uleb128 overflow")
		}
	}
}
