package utils

import (
	"io"
	"testing"
)

func TestByteReaderRewind(t *testing.T) {
	reader := NewByteReader([]byte{1, 2, 3, 4})

	data, err := reader.ReadBytes(3)
	if err != nil || len(data) != 3 || data[2] != 3 {
		t.Error("unexpected read:", data, err)
		return
	}

	if reader.Position() != 3 || reader.Remaining() != 1 {
		t.Error("position tracking is off:", reader.Position(), reader.Remaining())
		return
	}

	err = reader.Reset(1)
	if err != nil {
		t.Error(err)
		return
	}

	b, err := reader.ReadByte()
	if err != nil || b != 2 {
		t.Error("rewind did not land on the second byte:", b, err)
	}
}

func TestByteReaderEOF(t *testing.T) {
	reader := NewByteReader([]byte{1})

	_, err := reader.ReadBytes(2)
	if err != io.ErrUnexpectedEOF {
		t.Error("short read should report unexpected EOF:", err)
		return
	}

	if _, err = reader.ReadByte(); err != nil {
		t.Error(err)
		return
	}

	if _, err = reader.ReadByte(); err != io.EOF {
		t.Error("exhausted reader should report EOF:", err)
	}
}

func TestSimpleByteStream(t *testing.T) {
	stream := NewSimpleByteStream()

	err := stream.WriteString("ab")
	if err != nil {
		t.Error(err)
		return
	}

	err = stream.WriteByte('c')
	if err != nil {
		t.Error(err)
		return
	}

	if string(stream.ToBytes()) != "abc" {
		t.Error("unexpected stream contents:", stream.ToBytes())
	}
}
