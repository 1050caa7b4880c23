package utils

import (
	"io"

	"github.com/nikandfor/errors"
)

// ByteReader reads a fully buffered chunk with position tracking, so a
// caller can rewind after probing a section boundary.

type ByteReader interface {
	io.ByteReader
	ReadBytes(n int) ([]byte, error)
	Position() int
	Reset(position int) error
	Remaining() int
}

type sliceByteReader struct {
	data     []byte
	position int
}

func NewByteReader(data []byte) ByteReader {
	return &sliceByteReader{data: data}
}

func (reader *sliceByteReader) ReadByte() (data byte, err error) {
	if reader.position >= len(reader.data) {
		err = io.EOF
		return
	}
	data = reader.data[reader.position]
	reader.position++
	return
}

func (reader *sliceByteReader) ReadBytes(n int) (data []byte, err error) {
	if reader.position+n > len(reader.data) {
		err = io.ErrUnexpectedEOF
		return
	}
	data = reader.data[reader.position : reader.position+n]
	reader.position += n
	return
}

func (reader *sliceByteReader) Position() int {
	return reader.position
}

func (reader *sliceByteReader) Reset(position int) (err error) {
	if position > len(reader.data) {
		err = errors.New("reset position %d is out of range", position)
		return
	}
	reader.position = position
	return
}

func (reader *sliceByteReader) Remaining() int {
	return len(reader.data) - reader.position
}
