package utils

import "io"

// simple memory byte stream implementation

type ByteStream interface {
	io.Writer
	WriteByte(b byte) error
	WriteString(str string) error
	ToBytes() []byte
}

type simpleByteStream struct {
	buffer []byte
}

func NewSimpleByteStream() *simpleByteStream {
	return &simpleByteStream{}
}

func (stream *simpleByteStream) WriteByte(b byte) (err error) {
	stream.buffer = append(stream.buffer, b)
	return
}

func (stream *simpleByteStream) Write(data []byte) (n int, err error) {
	stream.buffer = append(stream.buffer, data...)
	n = len(data)
	return
}

func (stream *simpleByteStream) WriteString(str string) (err error) {
	stream.buffer = append(stream.buffer, str...)
	return
}

func (stream *simpleByteStream) ToBytes() []byte {
	return stream.buffer[:]
}
