// Copyright 2025 The BasaltDB Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package client

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/basaltdb/basalt-go/go/bterrors"
	"github.com/basaltdb/basalt-go/go/protocol"
)

// The wire uses two framings. During the early handshake, packets are a
// bare 4-byte big-endian length (including itself) followed by the
// payload. After the handshake moves to the message phase, frames are
// type byte + 4 reserved bytes + 4-byte payload length + payload, with
// one anomaly: the authentication request carries its int32 code
// directly after the type byte, with no length field at all.

// wrapReadErr classifies transport failures during a pending read. A
// clean remote close is a connection-closed database error; anything
// else is operational. Partial data is never returned.
func wrapReadErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return bterrors.NewConnClosed("connection closed by server")
	}
	return bterrors.Wrap(bterrors.KindOperational, err, "read failed")
}

// readN blocks until exactly n bytes have accumulated and returns them.
func (c *Conn) readN(n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.bufferedReader, buf); err != nil {
		return nil, wrapReadErr(err)
	}
	return buf, nil
}

// readControlByte reads a single-byte handshake control response.
func (c *Conn) readControlByte() (byte, error) {
	b, err := c.bufferedReader.ReadByte()
	if err != nil {
		return 0, wrapReadErr(err)
	}
	return b, nil
}

// readUint32 reads a 4-byte big-endian integer.
func (c *Conn) readUint32() (uint32, error) {
	buf, err := c.readN(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf), nil
}

// readMessage reads one message-phase frame. For the authentication
// request the returned body is the 4-byte code; for everything else it
// is the declared payload.
func (c *Conn) readMessage() (byte, []byte, error) {
	msgType, err := c.bufferedReader.ReadByte()
	if err != nil {
		return 0, nil, wrapReadErr(err)
	}

	// Authentication requests carry no length field.
	if msgType == protocol.MsgAuthRequest {
		body, err := c.readN(4)
		if err != nil {
			return 0, nil, err
		}
		return msgType, body, nil
	}

	// Reserved word. Unused by this client.
	if _, err := c.readN(4); err != nil {
		return 0, nil, err
	}

	length, err := c.readUint32()
	if err != nil {
		return 0, nil, err
	}
	body, err := c.readN(int(length))
	if err != nil {
		return 0, nil, err
	}
	return msgType, body, nil
}

// writeMessageNoFlush writes one message-phase frame without flushing.
func (c *Conn) writeMessageNoFlush(msgType byte, body []byte) error {
	var header [9]byte
	header[0] = msgType
	// header[1:5] is the reserved word, always zero on the client side.
	binary.BigEndian.PutUint32(header[5:], uint32(len(body)))
	if _, err := c.bufferedWriter.Write(header[:]); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := c.bufferedWriter.Write(body); err != nil {
			return err
		}
	}
	return nil
}

// writeMessage writes one message-phase frame and flushes it.
func (c *Conn) writeMessage(msgType byte, body []byte) error {
	if err := c.writeMessageNoFlush(msgType, body); err != nil {
		return err
	}
	return c.flush()
}

// writeHandshakePacket writes one handshake-phase frame: a 4-byte length
// including itself, then the packet body.
func (c *Conn) writeHandshakePacket(body []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(4+len(body)))
	if _, err := c.bufferedWriter.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := c.bufferedWriter.Write(body); err != nil {
		return err
	}
	return c.flush()
}

// Handshake field helpers. Fields are opcode-tagged; the fixed shapes
// are pure opcode (2 bytes), opcode+int16 (4), opcode+2*int16 (6),
// opcode+int32 (6), and opcode+nul-terminated string.

func (c *Conn) writeFieldOpcode(opcode int16) error {
	w := NewMessageWriter()
	w.WriteInt16(opcode)
	return c.writeHandshakePacket(w.Bytes())
}

func (c *Conn) writeFieldInt16(opcode, value int16) error {
	w := NewMessageWriter()
	w.WriteInt16(opcode)
	w.WriteInt16(value)
	return c.writeHandshakePacket(w.Bytes())
}

func (c *Conn) writeFieldInt16Pair(opcode, a, b int16) error {
	w := NewMessageWriter()
	w.WriteInt16(opcode)
	w.WriteInt16(a)
	w.WriteInt16(b)
	return c.writeHandshakePacket(w.Bytes())
}

func (c *Conn) writeFieldInt32(opcode int16, value int32) error {
	w := NewMessageWriter()
	w.WriteInt16(opcode)
	w.WriteInt32(value)
	return c.writeHandshakePacket(w.Bytes())
}

func (c *Conn) writeFieldString(opcode int16, value string) error {
	w := NewMessageWriter()
	w.WriteInt16(opcode)
	w.WriteString(value)
	return c.writeHandshakePacket(w.Bytes())
}

// MessageReader provides helper methods for parsing message bodies.
type MessageReader struct {
	buf []byte
	pos int
}

// NewMessageReader creates a reader over the given buffer.
func NewMessageReader(buf []byte) *MessageReader {
	return &MessageReader{buf: buf}
}

// Remaining returns the number of unread bytes.
func (r *MessageReader) Remaining() int {
	return len(r.buf) - r.pos
}

// ReadByte reads a single byte.
func (r *MessageReader) ReadByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, io.EOF
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// ReadUint16 reads a 16-bit unsigned integer in network byte order.
func (r *MessageReader) ReadUint16() (uint16, error) {
	if r.pos+2 > len(r.buf) {
		return 0, io.EOF
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

// ReadUint32 reads a 32-bit unsigned integer in network byte order.
func (r *MessageReader) ReadUint32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, io.EOF
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

// ReadInt16 reads a 16-bit signed integer in network byte order.
func (r *MessageReader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

// ReadInt32 reads a 32-bit signed integer in network byte order.
func (r *MessageReader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

// ReadString reads a null-terminated string.
func (r *MessageReader) ReadString() (string, error) {
	start := r.pos
	for r.pos < len(r.buf) {
		if r.buf[r.pos] == 0 {
			s := string(r.buf[start:r.pos])
			r.pos++
			return s, nil
		}
		r.pos++
	}
	return "", io.EOF
}

// ReadBytes reads n bytes.
func (r *MessageReader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, io.EOF
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// MessageWriter provides helper methods for building packet bodies.
type MessageWriter struct {
	buf []byte
}

// NewMessageWriter creates an empty message writer.
func NewMessageWriter() *MessageWriter {
	return &MessageWriter{buf: make([]byte, 0, 128)}
}

// Bytes returns the accumulated bytes.
func (w *MessageWriter) Bytes() []byte {
	return w.buf
}

// WriteByte appends a single byte.
func (w *MessageWriter) WriteByte(b byte) {
	w.buf = append(w.buf, b)
}

// WriteBytes appends raw bytes.
func (w *MessageWriter) WriteBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// WriteUint16 appends a 16-bit unsigned integer in network byte order.
func (w *MessageWriter) WriteUint16(v uint16) {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	w.buf = append(w.buf, buf[:]...)
}

// WriteUint32 appends a 32-bit unsigned integer in network byte order.
func (w *MessageWriter) WriteUint32(v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	w.buf = append(w.buf, buf[:]...)
}

// WriteInt16 appends a 16-bit signed integer in network byte order.
func (w *MessageWriter) WriteInt16(v int16) {
	w.WriteUint16(uint16(v))
}

// WriteInt32 appends a 32-bit signed integer in network byte order.
func (w *MessageWriter) WriteInt32(v int32) {
	w.WriteUint32(uint32(v))
}

// WriteString appends a null-terminated string.
func (w *MessageWriter) WriteString(s string) {
	w.buf = append(w.buf, []byte(s)...)
	w.buf = append(w.buf, 0)
}

// protocolViolation builds the error for an unexpected byte at a point
// where the protocol admits no interpretation.
func protocolViolation(context string, got byte) error {
	return bterrors.Errorf(bterrors.KindOperational,
		"protocol violation during %s: unexpected byte %q (0x%02x)", context, got, got)
}
