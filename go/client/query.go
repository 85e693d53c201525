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
	"context"
	"fmt"
	"strings"

	"github.com/basaltdb/basalt-go/go/bterrors"
	"github.com/basaltdb/basalt-go/go/protocol"
)

// Execute runs a statement and returns its result. Without args the
// simple sub-protocol sends the SQL verbatim; with args each ?
// placeholder is replaced by a numbered marker and the staged
// parse/bind/describe/execute/sync exchange is used.
func (c *Conn) Execute(ctx context.Context, sql string, args ...any) (*Result, error) {
	if c.IsClosed() {
		return nil, bterrors.New(bterrors.KindInterface, "execute on closed connection")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.beginRead(ctx)

	if len(args) == 0 {
		return c.simpleQuery(ctx, sql)
	}
	return c.extendedQuery(ctx, sql, args)
}

// simpleQuery sends the SQL as a single query message and consumes the
// response stream.
func (c *Conn) simpleQuery(ctx context.Context, sql string) (*Result, error) {
	c.debugf("simple query: %s", sql)
	w := NewMessageWriter()
	w.WriteString(sql)
	if err := c.writeMessage(protocol.MsgQuery, w.Bytes()); err != nil {
		return nil, bterrors.Wrap(bterrors.KindOperational, err, "failed to send query")
	}
	return c.readQueryResponses(ctx, false)
}

// readQueryResponses consumes messages until ReadyForQuery. The
// transaction status carried by ReadyForQuery is always recorded before
// returning, including on the error path.
func (c *Conn) readQueryResponses(ctx context.Context, extended bool) (*Result, error) {
	result := &Result{}
	var (
		srvErr        error
		gotParseDone  bool
		gotBindDone   bool
		gotCountInTag bool
	)

	for {
		select {
		case <-ctx.Done():
			return nil, bterrors.Wrap(bterrors.KindOperational, ctx.Err(), "query aborted")
		default:
		}

		msgType, body, err := c.readMessage()
		if err != nil {
			return nil, err
		}

		switch msgType {
		case protocol.MsgRowDescription:
			if err := result.parseRowDescription(body); err != nil {
				return nil, err
			}

		case protocol.MsgDataRow:
			if srvErr != nil {
				continue
			}
			row, err := c.decodeDataRow(body, result.Fields)
			if err != nil {
				return nil, err
			}
			result.Rows = append(result.Rows, row)

		case protocol.MsgCommandComplete:
			tag, err := NewMessageReader(body).ReadString()
			if err != nil {
				return nil, bterrors.Wrap(bterrors.KindOperational, err, "bad command completion")
			}
			result.Command = tag
			result.RowCount, gotCountInTag = parseRowCount(tag)

		case protocol.MsgEmptyQueryResponse:
			// Nothing to record.

		case protocol.MsgParseComplete:
			gotParseDone = true

		case protocol.MsgBindComplete:
			gotBindDone = true

		case protocol.MsgCloseComplete, protocol.MsgNoData, protocol.MsgPortalSuspended:
			// No result material.

		case protocol.MsgNoticeResponse:
			c.debugf("notice: %s", body)

		case protocol.MsgErrorResponse:
			// Record and keep draining so the session stays usable.
			srvErr = parseServerError(body)

		case protocol.MsgReadyForQuery:
			if len(body) < 1 {
				return nil, bterrors.New(bterrors.KindOperational, "short ready-for-query message")
			}
			c.txnStatus = body[0]
			if srvErr != nil {
				return nil, srvErr
			}
			if extended && (!gotParseDone || !gotBindDone) {
				return nil, bterrors.New(bterrors.KindOperational,
					"staged query did not complete parse and bind")
			}
			if !gotCountInTag {
				result.RowCount = int64(len(result.Rows))
			}
			result.shape(c.config.RowShape)
			return result, nil

		default:
			return nil, protocolViolation("query response", msgType)
		}
	}
}

// parseRowDescription parses a row description message into Fields.
func (result *Result) parseRowDescription(body []byte) error {
	r := NewMessageReader(body)
	count, err := r.ReadInt16()
	if err != nil {
		return bterrors.Wrap(bterrors.KindOperational, err, "bad row description")
	}

	result.Fields = make([]FieldDescription, count)
	for i := range result.Fields {
		f := &result.Fields[i]

		name, err := r.ReadString()
		if err != nil {
			return bterrors.Wrap(bterrors.KindOperational, err, "bad row description")
		}
		f.Name = strings.ToLower(name)

		if f.TypeOID, err = r.ReadUint32(); err != nil {
			return bterrors.Wrap(bterrors.KindOperational, err, "bad row description")
		}
		if f.TypeSize, err = r.ReadInt16(); err != nil {
			return bterrors.Wrap(bterrors.KindOperational, err, "bad row description")
		}
		if f.TypeModifier, err = r.ReadInt32(); err != nil {
			return bterrors.Wrap(bterrors.KindOperational, err, "bad row description")
		}
		if f.Format, err = r.ReadInt16(); err != nil {
			return bterrors.Wrap(bterrors.KindOperational, err, "bad row description")
		}
		f.Position = i + 1
	}
	return nil
}

// decodeDataRow decodes one bitmap-prefixed data row. The row starts
// with ceil(columns/8) presence bytes, most-significant bit first; a 0
// bit is a null column contributing no further bytes, a 1 bit is
// followed by an int32 length (including itself) and the value bytes.
func (c *Conn) decodeDataRow(body []byte, fields []FieldDescription) ([]any, error) {
	if len(fields) == 0 {
		return nil, bterrors.New(bterrors.KindOperational, "data row before row description")
	}

	r := NewMessageReader(body)
	bitmap, err := r.ReadBytes((len(fields) + 7) / 8)
	if err != nil {
		return nil, bterrors.Wrap(bterrors.KindOperational, err, "short row bitmap")
	}

	row := make([]any, len(fields))
	for i, field := range fields {
		if bitmap[i/8]&(0x80>>(i%8)) == 0 {
			row[i] = nil
			continue
		}

		length, err := r.ReadInt32()
		if err != nil || length < 4 {
			return nil, bterrors.Errorf(bterrors.KindOperational,
				"bad value length for column %q", field.Name)
		}
		data, err := r.ReadBytes(int(length - 4))
		if err != nil {
			return nil, bterrors.Errorf(bterrors.KindOperational,
				"short value for column %q", field.Name)
		}

		value, err := c.config.Types.Convert(field.TypeOID, data)
		if err != nil {
			// A single bad value degrades to its text rendering rather
			// than aborting the row.
			c.debugf("conversion failed for column %q: %v", field.Name, err)
			value = string(data)
		}
		row[i] = value
	}
	return row, nil
}

// parseRowCount extracts the trailing integer of a command tag, e.g.
// "SELECT 5" or "INSERT 0 1". The second return is false when the tag
// carries no count.
func parseRowCount(tag string) (int64, bool) {
	idx := strings.LastIndexByte(tag, ' ')
	if idx < 0 {
		return 0, false
	}
	var count int64
	for _, ch := range tag[idx+1:] {
		if ch < '0' || ch > '9' {
			return 0, false
		}
		count = count*10 + int64(ch-'0')
	}
	if idx+1 == len(tag) {
		return 0, false
	}
	return count, true
}

// ServerError is a failure reported by the server in an error response
// message.
type ServerError struct {
	Severity string
	Code     string
	Message  string
	Detail   string
	Hint     string
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)\nDETAIL: %s", e.Severity, e.Message, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Severity, e.Message, e.Code)
}

// Error response field codes.
const (
	errFieldSeverity = 'S'
	errFieldCode     = 'C'
	errFieldMessage  = 'M'
	errFieldDetail   = 'D'
	errFieldHint     = 'H'
)

// parseServerError parses an error response body into a database-kind
// error.
func parseServerError(body []byte) error {
	r := NewMessageReader(body)
	srvErr := &ServerError{}

	for r.Remaining() > 0 {
		fieldType, err := r.ReadByte()
		if err != nil || fieldType == 0 {
			break
		}
		value, err := r.ReadString()
		if err != nil {
			break
		}
		switch fieldType {
		case errFieldSeverity:
			srvErr.Severity = value
		case errFieldCode:
			srvErr.Code = value
		case errFieldMessage:
			srvErr.Message = value
		case errFieldDetail:
			srvErr.Detail = value
		case errFieldHint:
			srvErr.Hint = value
		}
	}

	return bterrors.Classify(bterrors.KindDatabase, srvErr)
}
