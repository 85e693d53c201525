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
	"strconv"
	"strings"
	"time"

	"github.com/basaltdb/basalt-go/go/bterrors"
	"github.com/basaltdb/basalt-go/go/protocol"
)

// extendedQuery runs the staged parse/bind/describe/execute/sync
// exchange against the unnamed statement and unnamed portal, with all
// parameters text-encoded.
func (c *Conn) extendedQuery(ctx context.Context, sql string, args []any) (*Result, error) {
	rewritten, markers := substituteMarkers(sql)
	if markers != len(args) {
		return nil, bterrors.Errorf(bterrors.KindInterface,
			"query has %d placeholders but %d parameters were supplied", markers, len(args))
	}
	c.debugf("staged query: %s (%d params)", rewritten, len(args))

	// Parse: unnamed statement, no declared parameter types.
	w := NewMessageWriter()
	w.WriteString("") // statement name
	w.WriteString(rewritten)
	w.WriteInt16(0)
	if err := c.writeMessageNoFlush(protocol.MsgParse, w.Bytes()); err != nil {
		return nil, bterrors.Wrap(bterrors.KindOperational, err, "failed to write parse")
	}

	// Bind: unnamed portal over the unnamed statement. A nil parameter
	// encodes as length -1 with no payload.
	w = NewMessageWriter()
	w.WriteString("") // portal name
	w.WriteString("") // statement name
	w.WriteInt16(0)   // parameter format codes: all text
	w.WriteInt16(int16(len(args)))
	for _, arg := range args {
		if arg == nil {
			w.WriteInt32(-1)
			continue
		}
		encoded := encodeParameter(arg)
		w.WriteInt32(int32(len(encoded)))
		w.WriteBytes(encoded)
	}
	w.WriteInt16(0) // result format codes: all text
	if err := c.writeMessageNoFlush(protocol.MsgBind, w.Bytes()); err != nil {
		return nil, bterrors.Wrap(bterrors.KindOperational, err, "failed to write bind")
	}

	// Describe the unnamed portal.
	w = NewMessageWriter()
	w.WriteByte('P')
	w.WriteString("")
	if err := c.writeMessageNoFlush(protocol.MsgDescribe, w.Bytes()); err != nil {
		return nil, bterrors.Wrap(bterrors.KindOperational, err, "failed to write describe")
	}

	// Execute with no row limit.
	w = NewMessageWriter()
	w.WriteString("")
	w.WriteInt32(0)
	if err := c.writeMessageNoFlush(protocol.MsgExecute, w.Bytes()); err != nil {
		return nil, bterrors.Wrap(bterrors.KindOperational, err, "failed to write execute")
	}

	if err := c.writeMessageNoFlush(protocol.MsgSync, nil); err != nil {
		return nil, bterrors.Wrap(bterrors.KindOperational, err, "failed to write sync")
	}
	if err := c.flush(); err != nil {
		return nil, bterrors.Wrap(bterrors.KindOperational, err, "failed to flush staged query")
	}

	return c.readQueryResponses(ctx, true)
}

// substituteMarkers rewrites ? placeholders into positional $n markers,
// returning the rewritten SQL and the number of markers emitted. The
// substitution is lexical: placeholders inside single-quoted strings,
// double-quoted identifiers, and line comments are left untouched. It
// is not a SQL parser.
func substituteMarkers(sql string) (string, int) {
	var b strings.Builder
	b.Grow(len(sql) + 8)

	n := 0
	inString := false
	inIdent := false
	inComment := false
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		switch {
		case inComment:
			if ch == '\n' {
				inComment = false
			}
		case inString:
			if ch == '\'' {
				inString = false
			}
		case inIdent:
			if ch == '"' {
				inIdent = false
			}
		case ch == '\'':
			inString = true
		case ch == '"':
			inIdent = true
		case ch == '-' && i+1 < len(sql) && sql[i+1] == '-':
			inComment = true
		case ch == '?':
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(ch)
	}
	return b.String(), n
}

// encodeParameter renders one parameter value as text.
func encodeParameter(arg any) []byte {
	switch v := arg.(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	case bool:
		if v {
			return []byte("t")
		}
		return []byte("f")
	case int:
		return strconv.AppendInt(nil, int64(v), 10)
	case int32:
		return strconv.AppendInt(nil, int64(v), 10)
	case int64:
		return strconv.AppendInt(nil, v, 10)
	case float32:
		return strconv.AppendFloat(nil, float64(v), 'g', -1, 32)
	case float64:
		return strconv.AppendFloat(nil, v, 'g', -1, 64)
	case time.Time:
		return []byte(v.Format("2006-01-02 15:04:05.999999-07"))
	default:
		return fmt.Appendf(nil, "%v", v)
	}
}
