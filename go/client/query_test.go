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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basaltdb/basalt-go/go/bterrors"
	"github.com/basaltdb/basalt-go/go/sqltypes"
)

func TestParseRowCount(t *testing.T) {
	tests := []struct {
		tag      string
		expected int64
		ok       bool
	}{
		{"SELECT 5", 5, true},
		{"SELECT 0", 0, true},
		{"INSERT 0 1", 1, true},
		{"INSERT 0 10", 10, true},
		{"UPDATE 3", 3, true},
		{"DELETE 7", 7, true},
		{"CREATE TABLE", 0, false},
		{"COMMIT", 0, false},
		{"SELECT ", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			count, ok := parseRowCount(tt.tag)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, count)
		})
	}
}

func TestParseRowDescription(t *testing.T) {
	w := NewMessageWriter()
	w.WriteInt16(2)

	w.WriteString("ID") // names are case-folded
	w.WriteUint32(sqltypes.OidInt4)
	w.WriteInt16(4)
	w.WriteInt32(-1)
	w.WriteInt16(0)

	w.WriteString("name")
	w.WriteUint32(sqltypes.OidText)
	w.WriteInt16(-1)
	w.WriteInt32(-1)
	w.WriteInt16(0)

	result := &Result{}
	require.NoError(t, result.parseRowDescription(w.Bytes()))
	require.Len(t, result.Fields, 2)

	assert.Equal(t, "id", result.Fields[0].Name)
	assert.Equal(t, uint32(sqltypes.OidInt4), result.Fields[0].TypeOID)
	assert.Equal(t, int16(4), result.Fields[0].TypeSize)
	assert.Equal(t, 1, result.Fields[0].Position)

	assert.Equal(t, "name", result.Fields[1].Name)
	assert.Equal(t, uint32(sqltypes.OidText), result.Fields[1].TypeOID)
	assert.Equal(t, 2, result.Fields[1].Position)
}

func TestParseRowDescriptionTruncated(t *testing.T) {
	w := NewMessageWriter()
	w.WriteInt16(1)
	w.WriteString("id")
	// Missing everything after the name.

	result := &Result{}
	assert.Error(t, result.parseRowDescription(w.Bytes()))
}

func makeFields(oids ...uint32) []FieldDescription {
	fields := make([]FieldDescription, len(oids))
	for i, oid := range oids {
		fields[i] = FieldDescription{Name: "c", TypeOID: oid, Position: i + 1}
	}
	return fields
}

func TestDecodeDataRow(t *testing.T) {
	c, _ := testConn(nil)
	fields := makeFields(sqltypes.OidInt4, sqltypes.OidText, sqltypes.OidText)

	// Bitmap 10100000: columns 0 and 2 present, column 1 null.
	w := NewMessageWriter()
	w.WriteByte(0xA0)
	w.WriteInt32(4 + 2)
	w.WriteBytes([]byte("42"))
	w.WriteInt32(4 + 5)
	w.WriteBytes([]byte("hello"))

	row, err := c.decodeDataRow(w.Bytes(), fields)
	require.NoError(t, err)
	require.Len(t, row, 3)
	assert.Equal(t, int64(42), row[0])
	assert.Nil(t, row[1])
	assert.Equal(t, "hello", row[2])
}

func TestDecodeDataRowAllNull(t *testing.T) {
	c, _ := testConn(nil)
	fields := makeFields(sqltypes.OidText, sqltypes.OidText)

	row, err := c.decodeDataRow([]byte{0x00}, fields)
	require.NoError(t, err)
	assert.Equal(t, []any{nil, nil}, row)
}

func TestDecodeDataRowWideBitmap(t *testing.T) {
	c, _ := testConn(nil)

	// Nine text columns need two bitmap bytes; only the last column is
	// present.
	fields := makeFields(
		sqltypes.OidText, sqltypes.OidText, sqltypes.OidText,
		sqltypes.OidText, sqltypes.OidText, sqltypes.OidText,
		sqltypes.OidText, sqltypes.OidText, sqltypes.OidText,
	)

	w := NewMessageWriter()
	w.WriteByte(0x00)
	w.WriteByte(0x80)
	w.WriteInt32(4 + 1)
	w.WriteBytes([]byte("x"))

	row, err := c.decodeDataRow(w.Bytes(), fields)
	require.NoError(t, err)
	require.Len(t, row, 9)
	for i := range 8 {
		assert.Nil(t, row[i])
	}
	assert.Equal(t, "x", row[8])
}

func TestDecodeDataRowBadLength(t *testing.T) {
	c, _ := testConn(nil)
	fields := makeFields(sqltypes.OidText)

	w := NewMessageWriter()
	w.WriteByte(0x80)
	w.WriteInt32(2) // length below the mandatory 4

	_, err := c.decodeDataRow(w.Bytes(), fields)
	assert.Error(t, err)
}

func TestDecodeDataRowWithoutDescription(t *testing.T) {
	c, _ := testConn(nil)
	_, err := c.decodeDataRow([]byte{0x80}, nil)
	assert.Error(t, err)
}

func TestDecodeDataRowConversionFallsBackToText(t *testing.T) {
	c, _ := testConn(nil)
	fields := makeFields(sqltypes.OidInt4)

	w := NewMessageWriter()
	w.WriteByte(0x80)
	w.WriteInt32(4 + 9)
	w.WriteBytes([]byte("not-a-int"))

	row, err := c.decodeDataRow(w.Bytes(), fields)
	require.NoError(t, err)
	assert.Equal(t, "not-a-int", row[0])
}

func TestParseServerError(t *testing.T) {
	w := NewMessageWriter()
	w.WriteByte(errFieldSeverity)
	w.WriteString("ERROR")
	w.WriteByte(errFieldCode)
	w.WriteString("42P01")
	w.WriteByte(errFieldMessage)
	w.WriteString("relation \"foo\" does not exist")
	w.WriteByte(errFieldDetail)
	w.WriteString("some detail")
	w.WriteByte(errFieldHint)
	w.WriteString("check the name")
	w.WriteByte(0)

	err := parseServerError(w.Bytes())
	require.Error(t, err)
	assert.Equal(t, bterrors.KindDatabase, bterrors.KindOf(err))

	var srvErr *ServerError
	require.True(t, errors.As(err, &srvErr))
	assert.Equal(t, "ERROR", srvErr.Severity)
	assert.Equal(t, "42P01", srvErr.Code)
	assert.Equal(t, "relation \"foo\" does not exist", srvErr.Message)
	assert.Equal(t, "some detail", srvErr.Detail)
	assert.Equal(t, "check the name", srvErr.Hint)
	assert.Contains(t, srvErr.Error(), "42P01")
	assert.Contains(t, srvErr.Error(), "DETAIL")
}
