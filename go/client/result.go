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
	"github.com/mitchellh/mapstructure"

	"github.com/basaltdb/basalt-go/go/bterrors"
)

// FieldDescription describes one result column. It lives for the
// duration of one result set.
type FieldDescription struct {
	// Name is the case-folded column name.
	Name string

	// TypeOID identifies the column type in the catalog.
	TypeOID uint32

	// TypeSize is the declared size, or -1 for variable-length types.
	TypeSize int16

	// TypeModifier carries type-specific data such as varchar length.
	TypeModifier int32

	// Format is the wire format code of the values.
	Format int16

	// Position is the 1-based ordinal position of the column.
	Position int
}

// Result is the outcome of one executed statement. It is immutable once
// returned. Exactly one of Rows and NamedRows is populated, per the
// connection's RowShape.
type Result struct {
	// Fields describes the result columns, in order.
	Fields []FieldDescription

	// Rows holds positional rows. Duplicate column names are preserved.
	Rows [][]any

	// NamedRows holds rows keyed by case-folded column name. Duplicate
	// column names collapse; the last value wins.
	NamedRows []map[string]any

	// RowCount is the affected/returned row count from the server's
	// command completion, falling back to the number of accumulated
	// rows.
	RowCount int64

	// Command is the server's command tag, if any.
	Command string
}

// Len returns the number of rows in the result.
func (r *Result) Len() int {
	if r.NamedRows != nil {
		return len(r.NamedRows)
	}
	return len(r.Rows)
}

// ScanStruct decodes row i of a named-shape result into dest, matching
// struct fields to column names case-insensitively.
func (r *Result) ScanStruct(i int, dest any) error {
	if r.NamedRows == nil {
		return bterrors.New(bterrors.KindInterface,
			"ScanStruct requires the named row shape")
	}
	if i < 0 || i >= len(r.NamedRows) {
		return bterrors.Errorf(bterrors.KindInterface,
			"row index %d out of range (%d rows)", i, len(r.NamedRows))
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           dest,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return bterrors.Wrap(bterrors.KindInterface, err, "invalid scan destination")
	}
	if err := dec.Decode(r.NamedRows[i]); err != nil {
		return bterrors.Wrap(bterrors.KindInterface, err, "scan failed")
	}
	return nil
}

// shape converts the accumulated positional rows into the configured
// row shape.
func (r *Result) shape(shape RowShape) {
	if shape != RowsNamed {
		return
	}
	r.NamedRows = make([]map[string]any, len(r.Rows))
	for i, row := range r.Rows {
		named := make(map[string]any, len(r.Fields))
		for j, field := range r.Fields {
			named[field.Name] = row[j]
		}
		r.NamedRows[i] = named
	}
	r.Rows = nil
}
