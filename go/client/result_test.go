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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoColumnResult() *Result {
	return &Result{
		Fields: []FieldDescription{
			{Name: "id", Position: 1},
			{Name: "name", Position: 2},
		},
		Rows: [][]any{
			{int64(1), "alpha"},
			{int64(2), nil},
		},
	}
}

func TestShapeNamed(t *testing.T) {
	r := twoColumnResult()
	r.shape(RowsNamed)

	assert.Nil(t, r.Rows)
	require.Len(t, r.NamedRows, 2)
	assert.Equal(t, map[string]any{"id": int64(1), "name": "alpha"}, r.NamedRows[0])
	assert.Equal(t, map[string]any{"id": int64(2), "name": nil}, r.NamedRows[1])
	assert.Equal(t, 2, r.Len())
}

func TestShapePositionalKeepsRows(t *testing.T) {
	r := twoColumnResult()
	r.shape(RowsPositional)

	assert.Nil(t, r.NamedRows)
	require.Len(t, r.Rows, 2)
	assert.Equal(t, []any{int64(1), "alpha"}, r.Rows[0])
	assert.Equal(t, 2, r.Len())
}

func TestShapeNamedDuplicateColumnsLastWins(t *testing.T) {
	r := &Result{
		Fields: []FieldDescription{
			{Name: "v", Position: 1},
			{Name: "v", Position: 2},
		},
		Rows: [][]any{{int64(1), int64(2)}},
	}
	r.shape(RowsNamed)

	require.Len(t, r.NamedRows, 1)
	assert.Equal(t, map[string]any{"v": int64(2)}, r.NamedRows[0])
}

func TestScanStruct(t *testing.T) {
	r := twoColumnResult()
	r.shape(RowsNamed)

	type record struct {
		ID   int64
		Name string
	}

	var rec record
	require.NoError(t, r.ScanStruct(0, &rec))
	assert.Equal(t, int64(1), rec.ID)
	assert.Equal(t, "alpha", rec.Name)
}

func TestScanStructWeakTyping(t *testing.T) {
	r := &Result{
		Fields: []FieldDescription{{Name: "count", Position: 1}},
		Rows:   [][]any{{"17"}},
	}
	r.shape(RowsNamed)

	var rec struct{ Count int }
	require.NoError(t, r.ScanStruct(0, &rec))
	assert.Equal(t, 17, rec.Count)
}

func TestScanStructErrors(t *testing.T) {
	positional := twoColumnResult()
	positional.shape(RowsPositional)

	var rec struct{ ID int64 }
	assert.Error(t, positional.ScanStruct(0, &rec))

	named := twoColumnResult()
	named.shape(RowsNamed)
	assert.Error(t, named.ScanStruct(5, &rec))
	assert.Error(t, named.ScanStruct(-1, &rec))
}
