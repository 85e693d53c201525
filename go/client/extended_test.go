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
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubstituteMarkers(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		expected string
		markers  int
	}{
		{
			"no placeholders",
			"SELECT 1",
			"SELECT 1",
			0,
		},
		{
			"single placeholder",
			"SELECT * FROM t WHERE id = ?",
			"SELECT * FROM t WHERE id = $1",
			1,
		},
		{
			"multiple placeholders",
			"INSERT INTO t VALUES (?, ?, ?)",
			"INSERT INTO t VALUES ($1, $2, $3)",
			3,
		},
		{
			"placeholder inside string literal untouched",
			"SELECT * FROM t WHERE a = '?' AND b = ?",
			"SELECT * FROM t WHERE a = '?' AND b = $1",
			1,
		},
		{
			"placeholder inside quoted identifier untouched",
			`SELECT "a?b" FROM t WHERE c = ?`,
			`SELECT "a?b" FROM t WHERE c = $1`,
			1,
		},
		{
			"placeholder inside line comment untouched",
			"SELECT ? -- was it ?\n FROM t",
			"SELECT $1 -- was it ?\n FROM t",
			1,
		},
		{
			"question mark after closed string",
			"SELECT 'x' || ?",
			"SELECT 'x' || $1",
			1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, n := substituteMarkers(tt.sql)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, tt.markers, n)
		})
	}
}

func TestEncodeParameter(t *testing.T) {
	ts := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		arg      any
		expected string
	}{
		{"string", "hello", "hello"},
		{"bytes", []byte("raw"), "raw"},
		{"bool true", true, "t"},
		{"bool false", false, "f"},
		{"int", 42, "42"},
		{"int32", int32(-7), "-7"},
		{"int64", int64(1 << 40), "1099511627776"},
		{"float64", 1.5, "1.5"},
		{"time", ts, "2024-03-15 10:30:00+00"},
		{"fallback", uint16(9), "9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(encodeParameter(tt.arg)))
		})
	}
}
