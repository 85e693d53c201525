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

package sqltypes

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertDefaults(t *testing.T) {
	r := NewRegistry(RawOptions{})

	tests := []struct {
		name     string
		oid      uint32
		data     string
		expected any
	}{
		{"bool true", OidBool, "t", true},
		{"bool false", OidBool, "f", false},
		{"int2", OidInt2, "-7", int64(-7)},
		{"int4", OidInt4, "42", int64(42)},
		{"float4", OidFloat4, "1.5", 1.5},
		{"float8", OidFloat8, "-2.25", -2.25},
		{"numeric", OidNumeric, "10.01", 10.01},
		{"text", OidText, "hello", "hello"},
		{"varchar", OidVarchar, "v", "v"},
		{"unregistered oid", 99999, "anything", "anything"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Convert(tt.oid, []byte(tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestConvertBigintLosesPrecisionByDefault(t *testing.T) {
	r := NewRegistry(RawOptions{})

	// 2^53+1 is not representable as a float64.
	got, err := r.Convert(OidInt8, []byte("9007199254740993"))
	require.NoError(t, err)
	require.IsType(t, float64(0), got)
	assert.Equal(t, float64(9007199254740992), got)
}

func TestConvertRawBigintKeepsText(t *testing.T) {
	r := NewRegistry(RawOptions{Bigint: true})

	got, err := r.Convert(OidInt8, []byte("9007199254740993"))
	require.NoError(t, err)
	assert.Equal(t, "9007199254740993", got)
}

func TestConvertDate(t *testing.T) {
	r := NewRegistry(RawOptions{})

	got, err := r.Convert(OidDate, []byte("2024-03-15"))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), got)

	raw := NewRegistry(RawOptions{Date: true})
	got, err = raw.Convert(OidDate, []byte("2024-03-15"))
	require.NoError(t, err)
	assert.Equal(t, "2024-03-15", got)
}

func TestConvertTimestampLayouts(t *testing.T) {
	r := NewRegistry(RawOptions{})

	for _, s := range []string{
		"2024-03-15 10:30:00",
		"2024-03-15 10:30:00.123456",
	} {
		got, err := r.Convert(OidTimestamp, []byte(s))
		require.NoError(t, err, s)
		ts, ok := got.(time.Time)
		require.True(t, ok)
		assert.Equal(t, 2024, ts.Year())
		assert.Equal(t, 30, ts.Minute())
	}

	_, err := r.Convert(OidTimestamp, []byte("yesterday"))
	assert.Error(t, err)
}

func TestConvertBytea(t *testing.T) {
	r := NewRegistry(RawOptions{})

	data := []byte{0x01, 0x02}
	got, err := r.Convert(OidBytea, data)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, got)

	// The conversion must not alias the wire buffer.
	data[0] = 0xFF
	assert.Equal(t, []byte{0x01, 0x02}, got)
}

func TestConvertErrors(t *testing.T) {
	r := NewRegistry(RawOptions{})

	_, err := r.Convert(OidBool, []byte("maybe"))
	assert.Error(t, err)

	_, err = r.Convert(OidInt4, []byte("abc"))
	assert.Error(t, err)
}

func TestRegisterOverride(t *testing.T) {
	r := NewRegistry(RawOptions{})
	r.Register(OidInt4, func(data []byte) (any, error) {
		return "custom:" + string(data), nil
	})

	got, err := r.Convert(OidInt4, []byte("5"))
	require.NoError(t, err)
	assert.Equal(t, "custom:5", got)
}
