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

// Package sqltypes converts Basalt wire values into Go values.
//
// Conversion behavior is keyed by the column's type OID and held in an
// explicit Registry rather than a package-level table, so callers can
// override individual types without global mutable state.
package sqltypes

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Built-in Basalt type OIDs. The catalog inherits the PostgreSQL
// numbering for the scalar types it supports.
const (
	OidBool        = 16
	OidBytea       = 17
	OidChar        = 18
	OidName        = 19
	OidInt8        = 20
	OidInt2        = 21
	OidInt4        = 23
	OidText        = 25
	OidUnknown     = 705
	OidFloat4      = 700
	OidFloat8      = 701
	OidBpchar      = 1042
	OidVarchar     = 1043
	OidDate        = 1082
	OidTime        = 1083
	OidTimestamp   = 1114
	OidTimestampTz = 1184
	OidInterval    = 1186
	OidNumeric     = 1700
)

// Converter turns the text rendering of one wire value into a Go value.
type Converter func(data []byte) (any, error)

// RawOptions disables native conversion per scalar kind. When a flag is
// set the value is returned as its exact text rendering instead of a Go
// numeric or time type.
type RawOptions struct {
	// Bigint keeps int8 values as strings. When off, int8 converts to
	// float64 and values beyond 2^53 lose precision.
	Bigint bool

	// Date keeps date values as strings instead of time.Time.
	Date bool

	// Timestamp keeps timestamp values as strings instead of time.Time.
	Timestamp bool

	// Numeric keeps numeric values as strings instead of float64.
	Numeric bool
}

// Registry maps type OIDs to converters.
type Registry struct {
	converters map[uint32]Converter
}

// NewRegistry returns a registry holding the default conversion table,
// adjusted for the given raw overrides.
func NewRegistry(raw RawOptions) *Registry {
	r := &Registry{converters: make(map[uint32]Converter)}

	r.Register(OidBool, convertBool)
	r.Register(OidBytea, convertBytea)
	r.Register(OidInt2, convertInt)
	r.Register(OidInt4, convertInt)
	r.Register(OidFloat4, convertFloat)
	r.Register(OidFloat8, convertFloat)

	if raw.Bigint {
		r.Register(OidInt8, convertString)
	} else {
		// Deliberately lossy above 2^53; see RawOptions.Bigint.
		r.Register(OidInt8, convertFloat)
	}

	if raw.Numeric {
		r.Register(OidNumeric, convertString)
	} else {
		r.Register(OidNumeric, convertFloat)
	}

	if raw.Date {
		r.Register(OidDate, convertString)
	} else {
		r.Register(OidDate, convertDate)
	}

	if raw.Timestamp {
		r.Register(OidTimestamp, convertString)
		r.Register(OidTimestampTz, convertString)
	} else {
		r.Register(OidTimestamp, convertTimestamp)
		r.Register(OidTimestampTz, convertTimestamp)
	}

	return r
}

// Register sets the converter for a type OID, replacing any default.
func (r *Registry) Register(oid uint32, conv Converter) {
	r.converters[oid] = conv
}

// Convert decodes one wire value using the converter registered for the
// OID. Unregistered OIDs (text, varchar, everything else) convert to
// string.
func (r *Registry) Convert(oid uint32, data []byte) (any, error) {
	if conv, ok := r.converters[oid]; ok {
		return conv(data)
	}
	return string(data), nil
}

func convertString(data []byte) (any, error) {
	return string(data), nil
}

func convertBool(data []byte) (any, error) {
	switch string(data) {
	case "t", "true", "1":
		return true, nil
	case "f", "false", "0":
		return false, nil
	}
	return nil, fmt.Errorf("invalid bool value %q", data)
}

func convertBytea(data []byte) (any, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func convertInt(data []byte) (any, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func convertFloat(data []byte) (any, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func convertDate(data []byte) (any, error) {
	t, err := time.Parse("2006-01-02", string(data))
	if err != nil {
		return nil, err
	}
	return t, nil
}

// timestampLayouts covers the renderings the server produces, with and
// without fractional seconds and zone offset.
var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func convertTimestamp(data []byte) (any, error) {
	s := string(data)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return nil, fmt.Errorf("invalid timestamp value %q", s)
}
