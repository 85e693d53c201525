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

// Package bterrors classifies every error surfaced by basalt-go.
//
// Four kinds cover the public surface: Interface for API misuse,
// Operational for transport/timeout/authentication failures, Database for
// server-reported failures, and Programming for caller-side SQL misuse
// (reserved, never raised by the library itself). Errors compose with the
// standard errors package: Kind survives wrapping with %w.
package bterrors

import (
	"errors"
	"fmt"
)

// Kind is the error class.
type Kind int

const (
	// KindUnknown is reported for errors that did not originate here.
	KindUnknown Kind = iota

	// KindInterface marks misuse of the API itself, such as executing on
	// a closed connection or acquiring from a closed pool.
	KindInterface

	// KindOperational marks transport failures, timeouts, and
	// authentication failures.
	KindOperational

	// KindDatabase marks failures reported by the server.
	KindDatabase

	// KindProgramming is reserved for caller-side SQL and parameter
	// misuse. The library never raises it internally.
	KindProgramming
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindInterface:
		return "interface"
	case KindOperational:
		return "operational"
	case KindDatabase:
		return "database"
	case KindProgramming:
		return "programming"
	default:
		return "unknown"
	}
}

// basaltError carries a kind and, for database errors, whether the
// failure was the peer closing the connection.
type basaltError struct {
	kind       Kind
	connClosed bool
	err        error
}

func (e *basaltError) Error() string {
	return e.err.Error()
}

func (e *basaltError) Unwrap() error {
	return e.err
}

// New returns an error of the given kind.
func New(kind Kind, msg string) error {
	return &basaltError{kind: kind, err: errors.New(msg)}
}

// Errorf returns a formatted error of the given kind. The format string
// supports %w.
func Errorf(kind Kind, format string, args ...any) error {
	return &basaltError{kind: kind, err: fmt.Errorf(format, args...)}
}

// Wrap annotates err with msg, classifying the result. Wrapping nil
// returns nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &basaltError{kind: kind, err: fmt.Errorf("%s: %w", msg, err)}
}

// Classify attaches a kind to err without altering its message.
// Classifying nil returns nil.
func Classify(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &basaltError{kind: kind, err: err}
}

// NewConnClosed returns a database-kind error marking the connection as
// closed by the peer.
func NewConnClosed(msg string) error {
	return &basaltError{kind: KindDatabase, connClosed: true, err: errors.New(msg)}
}

// KindOf reports the kind of err, unwrapping as needed. Errors that did
// not originate in this package report KindUnknown.
func KindOf(err error) Kind {
	var be *basaltError
	if errors.As(err, &be) {
		return be.kind
	}
	return KindUnknown
}

// IsConnClosed reports whether err marks the connection closed by the
// peer.
func IsConnClosed(err error) bool {
	var be *basaltError
	if errors.As(err, &be) {
		return be.connClosed
	}
	return false
}
