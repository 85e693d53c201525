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

// Package connpool provides a bounded pool of BasaltDB connections with
// FIFO waiting, validation hooks, and background maintenance.
package connpool

import (
	"context"

	"github.com/basaltdb/basalt-go/go/client"
)

// Connection is the surface the pool needs from a pooled connection.
// *client.Conn satisfies it.
type Connection interface {
	// IsClosed returns true if the connection has been closed.
	IsClosed() bool

	// Close closes the connection and releases associated resources.
	Close() error

	// Execute runs a query on the connection.
	Execute(ctx context.Context, sql string, args ...any) (*client.Result, error)
}
