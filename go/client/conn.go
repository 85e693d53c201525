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

// Package client implements the Basalt wire protocol client.
// One Conn owns one transport connection and drives the handshake,
// authentication, and both query sub-protocols over it.
package client

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basaltdb/basalt-go/go/bterrors"
	"github.com/basaltdb/basalt-go/go/protocol"
	"github.com/basaltdb/basalt-go/go/sqltypes"
)

const (
	// connBufferSize is the size of read and write buffers.
	connBufferSize = 16 * 1024
)

// RowShape selects how result rows are exposed.
type RowShape int

const (
	// RowsNamed exposes rows as maps keyed by case-folded column name.
	// Duplicate column names collapse; the last value wins.
	RowsNamed RowShape = iota

	// RowsPositional exposes rows as value slices, preserving duplicate
	// column names.
	RowsPositional
)

// Config holds the configuration for connecting to a Basalt server.
// It is captured at Connect time and never mutated afterwards.
type Config struct {
	// User is the Basalt user name. Required.
	User string

	// Password is the user's password. Required.
	Password string

	// Host is the server hostname or IP address. Defaults to localhost.
	Host string

	// Port is the server port number. Defaults to protocol.DefaultPort.
	Port int

	// Database is the database to connect to. Defaults to the system
	// catalog.
	Database string

	// SecurityLevel governs transport security negotiation:
	// 0 preferred-unsecured, 1 only-unsecured, 2 preferred-secured,
	// 3 only-secured.
	SecurityLevel int

	// TLSConfig supplies trust material for the in-place TLS upgrade.
	// Required when the negotiation ends up upgrading the transport.
	TLSConfig *tls.Config

	// Timeout bounds the TCP dial. It also arms a read deadline at the
	// start of each operation, covering that operation's whole response
	// stream. Zero means no deadline.
	Timeout time.Duration

	// RowShape selects named or positional result rows.
	RowShape RowShape

	// Raw disables native conversion per scalar kind; see sqltypes.
	Raw sqltypes.RawOptions

	// Types overrides the conversion registry. When nil a default
	// registry is built from Raw.
	Types *sqltypes.Registry

	// Logger receives protocol-level debug logs. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// Debug enables per-message logging.
	Debug bool
}

// withDefaults returns a copy of cfg with unset fields defaulted.
func (cfg Config) withDefaults() Config {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = protocol.DefaultPort
	}
	if cfg.Database == "" {
		cfg.Database = protocol.DefaultDatabase
	}
	if cfg.Types == nil {
		cfg.Types = sqltypes.NewRegistry(cfg.Raw)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// Conn represents a client connection to a Basalt server.
//
// All wire I/O on one Conn is strictly sequential: mu serializes
// operations, and no operation begins before the previous one has
// observed its terminal message.
type Conn struct {
	// conn is the underlying transport. It is rebound exactly once if
	// the handshake upgrades the socket to TLS.
	conn net.Conn

	// bufferedReader accumulates bytes not yet consumed by a parse step.
	bufferedReader *bufio.Reader

	// bufferedWriter is used for writing to the connection.
	bufferedWriter *bufio.Writer

	// mu serializes wire operations on this connection.
	mu sync.Mutex

	// config is the connection configuration.
	config *Config

	// handshakeVersion is the negotiated handshake version.
	handshakeVersion int16

	// protoMajor and protoMinor are the negotiated data protocol pair.
	protoMajor int16
	protoMinor int16

	// Backend key data received during startup. Informational only.
	processID uint32
	secretKey uint32

	// txnStatus is the status byte from the last ReadyForQuery.
	txnStatus byte

	// logger receives debug logs.
	logger *slog.Logger

	// closed indicates whether the connection has been closed.
	closed atomic.Bool
}

// Connect dials a Basalt server and performs the full handshake. The
// returned connection is ready to execute queries.
func Connect(ctx context.Context, config *Config) (*Conn, error) {
	cfg := config.withDefaults()
	if cfg.User == "" {
		return nil, bterrors.New(bterrors.KindInterface, "connect: user is required")
	}

	dialer := &net.Dialer{Timeout: cfg.Timeout}
	address := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	netConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, bterrors.Wrap(bterrors.KindOperational, err, "failed to connect to "+address)
	}

	c := &Conn{
		conn:           netConn,
		bufferedReader: bufio.NewReaderSize(netConn, connBufferSize),
		bufferedWriter: bufio.NewWriterSize(netConn, connBufferSize),
		config:         &cfg,
		txnStatus:      byte(protocol.TxnStatusIdle),
		logger:         cfg.Logger,
	}

	if err := c.handshake(ctx); err != nil {
		_ = netConn.Close()
		c.closed.Store(true)
		return nil, err
	}

	return c, nil
}

// Close closes the connection. A Terminate message is sent best-effort;
// errors while tearing down are swallowed. Close is idempotent.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil // Already closed.
	}

	_ = c.writeMessageNoFlush(protocol.MsgTerminate, nil)
	_ = c.flush()

	return c.conn.Close()
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// TxnStatus returns the transaction status recorded from the most
// recent ReadyForQuery message.
func (c *Conn) TxnStatus() protocol.TransactionStatus {
	return protocol.TransactionStatus(c.txnStatus)
}

// BackendPID returns the backend process ID sent during startup.
func (c *Conn) BackendPID() uint32 {
	return c.processID
}

// SecretKey returns the backend secret key sent during startup.
func (c *Conn) SecretKey() uint32 {
	return c.secretKey
}

// HandshakeVersion returns the negotiated handshake version.
func (c *Conn) HandshakeVersion() int16 {
	return c.handshakeVersion
}

// ProtocolVersion returns the negotiated data protocol pair.
func (c *Conn) ProtocolVersion() (major, minor int16) {
	return c.protoMajor, c.protoMinor
}

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// rebindTransport swaps the underlying transport in place. Used exactly
// once, when security negotiation upgrades the socket to TLS. The read
// buffer is empty at that point; framing state is undisturbed.
func (c *Conn) rebindTransport(nc net.Conn) {
	c.conn = nc
	c.bufferedReader.Reset(nc)
	c.bufferedWriter.Reset(nc)
}

// beginRead arms the read deadline configured for this connection.
func (c *Conn) beginRead(ctx context.Context) {
	deadline, ok := ctx.Deadline()
	if !ok && c.config.Timeout > 0 {
		deadline = time.Now().Add(c.config.Timeout)
		ok = true
	}
	if ok {
		_ = c.conn.SetReadDeadline(deadline)
	} else {
		_ = c.conn.SetReadDeadline(time.Time{})
	}
}

// flush flushes any buffered writes.
func (c *Conn) flush() error {
	return c.bufferedWriter.Flush()
}

func (c *Conn) debugf(format string, args ...any) {
	if c.config.Debug {
		c.logger.Debug(fmt.Sprintf(format, args...))
	}
}
