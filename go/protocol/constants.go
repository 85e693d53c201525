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

// Package protocol defines Basalt wire protocol constants and types.
//
// The protocol is PostgreSQL-derived but not PostgreSQL-compatible: the
// pre-authentication handshake uses its own opcode-based field exchange,
// and regular messages carry an extra reserved word between the type byte
// and the length.
package protocol

// Handshake versions. The client proposes the highest version it knows
// and the server may ask it to renegotiate downward.
const (
	HandshakeVersion2 = 2 + iota
	HandshakeVersion3
	HandshakeVersion4
	HandshakeVersion5
	HandshakeVersion6

	// MinHandshakeVersion is the lowest version this client will accept
	// during downward renegotiation.
	MinHandshakeVersion = HandshakeVersion2

	// MaxHandshakeVersion is the version proposed first.
	MaxHandshakeVersion = HandshakeVersion6
)

// Handshake field opcodes sent by the client during the field exchange.
const (
	OpInvalid = iota
	OpClientBegin
	OpDatabase
	OpUser
	OpOptions
	OpTTY
	OpRemotePID
	OpPriorPID
	OpClientType
	OpProtocol
	OpHostCase
	OpSSLNegotiate
	OpSSLConnect
	OpAppName
	OpClientOS
	OpClientHostName
	OpClientOSUser
)

// Handshake terminator opcodes.
const (
	OpClientDone  = 1000
	OpServerBegin = 1001
	OpPassword    = 1002
	OpServerDone  = 2000
)

// Single-byte control responses used at handshake acknowledgment points.
const (
	ControlAccept      = 'N' // field accepted / proceed unencrypted
	ControlRenegotiate = 'M' // version rejected, followed by one ASCII digit
	ControlSecure      = 'S' // transport security upgrade required
	ControlError       = 'E' // terminal handshake error
)

// Security levels carried in the OpSSLNegotiate field.
const (
	SecurityPreferredUnsecured = 0
	SecurityOnlyUnsecured      = 1
	SecurityPreferredSecured   = 2
	SecurityOnlySecured        = 3
)

// Authentication request codes carried in the 'R' message.
const (
	AuthOK = iota
	AuthKerberosV4
	AuthKerberosV5
	AuthPassword
	AuthCrypt
	AuthMD5
	AuthSHA256
)

// Message type constants for frontend (client) messages.
const (
	MsgQuery       = 'Q' // simple query
	MsgParse       = 'P' // parse
	MsgBind        = 'B' // bind
	MsgDescribe    = 'D' // describe
	MsgExecute     = 'E' // execute
	MsgSync        = 'S' // sync
	MsgTerminate   = 'X' // terminate
	MsgPasswordMsg = 'p' // password / credential response
)

// Message type constants for backend (server) messages.
const (
	MsgParseComplete      = '1' // parse complete
	MsgBindComplete       = '2' // bind complete
	MsgCloseComplete      = '3' // close complete
	MsgCommandComplete    = 'C' // command complete
	MsgDataRow            = 'D' // data row (bitmap-prefixed)
	MsgErrorResponse      = 'E' // error response
	MsgEmptyQueryResponse = 'I' // empty query response
	MsgBackendKeyData     = 'K' // backend key data
	MsgNoticeResponse     = 'N' // notice response
	MsgAuthRequest        = 'R' // authentication request (no length field)
	MsgRowDescription     = 'T' // row description
	MsgReadyForQuery      = 'Z' // ready for query
	MsgNoData             = 'n' // no data
	MsgPortalSuspended    = 's' // portal suspended
)

// TransactionStatus represents the transaction state carried by
// ReadyForQuery messages.
type TransactionStatus byte

// Transaction status indicators.
const (
	TxnStatusIdle    TransactionStatus = 'I' // idle (not in a transaction)
	TxnStatusInBlock TransactionStatus = 'T' // in a transaction block
	TxnStatusFailed  TransactionStatus = 'E' // in a failed transaction block
)

// Data protocol version pair sent in the OpProtocol identity field.
const (
	DataProtocolMajor = 3
	DataProtocolMinor = 5
)

// ClientTypeGo identifies this client in the OpClientType field.
const ClientTypeGo = 12

// DefaultPort is the port Basalt servers listen on.
const DefaultPort = 5480

// DefaultDatabase is the catalog database used when none is configured.
const DefaultDatabase = "system"
