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
	"context"
	"crypto/tls"
	"os"

	"github.com/basaltdb/basalt-go/go/bterrors"
	"github.com/basaltdb/basalt-go/go/protocol"
)

// handshakeState enumerates the phases of the connection handshake.
// The server requires the exact order below; in particular the database
// name must be acknowledged before security negotiation is attempted.
type handshakeState int

const (
	stateNegotiateVersion handshakeState = iota
	stateSendDatabase
	stateNegotiateSecurity
	stateTLSUpgrade
	stateSendIdentity
	stateAuthenticate
	stateAwaitReady
	stateReady
)

func (s handshakeState) String() string {
	switch s {
	case stateNegotiateVersion:
		return "version negotiation"
	case stateSendDatabase:
		return "database exchange"
	case stateNegotiateSecurity:
		return "security negotiation"
	case stateTLSUpgrade:
		return "TLS upgrade"
	case stateSendIdentity:
		return "identity exchange"
	case stateAuthenticate:
		return "authentication"
	case stateAwaitReady:
		return "awaiting ready"
	default:
		return "ready"
	}
}

// handshake drives the state machine from version negotiation to READY.
// Any failure is terminal for the connection; no state is ever retried.
func (c *Conn) handshake(ctx context.Context) error {
	state := stateNegotiateVersion
	for state != stateReady {
		select {
		case <-ctx.Done():
			return bterrors.Wrap(bterrors.KindOperational, ctx.Err(), "handshake aborted")
		default:
		}
		c.beginRead(ctx)

		var next handshakeState
		var err error
		switch state {
		case stateNegotiateVersion:
			next, err = c.negotiateVersion()
		case stateSendDatabase:
			next, err = c.sendDatabase()
		case stateNegotiateSecurity:
			next, err = c.negotiateSecurity()
		case stateTLSUpgrade:
			next, err = c.upgradeTLS(ctx)
		case stateSendIdentity:
			next, err = c.sendIdentity()
		case stateAuthenticate:
			next, err = c.authenticate()
		case stateAwaitReady:
			next, err = c.awaitReady()
		}
		if err != nil {
			kind := bterrors.KindOf(err)
			if kind == bterrors.KindUnknown {
				kind = bterrors.KindOperational
			}
			return bterrors.Wrap(kind, err, "handshake failed during "+state.String())
		}
		state = next
	}
	c.debugf("handshake complete: version=%d protocol=%d.%d", c.handshakeVersion, c.protoMajor, c.protoMinor)
	return nil
}

// negotiateVersion proposes the highest handshake version and loops on
// the server's downgrade requests until one is accepted.
func (c *Conn) negotiateVersion() (handshakeState, error) {
	version := int16(protocol.MaxHandshakeVersion)
	for {
		if err := c.writeFieldInt16(protocol.OpClientBegin, version); err != nil {
			return 0, err
		}

		resp, err := c.readControlByte()
		if err != nil {
			return 0, err
		}
		switch resp {
		case protocol.ControlAccept:
			c.handshakeVersion = version
			c.protoMajor = protocol.DataProtocolMajor
			c.protoMinor = protocol.DataProtocolMinor
			return stateSendDatabase, nil

		case protocol.ControlRenegotiate:
			// The downgrade target arrives as one ASCII digit.
			digit, err := c.readControlByte()
			if err != nil {
				return 0, err
			}
			lower := int16(digit - '0')
			if lower < protocol.MinHandshakeVersion || lower >= version {
				return 0, bterrors.Errorf(bterrors.KindOperational,
					"server requested unsupported handshake version %d", lower)
			}
			version = lower

		case protocol.ControlError:
			return 0, c.readHandshakeError()

		default:
			return 0, protocolViolation("version negotiation", resp)
		}
	}
}

// sendDatabase announces the target database. The server acknowledges
// it before security negotiation may begin.
func (c *Conn) sendDatabase() (handshakeState, error) {
	if err := c.writeFieldString(protocol.OpDatabase, c.config.Database); err != nil {
		return 0, err
	}
	if err := c.expectAccept("database exchange"); err != nil {
		return 0, err
	}
	return stateNegotiateSecurity, nil
}

// negotiateSecurity sends the configured security level and interprets
// the server's decision.
func (c *Conn) negotiateSecurity() (handshakeState, error) {
	level := c.config.SecurityLevel
	if level < protocol.SecurityPreferredUnsecured || level > protocol.SecurityOnlySecured {
		return 0, bterrors.Errorf(bterrors.KindInterface, "invalid security level %d", level)
	}

	if err := c.writeFieldInt32(protocol.OpSSLNegotiate, int32(level)); err != nil {
		return 0, err
	}

	resp, err := c.readControlByte()
	if err != nil {
		return 0, err
	}
	switch resp {
	case protocol.ControlAccept:
		if level == protocol.SecurityOnlySecured {
			return 0, bterrors.New(bterrors.KindInterface,
				"encryption required by client but refused by server")
		}
		return stateSendIdentity, nil

	case protocol.ControlSecure:
		if level == protocol.SecurityOnlyUnsecured {
			return 0, bterrors.New(bterrors.KindInterface,
				"server requires encryption but security level forbids it")
		}
		return stateTLSUpgrade, nil

	case protocol.ControlError:
		return 0, c.readHandshakeError()

	default:
		return 0, protocolViolation("security negotiation", resp)
	}
}

// upgradeTLS wraps the already-open socket in TLS, then repeats the
// SSL-connect confirmation on the now-encrypted channel.
func (c *Conn) upgradeTLS(ctx context.Context) (handshakeState, error) {
	tlsCfg := c.config.TLSConfig
	if tlsCfg == nil {
		return 0, bterrors.New(bterrors.KindInterface,
			"server requires encryption but no TLS trust material is configured")
	}
	if tlsCfg.ServerName == "" {
		tlsCfg = tlsCfg.Clone()
		tlsCfg.ServerName = c.config.Host
	}

	tlsConn := tls.Client(c.conn, tlsCfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return 0, bterrors.Wrap(bterrors.KindOperational, err, "TLS upgrade failed")
	}
	c.rebindTransport(tlsConn)
	c.debugf("transport upgraded to TLS")

	if err := c.writeFieldInt32(protocol.OpSSLConnect, int32(c.config.SecurityLevel)); err != nil {
		return 0, err
	}
	if err := c.expectAccept("SSL connect confirmation"); err != nil {
		return 0, err
	}
	return stateSendIdentity, nil
}

// sendIdentity sends the identity fields one at a time, each
// individually acknowledged, and terminates the sequence with a done
// marker that expects no acknowledgment.
func (c *Conn) sendIdentity() (handshakeState, error) {
	if err := c.writeFieldString(protocol.OpUser, c.config.User); err != nil {
		return 0, err
	}
	if err := c.expectAccept("user field"); err != nil {
		return 0, err
	}

	if err := c.writeFieldInt16Pair(protocol.OpProtocol, c.protoMajor, c.protoMinor); err != nil {
		return 0, err
	}
	if err := c.expectAccept("protocol field"); err != nil {
		return 0, err
	}

	if err := c.writeFieldInt32(protocol.OpRemotePID, int32(os.Getpid())); err != nil {
		return 0, err
	}
	if err := c.expectAccept("pid field"); err != nil {
		return 0, err
	}

	if err := c.writeFieldInt16(protocol.OpClientType, protocol.ClientTypeGo); err != nil {
		return 0, err
	}
	if err := c.expectAccept("client type field"); err != nil {
		return 0, err
	}

	// No payload and no acknowledgment; authentication begins
	// immediately after.
	if err := c.writeFieldOpcode(protocol.OpClientDone); err != nil {
		return 0, err
	}
	return stateAuthenticate, nil
}

// awaitReady consumes startup messages until ReadyForQuery, recording
// backend key data along the way.
func (c *Conn) awaitReady() (handshakeState, error) {
	for {
		msgType, body, err := c.readMessage()
		if err != nil {
			return 0, err
		}

		switch msgType {
		case protocol.MsgBackendKeyData:
			r := NewMessageReader(body)
			if c.processID, err = r.ReadUint32(); err != nil {
				return 0, bterrors.Wrap(bterrors.KindOperational, err, "short backend key data")
			}
			if c.secretKey, err = r.ReadUint32(); err != nil {
				return 0, bterrors.Wrap(bterrors.KindOperational, err, "short backend key data")
			}

		case protocol.MsgNoticeResponse:
			c.debugf("startup notice: %s", body)

		case protocol.MsgReadyForQuery:
			if len(body) < 1 {
				return 0, bterrors.New(bterrors.KindOperational, "short ready-for-query message")
			}
			c.txnStatus = body[0]
			return stateReady, nil

		case protocol.MsgErrorResponse:
			return 0, parseServerError(body)

		default:
			return 0, protocolViolation("startup", msgType)
		}
	}
}

// expectAccept reads one control byte and requires it to be an accept.
// Any unexpected byte at an acknowledgment point is terminal.
func (c *Conn) expectAccept(context string) error {
	resp, err := c.readControlByte()
	if err != nil {
		return err
	}
	switch resp {
	case protocol.ControlAccept:
		return nil
	case protocol.ControlError:
		return c.readHandshakeError()
	default:
		return protocolViolation(context, resp)
	}
}

// readHandshakeError reads the message following an 'E' control byte:
// a length-prefixed string, the length including itself.
func (c *Conn) readHandshakeError() error {
	length, err := c.readUint32()
	if err != nil {
		return err
	}
	msg := "handshake rejected by server"
	if length > 4 {
		body, err := c.readN(int(length - 4))
		if err != nil {
			return err
		}
		// The payload may or may not be nul-terminated.
		for len(body) > 0 && body[len(body)-1] == 0 {
			body = body[:len(body)-1]
		}
		if len(body) > 0 {
			msg = string(body)
		}
	}
	return bterrors.New(bterrors.KindDatabase, msg)
}
