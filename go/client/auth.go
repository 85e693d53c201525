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
	"crypto/md5" //nolint:gosec // MD5 is required by the server's legacy credential scheme
	"crypto/sha256"
	"encoding/base64"
	"hash"
	"strings"

	"github.com/basaltdb/basalt-go/go/bterrors"
	"github.com/basaltdb/basalt-go/go/protocol"
)

// authenticate handles the authentication exchange that follows the
// identity fields. A failure here is terminal for the connection and is
// never retried.
func (c *Conn) authenticate() (handshakeState, error) {
	code, err := c.readAuthCode()
	if err != nil {
		return 0, err
	}

	switch code {
	case protocol.AuthOK:
		return stateAwaitReady, nil

	case protocol.AuthPassword:
		c.debugf("authenticating with plaintext password")
		if err := c.sendCredential(c.config.Password); err != nil {
			return 0, err
		}

	case protocol.AuthMD5:
		c.debugf("authenticating with salted MD5")
		if err := c.sendSaltedCredential(md5.New()); err != nil { //nolint:gosec
			return 0, err
		}

	case protocol.AuthSHA256:
		c.debugf("authenticating with salted SHA256")
		if err := c.sendSaltedCredential(sha256.New()); err != nil {
			return 0, err
		}

	default:
		return 0, bterrors.Errorf(bterrors.KindOperational,
			"unsupported authentication scheme %d", code)
	}

	// After a credential is sent the follow-up must be exactly OK.
	code, err = c.readAuthCode()
	if err != nil {
		return 0, err
	}
	if code != protocol.AuthOK {
		return 0, bterrors.Errorf(bterrors.KindOperational,
			"authentication failed for user %q", c.config.User)
	}
	return stateAwaitReady, nil
}

// readAuthCode reads one authentication request and returns its scheme
// code. The message carries no length field; the type byte is followed
// directly by the int32 code.
func (c *Conn) readAuthCode() (int32, error) {
	msgType, body, err := c.readMessage()
	if err != nil {
		return 0, err
	}
	if msgType == protocol.MsgErrorResponse {
		return 0, parseServerError(body)
	}
	if msgType != protocol.MsgAuthRequest {
		return 0, protocolViolation("authentication", msgType)
	}
	code, err := NewMessageReader(body).ReadInt32()
	if err != nil {
		return 0, bterrors.Wrap(bterrors.KindOperational, err, "short authentication request")
	}
	return code, nil
}

// sendSaltedCredential reads the 2-byte salt that follows an MD5 or
// SHA256 request and sends base64(hash(salt ++ password)) with the
// trailing padding stripped.
func (c *Conn) sendSaltedCredential(digest hash.Hash) error {
	salt, err := c.readN(2)
	if err != nil {
		return err
	}
	digest.Write(salt)
	digest.Write([]byte(c.config.Password))
	encoded := base64.StdEncoding.EncodeToString(digest.Sum(nil))
	return c.sendCredential(strings.TrimRight(encoded, "="))
}

// sendCredential sends one credential payload, nul-terminated, as a
// password message.
func (c *Conn) sendCredential(credential string) error {
	w := NewMessageWriter()
	w.WriteString(credential)
	return c.writeMessage(protocol.MsgPasswordMsg, w.Bytes())
}
