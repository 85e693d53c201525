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

package fakebasalt

import (
	"bufio"
	"crypto/md5" //nolint:gosec // mirrors the legacy credential scheme
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"io"
	"net"
	"strings"

	"github.com/basaltdb/basalt-go/go/client"
	"github.com/basaltdb/basalt-go/go/protocol"
)

// serverConn drives the server side of one connection: handshake,
// authentication, then the query loop.
type serverConn struct {
	srv *Server
	nc  net.Conn
	r   *bufio.Reader
	w   *bufio.Writer
}

func (sc *serverConn) run(nc net.Conn) {
	defer nc.Close()
	sc.nc = nc
	sc.r = bufio.NewReader(nc)
	sc.w = bufio.NewWriter(nc)

	if err := sc.handshake(); err != nil {
		if !sc.srv.closed.Load() && !errors.Is(err, io.EOF) {
			sc.srv.t.Logf("fakebasalt: handshake ended: %v", err)
		}
		return
	}
	sc.queryLoop()
}

//
// Reading.
//

// readHandshakePacket reads one length-prefixed handshake packet and
// returns its body.
func (sc *serverConn) readHandshakePacket() ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(sc.r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length < 4 || length > 1<<20 {
		return nil, fmt.Errorf("bad handshake packet length %d", length)
	}
	body := make([]byte, length-4)
	if _, err := io.ReadFull(sc.r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// readMessage reads one message-phase frame from the client.
func (sc *serverConn) readMessage() (byte, []byte, error) {
	var header [9]byte
	if _, err := io.ReadFull(sc.r, header[:]); err != nil {
		return 0, nil, err
	}
	length := binary.BigEndian.Uint32(header[5:])
	if length > 1<<24 {
		return 0, nil, fmt.Errorf("bad message length %d", length)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(sc.r, body); err != nil {
		return 0, nil, err
	}
	return header[0], body, nil
}

//
// Writing.
//

func (sc *serverConn) writeControl(b byte) error {
	if err := sc.w.WriteByte(b); err != nil {
		return err
	}
	return sc.w.Flush()
}

// writeHandshakeError sends an 'E' control byte followed by a
// length-prefixed message, the length including itself.
func (sc *serverConn) writeHandshakeError(msg string) error {
	w := client.NewMessageWriter()
	w.WriteByte(protocol.ControlError)
	w.WriteUint32(uint32(4 + len(msg)))
	w.WriteBytes([]byte(msg))
	if _, err := sc.w.Write(w.Bytes()); err != nil {
		return err
	}
	return sc.w.Flush()
}

// writeMessage writes one message-phase frame.
func (sc *serverConn) writeMessage(msgType byte, body []byte) error {
	var header [9]byte
	header[0] = msgType
	binary.BigEndian.PutUint32(header[5:], uint32(len(body)))
	if _, err := sc.w.Write(header[:]); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := sc.w.Write(body); err != nil {
			return err
		}
	}
	return nil
}

// writeAuthRequest writes an authentication request: the type byte
// followed directly by the int32 code, no length field, then any salt.
func (sc *serverConn) writeAuthRequest(code int32, salt []byte) error {
	w := client.NewMessageWriter()
	w.WriteByte(protocol.MsgAuthRequest)
	w.WriteInt32(code)
	w.WriteBytes(salt)
	if _, err := sc.w.Write(w.Bytes()); err != nil {
		return err
	}
	return sc.w.Flush()
}

func (sc *serverConn) writeErrorResponse(msg string) error {
	w := client.NewMessageWriter()
	w.WriteByte('S')
	w.WriteString("ERROR")
	w.WriteByte('C')
	w.WriteString("XX000")
	w.WriteByte('M')
	w.WriteString(msg)
	w.WriteByte(0)
	return sc.writeMessage(protocol.MsgErrorResponse, w.Bytes())
}

func (sc *serverConn) writeReady() error {
	if err := sc.writeMessage(protocol.MsgReadyForQuery, []byte{byte(protocol.TxnStatusIdle)}); err != nil {
		return err
	}
	return sc.w.Flush()
}

//
// Handshake.
//

func (sc *serverConn) handshake() error {
	maxVersion, authCode, password, tlsCfg, rejectDB := sc.srv.handshakeConfig()

	for {
		body, err := sc.readHandshakePacket()
		if err != nil {
			return err
		}
		r := client.NewMessageReader(body)
		opcode, err := r.ReadInt16()
		if err != nil {
			return err
		}

		switch opcode {
		case protocol.OpClientBegin:
			version, err := r.ReadInt16()
			if err != nil {
				return err
			}
			if version > maxVersion {
				if err := sc.writeControl(protocol.ControlRenegotiate); err != nil {
					return err
				}
				if err := sc.writeControl('0' + byte(maxVersion)); err != nil {
					return err
				}
				continue
			}
			if err := sc.writeControl(protocol.ControlAccept); err != nil {
				return err
			}

		case protocol.OpDatabase:
			db, _ := r.ReadString()
			sc.srv.recordDatabase(db)
			if rejectDB != "" {
				_ = sc.writeHandshakeError(rejectDB)
				return errors.New("database rejected")
			}
			if err := sc.writeControl(protocol.ControlAccept); err != nil {
				return err
			}

		case protocol.OpSSLNegotiate:
			if tlsCfg != nil {
				if err := sc.writeControl(protocol.ControlSecure); err != nil {
					return err
				}
				tlsConn := tls.Server(sc.nc, tlsCfg)
				if err := tlsConn.Handshake(); err != nil {
					return err
				}
				sc.nc = tlsConn
				sc.r = bufio.NewReader(tlsConn)
				sc.w = bufio.NewWriter(tlsConn)
				continue
			}
			if err := sc.writeControl(protocol.ControlAccept); err != nil {
				return err
			}

		case protocol.OpSSLConnect:
			if err := sc.writeControl(protocol.ControlAccept); err != nil {
				return err
			}

		case protocol.OpUser:
			user, _ := r.ReadString()
			sc.srv.recordUser(user)
			if err := sc.writeControl(protocol.ControlAccept); err != nil {
				return err
			}

		case protocol.OpClientType:
			ct, _ := r.ReadInt16()
			sc.srv.recordClientType(ct)
			if err := sc.writeControl(protocol.ControlAccept); err != nil {
				return err
			}

		case protocol.OpClientDone:
			// No acknowledgment; authentication starts immediately.
			return sc.authenticate(authCode, password)

		default:
			// Protocol, pid, and any other identity fields just get
			// acknowledged.
			if err := sc.writeControl(protocol.ControlAccept); err != nil {
				return err
			}
		}
	}
}

func (sc *serverConn) authenticate(authCode int32, password string) error {
	switch authCode {
	case protocol.AuthOK:
		if err := sc.writeAuthRequest(protocol.AuthOK, nil); err != nil {
			return err
		}

	case protocol.AuthPassword:
		if err := sc.writeAuthRequest(protocol.AuthPassword, nil); err != nil {
			return err
		}
		if err := sc.verifyCredential(password); err != nil {
			return err
		}

	case protocol.AuthMD5:
		if err := sc.verifySaltedCredential(protocol.AuthMD5, md5.New(), password); err != nil { //nolint:gosec
			return err
		}

	case protocol.AuthSHA256:
		if err := sc.verifySaltedCredential(protocol.AuthSHA256, sha256.New(), password); err != nil {
			return err
		}

	default:
		// Exercise the client's unsupported-scheme path.
		if err := sc.writeAuthRequest(authCode, nil); err != nil {
			return err
		}
		return errors.New("unsupported auth scheme configured")
	}

	return sc.finishStartup()
}

func (sc *serverConn) verifySaltedCredential(code int32, digest hash.Hash, password string) error {
	salt := make([]byte, 2)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	if err := sc.writeAuthRequest(code, salt); err != nil {
		return err
	}

	digest.Write(salt)
	digest.Write([]byte(password))
	expected := strings.TrimRight(base64.StdEncoding.EncodeToString(digest.Sum(nil)), "=")
	return sc.verifyCredential(expected)
}

// verifyCredential reads the client's password message and compares it
// against the expected credential.
func (sc *serverConn) verifyCredential(expected string) error {
	msgType, body, err := sc.readMessage()
	if err != nil {
		return err
	}
	if msgType != protocol.MsgPasswordMsg {
		return fmt.Errorf("expected password message, got %q", msgType)
	}
	got, err := client.NewMessageReader(body).ReadString()
	if err != nil {
		return err
	}
	if got != expected {
		if err := sc.writeErrorResponse("password authentication failed"); err != nil {
			return err
		}
		_ = sc.w.Flush()
		return errors.New("bad credential")
	}
	return sc.writeAuthRequest(protocol.AuthOK, nil)
}

func (sc *serverConn) finishStartup() error {
	w := client.NewMessageWriter()
	w.WriteUint32(4242) // backend pid
	w.WriteUint32(1717) // secret key
	if err := sc.writeMessage(protocol.MsgBackendKeyData, w.Bytes()); err != nil {
		return err
	}
	return sc.writeReady()
}

//
// Query loop.
//

func (sc *serverConn) queryLoop() {
	var stagedSQL string

	for {
		msgType, body, err := sc.readMessage()
		if err != nil {
			return
		}

		switch msgType {
		case protocol.MsgQuery:
			sql, err := client.NewMessageReader(body).ReadString()
			if err != nil {
				return
			}
			if err := sc.respondQuery(sql); err != nil {
				return
			}

		case protocol.MsgParse:
			r := client.NewMessageReader(body)
			_, _ = r.ReadString() // statement name
			stagedSQL, _ = r.ReadString()

		case protocol.MsgBind:
			params, err := parseBindParams(body)
			if err != nil {
				return
			}
			sc.srv.recordBind(params)

		case protocol.MsgDescribe, protocol.MsgExecute:
			// Results are sent when the sync arrives.

		case protocol.MsgSync:
			if err := sc.writeMessage(protocol.MsgParseComplete, nil); err != nil {
				return
			}
			if err := sc.writeMessage(protocol.MsgBindComplete, nil); err != nil {
				return
			}
			if err := sc.respondQuery(stagedSQL); err != nil {
				return
			}
			stagedSQL = ""

		case protocol.MsgTerminate:
			return

		default:
			// Ignore anything unexpected.
		}
	}
}

func parseBindParams(body []byte) ([]any, error) {
	r := client.NewMessageReader(body)
	if _, err := r.ReadString(); err != nil { // portal
		return nil, err
	}
	if _, err := r.ReadString(); err != nil { // statement
		return nil, err
	}
	nfmt, err := r.ReadInt16()
	if err != nil {
		return nil, err
	}
	for range nfmt {
		if _, err := r.ReadInt16(); err != nil {
			return nil, err
		}
	}

	nparams, err := r.ReadInt16()
	if err != nil {
		return nil, err
	}
	params := make([]any, nparams)
	for i := range params {
		length, err := r.ReadInt32()
		if err != nil {
			return nil, err
		}
		if length < 0 {
			params[i] = nil
			continue
		}
		data, err := r.ReadBytes(int(length))
		if err != nil {
			return nil, err
		}
		params[i] = string(data)
	}
	return params, nil
}

// respondQuery resolves a query and writes the full response stream,
// ending with ready-for-query.
func (sc *serverConn) respondQuery(sql string) error {
	res, err := sc.srv.handleQuery(sql)
	if err != nil {
		if werr := sc.writeErrorResponse(err.Error()); werr != nil {
			return werr
		}
		return sc.writeReady()
	}

	if len(res.Columns) > 0 {
		if err := sc.writeRowDescription(res.Columns); err != nil {
			return err
		}
		for _, row := range res.Rows {
			if err := sc.writeDataRow(row); err != nil {
				return err
			}
		}
	}

	tag := res.CommandTag
	if tag == "" {
		tag = fmt.Sprintf("SELECT %d", len(res.Rows))
	}
	w := client.NewMessageWriter()
	w.WriteString(tag)
	if err := sc.writeMessage(protocol.MsgCommandComplete, w.Bytes()); err != nil {
		return err
	}
	return sc.writeReady()
}

func (sc *serverConn) writeRowDescription(columns []Column) error {
	w := client.NewMessageWriter()
	w.WriteInt16(int16(len(columns)))
	for _, col := range columns {
		w.WriteString(col.Name)
		w.WriteUint32(col.OID)
		w.WriteInt16(-1) // type size
		w.WriteInt32(-1) // type modifier
		w.WriteInt16(0)  // text format
	}
	return sc.writeMessage(protocol.MsgRowDescription, w.Bytes())
}

// writeDataRow renders one row: the presence bitmap, most significant
// bit first, then a length-prefixed text value per set bit, the length
// including itself.
func (sc *serverConn) writeDataRow(row []any) error {
	bitmap := make([]byte, (len(row)+7)/8)
	for i, val := range row {
		if val != nil {
			bitmap[i/8] |= 0x80 >> (i % 8)
		}
	}

	w := client.NewMessageWriter()
	w.WriteBytes(bitmap)
	for _, val := range row {
		if val == nil {
			continue
		}
		text := fmt.Appendf(nil, "%v", val)
		w.WriteInt32(int32(len(text) + 4))
		w.WriteBytes(text)
	}
	return sc.writeMessage(protocol.MsgDataRow, w.Bytes())
}
