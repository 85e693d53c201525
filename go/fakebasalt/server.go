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

// Package fakebasalt provides a fake BasaltDB server for testing.
// It speaks the BasaltDB wire protocol over real TCP and returns
// pre-configured results.
package fakebasalt

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/basaltdb/basalt-go/go/client"
	"github.com/basaltdb/basalt-go/go/protocol"
)

// Column describes one result column.
type Column struct {
	Name string
	OID  uint32
}

// Result is a pre-configured query result. Row values are rendered as
// text on the wire; nil values become NULL columns.
type Result struct {
	Columns    []Column
	Rows       [][]any
	CommandTag string
}

// MakeResult builds a Result with all-text columns from column names
// and row values.
func MakeResult(columns []string, rows [][]any) *Result {
	cols := make([]Column, len(columns))
	for i, name := range columns {
		cols[i] = Column{Name: name, OID: 25}
	}
	return &Result{
		Columns:    cols,
		Rows:       rows,
		CommandTag: fmt.Sprintf("SELECT %d", len(rows)),
	}
}

type exprResult struct {
	pattern string
	expr    *regexp.Regexp
	result  *Result
	err     string
}

// Server is a fake BasaltDB server for testing. All methods are safe
// for concurrent use.
type Server struct {
	t testing.TB

	listener net.Listener
	address  string

	// closed is set by Close; serve loops treat errors as clean then.
	closed atomic.Bool

	// neverFail makes unmatched queries return empty results instead of errors.
	neverFail atomic.Bool

	// mu protects everything below.
	mu sync.Mutex

	conns map[net.Conn]struct{}

	// Handshake behavior knobs.
	maxVersion  int16
	authCode    int32
	password    string
	tlsConfig   *tls.Config
	rejectDB    string
	databases   []string
	users       []string
	clientTypes []int16

	// Query registry.
	data         map[string]*Result
	rejectedData map[string]error
	patternData  map[string]exprResult
	queryCalled  map[string]int
	querylog     []string
	bindLog      [][]any
}

// New creates a fake server listening on a random local TCP port. It
// accepts any credentials until SetAuth is called.
func New(t testing.TB) *Server {
	s := &Server{
		t:            t,
		maxVersion:   protocol.MaxHandshakeVersion,
		authCode:     protocol.AuthOK,
		conns:        make(map[net.Conn]struct{}),
		data:         make(map[string]*Result),
		rejectedData: make(map[string]error),
		patternData:  make(map[string]exprResult),
		queryCalled:  make(map[string]int),
	}

	var err error
	s.listener, err = net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("fakebasalt: failed to listen: %v", err)
	}
	s.address = s.listener.Addr().String()

	go s.acceptLoop()

	t.Logf("fakebasalt: listening on %s", s.address)
	return s
}

func (s *Server) acceptLoop() {
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && !s.closed.Load() {
				s.t.Logf("fakebasalt: accept error: %v", err)
			}
			return
		}

		s.mu.Lock()
		s.conns[nc] = struct{}{}
		s.mu.Unlock()

		go func() {
			sc := &serverConn{srv: s}
			sc.run(nc)
			s.mu.Lock()
			delete(s.conns, nc)
			s.mu.Unlock()
		}()
	}
}

// Address returns the server's listening address.
func (s *Server) Address() string {
	return s.address
}

// ClientConfig returns a client.Config for connecting to this server.
func (s *Server) ClientConfig() *client.Config {
	host, port, err := net.SplitHostPort(s.address)
	if err != nil {
		s.t.Fatalf("fakebasalt: failed to parse address: %v", err)
	}
	var portNum int
	_, _ = fmt.Sscanf(port, "%d", &portNum)

	s.mu.Lock()
	password := s.password
	s.mu.Unlock()

	return &client.Config{
		Host:     host,
		Port:     portNum,
		User:     "test",
		Password: password,
		Database: "testdb",
	}
}

// Close stops accepting connections and tears down active ones.
func (s *Server) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if err := s.listener.Close(); err != nil {
		s.t.Logf("fakebasalt: close error: %v", err)
	}
	s.mu.Lock()
	for nc := range s.conns {
		_ = nc.Close()
	}
	s.mu.Unlock()
}

//
// Handshake behavior knobs.
//

// SetMaxHandshakeVersion makes the server renegotiate any higher
// proposed handshake version down to v.
func (s *Server) SetMaxHandshakeVersion(v int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxVersion = v
}

// SetAuth configures the authentication scheme and the password the
// server will verify credentials against.
func (s *Server) SetAuth(code int32, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authCode = code
	s.password = password
}

// SetTLS makes the server demand an encrypted session during security
// negotiation, using the given certificate configuration.
func (s *Server) SetTLS(cfg *tls.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tlsConfig = cfg
}

// RejectDatabase makes the database exchange fail with the given
// message.
func (s *Server) RejectDatabase(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectDB = msg
}

// Databases returns the database names announced by connecting clients.
func (s *Server) Databases() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.databases...)
}

// Users returns the user names announced by connecting clients.
func (s *Server) Users() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.users...)
}

// ClientTypes returns the client type codes announced by connecting
// clients.
func (s *Server) ClientTypes() []int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int16(nil), s.clientTypes...)
}

//
// Query registry.
//

// AddQuery adds a query and its result. Matching is case-insensitive.
func (s *Server) AddQuery(q string, result *Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(q)
	s.data[key] = result
	s.queryCalled[key] = 0
}

// AddQueryPattern adds a result for queries matching a pattern. Patterns
// are checked when no exact match exists; begin/end anchors and
// case-insensitive mode are forced.
func (s *Server) AddQueryPattern(pattern string, result *Result) {
	expr := regexp.MustCompile("(?is)^" + pattern + "$")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patternData[pattern] = exprResult{pattern: pattern, expr: expr, result: result}
}

// AddRejectedQuery makes a query fail with the given error message.
func (s *Server) AddRejectedQuery(q string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectedData[strings.ToLower(q)] = err
}

// DeleteAllQueries clears the query registry.
func (s *Server) DeleteAllQueries() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]*Result)
	s.rejectedData = make(map[string]error)
	s.patternData = make(map[string]exprResult)
	s.queryCalled = make(map[string]int)
}

// SetNeverFail makes unmatched queries return empty results instead of
// errors.
func (s *Server) SetNeverFail(neverFail bool) {
	s.neverFail.Store(neverFail)
}

// GetQueryCalledNum returns how many times a query was executed.
func (s *Server) GetQueryCalledNum(q string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryCalled[strings.ToLower(q)]
}

// QueryLog returns the executed queries as a semicolon separated string.
func (s *Server) QueryLog() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.querylog, ";")
}

// BindLog returns the parameter sets received through the staged query
// path, one entry per bind.
func (s *Server) BindLog() [][]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]any(nil), s.bindLog...)
}

// handleQuery resolves a query against the registry.
func (s *Server) handleQuery(q string) (*Result, error) {
	key := strings.ToLower(q)

	s.mu.Lock()
	s.queryCalled[key]++
	s.querylog = append(s.querylog, key)

	if err, ok := s.rejectedData[key]; ok {
		s.mu.Unlock()
		return nil, err
	}
	if result, ok := s.data[key]; ok {
		s.mu.Unlock()
		return result, nil
	}
	for _, pat := range s.patternData {
		if pat.expr.MatchString(q) {
			s.mu.Unlock()
			if pat.err != "" {
				return nil, errors.New(pat.err)
			}
			return pat.result, nil
		}
	}
	s.mu.Unlock()

	if s.neverFail.Load() {
		return &Result{CommandTag: "SELECT 0"}, nil
	}
	return nil, fmt.Errorf("fakebasalt: query '%s' is not supported", q)
}

func (s *Server) recordDatabase(db string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.databases = append(s.databases, db)
}

func (s *Server) recordUser(user string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, user)
}

func (s *Server) recordClientType(ct int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientTypes = append(s.clientTypes, ct)
}

func (s *Server) recordBind(params []any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindLog = append(s.bindLog, params)
}

func (s *Server) handshakeConfig() (maxVersion int16, authCode int32, password string, tlsConfig *tls.Config, rejectDB string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxVersion, s.authCode, s.password, s.tlsConfig, s.rejectDB
}
