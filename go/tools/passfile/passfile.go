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

// Package passfile looks up passwords in a ~/.basaltpass file. The file
// uses one entry per line in the form host:port:database:user:password,
// where any of the first four fields may be the wildcard *. The first
// matching entry wins. The file must not be group- or world-readable.
package passfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// FileName is the password file name looked for in the home directory.
const FileName = ".basaltpass"

// EnvVar overrides the password file location when set.
const EnvVar = "BASALT_PASSFILE"

// ErrNoEntry is returned when no entry matches the connection.
var ErrNoEntry = errors.New("no matching entry in password file")

// DefaultPath returns the password file location: $BASALT_PASSFILE when
// set, otherwise ~/.basaltpass.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvVar); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, FileName), nil
}

// Lookup finds the password for the given connection parameters in the
// password file at path. A missing file yields ErrNoEntry; a file with
// loose permissions is rejected.
func Lookup(fs afero.Fs, path, host string, port int, database, user string) (string, error) {
	info, err := fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoEntry
		}
		return "", err
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return "", fmt.Errorf("password file %s has permissions %04o; must not be accessible by group or others", path, perm)
	}

	content, err := afero.ReadFile(fs, path)
	if err != nil {
		return "", err
	}

	portStr := strconv.Itoa(port)
	for line := range strings.SplitSeq(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := splitEntry(line)
		if len(fields) != 5 {
			// Be lenient: skip malformed lines.
			continue
		}

		if fieldMatches(fields[0], host) &&
			fieldMatches(fields[1], portStr) &&
			fieldMatches(fields[2], database) &&
			fieldMatches(fields[3], user) {
			return fields[4], nil
		}
	}
	return "", ErrNoEntry
}

func fieldMatches(pattern, value string) bool {
	return pattern == "*" || pattern == value
}

// splitEntry splits on unescaped colons. Backslash escapes the next
// character, so passwords and host names may contain : and \.
func splitEntry(line string) []string {
	var fields []string
	var cur strings.Builder
	escaped := false

	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ':':
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	fields = append(fields, cur.String())
	return fields
}
