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

package passfile

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePassfile(t *testing.T, content string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/home/u/.basaltpass", []byte(content), 0o600))
	return fs
}

func TestLookupExactMatch(t *testing.T) {
	fs := writePassfile(t, "db1:5480:sales:alice:s3cret\ndb2:5480:sales:alice:other\n")

	pw, err := Lookup(fs, "/home/u/.basaltpass", "db2", 5480, "sales", "alice")
	require.NoError(t, err)
	assert.Equal(t, "other", pw)
}

func TestLookupWildcards(t *testing.T) {
	fs := writePassfile(t, "*:*:*:alice:anywhere\n")

	pw, err := Lookup(fs, "/home/u/.basaltpass", "whatever", 1234, "any", "alice")
	require.NoError(t, err)
	assert.Equal(t, "anywhere", pw)
}

func TestLookupFirstMatchWins(t *testing.T) {
	fs := writePassfile(t, "db1:*:*:alice:specific\n*:*:*:alice:general\n")

	pw, err := Lookup(fs, "/home/u/.basaltpass", "db1", 5480, "sales", "alice")
	require.NoError(t, err)
	assert.Equal(t, "specific", pw)
}

func TestLookupSkipsCommentsAndMalformedLines(t *testing.T) {
	fs := writePassfile(t, "# staging credentials\n\nnot-enough-fields\n*:*:*:bob:pw\n")

	pw, err := Lookup(fs, "/home/u/.basaltpass", "h", 1, "d", "bob")
	require.NoError(t, err)
	assert.Equal(t, "pw", pw)
}

func TestLookupNoEntry(t *testing.T) {
	fs := writePassfile(t, "*:*:*:alice:pw\n")

	_, err := Lookup(fs, "/home/u/.basaltpass", "h", 1, "d", "bob")
	assert.ErrorIs(t, err, ErrNoEntry)
}

func TestLookupMissingFile(t *testing.T) {
	fs := afero.NewMemMapFs()

	_, err := Lookup(fs, "/home/u/.basaltpass", "h", 1, "d", "alice")
	assert.ErrorIs(t, err, ErrNoEntry)
}

func TestLookupRejectsLoosePermissions(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/home/u/.basaltpass", []byte("*:*:*:alice:pw\n"), 0o644))

	_, err := Lookup(fs, "/home/u/.basaltpass", "h", 1, "d", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permissions")
}

func TestLookupEscapedColons(t *testing.T) {
	fs := writePassfile(t, `*:*:*:alice:pa\:ss\\word`+"\n")

	pw, err := Lookup(fs, "/home/u/.basaltpass", "h", 1, "d", "alice")
	require.NoError(t, err)
	assert.Equal(t, `pa:ss\word`, pw)
}

func TestSplitEntry(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitEntry("a:b:c"))
	assert.Equal(t, []string{"a:b", "c"}, splitEntry(`a\:b:c`))
	assert.Equal(t, []string{""}, splitEntry(""))
}
