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

package command

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basaltdb/basalt-go/go/client"
)

func TestLoadConfigFromFile(t *testing.T) {
	root, bc := GetRootCommand()
	bc.fs = afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(bc.fs, "/etc/basaltsql.yaml", []byte(
		"host: db.example.com\nport: 5480\nuser: alice\ndatabase: sales\n",
	), 0o644))
	bc.configFile = "/etc/basaltsql.yaml"

	require.NoError(t, root.PersistentFlags().Parse(nil))
	require.NoError(t, bc.loadConfig(root))

	cfg, err := bc.clientConfig()
	require.NoError(t, err)
	assert.Equal(t, "db.example.com", cfg.Host)
	assert.Equal(t, 5480, cfg.Port)
	assert.Equal(t, "alice", cfg.User)
	assert.Equal(t, "sales", cfg.Database)
}

func TestLoadConfigFlagBeatsFile(t *testing.T) {
	root, bc := GetRootCommand()
	bc.fs = afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(bc.fs, "/etc/basaltsql.yaml", []byte(
		"host: db.example.com\nuser: alice\n",
	), 0o644))
	bc.configFile = "/etc/basaltsql.yaml"

	require.NoError(t, root.PersistentFlags().Parse([]string{"--host", "override.local"}))
	require.NoError(t, bc.loadConfig(root))

	cfg, err := bc.clientConfig()
	require.NoError(t, err)
	assert.Equal(t, "override.local", cfg.Host)
	assert.Equal(t, "alice", cfg.User)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("BASALT_PASSWORD", "sekrit")
	t.Setenv("BASALT_SECURITY_LEVEL", "2")

	root, bc := GetRootCommand()
	bc.fs = afero.NewMemMapFs()

	require.NoError(t, root.PersistentFlags().Parse(nil))
	require.NoError(t, bc.loadConfig(root))

	cfg, err := bc.clientConfig()
	require.NoError(t, err)
	assert.Equal(t, "sekrit", cfg.Password)
	assert.Equal(t, 2, cfg.SecurityLevel)
}

func TestLoadConfigMissingFileIsFine(t *testing.T) {
	root, bc := GetRootCommand()
	bc.fs = afero.NewMemMapFs()

	require.NoError(t, root.PersistentFlags().Parse(nil))
	require.NoError(t, bc.loadConfig(root))

	cfg, err := bc.clientConfig()
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.Host)
}

func TestRowShapeAndRawFlags(t *testing.T) {
	root, bc := GetRootCommand()
	bc.fs = afero.NewMemMapFs()

	require.NoError(t, root.PersistentFlags().Parse([]string{"--shape", "positional", "--raw-bigint"}))
	require.NoError(t, bc.loadConfig(root))

	cfg, err := bc.clientConfig()
	require.NoError(t, err)
	assert.Equal(t, client.RowsPositional, cfg.RowShape)
	assert.True(t, cfg.Raw.Bigint)
	assert.False(t, cfg.Raw.Numeric)
}

func TestUnknownRowShape(t *testing.T) {
	root, bc := GetRootCommand()
	bc.fs = afero.NewMemMapFs()

	require.NoError(t, root.PersistentFlags().Parse([]string{"--shape", "sideways"}))
	require.NoError(t, bc.loadConfig(root))

	_, err := bc.clientConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown row shape")
}

func TestPasswordFromPassfile(t *testing.T) {
	root, bc := GetRootCommand()
	bc.fs = afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(bc.fs, "/secrets/basaltpass", []byte(
		"db.example.com:5480:sales:alice:fromfile\n",
	), 0o600))

	require.NoError(t, root.PersistentFlags().Parse([]string{
		"--host", "db.example.com",
		"--port", "5480",
		"--database", "sales",
		"--user", "alice",
		"--passfile", "/secrets/basaltpass",
	}))
	require.NoError(t, bc.loadConfig(root))

	cfg, err := bc.clientConfig()
	require.NoError(t, err)
	assert.Equal(t, "fromfile", cfg.Password)
}

func TestExplicitPasswordBeatsPassfile(t *testing.T) {
	root, bc := GetRootCommand()
	bc.fs = afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(bc.fs, "/secrets/basaltpass", []byte(
		"*:*:*:*:fromfile\n",
	), 0o600))

	require.NoError(t, root.PersistentFlags().Parse([]string{
		"--password", "explicit",
		"--passfile", "/secrets/basaltpass",
	}))
	require.NoError(t, bc.loadConfig(root))

	cfg, err := bc.clientConfig()
	require.NoError(t, err)
	assert.Equal(t, "explicit", cfg.Password)
}

func TestTLSConfig(t *testing.T) {
	t.Run("unset", func(t *testing.T) {
		root, bc := GetRootCommand()
		bc.fs = afero.NewMemMapFs()
		require.NoError(t, root.PersistentFlags().Parse(nil))
		require.NoError(t, bc.loadConfig(root))

		tlsCfg, err := bc.tlsConfig()
		require.NoError(t, err)
		assert.Nil(t, tlsCfg)
	})

	t.Run("skip verify", func(t *testing.T) {
		root, bc := GetRootCommand()
		bc.fs = afero.NewMemMapFs()
		require.NoError(t, root.PersistentFlags().Parse([]string{"--tls-skip-verify"}))
		require.NoError(t, bc.loadConfig(root))

		tlsCfg, err := bc.tlsConfig()
		require.NoError(t, err)
		require.NotNil(t, tlsCfg)
		assert.True(t, tlsCfg.InsecureSkipVerify)
	})

	t.Run("missing CA file", func(t *testing.T) {
		root, bc := GetRootCommand()
		bc.fs = afero.NewMemMapFs()
		require.NoError(t, root.PersistentFlags().Parse([]string{"--tls-ca", "/nope.pem"}))
		require.NoError(t, bc.loadConfig(root))

		_, err := bc.tlsConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read CA file")
	})

	t.Run("garbage CA file", func(t *testing.T) {
		root, bc := GetRootCommand()
		bc.fs = afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(bc.fs, "/ca.pem", []byte("not a pem"), 0o644))
		require.NoError(t, root.PersistentFlags().Parse([]string{"--tls-ca", "/ca.pem"}))
		require.NoError(t, bc.loadConfig(root))

		_, err := bc.tlsConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no certificates found")
	})
}

func sampleResult() *client.Result {
	return &client.Result{
		Fields: []client.FieldDescription{
			{Name: "id", Position: 1},
			{Name: "name", Position: 2},
		},
		NamedRows: []map[string]any{
			{"id": int64(1), "name": "ada"},
			{"id": int64(2), "name": nil},
		},
		RowCount: 2,
		Command:  "SELECT 2",
	}
}

func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderResult(&buf, sampleResult(), "table"))

	out := buf.String()
	assert.Contains(t, out, "id")
	assert.Contains(t, out, "ada")
	assert.Contains(t, out, "NULL")
	assert.True(t, strings.HasSuffix(out, "(2 rows)\n"))
}

func TestRenderTableCommandOnly(t *testing.T) {
	var buf bytes.Buffer
	res := &client.Result{Command: "CREATE TABLE"}
	require.NoError(t, renderResult(&buf, res, "table"))
	assert.Equal(t, "CREATE TABLE\n", buf.String())
}

func TestRenderJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderResult(&buf, sampleResult(), "json"))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "SELECT 2", doc["command"])
	assert.Equal(t, float64(2), doc["rowCount"])
	assert.Len(t, doc["rows"], 2)
}

func TestRenderYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderResult(&buf, sampleResult(), "yaml"))
	assert.Contains(t, buf.String(), "command: SELECT 2")
}

func TestRenderUnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	err := renderResult(&buf, sampleResult(), "csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}
