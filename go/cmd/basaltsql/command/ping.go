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
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/basaltdb/basalt-go/go/client"
	"github.com/basaltdb/basalt-go/go/pools/connpool"
	"github.com/basaltdb/basalt-go/go/tools/retry"
)

// AddPingCommand registers the ping subcommand.
func AddPingCommand(root *cobra.Command, bc *BasaltCommand) {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check connectivity to the server",
		Long: `Connect to the server through a connection pool, run a probe query,
and report the round-trip time.

With --wait, connection attempts are retried with exponential backoff
until the server answers or the wait budget runs out. Useful while a
server is still starting up.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return bc.runPing(cmd, wait)
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 0, "Keep retrying the connection for this long")
	root.AddCommand(cmd)
}

func (bc *BasaltCommand) runPing(cmd *cobra.Command, wait time.Duration) error {
	cfg, err := bc.clientConfig()
	if err != nil {
		return err
	}

	pool := connpool.New(func(ctx context.Context) (*client.Conn, error) {
		return bc.connect(ctx, cfg, wait)
	}, connpool.Config{Max: 1})
	defer func() { _ = pool.Close() }()

	start := time.Now()
	entry, err := pool.Get(cmd.Context())
	if err != nil {
		return err
	}
	connected := time.Since(start)
	conn := entry.Conn()
	pid := conn.BackendPID()
	version := conn.HandshakeVersion()

	probeStart := time.Now()
	if _, err := conn.Execute(cmd.Context(), "SELECT 1"); err != nil {
		return err
	}
	probe := time.Since(probeStart)
	pool.Put(entry)

	stats := pool.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "%s:%d: connect %s, query %s (backend pid %d, handshake v%d, pool %d/%d available)\n",
		cfg.Host, cfg.Port, connected.Round(time.Microsecond), probe.Round(time.Microsecond),
		pid, version, stats.Available, stats.Max)
	return nil
}

// connect dials once, or keeps retrying with backoff for up to wait.
func (bc *BasaltCommand) connect(ctx context.Context, cfg *client.Config, wait time.Duration) (*client.Conn, error) {
	if wait <= 0 {
		return client.Connect(ctx, cfg)
	}

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	r := retry.New(250*time.Millisecond, 5*time.Second)
	var lastErr error
	for {
		if err := r.StartAttempt(ctx); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}
		conn, err := client.Connect(ctx, cfg)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		slog.Debug("connection attempt failed", "attempt", r.Attempt(), "error", err)
	}
}
