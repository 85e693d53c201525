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
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/basaltdb/basalt-go/go/bterrors"
	"github.com/basaltdb/basalt-go/go/client"
	"github.com/basaltdb/basalt-go/go/protocol"
	"github.com/basaltdb/basalt-go/go/sqltypes"
	"github.com/basaltdb/basalt-go/go/tools/passfile"
)

// BasaltCommand carries the state shared by all basaltsql subcommands:
// the merged configuration (flags, environment, config file) and the
// filesystem used to read trust material and config files.
type BasaltCommand struct {
	v  *viper.Viper
	fs afero.Fs

	configFile string
	logLevel   string
}

// GetRootCommand creates and returns the root command for basaltsql with
// all subcommands.
func GetRootCommand() (*cobra.Command, *BasaltCommand) {
	bc := &BasaltCommand{
		v:  viper.New(),
		fs: afero.NewOsFs(),
	}

	root := &cobra.Command{
		Use:   "basaltsql",
		Short: "Command-line client for Basalt servers",
		Long: `basaltsql connects to a Basalt server over the native wire protocol
and runs ad-hoc queries or connectivity checks.

Connection settings come from flags, from BASALT_* environment
variables, and from an optional YAML config file, in that order of
precedence.`,
		Args: cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			if err := bc.loadConfig(cmd); err != nil {
				return err
			}
			bc.setupLogging()
			return nil
		},
	}

	bc.registerFlags(root.PersistentFlags())

	AddQueryCommand(root, bc)
	AddPingCommand(root, bc)

	return root, bc
}

// registerFlags declares the connection and output flags shared by every
// subcommand.
func (bc *BasaltCommand) registerFlags(flags *pflag.FlagSet) {
	flags.StringP("host", "h", "localhost", "Server hostname or IP address")
	flags.IntP("port", "p", protocol.DefaultPort, "Server port")
	flags.StringP("user", "U", "", "User name to connect as")
	flags.String("password", "", "Password (prefer BASALT_PASSWORD)")
	flags.StringP("database", "d", "", "Database to connect to")
	flags.Int("security-level", 0, "Transport security: 0 preferred-unsecured, 1 only-unsecured, 2 preferred-secured, 3 only-secured")
	flags.String("passfile", "", "Path to the password file (default ~/"+passfile.FileName+")")
	flags.String("tls-ca", "", "Path to a PEM file with CA certificates to trust")
	flags.Bool("tls-skip-verify", false, "Skip server certificate verification")
	flags.Duration("timeout", 30*time.Second, "Dial and per-read timeout")
	flags.StringP("format", "o", "table", "Output format: table, json, or yaml")
	flags.String("shape", "named", "Result row shape: named or positional")
	flags.Bool("raw-bigint", false, "Keep bigint values as strings instead of float64")
	flags.Bool("raw-date", false, "Keep date values as strings instead of time.Time")
	flags.Bool("raw-timestamp", false, "Keep timestamp values as strings instead of time.Time")
	flags.Bool("raw-numeric", false, "Keep numeric values as strings instead of float64")
	flags.StringVar(&bc.configFile, "config-file", "", "Path to a basaltsql YAML config file")
	flags.StringVar(&bc.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
}

// loadConfig merges flags, BASALT_* environment variables, and the
// optional config file into bc.v. Flags win over the environment, which
// wins over the file.
func (bc *BasaltCommand) loadConfig(cmd *cobra.Command) error {
	bc.v.SetFs(bc.fs)
	bc.v.SetEnvPrefix("BASALT")
	bc.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	bc.v.AutomaticEnv()

	if err := bc.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := bc.v.BindPFlags(cmd.PersistentFlags()); err != nil {
		return err
	}

	if bc.configFile != "" {
		bc.v.SetConfigFile(bc.configFile)
		if err := bc.v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", bc.configFile, err)
		}
		return nil
	}

	bc.v.SetConfigName("basaltsql")
	bc.v.SetConfigType("yaml")
	bc.v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		bc.v.AddConfigPath(home)
	}
	if err := bc.v.ReadInConfig(); err != nil {
		// A missing config file is fine; anything else is not.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

func (bc *BasaltCommand) setupLogging() {
	var level slog.Level
	switch bc.logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

// clientConfig builds a client.Config from the merged settings. When no
// password is configured the password file is consulted.
func (bc *BasaltCommand) clientConfig() (*client.Config, error) {
	cfg := &client.Config{
		Host:          bc.v.GetString("host"),
		Port:          bc.v.GetInt("port"),
		User:          bc.v.GetString("user"),
		Password:      bc.v.GetString("password"),
		Database:      bc.v.GetString("database"),
		SecurityLevel: bc.v.GetInt("security-level"),
		Timeout:       bc.v.GetDuration("timeout"),
		Debug:         bc.logLevel == "debug",
		Raw: sqltypes.RawOptions{
			Bigint:    bc.v.GetBool("raw-bigint"),
			Date:      bc.v.GetBool("raw-date"),
			Timestamp: bc.v.GetBool("raw-timestamp"),
			Numeric:   bc.v.GetBool("raw-numeric"),
		},
	}

	switch shape := bc.v.GetString("shape"); shape {
	case "", "named":
		cfg.RowShape = client.RowsNamed
	case "positional":
		cfg.RowShape = client.RowsPositional
	default:
		return nil, bterrors.Errorf(bterrors.KindInterface, "unknown row shape %q", shape)
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = protocol.DefaultPort
	}

	if cfg.Password == "" {
		pw, err := bc.passwordFromFile(cfg)
		if err != nil {
			return nil, err
		}
		cfg.Password = pw
	}

	tlsCfg, err := bc.tlsConfig()
	if err != nil {
		return nil, err
	}
	cfg.TLSConfig = tlsCfg
	return cfg, nil
}

// passwordFromFile looks the password up in the password file. No file
// or no matching entry is not an error; the server may not require a
// password at all.
func (bc *BasaltCommand) passwordFromFile(cfg *client.Config) (string, error) {
	path := bc.v.GetString("passfile")
	if path == "" {
		var err error
		path, err = passfile.DefaultPath()
		if err != nil {
			return "", nil
		}
	}

	pw, err := passfile.Lookup(bc.fs, path, cfg.Host, cfg.Port, cfg.Database, cfg.User)
	if err != nil {
		if errors.Is(err, passfile.ErrNoEntry) {
			return "", nil
		}
		return "", err
	}
	return pw, nil
}

// tlsConfig assembles trust material from --tls-ca and
// --tls-skip-verify. Returns nil when neither is set.
func (bc *BasaltCommand) tlsConfig() (*tls.Config, error) {
	caPath := bc.v.GetString("tls-ca")
	skipVerify := bc.v.GetBool("tls-skip-verify")
	if caPath == "" && !skipVerify {
		return nil, nil
	}

	tlsCfg := &tls.Config{
		InsecureSkipVerify: skipVerify,
	}
	if caPath != "" {
		pem, err := afero.ReadFile(bc.fs, caPath)
		if err != nil {
			return nil, bterrors.Errorf(bterrors.KindInterface, "failed to read CA file %s: %v", caPath, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, bterrors.Errorf(bterrors.KindInterface, "no certificates found in %s", caPath)
		}
		tlsCfg.RootCAs = pool
	}
	return tlsCfg, nil
}
