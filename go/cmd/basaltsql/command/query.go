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
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/basaltdb/basalt-go/go/bterrors"
	"github.com/basaltdb/basalt-go/go/client"
)

// AddQueryCommand registers the query subcommand.
func AddQueryCommand(root *cobra.Command, bc *BasaltCommand) {
	cmd := &cobra.Command{
		Use:   "query SQL [PARAM...]",
		Short: "Run a query and print the result",
		Long: `Run a single SQL statement and print the result in the chosen format.

Additional arguments are bound to ? markers in the statement:

  basaltsql query 'SELECT * FROM t WHERE id = ?' 42`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return bc.runQuery(cmd, args[0], args[1:])
		},
	}
	root.AddCommand(cmd)
}

func (bc *BasaltCommand) runQuery(cmd *cobra.Command, sql string, params []string) error {
	cfg, err := bc.clientConfig()
	if err != nil {
		return err
	}

	conn, err := client.Connect(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	args := make([]any, len(params))
	for i, p := range params {
		args[i] = p
	}

	res, err := conn.Execute(cmd.Context(), sql, args...)
	if err != nil {
		return err
	}

	return renderResult(cmd.OutOrStdout(), res, bc.v.GetString("format"))
}

func renderResult(w io.Writer, res *client.Result, format string) error {
	switch format {
	case "table":
		return renderTable(w, res)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resultDoc(res))
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer func() { _ = enc.Close() }()
		return enc.Encode(resultDoc(res))
	default:
		return bterrors.Errorf(bterrors.KindInterface, "unknown output format %q", format)
	}
}

// resultDoc shapes a result for structured output.
func resultDoc(res *client.Result) map[string]any {
	cols := make([]string, len(res.Fields))
	for i, f := range res.Fields {
		cols[i] = f.Name
	}
	doc := map[string]any{
		"command":  res.Command,
		"rowCount": res.RowCount,
	}
	if len(cols) > 0 {
		doc["columns"] = cols
	}
	if res.NamedRows != nil {
		doc["rows"] = res.NamedRows
	} else if res.Rows != nil {
		doc["rows"] = res.Rows
	}
	return doc
}

func renderTable(w io.Writer, res *client.Result) error {
	if len(res.Fields) == 0 {
		_, err := fmt.Fprintf(w, "%s\n", res.Command)
		return err
	}

	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	for i, f := range res.Fields {
		if i > 0 {
			fmt.Fprint(tw, "\t")
		}
		fmt.Fprint(tw, f.Name)
	}
	fmt.Fprintln(tw)

	for i := 0; i < res.Len(); i++ {
		for j, f := range res.Fields {
			if j > 0 {
				fmt.Fprint(tw, "\t")
			}
			fmt.Fprint(tw, renderValue(rowValue(res, i, j, f.Name)))
		}
		fmt.Fprintln(tw)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "(%d rows)\n", res.Len())
	return err
}

func rowValue(res *client.Result, row, col int, name string) any {
	if res.NamedRows != nil {
		return res.NamedRows[row][name]
	}
	return res.Rows[row][col]
}

func renderValue(v any) string {
	if v == nil {
		return "NULL"
	}
	if b, ok := v.([]byte); ok {
		return fmt.Sprintf("\\x%x", b)
	}
	return fmt.Sprintf("%v", v)
}
