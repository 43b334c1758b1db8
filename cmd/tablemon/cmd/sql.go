package cmd

import (
	"context"
	"strings"
	"time"

	"github.com/oneconcern/tablemon/pkg/cafs"
	"github.com/oneconcern/tablemon/pkg/core"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
)

var queryPrefixes = []string{"SELECT", "WITH", "PRAGMA", "EXPLAIN", "VALUES"}

func isQuery(statement string) bool {
	s := strings.ToUpper(strings.TrimSpace(statement))
	for _, prefix := range queryPrefixes {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

// rowsAsYAML keeps the order of columns in the output
func rowsAsYAML(columns []string, rows []cafs.Row) []yaml.MapSlice {
	res := make([]yaml.MapSlice, 0, len(rows))
	for _, row := range rows {
		item := make(yaml.MapSlice, 0, len(columns))
		for i, column := range columns {
			var v interface{}
			if i < len(row) {
				v = row[i]
			}
			item = append(item, yaml.MapItem{Key: column, Value: v})
		}
		res = append(res, item)
	}
	return res
}

var sqlCmd = &cobra.Command{
	Use:   "sql REPOSITORY STATEMENT",
	Short: "Run a SQL statement against the workspace of a repository",
	Long: `Run a SQL statement against the checked out tables of a repository.

Queries print their rows. Other statements modify the workspace, to be committed later on.
`,
	Example: `% tablemon sql acme/weather "SELECT * FROM cities"
% tablemon sql acme/weather "INSERT INTO cities VALUES (3, 'lima')"`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		var err error
		defer func(t0 time.Time) {
			cliUsage(t0, "sql", err)
		}(time.Now())

		ctx := context.Background()
		inputs, err := newCliInputs(cfg, &tablemonFlags)
		if err != nil {
			wrapFatalln("create command inputs", err)
			return
		}
		repo, err := inputs.repository(args[0])
		if err != nil {
			wrapFatalln("invalid repository", err)
			return
		}

		var (
			columns []string
			rows    []cafs.Row
		)
		statement := args[1]
		err = inputs.withEngine(ctx, func(ctx context.Context, e *core.Engine) (erq error) {
			w, erq := e.Workspace(repo)
			if erq != nil {
				return erq
			}
			if !isQuery(statement) {
				return w.Exec(ctx, statement)
			}
			columns, rows, erq = w.Query(ctx, statement)
			return erq
		})
		if err != nil {
			wrapFatalln("sql", err)
			return
		}
		if columns == nil {
			return
		}
		if err = printYAML(rowsAsYAML(columns, rows)); err != nil {
			wrapFatalln("sql", err)
			return
		}
	},
}

func init() {
	rootCmd.AddCommand(sqlCmd)
}
