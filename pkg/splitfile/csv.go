package splitfile

import (
	"context"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	blake2b "github.com/minio/blake2b-simd"
	"github.com/oneconcern/tablemon/pkg/cafs"
	"github.com/oneconcern/tablemon/pkg/core"
	"github.com/oneconcern/tablemon/pkg/core/status"
	"github.com/oneconcern/tablemon/pkg/model"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

// csvCommand loads a CSV file with a header line into a table of the workspace.
//
// Usage: LOAD_CSV <path> <table>
//
// Column types are inferred from the content: INTEGER, REAL or TEXT. Empty values are NULL.
type csvCommand struct {
	fs     afero.Fs
	engine *core.Engine
}

// NewCSVFactory builds the implementation of LOAD_CSV, reading files from fs
func NewCSVFactory(fs afero.Fs) Factory {
	return func(engine *core.Engine) (Command, error) {
		if fs == nil {
			return nil, fmt.Errorf("no file system to read CSV files from")
		}
		return &csvCommand{fs: fs, engine: engine}, nil
	}
}

func (c *csvCommand) parseArgs(args []string) (string, string, error) {
	if len(args) != 2 {
		return "", "", status.ErrInvalidArgument.Wrapf("LOAD_CSV expects a path and a table, got %d arguments", len(args))
	}
	if !isIdentifier(args[1]) {
		return "", "", status.ErrInvalidArgument.Wrapf("invalid table name %q", args[1])
	}
	return args[0], args[1], nil
}

// CalcHash is the hash of the content of the file, so the file is loaded again only when it changes
func (c *csvCommand) CalcHash(_ context.Context, _ model.Repository, args []string) (hash string, err error) {
	pth, table, err := c.parseArgs(args)
	if err != nil {
		return "", err
	}
	file, err := c.fs.Open(pth)
	if err != nil {
		return "", status.ErrNotFound.Wrapf("CSV file %s: %v", pth, err)
	}
	defer func() {
		err = multierr.Append(err, file.Close())
	}()

	h := blake2b.New256()
	if _, err = io.Copy(h, file); err != nil {
		return "", err
	}
	return model.ContextHash("LOAD_CSV", table, hex.EncodeToString(h.Sum(nil))), nil
}

func (c *csvCommand) Execute(ctx context.Context, repo model.Repository, args []string) (err error) {
	pth, table, err := c.parseArgs(args)
	if err != nil {
		return err
	}
	file, err := c.fs.Open(pth)
	if err != nil {
		return status.ErrNotFound.Wrapf("CSV file %s: %v", pth, err)
	}
	defer func() {
		err = multierr.Append(err, file.Close())
	}()

	schema, rows, err := readCSV(file)
	if err != nil {
		return fmt.Errorf("reading CSV file %s: %w", pth, err)
	}
	w, err := c.engine.Workspace(repo)
	if err != nil {
		return err
	}
	return w.Load(ctx, table, schema, rows)
}

func readCSV(rdr io.Reader) (model.Schema, []cafs.Row, error) {
	reader := csv.NewReader(rdr)
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("missing header line")
	}

	header := records[0]
	schema := make(model.Schema, len(header))
	for j, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, nil, fmt.Errorf("column %d has no name", j+1)
		}
		schema[j] = model.Column{Ordinal: j + 1, Name: name, Type: inferType(records[1:], j)}
	}

	rows := make([]cafs.Row, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(cafs.Row, len(record))
		for j, value := range record {
			row[j] = convert(value, schema[j].Type)
		}
		rows = append(rows, row)
	}
	return schema, rows, nil
}

func inferType(records [][]string, column int) string {
	isInteger, isReal := true, true
	for _, record := range records {
		value := strings.TrimSpace(record[column])
		if value == "" {
			continue
		}
		if _, err := strconv.ParseInt(value, 10, 64); err != nil {
			isInteger = false
		}
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			isReal = false
		}
	}
	switch {
	case isInteger:
		return "INTEGER"
	case isReal:
		return "REAL"
	default:
		return "TEXT"
	}
}

func convert(value, typ string) interface{} {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	switch typ {
	case "INTEGER":
		n, _ := strconv.ParseInt(trimmed, 10, 64)
		return n
	case "REAL":
		f, _ := strconv.ParseFloat(trimmed, 64)
		return f
	default:
		return value
	}
}
