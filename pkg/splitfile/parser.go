package splitfile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/oneconcern/tablemon/pkg/core/status"
	"github.com/oneconcern/tablemon/pkg/model"
)

// Kind of step
type Kind int

// Kinds of steps
const (
	KindFromEmpty Kind = iota
	KindImport
	KindSQL
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindFromEmpty:
		return "FROM EMPTY"
	case KindImport:
		return "IMPORT"
	case KindSQL:
		return "SQL"
	case KindCustom:
		return "CUSTOM"
	default:
		return "UNKNOWN"
	}
}

// Import of a table, possibly under an alias
type Import struct {
	Table string
	Alias string
}

// Step of a splitfile
type Step struct {
	Line int
	Kind Kind

	// IMPORT
	Source  model.ImageSpec
	Imports []Import

	// SQL
	Statement string

	// custom commands
	Command string
	Args    []string
}

// Tables maps imported tables to their target name
func (s Step) Tables() map[string]string {
	if len(s.Imports) == 0 {
		return nil
	}
	tables := make(map[string]string, len(s.Imports))
	for _, imp := range s.Imports {
		tables[imp.Table] = imp.Alias
	}
	return tables
}

// String yields the normalized text of a step, used to describe the images it produces
func (s Step) String() string {
	switch s.Kind {
	case KindFromEmpty:
		return "FROM EMPTY"
	case KindImport:
		imports := make([]string, len(s.Imports))
		for i, imp := range s.Imports {
			imports[i] = imp.Table
			if imp.Alias != "" && imp.Alias != imp.Table {
				imports[i] += " AS " + imp.Alias
			}
		}
		sort.Strings(imports)
		return "FROM " + s.Source.String() + " IMPORT " + strings.Join(imports, ", ")
	case KindSQL:
		return "SQL " + normalizeStatement(s.Statement)
	case KindCustom:
		return joinWords(append([]string{s.Command}, s.Args...))
	default:
		return ""
	}
}

// normalizeStatement collapses runs of whitespace to a single space, except inside
// quoted literals and identifiers ('...', "...", `...`, [...] and $tag$...$tag$), which
// are kept verbatim.
func normalizeStatement(stmt string) string {
	var b strings.Builder
	b.Grow(len(stmt))
	pendingSpace := false

	for i := 0; i < len(stmt); {
		c := stmt[i]
		if isSQLSpace(c) {
			pendingSpace = b.Len() > 0
			i++
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}

		end := quotedSpanEnd(stmt, i)
		b.WriteString(stmt[i:end])
		i = end
	}
	return b.String()
}

func isSQLSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

// quotedSpanEnd returns the end of the quoted span starting at i, or i+1 when stmt[i] opens none.
// An unterminated span extends to the end of the statement.
func quotedSpanEnd(stmt string, i int) int {
	var closing string
	switch stmt[i] {
	case '\'', '"', '`':
		closing = stmt[i : i+1]
	case '[':
		closing = "]"
	case '$':
		tag := dollarTag(stmt[i:])
		if tag == "" {
			return i + 1
		}
		if end := strings.Index(stmt[i+len(tag):], tag); end >= 0 {
			return i + len(tag) + end + len(tag)
		}
		return len(stmt)
	default:
		return i + 1
	}

	// doubled quotes escape the quote character, e.g. 'it''s'
	for j := i + 1; j < len(stmt); j++ {
		if stmt[j:j+1] != closing {
			continue
		}
		if closing != "]" && j+1 < len(stmt) && stmt[j+1:j+2] == closing {
			j++
			continue
		}
		return j + 1
	}
	return len(stmt)
}

// dollarTag returns the opening $tag$ (or $$) of a dollar-quoted string, or "" when s does not start with one
func dollarTag(s string) string {
	for j := 1; j < len(s); j++ {
		c := s[j]
		switch {
		case c == '$':
			return s[:j+1]
		case c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || j > 1 && c >= '0' && c <= '9':
		default:
			return ""
		}
	}
	return ""
}

// Parse a preprocessed splitfile. Repositories without a namespace default to defaultNamespace.
func Parse(script, defaultNamespace string) ([]Step, error) {
	lines := strings.Split(strings.ReplaceAll(script, "\r\n", "\n"), "\n")

	var steps []Step
	for i := 0; i < len(lines); i++ {
		lineNo := i + 1
		line := strings.TrimSpace(lines[i])
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// trailing backslashes continue a line
		for strings.HasSuffix(line, `\`) && i+1 < len(lines) {
			i++
			line = strings.TrimSpace(strings.TrimSuffix(line, `\`) + " " + strings.TrimSpace(lines[i]))
		}

		keyword, rest := cutWord(line)
		var (
			step Step
			err  error
		)
		switch strings.ToUpper(keyword) {
		case "FROM":
			step, err = parseFrom(rest, defaultNamespace)
		case "SQL":
			if rest == "{" {
				var block []string
				closed := false
				for i+1 < len(lines) {
					i++
					if strings.TrimSpace(lines[i]) == "}" {
						closed = true
						break
					}
					block = append(block, lines[i])
				}
				if !closed {
					return nil, status.ErrInvalidSplitfile.Wrapf("line %d: unterminated SQL block", lineNo)
				}
				rest = strings.TrimSpace(strings.Join(block, "\n"))
			}
			if rest == "" {
				return nil, status.ErrInvalidSplitfile.Wrapf("line %d: empty SQL statement", lineNo)
			}
			step = Step{Kind: KindSQL, Statement: rest}
		default:
			step, err = parseCustom(line)
		}
		if err != nil {
			return nil, status.ErrInvalidSplitfile.Wrapf("line %d: %v", lineNo, err)
		}
		step.Line = lineNo
		steps = append(steps, step)
	}

	if len(steps) == 0 {
		return nil, status.ErrInvalidSplitfile.Wrapf("no step")
	}
	return steps, nil
}

func cutWord(line string) (string, string) {
	idx := strings.IndexFunc(line, func(r rune) bool { return r == ' ' || r == '\t' })
	if idx < 0 {
		return line, ""
	}
	return line[:idx], strings.TrimSpace(line[idx+1:])
}

func parseFrom(rest, defaultNamespace string) (Step, error) {
	source, rest := cutWord(rest)
	if strings.EqualFold(source, "EMPTY") && rest == "" {
		return Step{Kind: KindFromEmpty}, nil
	}

	keyword, tables := cutWord(rest)
	if !strings.EqualFold(keyword, "IMPORT") {
		return Step{}, fmt.Errorf("expected FROM EMPTY or FROM <repository>[:<ref>] IMPORT <tables>")
	}
	spec, err := model.ParseImageSpec(source, defaultNamespace)
	if err != nil {
		return Step{}, err
	}

	step := Step{Kind: KindImport, Source: spec}
	seen := make(map[string]struct{})
	for _, clause := range strings.Split(tables, ",") {
		fields := strings.Fields(clause)
		var imp Import
		switch {
		case len(fields) == 1:
			imp = Import{Table: fields[0], Alias: fields[0]}
		case len(fields) == 3 && strings.EqualFold(fields[1], "AS"):
			imp = Import{Table: fields[0], Alias: fields[2]}
		default:
			return Step{}, fmt.Errorf("invalid import clause %q", strings.TrimSpace(clause))
		}
		if !isIdentifier(imp.Table) || !isIdentifier(imp.Alias) {
			return Step{}, fmt.Errorf("invalid table name in import clause %q", strings.TrimSpace(clause))
		}
		for _, name := range []string{"source:" + imp.Table, "target:" + imp.Alias} {
			if _, ok := seen[name]; ok {
				return Step{}, fmt.Errorf("table %s is imported twice", strings.TrimSpace(clause))
			}
			seen[name] = struct{}{}
		}
		step.Imports = append(step.Imports, imp)
	}
	return step, nil
}

func parseCustom(line string) (Step, error) {
	words, err := splitWords(line)
	if err != nil {
		return Step{}, err
	}
	if len(words) == 0 || !isIdentifier(words[0]) {
		return Step{}, fmt.Errorf("invalid command %q", line)
	}
	return Step{Kind: KindCustom, Command: words[0], Args: words[1:]}, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
