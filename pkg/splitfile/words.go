package splitfile

import (
	"strconv"
	"strings"

	shellquote "github.com/kballard/go-shellquote"
)

// splitWords splits a command line into arguments, with POSIX shell quoting.
//
// Single quotes preserve their content verbatim. Within double quotes and
// outside quotes, a backslash escapes the next character.
func splitWords(line string) ([]string, error) {
	return shellquote.Split(line)
}

// joinWords formats arguments as a command line, double-quoting arguments when needed
func joinWords(words []string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		if w == "" || strings.ContainsAny(w, " \t\r\n\"'\\$`") {
			quoted[i] = strconv.Quote(w)
			continue
		}
		quoted[i] = w
	}
	return strings.Join(quoted, " ")
}
