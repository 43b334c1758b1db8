package splitfile

import (
	"regexp"
	"sort"
	"strings"

	"github.com/oneconcern/tablemon/pkg/core/status"
)

var parameterRex = regexp.MustCompile(`(\\?)\$\{([A-Za-z0-9_]+)\}`)

// Preprocess substitutes ${NAME} parameters in a splitfile.
//
// An escaped parameter \${NAME} is replaced by the literal ${NAME}. All missing
// parameters are reported at once.
func Preprocess(script string, params map[string]string) (string, error) {
	missing := make(map[string]struct{})

	result := parameterRex.ReplaceAllStringFunc(script, func(match string) string {
		groups := parameterRex.FindStringSubmatch(match)
		escape, name := groups[1], groups[2]
		if escape != "" {
			return "${" + name + "}"
		}
		value, ok := params[name]
		if !ok {
			missing["${"+name+"}"] = struct{}{}
			return match
		}
		return value
	})

	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		sort.Strings(names)
		return "", status.ErrMissingParameters.Wrapf("%s", strings.Join(names, ", "))
	}
	return result, nil
}
