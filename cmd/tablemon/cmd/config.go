package cmd

import (
	"sort"
	"time"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the configuration",
	Long: `Print the current configuration, resolved from defaults, the config file and the environment.

Sensitive values (keys containing _PWD or _SECRET, remote tokens) are shielded, unless -s is set.
With -c, the configuration is printed in the format of a config file.
`,
	Example: `% tablemon config -c > ~/.tablemon/tablemon.yaml`,
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		var err error
		defer func(t0 time.Time) {
			cliUsage(t0, "config", err)
		}(time.Now())

		shielded := !tablemonFlags.config.noShielding
		if tablemonFlags.config.configFormat {
			var raw []byte
			if raw, err = cfg.Dump(shielded); err != nil {
				wrapFatalln("dump configuration", err)
				return
			}
			logStdOut("%s", raw)
			return
		}

		if file := cfg.File(); file != "" {
			logStdOut("# config file: %s\n", file)
		}
		values := cfg.Values(shielded)
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			logStdOut("%s: %s\n", k, values[k])
		}

		for _, name := range cfg.Remotes() {
			r, _ := cfg.Remote(name)
			logStdOut("remote %s: %s\n", name, r.Endpoint)
		}
		specs := cfg.Handlers()
		handlerNames := make([]string, 0, len(specs))
		for name := range specs {
			handlerNames = append(handlerNames, name)
		}
		sort.Strings(handlerNames)
		for _, name := range handlerNames {
			logStdOut("external handler %s: %s\n", name, specs[name].Implementation)
		}
	},
}

func init() {
	addNoShieldingFlag(configCmd)
	addConfigFormatFlag(configCmd)
	rootCmd.AddCommand(configCmd)
}
