package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oneconcern/tablemon/pkg/core"
	"github.com/oneconcern/tablemon/pkg/splitfile"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:   "build SPLITFILE [-a KEY VALUE]...",
	Short: "Build a repository from a splitfile",
	Long: `Execute a splitfile to build a repository, reusing the images of the steps which already ran.

Parameters of the splitfile are passed as -a KEY VALUE, or -a KEY=VALUE.
The output repository defaults to the name of the splitfile, without extension.
`,
	Example: `% tablemon build weather.splitfile -a region EU -o acme/weather`,
	Args:    cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var err error
		defer func(t0 time.Time) {
			cliUsage(t0, "build", err)
		}(time.Now())

		ctx := context.Background()
		inputs, err := newCliInputs(cfg, &tablemonFlags)
		if err != nil {
			wrapFatalln("create command inputs", err)
			return
		}

		params, err := buildParams(tablemonFlags.build.args, args[1:])
		if err != nil {
			wrapFatalln("invalid parameters", err)
			return
		}

		script, err := os.ReadFile(args[0])
		if err != nil {
			wrapFatalln("read splitfile", err)
			return
		}

		output := tablemonFlags.build.output
		if output == "" {
			output = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		}
		repo, err := inputs.repository(output)
		if err != nil {
			wrapFatalln("invalid output repository", err)
			return
		}

		var result splitfile.Result
		err = inputs.withEngine(ctx, func(ctx context.Context, e *core.Engine) (erb error) {
			executor := splitfile.NewExecutor(e,
				splitfile.WithLogger(inputs.getLogger()),
				splitfile.WithCommands(inputs.config.CommandRegistry(afero.NewOsFs())),
				splitfile.WithMetrics(inputs.metricsEnabled()),
			)
			result, erb = executor.Execute(ctx, string(script), repo, params)
			return erb
		})
		if err != nil {
			wrapFatalln("build", err)
			return
		}

		for _, step := range result.Steps {
			state := "executed"
			if step.Cached {
				state = "cached"
			}
			logStdOut("line %d: %s %s (%s)\n", step.Line, step.Command, hashColor.Sprint(step.Image), state)
		}
		infoLogger.Printf("built %s:%s with %d new image(s)", result.Repository, result.Image, result.NewImages())
	},
}

// buildParams pairs the keys passed as -a KEY with the positional values following them.
//
// Keys passed as -a KEY=VALUE carry their own value.
func buildParams(keys, values []string) (map[string]string, error) {
	params := make(map[string]string, len(keys))
	for _, key := range keys {
		if k, v, ok := strings.Cut(key, "="); ok {
			params[k] = v
			continue
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("no value for parameter %s", key)
		}
		params[key], values = values[0], values[1:]
	}
	if len(values) > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(values, " "))
	}
	return params, nil
}

func init() {
	addBuildOutputFlag(buildCmd)
	addBuildArgsFlag(buildCmd)
	rootCmd.AddCommand(buildCmd)
}
