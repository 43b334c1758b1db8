package cmd

import (
	"fmt"
	"os"
	"runtime/pprof"
	"strings"

	"github.com/oneconcern/tablemon/pkg/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tablemon",
	Short: "Tablemon versions SQL tables like git versions files",
	Long: `Tablemon versions SQL tables like git versions files.

Tables are stored as content-addressed fragments, shared across images and repositories.
Repositories are built reproducibly from splitfiles, and synchronized with remote
metadata endpoints, while fragments are exchanged through external object stores.
`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if tablemonFlags.root.cpuProf {
			f, err := os.Create("cpu.prof")
			if err != nil {
				logFatalln(err)
				return
			}
			_ = pprof.StartCPUProfile(f)
		}
	},
	// *PostRun functions aren't called in case of a panic() in Run
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if tablemonFlags.root.cpuProf {
			pprof.StopCPUProfile()
		}
	},
}

var cfg *config.Config

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		osExit(1)
	}
}

// normalizeFlag accepts underscores in flag names, e.g. --download_all
func normalizeFlag(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.SetGlobalNormalizationFunc(normalizeFlag)

	addConfigFileFlag(rootCmd)
	addLogLevelFlag(rootCmd)
	addMetricsFlag(rootCmd)
	addCPUProfFlag(rootCmd)
}

// initConfig reads in the config file and environment variables
func initConfig() {
	var err error
	cfg, err = config.Load(tablemonFlags.root.configFile)
	if err != nil {
		wrapFatalln("load configuration", err)
		return
	}
	if tablemonFlags.root.logLevel == "" {
		tablemonFlags.root.logLevel = cfg.LogLevel()
	}
	initMetrics()
}
