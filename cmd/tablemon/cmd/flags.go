package cmd

import (
	"time"

	"github.com/spf13/cobra"
)

type flagsT struct {
	root struct {
		configFile string
		logLevel   string
		cpuProf    bool
		forceYes   bool
		metrics    metricsFlags
	}
	image struct {
		message string
		hash    string
	}
	tag struct {
		delete bool
	}
	build struct {
		output string
		args   []string
	}
	sync struct {
		remote      string
		handler     string
		tagPolicy   string
		downloadAll bool
	}
	serve struct {
		addr    string
		subject string
		ttl     time.Duration
	}
	config struct {
		noShielding  bool
		configFormat bool
	}
	purge struct {
		dryRun    bool
		indexPath string
	}
}

var tablemonFlags = flagsT{}

func addConfigFileFlag(cmd *cobra.Command) string {
	const configFile = "config"
	cmd.PersistentFlags().StringVar(&tablemonFlags.root.configFile, configFile, "", "Config file, superseding the default search path and $TABLEMON_CONFIG")
	return configFile
}

func addLogLevelFlag(cmd *cobra.Command) string {
	const logLevel = "loglevel"
	cmd.PersistentFlags().StringVar(&tablemonFlags.root.logLevel, logLevel, "", "The logging level. Levels by increasing order of verbosity: none, error, warn, info, debug")
	return logLevel
}

func addMetricsFlag(cmd *cobra.Command) string {
	const metrics = "metrics"
	cmd.PersistentFlags().BoolVar(&tablemonFlags.root.metrics.enabled, metrics, false, "Toggle telemetry and metrics collection, logged at debug level")
	return metrics
}

func addCPUProfFlag(cmd *cobra.Command) string {
	const cpuprof = "cpuprof"
	cmd.PersistentFlags().BoolVar(&tablemonFlags.root.cpuProf, cpuprof, false, "Toggle runtime profiling")
	return cpuprof
}

func addForceYesFlag(cmd *cobra.Command) string {
	const yes = "yes"
	cmd.Flags().BoolVarP(&tablemonFlags.root.forceYes, yes, "y", false, "Do not ask for confirmation")
	return yes
}

func addMessageFlag(cmd *cobra.Command) string {
	const message = "message"
	cmd.Flags().StringVarP(&tablemonFlags.image.message, message, "m", "", "The comment recorded with the image")
	return message
}

func addHashFlag(cmd *cobra.Command) string {
	const hash = "hash"
	cmd.Flags().StringVar(&tablemonFlags.image.hash, hash, "", "Set the hash of the new image, instead of a random one")
	return hash
}

func addTagDeleteFlag(cmd *cobra.Command) string {
	const del = "delete"
	cmd.Flags().BoolVarP(&tablemonFlags.tag.delete, del, "d", false, "Delete the tag")
	return del
}

func addBuildOutputFlag(cmd *cobra.Command) string {
	const output = "output"
	cmd.Flags().StringVarP(&tablemonFlags.build.output, output, "o", "", "The repository to build. Defaults to the name of the splitfile")
	return output
}

func addBuildArgsFlag(cmd *cobra.Command) string {
	const args = "args"
	cmd.Flags().StringArrayVarP(&tablemonFlags.build.args, args, "a", nil, "Parameter of the splitfile, as -a KEY VALUE or -a KEY=VALUE. May be repeated")
	return args
}

func addRemoteFlag(cmd *cobra.Command) string {
	const remote = "remote"
	cmd.Flags().StringVarP(&tablemonFlags.sync.remote, remote, "r", "", "The remote: an alias from the config, an http(s) endpoint or a file:// metadata store")
	return remote
}

func addHandlerFlag(cmd *cobra.Command) string {
	const handler = "handler"
	cmd.Flags().StringVar(&tablemonFlags.sync.handler, handler, "", "The external handler used to upload objects. Defaults to the handler of the remote")
	return handler
}

func addTagPolicyFlag(cmd *cobra.Command) string {
	const policy = "tag-policy"
	cmd.Flags().StringVar(&tablemonFlags.sync.tagPolicy, policy, "", "How conflicting tags are resolved: keep, overwrite or reject. Defaults to TBL_TAG_POLICY")
	return policy
}

func addDownloadAllFlag(cmd *cobra.Command) string {
	const all = "download-all"
	cmd.Flags().BoolVar(&tablemonFlags.sync.downloadAll, all, false, "Download all objects immediately, instead of lazily on checkout")
	return all
}

func addServeAddrFlag(cmd *cobra.Command) string {
	const addr = "addr"
	cmd.Flags().StringVar(&tablemonFlags.serve.addr, addr, "", "The address to listen on. Defaults to TBL_API_ADDR")
	return addr
}

func addSubjectFlag(cmd *cobra.Command) string {
	const subject = "subject"
	cmd.Flags().StringVar(&tablemonFlags.serve.subject, subject, "", "The subject of the token")
	return subject
}

func addTTLFlag(cmd *cobra.Command) string {
	const ttl = "ttl"
	cmd.Flags().DurationVar(&tablemonFlags.serve.ttl, ttl, 30*24*time.Hour, "The validity of the token. 0 for a token that never expires")
	return ttl
}

func addNoShieldingFlag(cmd *cobra.Command) string {
	const noShielding = "no-shielding"
	cmd.Flags().BoolVarP(&tablemonFlags.config.noShielding, noShielding, "s", false, "Show sensitive values in clear")
	return noShielding
}

func addConfigFormatFlag(cmd *cobra.Command) string {
	const format = "config-format"
	cmd.Flags().BoolVarP(&tablemonFlags.config.configFormat, format, "c", false, "Print the configuration as a config file")
	return format
}

func addDryRunFlag(cmd *cobra.Command) string {
	const dryRun = "dry-run"
	cmd.Flags().BoolVar(&tablemonFlags.purge.dryRun, dryRun, false, "Only report the objects which would be deleted")
	return dryRun
}

func addIndexPathFlag(cmd *cobra.Command) string {
	const index = "index-dir"
	cmd.Flags().StringVar(&tablemonFlags.purge.indexPath, index, "", "Keep the index of referenced objects on disk, in this directory, instead of in memory")
	return index
}
