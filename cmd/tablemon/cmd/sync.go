package cmd

import (
	"context"
	"time"

	"github.com/oneconcern/tablemon/pkg/core"
	"github.com/oneconcern/tablemon/pkg/model"
	"github.com/oneconcern/tablemon/pkg/remote"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

func printReport(verb string, report remote.Report) {
	logStdOut("%s %d image(s), %d object(s), %d tag(s)\n", verb, len(report.Images), len(report.Objects), len(report.Tags))
	if len(report.Uploaded) > 0 {
		logStdOut("uploaded %d object(s)\n", len(report.Uploaded))
	}
	if len(report.Downloaded) > 0 {
		logStdOut("downloaded %d object(s)\n", len(report.Downloaded))
	}
	for _, tag := range report.Conflicts {
		logStdOut("kept conflicting tag %s\n", tagColor.Sprint(tag))
	}
}

// syncTarget resolves the local and remote repositories of a sync command.
//
// The remote repository defaults to the local one.
func syncTarget(inputs *cliInputs, args []string) (model.Repository, model.Repository, error) {
	repo, err := inputs.repository(args[0])
	if err != nil {
		return repo, repo, err
	}
	if len(args) == 1 {
		return repo, repo, nil
	}
	remoteRepo, err := inputs.repository(args[1])
	return repo, remoteRepo, err
}

// withRemote runs a sync operation against the local engine and the remote designated by --remote
func withRemote(ctx context.Context, inputs *cliInputs, op func(context.Context, *remote.Syncer, remote.Remote, string) error) (err error) {
	r, handler, closer, err := inputs.remote()
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, closer())
	}()

	return inputs.withEngine(ctx, func(ctx context.Context, e *core.Engine) error {
		syncer, ers := inputs.syncer(e)
		if ers != nil {
			return ers
		}
		return op(ctx, syncer, r, handler)
	})
}

var pushCmd = &cobra.Command{
	Use:   "push REPOSITORY [REMOTE_REPOSITORY] --remote REMOTE",
	Short: "Push the images of a repository to a remote",
	Long: `Push the images and tags of a local repository that the remote repository does not know.

Objects missing on the remote are uploaded with an external handler, then registered on the
remote with their location. The handler defaults to the one configured for the remote.
`,
	Example: `% tablemon push acme/weather --remote hub
% tablemon push acme/weather shared/weather --remote https://hub.example.com --handler s3`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		var err error
		defer func(t0 time.Time) {
			cliUsage(t0, "push", err)
		}(time.Now())

		ctx := context.Background()
		inputs, err := newCliInputs(cfg, &tablemonFlags)
		if err != nil {
			wrapFatalln("create command inputs", err)
			return
		}
		repo, remoteRepo, err := syncTarget(inputs, args)
		if err != nil {
			wrapFatalln("invalid repository", err)
			return
		}

		var report remote.Report
		err = withRemote(ctx, inputs, func(ctx context.Context, s *remote.Syncer, r remote.Remote, handler string) (erp error) {
			report, erp = s.Push(ctx, repo, r, remoteRepo, handler)
			return erp
		})
		if err != nil {
			wrapFatalln("push", err)
			return
		}
		printReport("pushed", report)
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull REPOSITORY [REMOTE_REPOSITORY] --remote REMOTE",
	Short: "Pull the images of a remote repository",
	Long: `Pull the images and tags of a remote repository that the local repository does not know.

Objects are registered with their external location, and downloaded lazily on checkout,
unless --download-all is set.
`,
	Example: `% tablemon pull acme/weather --remote hub`,
	Args:    cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		var err error
		defer func(t0 time.Time) {
			cliUsage(t0, "pull", err)
		}(time.Now())

		ctx := context.Background()
		inputs, err := newCliInputs(cfg, &tablemonFlags)
		if err != nil {
			wrapFatalln("create command inputs", err)
			return
		}
		repo, remoteRepo, err := syncTarget(inputs, args)
		if err != nil {
			wrapFatalln("invalid repository", err)
			return
		}

		var report remote.Report
		err = withRemote(ctx, inputs, func(ctx context.Context, s *remote.Syncer, r remote.Remote, _ string) (erp error) {
			report, erp = s.Pull(ctx, repo, r, remoteRepo)
			return erp
		})
		if err != nil {
			wrapFatalln("pull", err)
			return
		}
		printReport("pulled", report)
	},
}

var cloneCmd = &cobra.Command{
	Use:   "clone REMOTE_REPOSITORY [REPOSITORY] --remote REMOTE",
	Short: "Clone a remote repository",
	Long: `Pull a remote repository into a local repository, then check out the image at the remote HEAD.

The local repository defaults to the remote one.
`,
	Example: `% tablemon clone acme/weather --remote hub`,
	Args:    cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		var err error
		defer func(t0 time.Time) {
			cliUsage(t0, "clone", err)
		}(time.Now())

		ctx := context.Background()
		inputs, err := newCliInputs(cfg, &tablemonFlags)
		if err != nil {
			wrapFatalln("create command inputs", err)
			return
		}
		remoteRepo, repo, err := syncTarget(inputs, args)
		if err != nil {
			wrapFatalln("invalid repository", err)
			return
		}

		var (
			report remote.Report
			img    model.Image
		)
		err = withRemote(ctx, inputs, func(ctx context.Context, s *remote.Syncer, r remote.Remote, _ string) (erc error) {
			report, img, erc = s.Clone(ctx, repo, r, remoteRepo)
			return erc
		})
		if err != nil {
			wrapFatalln("clone", err)
			return
		}
		printReport("pulled", report)
		infoLogger.Printf("checked out %s:%s", repo, img.Hash)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{pushCmd, pullCmd, cloneCmd} {
		addRemoteFlag(cmd)
		addTagPolicyFlag(cmd)
		rootCmd.AddCommand(cmd)
	}
	addHandlerFlag(pushCmd)
	addDownloadAllFlag(pullCmd)
	addDownloadAllFlag(cloneCmd)
}
