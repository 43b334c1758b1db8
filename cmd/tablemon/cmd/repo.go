package cmd

import (
	"context"
	"time"

	"github.com/oneconcern/tablemon/pkg/core"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var initCmd = &cobra.Command{
	Use:   "init REPOSITORY",
	Short: "Create a repository",
	Long: `Create an empty repository, with its root image checked out.

Initializing an existing repository does nothing.
`,
	Example: `% tablemon init acme/weather`,
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var err error
		defer func(t0 time.Time) {
			cliUsage(t0, "init", err)
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

		err = inputs.withEngine(ctx, func(ctx context.Context, e *core.Engine) error {
			return e.Init(ctx, repo)
		})
		if err != nil {
			wrapFatalln("init repository", err)
			return
		}
		infoLogger.Printf("initialized repository %s", repo)
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm REPOSITORY[:IMAGE]",
	Short: "Delete a repository, or an image with its descendants",
	Long: `Delete a whole repository, or an image of a repository together with all its descendants.

The tags bound to deleted images are deleted too. The objects which are no longer referenced
are kept until the next cleanup.

The plan of the deletion is shown, then confirmed unless --yes is set.
`,
	Example: `% tablemon rm acme/weather:7e1b3f0a9c2d
% tablemon rm acme/weather -y`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var err error
		defer func(t0 time.Time) {
			cliUsage(t0, "rm", err)
		}(time.Now())

		ctx := context.Background()
		inputs, err := newCliInputs(cfg, &tablemonFlags)
		if err != nil {
			wrapFatalln("create command inputs", err)
			return
		}
		spec, err := inputs.imageSpec(args[0])
		if err != nil {
			wrapFatalln("invalid image", err)
			return
		}

		err = inputs.withEngine(ctx, func(ctx context.Context, e *core.Engine) error {
			var plan core.DeletionPlan
			var erm error
			if spec.Ref == "" {
				plan, erm = e.Rm(ctx, spec.Repository, confirmPlan("delete"))
			} else {
				plan, erm = e.RmImage(ctx, spec.Repository, spec.Ref, confirmPlan("delete"))
			}
			if erm != nil {
				return erm
			}
			inputs.getLogger().Info("deleted",
				zap.Stringer("repository", spec.Repository),
				zap.Bool("whole", plan.Whole),
				zap.Int("images", len(plan.Images)),
				zap.Int("tags", len(plan.Tags)),
			)
			return nil
		})
		if err != nil {
			wrapFatalln("delete", err)
			return
		}
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune REPOSITORY",
	Short: "Delete the dangling images of a repository",
	Long: `Delete the images of a repository which are not reachable from any tag.

The plan of the deletion is shown, then confirmed unless --yes is set.
`,
	Example: `% tablemon prune acme/weather -y`,
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var err error
		defer func(t0 time.Time) {
			cliUsage(t0, "prune", err)
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

		err = inputs.withEngine(ctx, func(ctx context.Context, e *core.Engine) error {
			plan, erp := e.Prune(ctx, repo, confirmPlan("prune"))
			if erp != nil {
				return erp
			}
			if plan.Empty() {
				infoLogger.Printf("nothing to prune in %s", repo)
			}
			return nil
		})
		if err != nil {
			wrapFatalln("prune", err)
			return
		}
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete the objects which are not referenced by any image",
	Long: `Delete the objects which are not referenced by any image of any repository.

Both the metadata of objects and their fragments in the local cache are deleted.

This command MUST NOT BE RUN concurrently with other commands.
`,
	Example: `% tablemon cleanup --dry-run`,
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		var err error
		defer func(t0 time.Time) {
			cliUsage(t0, "cleanup", err)
		}(time.Now())

		ctx := context.Background()
		inputs, err := newCliInputs(cfg, &tablemonFlags)
		if err != nil {
			wrapFatalln("create command inputs", err)
			return
		}

		err = inputs.withEngine(ctx, func(ctx context.Context, e *core.Engine) error {
			report, erc := e.CleanupObjects(ctx,
				core.WithPurgeDryRun(tablemonFlags.purge.dryRun),
				core.WithPurgeLocalStore(tablemonFlags.purge.indexPath),
				core.WithPurgeLogger(inputs.getLogger()),
			)
			if erc != nil {
				return erc
			}
			deleted := report.Deleted()
			action := "deleted"
			if tablemonFlags.purge.dryRun {
				action = "would delete"
			}
			logStdOut("%s %d object(s), %d still referenced\n", action, len(deleted), report.Referenced)
			for _, id := range deleted {
				logStdOut("  %s\n", deletedColor.Sprint(id))
			}
			return nil
		})
		if err != nil {
			wrapFatalln("cleanup", err)
			return
		}
	},
}

func init() {
	rootCmd.AddCommand(initCmd)

	addForceYesFlag(rmCmd)
	rootCmd.AddCommand(rmCmd)

	addForceYesFlag(pruneCmd)
	rootCmd.AddCommand(pruneCmd)

	addDryRunFlag(cleanupCmd)
	addIndexPathFlag(cleanupCmd)
	rootCmd.AddCommand(cleanupCmd)
}
