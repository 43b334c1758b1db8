package cmd

import (
	"context"
	"time"

	"github.com/docker/go-units"
	"github.com/oneconcern/tablemon/pkg/core"
	"github.com/oneconcern/tablemon/pkg/model"
	"github.com/spf13/cobra"
)

var commitCmd = &cobra.Command{
	Use:   "commit REPOSITORY",
	Short: "Snapshot the workspace of a repository into a new image",
	Long: `Snapshot the tables of the workspace of a repository into a new image, child of the checked out image.

Only the tables which changed since the checked out image are stored again.
`,
	Example: `% tablemon commit acme/weather -m "add lima"`,
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var err error
		defer func(t0 time.Time) {
			cliUsage(t0, "commit", err)
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

		var img model.Image
		err = inputs.withEngine(ctx, func(ctx context.Context, e *core.Engine) (erc error) {
			if tablemonFlags.image.hash != "" {
				img, erc = e.CommitAs(ctx, repo, tablemonFlags.image.hash, tablemonFlags.image.message)
				return erc
			}
			img, erc = e.Commit(ctx, repo, tablemonFlags.image.message)
			return erc
		})
		if err != nil {
			wrapFatalln("commit", err)
			return
		}
		logStdOut("%s\n", img.Hash)
	},
}

var checkoutCmd = &cobra.Command{
	Use:   "checkout REPOSITORY:IMAGE",
	Short: "Check out an image into the workspace of a repository",
	Long: `Check out an image, designated by a tag or a hash prefix, into the workspace of a repository.

Uncommitted changes are discarded. Objects which are only known by their external location
are downloaded on the fly.
`,
	Example: `% tablemon checkout acme/weather:v1`,
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var err error
		defer func(t0 time.Time) {
			cliUsage(t0, "checkout", err)
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

		var img model.Image
		err = inputs.withEngine(ctx, func(ctx context.Context, e *core.Engine) (erc error) {
			img, erc = e.Checkout(ctx, spec.Repository, spec.RefOrHead())
			return erc
		})
		if err != nil {
			wrapFatalln("checkout", err)
			return
		}
		infoLogger.Printf("checked out %s:%s", spec.Repository, img.Hash)
	},
}

var logCmd = &cobra.Command{
	Use:   "log REPOSITORY[:IMAGE]",
	Short: "List the ancestry of an image",
	Long: `List an image and its ancestors, back to the root image of the repository.

The checked out image is used when no image is specified.
`,
	Example: `% tablemon log acme/weather`,
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var err error
		defer func(t0 time.Time) {
			cliUsage(t0, "log", err)
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

		var infos []core.ImageInfo
		err = inputs.withEngine(ctx, func(ctx context.Context, e *core.Engine) (erl error) {
			infos, erl = e.Log(ctx, spec.Repository, spec.RefOrHead())
			return erl
		})
		if err != nil {
			wrapFatalln("log", err)
			return
		}
		for _, info := range infos {
			logStdOut("%s\n", imageLine(info))
		}
	},
}

// imageDescription is an image as displayed by show
type imageDescription struct {
	core.ImageInfo `yaml:",inline"`
	Objects        int    `yaml:"objects"`
	Size           string `yaml:"size"`
}

var showCmd = &cobra.Command{
	Use:   "show REPOSITORY[:IMAGE]",
	Short: "Describe an image",
	Long: `Describe an image: its parent, tags, tables and the size of the objects it references.

The checked out image is used when no image is specified.
`,
	Example: `% tablemon show acme/weather:v1`,
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var err error
		defer func(t0 time.Time) {
			cliUsage(t0, "show", err)
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

		var desc imageDescription
		err = inputs.withEngine(ctx, func(ctx context.Context, e *core.Engine) error {
			info, ers := e.Show(ctx, spec.Repository, spec.RefOrHead())
			if ers != nil {
				return ers
			}
			var ids []string
			for _, table := range info.Tables {
				ids = append(ids, table.ObjectIDs()...)
			}
			ids = model.SortedSet(ids)
			metas, ers := e.MetaStore().GetObjectMeta(ctx, ids)
			if ers != nil {
				return ers
			}
			var size int64
			for _, meta := range metas {
				size += meta.Size
			}
			desc = imageDescription{ImageInfo: info, Objects: len(ids), Size: units.HumanSize(float64(size))}
			return nil
		})
		if err != nil {
			wrapFatalln("show", err)
			return
		}
		if err = printYAML(desc); err != nil {
			wrapFatalln("show", err)
			return
		}
	},
}

func init() {
	addMessageFlag(commitCmd)
	addHashFlag(commitCmd)
	rootCmd.AddCommand(commitCmd)

	rootCmd.AddCommand(checkoutCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(showCmd)
}
