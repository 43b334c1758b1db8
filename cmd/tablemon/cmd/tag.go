package cmd

import (
	"context"
	"time"

	"github.com/oneconcern/tablemon/pkg/core"
	"github.com/oneconcern/tablemon/pkg/model"
	"github.com/spf13/cobra"
)

var tagCmd = &cobra.Command{
	Use:   "tag REPOSITORY[:IMAGE] [TAG]",
	Short: "Tag an image, or list the tags of a repository",
	Long: `Bind a tag to an image, moving the tag when it is already bound to another image.

Without a tag, the tags of the repository are listed. With --delete, the tag is removed.
The HEAD tag is reserved.
`,
	Example: `% tablemon tag acme/weather:7e1b3f0a9c2d v1
% tablemon tag acme/weather
% tablemon tag acme/weather v1 -d`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		var err error
		defer func(t0 time.Time) {
			cliUsage(t0, "tag", err)
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
			switch {
			case len(args) == 1:
				tags, erl := e.Tags(ctx, spec.Repository)
				if erl != nil {
					return erl
				}
				for _, binding := range tags {
					logStdOut("%s  %s\n", tagColor.Sprint(binding.Tag), hashColor.Sprint(model.ShortHash(binding.Image)))
				}
				return nil
			case tablemonFlags.tag.delete:
				return e.Untag(ctx, spec.Repository, args[1])
			default:
				hash, ert := e.Tag(ctx, spec.Repository, spec.RefOrHead(), args[1])
				if ert != nil {
					return ert
				}
				infoLogger.Printf("tagged %s:%s as %s", spec.Repository, hash, args[1])
				return nil
			}
		})
		if err != nil {
			wrapFatalln("tag", err)
			return
		}
	},
}

func init() {
	addTagDeleteFlag(tagCmd)
	rootCmd.AddCommand(tagCmd)
}
