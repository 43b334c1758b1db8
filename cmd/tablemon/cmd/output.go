package cmd

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/oneconcern/tablemon/pkg/core"
	"github.com/oneconcern/tablemon/pkg/model"
	"gopkg.in/yaml.v2"
)

var (
	// stdin provides answers to confirmation prompts
	stdin io.Reader = os.Stdin

	hashColor    = color.New(color.FgYellow)
	tagColor     = color.New(color.FgCyan, color.Bold)
	deletedColor = color.New(color.FgRed)
)

func printYAML(v interface{}) error {
	raw, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	logStdOut("%s", raw)
	return nil
}

func printPlan(action string, plan core.DeletionPlan) {
	if plan.Whole {
		logStdOut("%s repository %s\n", action, deletedColor.Sprint(plan.Repository))
	}
	if len(plan.Images) > 0 {
		logStdOut("%s %d image(s) from %s:\n", action, len(plan.Images), plan.Repository)
		for _, hash := range plan.Images {
			logStdOut("  %s\n", deletedColor.Sprint(hash))
		}
	}
	if len(plan.Tags) > 0 {
		logStdOut("%s %d tag(s) from %s:\n", action, len(plan.Tags), plan.Repository)
		for _, tag := range plan.Tags {
			logStdOut("  %s\n", deletedColor.Sprint(tag))
		}
	}
}

func userConfirm(action string, repo model.Repository) bool {
	logStdOut("Are you sure you want to %s from repository %q [y|n] ", action, repo)
	answer, _ := bufio.NewReader(stdin).ReadString('\n')
	yesno := strings.ToLower(strings.TrimSpace(answer))
	return yesno == "y" || yesno == "yes"
}

// confirmPlan prints a deletion plan, then asks for confirmation unless --yes is set
func confirmPlan(action string) core.Confirm {
	return func(plan core.DeletionPlan) bool {
		printPlan(action, plan)
		if tablemonFlags.root.forceYes {
			return true
		}
		return userConfirm(action, plan.Repository)
	}
}

func imageLine(info core.ImageInfo) string {
	var b strings.Builder
	b.WriteString(hashColor.Sprint(model.ShortHash(info.Hash)))
	b.WriteString("  ")
	b.WriteString(info.Created.Format("2006-01-02 15:04:05"))
	if len(info.Tags) > 0 {
		b.WriteString("  [")
		for i, tag := range info.Tags {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(tagColor.Sprint(tag))
		}
		b.WriteString("]")
	}
	if info.Comment != "" {
		b.WriteString("  ")
		b.WriteString(info.Comment)
	}
	return b.String()
}
