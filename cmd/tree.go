package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"testctl/internal/collection"
	"testctl/internal/color"
	"testctl/internal/config"
	"testctl/internal/controller"
	"testctl/internal/diff"
	"testctl/internal/fsproducer"
	"testctl/internal/traversal"
)

func newTreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree <dir>",
		Short: "Discover and print the full test tree beneath a directory",
		Long: `Registers a filesystem producer over the given directory, materializes
the complete test hierarchy (directories, test files, test functions) through
the lazy-expansion engine, and prints the resulting tree. Ctrl-C cancels the
materialization; whatever was discovered up to that point is printed.`,
		Args: cobra.ExactArgs(1),
		RunE: runTree,
	}
}

func runTree(cmd *cobra.Command, args []string) error {
	cfg, err := initRuntime()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctl, err := newLocalController(ctx, cfg, args[0])
	if err != nil {
		return err
	}
	defer ctl.Stop()

	col := ctl.Collection()
	if err := traversal.MaterializeAll(ctx, col, ctl.Coordinator()); err != nil {
		if ctx.Err() == nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), color.ErrorStyle.Render("discovery cancelled, printing partial tree"))
	}

	for _, root := range col.RootItems() {
		printSubtree(cmd, col, root, 0)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d item(s)\n", col.Len())
	return nil
}

// newLocalController wires a controller with a filesystem producer over dir.
func newLocalController(ctx context.Context, cfg config.TestctlConfig, dir string) (*controller.Controller, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	ctl := controller.New(controller.Config{
		Exclusions: config.NewExclusions(cfg),
	})
	ctl.Start(ctx)

	prod := fsproducer.New("fs-local", abs)
	if err := ctl.RegisterProducer(prod); err != nil {
		ctl.Stop()
		return nil, err
	}
	return ctl, nil
}

func printSubtree(cmd *cobra.Command, col *collection.Collection, item diff.Item, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(cmd.OutOrStdout(), "%s%s\n", indent, renderItem(item))
	for _, childID := range item.Children {
		child, ok := col.GetByID(childID)
		if !ok {
			continue
		}
		printSubtree(cmd, col, child, depth+1)
	}
}

func renderItem(item diff.Item) string {
	var label string
	switch {
	case item.Expand == diff.BusyExpanding:
		label = color.BusyStyle.Render(item.Label + " …")
	case item.Expand == diff.NotExpandable:
		label = color.TestStyle.Render(item.Label)
	case strings.HasSuffix(item.Label, "_test.go"):
		label = color.FileStyle.Render(item.Label)
	default:
		label = color.SuiteStyle.Render(item.Label)
	}
	if item.Expand == diff.Expandable {
		label += color.PendingStyle.Render(" (unexpanded)")
	}
	return label
}
