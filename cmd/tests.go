package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"testctl/internal/color"
	"testctl/internal/traversal"
)

func newTestsCmd() *cobra.Command {
	var fileFlag string

	cmd := &cobra.Command{
		Use:   "tests <dir>",
		Short: "Enumerate the tests declared in one file",
		Long: `Registers a filesystem producer over the given directory and runs the
per-file enumeration: every test item whose location matches --file is
printed, expanding path-prefix matches on the way so tests hidden behind
unexpanded suites are found without materializing the whole tree.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := initRuntime()
			if err != nil {
				return err
			}
			if fileFlag == "" {
				return fmt.Errorf("--file is required")
			}
			uri, err := filepath.Abs(fileFlag)
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

			found := 0
			for item, err := range traversal.TestsInFile(ctx, ctl.Collection(), ctl.Coordinator(), uri) {
				if err != nil {
					return err
				}
				found++
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n",
					color.TestStyle.Render(item.Label),
					color.LocationStyle.Render(item.URI))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d test item(s) in %s\n", found, fileFlag)
			return nil
		},
	}

	cmd.Flags().StringVar(&fileFlag, "file", "", "file whose tests should be enumerated")
	return cmd
}
