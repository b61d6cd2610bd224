package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"testctl/internal/color"
	"testctl/internal/itemid"
	"testctl/internal/runreq"
	"testctl/internal/traversal"
)

func newRunCmd() *cobra.Command {
	var (
		idFlags      []string
		excludeFlags []string
		profileFlag  string
	)

	cmd := &cobra.Command{
		Use:   "run <dir>",
		Short: "Resolve a run request and dispatch it to the owning producers",
		Long: `Builds a run request from the given item paths (slash-separated,
relative to the discovery root, e.g. "sub/math_test.go/TestAdd"), resolves it
into per-producer plans — subtracting the configured exclusion list unless
--exclude is given — and dispatches the plans. The accepted and skipped item
sets are printed per producer.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := initRuntime()
			if err != nil {
				return err
			}
			if len(idFlags) == 0 {
				return fmt.Errorf("at least one --id is required")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ctl, err := newLocalController(ctx, cfg, args[0])
			if err != nil {
				return err
			}
			defer ctl.Stop()

			rootLabel := filepath.Base(args[0])
			if abs, err := filepath.Abs(args[0]); err == nil {
				rootLabel = filepath.Base(abs)
			}

			profile := profileFlag
			if profile == "" {
				profile = cfg.DefaultProfileID()
			}

			req := runreq.Request{ProfileID: profile}
			for _, path := range idFlags {
				id := idFromPath(rootLabel, path)
				// Materialize the target so a typo fails here, not at the
				// producer.
				if _, found, err := traversal.ResolveByID(ctx, ctl.Collection(), ctl.Coordinator(), id); err != nil {
					return err
				} else if !found {
					return fmt.Errorf("no test item at %q", path)
				}
				req.Include = append(req.Include, runreq.ItemRef{ProducerID: "fs-local", ID: id})
			}
			for _, path := range excludeFlags {
				req.Exclude = append(req.Exclude, runreq.ItemRef{ProducerID: "fs-local", ID: idFromPath(rootLabel, path)})
			}

			results, err := ctl.RunAndWait(ctx, req)
			if err != nil {
				return err
			}
			for _, result := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d accepted, %d skipped\n",
					color.SuiteStyle.Render(result.ProducerID), len(result.Accepted), len(result.Skipped))
				for _, id := range result.Accepted {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", color.TestStyle.Render(displayPath(id)))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&idFlags, "id", nil, "item path to run (repeatable)")
	cmd.Flags().StringArrayVar(&excludeFlags, "exclude", nil, "item path to exclude (repeatable, overrides configured exclusions)")
	cmd.Flags().StringVar(&profileFlag, "profile", "", "run profile id (defaults to the configured default profile)")
	return cmd
}

// idFromPath converts a slash-separated item path relative to the discovery
// root into an encoded item id.
func idFromPath(rootLabel, path string) itemid.ItemID {
	id := itemid.Join("", rootLabel)
	for _, segment := range strings.Split(path, "/") {
		if segment == "" {
			continue
		}
		id = itemid.Join(id, segment)
	}
	return id
}

// displayPath renders an item id back into its human-readable slash form.
func displayPath(id itemid.ItemID) string {
	segments, err := id.Segments()
	if err != nil {
		return string(id)
	}
	return strings.Join(segments, "/")
}
