// Package traversal provides the cancellation-aware routines built purely on
// top of the collection and the expansion coordinator: ancestor walks,
// single-id resolution, full-hierarchy materialization and per-file
// enumeration.
//
// Cancellation is cooperative: contexts are checked at step boundaries, a
// cancelled traversal stops within one step, and diffs applied before the
// cancellation are never rolled back — partial expansion is permanent
// progress.
package traversal

import (
	"context"
	"errors"
	"iter"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"testctl/internal/collection"
	"testctl/internal/diff"
	"testctl/internal/expansion"
	"testctl/internal/itemid"
	"testctl/pkg/logging"
)

// Parents yields the item with the given id followed by each ancestor up to
// the root. It is a pure local read: the sequence is lazy, finite and
// restartable, never contacts a producer, and simply ends early when an
// ancestor is missing from the mirror.
func Parents(col *collection.Collection, id itemid.ItemID) iter.Seq[diff.Item] {
	return func(yield func(diff.Item) bool) {
		current := id
		for current != "" {
			item, ok := col.GetByID(current)
			if !ok {
				return
			}
			if !yield(item) {
				return
			}
			current = item.ParentID
		}
	}
}

// ResolveByID locates the item with the given full id, expanding the mirror
// toward it as needed. It walks the id's ancestor chain from the deepest
// ancestor already present locally, expands forward one level at a time, and
// re-reads after each expansion because intermediate state may shift.
//
// It terminates on ids the producers never report: each chain position is
// expanded at most once, so the number of expansion attempts is bounded by
// the id's depth. The boolean result distinguishes "not found" from an
// expansion or cancellation error.
func ResolveByID(ctx context.Context, col *collection.Collection, coord *expansion.Coordinator, id itemid.ItemID) (diff.Item, bool, error) {
	chain := slices.Collect(itemid.IDsFromRoot(id))
	if len(chain) == 0 {
		return diff.Item{}, false, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return diff.Item{}, false, err
		}
		if item, ok := col.GetByID(id); ok {
			return item, true, nil
		}

		// Deepest ancestor currently materialized; below it nothing about
		// the target is known yet.
		deepest := -1
		for i := len(chain) - 1; i >= 0; i-- {
			if _, ok := col.GetByID(chain[i]); ok {
				deepest = i
				break
			}
		}
		if deepest < 0 {
			// Not even the root is known to any producer.
			return diff.Item{}, false, nil
		}
		if deepest == len(chain)-1 {
			// The target itself appeared between the lookup and the scan;
			// re-read it.
			continue
		}

		if err := coord.Expand(ctx, chain[deepest], 1); err != nil {
			if errors.Is(err, expansion.ErrNotFound) {
				// The ancestor was removed mid-resolve; nothing below it can
				// materialize anymore.
				return diff.Item{}, false, nil
			}
			return diff.Item{}, false, err
		}

		// The expansion either revealed the next chain position or confirmed
		// its absence; an absent position means the target can never appear.
		if _, ok := col.GetByID(chain[deepest+1]); !ok {
			return diff.Item{}, false, nil
		}
	}
}

// MaterializeAll expands every root unboundedly, racing ctx. A cancelled
// materialization returns early and leaves the collection in whatever
// partial state it reached; applied diffs are retained, never rolled back.
func MaterializeAll(ctx context.Context, col *collection.Collection, coord *expansion.Coordinator) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, root := range col.RootItems() {
		g.Go(func() error {
			return coord.Expand(gctx, root.ID, expansion.Unbounded)
		})
	}
	return g.Wait()
}

// TestsInFile enumerates every mirrored item whose location exactly matches
// uri. It first expands every root one level, then scans the mirror
// deepest-first; items whose location is a path prefix of uri and which are
// still expandable trigger an awaited one-level expansion, and the children
// that expansion reveals are folded into the scan without restarting it.
//
// The sequence is lazy and must be driven to completion or cancelled by the
// caller; it is not restartable after cancellation. Expansion and context
// errors surface through the second yield value.
func TestsInFile(ctx context.Context, col *collection.Collection, coord *expansion.Coordinator, uri string) iter.Seq2[diff.Item, error] {
	return func(yield func(diff.Item, error) bool) {
		for _, root := range col.RootItems() {
			if err := coord.Expand(ctx, root.ID, 1); err != nil {
				yield(diff.Item{}, err)
				return
			}
		}

		queue := slices.Collect(col.All())
		seen := make(map[itemid.ItemID]bool, len(queue))
		for _, item := range queue {
			seen[item.ID] = true
		}

		// expandInto performs an awaited one-level expansion of id and folds
		// the newly revealed children into the scan.
		expandInto := func(id itemid.ItemID) error {
			if err := coord.Expand(ctx, id, 1); err != nil {
				return err
			}
			expanded, ok := col.GetByID(id)
			if !ok {
				return nil
			}
			for _, childID := range expanded.Children {
				if seen[childID] {
					continue
				}
				child, ok := col.GetByID(childID)
				if !ok {
					continue
				}
				seen[childID] = true
				queue = append(queue, child)
			}
			return nil
		}

		for len(queue) > 0 {
			if err := ctx.Err(); err != nil {
				yield(diff.Item{}, err)
				return
			}
			item := queue[0]
			queue = queue[1:]

			if item.URI == uri {
				// An exact match that is still expandable may contain the
				// file's individual tests one level down.
				if item.Expand == diff.Expandable {
					if err := expandInto(item.ID); err != nil {
						yield(diff.Item{}, err)
						return
					}
					// Yield the post-expansion record, not the stale copy.
					if fresh, ok := col.GetByID(item.ID); ok {
						item = fresh
					}
				}
				if !yield(item, nil) {
					return
				}
				continue
			}
			if item.Expand == diff.Expandable && isPathPrefix(item.URI, uri) {
				// A prefix match may be hiding the file's tests one level
				// down; the expansion is awaited so the yielded order stays
				// deterministic.
				if err := expandInto(item.ID); err != nil {
					yield(diff.Item{}, err)
					return
				}
			}
		}
		logging.Debug("Traversal", "File scan for %q complete", uri)
	}
}

// isPathPrefix reports whether prefix is a proper ancestor path of uri,
// respecting path boundaries: "/a/b" is a prefix of "/a/b/c" but not of
// "/a/bc".
func isPathPrefix(prefix, uri string) bool {
	if prefix == "" || prefix == uri {
		return false
	}
	if !strings.HasPrefix(uri, prefix) {
		return false
	}
	return strings.HasPrefix(uri[len(prefix):], "/")
}
