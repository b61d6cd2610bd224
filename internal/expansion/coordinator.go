// Package expansion turns logical "expand this node to depth L" requests
// into producer round trips, deduplicates concurrent identical requests, and
// resolves callers only once the collection reflects the result.
package expansion

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"testctl/internal/collection"
	"testctl/internal/diff"
	"testctl/internal/itemid"
	"testctl/internal/producer"
	"testctl/pkg/logging"
)

// Unbounded requests full subtree materialization. It is interpreted
// recursively: once immediate children arrive, any of them still expandable
// are themselves expanded unbounded, transitively, until the whole reachable
// subtree is expanded or the request is cancelled.
const Unbounded = producer.Unbounded

// ErrNotFound is returned when the expansion target is not present in the
// local mirror.
var ErrNotFound = errors.New("item not found in collection")

// pending is the shared handle all concurrent callers of the same id await.
type pending struct {
	done   chan struct{}
	err    error
	levels int
}

// Coordinator serializes expansion requests per item id. Requests for
// different ids are independent and carry no mutual ordering guarantee.
type Coordinator struct {
	col       *collection.Collection
	producers *producer.Registry

	mu        sync.Mutex
	inflight  map[itemid.ItemID]*pending
	satisfied map[itemid.ItemID]int // deepest level already confirmed; Unbounded dominates
}

// NewCoordinator creates a coordinator over the given mirror and registry.
func NewCoordinator(col *collection.Collection, producers *producer.Registry) *Coordinator {
	return &Coordinator{
		col:       col,
		producers: producers,
		inflight:  make(map[itemid.ItemID]*pending),
		satisfied: make(map[itemid.ItemID]int),
	}
}

// Expand expands the node down to levels (Unbounded for the full subtree).
// It resolves immediately when the node already satisfies the request,
// shares the single outstanding producer request with concurrent callers
// for the same id, and returns only after every resulting diff has been
// applied to the collection, so callers observe the new children right
// after Expand returns.
//
// On producer failure the node's expansion state reverts to its pre-request
// value and the failure is returned to the awaiting callers only.
func (c *Coordinator) Expand(ctx context.Context, id itemid.ItemID, levels int) error {
	if levels == 0 {
		return nil
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		item, ok := c.col.GetByID(id)
		if !ok {
			c.mu.Lock()
			delete(c.satisfied, id)
			c.mu.Unlock()
			return fmt.Errorf("%w: %q", ErrNotFound, id)
		}
		if item.Expand == diff.NotExpandable {
			return nil
		}

		c.mu.Lock()
		if item.Expand == diff.Expandable {
			// Expandable means no depth is confirmed anymore: a node removed
			// and re-added under the same id starts over.
			delete(c.satisfied, id)
		}
		if c.covers(id, levels) && item.Expand == diff.Expanded {
			c.mu.Unlock()
			return nil
		}
		if p, ok := c.inflight[id]; ok {
			c.mu.Unlock()
			select {
			case <-p.done:
				if p.err != nil {
					return p.err
				}
				// The shared request resolved; loop to re-check whether it
				// already covers this caller's levels.
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if item.Expand == diff.Expanded && levels == Unbounded {
			// Immediate children are already confirmed; only the recursion
			// below may still have work to do.
			c.mu.Unlock()
			return c.expandChildren(ctx, id)
		}

		p := &pending{done: make(chan struct{}), levels: levels}
		c.inflight[id] = p
		c.mu.Unlock()

		reqLevels := levels
		if levels == Unbounded {
			// Unbounded is consumer-driven: one level per round trip, then
			// recursion over whatever arrived.
			reqLevels = 1
		}
		err := c.request(ctx, item, reqLevels)

		c.mu.Lock()
		delete(c.inflight, id)
		if err == nil && !c.covers(id, reqLevels) {
			c.satisfied[id] = reqLevels
		}
		p.err = err
		c.mu.Unlock()
		close(p.done)

		if err != nil {
			return err
		}
		if levels == Unbounded {
			return c.expandChildren(ctx, id)
		}
		return nil
	}
}

// covers reports whether the already-confirmed depth for id satisfies
// levels. Caller holds c.mu.
func (c *Coordinator) covers(id itemid.ItemID, levels int) bool {
	have, ok := c.satisfied[id]
	if !ok {
		// A node marked Expanded by a producer diff without a request from
		// us is trusted for one level only.
		have = 1
	}
	if have == Unbounded {
		return true
	}
	return levels != Unbounded && levels <= have
}

// request performs exactly one producer round trip for item, bracketed as a
// discovery burst. The node goes BusyExpanding for the duration and is
// guaranteed to leave that state whichever way the request ends.
func (c *Coordinator) request(ctx context.Context, item diff.Item, levels int) error {
	prev := item.Expand

	prod, ok := c.producers.Get(item.ProducerID)
	if !ok {
		return fmt.Errorf("expanding %q: producer %s not registered", item.ID, item.ProducerID)
	}

	c.col.BeginDiscovery(item.ProducerID)
	defer c.col.EndDiscovery(item.ProducerID)

	if err := c.setExpandState(item.ID, diff.BusyExpanding); err != nil {
		return err
	}

	diffs, err := prod.Expand(ctx, item.ID, levels)
	if err != nil {
		c.revert(item.ID, prev)
		return fmt.Errorf("expanding %q via producer %s: %w", item.ID, item.ProducerID, err)
	}

	for _, d := range diffs {
		if applyErr := c.col.ApplyDiff(d); applyErr != nil {
			c.revert(item.ID, prev)
			return fmt.Errorf("expanding %q: applying producer diff: %w", item.ID, applyErr)
		}
	}

	// The producer's diffs may already have settled the node's state; if it
	// is still transient, the round trip itself is the confirmation.
	if current, ok := c.col.GetByID(item.ID); ok && current.Expand == diff.BusyExpanding {
		return c.setExpandState(item.ID, diff.Expanded)
	}
	return nil
}

// expandChildren recursively expands every still-expandable child of id,
// unbounded, racing the context. Partial progress is retained on failure or
// cancellation.
func (c *Coordinator) expandChildren(ctx context.Context, id itemid.ItemID) error {
	item, ok := c.col.GetByID(id)
	if !ok {
		return nil // removed mid-flight; nothing left to expand
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, childID := range item.Children {
		child, ok := c.col.GetByID(childID)
		if !ok || child.Expand == diff.NotExpandable {
			continue
		}
		g.Go(func() error {
			return c.Expand(gctx, childID, Unbounded)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	c.mu.Lock()
	c.satisfied[id] = Unbounded
	c.mu.Unlock()
	return nil
}

// setExpandState mutates a node's expansion state through the collection's
// single mutation path, so subscribers see the transition as a diff.
func (c *Coordinator) setExpandState(id itemid.ItemID, state diff.ExpandState) error {
	d := diff.Diff{Ops: []diff.Op{diff.Update(id, diff.StatePatch(state))}}
	return c.col.ApplyDiff(d)
}

// revert restores a node's pre-request state after a failed expansion. The
// node may have been removed by an unrelated diff in the meantime; that is
// not an error.
func (c *Coordinator) revert(id itemid.ItemID, state diff.ExpandState) {
	if _, ok := c.col.GetByID(id); !ok {
		return
	}
	if err := c.setExpandState(id, state); err != nil {
		logging.Warn("Expansion", "Could not revert state of %q after failed expansion: %v", id, err)
	}
}
