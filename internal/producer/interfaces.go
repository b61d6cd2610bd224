// Package producer defines the boundary to remote test controllers and the
// registry that tracks which producers are currently registered with the
// consuming process.
package producer

import (
	"context"

	"testctl/internal/diff"
	"testctl/internal/itemid"
)

// Unbounded requests full subtree materialization from Expand.
const Unbounded = -1

// RunPlan is the concrete, single-producer execution plan handed to
// RunTests. Plans never mix items from different producers.
type RunPlan struct {
	ProducerID string
	ProfileID  string
	Include    []itemid.ItemID
	Exclude    []itemid.ItemID
	AutoRun    bool
}

// RunResult reports the outcome of a dispatched run. Execution and
// reporting proper live outside this core; the result only identifies what
// the producer accepted.
type RunResult struct {
	ProducerID string
	Accepted   []itemid.ItemID
	Skipped    []itemid.ItemID
}

// Producer is the contract a remote test controller exposes to the core.
// Producers are identified by opaque string ids assigned at registration.
type Producer interface {
	// ID returns the producer's registration id.
	ID() string

	// Expand asks the producer to reveal the subtree below id down to the
	// given number of levels (Unbounded for the full subtree). An empty id
	// asks for the producer's root items. The returned diffs honor the
	// ordering contract and are applied to the collection by the caller.
	Expand(ctx context.Context, id itemid.ItemID, levels int) ([]diff.Diff, error)

	// RunTests dispatches a resolved plan for execution.
	RunTests(ctx context.Context, plan RunPlan) (RunResult, error)

	// ConfigureProfile opens the producer's configuration surface for a
	// run profile.
	ConfigureProfile(ctx context.Context, profileID string) error
}
