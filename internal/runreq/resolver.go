// Package runreq maps a caller's ambiguous run intent — a logical profile
// plus a set of item references possibly spanning several producers — into
// concrete, per-producer execution plans with exclusions subtracted.
package runreq

import (
	"errors"
	"fmt"
	"sort"

	"testctl/internal/itemid"
	"testctl/internal/producer"
)

// ErrUnknownProducer is returned when a referenced item's producer is not
// registered. The whole resolution fails; there is no partial plan.
var ErrUnknownProducer = errors.New("unknown producer")

// ItemRef names one item together with its owning producer.
type ItemRef struct {
	ProducerID string
	ID         itemid.ItemID
}

// Request is the ambiguous form of a run request.
type Request struct {
	ProfileID string
	Include   []ItemRef
	// Exclude overrides the externally supplied exclusion set when
	// non-nil; nil falls back to the ExclusionSource.
	Exclude []ItemRef
	AutoRun bool
}

// ExclusionSource supplies the current default exclusion set when a request
// does not carry one explicitly.
type ExclusionSource interface {
	Excluded() []ItemRef
}

// Known answers whether a producer id is currently registered. Satisfied by
// *producer.Registry.
type Known interface {
	Get(id string) (producer.Producer, bool)
}

// Resolve turns an ambiguous request into one plan per distinct producer
// represented among the requested items. Plans never mix two producers'
// items, and they come back in deterministic producer-id order.
func Resolve(req Request, known Known, fallback ExclusionSource) ([]producer.RunPlan, error) {
	exclusions := req.Exclude
	if exclusions == nil && fallback != nil {
		exclusions = fallback.Excluded()
	}

	plans := make(map[string]*producer.RunPlan)
	for _, ref := range req.Include {
		if _, ok := known.Get(ref.ProducerID); !ok {
			return nil, fmt.Errorf("%w: %q (referenced by item %q)", ErrUnknownProducer, ref.ProducerID, ref.ID)
		}
		plan, ok := plans[ref.ProducerID]
		if !ok {
			plan = &producer.RunPlan{
				ProducerID: ref.ProducerID,
				ProfileID:  req.ProfileID,
				AutoRun:    req.AutoRun,
			}
			plans[ref.ProducerID] = plan
		}
		plan.Include = append(plan.Include, ref.ID)
	}

	for _, ref := range exclusions {
		plan, ok := plans[ref.ProducerID]
		if !ok {
			// Exclusions for producers with nothing included are moot.
			continue
		}
		plan.Exclude = append(plan.Exclude, ref.ID)
	}

	ids := make([]string, 0, len(plans))
	for id := range plans {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	resolved := make([]producer.RunPlan, 0, len(ids))
	for _, id := range ids {
		plan := plans[id]
		plan.Include = subtract(plan.Include, plan.Exclude)
		resolved = append(resolved, *plan)
	}
	return resolved, nil
}

// subtract removes every excluded id from include, preserving order.
func subtract(include, exclude []itemid.ItemID) []itemid.ItemID {
	if len(exclude) == 0 {
		return include
	}
	excluded := make(map[itemid.ItemID]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}
	kept := include[:0]
	for _, id := range include {
		if !excluded[id] {
			kept = append(kept, id)
		}
	}
	return kept
}
