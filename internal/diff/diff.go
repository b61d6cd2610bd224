// Package diff defines the wire-level vocabulary producers use to describe
// incremental changes to their test trees: add/update/remove operations,
// the per-producer ordering contract, and a msgpack codec for moving diff
// batches across a transport.
package diff

import (
	"errors"

	"testctl/internal/itemid"
)

// ExpandState tracks how much of an item's subtree has been discovered.
type ExpandState int

const (
	// NotExpandable marks leaves; expansion resolves immediately.
	NotExpandable ExpandState = iota
	// Expandable marks nodes with undiscovered children.
	Expandable
	// BusyExpanding is transient while a producer round trip is outstanding.
	// It always resolves back to Expanded, Expandable or NotExpandable.
	BusyExpanding
	// Expanded marks nodes whose producer confirmed no further children
	// exist below the requested depth.
	Expanded
)

func (s ExpandState) String() string {
	switch s {
	case NotExpandable:
		return "NotExpandable"
	case Expandable:
		return "Expandable"
	case BusyExpanding:
		return "BusyExpanding"
	case Expanded:
		return "Expanded"
	default:
		return "Unknown"
	}
}

// Item is one test item record: a suite, a file or an individual test.
// Two items with the same ID are the same logical item, even when reported
// by different diffs over time.
type Item struct {
	ID         itemid.ItemID   `msgpack:"id"`
	ParentID   itemid.ItemID   `msgpack:"parentId"` // empty for roots
	ProducerID string          `msgpack:"producerId"`
	Label      string          `msgpack:"label"`
	URI        string          `msgpack:"uri,omitempty"` // source location, optional
	Expand     ExpandState     `msgpack:"expand"`
	Children   []itemid.ItemID `msgpack:"children,omitempty"`
}

// OpKind discriminates diff operations.
type OpKind int

const (
	OpAdd OpKind = iota
	OpUpdate
	OpRemove
)

func (k OpKind) String() string {
	switch k {
	case OpAdd:
		return "add"
	case OpUpdate:
		return "update"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Patch carries the mutable fields of an Update op; nil fields are left
// untouched. Child-set growth is driven by Add ops, not patches.
type Patch struct {
	Label  *string      `msgpack:"label,omitempty"`
	URI    *string      `msgpack:"uri,omitempty"`
	Expand *ExpandState `msgpack:"expand,omitempty"`
}

// Op is a single diff operation. Item is set for OpAdd, Patch for OpUpdate;
// ID identifies the target of OpUpdate and OpRemove.
type Op struct {
	Kind  OpKind        `msgpack:"kind"`
	Item  *Item         `msgpack:"item,omitempty"`
	ID    itemid.ItemID `msgpack:"id,omitempty"`
	Patch *Patch        `msgpack:"patch,omitempty"`
}

// Add builds an add op.
func Add(item Item) Op {
	return Op{Kind: OpAdd, Item: &item, ID: item.ID}
}

// Update builds an update op.
func Update(id itemid.ItemID, patch Patch) Op {
	return Op{Kind: OpUpdate, ID: id, Patch: &patch}
}

// Remove builds a remove op. Removal cascades over the whole subtree rooted
// at id, since a parent's removal invalidates every descendant's ancestry.
func Remove(id itemid.ItemID) Op {
	return Op{Kind: OpRemove, ID: id}
}

// Diff is an ordered operation sequence from a single producer.
//
// Ordering contract: ops must be applicable in array order without ever
// referencing an id not yet introduced — a child's Add never precedes its
// parent's Add within the same diff unless the parent already exists from a
// prior diff. Diffs from different producers are independent streams; only
// per-producer ordering is assumed.
type Diff struct {
	ProducerID string `msgpack:"producerId"`
	Ops        []Op   `msgpack:"ops"`
}

// ErrProtocolViolation is returned when a diff violates the structural
// invariants of the protocol. Violating diffs are rejected whole; they are
// never silently dropped or partially applied.
var ErrProtocolViolation = errors.New("diff protocol violation")

// StatePatch is a convenience for expansion-state-only updates.
func StatePatch(state ExpandState) Patch {
	return Patch{Expand: &state}
}
