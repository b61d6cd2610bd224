// Package collection implements the incremental mirror of remote test trees.
//
// The collection is the sole writer of mirrored state: producers describe
// changes as diffs, ApplyDiff validates and applies them atomically, and
// every other component either reads the collection or requests new diffs
// through the expansion coordinator. Readers never observe a half-applied
// diff; a rejected diff leaves prior state fully intact.
package collection

import (
	"fmt"
	"iter"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"testctl/internal/diff"
	"testctl/internal/itemid"
	"testctl/pkg/logging"
)

// record is the internal mutable form of a mirrored item.
type record struct {
	item  diff.Item
	depth int
}

// DiffSubscription delivers every applied diff to one subscriber so
// downstream listeners can replay diffs onto their own mirrors.
type DiffSubscription struct {
	ID      string
	Channel chan diff.Diff
	closed  bool
	mu      sync.Mutex
}

// Close closes the subscription channel. Safe to call more than once.
func (s *DiffSubscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		close(s.Channel)
		s.closed = true
	}
}

// IsClosed returns whether the subscription has been closed.
func (s *DiffSubscription) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Metrics tracks collection usage.
type Metrics struct {
	Items         int
	Roots         int
	BusyProviders int
	DiffsApplied  int64
	DiffsRejected int64
	EventsDropped int64
}

// Collection is the mutable local mirror of one or more producers' trees.
type Collection struct {
	mu            sync.RWMutex
	items         map[itemid.ItemID]*record
	rootOrder     []itemid.ItemID
	busyProviders int
	subscriptions map[string]*DiffSubscription
	metrics       Metrics
}

// New creates an empty collection.
func New() *Collection {
	return &Collection{
		items:         make(map[itemid.ItemID]*record),
		subscriptions: make(map[string]*DiffSubscription),
	}
}

// ApplyDiff validates d against the current state and, if valid, applies all
// of its operations atomically and emits exactly one applied-diff
// notification carrying d. Invalid diffs are rejected whole with an error
// wrapping diff.ErrProtocolViolation and the collection is left untouched.
//
// A diff with an empty ProducerID is a local/synthetic diff (reviver replay,
// coordinator state transitions); its items carry their own producer ids.
func (c *Collection) ApplyDiff(d diff.Diff) error {
	c.mu.Lock()
	if err := c.validateDiff(d); err != nil {
		c.metrics.DiffsRejected++
		c.mu.Unlock()
		logging.Warn("Collection", "Rejected diff from producer %q: %v", d.ProducerID, err)
		return err
	}
	for _, op := range d.Ops {
		switch op.Kind {
		case diff.OpAdd:
			c.applyAdd(*op.Item)
		case diff.OpUpdate:
			c.applyUpdate(op.ID, *op.Patch)
		case diff.OpRemove:
			c.applyRemove(op.ID)
		}
	}
	c.metrics.DiffsApplied++
	subscribers := make([]*DiffSubscription, 0, len(c.subscriptions))
	for _, sub := range c.subscriptions {
		subscribers = append(subscribers, sub)
	}
	c.mu.Unlock()

	// Deliver outside the write lock so slow subscribers never stall
	// appliers; full channels drop.
	dropped := 0
	for _, sub := range subscribers {
		if sub.IsClosed() {
			continue
		}
		select {
		case sub.Channel <- d:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		c.mu.Lock()
		c.metrics.EventsDropped += int64(dropped)
		c.mu.Unlock()
		logging.Warn("Collection", "Dropped applied-diff event for %d subscriber(s) (channel full)", dropped)
	}
	return nil
}

// validateDiff checks the whole diff against live state plus the simulated
// effect of earlier ops in the same diff. Caller holds the write lock.
func (c *Collection) validateDiff(d diff.Diff) error {
	added := make(map[itemid.ItemID]bool)
	removed := make(map[itemid.ItemID]bool)

	live := func(id itemid.ItemID) bool {
		if added[id] {
			return true
		}
		_, ok := c.items[id]
		return ok && !removed[id]
	}

	for i, op := range d.Ops {
		switch op.Kind {
		case diff.OpAdd:
			if op.Item == nil {
				return fmt.Errorf("%w: op %d: add without item", diff.ErrProtocolViolation, i)
			}
			item := op.Item
			if _, err := itemid.Parse(string(item.ID)); err != nil {
				return fmt.Errorf("%w: op %d: %v", diff.ErrProtocolViolation, i, err)
			}
			if live(item.ID) {
				return fmt.Errorf("%w: op %d: duplicate add for live id %q", diff.ErrProtocolViolation, i, item.ID)
			}
			if item.ParentID != item.ID.Parent() {
				return fmt.Errorf("%w: op %d: parent id %q does not match ancestry embedded in %q",
					diff.ErrProtocolViolation, i, item.ParentID, item.ID)
			}
			if item.ParentID != "" && !live(item.ParentID) {
				return fmt.Errorf("%w: op %d: parent %q not introduced before child %q",
					diff.ErrProtocolViolation, i, item.ParentID, item.ID)
			}
			if d.ProducerID != "" && item.ProducerID != "" && item.ProducerID != d.ProducerID {
				return fmt.Errorf("%w: op %d: item owned by %q inside diff from %q",
					diff.ErrProtocolViolation, i, item.ProducerID, d.ProducerID)
			}
			added[item.ID] = true
			delete(removed, item.ID)
		case diff.OpUpdate:
			if op.Patch == nil {
				return fmt.Errorf("%w: op %d: update without patch", diff.ErrProtocolViolation, i)
			}
			if !live(op.ID) {
				return fmt.Errorf("%w: op %d: update of unknown id %q", diff.ErrProtocolViolation, i, op.ID)
			}
		case diff.OpRemove:
			if !live(op.ID) {
				return fmt.Errorf("%w: op %d: remove of unknown id %q", diff.ErrProtocolViolation, i, op.ID)
			}
			// Removal cascades; mark the simulated subtree gone.
			prefix := string(op.ID) + itemid.Separator
			for id := range c.items {
				if id == op.ID || strings.HasPrefix(string(id), prefix) {
					removed[id] = true
				}
			}
			for id := range added {
				if id == op.ID || strings.HasPrefix(string(id), prefix) {
					delete(added, id)
					removed[id] = true
				}
			}
		default:
			return fmt.Errorf("%w: op %d: unknown op kind %d", diff.ErrProtocolViolation, i, op.Kind)
		}
	}
	return nil
}

func (c *Collection) applyAdd(item diff.Item) {
	stored := item
	// Child links are derived from parent pointers, never trusted from the
	// wire, so the bidirectional invariant cannot be broken by a producer.
	stored.Children = nil
	rec := &record{item: stored, depth: item.ID.Depth()}
	c.items[item.ID] = rec
	if item.ParentID == "" {
		c.rootOrder = append(c.rootOrder, item.ID)
		return
	}
	parent := c.items[item.ParentID]
	parent.item.Children = append(parent.item.Children, item.ID)
}

func (c *Collection) applyUpdate(id itemid.ItemID, patch diff.Patch) {
	rec := c.items[id]
	if patch.Label != nil {
		rec.item.Label = *patch.Label
	}
	if patch.URI != nil {
		rec.item.URI = *patch.URI
	}
	if patch.Expand != nil {
		rec.item.Expand = *patch.Expand
	}
}

func (c *Collection) applyRemove(id itemid.ItemID) {
	rec, ok := c.items[id]
	if !ok {
		return
	}
	c.removeSubtree(id)
	if rec.item.ParentID == "" {
		for i, root := range c.rootOrder {
			if root == id {
				c.rootOrder = append(c.rootOrder[:i], c.rootOrder[i+1:]...)
				break
			}
		}
		return
	}
	if parent, ok := c.items[rec.item.ParentID]; ok {
		children := parent.item.Children
		for i, child := range children {
			if child == id {
				parent.item.Children = append(children[:i], children[i+1:]...)
				break
			}
		}
	}
}

// removeSubtree deletes id and every descendant. Descendants are dropped
// wholesale; only the subtree root needs unlinking from its parent.
func (c *Collection) removeSubtree(id itemid.ItemID) {
	rec, ok := c.items[id]
	if !ok {
		return
	}
	delete(c.items, id)
	for _, child := range rec.item.Children {
		c.removeSubtree(child)
	}
}

// GetByID returns a copy of the item with the given id.
func (c *Collection) GetByID(id itemid.ItemID) (diff.Item, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.items[id]
	if !ok {
		return diff.Item{}, false
	}
	return copyItem(rec.item), true
}

// RootItems returns copies of all records with no parent, in registration
// order.
func (c *Collection) RootItems() []diff.Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	roots := make([]diff.Item, 0, len(c.rootOrder))
	for _, id := range c.rootOrder {
		roots = append(roots, copyItem(c.items[id].item))
	}
	return roots
}

// Len returns the number of mirrored items.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// All returns a lazy sequence over every mirrored item in strictly
// non-ascending depth order — deepest items first — so consumers that react
// per item never see a parent before its already-materialized children.
// Each call snapshots the collection, so the sequence is restartable and
// immune to concurrent diff application.
func (c *Collection) All() iter.Seq[diff.Item] {
	return func(yield func(diff.Item) bool) {
		for _, item := range c.snapshotDeepestFirst() {
			if !yield(item) {
				return
			}
		}
	}
}

func (c *Collection) snapshotDeepestFirst() []diff.Item {
	c.mu.RLock()
	snapshot := make([]diff.Item, 0, len(c.items))
	depths := make(map[itemid.ItemID]int, len(c.items))
	for id, rec := range c.items {
		snapshot = append(snapshot, copyItem(rec.item))
		depths[id] = rec.depth
	}
	c.mu.RUnlock()

	sort.Slice(snapshot, func(i, j int) bool {
		di, dj := depths[snapshot[i].ID], depths[snapshot[j].ID]
		if di != dj {
			return di > dj
		}
		return snapshot[i].ID < snapshot[j].ID
	})
	return snapshot
}

// ReviverDiff synthesizes a diff that, replayed against an empty collection,
// reconstructs the current full state. Parents are emitted before children
// so the result honors the ordering contract. Items keep their own producer
// ids; the diff itself is a local one.
func (c *Collection) ReviverDiff() diff.Diff {
	c.mu.RLock()
	snapshot := make([]diff.Item, 0, len(c.items))
	depths := make(map[itemid.ItemID]int, len(c.items))
	for id, rec := range c.items {
		snapshot = append(snapshot, copyItem(rec.item))
		depths[id] = rec.depth
	}
	c.mu.RUnlock()

	sort.Slice(snapshot, func(i, j int) bool {
		di, dj := depths[snapshot[i].ID], depths[snapshot[j].ID]
		if di != dj {
			return di < dj
		}
		return snapshot[i].ID < snapshot[j].ID
	})

	ops := make([]diff.Op, 0, len(snapshot))
	for _, item := range snapshot {
		ops = append(ops, diff.Add(item))
	}
	return diff.Diff{Ops: ops}
}

// BeginDiscovery marks the start of a discovery burst for a producer,
// incrementing the busy-providers counter.
func (c *Collection) BeginDiscovery(producerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busyProviders++
	logging.Debug("Collection", "Discovery started for producer %s (busy=%d)", producerID, c.busyProviders)
}

// EndDiscovery marks the end of a discovery burst for a producer.
func (c *Collection) EndDiscovery(producerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busyProviders > 0 {
		c.busyProviders--
	}
	logging.Debug("Collection", "Discovery finished for producer %s (busy=%d)", producerID, c.busyProviders)
}

// BusyProviders returns the number of producers currently inside a
// discovery burst.
func (c *Collection) BusyProviders() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.busyProviders
}

// Subscribe creates a channel subscription that receives every applied
// diff. Full channels drop events rather than blocking diff application.
func (c *Collection) Subscribe(bufferSize int) *DiffSubscription {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	sub := &DiffSubscription{
		ID:      uuid.New().String(),
		Channel: make(chan diff.Diff, bufferSize),
	}
	c.mu.Lock()
	c.subscriptions[sub.ID] = sub
	c.mu.Unlock()
	return sub
}

// Unsubscribe removes and closes a subscription.
func (c *Collection) Unsubscribe(sub *DiffSubscription) {
	c.mu.Lock()
	if _, ok := c.subscriptions[sub.ID]; ok {
		delete(c.subscriptions, sub.ID)
	}
	c.mu.Unlock()
	sub.Close()
}

// GetMetrics returns a snapshot of collection metrics.
func (c *Collection) GetMetrics() Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m := c.metrics
	m.Items = len(c.items)
	m.Roots = len(c.rootOrder)
	m.BusyProviders = c.busyProviders
	return m
}

func copyItem(item diff.Item) diff.Item {
	out := item
	if item.Children != nil {
		out.Children = append([]itemid.ItemID(nil), item.Children...)
	}
	return out
}
