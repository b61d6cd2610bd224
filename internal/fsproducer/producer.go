// Package fsproducer implements an in-process producer that mirrors a
// directory of Go test files, so the engine can be exercised end to end
// without a remote controller. Directories are expandable suites,
// *_test.go files expand to their test functions, and discovery happens
// lazily, one Expand call at a time.
package fsproducer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"testctl/internal/diff"
	"testctl/internal/itemid"
	"testctl/internal/producer"
	"testctl/pkg/logging"
)

var testFuncPattern = regexp.MustCompile(`(?m)^func (Test[A-Za-z0-9_]+)\s*\(`)

// Producer discovers test items beneath a root directory. It remembers
// which ids it has already reported so re-expansions emit updates and
// removals instead of duplicate adds, keeping the diff stream valid under
// the collection's strict duplicate-add rule.
type Producer struct {
	id   string
	root string

	mu   sync.Mutex
	sent map[itemid.ItemID]bool
}

// New creates a producer with the given registration id over rootDir.
func New(id, rootDir string) *Producer {
	return &Producer{
		id:   id,
		root: filepath.Clean(rootDir),
		sent: make(map[itemid.ItemID]bool),
	}
}

// ID returns the producer's registration id.
func (p *Producer) ID() string { return p.id }

// Expand reveals the subtree below id down to levels. An empty id reports
// the producer's single root item (the root directory itself).
func (p *Producer) Expand(ctx context.Context, id itemid.ItemID, levels int) ([]diff.Diff, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	d := diff.Diff{ProducerID: p.id}

	if id == "" {
		rootID := itemid.Join("", filepath.Base(p.root))
		p.emit(&d, diff.Item{
			ID:         rootID,
			ProducerID: p.id,
			Label:      filepath.Base(p.root),
			URI:        p.root,
			Expand:     diff.Expandable,
		})
		if levels > 1 || levels == producer.Unbounded {
			remaining := levels
			if remaining != producer.Unbounded {
				remaining--
			}
			if err := p.expandInto(ctx, &d, rootID, remaining); err != nil {
				return nil, err
			}
		}
		return []diff.Diff{d}, nil
	}

	if err := p.expandInto(ctx, &d, id, levels); err != nil {
		return nil, err
	}
	return []diff.Diff{d}, nil
}

// expandInto appends ops revealing levels of children below id. Caller
// holds p.mu.
func (p *Producer) expandInto(ctx context.Context, d *diff.Diff, id itemid.ItemID, levels int) error {
	if levels == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	path, kind, err := p.resolve(id)
	if err != nil {
		return err
	}

	var children []diff.Item
	switch kind {
	case kindDir:
		children, err = p.dirChildren(id, path)
	case kindFile:
		children, err = p.fileChildren(id, path)
	case kindTest:
		return nil
	}
	if err != nil {
		return err
	}

	p.removeVanished(d, id, children)
	for _, child := range children {
		p.emit(d, child)
	}
	p.emitState(d, id, diff.Expanded)

	next := levels
	if next != producer.Unbounded {
		next--
	}
	for _, child := range children {
		if child.Expand != diff.Expandable {
			continue
		}
		if err := p.expandInto(ctx, d, child.ID, next); err != nil {
			return err
		}
	}
	return nil
}

type nodeKind int

const (
	kindDir nodeKind = iota
	kindFile
	kindTest
)

// resolve maps an item id back to a filesystem location. The first segment
// names the root directory; the trailing segment of a test id names a test
// function inside its parent file.
func (p *Producer) resolve(id itemid.ItemID) (string, nodeKind, error) {
	segments, err := id.Segments()
	if err != nil {
		return "", 0, err
	}
	if segments[0] != filepath.Base(p.root) {
		return "", 0, fmt.Errorf("id %q does not belong to producer %s", id, p.id)
	}

	path := filepath.Join(append([]string{p.root}, segments[1:]...)...)
	info, err := os.Stat(path)
	if err == nil {
		if info.IsDir() {
			return path, kindDir, nil
		}
		return path, kindFile, nil
	}

	// Not on disk: a test function inside the parent path, if that parent
	// is a file.
	parent := filepath.Dir(path)
	if info, perr := os.Stat(parent); perr == nil && !info.IsDir() {
		return parent, kindTest, nil
	}
	return "", 0, fmt.Errorf("no test item behind id %q: %w", id, err)
}

func (p *Producer) dirChildren(id itemid.ItemID, path string) ([]diff.Item, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	var children []diff.Item
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if entry.IsDir() {
			children = append(children, diff.Item{
				ID:         itemid.Join(id, name),
				ParentID:   id,
				ProducerID: p.id,
				Label:      name,
				URI:        filepath.Join(path, name),
				Expand:     diff.Expandable,
			})
			continue
		}
		if strings.HasSuffix(name, "_test.go") {
			children = append(children, diff.Item{
				ID:         itemid.Join(id, name),
				ParentID:   id,
				ProducerID: p.id,
				Label:      name,
				URI:        filepath.Join(path, name),
				Expand:     diff.Expandable,
			})
		}
	}
	return children, nil
}

func (p *Producer) fileChildren(id itemid.ItemID, path string) ([]diff.Item, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	matches := testFuncPattern.FindAllStringSubmatch(string(src), -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	sort.Strings(names)

	children := make([]diff.Item, 0, len(names))
	for _, name := range names {
		children = append(children, diff.Item{
			ID:         itemid.Join(id, name),
			ParentID:   id,
			ProducerID: p.id,
			Label:      name,
			URI:        path,
			Expand:     diff.NotExpandable,
		})
	}
	return children, nil
}

// emit appends an Add for unseen ids and an Update for ids reported before.
func (p *Producer) emit(d *diff.Diff, item diff.Item) {
	if p.sent[item.ID] {
		d.Ops = append(d.Ops, diff.Update(item.ID, diff.Patch{
			Label: &item.Label,
			URI:   &item.URI,
		}))
		return
	}
	p.sent[item.ID] = true
	d.Ops = append(d.Ops, diff.Add(item))
}

func (p *Producer) emitState(d *diff.Diff, id itemid.ItemID, state diff.ExpandState) {
	if !p.sent[id] {
		return
	}
	d.Ops = append(d.Ops, diff.Update(id, diff.StatePatch(state)))
}

// removeVanished emits Removes for previously reported children of id that
// are no longer on disk, pruning their subtrees from the sent set.
func (p *Producer) removeVanished(d *diff.Diff, id itemid.ItemID, current []diff.Item) {
	present := make(map[itemid.ItemID]bool, len(current))
	for _, item := range current {
		present[item.ID] = true
	}
	for sentID := range p.sent {
		if !itemid.IsChild(id, sentID) || present[sentID] {
			continue
		}
		d.Ops = append(d.Ops, diff.Remove(sentID))
		prefix := string(sentID) + itemid.Separator
		delete(p.sent, sentID)
		for other := range p.sent {
			if strings.HasPrefix(string(other), prefix) {
				delete(p.sent, other)
			}
		}
	}
}

// RunTests accepts the plan's included items that still resolve to test
// items on disk. Execution itself lives outside the core; the result only
// reports what would run.
func (p *Producer) RunTests(ctx context.Context, plan producer.RunPlan) (producer.RunResult, error) {
	result := producer.RunResult{ProducerID: p.id}
	for _, id := range plan.Include {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if _, _, err := p.resolve(id); err != nil {
			result.Skipped = append(result.Skipped, id)
			continue
		}
		result.Accepted = append(result.Accepted, id)
	}
	logging.Info("FSProducer", "Run dispatched for profile %s: %d accepted, %d skipped",
		plan.ProfileID, len(result.Accepted), len(result.Skipped))
	return result, nil
}

// ConfigureProfile is a no-op for the filesystem producer; it has no
// configurable profiles.
func (p *Producer) ConfigureProfile(ctx context.Context, profileID string) error {
	logging.Debug("FSProducer", "ConfigureProfile(%s) ignored", profileID)
	return nil
}
