package traversal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testctl/internal/collection"
	"testctl/internal/diff"
	"testctl/internal/expansion"
	"testctl/internal/itemid"
	"testctl/internal/producer"
)

// stubProducer serves a static tree one level per Expand call, with optional
// per-node gates for cancellation scenarios.
type stubProducer struct {
	id       string
	children map[itemid.ItemID][]string
	uris     map[itemid.ItemID]string
	gateOn   map[itemid.ItemID]chan struct{}

	mu    sync.Mutex
	calls map[itemid.ItemID]int
}

func newStubProducer(id string, children map[itemid.ItemID][]string, uris map[itemid.ItemID]string) *stubProducer {
	return &stubProducer{
		id:       id,
		children: children,
		uris:     uris,
		gateOn:   make(map[itemid.ItemID]chan struct{}),
		calls:    make(map[itemid.ItemID]int),
	}
}

func (s *stubProducer) ID() string { return s.id }

func (s *stubProducer) Expand(ctx context.Context, id itemid.ItemID, levels int) ([]diff.Diff, error) {
	s.mu.Lock()
	s.calls[id]++
	s.mu.Unlock()

	if gate, ok := s.gateOn[id]; ok {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var ops []diff.Op
	for _, label := range s.children[id] {
		childID := itemid.Join(id, label)
		state := diff.NotExpandable
		if len(s.children[childID]) > 0 {
			state = diff.Expandable
		}
		ops = append(ops, diff.Add(diff.Item{
			ID:         childID,
			ParentID:   id,
			ProducerID: s.id,
			Label:      label,
			URI:        s.uris[childID],
			Expand:     state,
		}))
	}
	if len(ops) == 0 {
		return nil, nil
	}
	return []diff.Diff{{ProducerID: s.id, Ops: ops}}, nil
}

func (s *stubProducer) RunTests(ctx context.Context, plan producer.RunPlan) (producer.RunResult, error) {
	return producer.RunResult{ProducerID: s.id}, nil
}

func (s *stubProducer) ConfigureProfile(ctx context.Context, profileID string) error { return nil }

func (s *stubProducer) callCount(id itemid.ItemID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

func newMirror(t *testing.T, stub *stubProducer) (*collection.Collection, *expansion.Coordinator) {
	t.Helper()

	col := collection.New()
	reg := producer.NewRegistry()
	require.NoError(t, reg.Register(stub))

	var ops []diff.Op
	for _, label := range stub.children[""] {
		rootID := itemid.Join("", label)
		state := diff.NotExpandable
		if len(stub.children[rootID]) > 0 {
			state = diff.Expandable
		}
		ops = append(ops, diff.Add(diff.Item{
			ID:         rootID,
			ProducerID: stub.id,
			Label:      label,
			URI:        stub.uris[rootID],
			Expand:     state,
		}))
	}
	require.NoError(t, col.ApplyDiff(diff.Diff{ProducerID: stub.id, Ops: ops}))

	return col, expansion.NewCoordinator(col, reg)
}

// fixtureTree is the canonical catalog used across the traversal tests:
// suiteA -> fileX -> {testFoo, testBar}; suiteA -> fileY -> testBaz.
func fixtureTree() (*stubProducer, map[string]itemid.ItemID) {
	suiteA := itemid.Join("", "suiteA")
	fileX := itemid.Join(suiteA, "fileX")
	fileY := itemid.Join(suiteA, "fileY")

	stub := newStubProducer("p1",
		map[itemid.ItemID][]string{
			"":     {"suiteA"},
			suiteA: {"fileX", "fileY"},
			fileX:  {"testFoo", "testBar"},
			fileY:  {"testBaz"},
		},
		map[itemid.ItemID]string{
			suiteA:                      "/src",
			fileX:                       "/src/fileX_test.go",
			fileY:                       "/src/fileY_test.go",
			itemid.Join(fileX, "testFoo"): "/src/fileX_test.go",
			itemid.Join(fileX, "testBar"): "/src/fileX_test.go",
			itemid.Join(fileY, "testBaz"): "/src/fileY_test.go",
		},
	)
	ids := map[string]itemid.ItemID{
		"suiteA":  suiteA,
		"fileX":   fileX,
		"fileY":   fileY,
		"testFoo": itemid.Join(fileX, "testFoo"),
		"testBar": itemid.Join(fileX, "testBar"),
		"testBaz": itemid.Join(fileY, "testBaz"),
	}
	return stub, ids
}

func TestParents(t *testing.T) {
	stub, ids := fixtureTree()
	col, coord := newMirror(t, stub)
	require.NoError(t, MaterializeAll(context.Background(), col, coord))

	var labels []string
	for item := range Parents(col, ids["testFoo"]) {
		labels = append(labels, item.Label)
	}
	assert.Equal(t, []string{"testFoo", "fileX", "suiteA"}, labels)
}

func TestParentsEndsEarlyOnMissingAncestor(t *testing.T) {
	stub, ids := fixtureTree()
	col, _ := newMirror(t, stub)

	// Only the root is materialized; walking from a deeper id yields nothing.
	count := 0
	for range Parents(col, ids["testFoo"]) {
		count++
	}
	assert.Equal(t, 0, count)

	count = 0
	for range Parents(col, ids["suiteA"]) {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestResolveByIDExpandsTowardTarget(t *testing.T) {
	stub, ids := fixtureTree()
	col, coord := newMirror(t, stub)

	item, found, err := ResolveByID(context.Background(), col, coord, ids["testFoo"])
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "testFoo", item.Label)

	// The resolution expanded only the spine, not the whole catalog.
	_, ok := col.GetByID(ids["testBaz"])
	assert.False(t, ok)
	assert.Equal(t, 0, stub.callCount(ids["fileY"]))
}

func TestResolveByIDUnknownTerminates(t *testing.T) {
	stub, ids := fixtureTree()
	col, coord := newMirror(t, stub)

	ghost := itemid.Join(ids["fileX"], "testGhost")
	_, found, err := ResolveByID(context.Background(), col, coord, ghost)
	require.NoError(t, err)
	assert.False(t, found)

	// Expansion attempts are bounded by the id's depth.
	assert.Equal(t, 1, stub.callCount(ids["suiteA"]))
	assert.Equal(t, 1, stub.callCount(ids["fileX"]))
}

func TestResolveByIDDuringConcurrentDiffs(t *testing.T) {
	suiteA := itemid.Join("", "suiteA")
	fileX := itemid.Join(suiteA, "fileX")
	stub := newStubProducer("p1", map[itemid.ItemID][]string{
		"":     {"suiteA"},
		suiteA: {"fileY"},
	}, nil)
	col, coord := newMirror(t, stub)

	// Another producer stream keeps adding and removing the target while
	// resolutions are in flight; the target flipping between present and
	// absent at every read must never derail a resolution.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		present := false
		for {
			select {
			case <-stop:
				return
			default:
			}
			if present {
				_ = col.ApplyDiff(diff.Diff{ProducerID: "p1", Ops: []diff.Op{diff.Remove(fileX)}})
			} else {
				_ = col.ApplyDiff(diff.Diff{ProducerID: "p1", Ops: []diff.Op{diff.Add(diff.Item{
					ID:         fileX,
					ParentID:   suiteA,
					ProducerID: "p1",
					Label:      "fileX",
					Expand:     diff.NotExpandable,
				})}})
			}
			present = !present
		}
	}()

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		_, _, err := ResolveByID(context.Background(), col, coord, fileX)
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
}

func TestResolveByIDUnknownRoot(t *testing.T) {
	stub, _ := fixtureTree()
	col, coord := newMirror(t, stub)

	_, found, err := ResolveByID(context.Background(), col, coord, itemid.Join("", "suiteZ"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMaterializeAll(t *testing.T) {
	stub, _ := fixtureTree()
	col, coord := newMirror(t, stub)

	require.NoError(t, MaterializeAll(context.Background(), col, coord))
	assert.Equal(t, 6, col.Len())
}

func TestMaterializeAllCancelKeepsPartialState(t *testing.T) {
	stub, ids := fixtureTree()
	stub.gateOn[ids["fileX"]] = make(chan struct{})
	stub.gateOn[ids["fileY"]] = make(chan struct{})
	col, coord := newMirror(t, stub)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- MaterializeAll(ctx, col, coord)
	}()

	// suiteA's level resolves; the file-level expansions park on their gates.
	require.Eventually(t, func() bool {
		_, ok := col.GetByID(ids["fileX"])
		return ok
	}, time.Second, time.Millisecond)

	cancel()
	err := <-errCh
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	// Applied diffs survive the cancellation.
	_, ok := col.GetByID(ids["fileX"])
	assert.True(t, ok)
	_, ok = col.GetByID(ids["fileY"])
	assert.True(t, ok)
}

func TestTestsInFile(t *testing.T) {
	stub, ids := fixtureTree()
	col, coord := newMirror(t, stub)

	var labels []string
	for item, err := range TestsInFile(context.Background(), col, coord, "/src/fileX_test.go") {
		require.NoError(t, err)
		labels = append(labels, item.Label)
	}

	assert.ElementsMatch(t, []string{"fileX", "testFoo", "testBar"}, labels)
	assert.NotContains(t, labels, "suiteA")
	assert.NotContains(t, labels, "testBaz")

	// The unrelated file was never expanded.
	assert.Equal(t, 0, stub.callCount(ids["fileY"]))
}

func TestTestsInFileYieldsExpandedFileItem(t *testing.T) {
	stub, _ := fixtureTree()
	col, coord := newMirror(t, stub)

	var fileItem *diff.Item
	for item, err := range TestsInFile(context.Background(), col, coord, "/src/fileX_test.go") {
		require.NoError(t, err)
		if item.Label == "fileX" {
			it := item
			fileItem = &it
		}
	}

	// The file node was expanded during the scan; the yielded record must
	// reflect that, not the pre-expansion snapshot.
	require.NotNil(t, fileItem)
	assert.Equal(t, diff.Expanded, fileItem.Expand)
	assert.Len(t, fileItem.Children, 2)
}

func TestTestsInFileNoMatches(t *testing.T) {
	stub, _ := fixtureTree()
	col, coord := newMirror(t, stub)

	count := 0
	for _, err := range TestsInFile(context.Background(), col, coord, "/elsewhere/other_test.go") {
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 0, count)
}

func TestTestsInFileCancelled(t *testing.T) {
	stub, _ := fixtureTree()
	col, coord := newMirror(t, stub)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var sawErr error
	for _, err := range TestsInFile(ctx, col, coord, "/src/fileX_test.go") {
		if err != nil {
			sawErr = err
			break
		}
	}
	assert.ErrorIs(t, sawErr, context.Canceled)
}

func TestIsPathPrefix(t *testing.T) {
	tests := []struct {
		prefix string
		uri    string
		want   bool
	}{
		{"/a/b", "/a/b/c", true},
		{"/a", "/a/b/c", true},
		{"/a/b", "/a/bc", false},
		{"/a/b", "/a/b", false},
		{"", "/a/b", false},
		{"/a/b/c", "/a/b", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isPathPrefix(tt.prefix, tt.uri), "isPathPrefix(%q, %q)", tt.prefix, tt.uri)
	}
}
