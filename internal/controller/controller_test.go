package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testctl/internal/diff"
	"testctl/internal/itemid"
	"testctl/internal/producer"
	"testctl/internal/runreq"
)

// mockProducer reports a fixed set of root suites and records dispatched
// run plans. Runs optionally park on a gate until cancelled.
type mockProducer struct {
	id    string
	roots []string

	gate       chan struct{} // when set, RunTests blocks until closed or cancelled
	runStarted chan struct{}

	mu    sync.Mutex
	plans []producer.RunPlan
}

func newMockProducer(id string, roots ...string) *mockProducer {
	return &mockProducer{
		id:         id,
		roots:      roots,
		runStarted: make(chan struct{}, 8),
	}
}

func (m *mockProducer) ID() string { return m.id }

func (m *mockProducer) Expand(ctx context.Context, id itemid.ItemID, levels int) ([]diff.Diff, error) {
	if id != "" {
		return nil, nil
	}
	var ops []diff.Op
	for _, label := range m.roots {
		ops = append(ops, diff.Add(diff.Item{
			ID:         itemid.Join("", label),
			ProducerID: m.id,
			Label:      label,
			Expand:     diff.Expandable,
		}))
	}
	if len(ops) == 0 {
		return nil, nil
	}
	return []diff.Diff{{ProducerID: m.id, Ops: ops}}, nil
}

func (m *mockProducer) RunTests(ctx context.Context, plan producer.RunPlan) (producer.RunResult, error) {
	m.mu.Lock()
	m.plans = append(m.plans, plan)
	m.mu.Unlock()
	m.runStarted <- struct{}{}

	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return producer.RunResult{}, ctx.Err()
		}
	}
	return producer.RunResult{ProducerID: m.id, Accepted: plan.Include}, nil
}

func (m *mockProducer) ConfigureProfile(ctx context.Context, profileID string) error { return nil }

func (m *mockProducer) dispatched() []producer.RunPlan {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]producer.RunPlan(nil), m.plans...)
}

func newStartedController(t *testing.T, cfg Config) *Controller {
	t.Helper()
	c := New(cfg)
	c.Start(context.Background())
	t.Cleanup(c.Stop)
	return c
}

func TestRegisterProducerPullsRoots(t *testing.T) {
	c := newStartedController(t, Config{})

	require.NoError(t, c.RegisterProducer(newMockProducer("p1", "suiteA", "suiteB")))

	roots := c.Collection().RootItems()
	require.Len(t, roots, 2)
	assert.Equal(t, "suiteA", roots[0].Label)
	assert.Equal(t, 0, c.Collection().BusyProviders(), "discovery bracket must be closed")

	err := c.RegisterProducer(newMockProducer("p1"))
	assert.Error(t, err, "duplicate producer ids are rejected")
}

func TestUnregisterProducerRemovesSubtree(t *testing.T) {
	c := newStartedController(t, Config{})
	require.NoError(t, c.RegisterProducer(newMockProducer("p1", "suiteA")))
	require.NoError(t, c.RegisterProducer(newMockProducer("p2", "suiteB")))

	require.NoError(t, c.UnregisterProducer("p1"))

	_, ok := c.Collection().GetByID(itemid.Join("", "suiteA"))
	assert.False(t, ok)
	_, ok = c.Collection().GetByID(itemid.Join("", "suiteB"))
	assert.True(t, ok, "other producers' items stay")
	assert.Equal(t, 1, c.Registry().Len())

	assert.Error(t, c.UnregisterProducer("p1"))
}

func TestRunAndWait(t *testing.T) {
	c := newStartedController(t, Config{})
	p1 := newMockProducer("p1", "suiteA")
	p2 := newMockProducer("p2", "suiteB")
	require.NoError(t, c.RegisterProducer(p1))
	require.NoError(t, c.RegisterProducer(p2))

	results, err := c.RunAndWait(context.Background(), runreq.Request{
		ProfileID: "run",
		Include: []runreq.ItemRef{
			{ProducerID: "p1", ID: itemid.Join("", "suiteA")},
			{ProducerID: "p2", ID: itemid.Join("", "suiteB")},
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "p1", results[0].ProducerID)
	assert.Equal(t, "p2", results[1].ProducerID)

	require.Len(t, p1.dispatched(), 1)
	assert.Equal(t, "run", p1.dispatched()[0].ProfileID)
	assert.Len(t, p1.dispatched()[0].Include, 1)
}

func TestRunAndWaitUnknownProducer(t *testing.T) {
	c := newStartedController(t, Config{})
	require.NoError(t, c.RegisterProducer(newMockProducer("p1", "suiteA")))

	_, err := c.RunAndWait(context.Background(), runreq.Request{
		Include: []runreq.ItemRef{{ProducerID: "ghost", ID: itemid.Join("", "suiteA")}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, runreq.ErrUnknownProducer)
}

type fixedExclusions []runreq.ItemRef

func (f fixedExclusions) Excluded() []runreq.ItemRef { return f }

func TestRunAndWaitAppliesDefaultExclusions(t *testing.T) {
	suiteA := itemid.Join("", "suiteA")
	suiteB := itemid.Join("", "suiteB")
	c := newStartedController(t, Config{
		Exclusions: fixedExclusions{{ProducerID: "p1", ID: suiteB}},
	})
	p1 := newMockProducer("p1", "suiteA", "suiteB")
	require.NoError(t, c.RegisterProducer(p1))

	results, err := c.RunAndWait(context.Background(), runreq.Request{
		Include: []runreq.ItemRef{
			{ProducerID: "p1", ID: suiteA},
			{ProducerID: "p1", ID: suiteB},
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []itemid.ItemID{suiteA}, results[0].Accepted)
}

func TestStartRunAndCancel(t *testing.T) {
	c := newStartedController(t, Config{})
	p1 := newMockProducer("p1", "suiteA")
	p1.gate = make(chan struct{})
	require.NoError(t, c.RegisterProducer(p1))

	events := c.SubscribeRunCancellations()

	runID, err := c.StartRun(runreq.Request{
		Include: []runreq.ItemRef{{ProducerID: "p1", ID: itemid.Join("", "suiteA")}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	select {
	case <-p1.runStarted:
	case <-time.After(time.Second):
		t.Fatal("run was never dispatched")
	}

	require.NoError(t, c.CancelRun(runID))

	select {
	case event := <-events:
		assert.Equal(t, runID, event.RunID)
		assert.False(t, event.All)
	case <-time.After(time.Second):
		t.Fatal("no cancellation event received")
	}

	// The run is gone; cancelling again is an error.
	assert.Error(t, c.CancelRun(runID))
}

func TestCancelAllRuns(t *testing.T) {
	c := newStartedController(t, Config{})
	p1 := newMockProducer("p1", "suiteA")
	p1.gate = make(chan struct{})
	require.NoError(t, c.RegisterProducer(p1))

	events := c.SubscribeRunCancellations()

	for range 2 {
		_, err := c.StartRun(runreq.Request{
			Include: []runreq.ItemRef{{ProducerID: "p1", ID: itemid.Join("", "suiteA")}},
		})
		require.NoError(t, err)
		select {
		case <-p1.runStarted:
		case <-time.After(time.Second):
			t.Fatal("run was never dispatched")
		}
	}

	c.CancelAllRuns()

	select {
	case event := <-events:
		assert.True(t, event.All)
	case <-time.After(time.Second):
		t.Fatal("no cancellation event received")
	}
}

func TestControllerUsableBeforeStart(t *testing.T) {
	c := New(Config{})
	defer c.Stop()

	// No Start call: registration and run dispatch still work off a
	// background context instead of panicking.
	require.NoError(t, c.RegisterProducer(newMockProducer("p1", "suiteA")))
	require.Len(t, c.Collection().RootItems(), 1)

	runID, err := c.StartRun(runreq.Request{
		Include: []runreq.ItemRef{{ProducerID: "p1", ID: itemid.Join("", "suiteA")}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, runID)
}

func TestSubscribeDiffs(t *testing.T) {
	c := newStartedController(t, Config{})
	sub := c.SubscribeDiffs(4)
	defer c.Collection().Unsubscribe(sub)

	require.NoError(t, c.RegisterProducer(newMockProducer("p1", "suiteA")))

	select {
	case d := <-sub.Channel:
		assert.Equal(t, "p1", d.ProducerID)
	case <-time.After(time.Second):
		t.Fatal("registration diff was not published")
	}
}

func TestConfigureProfileUnknownProducer(t *testing.T) {
	c := newStartedController(t, Config{})

	err := c.ConfigureProfile(context.Background(), "ghost", "run")
	require.Error(t, err)
	assert.ErrorIs(t, err, runreq.ErrUnknownProducer)

	require.NoError(t, c.RegisterProducer(newMockProducer("p1", "suiteA")))
	assert.NoError(t, c.ConfigureProfile(context.Background(), "p1", "run"))
}
