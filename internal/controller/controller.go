// Package controller is the consumer-facing surface of the test mirror: it
// owns the collection, the expansion coordinator and the producer registry,
// and exposes producer registration, run dispatch, cancellation and event
// subscriptions to embedding hosts.
package controller

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"testctl/internal/collection"
	"testctl/internal/diff"
	"testctl/internal/expansion"
	"testctl/internal/producer"
	"testctl/internal/runreq"
	"testctl/pkg/logging"
)

// Config holds configuration for a new controller.
type Config struct {
	// Exclusions supplies the default exclusion set for run requests that
	// carry none explicitly. Optional.
	Exclusions runreq.ExclusionSource
}

// Controller coordinates producers, the mirror and run dispatch. It is the
// central control point for all consumer operations.
type Controller struct {
	registry   *producer.Registry
	col        *collection.Collection
	coord      *expansion.Coordinator
	exclusions runreq.ExclusionSource

	// Run tracking
	runCancels map[string]context.CancelFunc

	// Run cancellation event subscribers
	runSubscribers []chan<- RunCancelledEvent

	// Context for cancellation
	ctx        context.Context
	cancelFunc context.CancelFunc

	mu sync.RWMutex // Protects run tracking and subscriber lists
}

// New creates a controller with an empty mirror. Call Start before
// registering producers.
func New(cfg Config) *Controller {
	registry := producer.NewRegistry()
	col := collection.New()

	return &Controller{
		registry:   registry,
		col:        col,
		coord:      expansion.NewCoordinator(col, registry),
		exclusions: cfg.Exclusions,
		runCancels: make(map[string]context.CancelFunc),
	}
}

// Start binds the controller to ctx. Producer round trips and dispatched
// runs are children of this context.
func (c *Controller) Start(ctx context.Context) {
	c.ctx, c.cancelFunc = context.WithCancel(ctx)
}

// Stop cancels all in-flight runs and expansion requests.
func (c *Controller) Stop() {
	c.CancelAllRuns()
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
}

// context returns the controller's lifecycle context, defaulting to the
// background context when Start was never called.
func (c *Controller) context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// Collection returns the mirror for read access and diff subscriptions.
func (c *Controller) Collection() *collection.Collection {
	return c.col
}

// Coordinator returns the expansion coordinator for traversal algorithms.
func (c *Controller) Coordinator() *expansion.Coordinator {
	return c.coord
}

// Registry returns the producer registry.
func (c *Controller) Registry() *producer.Registry {
	return c.registry
}

// RegisterProducer registers p and pulls its root items into the mirror
// inside a discovery bracket, so the roots are visible as soon as
// registration returns.
func (c *Controller) RegisterProducer(p producer.Producer) error {
	if err := c.registry.Register(p); err != nil {
		return err
	}

	c.col.BeginDiscovery(p.ID())
	defer c.col.EndDiscovery(p.ID())

	diffs, err := p.Expand(c.context(), "", 1)
	if err != nil {
		return fmt.Errorf("initial discovery for producer %s: %w", p.ID(), err)
	}
	for _, d := range diffs {
		if err := c.col.ApplyDiff(d); err != nil {
			return fmt.Errorf("initial discovery for producer %s: %w", p.ID(), err)
		}
	}

	logging.Info("Controller", "Producer %s registered with %d root item(s)", p.ID(), len(c.col.RootItems()))
	return nil
}

// UnregisterProducer removes the producer and its entire subtree from the
// mirror via cascading removes.
func (c *Controller) UnregisterProducer(id string) error {
	if err := c.registry.Unregister(id); err != nil {
		return err
	}

	var ops []diff.Op
	for _, root := range c.col.RootItems() {
		if root.ProducerID == id {
			ops = append(ops, diff.Remove(root.ID))
		}
	}
	if len(ops) == 0 {
		return nil
	}
	if err := c.col.ApplyDiff(diff.Diff{Ops: ops}); err != nil {
		return fmt.Errorf("removing items of producer %s: %w", id, err)
	}

	logging.Info("Controller", "Producer %s unregistered, %d root subtree(s) removed", id, len(ops))
	return nil
}

// ApplyDiff is the entry point for transport-delivered diff batches.
func (c *Controller) ApplyDiff(d diff.Diff) error {
	return c.col.ApplyDiff(d)
}

// StartRun resolves the ambiguous request into per-producer plans and
// dispatches them asynchronously. It returns the run id used for
// cancellation. Resolution failures (including unknown producers) are
// reported synchronously; no partial plan is dispatched.
func (c *Controller) StartRun(req runreq.Request) (string, error) {
	plans, err := runreq.Resolve(req, c.registry, c.exclusions)
	if err != nil {
		return "", err
	}

	runID := uuid.New().String()
	runCtx, cancel := context.WithCancel(c.context())

	c.mu.Lock()
	c.runCancels[runID] = cancel
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.runCancels, runID)
			c.mu.Unlock()
			cancel()
		}()
		if _, err := c.dispatch(runCtx, plans); err != nil {
			logging.Error("Controller", err, "Run %s failed", runID)
			return
		}
		logging.Info("Controller", "Run %s finished (%d plan(s))", runID, len(plans))
	}()

	return runID, nil
}

// RunAndWait resolves and dispatches a request synchronously, returning the
// per-producer results.
func (c *Controller) RunAndWait(ctx context.Context, req runreq.Request) ([]producer.RunResult, error) {
	plans, err := runreq.Resolve(req, c.registry, c.exclusions)
	if err != nil {
		return nil, err
	}
	return c.dispatch(ctx, plans)
}

// dispatch fans the plans out to their producers concurrently. Each plan
// goes to exactly one producer; results come back in plan order.
func (c *Controller) dispatch(ctx context.Context, plans []producer.RunPlan) ([]producer.RunResult, error) {
	results := make([]producer.RunResult, len(plans))
	g, gctx := errgroup.WithContext(ctx)
	for i, plan := range plans {
		prod, ok := c.registry.Get(plan.ProducerID)
		if !ok {
			return nil, fmt.Errorf("%w: %q", runreq.ErrUnknownProducer, plan.ProducerID)
		}
		g.Go(func() error {
			result, err := prod.RunTests(gctx, plan)
			if err != nil {
				return fmt.Errorf("producer %s: %w", plan.ProducerID, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// CancelRun cancels one in-flight run by id and notifies subscribers.
func (c *Controller) CancelRun(runID string) error {
	c.mu.Lock()
	cancel, ok := c.runCancels[runID]
	if ok {
		delete(c.runCancels, runID)
	}
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	cancel()
	c.publishRunCancelled(RunCancelledEvent{RunID: runID})

	logging.Info("Controller", "Cancelled run: %s", runID)
	return nil
}

// CancelAllRuns cancels every in-flight run and notifies subscribers once.
func (c *Controller) CancelAllRuns() {
	c.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(c.runCancels))
	for id, cancel := range c.runCancels {
		cancels = append(cancels, cancel)
		delete(c.runCancels, id)
	}
	c.mu.Unlock()

	if len(cancels) == 0 {
		return
	}
	for _, cancel := range cancels {
		cancel()
	}
	c.publishRunCancelled(RunCancelledEvent{All: true})

	logging.Info("Controller", "Cancelled %d run(s)", len(cancels))
}

// ConfigureProfile forwards a profile configuration request to the owning
// producer.
func (c *Controller) ConfigureProfile(ctx context.Context, producerID, profileID string) error {
	prod, ok := c.registry.Get(producerID)
	if !ok {
		return fmt.Errorf("%w: %q", runreq.ErrUnknownProducer, producerID)
	}
	return prod.ConfigureProfile(ctx, profileID)
}
