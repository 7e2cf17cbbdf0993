package boot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/driftwatch/driftwatch/internal/warehouse"
	"github.com/driftwatch/driftwatch/pkg/catalog"
	"github.com/driftwatch/driftwatch/pkg/event"
	"github.com/driftwatch/driftwatch/pkg/feature"
	"github.com/driftwatch/driftwatch/pkg/graph"
	"github.com/driftwatch/driftwatch/pkg/knowledge"
	"github.com/driftwatch/driftwatch/pkg/logger"
	"github.com/driftwatch/driftwatch/pkg/pipeline"
	"github.com/driftwatch/driftwatch/pkg/rules"
	"github.com/driftwatch/driftwatch/pkg/scheduler"
	"github.com/driftwatch/driftwatch/pkg/segment"
)

// loaderPoolSize bounds concurrent segment reads during the initial load.
const loaderPoolSize = 4

// Config holds everything the boot sequence needs beyond the data
// directory. Remote and Warehouse are optional.
type Config struct {
	DataDir  string
	RulesDir string

	Remote    segment.Store
	Warehouse *warehouse.Client

	// WarmLease, when set, wraps each warm pass so only one replica
	// runs it at a time. Returning before fn is called skips the pass.
	WarmLease func(ctx context.Context, fn func(context.Context) error) error

	WarmInterval time.Duration
	RuleInterval time.Duration
	Debounce     time.Duration
}

// App owns the shared state of one engine instance: graph, features,
// knowledge, pipeline, catalog, rules and the scheduler driving them.
// Graph, feature and pipeline pointers are swapped atomically by
// RemoveSegment, so readers go through the accessor methods.
type App struct {
	Knowledge *knowledge.State
	Catalog   *catalog.Store
	Rules     *rules.Loader
	Scheduler *scheduler.Scheduler
	Loading   *LoadingState

	Local  *segment.LocalStore
	Remote segment.Store

	mu       sync.RWMutex
	graph    *graph.Store
	features *feature.Store
	pipe     *pipeline.Pipeline

	cfg        Config
	warehouse  *warehouse.Client
	segmentIDs []string
	lastFired  *cooldownTracker
}

// Graph returns the current graph store.
func (a *App) Graph() *graph.Store {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.graph
}

// Features returns the current feature store.
func (a *App) Features() *feature.Store {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.features
}

// Pipeline returns the current compute pipeline.
func (a *App) Pipeline() *pipeline.Pipeline {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.pipe
}

// New wires an App. Fatal conditions (unusable data directory) are
// returned as an error; everything else is recovered during load.
func New(cfg Config) (*App, error) {
	if cfg.WarmInterval <= 0 {
		cfg.WarmInterval = 5 * time.Minute
	}
	if cfg.RuleInterval <= 0 {
		cfg.RuleInterval = time.Minute
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = time.Second
	}

	catalogStore, err := catalog.NewStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("create catalog store: %w", err)
	}

	g := graph.NewStore()
	features := feature.NewStore()
	state := knowledge.NewState()

	app := &App{
		Knowledge: state,
		graph:     g,
		features:  features,
		pipe:      pipeline.New(g, features, state, pipeline.DefaultConfig()),
		Catalog:   catalogStore,
		Rules:     rules.NewLoader(cfg.RulesDir),
		Scheduler: scheduler.New(cfg.Debounce),
		Loading:   NewLoadingState(),
		Local:     segment.NewLocalStore(cfg.DataDir),
		Remote:    cfg.Remote,
		cfg:       cfg,
		warehouse: cfg.Warehouse,
		lastFired: newCooldownTracker(),
	}
	return app, nil
}

// Start kicks off the staged load in the background and returns
// immediately so the caller can serve health checks while loading.
// The scheduler starts once the engine reaches Ready.
func (a *App) Start(ctx context.Context) {
	a.Rules.LoadAll()
	if err := a.Rules.Watch(ctx); err != nil {
		logger.Warn("[Boot] Rules hot reload unavailable", "err", err)
	}

	go a.load(ctx)
}

// load runs discover -> load segments -> ready -> catalog -> warm.
func (a *App) load(ctx context.Context) {
	a.Loading.SetDiscovering()

	src, ids, err := a.discover(ctx)
	if err != nil {
		logger.Error("[Boot] Segment discovery failed", "err", err)
		a.Loading.SetFailed(err.Error())
		return
	}
	a.segmentIDs = ids
	logger.Info("[Boot] Segments discovered", "count", len(ids))

	a.Loading.SetLoading(0, len(ids))
	if err := a.loadSegments(ctx, src, ids); err != nil {
		logger.Error("[Boot] Segment load failed", "err", err)
		a.Loading.SetFailed(err.Error())
		return
	}

	a.Loading.SetReady()
	logger.Info("[Boot] Engine ready",
		"segments", len(ids),
		"nodes", a.Graph().NodeCount(),
		"edges", a.Graph().EdgeCount(),
		"members", a.Features().Len())

	// Everything after Ready is best-effort background work.
	if err := a.syncCatalog(ids); err != nil {
		logger.Warn("[Boot] Catalog sync failed", "err", err)
	}
	if a.warehouse != nil {
		if err := a.warehouse.Sync(ctx, a.Catalog); err != nil {
			logger.Warn("[Boot] Warehouse descriptor sync failed", "err", err)
		}
	}
	if err := a.Pipeline().WarmCompute(ctx); err != nil && ctx.Err() == nil {
		logger.Warn("[Boot] Initial warm compute failed", "err", err)
	}

	if err := a.registerTasks(); err != nil {
		logger.Error("[Boot] Task registration failed", "err", err)
		return
	}
	go a.Scheduler.Run(ctx)
}

// discover prefers local segments and falls back to the remote store
// when the local data directory holds none.
func (a *App) discover(ctx context.Context) (segment.Store, []string, error) {
	ids, err := a.Local.Discover(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(ids) > 0 || a.Remote == nil {
		return a.Local, ids, nil
	}

	logger.Info("[Boot] No local segments, discovering remotely")
	ids, err = a.Remote.Discover(ctx)
	if err != nil {
		return nil, nil, err
	}
	return a.Remote, ids, nil
}

type loadedSegment struct {
	segmentID string
	events    []event.Event
}

func (a *App) loadSegments(ctx context.Context, src segment.Store, ids []string) error {
	return streamSegments(ctx, src, ids, a.Pipeline(), func(done, total int) {
		a.Loading.SetLoading(done, total)
	})
}

// streamSegments pushes every segment through a bounded reader pool and
// feeds the hot path sequentially, reporting progress per segment.
// Unreadable segments are logged and skipped.
func streamSegments(ctx context.Context, src segment.Store, ids []string, pipe *pipeline.Pipeline, onProgress func(done, total int)) error {
	if len(ids) == 0 {
		return nil
	}
	work := make(chan string)
	results := make(chan loadedSegment, 1)

	producers, pctx := errgroup.WithContext(ctx)
	producers.Go(func() error {
		defer close(work)
		for _, id := range ids {
			select {
			case work <- id:
			case <-pctx.Done():
				return pctx.Err()
			}
		}
		return nil
	})

	readers, rctx := errgroup.WithContext(pctx)
	for i := 0; i < loaderPoolSize; i++ {
		readers.Go(func() error {
			for id := range work {
				events, err := readSegment(rctx, src, id)
				if err != nil {
					logger.Warn("[Boot] Skipping unreadable segment", "segment", id, "err", err)
					continue
				}
				select {
				case results <- loadedSegment{segmentID: id, events: events}:
				case <-rctx.Done():
					return rctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		readers.Wait()
		close(results)
	}()

	done := 0
	for res := range results {
		pipe.HotConnect(res.segmentID, res.events)
		done++
		if onProgress != nil {
			onProgress(done, len(ids))
		}
	}
	if err := readers.Wait(); err != nil {
		return err
	}
	return producers.Wait()
}

func readSegment(ctx context.Context, src segment.Store, segmentID string) ([]event.Event, error) {
	dir, err := src.EnsureLocal(ctx, segmentID)
	if err != nil {
		return nil, err
	}
	r, err := segment.NewReader(dir, segmentID)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var events []event.Event
	err = r.ForEach(func(e event.Event) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		events = append(events, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// syncCatalog loads the persisted catalog when its manifest still
// matches the discovered segments, otherwise rebuilds from per-segment
// partials derived from the loaded graph.
func (a *App) syncCatalog(ids []string) error {
	manifest, ok, err := a.Catalog.LoadManifest()
	if err == nil && ok && manifest.IsFresh(ids) {
		if _, found, loadErr := a.Catalog.LoadCurrent(); loadErr == nil && found {
			logger.Info("[Boot] Catalog manifest fresh, reusing persisted catalog")
			return nil
		}
	}

	for _, id := range ids {
		partial := catalog.PartialFromGraph(a.Graph(), id)
		if err := a.Catalog.SavePartial(partial); err != nil {
			return fmt.Errorf("save partial for %s: %w", id, err)
		}
	}
	if _, err := a.Catalog.RebuildFromPartials(); err != nil {
		return fmt.Errorf("rebuild catalog: %w", err)
	}
	logger.Info("[Boot] Catalog rebuilt", "segments", len(ids))
	return nil
}

// registerTasks wires the periodic work: warm compute when dirty, rule
// evaluation after it.
func (a *App) registerTasks() error {
	err := a.Scheduler.Register("warm_compute", a.cfg.WarmInterval, func(ctx context.Context) error {
		if !a.Pipeline().Dirty() {
			return nil
		}
		warm := func(c context.Context) error { return a.Pipeline().WarmCompute(c) }
		if a.cfg.WarmLease != nil {
			return a.cfg.WarmLease(ctx, warm)
		}
		return warm(ctx)
	})
	if err != nil {
		return fmt.Errorf("register warm_compute: %w", err)
	}
	if err := a.Scheduler.Register("rule_eval", a.cfg.RuleInterval, a.EvaluateRules); err != nil {
		return fmt.Errorf("register rule_eval: %w", err)
	}
	if err := a.Scheduler.AddDependency("warm_compute", "rule_eval"); err != nil {
		return fmt.Errorf("chain rule_eval after warm_compute: %w", err)
	}
	return nil
}

// RemoveSegment drops a segment from the catalog and local disk, then
// replays the remaining segments into fresh graph and feature stores.
// Projections are additive, so removal is the one operation that forces
// a full rebuild.
func (a *App) RemoveSegment(ctx context.Context, segmentID string) error {
	if _, err := a.Catalog.RemoveSegment(segmentID); err != nil {
		return err
	}
	if err := a.Local.Remove(segmentID); err != nil {
		logger.Warn("[Boot] Failed to remove local segment", "segment", segmentID, "err", err)
	}

	a.mu.Lock()
	remaining := make([]string, 0, len(a.segmentIDs))
	for _, id := range a.segmentIDs {
		if id != segmentID {
			remaining = append(remaining, id)
		}
	}
	a.segmentIDs = remaining
	a.mu.Unlock()

	g := graph.NewStore()
	features := feature.NewStore()
	pipe := pipeline.New(g, features, a.Knowledge, pipeline.DefaultConfig())
	if err := streamSegments(ctx, a.Local, remaining, pipe, nil); err != nil {
		return fmt.Errorf("rebuild after removing %s: %w", segmentID, err)
	}

	a.mu.Lock()
	a.graph, a.features, a.pipe = g, features, pipe
	a.mu.Unlock()
	pipe.MarkDirty()
	a.Scheduler.Kick("warm_compute")
	logger.Info("[Boot] Segment removed and state rebuilt", "segment", segmentID, "remaining", len(remaining))
	return nil
}
