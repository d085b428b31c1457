package usecase

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	crerr "github.com/cockroachdb/errors"
	"github.com/panjf2000/ants/v2"

	"github.com/kaggleviz/country-leaderboard/internal/domain/leaderboard"
	"github.com/kaggleviz/country-leaderboard/internal/platform/cache"
	"github.com/kaggleviz/country-leaderboard/internal/platform/logging"
	"github.com/kaggleviz/country-leaderboard/internal/platform/resilience"
)

const refreshFlightKey = "refresh"

// cacheKeyPrefix groups the query-cache keys invalidated on snapshot install.
const cacheKeyPrefix = "leaderboard|"

// RefreshResult reports what one refresh run did.
type RefreshResult struct {
	Generation string
	Rows       int
	Recomputed bool
	Shared     bool
}

// PipelineService drives the fetch, join, rank, persist cycle and owns the
// in-memory snapshot the read path serves from. At most one refresh runs at
// a time; concurrent callers share the in-flight result.
type PipelineService struct {
	fetcher *SourceFetchService
	joiner  *JoinService
	store   leaderboard.Store
	cache   *cache.Store
	logger  *logging.Logger

	workerCount int
	flight      resilience.SingleFlight
	current     atomic.Pointer[leaderboard.Snapshot]
}

func NewPipelineService(
	fetcher *SourceFetchService,
	joiner *JoinService,
	store leaderboard.Store,
	queryCache *cache.Store,
	workerCount int,
	logger *logging.Logger,
) *PipelineService {
	if workerCount <= 0 {
		workerCount = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &PipelineService{
		fetcher:     fetcher,
		joiner:      joiner,
		store:       store,
		cache:       queryCache,
		workerCount: workerCount,
		logger:      logger,
	}
}

// Current returns the installed snapshot, if any. The returned snapshot is
// immutable; callers must not mutate its entries.
func (s *PipelineService) Current() (*leaderboard.Snapshot, bool) {
	snap := s.current.Load()
	return snap, snap != nil
}

// Bootstrap restores the persisted snapshot, then optionally runs a refresh.
// A missing artifact on first boot is not an error; the service starts empty
// and the first refresh fills it.
func (s *PipelineService) Bootstrap(ctx context.Context, refreshOnStart bool) error {
	snap, err := s.store.Load(ctx)
	switch {
	case err == nil:
		s.current.Store(&snap)
		s.logger.InfoContext(ctx, "snapshot restored",
			"rows", len(snap.Entries),
			"generation", snap.Generation,
		)
	case crerr.Is(err, leaderboard.ErrSnapshotNotFound):
		s.logger.InfoContext(ctx, "no persisted snapshot, starting empty")
	default:
		return crerr.Wrap(err, "restore snapshot")
	}

	if !refreshOnStart {
		return nil
	}
	if _, err := s.Refresh(ctx, UseCache); err != nil {
		return crerr.Wrap(err, "initial refresh")
	}
	return nil
}

// Refresh runs one end-to-end rebuild. Concurrent calls collapse into the
// in-flight run regardless of mode; a failed run leaves the previously
// installed snapshot serving.
func (s *PipelineService) Refresh(ctx context.Context, mode RefreshMode) (RefreshResult, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.PipelineService.Refresh")
	defer span.End()

	v, err, shared := s.flight.Do(refreshFlightKey, func() (any, error) {
		return s.refresh(ctx, mode)
	})
	if err != nil {
		return RefreshResult{}, err
	}

	result := v.(RefreshResult)
	result.Shared = shared
	return result, nil
}

func (s *PipelineService) refresh(ctx context.Context, mode RefreshMode) (RefreshResult, error) {
	pair, err := s.fetcher.Fetch(ctx, mode)
	if err != nil {
		return RefreshResult{}, err
	}

	// Same source generation as the installed snapshot means the ranked
	// table cannot have changed; skip the recompute.
	if current := s.current.Load(); current != nil && !pair.Generation.After(current.Generation) {
		s.logger.InfoContext(ctx, "sources unchanged, keeping installed snapshot",
			"generation", current.Generation,
		)
		return RefreshResult{
			Generation: current.Generation.String(),
			Rows:       len(current.Entries),
		}, nil
	}

	entries, _, err := s.joiner.Join(ctx, pair)
	if err != nil {
		return RefreshResult{}, err
	}

	ranked, err := s.rank(entries)
	if err != nil {
		return RefreshResult{}, err
	}

	snapshot := leaderboard.Snapshot{Entries: ranked, Generation: pair.Generation}
	if err := s.store.Save(ctx, snapshot); err != nil {
		return RefreshResult{}, crerr.Wrap(err, "persist snapshot")
	}

	s.current.Store(&snapshot)
	if s.cache != nil {
		s.cache.DeletePrefix(ctx, cacheKeyPrefix)
	}

	s.logger.InfoContext(ctx, "snapshot installed",
		"rows", len(ranked),
		"generation", snapshot.Generation,
		"mode", mode.String(),
	)

	return RefreshResult{
		Generation: snapshot.Generation.String(),
		Rows:       len(ranked),
		Recomputed: true,
	}, nil
}

// rank scores every (country, type) group on a bounded worker pool. Groups
// are independent, so they rank in parallel and merge under one lock.
func (s *PipelineService) rank(entries []leaderboard.Entry) ([]leaderboard.Entry, error) {
	groups := leaderboard.GroupEntries(entries)

	pool, err := ants.NewPool(s.workerCount)
	if err != nil {
		return nil, crerr.Wrap(err, "create ranking pool")
	}
	defer pool.Release()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		ranked = make([]leaderboard.Entry, 0, len(entries))
	)
	for _, group := range groups {
		group := group
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			out := leaderboard.RankGroup(group)
			mu.Lock()
			ranked = append(ranked, out...)
			mu.Unlock()
		})
		if submitErr != nil {
			wg.Done()
			return nil, crerr.Wrap(submitErr, "submit ranking task")
		}
	}
	wg.Wait()

	leaderboard.SortRows(ranked)
	return ranked, nil
}
