package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kaggleviz/country-leaderboard/internal/domain/achievement"
	"github.com/kaggleviz/country-leaderboard/internal/domain/leaderboard"
	"github.com/kaggleviz/country-leaderboard/internal/platform/cache"
	"github.com/kaggleviz/country-leaderboard/internal/platform/logging"
)

// SnapshotSource is the read path's view of the pipeline.
type SnapshotSource interface {
	Current() (*leaderboard.Snapshot, bool)
}

// LeaderboardService answers filter queries against the installed snapshot.
// Queries never touch the sources and never mutate the snapshot.
type LeaderboardService struct {
	source SnapshotSource
	cache  *cache.Store
	logger *logging.Logger
}

func NewLeaderboardService(source SnapshotSource, queryCache *cache.Store, logger *logging.Logger) *LeaderboardService {
	if logger == nil {
		logger = logging.Default()
	}
	return &LeaderboardService{source: source, cache: queryCache, logger: logger}
}

// Filter returns the snapshot rows matching the query, ordered by achievement
// type, rank, then user id. An empty country selector matches every country;
// an empty or "all" type selector matches every achievement type. A matching
// nothing is an empty slice, not an error.
func (s *LeaderboardService) Filter(ctx context.Context, query leaderboard.Query) ([]leaderboard.Entry, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.LeaderboardService.Filter")
	defer span.End()

	typeSelector, hasType, err := resolveTypeSelector(query.Type)
	if err != nil {
		return nil, err
	}
	if query.MaxRows < 0 {
		query.MaxRows = 0
	}

	snap, ok := s.source.Current()
	if !ok {
		return nil, fmt.Errorf("%w: no leaderboard snapshot is available yet", ErrNotFound)
	}

	key := filterCacheKey(snap, query.Country, typeSelector, query.MaxRows)
	if s.cache == nil {
		return filterSnapshot(snap, query.Country, typeSelector, hasType, query.MaxRows), nil
	}

	v, err := s.cache.GetOrLoad(ctx, key, func(context.Context) (any, error) {
		return filterSnapshot(snap, query.Country, typeSelector, hasType, query.MaxRows), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]leaderboard.Entry), nil
}

// ListCountries returns the distinct countries present in the snapshot,
// sorted ascending. The unknown bucket sorts with the rest.
func (s *LeaderboardService) ListCountries(ctx context.Context) ([]string, error) {
	_, span := startUsecaseSpan(ctx, "usecase.LeaderboardService.ListCountries")
	defer span.End()

	snap, ok := s.source.Current()
	if !ok {
		return nil, fmt.Errorf("%w: no leaderboard snapshot is available yet", ErrNotFound)
	}

	seen := make(map[string]struct{})
	for i := range snap.Entries {
		seen[snap.Entries[i].Country] = struct{}{}
	}
	countries := make([]string, 0, len(seen))
	for c := range seen {
		countries = append(countries, c)
	}
	sort.Strings(countries)
	return countries, nil
}

// ListAchievementTypes returns the selectable achievement types in their
// canonical order.
func (s *LeaderboardService) ListAchievementTypes(ctx context.Context) []string {
	_, span := startUsecaseSpan(ctx, "usecase.LeaderboardService.ListAchievementTypes")
	defer span.End()

	known := achievement.KnownTypes()
	out := make([]string, 0, len(known))
	for _, t := range known {
		out = append(out, string(t))
	}
	return out
}

func resolveTypeSelector(raw string) (achievement.Type, bool, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.EqualFold(trimmed, leaderboard.TypeSelectorAll) {
		return "", false, nil
	}
	t, err := achievement.ParseType(trimmed)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return t, true, nil
}

func filterSnapshot(snap *leaderboard.Snapshot, country string, typeSelector achievement.Type, hasType bool, maxRows int) []leaderboard.Entry {
	country = strings.TrimSpace(country)

	out := make([]leaderboard.Entry, 0, 64)
	for i := range snap.Entries {
		e := snap.Entries[i]
		if country != "" && !strings.EqualFold(e.Country, country) {
			continue
		}
		if hasType && e.Type != typeSelector {
			continue
		}
		out = append(out, e)
	}

	// Snapshot order is country-major; a cross-country result reads better
	// grouped by type with ranks ascending inside each type.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		if out[i].Rank != out[j].Rank {
			return out[i].Rank < out[j].Rank
		}
		return out[i].UserID < out[j].UserID
	})

	if maxRows > 0 && len(out) > maxRows {
		out = out[:maxRows]
	}
	return out
}

func filterCacheKey(snap *leaderboard.Snapshot, country string, typeSelector achievement.Type, maxRows int) string {
	return fmt.Sprintf("%s%d|%s|%s|%d",
		cacheKeyPrefix,
		snap.Generation.UnixNano(),
		strings.ToLower(strings.TrimSpace(country)),
		typeSelector,
		maxRows,
	)
}
