package leaderboard

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kaggleviz/country-leaderboard/internal/domain/achievement"
)

// CountryUnknown is the rank group for users without a country on their
// profile. These users are surfaced, not dropped.
const CountryUnknown = "Unknown"

// TypeSelectorAll is the wildcard achievement-type selector: no type
// restriction, rows stay ranked within their own type group.
const TypeSelectorAll = "all"

var ErrSnapshotNotFound = errors.New("snapshot not found")

// Entry is one denormalized (user, achievement) row plus its computed rank
// within the (country, achievement type) group.
type Entry struct {
	UserID         int64
	UserName       string
	DisplayName    string
	Country        string
	ProfileURL     string
	Type           achievement.Type
	Tier           achievement.Tier
	Score          float64
	CurrentRanking int
	HighestRanking int
	TotalGold      int
	TotalSilver    int
	TotalBronze    int
	Rank           int
}

// Snapshot is the persisted, ranked table. Generation increases monotonically
// across successful rebuilds and identifies the source fetch that produced it.
type Snapshot struct {
	Entries    []Entry
	Generation time.Time
}

// Query is one filter request. Transient, never persisted.
type Query struct {
	Country string
	Type    string // achievement type selector or TypeSelectorAll
	MaxRows int    // <= 0 means no truncation
}

// Store persists whole snapshots. Every save is a full replacement; Load on
// a missing artifact returns ErrSnapshotNotFound.
type Store interface {
	Save(ctx context.Context, snapshot Snapshot) error
	Load(ctx context.Context) (Snapshot, error)
}

// NormalizeCountry maps source country values into rank-group labels.
func NormalizeCountry(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return CountryUnknown
	}
	return v
}
