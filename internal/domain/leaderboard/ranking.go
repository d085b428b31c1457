package leaderboard

import (
	"sort"

	"github.com/kaggleviz/country-leaderboard/internal/domain/achievement"
)

// GroupKey identifies one rank group.
type GroupKey struct {
	Country string
	Type    achievement.Type
}

// GroupEntries buckets entries by (country, achievement type). Country values
// are normalized, so the unknown bucket is formed here.
func GroupEntries(entries []Entry) map[GroupKey][]Entry {
	groups := make(map[GroupKey][]Entry)
	for _, e := range entries {
		e.Country = NormalizeCountry(e.Country)
		key := GroupKey{Country: e.Country, Type: e.Type}
		groups[key] = append(groups[key], e)
	}
	return groups
}

// RankGroup orders one group by score descending, user id ascending, and
// assigns competition ranks: equal scores share a rank and the next distinct
// score gets rank = count of strictly higher scores + 1. The input slice is
// mutated and returned.
func RankGroup(group []Entry) []Entry {
	sort.Slice(group, func(i, j int) bool {
		if group[i].Score != group[j].Score {
			return group[i].Score > group[j].Score
		}
		return group[i].UserID < group[j].UserID
	})

	for i := range group {
		if i > 0 && group[i].Score == group[i-1].Score {
			group[i].Rank = group[i-1].Rank
			continue
		}
		group[i].Rank = i + 1
	}

	return group
}

// SortRows puts ranked rows into the canonical snapshot order
// (country, type, rank, user id), so identical inputs produce identical
// snapshot bytes.
func SortRows(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Country != entries[j].Country {
			return entries[i].Country < entries[j].Country
		}
		if entries[i].Type != entries[j].Type {
			return entries[i].Type < entries[j].Type
		}
		if entries[i].Rank != entries[j].Rank {
			return entries[i].Rank < entries[j].Rank
		}
		return entries[i].UserID < entries[j].UserID
	})
}

// RankEntries groups, ranks and canonically orders a full entry set.
func RankEntries(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, group := range GroupEntries(entries) {
		out = append(out, RankGroup(group)...)
	}
	SortRows(out)
	return out
}
