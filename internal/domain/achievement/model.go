package achievement

import (
	"fmt"
	"strings"
	"time"
)

// Type is one achievement category from the UserAchievements source.
type Type string

const (
	TypeCompetitions Type = "Competitions"
	TypeDatasets     Type = "Datasets"
	TypeScripts      Type = "Scripts"
	TypeDiscussion   Type = "Discussion"
)

// KnownTypes returns the closed enumeration in stable order.
func KnownTypes() []Type {
	return []Type{TypeCompetitions, TypeDatasets, TypeDiscussion, TypeScripts}
}

// ParseType resolves a selector to a known achievement type. Matching is
// case-insensitive and accepts the singular forms plus "notebooks", which
// the source historically files under Scripts.
func ParseType(v string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "competitions", "competition":
		return TypeCompetitions, nil
	case "datasets", "dataset":
		return TypeDatasets, nil
	case "scripts", "script", "notebooks", "notebook":
		return TypeScripts, nil
	case "discussion", "discussions":
		return TypeDiscussion, nil
	default:
		return "", fmt.Errorf("unknown achievement type %q", v)
	}
}

// Tier is the performance tier attached to one achievement category.
type Tier int

const (
	TierNovice Tier = iota
	TierContributor
	TierExpert
	TierMaster
	TierGrandmaster
)

func (t Tier) Name() string {
	switch t {
	case TierNovice:
		return "Novice"
	case TierContributor:
		return "Contributor"
	case TierExpert:
		return "Expert"
	case TierMaster:
		return "Master"
	case TierGrandmaster:
		return "Grandmaster"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// Record is one row of the UserAchievements source. The natural key is
// (UserID, Type, AchievedAt); duplicates on (UserID, Type) are resolved by
// keeping the latest AchievedAt.
type Record struct {
	UserID         int64
	Type           Type
	Tier           Tier
	Score          float64
	CurrentRanking int
	HighestRanking int
	TotalGold      int
	TotalSilver    int
	TotalBronze    int
	AchievedAt     time.Time
}
