package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kaggleviz/country-leaderboard/internal/domain/achievement"
	"github.com/kaggleviz/country-leaderboard/internal/platform/logging"
)

func writeSources(t *testing.T, users, achievements string) SourcePair {
	t.Helper()

	dir := t.TempDir()
	usersPath := filepath.Join(dir, UsersFileName)
	achievementsPath := filepath.Join(dir, AchievementsFileName)
	if err := os.WriteFile(usersPath, []byte(users), 0o644); err != nil {
		t.Fatalf("write users source: %v", err)
	}
	if err := os.WriteFile(achievementsPath, []byte(achievements), 0o644); err != nil {
		t.Fatalf("write achievements source: %v", err)
	}
	return SourcePair{
		UsersPath:        usersPath,
		AchievementsPath: achievementsPath,
		Generation:       time.Now().UTC(),
	}
}

func TestJoinService_DenormalizesMatchedRows(t *testing.T) {
	t.Parallel()

	pair := writeSources(t,
		"Id,UserName,DisplayName,PerformanceTier,Country,RegisterDate\n"+
			"1,alice,Alice,4,France,01/15/2019\n"+
			"2,bob,Bob,2,,03/02/2020\n",
		"UserId,AchievementType,Tier,Points,CurrentRanking,HighestRanking,TotalGold,TotalSilver,TotalBronze,TierAchievementDate\n"+
			"1,Competitions,4,1500.5,10,4,3,2,1,06/01/2021\n"+
			"2,Datasets,2,300,120,90,0,1,2,07/10/2021\n",
	)

	svc := NewJoinService(0.5, logging.NewNop())
	entries, stats, err := svc.Join(context.Background(), pair)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if stats.UsersParsed != 2 || stats.AchievementsParsed != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	byUser := map[int64]int{}
	for i, e := range entries {
		byUser[e.UserID] = i
	}
	alice := entries[byUser[1]]
	if alice.UserName != "alice" || alice.Country != "France" {
		t.Fatalf("alice row mismatch: %+v", alice)
	}
	if alice.ProfileURL != "https://www.kaggle.com/alice" {
		t.Fatalf("profile url mismatch: %q", alice.ProfileURL)
	}
	if alice.Type != achievement.TypeCompetitions || alice.Score != 1500.5 {
		t.Fatalf("achievement fields mismatch: %+v", alice)
	}
	if alice.TotalGold != 3 || alice.TotalSilver != 2 || alice.TotalBronze != 1 {
		t.Fatalf("medal counts mismatch: %+v", alice)
	}
}

func TestJoinService_DropsOrphanedAchievements(t *testing.T) {
	t.Parallel()

	pair := writeSources(t,
		"Id,UserName\n1,alice\n",
		"UserId,AchievementType\n1,Competitions\n999,Datasets\n",
	)

	svc := NewJoinService(0.5, logging.NewNop())
	entries, stats, err := svc.Join(context.Background(), pair)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("orphaned achievement must be dropped, got %d entries", len(entries))
	}
	if stats.OrphanedAchievements != 1 {
		t.Fatalf("expected 1 orphan counted, got %d", stats.OrphanedAchievements)
	}
}

func TestJoinService_DeduplicatesByLatestAchievement(t *testing.T) {
	t.Parallel()

	pair := writeSources(t,
		"Id,UserName\n1,alice\n",
		"UserId,AchievementType,Points,TierAchievementDate\n"+
			"1,Competitions,100,01/01/2020\n"+
			"1,Competitions,250,01/01/2021\n"+
			"1,Competitions,50,06/01/2020\n",
	)

	svc := NewJoinService(0.5, logging.NewNop())
	entries, stats, err := svc.Join(context.Background(), pair)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 deduplicated entry, got %d", len(entries))
	}
	if entries[0].Score != 250 {
		t.Fatalf("dedupe must keep the latest achievement, got score %v", entries[0].Score)
	}
	if stats.DuplicatesDropped != 2 {
		t.Fatalf("expected 2 duplicates counted, got %d", stats.DuplicatesDropped)
	}
}

func TestJoinService_MissingRequiredColumn(t *testing.T) {
	t.Parallel()

	pair := writeSources(t,
		"Identifier,UserName\n1,alice\n",
		"UserId,AchievementType\n1,Competitions\n",
	)

	svc := NewJoinService(0.5, logging.NewNop())
	if _, _, err := svc.Join(context.Background(), pair); !errors.Is(err, ErrSchemaViolation) {
		t.Fatalf("expected ErrSchemaViolation for missing column, got %v", err)
	}
}

func TestJoinService_MalformedRowsWithinThreshold(t *testing.T) {
	t.Parallel()

	pair := writeSources(t,
		"Id,UserName\n1,alice\nnot-a-number,bob\n2,carol\n",
		"UserId,AchievementType\n1,Competitions\n2,Datasets\n",
	)

	svc := NewJoinService(0.5, logging.NewNop())
	entries, stats, err := svc.Join(context.Background(), pair)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if stats.UsersMalformed != 1 {
		t.Fatalf("expected 1 malformed user row, got %d", stats.UsersMalformed)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
}

func TestJoinService_MalformedRatioExceeded(t *testing.T) {
	t.Parallel()

	pair := writeSources(t,
		"Id,UserName\nx,\ny,\nz,\n1,alice\n",
		"UserId,AchievementType\n1,Competitions\n",
	)

	svc := NewJoinService(0.5, logging.NewNop())
	if _, _, err := svc.Join(context.Background(), pair); !errors.Is(err, ErrSchemaViolation) {
		t.Fatalf("expected ErrSchemaViolation when malformed ratio exceeds threshold, got %v", err)
	}
}

func TestJoinService_EmptySource(t *testing.T) {
	t.Parallel()

	pair := writeSources(t, "Id,UserName\n", "UserId,AchievementType\n1,Competitions\n")

	svc := NewJoinService(0.5, logging.NewNop())
	if _, _, err := svc.Join(context.Background(), pair); !errors.Is(err, ErrSchemaViolation) {
		t.Fatalf("expected ErrSchemaViolation for empty users source, got %v", err)
	}
}
