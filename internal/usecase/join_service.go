package usecase

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	crerr "github.com/cockroachdb/errors"

	"github.com/kaggleviz/country-leaderboard/internal/domain/achievement"
	"github.com/kaggleviz/country-leaderboard/internal/domain/leaderboard"
	"github.com/kaggleviz/country-leaderboard/internal/domain/user"
	"github.com/kaggleviz/country-leaderboard/internal/platform/logging"
)

const defaultMaxMalformedRatio = 0.5

// Source dates come in a couple of shapes across Meta-Kaggle exports.
var sourceDateLayouts = []string{
	"01/02/2006",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"2006-01-02 15:04:05",
}

// JoinStats counts what happened to the rows of one join run.
type JoinStats struct {
	UsersParsed           int
	UsersMalformed        int
	AchievementsParsed    int
	AchievementsMalformed int
	OrphanedAchievements  int
	DuplicatesDropped     int
}

// JoinService loads both sources and produces one denormalized pre-rank
// entry per (user, achievement type) pair. Row-level damage is recovered
// locally; structural damage fails the run.
type JoinService struct {
	maxMalformedRatio float64
	logger            *logging.Logger
}

func NewJoinService(maxMalformedRatio float64, logger *logging.Logger) *JoinService {
	if maxMalformedRatio <= 0 || maxMalformedRatio > 1 {
		maxMalformedRatio = defaultMaxMalformedRatio
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &JoinService{maxMalformedRatio: maxMalformedRatio, logger: logger}
}

// Join inner-joins achievements onto users by user id. Achievement rows
// without a matching user are dropped with a warning; users without
// achievements contribute no rows. Output order is unspecified.
func (s *JoinService) Join(ctx context.Context, pair SourcePair) ([]leaderboard.Entry, JoinStats, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.JoinService.Join")
	defer span.End()

	var stats JoinStats

	users, err := s.parseUsers(pair.UsersPath, &stats)
	if err != nil {
		return nil, stats, err
	}

	achievements, err := s.parseAchievements(pair.AchievementsPath, &stats)
	if err != nil {
		return nil, stats, err
	}

	entries := make([]leaderboard.Entry, 0, len(achievements))
	for _, rec := range achievements {
		u, ok := users[rec.UserID]
		if !ok {
			stats.OrphanedAchievements++
			continue
		}
		entries = append(entries, leaderboard.Entry{
			UserID:         u.ID,
			UserName:       u.UserName,
			DisplayName:    u.DisplayName,
			Country:        u.Country,
			ProfileURL:     u.ProfileURL(),
			Type:           rec.Type,
			Tier:           rec.Tier,
			Score:          rec.Score,
			CurrentRanking: rec.CurrentRanking,
			HighestRanking: rec.HighestRanking,
			TotalGold:      rec.TotalGold,
			TotalSilver:    rec.TotalSilver,
			TotalBronze:    rec.TotalBronze,
		})
	}

	if stats.OrphanedAchievements > 0 {
		s.logger.WarnContext(ctx, "dropped achievement rows referencing unknown users",
			"count", stats.OrphanedAchievements,
		)
	}

	s.logger.InfoContext(ctx, "sources joined",
		"users", stats.UsersParsed,
		"achievements", stats.AchievementsParsed,
		"entries", len(entries),
		"users_malformed", stats.UsersMalformed,
		"achievements_malformed", stats.AchievementsMalformed,
		"duplicates_dropped", stats.DuplicatesDropped,
	)

	return entries, stats, nil
}

func (s *JoinService) parseUsers(path string, stats *JoinStats) (map[int64]user.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, crerr.Wrap(err, "open users source")
	}
	defer func() { _ = f.Close() }()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := readHeader(reader, "users", "Id", "UserName")
	if err != nil {
		return nil, err
	}

	users := make(map[int64]user.Record, 1024)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			stats.UsersMalformed++
			continue
		}

		id, ok := parseID(field(record, header, "Id"))
		userName := strings.TrimSpace(field(record, header, "UserName"))
		if !ok || userName == "" {
			stats.UsersMalformed++
			continue
		}

		tier, _ := strconv.Atoi(strings.TrimSpace(field(record, header, "PerformanceTier")))
		users[id] = user.Record{
			ID:              id,
			UserName:        userName,
			DisplayName:     strings.TrimSpace(field(record, header, "DisplayName")),
			PerformanceTier: tier,
			Country:         strings.TrimSpace(field(record, header, "Country")),
			RegisteredAt:    parseSourceDate(field(record, header, "RegisterDate")),
		}
		stats.UsersParsed++
	}

	if err := checkMalformedRatio("users", stats.UsersParsed, stats.UsersMalformed, s.maxMalformedRatio); err != nil {
		return nil, err
	}

	return users, nil
}

func (s *JoinService) parseAchievements(path string, stats *JoinStats) (map[achievementKey]achievement.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, crerr.Wrap(err, "open achievements source")
	}
	defer func() { _ = f.Close() }()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := readHeader(reader, "achievements", "UserId", "AchievementType")
	if err != nil {
		return nil, err
	}

	out := make(map[achievementKey]achievement.Record, 4096)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			stats.AchievementsMalformed++
			continue
		}

		userID, ok := parseID(field(record, header, "UserId"))
		achievementType, typeErr := achievement.ParseType(field(record, header, "AchievementType"))
		if !ok || typeErr != nil {
			stats.AchievementsMalformed++
			continue
		}

		tier, _ := strconv.Atoi(strings.TrimSpace(field(record, header, "Tier")))
		score, _ := strconv.ParseFloat(strings.TrimSpace(field(record, header, "Points")), 64)
		rec := achievement.Record{
			UserID:         userID,
			Type:           achievementType,
			Tier:           achievement.Tier(tier),
			Score:          score,
			CurrentRanking: parseRanking(field(record, header, "CurrentRanking")),
			HighestRanking: parseRanking(field(record, header, "HighestRanking")),
			TotalGold:      parseRanking(field(record, header, "TotalGold")),
			TotalSilver:    parseRanking(field(record, header, "TotalSilver")),
			TotalBronze:    parseRanking(field(record, header, "TotalBronze")),
			AchievedAt:     parseSourceDate(field(record, header, "TierAchievementDate")),
		}
		stats.AchievementsParsed++

		key := achievementKey{userID: userID, achievementType: achievementType}
		existing, seen := out[key]
		if !seen {
			out[key] = rec
			continue
		}

		// Natural-key duplicate: keep the latest achievement timestamp,
		// breaking timestamp ties on the higher score.
		stats.DuplicatesDropped++
		if rec.AchievedAt.After(existing.AchievedAt) ||
			(rec.AchievedAt.Equal(existing.AchievedAt) && rec.Score > existing.Score) {
			out[key] = rec
		}
	}

	if err := checkMalformedRatio("achievements", stats.AchievementsParsed, stats.AchievementsMalformed, s.maxMalformedRatio); err != nil {
		return nil, err
	}

	return out, nil
}

type achievementKey struct {
	userID          int64
	achievementType achievement.Type
}

// readHeader maps column names to indexes and verifies the required columns
// exist; a missing required column is structural damage, not row damage.
func readHeader(reader *csv.Reader, source string, required ...string) (map[string]int, error) {
	row, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %s source has no header row", ErrSchemaViolation, source)
	}

	header := make(map[string]int, len(row))
	for i, name := range row {
		header[strings.TrimSpace(name)] = i
	}
	for _, name := range required {
		if _, ok := header[name]; !ok {
			return nil, fmt.Errorf("%w: %s source is missing required column %q", ErrSchemaViolation, source, name)
		}
	}

	return header, nil
}

func checkMalformedRatio(source string, parsed, malformed int, maxRatio float64) error {
	total := parsed + malformed
	if total == 0 {
		return fmt.Errorf("%w: %s source has no data rows", ErrSchemaViolation, source)
	}
	ratio := float64(malformed) / float64(total)
	if ratio > maxRatio {
		return fmt.Errorf("%w: %s source malformed-row ratio %.2f exceeds %.2f", ErrSchemaViolation, source, ratio, maxRatio)
	}
	return nil
}

func field(record []string, header map[string]int, name string) string {
	idx, ok := header[name]
	if !ok || idx >= len(record) {
		return ""
	}
	return record[idx]
}

func parseID(v string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func parseRanking(v string) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0
	}
	return n
}

func parseSourceDate(v string) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}
	}
	for _, layout := range sourceDateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
