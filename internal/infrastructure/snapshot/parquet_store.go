package snapshot

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	crerr "github.com/cockroachdb/errors"
	"github.com/parquet-go/parquet-go"

	"github.com/kaggleviz/country-leaderboard/internal/domain/achievement"
	"github.com/kaggleviz/country-leaderboard/internal/domain/leaderboard"
	"github.com/kaggleviz/country-leaderboard/internal/platform/logging"
)

const generationMetadataKey = "country_leaderboard.generation"

const readBatchSize = 4096

// row is the on-disk schema of the snapshot artifact.
type row struct {
	UserID         int64   `parquet:"user_id"`
	UserName       string  `parquet:"user_name"`
	DisplayName    string  `parquet:"display_name"`
	Country        string  `parquet:"country"`
	ProfileURL     string  `parquet:"profile"`
	Type           string  `parquet:"achievement_type"`
	Tier           int32   `parquet:"tier"`
	Score          float64 `parquet:"score"`
	CurrentRanking int32   `parquet:"current_ranking"`
	HighestRanking int32   `parquet:"highest_ranking"`
	TotalGold      int32   `parquet:"total_gold"`
	TotalSilver    int32   `parquet:"total_silver"`
	TotalBronze    int32   `parquet:"total_bronze"`
	Rank           int32   `parquet:"rank"`
}

// ParquetStore persists ranked snapshots as a single parquet artifact.
// Saves are full replacements, written to a temp file and renamed into
// place so a crash never leaves a partial snapshot behind.
type ParquetStore struct {
	path   string
	logger *logging.Logger
}

func NewParquetStore(path string, logger *logging.Logger) *ParquetStore {
	if logger == nil {
		logger = logging.Default()
	}
	return &ParquetStore{path: path, logger: logger}
}

func (s *ParquetStore) Save(ctx context.Context, snap leaderboard.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return crerr.Wrap(err, "create snapshot dir")
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return crerr.Wrap(err, "create snapshot temp file")
	}
	tmpPath := tmp.Name()
	defer func() {
		// No-op after a successful rename.
		_ = os.Remove(tmpPath)
	}()

	writer := parquet.NewGenericWriter[row](tmp,
		parquet.Compression(&parquet.Snappy),
		parquet.KeyValueMetadata(generationMetadataKey, snap.Generation.UTC().Format(time.RFC3339Nano)),
	)

	rows := make([]row, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		rows = append(rows, row{
			UserID:         e.UserID,
			UserName:       e.UserName,
			DisplayName:    e.DisplayName,
			Country:        e.Country,
			ProfileURL:     e.ProfileURL,
			Type:           string(e.Type),
			Tier:           int32(e.Tier),
			Score:          e.Score,
			CurrentRanking: int32(e.CurrentRanking),
			HighestRanking: int32(e.HighestRanking),
			TotalGold:      int32(e.TotalGold),
			TotalSilver:    int32(e.TotalSilver),
			TotalBronze:    int32(e.TotalBronze),
			Rank:           int32(e.Rank),
		})
	}

	if len(rows) > 0 {
		if _, err := writer.Write(rows); err != nil {
			_ = tmp.Close()
			return crerr.Wrap(err, "write snapshot rows")
		}
	}
	if err := writer.Close(); err != nil {
		_ = tmp.Close()
		return crerr.Wrap(err, "finalize snapshot")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return crerr.Wrap(err, "sync snapshot temp file")
	}
	if err := tmp.Close(); err != nil {
		return crerr.Wrap(err, "close snapshot temp file")
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return crerr.Wrap(err, "install snapshot")
	}

	s.logger.InfoContext(ctx, "snapshot saved",
		"path", s.path,
		"rows", len(rows),
		"generation", snap.Generation.UTC().Format(time.RFC3339Nano),
	)

	return nil
}

func (s *ParquetStore) Load(ctx context.Context) (leaderboard.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return leaderboard.Snapshot{}, err
	}

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return leaderboard.Snapshot{}, leaderboard.ErrSnapshotNotFound
		}
		return leaderboard.Snapshot{}, crerr.Wrap(err, "open snapshot")
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return leaderboard.Snapshot{}, crerr.Wrap(err, "stat snapshot")
	}

	file, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return leaderboard.Snapshot{}, crerr.Wrap(err, "parse snapshot")
	}

	generation, err := readGeneration(file)
	if err != nil {
		return leaderboard.Snapshot{}, err
	}

	reader := parquet.NewGenericReader[row](file)
	defer func() { _ = reader.Close() }()

	entries := make([]leaderboard.Entry, 0, reader.NumRows())
	buf := make([]row, readBatchSize)
	for {
		n, readErr := reader.Read(buf)
		for _, r := range buf[:n] {
			entries = append(entries, leaderboard.Entry{
				UserID:         r.UserID,
				UserName:       r.UserName,
				DisplayName:    r.DisplayName,
				Country:        r.Country,
				ProfileURL:     r.ProfileURL,
				Type:           achievement.Type(r.Type),
				Tier:           achievement.Tier(r.Tier),
				Score:          r.Score,
				CurrentRanking: int(r.CurrentRanking),
				HighestRanking: int(r.HighestRanking),
				TotalGold:      int(r.TotalGold),
				TotalSilver:    int(r.TotalSilver),
				TotalBronze:    int(r.TotalBronze),
				Rank:           int(r.Rank),
			})
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return leaderboard.Snapshot{}, crerr.Wrap(readErr, "read snapshot rows")
		}
	}

	return leaderboard.Snapshot{Entries: entries, Generation: generation}, nil
}

func readGeneration(file *parquet.File) (time.Time, error) {
	raw, ok := file.Lookup(generationMetadataKey)
	if !ok {
		return time.Time{}, crerr.Newf("snapshot missing %s metadata", generationMetadataKey)
	}
	generation, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, crerr.Wrap(err, "parse snapshot generation")
	}
	return generation.UTC(), nil
}
