package usecase

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	sonic "github.com/bytedance/sonic"
	crerr "github.com/cockroachdb/errors"
	"github.com/sourcegraph/conc/pool"

	"github.com/kaggleviz/country-leaderboard/internal/platform/logging"
)

// RefreshMode selects between reusing the cached source pair and contacting
// the dataset provider. An explicit enum keeps call sites legible.
type RefreshMode int

const (
	UseCache RefreshMode = iota
	ForceRefresh
)

func (m RefreshMode) String() string {
	if m == ForceRefresh {
		return "force_refresh"
	}
	return "use_cache"
}

const (
	UsersFileName        = "Users.csv"
	AchievementsFileName = "UserAchievements.csv"

	sourceManifestName = "sources.json"
	sourceDirPrefix    = "sources-"
)

// SourcePair points at a matched pair of raw source files plus the
// generation marker of the fetch that produced them.
type SourcePair struct {
	UsersPath        string
	AchievementsPath string
	Generation       time.Time
}

// SourceDownloader is the dataset provider surface the fetcher needs.
type SourceDownloader interface {
	DownloadDatasetFile(ctx context.Context, fileName string, dst io.Writer) (int64, error)
}

type sourceManifest struct {
	Generation   time.Time `json:"generation"`
	Dir          string    `json:"dir"`
	Users        string    `json:"users"`
	Achievements string    `json:"achievements"`
}

// SourceFetchService acquires the two raw sources, caching them under the
// data dir. Each download lands in its own generation directory and is
// committed by a single manifest rename, so the cache never holds a
// mismatched users/achievements pair.
type SourceFetchService struct {
	downloader SourceDownloader
	dataDir    string
	logger     *logging.Logger
}

func NewSourceFetchService(downloader SourceDownloader, dataDir string, logger *logging.Logger) *SourceFetchService {
	if logger == nil {
		logger = logging.Default()
	}
	return &SourceFetchService{
		downloader: downloader,
		dataDir:    dataDir,
		logger:     logger,
	}
}

// Fetch returns a usable source pair. UseCache prefers the cached pair and
// only downloads on a cache miss; ForceRefresh always contacts the provider
// but falls back to the last good cache when the provider is unavailable.
func (s *SourceFetchService) Fetch(ctx context.Context, mode RefreshMode) (SourcePair, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.SourceFetchService.Fetch")
	defer span.End()

	cached, cacheOK := s.cachedPair()
	if mode == UseCache && cacheOK {
		s.logger.InfoContext(ctx, "using cached sources",
			"generation", cached.Generation.Format(time.RFC3339),
		)
		return cached, nil
	}

	pair, err := s.download(ctx)
	if err != nil {
		if cacheOK {
			s.logger.WarnContext(ctx, "source download failed, falling back to cached pair",
				"generation", cached.Generation.Format(time.RFC3339),
				"error", err,
			)
			return cached, nil
		}
		return SourcePair{}, fmt.Errorf("fetch sources: %w", err)
	}

	return pair, nil
}

func (s *SourceFetchService) download(ctx context.Context) (SourcePair, error) {
	if s.downloader == nil {
		return SourcePair{}, fmt.Errorf("%w: source downloader is not configured", ErrSourceUnavailable)
	}

	generation := time.Now().UTC()
	genDir := filepath.Join(s.dataDir, sourceDirPrefix+strconv.FormatInt(generation.UnixNano(), 10))
	if err := os.MkdirAll(genDir, 0o755); err != nil {
		return SourcePair{}, crerr.Wrap(err, "create generation dir")
	}

	pair := SourcePair{
		UsersPath:        filepath.Join(genDir, UsersFileName),
		AchievementsPath: filepath.Join(genDir, AchievementsFileName),
		Generation:       generation,
	}

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		return s.downloadTo(ctx, UsersFileName, pair.UsersPath)
	})
	p.Go(func(ctx context.Context) error {
		return s.downloadTo(ctx, AchievementsFileName, pair.AchievementsPath)
	})
	if err := p.Wait(); err != nil {
		_ = os.RemoveAll(genDir)
		return SourcePair{}, err
	}

	// The fresh pair sits in its own generation directory and stays
	// invisible until the manifest rename flips both paths at once, so a
	// crash mid-install can never pair files from different generations.
	if err := s.writeManifest(genDir, pair); err != nil {
		_ = os.RemoveAll(genDir)
		return SourcePair{}, err
	}

	s.pruneStaleGenerations(ctx, filepath.Base(genDir))

	s.logger.InfoContext(ctx, "sources downloaded",
		"users_path", pair.UsersPath,
		"achievements_path", pair.AchievementsPath,
		"generation", pair.Generation.Format(time.RFC3339),
	)

	return pair, nil
}

func (s *SourceFetchService) downloadTo(ctx context.Context, fileName, destPath string) error {
	f, err := os.Create(destPath)
	if err != nil {
		return crerr.Wrapf(err, "create %s", destPath)
	}

	written, err := s.downloader.DownloadDatasetFile(ctx, fileName, f)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = crerr.Wrapf(closeErr, "close %s", destPath)
	}
	if err != nil {
		_ = os.Remove(destPath)
		return err
	}

	s.logger.DebugContext(ctx, "source file downloaded", "file", fileName, "bytes", written)
	return nil
}

func (s *SourceFetchService) writeManifest(genDir string, pair SourcePair) error {
	manifest := sourceManifest{
		Generation:   pair.Generation,
		Dir:          filepath.Base(genDir),
		Users:        filepath.Base(pair.UsersPath),
		Achievements: filepath.Base(pair.AchievementsPath),
	}
	raw, err := sonic.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return crerr.Wrap(err, "encode source manifest")
	}

	manifestPath := filepath.Join(s.dataDir, sourceManifestName)
	tmpPath := manifestPath + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o644); err != nil {
		return crerr.Wrap(err, "write source manifest")
	}
	if err := os.Rename(tmpPath, manifestPath); err != nil {
		_ = os.Remove(tmpPath)
		return crerr.Wrap(err, "install source manifest")
	}

	return nil
}

// pruneStaleGenerations drops committed-over generation directories, keeping
// only the one the manifest points at.
func (s *SourceFetchService) pruneStaleGenerations(ctx context.Context, keep string) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), sourceDirPrefix) || e.Name() == keep {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.dataDir, e.Name())); err != nil {
			s.logger.WarnContext(ctx, "failed to prune stale generation dir", "dir", e.Name(), "error", err)
		}
	}
}

// cachedPair reports the last committed pair, if complete.
func (s *SourceFetchService) cachedPair() (SourcePair, bool) {
	raw, err := os.ReadFile(filepath.Join(s.dataDir, sourceManifestName))
	if err != nil {
		return SourcePair{}, false
	}

	var manifest sourceManifest
	if err := sonic.Unmarshal(raw, &manifest); err != nil {
		return SourcePair{}, false
	}
	if manifest.Generation.IsZero() || manifest.Dir == "" || manifest.Users == "" || manifest.Achievements == "" {
		return SourcePair{}, false
	}

	pair := SourcePair{
		UsersPath:        filepath.Join(s.dataDir, manifest.Dir, manifest.Users),
		AchievementsPath: filepath.Join(s.dataDir, manifest.Dir, manifest.Achievements),
		Generation:       manifest.Generation.UTC(),
	}
	if _, err := os.Stat(pair.UsersPath); err != nil {
		return SourcePair{}, false
	}
	if _, err := os.Stat(pair.AchievementsPath); err != nil {
		return SourcePair{}, false
	}

	return pair, true
}
