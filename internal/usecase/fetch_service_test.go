package usecase

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/kaggleviz/country-leaderboard/internal/platform/logging"
)

type fakeDownloader struct {
	calls    atomic.Int64
	failFile string
	content  map[string]string
}

func (d *fakeDownloader) DownloadDatasetFile(_ context.Context, fileName string, dst io.Writer) (int64, error) {
	d.calls.Add(1)
	if d.failFile == fileName {
		return 0, errors.New("provider outage")
	}
	body := d.content[fileName]
	n, err := io.WriteString(dst, body)
	return int64(n), err
}

func sourceContent() map[string]string {
	return map[string]string{
		UsersFileName:        "Id,UserName\n1,alice\n",
		AchievementsFileName: "UserId,AchievementType\n1,Competitions\n",
	}
}

func TestSourceFetchService_DownloadInstallsPair(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	downloader := &fakeDownloader{content: sourceContent()}
	svc := NewSourceFetchService(downloader, dir, logging.NewNop())

	pair, err := svc.Fetch(context.Background(), ForceRefresh)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if pair.Generation.IsZero() {
		t.Fatalf("expected a generation marker")
	}

	for _, path := range []string{pair.UsersPath, pair.AchievementsPath} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("installed source missing: %v", err)
		}
	}
	if filepath.Dir(pair.UsersPath) != filepath.Dir(pair.AchievementsPath) {
		t.Fatalf("pair split across directories: %s vs %s", pair.UsersPath, pair.AchievementsPath)
	}
	if _, err := os.Stat(filepath.Join(dir, "sources.json")); err != nil {
		t.Fatalf("manifest missing: %v", err)
	}
}

func TestSourceFetchService_InterruptedInstallStaysInvisible(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	downloader := &fakeDownloader{content: sourceContent()}
	svc := NewSourceFetchService(downloader, dir, logging.NewNop())

	first, err := svc.Fetch(context.Background(), ForceRefresh)
	if err != nil {
		t.Fatalf("initial fetch: %v", err)
	}
	committed, err := os.ReadFile(first.UsersPath)
	if err != nil {
		t.Fatalf("read committed users: %v", err)
	}

	// A newer generation that died before the manifest flip: the users
	// file landed but the achievements file and the commit never did.
	orphanDir := filepath.Join(dir, "sources-99999999999999999999")
	if err := os.MkdirAll(orphanDir, 0o755); err != nil {
		t.Fatalf("create orphan dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(orphanDir, UsersFileName), []byte("Id,UserName\n9,mallory\n"), 0o644); err != nil {
		t.Fatalf("write orphan users: %v", err)
	}

	callsBefore := downloader.calls.Load()
	pair, err := svc.Fetch(context.Background(), UseCache)
	if err != nil {
		t.Fatalf("cached fetch: %v", err)
	}
	if downloader.calls.Load() != callsBefore {
		t.Fatalf("complete committed pair must be a cache hit")
	}
	if !pair.Generation.Equal(first.Generation) {
		t.Fatalf("uncommitted generation leaked: got %s, want %s", pair.Generation, first.Generation)
	}
	got, err := os.ReadFile(pair.UsersPath)
	if err != nil {
		t.Fatalf("read cached users: %v", err)
	}
	if string(got) != string(committed) {
		t.Fatalf("cached pair served uncommitted data: %q", got)
	}
}

func TestSourceFetchService_IncompleteCommittedPairIsCacheMiss(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	downloader := &fakeDownloader{content: sourceContent()}
	svc := NewSourceFetchService(downloader, dir, logging.NewNop())

	first, err := svc.Fetch(context.Background(), ForceRefresh)
	if err != nil {
		t.Fatalf("initial fetch: %v", err)
	}
	if err := os.Remove(first.AchievementsPath); err != nil {
		t.Fatalf("remove achievements file: %v", err)
	}

	callsBefore := downloader.calls.Load()
	pair, err := svc.Fetch(context.Background(), UseCache)
	if err != nil {
		t.Fatalf("fetch after cache damage: %v", err)
	}
	if downloader.calls.Load() != callsBefore+2 {
		t.Fatalf("a pair with a missing member must be redownloaded")
	}
	for _, path := range []string{pair.UsersPath, pair.AchievementsPath} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("redownloaded source missing: %v", err)
		}
	}
}

func TestSourceFetchService_RefreshPrunesStaleGenerations(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	downloader := &fakeDownloader{content: sourceContent()}
	svc := NewSourceFetchService(downloader, dir, logging.NewNop())

	if _, err := svc.Fetch(context.Background(), ForceRefresh); err != nil {
		t.Fatalf("initial fetch: %v", err)
	}
	second, err := svc.Fetch(context.Background(), ForceRefresh)
	if err != nil {
		t.Fatalf("forced fetch: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read data dir: %v", err)
	}
	var genDirs []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "sources-") {
			genDirs = append(genDirs, e.Name())
		}
	}
	if len(genDirs) != 1 || genDirs[0] != filepath.Base(filepath.Dir(second.UsersPath)) {
		t.Fatalf("expected only the committed generation dir, got %v", genDirs)
	}
}

func TestSourceFetchService_UseCacheSkipsDownload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	downloader := &fakeDownloader{content: sourceContent()}
	svc := NewSourceFetchService(downloader, dir, logging.NewNop())

	first, err := svc.Fetch(context.Background(), ForceRefresh)
	if err != nil {
		t.Fatalf("initial fetch: %v", err)
	}
	callsAfterDownload := downloader.calls.Load()

	second, err := svc.Fetch(context.Background(), UseCache)
	if err != nil {
		t.Fatalf("cached fetch: %v", err)
	}
	if downloader.calls.Load() != callsAfterDownload {
		t.Fatalf("cache hit must not contact the provider")
	}
	if !second.Generation.Equal(first.Generation) {
		t.Fatalf("cached pair generation changed: %s vs %s", second.Generation, first.Generation)
	}
}

func TestSourceFetchService_ForceRefreshRedownloads(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	downloader := &fakeDownloader{content: sourceContent()}
	svc := NewSourceFetchService(downloader, dir, logging.NewNop())

	if _, err := svc.Fetch(context.Background(), ForceRefresh); err != nil {
		t.Fatalf("initial fetch: %v", err)
	}
	before := downloader.calls.Load()

	if _, err := svc.Fetch(context.Background(), ForceRefresh); err != nil {
		t.Fatalf("forced fetch: %v", err)
	}
	if downloader.calls.Load() != before+2 {
		t.Fatalf("force refresh must redownload both files")
	}
}

func TestSourceFetchService_FailedDownloadFallsBackToCache(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	downloader := &fakeDownloader{content: sourceContent()}
	svc := NewSourceFetchService(downloader, dir, logging.NewNop())

	first, err := svc.Fetch(context.Background(), ForceRefresh)
	if err != nil {
		t.Fatalf("initial fetch: %v", err)
	}

	downloader.failFile = AchievementsFileName
	pair, err := svc.Fetch(context.Background(), ForceRefresh)
	if err != nil {
		t.Fatalf("expected fallback to cached pair, got %v", err)
	}
	if !pair.Generation.Equal(first.Generation) {
		t.Fatalf("fallback must serve the cached generation")
	}
}

func TestSourceFetchService_PartialFailureInstallsNothing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	downloader := &fakeDownloader{content: sourceContent(), failFile: AchievementsFileName}
	svc := NewSourceFetchService(downloader, dir, logging.NewNop())

	if _, err := svc.Fetch(context.Background(), ForceRefresh); err == nil {
		t.Fatalf("expected error with no cache to fall back to")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read data dir: %v", err)
	}
	for _, e := range entries {
		t.Fatalf("half-downloaded artifacts must be cleaned up, found %s", e.Name())
	}
}

func TestSourceFetchService_NoDownloaderConfigured(t *testing.T) {
	t.Parallel()

	svc := NewSourceFetchService(nil, t.TempDir(), logging.NewNop())
	if _, err := svc.Fetch(context.Background(), ForceRefresh); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}
