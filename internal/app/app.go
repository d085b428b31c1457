package app

import (
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/kaggleviz/country-leaderboard/external/kaggle"
	"github.com/kaggleviz/country-leaderboard/internal/config"
	"github.com/kaggleviz/country-leaderboard/internal/infrastructure/snapshot"
	"github.com/kaggleviz/country-leaderboard/internal/interfaces/httpapi"
	"github.com/kaggleviz/country-leaderboard/internal/platform/cache"
	"github.com/kaggleviz/country-leaderboard/internal/platform/logging"
	"github.com/kaggleviz/country-leaderboard/internal/platform/resilience"
	"github.com/kaggleviz/country-leaderboard/internal/usecase"
)

// App bundles the HTTP server with the pipeline that feeds it.
type App struct {
	HTTPServer *http.Server
	Pipeline   *usecase.PipelineService
}

func New(cfg config.Config, logger *logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.Default()
	}

	creds, err := kaggle.LoadCredentials(cfg.KaggleCredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("load kaggle credentials: %w", err)
	}

	downloader := kaggle.NewClient(kaggle.ClientConfig{
		BaseURL:     cfg.KaggleBaseURL,
		Dataset:     cfg.KaggleDataset,
		Credentials: creds,
		Timeout:     cfg.KaggleTimeout,
		MaxRetries:  cfg.KaggleMaxRetries,
		Logger:      logger,
		CircuitBreaker: resilience.CircuitBreakerConfig{
			Enabled:          cfg.KaggleCircuitEnabled,
			FailureThreshold: cfg.KaggleCircuitFailureCount,
			OpenTimeout:      cfg.KaggleCircuitOpenTimeout,
			HalfOpenMaxReq:   cfg.KaggleCircuitHalfOpenMaxReq,
		},
	})

	var queryCache *cache.Store
	if cfg.CacheEnabled {
		queryCache = cache.NewStore(cfg.CacheTTL)
	}

	fetcher := usecase.NewSourceFetchService(downloader, cfg.DataDir, logger)
	joiner := usecase.NewJoinService(cfg.MalformedRowMaxRatio, logger)
	store := snapshot.NewParquetStore(filepath.Join(cfg.DataDir, "records.parquet"), logger)
	pipeline := usecase.NewPipelineService(fetcher, joiner, store, queryCache, cfg.RankWorkerCount, logger)
	leaderboardSvc := usecase.NewLeaderboardService(pipeline, queryCache, logger)

	handler := httpapi.NewHandler(leaderboardSvc, pipeline, cfg.MaxPageSize, logger)
	router := httpapi.NewRouter(handler, logger, cfg.CORSAllowedOrigins, cfg.InternalJobToken)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	if server.Addr == "" {
		return nil, fmt.Errorf("http server addr cannot be empty")
	}

	return &App{HTTPServer: server, Pipeline: pipeline}, nil
}
