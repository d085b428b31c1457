package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kaggleviz/country-leaderboard/internal/platform/logging"
)

// Config stores runtime configuration for the service.
type Config struct {
	AppEnv             string
	ServiceName        string
	ServiceVersion     string
	HTTPAddr           string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	CORSAllowedOrigins []string
	LogLevel           logging.Level

	DataDir              string
	MaxPageSize          int
	RefreshOnStart       bool
	MalformedRowMaxRatio float64
	RankWorkerCount      int
	InternalJobToken     string

	CacheEnabled bool
	CacheTTL     time.Duration

	KaggleDataset               string
	KaggleBaseURL               string
	KaggleCredentialsFile       string
	KaggleTimeout               time.Duration
	KaggleMaxRetries            int
	KaggleCircuitEnabled        bool
	KaggleCircuitFailureCount   int
	KaggleCircuitOpenTimeout    time.Duration
	KaggleCircuitHalfOpenMaxReq int

	PprofEnabled bool
	PprofAddr    string

	UptraceEnabled bool
	UptraceDSN     string

	PyroscopeEnabled           bool
	PyroscopeServerAddress     string
	PyroscopeAppName           string
	PyroscopeAuthToken         string
	PyroscopeBasicAuthUser     string
	PyroscopeBasicAuthPassword string
	PyroscopeUploadRate        time.Duration
}

func Load() (Config, error) {
	appEnv, err := parseAppEnv(getEnv("APP_ENV", EnvDev))
	if err != nil {
		return Config{}, err
	}

	readTimeout, err := time.ParseDuration(getEnv("APP_READ_TIMEOUT", "10s"))
	if err != nil {
		return Config{}, fmt.Errorf("parse APP_READ_TIMEOUT: %w", err)
	}
	writeTimeout, err := time.ParseDuration(getEnv("APP_WRITE_TIMEOUT", "30s"))
	if err != nil {
		return Config{}, fmt.Errorf("parse APP_WRITE_TIMEOUT: %w", err)
	}

	maxPageSize, err := getEnvAsInt("MAX_PAGE_SIZE", 250)
	if err != nil {
		return Config{}, fmt.Errorf("parse MAX_PAGE_SIZE: %w", err)
	}
	if maxPageSize < 0 {
		return Config{}, fmt.Errorf("MAX_PAGE_SIZE must be >= 0")
	}

	refreshOnStart, err := strconv.ParseBool(getEnv("REFRESH_ON_START", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("parse REFRESH_ON_START: %w", err)
	}

	malformedRowMaxRatio, err := getEnvAsFloat("MALFORMED_ROW_MAX_RATIO", 0.5)
	if err != nil {
		return Config{}, fmt.Errorf("parse MALFORMED_ROW_MAX_RATIO: %w", err)
	}
	if malformedRowMaxRatio <= 0 || malformedRowMaxRatio > 1 {
		return Config{}, fmt.Errorf("MALFORMED_ROW_MAX_RATIO must be in (0, 1]")
	}

	rankWorkerCount, err := getEnvAsInt("RANK_WORKER_COUNT", 0)
	if err != nil {
		return Config{}, fmt.Errorf("parse RANK_WORKER_COUNT: %w", err)
	}
	if rankWorkerCount < 0 {
		return Config{}, fmt.Errorf("RANK_WORKER_COUNT must be >= 0")
	}

	cacheEnabled, err := strconv.ParseBool(getEnv("CACHE_ENABLED", "true"))
	if err != nil {
		return Config{}, fmt.Errorf("parse CACHE_ENABLED: %w", err)
	}
	cacheTTL, err := time.ParseDuration(getEnv("CACHE_TTL", "60s"))
	if err != nil {
		return Config{}, fmt.Errorf("parse CACHE_TTL: %w", err)
	}
	if cacheTTL <= 0 {
		return Config{}, fmt.Errorf("CACHE_TTL must be > 0")
	}

	kaggleTimeout, err := time.ParseDuration(getEnv("KAGGLE_TIMEOUT", "120s"))
	if err != nil {
		return Config{}, fmt.Errorf("parse KAGGLE_TIMEOUT: %w", err)
	}
	if kaggleTimeout <= 0 {
		return Config{}, fmt.Errorf("KAGGLE_TIMEOUT must be > 0")
	}
	kaggleMaxRetries, err := getEnvAsInt("KAGGLE_MAX_RETRIES", 2)
	if err != nil {
		return Config{}, fmt.Errorf("parse KAGGLE_MAX_RETRIES: %w", err)
	}
	if kaggleMaxRetries < 0 {
		return Config{}, fmt.Errorf("KAGGLE_MAX_RETRIES must be >= 0")
	}
	kaggleCircuitEnabled, err := strconv.ParseBool(getEnv("KAGGLE_CIRCUIT_ENABLED", "true"))
	if err != nil {
		return Config{}, fmt.Errorf("parse KAGGLE_CIRCUIT_ENABLED: %w", err)
	}
	kaggleCircuitFailureCount, err := getEnvAsInt("KAGGLE_CIRCUIT_FAILURE_COUNT", 5)
	if err != nil {
		return Config{}, fmt.Errorf("parse KAGGLE_CIRCUIT_FAILURE_COUNT: %w", err)
	}
	if kaggleCircuitFailureCount < 1 {
		return Config{}, fmt.Errorf("KAGGLE_CIRCUIT_FAILURE_COUNT must be >= 1")
	}
	kaggleCircuitOpenTimeout, err := time.ParseDuration(getEnv("KAGGLE_CIRCUIT_OPEN_TIMEOUT", "30s"))
	if err != nil {
		return Config{}, fmt.Errorf("parse KAGGLE_CIRCUIT_OPEN_TIMEOUT: %w", err)
	}
	if kaggleCircuitOpenTimeout <= 0 {
		return Config{}, fmt.Errorf("KAGGLE_CIRCUIT_OPEN_TIMEOUT must be > 0")
	}
	kaggleCircuitHalfOpenMaxReq, err := getEnvAsInt("KAGGLE_CIRCUIT_HALF_OPEN_MAX_REQ", 2)
	if err != nil {
		return Config{}, fmt.Errorf("parse KAGGLE_CIRCUIT_HALF_OPEN_MAX_REQ: %w", err)
	}
	if kaggleCircuitHalfOpenMaxReq < 1 {
		return Config{}, fmt.Errorf("KAGGLE_CIRCUIT_HALF_OPEN_MAX_REQ must be >= 1")
	}

	pprofEnabled, err := strconv.ParseBool(getEnv("PPROF_ENABLED", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("parse PPROF_ENABLED: %w", err)
	}
	pprofAddr := strings.TrimSpace(getEnv("PPROF_ADDR", ":6060"))
	if pprofEnabled && pprofAddr == "" {
		return Config{}, fmt.Errorf("PPROF_ADDR is required when PPROF_ENABLED=true")
	}

	uptraceEnabled, err := strconv.ParseBool(getEnv("UPTRACE_ENABLED", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("parse UPTRACE_ENABLED: %w", err)
	}
	uptraceDSN := strings.TrimSpace(getEnv("UPTRACE_DSN", ""))
	if uptraceEnabled && uptraceDSN == "" {
		return Config{}, fmt.Errorf("UPTRACE_DSN is required when UPTRACE_ENABLED=true")
	}

	pyroscopeEnabled, err := strconv.ParseBool(getEnv("PYROSCOPE_ENABLED", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("parse PYROSCOPE_ENABLED: %w", err)
	}
	pyroscopeServerAddress := strings.TrimSpace(getEnv("PYROSCOPE_SERVER_ADDRESS", ""))
	if pyroscopeEnabled && pyroscopeServerAddress == "" {
		return Config{}, fmt.Errorf("PYROSCOPE_SERVER_ADDRESS is required when PYROSCOPE_ENABLED=true")
	}
	pyroscopeUploadRate, err := time.ParseDuration(getEnv("PYROSCOPE_UPLOAD_RATE", "15s"))
	if err != nil {
		return Config{}, fmt.Errorf("parse PYROSCOPE_UPLOAD_RATE: %w", err)
	}
	if pyroscopeUploadRate <= 0 {
		return Config{}, fmt.Errorf("PYROSCOPE_UPLOAD_RATE must be > 0")
	}

	cfg := Config{
		AppEnv:             appEnv,
		ServiceName:        getEnv("APP_SERVICE_NAME", "country-leaderboard-api"),
		ServiceVersion:     getEnv("APP_SERVICE_VERSION", "dev"),
		HTTPAddr:           getEnv("APP_HTTP_ADDR", ":8080"),
		ReadTimeout:        readTimeout,
		WriteTimeout:       writeTimeout,
		CORSAllowedOrigins: splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		LogLevel:           parseLogLevel(getEnv("APP_LOG_LEVEL", "info")),

		DataDir:              getEnv("DATA_DIR", "conf"),
		MaxPageSize:          maxPageSize,
		RefreshOnStart:       refreshOnStart,
		MalformedRowMaxRatio: malformedRowMaxRatio,
		RankWorkerCount:      rankWorkerCount,
		InternalJobToken:     strings.TrimSpace(getEnv("INTERNAL_JOB_TOKEN", "")),

		CacheEnabled: cacheEnabled,
		CacheTTL:     cacheTTL,

		KaggleDataset:               strings.TrimSpace(getEnv("KAGGLE_DATASET", "kaggle/meta-kaggle")),
		KaggleBaseURL:               strings.TrimSpace(getEnv("KAGGLE_BASE_URL", "https://www.kaggle.com/api/v1")),
		KaggleCredentialsFile:       strings.TrimSpace(getEnv("KAGGLE_CREDENTIALS_FILE", "")),
		KaggleTimeout:               kaggleTimeout,
		KaggleMaxRetries:            kaggleMaxRetries,
		KaggleCircuitEnabled:        kaggleCircuitEnabled,
		KaggleCircuitFailureCount:   kaggleCircuitFailureCount,
		KaggleCircuitOpenTimeout:    kaggleCircuitOpenTimeout,
		KaggleCircuitHalfOpenMaxReq: kaggleCircuitHalfOpenMaxReq,

		PprofEnabled: pprofEnabled,
		PprofAddr:    pprofAddr,

		UptraceEnabled: uptraceEnabled,
		UptraceDSN:     uptraceDSN,

		PyroscopeEnabled:           pyroscopeEnabled,
		PyroscopeServerAddress:     pyroscopeServerAddress,
		PyroscopeAuthToken:         strings.TrimSpace(getEnv("PYROSCOPE_AUTH_TOKEN", "")),
		PyroscopeBasicAuthUser:     strings.TrimSpace(getEnv("PYROSCOPE_BASIC_AUTH_USER", "")),
		PyroscopeBasicAuthPassword: strings.TrimSpace(getEnv("PYROSCOPE_BASIC_AUTH_PASSWORD", "")),
		PyroscopeUploadRate:        pyroscopeUploadRate,
	}

	if cfg.KaggleDataset == "" {
		return Config{}, fmt.Errorf("KAGGLE_DATASET cannot be empty")
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		return Config{}, fmt.Errorf("CORS_ALLOWED_ORIGINS cannot be empty")
	}

	cfg.PyroscopeAppName = strings.TrimSpace(getEnv("PYROSCOPE_APP_NAME", cfg.ServiceName))
	if cfg.PyroscopeEnabled && cfg.PyroscopeAppName == "" {
		return Config{}, fmt.Errorf("PYROSCOPE_APP_NAME cannot be empty when PYROSCOPE_ENABLED=true")
	}

	return cfg, nil
}

func parseLogLevel(v string) logging.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "debug":
		return logging.LevelDebug
	case "warn", "warning":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return fallback
	}

	return value
}

func getEnvAsInt(key string, fallback int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}

	out, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}

	return out, nil
}

func getEnvAsFloat(key string, fallback float64) (float64, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}

	out, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}

	return out, nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		item := strings.TrimSpace(part)
		if item == "" {
			continue
		}
		out = append(out, item)
	}

	return out
}

const (
	EnvDev   = "dev"
	EnvStage = "stage"
	EnvProd  = "prod"
)

func parseAppEnv(v string) (string, error) {
	value := strings.ToLower(strings.TrimSpace(v))
	switch value {
	case EnvDev, EnvStage, EnvProd:
		return value, nil
	default:
		return "", fmt.Errorf("invalid APP_ENV %q: valid values are %s, %s, %s", v, EnvDev, EnvStage, EnvProd)
	}
}
