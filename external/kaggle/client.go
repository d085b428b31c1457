package kaggle

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	crerr "github.com/cockroachdb/errors"

	"github.com/kaggleviz/country-leaderboard/internal/platform/logging"
	"github.com/kaggleviz/country-leaderboard/internal/platform/resilience"
	"github.com/kaggleviz/country-leaderboard/internal/usecase"
)

const (
	defaultBaseURL = "https://www.kaggle.com/api/v1"

	// Dataset files are served zip-wrapped unless small; cap reads so a
	// misbehaving response cannot exhaust the process.
	maxDownloadBytes = 4 << 30
)

var errKaggleTransient = crerr.New("kaggle transient failure")

type ClientConfig struct {
	HTTPClient     *http.Client
	BaseURL        string
	Dataset        string // owner/dataset slug, e.g. kaggle/meta-kaggle
	Credentials    Credentials
	Timeout        time.Duration
	MaxRetries     int
	Logger         *logging.Logger
	CircuitBreaker resilience.CircuitBreakerConfig
}

// Client downloads files from a Kaggle dataset. Failures that indicate
// provider trouble trip a circuit breaker so a flapping provider is not
// hammered by retries from every refresh attempt.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	dataset        string
	creds          Credentials
	maxRetries     int
	logger         *logging.Logger
	breaker        *resilience.CircuitBreaker
	circuitEnabled bool
}

func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if httpClient.Timeout <= 0 {
		httpClient.Timeout = 5 * time.Minute
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	breakerCfg := resilience.NormalizeCircuitBreakerConfig(cfg.CircuitBreaker)

	return &Client{
		httpClient:     httpClient,
		baseURL:        baseURL,
		dataset:        strings.Trim(strings.TrimSpace(cfg.Dataset), "/"),
		creds:          cfg.Credentials,
		maxRetries:     max(cfg.MaxRetries, 0),
		logger:         logger,
		breaker:        resilience.NewCircuitBreaker(breakerCfg.FailureThreshold, breakerCfg.OpenTimeout, breakerCfg.HalfOpenMaxReq),
		circuitEnabled: breakerCfg.Enabled,
	}
}

// DownloadDatasetFile fetches one file of the configured dataset into dst,
// transparently unwrapping zip-wrapped responses. It returns the number of
// bytes written to dst.
func (c *Client) DownloadDatasetFile(ctx context.Context, fileName string, dst io.Writer) (int64, error) {
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return 0, fmt.Errorf("%w: file name is required", usecase.ErrInvalidInput)
	}
	if c.dataset == "" {
		return 0, fmt.Errorf("%w: dataset slug is not configured", usecase.ErrSourceUnavailable)
	}
	if !c.creds.Valid() {
		return 0, fmt.Errorf("%w: kaggle credentials are missing (KAGGLE_USERNAME/KAGGLE_KEY or kaggle.json)", usecase.ErrSourceUnavailable)
	}

	if c.circuitEnabled {
		if err := c.breaker.Allow(); err != nil {
			c.logger.WarnContext(ctx, "kaggle circuit breaker rejected request", "state", c.breaker.State())
			return 0, fmt.Errorf("%w: dataset provider is temporarily unavailable", usecase.ErrSourceUnavailable)
		}
	}

	fullURL := c.baseURL + "/datasets/download/" + c.dataset + "/" + url.PathEscape(fileName)

	written, err := c.executeDownload(ctx, fullURL, fileName, dst)
	if c.circuitEnabled {
		if err != nil && crerr.Is(err, errKaggleTransient) {
			c.breaker.RecordFailure()
		} else {
			c.breaker.RecordSuccess()
		}
	}
	if err != nil {
		return 0, fmt.Errorf("%w: download %s: %s", usecase.ErrSourceUnavailable, fileName, c.redact(err.Error()))
	}

	return written, nil
}

func (c *Client) executeDownload(ctx context.Context, fullURL, fileName string, dst io.Writer) (int64, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return 0, crerr.Wrap(err, "build request")
		}
		req.SetBasicAuth(c.creds.Username, c.creds.Key)
		req.Header.Set("Accept", "application/octet-stream")

		resp, err := c.httpClient.Do(req)
		switch {
		case err != nil:
			lastErr = fmt.Errorf("%w: send request: %s", errKaggleTransient, c.redact(err.Error()))
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			written, copyErr := c.unwrapBody(resp.Body, fileName, dst)
			_ = resp.Body.Close()
			if copyErr == nil {
				return written, nil
			}
			lastErr = fmt.Errorf("%w: read response body: %v", errKaggleTransient, copyErr)
		default:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			_ = resp.Body.Close()
			if isRetryableStatus(resp.StatusCode) {
				lastErr = fmt.Errorf("%w: provider status=%d body=%s", errKaggleTransient, resp.StatusCode, strings.TrimSpace(string(body)))
			} else {
				// 401/403 mean bad or expired credentials; retrying cannot help.
				return 0, fmt.Errorf("provider status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
			}
		}

		if attempt == c.maxRetries {
			break
		}
		backoff := time.Duration(attempt+1) * time.Second
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, ctx.Err()
		case <-timer.C:
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("provider request failed")
	}
	c.logger.WarnContext(ctx, "kaggle request failed", "url", fullURL, "error", lastErr)
	return 0, lastErr
}

// unwrapBody spools the response to a temp file, then copies either the
// matching zip entry or the raw body into dst. Spooling keeps memory flat
// for multi-hundred-megabyte source files.
func (c *Client) unwrapBody(body io.Reader, fileName string, dst io.Writer) (int64, error) {
	spool, err := os.CreateTemp("", "kaggle-download-*")
	if err != nil {
		return 0, crerr.Wrap(err, "create spool file")
	}
	defer func() {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
	}()

	size, err := io.Copy(spool, io.LimitReader(body, maxDownloadBytes))
	if err != nil {
		return 0, crerr.Wrap(err, "spool response")
	}

	if !isZip(spool) {
		if _, err := spool.Seek(0, io.SeekStart); err != nil {
			return 0, crerr.Wrap(err, "rewind spool")
		}
		return io.Copy(dst, spool)
	}

	archive, err := zip.NewReader(spool, size)
	if err != nil {
		return 0, crerr.Wrap(err, "open zip response")
	}

	entry := pickZipEntry(archive, fileName)
	if entry == nil {
		return 0, crerr.Newf("zip response has no entry for %s", fileName)
	}

	rc, err := entry.Open()
	if err != nil {
		return 0, crerr.Wrapf(err, "open zip entry %s", entry.Name)
	}
	defer func() { _ = rc.Close() }()

	return io.Copy(dst, io.LimitReader(rc, maxDownloadBytes))
}

func pickZipEntry(archive *zip.Reader, fileName string) *zip.File {
	for _, f := range archive.File {
		if strings.EqualFold(path.Base(f.Name), fileName) {
			return f
		}
	}
	if len(archive.File) == 1 {
		return archive.File[0]
	}
	return nil
}

func isZip(f *os.File) bool {
	var magic [4]byte
	if _, err := f.ReadAt(magic[:], 0); err != nil {
		return false
	}
	return magic[0] == 'P' && magic[1] == 'K' && magic[2] == 0x03 && magic[3] == 0x04
}

func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func (c *Client) redact(v string) string {
	if c.creds.Key == "" {
		return v
	}
	return strings.ReplaceAll(v, c.creds.Key, "REDACTED")
}
