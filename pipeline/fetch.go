package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"go.uber.org/zap"
)

// Fetcher downloads source assets over HTTP into a job's workspace.
type Fetcher struct {
	client *http.Client
	logger *zap.Logger
}

func NewFetcher(logger *zap.Logger) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: 0, // the per-job context bounds the whole download
		},
		logger: logger,
	}
}

// FetchSource GETs sourceURL and writes it to destPath. A non-2xx
// response is a fatal input error; there is no retry at this layer.
func (f *Fetcher) FetchSource(ctx context.Context, sourceURL, destPath string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return 0, inputErr("download", fmt.Errorf("bad source url %q: %w", sourceURL, err))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, inputErr("download", fmt.Errorf("fetch %q: %w", sourceURL, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, inputErr("download", fmt.Errorf("fetch %q: status %d", sourceURL, resp.StatusCode))
	}

	out, err := os.Create(destPath)
	if err != nil {
		return 0, inputErr("download", fmt.Errorf("create %s: %w", destPath, err))
	}
	defer out.Close()

	n, err := io.Copy(out, resp.Body)
	if err != nil {
		return 0, inputErr("download", fmt.Errorf("save %q: %w", sourceURL, err))
	}
	if n == 0 {
		return 0, inputErr("download", fmt.Errorf("source %q is empty", sourceURL))
	}

	f.logger.Debug("source downloaded", zap.String("url", sourceURL), zap.Int64("bytes", n))
	return n, nil
}
