// Package transport fetches manifests and cargo files over HTTP and reports
// the storage quota of the cache volume.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adamancini/hold/internal/budget"
	"github.com/adamancini/hold/internal/update"
)

const (
	// maxManifestBytes bounds the size of a manifest document.
	maxManifestBytes = 4 << 20
	chunkSize        = 32 << 10
)

// QuotaSource reports the storage available to the cache.
type QuotaSource interface {
	QueryQuota(ctx context.Context) (budget.Quota, error)
}

// Options configures an HTTP transport.
type Options struct {
	Timeout   time.Duration
	UserAgent string
	Quota     QuotaSource
	Client    *http.Client
}

// HTTP implements update.Transport with plain GET requests. File fetches
// resume with a Range header.
type HTTP struct {
	client    *http.Client
	userAgent string
	quota     QuotaSource
}

// NewHTTP creates an HTTP transport.
func NewHTTP(opts Options) *HTTP {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &HTTP{
		client:    client,
		userAgent: opts.UserAgent,
		quota:     opts.Quota,
	}
}

func (h *HTTP) get(ctx context.Context, url string, offset int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &update.NetworkError{URL: url, Err: err}
	}
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &update.NetworkError{URL: url, Err: err}
	}
	return resp, nil
}

// FetchManifest downloads a manifest document.
func (h *HTTP) FetchManifest(ctx context.Context, url string) ([]byte, error) {
	resp, err := h.get(ctx, url, 0)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &update.NetworkError{URL: url, Status: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes+1))
	if err != nil {
		return nil, &update.NetworkError{URL: url, Err: err}
	}
	if len(data) > maxManifestBytes {
		return nil, fmt.Errorf("manifest %s is larger than %s", url, budget.Friendly(maxManifestBytes))
	}
	return data, nil
}

// FetchFile downloads url from offset. A server that ignores the Range
// header is handled by skipping the bytes already held. At most size-offset
// bytes are accepted.
func (h *HTTP) FetchFile(ctx context.Context, url string, offset, size int64, onProgress func(int64)) ([]byte, error) {
	resp, err := h.get(ctx, url, offset)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		start, ok := rangeStart(resp.Header.Get("Content-Range"))
		if !ok || start != offset {
			return nil, fmt.Errorf("%s answered range %q for offset %d", url, resp.Header.Get("Content-Range"), offset)
		}
	case resp.StatusCode == http.StatusOK:
		if offset > 0 {
			if _, err := io.CopyN(io.Discard, resp.Body, offset); err != nil {
				return nil, &update.NetworkError{URL: url, Err: err}
			}
		}
	default:
		return nil, &update.NetworkError{URL: url, Status: resp.StatusCode}
	}

	remaining := max(size-offset, 0)
	body := io.LimitReader(resp.Body, remaining+1)

	var data []byte
	if resp.ContentLength > 0 && resp.ContentLength <= remaining && resp.StatusCode == http.StatusPartialContent {
		data = make([]byte, 0, resp.ContentLength)
	}
	buf := make([]byte, chunkSize)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
			if int64(len(data)) > remaining {
				return nil, fmt.Errorf("%s is larger than its declared %s", url, budget.Friendly(size))
			}
			if onProgress != nil {
				onProgress(int64(len(data)))
			}
		}
		if errors.Is(rerr, io.EOF) {
			return data, nil
		}
		if rerr != nil {
			nerr := &update.NetworkError{URL: url, Err: rerr}
			if len(data) > 0 {
				return nil, &update.PartialError{Data: data, Err: nerr}
			}
			return nil, nerr
		}
	}
}

// rangeStart reads the first byte position of a "bytes first-last/total"
// Content-Range value.
func rangeStart(header string) (int64, bool) {
	spec, ok := strings.CutPrefix(header, "bytes ")
	if !ok {
		return 0, false
	}
	first, _, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(first, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// QueryQuota reports the quota of the configured source.
func (h *HTTP) QueryQuota(ctx context.Context) (budget.Quota, error) {
	if h.quota == nil {
		return budget.Quota{}, fmt.Errorf("no quota source configured")
	}
	return h.quota.QueryQuota(ctx)
}
