// Package remote implements the Bynder media API client used as the asset
// source of a storage.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jweiland-net/bynder2/internal/domain"
	"github.com/jweiland-net/bynder2/internal/logger"
	"github.com/jweiland-net/bynder2/internal/metrics"
	"github.com/jweiland-net/bynder2/internal/retry"
)

const (
	// MaxPageSize is the largest page the media API serves
	MaxPageSize = 500

	// DefaultConnectTimeout bounds dialing the API host
	DefaultConnectTimeout = 10 * time.Second

	// DefaultTimeout bounds one API request including the body
	DefaultTimeout = 25 * time.Second

	mediaPath = "/api/v4/media/"
)

// AssetSource is the read capability the adapter and the sync engine need.
type AssetSource interface {
	// ListAssets returns a lazy sequence of assets starting at start. A count
	// of 0 enumerates the whole library. The returned function reports the
	// error that ended the sequence early, or nil once it completed.
	ListAssets(ctx context.Context, start, count int, orderBy domain.Ordering) (iter.Seq[domain.AssetRecord], func() error)

	// GetAsset returns domain.ErrNotFound when the asset cannot be fetched.
	GetAsset(ctx context.Context, id string) (domain.AssetRecord, error)

	CountAssets(ctx context.Context) (int, error)

	// DownloadLocation returns the CDN URL of the original file, or "".
	DownloadLocation(ctx context.Context, id string) string
}

// Options configures a Client.
type Options struct {
	// HTTPClient performs the requests. It should carry the authorization,
	// see Authenticator.HTTPClient.
	HTTPClient *http.Client
	Retry      retry.Config // zero value performs every request once
	Logger     logger.Logger
}

// Client talks to one Bynder library.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	retry   retry.Config
	log     logger.Logger

	downloads sync.Map // id -> string
	group     singleflight.Group
}

// NewClient creates a client for the library at baseURL.
func NewClient(baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid library url %q", domain.ErrConfigInvalid, baseURL)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultConnectTimeout, DefaultTimeout, nil)
	}
	cfg := opts.Retry
	if cfg.MaxAttempts == 0 {
		cfg = retry.NoRetry()
	}

	return &Client{
		baseURL: u,
		http:    httpClient,
		retry:   cfg,
		log:     logger.OrNull(opts.Logger),
	}, nil
}

// NewHTTPClient returns an http.Client with the given dial and total
// timeouts. A nil base uses http.DefaultTransport settings.
func NewHTTPClient(connectTimeout, timeout time.Duration, base http.RoundTripper) *http.Client {
	if base == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.DialContext = (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext
		base = t
	}
	return &http.Client{Transport: base, Timeout: timeout}
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()
	return u.String()
}

// getJSON performs one GET, retried only when the client was configured
// with retries, and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, operation, endpoint string, out any) error {
	_, err := retry.Do(ctx, c.retry, func() (struct{}, error) {
		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return struct{}{}, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			metrics.RecordRemoteRequest(operation, 0, time.Since(start))
			return struct{}{}, mapTransportError(err)
		}
		defer resp.Body.Close()
		metrics.RecordRemoteRequest(operation, resp.StatusCode, time.Since(start))

		if err := mapStatus(resp.StatusCode); err != nil {
			io.Copy(io.Discard, resp.Body)
			return struct{}{}, err
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return struct{}{}, fmt.Errorf("failed to decode %s response: %w", operation, err)
		}
		return struct{}{}, nil
	})
	return err
}

func listQuery(page, limit int, orderBy domain.Ordering) url.Values {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("orderBy", orderBy.String())
	q.Set("includeMediaItems", "1")
	q.Set("isPublic", "0")
	q.Set("archive", "0")
	return q
}

// ListAssets pages through the media list. Every page is fetched when the
// previous one has been consumed; a failed page ends the sequence.
func (c *Client) ListAssets(ctx context.Context, start, count int, orderBy domain.Ordering) (iter.Seq[domain.AssetRecord], func() error) {
	if start < 0 {
		start = 0
	}
	full := count == 0

	limit := MaxPageSize
	if !full {
		limit = max(1, min(count, MaxPageSize))
	}

	var listErr error
	seq := func(yield func(domain.AssetRecord) bool) {
		listErr = nil
		page := start/limit + 1

		for {
			var assets []domain.AssetRecord
			err := c.getJSON(ctx, "list", c.endpoint(mediaPath, listQuery(page, limit, orderBy)), &assets)
			if err != nil {
				listErr = fmt.Errorf("%w: page %d: %w", domain.ErrTruncatedListing, page, err)
				metrics.RecordTruncatedListing()
				c.log.Error("asset listing aborted",
					"host", c.baseURL.Host,
					"page", page,
					"limit", limit,
					"error", err,
				)
				return
			}

			for _, asset := range assets {
				if !yield(asset) {
					return
				}
			}

			if !full || len(assets) < limit {
				return
			}
			page++
		}
	}

	return seq, func() error { return listErr }
}

// GetAsset fetches one asset. Every failure is reported as
// domain.ErrNotFound after logging the cause.
func (c *Client) GetAsset(ctx context.Context, id string) (domain.AssetRecord, error) {
	if id == "" {
		return domain.AssetRecord{}, domain.ErrNotFound
	}

	var asset domain.AssetRecord
	err := c.getJSON(ctx, "info", c.endpoint(mediaPath+url.PathEscape(id)+"/", nil), &asset)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			c.log.Warn("failed to fetch asset", "id", id, "error", err)
		}
		return domain.AssetRecord{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if status, ok := asset.RawString("statuscode"); ok && status != "200" {
		return domain.AssetRecord{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if asset.IsZero() {
		return domain.AssetRecord{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return asset, nil
}

type totalResponse struct {
	Total struct {
		Count int `json:"count"`
	} `json:"total"`
}

// CountAssets returns the number of assets in the library.
func (c *Client) CountAssets(ctx context.Context) (int, error) {
	q := url.Values{}
	q.Set("total", "1")
	q.Set("limit", "1")
	q.Set("includeMediaItems", "0")
	q.Set("isPublic", "0")
	q.Set("archive", "0")

	var resp totalResponse
	if err := c.getJSON(ctx, "count", c.endpoint(mediaPath, q), &resp); err != nil {
		return 0, err
	}
	return resp.Total.Count, nil
}

type downloadResponse struct {
	S3File string `json:"s3_file"`
}

// DownloadLocation resolves the CDN URL of the original file. Answers from
// the API, including "not found", are memoized for the lifetime of the
// client; transport failures are not.
func (c *Client) DownloadLocation(ctx context.Context, id string) string {
	if id == "" {
		return ""
	}
	if v, ok := c.downloads.Load(id); ok {
		return v.(string)
	}

	v, _, _ := c.group.Do(id, func() (any, error) {
		var resp downloadResponse
		err := c.getJSON(ctx, "download", c.endpoint(mediaPath+url.PathEscape(id)+"/download/", nil), &resp)
		switch {
		case err == nil:
			c.downloads.Store(id, resp.S3File)
		case errors.Is(err, domain.ErrNotFound):
			c.downloads.Store(id, "")
		default:
			c.log.Warn("failed to resolve download location", "id", id, "error", err)
		}
		return resp.S3File, nil
	})
	return v.(string)
}

// Host returns the library host name.
func (c *Client) Host() string {
	return c.baseURL.Host
}

var _ AssetSource = (*Client)(nil)
