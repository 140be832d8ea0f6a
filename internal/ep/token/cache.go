// Package token implements the access-token cache (C2): a per-account
// cache of EP's gettoken API, refreshed with golang.org/x/sync/singleflight
// so concurrent callers for the same account share one HTTP round trip.
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/xl370869-art/wecom/internal/metrics"
)

// Fetcher performs the actual gettoken HTTP call. Implemented by *HTTPFetcher.
type Fetcher interface {
	FetchToken(ctx context.Context, corpID, secret string) (accessToken string, expiresIn time.Duration, err error)
}

// HTTPFetcher is the default Fetcher, calling EP's gettoken endpoint directly.
type HTTPFetcher struct {
	HTTPClient *http.Client
	BaseURL    string // e.g. https://qyapi.weixin.qq.com
}

type getTokenResponse struct {
	ErrCode     int    `json:"errcode"`
	ErrMsg      string `json:"errmsg"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// FetchToken implements Fetcher.
func (f *HTTPFetcher) FetchToken(ctx context.Context, corpID, secret string) (string, time.Duration, error) {
	client := f.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	url := fmt.Sprintf("%s/cgi-bin/gettoken?corpid=%s&corpsecret=%s", f.BaseURL, corpID, secret)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", 0, err
	}
	var parsed getTokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", 0, fmt.Errorf("token: decode response: %w", err)
	}
	if parsed.ErrCode != 0 {
		return "", 0, fmt.Errorf("token: gettoken errcode=%d errmsg=%s", parsed.ErrCode, parsed.ErrMsg)
	}
	return parsed.AccessToken, time.Duration(parsed.ExpiresIn) * time.Second, nil
}

type cacheEntry struct {
	token   string
	expires time.Time
}

// Cache is a singleflight-backed per-(corpId,appId) access-token cache.
type Cache struct {
	fetcher Fetcher
	group   singleflight.Group

	mu      sync.RWMutex
	entries map[string]cacheEntry

	// refreshBefore is how far ahead of expiry a cached token is still
	// considered usable.
	refreshBefore time.Duration
}

// New builds a Cache over fetcher.
func New(fetcher Fetcher) *Cache {
	return &Cache{
		fetcher:       fetcher,
		entries:       make(map[string]cacheEntry),
		refreshBefore: 60 * time.Second,
	}
}

func cacheKey(corpID, appID string) string {
	return corpID + "/" + appID
}

// Get returns a valid access token for (corpID, appID, secret), refreshing
// it through a single in-flight request if the cached value is missing or
// within refreshBefore of expiry.
func (c *Cache) Get(ctx context.Context, corpID, appID, secret string) (string, error) {
	key := cacheKey(corpID, appID)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && time.Until(entry.expires) > c.refreshBefore {
		metrics.TokenCacheRefreshTotal.WithLabelValues("cached").Inc()
		return entry.token, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Re-check under the singleflight guard: another caller may have
		// already refreshed while we were waiting to enter Do.
		c.mu.RLock()
		entry, ok := c.entries[key]
		c.mu.RUnlock()
		if ok && time.Until(entry.expires) > c.refreshBefore {
			metrics.TokenCacheRefreshTotal.WithLabelValues("cached").Inc()
			return entry.token, nil
		}

		accessToken, ttl, err := c.fetcher.FetchToken(ctx, corpID, secret)
		if err != nil {
			metrics.TokenCacheRefreshTotal.WithLabelValues("error").Inc()
			return "", err
		}
		c.mu.Lock()
		c.entries[key] = cacheEntry{token: accessToken, expires: time.Now().Add(ttl)}
		c.mu.Unlock()
		metrics.TokenCacheRefreshTotal.WithLabelValues("refreshed").Inc()
		return accessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops a cached entry, forcing the next Get to refresh. The
// outbound client does not call it on an invalid-token errcode.
func (c *Cache) Invalidate(corpID, appID string) {
	c.mu.Lock()
	delete(c.entries, cacheKey(corpID, appID))
	c.mu.Unlock()
}
