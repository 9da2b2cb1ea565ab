package feishu

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shohag/fanrelay/internal/models"
)

var ErrNoCredentials = errors.New("feishu credentials not configured")

type TokenFetcher interface {
	FetchToken(ctx context.Context, creds models.Credentials) (string, time.Duration, error)
}

// TokenCache holds one tenant access token. A token within margin of its
// expiry is treated as expired and refetched synchronously by the caller
// that notices.
type TokenCache struct {
	fetcher TokenFetcher
	margin  time.Duration
	now     func() time.Time

	mu     sync.Mutex
	creds  models.Credentials
	token  string
	expiry time.Time
}

func NewTokenCache(fetcher TokenFetcher, margin time.Duration, now func() time.Time) *TokenCache {
	if now == nil {
		now = time.Now
	}
	return &TokenCache{fetcher: fetcher, margin: margin, now: now}
}

// SetCredentials swaps the credential pair and drops any cached token.
func (c *TokenCache) SetCredentials(creds models.Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = creds
	c.token = ""
	c.expiry = time.Time{}
}

func (c *TokenCache) GetToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.creds.Configured() {
		return "", ErrNoCredentials
	}
	if c.token != "" && c.now().Before(c.expiry.Add(-c.margin)) {
		return c.token, nil
	}

	token, ttl, err := c.fetcher.FetchToken(ctx, c.creds)
	if err != nil {
		return "", err
	}
	c.token = token
	c.expiry = c.now().Add(ttl)
	return token, nil
}
