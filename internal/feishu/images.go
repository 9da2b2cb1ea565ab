package feishu

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/shohag/fanrelay/internal/metrics"
)

type TokenSource interface {
	GetToken(ctx context.Context) (string, error)
}

type ImageUploader interface {
	UploadImage(ctx context.Context, token string, data []byte) (string, error)
}

// ImageCache maps a content hash to the image key returned by the first
// successful upload of those bytes. Entries are never evicted; the distinct
// image count per process is expected to stay small.
type ImageCache struct {
	tokens   TokenSource
	uploader ImageUploader

	mu    sync.RWMutex
	keys  map[string]string
	group singleflight.Group
}

func NewImageCache(tokens TokenSource, uploader ImageUploader) *ImageCache {
	return &ImageCache{
		tokens:   tokens,
		uploader: uploader,
		keys:     map[string]string{},
	}
}

func (c *ImageCache) Upload(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty image")
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	if key, ok := c.lookup(hash); ok {
		metrics.RecordImageUpload("cached")
		return key, nil
	}

	// concurrent uploads of the same bytes share one request
	v, err, _ := c.group.Do(hash, func() (any, error) {
		if key, ok := c.lookup(hash); ok {
			return key, nil
		}
		token, err := c.tokens.GetToken(ctx)
		if err != nil {
			return "", err
		}
		key, err := c.uploader.UploadImage(ctx, token, data)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.keys[hash] = key
		c.mu.Unlock()
		return key, nil
	})
	if err != nil {
		metrics.RecordImageUpload("failed")
		return "", err
	}
	metrics.RecordImageUpload("uploaded")
	return v.(string), nil
}

func (c *ImageCache) lookup(hash string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.keys[hash]
	return key, ok
}

func (c *ImageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.keys)
}
