package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/shohag/fanrelay/internal/config"
)

var errAttachmentTooLarge = errors.New("attachment exceeds size limit")

// AttachmentResolver turns an attachment reference from a JSON payload into
// image bytes. Remote URLs are fetched with a timeout. Local paths are only
// read when explicitly allowed.
type AttachmentResolver struct {
	client     *http.Client
	maxBytes   int64
	allowLocal bool
	log        zerolog.Logger
}

func NewAttachmentResolver(cfg config.InboundConfig, log zerolog.Logger) *AttachmentResolver {
	return &AttachmentResolver{
		client:     &http.Client{Timeout: cfg.FetchTimeout},
		maxBytes:   cfg.MaxBody,
		allowLocal: cfg.AllowLocalFiles,
		log:        log,
	}
}

// Resolve returns nil when the reference cannot be turned into bytes. The
// message then goes out without an image.
func (a *AttachmentResolver) Resolve(ctx context.Context, ref string) []byte {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil
	}
	var (
		data []byte
		err  error
	)
	switch {
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		data, err = a.fetch(ctx, ref)
	case a.allowLocal:
		data, err = a.readLocal(ref)
	default:
		err = errors.New("local attachments are disabled")
	}
	if err != nil {
		a.log.Warn().Err(err).Str("attachment", ref).Msg("attachment ignored")
		return nil
	}
	return data
}

func (a *AttachmentResolver) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch attachment: HTTP %d", resp.StatusCode)
	}
	return a.readLimited(resp.Body)
}

func (a *AttachmentResolver) readLocal(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return a.readLimited(f)
}

func (a *AttachmentResolver) readLimited(r io.Reader) ([]byte, error) {
	if a.maxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, a.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > a.maxBytes {
		return nil, errAttachmentTooLarge
	}
	return data, nil
}
