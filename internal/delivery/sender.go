package delivery

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/shohag/fanrelay/internal/config"
	"github.com/shohag/fanrelay/internal/models"
)

const timeLayout = "2006-01-02 15:04:05"

// Payload is what gets rendered for one endpoint. ImageKey is only set for
// destinations that take a pre-uploaded image reference.
type Payload struct {
	Text     string
	Image    []byte
	ImageKey string
}

var ErrUnsupportedKind = errors.New("unsupported endpoint type")

// HTTPSender renders a payload in each destination's own webhook format and
// posts it. One call is one attempt; there is no retry.
type HTTPSender struct {
	client *http.Client
	title  string
	now    func() time.Time
	log    zerolog.Logger
}

// NewHTTPSender builds a sender. now must return time in the relay's zone,
// since it is stamped into feishu and wecom messages.
func NewHTTPSender(cfg config.DeliveryConfig, now func() time.Time, log zerolog.Logger) *HTTPSender {
	if now == nil {
		now = time.Now
	}
	return &HTTPSender{
		client: &http.Client{Timeout: cfg.Timeout},
		title:  cfg.Title,
		now:    now,
		log:    log,
	}
}

func (s *HTTPSender) Send(ctx context.Context, ep models.Endpoint, p Payload) error {
	switch ep.Kind {
	case models.KindDiscord:
		return s.sendDiscord(ctx, ep.URL, p)
	case models.KindFeishu:
		return s.sendFeishu(ctx, ep.URL, p)
	case models.KindWeCom:
		return s.sendWeCom(ctx, ep.URL, p)
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedKind, ep.Kind)
}

func (s *HTTPSender) sendDiscord(ctx context.Context, url string, p Payload) error {
	var (
		body        io.Reader
		contentType string
	)
	if len(p.Image) > 0 {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		if err := mw.WriteField("content", p.Text); err != nil {
			return err
		}
		fw, err := mw.CreateFormFile("file", "screenshot.png")
		if err != nil {
			return err
		}
		if _, err := fw.Write(p.Image); err != nil {
			return err
		}
		if err := mw.Close(); err != nil {
			return err
		}
		body, contentType = &buf, mw.FormDataContentType()
	} else {
		data, err := json.Marshal(map[string]string{"content": p.Text})
		if err != nil {
			return err
		}
		body, contentType = bytes.NewReader(data), "application/json"
	}

	status, _, err := s.post(ctx, url, contentType, body)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return fmt.Errorf("discord: status %d", status)
	}
	return nil
}

type feishuElement struct {
	Tag      string `json:"tag"`
	Text     string `json:"text,omitempty"`
	ImageKey string `json:"image_key,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// feishuPost builds the rich-text body: one paragraph per non-blank text
// line, an optional image, then a timestamp line.
func (s *HTTPSender) feishuPost(p Payload) map[string]any {
	var paragraphs [][]feishuElement
	for _, line := range strings.Split(p.Text, "\n") {
		if strings.TrimSpace(line) != "" {
			paragraphs = append(paragraphs, []feishuElement{{Tag: "text", Text: line + "\n"}})
		}
	}
	if p.ImageKey != "" {
		paragraphs = append(paragraphs, []feishuElement{{Tag: "img", ImageKey: p.ImageKey, Width: 800, Height: 600}})
	}
	paragraphs = append(paragraphs, []feishuElement{{Tag: "text", Text: "\n" + s.now().Format(timeLayout)}})

	return map[string]any{
		"msg_type": "post",
		"content": map[string]any{
			"post": map[string]any{
				"zh_cn": map[string]any{
					"title":   s.title,
					"content": paragraphs,
				},
			},
		},
	}
}

func (s *HTTPSender) sendFeishu(ctx context.Context, url string, p Payload) error {
	data, err := json.Marshal(s.feishuPost(p))
	if err != nil {
		return err
	}
	status, body, err := s.post(ctx, url, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("feishu: status %d", status)
	}

	// the bot API answers with either "code" or the older "StatusCode"
	var out struct {
		Code       *int   `json:"code"`
		StatusCode *int   `json:"StatusCode"`
		Msg        string `json:"msg"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("feishu: decode response: %w", err)
	}
	if (out.Code != nil && *out.Code == 0) || (out.StatusCode != nil && *out.StatusCode == 0) {
		return nil
	}
	return fmt.Errorf("feishu: rejected: %s", out.Msg)
}

type wecomResponse struct {
	ErrCode *int   `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func (s *HTTPSender) sendWeCom(ctx context.Context, url string, p Payload) error {
	text := map[string]any{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"content": fmt.Sprintf("## %s\n\n%s\n\n> %s", s.title, p.Text, s.now().Format(timeLayout)),
		},
	}
	if err := s.postWeCom(ctx, url, text); err != nil {
		return err
	}

	if len(p.Image) > 0 {
		sum := md5.Sum(p.Image)
		image := map[string]any{
			"msgtype": "image",
			"image": map[string]string{
				"base64": base64.StdEncoding.EncodeToString(p.Image),
				"md5":    hex.EncodeToString(sum[:]),
			},
		}
		// the text already landed, so an image failure does not fail the delivery
		if err := s.postWeCom(ctx, url, image); err != nil {
			s.log.Warn().Err(err).Msg("wecom image send failed")
		}
	}
	return nil
}

func (s *HTTPSender) postWeCom(ctx context.Context, url string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, body, err := s.post(ctx, url, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	var out wecomResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("wecom: decode response: %w", err)
	}
	if out.ErrCode == nil || *out.ErrCode != 0 {
		return fmt.Errorf("wecom: rejected: %s", out.ErrMsg)
	}
	return nil
}

func (s *HTTPSender) post(ctx context.Context, url, contentType string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", "fanrelay/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, respBody, nil
}
