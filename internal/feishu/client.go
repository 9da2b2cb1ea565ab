package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/shohag/fanrelay/internal/models"
)

const defaultTokenTTL = 7200 * time.Second

// Client talks to the feishu open platform for the two calls the relay
// needs: the tenant token exchange and image upload.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type apiResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type tokenResponse struct {
	apiResponse
	Token  string `json:"tenant_access_token"`
	Expire int    `json:"expire"`
}

func (c *Client) FetchToken(ctx context.Context, creds models.Credentials) (string, time.Duration, error) {
	body, err := json.Marshal(map[string]string{"app_id": creds.AppID, "app_secret": creds.AppSecret})
	if err != nil {
		return "", 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/open-apis/auth/v3/tenant_access_token/internal", bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out tokenResponse
	if err := c.do(req, &out); err != nil {
		return "", 0, fmt.Errorf("fetch tenant token: %w", err)
	}
	if out.Code != 0 {
		return "", 0, fmt.Errorf("fetch tenant token: code=%d msg=%s", out.Code, out.Msg)
	}
	if out.Token == "" {
		return "", 0, fmt.Errorf("fetch tenant token: empty token")
	}
	ttl := time.Duration(out.Expire) * time.Second
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return out.Token, ttl, nil
}

type uploadResponse struct {
	apiResponse
	Data struct {
		ImageKey string `json:"image_key"`
	} `json:"data"`
}

func (c *Client) UploadImage(ctx context.Context, token string, data []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("image_type", "message"); err != nil {
		return "", err
	}
	fw, err := mw.CreateFormFile("image", "screenshot.png")
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/open-apis/im/v1/images", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	var out uploadResponse
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	if out.Code != 0 {
		return "", fmt.Errorf("upload image: code=%d msg=%s", out.Code, out.Msg)
	}
	if out.Data.ImageKey == "" {
		return "", fmt.Errorf("upload image: empty image_key")
	}
	return out.Data.ImageKey, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.Unmarshal(body, out)
}
