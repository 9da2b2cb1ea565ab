package feishu

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shohag/fanrelay/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_FetchToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/open-apis/auth/v3/tenant_access_token/internal", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "cli_a", body["app_id"])
		assert.Equal(t, "secret", body["app_secret"])
		w.Write([]byte(`{"code":0,"tenant_access_token":"t-123","expire":3600}`))
	}))
	defer srv.Close()

	tok, ttl, err := NewClient(srv.URL, 5*time.Second).FetchToken(context.Background(),
		models.Credentials{AppID: "cli_a", AppSecret: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "t-123", tok)
	assert.Equal(t, time.Hour, ttl)
}

func TestClient_FetchToken_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":10003,"msg":"invalid app_id"}`))
	}))
	defer srv.Close()

	_, _, err := NewClient(srv.URL, 5*time.Second).FetchToken(context.Background(), models.Credentials{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "10003")
}

func TestClient_UploadImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/open-apis/im/v1/images", r.URL.Path)
		assert.Equal(t, "Bearer t-123", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "message", r.FormValue("image_type"))
		f, _, err := r.FormFile("image")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "pngdata", string(data))
		w.Write([]byte(`{"code":0,"data":{"image_key":"img_v2_abc"}}`))
	}))
	defer srv.Close()

	key, err := NewClient(srv.URL, 5*time.Second).UploadImage(context.Background(), "t-123", []byte("pngdata"))
	require.NoError(t, err)
	assert.Equal(t, "img_v2_abc", key)
}

func TestClient_UploadImage_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 5*time.Second).UploadImage(context.Background(), "t", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
