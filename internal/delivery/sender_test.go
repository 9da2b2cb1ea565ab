package delivery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shohag/fanrelay/internal/config"
	"github.com/shohag/fanrelay/internal/models"
)

var fixedNow = func() time.Time {
	return time.Date(2026, 3, 1, 21, 30, 0, 0, time.FixedZone("UTC+8", 8*3600))
}

func newTestSender() *HTTPSender {
	return NewHTTPSender(config.DeliveryConfig{Timeout: 5 * time.Second, Title: "Boss alert"}, fixedNow, zerolog.Nop())
}

func endpoint(kind models.Kind, url string) models.Endpoint {
	return models.Endpoint{ID: "ep_1", Name: "test", Kind: kind, URL: url, Enabled: true}
}

func TestSend_DiscordText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["content"])
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := newTestSender().Send(context.Background(), endpoint(models.KindDiscord, srv.URL), Payload{Text: "hello"})
	assert.NoError(t, err)
}

func TestSend_DiscordImageMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "with image", r.FormValue("content"))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "png", string(data))
		assert.Equal(t, "screenshot.png", hdr.Filename)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := newTestSender().Send(context.Background(), endpoint(models.KindDiscord, srv.URL),
		Payload{Text: "with image", Image: []byte("png")})
	assert.NoError(t, err)
}

func TestSend_DiscordRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := newTestSender().Send(context.Background(), endpoint(models.KindDiscord, srv.URL), Payload{Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestSend_FeishuPost(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"code":0,"msg":"success"}`))
	}))
	defer srv.Close()

	err := newTestSender().Send(context.Background(), endpoint(models.KindFeishu, srv.URL),
		Payload{Text: "line one\n\nline two", ImageKey: "img_v2_x"})
	require.NoError(t, err)

	assert.Equal(t, "post", got["msg_type"])
	post := got["content"].(map[string]any)["post"].(map[string]any)["zh_cn"].(map[string]any)
	assert.Equal(t, "Boss alert", post["title"])

	paragraphs := post["content"].([]any)
	require.Len(t, paragraphs, 4, "two text lines, one image, one timestamp")
	first := paragraphs[0].([]any)[0].(map[string]any)
	assert.Equal(t, "line one\n", first["text"])
	img := paragraphs[2].([]any)[0].(map[string]any)
	assert.Equal(t, "img", img["tag"])
	assert.Equal(t, "img_v2_x", img["image_key"])
	stamp := paragraphs[3].([]any)[0].(map[string]any)
	assert.Equal(t, "\n2026-03-01 21:30:00", stamp["text"])
}

func TestSend_FeishuLegacyStatusCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"StatusCode":0,"StatusMessage":"success"}`))
	}))
	defer srv.Close()

	err := newTestSender().Send(context.Background(), endpoint(models.KindFeishu, srv.URL), Payload{Text: "x"})
	assert.NoError(t, err)
}

func TestSend_FeishuRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":19021,"msg":"sign match fail"}`))
	}))
	defer srv.Close()

	err := newTestSender().Send(context.Background(), endpoint(models.KindFeishu, srv.URL), Payload{Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sign match fail")
}

func TestSend_WeComTextThenImage(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
		w.Write([]byte(`{"errcode":0,"errmsg":"ok"}`))
	}))
	defer srv.Close()

	err := newTestSender().Send(context.Background(), endpoint(models.KindWeCom, srv.URL),
		Payload{Text: "boss up", Image: []byte("png")})
	require.NoError(t, err)

	require.Len(t, bodies, 2)
	assert.Equal(t, "markdown", bodies[0]["msgtype"])
	md := bodies[0]["markdown"].(map[string]any)["content"].(string)
	assert.Equal(t, "## Boss alert\n\nboss up\n\n> 2026-03-01 21:30:00", md)

	assert.Equal(t, "image", bodies[1]["msgtype"])
	image := bodies[1]["image"].(map[string]any)
	assert.Equal(t, "cG5n", image["base64"])
	assert.Equal(t, "bff139fa05ac583f685a523ab3d110a0", image["md5"])
}

func TestSend_WeComImageFailureStillSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Write([]byte(`{"errcode":0,"errmsg":"ok"}`))
			return
		}
		w.Write([]byte(`{"errcode":40009,"errmsg":"invalid image size"}`))
	}))
	defer srv.Close()

	err := newTestSender().Send(context.Background(), endpoint(models.KindWeCom, srv.URL),
		Payload{Text: "x", Image: []byte("png")})
	assert.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSend_WeComTextRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errcode":93000,"errmsg":"invalid webhook url"}`))
	}))
	defer srv.Close()

	err := newTestSender().Send(context.Background(), endpoint(models.KindWeCom, srv.URL), Payload{Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid webhook url")
}

func TestSend_UnsupportedKind(t *testing.T) {
	err := newTestSender().Send(context.Background(), endpoint(models.Kind("slack"), "https://example.com"), Payload{})
	assert.ErrorIs(t, err, ErrUnsupportedKind)
}

func TestSend_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := newTestSender().Send(context.Background(), endpoint(models.KindDiscord, url), Payload{Text: "x"})
	assert.Error(t, err)
}
