package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/shohag/fanrelay/internal/models"
	"github.com/shohag/fanrelay/internal/relay"
)

// multipartMemory is how much of a multipart body is kept in memory before
// spilling file parts to disk.
const multipartMemory = 8 << 20

type InboundHandler struct {
	relay       *relay.Manager
	attachments *AttachmentResolver
	maxBody     int64
	log         zerolog.Logger
}

func NewInboundHandler(m *relay.Manager, attachments *AttachmentResolver, maxBody int64, log zerolog.Logger) *InboundHandler {
	return &InboundHandler{relay: m, attachments: attachments, maxBody: maxBody, log: log}
}

type inboundJSON struct {
	Content     string `json:"content"`
	Attachments []struct {
		URL string `json:"url"`
	} `json:"attachments"`
}

func (h *InboundHandler) Receive(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "group")
	if groupID == "" {
		groupID = relay.DefaultGroupID
	}
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	msg, err := h.parse(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg.Text == "" && !msg.HasImage() {
		writeError(w, http.StatusBadRequest, "no content")
		return
	}
	msg.Source = sourceIP(r)

	h.log.Info().
		Str("group", groupID).
		Str("source", msg.Source).
		Bool("has_image", msg.HasImage()).
		Str("preview", models.Truncate(msg.Text, 50)).
		Msg("inbound message")

	writeJSON(w, http.StatusOK, h.relay.Relay(r.Context(), groupID, msg))
}

func (h *InboundHandler) parse(r *http.Request) (models.Message, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		var body inboundJSON
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return models.Message{}, err
		}
		msg := models.Message{Text: body.Content}
		if len(body.Attachments) > 0 {
			msg.Image = h.attachments.Resolve(r.Context(), body.Attachments[0].URL)
		}
		return msg, nil
	case "multipart/form-data":
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return models.Message{}, err
		}
		msg := models.Message{Text: r.FormValue("content")}
		file, _, err := r.FormFile("file")
		if err == nil {
			defer file.Close()
			if msg.Image, err = io.ReadAll(file); err != nil {
				return models.Message{}, err
			}
		}
		return msg, nil
	default:
		if err := r.ParseForm(); err != nil {
			return models.Message{}, err
		}
		return models.Message{Text: r.FormValue("content")}, nil
	}
}

// sourceIP relies on middleware.RealIP having rewritten RemoteAddr from the
// forwarding headers.
func sourceIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
