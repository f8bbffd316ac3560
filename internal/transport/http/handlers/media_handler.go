package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/vedran77/pulsechat/internal/domain"
	"github.com/vedran77/pulsechat/internal/media"
	"github.com/vedran77/pulsechat/internal/metrics"
	"github.com/vedran77/pulsechat/internal/transport/http/middleware"
	"github.com/vedran77/pulsechat/pkg/logger"
)

const sniffLen = 512

// Uploader stores a media object and returns its public URL.
type Uploader interface {
	Put(ctx context.Context, owner uuid.UUID, contentType string, r io.Reader, size int64) (string, error)
}

type MediaHandler struct {
	store    Uploader
	maxBytes int64
	metrics  *metrics.Metrics
}

func NewMediaHandler(store Uploader, maxBytes int64, m *metrics.Metrics) *MediaHandler {
	return &MediaHandler{store: store, maxBytes: maxBytes, metrics: m}
}

type uploadResponse struct {
	URL       string             `json:"url"`
	MediaType domain.MessageType `json:"media_type"`
	Size      int64              `json:"size"`
}

// Upload accepts a multipart "file" part and stores it in the media store.
// The returned URL goes into a message's media field.
func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	// Multipart framing needs a little room above the file limit.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+sniffLen*2)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.tooLarge(w)
			return
		}
		writeError(w, http.StatusBadRequest, "MISSING_FILE", "A file part is required")
		return
	}
	defer file.Close()

	if header.Size > h.maxBytes {
		h.tooLarge(w)
		return
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "INVALID_FILE", "Could not read upload")
		return
	}
	head = head[:n]

	contentType := http.DetectContentType(head)
	kind, err := media.KindOf(contentType)
	if err != nil {
		writeError(w, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA", "Only images and videos can be attached")
		return
	}

	url, err := h.store.Put(r.Context(), userID, contentType, io.MultiReader(bytes.NewReader(head), file), header.Size)
	if err != nil {
		logger.Ctx(r.Context()).Error("media upload failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		return
	}

	h.metrics.MediaUploaded.Inc()
	h.metrics.MediaBytes.Add(float64(header.Size))
	logger.Ctx(r.Context()).Info("media stored",
		slog.String("content_type", contentType),
		slog.String("size", humanize.Bytes(uint64(header.Size))),
	)

	writeJSON(w, http.StatusCreated, uploadResponse{URL: url, MediaType: kind, Size: header.Size})
}

func (h *MediaHandler) tooLarge(w http.ResponseWriter) {
	writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE",
		"Uploads are limited to "+humanize.IBytes(uint64(h.maxBytes)))
}
