// Package api exposes the transcription service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"sepscribe/pipeline"
)

const (
	formField     = "file"
	formMemory    = 32 << 20
	requestHeader = "X-Request-ID"
)

type (
	transcriber interface {
		Transcribe(ctx context.Context, id, name string, audio io.ReadSeeker) (pipeline.Result, error)
	}

	Handler struct {
		svc       transcriber
		maxUpload int64
		log       *slog.Logger
		mux       *http.ServeMux
	}

	errorBody struct {
		Detail string `json:"detail"`
	}

	ctxKey struct{}
)

func New(svc transcriber, maxUpload int64, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		svc:       svc,
		maxUpload: maxUpload,
		log:       log.With("component", "api"),
		mux:       http.NewServeMux(),
	}
	h.mux.HandleFunc("POST /transcribe", h.transcribe)
	h.mux.HandleFunc("GET /healthz", h.health)
	return h
}

// ServeHTTP tags every request with an id, reusing the caller's X-Request-ID
// when present.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(requestHeader)
	if id == "" || len(id) > 64 || strings.ContainsAny(id, "/\\.") {
		id = uuid.NewString()
	}
	w.Header().Set(requestHeader, id)
	h.mux.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func (h *Handler) transcribe(w http.ResponseWriter, r *http.Request) {
	id := requestID(r.Context())
	log := h.log.With("request_id", id)

	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	}
	if err := r.ParseMultipartForm(formMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.fail(w, log, http.StatusBadRequest, fmt.Sprintf("Upload exceeds %d bytes.", tooBig.Limit))
			return
		}
		h.fail(w, log, http.StatusBadRequest, fmt.Sprintf("Invalid multipart upload: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(formField)
	if err != nil {
		h.fail(w, log, http.StatusBadRequest, fmt.Sprintf("Missing %q file field.", formField))
		return
	}
	defer file.Close()

	log.Info("received file", "filename", header.Filename, "size", header.Size)
	if !strings.HasSuffix(header.Filename, ".wav") {
		h.fail(w, log, http.StatusBadRequest, "Only .wav files are supported.")
		return
	}

	res, err := h.svc.Transcribe(r.Context(), id, header.Filename, file)
	if errors.Is(err, pipeline.ErrClosed) {
		h.fail(w, log, http.StatusServiceUnavailable, fmt.Sprintf("Server is shutting down: %v", err))
		return
	}
	if err != nil {
		h.fail(w, log, http.StatusInternalServerError, fmt.Sprintf("Error processing audio: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) fail(w http.ResponseWriter, log *slog.Logger, status int, detail string) {
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "status", status, "detail", detail)
	} else {
		log.Warn("request rejected", "status", status, "detail", detail)
	}
	writeJSON(w, status, errorBody{Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
