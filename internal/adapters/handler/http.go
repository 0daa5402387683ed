package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"pixelbridge/internal/core/domain"
	"pixelbridge/internal/core/port"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// Status is the static configuration summary reported by GET /status.
type Status struct {
	Store        string   `json:"store"`
	Repository   string   `json:"repository,omitempty"`
	Branch       string   `json:"branch,omitempty"`
	CanvasSize   int      `json:"canvasSize"`
	DocumentPath string   `json:"documentPath"`
	ImagesFolder string   `json:"imagesFolder"`
	Issues       []string `json:"issues,omitempty"`
}

type HTTP struct {
	converter      port.Converter
	status         Status
	maxUploadBytes int64
	timeout        time.Duration
	started        time.Time
	files          port.DocumentStore
}

func NewHTTP(converter port.Converter, status Status, maxUploadBytes int64, timeout time.Duration) *HTTP {
	return &HTTP{
		converter:      converter,
		status:         status,
		maxUploadBytes: maxUploadBytes,
		timeout:        timeout,
		started:        time.Now(),
	}
}

// ServeFiles exposes the raw content of store under /files/. It stands in
// for the raw content host when the store has none of its own.
func (h *HTTP) ServeFiles(store port.DocumentStore) {
	h.files = store
}

// Routes returns the router serving the conversion API.
func (h *HTTP) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(requestTimeout(h.timeout))

	r.Post("/upload", h.upload)
	r.Post("/use-image", h.useImage)
	r.Get("/images", h.listImages)
	r.Delete("/images/{filename}", h.deleteImage)
	r.Get("/drawing", h.drawing)
	r.Get("/status", h.statusSummary)
	r.Get("/config-check", h.configCheck)

	if h.files != nil {
		r.Get("/files/*", h.rawFile)
	}

	return r
}

type imageResponse struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	RawURL   string `json:"rawUrl"`
}

type conversionResponse struct {
	Success     bool           `json:"success"`
	Image       *imageResponse `json:"image,omitempty"`
	TotalPixels int            `json:"totalPixels"`
	CanvasSize  int            `json:"canvasSize"`
	DrawingURL  string         `json:"drawingUrl"`
}

func newConversionResponse(result *domain.ConversionResult) conversionResponse {
	resp := conversionResponse{
		Success:     true,
		TotalPixels: result.TotalPixels,
		CanvasSize:  result.CanvasSize,
		DrawingURL:  result.DrawingURL,
	}

	if result.Entry != nil {
		resp.Image = &imageResponse{
			Filename: result.Entry.Filename,
			Path:     result.Entry.Path,
			RawURL:   result.Entry.PublicURL,
		}
	}

	return resp
}

func (h *HTTP) upload(w http.ResponseWriter, r *http.Request) {
	// Multipart framing adds a little on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+1<<20)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, h.tooLarge())
			return
		}
		writeError(w, http.StatusBadRequest, errors.New("no file uploaded"))
		return
	}
	defer file.Close()

	if ct := header.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unsupported content type %q, expected an image", ct))
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("reading upload: %w", err))
		return
	}

	if int64(len(data)) > h.maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, h.tooLarge())
		return
	}

	result, err := h.converter.ConvertUpload(r.Context(), data, header.Filename)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newConversionResponse(result))
}

func (h *HTTP) tooLarge() error {
	return fmt.Errorf("file exceeds the %d byte limit", h.maxUploadBytes)
}

type useImageRequest struct {
	RawURL   string `json:"rawUrl"`
	Filename string `json:"filename"`
}

func (h *HTTP) useImage(w http.ResponseWriter, r *http.Request) {
	var req useImageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	result, err := h.converter.ConvertFromURL(r.Context(), req.RawURL, req.Filename)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newConversionResponse(result))
}

type listedImage struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	RawURL string `json:"rawUrl"`
	SHA    string `json:"sha"`
}

func (h *HTTP) listImages(w http.ResponseWriter, r *http.Request) {
	files, err := h.converter.ListArchive(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	images := make([]listedImage, 0, len(files))
	for _, f := range files {
		images = append(images, listedImage{Name: f.Name, Path: f.Path, Size: f.Size, RawURL: f.RawURL, SHA: f.SHA})
	}

	writeJSON(w, http.StatusOK, map[string]any{"images": images})
}

func (h *HTTP) deleteImage(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")

	if err := h.converter.DeleteArchiveEntry(r.Context(), filename); err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": filename})
}

func (h *HTTP) drawing(w http.ResponseWriter, r *http.Request) {
	doc, err := h.converter.Drawing(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

func (h *HTTP) statusSummary(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"configured": len(h.status.Issues) == 0,
		"uptime":     time.Since(h.started).Truncate(time.Second).String(),
		"config":     h.status,
	})
}

func (h *HTTP) configCheck(w http.ResponseWriter, r *http.Request) {
	report := h.converter.CheckConfig(r.Context())

	if !report.OK {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "issues": report.Issues})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"repository": report.Diagnostics.Repository,
		"branch":     report.Diagnostics.Branch,
		"private":    report.Diagnostics.Private,
		"canPush":    report.Diagnostics.CanPush,
	})
}

func (h *HTTP) rawFile(w http.ResponseWriter, r *http.Request) {
	p := chi.URLParam(r, "*")

	body, err := h.files.Read(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	ct := mime.TypeByExtension(path.Ext(p))
	if ct == "" {
		ct = http.DetectContentType(body)
	}

	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", "no-cache")
	if _, err := w.Write(body); err != nil {
		log.Warn().Err(err).Str("path", p).Msg("failed to write file")
	}
}

// fail maps a service error onto a status code and JSON body.
func (h *HTTP) fail(w http.ResponseWriter, r *http.Request, err error) {
	code, message := classify(err)
	if errors.Is(r.Context().Err(), context.DeadlineExceeded) {
		code, message = http.StatusGatewayTimeout, "request timed out after "+h.timeout.String()
	}

	l := log.With().Str("request_id", middleware.GetReqID(r.Context())).Str("path", r.URL.Path).Logger()
	if code >= http.StatusInternalServerError {
		l.Error().Err(err).Int("status", code).Msg("request failed")
	} else {
		l.Debug().Err(err).Int("status", code).Msg("request rejected")
	}

	var publishErr *domain.PublishError
	if errors.As(err, &publishErr) {
		writeJSON(w, code, map[string]any{
			"error": message,
			"image": imageResponse{
				Filename: publishErr.Entry.Filename,
				Path:     publishErr.Entry.Path,
				RawURL:   publishErr.Entry.PublicURL,
			},
		})
		return
	}

	writeJSON(w, code, map[string]string{"error": message})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrEmptyInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrConflict):
		return http.StatusInternalServerError, "the drawing changed while it was being updated, please try again"
	case errors.Is(err, domain.ErrConfig):
		return http.StatusInternalServerError, "server is not configured: " + err.Error()
	case errors.Is(err, domain.ErrAuth), errors.Is(err, domain.ErrForbidden):
		return http.StatusInternalServerError, domain.Remediation(err)
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
