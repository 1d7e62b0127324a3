package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"beacongraph/core-go/internal/console"
	"beacongraph/core-go/internal/filter"
	"beacongraph/core-go/internal/graph"
	"beacongraph/core-go/internal/metrics"
	"beacongraph/core-go/internal/reactive"
)

// GraphStore is the part of the store the API talks to directly.
type GraphStore interface {
	Ping(ctx context.Context) error
	InitialQuery(ctx context.Context) (graph.Snapshot, error)
}

type Options struct {
	RequestTimeout time.Duration
	UploadTimeout  time.Duration
	MaxUploadBytes int64
}

type Handler struct {
	log      zerolog.Logger
	sessions *console.Manager
	store    GraphStore
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	requestTimeout time.Duration
	uploadTimeout  time.Duration
	maxUploadBytes int64
}

func NewHandler(log zerolog.Logger, sessions *console.Manager, store GraphStore, m *metrics.Metrics, opts Options) *Handler {
	h := &Handler{
		log:            log,
		sessions:       sessions,
		store:          store,
		metrics:        m,
		requestTimeout: opts.RequestTimeout,
		uploadTimeout:  opts.UploadTimeout,
		maxUploadBytes: opts.MaxUploadBytes,
	}
	if h.requestTimeout <= 0 {
		h.requestTimeout = 15 * time.Second
	}
	if h.uploadTimeout <= 0 {
		h.uploadTimeout = 3 * time.Minute
	}
	if h.maxUploadBytes <= 0 {
		h.maxUploadBytes = 64 << 20
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	return h
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.accessLog)

	short := middleware.Timeout(h.requestTimeout)
	long := middleware.Timeout(h.uploadTimeout)

	// Health
	r.With(short).Get("/healthz", h.handleHealthz)
	r.With(short).Get("/readyz", h.handleReadyZ)
	if h.metrics != nil {
		r.With(short).Handle("/metrics", h.metrics.Handler())
	}

	// API
	r.Route("/api", func(r chi.Router) {
		r.Route("/v1", func(r chi.Router) {
			r.Route("/graph", func(r chi.Router) {
				r.Use(short)
				r.Get("/", h.handleExportGraph)
				r.Get("/taxonomy", h.handleTaxonomy)
			})

			r.Route("/sessions", func(r chi.Router) {
				r.With(short).Post("/", h.handleCreateSession)
				r.Route("/{id}", func(r chi.Router) {
					r.Group(func(r chi.Router) {
						r.Use(short)
						r.Get("/", h.handleGetSession)
						r.Delete("/", h.handleCloseSession)
						r.Put("/filter/attribute", h.handleSelectAttribute)
						r.Put("/filter/values", h.handleSelectValues)
						r.Put("/filter/whole-graph", h.handleWholeGraph)
						r.Post("/tap", h.handleTap)
						r.Put("/tab", h.handleSelectTab)
						r.Post("/db/delete", h.handleDeleteDB)
					})

					r.Group(func(r chi.Router) {
						r.Use(long)
						r.Post("/uploads", h.handleUpload)
						r.Post("/uploads/dragdrop", h.handleDragDrop)
						r.Post("/mac/refresh", h.handleMACRefresh)
					})

					// Long-lived; no request timeout.
					r.Get("/stream", h.handleStream)
				})
			})
		})
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		h.metrics.ObserveHTTPRequest(r.Method, route, ww.Status(), duration)

		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", duration.Milliseconds()).
			Msg("http_request")
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	resp := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	}
	if details != nil {
		resp["error"].(map[string]any)["details"] = details
	}
	h.writeJSON(w, status, resp)
}

func decodeJSONStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra data after JSON body")
		}
		return err
	}
	return nil
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleReadyZ(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.store == nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "graph store not configured", nil)
		return
	}

	if err := h.store.Ping(ctx); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "graph store not ready", map[string]any{"error": err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

// session resolves {id}, writing a 404 when it is unknown.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*console.Session, bool) {
	id := chi.URLParam(r, "id")
	s, err := h.sessions.Get(id)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "not_found", "session not found", map[string]any{"id": id})
		return nil, false
	}
	return s, true
}

// writeEventResult answers an event dispatch with the settled view or the
// error envelope matching err.
func (h *Handler) writeEventResult(w http.ResponseWriter, r *http.Request, view console.View, err error) {
	if err == nil {
		h.writeJSON(w, http.StatusOK, view)
		return
	}
	switch {
	case errors.Is(err, filter.ErrUnknownAttribute),
		errors.Is(err, console.ErrUnknownTab),
		errors.Is(err, console.ErrUnknownSurface),
		errors.Is(err, console.ErrEmptyBatch):
		h.writeError(w, http.StatusBadRequest, "validation_failed", err.Error(), nil)
	case errors.Is(err, console.ErrUnknownNode):
		h.writeError(w, http.StatusNotFound, "node_not_found", err.Error(), nil)
	case errors.Is(err, console.ErrFilterChanged):
		h.writeError(w, http.StatusConflict, "filter_changed", err.Error(), nil)
	case errors.Is(err, reactive.ErrClosed):
		h.writeError(w, http.StatusGone, "session_closed", "session has been closed", nil)
	default:
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("event dispatch failed")
		h.writeError(w, http.StatusInternalServerError, "internal_error", "event dispatch failed", nil)
	}
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	_, view, err := h.sessions.Create(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("create session failed")
		h.writeError(w, http.StatusInternalServerError, "internal_error", "failed to create session", nil)
		return
	}
	h.writeJSON(w, http.StatusCreated, view)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, s.View())
}

func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.sessions.Close(id); err != nil {
		h.writeError(w, http.StatusNotFound, "not_found", "session not found", map[string]any{"id": id})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type attributeRequest struct {
	Attribute string `json:"attribute"`
}

type valuesRequest struct {
	Values []string `json:"values"`
}

type wholeGraphRequest struct {
	Enabled *bool `json:"enabled"`
}

type tapRequest struct {
	NodeID string `json:"node_id"`
}

type tabRequest struct {
	Tab string `json:"tab"`
}

type confirmRequest struct {
	Confirm bool `json:"confirm"`
}

func (h *Handler) handleSelectAttribute(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req attributeRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	view, err := s.SelectAttribute(r.Context(), req.Attribute)
	h.writeEventResult(w, r, view, err)
}

func (h *Handler) handleSelectValues(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req valuesRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if req.Values == nil {
		req.Values = []string{}
	}
	view, err := s.SelectValues(r.Context(), req.Values)
	h.writeEventResult(w, r, view, err)
}

func (h *Handler) handleWholeGraph(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req wholeGraphRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if req.Enabled == nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "enabled is required", nil)
		return
	}
	view, err := s.SetWholeGraph(r.Context(), *req.Enabled)
	h.writeEventResult(w, r, view, err)
}

func (h *Handler) handleTap(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req tapRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if req.NodeID == "" {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "node_id is required", nil)
		return
	}
	view, err := s.TapNode(r.Context(), req.NodeID)
	h.writeEventResult(w, r, view, err)
}

func (h *Handler) handleSelectTab(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req tabRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	view, err := s.SelectTab(r.Context(), req.Tab)
	h.writeEventResult(w, r, view, err)
}

// decodeConfirm enforces the explicit confirmation destructive actions need.
func (h *Handler) decodeConfirm(w http.ResponseWriter, r *http.Request) bool {
	var req confirmRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return false
	}
	if !req.Confirm {
		h.writeError(w, http.StatusBadRequest, "confirmation_required", "action requires confirm=true", nil)
		return false
	}
	return true
}

func (h *Handler) handleDeleteDB(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if !h.decodeConfirm(w, r) {
		return
	}
	view, err := s.ConfirmDelete(r.Context())
	h.writeEventResult(w, r, view, err)
}

func (h *Handler) handleMACRefresh(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if !h.decodeConfirm(w, r) {
		return
	}
	view, err := s.ConfirmMACRefresh(r.Context())
	h.writeEventResult(w, r, view, err)
}

func (h *Handler) handleExportGraph(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "graph store not configured", nil)
		return
	}
	snap, err := h.store.InitialQuery(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("graph export failed")
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "failed to read graph", nil)
		return
	}
	if r.URL.Query().Get("download") != "" {
		w.Header().Set("Content-Disposition", `attachment; filename="beacongraph.json"`)
	}
	h.writeJSON(w, http.StatusOK, snap)
}
