// Package api is the management HTTP API over a herald.Herald.
//
// Routes are relative; mount the handler under any prefix. Submission
// only enqueues, so every route returns without waiting on receivers.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/xraph/herald"
	"github.com/xraph/herald/endpoint"
	"github.com/xraph/herald/id"
)

// Handler serves the management API.
type Handler struct {
	herald *herald.Herald
	logger *slog.Logger
	router chi.Router
}

// NewHandler returns a Handler over h. A nil logger means slog.Default().
func NewHandler(h *herald.Herald, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	handler := &Handler{herald: h, logger: logger, router: chi.NewRouter()}
	handler.routes()
	return handler
}

func (h *Handler) routes() {
	r := h.router
	r.Use(middleware.RequestID)
	r.Use(h.panicRecovery)
	r.Use(h.logging)

	r.Route("/event-types", func(r chi.Router) {
		r.Post("/", h.createEventType)
		r.Get("/", h.listEventTypes)
		r.Get("/{name}", h.getEventType)
		r.Delete("/{name}", h.deleteEventType)
	})

	r.Route("/endpoints", func(r chi.Router) {
		r.Post("/", h.createEndpoint)
		r.Get("/", h.listEndpoints)
		r.Get("/{id}", h.getEndpoint)
		r.Patch("/{id}", h.updateEndpoint)
		r.Patch("/{id}/enable", h.enableEndpoint)
		r.Patch("/{id}/disable", h.disableEndpoint)
		r.Post("/{id}/rotate-secret", h.rotateSecret)
	})

	r.Route("/events", func(r chi.Router) {
		r.Post("/", h.createEvent)
		r.Get("/", h.listEvents)
		r.Get("/{id}", h.getEvent)
	})

	r.Route("/deliveries", func(r chi.Router) {
		r.Get("/", h.listDeliveries)
		r.Get("/{id}", h.getDelivery)
		r.Post("/{id}/replay", h.replayDelivery)
	})

	r.Get("/stats", h.getStats)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.InfoContext(r.Context(), "api request",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (h *Handler) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				h.logger.ErrorContext(r.Context(), "panic recovered",
					slog.Any("error", rec),
					slog.String("stack", string(debug.Stack())),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// writeErr maps herald errors onto status codes: validation 400, not
// found 404, disabled endpoint 409, anything else 500.
func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	var epErr *endpoint.ValidationError
	switch {
	case errors.Is(err, herald.ErrValidation), errors.As(err, &epErr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, herald.ErrEndpointNotFound),
		errors.Is(err, herald.ErrEventTypeNotFound),
		errors.Is(err, herald.ErrEventNotFound),
		errors.Is(err, herald.ErrDeliveryNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, herald.ErrEndpointDisabled):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "api error",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// JSON helpers.

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best effort
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &herald.ValidationError{Field: key, Message: "must be an integer"}
	}
	return n, nil
}

func queryTime(r *http.Request, key string) (*time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, &herald.ValidationError{Field: key, Message: "must be an RFC 3339 timestamp"}
	}
	return &t, nil
}

// pathID parses the {id} URL parameter with parse.
func pathID(r *http.Request, parse func(string) (id.ID, error)) (id.ID, error) {
	raw := chi.URLParam(r, "id")
	v, err := parse(raw)
	if err != nil {
		return id.Nil, &herald.ValidationError{Field: "id", Message: "malformed id " + strconv.Quote(raw)}
	}
	return v, nil
}

func queryID(raw, field string, parse func(string) (id.ID, error)) (id.ID, error) {
	v, err := parse(raw)
	if err != nil {
		return id.Nil, &herald.ValidationError{Field: field, Message: "malformed id " + strconv.Quote(raw)}
	}
	return v, nil
}
