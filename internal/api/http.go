package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/mirador-sentinel/internal/services"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

const (
	errCodeInvalidRequest = "INVALID_REQUEST"
	errCodeUnavailable    = "UNAVAILABLE"
	errCodeInternal       = "INTERNAL_ERROR"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type restHandler struct {
	svc    QueryService
	logger *slog.Logger
}

// NewRouter builds the REST surface. gatherer backs /metrics; nil means the
// default Prometheus registry.
func NewRouter(svc QueryService, logger *slog.Logger, gatherer prometheus.Gatherer) *mux.Router {
	if logger == nil {
		logger = slog.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	h := &restHandler{svc: svc, logger: logger}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	apiRouter.HandleFunc("/anomalies", h.listAnomalies).Methods(http.MethodGet)
	apiRouter.HandleFunc("/root-causes", h.listRootCauses).Methods(http.MethodGet)
	apiRouter.HandleFunc("/stats", h.stats).Methods(http.MethodGet)
	apiRouter.HandleFunc("/remediation/categories", h.categories).Methods(http.MethodGet)
	return router
}

func (h *restHandler) listAnomalies(w http.ResponseWriter, r *http.Request) {
	req, err := AnomalyRequestFromQuery(r.URL.Query())
	if err != nil {
		respondError(w, http.StatusBadRequest, errCodeInvalidRequest, err.Error())
		return
	}
	page, err := h.svc.ListAnomalies(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (h *restHandler) listRootCauses(w http.ResponseWriter, r *http.Request) {
	req, err := RootCauseRequestFromQuery(r.URL.Query())
	if err != nil {
		respondError(w, http.StatusBadRequest, errCodeInvalidRequest, err.Error())
		return
	}
	page, err := h.svc.ListRootCauses(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (h *restHandler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (h *restHandler) categories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.svc.Categories()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, categoriesResponse{Categories: categories})
}

func (h *restHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidArgument):
		respondError(w, http.StatusBadRequest, errCodeInvalidRequest, utils.Message(err))
	case errors.Is(err, services.ErrUnavailable):
		respondError(w, http.StatusServiceUnavailable, errCodeUnavailable, utils.Message(err))
	case errors.Is(err, context.Canceled):
		// client went away
	default:
		h.logger.Error("request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, errCodeInternal, utils.Message(err))
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
