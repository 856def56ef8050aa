package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	ctxmgr "github.com/shehryarbajwa/ai-in-one/internal/context"
	"github.com/shehryarbajwa/ai-in-one/internal/login"
	"github.com/shehryarbajwa/ai-in-one/internal/ratelimit"
	"github.com/shehryarbajwa/ai-in-one/internal/session"
	"github.com/shehryarbajwa/ai-in-one/pkg/models"
)

// ServiceInfo describes one configured service for the shell
type ServiceInfo struct {
	ID        models.ServiceID `json:"id"`
	Shortcut  int              `json:"shortcut"`
	URL       string           `json:"url"`
	ContextID string           `json:"contextId"`
	SSO       bool             `json:"sso"`
}

// Handler holds dependencies for service and view HTTP handlers
type Handler struct {
	sessionMgr *session.Manager
	registry   *ctxmgr.Registry
	limiter    *ratelimit.Limiter
	logger     *zap.Logger
}

// NewHandler creates a new HTTP handler. limiter only feeds rate limit headers
// and may be nil.
func NewHandler(sessionMgr *session.Manager, registry *ctxmgr.Registry, limiter *ratelimit.Limiter, logger *zap.Logger) *Handler {
	return &Handler{
		sessionMgr: sessionMgr,
		registry:   registry,
		limiter:    limiter,
		logger:     logger,
	}
}

// ListServices handles GET /v1/services
func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	services := h.registry.Services()
	out := make([]ServiceInfo, 0, len(services))
	for i, id := range services {
		cfg, err := h.registry.Service(id)
		if err != nil {
			continue
		}
		out = append(out, ServiceInfo{
			ID:        id,
			Shortcut:  i + 1,
			URL:       cfg.BaseURL,
			ContextID: cfg.ContextID,
			SSO:       h.registry.IsSSO(id),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// OpenService handles POST /v1/services/{service}/open
func (h *Handler) OpenService(w http.ResponseWriter, r *http.Request) {
	service, ok := h.service(w, r)
	if !ok {
		return
	}

	view, err := h.sessionMgr.OpenService(r.Context(), service)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// RequestLogin handles POST /v1/services/{service}/login
func (h *Handler) RequestLogin(w http.ResponseWriter, r *http.Request) {
	service, ok := h.service(w, r)
	if !ok {
		return
	}

	result, err := h.sessionMgr.RequestExternalLogin(r.Context(), service)
	if h.limiter != nil {
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(h.limiter.Tokens(service))))
		if errors.Is(err, login.ErrRateLimited) {
			retry := h.limiter.RetryAfter(service)
			w.Header().Set("Retry-After", strconv.Itoa(int(retry.Round(time.Second).Seconds())))
		}
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

// GetLogin handles GET /v1/services/{service}/login
func (h *Handler) GetLogin(w http.ResponseWriter, r *http.Request) {
	service, ok := h.service(w, r)
	if !ok {
		return
	}

	attempt, err := h.sessionMgr.LoginState(service)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

// RefreshLogin handles POST /v1/services/{service}/login/refresh
func (h *Handler) RefreshLogin(w http.ResponseWriter, r *http.Request) {
	service, ok := h.service(w, r)
	if !ok {
		return
	}

	attempt, err := h.sessionMgr.RefreshLogin(r.Context(), service)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

// CloseLogin handles POST /v1/services/{service}/login/close
func (h *Handler) CloseLogin(w http.ResponseWriter, r *http.Request) {
	service, ok := h.service(w, r)
	if !ok {
		return
	}

	attempt, err := h.sessionMgr.CloseLogin(service)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

// InjectCookies handles POST /v1/services/{service}/cookies
func (h *Handler) InjectCookies(w http.ResponseWriter, r *http.Request) {
	service, ok := h.service(w, r)
	if !ok {
		return
	}

	var req models.InjectCookiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid request body: " + err.Error()})
		return
	}

	result, err := h.sessionMgr.InjectCookiesManually(r.Context(), service, req.Cookies)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListViews handles GET /v1/views
func (h *Handler) ListViews(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessionMgr.ListViews())
}

// GetView handles GET /v1/views/{service}
func (h *Handler) GetView(w http.ResponseWriter, r *http.Request) {
	service, ok := h.service(w, r)
	if !ok {
		return
	}

	view, err := h.sessionMgr.GetView(service)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) service(w http.ResponseWriter, r *http.Request) (models.ServiceID, bool) {
	service, err := models.ParseService(mux.Vars(r)["service"])
	if err != nil {
		h.writeError(w, err)
		return "", false
	}
	return service, true
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps domain errors onto status codes
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func statusFor(err error) int {
	var cfgErr *models.ConfigurationError
	var launchErr *models.ExternalLaunchError

	switch {
	case errors.As(err, &cfgErr), errors.Is(err, session.ErrViewNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, login.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.As(err, &launchErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
