package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	ctxmgr "github.com/shehryarbajwa/ai-in-one/internal/context"
	"github.com/shehryarbajwa/ai-in-one/pkg/models"
)

const maxProfileArchive = 512 << 20

// ContextHandler holds dependencies for context HTTP handlers
type ContextHandler struct {
	contextMgr *ctxmgr.Manager
	logger     *zap.Logger
}

// NewContextHandler creates a new context HTTP handler
func NewContextHandler(contextMgr *ctxmgr.Manager, logger *zap.Logger) *ContextHandler {
	return &ContextHandler{
		contextMgr: contextMgr,
		logger:     logger,
	}
}

// ListContexts handles GET /v1/contexts
func (h *ContextHandler) ListContexts(w http.ResponseWriter, r *http.Request) {
	contexts := h.contextMgr.ListContexts()
	if contexts == nil {
		contexts = []*models.BrowsingContext{}
	}
	writeJSON(w, http.StatusOK, contexts)
}

// GetContext handles GET /v1/contexts/{id}
func (h *ContextHandler) GetContext(w http.ResponseWriter, r *http.Request) {
	bc, ok := h.context(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, bc)
}

// ExportContext handles GET /v1/contexts/{id}/export
func (h *ContextHandler) ExportContext(w http.ResponseWriter, r *http.Request) {
	bc, ok := h.context(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := h.contextMgr.ExportProfile(bc.ID, &buf); err != nil {
		h.logger.Error("profile export failed", zap.String("context", bc.ID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", bc.ID+".tar.gz"))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// ImportContext handles POST /v1/contexts/{id}/import
func (h *ContextHandler) ImportContext(w http.ResponseWriter, r *http.Request) {
	bc, ok := h.context(w, r)
	if !ok {
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxProfileArchive)
	if err := h.contextMgr.ImportProfile(bc.ID, body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	h.logger.Info("profile imported", zap.String("context", bc.ID))
	w.WriteHeader(http.StatusNoContent)
}

// context resolves {id}, creating a known context on first use
func (h *ContextHandler) context(w http.ResponseWriter, r *http.Request) (*models.BrowsingContext, bool) {
	id := mux.Vars(r)["id"]

	if bc, err := h.contextMgr.GetContext(id); err == nil {
		return bc, true
	}
	bc, err := h.contextMgr.Ensure(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return nil, false
	}
	return bc, true
}
