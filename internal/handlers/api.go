package handlers

import (
	"fmt"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/common"
)

// APIHandler serves the system endpoints: health, version and the JSON 404.
type APIHandler struct {
	config *common.Config
	logger arbor.ILogger
}

func NewAPIHandler(config *common.Config, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		config: config,
		logger: logger,
	}
}

// HealthHandler reports liveness plus the storage and queue profile in use.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	storage := "durable"
	if h.config.Storage.Volatile {
		storage = "volatile"
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "mnemo",
		"storage": storage,
		"queue":   h.config.Queue.Mode,
	})
}

// VersionHandler reports the build identity.
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"service": "mnemo",
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}

// NotFoundHandler answers unmatched /api/ paths with a JSON 404.
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug().Str("path", r.URL.Path).Msg("Unknown API endpoint")
	WriteError(w, http.StatusNotFound, fmt.Sprintf("unknown endpoint %s", r.URL.Path))
}
