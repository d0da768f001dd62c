package handlers

import (
	"net/http"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/interfaces"
)

// IndexHandler serves index listing and deletion. Listing unions the indexes
// of every configured vector store, since multi-embedder deployments spread
// indexes across stores.
type IndexHandler struct {
	orchestrator interfaces.Orchestrator
	stores       []interfaces.MemoryDb
	logger       arbor.ILogger
}

func NewIndexHandler(orchestrator interfaces.Orchestrator, stores []interfaces.MemoryDb, logger arbor.ILogger) *IndexHandler {
	return &IndexHandler{
		orchestrator: orchestrator,
		stores:       stores,
		logger:       logger,
	}
}

// ListHandler handles GET /api/indexes requests.
func (h *IndexHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	seen := make(map[string]bool)
	for _, store := range h.stores {
		indexes, err := store.ListIndexes(r.Context())
		if err != nil {
			h.logger.Error().Err(err).Msg("Failed to list indexes")
			WriteServiceError(w, err)
			return
		}
		for _, index := range indexes {
			seen[index] = true
		}
	}

	names := make([]string, 0, len(seen))
	for index := range seen {
		names = append(names, index)
	}
	sort.Strings(names)

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"indexes": names,
	})
}

// DeleteHandler handles DELETE /api/indexes/{name} requests by starting the
// index deletion pipeline.
func (h *IndexHandler) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}

	name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/indexes/"), "/")
	if name == "" {
		WriteError(w, http.StatusNotFound, "Index name missing from path")
		return
	}

	if err := h.orchestrator.StartIndexDeletion(r.Context(), name); err != nil {
		h.logger.Error().Err(err).Str("index", name).Msg("Failed to start index deletion")
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"status": "deletion started",
		"index":  name,
	})
}
