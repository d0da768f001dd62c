package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/interfaces"
	"github.com/ternarybob/mnemo/internal/models"
)

// SearchRequest is the body of POST /api/search.
type SearchRequest struct {
	Index        string                 `json:"index"`
	Query        string                 `json:"query"`
	Filters      []*models.MemoryFilter `json:"filters,omitempty"`
	Limit        int                    `json:"limit,omitempty"`
	MinRelevance float64                `json:"min_relevance,omitempty"`
}

// AskRequest is the body of POST /api/ask and of each websocket message on
// /api/ask/stream.
type AskRequest struct {
	Index        string                 `json:"index"`
	Question     string                 `json:"question"`
	Filters      []*models.MemoryFilter `json:"filters,omitempty"`
	MinRelevance float64                `json:"min_relevance,omitempty"`
}

// SearchHandler serves similarity search and grounded question answering.
type SearchHandler struct {
	engine interfaces.SearchEngine
	logger arbor.ILogger
}

func NewSearchHandler(engine interfaces.SearchEngine, logger arbor.ILogger) *SearchHandler {
	return &SearchHandler{
		engine: engine,
		logger: logger,
	}
}

// SearchHandler handles POST /api/search requests.
func (h *SearchHandler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to decode search request")
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.engine.Search(r.Context(), req.Index, req.Query, interfaces.SearchOptions{
		Limit:        req.Limit,
		MinRelevance: req.MinRelevance,
		Filters:      req.Filters,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("index", req.Index).Msg("Search failed")
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, result)
}

// AskHandler handles POST /api/ask requests.
func (h *SearchHandler) AskHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to decode ask request")
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	answer, err := h.engine.Ask(r.Context(), req.Index, req.Question, interfaces.SearchOptions{
		MinRelevance: req.MinRelevance,
		Filters:      req.Filters,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("index", req.Index).Msg("Ask failed")
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, answer)
}
