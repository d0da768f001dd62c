package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/interfaces"
	"github.com/ternarybob/mnemo/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// AskStreamHandler serves GET /api/ask/stream: a websocket that answers
// AskRequest messages with a stream of MemoryAnswer events (reset, append
// fragments, last with sources). The connection stays open for follow-up
// questions until the client closes it.
type AskStreamHandler struct {
	engine interfaces.SearchEngine
	logger arbor.ILogger
}

func NewAskStreamHandler(engine interfaces.SearchEngine, logger arbor.ILogger) *AskStreamHandler {
	return &AskStreamHandler{
		engine: engine,
		logger: logger,
	}
}

// HandleAskStream upgrades the connection and answers questions until the
// client disconnects.
func (h *AskStreamHandler) HandleAskStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to upgrade ask stream connection")
		return
	}
	defer conn.Close()

	h.logger.Debug().Str("remote", r.RemoteAddr).Msg("Ask stream connected")

	for {
		var req AskRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn().Err(err).Msg("Ask stream read failed")
			}
			return
		}

		if !h.streamAnswer(r, conn, &req) {
			return
		}
	}
}

// streamAnswer runs one question through the engine and forwards every event.
// Returns false when the connection is no longer usable.
func (h *AskStreamHandler) streamAnswer(r *http.Request, conn *websocket.Conn, req *AskRequest) bool {
	events, err := h.engine.AskStream(r.Context(), req.Index, req.Question, interfaces.SearchOptions{
		MinRelevance: req.MinRelevance,
		Filters:      req.Filters,
	})
	if err != nil {
		h.logger.Warn().Err(err).Str("index", req.Index).Msg("Ask stream query rejected")
		failure := &models.MemoryAnswer{
			StreamState:    models.StreamError,
			Question:       req.Question,
			Index:          req.Index,
			NoResult:       true,
			NoResultReason: err.Error(),
		}
		return conn.WriteJSON(failure) == nil
	}

	for event := range events {
		if err := conn.WriteJSON(event); err != nil {
			h.logger.Warn().Err(err).Msg("Failed to write ask stream event")
			return false
		}
	}
	return true
}
