package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route - streaming question answering
	mux.HandleFunc(askStreamPath, s.app.AskStreamHandler.HandleAskStream)

	// API routes - Documents (ingestion pipeline)
	mux.HandleFunc("/api/documents", s.app.DocumentHandler.UploadHandler) // POST - multipart upload
	mux.HandleFunc("/api/documents/", s.handleDocumentRoutes)             // GET /{id}/status, DELETE /{id}

	// API routes - Retrieval
	mux.HandleFunc("/api/search", s.app.SearchHandler.SearchHandler) // POST - similarity search
	mux.HandleFunc("/api/ask", s.app.SearchHandler.AskHandler)       // POST - grounded answer

	// API routes - Indexes
	mux.HandleFunc("/api/indexes", s.app.IndexHandler.ListHandler) // GET - list indexes
	mux.HandleFunc("/api/indexes/", s.handleIndexRoutes)           // DELETE /{name}

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleDocumentRoutes routes /api/documents/{id} requests
func (s *Server) handleDocumentRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	// GET /api/documents/{id}/status
	if r.Method == "GET" && strings.HasSuffix(path, "/status") {
		s.app.DocumentHandler.StatusHandler(w, r)
		return
	}

	// DELETE /api/documents/{id}
	if r.Method == "DELETE" && len(path) > len("/api/documents/") {
		s.app.DocumentHandler.DeleteHandler(w, r)
		return
	}

	if r.Method == "GET" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}

// handleIndexRoutes routes /api/indexes/{name} requests
func (s *Server) handleIndexRoutes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "DELETE":
		s.app.IndexHandler.DeleteHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
