package handlers

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/common"
	"github.com/ternarybob/mnemo/internal/interfaces"
	"github.com/ternarybob/mnemo/internal/models"
)

// maxUploadMemory bounds the multipart parse buffer; larger files spill to
// temporary storage.
const maxUploadMemory = 32 << 20

// DocumentHandler serves the document intake surface: upload, pipeline
// status and deletion.
type DocumentHandler struct {
	orchestrator interfaces.Orchestrator
	defaultIndex string
	logger       arbor.ILogger
}

func NewDocumentHandler(config *common.Config, orchestrator interfaces.Orchestrator, logger arbor.ILogger) *DocumentHandler {
	return &DocumentHandler{
		orchestrator: orchestrator,
		defaultIndex: config.Memory.DefaultIndex,
		logger:       logger,
	}
}

// UploadHandler handles POST /api/documents multipart requests. Form fields:
// any number of file parts, plus "index", "documentId", repeated "tags"
// entries as key:value, "steps" as CSV and "url" for web page ingestion.
func (h *DocumentHandler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to parse upload form")
		WriteError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	request, err := h.buildUploadRequest(r)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	documentID, err := h.orchestrator.ImportDocument(r.Context(), request)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to import document")
		WriteServiceError(w, err)
		return
	}

	index, err := models.NormalizeIndexName(request.Index, h.defaultIndex)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"document_id": documentID,
		"index":       index,
		"status_url":  fmt.Sprintf("/api/documents/%s/status?index=%s", documentID, url.QueryEscape(index)),
	})
}

// buildUploadRequest translates the parsed multipart form into an upload
// request. Validation of ids, tags and steps stays with the orchestrator.
func (h *DocumentHandler) buildUploadRequest(r *http.Request) (*models.DocumentUploadRequest, error) {
	request := &models.DocumentUploadRequest{
		Index:      r.FormValue("index"),
		DocumentID: r.FormValue("documentId"),
		Tags:       models.NewTagCollection(),
	}
	if request.DocumentID == "" {
		request.DocumentID = r.FormValue("document_id")
	}

	for _, tag := range r.Form["tags"] {
		key, value, found := strings.Cut(tag, ":")
		if !found || key == "" {
			return nil, models.NewValidationError(fmt.Sprintf("tag %q is not in key:value form", tag))
		}
		request.Tags.Add(key, value)
	}

	if steps := strings.TrimSpace(r.FormValue("steps")); steps != "" {
		for _, step := range strings.Split(steps, ",") {
			request.Steps = append(request.Steps, strings.TrimSpace(step))
		}
	}

	if r.MultipartForm != nil {
		for _, headers := range r.MultipartForm.File {
			for _, header := range headers {
				content, err := readUploadedFile(header)
				if err != nil {
					return nil, fmt.Errorf("read uploaded file %s: %w", header.Filename, err)
				}
				request.Files = append(request.Files, &models.UploadedFile{
					Name:    header.Filename,
					Content: content,
				})
			}
		}
	}

	// A url field becomes a pointer file; the extract step fetches it.
	if pageURL := strings.TrimSpace(r.FormValue("url")); pageURL != "" {
		request.Files = append(request.Files, &models.UploadedFile{
			Name:    models.URLFilename,
			Content: []byte(pageURL),
		})
	}

	return request, nil
}

func readUploadedFile(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

// documentStatusResponse is the wire shape of a pipeline status query.
type documentStatusResponse struct {
	Index          string               `json:"index"`
	DocumentID     string               `json:"document_id"`
	Ready          bool                 `json:"ready"`
	Completed      bool                 `json:"completed"`
	Failed         bool                 `json:"failed"`
	Empty          bool                 `json:"empty"`
	Tags           models.TagCollection `json:"tags,omitempty"`
	Creation       time.Time            `json:"creation"`
	LastUpdate     time.Time            `json:"last_update"`
	Steps          []string             `json:"steps"`
	CompletedSteps []string             `json:"completed_steps"`
	RemainingSteps []string             `json:"remaining_steps"`
}

// StatusHandler handles GET /api/documents/{id}/status?index= requests.
func (h *DocumentHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	documentID := documentIDFromPath(r.URL.Path)
	if documentID == "" {
		WriteError(w, http.StatusNotFound, "Document id missing from path")
		return
	}

	pipeline, err := h.orchestrator.ReadPipelineStatus(r.Context(), r.URL.Query().Get("index"), documentID)
	if err != nil {
		h.logger.Error().Err(err).Str("document_id", documentID).Msg("Failed to read pipeline status")
		WriteServiceError(w, err)
		return
	}
	if pipeline == nil {
		WriteError(w, http.StatusNotFound, fmt.Sprintf("document %q not found", documentID))
		return
	}

	WriteJSON(w, http.StatusOK, &documentStatusResponse{
		Index:          pipeline.Index,
		DocumentID:     pipeline.DocumentID,
		Ready:          pipeline.Completed && !pipeline.Empty,
		Completed:      pipeline.Completed,
		Failed:         pipeline.Failed,
		Empty:          pipeline.Empty,
		Tags:           pipeline.Tags,
		Creation:       pipeline.Creation,
		LastUpdate:     pipeline.LastUpdate,
		Steps:          pipeline.Steps,
		CompletedSteps: pipeline.CompletedSteps,
		RemainingSteps: pipeline.RemainingSteps,
	})
}

// DeleteHandler handles DELETE /api/documents/{id}?index= requests by
// starting the deletion pipeline.
func (h *DocumentHandler) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}

	documentID := documentIDFromPath(r.URL.Path)
	if documentID == "" {
		WriteError(w, http.StatusNotFound, "Document id missing from path")
		return
	}

	index := r.URL.Query().Get("index")
	if err := h.orchestrator.StartDocumentDeletion(r.Context(), index, documentID); err != nil {
		h.logger.Error().Err(err).Str("document_id", documentID).Msg("Failed to start document deletion")
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"status":      "deletion started",
		"document_id": documentID,
	})
}

// documentIDFromPath extracts {id} from /api/documents/{id} and
// /api/documents/{id}/status.
func documentIDFromPath(path string) string {
	rest := strings.TrimPrefix(path, "/api/documents/")
	if rest == path {
		return ""
	}
	rest = strings.TrimSuffix(rest, "/status")
	return strings.Trim(rest, "/")
}
