package handlers

import (
	"context"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/common"
	"github.com/ternarybob/mnemo/internal/httpclient"
	"github.com/ternarybob/mnemo/internal/interfaces"
	"github.com/ternarybob/mnemo/internal/models"
)

// ExtractHandler turns every uploaded file into plain-text extracted_content
// artifacts, one per section (page) for paginated formats. Files uploaded as
// content.url are fetched over HTTP first and decoded by the response
// content type.
type ExtractHandler struct {
	orchestrator interfaces.Orchestrator
	decoders     []interfaces.ContentDecoder
	fetcher      *httpclient.Fetcher
	logger       arbor.ILogger
}

var _ interfaces.StepHandler = (*ExtractHandler)(nil)

// NewExtractHandler creates the extract step handler. Decoders are tried in
// order, the first one supporting the file's mime type wins.
func NewExtractHandler(orchestrator interfaces.Orchestrator, decoders []interfaces.ContentDecoder, fetcher *httpclient.Fetcher, logger arbor.ILogger) *ExtractHandler {
	return &ExtractHandler{
		orchestrator: orchestrator,
		decoders:     decoders,
		fetcher:      fetcher,
		logger:       logger,
	}
}

func (h *ExtractHandler) StepName() string {
	return models.StepExtract
}

func (h *ExtractHandler) Invoke(ctx context.Context, pipeline *models.DataPipeline) (models.StepOutcome, *models.DataPipeline, error) {
	for _, file := range pipeline.Files {
		if file.ArtifactType != models.ArtifactUndefined {
			continue
		}
		if file.WasProcessedBy(models.StepExtract) {
			h.logger.Debug().
				Str("document_id", pipeline.DocumentID).
				Str("file", file.Name).
				Msg("File already extracted, skipping")
			continue
		}

		content, err := h.orchestrator.ReadFile(ctx, pipeline, file.Name)
		if err != nil {
			return outcomeForError(err), pipeline, err
		}

		mimeType := file.MimeType
		if mimeType == "" {
			mimeType = models.DetectMimeType(file.Name)
		}

		if mimeType == models.MimeWebPageURL {
			result, fetchErr := h.fetcher.Fetch(ctx, strings.TrimSpace(string(content)))
			if fetchErr != nil {
				if !models.IsValidation(fetchErr) {
					return models.OutcomeTransientError, pipeline, fetchErr
				}
				// The URL can never be fetched; keep the pipeline moving with
				// an empty extraction rather than poisoning the queue.
				h.logger.Warn().
					Str("document_id", pipeline.DocumentID).
					Str("file", file.Name).
					Err(fetchErr).
					Msg("URL content rejected, storing empty extraction")
				if err := h.storeSections(ctx, pipeline, file, nil); err != nil {
					return outcomeForError(err), pipeline, err
				}
				continue
			}
			content = result.Body
			mimeType = result.ContentType
		}

		decoder := h.decoderFor(mimeType)
		if decoder == nil {
			h.logger.Warn().
				Str("document_id", pipeline.DocumentID).
				Str("file", file.Name).
				Str("mime_type", mimeType).
				Msg("No decoder for mime type, storing empty extraction")
			if err := h.storeSections(ctx, pipeline, file, nil); err != nil {
				return outcomeForError(err), pipeline, err
			}
			continue
		}

		decoded, err := decoder.Decode(ctx, file.Name, content)
		if err != nil {
			h.logger.Warn().
				Str("document_id", pipeline.DocumentID).
				Str("file", file.Name).
				Str("mime_type", mimeType).
				Err(err).
				Msg("Decoding failed, storing empty extraction")
			if err := h.storeSections(ctx, pipeline, file, nil); err != nil {
				return outcomeForError(err), pipeline, err
			}
			continue
		}

		h.mergeContentTags(pipeline, decoded.Tags)
		if err := h.storeSections(ctx, pipeline, file, decoded.Sections); err != nil {
			return outcomeForError(err), pipeline, err
		}

		h.logger.Info().
			Str("document_id", pipeline.DocumentID).
			Str("file", file.Name).
			Str("mime_type", mimeType).
			Int("sections", len(decoded.Sections)).
			Msg("Text extracted")
	}

	return models.OutcomeComplete, pipeline, nil
}

// storeSections writes one extracted_content artifact per decoded section and
// records them on the input file. A nil section list stores a single empty
// artifact so downstream steps complete with nothing to do.
func (h *ExtractHandler) storeSections(ctx context.Context, pipeline *models.DataPipeline, file *models.FileDetails, sections []interfaces.DecodedSection) error {
	if len(sections) == 0 {
		sections = []interfaces.DecodedSection{{Number: 0, Text: ""}}
	}
	for _, section := range sections {
		name := extractArtifactName(file.ID, section.Number)
		if err := h.orchestrator.WriteTextFile(ctx, pipeline, name, section.Text); err != nil {
			return err
		}
		file.AddGeneratedFile(&models.GeneratedFileDetails{
			FileDetailsBase: models.FileDetailsBase{
				ID:            common.NewFileID(),
				Name:          name,
				Size:          int64(len(section.Text)),
				MimeType:      models.MimePlainText,
				ArtifactType:  models.ArtifactExtractedContent,
				SectionNumber: section.Number,
			},
			ParentID: file.ID,
		})
	}
	file.MarkProcessedBy(models.StepExtract)
	return nil
}

// mergeContentTags copies metadata the decoder found inside the content
// (front matter, HTML title) onto the document tags, skipping pairs that are
// already present or would break the key=value encoding.
func (h *ExtractHandler) mergeContentTags(pipeline *models.DataPipeline, tags models.TagCollection) {
	for _, key := range tags.Keys() {
		if models.ValidateTagKey(key, false) != nil {
			continue
		}
		for _, value := range tags.Get(key) {
			if models.ValidateTagValue(value) != nil {
				continue
			}
			if !pipeline.Tags.ContainsKeyValue(key, value) {
				pipeline.Tags.Add(key, value)
			}
		}
	}
}

func (h *ExtractHandler) decoderFor(mimeType string) interfaces.ContentDecoder {
	for _, d := range h.decoders {
		if d.SupportsMimeType(mimeType) {
			return d
		}
	}
	return nil
}
