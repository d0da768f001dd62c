package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/common"
	"github.com/ternarybob/mnemo/internal/interfaces"
	"github.com/ternarybob/mnemo/internal/models"
	"github.com/ternarybob/mnemo/internal/services/tokenizer"
)

// summarizeContentTokens caps how much extracted content goes into the
// summarization prompt, leaving room for the instructions and the answer in
// typical model windows.
const summarizeContentTokens = 8000

const summaryPrompt = `Write a concise factual summary of the following content in no more than %d words.
Keep names, numbers, dates and identifiers. Do not add information that is not in the content.

Content:
%s

Summary:`

// SummarizeHandler condenses each file's extracted content into a
// text_summarization artifact. The summary is embedded and stored like a
// partition by the following steps, tagged __syn=summary.
type SummarizeHandler struct {
	orchestrator interfaces.Orchestrator
	generator    interfaces.TextGenerator
	counter      *tokenizer.Counter
	targetTokens int
	logger       arbor.ILogger
}

var _ interfaces.StepHandler = (*SummarizeHandler)(nil)

// NewSummarizeHandler creates the summarize step handler. targetTokens caps
// the generated summary length.
func NewSummarizeHandler(orchestrator interfaces.Orchestrator, generator interfaces.TextGenerator, counter *tokenizer.Counter, targetTokens int, logger arbor.ILogger) *SummarizeHandler {
	return &SummarizeHandler{
		orchestrator: orchestrator,
		generator:    generator,
		counter:      counter,
		targetTokens: targetTokens,
		logger:       logger,
	}
}

func (h *SummarizeHandler) StepName() string {
	return models.StepSummarize
}

func (h *SummarizeHandler) Invoke(ctx context.Context, pipeline *models.DataPipeline) (models.StepOutcome, *models.DataPipeline, error) {
	for _, file := range pipeline.Files {
		if file.ArtifactType != models.ArtifactUndefined || file.WasProcessedBy(models.StepSummarize) {
			continue
		}

		text, err := h.extractedText(ctx, pipeline, file)
		if err != nil {
			return outcomeForError(err), pipeline, err
		}
		if strings.TrimSpace(text) == "" {
			file.MarkProcessedBy(models.StepSummarize)
			continue
		}

		summary, err := h.summarize(ctx, text)
		if err != nil {
			return outcomeForError(err), pipeline, err
		}
		if summary == "" {
			h.logger.Warn().
				Str("document_id", pipeline.DocumentID).
				Str("file", file.Name).
				Msg("Model returned an empty summary, skipping")
			file.MarkProcessedBy(models.StepSummarize)
			continue
		}

		name := summaryArtifactName(file.ID)
		if err := h.orchestrator.WriteTextFile(ctx, pipeline, name, summary); err != nil {
			return outcomeForError(err), pipeline, err
		}
		file.AddGeneratedFile(&models.GeneratedFileDetails{
			FileDetailsBase: models.FileDetailsBase{
				ID:           common.NewFileID(),
				Name:         name,
				Size:         int64(len(summary)),
				MimeType:     models.MimePlainText,
				ArtifactType: models.ArtifactTextSummary,
			},
			ParentID: file.ID,
		})
		file.MarkProcessedBy(models.StepSummarize)

		h.logger.Info().
			Str("document_id", pipeline.DocumentID).
			Str("file", file.Name).
			Int("summary_tokens", h.counter.CountTokens(summary)).
			Msg("Summary generated")
	}

	return models.OutcomeComplete, pipeline, nil
}

// extractedText concatenates the file's extracted sections in order.
func (h *SummarizeHandler) extractedText(ctx context.Context, pipeline *models.DataPipeline, file *models.FileDetails) (string, error) {
	var parts []string
	for _, artifact := range extractedArtifacts(file) {
		text, err := h.orchestrator.ReadTextFile(ctx, pipeline, artifact.Name)
		if err != nil {
			return "", err
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n"), nil
}

func (h *SummarizeHandler) summarize(ctx context.Context, text string) (string, error) {
	content := h.counter.TruncateTokens(text, summarizeContentTokens)
	words := h.targetTokens * 3 / 4
	prompt := fmt.Sprintf(summaryPrompt, words, content)

	stream, err := h.generator.GenerateText(ctx, prompt, h.targetTokens)
	if err != nil {
		return "", err
	}
	var out strings.Builder
	for token := range stream {
		if token.Err != nil {
			return "", token.Err
		}
		out.WriteString(token.Text)
	}
	return strings.TrimSpace(out.String()), nil
}
