// Package search implements the retrieval engine: similarity search with
// citations and grounded question answering over the memory records the
// ingestion pipeline stored.
package search

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/common"
	"github.com/ternarybob/mnemo/internal/interfaces"
	"github.com/ternarybob/mnemo/internal/models"
	"github.com/ternarybob/mnemo/internal/services/tokenizer"
)

const answerPrompt = `Facts:
%s
======
Given only the facts above, provide a comprehensive answer to the question below.
You don't know where the knowledge comes from, just answer.
If you don't have sufficient information, reply exactly with '%s'.

Question: %s
Answer: `

const noMemoriesReason = "no relevant memories available"

// Engine answers queries against one vector store using the configured
// embedder for the query vector and the text generator for grounded answers.
type Engine struct {
	store        interfaces.MemoryDb
	embedder     interfaces.EmbeddingGenerator
	generator    interfaces.TextGenerator
	counter      *tokenizer.Counter
	logger       arbor.ILogger
	defaultIndex string
	searchLimit  int
	minRelevance float64
	promptBudget int
	answerTokens int
	emptyAnswer  string
}

var _ interfaces.SearchEngine = (*Engine)(nil)

// NewEngine creates the retrieval engine from the memory section of the
// configuration.
func NewEngine(config *common.Config, store interfaces.MemoryDb, embedder interfaces.EmbeddingGenerator, generator interfaces.TextGenerator, logger arbor.ILogger) *Engine {
	return &Engine{
		store:        store,
		embedder:     embedder,
		generator:    generator,
		counter:      tokenizer.New(),
		logger:       logger,
		defaultIndex: config.Memory.DefaultIndex,
		searchLimit:  config.Memory.SearchLimit,
		minRelevance: config.Memory.MinRelevance,
		promptBudget: config.Memory.PromptTokenBudget,
		answerTokens: config.Memory.AnswerTokens,
		emptyAnswer:  config.Memory.EmptyAnswer,
	}
}

// Search embeds the query and returns the matching partitions grouped by
// source document, best match first. A missing index yields an empty result
// rather than an error, matching the behavior of a brand-new deployment.
func (e *Engine) Search(ctx context.Context, index, query string, opts interfaces.SearchOptions) (*models.SearchResult, error) {
	index, err := models.NormalizeIndexName(index, e.defaultIndex)
	if err != nil {
		return nil, err
	}
	result := &models.SearchResult{Query: query, Index: index, NoResult: true, Results: []*models.Citation{}}

	matches, err := e.retrieve(ctx, index, query, opts, e.limit(opts))
	if err != nil {
		if models.IsIndexNotFound(err) {
			return result, nil
		}
		return nil, err
	}

	result.Results = groupCitations(index, matches)
	result.NoResult = len(result.Results) == 0
	return result, nil
}

// Ask retrieves the best partitions under the prompt token budget and asks
// the text generator for an answer grounded in them.
func (e *Engine) Ask(ctx context.Context, index, question string, opts interfaces.SearchOptions) (*models.MemoryAnswer, error) {
	index, err := models.NormalizeIndexName(index, e.defaultIndex)
	if err != nil {
		return nil, err
	}

	facts, citations, err := e.gatherFacts(ctx, index, question, opts)
	if err != nil {
		return nil, err
	}
	answer := &models.MemoryAnswer{
		Question:        question,
		Index:           index,
		RelevantSources: citations,
	}
	if len(citations) == 0 {
		answer.NoResult = true
		answer.NoResultReason = noMemoriesReason
		answer.Text = e.emptyAnswer
		return answer, nil
	}

	stream, err := e.generator.GenerateText(ctx, e.buildPrompt(facts, question), e.answerTokens)
	if err != nil {
		return nil, err
	}
	var text strings.Builder
	for token := range stream {
		if token.Err != nil {
			return nil, token.Err
		}
		text.WriteString(token.Text)
	}

	answer.Text = strings.TrimSpace(text.String())
	if strings.EqualFold(answer.Text, e.emptyAnswer) {
		answer.NoResult = true
		answer.NoResultReason = noMemoriesReason
	}
	return answer, nil
}

// AskStream is Ask with incremental delivery: a reset event carrying the
// question, append events carrying answer fragments, and a last event
// carrying the relevant sources. The channel closes after the last event.
func (e *Engine) AskStream(ctx context.Context, index, question string, opts interfaces.SearchOptions) (<-chan *models.MemoryAnswer, error) {
	index, err := models.NormalizeIndexName(index, e.defaultIndex)
	if err != nil {
		return nil, err
	}
	facts, citations, err := e.gatherFacts(ctx, index, question, opts)
	if err != nil {
		return nil, err
	}

	out := make(chan *models.MemoryAnswer, 8)
	emit := func(answer *models.MemoryAnswer) bool {
		select {
		case out <- answer:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(out)

		if !emit(&models.MemoryAnswer{StreamState: models.StreamReset, Question: question, Index: index}) {
			return
		}
		if len(citations) == 0 {
			emit(&models.MemoryAnswer{
				StreamState:    models.StreamLast,
				Question:       question,
				Index:          index,
				NoResult:       true,
				NoResultReason: noMemoriesReason,
				Text:           e.emptyAnswer,
			})
			return
		}

		stream, err := e.generator.GenerateText(ctx, e.buildPrompt(facts, question), e.answerTokens)
		if err != nil {
			emit(&models.MemoryAnswer{StreamState: models.StreamError, Question: question, Index: index, NoResultReason: err.Error()})
			return
		}

		var text strings.Builder
		for token := range stream {
			if token.Err != nil {
				emit(&models.MemoryAnswer{StreamState: models.StreamError, Question: question, Index: index, NoResultReason: token.Err.Error()})
				return
			}
			text.WriteString(token.Text)
			if !emit(&models.MemoryAnswer{StreamState: models.StreamAppend, Text: token.Text}) {
				return
			}
		}

		final := &models.MemoryAnswer{
			StreamState:     models.StreamLast,
			Question:        question,
			Index:           index,
			RelevantSources: citations,
		}
		if strings.EqualFold(strings.TrimSpace(text.String()), e.emptyAnswer) {
			final.NoResult = true
			final.NoResultReason = noMemoriesReason
		}
		emit(final)
	}()

	return out, nil
}

// retrieve embeds the query and runs the similarity search.
func (e *Engine) retrieve(ctx context.Context, index, query string, opts interfaces.SearchOptions, limit int) ([]interfaces.ScoredRecord, error) {
	if strings.TrimSpace(query) == "" {
		return nil, models.NewValidationError("query is required")
	}
	embedding, err := e.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	minRelevance := opts.MinRelevance
	if minRelevance == 0 {
		minRelevance = e.minRelevance
	}
	return e.store.GetSimilarList(ctx, index, embedding, limit, minRelevance, opts.Filters, false)
}

// gatherFacts retrieves matches and accumulates their text in descending
// score order until the prompt token budget is spent. Citations cover only
// the partitions that made it into the prompt.
func (e *Engine) gatherFacts(ctx context.Context, index, question string, opts interfaces.SearchOptions) (string, []*models.Citation, error) {
	matches, err := e.retrieve(ctx, index, question, opts, e.limit(opts))
	if err != nil {
		if models.IsIndexNotFound(err) {
			return "", nil, nil
		}
		return "", nil, err
	}

	var facts strings.Builder
	var used []interfaces.ScoredRecord
	budget := e.promptBudget

	for _, match := range matches {
		text := match.Record.PartitionText()
		if strings.TrimSpace(text) == "" {
			continue
		}
		fact := fmt.Sprintf("==== [source: %s; relevance: %.3f] ====\n%s\n",
			match.Record.FileName(), match.Score, text)
		tokens := e.counter.CountTokens(fact)
		if tokens > budget {
			if len(used) > 0 {
				break
			}
			// A single oversized partition still has to produce an answer.
			fact = e.counter.TruncateTokens(fact, budget)
			tokens = budget
		}
		facts.WriteString(fact)
		budget -= tokens
		used = append(used, match)
		if budget <= 0 {
			break
		}
	}

	return facts.String(), groupCitations(index, used), nil
}

func (e *Engine) buildPrompt(facts, question string) string {
	return fmt.Sprintf(answerPrompt, facts, e.emptyAnswer, question)
}

func (e *Engine) limit(opts interfaces.SearchOptions) int {
	if opts.Limit > 0 {
		return opts.Limit
	}
	return e.searchLimit
}

// groupCitations folds scored records into one citation per (document, file)
// pair, keeping partitions in match order.
func groupCitations(index string, matches []interfaces.ScoredRecord) []*models.Citation {
	var citations []*models.Citation
	byKey := map[string]*models.Citation{}

	for _, match := range matches {
		record := match.Record
		key := record.DocumentID() + "/" + record.FileID()
		citation, ok := byKey[key]
		if !ok {
			citation = &models.Citation{
				Index:          index,
				DocumentID:     record.DocumentID(),
				FileID:         record.FileID(),
				SourceName:     record.FileName(),
				SourceMimeType: record.Tags.First(models.TagFileType),
			}
			if url, ok := record.Payload[models.PayloadURL].(string); ok {
				citation.SourceURL = url
			}
			byKey[key] = citation
			citations = append(citations, citation)
		}
		citation.Partitions = append(citation.Partitions, &models.Partition{
			Text:            record.PartitionText(),
			Relevance:       float32(match.Score),
			PartitionNumber: atoiOrZero(record.Tags.First(models.TagPartitionN)),
			SectionNumber:   atoiOrZero(record.Tags.First(models.TagSectionN)),
			LastUpdate:      record.LastUpdate(),
			Tags:            record.Tags.Copy(),
		})
	}
	return citations
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
