// Package maintenance runs the background janitor: re-dispatching pipelines
// whose queue messages were lost and surfacing poisoned queue depth. Dispatch
// can vanish when the process dies between persisting status.json and
// enqueueing the next step; the sweep makes that window survivable.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/common"
	"github.com/ternarybob/mnemo/internal/interfaces"
)

// Janitor periodically walks every pipeline status file and nudges the ones
// that stopped moving.
type Janitor struct {
	orchestrator interfaces.Orchestrator
	documents    interfaces.DocumentStore
	provider     interfaces.QueueProvider
	logger       arbor.ILogger
	schedule     string
	staleAfter   time.Duration
	cron         *cron.Cron

	mu      sync.Mutex
	running bool
}

// NewJanitor creates a stopped janitor from the maintenance section of the
// configuration.
func NewJanitor(config *common.Config, orchestrator interfaces.Orchestrator, documents interfaces.DocumentStore, provider interfaces.QueueProvider, logger arbor.ILogger) *Janitor {
	return &Janitor{
		orchestrator: orchestrator,
		documents:    documents,
		provider:     provider,
		logger:       logger,
		schedule:     config.Maintenance.Schedule,
		staleAfter:   config.StaleAfter(),
		cron:         cron.New(cron.WithSeconds()),
	}
}

// Start schedules the sweep. Fails on an invalid cron expression.
func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return fmt.Errorf("janitor already running")
	}

	_, err := j.cron.AddFunc(j.schedule, func() {
		if err := j.Sweep(context.Background()); err != nil {
			j.logger.Warn().Err(err).Msg("Maintenance sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", j.schedule, err)
	}

	j.cron.Start()
	j.running = true
	j.logger.Info().
		Str("schedule", j.schedule).
		Str("stale_after", j.staleAfter.String()).
		Msg("Maintenance janitor started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.running {
		return
	}
	<-j.cron.Stop().Done()
	j.running = false
	j.logger.Info().Msg("Maintenance janitor stopped")
}

// Sweep runs one maintenance pass: resume stalled pipelines, then report
// poisoned queue depth.
func (j *Janitor) Sweep(ctx context.Context) error {
	resumed, scanned, err := j.resumeStalled(ctx)
	if err != nil {
		return err
	}
	poisoned := j.poisonDepth(ctx)

	if resumed > 0 || poisoned > 0 {
		j.logger.Info().
			Int("scanned", scanned).
			Int("resumed", resumed).
			Int("poisoned", poisoned).
			Msg("Maintenance sweep finished")
	} else {
		j.logger.Debug().Int("scanned", scanned).Msg("Maintenance sweep found nothing to do")
	}
	return nil
}

// resumeStalled re-dispatches every non-terminal pipeline whose status has
// not moved within the staleness threshold.
func (j *Janitor) resumeStalled(ctx context.Context) (resumed, scanned int, err error) {
	indexes, err := j.documents.ListIndexDirectories(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list index directories: %w", err)
	}

	for _, index := range indexes {
		documents, err := j.documents.ListDocumentDirectories(ctx, index)
		if err != nil {
			j.logger.Warn().Str("index", index).Err(err).Msg("Failed to list document directories")
			continue
		}
		for _, documentID := range documents {
			scanned++
			status, err := j.orchestrator.ReadPipelineStatus(ctx, index, documentID)
			if err != nil {
				j.logger.Warn().
					Str("index", index).
					Str("document_id", documentID).
					Err(err).
					Msg("Failed to read pipeline status")
				continue
			}
			if status == nil || status.IsTerminal() || time.Since(status.LastUpdate) < j.staleAfter {
				continue
			}

			ok, err := j.orchestrator.ResumePipeline(ctx, index, documentID)
			if err != nil {
				j.logger.Warn().
					Str("index", index).
					Str("document_id", documentID).
					Err(err).
					Msg("Failed to resume stalled pipeline")
				continue
			}
			if ok {
				resumed++
				j.logger.Info().
					Str("index", index).
					Str("document_id", documentID).
					Str("step", status.CurrentStep()).
					Msg("Stalled pipeline re-dispatched")
			}
		}
	}
	return resumed, scanned, nil
}

// poisonDepth sums the poison store depth across the step queues, logging
// each non-empty one.
func (j *Janitor) poisonDepth(ctx context.Context) int {
	total := 0
	for _, step := range j.orchestrator.RegisteredSteps() {
		queue, err := j.provider.GetQueue(step)
		if err != nil {
			continue
		}
		count, err := queue.PoisonCount(ctx)
		if err != nil {
			j.logger.Warn().Str("queue", step).Err(err).Msg("Failed to read poison count")
			continue
		}
		if count > 0 {
			j.logger.Warn().
				Str("queue", step).
				Int("poisoned", count).
				Msg("Queue holds poisoned messages")
		}
		total += count
	}
	return total
}
