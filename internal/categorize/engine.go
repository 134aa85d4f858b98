// Package categorize assigns conversations to user-defined projects via a
// two-pass, confidence-scored protocol. Pass 1 scores raw snippets; entries
// below the acceptance threshold get a synthesized description and a second
// pass; entries still uncertain land in needs_review for the interactive
// stage.
package categorize

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chatport/internal/classify"
	"chatport/internal/manifest"
)

// Config carries the run parameters of a categorize invocation.
type Config struct {
	BatchSize    int
	Threshold    float64 // acceptance confidence in [0,1]
	Concurrency  int     // simultaneous classifier calls per pass
	MaxRetries   int     // retries per batch beyond the first attempt
	RetryBackoff time.Duration
	Force        bool // re-process entries already assigned
	DryRun       bool // batching and eligibility only, no calls, no mutation
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:    15,
		Threshold:    0.8,
		Concurrency:  3,
		MaxRetries:   2,
		RetryBackoff: 2 * time.Second,
	}
}

// ReviewItem is one entry awaiting the interactive review stage.
type ReviewItem struct {
	Index      int // position in the manifest's entry slice
	ID         string
	Title      string
	Preview    string
	Proposed   string // pass-2 best guess, display only
	Confidence float64
	Rationale  string
}

// PlannedBatch describes one batch a dry run would submit.
type PlannedBatch struct {
	IDs []string
}

// Summary reports what a run did (or, for dry runs, would do).
type Summary struct {
	Eligible      int
	Assigned      int
	Unassigned    int
	SecondPass    int // entries that needed pass 2
	FailedBatches int
	NeedsReview   []ReviewItem
	Planned       []PlannedBatch // dry run only
}

// Engine drives the categorization state machine over a manifest.
type Engine struct {
	classifier classify.Classifier
	config     Config
	logger     *zap.Logger

	// Snippets maps conversation ID to extracted user-message text. Entries
	// without a snippet fall back to their manifest preview.
	Snippets map[string]string
}

// NewEngine validates config and returns an engine. The classifier may be
// nil only for dry runs.
func NewEngine(classifier classify.Classifier, config Config, logger *zap.Logger) (*Engine, error) {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	if config.Threshold <= 0 || config.Threshold > 1 {
		config.Threshold = DefaultConfig().Threshold
	}
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConfig().Concurrency
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = DefaultConfig().RetryBackoff
	}
	if classifier == nil && !config.DryRun {
		return nil, fmt.Errorf("classifier is required unless dry-run is set")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{classifier: classifier, config: config, logger: logger}, nil
}

// eligible selects entry indices for processing: unprocessed entries without
// a project, plus everything non-missing when force is set. Entries with a
// hand-assigned project are never re-scored without force.
func (e *Engine) eligible(entries []manifest.Entry) []int {
	var idx []int
	for i, entry := range entries {
		if entry.Missing {
			continue
		}
		if e.config.Force {
			idx = append(idx, i)
			continue
		}
		if entry.Status == manifest.StatusUnprocessed && entry.Project == "" {
			idx = append(idx, i)
		}
	}
	return idx
}

// Run executes the two scoring passes over the manifest, mutating entries in
// place. Interactive review is left to the caller: entries the passes could
// not settle come back in Summary.NeedsReview.
func (e *Engine) Run(ctx context.Context, m *manifest.Manifest, projects []string) (*Summary, error) {
	if len(projects) == 0 {
		return nil, fmt.Errorf("no projects defined")
	}

	idx := e.eligible(m.Entries)
	summary := &Summary{Eligible: len(idx)}
	if len(idx) == 0 {
		return summary, nil
	}

	if e.config.DryRun {
		for _, batch := range chunk(idx, e.config.BatchSize) {
			planned := PlannedBatch{}
			for _, i := range batch {
				planned.IDs = append(planned.IDs, m.Entries[i].ID)
			}
			summary.Planned = append(summary.Planned, planned)
		}
		return summary, nil
	}

	if e.config.Force {
		for _, i := range idx {
			resetEntry(&m.Entries[i])
		}
	}

	descriptions := e.describeProjects(ctx, m.Entries, projects)

	// Pass 1: raw snippets.
	requests := make(map[int]classify.Request, len(idx))
	for _, i := range idx {
		requests[i] = e.requestFor(m.Entries[i], "")
	}
	outcome := e.runPass(ctx, m, idx, requests, projects, descriptions)
	summary.FailedBatches += outcome.failedBatches

	var queued []int
	for _, i := range idx {
		entry := &m.Entries[i]
		switch entry.Status {
		case manifest.StatusAssigned:
			summary.Assigned++
		case manifest.StatusUnassigned:
			summary.Unassigned++
		case manifest.StatusPass1Scored:
			entry.Status = manifest.StatusPass2Queued
			queued = append(queued, i)
		}
	}
	summary.SecondPass = len(queued)

	// Pass 2: synthesized descriptions built from the pass-1 rationale.
	if len(queued) > 0 {
		requests = make(map[int]classify.Request, len(queued))
		for _, i := range queued {
			entry := m.Entries[i]
			requests[i] = e.requestFor(entry, synthesizeDescription(entry, e.snippetFor(entry)))
		}
		outcome = e.runPass(ctx, m, queued, requests, projects, descriptions)
		summary.FailedBatches += outcome.failedBatches

		for _, i := range queued {
			entry := &m.Entries[i]
			switch entry.Status {
			case manifest.StatusAssigned:
				summary.Assigned++
			case manifest.StatusUnassigned:
				summary.Unassigned++
			case manifest.StatusPass2Scored, manifest.StatusPass2Queued:
				// Still below threshold (or the batch failed): route to
				// review, keeping the best guess visible but uncommitted.
				entry.Status = manifest.StatusNeedsReview
			}
		}
	}

	summary.NeedsReview = collectReviewItems(m.Entries)
	return summary, nil
}

type passOutcome struct {
	failedBatches int
}

// runPass dispatches batches with bounded concurrency, applying results to
// the manifest as each batch lands. Batches that fail after retries mark
// their entries needs_review rather than aborting the run.
func (e *Engine) runPass(ctx context.Context, m *manifest.Manifest, idx []int, requests map[int]classify.Request, projects []string, descriptions map[string]string) passOutcome {
	var (
		mu      sync.Mutex
		outcome passOutcome
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Concurrency)

	for _, batch := range chunk(idx, e.config.BatchSize) {
		batch := batch
		g.Go(func() error {
			reqs := make([]classify.Request, 0, len(batch))
			for _, i := range batch {
				reqs = append(reqs, requests[i])
			}

			results, err := e.classifyWithRetry(ctx, reqs, projects, descriptions)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.logger.Warn("batch failed after retries, routing to review",
					zap.Int("batch_size", len(batch)), zap.Error(err))
				outcome.failedBatches++
				for _, i := range batch {
					m.Entries[i].Status = manifest.StatusNeedsReview
				}
				return nil
			}

			byID := make(map[string]classify.Result, len(results))
			for _, r := range results {
				byID[r.ID] = r
			}
			for _, i := range batch {
				entry := &m.Entries[i]
				result, ok := byID[entry.ID]
				if !ok {
					// Missing from the reply: tolerated, scored zero.
					e.logger.Warn("conversation missing from classification reply",
						zap.String("id", entry.ID))
					result = classify.Result{ID: entry.ID}
				}
				e.applyResult(entry, result)
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcome
}

// applyResult is one state-machine step: commit at or above threshold,
// otherwise record the score for the next stage.
func (e *Engine) applyResult(entry *manifest.Entry, result classify.Result) {
	confidence := result.Confidence
	entry.Confidence = &confidence
	entry.Rationale = result.Rationale
	entry.Project = result.Project
	entry.Tags = result.Tags

	if confidence >= e.config.Threshold {
		if result.Project == "" {
			entry.Status = manifest.StatusUnassigned
		} else {
			entry.Status = manifest.StatusAssigned
		}
		return
	}

	switch entry.Status {
	case manifest.StatusPass2Queued:
		entry.Status = manifest.StatusPass2Scored
	default:
		entry.Status = manifest.StatusPass1Scored
	}
}

// classifyWithRetry retries transient classifier failures with exponential
// backoff. Context cancellation is terminal.
func (e *Engine) classifyWithRetry(ctx context.Context, batch []classify.Request, projects []string, descriptions map[string]string) ([]classify.Result, error) {
	backoff := e.config.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		results, err := e.classifier.Classify(ctx, batch, projects, descriptions)
		if err == nil {
			return results, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Warn("classification call failed",
			zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return nil, lastErr
}

// describeProjects asks the classifier to summarize each project from
// conversations already assigned to it, when both are available.
func (e *Engine) describeProjects(ctx context.Context, entries []manifest.Entry, projects []string) map[string]string {
	describer, ok := e.classifier.(classify.ProjectDescriber)
	if !ok {
		return nil
	}

	const samplesPerProject = 8
	samples := make(map[string][]classify.Request)
	assigned := 0
	for _, entry := range entries {
		if entry.Project == "" || entry.Missing {
			continue
		}
		assigned++
		if len(samples[entry.Project]) < samplesPerProject {
			samples[entry.Project] = append(samples[entry.Project], e.requestFor(entry, ""))
		}
	}
	if assigned == 0 {
		return nil
	}

	descriptions, err := describer.DescribeProjects(ctx, projects, samples)
	if err != nil {
		e.logger.Warn("project description generation failed, proceeding without", zap.Error(err))
		return nil
	}
	return descriptions
}

func (e *Engine) requestFor(entry manifest.Entry, override string) classify.Request {
	snippet := override
	if snippet == "" {
		snippet = e.snippetFor(entry)
	}
	return classify.Request{ID: entry.ID, Title: entry.Title, Snippet: snippet}
}

func (e *Engine) snippetFor(entry manifest.Entry) string {
	if s, ok := e.Snippets[entry.ID]; ok && s != "" {
		return s
	}
	return entry.Preview
}

// synthesizeDescription builds the higher-signal pass-2 input from the
// entry's pass-1 rationale and content.
func synthesizeDescription(entry manifest.Entry, snippet string) string {
	var b strings.Builder
	b.WriteString("Title: " + entry.Title)
	if entry.Rationale != "" {
		proposal := entry.Project
		if proposal == "" {
			proposal = "unassigned"
		}
		confidence := 0
		if entry.Confidence != nil {
			confidence = int(*entry.Confidence * 100)
		}
		fmt.Fprintf(&b, "\nFirst-pass assessment: %s (proposed %q at %d%% confidence)",
			entry.Rationale, proposal, confidence)
	}
	if snippet != "" {
		b.WriteString("\nContent: " + snippet)
	}
	return b.String()
}

func resetEntry(entry *manifest.Entry) {
	entry.Project = ""
	entry.Tags = nil
	entry.Status = manifest.StatusUnprocessed
	entry.Confidence = nil
	entry.Rationale = ""
}

func collectReviewItems(entries []manifest.Entry) []ReviewItem {
	var items []ReviewItem
	for i, entry := range entries {
		if entry.Status != manifest.StatusNeedsReview {
			continue
		}
		confidence := 0.0
		if entry.Confidence != nil {
			confidence = *entry.Confidence
		}
		items = append(items, ReviewItem{
			Index:      i,
			ID:         entry.ID,
			Title:      entry.Title,
			Preview:    entry.Preview,
			Proposed:   entry.Project,
			Confidence: confidence,
			Rationale:  entry.Rationale,
		})
	}
	sort.SliceStable(items, func(a, b int) bool {
		return items[a].Confidence < items[b].Confidence
	})
	return items
}

func chunk(idx []int, size int) [][]int {
	var out [][]int
	for start := 0; start < len(idx); start += size {
		end := start + size
		if end > len(idx) {
			end = len(idx)
		}
		out = append(out, idx[start:end])
	}
	return out
}
