package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chatport/internal/categorize"
	"chatport/internal/classify"
	"chatport/internal/export"
	"chatport/internal/logging"
	"chatport/internal/manifest"
)

var (
	catManifest  string
	catExportDir string
	catProjects  string
	catBatchSize int
	catThreshold float64
	catForce     bool
	catDryRun    bool
	catNoReview  bool
)

var categorizeCmd = &cobra.Command{
	Use:   "categorize",
	Short: "Assign conversations to projects using Gemini",
	Long: `Categorizes manifest entries into your projects with a two-pass protocol:
pass 1 scores raw content snippets; entries below the confidence threshold
get a richer synthesized description and a second pass; entries still
uncertain go to an interactive review where you accept, reassign, or leave
each one unassigned.

The project list comes from the manifest's projects: key or --projects.
Pass --export-dir to ground classification in conversation content rather
than title previews.`,
	RunE: runCategorize,
}

func init() {
	categorizeCmd.Flags().StringVarP(&catManifest, "manifest", "m", "manifest.yaml", "Path to the manifest file")
	categorizeCmd.Flags().StringVar(&catExportDir, "export-dir", "", "Export directory for content snippets (optional)")
	categorizeCmd.Flags().StringVar(&catProjects, "projects", "", "Comma-separated project names (overrides manifest projects)")
	categorizeCmd.Flags().IntVar(&catBatchSize, "batch-size", 0, "Conversations per classification call (default from config)")
	categorizeCmd.Flags().Float64Var(&catThreshold, "threshold", 0, "Acceptance confidence in (0,1] (default from config)")
	categorizeCmd.Flags().BoolVar(&catForce, "force", false, "Re-categorize conversations that already have a project")
	categorizeCmd.Flags().BoolVar(&catDryRun, "dry-run", false, "Show what would be submitted without calling the API")
	categorizeCmd.Flags().BoolVar(&catNoReview, "no-review", false, "Skip the interactive review stage")
}

func runCategorize(cmd *cobra.Command, args []string) error {
	catLog := logging.Get(logging.CategoryCategorize)

	m, err := manifest.Load(catManifest)
	if err != nil {
		return err
	}

	projects := splitProjects(catProjects)
	if len(projects) == 0 {
		projects = m.Projects
	}
	if len(projects) == 0 {
		return errors.New(`no projects defined: add a "projects:" list to the manifest or pass --projects "Project1, Project2"`)
	}

	engineCfg := categorize.DefaultConfig()
	engineCfg.BatchSize = cfg.Categorize.BatchSize
	engineCfg.Threshold = cfg.Categorize.Threshold
	engineCfg.Concurrency = cfg.Categorize.Concurrency
	if catBatchSize > 0 {
		engineCfg.BatchSize = catBatchSize
	}
	if catThreshold > 0 {
		engineCfg.Threshold = catThreshold
	}
	engineCfg.Force = catForce
	engineCfg.DryRun = catDryRun

	var classifier classify.Classifier
	if !catDryRun {
		gc, err := classify.NewGeminiClassifier(cmd.Context(), classify.GeminiConfig{
			APIKey:            cfg.LLM.APIKey,
			Model:             cfg.LLM.Model,
			RequestsPerMinute: cfg.LLM.RequestsPerMinute,
		})
		if err != nil {
			return err
		}
		classifier = gc
	}

	engine, err := categorize.NewEngine(classifier, engineCfg, logger)
	if err != nil {
		return err
	}

	if catExportDir != "" {
		snippets, err := loadSnippets(catExportDir)
		if err != nil {
			return err
		}
		fmt.Println(dimStyle.Render(fmt.Sprintf("Loaded content snippets for %d conversations", len(snippets))))
		engine.Snippets = snippets
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	fmt.Println(titleStyle.Render("Projects: ") + strings.Join(projects, ", "))

	summary, err := engine.Run(ctx, m, projects)
	if err != nil {
		return err
	}
	catLog.Info("run complete: eligible=%d assigned=%d unassigned=%d review=%d failed_batches=%d",
		summary.Eligible, summary.Assigned, summary.Unassigned, len(summary.NeedsReview), summary.FailedBatches)

	if catDryRun {
		fmt.Println()
		fmt.Println(warnStyle.Render("Dry run — no API calls were made."))
		fmt.Printf("Eligible conversations: %d in %d batch(es) of up to %d\n",
			summary.Eligible, len(summary.Planned), engineCfg.BatchSize)
		for i, batch := range summary.Planned {
			fmt.Printf("  Batch %d:\n", i+1)
			for _, id := range batch.IDs {
				short := id
				if len(short) > 8 {
					short = short[:8]
				}
				fmt.Println(dimStyle.Render("    " + short))
			}
		}
		return nil
	}

	if summary.Eligible == 0 {
		fmt.Println(okStyle.Render("All conversations already categorized.") + " Use --force to re-categorize.")
		return nil
	}

	m.Projects = projects
	if err := manifest.Save(m, catManifest); err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(okStyle.Render("Categorization complete!"))
	fmt.Printf("  Assigned: %d\n", summary.Assigned)
	fmt.Printf("  No fit: %d\n", summary.Unassigned)
	fmt.Printf("  Needed a second pass: %d\n", summary.SecondPass)
	if summary.FailedBatches > 0 {
		fmt.Println(warnStyle.Render(fmt.Sprintf("  Failed batches routed to review: %d", summary.FailedBatches)))
	}

	if len(summary.NeedsReview) == 0 || catNoReview {
		if len(summary.NeedsReview) > 0 {
			fmt.Println(warnStyle.Render(fmt.Sprintf("  Needs review (skipped): %d", len(summary.NeedsReview))))
		}
		return nil
	}

	changed, err := reviewLoop(m, projects, summary.NeedsReview)
	if err != nil {
		return err
	}
	if changed {
		if err := manifest.Save(m, catManifest); err != nil {
			return err
		}
		fmt.Println(okStyle.Render("Manifest saved."))
	}
	return nil
}

// reviewLoop presents needs_review entries one at a time, blocking on stdin.
// Each decision is applied immediately; quitting leaves the remainder at
// needs_review with already-decided entries committed.
func reviewLoop(m *manifest.Manifest, projects []string, items []categorize.ReviewItem) (bool, error) {
	fmt.Println()
	fmt.Println(warnStyle.Render(fmt.Sprintf("Needs review (%d): these assignments stayed uncertain after both passes.", len(items))))

	scanner := bufio.NewScanner(os.Stdin)
	changed := false

	for idx, item := range items {
		entry := &m.Entries[item.Index]

		fmt.Println()
		fmt.Printf("%s %s\n", dimStyle.Render(fmt.Sprintf("(%d/%d)", idx+1, len(items))), titleStyle.Render(item.Title))
		if item.Preview != "" {
			fmt.Println(dimStyle.Render("  " + truncate(item.Preview, 100)))
		}
		if item.Rationale != "" {
			fmt.Println(dimStyle.Render("  " + item.Rationale))
		}
		fmt.Println()
		for i, p := range projects {
			marker := ""
			if p == item.Proposed {
				marker = accentStyle.Render(" ◀")
			}
			fmt.Printf("    [%d] %s%s\n", i+1, p, marker)
		}
		fmt.Println("    [s] Leave unassigned")
		proposed := item.Proposed
		if proposed == "" {
			proposed = "unassigned"
		}
		fmt.Printf("    [Enter] Accept suggestion (%s, %d%%)\n", accentStyle.Render(proposed), int(item.Confidence*100))
		fmt.Println("    [q] Stop reviewing")

		for {
			fmt.Print("  Choice: ")
			if !scanner.Scan() {
				// EOF: stop before the next entry, like quit.
				return changed, scanner.Err()
			}
			choice := strings.ToLower(strings.TrimSpace(scanner.Text()))

			if choice == "q" {
				return changed, nil
			}
			if choice == "" {
				*entry = categorize.ApplyReview(*entry, categorize.Decision{Action: categorize.ActionAccept})
				changed = true
				break
			}
			if choice == "s" {
				*entry = categorize.ApplyReview(*entry, categorize.Decision{Action: categorize.ActionUnassign})
				changed = true
				break
			}
			if n, err := strconv.Atoi(choice); err == nil && n >= 1 && n <= len(projects) {
				*entry = categorize.ApplyReview(*entry, categorize.Decision{
					Action:  categorize.ActionReassign,
					Project: projects[n-1],
				})
				changed = true
				break
			}
			fmt.Println(errStyle.Render("  Invalid choice."))
		}
	}
	return changed, nil
}

// loadSnippets extracts user-message text per conversation for
// classification grounding.
func loadSnippets(exportDir string) (map[string]string, error) {
	convPath, err := export.FindConversationsFile(exportDir)
	if err != nil {
		return nil, err
	}
	records, err := export.LoadFile(convPath)
	if err != nil {
		return nil, err
	}

	const maxChars = 500
	snippets := make(map[string]string, len(records))
	for _, record := range records {
		conv, err := export.Parse(record)
		if err != nil {
			// Malformed conversations simply contribute no snippet.
			logger.Debug("snippet extraction skipped conversation", zap.Error(err))
			continue
		}
		res := export.Resolve(conv)
		if s := export.UserSnippet(res.Messages, maxChars); s != "" {
			snippets[conv.ID] = s
		}
	}
	return snippets, nil
}
