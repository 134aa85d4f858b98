package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chatport/internal/export"
	"chatport/internal/logging"
	"chatport/internal/manifest"
)

var (
	scanExportDir string
	scanManifest  string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan a ChatGPT export and build the manifest",
	Long: `Scans the export's conversations.json and writes manifest.yaml: one entry
per conversation with metadata, an empty project field, and include: true.

Re-running scan against an existing manifest merges: your project, include
and categorization edits are preserved, metadata is refreshed, and entries
whose conversation disappeared from the export are flagged missing rather
than dropped.`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanExportDir, "export-dir", "", "Path to the ChatGPT export directory (required)")
	scanCmd.Flags().StringVarP(&scanManifest, "manifest", "m", "manifest.yaml", "Output path for the manifest file")
	_ = scanCmd.MarkFlagRequired("export-dir")
}

func runScan(cmd *cobra.Command, args []string) error {
	scanLog := logging.Get(logging.CategoryScan)

	convPath, err := export.FindConversationsFile(scanExportDir)
	if err != nil {
		return err
	}
	logger.Info("loading export", zap.String("path", convPath))

	records, err := export.LoadFile(convPath)
	if err != nil {
		return err
	}

	var (
		entries      []manifest.Entry
		formatErrors int
		fallbacks    int
	)
	for _, record := range records {
		conv, err := export.Parse(record)
		if err != nil {
			var fe *export.FormatError
			if errors.As(err, &fe) {
				formatErrors++
				scanLog.Warn("skipping conversation: %v", fe)
				logger.Warn("skipping malformed conversation", zap.Error(fe))
				continue
			}
			return err
		}
		res := export.Resolve(conv)
		if res.ViaFallback {
			fallbacks++
			scanLog.Warn("conversation %s resolved via newest-child fallback", conv.ID)
		}
		entries = append(entries, manifest.BuildEntry(conv, res.Messages))
	}

	m := &manifest.Manifest{Version: 1, Entries: entries}
	if _, err := os.Stat(scanManifest); err == nil {
		existing, err := manifest.Load(scanManifest)
		if err != nil {
			return err
		}
		fmt.Println(warnStyle.Render("Merging with existing manifest: " + scanManifest))
		m.Projects = existing.Projects
		m.Entries = manifest.Merge(existing.Entries, entries)
	}

	if err := manifest.Save(m, scanManifest); err != nil {
		return err
	}

	included := 0
	withProject := 0
	for _, e := range m.Entries {
		if e.Include {
			included++
		}
		if e.Project != "" {
			withProject++
		}
	}

	fmt.Println()
	fmt.Println(okStyle.Render("Manifest written: " + scanManifest))
	fmt.Printf("  Conversations: %d\n", len(m.Entries))
	fmt.Printf("  Included: %d\n", included)
	fmt.Printf("  With project assigned: %d\n", withProject)
	if missing := manifest.MissingIDs(m.Entries); len(missing) > 0 {
		fmt.Println(warnStyle.Render(fmt.Sprintf("  No longer in export (kept, flagged): %d", len(missing))))
	}
	if formatErrors > 0 {
		fmt.Println(warnStyle.Render(fmt.Sprintf("  Skipped malformed conversations: %d", formatErrors)))
	}
	if fallbacks > 0 {
		fmt.Println(dimStyle.Render(fmt.Sprintf("  Resolved via fallback heuristic: %d", fallbacks)))
	}
	fmt.Println()
	fmt.Println(dimStyle.Render(`Next, categorize conversations into projects:
  chatport categorize --projects "Project1, Project2, ..."`))
	return nil
}
