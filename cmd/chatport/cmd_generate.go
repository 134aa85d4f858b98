package main

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chatport/internal/assets"
	"chatport/internal/export"
	"chatport/internal/logging"
	"chatport/internal/manifest"
	"chatport/internal/render"
)

var (
	genExportDir       string
	genManifest        string
	genOutputDir       string
	genFormat          string
	genIncludeThoughts bool
	genParallel        int
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate markdown documents from the manifest",
	Long: `Generates one document per conversation marked include: true, grouped into
per-project folders (unassigned conversations land in _unsorted).

Formats:
  dir      - markdown file plus copied image files per conversation folder
  embedded - single self-contained markdown file with inlined images

Failures local to one conversation are reported and counted; the run
continues and still exits zero.`,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVar(&genExportDir, "export-dir", "", "Path to the ChatGPT export directory (required)")
	generateCmd.Flags().StringVarP(&genManifest, "manifest", "m", "manifest.yaml", "Path to the manifest file")
	generateCmd.Flags().StringVarP(&genOutputDir, "output-dir", "o", "output", "Output directory")
	generateCmd.Flags().StringVar(&genFormat, "format", "", "Output format: dir or embedded (default from config)")
	generateCmd.Flags().BoolVar(&genIncludeThoughts, "include-thoughts", false, "Include thinking blocks in output")
	generateCmd.Flags().IntVar(&genParallel, "parallel", 4, "Conversations rendered concurrently")
	_ = generateCmd.MarkFlagRequired("export-dir")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	renderLog := logging.Get(logging.CategoryRender)
	assetLog := logging.Get(logging.CategoryAssets)

	convPath, err := export.FindConversationsFile(genExportDir)
	if err != nil {
		return err
	}

	m, err := manifest.Load(genManifest)
	if err != nil {
		return err
	}

	included := make(map[string]manifest.Entry)
	for _, e := range m.Entries {
		if e.Include && !e.Missing {
			included[e.ID] = e
		}
	}
	if len(included) == 0 {
		return fmt.Errorf("no conversations marked include: true in %s", genManifest)
	}

	format := genFormat
	if format == "" {
		format = cfg.Output.Format
	}
	var writer render.Writer
	switch format {
	case "dir":
		writer = &render.DirWriter{Root: genOutputDir}
	case "embedded":
		writer = &render.EmbeddedWriter{Root: genOutputDir}
	default:
		return fmt.Errorf("unknown output format %q (want dir or embedded)", format)
	}

	records, err := export.LoadFile(convPath)
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("Generating %s output for %d conversations", format, len(included))))
	fmt.Println(dimStyle.Render("Indexing asset files..."))

	// conversations.json lives at the export root, next to the asset pool.
	index, err := assets.BuildIndex(exportRootOf(convPath))
	if err != nil {
		return err
	}
	fmt.Println(dimStyle.Render(fmt.Sprintf("Indexed %d asset files", index.Len())))

	opts := render.Options{IncludeThoughts: genIncludeThoughts || cfg.Output.IncludeThoughts}

	var (
		mu           sync.Mutex
		generated    int
		failed       int
		unresolved   int
		unknownKinds int
		fallbacks    int
	)

	// Per-conversation state is independent; only the read-only asset index
	// is shared, so conversations render in parallel.
	g := new(errgroup.Group)
	g.SetLimit(genParallel)

	for _, record := range records {
		record := record
		g.Go(func() error {
			conv, err := export.Parse(record)
			if err != nil {
				var fe *export.FormatError
				if errors.As(err, &fe) {
					if _, ok := included[fe.ConversationID]; !ok {
						return nil
					}
					mu.Lock()
					failed++
					mu.Unlock()
					renderLog.Error("format error: %v", fe)
					fmt.Println(errStyle.Render("  ✗ " + fe.Error()))
					return nil
				}
				mu.Lock()
				failed++
				mu.Unlock()
				logger.Warn("undecodable conversation record", zap.Error(err))
				return nil
			}

			entry, ok := included[conv.ID]
			if !ok {
				return nil
			}

			res := export.Resolve(conv)
			renderer := render.NewRenderer(opts, assets.NewResolver(index))
			doc := render.BuildDocument(conv, res.Messages, renderer)

			folder := entry.Project
			if folder == "" {
				folder = "_unsorted"
			} else {
				folder = render.Slugify(folder, 60)
			}

			path, err := writer.Write(doc, folder)

			mu.Lock()
			defer mu.Unlock()
			if res.ViaFallback {
				fallbacks++
			}
			unresolved += doc.Unresolved
			unknownKinds += len(doc.UnknownKinds)
			for _, kind := range doc.UnknownKinds {
				renderLog.Warn("unknown content kind %q in conversation %s", kind, conv.ID)
			}
			if doc.Unresolved > 0 {
				assetLog.Warn("%d unresolved asset pointer(s) in conversation %s", doc.Unresolved, conv.ID)
			}
			if err != nil {
				failed++
				fmt.Println(errStyle.Render(fmt.Sprintf("  ✗ %.50s: %v", conv.Title, err)))
				return nil
			}
			generated++
			if verbose {
				fmt.Println(okStyle.Render("  ✓ ") + path)
			}
			return nil
		})
	}
	_ = g.Wait()

	fmt.Println()
	fmt.Println(okStyle.Render("Done!"))
	fmt.Printf("  Generated: %d\n", generated)
	if failed > 0 {
		fmt.Println(errStyle.Render(fmt.Sprintf("  Failed: %d", failed)))
	}
	if unresolved > 0 {
		fmt.Println(warnStyle.Render(fmt.Sprintf("  Unresolved asset pointers: %d (placeholders emitted)", unresolved)))
	}
	if unknownKinds > 0 {
		fmt.Println(warnStyle.Render(fmt.Sprintf("  Unknown content kinds rendered as text: %d", unknownKinds)))
	}
	if fallbacks > 0 {
		fmt.Println(dimStyle.Render(fmt.Sprintf("  Resolved via fallback heuristic: %d", fallbacks)))
	}
	fmt.Printf("  Output: %s\n", genOutputDir)
	return nil
}
