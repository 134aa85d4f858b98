package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"chatport/internal/config"
	"chatport/internal/logging"
)

var (
	// Global flags
	verbose   bool
	workspace string

	// Logger
	logger *zap.Logger

	// Loaded configuration
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "chatport",
	Short: "chatport - Convert ChatGPT data exports into portable documents",
	Long: `chatport reconstructs readable documents from a ChatGPT data export.

The export stores each conversation as a branching message tree with
heterogeneous content blocks. chatport resolves each tree into the linear
conversation you actually saw, renders it to markdown, resolves image
pointers against the export's asset pool, and can group conversations into
your own projects using Gemini-backed categorization.

Typical workflow:
  chatport scan --export-dir ./export            # build manifest.yaml
  chatport categorize --projects "Coding,Health" # assign projects
  chatport generate --export-dir ./export        # write documents`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		zcfg.Encoding = "console"
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(workspace)
		if err != nil {
			return err
		}
		return logging.Initialize(workspace, cfg.Logging.DebugMode || verbose)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Close()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "Workspace directory holding .chatport/")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(categorizeCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(showCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
