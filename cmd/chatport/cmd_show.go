package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

var showWidth int

var showCmd = &cobra.Command{
	Use:   "show [document.md]",
	Short: "Render a generated document in the terminal",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	showCmd.Flags().IntVar(&showWidth, "width", 100, "Word-wrap width")
}

func runShow(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(showWidth),
	)
	if err != nil {
		return fmt.Errorf("failed to create renderer: %w", err)
	}

	out, err := renderer.Render(string(data))
	if err != nil {
		return fmt.Errorf("failed to render %s: %w", args[0], err)
	}
	fmt.Print(out)
	return nil
}
