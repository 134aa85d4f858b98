package main

import (
	"path/filepath"
	"strings"
)

// exportRootOf returns the directory that actually holds conversations.json;
// the asset pool lives next to it.
func exportRootOf(conversationsPath string) string {
	return filepath.Dir(conversationsPath)
}

// splitProjects parses a comma-separated project list.
func splitProjects(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// truncate shortens a string for one-line display.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
