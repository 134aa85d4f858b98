// Package manifest manages the persisted, user-editable mapping from
// conversation to project, inclusion, and categorization state. The manifest
// is the only core state that outlives a run: it is read fully, mutated in
// memory, and rewritten atomically.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"chatport/internal/export"
)

// Status tracks an entry through the categorization state machine. Only
// Unprocessed, Assigned, Unassigned and NeedsReview are normally persisted;
// the pass states exist within a categorize run.
type Status string

const (
	StatusUnprocessed Status = "unprocessed"
	StatusPass1Scored Status = "pass1_scored"
	StatusPass2Queued Status = "pass2_queued"
	StatusPass2Scored Status = "pass2_scored"
	StatusNeedsReview Status = "needs_review"
	StatusAssigned    Status = "assigned"
	StatusUnassigned  Status = "unassigned"
)

// Terminal reports whether a status ends the state machine.
func (s Status) Terminal() bool {
	return s == StatusAssigned || s == StatusUnassigned
}

// Entry is one conversation's row in the manifest. Project, Tags and Include
// are user-editable between runs; scan refreshes the metadata fields and
// never touches the user-editable ones.
type Entry struct {
	ID           string   `yaml:"id"`
	Title        string   `yaml:"title"`
	Created      string   `yaml:"created"`
	Updated      string   `yaml:"updated"`
	MessageCount int      `yaml:"messages"`
	Model        string   `yaml:"model,omitempty"`
	Preview      string   `yaml:"preview,omitempty"`
	Project      string   `yaml:"project"`
	Tags         []string `yaml:"tags,omitempty"`
	Include      bool     `yaml:"include"`
	Status       Status   `yaml:"status"`
	Confidence   *float64 `yaml:"confidence,omitempty"`
	Rationale    string   `yaml:"rationale,omitempty"`

	// Missing flags an entry whose conversation is no longer found in the
	// export. Flagged entries are preserved so user edits are not lost.
	Missing bool `yaml:"missing,omitempty"`
}

// UnmarshalYAML applies field defaults: entries are included and unprocessed
// unless the file says otherwise.
func (e *Entry) UnmarshalYAML(value *yaml.Node) error {
	type rawEntry Entry
	raw := rawEntry{Include: true, Status: StatusUnprocessed}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*e = Entry(raw)
	return nil
}

// Manifest is the whole persisted file: a version header, the user's project
// list, and one entry per conversation.
type Manifest struct {
	Version  int      `yaml:"version"`
	Projects []string `yaml:"projects,omitempty"`
	Entries  []Entry  `yaml:"conversations"`
}

const timeLayout = "2006-01-02 15:04"

// BuildEntry converts a parsed conversation and its resolved messages into a
// fresh entry with defaults: no project, included, unprocessed.
func BuildEntry(conv *export.Conversation, messages []export.Message) Entry {
	created := "unknown"
	if !conv.CreateTime.IsZero() {
		created = conv.CreateTime.Format(timeLayout)
	}
	updated := "unknown"
	if !conv.UpdateTime.IsZero() {
		updated = conv.UpdateTime.Format(timeLayout)
	}
	return Entry{
		ID:           conv.ID,
		Title:        conv.Title,
		Created:      created,
		Updated:      updated,
		MessageCount: len(messages),
		Model:        conv.ModelSlug,
		Preview:      export.FirstUserText(messages, 150),
		Include:      true,
		Status:       StatusUnprocessed,
	}
}

// Merge reconciles a fresh scan with an existing manifest. Entries present
// in both keep the existing user-editable fields and categorization state
// while metadata is refreshed from the scan; newly discovered conversations
// are appended with defaults; entries whose conversation disappeared from
// the export are kept and flagged Missing.
func Merge(existing, fresh []Entry) []Entry {
	existingByID := make(map[string]Entry, len(existing))
	for _, e := range existing {
		existingByID[e.ID] = e
	}

	merged := make([]Entry, 0, len(fresh))
	seen := make(map[string]bool, len(fresh))
	for _, entry := range fresh {
		seen[entry.ID] = true
		if old, ok := existingByID[entry.ID]; ok {
			entry.Project = old.Project
			entry.Tags = old.Tags
			entry.Include = old.Include
			entry.Status = old.Status
			entry.Confidence = old.Confidence
			entry.Rationale = old.Rationale
		}
		merged = append(merged, entry)
	}

	for _, old := range existing {
		if seen[old.ID] {
			continue
		}
		old.Missing = true
		merged = append(merged, old)
	}
	return merged
}

// Load reads a manifest file. A missing or unreadable file is an error; the
// caller decides whether that aborts the command.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return &m, nil
}

// Save writes the manifest atomically (temp file + rename), with entries
// sorted newest first so recent conversations sit at the top of the file.
func Save(m *Manifest, path string) error {
	if m.Version == 0 {
		m.Version = 1
	}
	sort.SliceStable(m.Entries, func(i, j int) bool {
		return m.Entries[i].Created > m.Entries[j].Created
	})

	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp manifest: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp manifest: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace manifest %s: %w", path, err)
	}
	return nil
}

// MissingIDs lists entries flagged as no longer present in the export.
func MissingIDs(entries []Entry) []string {
	var ids []string
	for _, e := range entries {
		if e.Missing {
			ids = append(ids, e.ID)
		}
	}
	return ids
}
