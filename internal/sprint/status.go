// Package sprint reads the externally-owned sprint status document.
//
// The orchestrator never writes this file: the Claude sessions it launches
// own every status transition. All queries here are read-only and every read
// takes a fresh snapshot, since the document may change under us while a
// session is running.
package sprint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Status is the closed set of story states written by the Claude workflows.
// Anything outside this vocabulary decodes to StatusUnknown so drift in the
// document shows up at the decision points instead of silently matching.
type Status string

const (
	StatusBacklog     Status = "backlog"
	StatusReadyForDev Status = "ready-for-dev"
	StatusInProgress  Status = "in-progress"
	StatusReview      Status = "review"
	StatusDone        Status = "done"
	StatusUnknown     Status = "unknown"
)

// ParseStatus maps a raw document value onto the closed vocabulary
func ParseStatus(raw string) Status {
	switch Status(raw) {
	case StatusBacklog, StatusReadyForDev, StatusInProgress, StatusReview, StatusDone:
		return Status(raw)
	default:
		return StatusUnknown
	}
}

// actionablePriority orders the next-story search: stories already moving
// through the workflow win over untouched backlog entries.
var actionablePriority = []Status{StatusInProgress, StatusReview, StatusReadyForDev, StatusBacklog}

var (
	storyKeyRE   = regexp.MustCompile(`^\d+-\d+-`)
	storyCountRE = regexp.MustCompile(`^\d+-\d+-.+`)
	// The $ anchor excludes suffixed variants like "epic-1-retrospective"
	epicKeyRE = regexp.MustCompile(`^epic-\d+$`)
)

// Entry is one key/status pair from the development_status mapping
type Entry struct {
	Key    string
	Status Status

	// RawStatus preserves the document value even when it falls outside
	// the known vocabulary.
	RawStatus string
}

// Document is an ordered snapshot of the status document. Iteration order
// matches the order keys appear in the file.
type Document struct {
	entries []Entry
	index   map[string]int
}

// Load reads and parses the status document at path
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Decode through yaml.Node to keep the file's key order; a plain map
	// would randomize iteration and break tie-breaking between stories.
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	doc := &Document{index: make(map[string]int)}
	mapping := findMapping(&root, "development_status")
	if mapping == nil {
		return doc, nil
	}

	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key := mapping.Content[i].Value
		raw := mapping.Content[i+1].Value
		doc.index[key] = len(doc.entries)
		doc.entries = append(doc.entries, Entry{
			Key:       key,
			Status:    ParseStatus(raw),
			RawStatus: raw,
		})
	}
	return doc, nil
}

// retryDelay is how long LoadWithRetry waits before its single re-attempt
const retryDelay = 500 * time.Millisecond

// LoadWithRetry loads the document, re-attempting exactly once after a short
// delay when the first read fails to parse. The Claude session owns the file
// and may be mid-write when we read it; one retry absorbs that window. A
// missing file is not retried, and a second failure propagates.
func LoadWithRetry(ctx context.Context, path string) (*Document, error) {
	doc, err := Load(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return doc, err
	}

	select {
	case <-time.After(retryDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return Load(path)
}

// StoryStatus returns the status recorded for key, or StatusUnknown
func (d *Document) StoryStatus(key string) Status {
	if i, ok := d.index[key]; ok {
		return d.entries[i].Status
	}
	return StatusUnknown
}

// NextActionable returns the highest-priority story to work on next.
// Priority: in-progress > review > ready-for-dev > backlog, first match in
// document order within each tier. ok is false when nothing is actionable.
func (d *Document) NextActionable() (key string, status Status, ok bool) {
	for _, target := range actionablePriority {
		for _, e := range d.entries {
			if storyKeyRE.MatchString(e.Key) && e.Status == target {
				return e.Key, target, true
			}
		}
	}
	return "", StatusUnknown, false
}

// DoneStories returns every story key marked done, sorted by (epic, story)
// descending so the most recently sequenced story comes first.
func (d *Document) DoneStories() []string {
	var keys []string
	for _, e := range d.entries {
		if storyKeyRE.MatchString(e.Key) && e.Status == StatusDone {
			keys = append(keys, e.Key)
		}
	}

	sort.SliceStable(keys, func(i, j int) bool {
		ei, si := storyNumbers(keys[i])
		ej, sj := storyNumbers(keys[j])
		if ei != ej {
			return ei > ej
		}
		return si > sj
	})
	return keys
}

// CountEpics returns (total, done) for epic-level keys
func (d *Document) CountEpics() (total, done int) {
	for _, e := range d.entries {
		if epicKeyRE.MatchString(e.Key) {
			total++
			if e.Status == StatusDone {
				done++
			}
		}
	}
	return total, done
}

// CountStories returns (total, done) for story keys
func (d *Document) CountStories() (total, done int) {
	for _, e := range d.entries {
		if storyCountRE.MatchString(e.Key) {
			total++
			if e.Status == StatusDone {
				done++
			}
		}
	}
	return total, done
}

// StoryID extracts the epic.story identifier from a story key
// (e.g. "1-3-stock-search" -> "1.3"). Keys without two numeric leading
// segments are returned unchanged.
func StoryID(key string) string {
	parts := strings.SplitN(key, "-", 3)
	if len(parts) >= 2 {
		return parts[0] + "." + parts[1]
	}
	return key
}

func storyNumbers(key string) (epic, story int) {
	parts := strings.Split(key, "-")
	if len(parts) < 2 {
		return 0, 0
	}
	epic, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0
	}
	story, err = strconv.Atoi(parts[1])
	if err != nil {
		return epic, 0
	}
	return epic, story
}

// findMapping walks the YAML document for a top-level mapping under key
func findMapping(root *yaml.Node, key string) *yaml.Node {
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil
	}
	top := root.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(top.Content); i += 2 {
		if top.Content[i].Value == key && top.Content[i+1].Kind == yaml.MappingNode {
			return top.Content[i+1]
		}
	}
	return nil
}
