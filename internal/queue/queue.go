// Package queue builds the fold queue: adapter entries merged, sorted,
// optionally filtered by start date, and written as line-delimited
// records plus a separate unfiltered size inventory.
package queue

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/rajeshgoli/engram/internal/adapters"
	"github.com/rajeshgoli/engram/internal/atomicio"
	"github.com/rajeshgoli/engram/internal/engerr"
)

// Item is one line-delimited queue record.
type Item struct {
	Date     string `json:"date"`
	Rendered string `json:"rendered"`
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	Size     int    `json:"size"`
}

// InventoryEntry is one line of the unfiltered item-size inventory,
// useful for drift reasoning regardless of whatever start_date filter
// was applied to the queue itself.
type InventoryEntry struct {
	Date string `json:"date"`
	Path string `json:"path"`
	Kind string `json:"kind"`
	Size int    `json:"size"`
}

// ValidateStartDate enforces the strict YYYY-MM-DD shape: exactly ten
// characters, parseable as a calendar date. An ISO-datetime string would
// otherwise silently exclude same-day entries under prefix comparison.
func ValidateStartDate(startDate string) error {
	if startDate == "" {
		return nil
	}
	if len(startDate) != 10 {
		return fmt.Errorf("queue: start_date %q must be exactly YYYY-MM-DD: %w", startDate, engerr.ErrInvalidStartDate)
	}
	if _, err := time.Parse("2006-01-02", startDate); err != nil {
		return fmt.Errorf("queue: start_date %q is not a valid date: %w", startDate, engerr.ErrInvalidStartDate)
	}
	return nil
}

// Build merges entries from every adapter, sorts ascending by date,
// optionally filters by startDate, writes surviving session markdown to
// draftDir, and writes the queue plus the unfiltered inventory to disk.
func Build(entries []adapters.Entry, startDate, queuePath, inventoryPath, draftDir string) ([]Item, error) {
	if err := ValidateStartDate(startDate); err != nil {
		return nil, err
	}

	sorted := make([]adapters.Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date < sorted[j].Date })

	inventory := make([]InventoryEntry, 0, len(sorted))
	for _, e := range sorted {
		inventory = append(inventory, InventoryEntry{Date: e.Date, Path: e.Path, Kind: e.Kind, Size: len(e.Rendered)})
	}
	if err := writeInventory(inventoryPath, inventory); err != nil {
		return nil, err
	}

	var items []Item
	for _, e := range sorted {
		if startDate != "" && e.Date < startDate {
			continue
		}
		if e.Kind == "session" {
			draftPath := filepath.Join(draftDir, sessionDraftName(e))
			if err := atomicio.WriteFile(draftPath, []byte(e.Rendered), 0o644); err != nil {
				return nil, fmt.Errorf("queue: write session draft %s: %w", draftPath, err)
			}
		}
		items = append(items, Item{Date: e.Date, Rendered: e.Rendered, Path: e.Path, Kind: e.Kind, Size: len(e.Rendered)})
	}

	if err := writeQueueFile(queuePath, items); err != nil {
		return nil, err
	}
	return items, nil
}

func sessionDraftName(e adapters.Entry) string {
	return fmt.Sprintf("session_%s_%x.md", e.Date, hashPath(e.Path))
}

func hashPath(path string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(path); i++ {
		h ^= uint32(path[i])
		h *= 16777619
	}
	return h
}

func writeQueueFile(path string, items []Item) error {
	if err := atomicio.Remove(path); err != nil {
		return fmt.Errorf("queue: clear stale queue file %s: %w", path, err)
	}
	for _, item := range items {
		line, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("queue: marshal item: %w", err)
		}
		if err := atomicio.AppendLine(path, string(line)); err != nil {
			return fmt.Errorf("queue: append queue item: %w", err)
		}
	}
	return nil
}

func writeInventory(path string, inventory []InventoryEntry) error {
	if err := atomicio.Remove(path); err != nil {
		return fmt.Errorf("queue: clear stale inventory file %s: %w", path, err)
	}
	for _, entry := range inventory {
		line, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("queue: marshal inventory entry: %w", err)
		}
		if err := atomicio.AppendLine(path, string(line)); err != nil {
			return fmt.Errorf("queue: append inventory entry: %w", err)
		}
	}
	return nil
}

// RewriteQueueFile replaces path's contents with remainder, used by the
// scheduler to drop consumed items after assembling a fold chunk.
func RewriteQueueFile(path string, remainder []Item) error {
	return writeQueueFile(path, remainder)
}

// AppendNew merges entries into the existing queue and inventory at
// queuePath/inventoryPath, skipping any entry whose (path, date) pair
// already appears in the inventory. Unlike Build, this never rewrites
// or reorders what is already on disk — only the scheduler's chunk
// assembly is allowed to shrink the queue file (via RewriteQueueFile).
// This is what the server loop's poll uses to grow the queue as new
// artifacts appear, without resurrecting items an earlier chunk already
// consumed. Returns the entries actually appended.
func AppendNew(entries []adapters.Entry, queuePath, inventoryPath, draftDir string) ([]adapters.Entry, error) {
	existing, err := ReadInventoryFile(inventoryPath)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(existing))
	for _, e := range existing {
		seen[inventoryKey(e.Path, e.Date)] = true
	}

	sorted := make([]adapters.Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date < sorted[j].Date })

	var fresh []adapters.Entry
	var freshItems []Item
	var freshInventory []InventoryEntry
	for _, e := range sorted {
		if seen[inventoryKey(e.Path, e.Date)] {
			continue
		}
		seen[inventoryKey(e.Path, e.Date)] = true
		fresh = append(fresh, e)
		freshInventory = append(freshInventory, InventoryEntry{Date: e.Date, Path: e.Path, Kind: e.Kind, Size: len(e.Rendered)})

		if e.Kind == "session" {
			draftPath := filepath.Join(draftDir, sessionDraftName(e))
			if err := atomicio.WriteFile(draftPath, []byte(e.Rendered), 0o644); err != nil {
				return nil, fmt.Errorf("queue: write session draft %s: %w", draftPath, err)
			}
		}
		freshItems = append(freshItems, Item{Date: e.Date, Rendered: e.Rendered, Path: e.Path, Kind: e.Kind, Size: len(e.Rendered)})
	}

	if err := appendQueueFile(queuePath, freshItems); err != nil {
		return nil, err
	}
	if err := appendInventoryFile(inventoryPath, freshInventory); err != nil {
		return nil, err
	}
	return fresh, nil
}

func inventoryKey(path, date string) string {
	return path + "|" + date
}

func appendQueueFile(path string, items []Item) error {
	for _, item := range items {
		line, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("queue: marshal item: %w", err)
		}
		if err := atomicio.AppendLine(path, string(line)); err != nil {
			return fmt.Errorf("queue: append queue item: %w", err)
		}
	}
	return nil
}

func appendInventoryFile(path string, inventory []InventoryEntry) error {
	for _, entry := range inventory {
		line, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("queue: marshal inventory entry: %w", err)
		}
		if err := atomicio.AppendLine(path, string(line)); err != nil {
			return fmt.Errorf("queue: append inventory entry: %w", err)
		}
	}
	return nil
}

// ReadQueueFile reads a line-delimited queue file back into items, in
// file order (already chronological by construction).
func ReadQueueFile(path string) ([]Item, error) {
	return readLines[Item](path)
}

// ReadInventoryFile reads a line-delimited inventory file back into
// entries, in file order.
func ReadInventoryFile(path string) ([]InventoryEntry, error) {
	return readLines[InventoryEntry](path)
}
