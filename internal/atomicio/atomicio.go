// Package atomicio provides crash-safe file writes: marshal, write to a
// sibling temp file, then rename over the destination. Every persisted
// artifact outside the state store (queue file, item-size inventory,
// active-chunk lock, chunk inputs/prompts, chunks manifest) goes through
// this helper, the same way the teacher's file-backed queues persist
// their snapshots.
package atomicio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WriteFile writes data to path atomically: write to path+".tmp", then
// rename over path. The destination directory is created if absent.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("atomicio: mkdir for %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("atomicio: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("atomicio: rename %s to %s: %w", tmp, path, err)
	}
	return nil
}

// WriteJSON marshals v and writes it atomically to path.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("atomicio: marshal %s: %w", path, err)
	}
	return WriteFile(path, data, 0o644)
}

// AppendLine appends a single line (a newline is added) to path,
// creating it if absent. Used for line-delimited queue/manifest files
// where full atomic rewrite on every append would be wasteful; callers
// that need crash-safety across the whole file use WriteFile/WriteJSON
// with a full rewrite instead.
func AppendLine(path string, line string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("atomicio: mkdir for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("atomicio: open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("atomicio: append %s: %w", path, err)
	}
	return nil
}

// ReadJSON reads and unmarshals the JSON file at path into v. It returns
// (false, nil) if the file does not exist.
func ReadJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("atomicio: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("atomicio: unmarshal %s: %w", path, err)
	}
	return true, nil
}

// ReadFileIfExists reads path, returning nil data (not an error) if it
// does not exist.
func ReadFileIfExists(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("atomicio: read %s: %w", path, err)
	}
	return data, nil
}

// Remove deletes path if present; absence is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("atomicio: remove %s: %w", path, err)
	}
	return nil
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
