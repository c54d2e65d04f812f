package statemirror

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rajeshgoli/engram/internal/atomicio"
)

func init() {
	Register("file", func(dsn string) (Backend, error) { return newFileBackend(dsn) })
	Register("", func(dsn string) (Backend, error) { return newFileBackend(dsn) })
}

// fileBackend persists the snapshot as a single JSON file, written with
// the tmp-then-rename helper so a crash mid-write never leaves a
// corrupt mirror behind — the same durability property the teacher's
// file-backed queues rely on.
type fileBackend struct {
	path string
}

func newFileBackend(dsn string) (Backend, error) {
	path, err := dsnPath(dsn)
	if err != nil {
		return nil, err
	}
	return &fileBackend{path: path}, nil
}

func (b *fileBackend) Load() (*Snapshot, error) {
	var snap Snapshot
	ok, err := atomicio.ReadJSON(b.path, &snap)
	if err != nil {
		return nil, fmt.Errorf("statemirror: load %s: %w", b.path, err)
	}
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (b *fileBackend) Save(snap *Snapshot) error {
	if snap == nil {
		return nil
	}
	if err := atomicio.WriteJSON(b.path, snap); err != nil {
		return fmt.Errorf("statemirror: save %s: %w", b.path, err)
	}
	return nil
}

func (b *fileBackend) Close() error { return nil }

func dsnPath(dsn string) (string, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("statemirror: parse dsn %s: %w", dsn, err)
	}
	if parsed.Scheme == "" || parsed.Scheme == "file" {
		if parsed.Path != "" {
			return parsed.Path, nil
		}
		return strings.TrimPrefix(dsn, "file://"), nil
	}
	return "", fmt.Errorf("statemirror: dsn %s is not a file path", dsn)
}
