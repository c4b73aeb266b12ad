// Package snapshot persists raw API payloads as indented JSON files so a
// run's inputs can be inspected and replayed without refetching.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Writer writes snapshots under <Dir>/raw.
type Writer struct {
	dir string
}

// NewWriter creates the raw subdirectory under dataDir if needed.
func NewWriter(dataDir string) (*Writer, error) {
	dir := filepath.Join(dataDir, "raw")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create %s: %w", dir, err)
	}
	return &Writer{dir: dir}, nil
}

// WriteJSON writes v to <dir>/raw/<label>_<kind>.json atomically.
//
// The write goes to a temp file in the same directory and renames into
// place, so a crash mid-write never leaves a truncated snapshot. A
// snapshot of the same label and kind is overwritten.
func (w *Writer) WriteJSON(label, kind string, v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return "", fmt.Errorf("snapshot: marshal %s_%s: %w", label, kind, err)
	}
	b = append(b, '\n')

	outputPath := filepath.Join(w.dir, fmt.Sprintf("%s_%s.json", label, kind))

	tmp, err := os.CreateTemp(w.dir, ".snapshot-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()

	_, writeErr := tmp.Write(b)
	closeErr := tmp.Close()
	if writeErr != nil {
		_ = os.Remove(tmpName)
		return "", writeErr
	}
	if closeErr != nil {
		_ = os.Remove(tmpName)
		return "", closeErr
	}
	if err := os.Rename(tmpName, outputPath); err != nil {
		_ = os.Remove(tmpName)
		return "", err
	}
	return outputPath, nil
}
