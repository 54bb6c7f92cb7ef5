package executor

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileAudioWriter writes audio blobs under a base storage folder, the
// filesystem counterpart of config.StorageConfig.BaseFolder.
type FileAudioWriter struct {
	BaseFolder string
}

// NewFileAudioWriter builds a FileAudioWriter, creating the base folder if
// it does not already exist.
func NewFileAudioWriter(baseFolder string) (*FileAudioWriter, error) {
	if err := os.MkdirAll(baseFolder, 0o755); err != nil {
		return nil, fmt.Errorf("creating audio storage folder: %w", err)
	}
	return &FileAudioWriter{BaseFolder: baseFolder}, nil
}

// Write implements AudioWriter.
func (w *FileAudioWriter) Write(filename string, data []byte) (string, error) {
	path := filepath.Join(w.BaseFolder, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing audio file %s: %w", filename, err)
	}
	return path, nil
}
