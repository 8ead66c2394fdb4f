package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Manifest is the JSON sidecar published next to a registry snapshot.
type Manifest struct {
	// CreatedAt is when the snapshot was taken
	CreatedAt time.Time `json:"created_at"`

	// Models lists the registered models in the snapshot
	Models []string `json:"models"`

	// Size is the uncompressed size of the registry file in bytes
	Size int64 `json:"size"`

	// CompressedSize is the size of the published stream
	CompressedSize int64 `json:"compressed_size"`

	// ETag identifies the stored data object
	ETag string `json:"etag,omitempty"`
}

// WriteToFile writes the manifest as indented JSON.
func (m *Manifest) WriteToFile(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("snapshot: failed to write manifest: %w", err)
	}
	return nil
}

// ReadManifest reads a manifest written by WriteToFile.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("snapshot: failed to unmarshal manifest: %w", err)
	}
	return &m, nil
}
