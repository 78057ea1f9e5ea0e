package matrixstore

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/web3guy0/btc15m/internal/matrixbuilder"
)

// SaveFile writes m as JSON to path, for use as the local-file fallback
// snapshot.
func SaveFile(path string, m *matrixbuilder.Matrix) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("serializing matrix: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing matrix snapshot file: %w", err)
	}
	return nil
}

// LoadFile reads a matrix previously written by SaveFile.
func LoadFile(path string) (*matrixbuilder.Matrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading matrix snapshot file: %w", err)
	}
	var m matrixbuilder.Matrix
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("deserializing matrix snapshot file: %w", err)
	}
	return &m, nil
}

// LoadAtStartup implements the decision engine's startup policy: prefer the
// database's active snapshot; fall back to the local file at filePath; if
// neither is available, return an error so the caller can fatal-exit.
func LoadAtStartup(store *Store, filePath string) (*matrixbuilder.Matrix, error) {
	var dbErr error
	if store != nil {
		m, err := store.LoadActive()
		if err != nil {
			dbErr = fmt.Errorf("querying active snapshot: %w", err)
		} else if m != nil {
			return m, nil
		}
	}
	if filePath != "" {
		if _, err := os.Stat(filePath); err == nil {
			return LoadFile(filePath)
		}
	}
	if dbErr != nil {
		return nil, fmt.Errorf("%w; no local fallback file at %q", dbErr, filePath)
	}
	return nil, fmt.Errorf("no active database snapshot and no local fallback file at %q", filePath)
}
