package extract

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"time"
)

// WatermarkStore persists the incremental-extraction watermark: the
// timestamp of the last successful extraction. It is a small JSON file so
// a run can be reproduced or reset by editing/removing it.
type WatermarkStore struct {
	Path string
}

type watermarkFile struct {
	LastExtraction time.Time `json:"last_extraction"`
}

// Load returns the stored watermark. A missing file means no previous
// extraction: zero time, no error.
func (s *WatermarkStore) Load() (time.Time, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	var f watermarkFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return time.Time{}, err
	}
	return f.LastExtraction, nil
}

// Save records ts as the new watermark.
func (s *WatermarkStore) Save(ts time.Time) error {
	raw, err := json.MarshalIndent(watermarkFile{LastExtraction: ts.UTC()}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.Path, raw, 0o644)
}
