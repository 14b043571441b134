package service

import (
	"encoding/json"
	"fmt"
	"path/filepath"
)

// WriteJSON marshals v (indented) and writes it atomically in dir/filename
func WriteJSON(v interface{}, dir, filename string) error {
	vb, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("WriteJSON.Marshal: %w", err)
	}
	if err := WriteBytesAtomic(filepath.Join(dir, filename), vb); err != nil {
		return fmt.Errorf("WriteJSON.%w", err)
	}
	return nil
}
