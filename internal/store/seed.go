package store

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Tyrowin/portalchat/internal/models"
)

// ReadSeedFile decodes a JSON Document used to initialise an empty backend.
func ReadSeedFile(path string) (*models.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed %s: %w", path, err)
	}

	doc := &models.Document{}
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, fmt.Errorf("decode seed %s: %w", path, err)
	}
	doc.Normalize()
	return doc, nil
}
