package worksheet

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lehigh-university-libraries/htr-prep/internal/models"
)

// LabelTablePath is where the generator stored the labels of a page seed.
func LabelTablePath(crowdRoot, seed string) string {
	return filepath.Join(crowdRoot, "generated", "label-"+seed+".json")
}

func LoadLabelTable(crowdRoot, seed string) (models.LabelTable, error) {
	path := LabelTablePath(crowdRoot, seed)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read label table for seed %s: %w", seed, err)
	}

	var table models.LabelTable
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return table, nil
}

func SaveLabelTable(crowdRoot, seed string, table models.LabelTable) error {
	path := LabelTablePath(crowdRoot, seed)
	data, err := json.MarshalIndent(table, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal label table: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
