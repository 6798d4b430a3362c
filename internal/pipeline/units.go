package pipeline

import (
	"fmt"
	"os"

	"github.com/jakopako/tagprobe/internal/types"
	"gopkg.in/yaml.v3"
)

// LoadUnits reads the analysis units from a yaml file. Ids have to be
// unique, a missing id defaults to the position of the unit.
func LoadUnits(path string) ([]types.AnalysisUnit, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var units []types.AnalysisUnit
	if err := yaml.Unmarshal(b, &units); err != nil {
		return nil, fmt.Errorf("error while reading units %s: %w", path, err)
	}
	seen := map[string]bool{}
	for i := range units {
		if units[i].ID == "" {
			units[i].ID = fmt.Sprintf("%d", i+1)
		}
		if seen[units[i].ID] {
			return nil, fmt.Errorf("unit id %s is used more than once", units[i].ID)
		}
		seen[units[i].ID] = true
		if units[i].URL == "" {
			return nil, fmt.Errorf("unit %s has no url", units[i].ID)
		}
	}
	return units, nil
}
