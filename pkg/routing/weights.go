package routing

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

type weightsFile struct {
	Weights map[string]int `yaml:"weights"`
}

// LoadWeights reads per-agent routing weights from YAML:
//
//	weights:
//	  claude: 3
//	  ollama: 1
func LoadWeights(path string) (map[string]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseWeights(data)
}

// ParseWeights decodes a weights document. Weights must be positive.
func ParseWeights(data []byte) (map[string]int, error) {
	var doc weightsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse weights: %w", err)
	}
	for name, w := range doc.Weights {
		if w < 1 {
			return nil, fmt.Errorf("weight for %q must be >= 1, got %d", name, w)
		}
	}
	if doc.Weights == nil {
		doc.Weights = map[string]int{}
	}
	return doc.Weights, nil
}

// ApplyWeights sets every weight on the router's catalog. Names that are not
// registered are skipped and returned.
func (r *Router) ApplyWeights(weights map[string]int) []string {
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)

	var missing []string
	for _, name := range names {
		if err := r.SetWeight(name, weights[name]); err != nil {
			r.log.Warn("routing.weights.unknown_agent", slog.String("agent", name))
			missing = append(missing, name)
		}
	}
	return missing
}
