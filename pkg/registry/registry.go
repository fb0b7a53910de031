package registry

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
)

//go:embed activity-registry.json
var defaultRegistry []byte

// LoadRegistry reads a registry file. An empty path selects the built-in one.
func LoadRegistry(path string) (*ActivityRegistry, error) {
	data := defaultRegistry
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	}
	var reg ActivityRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse activity registry: %w", err)
	}
	return &reg, nil
}

// Default returns the built-in registry.
func Default() *ActivityRegistry {
	reg, err := LoadRegistry("")
	if err != nil {
		panic(err)
	}
	return reg
}

// ByTaskType finds the activity bound to a job type.
func (r *ActivityRegistry) ByTaskType(taskType string) (Activity, bool) {
	for _, a := range r.Activities {
		if a.TaskType == taskType {
			return a, true
		}
	}
	return Activity{}, false
}
