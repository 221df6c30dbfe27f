package context

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadSnapshot reads a snapshot file (YAML or JSON) produced by an external
// analytics job.
func LoadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("reading context snapshot: %w", err)
	}
	var s Snapshot
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("parsing context snapshot %s: %w", path, err)
	}
	return s, nil
}

// LoadFile builds a new Context from a snapshot file.
func LoadFile(path string) (*Context, error) {
	s, err := LoadSnapshot(path)
	if err != nil {
		return nil, err
	}
	c := New()
	c.Apply(s)
	return c, nil
}
