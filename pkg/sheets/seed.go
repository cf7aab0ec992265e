package sheets

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Seed is the on-disk layout used to pre-populate a MemoryStore:
//
//	tables:
//	  Students:
//	    - [Registration, Surname, FirstName, ...]
//	    - ["2024001", Doe, Jane, ...]
type Seed struct {
	Tables map[string][][]string `yaml:"tables"`
}

// LoadSeed reads a YAML seed file.
func LoadSeed(path string) (*Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(raw)
}

// ParseSeed decodes YAML seed content.
func ParseSeed(raw []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	for name, grid := range seed.Tables {
		if len(grid) == 0 {
			return nil, fmt.Errorf("seed table %s has no header row", name)
		}
	}
	return &seed, nil
}

// TableLoader is implemented by stores that can replace a whole table at once.
type TableLoader interface {
	ReplaceTable(ctx context.Context, table string, grid [][]string) error
}

// Apply loads every seeded table into the store, in name order.
func (s *Seed) Apply(ctx context.Context, store TableLoader) error {
	if s == nil || store == nil {
		return nil
	}
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := store.ReplaceTable(ctx, name, s.Tables[name]); err != nil {
			return fmt.Errorf("seed table %s: %w", name, err)
		}
	}
	return nil
}
