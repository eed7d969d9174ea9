// Package roster loads technicians and job specs from YAML files.
package roster

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/okian/repairflow/internal/domain/model"
	"gopkg.in/yaml.v3"
)

// ErrInvalidRoster is returned when a roster file fails validation.
var ErrInvalidRoster = errors.New("invalid roster")

// File is the on-disk roster layout.
type File struct {
	Technicians []model.Technician `yaml:"technicians"`
}

// Parse decodes and validates roster YAML.
func Parse(data []byte) ([]*model.Technician, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	seen := make(map[string]struct{}, len(f.Technicians))
	out := make([]*model.Technician, 0, len(f.Technicians))
	for i := range f.Technicians {
		t := &f.Technicians[i]
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %w", ErrInvalidRoster, i, err)
		}
		if _, dup := seen[t.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate technician %q", ErrInvalidRoster, t.ID)
		}
		seen[t.ID] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}

// Load reads and parses a roster file.
func Load(path string) ([]*model.Technician, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	return Parse(data)
}

// ParseJobSpec decodes and validates a single job spec.
func ParseJobSpec(data []byte) (model.JobSpec, error) {
	var spec model.JobSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return model.JobSpec{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return model.JobSpec{}, err
	}
	return spec, nil
}

// LoadJobSpec reads and parses a job spec file.
func LoadJobSpec(path string) (model.JobSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.JobSpec{}, fmt.Errorf("read job spec: %w", err)
	}
	return ParseJobSpec(data)
}

// Upserter is the subset of a technician store Seed needs.
type Upserter interface {
	UpsertTechnician(ctx context.Context, tech *model.Technician) error
}

// Seed writes every technician into store.
func Seed(ctx context.Context, store Upserter, techs []*model.Technician) error {
	for _, t := range techs {
		if err := store.UpsertTechnician(ctx, t); err != nil {
			return fmt.Errorf("seed technician %s: %w", t.ID, err)
		}
	}
	return nil
}
