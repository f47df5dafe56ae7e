package export

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RosterProvider supplies the enrolled students of a class. ok is false
// when the class has no known roster.
type RosterProvider interface {
	Roster(ctx context.Context, classID string) (students []string, ok bool, err error)
}

// FileRoster is a roster loaded from a YAML file of the form
//
//	classes:
//	  DES424: ["6522781713", "6522781714"]
type FileRoster struct {
	Classes map[string][]string `yaml:"classes"`
}

// LoadRoster reads a roster file.
func LoadRoster(path string) (*FileRoster, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	var r FileRoster
	if err := yaml.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("parse roster %s: %w", path, err)
	}
	if r.Classes == nil {
		r.Classes = map[string][]string{}
	}
	return &r, nil
}

func (r *FileRoster) Roster(_ context.Context, classID string) ([]string, bool, error) {
	students, ok := r.Classes[classID]
	if !ok {
		return nil, false, nil
	}
	out := make([]string, len(students))
	copy(out, students)
	return out, true, nil
}
