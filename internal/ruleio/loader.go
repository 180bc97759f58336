package ruleio

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hamicek/noex-rules-sub007/internal/apperr"
	"github.com/hamicek/noex-rules-sub007/internal/model"
)

// DirSource implements reload.Source by reading every .json/.yaml/.yml
// file in a directory. The teacher keeps rules in Postgres behind a
// repository, not on disk, so this has no direct teacher analogue; it
// gives the embeddable engine a zero-dependency way to seed or hot-reload
// rules from a rules/ directory shipped alongside the binary.
type DirSource struct {
	dir string
}

// NewDirSource returns a Source that loads every rule file under dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

// Load reads dir non-recursively, decoding each .json file with DecodeJSON
// and each .yaml/.yml file with DecodeYAML, and returns every rule found.
// Files are processed in lexical filename order so Load is deterministic.
func (s *DirSource) Load() ([]*model.Rule, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read rule directory %s: %w", s.dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var rules []*model.Rule
	for _, name := range names {
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".json" && ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(s.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read rule file %s: %w", path, err)
		}

		switch ext {
		case ".json":
			rule, err := DecodeJSON(data)
			if err != nil {
				return nil, annotateFile(path, err)
			}
			rules = append(rules, rule)
		case ".yaml", ".yml":
			fileRules, err := DecodeYAML(data)
			if err != nil {
				return nil, annotateFile(path, err)
			}
			rules = append(rules, fileRules...)
		}
	}

	return rules, nil
}

func annotateFile(path string, err error) error {
	if ve, ok := err.(*apperr.ValidationError); ok {
		return apperr.NewValidationError(ve.Field, fmt.Sprintf("%s: %s", path, ve.Reason))
	}
	return fmt.Errorf("%s: %w", path, err)
}
