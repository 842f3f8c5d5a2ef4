package eligibility

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rulesets/*.yaml
var defaultRuleSets embed.FS

// Parse decodes and compiles a YAML rule-set document.
func Parse(data []byte) (*RuleSet, error) {
	var rs RuleSet
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&rs); err != nil {
		return nil, fmt.Errorf("decode rule set: %w", err)
	}
	if err := rs.Compile(); err != nil {
		return nil, err
	}
	rs.Definition = append([]byte(nil), data...)
	return &rs, nil
}

// Defaults returns the rule sets shipped with the binary.
func Defaults() ([]*RuleSet, error) {
	return loadFS(defaultRuleSets, "rulesets")
}

// LoadDir parses every .yaml or .yml file in dir.
func LoadDir(dir string) ([]*RuleSet, error) {
	return loadFS(os.DirFS(dir), ".")
}

func loadFS(fsys fs.FS, root string) ([]*RuleSet, error) {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, fmt.Errorf("read rule sets: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var out []*RuleSet
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		data, err := fs.ReadFile(fsys, filepath.ToSlash(filepath.Join(root, e.Name())))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		rs, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		out = append(out, rs)
	}
	return out, nil
}
