package rules

import (
	"fmt"
	"path/filepath"

	"github.com/pelletier/go-toml/v2/unstable"
	"gopkg.in/yaml.v3"
)

// Decoder is implemented by rule sets that decode a rule file themselves.
// Decode hands them the raw file.
type Decoder interface {
	DecodeRules(path string, data []byte) error
}

// TableKeys returns the keys of the top-level table named table in the order
// the rule file declares them. defined reports whether the file has the table
// at all.
func TableKeys(path string, data []byte, table string) (keys []string, defined bool, err error) {
	if filepath.Ext(path) == ".toml" {
		return tomlTableKeys(data, table)
	}
	return yamlTableKeys(data, table)
}

func yamlTableKeys(data []byte, table string) ([]string, bool, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, false, err
	}
	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil, false, nil
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != table {
			continue
		}
		value := root.Content[i+1]
		var keys []string
		if value.Kind == yaml.MappingNode {
			for j := 0; j+1 < len(value.Content); j += 2 {
				keys = append(keys, value.Content[j].Value)
			}
		}
		return keys, true, nil
	}
	return nil, false, nil
}

func keyParts(it unstable.Iterator) []string {
	var parts []string
	for it.Next() {
		parts = append(parts, string(it.Node().Data))
	}
	return parts
}

func tomlTableKeys(data []byte, table string) ([]string, bool, error) {
	var (
		keys    []string
		defined bool
		current []string
	)
	seen := make(map[string]bool)
	add := func(path []string) {
		if len(path) == 0 || path[0] != table {
			return
		}
		defined = true
		if len(path) > 1 && !seen[path[1]] {
			seen[path[1]] = true
			keys = append(keys, path[1])
		}
	}

	p := unstable.Parser{}
	p.Reset(data)
	for p.NextExpression() {
		expr := p.Expression()
		switch expr.Kind {
		case unstable.Table, unstable.ArrayTable:
			current = keyParts(expr.Key())
			add(current)
		case unstable.KeyValue:
			path := append(append([]string{}, current...), keyParts(expr.Key())...)
			add(path)
			// event_groups = { screening = {...}, ... }
			if value := expr.Value(); len(path) == 1 && value != nil && value.Kind == unstable.InlineTable {
				children := value.Children()
				for children.Next() {
					add(append(append([]string{}, path...), keyParts(children.Node().Key())...))
				}
			}
		}
	}
	if err := p.Error(); err != nil {
		return nil, false, fmt.Errorf("parse toml: %w", err)
	}
	return keys, defined, nil
}
