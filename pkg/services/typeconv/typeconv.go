// Package typeconv maps native column types of one engine onto column types
// of another, from the conversion tables embedded in conversions.yaml.
package typeconv

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed conversions.yaml
var conversionsYAML []byte

// Table maps native types of a source engine to types of a destination engine.
type Table struct {
	Source      string
	Destination string
	types       map[string]string
}

// Convert returns the destination type for a native type specification.
// Length and precision in parentheses are ignored: VARCHAR2(255) converts
// like VARCHAR2.
func (t *Table) Convert(native string) (string, bool) {
	dest, ok := t.types[Normalize(native)]
	return dest, ok
}

// Len returns the number of native types the table knows.
func (t *Table) Len() int {
	return len(t.types)
}

// Registry holds every conversion table, keyed by engine pair.
type Registry struct {
	tables map[string]*Table
}

type conversionsFile struct {
	Conversions map[string]map[string]map[string]string `yaml:"conversions"`
}

// Parse builds a registry from YAML of the conversions.yaml shape.
func Parse(data []byte) (*Registry, error) {
	var file conversionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse conversion tables: %w", err)
	}

	reg := &Registry{tables: make(map[string]*Table)}
	for source, dests := range file.Conversions {
		for dest, types := range dests {
			if len(types) == 0 {
				return nil, fmt.Errorf("conversion table %s->%s is empty", source, dest)
			}
			t := &Table{Source: source, Destination: dest, types: make(map[string]string, len(types))}
			for native, target := range types {
				key := Normalize(native)
				if prev, dup := t.types[key]; dup && prev != target {
					return nil, fmt.Errorf("conversion table %s->%s maps %q twice", source, dest, key)
				}
				t.types[key] = target
			}
			reg.tables[pairKey(source, dest)] = t
		}
	}
	return reg, nil
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
	defaultErr      error
)

// Default returns the registry built from the embedded conversion tables.
func Default() (*Registry, error) {
	defaultOnce.Do(func() {
		defaultRegistry, defaultErr = Parse(conversionsYAML)
	})
	return defaultRegistry, defaultErr
}

// Table returns the conversion table from source to destination engine.
func (r *Registry) Table(source, destination string) (*Table, bool) {
	t, ok := r.tables[pairKey(source, destination)]
	return t, ok
}

// Pairs lists the supported "source->destination" pairs in sorted order.
func (r *Registry) Pairs() []string {
	pairs := make([]string, 0, len(r.tables))
	for k := range r.tables {
		pairs = append(pairs, k)
	}
	sort.Strings(pairs)
	return pairs
}

func pairKey(source, destination string) string {
	return strings.ToLower(source) + "->" + strings.ToLower(destination)
}

var (
	typeSpecPattern = regexp.MustCompile(`\([^)]*\)`)
	spacePattern    = regexp.MustCompile(`\s+`)
)

// Normalize lowercases a native type and drops parenthesised specifications,
// so "TIMESTAMP(6) WITH TIME ZONE" becomes "timestamp with time zone".
func Normalize(native string) string {
	s := typeSpecPattern.ReplaceAllString(native, " ")
	s = spacePattern.ReplaceAllString(strings.TrimSpace(s), " ")
	return strings.ToLower(s)
}
