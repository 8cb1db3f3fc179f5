// Package schema describes the entity tables of a deployment: their names,
// owning services and versions, and the per-table methods they expose.
//
// Schemas are YAML documents:
//
//	version: 1
//	tables:
//	  - name: secrets_entities
//	    service: secrets
//	    version: 1
package schema

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultSchema []byte

// Schema maps directly to the structure of the YAML file.
type Schema struct {
	Version int     `yaml:"version" json:"version"`
	Tables  []Table `yaml:"tables" json:"tables"`
}

// Table is one entity table.
type Table struct {
	Name    string `yaml:"name" json:"name"`
	Service string `yaml:"service" json:"service"`
	// Version of the stored value layout. Defaults to 1.
	Version int `yaml:"version,omitempty" json:"version,omitempty"`
}

// Mode tells whether a method reads or writes.
type Mode string

const (
	Read  Mode = "read"
	Write Mode = "write"
)

// Method is one generated table method, e.g. secrets_entities_modify.
type Method struct {
	Name    string
	Table   string
	Op      string
	Mode    Mode
	Service string
}

// ops in the order methods are listed.
var ops = []struct {
	name string
	mode Mode
}{
	{"load", Read},
	{"create", Write},
	{"remove", Write},
	{"modify", Write},
	{"scan", Read},
}

var tableNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ErrInvalidSchema wraps every validation failure.
var ErrInvalidSchema = errors.New("invalid schema")

// Parse decodes and validates a YAML schema.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	for i := range s.Tables {
		if s.Tables[i].Version == 0 {
			s.Tables[i].Version = 1
		}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load reads a schema file.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Default returns the built-in schema.
func Default() *Schema {
	s, err := Parse(defaultSchema)
	if err != nil {
		panic(fmt.Sprintf("schema: built-in schema: %v", err))
	}
	return s
}

// Validate checks that table names are unique identifiers and that every
// table has an owning service.
func (s *Schema) Validate() error {
	if len(s.Tables) == 0 {
		return fmt.Errorf("%w: no tables", ErrInvalidSchema)
	}
	seen := make(map[string]bool, len(s.Tables))
	for _, t := range s.Tables {
		if !tableNamePattern.MatchString(t.Name) {
			return fmt.Errorf("%w: table name %q must match %s", ErrInvalidSchema, t.Name, tableNamePattern)
		}
		if seen[t.Name] {
			return fmt.Errorf("%w: duplicate table %q", ErrInvalidSchema, t.Name)
		}
		seen[t.Name] = true
		if t.Service == "" {
			return fmt.Errorf("%w: table %q has no service", ErrInvalidSchema, t.Name)
		}
		if t.Version < 1 {
			return fmt.Errorf("%w: table %q has version %d", ErrInvalidSchema, t.Name, t.Version)
		}
	}
	return nil
}

// Names lists the table names in schema order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		names[i] = t.Name
	}
	return names
}

// Owners maps each table to its owning service.
func (s *Schema) Owners() map[string]string {
	owners := make(map[string]string, len(s.Tables))
	for _, t := range s.Tables {
		owners[t.Name] = t.Service
	}
	return owners
}

// Lookup returns the named table.
func (s *Schema) Lookup(name string) (Table, bool) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// Methods lists the <table>_<op> methods of every table.
func (s *Schema) Methods() []Method {
	methods := make([]Method, 0, len(s.Tables)*len(ops))
	for _, t := range s.Tables {
		for _, op := range ops {
			methods = append(methods, Method{
				Name:    t.Name + "_" + op.name,
				Table:   t.Name,
				Op:      op.name,
				Mode:    op.mode,
				Service: t.Service,
			})
		}
	}
	return methods
}
