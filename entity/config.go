// Package entity maps typed property records onto partition/row key tables.
//
// An entity type is declared once with Configure and bound to a concrete
// table of a store with Setup:
//
//	def, err := entity.Configure(entity.Options{
//		Properties: []entity.Property{
//			{Name: "taskId", Type: types.SlugID},
//			{Name: "provisionerId", Type: types.String},
//			{Name: "state", Type: types.String},
//		},
//		PartitionKey: keys.StringKey("taskId"),
//		RowKey:       keys.StringKey("provisionerId"),
//	})
//	tasks, err := def.Setup(entity.SetupOptions{TableName: "tasks_entities", Store: s})
//	task, err := tasks.Create(ctx, entity.Properties{...}, false)
//	err = task.Modify(ctx, func(p entity.Properties) error {
//		p["state"] = "running"
//		return nil
//	})
//
// Writes use optimistic concurrency: Modify only succeeds if the row still
// carries the etag the instance last saw, and fails with ErrUnsuccessfulUpdate
// otherwise. Retrying is left to the caller.
package entity

import (
	"fmt"
	"log"

	"github.com/acksell/entities/keys"
	"github.com/acksell/entities/store"
	"github.com/acksell/entities/types"
)

// Properties holds the in-memory values of an entity, keyed by property name.
type Properties map[string]any

// Property declares one named, typed property.
type Property struct {
	Name string
	Type types.Type
}

// Options declares an entity type.
type Options struct {
	Properties   []Property
	PartitionKey keys.Builder
	RowKey       keys.Builder
	// Context names values that are supplied at Setup and exposed on every
	// instance, but never persisted.
	Context []string
	// Version is passed to the store with every write. Defaults to 1.
	Version int
}

// reserved names cannot be used as context names.
var reserved = map[string]bool{
	"properties": true, "etag": true, "tableName": true, "partitionKey": true,
	"rowKey": true, "db": true, "context": true, "serviceName": true,
	"create": true, "load": true, "modify": true, "reload": true,
	"remove": true, "scan": true, "query": true,
}

// Definition is a configured entity type that is not yet bound to a table.
type Definition struct {
	properties   []Property
	mapping      keys.Mapping
	partitionKey keys.Key
	rowKey       keys.Key
	context      []string
	version      int
}

func configError(format string, args ...any) error {
	return newError(ErrInvalidConfiguration, nil, format, args...)
}

// Configure validates opts and resolves its keys.
func Configure(opts Options) (*Definition, error) {
	if len(opts.Properties) == 0 {
		return nil, configError("at least one property is required")
	}
	mapping := make(keys.Mapping, len(opts.Properties))
	for _, p := range opts.Properties {
		if p.Name == "" {
			return nil, configError("property with empty name")
		}
		if p.Type == nil {
			return nil, configError("property %q has no type", p.Name)
		}
		if _, dup := mapping[p.Name]; dup {
			return nil, configError("property %q declared twice", p.Name)
		}
		mapping[p.Name] = p.Type
	}
	if opts.PartitionKey == nil || opts.RowKey == nil {
		return nil, configError("partition key and row key are required")
	}
	pk, err := opts.PartitionKey(mapping)
	if err != nil {
		return nil, newError(ErrInvalidConfiguration, err, "partition key")
	}
	rk, err := opts.RowKey(mapping)
	if err != nil {
		return nil, newError(ErrInvalidConfiguration, err, "row key")
	}

	seen := map[string]bool{}
	for _, name := range opts.Context {
		switch {
		case name == "":
			return nil, configError("context name is empty")
		case seen[name]:
			return nil, configError("context %q declared twice", name)
		case mapping[name] != nil:
			return nil, configError("context %q is defined in properties", name)
		case reserved[name]:
			return nil, configError("context %q is a reserved name", name)
		}
		seen[name] = true
	}

	version := opts.Version
	if version == 0 {
		version = 1
	}
	return &Definition{
		properties:   append([]Property(nil), opts.Properties...),
		mapping:      mapping,
		partitionKey: pk,
		rowKey:       rk,
		context:      append([]string(nil), opts.Context...),
		version:      version,
	}, nil
}

// SetupOptions binds a Definition to a table.
type SetupOptions struct {
	TableName   string
	Store       store.Store
	ServiceName string
	// Context must supply exactly the names declared in Options.Context.
	Context map[string]any
	// Logger receives one line per failed store call. Nil disables logging.
	Logger *log.Logger
}

// Setup binds d to a table. A Definition can be set up any number of times.
func (d *Definition) Setup(opts SetupOptions) (*Table, error) {
	if opts.TableName == "" {
		return nil, configError("table name is required")
	}
	if opts.Store == nil {
		return nil, configError("store is required")
	}
	ctx := make(map[string]any, len(d.context))
	for _, name := range d.context {
		v, ok := opts.Context[name]
		if !ok {
			return nil, configError("context %q must be specified", name)
		}
		ctx[name] = v
	}
	for name := range opts.Context {
		if _, ok := ctx[name]; !ok {
			return nil, configError("context %q was not declared", name)
		}
	}
	tbl, err := opts.Store.Table(opts.TableName)
	if err != nil {
		return nil, newError(ErrInvalidConfiguration, err, "table %q", opts.TableName)
	}
	return &Table{
		def:         d,
		table:       tbl,
		name:        opts.TableName,
		serviceName: opts.ServiceName,
		context:     ctx,
		logger:      opts.Logger,
	}, nil
}

// Covers returns the properties covered by the partition key and the row key.
func (d *Definition) Covers() (partitionKey, rowKey []string) {
	return d.partitionKey.Covers(), d.rowKey.Covers()
}

func (d *Definition) keyOf(props Properties) (pk, rk string, err error) {
	pk, err = d.partitionKey.Exact(props)
	if err != nil {
		return "", "", newError(ErrInvalidProperties, err, "partition key")
	}
	rk, err = d.rowKey.Exact(props)
	if err != nil {
		return "", "", newError(ErrInvalidProperties, err, "row key")
	}
	return pk, rk, nil
}

// serialize validates props against the declared properties and returns the
// stored representation. Undeclared properties are rejected; absent ones are
// omitted.
func (d *Definition) serialize(props Properties) (store.Value, error) {
	for name := range props {
		if d.mapping[name] == nil {
			return nil, newError(ErrInvalidProperties, nil, "undeclared property %q", name)
		}
	}
	out := make(store.Value, len(props))
	for _, p := range d.properties {
		v, ok := props[p.Name]
		if !ok || v == nil {
			continue
		}
		raw, err := p.Type.Serialize(v)
		if err != nil {
			return nil, newError(ErrInvalidProperties, err, "property %q", p.Name)
		}
		out[p.Name] = raw
	}
	return out, nil
}

// deserialize converts a stored value back to properties. Stored fields that
// are no longer declared are dropped.
// roundTrip returns the properties exactly as a later load yields them.
func (d *Definition) roundTrip(v store.Value) (Properties, error) {
	v, err := store.Normalize(v)
	if err != nil {
		return nil, err
	}
	return d.deserialize(v)
}

func (d *Definition) deserialize(v store.Value) (Properties, error) {
	out := make(Properties, len(v))
	for _, p := range d.properties {
		raw, ok := v[p.Name]
		if !ok || raw == nil {
			continue
		}
		val, err := p.Type.Deserialize(raw)
		if err != nil {
			return nil, fmt.Errorf("decode property %q: %w", p.Name, err)
		}
		out[p.Name] = val
	}
	return out, nil
}
