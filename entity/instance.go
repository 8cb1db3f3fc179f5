package entity

import "context"

// Instance is one loaded or created entity. It is not safe for concurrent use.
type Instance struct {
	table        *Table
	properties   Properties
	partitionKey string
	rowKey       string
	etag         string
	removed      bool
}

// Properties returns a copy of the in-memory properties.
func (i *Instance) Properties() Properties { return copyProperties(i.properties) }

// Get returns a single property value.
func (i *Instance) Get(name string) any { return i.properties[name] }

func (i *Instance) ETag() string         { return i.etag }
func (i *Instance) PartitionKey() string { return i.partitionKey }
func (i *Instance) RowKey() string       { return i.rowKey }
func (i *Instance) Table() *Table        { return i.table }
func (i *Instance) Removed() bool        { return i.removed }

// Context returns the context values the table was set up with.
func (i *Instance) Context() map[string]any {
	out := make(map[string]any, len(i.table.context))
	for k, v := range i.table.context {
		out[k] = v
	}
	return out
}

func (i *Instance) checkRemoved() error {
	if i.removed {
		return newError(ErrInstanceRemoved, nil, "%s (%q, %q)", i.table.name, i.partitionKey, i.rowKey)
	}
	return nil
}

// Modify applies mutate to a working copy of the properties and persists the
// result if the stored row still has the etag this instance last saw.
//
// On success the instance holds the new properties and etag. On any failure,
// including an error from mutate, the instance is left unchanged. A concurrent
// write fails with ErrUnsuccessfulUpdate; callers typically reload and retry.
// Changing a property covered by the partition or row key fails with
// ErrKeyChanged.
func (i *Instance) Modify(ctx context.Context, mutate func(Properties) error) error {
	if err := i.checkRemoved(); err != nil {
		return err
	}
	def := i.table.def

	working, err := i.workingCopy()
	if err != nil {
		return err
	}
	if err := mutate(working); err != nil {
		return err
	}
	value, err := def.serialize(working)
	if err != nil {
		return err
	}
	pk, rk, err := def.keyOf(working)
	if err != nil || pk != i.partitionKey || rk != i.rowKey {
		return newError(ErrKeyChanged, err, "%s (%q, %q)", i.table.name, i.partitionKey, i.rowKey)
	}
	stored, err := def.roundTrip(value)
	if err != nil {
		return err
	}

	etag, err := i.table.table.Modify(ctx, i.partitionKey, i.rowKey, value, def.version, i.etag)
	if err != nil {
		i.table.logf("modify (%q, %q): %v", i.partitionKey, i.rowKey, err)
		return translate(err, i.table.name, i.partitionKey, i.rowKey)
	}
	i.properties = stored
	i.etag = etag
	return nil
}

// workingCopy deep copies the properties through their stored form, so
// mutate cannot reach into the instance's own nested values.
func (i *Instance) workingCopy() (Properties, error) {
	def := i.table.def
	value, err := def.serialize(i.properties)
	if err != nil {
		return nil, err
	}
	return def.roundTrip(value)
}

// Reload fetches the stored row and reports whether it has changed since this
// instance last saw it. The instance itself is not modified; load the entity
// again to pick up the changes. A row removed underneath the instance fails
// with ErrResourceNotFound.
func (i *Instance) Reload(ctx context.Context) (bool, error) {
	if err := i.checkRemoved(); err != nil {
		return false, err
	}
	row, err := i.table.table.Load(ctx, i.partitionKey, i.rowKey)
	if err != nil {
		return false, translate(err, i.table.name, i.partitionKey, i.rowKey)
	}
	if row == nil {
		return false, newError(ErrResourceNotFound, nil, "%s (%q, %q)", i.table.name, i.partitionKey, i.rowKey)
	}
	return row.ETag != i.etag, nil
}

// Remove deletes the row of this instance. Afterwards every write or reload
// of the instance fails with ErrInstanceRemoved.
func (i *Instance) Remove(ctx context.Context, ignoreIfNotExists bool) (bool, error) {
	if err := i.checkRemoved(); err != nil {
		return false, err
	}
	removed, err := i.table.remove(ctx, i.partitionKey, i.rowKey, ignoreIfNotExists)
	if err != nil {
		return false, err
	}
	i.removed = true
	return removed, nil
}
