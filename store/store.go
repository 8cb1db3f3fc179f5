// Package store defines the backing store contract the entity layer runs on.
//
// A Store hands out one Table per registered table name. Each Table keeps rows
// addressed by (partition key, row key) holding a JSON document, an opaque
// etag and a schema version. Implementations live in the subpackages:
// memstore (reference), badgerstore, pgstore, ddbstore, cqlstore and redisstore.
//
// Failures that callers are expected to react to are reported as *Error values
// carrying Postgres SQLSTATE codes, regardless of the backend.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

// DefaultPageSize is used when a ScanRequest does not set PageSize.
const DefaultPageSize = 1000

// Value is the JSON document stored in a row.
type Value map[string]any

// Row is one stored entity.
type Row struct {
	PartitionKey string
	RowKey       string
	Value        Value
	ETag         string
	Version      int
}

// ScanRequest selects rows from a table.
// PartitionKey and RowKey, when set, restrict the scan to exact key matches.
// Page is 1-indexed.
type ScanRequest struct {
	PartitionKey *string
	RowKey       *string
	Condition    Condition
	PageSize     int
	Page         int
}

// Table is the typed function surface of one table.
type Table interface {
	Name() string
	// Load returns nil, nil when the row does not exist.
	Load(ctx context.Context, partitionKey, rowKey string) (*Row, error)
	// Create inserts a row and returns its new etag. Unless overwrite is set,
	// an existing row fails with CodeUniqueViolation.
	Create(ctx context.Context, partitionKey, rowKey string, value Value, overwrite bool, version int) (string, error)
	// Remove deletes a row and returns what was removed, or nil, nil if nothing was.
	Remove(ctx context.Context, partitionKey, rowKey string) (*Row, error)
	// Modify replaces the value of an existing row if its etag still equals
	// expectedETag, returning the new etag. A missing row fails with
	// CodeNoDataFound, a stale etag with CodeAssertFailure.
	Modify(ctx context.Context, partitionKey, rowKey string, value Value, version int, expectedETag string) (string, error)
	// Scan returns one page of matching rows ordered by (partition key, row key).
	Scan(ctx context.Context, req ScanRequest) ([]Row, error)
}

// Store gives access to the tables of one backend.
type Store interface {
	Table(name string) (Table, error)
	Close() error
}

// Migrator is implemented by stores that must provision tables before use.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// Normalize returns a deep copy of v with every number decoded as json.Number,
// the shape rows have after a round trip through any backend.
func Normalize(v Value) (Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return DecodeValue(b)
}

// DecodeValue decodes a JSON document into a Value, keeping numbers as json.Number.
func DecodeValue(b []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out Value
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	if out == nil {
		out = Value{}
	}
	return out, nil
}

// Matches reports whether row satisfies the key filters and condition of req.
func (req ScanRequest) Matches(row Row) bool {
	if req.PartitionKey != nil && *req.PartitionKey != row.PartitionKey {
		return false
	}
	if req.RowKey != nil && *req.RowKey != row.RowKey {
		return false
	}
	return req.Condition.Match(row.Value)
}

// Limits returns the effective page size and the offset of the requested page.
func (req ScanRequest) Limits() (size, offset int) {
	size, page := req.PageSize, req.Page
	if size <= 0 {
		size = DefaultPageSize
	}
	if page <= 0 {
		page = 1
	}
	return size, (page - 1) * size
}

// CompareRows orders rows by partition key, then row key.
func CompareRows(a, b Row) int {
	if c := strings.Compare(a.PartitionKey, b.PartitionKey); c != 0 {
		return c
	}
	return strings.Compare(a.RowKey, b.RowKey)
}

// Paginate sorts matching rows and cuts out the page req asks for.
// Backends that cannot push ordering and paging down use it on their full result.
func Paginate(rows []Row, req ScanRequest) []Row {
	slices.SortFunc(rows, CompareRows)
	size, offset := req.Limits()
	if offset >= len(rows) {
		return []Row{}
	}
	end := offset + size
	if end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end]
}
