package badgerstore

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/acksell/entities/store"
)

// Key format: [table name][0x00][store.RowID(partitionKey, rowKey)]
//
// Row ids preserve (partition key, row key) order, so a prefix iteration over
// a table or a partition yields rows in scan order.

func (t *Table) encodeKey(pk, rk string) []byte {
	var buf bytes.Buffer
	buf.Write(t.prefix)
	buf.Write(store.RowID(pk, rk))
	return buf.Bytes()
}

func (t *Table) partitionPrefix(pk string) []byte {
	var buf bytes.Buffer
	buf.Write(t.prefix)
	buf.Write(store.PartitionPrefix(pk))
	return buf.Bytes()
}

func (t *Table) decodeKey(key []byte) (pk, rk string, err error) {
	if !bytes.HasPrefix(key, t.prefix) {
		return "", "", fmt.Errorf("key %q is not in table %s", key, t.name)
	}
	return store.ParseRowID(key[len(t.prefix):])
}

// record is the serialized form of a row.
type record struct {
	Value   json.RawMessage `json:"value"`
	ETag    string          `json:"etag"`
	Version int             `json:"version"`
}

func (t *Table) encodeRecord(value store.Value, etag string, version int) ([]byte, error) {
	v, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	if limit := t.store.opts.MaxValueBytes; limit > 0 && len(v) > limit {
		return nil, store.ValueTooLarge(len(v), limit)
	}
	return json.Marshal(record{Value: v, ETag: etag, Version: version})
}

func decodeRecord(pk, rk string, data []byte) (*store.Row, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode row (%q, %q): %w", pk, rk, err)
	}
	value, err := store.DecodeValue(rec.Value)
	if err != nil {
		return nil, err
	}
	return &store.Row{PartitionKey: pk, RowKey: rk, Value: value, ETag: rec.ETag, Version: rec.Version}, nil
}
