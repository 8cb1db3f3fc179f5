package store

import (
	"bytes"
	"fmt"
)

// Row ids for ordered key-value backends.
// Format: [escaped partition key][0x00][escaped row key]
//
// The separator byte (0x00) is escaped inside keys as 0x01 0x01, and 0x01 as
// 0x01 0x02. Byte order of row ids then equals (partition key, row key) order.

const rowIDSeparator byte = 0x00

// RowID encodes a row address as an order preserving byte string.
func RowID(partitionKey, rowKey string) []byte {
	var buf bytes.Buffer
	buf.Write(escapeBytes([]byte(partitionKey)))
	buf.WriteByte(rowIDSeparator)
	buf.Write(escapeBytes([]byte(rowKey)))
	return buf.Bytes()
}

// PartitionPrefix returns the prefix shared by all row ids of a partition.
func PartitionPrefix(partitionKey string) []byte {
	return append(escapeBytes([]byte(partitionKey)), rowIDSeparator)
}

// ParseRowID reverses RowID.
func ParseRowID(id []byte) (partitionKey, rowKey string, err error) {
	i := bytes.IndexByte(id, rowIDSeparator)
	if i < 0 {
		return "", "", fmt.Errorf("malformed row id %q", id)
	}
	return string(unescapeBytes(id[:i])), string(unescapeBytes(id[i+1:])), nil
}

func escapeBytes(b []byte) []byte {
	var buf bytes.Buffer
	for _, c := range b {
		switch c {
		case 0x00:
			buf.WriteByte(0x01)
			buf.WriteByte(0x01)
		case 0x01:
			buf.WriteByte(0x01)
			buf.WriteByte(0x02)
		default:
			buf.WriteByte(c)
		}
	}
	return buf.Bytes()
}

func unescapeBytes(b []byte) []byte {
	var buf bytes.Buffer
	for i := 0; i < len(b); i++ {
		if b[i] == 0x01 && i+1 < len(b) {
			switch b[i+1] {
			case 0x01:
				buf.WriteByte(0x00)
				i++
				continue
			case 0x02:
				buf.WriteByte(0x01)
				i++
				continue
			}
		}
		buf.WriteByte(b[i])
	}
	return buf.Bytes()
}
