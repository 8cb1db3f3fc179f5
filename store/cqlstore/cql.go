package cqlstore

import (
	"fmt"
	"regexp"
)

var identPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func validIdent(kind, name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("invalid %s name %q: must match %s", kind, name, identPattern)
	}
	return nil
}

// statements holds the CQL of one table. Rows of a partition are clustered by
// row key, so a partition reads back in row key order.
type statements struct {
	create       string
	load         string
	insertIfNot  string
	update       string
	updateIfAny  string
	deleteIf     string
	scan         string
	scanByPK     string
	createKSpace string
}

func newStatements(keyspace, table string, replication int) statements {
	t := keyspace + "." + table
	return statements{
		createKSpace: fmt.Sprintf(`create keyspace if not exists %s with replication = {'class': 'SimpleStrategy', 'replication_factor': %d}`, keyspace, replication),
		create: fmt.Sprintf(`create table if not exists %s (
  partition_key text,
  row_key text,
  value text,
  etag text,
  version int,
  primary key ((partition_key), row_key)
)`, t),
		load:        fmt.Sprintf(`select partition_key, row_key, value, etag, version from %s where partition_key = ? and row_key = ?`, t),
		insertIfNot: fmt.Sprintf(`insert into %s (partition_key, row_key, value, etag, version) values (?, ?, ?, ?, ?) if not exists`, t),
		update:      fmt.Sprintf(`update %s set value = ?, etag = ?, version = ? where partition_key = ? and row_key = ? if etag = ?`, t),
		updateIfAny: fmt.Sprintf(`update %s set value = ?, etag = ?, version = ? where partition_key = ? and row_key = ? if exists`, t),
		deleteIf:    fmt.Sprintf(`delete from %s where partition_key = ? and row_key = ? if etag = ?`, t),
		scan:        fmt.Sprintf(`select partition_key, row_key, value, etag, version from %s`, t),
		scanByPK:    fmt.Sprintf(`select partition_key, row_key, value, etag, version from %s where partition_key = ?`, t),
	}
}
