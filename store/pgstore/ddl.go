package pgstore

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/jackc/pgx/v4"
)

// Each table gets a relation holding the rows and five functions forming its
// function surface. Errors are raised with the codes store.CodeOf understands.
var ddlTemplate = template.Must(template.New("ddl").Funcs(template.FuncMap{
	"ident": func(parts ...string) string {
		name := ""
		for _, p := range parts {
			name += p
		}
		return pgx.Identifier{name}.Sanitize()
	},
}).Parse(`
create table if not exists {{ident .Table}} (
  partition_key text collate "C" not null,
  row_key text collate "C" not null,
  value jsonb not null,
  version integer not null,
  etag text not null,
  primary key (partition_key, row_key)
);

create or replace function {{ident .Table "_load"}}(partition_key_in text, row_key_in text)
returns table(partition_key text, row_key text, value jsonb, version integer, etag text)
as $$
#variable_conflict use_column
begin
  return query
  select t.partition_key, t.row_key, t.value, t.version, t.etag
  from {{ident .Table}} t
  where t.partition_key = partition_key_in and t.row_key = row_key_in;
end
$$ language plpgsql;

create or replace function {{ident .Table "_create"}}(partition_key_in text, row_key_in text, properties_in jsonb, overwrite_in boolean, version_in integer)
returns text
as $$
#variable_conflict use_column
declare
  new_etag text := gen_random_uuid()::text;
begin
{{- if .MaxValueBytes}}
  if octet_length(properties_in::text) > {{.MaxValueBytes}} then
    raise exception 'value too large' using errcode = 'numeric_value_out_of_range';
  end if;
{{- end}}
  if overwrite_in then
    insert into {{ident .Table}} (partition_key, row_key, value, version, etag)
    values (partition_key_in, row_key_in, properties_in, version_in, new_etag)
    on conflict (partition_key, row_key) do update
    set value = excluded.value, version = excluded.version, etag = excluded.etag;
  else
    insert into {{ident .Table}} (partition_key, row_key, value, version, etag)
    values (partition_key_in, row_key_in, properties_in, version_in, new_etag);
  end if;
  return new_etag;
end
$$ language plpgsql;

create or replace function {{ident .Table "_remove"}}(partition_key_in text, row_key_in text)
returns table(partition_key text, row_key text, value jsonb, version integer, etag text)
as $$
#variable_conflict use_column
begin
  return query
  delete from {{ident .Table}} t
  where t.partition_key = partition_key_in and t.row_key = row_key_in
  returning t.partition_key, t.row_key, t.value, t.version, t.etag;
end
$$ language plpgsql;

create or replace function {{ident .Table "_modify"}}(partition_key_in text, row_key_in text, properties_in jsonb, version_in integer, old_etag_in text)
returns table(etag text)
as $$
#variable_conflict use_column
declare
  current_etag text;
  new_etag text;
begin
{{- if .MaxValueBytes}}
  if octet_length(properties_in::text) > {{.MaxValueBytes}} then
    raise exception 'value too large' using errcode = 'numeric_value_out_of_range';
  end if;
{{- end}}
  select t.etag into current_etag
  from {{ident .Table}} t
  where t.partition_key = partition_key_in and t.row_key = row_key_in
  for update;
  if not found then
    raise exception 'no such row' using errcode = 'P0002';
  end if;
  if current_etag <> old_etag_in then
    raise exception 'unsuccessful update' using errcode = 'P0004';
  end if;
  new_etag := gen_random_uuid()::text;
  update {{ident .Table}} t
  set value = properties_in, version = version_in, etag = new_etag
  where t.partition_key = partition_key_in and t.row_key = row_key_in;
  return query select new_etag;
end
$$ language plpgsql;

create or replace function {{ident .Table "_scan"}}(partition_key_in text, row_key_in text, condition_in text, page_size integer, page integer)
returns table(partition_key text, row_key text, value jsonb, version integer, etag text)
as $$
declare
  query_text text := 'select partition_key, row_key, value, version, etag from {{ident .Table}} where true';
begin
  if partition_key_in is not null then
    query_text := query_text || ' and partition_key = ' || quote_literal(partition_key_in);
  end if;
  if row_key_in is not null then
    query_text := query_text || ' and row_key = ' || quote_literal(row_key_in);
  end if;
  if condition_in is not null and condition_in <> '' then
    query_text := query_text || ' and ' || condition_in;
  end if;
  query_text := query_text || ' order by partition_key, row_key';
  if page_size is not null then
    query_text := query_text || ' limit ' || page_size || ' offset ' || (coalesce(page, 1) - 1) * page_size;
  end if;
  return query execute query_text;
end
$$ language plpgsql;
`))

// DDL renders the table and functions of one table.
func DDL(table string, maxValueBytes int) (string, error) {
	if err := validateTableName(table); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	err := ddlTemplate.Execute(&buf, struct {
		Table         string
		MaxValueBytes int
	}{table, maxValueBytes})
	if err != nil {
		return "", fmt.Errorf("render ddl for %s: %w", table, err)
	}
	return buf.String(), nil
}

// Migrate installs or updates the relations and functions of every table.
func (s *Store) Migrate(ctx context.Context) error {
	for _, name := range s.order {
		ddl, err := DDL(name, s.opts.MaxValueBytes)
		if err != nil {
			return err
		}
		if _, err := s.q.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
		s.logf("migrated table %s", name)
	}
	return nil
}
