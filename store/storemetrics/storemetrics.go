// Package storemetrics instruments a store.Store with Prometheus metrics.
package storemetrics

import (
	"context"
	"time"

	"github.com/acksell/entities/store"
	"github.com/prometheus/client_golang/prometheus"
)

// Options configures the metric names.
type Options struct {
	// Namespace prefixes every metric. Defaults to "entities".
	Namespace string
	// Buckets of the duration histogram. Defaults to exponential buckets
	// from 100µs to about 13s.
	Buckets []float64
}

// Store is an instrumented store.Store.
type Store struct {
	inner    store.Store
	duration *prometheus.HistogramVec
	errors   *prometheus.CounterVec
}

var (
	_ store.Store    = (*Store)(nil)
	_ store.Migrator = (*Store)(nil)
)

// Wrap registers the metrics on reg and returns s instrumented.
func Wrap(s store.Store, reg prometheus.Registerer, opts Options) (*Store, error) {
	if opts.Namespace == "" {
		opts.Namespace = "entities"
	}
	if opts.Buckets == nil {
		opts.Buckets = prometheus.ExponentialBuckets(0.0001, 2, 18)
	}
	m := &Store{
		inner: s,
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: opts.Namespace,
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Duration of store operations.",
			Buckets:   opts.Buckets,
		}, []string{"table", "op"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Subsystem: "store",
			Name:      "operation_errors_total",
			Help:      "Failed store operations by SQLSTATE code.",
		}, []string{"table", "op", "code"}),
	}
	for _, c := range []prometheus.Collector{m.duration, m.errors} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (s *Store) Table(name string) (store.Table, error) {
	t, err := s.inner.Table(name)
	if err != nil {
		return nil, err
	}
	return &Table{inner: t, metrics: s}, nil
}

func (s *Store) Close() error { return s.inner.Close() }

// Migrate migrates the wrapped store if it needs it.
func (s *Store) Migrate(ctx context.Context) error {
	if m, ok := s.inner.(store.Migrator); ok {
		return m.Migrate(ctx)
	}
	return nil
}

func (s *Store) observe(table, op string, start time.Time, err error) {
	s.duration.WithLabelValues(table, op).Observe(time.Since(start).Seconds())
	if err != nil {
		code := store.CodeOf(err)
		if code == "" {
			code = "unknown"
		}
		s.errors.WithLabelValues(table, op, code).Inc()
	}
}

// Table is an instrumented store.Table.
type Table struct {
	inner   store.Table
	metrics *Store
}

func (t *Table) Name() string { return t.inner.Name() }

func (t *Table) Load(ctx context.Context, pk, rk string) (*store.Row, error) {
	start := time.Now()
	row, err := t.inner.Load(ctx, pk, rk)
	t.metrics.observe(t.Name(), "load", start, err)
	return row, err
}

func (t *Table) Create(ctx context.Context, pk, rk string, value store.Value, overwrite bool, version int) (string, error) {
	start := time.Now()
	etag, err := t.inner.Create(ctx, pk, rk, value, overwrite, version)
	t.metrics.observe(t.Name(), "create", start, err)
	return etag, err
}

func (t *Table) Remove(ctx context.Context, pk, rk string) (*store.Row, error) {
	start := time.Now()
	row, err := t.inner.Remove(ctx, pk, rk)
	t.metrics.observe(t.Name(), "remove", start, err)
	return row, err
}

func (t *Table) Modify(ctx context.Context, pk, rk string, value store.Value, version int, expectedETag string) (string, error) {
	start := time.Now()
	etag, err := t.inner.Modify(ctx, pk, rk, value, version, expectedETag)
	t.metrics.observe(t.Name(), "modify", start, err)
	return etag, err
}

func (t *Table) Scan(ctx context.Context, req store.ScanRequest) ([]store.Row, error) {
	start := time.Now()
	rows, err := t.inner.Scan(ctx, req)
	t.metrics.observe(t.Name(), "scan", start, err)
	return rows, err
}
