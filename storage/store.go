// Package storage persists cost records, allocation configuration,
// governance events and chargeback reports in an embedded bbolt database.
package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/yairfalse/allot/telemetry"
	"go.etcd.io/bbolt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// ErrNotFound is returned when a keyed item does not exist
var ErrNotFound = errors.New("not found")

// DBFileName is the database file created inside the storage directory
const DBFileName = "allot.db"

// Bucket names in bbolt
var (
	bucketCosts    = []byte("costs")
	bucketRules    = []byte("rules")
	bucketPolicies = []byte("policies")
	bucketEvents   = []byte("events")
	bucketReports  = []byte("reports")
)

// Store is the bbolt-backed store. Reports are additionally indexed in
// memory by (tenant, report date, id).
type Store struct {
	mu sync.RWMutex

	// In-memory report index
	reports *btree.BTreeG[reportEntry]

	// On-disk storage
	db *bbolt.DB

	dir     string
	now     func() time.Time
	logger  *telemetry.Logger
	tracer  trace.Tracer
	metrics *telemetry.Metrics
}

// Option configures a Store
type Option func(*Store)

// WithMetrics overrides the store instruments
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(s *Store) {
		s.metrics = metrics
	}
}

// WithLogger overrides the store logger
func WithLogger(logger *telemetry.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore opens or creates the database in dir
func NewStore(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bbolt.Open(filepath.Join(dir, DBFileName), 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketCosts, bucketRules, bucketPolicies, bucketEvents, bucketReports} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		reports: newReportIndex(),
		db:      db,
		dir:     dir,
		now:     time.Now,
		logger:  telemetry.NewLogger("storage"),
		tracer:  otel.Tracer("allot/storage"),
		metrics: telemetry.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.rebuildReportIndex(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to rebuild report index: %w", err)
	}

	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Stats returns the number of indexed reports and the database file size
func (s *Store) Stats() (reportCount int, dbSizeBytes int64) {
	s.mu.RLock()
	reportCount = s.reports.Len()
	s.mu.RUnlock()

	if info, err := os.Stat(filepath.Join(s.dir, DBFileName)); err == nil {
		dbSizeBytes = info.Size()
	}
	return reportCount, dbSizeBytes
}

// record counts a storage operation and logs failures
func (s *Store) record(ctx context.Context, operation string, err error) error {
	s.metrics.RecordStorageOperation(ctx, operation, err)
	if err != nil {
		s.logger.LogStorageError(ctx, operation, err)
	}
	return err
}

// checkContext aborts long scans when the caller has gone away
func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// Key helpers

// tenantPrefix encodes a tenant id so keys sort by tenant first
func tenantPrefix(tenantID int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(tenantID)) //nolint:gosec // tenant ids are validated non-negative
	return key
}

func tenantKey(tenantID int64, parts ...[]byte) []byte {
	key := tenantPrefix(tenantID)
	for _, p := range parts {
		key = append(key, p...)
	}
	return key
}

func uint64Bytes(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

// putJSON stores any value as JSON under key
func putJSON[T any](bucket *bbolt.Bucket, key []byte, v T) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return bucket.Put(key, value)
}

// scanPrefix decodes every value whose key starts with prefix, in key order.
// Values that fail to decode are skipped.
func scanPrefix[T any](ctx context.Context, bucket *bbolt.Bucket, prefix []byte, keep func(key []byte, v T) bool) ([]T, error) {
	return scanFrom(ctx, bucket, prefix, prefix, keep)
}

// scanFrom is scanPrefix starting at the first key >= start
func scanFrom[T any](ctx context.Context, bucket *bbolt.Bucket, prefix, start []byte, keep func(key []byte, v T) bool) ([]T, error) {
	var out []T
	c := bucket.Cursor()
	for k, v := c.Seek(start); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if err := checkContext(ctx); err != nil {
			return nil, err
		}

		var item T
		if err := json.Unmarshal(v, &item); err != nil {
			continue
		}
		if keep != nil && !keep(k, item) {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
