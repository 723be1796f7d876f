package storage

import (
	"context"
	"fmt"

	"github.com/yairfalse/allot/types"
	"go.etcd.io/bbolt"
)

// costKey orders records by tenant, day, then insertion
func costKey(tenantID int64, day string, seq uint64) []byte {
	return tenantKey(tenantID, []byte(day), uint64Bytes(seq))
}

// PutCostRecords stores records atomically. A record that fails
// validation rejects the whole batch.
func (s *Store) PutCostRecords(ctx context.Context, records []types.CostRecord) error {
	days := make([]string, len(records))
	for i, r := range records {
		day, err := validateCostRecord(r)
		if err != nil {
			return s.record(ctx, "put_cost_records", fmt.Errorf("record %d: %w", i, err))
		}
		days[i] = day
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketCosts)
		for i, r := range records {
			seq, err := bucket.NextSequence()
			if err != nil {
				return err
			}
			if err := putJSON(bucket, costKey(r.TenantID, days[i], seq), r); err != nil {
				return fmt.Errorf("failed to put record at index %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		err = fmt.Errorf("failed to store cost records: %w", err)
	}
	return s.record(ctx, "put_cost_records", err)
}

// CostRecords returns a tenant's records dated within [from, to].
// Empty bounds are open.
func (s *Store) CostRecords(ctx context.Context, tenantID int64, from, to string) ([]types.CostRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []types.CostRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		records, err = costRecordsTx(ctx, tx, tenantID, from, to)
		return err
	})
	if err != nil {
		return nil, s.record(ctx, "cost_records", fmt.Errorf("query failed: %w", err))
	}
	return records, s.record(ctx, "cost_records", nil)
}

func costRecordsTx(ctx context.Context, tx *bbolt.Tx, tenantID int64, from, to string) ([]types.CostRecord, error) {
	if from != "" {
		day, err := types.DayKey(from)
		if err != nil {
			return nil, err
		}
		from = day
	}
	if to != "" {
		day, err := types.DayKey(to)
		if err != nil {
			return nil, err
		}
		to = day
	}

	prefix := tenantPrefix(tenantID)
	c := tx.Bucket(bucketCosts).Cursor()

	start := prefix
	if from != "" {
		start = tenantKey(tenantID, []byte(from))
	}

	var records []types.CostRecord
	for k, v := c.Seek(start); k != nil && len(k) >= len(prefix)+len(types.DateLayout); k, v = c.Next() {
		if err := checkContext(ctx); err != nil {
			return nil, err
		}
		if string(k[:len(prefix)]) != string(prefix) {
			break
		}

		day := string(k[len(prefix) : len(prefix)+len(types.DateLayout)])
		if to != "" && day > to {
			break
		}

		var r types.CostRecord
		if err := decode(v, &r); err != nil {
			continue
		}
		records = append(records, r)
	}
	return records, nil
}
