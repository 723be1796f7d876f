package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/yairfalse/allot/types"
	"go.etcd.io/bbolt"
)

// eventKey orders events by tenant, timestamp, then insertion
func eventKey(tenantID int64, ts time.Time, seq uint64) []byte {
	return tenantKey(tenantID, uint64Bytes(uint64(ts.UnixNano())), uint64Bytes(seq)) //nolint:gosec // timestamps are after 1970
}

// AppendEvent stores a governance event. Events are never updated.
func (s *Store) AppendEvent(ctx context.Context, event types.GovernanceEvent) error {
	if err := validateEvent(event); err != nil {
		return s.record(ctx, "append_event", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketEvents)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		return putJSON(bucket, eventKey(event.TenantID, event.Timestamp, seq), event)
	})
	if err != nil {
		err = fmt.Errorf("failed to store event: %w", err)
	}
	return s.record(ctx, "append_event", err)
}

// eventSeekKey is the first key of a tenant's events at or after since.
// Times before the epoch start at the tenant's first event.
func eventSeekKey(tenantID int64, since time.Time) []byte {
	if since.Before(time.Unix(0, 0)) {
		return tenantPrefix(tenantID)
	}
	return tenantKey(tenantID, uint64Bytes(uint64(since.UnixNano()))) //nolint:gosec // checked above
}

// Events returns a tenant's events at or after since, oldest first
func (s *Store) Events(ctx context.Context, tenantID int64, since time.Time) ([]types.GovernanceEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []types.GovernanceEvent
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		events, err = scanFrom[types.GovernanceEvent](ctx, tx.Bucket(bucketEvents),
			tenantPrefix(tenantID), eventSeekKey(tenantID, since), nil)
		return err
	})
	if err != nil {
		return nil, s.record(ctx, "events", fmt.Errorf("query failed: %w", err))
	}
	return events, s.record(ctx, "events", nil)
}
