package storage

import (
	"context"
	"fmt"

	"github.com/google/btree"
	"github.com/yairfalse/allot/types"
	"go.etcd.io/bbolt"
)

// reportEntry locates a report in the index
type reportEntry struct {
	TenantID   int64
	ReportDate string
	ID         string
}

// Less orders entries by tenant, report date, then id
func (e reportEntry) Less(than reportEntry) bool {
	if e.TenantID != than.TenantID {
		return e.TenantID < than.TenantID
	}
	if e.ReportDate != than.ReportDate {
		return e.ReportDate < than.ReportDate
	}
	return e.ID < than.ID
}

func newReportIndex() *btree.BTreeG[reportEntry] {
	return btree.NewG[reportEntry](32, func(a, b reportEntry) bool {
		return a.Less(b)
	})
}

func entryFor(r types.ChargebackReport) reportEntry {
	return reportEntry{TenantID: r.TenantID, ReportDate: r.ReportDate, ID: r.ID}
}

// rebuildIndex scans the reports bucket into the in-memory index
func (s *Store) rebuildReportIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketReports).ForEach(func(_, v []byte) error {
			var r types.ChargebackReport
			if err := decode(v, &r); err != nil {
				return nil
			}
			s.reports.ReplaceOrInsert(entryFor(r))
			return nil
		})
	})
}

// SaveReport stores a report. Reports are immutable: saving an existing id fails.
func (s *Store) SaveReport(ctx context.Context, report types.ChargebackReport) error {
	if err := validateReport(report); err != nil {
		return s.record(ctx, "save_report", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketReports)
		if bucket.Get([]byte(report.ID)) != nil {
			return fmt.Errorf("report %s already exists", report.ID)
		}
		return putJSON(bucket, []byte(report.ID), report)
	})
	if err != nil {
		return s.record(ctx, "save_report", fmt.Errorf("failed to store report: %w", err))
	}

	// Update in-memory index only after commit
	s.reports.ReplaceOrInsert(entryFor(report))
	return s.record(ctx, "save_report", nil)
}

// Report returns a report by id
func (s *Store) Report(ctx context.Context, id string) (types.ChargebackReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var report types.ChargebackReport
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketReports).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("report %s: %w", id, ErrNotFound)
		}
		return decode(data, &report)
	})
	if err != nil {
		return types.ChargebackReport{}, s.record(ctx, "report", err)
	}
	return report, s.record(ctx, "report", nil)
}

// ReportsByTenant returns a tenant's reports ordered by report date then id
func (s *Store) ReportsByTenant(ctx context.Context, tenantID int64) ([]types.ChargebackReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	s.reports.AscendRange(reportEntry{TenantID: tenantID}, reportEntry{TenantID: tenantID + 1}, func(e reportEntry) bool {
		ids = append(ids, e.ID)
		return true
	})

	reports := make([]types.ChargebackReport, 0, len(ids))
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketReports)
		for _, id := range ids {
			if err := checkContext(ctx); err != nil {
				return err
			}
			data := bucket.Get([]byte(id))
			if data == nil {
				continue
			}
			var r types.ChargebackReport
			if err := decode(data, &r); err != nil {
				continue
			}
			reports = append(reports, r)
		}
		return nil
	})
	if err != nil {
		return nil, s.record(ctx, "reports_by_tenant", fmt.Errorf("query failed: %w", err))
	}
	return reports, s.record(ctx, "reports_by_tenant", nil)
}

// DeleteReports removes the listed reports owned by tenantID and returns
// how many were deleted. Ids of other tenants or unknown ids are ignored.
func (s *Store) DeleteReports(ctx context.Context, tenantID int64, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted []reportEntry
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketReports)
		for _, id := range ids {
			data := bucket.Get([]byte(id))
			if data == nil {
				continue
			}
			var r types.ChargebackReport
			if err := decode(data, &r); err != nil {
				return fmt.Errorf("failed to decode report %s: %w", id, err)
			}
			if r.TenantID != tenantID {
				continue
			}
			if err := bucket.Delete([]byte(id)); err != nil {
				return err
			}
			deleted = append(deleted, entryFor(r))
		}
		return nil
	})
	if err != nil {
		return 0, s.record(ctx, "delete_reports", fmt.Errorf("failed to delete reports: %w", err))
	}

	for _, e := range deleted {
		s.reports.Delete(e)
	}
	return len(deleted), s.record(ctx, "delete_reports", nil)
}
