package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/yairfalse/allot/chargeback"
	"github.com/yairfalse/allot/storage"
	"github.com/yairfalse/allot/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ReportResponse carries a single report
type ReportResponse struct {
	Status
	Report *types.ChargebackReport `json:"report,omitempty"`
}

// ReportListResponse carries a tenant's reports
type ReportListResponse struct {
	Status
	Reports []types.ChargebackReport `json:"reports"`
	Count   int                      `json:"count"`
}

// DeleteResponse reports how many items were removed
type DeleteResponse struct {
	Status
	Deleted int `json:"deleted"`
}

// ExportResponse lists the object keys written
type ExportResponse struct {
	Status
	Keys []string `json:"keys"`
}

// GenerateReport allocates the records inside the period window around
// reportDate, aggregates them and persists the report. An empty
// reportDate means today.
func (s *Service) GenerateReport(ctx context.Context, tenantID int64, period, reportDate string) ReportResponse {
	ctx, span := s.tracer.Start(ctx, "service.generate_report",
		trace.WithAttributes(
			attribute.Int64("tenant.id", tenantID),
			attribute.String("report.period", period),
		))
	defer span.End()

	if reportDate == "" {
		reportDate = s.today()
	}

	from, to, err := chargeback.WindowDays(period, reportDate)
	if err != nil {
		return ReportResponse{Status: failed(fmt.Errorf("%w: %w", ErrInvalidRequest, err))}
	}

	snap, err := s.loadSnapshot(ctx, tenantID, from, to)
	if err != nil {
		return ReportResponse{Status: failed(err)}
	}

	allocated := s.runAllocation(ctx, snap)
	report, err := s.aggregator.Aggregate(ctx, period, reportDate, allocated.Records)
	if err != nil {
		return ReportResponse{Status: failed(err)}
	}
	report.TenantID = tenantID

	if err := s.store.SaveReport(ctx, report); err != nil {
		return ReportResponse{Status: failed(fmt.Errorf("failed to save report: %w", err))}
	}

	s.logger.WithContext(ctx).Info().
		Int64("tenant_id", tenantID).
		Str("report_id", report.ID).
		Str("period", period).
		Str("total_cost", report.TotalCost.String()).
		Msg("chargeback report generated")

	if s.emitter != nil {
		if err := s.emitter.Emit(ctx, report); err != nil {
			s.logger.WithTenant(ctx, tenantID).Warn().Err(err).
				Str("report_id", report.ID).
				Msg("report emit failed")
		}
	}

	return ReportResponse{Status: ok(), Report: &report}
}

// Report returns one of the tenant's reports
func (s *Service) Report(ctx context.Context, tenantID int64, id string) ReportResponse {
	report, err := s.store.Report(ctx, id)
	if err != nil {
		return ReportResponse{Status: failed(err)}
	}
	if report.TenantID != tenantID {
		return ReportResponse{Status: failed(fmt.Errorf("report %s: %w", id, storage.ErrNotFound))}
	}
	return ReportResponse{Status: ok(), Report: &report}
}

// ListReports returns a tenant's reports ordered by report date
func (s *Service) ListReports(ctx context.Context, tenantID int64) ReportListResponse {
	reports, err := s.store.ReportsByTenant(ctx, tenantID)
	if err != nil {
		return ReportListResponse{Status: failed(err)}
	}
	return ReportListResponse{Status: ok(), Reports: reports, Count: len(reports)}
}

// DeleteReports removes the listed reports owned by the tenant
func (s *Service) DeleteReports(ctx context.Context, tenantID int64, ids []string) DeleteResponse {
	if len(ids) == 0 {
		return DeleteResponse{Status: failed(invalid("no report ids given"))}
	}

	deleted, err := s.store.DeleteReports(ctx, tenantID, ids)
	if err != nil {
		return DeleteResponse{Status: failed(err)}
	}
	return DeleteResponse{Status: ok(), Deleted: deleted}
}

// ExportReports uploads the listed reports, or every report of the
// tenant when ids is empty.
func (s *Service) ExportReports(ctx context.Context, tenantID int64, ids []string) ExportResponse {
	if s.exporter == nil {
		return ExportResponse{Status: failed(ErrExportDisabled)}
	}

	var reports []types.ChargebackReport
	if len(ids) == 0 {
		all, err := s.store.ReportsByTenant(ctx, tenantID)
		if err != nil {
			return ExportResponse{Status: failed(err)}
		}
		reports = all
	} else {
		for _, id := range ids {
			resp := s.Report(ctx, tenantID, id)
			if !resp.Success {
				return ExportResponse{Status: resp.Status}
			}
			reports = append(reports, *resp.Report)
		}
	}

	keys, err := s.exporter.Export(ctx, tenantID, reports)
	if err != nil {
		return ExportResponse{Status: failed(fmt.Errorf("export failed: %w", err)), Keys: keys}
	}
	return ExportResponse{Status: ok(), Keys: keys}
}

// IsNotFound reports whether a response failed because an item does not exist
func IsNotFound(st Status) bool {
	return errors.Is(st.Err, storage.ErrNotFound)
}

// IsInvalid reports whether a response failed validation
func IsInvalid(st Status) bool {
	return errors.Is(st.Err, ErrInvalidRequest)
}
