// Package export writes chargeback reports to object storage.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/yairfalse/allot/telemetry"
	"github.com/yairfalse/allot/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// S3API defines the S3 operations used by the exporter.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Exporter writes one JSON object per report
type S3Exporter struct {
	client S3API
	bucket string
	prefix string
	logger *telemetry.Logger
	tracer trace.Tracer
}

// Option configures an S3Exporter
type Option func(*S3Exporter)

// WithPrefix sets the key prefix inside the bucket
func WithPrefix(prefix string) Option {
	return func(e *S3Exporter) {
		e.prefix = prefix
	}
}

// WithLogger overrides the exporter logger
func WithLogger(logger *telemetry.Logger) Option {
	return func(e *S3Exporter) {
		e.logger = logger
	}
}

// NewS3Exporter creates an exporter writing to bucket
func NewS3Exporter(client S3API, bucket string, opts ...Option) *S3Exporter {
	e := &S3Exporter{
		client: client,
		bucket: bucket,
		logger: telemetry.NewLogger("export"),
		tracer: otel.Tracer("allot/export"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewS3ExporterFromConfig creates an exporter from an AWS config
func NewS3ExporterFromConfig(cfg aws.Config, bucket string, opts ...Option) *S3Exporter {
	return NewS3Exporter(s3.NewFromConfig(cfg), bucket, opts...)
}

// ObjectKey returns <prefix>/tenant=<id>/<reportDate>-<period>-<id>.json
func ObjectKey(prefix string, report types.ChargebackReport) string {
	name := fmt.Sprintf("%s-%s-%s.json", report.ReportDate, report.ReportPeriod, report.ID)
	return path.Join(prefix, "tenant="+strconv.FormatInt(report.TenantID, 10), name)
}

// Export uploads every report and returns the written keys. It stops at
// the first failure; keys written before it are still returned.
func (e *S3Exporter) Export(ctx context.Context, tenantID int64, reports []types.ChargebackReport) ([]string, error) {
	ctx, span := e.tracer.Start(ctx, "export.s3",
		trace.WithAttributes(
			attribute.Int64("tenant.id", tenantID),
			attribute.String("bucket", e.bucket),
			attribute.Int("reports.count", len(reports)),
		))
	defer span.End()

	keys := make([]string, 0, len(reports))
	for _, report := range reports {
		if report.TenantID != tenantID {
			return keys, fmt.Errorf("report %s belongs to tenant %d", report.ID, report.TenantID)
		}

		body, err := json.Marshal(report)
		if err != nil {
			return keys, fmt.Errorf("failed to encode report %s: %w", report.ID, err)
		}

		key := ObjectKey(e.prefix, report)
		_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(e.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(body),
			ContentType: aws.String("application/json"),
		})
		if err != nil {
			span.RecordError(err)
			return keys, fmt.Errorf("failed to upload %s: %w", key, err)
		}
		keys = append(keys, key)
	}

	e.logger.WithContext(ctx).Info().
		Int64("tenant_id", tenantID).
		Str("bucket", e.bucket).
		Int("objects", len(keys)).
		Msg("reports exported")
	return keys, nil
}
