package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yairfalse/allot/telemetry"
	"github.com/yairfalse/allot/types"
)

type mockS3Client struct {
	PutObjectFunc func(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

func (m *mockS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.PutObjectFunc != nil {
		return m.PutObjectFunc(ctx, params, optFns...)
	}
	return &s3.PutObjectOutput{}, nil
}

func testReport(id string) types.ChargebackReport {
	return types.ChargebackReport{
		ID:           id,
		TenantID:     3,
		ReportPeriod: types.ReportMonthly,
		ReportDate:   "2024-02-15",
		TotalCost:    types.MustMoney("42.10"),
	}
}

func TestObjectKey(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		want   string
	}{
		{"with prefix", "chargeback", "chargeback/tenant=3/2024-02-15-monthly-r1.json"},
		{"nested prefix with slash", "exports/allot/", "exports/allot/tenant=3/2024-02-15-monthly-r1.json"},
		{"no prefix", "", "tenant=3/2024-02-15-monthly-r1.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ObjectKey(tt.prefix, testReport("r1")))
		})
	}
}

func TestS3Exporter_Export(t *testing.T) {
	var uploaded []*s3.PutObjectInput
	var bodies [][]byte
	client := &mockS3Client{
		PutObjectFunc: func(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			body, err := io.ReadAll(params.Body)
			require.NoError(t, err)
			uploaded = append(uploaded, params)
			bodies = append(bodies, body)
			return &s3.PutObjectOutput{}, nil
		},
	}

	exporter := NewS3Exporter(client, "billing", WithPrefix("reports"),
		WithLogger(telemetry.NewLoggerWithWriter("export", &bytes.Buffer{})))

	keys, err := exporter.Export(context.Background(), 3, []types.ChargebackReport{testReport("r1"), testReport("r2")})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"reports/tenant=3/2024-02-15-monthly-r1.json",
		"reports/tenant=3/2024-02-15-monthly-r2.json",
	}, keys)

	require.Len(t, uploaded, 2)
	assert.Equal(t, "billing", aws.ToString(uploaded[0].Bucket))
	assert.Equal(t, "application/json", aws.ToString(uploaded[0].ContentType))

	var decoded types.ChargebackReport
	require.NoError(t, json.Unmarshal(bodies[0], &decoded))
	assert.Equal(t, "r1", decoded.ID)
	assert.Equal(t, "42.10", decoded.TotalCost.String())
}

func TestS3Exporter_StopsOnFailure(t *testing.T) {
	calls := 0
	client := &mockS3Client{
		PutObjectFunc: func(_ context.Context, _ *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			calls++
			if calls == 2 {
				return nil, errors.New("access denied")
			}
			return &s3.PutObjectOutput{}, nil
		},
	}

	exporter := NewS3Exporter(client, "billing", WithLogger(telemetry.NewLoggerWithWriter("export", &bytes.Buffer{})))
	keys, err := exporter.Export(context.Background(), 3, []types.ChargebackReport{testReport("r1"), testReport("r2"), testReport("r3")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
	assert.Len(t, keys, 1)
	assert.Equal(t, 2, calls)
}

func TestS3Exporter_RejectsForeignTenant(t *testing.T) {
	exporter := NewS3Exporter(&mockS3Client{}, "billing", WithLogger(telemetry.NewLoggerWithWriter("export", &bytes.Buffer{})))

	foreign := testReport("r9")
	foreign.TenantID = 4

	keys, err := exporter.Export(context.Background(), 3, []types.ChargebackReport{foreign})
	require.Error(t, err)
	assert.Empty(t, keys)
}
