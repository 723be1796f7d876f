package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yairfalse/allot/allocation"
	"github.com/yairfalse/allot/chargeback"
	"github.com/yairfalse/allot/internal/service"
	"github.com/yairfalse/allot/policy"
	"github.com/yairfalse/allot/storage"
	"github.com/yairfalse/allot/telemetry"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	var logs bytes.Buffer
	metrics := telemetry.NoopMetrics()
	clock := func() time.Time { return time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC) }

	store, err := storage.NewStore(t.TempDir(),
		storage.WithMetrics(metrics),
		storage.WithLogger(telemetry.NewLoggerWithWriter("storage", &logs)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc := service.New(store,
		allocation.NewEngine(allocation.DefaultRules(),
			allocation.WithLogger(telemetry.NewLoggerWithWriter("allocation", &logs)),
			allocation.WithMetrics(metrics)),
		policy.NewEvaluator(store, nil,
			policy.WithClock(clock),
			policy.WithLogger(telemetry.NewLoggerWithWriter("policy", &logs)),
			policy.WithMetrics(metrics)),
		chargeback.NewAggregator(
			chargeback.WithClock(clock),
			chargeback.WithLogger(telemetry.NewLoggerWithWriter("chargeback", &logs)),
			chargeback.WithMetrics(metrics)),
		service.WithClock(clock),
		service.WithLogger(telemetry.NewLoggerWithWriter("service", &logs)),
	)
	return NewServer(svc, WithLogger(telemetry.NewLoggerWithWriter("api", &logs)))
}

func do(t *testing.T, s *Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

const importBody = `{"records":[
	{"date":"2024-03-01","serviceName":"Amazon EC2","region":"us-east-1","resourceId":"i-1","costAmount":"100.00","tags":{"Owner":"web"}},
	{"date":"2024-03-02","serviceName":"Amazon S3","region":"us-east-1","resourceId":"b-1","costAmount":25.5}
]}`

func TestHealthz(t *testing.T) {
	code, body := do(t, newTestServer(t), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
}

func TestAllocationFlow(t *testing.T) {
	s := newTestServer(t)

	code, body := do(t, s, http.MethodPost, "/api/v1/tenants/5/records", importBody)
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, float64(2), body["imported"])

	code, body = do(t, s, http.MethodGet, "/api/v1/tenants/5/allocation?from=2024-03-01&to=2024-03-31", "")
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["usedFallbackRules"])

	records := body["allocatedRecords"].([]any)
	require.Len(t, records, 2)
	first := records[0].(map[string]any)
	assert.Equal(t, "infrastructure", first["costCenter"])
	assert.Equal(t, "default-ec2", first["ruleId"])
	assert.Nil(t, first["team"])

	summary := body["summary"].(map[string]any)
	assert.Equal(t, 125.5, summary["totalCost"])
}

func TestReportFlow(t *testing.T) {
	s := newTestServer(t)
	code, _ := do(t, s, http.MethodPost, "/api/v1/tenants/5/records", importBody)
	require.Equal(t, http.StatusCreated, code)

	code, body := do(t, s, http.MethodPost, "/api/v1/tenants/5/reports", `{"period":"monthly","reportDate":"2024-03-10"}`)
	require.Equal(t, http.StatusCreated, code, body)
	report := body["report"].(map[string]any)
	id := report["id"].(string)
	assert.Equal(t, 125.5, report["totalCost"])
	assert.Equal(t, "2024-03-01", report["periodStart"])

	code, body = do(t, s, http.MethodGet, "/api/v1/tenants/5/reports/"+id, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, id, body["report"].(map[string]any)["id"])

	code, _ = do(t, s, http.MethodGet, "/api/v1/tenants/6/reports/"+id, "")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = do(t, s, http.MethodGet, "/api/v1/tenants/5/reports", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["count"])

	code, body = do(t, s, http.MethodPost, "/api/v1/tenants/5/reports/export", `{}`)
	assert.Equal(t, http.StatusNotImplemented, code)
	assert.Equal(t, false, body["success"])

	code, body = do(t, s, http.MethodDelete, "/api/v1/tenants/5/reports", `{"ids":["`+id+`"]}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["deleted"])

	code, body = do(t, s, http.MethodPost, "/api/v1/tenants/5/reports", `{"period":"hourly"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "unknown report period")
}

func TestPolicyFlow(t *testing.T) {
	s := newTestServer(t)
	code, _ := do(t, s, http.MethodPost, "/api/v1/tenants/5/records", importBody)
	require.Equal(t, http.StatusCreated, code)

	code, body := do(t, s, http.MethodPost, "/api/v1/tenants/5/policies",
		`{"id":"tags","type":"tag_compliance","isActive":true}`)
	require.Equal(t, http.StatusCreated, code, body)

	code, body = do(t, s, http.MethodPost, "/api/v1/tenants/5/enforce", "")
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, float64(1), body["enforcedCount"])
	result := body["results"].([]any)[0].(map[string]any)
	assert.Equal(t, "tags", result["policyId"])
	assert.Equal(t, true, result["enforced"])

	code, body = do(t, s, http.MethodGet, "/api/v1/tenants/5/events?since=2024-01-01T00:00:00Z", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["events"], 1)

	code, body = do(t, s, http.MethodPut, "/api/v1/tenants/5/policies/tags/active", `{"active":false}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, false, body["policy"].(map[string]any)["isActive"])

	code, _ = do(t, s, http.MethodPut, "/api/v1/tenants/5/policies/tags/active", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, s, http.MethodPut, "/api/v1/tenants/5/policies/missing/active", `{"active":true}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = do(t, s, http.MethodGet, "/api/v1/tenants/5/policies", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body["policies"], 1)
}

func TestRuleFlow(t *testing.T) {
	s := newTestServer(t)

	code, body := do(t, s, http.MethodPost, "/api/v1/tenants/5/rules",
		`{"id":"web","ruleType":"tag_based","condition":{"tags":{"Owner":"web"}},"allocationTarget":{"team":"web"},"isActive":true}`)
	require.Equal(t, http.StatusCreated, code, body)

	code, body = do(t, s, http.MethodGet, "/api/v1/tenants/5/rules", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["rules"], 1)

	code, _ = do(t, s, http.MethodPost, "/api/v1/tenants/5/rules", `{"id":"bad","ruleType":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, s, http.MethodDelete, "/api/v1/tenants/5/rules/web", "")
	assert.Equal(t, http.StatusOK, code)

	code, _ = do(t, s, http.MethodDelete, "/api/v1/tenants/5/rules/web", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"bad tenant", http.MethodGet, "/api/v1/tenants/abc/rules", "", http.StatusBadRequest},
		{"negative tenant", http.MethodGet, "/api/v1/tenants/-1/rules", "", http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/api/v1/tenants/5/records", `{"records":`, http.StatusBadRequest},
		{"empty import", http.MethodPost, "/api/v1/tenants/5/records", `{"records":[]}`, http.StatusBadRequest},
		{"bad since", http.MethodGet, "/api/v1/tenants/5/events?since=yesterday", "", http.StatusBadRequest},
		{"unknown route", http.MethodGet, "/api/v2/nothing", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := do(t, s, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, code)
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["error"])
		})
	}
}
