// Package service orchestrates storage and the allocation, policy and
// chargeback engines. Every operation returns a response value; failures
// of collaborators become {success:false, error} instead of Go errors.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/yairfalse/allot/allocation"
	"github.com/yairfalse/allot/chargeback"
	"github.com/yairfalse/allot/policy"
	"github.com/yairfalse/allot/storage"
	"github.com/yairfalse/allot/telemetry"
	"github.com/yairfalse/allot/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// ErrInvalidRequest marks requests rejected before reaching storage
var ErrInvalidRequest = errors.New("invalid request")

// ErrExportDisabled is returned when no exporter is configured
var ErrExportDisabled = errors.New("report export is not configured")

// Store is the storage surface the service needs
type Store interface {
	storage.CostWriter
	storage.CostReader
	storage.RuleStore
	storage.PolicyStore
	storage.EventReader
	storage.ReportWriter
	storage.ReportReader
	storage.Snapshotter
}

// Exporter writes reports to an external destination
type Exporter interface {
	Export(ctx context.Context, tenantID int64, reports []types.ChargebackReport) ([]string, error)
}

// ReportEmitter publishes saved reports to metric backends
type ReportEmitter interface {
	Emit(ctx context.Context, report types.ChargebackReport) error
}

// Service is the boundary between transports and the engines
type Service struct {
	store      Store
	engine     *allocation.Engine
	evaluator  *policy.Evaluator
	aggregator *chargeback.Aggregator
	exporter   Exporter
	emitter    ReportEmitter
	validate   *validator.Validate
	now        func() time.Time
	logger     *telemetry.Logger
	tracer     trace.Tracer
}

// Option configures a Service
type Option func(*Service)

// WithExporter enables report export
func WithExporter(exporter Exporter) Option {
	return func(s *Service) {
		s.exporter = exporter
	}
}

// WithEmitter publishes every generated report
func WithEmitter(emitter ReportEmitter) Option {
	return func(s *Service) {
		s.emitter = emitter
	}
}

// WithClock sets the clock used to default report dates
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLogger overrides the service logger
func WithLogger(logger *telemetry.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// New creates a service
func New(store Store, engine *allocation.Engine, evaluator *policy.Evaluator, aggregator *chargeback.Aggregator, opts ...Option) *Service {
	s := &Service{
		store:      store,
		engine:     engine,
		evaluator:  evaluator,
		aggregator: aggregator,
		validate:   validator.New(),
		now:        time.Now,
		logger:     telemetry.NewLogger("service"),
		tracer:     otel.Tracer("allot/service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Status is embedded in every response
type Status struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	// Err keeps the cause for transports that map errors to status codes
	Err error `json:"-"`
}

func ok() Status {
	return Status{Success: true}
}

func failed(err error) Status {
	return Status{Error: err.Error(), Err: err}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// today returns the service clock's date
func (s *Service) today() string {
	return types.FormatDay(s.now())
}
