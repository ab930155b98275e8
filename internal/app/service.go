package app

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/hylla/trellis/internal/telemetry"
)

// DefaultMaxOpsPerBatch caps batch size when ServiceConfig leaves it unset.
const DefaultMaxOpsPerBatch = 200

// ServiceConfig holds configuration for service.
type ServiceConfig struct {
	Logger         Logger
	Tracer         trace.Tracer
	Metrics        *telemetry.Metrics
	MaxOpsPerBatch int
}

// IDGenerator returns unique identifiers for new entities.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// Service applies operation batches and serves derived read models.
type Service struct {
	store     Store
	idGen     IDGenerator
	clock     Clock
	log       Logger
	tracer    trace.Tracer
	metrics   *telemetry.Metrics
	validator *argValidator
	maxOps    int
}

// NewService constructs a service. It fails only if the built-in argument schemas do not compile.
func NewService(store Store, idGen IDGenerator, clock Clock, cfg ServiceConfig) (*Service, error) {
	if idGen == nil {
		idGen = uuid.NewString
	}
	if clock == nil {
		clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = nopLogger{}
	}
	noop := telemetry.Noop()
	if cfg.Tracer == nil {
		cfg.Tracer = noop.Tracer
	}
	if cfg.Metrics == nil {
		metrics, err := telemetry.NewMetrics(noop.Meter)
		if err != nil {
			return nil, fmt.Errorf("create metrics: %w", err)
		}
		cfg.Metrics = metrics
	}
	if cfg.MaxOpsPerBatch <= 0 {
		cfg.MaxOpsPerBatch = DefaultMaxOpsPerBatch
	}
	validator, err := loadArgValidator()
	if err != nil {
		return nil, err
	}
	return &Service{
		store:     store,
		idGen:     idGen,
		clock:     clock,
		log:       cfg.Logger,
		tracer:    cfg.Tracer,
		metrics:   cfg.Metrics,
		validator: validator,
		maxOps:    cfg.MaxOpsPerBatch,
	}, nil
}

// newID returns the caller-supplied id or a generated one.
func (s *Service) newID(supplied string) string {
	if supplied != "" {
		return supplied
	}
	return s.idGen()
}

// now returns the service clock in UTC.
func (s *Service) now() time.Time {
	return s.clock().UTC()
}
