// Package resilience wraps every carrier call with timing, classification
// into StandardizedError, auditing and deferred retry.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tournevent/shiprouter/internal/retryqueue"
	"github.com/tournevent/shiprouter/internal/telemetry"
	"github.com/tournevent/shiprouter/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"github.com/zoobzio/clockz"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// Retry job types.
const (
	JobCreateShipment = "create_shipment"
	JobTrackShipment  = "track_shipment"
	JobPrintLabel     = "print_label"
)

// DetailRetryJobID is the StandardizedError detail holding the ID of the
// retry job enqueued for a failed call.
const DetailRetryJobID = "retry_job_id"

// Config tunes call timeouts and the inline create retry.
type Config struct {
	CallTimeout      time.Duration
	CreateAttempts   int
	CreateRetryDelay time.Duration
}

// DefaultConfig returns a 30s call timeout and 5 create attempts 2s apart.
func DefaultConfig() Config {
	return Config{
		CallTimeout:      30 * time.Second,
		CreateAttempts:   5,
		CreateRetryDelay: 2 * time.Second,
	}
}

// Enqueuer accepts deferred retries.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload any, lastErr string) (*retryqueue.Job, error)
}

// Executor runs carrier calls. Errors leaving it are always
// StandardizedErrors.
type Executor struct {
	config     Config
	logger     *otelzap.Logger
	tracer     trace.Tracer
	metrics    *telemetry.Metrics
	clock      clockz.Clock
	audit      AuditSink
	queue      Enqueuer
	translator *Translator
}

// New creates an Executor. Zero config values take the defaults.
func New(cfg Config, logger *otelzap.Logger) *Executor {
	def := DefaultConfig()
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.CreateAttempts <= 0 {
		cfg.CreateAttempts = def.CreateAttempts
	}
	if cfg.CreateRetryDelay <= 0 {
		cfg.CreateRetryDelay = def.CreateRetryDelay
	}
	return &Executor{
		config:     cfg,
		logger:     logger,
		tracer:     noop.NewTracerProvider().Tracer("resilience"),
		clock:      clockz.RealClock,
		translator: defaultTranslator,
	}
}

// WithTracer sets the tracer.
func (e *Executor) WithTracer(t trace.Tracer) *Executor {
	if t != nil {
		e.tracer = t
	}
	return e
}

// WithMetrics sets the metrics recorder.
func (e *Executor) WithMetrics(m *telemetry.Metrics) *Executor {
	e.metrics = m
	return e
}

// WithClock sets the clock used for durations, timeouts and retry delays.
func (e *Executor) WithClock(c clockz.Clock) *Executor {
	e.clock = c
	return e
}

// WithAudit sets the audit sink.
func (e *Executor) WithAudit(sink AuditSink) *Executor {
	e.audit = sink
	return e
}

// WithQueue sets where retryable failures are deferred.
func (e *Executor) WithQueue(q Enqueuer) *Executor {
	e.queue = q
	return e
}

// WithTranslator sets the merchant message translator.
func (e *Executor) WithTranslator(t *Translator) *Executor {
	e.translator = t
	return e
}

// MerchantMessage translates err for display to the merchant.
func (e *Executor) MerchantMessage(err *shipper.StandardizedError) string {
	return e.translator.Message(err)
}

// AttemptReference derives the idempotency key for one create attempt.
func AttemptReference(base string, attempt int) string {
	return fmt.Sprintf("%s-a%d-%s", base, attempt, uuid.NewString()[:8])
}

// CreateShipment books a shipment. The tracking number allocation failure
// is retried inline with a fresh reference per attempt; any other error ends
// the loop. A retryable final failure is deferred to the retry queue.
func (e *Executor) CreateShipment(ctx context.Context, s shipper.Shipper, req *shipper.CreateShipmentRequest) (*shipper.ShipmentResult, *shipper.StandardizedError) {
	base := req.Reference
	if base == "" {
		base = req.OrderID
	}

	var (
		res    *shipper.ShipmentResult
		stdErr *shipper.StandardizedError
	)
	for attempt := 1; attempt <= e.config.CreateAttempts; attempt++ {
		attemptReq := *req
		attemptReq.Reference = AttemptReference(base, attempt)

		res, stdErr = execute(ctx, e, call{
			action:     JobCreateShipment,
			resource:   "shipment",
			resourceID: req.OrderID,
			carrier:    s,
			request:    &attemptReq,
		}, func(ctx context.Context) (*shipper.ShipmentResult, error) {
			return s.CreateShipment(ctx, &attemptReq)
		}, func(r *shipper.ShipmentResult) shipper.Response { return r.Response })

		if stdErr == nil || !errors.Is(stdErr, shipper.ErrTrackingNumberPending) || attempt == e.config.CreateAttempts {
			break
		}

		e.logger.Ctx(ctx).Warn("Tracking number allocation pending, retrying",
			zap.String("carrier", s.Name()),
			zap.String("order_id", req.OrderID),
			zap.Int("attempt", attempt),
		)
		select {
		case <-ctx.Done():
			return nil, Classify(s.Name(), ctx.Err())
		case <-e.clock.After(e.config.CreateRetryDelay):
		}
	}

	if stdErr != nil {
		retryReq := *req
		retryReq.Reference = base
		e.enqueueRetry(ctx, JobCreateShipment, createPayload{Carrier: s.Name(), Request: retryReq}, stdErr)
		return nil, stdErr
	}
	return res, nil
}

// TrackShipment fetches carrier tracking history.
func (e *Executor) TrackShipment(ctx context.Context, s shipper.Shipper, trackingNumber string) (*shipper.TrackingResult, *shipper.StandardizedError) {
	res, stdErr := execute(ctx, e, call{
		action:     JobTrackShipment,
		resource:   "tracking",
		resourceID: trackingNumber,
		carrier:    s,
		request:    map[string]string{"tracking_number": trackingNumber},
	}, func(ctx context.Context) (*shipper.TrackingResult, error) {
		return s.TrackShipment(ctx, trackingNumber)
	}, func(r *shipper.TrackingResult) shipper.Response { return r.Response })

	if stdErr != nil {
		e.enqueueRetry(ctx, JobTrackShipment, trackPayload{Carrier: s.Name(), TrackingNumber: trackingNumber}, stdErr)
	}
	return res, stdErr
}

// PrintLabel fetches label references for tracking numbers.
func (e *Executor) PrintLabel(ctx context.Context, s shipper.Shipper, trackingNumbers []string) (*shipper.LabelResult, *shipper.StandardizedError) {
	res, stdErr := execute(ctx, e, call{
		action:     JobPrintLabel,
		resource:   "label",
		resourceID: strings.Join(trackingNumbers, ","),
		carrier:    s,
		request:    map[string][]string{"tracking_numbers": trackingNumbers},
	}, func(ctx context.Context) (*shipper.LabelResult, error) {
		return s.PrintLabel(ctx, trackingNumbers)
	}, func(r *shipper.LabelResult) shipper.Response { return r.Response })

	if stdErr != nil {
		e.enqueueRetry(ctx, JobPrintLabel, labelPayload{Carrier: s.Name(), TrackingNumbers: trackingNumbers}, stdErr)
	}
	return res, stdErr
}

// ValidateAddress asks the carrier to validate addr. Carriers without an
// address endpoint yield an internal_error.
func (e *Executor) ValidateAddress(ctx context.Context, s shipper.Shipper, addr shipper.Address) (*shipper.AddressValidationResult, *shipper.StandardizedError) {
	v, ok := s.(shipper.AddressValidator)
	if !ok {
		return nil, shipper.NewStandardizedError(shipper.ClassInternalError, s.Name(), "carrier does not support address validation")
	}
	return execute(ctx, e, call{
		action:     "validate_address",
		resource:   "address",
		resourceID: addr.PostalCode,
		carrier:    s,
		request:    addr,
	}, func(ctx context.Context) (*shipper.AddressValidationResult, error) {
		return v.ValidateAddress(ctx, addr)
	}, func(r *shipper.AddressValidationResult) shipper.Response { return r.Response })
}

// CheckCoverage asks the carrier whether it serves addr. An uncovered
// destination returns the result together with a coverage_not_available
// error.
func (e *Executor) CheckCoverage(ctx context.Context, s shipper.Shipper, addr shipper.Address, pkg shipper.PackageSpec) (*shipper.CoverageResult, *shipper.StandardizedError) {
	c, ok := s.(shipper.CoverageChecker)
	if !ok {
		return nil, shipper.NewStandardizedError(shipper.ClassInternalError, s.Name(), "carrier does not support coverage checks")
	}
	res, stdErr := execute(ctx, e, call{
		action:     "check_coverage",
		resource:   "coverage",
		resourceID: addr.PostalCode,
		carrier:    s,
		request:    map[string]any{"postal_code": addr.PostalCode, "country_code": addr.CountryCode, "package": pkg},
	}, func(ctx context.Context) (*shipper.CoverageResult, error) {
		return c.CheckCoverage(ctx, addr, pkg)
	}, func(r *shipper.CoverageResult) shipper.Response { return r.Response })
	if stdErr != nil {
		return nil, stdErr
	}
	if !res.Covered {
		msg := "destination is outside the carrier service area"
		if res.Reason != "" {
			msg = res.Reason
		}
		return res, shipper.NewStandardizedError(shipper.ClassCoverageNotAvailable, s.Name(), msg).
			WithCause(shipper.ErrCoverageNotAvailable).
			WithTimestamp(e.clock.Now().UTC())
	}
	return res, nil
}

// enqueueRetry enqueues a retry job for a retryable failure, unless the call is
// itself a retry queue execution. The job ID is recorded on stdErr.
func (e *Executor) enqueueRetry(ctx context.Context, jobType string, payload any, stdErr *shipper.StandardizedError) {
	if e.queue == nil || !stdErr.Retryable {
		return
	}
	if _, inRetry := retryqueue.RetryExecution(ctx); inRetry {
		return
	}
	job, err := e.queue.Enqueue(context.WithoutCancel(ctx), jobType, payload, stdErr.Error())
	if err != nil {
		e.logger.Ctx(ctx).Error("Enqueuing retry job failed", zap.String("type", jobType), zap.Error(err))
		return
	}
	stdErr.WithDetail(DetailRetryJobID, job.ID)
}

// call describes one audited carrier call.
type call struct {
	action     string
	resource   string
	resourceID string
	carrier    shipper.Shipper
	request    any
}

func execute[T any](ctx context.Context, e *Executor, c call, fn func(context.Context) (*T, error), envelope func(*T) shipper.Response) (*T, *shipper.StandardizedError) {
	carrier := c.carrier.Name()
	ctx, span := e.tracer.Start(ctx, "resilience."+c.action, trace.WithAttributes(
		attribute.String("carrier", carrier),
		attribute.String("resource_id", c.resourceID),
	))
	defer span.End()

	start := e.clock.Now()
	callCtx, cancel := e.clock.WithTimeout(ctx, e.config.CallTimeout)
	res, err := fn(callCtx)
	cancel()
	elapsed := e.clock.Since(start)

	if err == nil && res == nil {
		err = fmt.Errorf("%w: empty response", shipper.ErrUnsuccessfulResponse)
	}
	if err == nil {
		if resp := envelope(res); !c.carrier.IsSuccessfulResponse(resp) {
			err = &softFailure{resp: resp}
		}
	}

	var stdErr *shipper.StandardizedError
	outcome := "success"
	if err != nil {
		stdErr = Classify(carrier, err).WithTimestamp(e.clock.Now().UTC())
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, string(stdErr.Class))
		e.metrics.RecordCarrierError(carrier, string(stdErr.Class))
		e.logger.Ctx(ctx).Warn("Carrier call failed",
			zap.String("action", c.action),
			zap.String("carrier", carrier),
			zap.String("class", string(stdErr.Class)),
			zap.String("carrier_code", stdErr.CarrierCode),
			zap.Bool("retryable", stdErr.Retryable),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
	}
	e.metrics.RecordCarrierCall(c.action, carrier, outcome, elapsed.Seconds())

	var response any
	if res != nil {
		response = res
	}
	e.writeAudit(ctx, c, response, stdErr, elapsed)

	if stdErr != nil {
		return nil, stdErr
	}
	return res, nil
}

func (e *Executor) writeAudit(ctx context.Context, c call, response any, stdErr *shipper.StandardizedError, elapsed time.Duration) {
	if e.audit == nil {
		return
	}
	actor := ActorFrom(ctx)
	entry := AuditEntry{
		ID:             uuid.NewString(),
		Timestamp:      e.clock.Now().UTC(),
		OrganizationID: actor.OrganizationID,
		UserID:         actor.UserID,
		Action:         c.action,
		Resource:       c.resource,
		ResourceID:     c.resourceID,
		Carrier:        c.carrier.Name(),
		Request:        Sanitize(c.request),
		Response:       Sanitize(response),
		Success:        stdErr == nil,
		DurationMs:     elapsed.Milliseconds(),
	}
	if stdErr != nil {
		entry.ErrorMessage = stdErr.Error()
	}
	if err := e.audit.WriteAudit(context.WithoutCancel(ctx), entry); err != nil {
		e.logger.Ctx(ctx).Error("Writing audit entry failed",
			zap.String("action", c.action),
			zap.Error(err),
		)
	}
}
