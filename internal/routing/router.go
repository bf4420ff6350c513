package routing

import (
	"context"

	"github.com/tournevent/shiprouter/internal/address"
	"github.com/tournevent/shiprouter/internal/eligibility"
	"github.com/tournevent/shiprouter/internal/events"
	"github.com/tournevent/shiprouter/internal/rates"
	"github.com/tournevent/shiprouter/internal/resilience"
	"github.com/tournevent/shiprouter/internal/telemetry"
	"github.com/tournevent/shiprouter/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// ReasonNotCovered is added to the eligibility reasons when the discount
// carrier reports the destination outside its service area.
const ReasonNotCovered = "destination not covered by discount carrier"

// DecisionStore persists routing decisions.
type DecisionStore interface {
	SaveDecision(ctx context.Context, d Decision) error
}

// ShipmentStore persists created shipments.
type ShipmentStore interface {
	SaveShipment(ctx context.Context, rec shipper.ShipmentRecord) error
}

// Executor performs resilient carrier calls.
type Executor interface {
	CreateShipment(ctx context.Context, s shipper.Shipper, req *shipper.CreateShipmentRequest) (*shipper.ShipmentResult, *shipper.StandardizedError)
	CheckCoverage(ctx context.Context, s shipper.Shipper, addr shipper.Address, pkg shipper.PackageSpec) (*shipper.CoverageResult, *shipper.StandardizedError)
	MerchantMessage(err *shipper.StandardizedError) string
}

// Outcome is the result of processing one order. Decision is set whenever a
// carrier was chosen, even if shipment creation then failed.
type Outcome struct {
	Decision        *Decision                  `json:"decision,omitempty"`
	Shipment        *shipper.ShipmentRecord    `json:"shipment,omitempty"`
	Error           *shipper.StandardizedError `json:"error,omitempty"`
	MerchantMessage string                     `json:"merchant_message,omitempty"`
	RetryJobID      string                     `json:"retry_job_id,omitempty"`
}

// RouterConfig names the discount carrier.
type RouterConfig struct {
	DiscountCarrier string
}

// Router runs the order pipeline: address validation, eligibility, quotes,
// decision, persistence and shipment creation.
type Router struct {
	config     RouterConfig
	engine     *Engine
	checker    *eligibility.Checker
	normalizer *rates.Normalizer
	validator  *address.Validator
	carriers   *shipper.Registry
	executor   Executor
	decisions  DecisionStore
	shipments  ShipmentStore
	publisher  events.Publisher
	topic      string
	logger     *otelzap.Logger
	metrics    *telemetry.Metrics
	clock      clockz.Clock
}

// RouterDeps are the collaborators of a Router.
type RouterDeps struct {
	Engine     *Engine
	Checker    *eligibility.Checker
	Normalizer *rates.Normalizer
	Validator  *address.Validator
	Carriers   *shipper.Registry
	Executor   Executor
	Decisions  DecisionStore
	Shipments  ShipmentStore
	Publisher  events.Publisher
	Topic      string
	Logger     *otelzap.Logger
	Metrics    *telemetry.Metrics
	Clock      clockz.Clock
}

// NewRouter creates a Router. Missing engine, checker, validator, publisher
// and clock take defaults.
func NewRouter(cfg RouterConfig, deps RouterDeps) *Router {
	if cfg.DiscountCarrier == "" {
		cfg.DiscountCarrier = shipper.CarrierDiscount
	}
	r := &Router{
		config:     cfg,
		engine:     deps.Engine,
		checker:    deps.Checker,
		normalizer: deps.Normalizer,
		validator:  deps.Validator,
		carriers:   deps.Carriers,
		executor:   deps.Executor,
		decisions:  deps.Decisions,
		shipments:  deps.Shipments,
		publisher:  deps.Publisher,
		topic:      deps.Topic,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		clock:      deps.Clock,
	}
	if r.engine == nil {
		r.engine = NewEngine(DefaultEngineConfig())
	}
	if r.checker == nil {
		r.checker = eligibility.New(eligibility.DefaultConfig())
	}
	if r.validator == nil {
		r.validator = address.New(address.Config{})
	}
	if r.publisher == nil {
		r.publisher = events.NopPublisher{}
	}
	if r.topic == "" {
		r.topic = events.TopicRoutingDecisions
	}
	if r.clock == nil {
		r.clock = clockz.RealClock
	}
	return r
}

// Route decides which carrier should ship the order without booking it.
func (r *Router) Route(ctx context.Context, order shipper.OrderData) (Decision, *shipper.StandardizedError) {
	d, _, stdErr := r.route(ctx, order)
	return d, stdErr
}

// Process routes the order, persists the decision and books the shipment
// with the chosen carrier.
func (r *Router) Process(ctx context.Context, order shipper.OrderData) Outcome {
	d, elig, stdErr := r.route(ctx, order)
	if stdErr != nil {
		return r.failed(nil, stdErr)
	}

	if r.decisions != nil {
		if err := r.decisions.SaveDecision(ctx, d); err != nil {
			r.logger.Ctx(ctx).Error("Saving routing decision failed", zap.String("order_id", order.ID), zap.Error(err))
		}
	}
	if err := r.publisher.Publish(ctx, r.topic, order.ID, d); err != nil {
		r.logger.Ctx(ctx).Warn("Publishing routing decision failed", zap.String("order_id", order.ID), zap.Error(err))
	}

	carrier, err := r.carriers.Get(d.Carrier)
	if err != nil {
		stdErr := shipper.NewStandardizedError(shipper.ClassInternalError, d.Carrier, err.Error()).
			WithCause(err).
			WithRetryable(false)
		return r.failed(&d, stdErr)
	}

	reference := order.Reference
	if reference == "" {
		reference = order.ID
	}
	req := &shipper.CreateShipmentRequest{
		OrderID:     order.ID,
		Reference:   reference,
		ServiceCode: d.ServiceCode,
		Origin:      order.Origin,
		Destination: order.Destination,
		Package:     elig.Package(),
	}

	res, stdErr := r.executor.CreateShipment(ctx, carrier, req)
	if stdErr != nil {
		r.logger.Ctx(ctx).Warn("Shipment creation failed",
			zap.String("order_id", order.ID),
			zap.String("carrier", d.Carrier),
			zap.String("class", string(stdErr.Class)),
		)
		return r.failed(&d, stdErr)
	}

	rec := r.SaveShipment(ctx, req, res)
	r.logger.Ctx(ctx).Info("Shipment created",
		zap.String("order_id", order.ID),
		zap.String("carrier", rec.Carrier),
		zap.String("tracking_number", rec.TrackingNumber),
	)
	return Outcome{Decision: &d, Shipment: &rec}
}

// SaveShipment builds the shipment record for a created shipment and
// persists it. Persistence failures are logged.
func (r *Router) SaveShipment(ctx context.Context, req *shipper.CreateShipmentRequest, res *shipper.ShipmentResult) shipper.ShipmentRecord {
	serviceCode := res.ServiceCode
	if serviceCode == "" {
		serviceCode = req.ServiceCode
	}
	rec := shipper.ShipmentRecord{
		OrderID:        req.OrderID,
		Reference:      req.Reference,
		Carrier:        res.Carrier,
		ServiceCode:    serviceCode,
		ShipmentID:     res.ShipmentID,
		TrackingNumber: res.TrackingNumber,
		LabelRef:       res.LabelURL,
		Status:         shipper.StatusLabelCreated,
		Package:        req.Package,
		CreatedAt:      r.clock.Now().UTC(),
	}
	if r.shipments != nil {
		if err := r.shipments.SaveShipment(ctx, rec); err != nil {
			r.logger.Ctx(ctx).Error("Saving shipment failed", zap.String("order_id", req.OrderID), zap.Error(err))
		}
	}
	return rec
}

func (r *Router) route(ctx context.Context, order shipper.OrderData) (Decision, eligibility.Result, *shipper.StandardizedError) {
	if stdErr := r.validator.Validate(order.Destination).Error(); stdErr != nil {
		return Decision{}, eligibility.Result{}, stdErr.WithTimestamp(r.clock.Now().UTC())
	}

	elig := r.checker.Check(order)
	quotes := r.normalizer.Quotes(ctx, order, elig)

	d, err := r.engine.Decide(quotes, elig)
	if err != nil {
		return Decision{}, elig, r.noRoute(err, quotes)
	}

	if d.Carrier == r.config.DiscountCarrier && !r.covered(ctx, order, elig) {
		elig.Eligible = false
		elig.Reasons = append(elig.Reasons, ReasonNotCovered)
		if d, err = r.engine.Decide(quotes, elig); err != nil {
			return Decision{}, elig, r.noRoute(err, quotes)
		}
	}

	d.OrderID = order.ID
	d.DecidedAt = r.clock.Now().UTC()
	r.metrics.RecordDecision(d.Carrier, string(d.Rule))
	r.logger.Ctx(ctx).Info("Routing decision",
		zap.String("order_id", order.ID),
		zap.String("carrier", d.Carrier),
		zap.String("rule", string(d.Rule)),
		zap.Float64("cost", d.Cost.Amount),
		zap.Float64("savings", d.Savings),
		zap.String("reason", d.Reason),
	)
	return d, elig, nil
}

// covered asks the discount carrier about the destination when it supports
// coverage checks. Only an explicit refusal counts as uncovered.
func (r *Router) covered(ctx context.Context, order shipper.OrderData, elig eligibility.Result) bool {
	carrier, err := r.carriers.Get(r.config.DiscountCarrier)
	if err != nil {
		return true
	}
	if _, ok := carrier.(shipper.CoverageChecker); !ok {
		return true
	}
	_, stdErr := r.executor.CheckCoverage(ctx, carrier, order.Destination, elig.Package())
	if stdErr == nil {
		return true
	}
	if stdErr.Class == shipper.ClassCoverageNotAvailable {
		return false
	}
	r.logger.Ctx(ctx).Warn("Coverage check failed, assuming covered",
		zap.String("order_id", order.ID),
		zap.Error(stdErr),
	)
	return true
}

// noRoute reports that no carrier quoted. Nothing is enqueued for it, so the
// error is not retryable.
func (r *Router) noRoute(err error, quotes rates.Quotes) *shipper.StandardizedError {
	stdErr := shipper.NewStandardizedError(shipper.ClassCarrierUnavailable, "", err.Error()).
		WithCause(err).
		WithRetryable(false).
		WithTimestamp(r.clock.Now().UTC())
	if len(quotes.Errors) > 0 {
		stdErr.WithDetail("carrier_errors", quotes.Errors)
	}
	return stdErr
}

func (r *Router) failed(d *Decision, stdErr *shipper.StandardizedError) Outcome {
	out := Outcome{
		Decision:        d,
		Error:           stdErr,
		MerchantMessage: r.message(stdErr),
	}
	if id, ok := stdErr.Details[resilience.DetailRetryJobID].(string); ok {
		out.RetryJobID = id
	}
	return out
}

func (r *Router) message(stdErr *shipper.StandardizedError) string {
	if r.executor != nil {
		return r.executor.MerchantMessage(stdErr)
	}
	return stdErr.Message
}
