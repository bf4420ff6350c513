// Package tracking polls carriers and ingests webhooks into a normalized,
// deduplicated event history per shipment.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tournevent/shiprouter/internal/events"
	"github.com/tournevent/shiprouter/internal/telemetry"
	"github.com/tournevent/shiprouter/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// Event sources.
const (
	SourcePoll    = "poll"
	SourceWebhook = "webhook"
	SourceRetry   = "retry"
)

var (
	// ErrInvalidWebhook is returned for webhook payloads missing required fields.
	ErrInvalidWebhook = errors.New("invalid tracking webhook")

	// ErrNoEvents is returned when a shipment has no recorded events.
	ErrNoEvents = errors.New("no tracking events")
)

// EventStore persists tracking events.
type EventStore interface {
	// AppendEvents stores events not seen before and returns how many were new.
	AppendEvents(ctx context.Context, events []shipper.TrackingEvent) (int, error)
	// Events returns a shipment's events, newest first.
	Events(ctx context.Context, carrier, trackingNumber string) ([]shipper.TrackingEvent, error)
}

// ShipmentStatusUpdater receives the latest status of a shipment.
type ShipmentStatusUpdater interface {
	UpdateShipmentStatus(ctx context.Context, carrier, trackingNumber string, status shipper.TrackingStatus) error
}

// Tracker performs the carrier tracking call.
type Tracker interface {
	TrackShipment(ctx context.Context, s shipper.Shipper, trackingNumber string) (*shipper.TrackingResult, *shipper.StandardizedError)
}

// Update is the message published when new events arrive.
type Update struct {
	Carrier        string                  `json:"carrier"`
	TrackingNumber string                  `json:"tracking_number"`
	Status         shipper.TrackingStatus  `json:"status"`
	Source         string                  `json:"source"`
	Events         []shipper.TrackingEvent `json:"events"`
	PublishedAt    time.Time               `json:"published_at"`
}

// Summary is the current state of a shipment.
type Summary struct {
	Carrier        string                 `json:"carrier"`
	TrackingNumber string                 `json:"tracking_number"`
	Status         shipper.TrackingStatus `json:"status"`
	Description    string                 `json:"description"`
	Location       string                 `json:"location,omitempty"`
	LastUpdate     time.Time              `json:"last_update"`
	EventCount     int                    `json:"event_count"`
	Delivered      bool                   `json:"delivered"`
	Active         bool                   `json:"active"`
	Problem        bool                   `json:"problem"`
	Final          bool                   `json:"final"`
}

// Service records tracking history.
type Service struct {
	carriers  *shipper.Registry
	tracker   Tracker
	mapper    *shipper.StatusMapper
	store     EventStore
	shipments ShipmentStatusUpdater
	publisher events.Publisher
	topic     string
	logger    *otelzap.Logger
	metrics   *telemetry.Metrics
	clock     clockz.Clock
}

// NewService creates a Service. A nil mapper uses the built-in tables.
func NewService(carriers *shipper.Registry, tracker Tracker, mapper *shipper.StatusMapper, store EventStore, logger *otelzap.Logger) *Service {
	if mapper == nil {
		mapper = shipper.NewStatusMapper()
	}
	return &Service{
		carriers:  carriers,
		tracker:   tracker,
		mapper:    mapper,
		store:     store,
		publisher: events.NopPublisher{},
		topic:     events.TopicTrackingEvents,
		logger:    logger,
		clock:     clockz.RealClock,
	}
}

// WithPublisher publishes updates to topic. An empty topic keeps the default.
func (s *Service) WithPublisher(p events.Publisher, topic string) *Service {
	s.publisher = p
	if topic != "" {
		s.topic = topic
	}
	return s
}

// WithShipments keeps shipment records' status current.
func (s *Service) WithShipments(u ShipmentStatusUpdater) *Service {
	s.shipments = u
	return s
}

// WithMetrics sets the metrics recorder.
func (s *Service) WithMetrics(m *telemetry.Metrics) *Service {
	s.metrics = m
	return s
}

// WithClock sets the clock used for webhook events without a timestamp.
func (s *Service) WithClock(c clockz.Clock) *Service {
	s.clock = c
	return s
}

// Track polls the carrier, stores new events and returns the full history,
// newest first.
func (s *Service) Track(ctx context.Context, carrier, trackingNumber string) ([]shipper.TrackingEvent, *shipper.StandardizedError) {
	c, err := s.carriers.Get(carrier)
	if err != nil {
		stdErr := shipper.NewStandardizedError(shipper.ClassInternalError, carrier, err.Error()).WithCause(err)
		stdErr.Retryable = false
		return nil, stdErr
	}

	res, stdErr := s.tracker.TrackShipment(ctx, c, trackingNumber)
	if stdErr != nil {
		return nil, stdErr
	}

	if res.TrackingNumber == "" {
		res.TrackingNumber = trackingNumber
	}
	if err := s.Record(ctx, carrier, res, SourcePoll); err != nil {
		return nil, shipper.NewStandardizedError(shipper.ClassInternalError, carrier, err.Error()).WithCause(err)
	}

	history, err := s.History(ctx, carrier, trackingNumber)
	if err != nil {
		return nil, shipper.NewStandardizedError(shipper.ClassInternalError, carrier, err.Error()).WithCause(err)
	}
	return history, nil
}

// Record normalizes a carrier tracking result and stores it.
func (s *Service) Record(ctx context.Context, carrier string, res *shipper.TrackingResult, source string) error {
	normalized := make([]shipper.TrackingEvent, 0, len(res.Events))
	for _, e := range res.Events {
		normalized = append(normalized, s.normalize(carrier, res.TrackingNumber, e.Code, e.Description, e.Location, e.Timestamp))
	}
	return s.record(ctx, carrier, res.TrackingNumber, normalized, source)
}

// IngestWebhook normalizes and stores one pushed carrier event. A missing
// timestamp means now.
func (s *Service) IngestWebhook(ctx context.Context, carrier string, in shipper.WebhookInput) (shipper.TrackingEvent, error) {
	if strings.TrimSpace(in.TrackingNumber) == "" {
		return shipper.TrackingEvent{}, fmt.Errorf("%w: tracking_number is required", ErrInvalidWebhook)
	}
	if strings.TrimSpace(in.StatusCode) == "" {
		return shipper.TrackingEvent{}, fmt.Errorf("%w: status_code is required", ErrInvalidWebhook)
	}
	if _, err := s.carriers.Get(carrier); err != nil {
		return shipper.TrackingEvent{}, err
	}

	at := s.clock.Now().UTC()
	if in.Timestamp != "" {
		parsed, err := ParseTimestamp(in.Timestamp)
		if err != nil {
			return shipper.TrackingEvent{}, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
		}
		at = parsed
	}

	event := s.normalize(carrier, in.TrackingNumber, in.StatusCode, in.Description, in.Location, at)
	if err := s.record(ctx, carrier, in.TrackingNumber, []shipper.TrackingEvent{event}, SourceWebhook); err != nil {
		return shipper.TrackingEvent{}, err
	}
	return event, nil
}

// History returns the stored events of a shipment, newest first.
func (s *Service) History(ctx context.Context, carrier, trackingNumber string) ([]shipper.TrackingEvent, error) {
	history, err := s.store.Events(ctx, carrier, trackingNumber)
	if err != nil {
		return nil, fmt.Errorf("loading tracking history: %w", err)
	}
	return history, nil
}

// Summary returns the latest status of a shipment with its predicates.
func (s *Service) Summary(ctx context.Context, carrier, trackingNumber string) (Summary, error) {
	history, err := s.History(ctx, carrier, trackingNumber)
	if err != nil {
		return Summary{}, err
	}
	if len(history) == 0 {
		return Summary{}, fmt.Errorf("%w: %s/%s", ErrNoEvents, carrier, trackingNumber)
	}
	latest := history[0]
	return Summary{
		Carrier:        carrier,
		TrackingNumber: trackingNumber,
		Status:         latest.Status,
		Description:    latest.Description,
		Location:       latest.Location,
		LastUpdate:     latest.Timestamp,
		EventCount:     len(history),
		Delivered:      shipper.IsDelivered(latest.Status),
		Active:         shipper.IsActive(latest.Status),
		Problem:        shipper.IsProblem(latest.Status),
		Final:          shipper.IsFinal(latest.Status),
	}, nil
}

func (s *Service) normalize(carrier, trackingNumber, code, description, location string, at time.Time) shipper.TrackingEvent {
	return shipper.TrackingEvent{
		TrackingNumber: trackingNumber,
		Carrier:        carrier,
		Status:         s.mapper.Map(carrier, code),
		Description:    s.mapper.Describe(carrier, code, description),
		Location:       location,
		Timestamp:      at.UTC(),
		RawCode:        code,
	}
}

func (s *Service) record(ctx context.Context, carrier, trackingNumber string, batch []shipper.TrackingEvent, source string) error {
	added, err := s.store.AppendEvents(ctx, batch)
	if err != nil {
		return fmt.Errorf("storing tracking events: %w", err)
	}
	s.metrics.RecordTrackingEvents(carrier, source, added)
	if added == 0 {
		return nil
	}

	history, err := s.History(ctx, carrier, trackingNumber)
	if err != nil {
		return err
	}
	latest := history[0].Status

	s.logger.Ctx(ctx).Info("Tracking events recorded",
		zap.String("carrier", carrier),
		zap.String("tracking_number", trackingNumber),
		zap.String("source", source),
		zap.Int("new_events", added),
		zap.String("status", string(latest)),
	)

	if s.shipments != nil {
		if err := s.shipments.UpdateShipmentStatus(ctx, carrier, trackingNumber, latest); err != nil {
			s.logger.Ctx(ctx).Warn("Updating shipment status failed",
				zap.String("tracking_number", trackingNumber),
				zap.Error(err),
			)
		}
	}

	update := Update{
		Carrier:        carrier,
		TrackingNumber: trackingNumber,
		Status:         latest,
		Source:         source,
		Events:         batch,
		PublishedAt:    s.clock.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, s.topic, carrier+"/"+trackingNumber, update); err != nil {
		s.logger.Ctx(ctx).Warn("Publishing tracking update failed",
			zap.String("tracking_number", trackingNumber),
			zap.Error(err),
		)
	}
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseTimestamp parses a carrier event timestamp. Values without a zone
// are taken as UTC.
func ParseTimestamp(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", v)
}
