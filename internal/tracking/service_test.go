package tracking_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/shiprouter/internal/resilience"
	"github.com/tournevent/shiprouter/internal/store"
	"github.com/tournevent/shiprouter/internal/tracking"
	"github.com/tournevent/shiprouter/pkg/shipper"
	"github.com/tournevent/shiprouter/pkg/shipper/mock"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

type published struct {
	topic, key string
	update     tracking.Update
}

type capturePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *capturePublisher) Publish(_ context.Context, topic, key string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{topic: topic, key: key, update: v.(tracking.Update)})
	return nil
}

func (p *capturePublisher) Close() error { return nil }

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *tracking.Service
	carrier *mock.Client
	store   *store.MemoryStore
	pub     *capturePublisher
	clock   clockz.Clock
}

func newFixture() *fixture {
	logger := otelzap.New(zap.NewNop())
	carrier := mock.New(shipper.CarrierDiscount)
	carrier.OnTrackShipment = func(_ context.Context, tn string) (*shipper.TrackingResult, error) {
		return &shipper.TrackingResult{
			TrackingNumber: tn,
			Events: []shipper.CarrierEvent{
				{Code: "CREATED", Description: "order info received", Timestamp: t0},
				{Code: "PICKUP", Description: "collected", Location: "Dallas, TX", Timestamp: t0.Add(3 * time.Hour)},
			},
		}, nil
	}
	registry := shipper.NewRegistry()
	registry.Register(carrier)

	mem := store.NewMemoryStore()
	pub := &capturePublisher{}
	clock := clockz.NewFakeClock()
	exec := resilience.New(resilience.DefaultConfig(), logger)

	svc := tracking.NewService(registry, exec, nil, mem, logger).
		WithPublisher(pub, "").
		WithShipments(mem).
		WithClock(clock)
	return &fixture{svc: svc, carrier: carrier, store: mem, pub: pub, clock: clock}
}

func TestTrack_StoresAndDeduplicates(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.store.SaveShipment(ctx, shipper.ShipmentRecord{
		OrderID: "ORD-1", Carrier: shipper.CarrierDiscount, TrackingNumber: "DC1", Status: shipper.StatusLabelCreated,
	}))

	history, stdErr := f.svc.Track(ctx, shipper.CarrierDiscount, "DC1")
	require.Nil(t, stdErr)
	require.Len(t, history, 2)
	assert.Equal(t, shipper.StatusPickedUp, history[0].Status)
	assert.Equal(t, "PICKUP", history[0].RawCode)
	assert.Equal(t, "Picked up by carrier", history[0].Description)
	assert.Equal(t, "Dallas, TX", history[0].Location)
	assert.Equal(t, shipper.StatusLabelCreated, history[1].Status)

	rec, err := f.store.Shipment(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, shipper.StatusPickedUp, rec.Status)

	require.Len(t, f.pub.msgs, 1)
	assert.Equal(t, "shiprouter.tracking-events", f.pub.msgs[0].topic)
	assert.Equal(t, "discount/DC1", f.pub.msgs[0].key)
	assert.Equal(t, tracking.SourcePoll, f.pub.msgs[0].update.Source)

	history, stdErr = f.svc.Track(ctx, shipper.CarrierDiscount, "DC1")
	require.Nil(t, stdErr)
	assert.Len(t, history, 2, "repeated polls add nothing")
	assert.Len(t, f.pub.msgs, 1, "nothing new, nothing published")
}

func TestTrack_UnknownCodeIsInTransit(t *testing.T) {
	f := newFixture()
	f.carrier.OnTrackShipment = func(_ context.Context, tn string) (*shipper.TrackingResult, error) {
		return &shipper.TrackingResult{TrackingNumber: tn, Events: []shipper.CarrierEvent{
			{Code: "HUB_SCAN_77", Description: "Arrived at hub", Timestamp: t0},
		}}, nil
	}

	history, stdErr := f.svc.Track(context.Background(), shipper.CarrierDiscount, "DC2")

	require.Nil(t, stdErr)
	require.Len(t, history, 1)
	assert.Equal(t, shipper.StatusInTransit, history[0].Status)
	assert.Equal(t, "Arrived at hub", history[0].Description)
}

func TestTrack_Errors(t *testing.T) {
	f := newFixture()

	_, stdErr := f.svc.Track(context.Background(), "nope", "X")
	require.NotNil(t, stdErr)
	assert.False(t, stdErr.Retryable)
	assert.ErrorIs(t, stdErr, shipper.ErrCarrierNotFound)

	f.carrier.OnTrackShipment = func(context.Context, string) (*shipper.TrackingResult, error) {
		return nil, shipper.ErrServiceUnavailable
	}
	_, stdErr = f.svc.Track(context.Background(), shipper.CarrierDiscount, "DC1")
	require.NotNil(t, stdErr)
	assert.Equal(t, shipper.ClassCarrierUnavailable, stdErr.Class)
}

func TestIngestWebhook(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	event, err := f.svc.IngestWebhook(ctx, shipper.CarrierDiscount, shipper.WebhookInput{
		TrackingNumber: "DC9",
		StatusCode:     "signed",
		Description:    "left at door",
		Location:       "Austin, TX",
		Timestamp:      "2026-03-04T15:30:00-06:00",
	})
	require.NoError(t, err)
	assert.Equal(t, shipper.StatusDelivered, event.Status)
	assert.Equal(t, time.Date(2026, 3, 4, 21, 30, 0, 0, time.UTC), event.Timestamp)
	assert.Equal(t, "signed", event.RawCode)

	summary, err := f.svc.Summary(ctx, shipper.CarrierDiscount, "DC9")
	require.NoError(t, err)
	assert.Equal(t, shipper.StatusDelivered, summary.Status)
	assert.True(t, summary.Delivered)
	assert.True(t, summary.Final)
	assert.False(t, summary.Active)
	assert.False(t, summary.Problem)
	assert.Equal(t, 1, summary.EventCount)

	require.Len(t, f.pub.msgs, 1)
	assert.Equal(t, tracking.SourceWebhook, f.pub.msgs[0].update.Source)
}

func TestIngestWebhook_DefaultsTimestampToNow(t *testing.T) {
	f := newFixture()

	event, err := f.svc.IngestWebhook(context.Background(), shipper.CarrierMarket+"x", shipper.WebhookInput{TrackingNumber: "1Z", StatusCode: "IT"})
	require.ErrorIs(t, err, shipper.ErrCarrierNotFound)
	assert.Empty(t, event.TrackingNumber)

	event, err = f.svc.IngestWebhook(context.Background(), shipper.CarrierDiscount, shipper.WebhookInput{TrackingNumber: "DC3", StatusCode: "EXCEPTION"})
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().UTC(), event.Timestamp)
	assert.Equal(t, shipper.StatusException, event.Status)
}

func TestIngestWebhook_Invalid(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	tests := []shipper.WebhookInput{
		{StatusCode: "SIGNED"},
		{TrackingNumber: "DC1"},
		{TrackingNumber: "DC1", StatusCode: "SIGNED", Timestamp: "yesterday"},
	}
	for _, in := range tests {
		_, err := f.svc.IngestWebhook(ctx, shipper.CarrierDiscount, in)
		assert.ErrorIs(t, err, tracking.ErrInvalidWebhook)
	}
}

func TestSummary_NoEvents(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Summary(context.Background(), shipper.CarrierDiscount, "NONE")
	assert.ErrorIs(t, err, tracking.ErrNoEvents)
}

func TestPublishFailureIsNotFatal(t *testing.T) {
	f := newFixture()
	f.pub.err = errors.New("broker down")

	history, stdErr := f.svc.Track(context.Background(), shipper.CarrierDiscount, "DC1")

	require.Nil(t, stdErr)
	assert.Len(t, history, 2)
}

func TestParseTimestamp(t *testing.T) {
	for _, v := range []string{"2026-03-04T15:30:00Z", "2026-03-04T15:30:00.123Z", "2026-03-04T15:30:00", "2026-03-04 15:30:00", "2026-03-04 15:30"} {
		got, err := tracking.ParseTimestamp(v)
		require.NoError(t, err, v)
		assert.Equal(t, time.UTC, got.Location())
		assert.Equal(t, 15, got.Hour())
	}
	_, err := tracking.ParseTimestamp("04/03/2026")
	assert.Error(t, err)
}
