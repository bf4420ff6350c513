package resilience

import (
	"context"

	"github.com/tournevent/shiprouter/internal/retryqueue"
	"github.com/tournevent/shiprouter/pkg/shipper"
)

type createPayload struct {
	Carrier string                        `json:"carrier"`
	Request shipper.CreateShipmentRequest `json:"request"`
}

type trackPayload struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number"`
}

type labelPayload struct {
	Carrier         string   `json:"carrier"`
	TrackingNumbers []string `json:"tracking_numbers"`
}

// RetryHooks receive the results of retry jobs that eventually succeed.
// Nil hooks are skipped.
type RetryHooks struct {
	OnShipment func(ctx context.Context, req *shipper.CreateShipmentRequest, res *shipper.ShipmentResult)
	OnTracking func(ctx context.Context, carrier string, res *shipper.TrackingResult)
	OnLabel    func(ctx context.Context, carrier string, res *shipper.LabelResult)
}

// RegisterRetryHandlers wires the executor's job types into q. Carriers are
// resolved by name from carriers at execution time.
func (e *Executor) RegisterRetryHandlers(q *retryqueue.Queue, carriers *shipper.Registry, hooks RetryHooks) {
	q.Register(JobCreateShipment, func(ctx context.Context, job *retryqueue.Job) error {
		var p createPayload
		if err := job.Decode(&p); err != nil {
			return err
		}
		s, err := carriers.Get(p.Carrier)
		if err != nil {
			return err
		}
		res, stdErr := e.CreateShipment(ctx, s, &p.Request)
		if stdErr != nil {
			return stdErr
		}
		if hooks.OnShipment != nil {
			hooks.OnShipment(ctx, &p.Request, res)
		}
		return nil
	})

	q.Register(JobTrackShipment, func(ctx context.Context, job *retryqueue.Job) error {
		var p trackPayload
		if err := job.Decode(&p); err != nil {
			return err
		}
		s, err := carriers.Get(p.Carrier)
		if err != nil {
			return err
		}
		res, stdErr := e.TrackShipment(ctx, s, p.TrackingNumber)
		if stdErr != nil {
			return stdErr
		}
		if hooks.OnTracking != nil {
			hooks.OnTracking(ctx, p.Carrier, res)
		}
		return nil
	})

	q.Register(JobPrintLabel, func(ctx context.Context, job *retryqueue.Job) error {
		var p labelPayload
		if err := job.Decode(&p); err != nil {
			return err
		}
		s, err := carriers.Get(p.Carrier)
		if err != nil {
			return err
		}
		res, stdErr := e.PrintLabel(ctx, s, p.TrackingNumbers)
		if stdErr != nil {
			return stdErr
		}
		if hooks.OnLabel != nil {
			hooks.OnLabel(ctx, p.Carrier, res)
		}
		return nil
	})
}
