package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tournevent/shiprouter/internal/address"
	"github.com/tournevent/shiprouter/internal/resilience"
	"github.com/tournevent/shiprouter/internal/retryqueue"
	"github.com/tournevent/shiprouter/internal/routing"
	"github.com/tournevent/shiprouter/internal/telemetry"
	"github.com/tournevent/shiprouter/internal/tracking"
	"github.com/tournevent/shiprouter/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Headers carrying the caller identity recorded in audit entries.
const (
	HeaderOrganizationID = "X-Organization-ID"
	HeaderUserID         = "X-User-ID"
)

const maxBodyBytes = 1 << 20

// JobLookup reads retry jobs.
type JobLookup interface {
	Get(ctx context.Context, id string) (*retryqueue.Job, error)
}

// Config holds server configuration.
type Config struct {
	Port int
}

// Deps are the services the API exposes.
type Deps struct {
	Router    *routing.Router
	Tracking  *tracking.Service
	Jobs      JobLookup
	Validator *address.Validator
	Messages  func(*shipper.StandardizedError) string
	Gatherer  prometheus.Gatherer
	Logger    *otelzap.Logger
	Metrics   *telemetry.Metrics
}

// Server is the HTTP server for the routing service.
type Server struct {
	port      int
	router    *routing.Router
	tracking  *tracking.Service
	jobs      JobLookup
	validator *address.Validator
	messages  func(*shipper.StandardizedError) string
	gatherer  prometheus.Gatherer
	logger    *otelzap.Logger
	metrics   *telemetry.Metrics
}

// New creates a new server instance.
func New(cfg Config, deps Deps) *Server {
	s := &Server{
		port:      cfg.Port,
		router:    deps.Router,
		tracking:  deps.Tracking,
		jobs:      deps.Jobs,
		validator: deps.Validator,
		messages:  deps.Messages,
		gatherer:  deps.Gatherer,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
	}
	if s.validator == nil {
		s.validator = address.New(address.Config{})
	}
	if s.messages == nil {
		s.messages = resilience.MerchantMessage
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	return s
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", s.handleHealth)

	// Prometheus metrics
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	mux.Handle("POST /v1/routes", s.instrument("/v1/routes", s.handleRoute))
	mux.Handle("POST /v1/shipments", s.instrument("/v1/shipments", s.handleShipment))
	mux.Handle("POST /v1/addresses/validate", s.instrument("/v1/addresses/validate", s.handleValidateAddress))
	mux.Handle("GET /v1/tracking/{carrier}/{number}", s.instrument("/v1/tracking", s.handleTracking))
	mux.Handle("POST /v1/webhooks/{carrier}/tracking", s.instrument("/v1/webhooks/tracking", s.handleWebhook))
	mux.Handle("GET /v1/retry-jobs/{id}", s.instrument("/v1/retry-jobs", s.handleRetryJob))

	return mux
}

// Run starts the HTTP server and blocks until context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", zap.Int("port", s.port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ErrorBody is the JSON shape of every API error.
type ErrorBody struct {
	Error APIError `json:"error"`
}

// APIError describes a failure in merchant-facing terms.
type APIError struct {
	Class      string `json:"class"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
	Carrier    string `json:"carrier,omitempty"`
	RetryJobID string `json:"retry_job_id,omitempty"`
}

// ShipmentResponse is the body of POST /v1/shipments.
type ShipmentResponse struct {
	Decision *routing.Decision       `json:"decision,omitempty"`
	Shipment *shipper.ShipmentRecord `json:"shipment,omitempty"`
	Error    *APIError               `json:"error,omitempty"`
}

// TrackingResponse is the body of GET /v1/tracking/{carrier}/{number}.
type TrackingResponse struct {
	Summary tracking.Summary        `json:"summary"`
	Events  []shipper.TrackingEvent `json:"events"`
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var order shipper.OrderData
	if !s.decode(w, r, &order) {
		return
	}
	ctx := withActor(r, &order)

	d, stdErr := s.router.Route(ctx, order)
	if stdErr != nil {
		s.writeStdErr(w, stdErr)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleShipment runs the full pipeline. A failure deferred to the retry
// queue answers 202 with the job ID.
func (s *Server) handleShipment(w http.ResponseWriter, r *http.Request) {
	var order shipper.OrderData
	if !s.decode(w, r, &order) {
		return
	}
	ctx := withActor(r, &order)

	out := s.router.Process(ctx, order)
	resp := ShipmentResponse{Decision: out.Decision, Shipment: out.Shipment}
	if out.Error == nil {
		writeJSON(w, http.StatusCreated, resp)
		return
	}

	apiErr := s.apiError(out.Error, out.RetryJobID)
	if out.MerchantMessage != "" {
		apiErr.Message = out.MerchantMessage
	}
	resp.Error = &apiErr

	status := out.Error.Status
	if out.RetryJobID != "" {
		status = http.StatusAccepted
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleValidateAddress(w http.ResponseWriter, r *http.Request) {
	var addr shipper.Address
	if !s.decode(w, r, &addr) {
		return
	}
	writeJSON(w, http.StatusOK, s.validator.Validate(addr))
}

func (s *Server) handleTracking(w http.ResponseWriter, r *http.Request) {
	carrier, number := r.PathValue("carrier"), r.PathValue("number")

	events, stdErr := s.tracking.Track(r.Context(), carrier, number)
	if stdErr != nil {
		if errors.Is(stdErr, shipper.ErrCarrierNotFound) {
			writeError(w, http.StatusNotFound, APIError{Class: string(shipper.ClassInternalError), Message: "unknown carrier " + carrier})
			return
		}
		s.writeStdErr(w, stdErr)
		return
	}

	summary, err := s.tracking.Summary(r.Context(), carrier, number)
	if err != nil && !errors.Is(err, tracking.ErrNoEvents) {
		s.writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TrackingResponse{Summary: summary, Events: events})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var in shipper.WebhookInput
	if !s.decode(w, r, &in) {
		return
	}

	event, err := s.tracking.IngestWebhook(r.Context(), r.PathValue("carrier"), in)
	switch {
	case errors.Is(err, tracking.ErrInvalidWebhook):
		writeError(w, http.StatusBadRequest, APIError{Class: string(shipper.ClassInternalError), Message: err.Error()})
	case errors.Is(err, shipper.ErrCarrierNotFound):
		writeError(w, http.StatusNotFound, APIError{Class: string(shipper.ClassInternalError), Message: err.Error()})
	case err != nil:
		s.writeInternal(w, r, err)
	default:
		writeJSON(w, http.StatusAccepted, event)
	}
}

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, retryqueue.ErrJobNotFound):
		writeError(w, http.StatusNotFound, APIError{Class: string(shipper.ClassInternalError), Message: "retry job not found"})
	case err != nil:
		s.writeInternal(w, r, err)
	default:
		writeJSON(w, http.StatusOK, job)
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, APIError{
			Class:   string(shipper.ClassInternalError),
			Message: "invalid JSON: " + err.Error(),
		})
		return false
	}
	return true
}

func (s *Server) apiError(stdErr *shipper.StandardizedError, retryJobID string) APIError {
	return APIError{
		Class:      string(stdErr.Class),
		Message:    s.messages(stdErr),
		Retryable:  stdErr.Retryable,
		Carrier:    stdErr.Carrier,
		RetryJobID: retryJobID,
	}
}

func (s *Server) writeStdErr(w http.ResponseWriter, stdErr *shipper.StandardizedError) {
	writeError(w, stdErr.Status, s.apiError(stdErr, ""))
}

func (s *Server) writeInternal(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Ctx(r.Context()).Error("Request failed", zap.String("path", r.URL.Path), zap.Error(err))
	stdErr := shipper.NewStandardizedError(shipper.ClassInternalError, "", "internal error")
	writeError(w, http.StatusInternalServerError, s.apiError(stdErr, ""))
}

// withActor attaches the caller identity to the request context and fills
// the order's organization when the body omits it.
func withActor(r *http.Request, order *shipper.OrderData) context.Context {
	actor := resilience.Actor{
		OrganizationID: r.Header.Get(HeaderOrganizationID),
		UserID:         r.Header.Get(HeaderUserID),
	}
	if order.OrganizationID == "" {
		order.OrganizationID = actor.OrganizationID
	}
	if actor.OrganizationID == "" {
		actor.OrganizationID = order.OrganizationID
	}
	return resilience.WithActor(r.Context(), actor)
}

func writeError(w http.ResponseWriter, status int, e APIError) {
	writeJSON(w, status, ErrorBody{Error: e})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		h(rec, r)
		s.metrics.RecordHTTPRequest(route, rec.status)
		s.logger.Ctx(r.Context()).Debug("Request served",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
