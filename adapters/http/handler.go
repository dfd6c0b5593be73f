// Package http provides the HTTP API of the billing service.
package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/artpar/meterbill/adapters/metrics"
	"github.com/artpar/meterbill/app"
	"github.com/artpar/meterbill/domain/auth"
	"github.com/artpar/meterbill/domain/tenant"
	"github.com/artpar/meterbill/pkg/wire"
	"github.com/artpar/meterbill/ports"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// maxBodyBytes caps request bodies. Billing requests are small JSON documents.
const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// MessageResponse is the body of a successful update without a payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// TenantPlanResponse is the body of GET /tenants/{tenantID}/plan.
type TenantPlanResponse struct {
	ID              string                `json:"id"`
	Name            string                `json:"name"`
	PlanID          string                `json:"plan_id"`
	TaxRateID       *string               `json:"tax_rate_id"`
	PlanReservation *wire.PlanReservation `json:"plan_reservation"`
}

// UpdateTenantPlanRequest is the body of PUT /tenants/{tenantID}/plan.
// Empty fields are left unset on the reservation.
type UpdateTenantPlanRequest struct {
	NextPlanID        string `json:"next_plan_id"`
	TaxRateID         string `json:"tax_rate_id"`
	UsingNextPlanFrom int64  `json:"using_next_plan_from"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// Handler serves the billing API.
type Handler struct {
	billing *app.BillingService
	logger  zerolog.Logger
}

// NewHandler creates a new billing handler.
func NewHandler(billing *app.BillingService, logger zerolog.Logger) *Handler {
	return &Handler{billing: billing, logger: logger}
}

// Dashboard handles GET /billing/dashboard.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := parseTimestamp(q.Get("period_start"))
	if err != nil {
		h.writeError(w, r, badRequest("period_start must be an epoch timestamp"))
		return
	}
	end, err := parseTimestamp(q.Get("period_end"))
	if err != nil {
		h.writeError(w, r, badRequest("period_end must be an epoch timestamp"))
		return
	}

	d, err := h.billing.Dashboard(r.Context(), q.Get("tenant_id"), q.Get("plan_id"), start, end)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.FromDashboard(d))
}

// PlanPeriods handles GET /billing/plan_periods.
func (h *Handler) PlanPeriods(w http.ResponseWriter, r *http.Request) {
	segs, err := h.billing.PlanPeriods(r.Context(), r.URL.Query().Get("tenant_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.FromSegments(segs))
}

// UpdateMeteringCount handles POST /billing/metering/{tenantID}/{unit}[/{ts}].
// Without a timestamp the count is applied now.
func (h *Handler) UpdateMeteringCount(w http.ResponseWriter, r *http.Request) {
	var ts int64
	if raw := chi.URLParam(r, "ts"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			h.writeError(w, r, badRequest("ts must be a positive epoch timestamp"))
			return
		}
		ts = v
	}

	var body wire.MeteringUpdate
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	count, err := h.billing.UpdateMeteringCount(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "unit"), ts, body.ToUpdate())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.FromCount(count))
}

// ListPlans handles GET /pricing_plans.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.billing.ListPlans(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]wire.Plan, 0, len(plans))
	for _, p := range plans {
		out = append(out, wire.FromPlan(p))
	}
	writeJSON(w, http.StatusOK, out)
}

// ListTaxRates handles GET /tax_rates.
func (h *Handler) ListTaxRates(w http.ResponseWriter, r *http.Request) {
	rates, err := h.billing.ListTaxRates(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.FromTaxRates(rates))
}

// TenantPlan handles GET /tenants/{tenantID}/plan.
func (h *Handler) TenantPlan(w http.ResponseWriter, r *http.Request) {
	tp, err := h.billing.TenantPlan(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := TenantPlanResponse{ID: tp.ID, Name: tp.Name, PlanID: tp.PlanID}
	if tp.TaxRateID != "" {
		resp.TaxRateID = &tp.TaxRateID
	}
	if tp.Reservation != nil {
		pr := wire.FromReservation(*tp.Reservation)
		resp.PlanReservation = &pr
	}
	writeJSON(w, http.StatusOK, resp)
}

// UpdateTenantPlan handles PUT /tenants/{tenantID}/plan.
func (h *Handler) UpdateTenantPlan(w http.ResponseWriter, r *http.Request) {
	var body UpdateTenantPlanRequest
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	err := h.billing.UpdateTenantPlan(r.Context(), chi.URLParam(r, "tenantID"), tenant.PlanReservation{
		NextPlanID:        body.NextPlanID,
		UsingNextPlanFrom: body.UsingNextPlanFrom,
		NextPlanTaxRateID: body.TaxRateID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Tenant plan updated successfully"})
}

// Health returns a simple liveness check.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// -----------------------------------------------------------------------------
// Authentication
// -----------------------------------------------------------------------------

// TenantFunc extracts the tenant a request is scoped to.
type TenantFunc func(r *http.Request) string

// TenantFromQuery reads the tenant from the tenant_id query parameter.
func TenantFromQuery(r *http.Request) string {
	return r.URL.Query().Get("tenant_id")
}

// TenantFromURL reads the tenant from the {tenantID} route parameter.
func TenantFromURL(r *http.Request) string {
	return chi.URLParam(r, "tenantID")
}

// RequireUser rejects requests without a valid bearer token.
func (h *Handler) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r.Header.Get("Authorization"))
		if _, err := h.billing.Authenticate(r.Context(), token); err != nil {
			h.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireBillingAccess rejects requests whose user has no billing access to
// the tenant returned by tenantOf.
func (h *Handler) RequireBillingAccess(tenantOf TenantFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.BearerToken(r.Header.Get("Authorization"))
			if _, err := h.billing.Authorize(r.Context(), token, tenantOf(r)); err != nil {
				h.writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// -----------------------------------------------------------------------------
// Router
// -----------------------------------------------------------------------------

// RouterConfig holds optional configuration for the router.
type RouterConfig struct {
	Metrics        *metrics.Collector
	MetricsHandler http.Handler      // served at MetricsPath when set
	MetricsPath    string            // default /metrics
	IDs            ports.IDGenerator // request IDs; chi's generator when nil
	RequestTimeout time.Duration
	Tracer         trace.Tracer // server spans when set
}

// NewRouter builds the billing API router.
func NewRouter(h *Handler, logger zerolog.Logger, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	metricsPath := cfg.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	if cfg.IDs != nil {
		r.Use(NewRequestIDMiddleware(cfg.IDs))
	} else {
		r.Use(middleware.RequestID)
	}
	if cfg.Tracer != nil {
		r.Use(NewTracingMiddleware(cfg.Tracer, metricsPath))
	}
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(logger, metricsPath))
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	if cfg.Metrics != nil {
		r.Use(NewMetricsMiddleware(cfg.Metrics, metricsPath))
	}

	r.Get("/healthz", Health)
	if cfg.MetricsHandler != nil {
		r.Handle(metricsPath, cfg.MetricsHandler)
	}

	r.Route("/billing", func(r chi.Router) {
		r.With(h.RequireBillingAccess(TenantFromQuery)).Get("/dashboard", h.Dashboard)
		r.With(h.RequireBillingAccess(TenantFromQuery)).Get("/plan_periods", h.PlanPeriods)

		r.Route("/metering/{tenantID}/{unit}", func(r chi.Router) {
			r.Use(h.RequireBillingAccess(TenantFromURL))
			r.Post("/", h.UpdateMeteringCount)
			r.Post("/{ts}", h.UpdateMeteringCount)
		})
	})

	r.With(h.RequireUser).Get("/pricing_plans", h.ListPlans)
	r.With(h.RequireUser).Get("/tax_rates", h.ListTaxRates)

	r.Route("/tenants/{tenantID}/plan", func(r chi.Router) {
		r.Use(h.RequireBillingAccess(TenantFromURL))
		r.Get("/", h.TenantPlan)
		r.Put("/", h.UpdateTenantPlan)
	})

	return r
}

// -----------------------------------------------------------------------------
// Responses
// -----------------------------------------------------------------------------

type requestError struct {
	status  int
	message string
}

func (e *requestError) Error() string { return e.message }

func badRequest(msg string) error {
	return &requestError{status: http.StatusBadRequest, message: msg}
}

// StatusFor maps a service error to its HTTP status and client message.
func StatusFor(err error) (int, string) {
	var re *requestError
	if errors.As(err, &re) {
		return re.status, re.message
	}

	switch {
	case errors.Is(err, app.ErrCancelled):
		return http.StatusGatewayTimeout, "request cancelled"
	case errors.Is(err, app.ErrForbidden):
		return http.StatusForbidden, "Insufficient permissions"
	case errors.Is(err, ports.ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, app.ErrInvalidArgument):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, app.ErrInvalidPlanDefinition):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, ports.ErrNotFound):
		return http.StatusNotFound, err.Error()
	}

	var le *ports.LookupError
	if errors.As(err, &le) {
		if sc := le.StatusCode(); sc >= 400 && sc <= 599 {
			return sc, err.Error()
		}
		return http.StatusBadGateway, err.Error()
	}
	return http.StatusInternalServerError, "Internal server error"
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := StatusFor(err)

	ev := h.logger.Warn()
	if status >= 500 {
		ev = h.logger.Error()
	}
	ev.Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Str("request_id", middleware.GetReqID(r.Context())).
		Msg("billing request failed")

	writeJSON(w, status, ErrorResponse{
		Error:     msg,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return badRequest("failed to read request body")
	}
	if len(data) == 0 {
		return badRequest("request body is required")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return badRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

func parseTimestamp(s string) (int64, error) {
	if s == "" {
		return 0, errors.New("missing")
	}
	return strconv.ParseInt(s, 10, 64)
}
