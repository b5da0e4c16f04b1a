package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/Dan9191/commit-health/internal/config"
	"github.com/Dan9191/commit-health/internal/health"
	"github.com/Dan9191/commit-health/internal/integrations/metronome"
	"github.com/Dan9191/commit-health/internal/middleware"
	"github.com/Dan9191/commit-health/internal/models"
	"github.com/Dan9191/commit-health/internal/repository"
	"github.com/Dan9191/commit-health/internal/service"
	"github.com/Dan9191/commit-health/internal/utils"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// SignatureHeader carries the hex HMAC-SHA256 of a webhook body
const SignatureHeader = "X-Metronome-Signature"

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 20

// HealthService is what the handlers need from the service layer
type HealthService interface {
	Analytics(ctx context.Context, customerID string) (*service.HealthResult, error)
	CustomerHealth(ctx context.Context, customerID string) (*service.HealthResult, error)
	History(ctx context.Context, customerID string) ([]models.HealthSnapshot, error)
	Invoices(ctx context.Context, customerID string) ([]models.Invoice, error)
	Usage(ctx context.Context, customerID string) ([]models.UsageRecord, error)
	ListCustomers(ctx context.Context) ([]models.Customer, error)
	Portfolio(ctx context.Context) (health.Portfolio, error)
	Sync(ctx context.Context) (*models.SyncResult, error)
	HandleWebhook(ctx context.Context, payload []byte) (string, error)
	Login(email, password string) (string, error)
}

type Handler struct {
	svc HealthService
	cfg *config.Config
	log *logrus.Logger
	now func() time.Time
}

func NewHandler(svc HealthService, cfg *config.Config, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, cfg: cfg, log: log, now: time.Now}
}

// Router wires every route, public and JWT-protected
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestID, middleware.Logging(h.log))

	api := r.PathPrefix("/api").Subrouter()
	// Public routes
	api.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	api.HandleFunc("/login", h.Login).Methods(http.MethodPost)
	api.HandleFunc("/webhooks/metronome", h.Webhook).Methods(http.MethodPost)

	// Protected routes
	auth := api.NewRoute().Subrouter()
	auth.Use(middleware.AuthMiddleware(h.cfg))
	auth.HandleFunc("/gtm/analytics", h.Analytics).Methods(http.MethodPost)
	auth.HandleFunc("/customers", h.ListCustomers).Methods(http.MethodGet)
	auth.HandleFunc("/customers/{id}/health", h.CustomerHealth).Methods(http.MethodGet)
	auth.HandleFunc("/customers/{id}/history", h.History).Methods(http.MethodGet)
	auth.HandleFunc("/customers/{id}/invoices", h.Invoices).Methods(http.MethodGet)
	auth.HandleFunc("/customers/{id}/usage", h.Usage).Methods(http.MethodGet)
	auth.HandleFunc("/portfolio", h.Portfolio).Methods(http.MethodGet)
	auth.HandleFunc("/portfolio/report.xml", h.PortfolioReport).Methods(http.MethodGet)
	auth.HandleFunc("/sync", h.Sync).Methods(http.MethodPost)
	return r
}

// healthResponse is the wire form of an assessment. Percentages are rounded here only.
type healthResponse struct {
	CustomerID       string              `json:"customer_id"`
	TotalCommits     float64             `json:"total_commits"`
	RemainingBalance float64             `json:"remaining_balance"`
	BurnedAmount     float64             `json:"burned_amount"`
	ExpectedBurnRate float64             `json:"expected_burn_rate"`
	ActualBurnRate   float64             `json:"actual_burn_rate"`
	Ratio            float64             `json:"ratio"`
	HealthStatus     health.Status       `json:"health_status"`
	DisplayStatus    health.Status       `json:"display_status"`
	DaysRemaining    int                 `json:"days_remaining"`
	Recommendations  []string            `json:"recommendations"`
	Diagnostics      []health.Diagnostic `json:"diagnostics,omitempty"`
	AsOf             time.Time           `json:"as_of"`
}

func newHealthResponse(res *service.HealthResult) healthResponse {
	a := res.Assessment
	return healthResponse{
		CustomerID:       res.CustomerID,
		TotalCommits:     a.TotalCommits.InexactFloat64(),
		RemainingBalance: a.RemainingBalance.InexactFloat64(),
		BurnedAmount:     a.BurnedAmount.InexactFloat64(),
		ExpectedBurnRate: round2(a.ExpectedBurnPercent),
		ActualBurnRate:   round2(a.ActualBurnPercent),
		Ratio:            round2(a.Ratio),
		HealthStatus:     a.Status,
		DisplayStatus:    res.DisplayStatus,
		DaysRemaining:    a.DaysRemaining,
		Recommendations:  a.Recommendations,
		Diagnostics:      a.Diagnostics,
		AsOf:             a.AsOf,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Health is the liveness probe
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": h.now().UTC(),
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles admin authentication
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	token, err := h.svc.Login(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type analyticsRequest struct {
	CustomerID string `json:"customer_id"`
}

// Analytics classifies a customer's live balances
func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	var req analyticsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CustomerID == "" {
		writeError(w, http.StatusBadRequest, "customer_id is required")
		return
	}
	res, err := h.svc.Analytics(r.Context(), req.CustomerID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newHealthResponse(res))
}

// CustomerHealth classifies a customer's cached commits
func (h *Handler) CustomerHealth(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.CustomerHealth(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newHealthResponse(res))
}

// History returns stored snapshots for a burn-down chart
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	snapshots, err := h.svc.History(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshots)
}

// Invoices returns the finalized invoices of a customer
func (h *Handler) Invoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.svc.Invoices(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoices)
}

// Usage returns recent metric values of a customer
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.svc.Usage(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

// ListCustomers returns cached customers
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.svc.ListCustomers(r.Context())
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, customers)
}

// Portfolio returns the cross-customer overview
func (h *Handler) Portfolio(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Portfolio(r.Context())
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Sync runs a metering sync immediately
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	h.log.WithFields(logrus.Fields{
		"user":       middleware.Subject(r.Context()),
		"request_id": middleware.GetRequestID(r.Context()),
	}).Info("Manual sync requested")
	result, err := h.svc.Sync(r.Context())
	if err != nil {
		if errors.Is(err, service.ErrSyncInProgress) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Webhook ingests a metering API event. The signature is checked when a secret is configured.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if h.cfg.WebhookSecret != "" && !utils.VerifyHMAC(body, r.Header.Get(SignatureHeader), h.cfg.WebhookSecret) {
		h.log.WithField("request_id", middleware.GetRequestID(r.Context())).Warn("Rejected webhook with bad signature")
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	id, err := h.svc.HandleWebhook(r.Context(), body)
	if err != nil {
		if errors.Is(err, health.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "processed", "event_id": id})
}

// serviceError maps service failures onto HTTP statuses
func (h *Handler) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, health.ErrInvalidInput):
		writeError(w, http.StatusUnprocessableEntity, "unable to compute health for this account: "+err.Error())
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "customer not found")
	case errors.Is(err, metronome.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "metering API is not configured")
	case errors.Is(err, metronome.ErrUpstream):
		h.log.WithField("request_id", middleware.GetRequestID(r.Context())).Errorf("Metering API failure: %v", err)
		writeError(w, http.StatusBadGateway, "metering API request failed")
	default:
		h.internalError(w, r, err)
	}
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.log.WithField("request_id", middleware.GetRequestID(r.Context())).Errorf("Request failed: %v", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
