package handler

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mutare-labs/fleetpay-saas/domains/payments/be/service"
	tenants "github.com/mutare-labs/fleetpay-saas/domains/tenants/be/service"
	platformauth "github.com/mutare-labs/fleetpay-saas/platform/go/auth"
	"github.com/mutare-labs/fleetpay-saas/platform/go/logging"
	"github.com/mutare-labs/fleetpay-saas/platform/go/problem"
)

// Handler exposes invoicing and payment verification over HTTP.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("payments service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the billing endpoints. Manual verification additionally
// requires the verify capability.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/invoices", h.listInvoices)
	r.Post("/invoices", h.createInvoice)
	r.Post("/payments", h.initiate)

	r.Group(func(r chi.Router) {
		r.Use(platformauth.RequireCapability(platformauth.CapVerifyPayments))
		r.Post("/payments/{reference}/verify", h.verify)
	})
	return r
}

type invoiceResponse struct {
	ID          string     `json:"id"`
	AmountCents int64      `json:"amountCents"`
	Status      string     `json:"status"`
	Type        string     `json:"type"`
	PlanTier    *string    `json:"planTier,omitempty"`
	DueAt       *time.Time `json:"dueAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

func toInvoiceResponse(inv service.Invoice) invoiceResponse {
	resp := invoiceResponse{
		ID:          inv.ID.String(),
		AmountCents: inv.AmountCents,
		Status:      string(inv.Status),
		Type:        string(inv.Type),
		DueAt:       inv.DueAt,
		CreatedAt:   inv.CreatedAt,
	}
	if inv.PlanTier != nil {
		tier := string(*inv.PlanTier)
		resp.PlanTier = &tier
	}
	return resp
}

type paymentResponse struct {
	ID               string    `json:"id"`
	InvoiceID        string    `json:"invoiceId"`
	Reference        string    `json:"reference"`
	GatewayReference string    `json:"gatewayReference,omitempty"`
	AmountCents      int64     `json:"amountCents"`
	Status           string    `json:"status"`
	Verified         bool      `json:"verified"`
	CreatedAt        time.Time `json:"createdAt"`
}

func toPaymentResponse(p service.Payment) paymentResponse {
	return paymentResponse{
		ID:               p.ID.String(),
		InvoiceID:        p.InvoiceID.String(),
		Reference:        p.Reference,
		GatewayReference: p.GatewayReference,
		AmountCents:      p.AmountCents,
		Status:           string(p.Status),
		Verified:         p.Verified,
		CreatedAt:        p.CreatedAt,
	}
}

type createInvoiceRequest struct {
	Amount   float64    `json:"amount"`
	Type     string     `json:"type"`
	PlanTier *string    `json:"planTier"`
	DueAt    *time.Time `json:"dueAt"`
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, problem.Validation("invalid request body", nil))
		return
	}

	invType := service.InvoiceSubscription
	if req.Type != "" {
		switch service.InvoiceType(req.Type) {
		case service.InvoiceSubscription, service.InvoiceUpgrade:
			invType = service.InvoiceType(req.Type)
		default:
			problem.Write(w, problem.Validation("unknown invoice type", nil))
			return
		}
	}

	var planTier *tenants.PlanTier
	if req.PlanTier != nil {
		tier, err := tenants.ParsePlanTier(*req.PlanTier)
		if err != nil {
			problem.Write(w, problem.Validation("unknown plan tier", nil))
			return
		}
		planTier = &tier
	}
	if invType == service.InvoiceUpgrade && planTier == nil {
		problem.Write(w, problem.Validation("planTier is required for upgrade invoices", nil))
		return
	}

	created, err := h.svc.CreateInvoice(r.Context(), actorID(r), toCents(req.Amount), invType, planTier, req.DueAt)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceResponse(created))
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.svc.ListInvoices(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items := make([]invoiceResponse, 0, len(invoices))
	for _, inv := range invoices {
		items = append(items, toInvoiceResponse(inv))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type initiateRequest struct {
	InvoiceID string `json:"invoiceId"`
	PollURL   string `json:"pollUrl"`
}

func (h *Handler) initiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, problem.Validation("invalid request body", nil))
		return
	}

	invoiceID, err := uuid.Parse(req.InvoiceID)
	if err != nil {
		problem.Write(w, problem.Validation("invoiceId must be a UUID", nil))
		return
	}

	created, err := h.svc.Initiate(r.Context(), actorID(r), invoiceID, req.PollURL)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentResponse(created))
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")

	verified, err := h.svc.Verify(r.Context(), actorID(r), reference)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(verified))
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrPaymentNotFound):
		problem.Write(w, problem.NotFound("payment not found"))
	case errors.Is(err, service.ErrInvoiceNotFound):
		problem.Write(w, problem.NotFound("invoice not found"))
	case errors.Is(err, service.ErrAlreadyVerified):
		problem.Write(w, problem.Conflict("payment has already been verified"))
	case errors.Is(err, service.ErrAmountMismatch):
		problem.Write(w, problem.New(problem.TypeAmountMismatch, "Amount mismatch", http.StatusConflict, "gateway amount does not match the expected amount"))
	case errors.Is(err, service.ErrGatewayUnpaid):
		problem.Write(w, problem.New(problem.TypeUpstream, "Payment not completed", http.StatusPaymentRequired, "the gateway reports this transaction as unpaid"))
	case errors.Is(err, service.ErrHashInvalid):
		problem.Write(w, problem.New(problem.TypeUpstream, "Gateway response rejected", http.StatusBadGateway, "the gateway response failed hash verification"))
	case errors.Is(err, service.ErrNoScope):
		problem.Write(w, problem.New(problem.TypeUnauthorized, "Unauthorized", http.StatusUnauthorized, "tenant scope required"))
	default:
		logging.FromRequest(r, h.logger).Error("payments handler failure", zap.Error(err))
		problem.Write(w, problem.Internal())
	}
}

// toCents converts a decimal currency amount into integer minor units.
func toCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func actorID(r *http.Request) string {
	if creds, ok := platformauth.UserFromContext(r.Context()); ok && creds != nil {
		return creds.ID
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
