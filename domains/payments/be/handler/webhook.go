package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mutare-labs/fleetpay-saas/domains/payments/be/service"
	"github.com/mutare-labs/fleetpay-saas/platform/go/audit"
	"github.com/mutare-labs/fleetpay-saas/platform/go/logging"
	"github.com/mutare-labs/fleetpay-saas/platform/go/problem"
	"github.com/mutare-labs/fleetpay-saas/platform/go/ratelimit"
)

// Webhook receives asynchronous payment notifications from the gateway. The
// endpoint is unauthenticated by nature, so it defends itself differently:
// rate limiting by client IP, hash verification of the payload, and a replay
// guard on the payload timestamp. The pushed payload is never trusted for
// state; it only triggers a fresh poll of the gateway.
type Webhook struct {
	svc            *service.Service
	guard          service.ReplayGuard
	limiter        *ratelimit.Limiter
	audit          audit.Emitter
	integrationKey string
	logger         *zap.Logger
}

// WebhookConfig wires the webhook dependencies.
type WebhookConfig struct {
	Service        *service.Service
	Guard          service.ReplayGuard
	Limiter        *ratelimit.Limiter
	Audit          audit.Emitter
	IntegrationKey string
	Logger         *zap.Logger
}

// NewWebhook constructs the webhook receiver.
func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Service == nil {
		panic("payments service is required")
	}
	if cfg.Guard == nil {
		panic("replay guard is required")
	}
	if cfg.Limiter == nil {
		panic("rate limiter is required")
	}
	if cfg.Audit == nil {
		panic("audit emitter is required")
	}
	if cfg.IntegrationKey == "" {
		panic("integration key is required")
	}
	if cfg.Logger == nil {
		panic("logger is required")
	}
	return &Webhook{
		svc:            cfg.Service,
		guard:          cfg.Guard,
		limiter:        cfg.Limiter,
		audit:          cfg.Audit,
		integrationKey: cfg.IntegrationKey,
		logger:         cfg.Logger,
	}
}

// Routes mounts the public notification endpoint behind the rate limiter.
func (h *Webhook) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(ratelimit.Middleware(h.limiter, ratelimit.ClientIPKey, h.logger))
	r.Post("/paynow", h.receive)
	return r
}

func (h *Webhook) receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err != nil {
		problem.Write(w, problem.Validation("unreadable notification body", nil))
		return
	}

	result, err := service.ParseGatewayResponse(string(body), h.integrationKey)
	if err != nil {
		problem.Write(w, problem.Validation("malformed gateway notification", nil))
		return
	}

	logger := logging.FromRequest(r, h.logger).With(
		zap.String("reference", result.Reference),
		zap.String("remote_addr", r.RemoteAddr),
	)

	if !result.HashValid {
		logger.Warn("webhook rejected: hash verification failed")
		h.auditRejection(r, result.Reference, "hash verification failed")
		problem.Write(w, problem.New(problem.TypeForbidden, "Forbidden", http.StatusForbidden, "notification failed hash verification"))
		return
	}
	if result.Reference == "" || result.Timestamp.IsZero() {
		problem.Write(w, problem.Validation("notification is missing reference or timestamp", nil))
		return
	}

	if err := h.guard.Check(r.Context(), result.Reference, result.Timestamp); err != nil {
		if errors.Is(err, service.ErrReplayDetected) {
			logger.Warn("webhook rejected: replayed notification")
			h.auditRejection(r, result.Reference, "replayed notification")
			problem.Write(w, problem.New(problem.TypeReplay, "Replay detected", http.StatusConflict, "a newer notification for this reference was already processed"))
			return
		}
		logger.Error("replay guard failure", zap.Error(err))
		problem.Write(w, problem.Internal())
		return
	}

	payment, err := h.svc.VerifyFromWebhook(r.Context(), result.Reference)
	if err != nil {
		h.writeReceiveError(w, logger, err)
		return
	}

	logger.Info("webhook payment verified", zap.String("payment_id", payment.ID.String()))
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// auditRejection leaves a trail for rejected notifications. Best effort: the
// rejection stands whether or not the entry lands.
func (h *Webhook) auditRejection(r *http.Request, reference, reason string) {
	err := h.audit.Record(r.Context(), audit.Entry{
		ActorID:    "gateway-webhook",
		Action:     "payment.webhook_rejected",
		EntityType: "payment",
		EntityID:   reference,
		NewValues: map[string]any{
			"reference":  reference,
			"reason":     reason,
			"remoteAddr": r.RemoteAddr,
		},
	})
	if err != nil {
		h.logger.Error("record webhook rejection", zap.Error(err))
	}
}

func (h *Webhook) writeReceiveError(w http.ResponseWriter, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrPaymentNotFound):
		problem.Write(w, problem.NotFound("payment not found"))
	case errors.Is(err, service.ErrAlreadyVerified):
		// Gateways retry notifications; an already settled payment is success.
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	case errors.Is(err, service.ErrAmountMismatch):
		logger.Warn("webhook verification failed: amount mismatch")
		problem.Write(w, problem.New(problem.TypeAmountMismatch, "Amount mismatch", http.StatusConflict, "gateway amount does not match the expected amount"))
	case errors.Is(err, service.ErrGatewayUnpaid):
		// Status pushes arrive for intermediate states too; acknowledge them.
		writeJSON(w, http.StatusOK, map[string]any{"status": "pending"})
	case errors.Is(err, service.ErrHashInvalid):
		logger.Warn("webhook verification failed: poll response hash invalid")
		problem.Write(w, problem.New(problem.TypeUpstream, "Gateway response rejected", http.StatusBadGateway, "the gateway poll response failed hash verification"))
	default:
		logger.Error("webhook verification failure", zap.Error(err))
		problem.Write(w, problem.Internal())
	}
}
