package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mutare-labs/fleetpay-saas/domains/fleet/be/service"
	platformauth "github.com/mutare-labs/fleetpay-saas/platform/go/auth"
	"github.com/mutare-labs/fleetpay-saas/platform/go/logging"
	"github.com/mutare-labs/fleetpay-saas/platform/go/problem"
)

// Handler exposes drivers and vehicles over HTTP. All routes are mounted
// behind the tenant scope middleware.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("fleet service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the fleet endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/drivers", func(r chi.Router) {
		r.Get("/", h.listDrivers)
		r.Post("/", h.createDriver)
		r.Get("/{driverID}", h.getDriver)
	})
	r.Route("/vehicles", func(r chi.Router) {
		r.Get("/", h.listVehicles)
		r.Post("/", h.createVehicle)
		r.Get("/{vehicleID}", h.getVehicle)
		r.Patch("/{vehicleID}", h.updateVehicle)
	})
	return r
}

type driverResponse struct {
	ID          string    `json:"id"`
	FullName    string    `json:"fullName"`
	Phone       string    `json:"phone,omitempty"`
	DebtBalance int64     `json:"debtBalanceCents"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toDriverResponse(d service.Driver) driverResponse {
	return driverResponse{
		ID:          d.ID.String(),
		FullName:    d.FullName,
		Phone:       d.Phone,
		DebtBalance: d.DebtBalanceCents,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

type vehicleResponse struct {
	ID            string          `json:"id"`
	Registration  string          `json:"registration"`
	PaymentModel  string          `json:"paymentModel"`
	PaymentConfig json.RawMessage `json:"paymentConfig"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

func toVehicleResponse(v service.Vehicle) vehicleResponse {
	return vehicleResponse{
		ID:            v.ID.String(),
		Registration:  v.Registration,
		PaymentModel:  string(v.PaymentModel),
		PaymentConfig: v.RawConfig,
		CreatedAt:     v.CreatedAt,
		UpdatedAt:     v.UpdatedAt,
	}
}

type createDriverRequest struct {
	FullName string  `json:"fullName"`
	Phone    string  `json:"phone"`
	UserID   *string `json:"userId"`
}

func (h *Handler) createDriver(w http.ResponseWriter, r *http.Request) {
	var req createDriverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, problem.Validation("invalid request body", nil))
		return
	}

	input := service.CreateDriverInput{FullName: req.FullName, Phone: req.Phone}
	if req.UserID != nil {
		parsed, err := uuid.Parse(*req.UserID)
		if err != nil {
			problem.Write(w, problem.Validation("userId must be a UUID", nil))
			return
		}
		input.UserID = &parsed
	}

	created, err := h.svc.CreateDriver(r.Context(), actorID(r), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDriverResponse(created))
}

func (h *Handler) getDriver(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "driverID"))
	if err != nil {
		problem.Write(w, problem.NotFound("driver not found"))
		return
	}

	d, err := h.svc.GetDriver(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDriverResponse(d))
}

func (h *Handler) listDrivers(w http.ResponseWriter, r *http.Request) {
	drivers, err := h.svc.ListDrivers(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items := make([]driverResponse, 0, len(drivers))
	for _, d := range drivers {
		items = append(items, toDriverResponse(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type createVehicleRequest struct {
	Registration  string          `json:"registration"`
	PaymentModel  string          `json:"paymentModel"`
	PaymentConfig json.RawMessage `json:"paymentConfig"`
}

func (h *Handler) createVehicle(w http.ResponseWriter, r *http.Request) {
	var req createVehicleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, problem.Validation("invalid request body", nil))
		return
	}

	created, err := h.svc.CreateVehicle(r.Context(), actorID(r), service.CreateVehicleInput{
		Registration:  req.Registration,
		PaymentModel:  service.PaymentModel(req.PaymentModel),
		PaymentConfig: req.PaymentConfig,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toVehicleResponse(created))
}

func (h *Handler) getVehicle(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "vehicleID"))
	if err != nil {
		problem.Write(w, problem.NotFound("vehicle not found"))
		return
	}

	v, err := h.svc.GetVehicle(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toVehicleResponse(v))
}

func (h *Handler) listVehicles(w http.ResponseWriter, r *http.Request) {
	vehicles, err := h.svc.ListVehicles(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items := make([]vehicleResponse, 0, len(vehicles))
	for _, v := range vehicles {
		items = append(items, toVehicleResponse(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type updateVehicleRequest struct {
	PaymentModel  *string         `json:"paymentModel"`
	PaymentConfig json.RawMessage `json:"paymentConfig"`
}

func (h *Handler) updateVehicle(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "vehicleID"))
	if err != nil {
		problem.Write(w, problem.NotFound("vehicle not found"))
		return
	}

	var req updateVehicleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, problem.Validation("invalid request body", nil))
		return
	}

	input := service.UpdateVehicleInput{PaymentConfig: req.PaymentConfig}
	if req.PaymentModel != nil {
		model := service.PaymentModel(*req.PaymentModel)
		input.PaymentModel = &model
	}

	updated, err := h.svc.UpdateVehicle(r.Context(), actorID(r), id, input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toVehicleResponse(updated))
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		problem.Write(w, problem.Validation("validation failed", validationErr.Fields))
	case errors.Is(err, service.ErrDriverNotFound):
		problem.Write(w, problem.NotFound("driver not found"))
	case errors.Is(err, service.ErrVehicleNotFound):
		problem.Write(w, problem.NotFound("vehicle not found"))
	case errors.Is(err, service.ErrVehicleConflict):
		problem.Write(w, problem.Conflict("vehicle registration already exists"))
	case errors.Is(err, service.ErrNoScope):
		problem.Write(w, problem.New(problem.TypeUnauthorized, "Unauthorized", http.StatusUnauthorized, "tenant scope required"))
	default:
		logging.FromRequest(r, h.logger).Error("fleet handler failure", zap.Error(err))
		problem.Write(w, problem.Internal())
	}
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
