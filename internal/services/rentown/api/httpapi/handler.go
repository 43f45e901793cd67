// Package httpapi exposes the agreement registry as a JSON HTTP API.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/louisbranch/rentown/internal/agreement"
	"github.com/louisbranch/rentown/internal/agreement/event"
	apperrors "github.com/louisbranch/rentown/internal/platform/errors"
	"github.com/louisbranch/rentown/internal/services/rentown/app"
	"github.com/louisbranch/rentown/internal/services/rentown/storage"
)

// Handler bundles the HTTP endpoints over the agreement service.
type Handler struct {
	service *app.Service
}

// NewHandler creates a handler over the service.
func NewHandler(service *app.Service) *Handler {
	return &Handler{service: service}
}

// NewRouter builds the API router with authentication and rate limiting
// applied to every route.
func NewRouter(service *app.Service, auth *Authenticator, limiter *RateLimiter) http.Handler {
	h := NewHandler(service)
	router := mux.NewRouter()
	router.Use(auth.Middleware, limiter.Middleware)

	router.HandleFunc("/agreements", h.createAgreement).Methods(http.MethodPost)
	router.HandleFunc("/agreements", h.listAgreements).Methods(http.MethodGet)
	router.HandleFunc("/agreements/{id}", h.getAgreement).Methods(http.MethodGet)
	router.HandleFunc("/agreements/{id}/payments", h.payRent).Methods(http.MethodPost)
	router.HandleFunc("/agreements/{id}/rent", h.adjustRent).Methods(http.MethodPost)
	router.HandleFunc("/agreements/{id}/cancellation", h.cancelAgreement).Methods(http.MethodPost)
	router.HandleFunc("/agreements/{id}/events", h.listEvents).Methods(http.MethodGet)
	router.HandleFunc("/agreements/{id}/transfers", h.listTransfers).Methods(http.MethodGet)
	router.HandleFunc("/transfers/{id}/execution", h.executeTransfer).Methods(http.MethodPost)
	return router
}

type agreementResponse struct {
	ID                string    `json:"id"`
	LandlordID        string    `json:"landlord_id"`
	TenantID          string    `json:"tenant_id"`
	RentAmount        uint64    `json:"rent_amount"`
	TotalPaid         uint64    `json:"total_paid"`
	PaymentCount      uint64    `json:"payment_count"`
	PaymentsNeeded    uint64    `json:"payments_needed"`
	Owned             bool      `json:"owned"`
	LastPaymentPeriod uint64    `json:"last_payment_period"`
	PeriodsForPayment uint64    `json:"periods_for_payment"`
	PenaltyPercent    uint64    `json:"penalty_percent"`
	Refund            uint64    `json:"refund"`
	PaymentDue        *bool     `json:"payment_due,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func toAgreementResponse(a agreement.Agreement) agreementResponse {
	return agreementResponse{
		ID:                a.ID,
		LandlordID:        a.LandlordID,
		TenantID:          a.TenantID,
		RentAmount:        a.RentAmount,
		TotalPaid:         a.TotalPaid,
		PaymentCount:      a.PaymentCount,
		PaymentsNeeded:    a.PaymentsNeeded,
		Owned:             a.IsOwned(),
		LastPaymentPeriod: a.LastPaymentPeriod,
		PeriodsForPayment: a.PeriodsForPayment,
		PenaltyPercent:    a.PenaltyPercent,
		Refund:            a.Refund(),
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

type eventResponse struct {
	AgreementID string          `json:"agreement_id"`
	Seq         uint64          `json:"seq"`
	Timestamp   time.Time       `json:"timestamp"`
	Type        string          `json:"type"`
	ActorID     string          `json:"actor_id"`
	Period      uint64          `json:"period"`
	Payload     json.RawMessage `json:"payload"`
}

func toEventResponses(events []event.Event) []eventResponse {
	responses := make([]eventResponse, 0, len(events))
	for _, evt := range events {
		responses = append(responses, eventResponse{
			AgreementID: evt.AgreementID,
			Seq:         evt.Seq,
			Timestamp:   evt.Timestamp,
			Type:        string(evt.Type),
			ActorID:     evt.ActorID,
			Period:      evt.Period,
			Payload:     json.RawMessage(evt.PayloadJSON),
		})
	}
	return responses
}

type transferResponse struct {
	ID          string     `json:"id"`
	AgreementID string     `json:"agreement_id"`
	Seq         uint64     `json:"seq"`
	Recipient   string     `json:"recipient"`
	Amount      uint64     `json:"amount"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ExecutedAt  *time.Time `json:"executed_at,omitempty"`
}

func toTransferResponses(transfers []storage.Transfer) []transferResponse {
	responses := make([]transferResponse, 0, len(transfers))
	for _, transfer := range transfers {
		responses = append(responses, transferResponse{
			ID:          transfer.ID,
			AgreementID: transfer.AgreementID,
			Seq:         transfer.Seq,
			Recipient:   transfer.Recipient,
			Amount:      transfer.Amount,
			Status:      string(transfer.Status),
			CreatedAt:   transfer.CreatedAt,
			ExecutedAt:  transfer.ExecutedAt,
		})
	}
	return responses
}

type resultResponse struct {
	Agreement agreementResponse  `json:"agreement"`
	Events    []eventResponse    `json:"events"`
	Transfers []transferResponse `json:"transfers"`
}

func toResultResponse(result app.Result) resultResponse {
	return resultResponse{
		Agreement: toAgreementResponse(result.Agreement),
		Events:    toEventResponses(result.Events),
		Transfers: toTransferResponses(result.Transfers),
	}
}

func (h *Handler) createAgreement(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		LandlordID        string `json:"landlord_id"`
		TenantID          string `json:"tenant_id"`
		RentAmount        uint64 `json:"rent_amount"`
		PaymentsNeeded    uint64 `json:"payments_needed"`
		PeriodsForPayment uint64 `json:"periods_for_payment"`
		PenaltyPercent    uint64 `json:"penalty_percent"`
		CurrentPeriod     uint64 `json:"current_period"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, err)
		return
	}

	a, err := h.service.Create(r.Context(), CallerID(r.Context()), agreement.Input{
		LandlordID:        payload.LandlordID,
		TenantID:          payload.TenantID,
		RentAmount:        payload.RentAmount,
		PaymentsNeeded:    payload.PaymentsNeeded,
		PeriodsForPayment: payload.PeriodsForPayment,
		PenaltyPercent:    payload.PenaltyPercent,
		CurrentPeriod:     payload.CurrentPeriod,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAgreementResponse(a))
}

func (h *Handler) listAgreements(w http.ResponseWriter, r *http.Request) {
	agreements, err := h.service.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	responses := make([]agreementResponse, 0, len(agreements))
	for _, a := range agreements {
		responses = append(responses, toAgreementResponse(a))
	}
	writeJSON(w, http.StatusOK, responses)
}

// getAgreement returns agreement state. An optional period query parameter
// adds the payment_due query result for that period.
func (h *Handler) getAgreement(w http.ResponseWriter, r *http.Request) {
	a, err := h.service.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	response := toAgreementResponse(a)
	if raw := r.URL.Query().Get("period"); raw != "" {
		period, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, apperrors.New(apperrors.CodeInvalidConfiguration, "period must be a non-negative integer"))
			return
		}
		due := a.IsPaymentDue(period)
		response.PaymentDue = &due
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *Handler) payRent(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		AmountSent    uint64 `json:"amount_sent"`
		CurrentPeriod uint64 `json:"current_period"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.service.PayRent(r.Context(), CallerID(r.Context()), mux.Vars(r)["id"], payload.AmountSent, payload.CurrentPeriod)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultResponse(result))
}

func (h *Handler) adjustRent(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RentAmount uint64 `json:"rent_amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.service.AdjustRent(r.Context(), CallerID(r.Context()), mux.Vars(r)["id"], payload.RentAmount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultResponse(result))
}

func (h *Handler) cancelAgreement(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		CurrentPeriod uint64 `json:"current_period"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.service.Cancel(r.Context(), CallerID(r.Context()), mux.Vars(r)["id"], payload.CurrentPeriod)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultResponse(result))
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, err)
		return
	}
	events, err := h.service.ListEvents(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventResponses(events))
}

func (h *Handler) listTransfers(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, err)
		return
	}
	transfers, err := h.service.ListTransfers(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransferResponses(transfers))
}

func (h *Handler) executeTransfer(w http.ResponseWriter, r *http.Request) {
	if err := h.service.MarkTransferExecuted(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, apperrors.New(apperrors.CodeInvalidConfiguration, "limit must be a non-negative integer")
	}
	return limit, nil
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidConfiguration, fmt.Sprintf("invalid request body: %v", err), err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeUnknown
	message := "internal error"

	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) {
		code = domainErr.Code
		message = domainErr.Message
	}
	if code == apperrors.CodeUnknown {
		log.Printf("request failed: %v", err)
		message = "internal error"
	}

	writeJSON(w, code.HTTPStatus(), errorResponse{Error: errorBody{
		Code:    string(code),
		Message: message,
	}})
}
