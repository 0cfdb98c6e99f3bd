package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/lendcore/emi-engine/internal/domain"
	"github.com/lendcore/emi-engine/internal/repository"
	"github.com/lendcore/emi-engine/internal/service"
	"github.com/lendcore/emi-engine/pkg/response"
)

// CollectionsHandler exposes the core's three operations to the rest of the
// platform: schedule building at loan approval, the payments-gateway webhook,
// and the installment status read model.
type CollectionsHandler struct {
	builder      *service.ScheduleBuilder
	machine      *service.StateMachine
	payments     repository.PaymentRepository
	installments repository.InstallmentRepository
	validator    *validator.Validate
	log          *logrus.Logger
}

func NewCollectionsHandler(
	builder *service.ScheduleBuilder,
	machine *service.StateMachine,
	payments repository.PaymentRepository,
	installments repository.InstallmentRepository,
	log *logrus.Logger,
) *CollectionsHandler {
	return &CollectionsHandler{
		builder:      builder,
		machine:      machine,
		payments:     payments,
		installments: installments,
		validator:    validator.New(),
		log:          log,
	}
}

// BuildSchedule handles POST /loans/{loanId}/schedule, invoked once by the
// loan-approval workflow.
func (h *CollectionsHandler) BuildSchedule(w http.ResponseWriter, r *http.Request) {
	loanID := mux.Vars(r)["loanId"]

	schedule, err := h.builder.BuildSchedule(r.Context(), loanID)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Created(w, &domain.BuildScheduleResponse{
		LoanID:   loanID,
		Schedule: schedule,
	})
}

// PaymentWebhook handles POST /payments/webhook from the payments gateway.
// The record insert is idempotent on source_id, so redelivery is a no-op, and
// the paid transition is driven synchronously afterwards.
func (h *CollectionsHandler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req domain.PaymentWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body", err)
		return
	}

	if err := h.validator.Struct(&req); err != nil {
		response.BadRequest(w, "validation failed", err)
		return
	}

	record := &domain.PaymentRecord{
		ID:        uuid.New(),
		UserID:    req.UserID,
		LoanID:    req.LoanID,
		EmiNumber: req.EmiNumber,
		Amount:    req.Amount,
		SourceID:  req.SourceID,
		PaidAt:    req.PaidAt,
	}

	inserted, err := h.payments.Insert(r.Context(), record)
	if err != nil {
		response.InternalServerError(w, "failed to record payment", err)
		return
	}

	if !inserted {
		h.log.WithField("source_id", req.SourceID).Info("duplicate payment webhook delivery")
	}

	if err := h.machine.OnPaymentConfirmed(r.Context(), req.LoanID, req.EmiNumber); err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, &domain.PaymentWebhookResponse{
		LoanID:    req.LoanID,
		EmiNumber: req.EmiNumber,
		Duplicate: !inserted,
	})
}

// GetInstallment handles GET /loans/{loanId}/installments/{emiNumber}.
func (h *CollectionsHandler) GetInstallment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	loanID := vars["loanId"]

	emiNumber, err := strconv.Atoi(vars["emiNumber"])
	if err != nil || emiNumber <= 0 {
		response.BadRequest(w, "invalid EMI number", err)
		return
	}

	state, err := h.machine.GetInstallmentStatus(r.Context(), loanID, emiNumber)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, &domain.InstallmentStatusResponse{
		LoanID:    loanID,
		EmiNumber: emiNumber,
		State:     state,
	})
}

// ListInstallments handles GET /loans/{loanId}/installments.
func (h *CollectionsHandler) ListInstallments(w http.ResponseWriter, r *http.Request) {
	loanID := mux.Vars(r)["loanId"]

	installments, err := h.installments.ListByLoan(r.Context(), loanID)
	if err != nil {
		response.InternalServerError(w, "failed to list installments", err)
		return
	}

	response.Success(w, &domain.BuildScheduleResponse{
		LoanID:   loanID,
		Schedule: installments,
	})
}
