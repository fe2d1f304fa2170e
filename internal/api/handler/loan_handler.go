package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"loan-engine/internal/amortization"
	"loan-engine/internal/api/handler/dto"
	"loan-engine/internal/api/middleware"
	"loan-engine/internal/domain/loan"
	"loan-engine/internal/export"
	"loan-engine/internal/pkg/apperrors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type LoanHandler struct {
	service loan.LoanService
	logger  *slog.Logger
}

func NewLoanHandler(s loan.LoanService, l *slog.Logger) *LoanHandler {
	return &LoanHandler{
		service: s,
		logger:  l.With("component", "LoanHandler"),
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return fmt.Errorf("no request body")
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		slog.Default().Error("Failed to marshal JSON response", "error", err)
		http.Error(w, `{"error":{"message":"Internal server error"}}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

func respondError(w http.ResponseWriter, err error) {
	status, code, message, field := http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred.", ""
	var validationError *apperrors.ValidationError

	switch {
	case errors.As(err, &validationError):
		status, code, message, field = http.StatusBadRequest, "VALIDATION_ERROR", validationError.Message, validationError.Field
	case errors.Is(err, apperrors.ErrInvalidArgument), errors.Is(err, apperrors.ErrValidation):
		status, code, message = http.StatusBadRequest, "INVALID_ARGUMENT", err.Error()
	case errors.Is(err, apperrors.ErrUnauthorized):
		status, code, message = http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized"
	case errors.Is(err, apperrors.ErrNotFound):
		status, code, message = http.StatusNotFound, "NOT_FOUND", "Resource not found."
	case errors.Is(err, apperrors.ErrInvalidStateTransition):
		status, code, message = http.StatusConflict, "INVALID_STATE", err.Error()
	case errors.Is(err, apperrors.ErrConflict):
		status, code, message = http.StatusConflict, "CONFLICT", "Resource already exists."
	case errors.Is(err, apperrors.ErrNumericOverflow):
		status, code, message = http.StatusUnprocessableEntity, "NUMERIC_OVERFLOW", err.Error()
		var overflow *amortization.NumericOverflowError
		if errors.As(err, &overflow) {
			field = overflow.Field
		}
	default:
		slog.Default().Error("Unhandled internal error", "error", err)
	}

	resp := dto.ErrorResponse{
		Error: dto.ErrorDetail{
			Code:    code,
			Message: message,
			Field:   field,
		},
	}
	respondJSON(w, status, resp)
}

func writeDocument(w http.ResponseWriter, doc *export.Document) {
	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.FileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(doc.Body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Body)
}

func getLoanIDFromURL(r *http.Request) (uuid.UUID, error) {
	idStr := chi.URLParam(r, "loanID")
	if idStr == "" {
		return uuid.Nil, fmt.Errorf("loanID not found in URL path")
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("loanID must be a UUID")
	}
	return id, nil
}

// Calculate previews the amortization of a loan without saving anything.
//
// @Summary Preview a loan amortization
// @Description Calculates the fixed monthly payment, the totals and the full amortization schedule for an amount, annual interest rate (percent) and term in months.
// @Tags Loans
// @Accept json
// @Produce json
// @Param request body dto.CalculateRequest true "Calculation request payload"
// @Success 200 {object} dto.CalculationResponse "Amortization calculated"
// @Failure 400 {object} dto.ErrorResponse "Invalid request payload or validation error"
// @Failure 422 {object} dto.ErrorResponse "Inputs too large to calculate"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /loans/calculate [post]
func (h *LoanHandler) Calculate(w http.ResponseWriter, r *http.Request) {
	var req dto.CalculateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}

	in, err := req.ToInput()
	if err != nil {
		respondError(w, err)
		return
	}

	result, err := h.service.Calculate(r.Context(), in)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.NewCalculationResponse(result))
}

// ExportCalculation returns the preview schedule as a spreadsheet or PDF.
//
// @Summary Export a loan amortization preview
// @Description Runs the same calculation as the preview and returns the schedule as an XLSX workbook or a PDF document.
// @Tags Loans
// @Accept json
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Produce application/pdf
// @Param format query string false "Document format: xlsx (default) or pdf"
// @Param request body dto.CalculateRequest true "Calculation request payload"
// @Success 200 {file} file "Schedule document"
// @Failure 400 {object} dto.ErrorResponse "Invalid request payload, validation error or unknown format"
// @Failure 422 {object} dto.ErrorResponse "Inputs too large to calculate"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /loans/calculate/export [post]
func (h *LoanHandler) ExportCalculation(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = export.FormatXLSX
	}

	var req dto.CalculateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}

	in, err := req.ToInput()
	if err != nil {
		respondError(w, err)
		return
	}

	result, err := h.service.Calculate(r.Context(), in)
	if err != nil {
		respondError(w, err)
		return
	}

	doc, err := export.Render(format, result, export.Meta{Input: in, GeneratedAt: time.Now().UTC()})
	if err != nil {
		respondError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "Exported amortization preview", "format", format, "bytes", len(doc.Body))
	writeDocument(w, doc)
}

// CreateLoan handles the creation of a new loan request.
//
// @Summary Create a loan request
// @Description Creates a pending loan priced at the requested rate, or at the system default rate when none is given. The client defaults to the authenticated subject.
// @Tags Loans
// @Accept json
// @Produce json
// @Param request body dto.CreateLoanRequest true "Loan creation request payload"
// @Success 201 {object} dto.LoanResponse "Loan successfully created"
// @Failure 400 {object} dto.ErrorResponse "Invalid request payload or validation error"
// @Failure 422 {object} dto.ErrorResponse "Inputs too large to calculate"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /loans [post]
// @Security BearerAuth
func (h *LoanHandler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateLoanRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}

	if id, ok := middleware.IdentityFromContext(r.Context()); ok {
		if req.ClientID == "" {
			req.ClientID = id.Subject
		}
		if req.ClientName == "" {
			req.ClientName = id.Name
		}
	}

	createdLoan, err := h.service.CreateLoan(r.Context(), loan.CreateLoanParams{
		ClientID:     req.ClientID,
		ClientName:   req.ClientName,
		Amount:       req.Amount,
		InterestRate: req.InterestRate,
		TermMonths:   req.TermMonths,
		Purpose:      req.Purpose,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, dto.NewLoanResponse(createdLoan))
}

// ListLoans returns loans matching the optional filters.
//
// @Summary List loans
// @Description Lists loans, newest first, optionally filtered by client, lender and status.
// @Tags Loans
// @Produce json
// @Param client_id query string false "Client ID"
// @Param lender_id query string false "Lender ID"
// @Param status query string false "Loan status (pending, active, rejected, completed, defaulted)"
// @Param limit query int false "Page size (default 100, max 500)"
// @Param offset query int false "Rows to skip"
// @Success 200 {array} dto.LoanResponse "Loans"
// @Failure 400 {object} dto.ErrorResponse "Invalid query parameters"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /loans [get]
// @Security BearerAuth
func (h *LoanHandler) ListLoans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := loan.ListFilter{
		ClientID: q.Get("client_id"),
		LenderID: q.Get("lender_id"),
		Status:   loan.Status(q.Get("status")),
	}

	var err error
	if filter.Limit, err = intQuery(q.Get("limit")); err != nil {
		respondError(w, apperrors.NewValidationError("limit", "must be an integer"))
		return
	}
	if filter.Offset, err = intQuery(q.Get("offset")); err != nil {
		respondError(w, apperrors.NewValidationError("offset", "must be an integer"))
		return
	}

	loans, err := h.service.ListLoans(r.Context(), filter)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.NewLoanListResponse(loans))
}

func intQuery(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// GetLoan retrieves the details of a specific loan.
//
// @Summary Retrieve loan details
// @Tags Loans
// @Produce json
// @Param loanID path string true "Loan ID (UUID)"
// @Success 200 {object} dto.LoanResponse "Loan details successfully retrieved"
// @Failure 400 {object} dto.ErrorResponse "Invalid loan ID"
// @Failure 404 {object} dto.ErrorResponse "Loan not found"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /loans/{loanID} [get]
// @Security BearerAuth
func (h *LoanHandler) GetLoan(w http.ResponseWriter, r *http.Request) {
	loanID, err := getLoanIDFromURL(r)
	if err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}

	domainLoan, err := h.service.GetLoan(r.Context(), loanID)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.NewLoanResponse(domainLoan))
}

// GetSchedule returns the repayment schedule of a loan.
//
// @Summary Retrieve a loan's repayment schedule
// @Description Returns the stored installments of an approved loan. For a loan that is not approved yet the schedule is projected from today and marked as projected.
// @Tags Loans
// @Produce json
// @Param loanID path string true "Loan ID (UUID)"
// @Success 200 {object} dto.ScheduleResponse "Repayment schedule"
// @Failure 400 {object} dto.ErrorResponse "Invalid loan ID"
// @Failure 404 {object} dto.ErrorResponse "Loan not found"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /loans/{loanID}/schedule [get]
// @Security BearerAuth
func (h *LoanHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	loanID, err := getLoanIDFromURL(r)
	if err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}

	schedule, err := h.service.GetSchedule(r.Context(), loanID)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.NewScheduleResponse(schedule))
}

// ExportSchedule returns a loan's repayment schedule as a spreadsheet or PDF.
//
// @Summary Export a loan's repayment schedule
// @Description Renders the stored (or, before approval, projected) installments of a loan as an XLSX workbook or a PDF document.
// @Tags Loans
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Produce application/pdf
// @Param loanID path string true "Loan ID (UUID)"
// @Param format query string false "Document format: xlsx (default) or pdf"
// @Success 200 {file} file "Schedule document"
// @Failure 400 {object} dto.ErrorResponse "Invalid loan ID or unknown format"
// @Failure 404 {object} dto.ErrorResponse "Loan not found"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /loans/{loanID}/schedule/export [get]
// @Security BearerAuth
func (h *LoanHandler) ExportSchedule(w http.ResponseWriter, r *http.Request) {
	loanID, err := getLoanIDFromURL(r)
	if err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = export.FormatXLSX
	}

	schedule, err := h.service.GetSchedule(r.Context(), loanID)
	if err != nil {
		respondError(w, err)
		return
	}

	title := fmt.Sprintf("Loan %s", loanID)
	if schedule.Projected {
		title += " (projected)"
	}
	doc, err := export.Render(format, schedule.Result(), export.Meta{
		Title:       title,
		Input:       schedule.Input(),
		GeneratedAt: time.Now().UTC(),
	})
	if err != nil {
		respondError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "Exported loan schedule", "loan_id", loanID, "format", format, "bytes", len(doc.Body))
	writeDocument(w, doc)
}

// ApproveLoan assigns a lender and activates a pending loan.
//
// @Summary Approve a loan
// @Description Recalculates the loan at the assigned rate, activates it and stores its due-dated installments. The lender defaults to the authenticated subject.
// @Tags Loans
// @Accept json
// @Produce json
// @Param loanID path string true "Loan ID (UUID)"
// @Param request body dto.ApproveLoanRequest true "Approval payload"
// @Success 200 {object} dto.LoanResponse "Loan approved"
// @Failure 400 {object} dto.ErrorResponse "Invalid request payload or validation error"
// @Failure 404 {object} dto.ErrorResponse "Loan not found"
// @Failure 409 {object} dto.ErrorResponse "Loan is not pending"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /loans/{loanID}/approve [post]
// @Security BearerAuth
func (h *LoanHandler) ApproveLoan(w http.ResponseWriter, r *http.Request) {
	loanID, err := getLoanIDFromURL(r)
	if err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}

	var req dto.ApproveLoanRequest
	if err := decodeJSON(r, &req); err != nil || req.Validate() != nil {
		if err == nil {
			err = req.Validate()
		}
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}
	startDate, _ := dto.ParseDate(req.StartDate)
	h.fillLender(r, &req.LenderID, &req.LenderName)

	approved, err := h.service.ApproveLoan(r.Context(), loanID, loan.ApproveLoanParams{
		LenderID:     req.LenderID,
		LenderName:   req.LenderName,
		StartDate:    startDate,
		InterestRate: req.InterestRate,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.NewLoanResponse(approved))
}

// RejectLoan rejects a pending loan.
//
// @Summary Reject a loan
// @Tags Loans
// @Produce json
// @Param loanID path string true "Loan ID (UUID)"
// @Success 200 {object} dto.LoanResponse "Loan rejected"
// @Failure 400 {object} dto.ErrorResponse "Invalid loan ID"
// @Failure 404 {object} dto.ErrorResponse "Loan not found"
// @Failure 409 {object} dto.ErrorResponse "Loan is not pending"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /loans/{loanID}/reject [post]
// @Security BearerAuth
func (h *LoanHandler) RejectLoan(w http.ResponseWriter, r *http.Request) {
	loanID, err := getLoanIDFromURL(r)
	if err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}

	rejected, err := h.service.RejectLoan(r.Context(), loanID)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.NewLoanResponse(rejected))
}

// ProposeLoan records a lender's counter offer at a different rate.
//
// @Summary Propose new terms for a loan
// @Description Recalculates a pending loan at the proposed rate and stores the offer next to the original figures. The loan itself is not changed.
// @Tags Loans
// @Accept json
// @Produce json
// @Param loanID path string true "Loan ID (UUID)"
// @Param request body dto.ProposeLoanRequest true "Proposal payload"
// @Success 201 {object} dto.ProposalResponse "Proposal created"
// @Failure 400 {object} dto.ErrorResponse "Invalid request payload or validation error"
// @Failure 404 {object} dto.ErrorResponse "Loan not found"
// @Failure 409 {object} dto.ErrorResponse "Loan is not pending"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /loans/{loanID}/propose [post]
// @Security BearerAuth
func (h *LoanHandler) ProposeLoan(w http.ResponseWriter, r *http.Request) {
	loanID, err := getLoanIDFromURL(r)
	if err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}

	var req dto.ProposeLoanRequest
	if err := decodeJSON(r, &req); err != nil || req.Validate() != nil {
		if err == nil {
			err = req.Validate()
		}
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}
	startDate, _ := dto.ParseDate(req.StartDate)
	h.fillLender(r, &req.LenderID, &req.LenderName)

	proposal, err := h.service.ProposeLoan(r.Context(), loanID, loan.ProposeLoanParams{
		LenderID:             req.LenderID,
		LenderName:           req.LenderName,
		ProposedInterestRate: *req.ProposedInterestRate,
		Reason:               req.Reason,
		StartDate:            startDate,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, dto.NewProposalResponse(proposal))
}

// ListProposals returns the counter offers made on a loan.
//
// @Summary List loan proposals
// @Tags Loans
// @Produce json
// @Param loanID path string true "Loan ID (UUID)"
// @Success 200 {array} dto.ProposalResponse "Proposals"
// @Failure 400 {object} dto.ErrorResponse "Invalid loan ID"
// @Failure 404 {object} dto.ErrorResponse "Loan not found"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /loans/{loanID}/proposals [get]
// @Security BearerAuth
func (h *LoanHandler) ListProposals(w http.ResponseWriter, r *http.Request) {
	loanID, err := getLoanIDFromURL(r)
	if err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}

	proposals, err := h.service.ListProposals(r.Context(), loanID)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.NewProposalListResponse(proposals))
}

// fillLender defaults the lender to the token identity.
func (h *LoanHandler) fillLender(r *http.Request, lenderID, lenderName *string) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		return
	}
	if *lenderID == "" {
		*lenderID = id.Subject
	}
	if *lenderName == "" {
		*lenderName = id.Name
	}
}
