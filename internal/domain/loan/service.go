package loan

import (
	"context"
	"errors"
	"fmt"
	"loan-engine/internal/amortization"
	"loan-engine/internal/event"
	"loan-engine/internal/infrastructure/monitoring"
	"loan-engine/internal/pkg/apperrors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Calculator call sites, used as metric labels.
const (
	SourcePreview = "preview"
	SourceCreate  = "create"
	SourceApprove = "approve"
	SourcePropose = "propose"
)

// Page sizes for ListLoans. A missing or out-of-range limit falls back to the default.
const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

// RatePolicy supplies the system default rate and the rates on offer.
type RatePolicy interface {
	DefaultInterestRate() float64
	IsAvailableRate(rate float64) bool
}

type CreateLoanParams struct {
	ClientID     string
	ClientName   string
	Amount       float64
	InterestRate *float64
	TermMonths   int
	Purpose      string
}

type ApproveLoanParams struct {
	LenderID     string
	LenderName   string
	StartDate    time.Time
	InterestRate *float64
}

type ProposeLoanParams struct {
	LenderID             string
	LenderName           string
	ProposedInterestRate float64
	Reason               string
	StartDate            time.Time
}

// Schedule is the repayment plan of a loan. Until approval the plan is
// projected from today and nothing is persisted.
type Schedule struct {
	Loan         *Loan
	Projected    bool
	Installments []Installment
}

// Result returns the schedule in calculator form, with the totals stored on
// the loan.
func (s *Schedule) Result() *amortization.Result {
	return &amortization.Result{
		MonthlyPayment: s.Loan.MonthlyPayment,
		TotalAmount:    s.Loan.TotalAmount,
		TotalInterest:  s.Loan.TotalInterest,
		Schedule:       ScheduleFromInstallments(s.Installments),
	}
}

// Input is the calculator input the loan's figures were produced from.
func (s *Schedule) Input() amortization.Input {
	return s.Loan.input(s.Loan.InterestRate)
}

type LoanService interface {
	Calculate(ctx context.Context, in amortization.Input) (*amortization.Result, error)

	CreateLoan(ctx context.Context, params CreateLoanParams) (*Loan, error)

	GetLoan(ctx context.Context, loanID uuid.UUID) (*Loan, error)

	ListLoans(ctx context.Context, filter ListFilter) ([]*Loan, error)

	GetSchedule(ctx context.Context, loanID uuid.UUID) (*Schedule, error)

	ApproveLoan(ctx context.Context, loanID uuid.UUID, params ApproveLoanParams) (*Loan, error)

	RejectLoan(ctx context.Context, loanID uuid.UUID) (*Loan, error)

	ProposeLoan(ctx context.Context, loanID uuid.UUID, params ProposeLoanParams) (*Proposal, error)

	ListProposals(ctx context.Context, loanID uuid.UUID) ([]Proposal, error)
}

type Options struct {
	InstallmentIntervalDays int
	MaxTermMonths           int
}

type loanServiceImpl struct {
	repo      Repository
	rates     RatePolicy
	publisher event.Publisher
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

func NewLoanService(r Repository, rates RatePolicy, publisher event.Publisher, opts Options, logger *slog.Logger) LoanService {
	if publisher == nil {
		publisher = event.NopPublisher{}
	}
	if opts.InstallmentIntervalDays <= 0 {
		opts.InstallmentIntervalDays = DefaultInstallmentIntervalDays
	}
	if opts.MaxTermMonths <= 0 || opts.MaxTermMonths > amortization.MaxTermMonths {
		opts.MaxTermMonths = amortization.MaxTermMonths
	}
	return &loanServiceImpl{
		repo:      r,
		rates:     rates,
		publisher: publisher,
		opts:      opts,
		logger:    logger.With("component", "LoanService"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *loanServiceImpl) Calculate(ctx context.Context, in amortization.Input) (*amortization.Result, error) {
	return s.calculate(ctx, SourcePreview, func() (*amortization.Result, error) {
		return amortization.Calculate(in)
	})
}

// calculate runs fn and records the outcome for source.
func (s *loanServiceImpl) calculate(ctx context.Context, source string, fn func() (*amortization.Result, error)) (*amortization.Result, error) {
	result, err := fn()
	if err != nil {
		outcome := "error"
		var invalid *amortization.InvalidInputError
		var overflow *amortization.NumericOverflowError
		switch {
		case errors.As(err, &invalid):
			outcome = "invalid_input"
		case errors.As(err, &overflow):
			outcome = "numeric_overflow"
		}
		monitoring.RecordCalculation(source, outcome, 0)
		s.logger.WarnContext(ctx, "Amortization calculation rejected", "source", source, "outcome", outcome, "error", err)
		return nil, err
	}
	monitoring.RecordCalculation(source, "success", len(result.Schedule))
	return result, nil
}

func (s *loanServiceImpl) CreateLoan(ctx context.Context, params CreateLoanParams) (*Loan, error) {
	s.logger.InfoContext(ctx, "Creating new loan", "client_id", params.ClientID)

	if err := ValidateClient(params.ClientID, params.ClientName); err != nil {
		return nil, err
	}
	if params.TermMonths > s.opts.MaxTermMonths {
		return nil, apperrors.NewValidationError(amortization.FieldTermMonths, fmt.Sprintf("must not exceed %d months", s.opts.MaxTermMonths))
	}

	rate := s.rates.DefaultInterestRate()
	if params.InterestRate != nil {
		if !s.rates.IsAvailableRate(*params.InterestRate) {
			return nil, apperrors.NewValidationError(amortization.FieldRate, "is not one of the available interest rates")
		}
		rate = *params.InterestRate
	}

	in := amortization.Input{Principal: params.Amount, AnnualRatePercent: rate, TermMonths: params.TermMonths}
	result, err := s.calculate(ctx, SourceCreate, func() (*amortization.Result, error) {
		return amortization.Calculate(in)
	})
	if err != nil {
		return nil, err
	}

	l, err := NewLoan(params.ClientID, params.ClientName, in, result, params.Purpose)
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreateLoan(ctx, l); err != nil {
		s.logger.ErrorContext(ctx, "Failed to save loan", "error", err)
		return nil, fmt.Errorf("%w: failed to save loan: %w", apperrors.ErrInternalServer, err)
	}

	monitoring.RecordLoanCreated()
	s.logger.InfoContext(ctx, "Loan created successfully", "loan_id", l.ID, "client_id", l.ClientID, "monthly_payment", l.MonthlyPayment.StringFixed(2))
	s.publish(ctx, event.RoutingKeyLoanCreated, l, nil)
	return l, nil
}

func (s *loanServiceImpl) GetLoan(ctx context.Context, loanID uuid.UUID) (*Loan, error) {
	l, err := s.repo.GetLoanByID(ctx, loanID)
	if err != nil {
		return nil, s.wrapLookupError(ctx, loanID, err)
	}
	return l, nil
}

func (s *loanServiceImpl) ListLoans(ctx context.Context, filter ListFilter) ([]*Loan, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperrors.NewValidationError("status", fmt.Sprintf("unknown loan status %q", filter.Status))
	}
	if filter.Limit <= 0 || filter.Limit > MaxListLimit {
		filter.Limit = DefaultListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	loans, err := s.repo.ListLoans(ctx, filter)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list loans", "error", err)
		return nil, fmt.Errorf("%w: failed to list loans: %w", apperrors.ErrInternalServer, err)
	}
	return loans, nil
}

func (s *loanServiceImpl) GetSchedule(ctx context.Context, loanID uuid.UUID) (*Schedule, error) {
	l, err := s.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}

	installments, err := s.repo.GetInstallments(ctx, loanID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to load installments", "loan_id", loanID, "error", err)
		return nil, fmt.Errorf("%w: failed to load installments: %w", apperrors.ErrInternalServer, err)
	}
	if len(installments) > 0 {
		return &Schedule{Loan: l, Installments: installments}, nil
	}

	result, err := l.Quote(l.InterestRate)
	if err != nil {
		return nil, err
	}
	projected, err := BuildInstallments(l.ID, result, s.now(), s.opts.InstallmentIntervalDays)
	if err != nil {
		return nil, err
	}
	return &Schedule{Loan: l, Projected: true, Installments: projected}, nil
}

func (s *loanServiceImpl) ApproveLoan(ctx context.Context, loanID uuid.UUID, params ApproveLoanParams) (l *Loan, err error) {
	s.logger.InfoContext(ctx, "Approving loan", "loan_id", loanID, "lender_id", params.LenderID)

	if strings.TrimSpace(params.LenderID) == "" {
		return nil, apperrors.NewValidationError("lender_id", "must not be empty")
	}
	if params.InterestRate != nil && !s.rates.IsAvailableRate(*params.InterestRate) {
		return nil, apperrors.NewValidationError(amortization.FieldRate, "is not one of the available interest rates")
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: could not begin transaction: %w", apperrors.ErrInternalServer, err)
	}
	defer func() {
		if err != nil {
			_ = s.repo.RollbackTx(ctx, tx)
		}
	}()

	l, err = s.repo.GetLoanForUpdate(ctx, tx, loanID)
	if err != nil {
		return nil, s.wrapLookupError(ctx, loanID, err)
	}

	if err = NewLifecycle(l).Approve(ctx); err != nil {
		s.logger.WarnContext(ctx, "Loan cannot be approved", "loan_id", loanID, "status", l.Status)
		return nil, err
	}

	rate := l.InterestRate
	if params.InterestRate != nil {
		rate = *params.InterestRate
	}
	result, err := s.calculate(ctx, SourceApprove, func() (*amortization.Result, error) {
		return l.Reprice(rate)
	})
	if err != nil {
		return nil, err
	}

	start := params.StartDate
	if start.IsZero() {
		start = s.now()
	}
	now := s.now()
	lenderID, lenderName := params.LenderID, params.LenderName
	l.LenderID = &lenderID
	l.LenderName = &lenderName
	l.ApprovedAt = &now
	l.StartDate = &start
	l.UpdatedAt = now

	installments, err := BuildInstallments(l.ID, result, start, s.opts.InstallmentIntervalDays)
	if err != nil {
		return nil, err
	}

	if err = s.repo.UpdateLoanInTx(ctx, tx, l); err != nil {
		s.logger.ErrorContext(ctx, "Failed to update approved loan", "loan_id", loanID, "error", err)
		return nil, fmt.Errorf("%w: failed to update loan: %w", apperrors.ErrInternalServer, err)
	}
	if err = s.repo.InsertInstallmentsInTx(ctx, tx, installments); err != nil {
		s.logger.ErrorContext(ctx, "Failed to save installments", "loan_id", loanID, "error", err)
		return nil, fmt.Errorf("%w: failed to save installments: %w", apperrors.ErrInternalServer, err)
	}
	if err = s.repo.CommitTx(ctx, tx); err != nil {
		return nil, fmt.Errorf("%w: failed to commit approval: %w", apperrors.ErrInternalServer, err)
	}

	l.Installments = installments
	monitoring.RecordLoanDecision("approved")
	s.logger.InfoContext(ctx, "Loan approved", "loan_id", loanID, "interest_rate", rate, "installments", len(installments))
	s.publish(ctx, event.RoutingKeyLoanApproved, l, nil)
	return l, nil
}

func (s *loanServiceImpl) RejectLoan(ctx context.Context, loanID uuid.UUID) (l *Loan, err error) {
	s.logger.InfoContext(ctx, "Rejecting loan", "loan_id", loanID)

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: could not begin transaction: %w", apperrors.ErrInternalServer, err)
	}
	defer func() {
		if err != nil {
			_ = s.repo.RollbackTx(ctx, tx)
		}
	}()

	l, err = s.repo.GetLoanForUpdate(ctx, tx, loanID)
	if err != nil {
		return nil, s.wrapLookupError(ctx, loanID, err)
	}
	if err = NewLifecycle(l).Reject(ctx); err != nil {
		s.logger.WarnContext(ctx, "Loan cannot be rejected", "loan_id", loanID, "status", l.Status)
		return nil, err
	}
	l.UpdatedAt = s.now()

	if err = s.repo.UpdateLoanInTx(ctx, tx, l); err != nil {
		s.logger.ErrorContext(ctx, "Failed to update rejected loan", "loan_id", loanID, "error", err)
		return nil, fmt.Errorf("%w: failed to update loan: %w", apperrors.ErrInternalServer, err)
	}
	if err = s.repo.CommitTx(ctx, tx); err != nil {
		return nil, fmt.Errorf("%w: failed to commit rejection: %w", apperrors.ErrInternalServer, err)
	}

	monitoring.RecordLoanDecision("rejected")
	s.publish(ctx, event.RoutingKeyLoanRejected, l, nil)
	return l, nil
}

func (s *loanServiceImpl) ProposeLoan(ctx context.Context, loanID uuid.UUID, params ProposeLoanParams) (*Proposal, error) {
	s.logger.InfoContext(ctx, "Proposing new terms", "loan_id", loanID, "lender_id", params.LenderID)

	if strings.TrimSpace(params.LenderID) == "" {
		return nil, apperrors.NewValidationError("lender_id", "must not be empty")
	}

	l, err := s.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if !NewLifecycle(l).CanPropose() {
		return nil, fmt.Errorf("%w: proposals are only allowed for pending loans, loan is %s", apperrors.ErrInvalidStateTransition, l.Status)
	}

	proposed, err := s.calculate(ctx, SourcePropose, func() (*amortization.Result, error) {
		return l.Quote(params.ProposedInterestRate)
	})
	if err != nil {
		return nil, err
	}

	start := params.StartDate
	if start.IsZero() {
		start = s.now()
	}
	p := &Proposal{
		ID:                     uuid.New(),
		LoanID:                 l.ID,
		ClientID:               l.ClientID,
		LenderID:               params.LenderID,
		LenderName:             params.LenderName,
		OriginalInterestRate:   l.InterestRate,
		ProposedInterestRate:   params.ProposedInterestRate,
		OriginalMonthlyPayment: l.MonthlyPayment,
		ProposedMonthlyPayment: proposed.MonthlyPayment,
		OriginalTotalAmount:    l.TotalAmount,
		ProposedTotalAmount:    proposed.TotalAmount,
		Reason:                 strings.TrimSpace(params.Reason),
		Status:                 ProposalPending,
		StartDate:              start,
		CreatedAt:              s.now(),
	}

	if err := s.repo.CreateProposal(ctx, p); err != nil {
		s.logger.ErrorContext(ctx, "Failed to save proposal", "loan_id", loanID, "error", err)
		return nil, fmt.Errorf("%w: failed to save proposal: %w", apperrors.ErrInternalServer, err)
	}

	monitoring.RecordProposal()
	s.publish(ctx, event.RoutingKeyLoanProposed, l, p)
	return p, nil
}

func (s *loanServiceImpl) ListProposals(ctx context.Context, loanID uuid.UUID) ([]Proposal, error) {
	if _, err := s.GetLoan(ctx, loanID); err != nil {
		return nil, err
	}
	proposals, err := s.repo.ListProposals(ctx, loanID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list proposals", "loan_id", loanID, "error", err)
		return nil, fmt.Errorf("%w: failed to list proposals: %w", apperrors.ErrInternalServer, err)
	}
	return proposals, nil
}

func (s *loanServiceImpl) wrapLookupError(ctx context.Context, loanID uuid.UUID, err error) error {
	if errors.Is(err, apperrors.ErrNotFound) {
		s.logger.WarnContext(ctx, "Loan not found", "loan_id", loanID)
		return fmt.Errorf("%w: loan %s not found", apperrors.ErrNotFound, loanID)
	}
	s.logger.ErrorContext(ctx, "Failed to load loan", "loan_id", loanID, "error", err)
	return fmt.Errorf("%w: failed to load loan %s: %w", apperrors.ErrInternalServer, loanID, err)
}

// publish never fails the operation. Delivery problems are logged.
func (s *loanServiceImpl) publish(ctx context.Context, routingKey string, l *Loan, p *Proposal) {
	evt := event.LoanEvent{
		EventID:        uuid.NewString(),
		LoanID:         l.ID.String(),
		ClientID:       l.ClientID,
		Status:         string(l.Status),
		Amount:         l.Amount,
		InterestRate:   l.InterestRate,
		TermMonths:     l.TermMonths,
		MonthlyPayment: l.MonthlyPayment.StringFixed(2),
		TotalAmount:    l.TotalAmount.StringFixed(2),
		TotalInterest:  l.TotalInterest.StringFixed(2),
		Timestamp:      s.now(),
	}
	if l.LenderID != nil {
		evt.LenderID = *l.LenderID
	}
	if p != nil {
		rate := p.ProposedInterestRate
		evt.LenderID = p.LenderID
		evt.ProposedInterestRate = &rate
		evt.Reason = p.Reason
	}

	if err := s.publisher.PublishLoanEvent(ctx, routingKey, evt); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish loan event", "routing_key", routingKey, "loan_id", l.ID, "error", err)
	}
}
