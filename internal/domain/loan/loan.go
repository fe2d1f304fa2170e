package loan

import (
	"fmt"
	"loan-engine/internal/amortization"
	"loan-engine/internal/pkg/apperrors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const DefaultInstallmentIntervalDays = 30

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
	StatusDefaulted Status = "defaulted"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusRejected, StatusCompleted, StatusDefaulted:
		return true
	}
	return false
}

type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "pending"
	InstallmentPaid    InstallmentStatus = "paid"
	InstallmentLate    InstallmentStatus = "late"
	InstallmentOverdue InstallmentStatus = "overdue"
)

type ProposalStatus string

const (
	ProposalPending ProposalStatus = "pending"
)

type Loan struct {
	ID             uuid.UUID
	ClientID       string
	ClientName     string
	LenderID       *string
	LenderName     *string
	Amount         float64
	InterestRate   float64
	TermMonths     int
	MonthlyPayment decimal.Decimal
	TotalAmount    decimal.Decimal
	TotalInterest  decimal.Decimal
	Purpose        string
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ApprovedAt     *time.Time
	StartDate      *time.Time
	Installments   []Installment
}

// Installment is a persisted, due-dated amortization row.
type Installment struct {
	ID            uuid.UUID
	LoanID        uuid.UUID
	PaymentNumber int
	DueDate       time.Time
	Payment       decimal.Decimal
	Principal     decimal.Decimal
	Interest      decimal.Decimal
	Balance       decimal.Decimal
	Status        InstallmentStatus
	CreatedAt     time.Time
}

// Proposal is a lender's counter offer at a different interest rate.
type Proposal struct {
	ID                     uuid.UUID
	LoanID                 uuid.UUID
	ClientID               string
	LenderID               string
	LenderName             string
	OriginalInterestRate   float64
	ProposedInterestRate   float64
	OriginalMonthlyPayment decimal.Decimal
	ProposedMonthlyPayment decimal.Decimal
	OriginalTotalAmount    decimal.Decimal
	ProposedTotalAmount    decimal.Decimal
	Reason                 string
	Status                 ProposalStatus
	StartDate              time.Time
	CreatedAt              time.Time
}

// ValidateClient checks the borrower fields of a loan request.
func ValidateClient(clientID, clientName string) error {
	if strings.TrimSpace(clientID) == "" {
		return apperrors.NewValidationError("client_id", "must not be empty")
	}
	if strings.TrimSpace(clientName) == "" {
		return apperrors.NewValidationError("client_name", "must not be empty")
	}
	return nil
}

// NewLoan builds a pending loan request priced by result, the calculator
// output for in. The request stays pending until a lender approves or
// rejects it.
func NewLoan(clientID, clientName string, in amortization.Input, result *amortization.Result, purpose string) (*Loan, error) {
	if err := ValidateClient(clientID, clientName); err != nil {
		return nil, err
	}
	if result == nil || len(result.Schedule) != in.TermMonths {
		return nil, fmt.Errorf("%w: calculation does not match the requested term", apperrors.ErrInvalidArgument)
	}

	now := time.Now().UTC()
	l := &Loan{
		ID:           uuid.New(),
		ClientID:     strings.TrimSpace(clientID),
		ClientName:   strings.TrimSpace(clientName),
		Amount:       in.Principal,
		InterestRate: in.AnnualRatePercent,
		TermMonths:   in.TermMonths,
		Purpose:      strings.TrimSpace(purpose),
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	l.applyResult(result)
	return l, nil
}

// Reprice recalculates the loan at rate and stores the new figures.
func (l *Loan) Reprice(rate float64) (*amortization.Result, error) {
	result, err := amortization.Calculate(l.input(rate))
	if err != nil {
		return nil, err
	}
	l.InterestRate = rate
	l.applyResult(result)
	return result, nil
}

// Quote calculates the loan at rate without changing it.
func (l *Loan) Quote(rate float64) (*amortization.Result, error) {
	return amortization.Calculate(l.input(rate))
}

func (l *Loan) input(rate float64) amortization.Input {
	return amortization.Input{
		Principal:         l.Amount,
		AnnualRatePercent: rate,
		TermMonths:        l.TermMonths,
	}
}

func (l *Loan) applyResult(r *amortization.Result) {
	l.MonthlyPayment = r.MonthlyPayment
	l.TotalAmount = r.TotalAmount
	l.TotalInterest = r.TotalInterest
}

// BuildInstallments dates every calculator row. Row k falls due k*intervalDays
// days after start.
func BuildInstallments(loanID uuid.UUID, result *amortization.Result, start time.Time, intervalDays int) ([]Installment, error) {
	if result == nil || len(result.Schedule) == 0 {
		return nil, fmt.Errorf("%w: empty amortization schedule", apperrors.ErrInvalidArgument)
	}
	if intervalDays <= 0 {
		intervalDays = DefaultInstallmentIntervalDays
	}

	now := time.Now().UTC()
	installments := make([]Installment, 0, len(result.Schedule))
	for _, row := range result.Schedule {
		installments = append(installments, Installment{
			ID:            uuid.New(),
			LoanID:        loanID,
			PaymentNumber: row.PaymentNumber,
			DueDate:       start.AddDate(0, 0, row.PaymentNumber*intervalDays),
			Payment:       row.Payment,
			Principal:     row.Principal,
			Interest:      row.Interest,
			Balance:       row.Balance,
			Status:        InstallmentPending,
			CreatedAt:     now,
		})
	}
	return installments, nil
}

// ScheduleFromInstallments rebuilds the calculator view of persisted rows.
func ScheduleFromInstallments(installments []Installment) []amortization.Row {
	rows := make([]amortization.Row, 0, len(installments))
	for _, inst := range installments {
		rows = append(rows, amortization.Row{
			PaymentNumber: inst.PaymentNumber,
			Payment:       inst.Payment,
			Principal:     inst.Principal,
			Interest:      inst.Interest,
			Balance:       inst.Balance,
		})
	}
	return rows
}
