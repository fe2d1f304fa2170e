package dto

import (
	"encoding/json"
	"fmt"
	"loan-engine/internal/amortization"
	"loan-engine/internal/domain/loan"
	"loan-engine/internal/domain/sysconfig"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// CalculateRequest uses pointers so an omitted field is told apart from zero.
type CalculateRequest struct {
	Amount       *float64 `json:"amount" validate:"required"`
	InterestRate *float64 `json:"interest_rate" validate:"required"`
	TermMonths   *int     `json:"term_months" validate:"required"`
}

// ToInput rejects a request missing any of the three fields.
func (r *CalculateRequest) ToInput() (amortization.Input, error) {
	switch {
	case r.Amount == nil:
		return amortization.Input{}, missingField(amortization.FieldPrincipal)
	case r.InterestRate == nil:
		return amortization.Input{}, missingField(amortization.FieldRate)
	case r.TermMonths == nil:
		return amortization.Input{}, missingField(amortization.FieldTermMonths)
	}
	return amortization.Input{
		Principal:         *r.Amount,
		AnnualRatePercent: *r.InterestRate,
		TermMonths:        *r.TermMonths,
	}, nil
}

func missingField(field string) error {
	return &amortization.InvalidInputError{Field: field, Reason: "is required"}
}

type CreateLoanRequest struct {
	ClientID     string   `json:"client_id,omitempty"`
	ClientName   string   `json:"client_name,omitempty"`
	Amount       float64  `json:"amount"`
	InterestRate *float64 `json:"interest_rate,omitempty"`
	TermMonths   int      `json:"term_months"`
	Purpose      string   `json:"purpose,omitempty"`
}

type ApproveLoanRequest struct {
	LenderID     string   `json:"lender_id,omitempty"`
	LenderName   string   `json:"lender_name,omitempty"`
	StartDate    string   `json:"start_date,omitempty"`
	InterestRate *float64 `json:"interest_rate,omitempty"`
}

type ProposeLoanRequest struct {
	LenderID             string   `json:"lender_id,omitempty"`
	LenderName           string   `json:"lender_name,omitempty"`
	ProposedInterestRate *float64 `json:"proposed_interest_rate"`
	Reason               string   `json:"reason,omitempty"`
	StartDate            string   `json:"start_date,omitempty"`
}

func (r *ProposeLoanRequest) Validate() error {
	if r.ProposedInterestRate == nil {
		return fmt.Errorf("proposed_interest_rate is required")
	}
	if _, err := ParseDate(r.StartDate); err != nil {
		return err
	}
	return nil
}

func (r *ApproveLoanRequest) Validate() error {
	_, err := ParseDate(r.StartDate)
	return err
}

// ParseDate accepts YYYY-MM-DD or RFC 3339. An empty string yields the zero time.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start_date format (use YYYY-MM-DD): %q", s)
	}
	return t.UTC(), nil
}

type ScheduleRowResponse struct {
	PaymentNumber int         `json:"payment_number"`
	DueDate       string      `json:"due_date,omitempty"`
	Payment       json.Number `json:"payment" swaggertype:"number"`
	Principal     json.Number `json:"principal" swaggertype:"number"`
	Interest      json.Number `json:"interest" swaggertype:"number"`
	Balance       json.Number `json:"balance" swaggertype:"number"`
	Status        string      `json:"status,omitempty"`
}

type CalculationResponse struct {
	MonthlyPayment json.Number           `json:"monthly_payment" swaggertype:"number"`
	TotalAmount    json.Number           `json:"total_amount" swaggertype:"number"`
	TotalInterest  json.Number           `json:"total_interest" swaggertype:"number"`
	Schedule       []ScheduleRowResponse `json:"schedule"`
}

type LoanResponse struct {
	ID             string                `json:"id"`
	ClientID       string                `json:"client_id"`
	ClientName     string                `json:"client_name"`
	LenderID       *string               `json:"lender_id"`
	LenderName     *string               `json:"lender_name"`
	Amount         float64               `json:"amount"`
	InterestRate   float64               `json:"interest_rate"`
	TermMonths     int                   `json:"term_months"`
	MonthlyPayment json.Number           `json:"monthly_payment" swaggertype:"number"`
	TotalAmount    json.Number           `json:"total_amount" swaggertype:"number"`
	TotalInterest  json.Number           `json:"total_interest" swaggertype:"number"`
	Status         string                `json:"status"`
	Purpose        string                `json:"purpose,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	ApprovedAt     *time.Time            `json:"approved_at"`
	StartDate      *time.Time            `json:"start_date"`
	Schedule       []ScheduleRowResponse `json:"schedule,omitempty"`
}

type ScheduleResponse struct {
	LoanID    string                `json:"loan_id"`
	Projected bool                  `json:"projected"`
	Schedule  []ScheduleRowResponse `json:"schedule"`
}

type ProposalResponse struct {
	ID                     string      `json:"id"`
	LoanID                 string      `json:"loan_id"`
	ClientID               string      `json:"client_id"`
	LenderID               string      `json:"lender_id"`
	LenderName             string      `json:"lender_name"`
	OriginalInterestRate   float64     `json:"original_interest_rate"`
	ProposedInterestRate   float64     `json:"proposed_interest_rate"`
	OriginalMonthlyPayment json.Number `json:"original_monthly_payment" swaggertype:"number"`
	ProposedMonthlyPayment json.Number `json:"proposed_monthly_payment" swaggertype:"number"`
	OriginalTotalAmount    json.Number `json:"original_total_amount" swaggertype:"number"`
	ProposedTotalAmount    json.Number `json:"proposed_total_amount" swaggertype:"number"`
	Reason                 string      `json:"reason,omitempty"`
	Status                 string      `json:"status"`
	StartDate              string      `json:"start_date"`
	CreatedAt              time.Time   `json:"created_at"`
}

type SystemConfigResponse struct {
	DefaultInterestRate    float64    `json:"default_interest_rate"`
	AvailableInterestRates []float64  `json:"available_interest_rates"`
	UpdatedAt              *time.Time `json:"updated_at,omitempty"`
	UpdatedBy              string     `json:"updated_by,omitempty"`
}

type ErrorDetail struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

func money(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

func NewScheduleRowResponse(row amortization.Row) ScheduleRowResponse {
	return ScheduleRowResponse{
		PaymentNumber: row.PaymentNumber,
		Payment:       money(row.Payment),
		Principal:     money(row.Principal),
		Interest:      money(row.Interest),
		Balance:       money(row.Balance),
	}
}

func NewInstallmentResponse(inst loan.Installment) ScheduleRowResponse {
	return ScheduleRowResponse{
		PaymentNumber: inst.PaymentNumber,
		DueDate:       inst.DueDate.Format(dateLayout),
		Payment:       money(inst.Payment),
		Principal:     money(inst.Principal),
		Interest:      money(inst.Interest),
		Balance:       money(inst.Balance),
		Status:        string(inst.Status),
	}
}

func NewCalculationResponse(result *amortization.Result) CalculationResponse {
	schedule := make([]ScheduleRowResponse, len(result.Schedule))
	for i, row := range result.Schedule {
		schedule[i] = NewScheduleRowResponse(row)
	}
	return CalculationResponse{
		MonthlyPayment: money(result.MonthlyPayment),
		TotalAmount:    money(result.TotalAmount),
		TotalInterest:  money(result.TotalInterest),
		Schedule:       schedule,
	}
}

func NewLoanResponse(l *loan.Loan) LoanResponse {
	resp := LoanResponse{
		ID:             l.ID.String(),
		ClientID:       l.ClientID,
		ClientName:     l.ClientName,
		LenderID:       l.LenderID,
		LenderName:     l.LenderName,
		Amount:         l.Amount,
		InterestRate:   l.InterestRate,
		TermMonths:     l.TermMonths,
		MonthlyPayment: money(l.MonthlyPayment),
		TotalAmount:    money(l.TotalAmount),
		TotalInterest:  money(l.TotalInterest),
		Status:         string(l.Status),
		Purpose:        l.Purpose,
		CreatedAt:      l.CreatedAt,
		ApprovedAt:     l.ApprovedAt,
		StartDate:      l.StartDate,
	}
	if len(l.Installments) > 0 {
		resp.Schedule = make([]ScheduleRowResponse, len(l.Installments))
		for i, inst := range l.Installments {
			resp.Schedule[i] = NewInstallmentResponse(inst)
		}
	}
	return resp
}

func NewLoanListResponse(loans []*loan.Loan) []LoanResponse {
	resp := make([]LoanResponse, len(loans))
	for i, l := range loans {
		resp[i] = NewLoanResponse(l)
	}
	return resp
}

func NewScheduleResponse(s *loan.Schedule) ScheduleResponse {
	rows := make([]ScheduleRowResponse, len(s.Installments))
	for i, inst := range s.Installments {
		rows[i] = NewInstallmentResponse(inst)
	}
	return ScheduleResponse{
		LoanID:    s.Loan.ID.String(),
		Projected: s.Projected,
		Schedule:  rows,
	}
}

func NewProposalResponse(p *loan.Proposal) ProposalResponse {
	return ProposalResponse{
		ID:                     p.ID.String(),
		LoanID:                 p.LoanID.String(),
		ClientID:               p.ClientID,
		LenderID:               p.LenderID,
		LenderName:             p.LenderName,
		OriginalInterestRate:   p.OriginalInterestRate,
		ProposedInterestRate:   p.ProposedInterestRate,
		OriginalMonthlyPayment: money(p.OriginalMonthlyPayment),
		ProposedMonthlyPayment: money(p.ProposedMonthlyPayment),
		OriginalTotalAmount:    money(p.OriginalTotalAmount),
		ProposedTotalAmount:    money(p.ProposedTotalAmount),
		Reason:                 p.Reason,
		Status:                 string(p.Status),
		StartDate:              p.StartDate.Format(dateLayout),
		CreatedAt:              p.CreatedAt,
	}
}

func NewProposalListResponse(proposals []loan.Proposal) []ProposalResponse {
	resp := make([]ProposalResponse, len(proposals))
	for i := range proposals {
		resp[i] = NewProposalResponse(&proposals[i])
	}
	return resp
}

func NewSystemConfigResponse(c sysconfig.SystemConfig) SystemConfigResponse {
	resp := SystemConfigResponse{
		DefaultInterestRate:    c.DefaultInterestRate,
		AvailableInterestRates: c.AvailableInterestRates,
		UpdatedBy:              c.UpdatedBy,
	}
	if resp.AvailableInterestRates == nil {
		resp.AvailableInterestRates = []float64{}
	}
	if !c.UpdatedAt.IsZero() {
		updated := c.UpdatedAt
		resp.UpdatedAt = &updated
	}
	return resp
}
