// Package amortization computes fixed-payment loan schedules with the
// closed-form annuity formula.
//
// The schedule is run in float64 on the unrounded payment. The final row takes
// the exact remaining balance as its principal, so it closes to zero without
// carrying accumulated rounding. Every reported figure is rounded half-up to
// cents per row, and the total amount is the sum of the rounded payments.
package amortization

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

const (
	// MaxPrincipal is the largest amount whose cents are still exact in a float64.
	MaxPrincipal = 1e13

	// MaxTermMonths caps schedules at one hundred years.
	MaxTermMonths = 1200

	monthsPerYear = 12
	moneyPlaces   = 2
)

type Input struct {
	Principal         float64
	AnnualRatePercent float64
	TermMonths        int
}

// Validate rejects inputs without correcting them.
func (in Input) Validate() error {
	switch {
	case math.IsNaN(in.Principal):
		return &InvalidInputError{Field: FieldPrincipal, Reason: "must be a finite number"}
	case in.Principal <= 0:
		return &InvalidInputError{Field: FieldPrincipal, Reason: "must be greater than zero"}
	case in.TermMonths < 1:
		return &InvalidInputError{Field: FieldTermMonths, Reason: "must be at least 1"}
	case math.IsNaN(in.AnnualRatePercent):
		return &InvalidInputError{Field: FieldRate, Reason: "must be a finite number"}
	case in.AnnualRatePercent < 0:
		return &InvalidInputError{Field: FieldRate, Reason: "must not be negative"}
	}

	if in.Principal > MaxPrincipal {
		return &NumericOverflowError{Field: FieldPrincipal, Reason: fmt.Sprintf("exceeds %.0f", MaxPrincipal)}
	}
	if in.TermMonths > MaxTermMonths {
		return &NumericOverflowError{Field: FieldTermMonths, Reason: fmt.Sprintf("exceeds %d months", MaxTermMonths)}
	}
	if math.IsInf(in.AnnualRatePercent, 1) {
		return &NumericOverflowError{Field: FieldRate, Reason: "rate is not finite"}
	}
	return nil
}

// Row is one installment of the schedule.
type Row struct {
	PaymentNumber int
	Payment       decimal.Decimal
	Principal     decimal.Decimal
	Interest      decimal.Decimal
	Balance       decimal.Decimal
}

type Result struct {
	MonthlyPayment decimal.Decimal
	TotalAmount    decimal.Decimal
	TotalInterest  decimal.Decimal
	Schedule       []Row
}

// Calculate builds the complete schedule for in. It either returns every row
// or an error; partial schedules are never returned.
func Calculate(in Input) (*Result, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	n := in.TermMonths
	rate := in.AnnualRatePercent / 100 / monthsPerYear

	payment, err := periodicPayment(in.Principal, rate, n)
	if err != nil {
		return nil, err
	}

	balance := in.Principal
	total := decimal.Zero

	schedule := make([]Row, 0, n)
	for k := 1; k <= n; k++ {
		interest := balance * rate
		principal := payment - interest
		rowPayment := payment
		if k == n {
			principal = balance
			rowPayment = principal + interest
		}
		balance -= principal
		if k == n || balance < 0 {
			balance = 0
		}

		row := Row{
			PaymentNumber: k,
			Payment:       round(rowPayment),
			Principal:     round(principal),
			Interest:      round(interest),
			Balance:       round(balance),
		}
		schedule = append(schedule, row)
		total = total.Add(row.Payment)
	}

	return &Result{
		MonthlyPayment: round(payment),
		TotalAmount:    total,
		TotalInterest:  total.Sub(round(in.Principal)),
		Schedule:       schedule,
	}, nil
}

// Summary condenses a result for report headers.
type Summary struct {
	Installments      int
	MonthlyPayment    decimal.Decimal
	FinalPayment      decimal.Decimal
	FinalAdjustment   decimal.Decimal
	TotalAmount       decimal.Decimal
	TotalInterest     decimal.Decimal
	InterestToPayment decimal.Decimal
}

// Summary reports the final-row adjustment and the share of interest in the
// total repaid.
func (r *Result) Summary() Summary {
	s := Summary{
		Installments:   len(r.Schedule),
		MonthlyPayment: r.MonthlyPayment,
		TotalAmount:    r.TotalAmount,
		TotalInterest:  r.TotalInterest,
	}
	if len(r.Schedule) > 0 {
		s.FinalPayment = r.Schedule[len(r.Schedule)-1].Payment
		s.FinalAdjustment = s.FinalPayment.Sub(r.MonthlyPayment)
	}
	if r.TotalAmount.IsPositive() {
		s.InterestToPayment = r.TotalInterest.Div(r.TotalAmount).Round(4)
	}
	return s
}

func periodicPayment(principal, rate float64, n int) (float64, error) {
	if rate == 0 {
		return principal / float64(n), nil
	}

	growth := math.Pow(1+rate, float64(n))
	if math.IsInf(growth, 0) || math.IsNaN(growth) {
		return 0, &NumericOverflowError{Field: FieldRate, Reason: "compound growth factor is not representable"}
	}

	payment := principal * rate * growth / (growth - 1)
	if math.IsInf(payment, 0) || math.IsNaN(payment) || payment > MaxPrincipal*float64(MaxTermMonths) {
		return 0, &NumericOverflowError{Reason: "monthly payment is not representable"}
	}
	return payment, nil
}

// round rounds half away from zero, which is half-up for the non-negative
// amounts produced here.
func round(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(moneyPlaces)
}
