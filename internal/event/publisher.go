package event

import (
	"context"
	"time"
)

const (
	RoutingKeyLoanCreated  = "loan.created"
	RoutingKeyLoanApproved = "loan.approved"
	RoutingKeyLoanRejected = "loan.rejected"
	RoutingKeyLoanProposed = "loan.proposed"
)

type Publisher interface {
	PublishLoanEvent(ctx context.Context, routingKey string, evt LoanEvent) error
}

// LoanEvent carries the calculated figures of a loan at the time of a
// lifecycle change. Money fields are decimal strings with two places.
type LoanEvent struct {
	EventID              string    `json:"eventId"`
	LoanID               string    `json:"loanId"`
	ClientID             string    `json:"clientId"`
	LenderID             string    `json:"lenderId,omitempty"`
	Status               string    `json:"status"`
	Amount               float64   `json:"amount"`
	InterestRate         float64   `json:"interestRate"`
	TermMonths           int       `json:"termMonths"`
	MonthlyPayment       string    `json:"monthlyPayment"`
	TotalAmount          string    `json:"totalAmount"`
	TotalInterest        string    `json:"totalInterest"`
	ProposedInterestRate *float64  `json:"proposedInterestRate,omitempty"`
	Reason               string    `json:"reason,omitempty"`
	Timestamp            time.Time `json:"timestamp"`
}

// NopPublisher drops events. It stands in when no broker is reachable.
type NopPublisher struct{}

func (NopPublisher) PublishLoanEvent(context.Context, string, LoanEvent) error {
	return nil
}
