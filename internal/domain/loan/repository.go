package loan

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type ListFilter struct {
	ClientID string
	LenderID string
	Status   Status
	Limit    int
	Offset   int
}

type Repository interface {
	CreateLoan(ctx context.Context, l *Loan) error

	GetLoanByID(ctx context.Context, loanID uuid.UUID) (*Loan, error)

	GetLoanForUpdate(ctx context.Context, tx pgx.Tx, loanID uuid.UUID) (*Loan, error)

	ListLoans(ctx context.Context, filter ListFilter) ([]*Loan, error)

	GetInstallments(ctx context.Context, loanID uuid.UUID) ([]Installment, error)

	UpdateLoanInTx(ctx context.Context, tx pgx.Tx, l *Loan) error

	InsertInstallmentsInTx(ctx context.Context, tx pgx.Tx, installments []Installment) error

	CreateProposal(ctx context.Context, p *Proposal) error

	ListProposals(ctx context.Context, loanID uuid.UUID) ([]Proposal, error)

	BeginTx(ctx context.Context) (pgx.Tx, error)

	CommitTx(ctx context.Context, tx pgx.Tx) error

	RollbackTx(ctx context.Context, tx pgx.Tx) error
}
