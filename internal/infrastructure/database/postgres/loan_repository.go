package postgres

import (
	"context"
	"errors"
	"fmt"
	"loan-engine/internal/domain/loan"
	"loan-engine/internal/infrastructure/monitoring"
	"loan-engine/internal/pkg/apperrors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pashagolub/pgxmock/v4"
)

type DBPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

var _ DBPool = (*pgxpool.Pool)(nil)

var _ DBPool = (pgxmock.PgxPoolIface)(nil)

var _ loan.Repository = (*LoanRepository)(nil)

const loanColumns = `id, client_id, client_name, lender_id, lender_name, amount, interest_rate, term_months,
        monthly_payment, total_amount, total_interest, purpose, status, created_at, updated_at, approved_at, start_date`

type LoanRepository struct {
	db     DBPool
	logger *slog.Logger
}

func NewLoanRepository(db DBPool, logger *slog.Logger) *LoanRepository {
	if db == nil {
		panic("DBPool cannot be nil for LoanRepository")
	}
	return &LoanRepository{db: db, logger: logger.With("component", "LoanRepository")}
}

func (r *LoanRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to begin transaction", "error", err)
		return nil, apperrors.WrapDatabaseError(err, "failed to begin transaction")
	}
	return tx, nil
}

func (r *LoanRepository) CommitTx(ctx context.Context, tx pgx.Tx) error {
	if err := tx.Commit(ctx); err != nil {
		r.logger.ErrorContext(ctx, "Failed to commit transaction", "error", err)
		return apperrors.WrapDatabaseError(err, "failed to commit transaction")
	}
	return nil
}

func (r *LoanRepository) RollbackTx(ctx context.Context, tx pgx.Tx) error {
	err := tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		r.logger.ErrorContext(ctx, "Failed to rollback transaction", "error", err)
		return apperrors.WrapDatabaseError(err, "failed to roll back transaction")
	}
	return nil
}

func (r *LoanRepository) CreateLoan(ctx context.Context, l *loan.Loan) error {
	query := `
        INSERT INTO loans (id, client_id, client_name, amount, interest_rate, term_months,
            monthly_payment, total_amount, total_interest, purpose, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	start := time.Now()
	_, err := r.db.Exec(ctx, query,
		l.ID, l.ClientID, l.ClientName, l.Amount, l.InterestRate, l.TermMonths,
		l.MonthlyPayment, l.TotalAmount, l.TotalInterest, l.Purpose, l.Status, l.CreatedAt, l.UpdatedAt,
	)
	monitoring.RecordDBQuery("CreateLoan", queryStatus(err), time.Since(start))
	if err != nil {
		return translateDBError(err, r.logger.With("operation", "CreateLoan", "loan_id", l.ID))
	}

	r.logger.InfoContext(ctx, "Loan created in DB", "loan_id", l.ID)
	return nil
}

func (r *LoanRepository) GetLoanByID(ctx context.Context, loanID uuid.UUID) (*loan.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE id = $1`

	start := time.Now()
	l, err := scanLoan(r.db.QueryRow(ctx, query, loanID))
	monitoring.RecordDBQuery("GetLoanByID", queryStatus(err), time.Since(start))

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.WarnContext(ctx, "Loan not found", "loan_id", loanID)
			return nil, apperrors.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Failed to get loan by ID", "loan_id", loanID, "error", err)
		return nil, apperrors.WrapDatabaseError(err, "failed to get loan")
	}
	return l, nil
}

func (r *LoanRepository) GetLoanForUpdate(ctx context.Context, tx pgx.Tx, loanID uuid.UUID) (*loan.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE id = $1 FOR UPDATE`

	l, err := scanLoan(tx.QueryRow(ctx, query, loanID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.WarnContext(ctx, "Loan not found for update", "loan_id", loanID)
			return nil, apperrors.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Failed to lock loan", "loan_id", loanID, "error", err)
		return nil, apperrors.WrapDatabaseError(err, "failed to lock loan")
	}
	return l, nil
}

func (r *LoanRepository) ListLoans(ctx context.Context, filter loan.ListFilter) ([]*loan.Loan, error) {
	var (
		conds []string
		args  []any
	)
	addCond := func(column string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if filter.ClientID != "" {
		addCond("client_id", filter.ClientID)
	}
	if filter.LenderID != "" {
		addCond("lender_id", filter.LenderID)
	}
	if filter.Status != "" {
		addCond("status", filter.Status)
	}

	query := `SELECT ` + loanColumns + ` FROM loans`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	start := time.Now()
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		monitoring.RecordDBQuery("ListLoans", "error", time.Since(start))
		r.logger.ErrorContext(ctx, "Failed to query loans", "error", err)
		return nil, apperrors.WrapDatabaseError(err, "failed to list loans")
	}
	defer rows.Close()

	loans := make([]*loan.Loan, 0)
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to scan loan row", "error", err)
			return nil, apperrors.WrapDatabaseError(err, "failed to list loans")
		}
		loans = append(loans, l)
	}
	err = rows.Err()
	monitoring.RecordDBQuery("ListLoans", queryStatus(err), time.Since(start))
	if err != nil {
		r.logger.ErrorContext(ctx, "Error iterating loan rows", "error", err)
		return nil, apperrors.WrapDatabaseError(err, "failed to list loans")
	}
	return loans, nil
}

func (r *LoanRepository) GetInstallments(ctx context.Context, loanID uuid.UUID) ([]loan.Installment, error) {
	query := `
        SELECT id, loan_id, payment_number, due_date, payment, principal, interest, balance, status, created_at
        FROM loan_installments
        WHERE loan_id = $1
        ORDER BY payment_number ASC`

	rows, err := r.db.Query(ctx, query, loanID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to query installments", "loan_id", loanID, "error", err)
		return nil, apperrors.WrapDatabaseError(err, "failed to get installments")
	}
	defer rows.Close()

	installments := make([]loan.Installment, 0)
	for rows.Next() {
		var inst loan.Installment
		err := rows.Scan(
			&inst.ID, &inst.LoanID, &inst.PaymentNumber, &inst.DueDate,
			&inst.Payment, &inst.Principal, &inst.Interest, &inst.Balance,
			&inst.Status, &inst.CreatedAt,
		)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to scan installment row", "loan_id", loanID, "error", err)
			return nil, apperrors.WrapDatabaseError(err, "failed to get installments")
		}
		installments = append(installments, inst)
	}

	if err = rows.Err(); err != nil {
		r.logger.ErrorContext(ctx, "Error iterating installment rows", "loan_id", loanID, "error", err)
		return nil, apperrors.WrapDatabaseError(err, "failed to get installments")
	}
	return installments, nil
}

func (r *LoanRepository) UpdateLoanInTx(ctx context.Context, tx pgx.Tx, l *loan.Loan) error {
	sql := `
        UPDATE loans
        SET lender_id = $1, lender_name = $2, interest_rate = $3, monthly_payment = $4, total_amount = $5,
            total_interest = $6, status = $7, approved_at = $8, start_date = $9, updated_at = $10
        WHERE id = $11`

	cmdTag, err := tx.Exec(ctx, sql,
		l.LenderID, l.LenderName, l.InterestRate, l.MonthlyPayment, l.TotalAmount,
		l.TotalInterest, l.Status, l.ApprovedAt, l.StartDate, l.UpdatedAt, l.ID,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to update loan", "loan_id", l.ID, "error", err)
		return apperrors.WrapDatabaseError(err, "failed to update loan")
	}
	if cmdTag.RowsAffected() != 1 {
		r.logger.ErrorContext(ctx, "Loan update affected zero rows", "loan_id", l.ID)
		return fmt.Errorf("%w: loan update affected zero rows", apperrors.ErrDatabase)
	}
	r.logger.InfoContext(ctx, "Loan updated in DB", "loan_id", l.ID, "status", l.Status)
	return nil
}

func (r *LoanRepository) InsertInstallmentsInTx(ctx context.Context, tx pgx.Tx, installments []loan.Installment) error {
	if len(installments) == 0 {
		return nil
	}

	sql := `
        INSERT INTO loan_installments (id, loan_id, payment_number, due_date, payment, principal, interest, balance, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	batch := &pgx.Batch{}
	for _, inst := range installments {
		batch.Queue(sql, inst.ID, inst.LoanID, inst.PaymentNumber, inst.DueDate,
			inst.Payment, inst.Principal, inst.Interest, inst.Balance, inst.Status, inst.CreatedAt)
	}

	loanID := installments[0].LoanID
	results := tx.SendBatch(ctx, batch)
	for i := range installments {
		if _, err := results.Exec(); err != nil {
			results.Close()
			r.logger.ErrorContext(ctx, "Failed executing installment batch insert", "error", err, "entry_index", i, "loan_id", loanID)
			return fmt.Errorf("%w: failed inserting installment %d: %w", apperrors.ErrDatabase, i+1, err)
		}
	}
	if err := results.Close(); err != nil {
		r.logger.ErrorContext(ctx, "Failed closing installment batch results", "error", err, "loan_id", loanID)
		return fmt.Errorf("%w: closing batch results failed: %w", apperrors.ErrDatabase, err)
	}

	r.logger.InfoContext(ctx, "Loan installments created in DB", "loan_id", loanID, "num_entries", len(installments))
	return nil
}

func (r *LoanRepository) CreateProposal(ctx context.Context, p *loan.Proposal) error {
	query := `
        INSERT INTO loan_proposals (id, loan_id, client_id, lender_id, lender_name, original_interest_rate,
            proposed_interest_rate, original_monthly_payment, proposed_monthly_payment, original_total_amount,
            proposed_total_amount, reason, status, start_date, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	start := time.Now()
	_, err := r.db.Exec(ctx, query,
		p.ID, p.LoanID, p.ClientID, p.LenderID, p.LenderName, p.OriginalInterestRate,
		p.ProposedInterestRate, p.OriginalMonthlyPayment, p.ProposedMonthlyPayment, p.OriginalTotalAmount,
		p.ProposedTotalAmount, p.Reason, p.Status, p.StartDate, p.CreatedAt,
	)
	monitoring.RecordDBQuery("CreateProposal", queryStatus(err), time.Since(start))
	if err != nil {
		return translateDBError(err, r.logger.With("operation", "CreateProposal", "loan_id", p.LoanID))
	}
	return nil
}

func (r *LoanRepository) ListProposals(ctx context.Context, loanID uuid.UUID) ([]loan.Proposal, error) {
	query := `
        SELECT id, loan_id, client_id, lender_id, lender_name, original_interest_rate, proposed_interest_rate,
            original_monthly_payment, proposed_monthly_payment, original_total_amount, proposed_total_amount,
            reason, status, start_date, created_at
        FROM loan_proposals
        WHERE loan_id = $1
        ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, loanID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to query proposals", "loan_id", loanID, "error", err)
		return nil, apperrors.WrapDatabaseError(err, "failed to list proposals")
	}
	defer rows.Close()

	proposals := make([]loan.Proposal, 0)
	for rows.Next() {
		var p loan.Proposal
		err := rows.Scan(
			&p.ID, &p.LoanID, &p.ClientID, &p.LenderID, &p.LenderName, &p.OriginalInterestRate, &p.ProposedInterestRate,
			&p.OriginalMonthlyPayment, &p.ProposedMonthlyPayment, &p.OriginalTotalAmount, &p.ProposedTotalAmount,
			&p.Reason, &p.Status, &p.StartDate, &p.CreatedAt,
		)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to scan proposal row", "loan_id", loanID, "error", err)
			return nil, apperrors.WrapDatabaseError(err, "failed to list proposals")
		}
		proposals = append(proposals, p)
	}

	if err = rows.Err(); err != nil {
		r.logger.ErrorContext(ctx, "Error iterating proposal rows", "loan_id", loanID, "error", err)
		return nil, apperrors.WrapDatabaseError(err, "failed to list proposals")
	}
	return proposals, nil
}

func scanLoan(row pgx.Row) (*loan.Loan, error) {
	var l loan.Loan
	err := row.Scan(
		&l.ID, &l.ClientID, &l.ClientName, &l.LenderID, &l.LenderName, &l.Amount, &l.InterestRate, &l.TermMonths,
		&l.MonthlyPayment, &l.TotalAmount, &l.TotalInterest, &l.Purpose, &l.Status,
		&l.CreatedAt, &l.UpdatedAt, &l.ApprovedAt, &l.StartDate,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func queryStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func translateDBError(err error, contextLogger *slog.Logger) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			contextLogger.Warn("Database unique constraint violation", "detail", pgErr.Detail, "constraint", pgErr.ConstraintName)
			return fmt.Errorf("%w: %s", apperrors.ErrConflict, pgErr.ConstraintName)
		case "23503":
			contextLogger.Warn("Database foreign key violation", "detail", pgErr.Detail, "constraint", pgErr.ConstraintName)
			return fmt.Errorf("%w: %s", apperrors.ErrNotFound, pgErr.ConstraintName)
		}
		contextLogger.Error("PostgreSQL specific error", "code", pgErr.Code, "message", pgErr.Message, "detail", pgErr.Detail)
		return apperrors.WrapDatabaseError(err, "db error code "+pgErr.Code)
	}

	contextLogger.Error("Generic database error", "error", err)
	return apperrors.WrapDatabaseError(err, "unexpected database error")
}
