package loan

import (
	"bytes"
	"context"
	"errors"
	"loan-engine/internal/amortization"
	"loan-engine/internal/event"
	"loan-engine/internal/pkg/apperrors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateLoan(ctx context.Context, l *Loan) error {
	return m.Called(ctx, l).Error(0)
}

func (m *MockRepository) GetLoanByID(ctx context.Context, loanID uuid.UUID) (*Loan, error) {
	args := m.Called(ctx, loanID)
	if l, ok := args.Get(0).(*Loan); ok {
		return l, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) GetLoanForUpdate(ctx context.Context, tx pgx.Tx, loanID uuid.UUID) (*Loan, error) {
	args := m.Called(ctx, tx, loanID)
	if l, ok := args.Get(0).(*Loan); ok {
		return l, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) ListLoans(ctx context.Context, filter ListFilter) ([]*Loan, error) {
	args := m.Called(ctx, filter)
	if loans, ok := args.Get(0).([]*Loan); ok {
		return loans, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) GetInstallments(ctx context.Context, loanID uuid.UUID) ([]Installment, error) {
	args := m.Called(ctx, loanID)
	if inst, ok := args.Get(0).([]Installment); ok {
		return inst, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) UpdateLoanInTx(ctx context.Context, tx pgx.Tx, l *Loan) error {
	return m.Called(ctx, tx, l).Error(0)
}

func (m *MockRepository) InsertInstallmentsInTx(ctx context.Context, tx pgx.Tx, installments []Installment) error {
	return m.Called(ctx, tx, installments).Error(0)
}

func (m *MockRepository) CreateProposal(ctx context.Context, p *Proposal) error {
	return m.Called(ctx, p).Error(0)
}

func (m *MockRepository) ListProposals(ctx context.Context, loanID uuid.UUID) ([]Proposal, error) {
	args := m.Called(ctx, loanID)
	if p, ok := args.Get(0).([]Proposal); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	args := m.Called(ctx)
	if tx, ok := args.Get(0).(pgx.Tx); ok {
		return tx, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) CommitTx(ctx context.Context, tx pgx.Tx) error {
	return m.Called(ctx, tx).Error(0)
}

func (m *MockRepository) RollbackTx(ctx context.Context, tx pgx.Tx) error {
	return m.Called(ctx, tx).Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishLoanEvent(ctx context.Context, routingKey string, evt event.LoanEvent) error {
	return m.Called(ctx, routingKey, evt).Error(0)
}

type fixedRates struct {
	def       float64
	available []float64
}

func (f fixedRates) DefaultInterestRate() float64 { return f.def }

func (f fixedRates) IsAvailableRate(rate float64) bool {
	for _, r := range f.available {
		if r == rate {
			return true
		}
	}
	return false
}

var defaultRates = fixedRates{def: 12, available: []float64{8, 10, 12, 15, 18, 20}}

func newTestService(repo *MockRepository, pub *MockPublisher) LoanService {
	return NewLoanService(repo, defaultRates, pub, Options{InstallmentIntervalDays: 30, MaxTermMonths: 360}, logger)
}

func pendingLoan(t *testing.T) *Loan {
	t.Helper()
	in := amortization.Input{Principal: 10000, AnnualRatePercent: 12, TermMonths: 12}
	result, err := amortization.Calculate(in)
	require.NoError(t, err)
	l, err := NewLoan("client-1", "Ana Client", in, result, "equipment")
	require.NoError(t, err)
	return l
}

func ptr[T any](v T) *T { return &v }

func TestCalculate(t *testing.T) {
	svc := newTestService(new(MockRepository), new(MockPublisher))

	res, err := svc.Calculate(context.Background(), amortization.Input{Principal: 1000, AnnualRatePercent: 0, TermMonths: 4})
	require.NoError(t, err)
	assert.Equal(t, "250.00", res.MonthlyPayment.StringFixed(2))

	_, err = svc.Calculate(context.Background(), amortization.Input{Principal: 1000, AnnualRatePercent: 10, TermMonths: 0})
	var invalid *amortization.InvalidInputError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, amortization.FieldTermMonths, invalid.Field)
}

func TestCreateLoan(t *testing.T) {
	ctx := context.Background()

	t.Run("uses the system default rate when none is given", func(t *testing.T) {
		repo := new(MockRepository)
		pub := new(MockPublisher)
		repo.On("CreateLoan", ctx, mock.AnythingOfType("*loan.Loan")).Return(nil)
		pub.On("PublishLoanEvent", ctx, event.RoutingKeyLoanCreated, mock.AnythingOfType("event.LoanEvent")).Return(nil)

		l, err := newTestService(repo, pub).CreateLoan(ctx, CreateLoanParams{
			ClientID: "client-1", ClientName: "Ana", Amount: 10000, TermMonths: 12, Purpose: " car ",
		})
		require.NoError(t, err)

		assert.Equal(t, StatusPending, l.Status)
		assert.Equal(t, 12.0, l.InterestRate)
		assert.Equal(t, "888.49", l.MonthlyPayment.StringFixed(2))
		assert.Equal(t, "10661.88", l.TotalAmount.StringFixed(2))
		assert.Equal(t, "661.88", l.TotalInterest.StringFixed(2))
		assert.Equal(t, "car", l.Purpose)
		assert.NotEqual(t, uuid.Nil, l.ID)
		repo.AssertExpectations(t)
		pub.AssertExpectations(t)
	})

	t.Run("accepts an available rate", func(t *testing.T) {
		repo := new(MockRepository)
		pub := new(MockPublisher)
		repo.On("CreateLoan", ctx, mock.Anything).Return(nil)
		pub.On("PublishLoanEvent", ctx, event.RoutingKeyLoanCreated, mock.Anything).Return(nil)

		l, err := newTestService(repo, pub).CreateLoan(ctx, CreateLoanParams{
			ClientID: "c", ClientName: "n", Amount: 5000, TermMonths: 1, InterestRate: ptr(18.0),
		})
		require.NoError(t, err)
		assert.Equal(t, "5075.00", l.TotalAmount.StringFixed(2))
	})

	t.Run("rejects a rate that is not offered", func(t *testing.T) {
		repo := new(MockRepository)
		_, err := newTestService(repo, new(MockPublisher)).CreateLoan(ctx, CreateLoanParams{
			ClientID: "c", ClientName: "n", Amount: 5000, TermMonths: 12, InterestRate: ptr(13.0),
		})

		var vErr *apperrors.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, amortization.FieldRate, vErr.Field)
		repo.AssertNotCalled(t, "CreateLoan", mock.Anything, mock.Anything)
	})

	t.Run("rejects a term above the lending limit", func(t *testing.T) {
		_, err := newTestService(new(MockRepository), new(MockPublisher)).CreateLoan(ctx, CreateLoanParams{
			ClientID: "c", ClientName: "n", Amount: 5000, TermMonths: 480,
		})
		var vErr *apperrors.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, amortization.FieldTermMonths, vErr.Field)
	})

	t.Run("surfaces invalid amount from the calculator", func(t *testing.T) {
		_, err := newTestService(new(MockRepository), new(MockPublisher)).CreateLoan(ctx, CreateLoanParams{
			ClientID: "c", ClientName: "n", Amount: -100, TermMonths: 12,
		})
		var invalid *amortization.InvalidInputError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, amortization.FieldPrincipal, invalid.Field)
	})

	t.Run("requires a client", func(t *testing.T) {
		_, err := newTestService(new(MockRepository), new(MockPublisher)).CreateLoan(ctx, CreateLoanParams{
			Amount: 100, TermMonths: 12,
		})
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("wraps repository failures", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("CreateLoan", ctx, mock.Anything).Return(apperrors.ErrDatabase)

		_, err := newTestService(repo, new(MockPublisher)).CreateLoan(ctx, CreateLoanParams{
			ClientID: "c", ClientName: "n", Amount: 100, TermMonths: 12,
		})
		assert.ErrorIs(t, err, apperrors.ErrInternalServer)
		assert.ErrorIs(t, err, apperrors.ErrDatabase)
	})

	t.Run("publish failure does not fail creation", func(t *testing.T) {
		repo := new(MockRepository)
		pub := new(MockPublisher)
		repo.On("CreateLoan", ctx, mock.Anything).Return(nil)
		pub.On("PublishLoanEvent", ctx, event.RoutingKeyLoanCreated, mock.Anything).Return(errors.New("broker down"))

		l, err := newTestService(repo, pub).CreateLoan(ctx, CreateLoanParams{
			ClientID: "c", ClientName: "n", Amount: 100, TermMonths: 2,
		})
		require.NoError(t, err)
		assert.NotNil(t, l)
	})
}

func TestGetLoan(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	svc := newTestService(repo, new(MockPublisher))

	known := pendingLoan(t)
	missing := uuid.New()
	repo.On("GetLoanByID", ctx, known.ID).Return(known, nil)
	repo.On("GetLoanByID", ctx, missing).Return(nil, apperrors.ErrNotFound)

	got, err := svc.GetLoan(ctx, known.ID)
	require.NoError(t, err)
	assert.Equal(t, known, got)

	_, err = svc.GetLoan(ctx, missing)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestListLoans(t *testing.T) {
	ctx := context.Background()

	t.Run("applies default paging", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("ListLoans", ctx, ListFilter{ClientID: "c", Status: StatusPending, Limit: DefaultListLimit}).Return([]*Loan{pendingLoan(t)}, nil)

		loans, err := newTestService(repo, new(MockPublisher)).ListLoans(ctx, ListFilter{ClientID: "c", Status: StatusPending, Offset: -1})
		require.NoError(t, err)
		assert.Len(t, loans, 1)
		repo.AssertExpectations(t)
	})

	t.Run("oversized limit falls back to the default", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("ListLoans", ctx, ListFilter{Limit: DefaultListLimit, Offset: 20}).Return([]*Loan{}, nil)

		_, err := newTestService(repo, new(MockPublisher)).ListLoans(ctx, ListFilter{Limit: MaxListLimit + 1, Offset: 20})
		require.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("keeps limit within range", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("ListLoans", ctx, ListFilter{Limit: MaxListLimit}).Return([]*Loan{}, nil)

		_, err := newTestService(repo, new(MockPublisher)).ListLoans(ctx, ListFilter{Limit: MaxListLimit})
		require.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		_, err := newTestService(new(MockRepository), new(MockPublisher)).ListLoans(ctx, ListFilter{Status: "approved-ish"})
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})
}

func TestGetSchedule(t *testing.T) {
	ctx := context.Background()

	t.Run("projects schedule for pending loan", func(t *testing.T) {
		repo := new(MockRepository)
		l := pendingLoan(t)
		repo.On("GetLoanByID", ctx, l.ID).Return(l, nil)
		repo.On("GetInstallments", ctx, l.ID).Return([]Installment{}, nil)

		sched, err := newTestService(repo, new(MockPublisher)).GetSchedule(ctx, l.ID)
		require.NoError(t, err)
		assert.True(t, sched.Projected)
		require.Len(t, sched.Installments, 12)
		assert.Equal(t, "888.49", sched.Installments[11].Payment.StringFixed(2))
	})

	t.Run("returns persisted installments", func(t *testing.T) {
		repo := new(MockRepository)
		l := pendingLoan(t)
		l.Status = StatusActive
		stored := []Installment{{ID: uuid.New(), LoanID: l.ID, PaymentNumber: 1, Payment: decimal.NewFromInt(10)}}
		repo.On("GetLoanByID", ctx, l.ID).Return(l, nil)
		repo.On("GetInstallments", ctx, l.ID).Return(stored, nil)

		sched, err := newTestService(repo, new(MockPublisher)).GetSchedule(ctx, l.ID)
		require.NoError(t, err)
		assert.False(t, sched.Projected)
		assert.Equal(t, stored, sched.Installments)
	})
}

func TestScheduleResult(t *testing.T) {
	l := pendingLoan(t)
	result, err := l.Quote(l.InterestRate)
	require.NoError(t, err)
	installments, err := BuildInstallments(l.ID, result, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 30)
	require.NoError(t, err)

	sched := &Schedule{Loan: l, Installments: installments}
	got := sched.Result()

	assert.True(t, got.MonthlyPayment.Equal(l.MonthlyPayment))
	assert.True(t, got.TotalAmount.Equal(l.TotalAmount))
	assert.Equal(t, result.Schedule, got.Schedule)
	assert.Equal(t, amortization.Input{Principal: 10000, AnnualRatePercent: 12, TermMonths: 12}, sched.Input())
}

func TestApproveLoan(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("approves pending loan and persists dated installments", func(t *testing.T) {
		repo := new(MockRepository)
		pub := new(MockPublisher)
		l := pendingLoan(t)

		repo.On("BeginTx", ctx).Return(nil, nil)
		repo.On("GetLoanForUpdate", ctx, nil, l.ID).Return(l, nil)
		repo.On("UpdateLoanInTx", ctx, nil, l).Return(nil)
		var saved []Installment
		repo.On("InsertInstallmentsInTx", ctx, nil, mock.AnythingOfType("[]loan.Installment")).
			Run(func(args mock.Arguments) { saved = args.Get(2).([]Installment) }).
			Return(nil)
		repo.On("CommitTx", ctx, nil).Return(nil)
		pub.On("PublishLoanEvent", ctx, event.RoutingKeyLoanApproved, mock.Anything).Return(nil)

		got, err := newTestService(repo, pub).ApproveLoan(ctx, l.ID, ApproveLoanParams{
			LenderID: "lender-9", LenderName: "Bank", StartDate: start, InterestRate: ptr(15.0),
		})
		require.NoError(t, err)

		assert.Equal(t, StatusActive, got.Status)
		assert.Equal(t, 15.0, got.InterestRate)
		assert.Equal(t, "902.58", got.MonthlyPayment.StringFixed(2))
		require.NotNil(t, got.LenderID)
		assert.Equal(t, "lender-9", *got.LenderID)
		require.NotNil(t, got.StartDate)
		assert.True(t, start.Equal(*got.StartDate))
		assert.NotNil(t, got.ApprovedAt)

		require.Len(t, saved, 12)
		assert.Equal(t, start.AddDate(0, 0, 30), saved[0].DueDate)
		assert.Equal(t, start.AddDate(0, 0, 360), saved[11].DueDate)
		assert.Equal(t, InstallmentPending, saved[0].Status)
		assert.True(t, saved[11].Balance.IsZero())
		repo.AssertNotCalled(t, "RollbackTx", mock.Anything, mock.Anything)
		repo.AssertExpectations(t)
	})

	t.Run("rejects approval of a non pending loan", func(t *testing.T) {
		repo := new(MockRepository)
		l := pendingLoan(t)
		l.Status = StatusRejected

		repo.On("BeginTx", ctx).Return(nil, nil)
		repo.On("GetLoanForUpdate", ctx, nil, l.ID).Return(l, nil)
		repo.On("RollbackTx", ctx, nil).Return(nil)

		_, err := newTestService(repo, new(MockPublisher)).ApproveLoan(ctx, l.ID, ApproveLoanParams{LenderID: "x"})
		assert.ErrorIs(t, err, apperrors.ErrInvalidStateTransition)
		repo.AssertCalled(t, "RollbackTx", ctx, nil)
		repo.AssertNotCalled(t, "UpdateLoanInTx", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("requires a lender", func(t *testing.T) {
		repo := new(MockRepository)
		_, err := newTestService(repo, new(MockPublisher)).ApproveLoan(ctx, uuid.New(), ApproveLoanParams{})
		assert.ErrorIs(t, err, apperrors.ErrValidation)
		repo.AssertNotCalled(t, "BeginTx", mock.Anything)
	})

	t.Run("rejects an override rate that is not offered", func(t *testing.T) {
		repo := new(MockRepository)

		_, err := newTestService(repo, new(MockPublisher)).ApproveLoan(ctx, uuid.New(), ApproveLoanParams{
			LenderID: "lender-1", InterestRate: ptr(99.0),
		})
		var vErr *apperrors.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, amortization.FieldRate, vErr.Field)
		repo.AssertNotCalled(t, "BeginTx", mock.Anything)
		repo.AssertNotCalled(t, "UpdateLoanInTx", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("rolls back when installments cannot be saved", func(t *testing.T) {
		repo := new(MockRepository)
		l := pendingLoan(t)

		repo.On("BeginTx", ctx).Return(nil, nil)
		repo.On("GetLoanForUpdate", ctx, nil, l.ID).Return(l, nil)
		repo.On("UpdateLoanInTx", ctx, nil, l).Return(nil)
		repo.On("InsertInstallmentsInTx", ctx, nil, mock.Anything).Return(apperrors.ErrDatabase)
		repo.On("RollbackTx", ctx, nil).Return(nil)

		_, err := newTestService(repo, new(MockPublisher)).ApproveLoan(ctx, l.ID, ApproveLoanParams{LenderID: "x"})
		assert.ErrorIs(t, err, apperrors.ErrInternalServer)
		repo.AssertCalled(t, "RollbackTx", ctx, nil)
		repo.AssertNotCalled(t, "CommitTx", mock.Anything, mock.Anything)
	})

	t.Run("not found", func(t *testing.T) {
		repo := new(MockRepository)
		id := uuid.New()
		repo.On("BeginTx", ctx).Return(nil, nil)
		repo.On("GetLoanForUpdate", ctx, nil, id).Return(nil, apperrors.ErrNotFound)
		repo.On("RollbackTx", ctx, nil).Return(nil)

		_, err := newTestService(repo, new(MockPublisher)).ApproveLoan(ctx, id, ApproveLoanParams{LenderID: "x"})
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestRejectLoan(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects pending loan", func(t *testing.T) {
		repo := new(MockRepository)
		pub := new(MockPublisher)
		l := pendingLoan(t)

		repo.On("BeginTx", ctx).Return(nil, nil)
		repo.On("GetLoanForUpdate", ctx, nil, l.ID).Return(l, nil)
		repo.On("UpdateLoanInTx", ctx, nil, l).Return(nil)
		repo.On("CommitTx", ctx, nil).Return(nil)
		pub.On("PublishLoanEvent", ctx, event.RoutingKeyLoanRejected, mock.Anything).Return(nil)

		got, err := newTestService(repo, pub).RejectLoan(ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusRejected, got.Status)
		pub.AssertExpectations(t)
	})

	t.Run("cannot reject an active loan", func(t *testing.T) {
		repo := new(MockRepository)
		l := pendingLoan(t)
		l.Status = StatusActive

		repo.On("BeginTx", ctx).Return(nil, nil)
		repo.On("GetLoanForUpdate", ctx, nil, l.ID).Return(l, nil)
		repo.On("RollbackTx", ctx, nil).Return(nil)

		_, err := newTestService(repo, new(MockPublisher)).RejectLoan(ctx, l.ID)
		assert.ErrorIs(t, err, apperrors.ErrInvalidStateTransition)
	})
}

func TestProposeLoan(t *testing.T) {
	ctx := context.Background()

	t.Run("records original and proposed figures", func(t *testing.T) {
		repo := new(MockRepository)
		pub := new(MockPublisher)
		l := pendingLoan(t)

		repo.On("GetLoanByID", ctx, l.ID).Return(l, nil)
		repo.On("CreateProposal", ctx, mock.AnythingOfType("*loan.Proposal")).Return(nil)
		pub.On("PublishLoanEvent", ctx, event.RoutingKeyLoanProposed, mock.MatchedBy(func(e event.LoanEvent) bool {
			return e.ProposedInterestRate != nil && *e.ProposedInterestRate == 10 && e.LenderID == "lender-2"
		})).Return(nil)

		p, err := newTestService(repo, pub).ProposeLoan(ctx, l.ID, ProposeLoanParams{
			LenderID: "lender-2", LenderName: "Credit Union", ProposedInterestRate: 10, Reason: "better score",
		})
		require.NoError(t, err)

		assert.Equal(t, 12.0, p.OriginalInterestRate)
		assert.Equal(t, 10.0, p.ProposedInterestRate)
		assert.Equal(t, "888.49", p.OriginalMonthlyPayment.StringFixed(2))
		assert.Equal(t, "879.16", p.ProposedMonthlyPayment.StringFixed(2))
		assert.Equal(t, ProposalPending, p.Status)
		assert.Equal(t, StatusPending, l.Status, "proposal must not change the loan")
		assert.Equal(t, 12.0, l.InterestRate)
		pub.AssertExpectations(t)
	})

	t.Run("only pending loans accept proposals", func(t *testing.T) {
		repo := new(MockRepository)
		l := pendingLoan(t)
		l.Status = StatusActive
		repo.On("GetLoanByID", ctx, l.ID).Return(l, nil)

		_, err := newTestService(repo, new(MockPublisher)).ProposeLoan(ctx, l.ID, ProposeLoanParams{LenderID: "x", ProposedInterestRate: 10})
		assert.ErrorIs(t, err, apperrors.ErrInvalidStateTransition)
	})

	t.Run("negative proposed rate is invalid", func(t *testing.T) {
		repo := new(MockRepository)
		l := pendingLoan(t)
		repo.On("GetLoanByID", ctx, l.ID).Return(l, nil)

		_, err := newTestService(repo, new(MockPublisher)).ProposeLoan(ctx, l.ID, ProposeLoanParams{LenderID: "x", ProposedInterestRate: -1})
		var invalid *amortization.InvalidInputError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, amortization.FieldRate, invalid.Field)
	})
}

func TestListProposals(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	l := pendingLoan(t)
	proposals := []Proposal{{ID: uuid.New(), LoanID: l.ID, ProposedInterestRate: 10}}
	repo.On("GetLoanByID", ctx, l.ID).Return(l, nil)
	repo.On("ListProposals", ctx, l.ID).Return(proposals, nil)

	got, err := newTestService(repo, new(MockPublisher)).ListProposals(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, proposals, got)
}
