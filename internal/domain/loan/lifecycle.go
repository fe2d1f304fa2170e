package loan

import (
	"context"
	"errors"
	"fmt"
	"loan-engine/internal/pkg/apperrors"

	"github.com/looplab/fsm"
)

const (
	eventApprove = "approve"
	eventReject  = "reject"
)

// Lifecycle guards loan status transitions.
type Lifecycle struct {
	loan *Loan
	fsm  *fsm.FSM
}

func NewLifecycle(l *Loan) *Lifecycle {
	lc := &Lifecycle{loan: l}
	lc.fsm = fsm.NewFSM(
		string(l.Status),
		fsm.Events{
			{Name: eventApprove, Src: []string{string(StatusPending)}, Dst: string(StatusActive)},
			{Name: eventReject, Src: []string{string(StatusPending)}, Dst: string(StatusRejected)},
		},
		fsm.Callbacks{},
	)
	return lc
}

func (lc *Lifecycle) Approve(ctx context.Context) error {
	return lc.fire(ctx, eventApprove)
}

func (lc *Lifecycle) Reject(ctx context.Context) error {
	return lc.fire(ctx, eventReject)
}

// CanPropose reports whether a lender may still counter offer.
func (lc *Lifecycle) CanPropose() bool {
	return lc.fsm.Is(string(StatusPending))
}

func (lc *Lifecycle) fire(ctx context.Context, event string) error {
	if err := lc.fsm.Event(ctx, event); err != nil {
		var invalid fsm.InvalidEventError
		if errors.As(err, &invalid) {
			return fmt.Errorf("%w: cannot %s loan in status %s", apperrors.ErrInvalidStateTransition, event, lc.loan.Status)
		}
		return fmt.Errorf("failed to %s loan: %w", event, err)
	}
	lc.loan.Status = Status(lc.fsm.Current())
	return nil
}
