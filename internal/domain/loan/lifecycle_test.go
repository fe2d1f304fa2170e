package loan

import (
	"context"
	"loan-engine/internal/pkg/apperrors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycle(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		from    Status
		approve bool
		want    Status
		wantErr bool
	}{
		{name: "approve pending", from: StatusPending, approve: true, want: StatusActive},
		{name: "reject pending", from: StatusPending, approve: false, want: StatusRejected},
		{name: "approve active", from: StatusActive, approve: true, want: StatusActive, wantErr: true},
		{name: "reject rejected", from: StatusRejected, approve: false, want: StatusRejected, wantErr: true},
		{name: "approve completed", from: StatusCompleted, approve: true, want: StatusCompleted, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &Loan{Status: tt.from}
			lc := NewLifecycle(l)

			var err error
			if tt.approve {
				err = lc.Approve(ctx)
			} else {
				err = lc.Reject(ctx)
			}

			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, apperrors.ErrInvalidStateTransition)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, l.Status)
		})
	}
}

func TestCanPropose(t *testing.T) {
	assert.True(t, NewLifecycle(&Loan{Status: StatusPending}).CanPropose())
	assert.False(t, NewLifecycle(&Loan{Status: StatusActive}).CanPropose())
}
