package booking

import (
	"testing"

	"appointly/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleTransitions(t *testing.T) {
	l := NewLifecycle()

	tests := []struct {
		name        string
		from        model.Status
		to          model.Status
		shouldAllow bool
	}{
		{"pending to confirmed", model.StatusPending, model.StatusConfirmed, true},
		{"pending to cancelled", model.StatusPending, model.StatusCancelled, true},
		{"confirmed to completed", model.StatusConfirmed, model.StatusCompleted, true},
		{"confirmed to no show", model.StatusConfirmed, model.StatusNoShow, true},
		{"confirmed to cancelled", model.StatusConfirmed, model.StatusCancelled, true},
		// Invalid transitions
		{"pending to completed", model.StatusPending, model.StatusCompleted, false},
		{"pending to no show", model.StatusPending, model.StatusNoShow, false},
		{"confirmed to pending", model.StatusConfirmed, model.StatusPending, false},
		{"cancelled to confirmed", model.StatusCancelled, model.StatusConfirmed, false},
		{"completed to cancelled", model.StatusCompleted, model.StatusCancelled, false},
		{"no show to confirmed", model.StatusNoShow, model.StatusConfirmed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.shouldAllow, l.CanTransition(tt.from, tt.to))
		})
	}
}

func TestLifecycleCheck(t *testing.T) {
	l := NewLifecycle()

	assert.NoError(t, l.Check(model.StatusCancelled, model.StatusCancelled))

	err := l.Check(model.StatusCompleted, model.StatusPending)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, model.StatusCompleted, te.From)
	assert.Equal(t, model.StatusPending, te.To)
}

func TestLifecycleTerminal(t *testing.T) {
	l := NewLifecycle()
	assert.False(t, l.Terminal(model.StatusPending))
	assert.False(t, l.Terminal(model.StatusConfirmed))
	assert.True(t, l.Terminal(model.StatusCompleted))
	assert.True(t, l.Terminal(model.StatusCancelled))
	assert.True(t, l.Terminal(model.StatusNoShow))
}
