package booking

import (
	"fmt"

	"appointly/internal/model"
)

// TransitionError reports a known status that cannot follow the current one.
type TransitionError struct {
	From model.Status
	To   model.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal status transition %s -> %s", e.From, e.To)
}

// Lifecycle holds the allowed appointment status transitions.
type Lifecycle struct {
	transitions map[model.Status][]model.Status
}

// NewLifecycle creates the lifecycle with the predefined transitions.
// Completed, cancelled and no-show are terminal.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		transitions: map[model.Status][]model.Status{
			model.StatusPending:   {model.StatusConfirmed, model.StatusCancelled},
			model.StatusConfirmed: {model.StatusCompleted, model.StatusNoShow, model.StatusCancelled},
			model.StatusCompleted: {},
			model.StatusCancelled: {},
			model.StatusNoShow:    {},
		},
	}
}

// CanTransition checks if transition is allowed.
func (l *Lifecycle) CanTransition(from, to model.Status) bool {
	for _, s := range l.transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (l *Lifecycle) Terminal(s model.Status) bool {
	next, ok := l.transitions[s]
	return ok && len(next) == 0
}

// Check returns nil if to may follow from, or if they are equal.
func (l *Lifecycle) Check(from, to model.Status) error {
	if from == to {
		return nil
	}
	if !l.CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}
