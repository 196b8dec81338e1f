package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	base := errors.New("connection refused")
	err := CollaboratorFailure(Calendar, "engine.book", base)

	assert.Equal(t, "engine.book: calendar: connection refused", err.Error())
	assert.ErrorIs(t, err, base)
}

func TestKindOfThroughWrapping(t *testing.T) {
	inner := SlotConflict("appointments.book", errors.New("taken"))
	wrapped := fmt.Errorf("engine: %w", inner)

	assert.Equal(t, KindSlotConflict, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindSlotConflict))
	assert.False(t, Is(wrapped, KindCollaboratorFailure))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.False(t, Is(nil, KindUnknown))
}

func TestCollaboratorOf(t *testing.T) {
	err := fmt.Errorf("worker: %w", CollaboratorFailure(Messaging, "notify.send", errors.New("503")))

	var ae *Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, Messaging, CollaboratorOf(err))
	assert.Equal(t, "collaborator_failure", ae.Kind.String())
	assert.Equal(t, Collaborator(""), CollaboratorOf(errors.New("x")))
}

func TestNewWithoutCollaborator(t *testing.T) {
	err := New(KindInvariantViolation, "mortgage.upsert", "duplicate application")
	assert.Equal(t, "mortgage.upsert: duplicate application", err.Error())
	assert.Equal(t, "invariant_violation", err.Kind.String())
}
