package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateFetchingPage, true},
		{StateFetchingPage, StateWaitingForRateLimit, true},
		{StateWaitingForRateLimit, StateFetchingPage, true},
		{StateFetchingPage, StatePaused, true},
		{StatePaused, StateFetchingPage, true},
		{StateFetchingPage, StateFetchingPage, true},
		{StateFetchingPage, StatePartial, true},
		{StateComplete, StateIdle, true},
		{StateComplete, StateComplete, false},
		{StateComplete, StateFetchingPage, false},
		{StateCancelled, StateIdle, false},
		{StateFailed, StatePaused, false},
		{StateIdle, StateWaitingForRateLimit, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestMachineReportsChanges(t *testing.T) {
	var seen []State
	m := NewMachine(func(_, to State) { seen = append(seen, to) })

	require.NoError(t, m.Transition(StateFetchingPage))
	require.NoError(t, m.Transition(StateFetchingPage))
	require.NoError(t, m.Transition(StateWaitingForRateLimit))
	require.NoError(t, m.Transition(StateFetchingPage))
	require.NoError(t, m.Transition(StateComplete))

	err := m.Transition(StateFetchingPage)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateComplete, m.State())
	assert.Equal(t, []State{StateFetchingPage, StateWaitingForRateLimit, StateFetchingPage, StateComplete}, seen)
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []State{StateComplete, StatePartial, StateCancelled, StateFailed} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []State{StateIdle, StateFetchingPage, StateWaitingForRateLimit, StatePaused} {
		assert.False(t, s.Terminal(), s)
	}
}
