package fsm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransitionHappyPath(t *testing.T) {
	s := StateIdle

	next, err := Transition(s, EventStart)
	require.NoError(t, err)
	require.Equal(t, StateStarting, next)

	next, err = Transition(next, EventStarted)
	require.NoError(t, err)
	require.Equal(t, StateListening, next)

	next, err = Transition(next, EventResult)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, next)

	next, err = Transition(next, EventEnd)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, next)

	next, err = Transition(next, EventReset)
	require.NoError(t, err)
	require.Equal(t, StateIdle, next)
}

func TestTransitionTerminalStatesResetToIdle(t *testing.T) {
	for _, state := range []State{StateCompleted, StateFailed, StateAborted} {
		require.True(t, Terminal(state))
		next, err := Transition(state, EventReset)
		require.NoError(t, err)
		require.Equal(t, StateIdle, next)
	}
	require.False(t, Terminal(StateIdle))
	require.False(t, Terminal(StateListening))
}

func TestTransitionMatrix(t *testing.T) {
	tests := []struct {
		name    string
		state   State
		event   Event
		want    State
		wantErr bool
	}{
		{name: "idle result invalid", state: StateIdle, event: EventResult, want: StateIdle, wantErr: true},
		{name: "idle end invalid", state: StateIdle, event: EventEnd, want: StateIdle, wantErr: true},
		{name: "starting start invalid", state: StateStarting, event: EventStart, want: StateStarting, wantErr: true},
		{name: "starting error fails", state: StateStarting, event: EventError, want: StateFailed},
		{name: "starting end aborts", state: StateStarting, event: EventEnd, want: StateAborted},
		{name: "listening start invalid", state: StateListening, event: EventStart, want: StateListening, wantErr: true},
		{name: "listening error fails", state: StateListening, event: EventError, want: StateFailed},
		{name: "listening end aborts", state: StateListening, event: EventEnd, want: StateAborted},
		{name: "completed error invalid", state: StateCompleted, event: EventError, want: StateCompleted, wantErr: true},
		{name: "failed start invalid", state: StateFailed, event: EventStart, want: StateFailed, wantErr: true},
		{name: "aborted result invalid", state: StateAborted, event: EventResult, want: StateAborted, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next, err := Transition(tc.state, tc.event)
			require.Equal(t, tc.want, next)
			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), "invalid transition")
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestTransitionUnknownState(t *testing.T) {
	next, err := Transition(State("mystery"), EventStart)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown state")
	require.Equal(t, State("mystery"), next)
}
