package fsm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransitionRestartCycle(t *testing.T) {
	s := StateStopped

	next, err := Transition(s, EventStart)
	require.NoError(t, err)
	require.Equal(t, StateRunning, next)

	next, err = Transition(next, EventRestart)
	require.NoError(t, err)
	require.Equal(t, StateDraining, next)

	next, err = Transition(next, EventDrained)
	require.NoError(t, err)
	require.Equal(t, StateStopped, next)

	next, err = Transition(next, EventStart)
	require.NoError(t, err)
	require.Equal(t, StateRunning, next)
}

func TestTransitionFailFromAnyStateGoesFailed(t *testing.T) {
	states := []State{StateStopped, StateRunning, StateDraining, StateFailed}
	for _, state := range states {
		next, err := Transition(state, EventFail)
		require.NoError(t, err)
		require.Equal(t, StateFailed, next)
	}
}

func TestTransitionMatrix(t *testing.T) {
	tests := []struct {
		name    string
		state   State
		event   Event
		want    State
		wantErr bool
	}{
		{name: "running start invalid", state: StateRunning, event: EventStart, want: StateRunning, wantErr: true},
		{name: "running drained invalid", state: StateRunning, event: EventDrained, want: StateRunning, wantErr: true},
		{name: "stopped drained invalid", state: StateStopped, event: EventDrained, want: StateStopped, wantErr: true},
		{name: "draining start invalid", state: StateDraining, event: EventStart, want: StateDraining, wantErr: true},
		{name: "draining restart invalid", state: StateDraining, event: EventRestart, want: StateDraining, wantErr: true},
		{name: "failed start recovers", state: StateFailed, event: EventStart, want: StateRunning},
		{name: "failed restart drains", state: StateFailed, event: EventRestart, want: StateDraining},
		{name: "stopped restart drains", state: StateStopped, event: EventRestart, want: StateDraining},
		{name: "running close stops", state: StateRunning, event: EventClose, want: StateStopped},
		{name: "draining close stops", state: StateDraining, event: EventClose, want: StateStopped},
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
