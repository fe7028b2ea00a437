package squad

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextConnState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		state       ConnState
		event       ConnEvent
		attempt     int
		max         int
		wantState   ConnState
		wantActions []ConnAction
	}{
		{
			name:        "connectStartsDial",
			state:       StateUninitialized,
			event:       EvConnectRequested,
			wantState:   StateConnecting,
			wantActions: []ConnAction{ActionDial},
		},
		{
			name:      "initialDialSucceeds",
			state:     StateConnecting,
			event:     EvChannelUp,
			wantState: StateRealtime,
		},
		{
			name:        "initialDialFailureFallsToPolling",
			state:       StateConnecting,
			event:       EvChannelFailed,
			max:         3,
			wantState:   StatePolling,
			wantActions: []ConnAction{ActionDropChannel, ActionStartPolling},
		},
		{
			name:        "establishedDropSchedulesRetry",
			state:       StateRealtime,
			event:       EvChannelDropped,
			max:         3,
			wantState:   StateReconnecting,
			wantActions: []ConnAction{ActionScheduleRetry},
		},
		{
			name:        "establishedDropWithNoRetriesFallsBack",
			state:       StateRealtime,
			event:       EvChannelDropped,
			max:         -1,
			wantState:   StatePolling,
			wantActions: []ConnAction{ActionDropChannel, ActionStartPolling},
		},
		{
			name:        "serverDisconnectSkipsRetries",
			state:       StateRealtime,
			event:       EvServerDisconnect,
			max:         3,
			wantState:   StatePolling,
			wantActions: []ConnAction{ActionDropChannel, ActionStartPolling},
		},
		{
			name:      "reconnectSucceeds",
			state:     StateReconnecting,
			event:     EvChannelUp,
			attempt:   2,
			max:       3,
			wantState: StateRealtime,
		},
		{
			name:        "reconnectFailureBelowBudgetRetries",
			state:       StateReconnecting,
			event:       EvChannelFailed,
			attempt:     2,
			max:         3,
			wantState:   StateReconnecting,
			wantActions: []ConnAction{ActionScheduleRetry},
		},
		{
			name:        "reconnectExhaustionFallsBack",
			state:       StateReconnecting,
			event:       EvChannelFailed,
			attempt:     3,
			max:         3,
			wantState:   StatePolling,
			wantActions: []ConnAction{ActionDropChannel, ActionStartPolling},
		},
		{
			name:        "pollingIsTerminalForLateRealtimeSuccess",
			state:       StatePolling,
			event:       EvChannelUp,
			max:         3,
			wantState:   StatePolling,
			wantActions: []ConnAction{ActionDropChannel},
		},
		{
			name:      "pollingIgnoresChannelFailures",
			state:     StatePolling,
			event:     EvChannelFailed,
			max:       3,
			wantState: StatePolling,
		},
		{
			name:        "closeFromAnyState",
			state:       StateRealtime,
			event:       EvCloseRequested,
			max:         3,
			wantState:   StateUninitialized,
			wantActions: []ConnAction{ActionDropChannel, ActionStopPolling},
		},
		{
			name:      "staleEventIsIgnored",
			state:     StateUninitialized,
			event:     EvChannelDropped,
			max:       3,
			wantState: StateUninitialized,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			gotState, gotActions := NextConnState(tt.state, tt.event, tt.attempt, tt.max)
			require.Equal(t, tt.wantState, gotState)
			require.Equal(t, tt.wantActions, gotActions)
		})
	}
}

func TestConnStateMode(t *testing.T) {
	t.Parallel()

	require.Equal(t, TransportRealtime, StateRealtime.Mode())
	require.Equal(t, TransportPolling, StatePolling.Mode())
	require.Equal(t, TransportNone, StateConnecting.Mode())
	require.Equal(t, TransportNone, StateReconnecting.Mode())
	require.Equal(t, TransportNone, StateUninitialized.Mode())
}
