package squad

// ConnState is the coordinator's connection lifecycle state.
//
// The transition function below is pure: it takes the current state, an
// event, and the retry attempt count, and returns the next state plus the
// side effects the caller must execute. Keeping it side-effect free makes
// the whole lifecycle testable as a table.
type ConnState string

const (
	// StateUninitialized is the state before Connect and after Close.
	StateUninitialized ConnState = "uninitialized"

	// StateConnecting covers the initial realtime dial, bounded by the
	// connect grace period.
	StateConnecting ConnState = "connecting"

	// StateRealtime means the socket channel is established and carrying
	// pushes.
	StateRealtime ConnState = "realtime"

	// StateReconnecting means an established channel dropped and bounded
	// retries are in progress.
	StateReconnecting ConnState = "reconnecting"

	// StatePolling is the HTTP fallback. It is terminal for the lifetime of
	// the connection: once entered, a late realtime success is discarded
	// rather than racing two delivery paths.
	StatePolling ConnState = "polling"
)

// TransportMode is the delivery path implied by a ConnState.
type TransportMode string

const (
	TransportNone     TransportMode = "none"
	TransportRealtime TransportMode = "realtime"
	TransportPolling  TransportMode = "polling"
)

// Mode maps a connection state to its transport.
func (s ConnState) Mode() TransportMode {
	switch s {
	case StateRealtime:
		return TransportRealtime
	case StatePolling:
		return TransportPolling
	default:
		return TransportNone
	}
}

// ConnEvent is an input to the connection state machine.
type ConnEvent string

const (
	// EvConnectRequested starts the lifecycle.
	EvConnectRequested ConnEvent = "connect-requested"

	// EvChannelUp fires when the socket reports connected.
	EvChannelUp ConnEvent = "channel-up"

	// EvChannelFailed fires when a dial attempt fails or the grace period
	// expires without a connection.
	EvChannelFailed ConnEvent = "channel-failed"

	// EvChannelDropped fires when an established channel disconnects.
	EvChannelDropped ConnEvent = "channel-dropped"

	// EvServerDisconnect fires when the server deliberately closed the
	// channel. Retrying would be rejected again, so the coordinator falls
	// back immediately.
	EvServerDisconnect ConnEvent = "server-disconnect"

	// EvCloseRequested tears the lifecycle down.
	EvCloseRequested ConnEvent = "close-requested"
)

// ConnAction is a side effect the caller must execute after a transition.
type ConnAction string

const (
	// ActionDial opens a fresh realtime channel attempt.
	ActionDial ConnAction = "dial"

	// ActionScheduleRetry arms the backoff timer for the next dial.
	ActionScheduleRetry ConnAction = "schedule-retry"

	// ActionStartPolling starts the HTTP fallback loops.
	ActionStartPolling ConnAction = "start-polling"

	// ActionStopPolling stops the HTTP fallback loops.
	ActionStopPolling ConnAction = "stop-polling"

	// ActionDropChannel closes the realtime channel if one exists.
	ActionDropChannel ConnAction = "drop-channel"
)

// NextConnState computes the transition for one event. attempt is the number
// of reconnect dials already made; maxAttempts bounds them.
//
// Unmatched state/event pairs are ignored: the state is returned unchanged
// with no actions. Stale socket callbacks arriving after a transition are
// absorbed here rather than guarded at every call site.
func NextConnState(s ConnState, ev ConnEvent, attempt, maxAttempts int) (ConnState, []ConnAction) {
	if ev == EvCloseRequested {
		return StateUninitialized, []ConnAction{ActionDropChannel, ActionStopPolling}
	}

	switch s {
	case StateUninitialized:
		if ev == EvConnectRequested {
			return StateConnecting, []ConnAction{ActionDial}
		}

	case StateConnecting:
		switch ev {
		case EvChannelUp:
			return StateRealtime, nil
		case EvChannelFailed, EvServerDisconnect:
			// The initial dial gets one shot inside the grace period; a
			// failure falls straight to polling so the UI is never stuck
			// waiting on reconnect backoff before first data.
			return StatePolling, []ConnAction{ActionDropChannel, ActionStartPolling}
		}

	case StateRealtime:
		switch ev {
		case EvChannelDropped:
			if maxAttempts <= 0 {
				return StatePolling, []ConnAction{ActionDropChannel, ActionStartPolling}
			}
			return StateReconnecting, []ConnAction{ActionScheduleRetry}
		case EvServerDisconnect:
			return StatePolling, []ConnAction{ActionDropChannel, ActionStartPolling}
		}

	case StateReconnecting:
		switch ev {
		case EvChannelUp:
			return StateRealtime, nil
		case EvChannelFailed, EvChannelDropped:
			if attempt >= maxAttempts {
				return StatePolling, []ConnAction{ActionDropChannel, ActionStartPolling}
			}
			return StateReconnecting, []ConnAction{ActionScheduleRetry}
		case EvServerDisconnect:
			return StatePolling, []ConnAction{ActionDropChannel, ActionStartPolling}
		}

	case StatePolling:
		// Polling is terminal. A realtime dial that succeeds after the
		// fallback decision is dropped, not adopted.
		if ev == EvChannelUp {
			return StatePolling, []ConnAction{ActionDropChannel}
		}
	}

	return s, nil
}
