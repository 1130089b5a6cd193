package session

// Trigger is an engine lifecycle callback kind driving a state transition.
type Trigger string

const (
	TriggerQR            Trigger = "qr"
	TriggerAuthenticated Trigger = "authenticated"
	TriggerReady         Trigger = "ready"
	TriggerAuthFailure   Trigger = "auth_failure"
	TriggerDisconnected  Trigger = "disconnected"
)

// Next computes the successor state for a trigger arriving in the current
// state. The second return value reports whether the transition is valid;
// invalid triggers leave the state unchanged. Disconnected is terminal.
// AuthFailure and Disconnected are reachable from every non-terminal state;
// a session in auth_failure may re-enter the pairing flow if its engine
// retries on its own.
func Next(current Status, trigger Trigger) (Status, bool) {
	if current == StatusDisconnected {
		return current, false
	}
	switch trigger {
	case TriggerAuthFailure:
		return StatusAuthFailure, true
	case TriggerDisconnected:
		return StatusDisconnected, true
	case TriggerQR:
		switch current {
		case StatusInitializing, StatusQR, StatusAuthFailure:
			return StatusQR, true
		}
	case TriggerAuthenticated:
		switch current {
		case StatusInitializing, StatusQR, StatusAuthFailure:
			return StatusAuthenticating, true
		}
	case TriggerReady:
		switch current {
		case StatusInitializing, StatusQR, StatusAuthenticating:
			return StatusReady, true
		}
	}
	return current, false
}
