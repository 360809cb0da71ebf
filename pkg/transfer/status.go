package transfer

// ServerStatus is the single source of truth for which messages the receiver
// currently accepts.
type ServerStatus int

const (
	StatusIdle ServerStatus = iota
	StatusStarting
	StatusListening
	StatusHandshaking
	StatusConnected
	StatusReceivingFile
	StatusError
)

// String returns a human-readable string representation of the server status
func (s ServerStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusStarting:
		return "starting"
	case StatusListening:
		return "listening"
	case StatusHandshaking:
		return "handshaking"
	case StatusConnected:
		return "connected"
	case StatusReceivingFile:
		return "receiving_file"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText lets the status appear by name in JSON snapshots and logs.
func (s ServerStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// HasPeer reports whether a device is currently attached.
func (s ServerStatus) HasPeer() bool {
	return s == StatusHandshaking || s == StatusConnected || s == StatusReceivingFile
}

// CanTransitionTo checks if a status transition is legal.
// ERROR and IDLE are reachable from everywhere.
func (s ServerStatus) CanTransitionTo(next ServerStatus) bool {
	if next == StatusError || next == StatusIdle {
		return true
	}

	switch s {
	case StatusIdle, StatusError:
		return next == StatusStarting
	case StatusStarting:
		return next == StatusListening
	case StatusListening:
		return next == StatusHandshaking
	case StatusHandshaking:
		return next == StatusConnected || next == StatusListening || next == StatusHandshaking
	case StatusConnected:
		return next == StatusReceivingFile || next == StatusListening || next == StatusHandshaking
	case StatusReceivingFile:
		return next == StatusConnected || next == StatusListening || next == StatusHandshaking
	default:
		return false
	}
}

// SessionStatus tracks one transfer from first chunk to final move.
type SessionStatus int

const (
	SessionReceiving SessionStatus = iota
	SessionVerifying
	SessionCompleting
	SessionComplete
	SessionFailed
)

func (s SessionStatus) String() string {
	switch s {
	case SessionReceiving:
		return "receiving"
	case SessionVerifying:
		return "verifying"
	case SessionCompleting:
		return "completing"
	case SessionComplete:
		return "complete"
	case SessionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s SessionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsTerminal returns true once the session can no longer change.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionComplete || s == SessionFailed
}
