package transfer

import (
	"encoding/json"
	"testing"
)

func TestServerStatus_String(t *testing.T) {
	tests := []struct {
		status   ServerStatus
		expected string
	}{
		{StatusIdle, "idle"},
		{StatusStarting, "starting"},
		{StatusListening, "listening"},
		{StatusHandshaking, "handshaking"},
		{StatusConnected, "connected"},
		{StatusReceivingFile, "receiving_file"},
		{StatusError, "error"},
		{ServerStatus(999), "unknown"},
	}

	for _, test := range tests {
		if got := test.status.String(); got != test.expected {
			t.Errorf("ServerStatus(%d).String() = %q, want %q", test.status, got, test.expected)
		}
	}
}

func TestServerStatus_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(map[string]ServerStatus{"status": StatusReceivingFile})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `{"status":"receiving_file"}` {
		t.Errorf("unexpected JSON %s", data)
	}
}

func TestServerStatus_HasPeer(t *testing.T) {
	for status, want := range map[ServerStatus]bool{
		StatusIdle:          false,
		StatusStarting:      false,
		StatusListening:     false,
		StatusHandshaking:   true,
		StatusConnected:     true,
		StatusReceivingFile: true,
		StatusError:         false,
	} {
		if got := status.HasPeer(); got != want {
			t.Errorf("%s.HasPeer() = %v, want %v", status, got, want)
		}
	}
}

func TestServerStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from     ServerStatus
		to       ServerStatus
		expected bool
	}{
		// Lifecycle
		{StatusIdle, StatusStarting, true},
		{StatusIdle, StatusListening, false},
		{StatusStarting, StatusListening, true},
		{StatusStarting, StatusConnected, false},
		{StatusError, StatusStarting, true},

		// Connection
		{StatusListening, StatusHandshaking, true},
		{StatusListening, StatusConnected, false},
		{StatusHandshaking, StatusConnected, true},
		{StatusHandshaking, StatusListening, true},
		{StatusHandshaking, StatusReceivingFile, false},

		// Transfer
		{StatusConnected, StatusReceivingFile, true},
		{StatusConnected, StatusListening, true},
		{StatusReceivingFile, StatusConnected, true},
		{StatusReceivingFile, StatusListening, true},
		{StatusReceivingFile, StatusStarting, false},

		// Replacement by a new connection
		{StatusConnected, StatusHandshaking, true},
		{StatusReceivingFile, StatusHandshaking, true},

		// Always reachable
		{StatusReceivingFile, StatusError, true},
		{StatusHandshaking, StatusIdle, true},
		{StatusListening, StatusIdle, true},
	}

	for _, test := range tests {
		if got := test.from.CanTransitionTo(test.to); got != test.expected {
			t.Errorf("%s.CanTransitionTo(%s) = %v, want %v", test.from, test.to, got, test.expected)
		}
	}
}

func TestSessionStatus(t *testing.T) {
	tests := []struct {
		status   SessionStatus
		name     string
		terminal bool
	}{
		{SessionReceiving, "receiving", false},
		{SessionVerifying, "verifying", false},
		{SessionCompleting, "completing", false},
		{SessionComplete, "complete", true},
		{SessionFailed, "failed", true},
		{SessionStatus(42), "unknown", false},
	}

	for _, test := range tests {
		if got := test.status.String(); got != test.name {
			t.Errorf("SessionStatus(%d).String() = %q, want %q", test.status, got, test.name)
		}
		if got := test.status.IsTerminal(); got != test.terminal {
			t.Errorf("%s.IsTerminal() = %v, want %v", test.status, got, test.terminal)
		}
	}
}
