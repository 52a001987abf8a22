package sync

import "time"

// State is the connection state of a single account.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateSyncingBacklog
	StateListening
	StateReconnecting
	StatePermanentlyFailed
)

var stateNames = map[State]string{
	StateDisconnected:      "disconnected",
	StateConnecting:        "connecting",
	StateSyncingBacklog:    "syncing",
	StateListening:         "listening",
	StateReconnecting:      "reconnecting",
	StatePermanentlyFailed: "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText renders the state by name in JSON and logs.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a point-in-time snapshot of one account's supervisor.
type Status struct {
	AccountID string    `json:"account_id"`
	State     State     `json:"state"`
	Attempts  int       `json:"reconnect_attempts"`
	LastError string    `json:"last_error,omitempty"`
	LastSync  time.Time `json:"last_sync"`
	Emitted   int       `json:"emitted"`
	Running   bool      `json:"running"`
}
