package protocol

import "fmt"

// State is the lifecycle state of a Client.
type State int32

const (
	StateNotStarted State = iota
	StateStarting
	StateReady
	StateDegraded
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Stats is a snapshot of a client's health counters.
type Stats struct {
	Alias       string `json:"alias"`
	State       string `json:"state"`
	Pid         int    `json:"pid"`
	Outstanding int    `json:"outstanding"`
	Anomalies   int64  `json:"anomalies"`
	ParseErrors int64  `json:"parseErrors"`
	LastID      int64  `json:"lastId"`
	Restarts    int64  `json:"restarts"`
}
