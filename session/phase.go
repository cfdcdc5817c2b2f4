package session

// Phase is the lifecycle state of a Session.
type Phase string

// Session phases.
const (
	PhaseIdle       Phase = "idle"
	PhaseConnecting Phase = "connecting"
	PhaseConnected  Phase = "connected"
	PhaseListening  Phase = "listening"
	PhaseSpeaking   Phase = "speaking"
	PhaseEnded      Phase = "ended"
	PhaseError      Phase = "error"
)

// transitions lists the phases reachable from each phase. Terminal phases
// have no entry.
var transitions = map[Phase][]Phase{
	PhaseIdle:       {PhaseConnecting, PhaseEnded, PhaseError},
	PhaseConnecting: {PhaseConnected, PhaseEnded, PhaseError},
	PhaseConnected:  {PhaseListening, PhaseEnded, PhaseError},
	PhaseListening:  {PhaseSpeaking, PhaseEnded, PhaseError},
	PhaseSpeaking:   {PhaseListening, PhaseEnded, PhaseError},
}

// ValidTransition reports whether a session may move from one phase to another.
func ValidTransition(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// Terminal reports whether p is ended or error.
func (p Phase) Terminal() bool {
	return p == PhaseEnded || p == PhaseError
}

// Established reports whether the peer has acknowledged the session.
func (p Phase) Established() bool {
	return p == PhaseConnected || p == PhaseListening || p == PhaseSpeaking
}

func (p Phase) String() string {
	return string(p)
}
