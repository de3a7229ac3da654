package netsync

// ConnState tracks the multicast link:
// Unconnected -> Joining -> Online -> Rejoining -> Online | Unconnected.
type ConnState int32

const (
	StateUnconnected ConnState = iota
	StateJoining
	StateOnline
	StateRejoining
)

func (s ConnState) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateJoining:
		return "joining"
	case StateOnline:
		return "online"
	case StateRejoining:
		return "rejoining"
	default:
		return "unknown"
	}
}

func (s ConnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
