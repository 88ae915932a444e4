package netstatus

// Status represents observed network reachability.
type Status int

const (
	// StatusOnline indicates the network is reachable at normal latency.
	StatusOnline Status = iota
	// StatusSlow indicates the network is reachable but degraded; callers
	// should skip speculative work such as prefetching.
	StatusSlow
	// StatusOffline indicates the network is unreachable.
	StatusOffline
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusOnline:
		return "online"
	case StatusSlow:
		return "slow"
	case StatusOffline:
		return "offline"
	default:
		return "unknown"
	}
}
