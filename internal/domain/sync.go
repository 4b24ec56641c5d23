package domain

// SyncState is the lifecycle phase reported by the protocol client.
type SyncState int

const (
	SyncStopped SyncState = iota
	SyncPreparing
	SyncReady
	SyncCatchup
	SyncError
)

func (s SyncState) String() string {
	switch s {
	case SyncStopped:
		return "stopped"
	case SyncPreparing:
		return "preparing"
	case SyncReady:
		return "ready"
	case SyncCatchup:
		return "catchup"
	case SyncError:
		return "error"
	default:
		return "unknown"
	}
}

// Ready collapses the state into the readiness signal. Unknown values are not ready.
func (s SyncState) Ready() bool {
	return s == SyncReady || s == SyncCatchup
}
