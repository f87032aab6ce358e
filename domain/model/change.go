package model

// ScanMode selects which partition of the indexed paths a scan tick checks
type ScanMode int

const (
	// ScanShortlist checks hot paths at the fast cadence
	ScanShortlist ScanMode = iota
	// ScanComplete checks every indexed path that is not hot
	ScanComplete
)

func (m ScanMode) String() string {
	switch m {
	case ScanShortlist:
		return "shortlist"
	case ScanComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// ChangeTask describes one detected drift waiting to be synced
type ChangeTask struct {
	ServiceID    ServiceID `json:"serviceId"`
	Aspect       string    `json:"aspect"`
	RelPath      string    `json:"relPath"`
	AbsPath      string    `json:"absPath"`
	PreviousSize int64     `json:"previousSize"`
	Attempt      int       `json:"attempt"` // Number of earlier flushes that failed with a retryable error
}
