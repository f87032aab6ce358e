package model

import "time"

// SpinStatus is a point-in-time snapshot of the watcher
type SpinStatus struct {
	Running       bool         `json:"running"`
	StartedAt     time.Time    `json:"startedAt,omitempty"`
	Services      int          `json:"services"`
	IndexedPaths  int          `json:"indexedPaths"`
	ShortlistSize int          `json:"shortlistSize"`
	PendingSize   int          `json:"pendingSize"`
	FlushDue      time.Time    `json:"flushDue,omitempty"`
	ScanModes     []string     `json:"scanModes"` // Modes with a tick in progress
	LoopRestarts  int          `json:"loopRestarts"`
	Flushes       int          `json:"flushes"`
	LastFlush     *FlushReport `json:"lastFlush,omitempty"`
}
