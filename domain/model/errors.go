package model

import "errors"

var (
	ErrManifestInvalid   = errors.New("manifest is not valid structured data")
	ErrScanFailed        = errors.New("scan tick failed")
	ErrUploadRejected    = errors.New("remote rejected file upload")
	ErrRemoteUnreachable = errors.New("remote unreachable")
	ErrCallTimeout       = errors.New("remote call timed out")
	ErrWatcherRunning    = errors.New("watcher already running")
	ErrWatcherStopped    = errors.New("watcher stopped before it started")
	ErrUnknownService    = errors.New("unknown service")
	ErrRegistryNotFound  = errors.New("workspace descriptor not found")
)

// IsRetryable reports whether a sync failure may succeed in a later flush
func IsRetryable(err error) bool {
	return errors.Is(err, ErrCallTimeout) || errors.Is(err, ErrRemoteUnreachable)
}
