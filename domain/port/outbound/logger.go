package outbound

// Logger defines the interface for structured logging operations.
// Methods are asynchronous so scan and upload paths never block on output.
type Logger interface {
	// logs messages with optional structured arguments
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
}

// ManagedLogger is the logger owned by the process entrypoint
type ManagedLogger interface {
	Logger

	// changes the minimum level at runtime
	UpdateLevel(logLvl string)

	// flushes queued entries and stops the writer
	Shutdown()
}
