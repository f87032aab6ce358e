package outbound

// MachineIDService identifies the workstation issuing orchestrator requests
type MachineIDService interface {
	// returns a stable, app-scoped identifier that never exposes the raw machine ID
	GetMachineID() (string, error)
}
