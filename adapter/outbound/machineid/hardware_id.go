package machineid

import (
	"sync"

	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"

	"github.com/ajkula/GoPIO/domain/port/outbound"
)

// AppID scopes the protected machine ID to this tool
const AppID = "pio"

type hardwareMachineID struct {
	appID string
	read  func(appID string) (string, error)

	once     sync.Once
	id       string
	fallback bool
}

// NewHardwareMachineID hashes the OS machine ID with the app ID. Hosts without
// a readable machine ID (minimal containers) get a random ID for the process.
func NewHardwareMachineID() outbound.MachineIDService {
	return &hardwareMachineID{appID: AppID, read: machineid.ProtectedID}
}

func (h *hardwareMachineID) GetMachineID() (string, error) {
	h.once.Do(func() {
		id, err := h.read(h.appID)
		if err != nil || id == "" {
			h.id = uuid.NewString()
			h.fallback = true
			return
		}
		h.id = id
	})
	return h.id, nil
}
