package inbound

import (
	"context"

	"github.com/ajkula/GoPIO/domain/model"
)

// SpinService continuously syncs local service trees to their deployment
type SpinService interface {
	// builds the index and starts the scan loop
	Start(ctx context.Context) error

	// stops the scan loop and pending flush timer
	Stop() error

	// starts the watcher and blocks until a fatal scan error or ctx cancellation
	Run(ctx context.Context) error

	// returns a snapshot of the watcher state
	Status() model.SpinStatus

	// registers a listener for flush reports; the returned func unregisters it
	Subscribe() (<-chan *model.FlushReport, func())
}
