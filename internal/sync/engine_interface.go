package sync

import (
	"context"
)

// SyncEngineInterface is the part of the engine the background scheduler
// drives. It allows the scheduler to be tested with a stub engine.
type SyncEngineInterface interface {
	// SyncAll runs one batch over the items pending at call time.
	SyncAll(ctx context.Context) (*BatchResult, error)

	// Status returns queue counts and the settings gate.
	Status(ctx context.Context) (*Status, error)

	// IsSyncing reports whether a batch is running.
	IsSyncing() bool

	// SetOnline records network reachability.
	SetOnline(online bool)
}

var _ SyncEngineInterface = (*SyncEngine)(nil)
