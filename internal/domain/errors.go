package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrStaleTicker         = errors.New("ticker is stale")
	ErrAtCapacity          = errors.New("doctrine at slot capacity")
	ErrRiskGateVetoed      = errors.New("risk gate vetoed mission")
	ErrDuplicateMission    = errors.New("active mission exists for key")
	ErrProviderUnavailable = errors.New("signal provider unavailable")
	ErrNoProviders         = errors.New("no signal providers registered")
	ErrUnknownDirection    = errors.New("unknown scan direction")
)
