package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, devices and remote clients
// return these (optionally wrapped) so services can translate them into
// domain errors:
// - ErrNotFound: entity does not exist in store
// - ErrExpired: attempt token or cached entry has expired
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrUnavailable: device, service or resource temporarily unavailable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
