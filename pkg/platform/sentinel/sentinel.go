package sentinel

import "errors"

// Infrastructure facts returned by stores and remote clients, optionally
// wrapped. Services translate them into coded domain errors:
//   - ErrNotFound: record does not exist
//   - ErrConflict: a uniqueness or version precondition failed
//   - ErrExpired: record exists but its deadline has passed
//   - ErrInvalidState: record is in the wrong state for the operation
//   - ErrUnavailable: backend temporarily unreachable or circuit open
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
