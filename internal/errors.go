package amppool

import "errors"

// Sentinel errors for the gateway domain.
var (
	ErrNotFound     = errors.New("not found")
	ErrNoCredential = errors.New("no available key")
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUpstream     = errors.New("upstream error")
)
