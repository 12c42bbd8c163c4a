package breaker

import "errors"

var (
	// ErrCircuitOpen is returned when the breaker rejects a request without
	// attempting the protected operation.
	ErrCircuitOpen = errors.New("breaker: circuit is open")
)
