package executor

import (
	"errors"
	"fmt"
)

// errDisconnected signals that the host connection dropped before the
// lifecycle phase could complete
var errDisconnected = errors.New("host disconnected")

// handshakeError reports a rejected SetTaskContext confirmation
type handshakeError struct {
	reason string
}

func (e *handshakeError) Error() string {
	if e.reason == "" {
		return "task context rejected by host"
	}
	return fmt.Sprintf("task context rejected by host: %s", e.reason)
}
