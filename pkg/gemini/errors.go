package gemini

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConnectionClosed is returned by send operations after the session has
// been closed, before the transport is touched.
var ErrConnectionClosed = errors.New("gemini connection closed")

// ErrSetupNotAcknowledged is returned by Connect when the server ends the
// inbound stream before acknowledging the setup frame.
var ErrSetupNotAcknowledged = errors.New("server closed the connection before acknowledging setup")

// HandshakeStatusError reports a websocket upgrade that did not switch
// protocols.
type HandshakeStatusError struct {
	StatusCode int
	Status     string
}

func (e *HandshakeStatusError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("websocket handshake failed with status %s", e.Status)
	}
	return fmt.Sprintf("websocket handshake failed with status %d", e.StatusCode)
}

// SetupRejectedError reports an error event received while waiting for the
// setup acknowledgment.
type SetupRejectedError struct {
	Response ErrorResponse
}

func (e *SetupRejectedError) Error() string {
	return fmt.Sprintf("server rejected setup: %s", e.Response.String())
}

// ServerClosedError reports a close frame carrying an abnormal code.
type ServerClosedError struct {
	Code   int
	Reason string
}

func (e *ServerClosedError) Error() string {
	return fmt.Sprintf("server closed the connection: code %d, reason %q", e.Code, e.Reason)
}

// MultipleEventKindsError reports an inbound message matching more than one
// known event-kind key. This is a server contract violation and is never
// resolved silently to one of the kinds.
type MultipleEventKindsError struct {
	Keys []string
}

func (e *MultipleEventKindsError) Error() string {
	return fmt.Sprintf("server message matched multiple event kinds: %s", strings.Join(e.Keys, ", "))
}

// UnexpectedMessageError reports an inbound payload that is not a JSON
// object.
type UnexpectedMessageError struct {
	Raw []byte
}

func (e *UnexpectedMessageError) Error() string {
	raw := string(e.Raw)
	if len(raw) > 256 {
		raw = raw[:256] + "..."
	}
	return fmt.Sprintf("unexpected server message: %s", raw)
}
