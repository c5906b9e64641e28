package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind identifies the role of an envelope.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
	KindCallback Kind = "callback"
	KindCancel   Kind = "cancel"
)

// Envelope is the unit sent across a transport.
type Envelope struct {
	// ID is the request id for requests, responses and cancels, and the
	// callback id for callbacks.
	ID     string `json:"id"`
	Kind   Kind   `json:"kind"`
	Method string `json:"method,omitempty"`

	Payload json.RawMessage `json:"payload,omitempty"`

	// Callbacks maps callback parameter names to callback ids.
	Callbacks map[string]string `json:"callbacks,omitempty"`

	Error string `json:"error,omitempty"`
}

var (
	// ErrTransportClosed is returned by transports after Close
	ErrTransportClosed = errors.New("transport closed")

	// ErrClientClosed is returned for calls on a closed client
	ErrClientClosed = errors.New("rpc client closed")

	// ErrUnknownMethod is reported for requests without a handler
	ErrUnknownMethod = errors.New("unknown method")
)

// RemoteError is an error returned by the remote handler.
type RemoteError struct {
	Method  string
	Message string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Method, e.Message)
}

func encode(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}
