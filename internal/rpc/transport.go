package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Transport moves envelopes between the two sides of the boundary.
// Send must be safe for concurrent use.
type Transport interface {
	Send(ctx context.Context, env Envelope) error
	Recv(ctx context.Context) (Envelope, error)
	Close() error
}

// pipeBuffer is the number of frames buffered in each direction.
const pipeBuffer = 64

type pipe struct {
	done chan struct{}
	once sync.Once
}

type pipeEnd struct {
	p   *pipe
	in  <-chan []byte
	out chan<- []byte
}

// Pipe returns two connected in-process transports. Envelopes are encoded to
// JSON on send so nothing is shared between the ends. Closing either end
// closes both.
func Pipe() (Transport, Transport) {
	p := &pipe{done: make(chan struct{})}
	ab := make(chan []byte, pipeBuffer)
	ba := make(chan []byte, pipeBuffer)
	return &pipeEnd{p: p, in: ba, out: ab}, &pipeEnd{p: p, in: ab, out: ba}
}

func (e *pipeEnd) Send(ctx context.Context, env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	select {
	case <-e.p.done:
		return ErrTransportClosed
	default:
	}

	select {
	case e.out <- b:
		return nil
	case <-e.p.done:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *pipeEnd) Recv(ctx context.Context) (Envelope, error) {
	select {
	case b := <-e.in:
		var env Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			return Envelope{}, fmt.Errorf("decode envelope: %w", err)
		}
		return env, nil
	case <-e.p.done:
		return Envelope{}, ErrTransportClosed
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

func (e *pipeEnd) Close() error {
	e.p.once.Do(func() { close(e.p.done) })
	return nil
}
