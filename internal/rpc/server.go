package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
)

// Handler serves one method. The returned value is encoded as the response
// payload.
type Handler func(ctx context.Context, req *Request) (any, error)

// Request is an incoming call as seen by a Handler.
type Request struct {
	ID     string
	Method string

	payload   json.RawMessage
	callbacks map[string]string
	send      func(Envelope) error
}

// Decode unmarshals the request parameters into v.
func (r *Request) Decode(v any) error {
	if len(r.payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.payload, v); err != nil {
		return fmt.Errorf("decode %s params: %w", r.Method, err)
	}
	return nil
}

// HasCallback reports whether the caller passed the named callback.
func (r *Request) HasCallback(name string) bool {
	_, ok := r.callbacks[name]
	return ok
}

// Callback returns a function that invokes the caller's named callback.
// It does not wait for the caller. If the caller passed no such callback
// the returned function does nothing.
func (r *Request) Callback(name string) func(v any) error {
	id, ok := r.callbacks[name]
	if !ok {
		return func(any) error { return nil }
	}
	return func(v any) error {
		payload, err := encode(v)
		if err != nil {
			return err
		}
		return r.send(Envelope{ID: id, Kind: KindCallback, Method: r.Method, Payload: payload})
	}
}

// Server dispatches requests to registered handlers.
type Server struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewServer creates an empty server.
func NewServer() *Server {
	return &Server{handlers: make(map[string]Handler)}
}

// Handle registers h for method.
func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Methods returns the number of registered handlers.
func (s *Server) Methods() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers)
}

// Serve reads requests from t until ctx ends or the transport closes.
// Each request runs in its own goroutine; Serve waits for them before
// returning.
func (s *Server) Serve(ctx context.Context, t Transport) error {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		running = make(map[string]context.CancelFunc)
	)
	defer func() {
		mu.Lock()
		for _, cancel := range running {
			cancel()
		}
		mu.Unlock()
		wg.Wait()
	}()

	send := func(env Envelope) error {
		return t.Send(context.Background(), env)
	}

	for {
		env, err := t.Recv(ctx)
		if err != nil {
			if errors.Is(err, ErrTransportClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		switch env.Kind {
		case KindRequest:
			reqCtx, cancel := context.WithCancel(ctx)
			mu.Lock()
			running[env.ID] = cancel
			mu.Unlock()

			wg.Add(1)
			go func(env Envelope) {
				defer wg.Done()
				defer func() {
					mu.Lock()
					delete(running, env.ID)
					mu.Unlock()
					cancel()
				}()
				s.serveRequest(reqCtx, env, send)
			}(env)

		case KindCancel:
			mu.Lock()
			if cancel, ok := running[env.ID]; ok {
				cancel()
			}
			mu.Unlock()

		default:
			log.Debug("RPC: server ignoring envelope", "kind", env.Kind, "id", env.ID)
		}
	}
}

func (s *Server) serveRequest(ctx context.Context, env Envelope, send func(Envelope) error) {
	resp := Envelope{ID: env.ID, Kind: KindResponse, Method: env.Method}

	s.mu.RLock()
	h, ok := s.handlers[env.Method]
	s.mu.RUnlock()

	if !ok {
		resp.Error = fmt.Sprintf("%v: %s", ErrUnknownMethod, env.Method)
	} else {
		req := &Request{
			ID:        env.ID,
			Method:    env.Method,
			payload:   env.Payload,
			callbacks: env.Callbacks,
			send:      send,
		}
		out, err := s.call(ctx, h, req)
		if err == nil {
			resp.Payload, err = encode(out)
		}
		if err != nil {
			resp.Error = err.Error()
		}
	}

	err := send(resp)
	if err == nil || errors.Is(err, ErrTransportClosed) {
		return
	}
	log.Warn("RPC: failed to send response", "method", env.Method, "err", err)

	// The caller is still waiting; tell it why the reply never came.
	fail := Envelope{ID: env.ID, Kind: KindResponse, Method: env.Method, Error: err.Error()}
	if err := send(fail); err != nil && !errors.Is(err, ErrTransportClosed) {
		log.Error("RPC: failed to send error response", "method", env.Method, "err", err)
	}
}

func (s *Server) call(ctx context.Context, h Handler, req *Request) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h(ctx, req)
}
