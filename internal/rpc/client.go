package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Client issues calls over a transport.
type Client struct {
	t Transport

	mu        sync.Mutex
	calls     map[string]chan Envelope         // correlation table
	callbacks map[string]func(json.RawMessage) // callback table
	err       error

	done chan struct{}
	stop context.CancelFunc
}

// NewClient starts reading responses from t.
func NewClient(t Transport) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		t:         t,
		calls:     make(map[string]chan Envelope),
		callbacks: make(map[string]func(json.RawMessage)),
		done:      make(chan struct{}),
		stop:      cancel,
	}
	go c.readLoop(ctx)
	return c
}

type callOptions struct {
	callbacks map[string]func(json.RawMessage)
}

// CallOption configures a single call.
type CallOption func(*callOptions)

// WithCallback passes fn to the remote handler as the callback parameter
// name. Payloads are decoded into T before fn is invoked.
func WithCallback[T any](name string, fn func(T)) CallOption {
	return func(o *callOptions) {
		if fn == nil {
			return
		}
		o.callbacks[name] = func(raw json.RawMessage) {
			var v T
			if err := json.Unmarshal(raw, &v); err != nil {
				log.Warn("RPC: dropping malformed callback payload", "callback", name, "err", err)
				return
			}
			fn(v)
		}
	}
}

// Call invokes method with params and decodes the response into result,
// which may be nil.
func (c *Client) Call(ctx context.Context, method string, params, result any, opts ...CallOption) error {
	o := callOptions{callbacks: make(map[string]func(json.RawMessage))}
	for _, opt := range opts {
		opt(&o)
	}

	payload, err := encode(params)
	if err != nil {
		return err
	}

	env := Envelope{
		ID:      uuid.NewString(),
		Kind:    KindRequest,
		Method:  method,
		Payload: payload,
	}

	reply := make(chan Envelope, 1)
	cbIDs := make([]string, 0, len(o.callbacks))

	var q *callbackQueue
	if len(o.callbacks) > 0 {
		q = newCallbackQueue()
		defer q.close()
	}

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.calls[env.ID] = reply
	for name, fn := range o.callbacks {
		id := uuid.NewString()
		if env.Callbacks == nil {
			env.Callbacks = make(map[string]string, len(o.callbacks))
		}
		env.Callbacks[name] = id
		c.callbacks[id] = func(raw json.RawMessage) {
			q.push(func() { fn(raw) })
		}
		cbIDs = append(cbIDs, id)
	}
	c.mu.Unlock()

	defer c.forget(env.ID, cbIDs)

	if err := c.t.Send(ctx, env); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case resp := <-reply:
		// Progress sent before the reply is delivered before Call returns.
		q.drain()
		if resp.Error != "" {
			return &RemoteError{Method: method, Message: resp.Error}
		}
		if result != nil && len(resp.Payload) > 0 {
			if err := json.Unmarshal(resp.Payload, result); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil

	case <-ctx.Done():
		cancelEnv := Envelope{ID: env.ID, Kind: KindCancel, Method: method}
		_ = c.t.Send(context.Background(), cancelEnv)
		return ctx.Err()

	case <-c.done:
		c.mu.Lock()
		err := c.err
		c.mu.Unlock()
		return err
	}
}

// Pending returns the number of outstanding calls and registered callbacks.
func (c *Client) Pending() (calls, callbacks int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls), len(c.callbacks)
}

// Close closes the transport and fails outstanding calls.
func (c *Client) Close() error {
	err := c.t.Close()
	c.stop()
	<-c.done
	return err
}

func (c *Client) forget(id string, cbIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.calls, id)
	for _, cb := range cbIDs {
		delete(c.callbacks, cb)
	}
}

func (c *Client) readLoop(ctx context.Context) {
	defer close(c.done)

	for {
		env, err := c.t.Recv(ctx)
		if err != nil {
			if errors.Is(err, ErrTransportClosed) || errors.Is(err, context.Canceled) {
				err = ErrClientClosed
			}
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			return
		}

		switch env.Kind {
		case KindResponse:
			c.mu.Lock()
			reply, ok := c.calls[env.ID]
			c.mu.Unlock()
			if ok {
				select {
				case reply <- env:
				default:
				}
			}

		case KindCallback:
			c.mu.Lock()
			fn, ok := c.callbacks[env.ID]
			c.mu.Unlock()
			if ok {
				fn(env.Payload)
			}

		default:
			log.Debug("RPC: client ignoring envelope", "kind", env.Kind, "id", env.ID)
		}
	}
}

// callbackQueue runs one call's callbacks in arrival order on its own
// goroutine, so a slow callback never holds up the read loop.
type callbackQueue struct {
	mu      sync.Mutex
	pending []func()
	closed  bool

	wake chan struct{}
	done chan struct{}
}

func newCallbackQueue() *callbackQueue {
	q := &callbackQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *callbackQueue) push(fn func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, fn)
	q.mu.Unlock()
	q.signal()
}

// close stops accepting callbacks. Queued ones still run.
func (q *callbackQueue) close() {
	if q == nil {
		return
	}
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// drain closes the queue and waits for the queued callbacks to finish.
func (q *callbackQueue) drain() {
	if q == nil {
		return
	}
	q.close()
	<-q.done
}

func (q *callbackQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *callbackQueue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		batch, closed := q.pending, q.closed
		q.pending = nil
		q.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if len(batch) == 0 {
			if closed {
				return
			}
			<-q.wake
		}
	}
}
