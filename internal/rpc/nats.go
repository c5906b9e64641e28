package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
)

// Side selects which direction of a NATS channel a transport uses.
type Side int

const (
	// SideClient publishes requests and receives replies.
	SideClient Side = iota
	// SideServer receives requests and publishes replies.
	SideServer
)

// natsBuffer is the number of undelivered messages held per subscription.
const natsBuffer = 256

// NATSTransport carries envelopes over two NATS subjects derived from a
// prefix: "<prefix>.requests" and "<prefix>.replies".
type NATSTransport struct {
	conn    *nats.Conn
	subject string // outgoing
	sub     *nats.Subscription
	msgs    chan *nats.Msg

	done chan struct{}
	once sync.Once
}

// RequestSubject returns the subject requests are published on.
func RequestSubject(prefix string) string { return prefix + ".requests" }

// ReplySubject returns the subject replies and callbacks are published on.
func ReplySubject(prefix string) string { return prefix + ".replies" }

// NewNATSTransport subscribes to the incoming subject for side.
func NewNATSTransport(conn *nats.Conn, prefix string, side Side) (*NATSTransport, error) {
	in, out := ReplySubject(prefix), RequestSubject(prefix)
	if side == SideServer {
		in, out = out, in
	}

	t := &NATSTransport{
		conn:    conn,
		subject: out,
		msgs:    make(chan *nats.Msg, natsBuffer),
		done:    make(chan struct{}),
	}

	sub, err := conn.ChanSubscribe(in, t.msgs)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", in, err)
	}
	if err := conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flush subscription %s: %w", in, err)
	}
	t.sub = sub
	return t, nil
}

// Send implements Transport.
func (t *NATSTransport) Send(_ context.Context, env Envelope) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}

	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := t.conn.Publish(t.subject, b); err != nil {
		return fmt.Errorf("publish %s: %w", t.subject, err)
	}
	return nil
}

// Recv implements Transport.
func (t *NATSTransport) Recv(ctx context.Context) (Envelope, error) {
	select {
	case msg := <-t.msgs:
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			return Envelope{}, fmt.Errorf("decode envelope: %w", err)
		}
		return env, nil
	case <-t.done:
		return Envelope{}, ErrTransportClosed
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

// Close unsubscribes. The connection itself is owned by the caller.
func (t *NATSTransport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.done)
		err = t.sub.Unsubscribe()
	})
	return err
}
