package rpc

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/arre-reader/arre/internal/bus"
)

func TestNATSTransport_CallWithCallbacks(t *testing.T) {
	srv, err := bus.StartEmbedded("", -1)
	if err != nil {
		t.Fatalf("StartEmbedded failed: %v", err)
	}
	defer srv.Shutdown()

	conn, err := bus.Connect(bus.Config{Servers: []string{srv.ClientURL()}})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Close()

	serverEnd, err := NewNATSTransport(conn.Conn(), "arre.test.worker.0", SideServer)
	if err != nil {
		t.Fatalf("server transport: %v", err)
	}
	clientEnd, err := NewNATSTransport(conn.Conn(), "arre.test.worker.0", SideClient)
	if err != nil {
		t.Fatalf("client transport: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = newTestServer().Serve(ctx, serverEnd) }()

	c := NewClient(clientEnd)
	defer c.Close()

	callCtx, callCancel := context.WithTimeout(ctx, 5*time.Second)
	defer callCancel()

	var sum int
	if err := c.Call(callCtx, "add", addParams{A: 20, B: 22}, &sum); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if sum != 42 {
		t.Errorf("sum = %d, want 42", sum)
	}

	events := 0
	if err := c.Call(callCtx, "download", nil, nil,
		WithCallback("onProgress", func(progress) { events++ })); err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if events != 3 {
		t.Errorf("progress events = %d, want 3", events)
	}
}

func TestNATSTransport_OversizedReplyFailsFast(t *testing.T) {
	srv, err := bus.StartEmbedded("", -1)
	if err != nil {
		t.Fatalf("StartEmbedded failed: %v", err)
	}
	defer srv.Shutdown()

	conn, err := bus.Connect(bus.Config{Servers: []string{srv.ClientURL()}})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Close()

	serverEnd, err := NewNATSTransport(conn.Conn(), "arre.test.worker.1", SideServer)
	if err != nil {
		t.Fatalf("server transport: %v", err)
	}
	clientEnd, err := NewNATSTransport(conn.Conn(), "arre.test.worker.1", SideClient)
	if err != nil {
		t.Fatalf("client transport: %v", err)
	}

	huge := strings.Repeat("a", int(conn.Conn().MaxPayload())+1024)
	s := NewServer()
	s.Handle("getAudio", func(context.Context, *Request) (any, error) {
		return huge, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Serve(ctx, serverEnd) }()

	c := NewClient(clientEnd)
	defer c.Close()

	callCtx, callCancel := context.WithTimeout(ctx, 5*time.Second)
	defer callCancel()

	start := time.Now()
	var out string
	err = c.Call(callCtx, "getAudio", nil, &out)

	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("Call error = %v, want a RemoteError", err)
	}
	if remote.Method != "getAudio" {
		t.Errorf("RemoteError.Method = %q, want getAudio", remote.Method)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Call took %v, want it to fail before the deadline", elapsed)
	}
}
