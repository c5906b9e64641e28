package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type addParams struct {
	A int `json:"a"`
	B int `json:"b"`
}

type progress struct {
	Loaded int `json:"loaded"`
	Total  int `json:"total"`
}

func newTestServer() *Server {
	s := NewServer()
	s.Handle("add", func(_ context.Context, req *Request) (any, error) {
		var p addParams
		if err := req.Decode(&p); err != nil {
			return nil, err
		}
		return p.A + p.B, nil
	})
	s.Handle("fail", func(context.Context, *Request) (any, error) {
		return nil, errors.New("synthesis exploded")
	})
	s.Handle("download", func(_ context.Context, req *Request) (any, error) {
		onProgress := req.Callback("onProgress")
		for i := 1; i <= 3; i++ {
			if err := onProgress(progress{Loaded: i * 10, Total: 30}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	s.Handle("block", func(ctx context.Context, _ *Request) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	s.Handle("panic", func(context.Context, *Request) (any, error) {
		panic("worker crashed")
	})
	return s
}

// connect serves s on one end of a pipe and returns a client on the other.
func connect(t *testing.T, s *Server) *Client {
	t.Helper()
	clientEnd, serverEnd := Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx, serverEnd) }()

	c := NewClient(clientEnd)
	t.Cleanup(func() {
		_ = c.Close()
		cancel()
		if err := <-served; err != nil {
			t.Errorf("Serve returned %v", err)
		}
	})
	return c
}

func TestClient_CallRoundTrip(t *testing.T) {
	c := connect(t, newTestServer())

	var sum int
	if err := c.Call(context.Background(), "add", addParams{A: 2, B: 3}, &sum); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if sum != 5 {
		t.Errorf("sum = %d, want 5", sum)
	}
	if calls, cbs := c.Pending(); calls != 0 || cbs != 0 {
		t.Errorf("tables not cleaned: calls=%d callbacks=%d", calls, cbs)
	}
}

func TestClient_ConcurrentCallsCorrelate(t *testing.T) {
	c := connect(t, newTestServer())

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var sum int
			if err := c.Call(context.Background(), "add", addParams{A: i, B: i}, &sum); err != nil {
				errs <- err
				return
			}
			if sum != 2*i {
				errs <- fmt.Errorf("call %d got %d", i, sum)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestClient_CallbacksAreProxied(t *testing.T) {
	c := connect(t, newTestServer())

	var got []progress
	err := c.Call(context.Background(), "download", nil, nil,
		WithCallback("onProgress", func(p progress) { got = append(got, p) }))
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	// Callbacks are delivered before the response on the same stream.
	if len(got) != 3 {
		t.Fatalf("received %d progress events, want 3", len(got))
	}
	if last := got[2]; last.Loaded != 30 || last.Total != 30 {
		t.Errorf("last progress = %+v", last)
	}
	if _, cbs := c.Pending(); cbs != 0 {
		t.Errorf("callback table holds %d entries after call", cbs)
	}
}

func TestClient_SlowCallbackDoesNotBlockOtherCalls(t *testing.T) {
	c := connect(t, newTestServer())

	release := make(chan struct{})
	entered := make(chan struct{}, 3)
	var got []int
	downloaded := make(chan error, 1)
	go func() {
		downloaded <- c.Call(context.Background(), "download", nil, nil,
			WithCallback("onProgress", func(p progress) {
				entered <- struct{}{}
				<-release
				got = append(got, p.Loaded)
			}))
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("callback never ran")
	}

	// The first callback is stuck; an unrelated call must still complete.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var sum int
	if err := c.Call(ctx, "add", addParams{A: 4, B: 5}, &sum); err != nil || sum != 9 {
		t.Fatalf("add while a callback blocks = %d, %v", sum, err)
	}

	close(release)
	select {
	case err := <-downloaded:
		if err != nil {
			t.Fatalf("download failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("download did not finish after the callback was released")
	}
	if want := []int{10, 20, 30}; fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("progress = %v, want %v in order", got, want)
	}
}

func TestClient_MissingCallbackIsNoop(t *testing.T) {
	c := connect(t, newTestServer())

	if err := c.Call(context.Background(), "download", nil, nil); err != nil {
		t.Fatalf("Call without callback failed: %v", err)
	}
}

func TestClient_RemoteErrors(t *testing.T) {
	c := connect(t, newTestServer())

	tests := []struct {
		method string
		want   string
	}{
		{"fail", "synthesis exploded"},
		{"panic", "handler panicked: worker crashed"},
		{"nope", "unknown method: nope"},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			err := c.Call(context.Background(), tt.method, nil, nil)
			var remote *RemoteError
			if !errors.As(err, &remote) {
				t.Fatalf("error = %v, want RemoteError", err)
			}
			if remote.Message != tt.want {
				t.Errorf("message = %q, want %q", remote.Message, tt.want)
			}
		})
	}
}

func TestClient_CancelPropagates(t *testing.T) {
	c := connect(t, newTestServer())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := c.Call(ctx, "block", nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want DeadlineExceeded", err)
	}

	// The server-side handler observed the cancel and the server remains usable.
	var sum int
	if err := c.Call(context.Background(), "add", addParams{A: 1, B: 1}, &sum); err != nil || sum != 2 {
		t.Errorf("call after cancel = %d, %v", sum, err)
	}
}

func TestClient_CloseFailsCalls(t *testing.T) {
	clientEnd, _ := Pipe()
	c := NewClient(clientEnd)

	result := make(chan error, 1)
	go func() { result <- c.Call(context.Background(), "block", nil, nil) }()

	time.Sleep(10 * time.Millisecond)
	_ = c.Close()

	select {
	case err := <-result:
		if !errors.Is(err, ErrClientClosed) {
			t.Errorf("error = %v, want ErrClientClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("call did not fail after Close")
	}

	if err := c.Call(context.Background(), "add", nil, nil); err == nil {
		t.Error("expected error calling a closed client")
	}
}
