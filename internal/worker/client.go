package worker

import (
	"context"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/arre-reader/arre/internal/models"
	"github.com/arre-reader/arre/internal/rpc"
)

// Client is the typed proxy of a worker on the other side of a transport.
type Client struct {
	rpc *rpc.Client

	closeOnce sync.Once
	release   func() error
}

// NewClient wraps a transport whose other end serves a worker.
func NewClient(t rpc.Transport) *Client {
	return &Client{rpc: rpc.NewClient(t)}
}

// Spawn starts w behind an in-process pipe. Closing the client stops the
// server and closes w.
func Spawn(w *Worker) *Client {
	clientEnd, serverEnd := rpc.Pipe()

	srv := rpc.NewServer()
	Register(srv, w)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = srv.Serve(ctx, serverEnd)
	}()

	c := NewClient(clientEnd)
	c.release = func() error {
		cancel()
		<-served
		return w.Close()
	}
	return c
}

// DialNATS returns a client for the bus worker with the given id.
func DialNATS(conn *nats.Conn, prefix string, id int) (*Client, error) {
	t, err := rpc.NewNATSTransport(conn, Subject(prefix, id), rpc.SideClient)
	if err != nil {
		return nil, err
	}
	return NewClient(t), nil
}

// DownloadModel asks the worker to fetch voiceID.
func (c *Client) DownloadModel(ctx context.Context, voiceID string, onProgress func(models.Progress)) error {
	var opts []rpc.CallOption
	if onProgress != nil {
		opts = append(opts, rpc.WithCallback(CallbackProgress, onProgress))
	}
	return c.rpc.Call(ctx, MethodDownloadModel, downloadParams{VoiceID: voiceID}, nil, opts...)
}

// DeleteModels removes all stored models.
func (c *Client) DeleteModels(ctx context.Context) error {
	return c.rpc.Call(ctx, MethodDeleteModels, nil, nil)
}

// Voices returns the voice catalog.
func (c *Client) Voices(ctx context.Context) ([]models.Voice, error) {
	var voices []models.Voice
	err := c.rpc.Call(ctx, MethodGetVoices, nil, &voices)
	return voices, err
}

// Models returns the stored voice ids.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	var ids []string
	err := c.rpc.Call(ctx, MethodGetModels, nil, &ids)
	return ids, err
}

// Audio synthesizes text. Synthesis failures arrive as an error result;
// the error return is reserved for transport failures.
func (c *Client) Audio(ctx context.Context, text, voiceID string) (AudioResult, error) {
	var res AudioResult
	err := c.rpc.Call(ctx, MethodGetAudio, AudioRequest{Text: text, VoiceID: voiceID}, &res)
	return res, err
}

// Close disconnects from the worker, stopping it when it was spawned
// in-process.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.rpc.Close()
		if c.release != nil {
			if rerr := c.release(); err == nil {
				err = rerr
			}
		}
	})
	return err
}
