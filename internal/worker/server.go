package worker

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/arre-reader/arre/internal/models"
	"github.com/arre-reader/arre/internal/rpc"
)

// Method names of the worker call surface.
const (
	MethodDownloadModel = "downloadModel"
	MethodDeleteModels  = "deleteModels"
	MethodGetVoices     = "getVoices"
	MethodGetModels     = "getModels"
	MethodGetAudio      = "getAudio"
)

// CallbackProgress is the callback parameter of downloadModel.
const CallbackProgress = "onProgress"

// DefaultSubjectPrefix prefixes the NATS subjects of bus workers.
const DefaultSubjectPrefix = "arre.worker"

type downloadParams struct {
	VoiceID string `json:"voiceId"`
}

// AudioRequest are the parameters of getAudio.
type AudioRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voiceId"`
}

// Register installs the handlers of w on srv.
func Register(srv *rpc.Server, w *Worker) {
	srv.Handle(MethodDownloadModel, func(ctx context.Context, req *rpc.Request) (any, error) {
		var p downloadParams
		if err := req.Decode(&p); err != nil {
			return nil, err
		}
		var onProgress func(models.Progress)
		if req.HasCallback(CallbackProgress) {
			emit := req.Callback(CallbackProgress)
			onProgress = func(pr models.Progress) { _ = emit(pr) }
		}
		return nil, w.DownloadModel(ctx, p.VoiceID, onProgress)
	})

	srv.Handle(MethodDeleteModels, func(context.Context, *rpc.Request) (any, error) {
		return nil, w.DeleteModels()
	})

	srv.Handle(MethodGetVoices, func(context.Context, *rpc.Request) (any, error) {
		return w.Voices(), nil
	})

	srv.Handle(MethodGetModels, func(context.Context, *rpc.Request) (any, error) {
		return w.Models()
	})

	srv.Handle(MethodGetAudio, func(ctx context.Context, req *rpc.Request) (any, error) {
		var p AudioRequest
		if err := req.Decode(&p); err != nil {
			return AudioResult{Type: ResultError, Message: err.Error()}, nil
		}
		return w.Audio(ctx, p.Text, p.VoiceID), nil
	})
}

// Subject returns the subject prefix of the bus worker with the given id.
func Subject(prefix string, id int) string {
	return fmt.Sprintf("%s.%d", prefix, id)
}

// ServeNATS serves w on the subjects of worker id until ctx ends.
func ServeNATS(ctx context.Context, conn *nats.Conn, prefix string, id int, w *Worker) error {
	serve, err := ListenNATS(conn, prefix, id, w)
	if err != nil {
		return err
	}
	return serve(ctx)
}

// ListenNATS subscribes to the subjects of worker id and returns the loop
// serving w on them. Requests published after ListenNATS returns are not
// lost even if the loop has not started yet.
func ListenNATS(conn *nats.Conn, prefix string, id int, w *Worker) (func(ctx context.Context) error, error) {
	t, err := rpc.NewNATSTransport(conn, Subject(prefix, id), rpc.SideServer)
	if err != nil {
		return nil, err
	}

	srv := rpc.NewServer()
	Register(srv, w)
	return func(ctx context.Context) error {
		defer t.Close() //nolint:errcheck
		return srv.Serve(ctx, t)
	}, nil
}
