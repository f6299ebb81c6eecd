package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := buf.Bytes()[:4]; !bytes.Equal(got, []byte{15, 0, 0, 0}) {
		t.Fatalf("unexpected length prefix %v", got)
	}
	payload, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(payload) != `{"type":"ping"}` {
		t.Fatalf("payload = %s", payload)
	}
}

func TestReadFrameRejectsOversized(t *testing.T) {
	data := []byte{0xff, 0xff, 0xff, 0xff}
	if _, err := ReadFrame(bytes.NewReader(data)); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestDispatch(t *testing.T) {
	srv := NewServer(nil)
	srv.Register("echo", func(_ context.Context, params json.RawMessage) (any, *Error) {
		var in map[string]any
		if err := json.Unmarshal(params, &in); err != nil {
			return nil, Errorf(CodeInvalidRequest, "invalid params", nil)
		}
		return in, nil
	})

	resp := srv.Dispatch(context.Background(), []byte(`{"id":"1","type":"echo","params":{"a":1}}`))
	if !resp.OK || string(resp.Result) != `{"a":1}` || resp.ID != "1" {
		t.Fatalf("unexpected response %+v", resp)
	}
	resp = srv.Dispatch(context.Background(), []byte(`{"id":"2","type":"nope"}`))
	if resp.OK || resp.Error == nil || resp.Error.Code != CodeUnknownMethod {
		t.Fatalf("expected unknown method, got %+v", resp)
	}
	if resp.Error.Details["traceId"] != resp.TraceID {
		t.Fatalf("trace id missing from details: %+v", resp.Error)
	}
	resp = srv.Dispatch(context.Background(), []byte(`not json`))
	if resp.Error == nil || resp.Error.Code != CodeInvalidRequest {
		t.Fatalf("expected invalid request, got %+v", resp)
	}
}

func TestServerOverSocket(t *testing.T) {
	dir, err := os.MkdirTemp("", "acipc")
	if err != nil {
		t.Fatalf("temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	socket := filepath.Join(dir, "s.sock")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv := NewServer(nil)
	srv.Register("ping", func(context.Context, json.RawMessage) (any, *Error) {
		return map[string]any{"pong": true}, nil
	})
	if err := srv.Start(ctx, socket); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	info, err := os.Stat(socket)
	if err != nil {
		t.Fatalf("stat socket: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("socket mode = %o, want 600", perm)
	}

	resp, err := Call(ctx, socket, "ping", nil)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if string(resp.Result) != `{"pong":true}` {
		t.Fatalf("result = %s", resp.Result)
	}
	_, err = Call(ctx, socket, "missing", map[string]any{"x": 1})
	var ipcErr *Error
	if !errors.As(err, &ipcErr) || ipcErr.Code != CodeUnknownMethod {
		t.Fatalf("expected unknown method error, got %v", err)
	}
}
