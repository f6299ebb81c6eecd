package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/rexliu/acrpc/pkg/ipc"
)

func frames(t *testing.T, msgs ...string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	for _, m := range msgs {
		if err := ipc.WriteFrame(&buf, []byte(m)); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}
	return &buf
}

func readReplies(t *testing.T, r io.Reader) []reply {
	t.Helper()
	var out []reply
	for {
		payload, err := ipc.ReadFrame(r)
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		var rep reply
		if err := json.Unmarshal(payload, &rep); err != nil {
			t.Fatalf("decode reply: %v", err)
		}
		out = append(out, rep)
	}
}

func TestServeForwardsAllowedMethods(t *testing.T) {
	var methods []string
	daemon := func(_ context.Context, method string, params json.RawMessage) (*ipc.Response, error) {
		methods = append(methods, method)
		if method == "post_message" && string(params) != `{"origin":"https://a.example"}` {
			t.Fatalf("params not forwarded: %s", params)
		}
		return &ipc.Response{OK: true, Result: json.RawMessage(`{"replies":[]}`)}, nil
	}
	in := frames(t,
		`{"id":"1","type":"post_message","data":{"origin":"https://a.example"}}`,
		`{"id":"2","type":"export"}`,
		`not json`,
	)
	var out bytes.Buffer
	if err := serve(context.Background(), in, &out, daemon); !errors.Is(err, io.EOF) {
		t.Fatalf("serve returned %v", err)
	}
	if diff := cmp.Diff([]string{"post_message"}, methods); diff != "" {
		t.Fatalf("forwarded methods mismatch (-want +got):\n%s", diff)
	}
	replies := readReplies(t, &out)
	if len(replies) != 3 {
		t.Fatalf("expected 3 replies, got %d", len(replies))
	}
	if !replies[0].OK || string(replies[0].Result) != `{"replies":[]}` {
		t.Fatalf("unexpected first reply %+v", replies[0])
	}
	if replies[1].Error == nil || replies[1].Error.Code != ipc.CodeUnknownMethod || replies[1].ID != "2" {
		t.Fatalf("expected unknown method, got %+v", replies[1])
	}
	if replies[2].Error == nil || replies[2].Error.Code != ipc.CodeInvalidRequest {
		t.Fatalf("expected invalid request, got %+v", replies[2])
	}
}

func TestServePassesDaemonErrors(t *testing.T) {
	daemon := func(context.Context, string, json.RawMessage) (*ipc.Response, error) {
		return nil, ipc.Errorf(ipc.CodeInvalidRequest, "origin, token and data required", nil)
	}
	var out bytes.Buffer
	_ = serve(context.Background(), frames(t, `{"type":"post_message"}`), &out, daemon)
	replies := readReplies(t, &out)
	if len(replies) != 1 || replies[0].OK || replies[0].Error.Message != "origin, token and data required" {
		t.Fatalf("unexpected replies %+v", replies)
	}
}
