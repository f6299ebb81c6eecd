// Command acbridge is a native messaging host: it relays messages from a
// browser extension to the chooser daemon.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rexliu/acrpc/pkg/config"
	"github.com/rexliu/acrpc/pkg/ipc"
)

// message is the native messaging envelope.
type message struct {
	ID   string          `json:"id,omitempty"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type reply struct {
	ID     string          `json:"id,omitempty"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ipc.Error      `json:"error,omitempty"`
}

// forwarded lists the daemon methods an extension may reach.
var forwarded = map[string]bool{
	"ping":         true,
	"post_message": true,
}

type caller func(ctx context.Context, method string, params json.RawMessage) (*ipc.Response, error)

func main() {
	profile := flag.String("profile", "./_dev_profile", "Path to profile directory")
	socket := flag.String("socket", "", "Override IPC socket path (optional)")
	flag.Parse()

	socketPath := *socket
	if socketPath == "" {
		cfg, err := config.LoadProfile(*profile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bridge exiting: %v\n", err)
			os.Exit(1)
		}
		socketPath = cfg.IPC.SocketPath
	}
	daemon := func(ctx context.Context, method string, params json.RawMessage) (*ipc.Response, error) {
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		return ipc.Call(ctx, socketPath, method, params)
	}
	if err := serve(context.Background(), os.Stdin, os.Stdout, daemon); err != nil && err != io.EOF {
		fmt.Fprintf(os.Stderr, "bridge exiting: %v\n", err)
		os.Exit(1)
	}
}

// serve relays frames from r to the daemon until r is exhausted. Replies
// are written to w in request order.
func serve(ctx context.Context, r io.Reader, w io.Writer, daemon caller) error {
	reader := bufio.NewReader(r)
	writer := bufio.NewWriter(w)
	for {
		payload, err := ipc.ReadFrame(reader)
		if err != nil {
			return err
		}
		out, err := json.Marshal(handle(ctx, payload, daemon))
		if err != nil {
			return err
		}
		if err := ipc.WriteFrame(writer, out); err != nil {
			return err
		}
		if err := writer.Flush(); err != nil {
			return err
		}
	}
}

func handle(ctx context.Context, payload []byte, daemon caller) reply {
	var msg message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return reply{Error: ipc.Errorf(ipc.CodeInvalidRequest, "invalid message", nil)}
	}
	if !forwarded[msg.Type] {
		return reply{ID: msg.ID, Error: ipc.Errorf(ipc.CodeUnknownMethod, "unknown method", map[string]any{"method": msg.Type})}
	}
	resp, err := daemon(ctx, msg.Type, msg.Data)
	if err != nil {
		if ipcErr, ok := err.(*ipc.Error); ok {
			return reply{ID: msg.ID, Error: ipcErr}
		}
		fmt.Fprintf(os.Stderr, "daemon call failed: %v\n", err)
		return reply{ID: msg.ID, Error: ipc.Errorf(ipc.CodeInternal, "daemon unavailable", nil)}
	}
	return reply{ID: msg.ID, OK: true, Result: resp.Result}
}
