package ipc

import (
	"context"
	"encoding/json"
	"net"

	"github.com/pkg/errors"

	"github.com/rexliu/acrpc/pkg/rpc"
)

// Call sends one request to the daemon at socketPath and returns its
// response. A daemon-side failure is returned as *Error.
func Call(ctx context.Context, socketPath, method string, params any) (*Response, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", socketPath)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	req := Request{ID: "cli-" + rpc.NewRequestID(), Type: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, errors.Wrap(err, "encode params")
		}
		req.Params = raw
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if err := WriteFrame(conn, payload); err != nil {
		return nil, err
	}
	respBytes, err := ReadFrame(conn)
	if err != nil {
		return nil, err
	}
	var resp Response
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return nil, errors.Wrap(err, "decode response")
	}
	if resp.Error != nil {
		return &resp, resp.Error
	}
	return &resp, nil
}
