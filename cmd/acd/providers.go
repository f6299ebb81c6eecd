package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/rexliu/acrpc/pkg/ipc"
	"github.com/rexliu/acrpc/pkg/transport"
)

// providerLoader opens provider frames on a session bus. A frame forwards
// each message from the chooser to the provider endpoint as an HTTP POST
// and posts the response body back, so the endpoint answers with a
// JSON-RPC response carrying the request id and rpcToken.
type providerLoader struct {
	bus    *transport.Bus
	frame  *transport.Endpoint
	client *http.Client
	logger ipc.Logger

	mu      sync.Mutex
	windows []*transport.Endpoint
}

func (l *providerLoader) LoadFrame(ctx context.Context, raw string) (transport.Window, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "parse provider url")
	}
	origin := u.Scheme + "://" + u.Host
	// The token travels inside every message.
	u.Fragment = ""
	target := u.String()

	l.mu.Lock()
	ep := l.bus.Open(fmt.Sprintf("idp-%d", len(l.windows)), origin)
	l.windows = append(l.windows, ep)
	l.mu.Unlock()

	// Runs inside Drain, so the reply is queued before the drain ends.
	ep.Listen(func(ev transport.Event) {
		body, err := l.fetch(ctx, target, ev.Data)
		if err != nil {
			l.logf("idp %s: %v", origin, err)
			return
		}
		if err := ev.Source.PostMessage(body, ev.Origin); err != nil {
			l.logf("idp %s reply: %v", origin, err)
		}
	})
	return ep.Ref(l.frame), nil
}

func (l *providerLoader) fetch(ctx context.Context, target, data string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(data))
	if err != nil {
		return "", errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := l.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "post")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMessageBody))
	if err != nil {
		return "", errors.Wrap(err, "read body")
	}
	return string(body), nil
}

func (l *providerLoader) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ep := range l.windows {
		ep.Close()
	}
	l.windows = nil
}

func (l *providerLoader) logf(format string, v ...any) {
	if l.logger != nil {
		l.logger.Printf(format, v...)
	}
}
