package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/rexliu/acrpc/pkg/dispatch"
	"github.com/rexliu/acrpc/pkg/idp"
	"github.com/rexliu/acrpc/pkg/ipc"
	"github.com/rexliu/acrpc/pkg/rpc"
	"github.com/rexliu/acrpc/pkg/server"
	"github.com/rexliu/acrpc/pkg/transport"
)

// session pairs one client page with the relay frame it embedded. The
// token is the one the client put in the frame URL.
type session struct {
	token  string
	origin string

	mu        sync.Mutex
	bus       *transport.Bus
	client    *transport.Endpoint
	frameEP   *transport.Endpoint
	frame     *server.Frame
	providers *providerLoader
	outbox    []string
	lastSeen  time.Time
}

// post delivers data from the client page to the frame and returns what
// the frame posted back.
func (s *session) post(data string, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = now
	if err := s.frameEP.Ref(s.client).PostMessage(data, transport.AnyOrigin); err != nil {
		return nil, err
	}
	s.bus.Drain()
	// Queries answer from goroutines.
	s.frame.Wait()
	s.bus.Drain()
	replies := s.outbox
	s.outbox = nil
	return replies, nil
}

// sessionHub tracks the relay frames opened on behalf of client pages.
type sessionHub struct {
	d       *dispatch.Dispatcher
	chooser string
	idle    time.Duration
	clock   clock.Clock
	http    *http.Client
	logger  ipc.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

func newSessionHub(d *dispatch.Dispatcher, chooserOrigin string, idle, idpTimeout time.Duration, logger ipc.Logger) *sessionHub {
	return &sessionHub{
		d:        d,
		chooser:  chooserOrigin,
		idle:     idle,
		clock:    clock.New(),
		http:     &http.Client{Timeout: idpTimeout},
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

// open returns the session for token, starting a frame for it when the
// client has not been seen before. A token reused from another origin is
// rejected.
func (h *sessionHub) open(ctx context.Context, origin, token string) (*session, error) {
	if token == "" {
		return nil, server.ErrNoToken
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[token]; ok {
		if s.origin != origin {
			return nil, errors.New("token belongs to another origin")
		}
		return s, nil
	}

	bus := transport.NewBus()
	s := &session{
		token:    token,
		origin:   origin,
		bus:      bus,
		client:   bus.Open("client-"+token, origin),
		frameEP:  bus.Open("frame-"+token, h.chooser),
		lastSeen: h.clock.Now(),
	}
	s.client.Listen(func(ev transport.Event) {
		s.outbox = append(s.outbox, ev.Data)
	})
	var loader idp.FrameLoader
	if h.d.NewIDP != nil {
		s.providers = &providerLoader{bus: bus, frame: s.frameEP, client: h.http, logger: h.logger}
		loader = s.providers
	}
	frame, err := server.NewFrame(server.FrameOptions{
		Dispatcher: h.d,
		Parent:     s.client.Ref(s.frameEP),
		Fragment:   token,
		Loader:     loader,
		Logger:     h.logger,
	})
	if err != nil {
		return nil, err
	}
	// Frames outlive the request that opened them.
	if err := frame.Start(context.WithoutCancel(ctx)); err != nil {
		return nil, errors.Wrap(err, "start frame")
	}
	s.frame = frame
	s.frameEP.Listen(frame.Handle)
	h.sessions[token] = s
	h.logf("opened frame for %s", origin)
	return s, nil
}

// post routes one message from a client page.
func (h *sessionHub) post(ctx context.Context, origin, token, data string) ([]string, error) {
	s, err := h.open(ctx, origin, token)
	if err != nil {
		return nil, err
	}
	return s.post(data, h.clock.Now())
}

// prune closes sessions idle for longer than the relay expiry.
func (h *sessionHub) prune() int {
	cutoff := h.clock.Now().Add(-h.idle)
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for token, s := range h.sessions {
		s.mu.Lock()
		idle := s.lastSeen.Before(cutoff)
		s.mu.Unlock()
		if !idle {
			continue
		}
		s.client.Close()
		s.frameEP.Close()
		if s.providers != nil {
			s.providers.close()
		}
		delete(h.sessions, token)
		n++
	}
	return n
}

func (h *sessionHub) pruneLoop(ctx context.Context, every time.Duration) {
	ticker := h.clock.Ticker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := h.prune(); n > 0 {
				h.logf("closed %d idle frames", n)
			}
		}
	}
}

func (h *sessionHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func (h *sessionHub) logf(format string, v ...any) {
	if h.logger != nil {
		h.logger.Printf(format, v...)
	}
}

// withToken sets rpcToken on a raw message unless it already has one.
func withToken(data, token string) (string, error) {
	raw, err := rpc.Decode(data)
	if err != nil {
		return "", err
	}
	if t, _ := raw["rpcToken"].(string); t != "" {
		return data, nil
	}
	raw["rpcToken"] = token
	obj := rpc.ParseObject(raw, rpc.KindStore, rpc.KindSelect, rpc.KindUpdate, rpc.KindQuery, rpc.KindClientReady)
	if obj == nil {
		return "", errors.New("unsupported message")
	}
	return rpc.Encode(obj)
}
