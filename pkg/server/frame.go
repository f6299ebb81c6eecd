// Package server hosts the chooser side of the protocol: the hidden relay
// frame embedded by clients and the chooser page itself.
package server

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/rexliu/acrpc/pkg/dispatch"
	"github.com/rexliu/acrpc/pkg/idp"
	"github.com/rexliu/acrpc/pkg/policy"
	"github.com/rexliu/acrpc/pkg/rpc"
	"github.com/rexliu/acrpc/pkg/transport"
)

// ErrNoToken is returned when the frame URL carries no rpc token.
var ErrNoToken = errors.New("cannot find rpc token")

// Logger is the logging surface used here.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// frameKinds are the messages a client may send to the relay frame.
var frameKinds = []rpc.Kind{
	rpc.KindStore,
	rpc.KindSelect,
	rpc.KindUpdate,
	rpc.KindQuery,
	rpc.KindClientReady,
}

// FrameOptions configures a Frame.
type FrameOptions struct {
	Dispatcher *dispatch.Dispatcher
	// Parent is the embedding client window.
	Parent transport.Window
	// Fragment is the fragment the frame was loaded with. It holds the
	// rpc token, with or without the leading '#'.
	Fragment string
	// Loader loads provider frames. Nil leaves providers alone.
	Loader idp.FrameLoader
	Logger Logger
}

// Frame is the hidden relay frame. It answers queries directly and saves
// every other request for the chooser page.
type Frame struct {
	d      *dispatch.Dispatcher
	parent transport.Window
	token  string
	loader idp.FrameLoader
	log    Logger
	mux    transport.Mux

	ctx context.Context
	wg  sync.WaitGroup
}

// NewFrame reads the token from opts.Fragment.
func NewFrame(opts FrameOptions) (*Frame, error) {
	token := strings.TrimPrefix(opts.Fragment, "#")
	if token == "" {
		return nil, ErrNoToken
	}
	f := &Frame{
		d:      opts.Dispatcher,
		parent: opts.Parent,
		token:  token,
		loader: opts.Loader,
		log:    opts.Logger,
	}
	if f.log == nil {
		f.log = nopLogger{}
	}
	return f, nil
}

// Token returns the channel token.
func (f *Frame) Token() string { return f.token }

// Start registers the client policy and, when no account is stored,
// starts a provider aggregator owned by this frame.
func (f *Frame) Start(ctx context.Context) error {
	f.ctx = ctx
	providers, err := f.providers(ctx)
	if err != nil {
		return err
	}
	if providers != nil {
		f.d = f.d.WithIDP(providers)
	}
	gate := &policy.Policy{
		Window:     f.parent,
		Acceptable: frameKinds,
		Handler:    f.process,
		Token:      f.token,
		Logger:     f.log,
	}
	f.mux.Add(gate.Listener(f.rejectInvalid))
	if providers == nil {
		return nil
	}
	return providers.Start(ctx, f.loader, &f.mux)
}

func (f *Frame) providers(ctx context.Context) (*idp.Aggregator, error) {
	if f.d.NewIDP == nil || f.loader == nil {
		return nil, nil
	}
	empty, err := f.d.Accounts.IsEmpty(ctx)
	if err != nil || !empty {
		return nil, err
	}
	return f.d.NewIDP(), nil
}

// Handle receives every message posted to the frame window.
func (f *Frame) Handle(ev transport.Event) {
	f.mux.Handle(ev)
}

// Wait blocks until every query in flight has been answered.
func (f *Frame) Wait() {
	f.wg.Wait()
}

func (f *Frame) process(obj rpc.Object, origin string) {
	ctx := f.ctx
	switch req := obj.(type) {
	case *rpc.ClientReadyNotification:
		f.flushSaved(ctx, origin)
	case *rpc.QueryRequest:
		// acEmpty may wait on providers whose answers arrive on this
		// same channel.
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			resp, err := f.d.Query(ctx, req)
			f.reply(origin, resp, err)
		}()
	case *rpc.StoreRequest:
		if dispatch.IsSilentStore(req) {
			resp, err := f.d.SilentStore(ctx, req, origin)
			f.reply(origin, resp, err)
			return
		}
		f.saveAndAck(ctx, req, origin)
	case rpc.ClientRequest:
		f.saveAndAck(ctx, req, origin)
	}
}

func (f *Frame) flushSaved(ctx context.Context, origin string) {
	raw, ok, err := f.d.Relay.LoadOutgoing(ctx, origin)
	if err != nil {
		f.log.Printf("load saved response for %s: %v", origin, err)
	}
	var out rpc.Object = rpc.NewEmptyResponseNotification()
	if ok {
		if saved := rpc.ParseObject(raw, rpc.KindResponse); saved != nil {
			out = saved
		}
	}
	f.send(origin, out)
}

// saveAndAck hands req to the chooser page through the relay. The page
// produces the disabled error itself, since only it knows where the
// client wants the answer delivered.
func (f *Frame) saveAndAck(ctx context.Context, req rpc.ClientRequest, origin string) {
	if !f.d.Relay.Available(ctx) {
		f.reply(origin, rpc.NewErrorResponse(req.RequestID(), rpc.ServiceDisabledError()), nil)
		return
	}
	req.Metadata().RemoveToken()
	if err := f.d.Relay.SaveIncoming(ctx, origin, req); err != nil {
		f.log.Printf("save request %s from %s: %v", req.RequestID(), origin, err)
		f.reply(origin, rpc.NewErrorResponse(req.RequestID(), rpc.ServiceDisabledError()), nil)
		return
	}
	f.send(origin, rpc.NewRequestAckNotification(req.RequestID()))
}

func (f *Frame) rejectInvalid(verr *policy.ValidationError) {
	id := verr.RequestID()
	if id == "" {
		f.log.Printf("drop invalid notification from %s: %v", verr.Origin, verr.Err)
		return
	}
	f.send(verr.Origin, rpc.NewErrorResponse(id, rpc.InvalidParamsError(verr.Err.Error())))
}

func (f *Frame) reply(origin string, resp *rpc.Response, err error) {
	if err != nil {
		f.log.Printf("answer %s: %v", origin, err)
		return
	}
	f.send(origin, resp)
}

func (f *Frame) send(origin string, obj rpc.Object) {
	if err := rpc.Call(f.parent, obj, origin, f.token); err != nil {
		f.log.Printf("post to %s: %v", origin, err)
	}
}
