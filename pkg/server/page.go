package server

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/rexliu/acrpc/pkg/dispatch"
	"github.com/rexliu/acrpc/pkg/policy"
	"github.com/rexliu/acrpc/pkg/relay"
	"github.com/rexliu/acrpc/pkg/rpc"
	"github.com/rexliu/acrpc/pkg/transport"
)

// Mode is how the chooser page was opened.
type Mode int

const (
	// ModeRedirect pages replay the request saved by the relay frame.
	ModeRedirect Mode = iota
	// ModePopup pages receive the request from their opener.
	ModePopup
)

// DefaultHomeURL is where a redirect page with nothing to serve goes.
const DefaultHomeURL = "index.html"

// Outcome reports what Start did.
type Outcome int

const (
	// Listening means a popup page is waiting for its opener.
	Listening Outcome = iota
	// Replayed means a saved request was served.
	Replayed
	// NoSavedRequest means nothing was saved for the client domain.
	NoSavedRequest
	// InvalidDomain means the URL fragment named no client domain.
	InvalidDomain
)

func (o Outcome) String() string {
	switch o {
	case Listening:
		return "listening"
	case Replayed:
		return "replayed"
	case NoSavedRequest:
		return "no saved request"
	case InvalidDomain:
		return "invalid client domain"
	}
	return "unknown"
}

// pageKinds are the requests a popup opener may send.
var pageKinds = []rpc.Kind{
	rpc.KindStore,
	rpc.KindSelect,
	rpc.KindUpdate,
	rpc.KindBootstrap,
}

// Navigator controls the chooser window.
type Navigator interface {
	Navigate(ctx context.Context, url string) error
	Close(ctx context.Context) error
}

// PageOptions configures a Page.
type PageOptions struct {
	Dispatcher *dispatch.Dispatcher
	Mode       Mode
	// Opener is the client window of a popup page.
	Opener transport.Window
	// Fragment is the fragment of a redirect page: the client domain.
	Fragment  string
	Navigator Navigator
	HomeURL   string
	Logger    Logger
}

// Page is the visible chooser. It serves one request at a time and
// returns the answer to the client.
type Page struct {
	d       *dispatch.Dispatcher
	mode    Mode
	opener  transport.Window
	domain  string
	nav     Navigator
	homeURL string
	log     Logger
	mux     transport.Mux

	ctx context.Context
	wg  sync.WaitGroup

	mu           sync.Mutex
	clientOrigin string
}

// NewPage returns an idle page.
func NewPage(opts PageOptions) *Page {
	p := &Page{
		d:       opts.Dispatcher,
		mode:    opts.Mode,
		opener:  opts.Opener,
		domain:  strings.TrimPrefix(opts.Fragment, "#"),
		nav:     opts.Navigator,
		homeURL: opts.HomeURL,
		log:     opts.Logger,
	}
	if p.homeURL == "" {
		p.homeURL = DefaultHomeURL
	}
	if p.log == nil {
		p.log = nopLogger{}
	}
	return p
}

// Start begins serving. A popup page registers its opener policy and
// announces itself; a redirect page replays the saved request, or goes
// home when there is none.
func (p *Page) Start(ctx context.Context) (Outcome, error) {
	p.ctx = ctx
	if p.mode == ModePopup {
		if p.opener == nil {
			return Listening, errors.New("popup page without opener")
		}
		gate := &policy.Policy{
			Window:     p.opener,
			Acceptable: pageKinds,
			Handler:    p.onRequest,
			Logger:     p.log,
		}
		p.mux.Add(gate.Listener(p.rejectInvalid))
		return Listening, rpc.Call(p.opener, rpc.NewServerReadyNotification(), transport.AnyOrigin, "")
	}

	outcome, err := p.replay(ctx)
	if err != nil || outcome == Replayed {
		return outcome, err
	}
	p.log.Printf("nothing to serve: %s", outcome)
	return outcome, p.nav.Navigate(ctx, p.homeURL)
}

func (p *Page) replay(ctx context.Context) (Outcome, error) {
	if p.domain == "" {
		return InvalidDomain, nil
	}
	p.setClientOrigin(p.domain)
	raw, ok, err := p.d.Relay.RecoverIncoming(ctx, p.domain)
	if err != nil || !ok {
		return NoSavedRequest, err
	}
	req, ok := rpc.ParseObject(raw, pageKinds...).(rpc.ClientRequest)
	if !ok {
		p.log.Printf("drop unrecognized saved request for %s", p.domain)
		return NoSavedRequest, nil
	}
	return Replayed, p.d.Serve(ctx, req, p.domain, &pageResponder{page: p, req: req})
}

// Handle receives every message posted to the popup window.
func (p *Page) Handle(ev transport.Event) {
	p.mux.Handle(ev)
}

// Wait blocks until the request in flight has been answered.
func (p *Page) Wait() {
	p.wg.Wait()
}

// Manage opens account management. It never answers a client.
func (p *Page) Manage(ctx context.Context) error {
	return p.d.Serve(ctx, rpc.NewManageRequest(rpc.NewRequestID(), nil), p.ClientOrigin(), &pageResponder{page: p})
}

// About opens the about page. It never answers a client.
func (p *Page) About(ctx context.Context) error {
	return p.d.Serve(ctx, rpc.NewAboutRequest(rpc.NewRequestID(), nil), p.ClientOrigin(), &pageResponder{page: p})
}

// ClientOrigin returns the origin (popup) or domain (redirect) answers go to.
func (p *Page) ClientOrigin() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clientOrigin
}

func (p *Page) setClientOrigin(origin string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientOrigin = origin
}

func (p *Page) onRequest(obj rpc.Object, origin string) {
	req, ok := obj.(rpc.ClientRequest)
	if !ok {
		return
	}
	p.setClientOrigin(origin)
	ctx := p.ctx
	// Services wait on the user.
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.d.Serve(ctx, req, origin, &pageResponder{page: p, req: req}); err != nil {
			p.log.Printf("serve %s from %s: %v", req.Method(), origin, err)
		}
	}()
}

func (p *Page) rejectInvalid(verr *policy.ValidationError) {
	req, ok := verr.Object.(rpc.ClientRequest)
	if !ok {
		return
	}
	p.setClientOrigin(verr.Origin)
	resp := rpc.NewErrorResponse(req.RequestID(), rpc.InvalidParamsError(verr.Err.Error()))
	if err := p.returnToClient(p.ctx, resp, req.Params().Map("clientConfig")); err != nil {
		p.log.Printf("reject %s: %v", req.RequestID(), err)
	}
}

// returnToClient delivers resp and leaves the chooser: a redirect page
// goes back to the client callback, a popup closes unless asked to stay.
func (p *Page) returnToClient(ctx context.Context, resp *rpc.Response, clientConfig rpc.Params) error {
	origin := p.ClientOrigin()
	if origin == "" {
		return errors.New("can not find client domain")
	}
	if p.mode == ModePopup {
		if err := rpc.Call(p.opener, resp, origin, ""); err != nil {
			return errors.Wrapf(err, "post response to %s", origin)
		}
		if clientConfig.Bool("keepPopup") {
			return nil
		}
		return p.nav.Close(ctx)
	}
	if err := p.d.Relay.SaveOutgoing(ctx, relay.Domain(origin), resp); err != nil {
		return err
	}
	callback := clientConfig.String("clientCallbackUrl")
	if callback == "" {
		return errors.Errorf("request %s has no client callback url", resp.ID)
	}
	return p.nav.Navigate(ctx, callback)
}

type pageResponder struct {
	page *Page
	req  rpc.ClientRequest
}

// Done and Fail are no-ops for pages opened without a request.
func (r *pageResponder) Done(ctx context.Context, result any) error {
	if r.req == nil {
		return nil
	}
	return r.respond(ctx, rpc.NewDoneResponse(r.req.RequestID(), result))
}

func (r *pageResponder) Fail(ctx context.Context, rpcErr *rpc.Error) error {
	if r.req == nil {
		return nil
	}
	return r.respond(ctx, rpc.NewErrorResponse(r.req.RequestID(), rpcErr))
}

func (r *pageResponder) Redirect(ctx context.Context, url string) error {
	return r.page.nav.Navigate(ctx, url)
}

func (r *pageResponder) respond(ctx context.Context, resp *rpc.Response) error {
	return r.page.returnToClient(ctx, resp, r.req.Params().Map("clientConfig"))
}
