// Package idp pulls accounts from identity provider frames so an empty
// chooser can be bootstrapped.
package idp

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/rexliu/acrpc/pkg/account"
	"github.com/rexliu/acrpc/pkg/policy"
	"github.com/rexliu/acrpc/pkg/rpc"
	"github.com/rexliu/acrpc/pkg/transport"
	"github.com/rexliu/acrpc/pkg/validate"
)

// DefaultTimeout bounds how long callers wait for providers.
const DefaultTimeout = 500 * time.Millisecond

const maxEndpointLength = 2048

// Logger is the logging surface used here.
type Logger interface {
	Printf(format string, args ...any)
}

// FrameLoader loads a hidden child frame and returns a handle to it once
// its document is ready.
type FrameLoader interface {
	LoadFrame(ctx context.Context, url string) (transport.Window, error)
}

// Provider is one validated endpoint and the token of its channel.
type Provider struct {
	Endpoint *url.URL
	Token    string
}

// Origin returns scheme://host of the endpoint.
func (p Provider) Origin() string {
	return p.Endpoint.Scheme + "://" + p.Endpoint.Host
}

// FrameURL is the endpoint with the chooser origin in the query and the
// channel token in the fragment.
func (p Provider) FrameURL(chooserOrigin string) string {
	u := *p.Endpoint
	q := u.Query()
	q.Set("origin", chooserOrigin)
	u.RawQuery = q.Encode()
	u.Fragment = "rpcToken=" + p.Token
	return u.String()
}

// Options configures an Aggregator.
type Options struct {
	Endpoints     []string
	AllowNonHTTPS bool
	Timeout       time.Duration
	// ChooserOrigin is passed to providers so they can check the caller.
	ChooserOrigin string
	Clock         clock.Clock
	Logger        Logger
}

// Aggregator fires one GetIdpAccounts request per provider and collects
// their accounts. Waiters are released once every provider answered or
// the timeout fires, whichever is first. Answers arriving later are kept
// for subsequent callers.
type Aggregator struct {
	providers     []Provider
	timeout       time.Duration
	chooserOrigin string
	clock         clock.Clock
	log           Logger

	mu       sync.Mutex
	pending  map[string]struct{}
	accounts []account.Account
	started  bool

	release  sync.Once
	released chan struct{}
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// New validates opts.Endpoints and returns an idle Aggregator. Invalid
// endpoints are logged and skipped.
func New(opts Options) *Aggregator {
	a := &Aggregator{
		timeout:       opts.Timeout,
		chooserOrigin: opts.ChooserOrigin,
		clock:         opts.Clock,
		log:           opts.Logger,
		pending:       make(map[string]struct{}),
		released:      make(chan struct{}),
	}
	if a.timeout <= 0 {
		a.timeout = DefaultTimeout
	}
	if a.clock == nil {
		a.clock = clock.New()
	}
	if a.log == nil {
		a.log = nopLogger{}
	}
	check := validate.URL{MaxLength: maxEndpointLength, HTTPSOnly: !opts.AllowNonHTTPS}
	for _, raw := range opts.Endpoints {
		if _, err := check.Validate(raw); err != nil {
			a.log.Printf("invalid idp endpoint %s: %v", raw, err)
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			a.log.Printf("invalid idp endpoint %s: %v", raw, err)
			continue
		}
		a.providers = append(a.providers, Provider{Endpoint: u, Token: rpc.NewToken()})
	}
	return a
}

// Providers returns the accepted providers.
func (a *Aggregator) Providers() []Provider {
	return append([]Provider(nil), a.providers...)
}

// Start loads every provider frame, registers a Response-only policy for
// it on mux and sends the request. It arms the timeout and returns once
// every request is sent. A provider that fails to load is logged and left
// to the timeout.
func (a *Aggregator) Start(ctx context.Context, loader FrameLoader, mux *transport.Mux) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return errors.New("idp: aggregator already started")
	}
	a.started = true
	requests := make([]*rpc.GetIdpAccountsRequest, len(a.providers))
	for i := range a.providers {
		requests[i] = rpc.NewGetIdpAccountsRequest(rpc.NewRequestID())
		a.pending[requests[i].ID] = struct{}{}
	}
	a.mu.Unlock()

	if len(a.providers) == 0 {
		a.releaseWaiters()
		return nil
	}
	a.clock.AfterFunc(a.timeout, func() {
		a.log.Printf("idp timeout after %s", a.timeout)
		a.releaseWaiters()
	})

	for i, p := range a.providers {
		w, err := loader.LoadFrame(ctx, p.FrameURL(a.chooserOrigin))
		if err != nil {
			a.log.Printf("load idp frame %s: %v", p.Origin(), err)
			continue
		}
		gate := &policy.Policy{
			Window:     w,
			Acceptable: []rpc.Kind{rpc.KindResponse},
			Handler:    a.onResponse,
			Token:      p.Token,
			Origin:     p.Origin(),
			Logger:     a.log,
		}
		mux.Add(gate.Listener(nil))
		if err := rpc.Call(w, requests[i], p.Origin(), p.Token); err != nil {
			a.log.Printf("send idp request to %s: %v", p.Origin(), err)
		}
	}
	return nil
}

func (a *Aggregator) onResponse(obj rpc.Object, origin string) {
	resp, ok := obj.(*rpc.Response)
	if !ok {
		return
	}
	a.mu.Lock()
	if _, ok := a.pending[resp.ID]; !ok {
		a.mu.Unlock()
		return
	}
	delete(a.pending, resp.ID)
	if list, ok := resp.Result.([]any); ok {
		a.accounts = append(a.accounts, accepted(list, origin, a.log)...)
	} else {
		a.log.Printf("bad idp response from %s", origin)
	}
	done := len(a.pending) == 0
	a.mu.Unlock()
	// A provider that answered badly still counts as answered.
	if done {
		a.releaseWaiters()
	}
}

// accepted keeps the items that pass the account schema.
func accepted(list []any, origin string, log Logger) []account.Account {
	valid := lo.Filter(list, func(item any, i int) bool {
		if _, err := validate.AccountSchema.Validate(item); err != nil {
			log.Printf("drop idp account %d from %s: %v", i, origin, err)
			return false
		}
		return true
	})
	return account.FromList(valid)
}

// Started reports whether Start was called.
func (a *Aggregator) Started() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.started
}

func (a *Aggregator) releaseWaiters() {
	a.release.Do(func() { close(a.released) })
}

// Released is closed once waiters may proceed.
func (a *Aggregator) Released() <-chan struct{} {
	return a.released
}

// Accounts blocks until the aggregator is released, then returns every
// account collected so far.
func (a *Aggregator) Accounts(ctx context.Context) ([]account.Account, error) {
	select {
	case <-a.released:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]account.Account(nil), a.accounts...), nil
}
