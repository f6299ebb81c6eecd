// Package dispatch decides what the chooser does with a verified request:
// the disabled gate, silent stores, queries and the user-facing services.
package dispatch

import (
	"context"

	"github.com/samber/lo"

	"github.com/rexliu/acrpc/pkg/account"
	"github.com/rexliu/acrpc/pkg/browserconfig"
	"github.com/rexliu/acrpc/pkg/idp"
	"github.com/rexliu/acrpc/pkg/relay"
	"github.com/rexliu/acrpc/pkg/rpc"
)

// Logger is the logging surface used here.
type Logger interface {
	Printf(format string, args ...any)
}

// Dispatcher holds the chooser state every request is decided against.
type Dispatcher struct {
	Accounts *account.Store
	Config   *browserconfig.Config
	Relay    *relay.Store
	// IDP is consulted by the acEmpty query. Nil skips providers.
	IDP *idp.Aggregator
	// NewIDP builds the provider aggregator of one relay frame. Nil
	// leaves providers alone.
	NewIDP func() *idp.Aggregator
	// BootstrapDomains may store accounts without asking the user.
	BootstrapDomains []string
	UI               UI
	Logger           Logger
}

// Disabled reports whether the chooser refuses requests: the relay cannot
// persist, or the user turned it off.
func (d *Dispatcher) Disabled(ctx context.Context) (bool, error) {
	if !d.Relay.Available(ctx) {
		return true, nil
	}
	return d.Config.IsDisabled(ctx)
}

// WithIDP returns a copy of d whose acEmpty query consults a.
func (d *Dispatcher) WithIDP(a *idp.Aggregator) *Dispatcher {
	c := *d
	c.IDP = a
	return &c
}

// IsSilentStore reports whether obj is a store request asking to skip
// confirmation.
func IsSilentStore(obj rpc.Object) bool {
	req, ok := obj.(*rpc.StoreRequest)
	return ok && rpc.Truthy(req.ClientConfig()["silent"])
}

// SilentStore stores every account of req without asking, provided origin
// is a bootstrap domain.
func (d *Dispatcher) SilentStore(ctx context.Context, req *rpc.StoreRequest, origin string) (*rpc.Response, error) {
	disabled, err := d.Disabled(ctx)
	if err != nil {
		return nil, err
	}
	if disabled {
		return rpc.NewErrorResponse(req.ID, rpc.ServiceDisabledError()), nil
	}
	if !lo.Contains(d.BootstrapDomains, origin) {
		d.logf("silent store denied for %s", origin)
		return rpc.NewErrorResponse(req.ID, rpc.InvalidParamsError(origin+" is not allowed to store accounts silently.")), nil
	}
	if err := d.Accounts.Add(ctx, account.FromList(req.Accounts())...); err != nil {
		return nil, err
	}
	return rpc.NewDoneResponse(req.ID, map[string]any{"stored": true}), nil
}

// Query answers a query request. While disabled only acDisabled is
// answered.
func (d *Dispatcher) Query(ctx context.Context, req *rpc.QueryRequest) (*rpc.Response, error) {
	disabled, err := d.Disabled(ctx)
	if err != nil {
		return nil, err
	}
	if disabled && req.Query() != rpc.QueryDisabled {
		return rpc.NewErrorResponse(req.ID, rpc.ServiceDisabledError()), nil
	}
	var result bool
	switch req.Query() {
	case rpc.QueryDisabled:
		result = disabled
	case rpc.QueryEmpty:
		result, err = d.checkEmpty(ctx)
	case rpc.QueryAccountExist:
		if req.Account() == nil {
			return invalidQuery(req), nil
		}
		_, result, err = d.Accounts.Find(ctx, account.FromMap(req.Account()), account.Match)
	case rpc.QueryShouldUpdate:
		if req.Account() == nil {
			return invalidQuery(req), nil
		}
		_, result, err = d.Accounts.Find(ctx, account.FromMap(req.Account()), account.NeedsUpdate)
	default:
		return invalidQuery(req), nil
	}
	if err != nil {
		return nil, err
	}
	return rpc.NewDoneResponse(req.ID, result), nil
}

// checkEmpty reports whether the chooser has no accounts. An empty store
// that can persist is first offered the accounts of every started
// provider.
func (d *Dispatcher) checkEmpty(ctx context.Context) (bool, error) {
	empty, err := d.Accounts.IsEmpty(ctx)
	if err != nil || !empty || d.IDP == nil || !d.IDP.Started() || !d.Accounts.Available(ctx) {
		return empty, err
	}
	found, err := d.IDP.Accounts(ctx)
	if err != nil {
		return true, err
	}
	if err := d.Accounts.Add(ctx, found...); err != nil {
		return true, err
	}
	return len(found) == 0, nil
}

func invalidQuery(req *rpc.QueryRequest) *rpc.Response {
	return rpc.NewErrorResponse(req.ID, rpc.InvalidParamsError(`The query "`+req.ID+`" is invalid.`))
}

func (d *Dispatcher) logf(format string, args ...any) {
	if d.Logger != nil {
		d.Logger.Printf(format, args...)
	}
}
