package dispatch

import (
	"context"

	"github.com/samber/lo"

	"github.com/rexliu/acrpc/pkg/account"
	"github.com/rexliu/acrpc/pkg/rpc"
)

// UI asks the user. It only decides; the services persist and respond.
type UI interface {
	ConfirmStore(ctx context.Context, origin string, accounts []account.Account) (bool, error)
	ConfirmUpdate(ctx context.Context, origin string, acct account.Account) (bool, error)
	ConfirmBootstrap(ctx context.Context, origin, domain string, accounts []account.Account) (bool, error)
	// Select returns the chosen account, or false when the user wants to
	// add a new one.
	Select(ctx context.Context, origin string, qualified, rest []account.Account) (account.Account, bool, error)
	// Manage returns the accounts the user removed.
	Manage(ctx context.Context, accounts []account.Account) ([]account.Account, error)
	About(ctx context.Context, accounts []account.Account, disabled bool) error
}

// Responder delivers the outcome of one request. A service calls exactly
// one method, except Manage and About which never answer.
type Responder interface {
	Done(ctx context.Context, result any) error
	Fail(ctx context.Context, rpcErr *rpc.Error) error
	Redirect(ctx context.Context, url string) error
}

type serviceFunc func(ctx context.Context, d *Dispatcher, req rpc.ClientRequest, origin string, r Responder) error

type service struct {
	run serviceFunc
	// ungated services run while the chooser is disabled.
	ungated bool
}

// services maps a wire method to the service that handles it on the page.
var services = map[string]service{
	rpc.MethodStore:     {run: storeService},
	rpc.MethodSelect:    {run: selectService},
	rpc.MethodUpdate:    {run: updateService},
	rpc.MethodBootstrap: {run: bootstrapService},
	rpc.MethodManage:    {run: manageService, ungated: true},
	rpc.MethodAbout:     {run: aboutService, ungated: true},
}

// HasService reports whether method is served by Serve.
func HasService(method string) bool {
	_, ok := services[method]
	return ok
}

// Serve runs the service registered for req.
func (d *Dispatcher) Serve(ctx context.Context, req rpc.ClientRequest, origin string, r Responder) error {
	svc, ok := services[req.Method()]
	if !ok {
		return r.Fail(ctx, rpc.MethodNotFoundError("Unimplemented '"+req.Method()+"' service."))
	}
	if !svc.ungated {
		disabled, err := d.Disabled(ctx)
		if err != nil {
			return err
		}
		if disabled {
			return r.Fail(ctx, rpc.ServiceDisabledError())
		}
	}
	d.logf("serve %s from %s", req.Method(), origin)
	return svc.run(ctx, d, req, origin, r)
}

// expect narrows req, answering InvalidRequest on a mismatch.
func expect[T rpc.ClientRequest](ctx context.Context, req rpc.ClientRequest, method string, r Responder) (T, bool, error) {
	typed, ok := req.(T)
	if !ok {
		err := r.Fail(ctx, rpc.InvalidRequestError("Error request type: expect type is {"+method+"}."))
		return typed, false, err
	}
	return typed, true, nil
}

// respond answers positive or negative, preferring the direct callback
// URLs of clientConfig when present.
func respond(ctx context.Context, r Responder, clientConfig rpc.Params, positive bool, result any) error {
	key := "negativeCallbackUrl"
	if positive {
		key = "positiveCallbackUrl"
	}
	if url := clientConfig.String(key); url != "" {
		return r.Redirect(ctx, url)
	}
	return r.Done(ctx, result)
}

func storeService(ctx context.Context, d *Dispatcher, req rpc.ClientRequest, origin string, r Responder) error {
	store, ok, err := expect[*rpc.StoreRequest](ctx, req, rpc.MethodStore, r)
	if !ok {
		return err
	}
	saved, err := d.Accounts.List(ctx)
	if err != nil {
		return err
	}
	fresh := lo.Filter(account.FromList(store.Accounts()), func(a account.Account, _ int) bool {
		return !lo.ContainsBy(saved, func(s account.Account) bool { return account.Match(s, a) })
	})
	stored := true
	if len(fresh) > 0 {
		if stored, err = d.UI.ConfirmStore(ctx, origin, fresh); err != nil {
			return err
		}
		if stored {
			if err := d.Accounts.Add(ctx, fresh...); err != nil {
				return err
			}
		}
	}
	return respond(ctx, r, store.ClientConfig(), stored, map[string]any{"stored": stored})
}

func updateService(ctx context.Context, d *Dispatcher, req rpc.ClientRequest, origin string, r Responder) error {
	update, ok, err := expect[*rpc.UpdateRequest](ctx, req, rpc.MethodUpdate, r)
	if !ok {
		return err
	}
	acct := account.FromMap(update.Account())
	existing, found, err := d.Accounts.Find(ctx, acct, account.Match)
	if err != nil {
		return err
	}
	updated := false
	if found {
		if account.Compatible(acct, existing) {
			acct = account.Merge(existing, acct)
		}
		if updated, err = d.UI.ConfirmUpdate(ctx, origin, acct); err != nil {
			return err
		}
		if updated {
			if _, err := d.Accounts.Refresh(ctx, acct); err != nil {
				return err
			}
		}
	}
	return respond(ctx, r, update.ClientConfig(), updated, map[string]any{"updated": updated})
}

func bootstrapService(ctx context.Context, d *Dispatcher, req rpc.ClientRequest, origin string, r Responder) error {
	boot, ok, err := expect[*rpc.BootstrapRequest](ctx, req, rpc.MethodBootstrap, r)
	if !ok {
		return err
	}
	accounts := account.FromList(boot.Accounts())
	stored, err := d.UI.ConfirmBootstrap(ctx, origin, boot.Origin(), accounts)
	if err != nil {
		return err
	}
	if stored {
		if err := d.Accounts.Add(ctx, accounts...); err != nil {
			return err
		}
		if err := d.Config.SetBootstrapDomain(ctx, boot.Origin()); err != nil {
			return err
		}
	}
	return respond(ctx, r, boot.ClientConfig(), stored, map[string]any{"stored": stored})
}

func manageService(ctx context.Context, d *Dispatcher, req rpc.ClientRequest, _ string, r Responder) error {
	if _, ok, err := expect[*rpc.ManageRequest](ctx, req, rpc.MethodManage, r); !ok {
		return err
	}
	accounts, err := d.Accounts.List(ctx)
	if err != nil {
		return err
	}
	removed, err := d.UI.Manage(ctx, accounts)
	if err != nil {
		return err
	}
	for _, a := range removed {
		if _, err := d.Accounts.Remove(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func aboutService(ctx context.Context, d *Dispatcher, req rpc.ClientRequest, _ string, r Responder) error {
	if _, ok, err := expect[*rpc.AboutRequest](ctx, req, rpc.MethodAbout, r); !ok {
		return err
	}
	accounts, err := d.Accounts.List(ctx)
	if err != nil {
		return err
	}
	disabled, err := d.Config.IsDisabled(ctx)
	if err != nil {
		return err
	}
	return d.UI.About(ctx, accounts, disabled)
}
