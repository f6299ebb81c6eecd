package client

import (
	"context"
	"strconv"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/rexliu/acrpc/pkg/account"
	"github.com/rexliu/acrpc/pkg/rpc"
)

// Callback receives the outcome of a service. result and rpcErr are both
// nil for an EmptyResponseNotification.
type Callback func(result any, rpcErr *rpc.Error)

// Callbacks are keyed by service: store, select, update, or empty for
// the EmptyResponseNotification.
type Callbacks map[string]Callback

// EmptyCallback is the Callbacks key for EmptyResponseNotification.
const EmptyCallback = "empty"

// APIConfig is the global configuration of an API.
type APIConfig struct {
	Client              Options
	Callbacks           Callbacks
	ClientCallbackURL   string
	PositiveCallbackURL string
	NegativeCallbackURL string
	KeepPopup           bool
	ShowAll             bool
	Providers           []string
	Language            string
	UI                  map[string]any
	Clock               clock.Clock
}

// API is the application facade over Client. Responses are routed to the
// service callbacks by request id.
type API struct {
	client       *Client
	clientConfig map[string]any
	clock        clock.Clock

	mu        sync.Mutex
	callbacks Callbacks
	once      map[string]Callback
}

// NewAPI builds and initializes the client.
func NewAPI(ctx context.Context, config APIConfig) (*API, error) {
	a := &API{
		clock:     config.Clock,
		callbacks: Callbacks{},
		once:      map[string]Callback{},
	}
	if a.clock == nil {
		a.clock = clock.New()
	}
	for service, cb := range config.Callbacks {
		if cb != nil {
			a.callbacks[service] = cb
		}
	}
	a.clientConfig = map[string]any{
		"keepPopup": config.KeepPopup,
		"showAll":   config.ShowAll,
	}
	optional := map[string]string{
		"clientCallbackUrl":   config.ClientCallbackURL,
		"positiveCallbackUrl": config.PositiveCallbackURL,
		"negativeCallbackUrl": config.NegativeCallbackURL,
		"language":            config.Language,
	}
	for key, v := range optional {
		if v != "" {
			a.clientConfig[key] = v
		}
	}
	if len(config.Providers) > 0 {
		a.clientConfig["providers"] = lo.ToAnySlice(config.Providers)
	}
	if config.UI != nil {
		a.clientConfig["ui"] = config.UI
	}

	opts := config.Client
	opts.Handler = a.dispatch
	c, err := New(opts)
	if err != nil {
		return nil, err
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	a.client = c
	return a, nil
}

// Client returns the underlying transport.
func (a *API) Client() *Client { return a.client }

// SetPopupMode switches between popup and redirect mode.
func (a *API) SetPopupMode(ctx context.Context, popup bool) error {
	return a.client.SetPopupMode(ctx, popup)
}

// Store asks the chooser to remember accounts.
func (a *API) Store(ctx context.Context, accounts []account.Account, clientConfig map[string]any) error {
	if len(accounts) == 0 {
		return errors.New("accounts required")
	}
	req := rpc.NewStoreRequest(rpc.MethodStore, accountList(accounts), a.mergeClientConfig(clientConfig))
	return a.client.Call(ctx, req)
}

// Select asks the user to pick an account. localAccounts may be nil.
func (a *API) Select(ctx context.Context, localAccounts []account.Account, clientConfig map[string]any) error {
	var local []any
	if localAccounts != nil {
		local = accountList(localAccounts)
	}
	req := rpc.NewSelectRequest(rpc.MethodSelect, local, a.mergeClientConfig(clientConfig))
	return a.client.Call(ctx, req)
}

// Update refreshes a stored account.
func (a *API) Update(ctx context.Context, acct account.Account, clientConfig map[string]any) error {
	if acct.Email == "" {
		return errors.New("account required")
	}
	req := rpc.NewUpdateRequest(rpc.MethodUpdate, acct.Map(), a.mergeClientConfig(clientConfig))
	return a.client.Call(ctx, req)
}

// CheckDisabled asks whether the chooser is disabled.
func (a *API) CheckDisabled(ctx context.Context, cb Callback) error {
	return a.query(ctx, rpc.QueryDisabled, nil, cb)
}

// CheckEmpty asks whether the chooser has no account.
func (a *API) CheckEmpty(ctx context.Context, cb Callback) error {
	return a.query(ctx, rpc.QueryEmpty, nil, cb)
}

// CheckAccountExist asks whether acct is stored.
func (a *API) CheckAccountExist(ctx context.Context, acct account.Account, cb Callback) error {
	return a.query(ctx, rpc.QueryAccountExist, &acct, cb)
}

// CheckShouldUpdate asks whether acct carries newer profile data than the
// stored copy. The answer is only a hint.
func (a *API) CheckShouldUpdate(ctx context.Context, acct account.Account, cb Callback) error {
	return a.query(ctx, rpc.QueryShouldUpdate, &acct, cb)
}

func (a *API) query(ctx context.Context, query string, acct *account.Account, cb Callback) error {
	if cb == nil {
		return errors.New("callback required")
	}
	id := "query_" + query + "_" + strconv.FormatInt(a.clock.Now().UnixMilli(), 10)
	a.mu.Lock()
	a.once[id] = cb
	a.mu.Unlock()
	var params map[string]any
	if acct != nil {
		params = acct.Map()
	}
	return a.client.Call(ctx, rpc.NewQueryRequest(id, query, params))
}

// mergeClientConfig overlays per-call keys on the global config.
func (a *API) mergeClientConfig(clientConfig map[string]any) map[string]any {
	return lo.Assign(a.clientConfig, clientConfig)
}

func (a *API) dispatch(obj rpc.Object) {
	switch o := obj.(type) {
	case *rpc.EmptyResponseNotification:
		if cb := a.callback(EmptyCallback); cb != nil {
			cb(nil, nil)
		}
	case *rpc.Response:
		a.mu.Lock()
		cb, once := a.once[o.ID]
		delete(a.once, o.ID)
		a.mu.Unlock()
		if !once {
			cb = a.callback(o.ID)
		}
		if cb != nil {
			cb(o.Result, o.Error)
		}
	}
}

func (a *API) callback(service string) Callback {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.callbacks[service]
}

func accountList(accounts []account.Account) []any {
	return lo.Map(accounts, func(a account.Account, _ int) any { return a.Map() })
}
