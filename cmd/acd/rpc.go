package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/samber/lo"

	"github.com/rexliu/acrpc/pkg/account"
	"github.com/rexliu/acrpc/pkg/ipc"
	"github.com/rexliu/acrpc/pkg/server"
)

func (d *daemon) registerHandlers(srv *ipc.Server) {
	srv.Register("ping", d.handlePing)
	srv.Register("post_message", d.handlePostMessage)
	srv.Register("replay", d.handleReplay)
	srv.Register("accounts", d.handleAccounts)
	srv.Register("config_get", d.handleConfigGet)
	srv.Register("config_set", d.handleConfigSet)
	srv.Register("export", d.handleExport)
}

func (d *daemon) handlePing(ctx context.Context, _ json.RawMessage) (any, *ipc.Error) {
	version, err := d.db.SchemaVersion(ctx)
	if err != nil {
		return nil, ipc.Errorf(ipc.CodeStorage, err.Error(), nil)
	}
	disabled, err := d.dispatcher.Disabled(ctx)
	if err != nil {
		return nil, ipc.Errorf(ipc.CodeStorage, err.Error(), nil)
	}
	return map[string]any{
		"now":      time.Now().UnixMilli(),
		"profile":  d.cfg.ProfileName,
		"schema":   version,
		"disabled": disabled,
		"frames":   d.sessions.count(),
	}, nil
}

type postMessageParams struct {
	Origin string `json:"origin"`
	Token  string `json:"token"`
	Data   string `json:"data"`
}

type postMessageResult struct {
	Token   string   `json:"token"`
	Replies []string `json:"replies"`
}

func (d *daemon) handlePostMessage(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	var p postMessageParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, ipc.Errorf(ipc.CodeInvalidRequest, "invalid params", nil)
	}
	return d.postMessage(ctx, p)
}

func (d *daemon) postMessage(ctx context.Context, p postMessageParams) (*postMessageResult, *ipc.Error) {
	if p.Origin == "" || p.Token == "" || p.Data == "" {
		return nil, ipc.Errorf(ipc.CodeInvalidRequest, "origin, token and data required", nil)
	}
	data, err := withToken(p.Data, p.Token)
	if err != nil {
		return nil, ipc.Errorf(ipc.CodeInvalidRequest, err.Error(), nil)
	}
	replies, err := d.sessions.post(ctx, p.Origin, p.Token, data)
	if err != nil {
		return nil, ipc.Errorf(ipc.CodeInvalidRequest, err.Error(), nil)
	}
	return &postMessageResult{Token: p.Token, Replies: lo.Ternary(replies == nil, []string{}, replies)}, nil
}

type replayParams struct {
	Domain  string   `json:"domain"`
	Confirm bool     `json:"confirm"`
	Email   string   `json:"email"`
	Remove  []string `json:"remove"`
}

// recordingNavigator remembers where the chooser page went.
type recordingNavigator struct {
	visited []string
	closed  bool
}

func (n *recordingNavigator) Navigate(_ context.Context, url string) error {
	n.visited = append(n.visited, url)
	return nil
}

func (n *recordingNavigator) Close(context.Context) error {
	n.closed = true
	return nil
}

func (d *daemon) page(domain string, ui *headlessUI, nav *recordingNavigator) *server.Page {
	dispatcher := *d.dispatcher
	dispatcher.UI = ui
	return server.NewPage(server.PageOptions{
		Dispatcher: &dispatcher,
		Mode:       server.ModeRedirect,
		Fragment:   domain,
		Navigator:  nav,
		Logger:     d.logger,
	})
}

// handleReplay opens the chooser page for a client domain, the way a
// browser does after RequestAck, and answers its prompts from params.
func (d *daemon) handleReplay(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	var p replayParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, ipc.Errorf(ipc.CodeInvalidRequest, "invalid params", nil)
	}
	nav := &recordingNavigator{}
	page := d.page(p.Domain, &headlessUI{Confirm: p.Confirm, Email: p.Email}, nav)
	outcome, err := page.Start(ctx)
	if err != nil {
		return nil, ipc.Errorf(ipc.CodeInternal, err.Error(), map[string]any{"outcome": outcome.String()})
	}
	return map[string]any{
		"outcome":   outcome.String(),
		"navigated": lo.Ternary(nav.visited == nil, []string{}, nav.visited),
	}, nil
}

// handleAccounts lists stored accounts after removing params.remove.
func (d *daemon) handleAccounts(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	var p replayParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, ipc.Errorf(ipc.CodeInvalidRequest, "invalid params", nil)
		}
	}
	if len(p.Remove) > 0 {
		page := d.page(p.Domain, &headlessUI{Remove: p.Remove}, &recordingNavigator{})
		if err := page.Manage(ctx); err != nil {
			return nil, ipc.Errorf(ipc.CodeStorage, err.Error(), nil)
		}
	}
	list, err := d.dispatcher.Accounts.List(ctx)
	if err != nil {
		return nil, ipc.Errorf(ipc.CodeStorage, err.Error(), nil)
	}
	return map[string]any{"accounts": lo.Ternary(list == nil, []account.Account{}, list)}, nil
}

func (d *daemon) handleConfigGet(ctx context.Context, _ json.RawMessage) (any, *ipc.Error) {
	all, err := d.dispatcher.Config.All(ctx)
	if err != nil {
		return nil, ipc.Errorf(ipc.CodeStorage, err.Error(), nil)
	}
	return map[string]any{"config": all}, nil
}

type configSetParams struct {
	Disabled        *bool   `json:"disabled"`
	BootstrapDomain *string `json:"bootstrapDomain"`
	Reset           bool    `json:"reset"`
}

func (d *daemon) handleConfigSet(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	var p configSetParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, ipc.Errorf(ipc.CodeInvalidRequest, "invalid params", nil)
	}
	conf := d.dispatcher.Config
	if p.Reset {
		if err := conf.ClearAll(ctx); err != nil {
			return nil, ipc.Errorf(ipc.CodeStorage, err.Error(), nil)
		}
	}
	if p.Disabled != nil {
		if err := conf.SetDisabled(ctx, *p.Disabled); err != nil {
			return nil, ipc.Errorf(ipc.CodeStorage, err.Error(), nil)
		}
	}
	if p.BootstrapDomain != nil {
		if err := conf.SetBootstrapDomain(ctx, *p.BootstrapDomain); err != nil {
			return nil, ipc.Errorf(ipc.CodeStorage, err.Error(), nil)
		}
	}
	return d.handleConfigGet(ctx, nil)
}

func (d *daemon) handleExport(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	var p struct {
		Path string `json:"path"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, ipc.Errorf(ipc.CodeInvalidRequest, "invalid params", nil)
		}
	}
	snap, err := d.snapshot(ctx)
	if err != nil {
		return nil, ipc.Errorf(ipc.CodeStorage, err.Error(), nil)
	}
	path, err := writeSnapshot(d.profileDir, p.Path, snap)
	if err != nil {
		return nil, ipc.Errorf(ipc.CodeInternal, err.Error(), nil)
	}
	return map[string]any{"path": path, "entries": len(snap.Entries)}, nil
}
