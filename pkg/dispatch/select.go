package dispatch

import (
	"context"

	"github.com/samber/lo"

	"github.com/rexliu/acrpc/pkg/account"
	"github.com/rexliu/acrpc/pkg/rpc"
)

func selectService(ctx context.Context, d *Dispatcher, req rpc.ClientRequest, origin string, r Responder) error {
	sel, ok, err := expect[*rpc.SelectRequest](ctx, req, rpc.MethodSelect, r)
	if !ok {
		return err
	}
	saved, err := d.Accounts.List(ctx)
	if err != nil {
		return err
	}
	config := sel.ClientConfig()
	candidates := dedupe(append(account.FromList(sel.LocalAccounts()), saved...))
	qualified, rest, synthesized := filterByProviders(candidates, stringList(config.List("providers")))
	if !rpc.Truthy(config["showAll"]) {
		qualified, rest = withoutUsernameOnly(qualified), withoutUsernameOnly(rest)
	}
	if len(qualified) == 0 {
		return r.Done(ctx, map[string]any{"addAccount": true})
	}
	chosen, picked, err := d.UI.Select(ctx, origin, qualified, rest)
	if err != nil {
		return err
	}
	if !picked {
		return r.Done(ctx, map[string]any{"addAccount": true})
	}
	if !lo.ContainsBy(synthesized, func(s account.Account) bool { return account.Match(s, chosen) }) {
		if err := d.Accounts.Add(ctx, chosen); err != nil {
			return err
		}
	}
	return r.Done(ctx, map[string]any{"account": chosen.Map()})
}

func dedupe(accounts []account.Account) []account.Account {
	var out []account.Account
	for _, a := range accounts {
		if !lo.ContainsBy(out, func(o account.Account) bool { return account.Match(o, a) }) {
			out = append(out, a)
		}
	}
	return out
}

// filterByProviders splits accounts into those usable by the client (no
// providerId, or one of providers) and the rest. For every email only
// present in rest, a provider-less account is synthesized and appended to
// qualified.
func filterByProviders(accounts []account.Account, providers []string) (qualified, rest, synthesized []account.Account) {
	qualifiedEmail := map[string]bool{}
	for _, a := range accounts {
		if a.ProviderID == "" || lo.Contains(providers, a.ProviderID) {
			qualified = append(qualified, a)
			qualifiedEmail[a.Email] = true
		} else {
			rest = append(rest, a)
		}
	}
	index := map[string]int{}
	for _, a := range rest {
		if qualifiedEmail[a.Email] {
			continue
		}
		if i, ok := index[a.Email]; ok {
			synthesized[i] = account.Merge(a, synthesized[i])
			continue
		}
		a.ProviderID = ""
		index[a.Email] = len(synthesized)
		synthesized = append(synthesized, a)
	}
	return append(qualified, synthesized...), rest, synthesized
}

func withoutUsernameOnly(accounts []account.Account) []account.Account {
	return lo.Filter(accounts, func(a account.Account, _ int) bool {
		return account.ValidEmail(a.Email) || a.ProviderID != ""
	})
}

func stringList(items []any) []string {
	return lo.FilterMap(items, func(item any, _ int) (string, bool) {
		s, ok := item.(string)
		return s, ok
	})
}
