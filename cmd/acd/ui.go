package main

import (
	"context"

	"github.com/samber/lo"

	"github.com/rexliu/acrpc/pkg/account"
)

// headlessUI answers chooser prompts from the parameters of a control
// request. The zero value declines everything.
type headlessUI struct {
	Confirm bool
	// Email picks an account by address; empty picks the first.
	Email string
	// Remove lists the addresses dropped by a manage request.
	Remove []string
}

func (u *headlessUI) ConfirmStore(context.Context, string, []account.Account) (bool, error) {
	return u.Confirm, nil
}

func (u *headlessUI) ConfirmUpdate(context.Context, string, account.Account) (bool, error) {
	return u.Confirm, nil
}

func (u *headlessUI) ConfirmBootstrap(context.Context, string, string, []account.Account) (bool, error) {
	return u.Confirm, nil
}

func (u *headlessUI) Select(_ context.Context, _ string, qualified, _ []account.Account) (account.Account, bool, error) {
	if !u.Confirm || len(qualified) == 0 {
		return account.Account{}, false, nil
	}
	if u.Email == "" {
		return qualified[0], true, nil
	}
	chosen, ok := lo.Find(qualified, func(a account.Account) bool {
		return a.Email == u.Email
	})
	return chosen, ok, nil
}

func (u *headlessUI) Manage(_ context.Context, accounts []account.Account) ([]account.Account, error) {
	return lo.Filter(accounts, func(a account.Account, _ int) bool {
		return lo.Contains(u.Remove, a.Email)
	}), nil
}

func (u *headlessUI) About(context.Context, []account.Account, bool) error {
	return nil
}
