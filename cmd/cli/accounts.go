package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dvloznov/finance-ledger/internal/app"
	"github.com/dvloznov/finance-ledger/internal/currency"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/google/subcommands"
	"github.com/shopspring/decimal"
)

type accountsCmd struct {
	all bool
	ccy string
}

func (*accountsCmd) Name() string     { return "accounts" }
func (*accountsCmd) Synopsis() string { return "list accounts with their balances" }
func (*accountsCmd) Usage() string {
	return `cli -owner <id> accounts [-all] [-currency EUR]

  Lists the owner's accounts and the total balance converted into one currency.
`
}

func (c *accountsCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.all, "all", false, "Include deactivated accounts.")
	f.StringVar(&c.ccy, "currency", "", "Currency of the total (defaults to the settlement currency).")
}

func (c *accountsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(ctx, true, func(ctx context.Context, a *app.App, ownerID string) error {
		accounts, err := a.Ledger.ListAccounts(ctx, ownerID, c.all)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tCURRENCY\tBALANCE\tACTIVE")
		for _, acc := range accounts {
			fmt.Fprintln(w, accountRow(acc, a.Ledger.Settlement()))
		}
		if err := w.Flush(); err != nil {
			return err
		}

		ccy := c.ccy
		if ccy == "" {
			ccy = a.Config.Currency.Settlement
		}
		total, err := a.Ledger.TotalBalance(ctx, ownerID, ccy)
		if err != nil {
			return err
		}
		fmt.Printf("\nTotal (%d active): %s\n", total.AccountsCount, currency.Format(total.Total, total.Currency))
		return nil
	})
}

// accountRow renders one tab-separated account line. Balances are held in
// the settlement currency, whatever the account's own currency is.
func accountRow(acc *domain.Account, settlement string) string {
	return fmt.Sprintf("%s\t%s\t%s\t%s\t%s\t%v",
		acc.ID, acc.Name, acc.Kind, acc.Currency, currency.Format(acc.CurrentBalance, settlement), acc.IsActive)
}

type createAccountCmd struct {
	name    string
	kind    string
	ccy     string
	initial string
}

func (*createAccountCmd) Name() string     { return "create-account" }
func (*createAccountCmd) Synopsis() string { return "open a new account" }
func (*createAccountCmd) Usage() string {
	return `cli -owner <id> create-account -name <name> [-type checking] [-currency EUR] [-initial 0]
`
}

func (c *createAccountCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.name, "name", "", "Account name.")
	f.StringVar(&c.kind, "type", string(domain.AccountChecking), "checking, savings, credit, cash or investment.")
	f.StringVar(&c.ccy, "currency", "", "ISO 4217 currency (defaults to the settlement currency).")
	f.StringVar(&c.initial, "initial", "0", "Initial balance.")
}

func (c *createAccountCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	initial, err := decimal.NewFromString(c.initial)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -initial %q: %v\n", c.initial, err)
		return subcommands.ExitUsageError
	}
	return run(ctx, true, func(ctx context.Context, a *app.App, ownerID string) error {
		acc, err := a.Ledger.CreateAccount(ctx, ownerID, ledger.AccountInput{
			Name:           c.name,
			Kind:           domain.AccountKind(c.kind),
			Currency:       c.ccy,
			InitialBalance: initial,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Created account %s (%s, balance %s)\n", acc.ID, acc.Currency, currency.Format(acc.CurrentBalance, a.Ledger.Settlement()))
		return nil
	})
}

type recalcCmd struct {
	account string
}

func (*recalcCmd) Name() string     { return "recalc" }
func (*recalcCmd) Synopsis() string { return "rebuild an account balance from its transaction history" }
func (*recalcCmd) Usage() string {
	return `cli -owner <id> recalc [-account <id>]

  Replays the history of one account, or of every account when -account is omitted.
`
}

func (c *recalcCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.account, "account", "", "Account id (all accounts when empty).")
}

func (c *recalcCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(ctx, true, func(ctx context.Context, a *app.App, ownerID string) error {
		ids := []string{c.account}
		if c.account == "" {
			accounts, err := a.Ledger.ListAccounts(ctx, ownerID, true)
			if err != nil {
				return err
			}
			ids = ids[:0]
			for _, acc := range accounts {
				ids = append(ids, acc.ID)
			}
		}
		for _, id := range ids {
			acc, err := a.Ledger.RecalculateBalance(ctx, ownerID, id)
			if err != nil {
				return err
			}
			fmt.Printf("%s  %s\n", acc.ID, currency.Format(acc.CurrentBalance, a.Ledger.Settlement()))
		}
		return nil
	})
}

type snapshotCmd struct {
	account string
}

func (*snapshotCmd) Name() string     { return "snapshot" }
func (*snapshotCmd) Synopsis() string { return "record today's balance snapshot" }
func (*snapshotCmd) Usage() string {
	return `cli -owner <id> snapshot [-account <id>]
`
}

func (c *snapshotCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.account, "account", "", "Account id (every active account when empty).")
}

func (c *snapshotCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(ctx, true, func(ctx context.Context, a *app.App, ownerID string) error {
		var snaps []*domain.BalanceSnapshot
		if c.account != "" {
			snap, err := a.Ledger.CreateDailySnapshot(ctx, ownerID, c.account)
			if err != nil {
				return err
			}
			snaps = append(snaps, snap)
		} else {
			var err error
			if snaps, err = a.Ledger.SnapshotAll(ctx, ownerID); err != nil {
				return err
			}
		}
		for _, s := range snaps {
			fmt.Printf("%s  %s  %s\n", s.Date.Format("2006-01-02"), s.AccountID, s.Balance.StringFixed(2))
		}
		return nil
	})
}

type historyCmd struct {
	account string
	days    int
}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "show an account's daily balance snapshots" }
func (*historyCmd) Usage() string {
	return `cli -owner <id> history -account <id> [-days 30]
`
}

func (c *historyCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.account, "account", "", "Account id.")
	f.IntVar(&c.days, "days", 30, "How many days back.")
}

func (c *historyCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(ctx, true, func(ctx context.Context, a *app.App, ownerID string) error {
		snaps, err := a.Ledger.BalanceHistory(ctx, ownerID, c.account, c.days)
		if err != nil {
			return err
		}
		for _, s := range snaps {
			fmt.Printf("%s  %s\n", s.Date.Format("2006-01-02"), s.Balance.StringFixed(2))
		}
		return nil
	})
}
