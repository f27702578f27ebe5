package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dvloznov/finance-ledger/internal/app"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/positions"
	"github.com/google/subcommands"
	"github.com/shopspring/decimal"
)

type portfoliosCmd struct {
	create string
	kind   string
}

func (*portfoliosCmd) Name() string     { return "portfolios" }
func (*portfoliosCmd) Synopsis() string { return "list portfolios or create one" }
func (*portfoliosCmd) Usage() string {
	return `cli -owner <id> portfolios [-create <name> [-kind paper|real]]
`
}

func (c *portfoliosCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.create, "create", "", "Create a portfolio with this name.")
	f.StringVar(&c.kind, "kind", positions.PortfolioPaper, "paper or real.")
}

func (c *portfoliosCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(ctx, true, func(ctx context.Context, a *app.App, ownerID string) error {
		if c.create != "" {
			p, err := a.Positions.CreatePortfolio(ctx, ownerID, c.create, c.kind)
			if err != nil {
				return err
			}
			fmt.Printf("Created portfolio %s\n", p.ID)
			return nil
		}
		ps, err := a.Positions.ListPortfolios(ctx, ownerID)
		if err != nil {
			return err
		}
		for _, p := range ps {
			fmt.Printf("%s  %-6s  %s\n", p.ID, p.Kind, p.Name)
		}
		return nil
	})
}

type tradeCmd struct {
	portfolio  string
	instrument string
	side       string
	qty        string
	price      string
	fee        string
	at         string
	note       string
}

func (*tradeCmd) Name() string     { return "trade" }
func (*tradeCmd) Synopsis() string { return "record a buy or sell and update the position" }
func (*tradeCmd) Usage() string {
	return `cli -owner <id> trade -portfolio <id> -instrument <id> -side buy|sell -qty <n> -price <p> [-fee 0] [-at 2024-01-31]
`
}

func (c *tradeCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.portfolio, "portfolio", "", "Portfolio id.")
	f.StringVar(&c.instrument, "instrument", "", "Instrument id, e.g. a ticker or ISIN.")
	f.StringVar(&c.side, "side", string(domain.SideBuy), "buy or sell.")
	f.StringVar(&c.qty, "qty", "", "Quantity.")
	f.StringVar(&c.price, "price", "", "Unit price.")
	f.StringVar(&c.fee, "fee", "0", "Fee.")
	f.StringVar(&c.at, "at", "", "Execution date (YYYY-MM-DD or RFC 3339, defaults to now).")
	f.StringVar(&c.note, "note", "", "Free text note.")
}

func (c *tradeCmd) input() (positions.TradeInput, error) {
	in := positions.TradeInput{
		PortfolioID:  c.portfolio,
		InstrumentID: c.instrument,
		Side:         domain.TradeSide(c.side),
		Note:         c.note,
	}
	var err error
	if in.Quantity, err = decimal.NewFromString(c.qty); err != nil {
		return in, fmt.Errorf("invalid -qty %q", c.qty)
	}
	if in.Price, err = decimal.NewFromString(c.price); err != nil {
		return in, fmt.Errorf("invalid -price %q", c.price)
	}
	if in.Fee, err = decimal.NewFromString(c.fee); err != nil {
		return in, fmt.Errorf("invalid -fee %q", c.fee)
	}
	if c.at != "" {
		if in.ExecutedAt, err = time.Parse(time.RFC3339, c.at); err != nil {
			if in.ExecutedAt, err = time.Parse("2006-01-02", c.at); err != nil {
				return in, fmt.Errorf("invalid -at %q", c.at)
			}
		}
	}
	return in, nil
}

func (c *tradeCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	in, err := c.input()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	return run(ctx, true, func(ctx context.Context, a *app.App, ownerID string) error {
		t, err := a.Positions.RecordTrade(ctx, ownerID, in)
		if err != nil {
			return err
		}
		fmt.Printf("Recorded trade %s: %s %s %s @ %s (total %s)\n",
			t.ID, t.Side, t.Quantity, t.InstrumentID, t.Price, t.Total.StringFixed(2))
		return nil
	})
}

// priceFlags collects repeated -price INSTRUMENT=VALUE flags.
type priceFlags map[string]decimal.Decimal

func (p priceFlags) String() string {
	parts := make([]string, 0, len(p))
	for k, v := range p {
		parts = append(parts, k+"="+v.String())
	}
	return strings.Join(parts, ",")
}

func (p priceFlags) Set(raw string) error {
	id, value, ok := strings.Cut(raw, "=")
	if !ok || strings.TrimSpace(id) == "" {
		return fmt.Errorf("want INSTRUMENT=VALUE, got %q", raw)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("price for %s: %w", id, err)
	}
	p[strings.TrimSpace(id)] = d
	return nil
}

type summaryCmd struct {
	portfolio string
	prices    priceFlags
}

func (*summaryCmd) Name() string     { return "summary" }
func (*summaryCmd) Synopsis() string { return "value a portfolio at given prices" }
func (*summaryCmd) Usage() string {
	return `cli -owner <id> summary -portfolio <id> [-price AAPL=190.5 ...]

  Instruments without a -price are valued at their average cost.
`
}

func (c *summaryCmd) SetFlags(f *flag.FlagSet) {
	c.prices = priceFlags{}
	f.StringVar(&c.portfolio, "portfolio", "", "Portfolio id.")
	f.Var(c.prices, "price", "Current price as INSTRUMENT=VALUE (repeatable).")
}

func (c *summaryCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(ctx, true, func(ctx context.Context, a *app.App, ownerID string) error {
		s, err := a.Positions.Summary(ctx, ownerID, c.portfolio, c.prices)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "INSTRUMENT\tQTY\tAVG COST\tPRICE\tVALUE\tRETURN\tRETURN %\tWEIGHT %\t")
		for _, p := range s.Positions {
			price := p.Price.StringFixed(2)
			if !p.Priced {
				price += "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
				p.InstrumentID, p.Quantity, p.AvgCost.StringFixed(4), price,
				p.Value.StringFixed(2), p.Return.StringFixed(2), p.ReturnPct, p.Weight)
		}
		fmt.Fprintf(w, "TOTAL\t\t%s\t\t%s\t%s\t%s\t\t\n",
			s.TotalCost.StringFixed(2), s.TotalValue.StringFixed(2), s.TotalReturn.StringFixed(2), s.TotalReturnPct)
		return w.Flush()
	})
}
