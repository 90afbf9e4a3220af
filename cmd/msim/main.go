package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	cl "marketsim/internal/cli"
	"marketsim/internal/config"
	"marketsim/internal/market"

	"github.com/spf13/cobra"
)

type globals struct {
	apiBase string
	token   string
}

func main() {
	cfg := config.LoadCLIFromEnv()
	g := &globals{apiBase: cfg.APIBaseURL, token: cfg.Token}
	if profile, err := cl.LoadProfile(); err == nil {
		if os.Getenv("MSIM_API_BASE_URL") == "" && profile.APIBaseURL != "" {
			g.apiBase = profile.APIBaseURL
		}
		if g.token == "" {
			g.token = profile.Token
		}
	}

	root := &cobra.Command{
		Use:          "msim",
		Short:        "Market simulator client",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupColor()
		},
	}
	root.PersistentFlags().StringVar(&g.apiBase, "api", g.apiBase, "API base URL")

	root.AddCommand(
		newLoginCmd(g),
		newLogoutCmd(),
		newStocksCmd(g),
		newShowCmd(g),
		newCompareCmd(g),
		newTradeCmd(g, market.TransactionBuy),
		newTradeCmd(g, market.TransactionSell),
		newListCmd(g),
		newTickCmd(g),
		newResetCmd(g),
		newWatchCmd(g),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(g *globals) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(g.apiBase), "/"), g.token)
}

func withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 30*time.Second)
}

func newLoginCmd(g *globals) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save the API URL and operator token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("token") {
				var err error
				if token, err = promptOptional("Operator token (blank for none)"); err != nil {
					return err
				}
			}
			if err := cl.SaveProfile(cl.Profile{APIBaseURL: g.apiBase, Token: token}); err != nil {
				return err
			}
			printSuccess("Profile saved for " + g.apiBase)
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "operator bearer token")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearProfile(); err != nil {
				return err
			}
			printSuccess("Profile removed.")
			return nil
		},
	}
}

func newStocksCmd(g *globals) *cobra.Command {
	var sector string
	cmd := &cobra.Command{
		Use:   "stocks",
		Short: "List all stocks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			stocks, err := newClient(g).ListStocks(ctx, sector)
			if err != nil {
				return err
			}
			renderStocksList(stocks)
			return nil
		},
	}
	cmd.Flags().StringVar(&sector, "sector", "", "only show one sector")
	return cmd
}

func newShowCmd(g *globals) *cobra.Command {
	var timeframe string
	cmd := &cobra.Command{
		Use:   "show <symbol|id>",
		Short: "Show a stock and its price chart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tf, err := market.ParseTimeframe(timeframe)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			client := newClient(g)
			stock, err := client.Stock(ctx, args[0])
			if err != nil {
				return err
			}
			series, err := client.History(ctx, stock.ID, tf)
			if err != nil {
				return err
			}
			renderStockDetail(stock, series)
			return nil
		},
	}
	cmd.Flags().StringVarP(&timeframe, "timeframe", "t", "1M", "1D, 1W, 1M, 3M, 1Y or 5Y")
	return cmd
}

func newCompareCmd(g *globals) *cobra.Command {
	var timeframe string
	cmd := &cobra.Command{
		Use:   "compare <symbol|id>...",
		Short: "Compare up to three stocks on one chart",
		Args:  cobra.RangeArgs(1, market.MaxComparisonSeries),
		RunE: func(cmd *cobra.Command, args []string) error {
			tf, err := market.ParseTimeframe(timeframe)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			cmp, err := newClient(g).Compare(ctx, args, tf)
			if err != nil {
				return err
			}
			renderComparison(cmp)
			return nil
		},
	}
	cmd.Flags().StringVarP(&timeframe, "timeframe", "t", "1M", "1D, 1W, 1M, 3M, 1Y or 5Y")
	return cmd
}

func newTradeCmd(g *globals, side market.Side) *cobra.Command {
	return &cobra.Command{
		Use:   string(side) + " <symbol|id> <quantity>",
		Short: strings.ToUpper(string(side[:1])) + string(side[1:]) + " shares at the current price",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.ParseInt(strings.ReplaceAll(args[1], ",", ""), 10, 64)
			if err != nil || qty <= 0 {
				return fmt.Errorf("quantity must be a positive whole number")
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			res, err := newClient(g).Trade(ctx, args[0], side, qty)
			if err != nil {
				return err
			}
			renderTradeResult(res)
			return nil
		},
	}
}

func newListCmd(g *globals) *cobra.Command {
	var in market.NewStock
	var available int64
	cmd := &cobra.Command{
		Use:   "list-stock",
		Short: "List a new stock on the market",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if in.Symbol == "" {
				if in.Symbol, err = promptSymbol("Symbol"); err != nil {
					return err
				}
			}
			if in.CompanyName == "" {
				if in.CompanyName, err = promptRequired("Company name"); err != nil {
					return err
				}
			}
			if in.Sector == "" {
				if in.Sector, err = promptRequired("Sector"); err != nil {
					return err
				}
			}
			if in.Price <= 0 {
				if in.Price, err = promptFloat("Listing price", 0.01); err != nil {
					return err
				}
			}
			if available > 0 {
				in.AvailableShares = &available
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			st, err := newClient(g).ListStock(ctx, in)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Listed %s at %s", st.Symbol, formatPrice(st.CurrentPrice)))
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Symbol, "symbol", "", "ticker symbol, 1-6 letters")
	cmd.Flags().StringVar(&in.CompanyName, "name", "", "company name")
	cmd.Flags().StringVar(&in.Sector, "sector", "", "sector, e.g. technology")
	cmd.Flags().Float64Var(&in.Price, "price", 0, "listing price")
	cmd.Flags().Float64Var(&in.MarketCap, "market-cap", 0, "market capitalisation")
	cmd.Flags().Int64Var(&available, "available", 0, "shares available to trade")
	cmd.Flags().Int64Var(&in.TotalShares, "total", 0, "total shares outstanding")
	cmd.Flags().Float64Var(&in.Volatility, "volatility", 1, "drift volatility multiplier")
	return cmd
}

func newTickCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one drift tick now",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			report, err := newClient(g).Tick(ctx)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Tick: %d updated, %d recorded, %d skipped, %d failed",
				report.Updated, report.Recorded, report.Skipped, report.Failed))
			return nil
		},
	}
}

func newResetCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Start a new trading day for every stock",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			report, err := newClient(g).Reset(ctx)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Reset %d of %d stocks", report.Reset, report.Stocks))
			return nil
		},
	}
}
