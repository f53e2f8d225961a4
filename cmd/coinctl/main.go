package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	cl "coinbot/internal/cli"
	"coinbot/internal/bot"
	"coinbot/internal/config"
	"coinbot/internal/game"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

// session is the profile a command acts as and a client pointed at its API.
type session struct {
	client *cl.Client
	user   string
}

type settings struct {
	apiBase string
	token   string
	user    string
}

func main() {
	cfg := config.LoadCLIFromEnv()
	opts := &settings{apiBase: cfg.APIBaseURL, token: cfg.APIToken}

	root := &cobra.Command{
		Use:          "coinctl",
		Short:        "Operator and player client for the coinbot economy",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.apiBase, "api", opts.apiBase, "coinbot API base URL")
	root.PersistentFlags().StringVar(&opts.user, "as", "", "act as this user id instead of the profile's")

	root.AddCommand(
		newLoginCmd(opts),
		newLogoutCmd(),
		newBalanceCmd(opts),
		newMoveCmd(opts, "deposit", "Move coins from wallet to bank"),
		newMoveCmd(opts, "withdraw", "Move coins from bank to wallet"),
		newPayCmd(opts),
		newRewardCmd(opts, "daily", "Claim the daily reward"),
		newRewardCmd(opts, "beg", "Beg for a few coins"),
		newRobCmd(opts, "rob", "Steal from another player's wallet"),
		newRobCmd(opts, "bankrob", "Attempt to rob another player's bank"),
		newStocksCmd(opts),
		newPortfolioCmd(opts),
		newShopCmd(opts),
		newBuyCmd(opts),
		newInventoryCmd(opts),
		newTradeCmd(opts),
		newLeaderboardCmd(opts),
		newJournalCmd(opts),
		newJobsCmd(opts),
		newRawCmd(opts),
	)

	if err := root.Execute(); err != nil {
		if kind := cl.KindOf(err); kind != "" {
			printError(fmt.Sprintf("%s: %v", kind, err))
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

// load resolves the profile, letting --api, --as and COINBOT_API_TOKEN
// override what was saved at login.
func load(cmd *cobra.Command, opts *settings) (session, error) {
	prof, err := cl.LoadProfile()
	if err != nil && !(errors.Is(err, cl.ErrNoProfile) && opts.user != "") {
		return session{}, fmt.Errorf("login required: %w", err)
	}
	base := opts.apiBase
	if !cmd.Flags().Changed("api") && prof.APIBaseURL != "" {
		base = prof.APIBaseURL
	}
	token := prof.Token
	if token == "" {
		token = opts.token
	}
	user := prof.UserID
	if opts.user != "" {
		user = game.NormalizeID(opts.user)
	}
	return session{client: cl.NewClient(base, token), user: user}, nil
}

func withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 30*time.Second)
}

func newLoginCmd(opts *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "login [user_id]",
		Short: "Save the API token and player id to act as",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var user string
			var err error
			if len(args) > 0 {
				user = args[0]
			} else if user, err = promptRequired("User id"); err != nil {
				return err
			}
			token, err := promptSecret("API token (blank keeps COINBOT_API_TOKEN)")
			if err != nil {
				return err
			}
			if token == "" {
				token = opts.token
			}

			ctx, cancel := withTimeout(cmd)
			defer cancel()
			client := cl.NewClient(opts.apiBase, token)
			if _, err := client.Market(ctx); err != nil {
				return fmt.Errorf("verify token: %w", err)
			}
			if err := cl.SaveProfile(cl.Profile{
				APIBaseURL: client.BaseURL,
				Token:      token,
				UserID:     game.NormalizeID(user),
			}); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Logged in as %s on %s.", game.NormalizeID(user), client.BaseURL))
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the saved profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearProfile(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newBalanceCmd(opts *settings) *cobra.Command {
	return &cobra.Command{
		Use:     "balance [user_id]",
		Short:   "Show wallet, bank and net worth",
		Aliases: []string{"bal", "networth"},
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := load(cmd, opts)
			if err != nil {
				return err
			}
			user := userFromArgs(args, 0, s.user)
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			view, err := s.client.Account(ctx, user)
			if err != nil {
				return err
			}
			renderAccount(user, view)
			return nil
		},
	}
}

func newMoveCmd(opts *settings, name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <amount|all>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := game.ParseAmount(args[0]); err != nil {
				return err
			}
			s, err := load(cmd, opts)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			move := s.client.Deposit
			if name == "withdraw" {
				move = s.client.Withdraw
			}
			acct, err := move(ctx, s.user, args[0])
			if err != nil {
				return err
			}
			printSuccess(strings.ToUpper(name[:1]) + name[1:] + " complete.")
			renderBalances(acct)
			return nil
		},
	}
}

func newPayCmd(opts *settings) *cobra.Command {
	return &cobra.Command{
		Use:     "pay <user_id> [amount]",
		Short:   "Send coins from your wallet",
		Aliases: []string{"donate"},
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := load(cmd, opts)
			if err != nil {
				return err
			}
			amount, err := int64FromArgOrPrompt(args, 1, "Amount")
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := s.client.Pay(ctx, s.user, args[0], amount)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sent %s coins to %s.", comma(out.Amount), game.NormalizeID(args[0])))
			renderBalances(out.From)
			return nil
		},
	}
}

func newRewardCmd(opts *settings, name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := load(cmd, opts)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			if name == "beg" {
				out, err := s.client.Beg(ctx, s.user)
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Someone tossed you %s coins (+%d xp, level %d).", comma(out.Amount), out.XPGain, out.Stats.Level))
				renderBalances(out.Account)
				return nil
			}
			out, err := s.client.Daily(ctx, s.user)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Daily reward: %s coins.", comma(out.Amount)))
			renderBalances(out.Account)
			return nil
		},
	}
}

func newRobCmd(opts *settings, name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <user_id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := load(cmd, opts)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			victim := game.NormalizeID(args[0])
			if name == "rob" {
				out, err := s.client.Rob(ctx, s.user, victim)
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("You robbed %s and got %s coins.", victim, comma(out.Amount)))
				renderBalances(out.Thief)
				return nil
			}
			out, err := s.client.Bankrob(ctx, s.user, victim)
			if err != nil {
				return err
			}
			switch {
			case out.Success:
				printSuccess(fmt.Sprintf("Heist complete: %s coins from %s's bank.", comma(out.Amount), victim))
			case out.Warned:
				printWarn("You got caught, but you were too broke to fine.")
			default:
				printError(fmt.Sprintf("Caught! You paid a %s coin fine.", comma(out.Fine)))
			}
			renderBalances(out.Robber)
			return nil
		},
	}
}

func newStocksCmd(opts *settings) *cobra.Command {
	stocks := &cobra.Command{
		Use:     "stocks",
		Short:   "Stock market commands",
		Aliases: []string{"stock", "market"},
	}
	stocks.AddCommand(&cobra.Command{
		Use:   "list [symbol]",
		Short: "List instruments or inspect one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := load(cmd, opts)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			if len(args) == 1 {
				out, err := s.client.Instrument(ctx, args[0])
				if err != nil {
					return err
				}
				renderInstrument(out)
				return nil
			}
			out, err := s.client.Market(ctx)
			if err != nil {
				return err
			}
			renderMarket(out)
			return nil
		},
	})
	stocks.AddCommand(newOrderCmd(opts, "buy"), newOrderCmd(opts, "sell"))

	var every time.Duration
	watch := &cobra.Command{
		Use:   "watch",
		Short: "Live market table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := load(cmd, opts)
			if err != nil {
				return err
			}
			if every < time.Second {
				every = time.Second
			}
			_, err = tea.NewProgram(newWatchModel(s.client, every), tea.WithContext(cmd.Context())).Run()
			return err
		},
	}
	watch.Flags().DurationVar(&every, "every", 5*time.Second, "refresh interval")
	stocks.AddCommand(watch)
	return stocks
}

func newOrderCmd(opts *settings, side string) *cobra.Command {
	return &cobra.Command{
		Use:   side + " <symbol> [shares]",
		Short: strings.ToUpper(side[:1]) + side[1:] + " shares",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := load(cmd, opts)
			if err != nil {
				return err
			}
			shares, err := int64FromArgOrPrompt(args, 1, "Shares")
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := s.client.Order(ctx, s.user, args[0], side, shares)
			if err != nil {
				return err
			}
			renderOrder(side, out)
			return nil
		},
	}
}

func newPortfolioCmd(opts *settings) *cobra.Command {
	return &cobra.Command{
		Use:     "portfolio [user_id]",
		Short:   "Show stock holdings",
		Aliases: []string{"pf"},
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := load(cmd, opts)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := s.client.Portfolio(ctx, userFromArgs(args, 0, s.user))
			if err != nil {
				return err
			}
			renderPortfolio(out)
			return nil
		},
	}
}

func newShopCmd(opts *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "shop",
		Short: "List shop items, prices and stock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := load(cmd, opts)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := s.client.Shop(ctx)
			if err != nil {
				return err
			}
			renderShop(out)
			return nil
		},
	}
}

func newBuyCmd(opts *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "buy <item> [quantity]",
		Short: `Buy from the shop, e.g. "buy Oreo plush 2"`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := load(cmd, opts)
			if err != nil {
				return err
			}
			item, qty := game.ParseItemAndQty(strings.Join(args, " "))
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := s.client.BuyItem(ctx, s.user, item, qty)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Bought %d x %s for %s coins.", out.Quantity, out.Item, comma(out.Cost)))
			renderBalances(out.Account)
			return nil
		},
	}
}

func newInventoryCmd(opts *settings) *cobra.Command {
	return &cobra.Command{
		Use:     "inventory [user_id]",
		Short:   "Show owned items",
		Aliases: []string{"inv"},
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := load(cmd, opts)
			if err != nil {
				return err
			}
			user := userFromArgs(args, 0, s.user)
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := s.client.Inventory(ctx, user)
			if err != nil {
				return err
			}
			renderInventory(user, out)
			return nil
		},
	}
}

func newTradeCmd(opts *settings) *cobra.Command {
	trade := &cobra.Command{
		Use:   "trade",
		Short: "Item-for-item trades",
	}

	var give, want, guild string
	propose := &cobra.Command{
		Use:   "propose <user_id>",
		Short: "Offer one of your items for one of theirs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := load(cmd, opts)
			if err != nil {
				return err
			}
			if give == "" {
				if give, err = promptRequired("Item to give"); err != nil {
					return err
				}
			}
			if want == "" {
				if want, err = promptRequired("Item to receive"); err != nil {
					return err
				}
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := s.client.ProposeTrade(ctx, s.user, args[0], give, want, guild)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Proposed %s for %s to %s (trade %s).", out.Give, out.Want, out.To, out.ID))
			return nil
		},
	}
	propose.Flags().StringVar(&give, "give", "", "item you offer")
	propose.Flags().StringVar(&want, "want", "", "item you want")
	propose.Flags().StringVar(&guild, "guild", "", "server the trade belongs to")

	var acceptGuild string
	accept := &cobra.Command{
		Use:   "accept",
		Short: "Accept the trade pending for you",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := load(cmd, opts)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := s.client.AcceptTrade(ctx, s.user, acceptGuild)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Traded %s for %s with %s.", out.Proposal.Want, out.Proposal.Give, out.Proposal.From))
			renderInventory(s.user, out.ToInventory)
			return nil
		},
	}
	accept.Flags().StringVar(&acceptGuild, "guild", "", "server the trade belongs to")

	trade.AddCommand(propose, accept)
	return trade
}

func newLeaderboardCmd(opts *settings) *cobra.Command {
	var (
		n       int
		beg     bool
		members []string
	)
	lb := &cobra.Command{
		Use:     "leaderboard",
		Short:   "Richest players, or top beggars with --beg",
		Aliases: []string{"baltop", "rich"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := load(cmd, opts)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			if beg {
				rows, err := s.client.BegLeaderboard(ctx, n, members)
				if err != nil {
					return err
				}
				renderBegLeaderboard(rows)
				return nil
			}
			rows, err := s.client.Leaderboard(ctx, n, members)
			if err != nil {
				return err
			}
			renderLeaderboard(rows)
			return nil
		},
	}
	lb.Flags().IntVarP(&n, "top", "n", 10, "rows to show")
	lb.Flags().BoolVar(&beg, "beg", false, "rank by beg level instead of balance")
	lb.Flags().StringSliceVar(&members, "members", nil, "restrict to these user ids")
	return lb
}

func newJournalCmd(opts *settings) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "journal [user_id]",
		Short: "Recent balance changes from the audit journal",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := load(cmd, opts)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := s.client.Journal(ctx, userFromArgs(args, 0, s.user), limit)
			if err != nil {
				return err
			}
			renderJournal(out)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "entries to show")
	return cmd
}

func newJobsCmd(opts *settings) *cobra.Command {
	jobs := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := load(cmd, opts)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := s.client.Jobs(ctx)
			if err != nil {
				return err
			}
			renderJobs(out)
			return nil
		},
	}
	jobs.AddCommand(&cobra.Command{
		Use:   "run <interest|dividends|restock|market>",
		Short: "Run one job now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := load(cmd, opts)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := s.client.RunJob(ctx, args[0])
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Job %s ran.", out.Job))
			printInfo(string(out.Report))
			return nil
		},
	})
	return jobs
}

func newRawCmd(opts *settings) *cobra.Command {
	var target, guild string
	cmd := &cobra.Command{
		Use:   "cmd <name> [args...]",
		Short: "Send a chat command through the bot router",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := load(cmd, opts)
			if err != nil {
				return err
			}
			c := bot.Command{Actor: game.Player(s.user), Guild: guild, Name: args[0], Args: args[1:]}
			if target != "" {
				p := game.Player(target)
				c.Target = &p
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			reply, err := s.client.Command(ctx, c)
			if err != nil {
				return err
			}
			renderReply(reply)
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "user id the command targets")
	cmd.Flags().StringVar(&guild, "guild", "", "server id for trades and leaderboards")
	return cmd
}

func userFromArgs(args []string, idx int, fallback string) string {
	if len(args) > idx && strings.TrimSpace(args[idx]) != "" {
		return game.NormalizeID(args[idx])
	}
	return fallback
}

func int64FromArgOrPrompt(args []string, idx int, label string) (int64, error) {
	if len(args) > idx {
		v, err := strconv.ParseInt(strings.TrimSpace(args[idx]), 10, 64)
		if err != nil || v <= 0 {
			return 0, fmt.Errorf("invalid %s", strings.ToLower(label))
		}
		return v, nil
	}
	return promptInt64(label, 1)
}
