package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"coinbot/internal/game"
)

// Embed colours.
const (
	ColorPurple   = 0x9B59B6
	ColorOrange   = 0xE67E22
	ColorGreen    = 0x2ECC71
	ColorGold     = 0xF1C40F
	ColorTeal     = 0x1ABC9C
	ColorRed      = 0xE74C3C
	ColorDarkRed  = 0x992D22
	ColorDarkGrey = 0x607D8B
)

// Command is one inbound chat command with the transport details stripped.
// Args never contain the target mention. Members restricts leaderboards to
// one server; nil means every account.
type Command struct {
	Actor   game.Party  `json:"actor"`
	Target  *game.Party `json:"target,omitempty"`
	Guild   string      `json:"guild,omitempty"`
	Name    string      `json:"name"`
	Args    []string    `json:"args,omitempty"`
	Members []string    `json:"members,omitempty"`
}

type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Reply is a structured response a transport renders as an embed or text.
// Error is empty on success and otherwise holds game.ErrorKind.
type Reply struct {
	Title       string  `json:"title,omitempty"`
	Description string  `json:"description,omitempty"`
	Fields      []Field `json:"fields,omitempty"`
	Color       int     `json:"color,omitempty"`
	Error       string  `json:"error,omitempty"`
}

type handler func(ctx context.Context, cmd Command) (Reply, error)

type Router struct {
	svc    *game.Service
	log    *slog.Logger
	prefix string

	handlers map[string]handler
	aliases  map[string]string
}

func NewRouter(svc *game.Service, logger *slog.Logger, prefix string) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = "!"
	}
	r := &Router{svc: svc, log: logger, prefix: prefix}
	r.handlers = map[string]handler{
		"balance":        r.balance,
		"deposit":        r.deposit,
		"withdraw":       r.withdraw,
		"pay":            r.pay,
		"donate":         r.donate,
		"daily":          r.daily,
		"beg":            r.beg,
		"begleaderboard": r.begLeaderboard,
		"rob":            r.rob,
		"bankrob":        r.bankrob,
		"baltop":         r.baltop,
		"networth":       r.networth,
		"shop":           r.shop,
		"buy":            r.buy,
		"inventory":      r.inventory,
		"trade":          r.trade,
		"accepttrade":    r.acceptTrade,
		"portfolio":      r.portfolio,
		"buystock":       r.buyStock,
		"sellstock":      r.sellStock,
		"stocks":         r.stocks,
	}
	r.aliases = map[string]string{
		"bal":         "balance",
		"dep":         "deposit",
		"with":        "withdraw",
		"begtop":      "begleaderboard",
		"rich":        "baltop",
		"leaderboard": "baltop",
		"inv":         "inventory",
		"pf":          "portfolio",
	}
	return r
}

// Known reports whether name (or one of its aliases) is a routed command.
func (r *Router) Known(name string) bool {
	_, ok := r.handlers[r.canonical(name)]
	return ok
}

func (r *Router) canonical(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if full, ok := r.aliases[name]; ok {
		return full
	}
	return name
}

// Dispatch runs cmd against the engine. Every rejection comes back as a
// reply carrying the specific reason.
func (r *Router) Dispatch(ctx context.Context, cmd Command) Reply {
	name := r.canonical(cmd.Name)
	h, ok := r.handlers[name]
	if !ok {
		return Reply{Description: fmt.Sprintf("❌ Unknown command `%s%s`.", r.prefix, cmd.Name), Color: ColorOrange, Error: "unknown_command"}
	}
	cmd.Name = name
	cmd.Actor.ID = game.NormalizeID(cmd.Actor.ID)
	cmd = liftTarget(cmd)

	reply, err := h(ctx, cmd)
	if err != nil {
		r.log.Debug("command rejected", "op", name, "user_id", cmd.Actor.ID, "err", err)
		return r.errorReply(name, err)
	}
	return reply
}

// liftTarget accepts a leading mention argument as the target when the
// transport did not resolve one.
func liftTarget(cmd Command) Command {
	if cmd.Target != nil || len(cmd.Args) == 0 {
		return cmd
	}
	first := strings.TrimSpace(cmd.Args[0])
	if strings.HasPrefix(first, "<@") && strings.HasSuffix(first, ">") {
		p := game.Player(first)
		cmd.Target = &p
		cmd.Args = cmd.Args[1:]
	}
	return cmd
}

// usageError is a malformed command; its message is the usage line.
type usageError struct{ usage string }

func (e *usageError) Error() string { return e.usage }

func (r *Router) usage(format string) error {
	return &usageError{usage: "❌ Usage: `" + r.prefix + format + "`"}
}

func (r *Router) errorReply(op string, err error) Reply {
	reply := Reply{Color: ColorOrange, Error: game.ErrorKind(err)}

	var (
		usage    *usageError
		funds    *game.FundsError
		cooldown *game.CooldownError
		target   *game.TargetError
		invalid  *game.InvalidTargetError
		notFound *game.NotFoundError
		stock    *game.StockError
	)
	switch {
	case errors.As(err, &usage):
		reply.Description = usage.usage
		reply.Error = "usage"
	case errors.As(err, &funds):
		reply.Description = fmt.Sprintf("💸 Not enough %s balance: you have **%s**, need **%s**.",
			funds.Balance, formatCoins(funds.Have), formatCoins(funds.Need))
	case errors.As(err, &cooldown):
		reply.Description = fmt.Sprintf("⏳ Cooldown: wait **%ds** before using `%s%s` again.",
			cooldown.RemainingSeconds(), r.prefix, cooldown.Action)
		if cooldown.Action == game.ActionDaily {
			reply.Description = fmt.Sprintf("⏳ Daily already claimed. Resets at midnight UTC (in **%ds**).", cooldown.RemainingSeconds())
		}
	case errors.As(err, &target):
		reply.Description = fmt.Sprintf("😒 That user only has **%s** in their %s. The minimum to rob is **%s**.",
			formatCoins(target.Have), target.Balance, formatCoins(target.Min))
	case errors.As(err, &invalid):
		reply.Description = "❌ Invalid target: " + invalid.Reason + "."
	case errors.As(err, &stock):
		reply.Description = fmt.Sprintf("📦 Only **%d** %s left in stock (you asked for %d).", stock.Available, stock.Item, stock.Want)
	case errors.As(err, &notFound):
		reply.Description = r.notFoundText(notFound)
	case errors.Is(err, game.ErrInvalidAmount):
		reply.Description = "❌ Amount must be a whole number greater than 0."
	case errors.Is(err, game.ErrPersistence):
		r.log.Error("command failed to persist", "op", op, "err", err)
		reply.Description = "⚠️ Could not save right now, nothing was changed. Try again shortly."
		reply.Color = ColorRed
	default:
		r.log.Error("command failed", "op", op, "err", err)
		reply.Description = "⚠️ Something went wrong."
		reply.Color = ColorRed
	}
	return reply
}

func (r *Router) notFoundText(e *game.NotFoundError) string {
	switch e.Kind {
	case "item":
		if e.Key == "" {
			return "❌ Name the items to trade."
		}
		return fmt.Sprintf("❌ Item not found. Use `%sshop` to see items.\nYou typed: `%s`", r.prefix, e.Key)
	case "instrument":
		return fmt.Sprintf("❌ Unknown stock `%s`. Use `%sstocks` to see names.", e.Key, r.prefix)
	case "trade proposal":
		return "❌ You have no pending trade proposals."
	case "item to offer":
		return fmt.Sprintf("❌ You don't have **%s** to offer.", e.Key)
	case "offered item":
		return fmt.Sprintf("❌ Trade failed: the proposer no longer has **%s**.", e.Key)
	case "wanted item":
		return fmt.Sprintf("❌ You can't accept: you don't have **%s**.", e.Key)
	default:
		return "❌ " + e.Error()
	}
}

func (cmd Command) subject() game.Party {
	if cmd.Target != nil {
		return *cmd.Target
	}
	return cmd.Actor
}

func (r *Router) requireTarget(cmd Command, usage string) (game.Party, error) {
	if cmd.Target == nil {
		return game.Party{}, r.usage(usage)
	}
	return *cmd.Target, nil
}

func mention(id string) string { return "<@" + id + ">" }

// formatCoins renders n with thousands separators.
func formatCoins(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

func parseCount(args []string, i int) (int, bool) {
	if len(args) <= i {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(args[i]))
	if err != nil {
		return 0, false
	}
	return n, true
}

func parsePositive(raw string) (int64, error) {
	n, err := strconv.ParseInt(strings.ReplaceAll(strings.TrimSpace(raw), ",", ""), 10, 64)
	if err != nil {
		return 0, game.ErrInvalidAmount
	}
	return n, nil
}

func (r *Router) balance(ctx context.Context, cmd Command) (Reply, error) {
	who := cmd.subject()
	if who.Bot {
		return Reply{}, &game.InvalidTargetError{Reason: "bots have no account"}
	}
	a, err := r.svc.Balance(ctx, who.ID)
	if err != nil {
		return Reply{}, err
	}
	return Reply{
		Title: fmt.Sprintf("💰 %s's Balance", mention(who.ID)),
		Fields: []Field{
			{Name: "Wallet", Value: "💵 " + formatCoins(a.Wallet) + " coins", Inline: true},
			{Name: "Bank", Value: "🏦 " + formatCoins(a.Bank) + " coins", Inline: true},
		},
		Color: ColorPurple,
	}, nil
}

func (r *Router) deposit(ctx context.Context, cmd Command) (Reply, error) {
	if len(cmd.Args) == 0 {
		return Reply{}, r.usage("deposit <amount|all>")
	}
	amt, err := game.ParseAmount(cmd.Args[0])
	if err != nil {
		return Reply{}, err
	}
	before, err := r.svc.Balance(ctx, cmd.Actor.ID)
	if err != nil {
		return Reply{}, err
	}
	after, err := r.svc.Deposit(ctx, cmd.Actor.ID, amt)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Description: fmt.Sprintf("🏦 Deposited **%s** coins.", formatCoins(after.Bank-before.Bank)), Color: ColorOrange}, nil
}

func (r *Router) withdraw(ctx context.Context, cmd Command) (Reply, error) {
	if len(cmd.Args) == 0 {
		return Reply{}, r.usage("withdraw <amount|all>")
	}
	amt, err := game.ParseAmount(cmd.Args[0])
	if err != nil {
		return Reply{}, err
	}
	before, err := r.svc.Balance(ctx, cmd.Actor.ID)
	if err != nil {
		return Reply{}, err
	}
	after, err := r.svc.Withdraw(ctx, cmd.Actor.ID, amt)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Description: fmt.Sprintf("💰 Withdrew **%s** coins.", formatCoins(after.Wallet-before.Wallet)), Color: ColorOrange}, nil
}

func (r *Router) transfer(ctx context.Context, cmd Command, usage string) (game.PayResult, game.Party, error) {
	to, err := r.requireTarget(cmd, usage)
	if err != nil {
		return game.PayResult{}, to, err
	}
	if len(cmd.Args) == 0 {
		return game.PayResult{}, to, r.usage(usage)
	}
	amount, err := parsePositive(cmd.Args[0])
	if err != nil {
		return game.PayResult{}, to, err
	}
	res, err := r.svc.Pay(ctx, cmd.Actor, to, amount)
	return res, to, err
}

func (r *Router) pay(ctx context.Context, cmd Command) (Reply, error) {
	res, to, err := r.transfer(ctx, cmd, "pay @user <amount>")
	if err != nil {
		return Reply{}, err
	}
	return Reply{Description: fmt.Sprintf("✅ Sent **%s** coins to %s!", formatCoins(res.Amount), mention(to.ID)), Color: ColorGreen}, nil
}

func (r *Router) donate(ctx context.Context, cmd Command) (Reply, error) {
	res, to, err := r.transfer(ctx, cmd, "donate @user <amount>")
	if err != nil {
		return Reply{}, err
	}
	return Reply{
		Description: fmt.Sprintf("💖 %s donated **%s** coins to %s!", mention(cmd.Actor.ID), formatCoins(res.Amount), mention(to.ID)),
		Color:       ColorOrange,
	}, nil
}

func (r *Router) daily(ctx context.Context, cmd Command) (Reply, error) {
	res, err := r.svc.Daily(ctx, cmd.Actor.ID)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Description: fmt.Sprintf("💰 Daily claimed: **%s** coins!", formatCoins(res.Amount)), Color: ColorPurple}, nil
}

func (r *Router) beg(ctx context.Context, cmd Command) (Reply, error) {
	res, err := r.svc.Beg(ctx, cmd.Actor.ID)
	if err != nil {
		return Reply{}, err
	}
	return Reply{
		Title:       "🙏 Successful Beg",
		Description: fmt.Sprintf("Someone took pity and gave you **%s** coins.", formatCoins(res.Amount)),
		Fields: []Field{
			{Name: "XP", Value: fmt.Sprintf("+%d (total %d)", res.XPGain, res.Stats.XP), Inline: true},
			{Name: "Level", Value: strconv.FormatInt(res.Stats.Level, 10), Inline: true},
			{Name: "Total begs", Value: strconv.FormatInt(res.Stats.TotalBegs, 10), Inline: true},
		},
		Color: ColorGreen,
	}, nil
}

func (r *Router) begLeaderboard(_ context.Context, cmd Command) (Reply, error) {
	n, _ := parseCount(cmd.Args, 0)
	rows := r.svc.BegLeaderboard(cmd.Members, n)
	if len(rows) == 0 {
		return Reply{Description: "📭 No begging data yet.", Color: ColorGold}, nil
	}
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, fmt.Sprintf("**%d.** %s: Lv %d, %d xp, %d begs", row.Rank, mention(row.UserID), row.Level, row.XP, row.TotalBegs))
	}
	return Reply{Title: "🏆 Begging Leaderboard", Description: strings.Join(lines, "\n"), Color: ColorGold}, nil
}

func (r *Router) rob(ctx context.Context, cmd Command) (Reply, error) {
	victim, err := r.requireTarget(cmd, "rob @user")
	if err != nil {
		return Reply{}, err
	}
	res, err := r.svc.Rob(ctx, cmd.Actor, victim)
	if err != nil {
		return Reply{}, err
	}
	return Reply{
		Description: fmt.Sprintf("🦹 You robbed %s and got **%s** coins!", mention(victim.ID), formatCoins(res.Amount)),
		Color:       ColorPurple,
	}, nil
}

func (r *Router) bankrob(ctx context.Context, cmd Command) (Reply, error) {
	victim, err := r.requireTarget(cmd, "bankrob @user")
	if err != nil {
		return Reply{}, err
	}
	res, err := r.svc.Bankrob(ctx, cmd.Actor, victim)
	if err != nil {
		return Reply{}, err
	}
	switch {
	case res.Success:
		return Reply{
			Title:       "🏦 Bank Heist Successful!",
			Description: fmt.Sprintf("You cracked %s's vault and escaped with **%s** coins.", mention(victim.ID), formatCoins(res.Amount)),
			Color:       ColorGreen,
		}, nil
	case res.Warned:
		return Reply{Description: "🚓 You got caught, but you're too broke to fine. Consider this a warning.", Color: ColorPurple}, nil
	default:
		return Reply{Description: fmt.Sprintf("🚓 You got caught and paid a **%s** coin fine.", formatCoins(res.Fine)), Color: ColorPurple}, nil
	}
}

func (r *Router) baltop(_ context.Context, cmd Command) (Reply, error) {
	n, _ := parseCount(cmd.Args, 0)
	rows := r.svc.Baltop(cmd.Members, n)
	if len(rows) == 0 {
		return Reply{Description: "📭 No economy data yet.", Color: ColorGold}, nil
	}
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, fmt.Sprintf("**%d.** %s: %s coins", row.Rank, mention(row.UserID), formatCoins(row.Total)))
	}
	return Reply{Title: "🏦 Baltop (Wallet + Bank)", Description: strings.Join(lines, "\n"), Color: ColorGold}, nil
}

func (r *Router) networth(ctx context.Context, cmd Command) (Reply, error) {
	who := cmd.subject()
	nw, err := r.svc.NetWorth(ctx, who.ID)
	if err != nil {
		return Reply{}, err
	}
	return Reply{
		Title: "📊 Net Worth: " + mention(who.ID),
		Fields: []Field{
			{Name: "Wallet", Value: formatCoins(nw.Wallet), Inline: true},
			{Name: "Bank", Value: formatCoins(nw.Bank), Inline: true},
			{Name: "Stocks", Value: formatCoins(nw.StockValue), Inline: true},
			{Name: "Total", Value: "**" + formatCoins(nw.Total) + "** coins"},
		},
		Color: ColorTeal,
	}, nil
}

func (r *Router) shop(_ context.Context, _ Command) (Reply, error) {
	listing := r.svc.ShopListing()
	fields := make([]Field, 0, len(listing))
	for _, l := range listing {
		stock := fmt.Sprintf("%d in stock", l.Stock)
		if l.Stock == 0 {
			stock = "sold out"
		}
		fields = append(fields, Field{Name: l.Item, Value: fmt.Sprintf("%s coins (%s)", formatCoins(l.Price), stock)})
	}
	return Reply{Title: "🛒 Shop", Fields: fields, Color: ColorPurple}, nil
}

func (r *Router) buy(ctx context.Context, cmd Command) (Reply, error) {
	raw := strings.Join(cmd.Args, " ")
	if strings.TrimSpace(raw) == "" {
		return Reply{}, r.usage("buy <item> [qty]")
	}
	item, qty := game.ParseItemAndQty(raw)
	res, err := r.svc.Buy(ctx, cmd.Actor.ID, item, qty)
	if err != nil {
		return Reply{}, err
	}
	return Reply{
		Description: fmt.Sprintf("✅ Bought **%d× %s** for **%s** coins.", res.Quantity, res.Item, formatCoins(res.Cost)),
		Color:       ColorGreen,
	}, nil
}

func (r *Router) inventory(_ context.Context, cmd Command) (Reply, error) {
	who := cmd.subject()
	inv := r.svc.Inventory(who.ID)
	if len(inv) == 0 {
		return Reply{Description: fmt.Sprintf("🎒 %s has no items.", mention(who.ID)), Color: ColorOrange}, nil
	}
	lines := make([]string, 0, len(inv))
	for _, item := range game.InventoryItems(inv) {
		lines = append(lines, fmt.Sprintf("• **%s** × %d", item, inv[item]))
	}
	return Reply{Title: fmt.Sprintf("🎒 %s's Inventory", mention(who.ID)), Description: strings.Join(lines, "\n"), Color: ColorOrange}, nil
}

// parseTradeTerms reads "give:<item> | want:<item>" in any order.
func parseTradeTerms(args []string) (give, want string) {
	for _, chunk := range strings.Split(strings.Join(args, " "), "|") {
		c := strings.TrimSpace(chunk)
		switch {
		case strings.HasPrefix(strings.ToLower(c), "give:"):
			give = strings.TrimSpace(c[5:])
		case strings.HasPrefix(strings.ToLower(c), "want:"):
			want = strings.TrimSpace(c[5:])
		}
	}
	return give, want
}

func (r *Router) trade(ctx context.Context, cmd Command) (Reply, error) {
	const usage = "trade @user | give:<item> | want:<item>"
	to, err := r.requireTarget(cmd, usage)
	if err != nil {
		return Reply{}, err
	}
	give, want := parseTradeTerms(cmd.Args)
	if give == "" || want == "" {
		return Reply{}, r.usage(usage)
	}
	p, err := r.svc.ProposeTrade(ctx, cmd.Actor, to, give, want, cmd.Guild)
	var nf *game.NotFoundError
	if errors.As(err, &nf) && nf.Kind == "offered item" {
		return Reply{}, &game.NotFoundError{Kind: "item to offer", Key: nf.Key}
	}
	if err != nil {
		return Reply{}, err
	}
	return Reply{
		Title: "🤝 Trade proposed to " + mention(to.ID),
		Fields: []Field{
			{Name: "You give", Value: p.Give, Inline: true},
			{Name: "You want", Value: p.Want, Inline: true},
		},
		Description: fmt.Sprintf("%s can accept with `%saccepttrade`.", mention(to.ID), r.prefix),
		Color:       ColorTeal,
	}, nil
}

func (r *Router) acceptTrade(ctx context.Context, cmd Command) (Reply, error) {
	res, err := r.svc.AcceptTrade(ctx, cmd.Actor, cmd.Guild)
	if err != nil {
		return Reply{}, err
	}
	p := res.Proposal
	return Reply{
		Description: fmt.Sprintf("✅ Trade complete! %s received **%s** and %s received **%s**.",
			mention(p.From), p.Want, mention(p.To), p.Give),
		Color: ColorGreen,
	}, nil
}

func (r *Router) portfolio(_ context.Context, cmd Command) (Reply, error) {
	who := cmd.subject()
	pf := r.svc.Portfolio(who.ID)
	if len(pf.Positions) == 0 {
		return Reply{Description: fmt.Sprintf("📉 %s has no stocks yet.", mention(who.ID)), Color: ColorDarkGrey}, nil
	}
	fields := make([]Field, 0, len(pf.Positions))
	for _, pos := range pf.Positions {
		fields = append(fields, Field{
			Name:   pos.Symbol,
			Value:  fmt.Sprintf("%d shares @ %s = %s", pos.Shares, formatCoins(pos.Price), formatCoins(pos.Value)),
			Inline: true,
		})
	}
	return Reply{
		Title:       "📁 Portfolio: " + mention(who.ID),
		Description: fmt.Sprintf("Total value: **%s** coins", formatCoins(pf.Total)),
		Fields:      fields,
		Color:       ColorTeal,
	}, nil
}

func (r *Router) order(cmd Command, usage string) (string, int64, error) {
	if len(cmd.Args) < 2 {
		return "", 0, r.usage(usage)
	}
	shares, err := parsePositive(cmd.Args[1])
	if err != nil {
		return "", 0, err
	}
	return cmd.Args[0], shares, nil
}

func (r *Router) buyStock(ctx context.Context, cmd Command) (Reply, error) {
	sym, shares, err := r.order(cmd, "buystock <stock> <shares>")
	if err != nil {
		return Reply{}, err
	}
	res, err := r.svc.BuyStock(ctx, cmd.Actor.ID, sym, shares)
	if err != nil {
		return Reply{}, err
	}
	return Reply{
		Description: fmt.Sprintf("📈 Bought **%d** shares of **%s** for **%s** coins.", res.Shares, res.Symbol, formatCoins(res.Total)),
		Color:       ColorGreen,
	}, nil
}

func (r *Router) sellStock(ctx context.Context, cmd Command) (Reply, error) {
	sym, shares, err := r.order(cmd, "sellstock <stock> <shares>")
	if err != nil {
		return Reply{}, err
	}
	res, err := r.svc.SellStock(ctx, cmd.Actor.ID, sym, shares)
	if err != nil {
		return Reply{}, err
	}
	return Reply{
		Description: fmt.Sprintf("📉 Sold **%d** shares of **%s** for **%s** coins.", res.Shares, res.Symbol, formatCoins(res.Total)),
		Color:       ColorOrange,
	}, nil
}

func (r *Router) stocks(_ context.Context, _ Command) (Reply, error) {
	market := r.svc.Market()
	sort.Slice(market, func(i, j int) bool { return market[i].Symbol < market[j].Symbol })
	fields := make([]Field, 0, len(market))
	for _, in := range market {
		fields = append(fields, Field{Name: in.Symbol, Value: formatCoins(in.Price) + " coins", Inline: true})
	}
	return Reply{Title: "📈 Current Stock Prices", Fields: fields, Color: ColorGreen}, nil
}
