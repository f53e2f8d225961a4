package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"golang.org/x/term"

	cl "coinbot/internal/cli"
	"coinbot/internal/bot"
	"coinbot/internal/game"
	"coinbot/internal/scheduler"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)

	replyTitle = lipgloss.NewStyle().Bold(true)
	replyBox   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)
	fieldName = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptOptional(label string) (string, error) {
	fmt.Printf("%s: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// promptSecret reads without echo when stdin is a terminal.
func promptSecret(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptOptional(label)
	}
	fmt.Printf("%s: ", label)
	raw, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func promptInt64(label string, min int64) (int64, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			printWarn("Enter a whole number.")
			continue
		}
		if v < min {
			printWarn(fmt.Sprintf("Value must be >= %d", min))
			continue
		}
		return v, nil
	}
}

func renderAccount(userID string, view cl.AccountView) {
	accent.Printf("\n== ACCOUNT %s ==\n", userID)
	fmt.Printf("Wallet:       %s coins\n", comma(view.Account.Wallet))
	fmt.Printf("Bank:         %s coins\n", comma(view.Account.Bank))
	fmt.Printf("Stocks:       %s coins\n", comma(view.NetWorth.StockValue))
	fmt.Printf("Net Worth:    %s coins\n", comma(view.NetWorth.Total))
	fmt.Println()
}

func renderBalances(a game.Account) {
	fmt.Printf("Wallet: %s  Bank: %s\n", comma(a.Wallet), comma(a.Bank))
}

func renderMarket(instruments []game.InstrumentView) {
	accent.Println("\n== STOCK MARKET ==")
	if len(instruments) == 0 {
		printInfo("No instruments listed.")
		return
	}
	fmt.Printf("%-14s %12s %12s\n", "SYMBOL", "PRICE", "LAST MOVE")
	for _, in := range instruments {
		fmt.Printf("%-14s %12s %12s\n", truncate(in.Symbol, 14), comma(in.Price), colorizeDelta(lastMove(in)))
	}
	fmt.Println()
}

func renderInstrument(in game.InstrumentView) {
	accent.Printf("\n== %s ==\n", in.Symbol)
	fmt.Printf("Price: %s coins\n", comma(in.Price))
	if len(in.History) > 0 {
		points := make([]string, 0, len(in.History))
		for _, p := range in.History {
			points = append(points, comma(p))
		}
		fmt.Printf("History: %s\n", strings.Join(points, " → "))
	}
	fmt.Println()
}

func renderOrder(side string, out game.OrderResult) {
	verb := "Bought"
	if side == "sell" {
		verb = "Sold"
	}
	printSuccess(fmt.Sprintf("%s %d %s at %s for %s coins.", verb, out.Shares, out.Symbol, comma(out.Price), comma(out.Total)))
	renderBalances(out.Account)
}

func renderPortfolio(pf game.PortfolioView) {
	accent.Printf("\n== PORTFOLIO %s ==\n", pf.UserID)
	if len(pf.Positions) == 0 {
		printInfo("No holdings yet.")
		return
	}
	fmt.Printf("%-14s %8s %12s %14s\n", "SYMBOL", "SHARES", "PRICE", "VALUE")
	for _, p := range pf.Positions {
		fmt.Printf("%-14s %8d %12s %14s\n", truncate(p.Symbol, 14), p.Shares, comma(p.Price), comma(p.Value))
	}
	fmt.Printf("%-14s %8s %12s %14s\n", "TOTAL", "", "", comma(pf.Total))
	fmt.Println()
}

func renderShop(items []game.ShopListing) {
	accent.Println("\n== SHOP ==")
	fmt.Printf("%-24s %12s %8s\n", "ITEM", "PRICE", "STOCK")
	for _, it := range items {
		stock := neutral.Sprint(strconv.FormatInt(it.Stock, 10))
		if it.Stock == 0 {
			stock = danger.Sprint("sold out")
		}
		fmt.Printf("%-24s %12s %8s\n", truncate(it.Item, 24), comma(it.Price), stock)
	}
	fmt.Println()
}

func renderInventory(userID string, inv game.Inventory) {
	accent.Printf("\n== INVENTORY %s ==\n", userID)
	if len(inv) == 0 {
		printInfo("Inventory is empty.")
		return
	}
	for _, item := range game.InventoryItems(inv) {
		fmt.Printf("%-24s x%d\n", truncate(item, 24), inv[item])
	}
	fmt.Println()
}

func renderLeaderboard(rows []game.LeaderboardRow) {
	accent.Println("\n== BALANCE LEADERBOARD ==")
	if len(rows) == 0 {
		printInfo("No leaderboard rows yet.")
		return
	}
	fmt.Printf("%-6s %-22s %12s %12s %14s\n", "RANK", "PLAYER", "WALLET", "BANK", "TOTAL")
	for _, r := range rows {
		fmt.Printf("%-6d %-22s %12s %12s %14s\n", r.Rank, truncate(r.UserID, 22), comma(r.Wallet), comma(r.Bank), comma(r.Total))
	}
	fmt.Println()
}

func renderBegLeaderboard(rows []game.BegLeaderboardRow) {
	accent.Println("\n== BEG LEADERBOARD ==")
	if len(rows) == 0 {
		printInfo("Nobody has begged yet.")
		return
	}
	fmt.Printf("%-6s %-22s %6s %8s %8s\n", "RANK", "PLAYER", "LEVEL", "XP", "BEGS")
	for _, r := range rows {
		fmt.Printf("%-6d %-22s %6d %8d %8d\n", r.Rank, truncate(r.UserID, 22), r.Level, r.XP, r.TotalBegs)
	}
	fmt.Println()
}

func renderJobs(jobs []scheduler.Status) {
	accent.Println("\n== SCHEDULED JOBS ==")
	fmt.Printf("%-10s %8s %6s %-20s %-20s %s\n", "JOB", "EVERY", "RUNS", "LAST RUN", "NEXT RUN", "LAST ERROR")
	for _, j := range jobs {
		lastErr := neutral.Sprint("-")
		if j.LastErr != "" {
			lastErr = danger.Sprint(truncate(j.LastErr, 40))
		}
		fmt.Printf("%-10s %8s %6d %-20s %-20s %s\n", j.Name, j.Every, j.Runs, stamp(j.LastRun), stamp(j.NextRun), lastErr)
	}
	fmt.Println()
}

func renderJournal(entries []cl.JournalEntry) {
	accent.Println("\n== JOURNAL ==")
	if len(entries) == 0 {
		printInfo("No journal entries.")
		return
	}
	fmt.Printf("%-20s %-12s %-14s %12s %12s\n", "AT", "OP", "USER", "WALLET", "BANK")
	for _, e := range entries {
		fmt.Printf("%-20s %-12s %-14s %12s %12s\n", stamp(e.At), e.Op, truncate(e.UserID, 14), colorizeDelta(e.WalletDelta), colorizeDelta(e.BankDelta))
	}
	fmt.Println()
}

// renderReply prints a router reply the way a chat embed would look.
func renderReply(r bot.Reply) {
	var b strings.Builder
	if r.Title != "" {
		b.WriteString(replyTitle.Render(r.Title))
		b.WriteString("\n")
	}
	if r.Description != "" {
		b.WriteString(r.Description)
	}
	for _, f := range r.Fields {
		b.WriteString("\n")
		b.WriteString(fieldName.Render(f.Name))
		b.WriteString("\n")
		b.WriteString(f.Value)
	}
	box := replyBox.BorderForeground(lipgloss.Color(fmt.Sprintf("#%06X", r.Color)))
	fmt.Println(box.Render(strings.TrimRight(b.String(), "\n")))
	if r.Error != "" {
		warn.Printf("(%s)\n", r.Error)
	}
}

func lastMove(in game.InstrumentView) int64 {
	if len(in.History) < 2 {
		return 0
	}
	return in.History[len(in.History)-1] - in.History[len(in.History)-2]
}

func colorizeDelta(v int64) string {
	text := comma(v)
	switch {
	case v > 0:
		return success.Sprint("+" + text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func comma(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	b.WriteString(sign)
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		b.WriteByte(',')
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
