package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"coinbot/internal/bot"
	"coinbot/internal/game"
	"coinbot/internal/scheduler"
)

// APIError is a non-2xx response from the coinbot API.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("api status %d (%s): %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// KindOf returns the domain error kind carried by err, or "" when err is
// not an APIError with a kind.
func KindOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   strings.TrimSpace(token),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type AccountView struct {
	Account  game.Account  `json:"account"`
	NetWorth game.NetWorth `json:"net_worth"`
}

type JournalEntry struct {
	ID          string    `json:"id"`
	TxGroup     string    `json:"tx_group"`
	Op          string    `json:"op"`
	UserID      string    `json:"user_id"`
	WalletDelta int64     `json:"wallet_delta"`
	BankDelta   int64     `json:"bank_delta"`
	At          time.Time `json:"at"`
}

type JobRun struct {
	Job    string          `json:"job"`
	Report json.RawMessage `json:"report"`
}

func (c *Client) Health(ctx context.Context) error {
	return c.jsonRequest(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (c *Client) Account(ctx context.Context, userID string) (AccountView, error) {
	var out AccountView
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(userID), nil, &out)
	return out, err
}

// Deposit moves amount ("all" or a number) from wallet to bank.
func (c *Client) Deposit(ctx context.Context, userID, amount string) (game.Account, error) {
	var out game.Account
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/accounts/"+url.PathEscape(userID)+"/deposit", map[string]any{
		"amount": amount,
	}, &out)
	return out, err
}

func (c *Client) Withdraw(ctx context.Context, userID, amount string) (game.Account, error) {
	var out game.Account
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/accounts/"+url.PathEscape(userID)+"/withdraw", map[string]any{
		"amount": amount,
	}, &out)
	return out, err
}

func (c *Client) Journal(ctx context.Context, userID string, limit int) ([]JournalEntry, error) {
	path := "/v1/accounts/" + url.PathEscape(userID) + "/journal"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Entries []JournalEntry `json:"entries"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, nil, &out)
	return out.Entries, err
}

func (c *Client) Pay(ctx context.Context, from, to string, amount int64) (game.PayResult, error) {
	var out game.PayResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/pay", map[string]any{
		"from":   game.Player(from),
		"to":     game.Player(to),
		"amount": amount,
	}, &out)
	return out, err
}

func (c *Client) Rob(ctx context.Context, thief, victim string) (game.RobResult, error) {
	var out game.RobResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/rob", pair(thief, victim), &out)
	return out, err
}

func (c *Client) Bankrob(ctx context.Context, robber, victim string) (game.BankrobResult, error) {
	var out game.BankrobResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/bankrob", pair(robber, victim), &out)
	return out, err
}

func (c *Client) Daily(ctx context.Context, userID string) (game.RewardResult, error) {
	var out game.RewardResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/daily", map[string]any{"user_id": userID}, &out)
	return out, err
}

func (c *Client) Beg(ctx context.Context, userID string) (game.BegResult, error) {
	var out game.BegResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/beg", map[string]any{"user_id": userID}, &out)
	return out, err
}

func (c *Client) Market(ctx context.Context) ([]game.InstrumentView, error) {
	var out struct {
		Instruments []game.InstrumentView `json:"instruments"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/market", nil, &out)
	return out.Instruments, err
}

func (c *Client) Instrument(ctx context.Context, symbol string) (game.InstrumentView, error) {
	var out game.InstrumentView
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/market/"+url.PathEscape(symbol), nil, &out)
	return out, err
}

// Order places a stock order; side is "buy" or "sell".
func (c *Client) Order(ctx context.Context, userID, symbol, side string, shares int64) (game.OrderResult, error) {
	var out game.OrderResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/orders", map[string]any{
		"user_id": userID,
		"symbol":  symbol,
		"side":    side,
		"shares":  shares,
	}, &out)
	return out, err
}

func (c *Client) Portfolio(ctx context.Context, userID string) (game.PortfolioView, error) {
	var out game.PortfolioView
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/portfolio/"+url.PathEscape(userID), nil, &out)
	return out, err
}

func (c *Client) Shop(ctx context.Context) ([]game.ShopListing, error) {
	var out struct {
		Items []game.ShopListing `json:"items"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/shop", nil, &out)
	return out.Items, err
}

func (c *Client) BuyItem(ctx context.Context, userID, item string, qty int64) (game.PurchaseResult, error) {
	var out game.PurchaseResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/shop/buy", map[string]any{
		"user_id":  userID,
		"item":     item,
		"quantity": qty,
	}, &out)
	return out, err
}

func (c *Client) Inventory(ctx context.Context, userID string) (game.Inventory, error) {
	var out struct {
		Items game.Inventory `json:"items"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/inventory/"+url.PathEscape(userID), nil, &out)
	return out.Items, err
}

func (c *Client) ProposeTrade(ctx context.Context, from, to, give, want, guild string) (game.TradeProposal, error) {
	var out game.TradeProposal
	body := pair(from, to)
	body["give"] = give
	body["want"] = want
	body["guild"] = guild
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/trades", body, &out)
	return out, err
}

func (c *Client) AcceptTrade(ctx context.Context, userID, guild string) (game.TradeResult, error) {
	var out game.TradeResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/trades/accept", map[string]any{
		"user_id": userID,
		"guild":   guild,
	}, &out)
	return out, err
}

func (c *Client) Leaderboard(ctx context.Context, n int, members []string) ([]game.LeaderboardRow, error) {
	var out struct {
		Rows []game.LeaderboardRow `json:"rows"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/leaderboard"+leaderboardQuery("", n, members), nil, &out)
	return out.Rows, err
}

func (c *Client) BegLeaderboard(ctx context.Context, n int, members []string) ([]game.BegLeaderboardRow, error) {
	var out struct {
		Rows []game.BegLeaderboardRow `json:"rows"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/leaderboard"+leaderboardQuery("beg", n, members), nil, &out)
	return out.Rows, err
}

func (c *Client) Jobs(ctx context.Context) ([]scheduler.Status, error) {
	var out struct {
		Jobs []scheduler.Status `json:"jobs"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/jobs", nil, &out)
	return out.Jobs, err
}

func (c *Client) RunJob(ctx context.Context, name string) (JobRun, error) {
	var out JobRun
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(name)+"/run", nil, &out)
	return out, err
}

// Command dispatches a raw chat command through the bot router.
func (c *Client) Command(ctx context.Context, cmd bot.Command) (bot.Reply, error) {
	var out bot.Reply
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/commands", cmd, &out)
	return out, err
}

func pair(from, to string) map[string]any {
	return map[string]any{
		"from": game.Player(from),
		"to":   game.Player(to),
	}
}

func leaderboardQuery(kind string, n int, members []string) string {
	q := url.Values{}
	if kind != "" {
		q.Set("kind", kind)
	}
	if n > 0 {
		q.Set("n", strconv.Itoa(n))
	}
	if len(members) > 0 {
		q.Set("members", strings.Join(members, ","))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return decodeAPIError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeAPIError(status int, raw []byte) error {
	apiErr := &APIError{Status: status}
	var payload struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		apiErr.Message = payload.Error
		apiErr.Kind = payload.Kind
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(raw))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
