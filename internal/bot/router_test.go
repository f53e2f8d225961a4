package bot

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinbot/internal/game"
	"coinbot/internal/store"
)

func newTestRouter(t *testing.T) (*Router, *game.Service) {
	t.Helper()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	svc, err := game.Open(context.Background(), game.NewDocumentStore(store.NewMemoryBlob()), nil,
		game.WithRand(rand.New(rand.NewSource(7))),
		game.WithClock(func() time.Time { return now }),
	)
	require.NoError(t, err)
	return NewRouter(svc, nil, "!"), svc
}

func cmd(actor, name string, args ...string) Command {
	return Command{Actor: game.Player(actor), Guild: "g1", Name: name, Args: args}
}

func TestPayRepliesAndErrors(t *testing.T) {
	r, svc := newTestRouter(t)
	ctx := context.Background()

	reply := r.Dispatch(ctx, cmd("1", "pay", "<@2>", "30"))
	require.Empty(t, reply.Error, reply.Description)
	assert.Contains(t, reply.Description, "Sent **30** coins to <@2>")
	b, err := svc.Balance(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, int64(130), b.Wallet)

	tests := []struct {
		name     string
		cmd      Command
		kind     string
		contains string
	}{
		{"self", cmd("1", "pay", "<@1>", "5"), "invalid_target", "cannot target yourself"},
		{"too much", cmd("1", "pay", "<@2>", "500"), "insufficient_funds", "you have **70**, need **500**"},
		{"zero", cmd("1", "pay", "<@2>", "0"), "invalid_amount", "greater than 0"},
		{"not a number", cmd("1", "pay", "<@2>", "lots"), "invalid_amount", "greater than 0"},
		{"no target", cmd("1", "pay", "5"), "usage", "!pay @user <amount>"},
		{"bot target", Command{Actor: game.Player("1"), Target: &game.Party{ID: "9", Bot: true}, Name: "pay", Args: []string{"5"}}, "invalid_target", "bots"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := r.Dispatch(ctx, tt.cmd)
			assert.Equal(t, tt.kind, reply.Error)
			assert.Contains(t, reply.Description, tt.contains)
		})
	}
}

func TestRobCooldownReason(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx := context.Background()

	first := r.Dispatch(ctx, cmd("1", "rob", "<@2>"))
	require.Empty(t, first.Error, first.Description)
	assert.Contains(t, first.Description, "You robbed <@2>")

	second := r.Dispatch(ctx, cmd("1", "rob", "<@2>"))
	assert.Equal(t, "on_cooldown", second.Error)
	assert.Contains(t, second.Description, "**300s**")

	poor := r.Dispatch(ctx, cmd("3", "bankrob", "<@4>"))
	assert.Equal(t, "insufficient_target", poor.Error)
	assert.Contains(t, poor.Description, "minimum to rob is **100**")
}

func TestDailyTwice(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx := context.Background()
	require.Empty(t, r.Dispatch(ctx, cmd("1", "daily")).Error)
	again := r.Dispatch(ctx, cmd("1", "daily"))
	assert.Equal(t, "on_cooldown", again.Error)
	assert.Contains(t, again.Description, "midnight UTC")
	assert.Contains(t, again.Description, "43200s")
}

func TestAliasesAndUnknown(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx := context.Background()

	bal := r.Dispatch(ctx, cmd("1", "BAL"))
	require.Empty(t, bal.Error)
	require.Len(t, bal.Fields, 2)
	assert.Contains(t, bal.Fields[0].Value, "100")

	dep := r.Dispatch(ctx, cmd("1", "dep", "all"))
	require.Empty(t, dep.Error)
	assert.Contains(t, dep.Description, "Deposited **100**")

	top := r.Dispatch(ctx, cmd("1", "rich"))
	assert.Contains(t, top.Description, "**1.** <@1>: 100 coins")

	unknown := r.Dispatch(ctx, cmd("1", "fly"))
	assert.Equal(t, "unknown_command", unknown.Error)
	assert.True(t, r.Known("pf"))
	assert.False(t, r.Known("fly"))
}

func TestShopAndTradeReasons(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx := context.Background()

	missing := r.Dispatch(ctx, cmd("1", "buy", "golden", "goose"))
	assert.Equal(t, "not_found", missing.Error)
	assert.Contains(t, missing.Description, "You typed: `golden goose`")

	soldOut := r.Dispatch(ctx, cmd("1", "buy", "oreo", "plush"))
	assert.Equal(t, "out_of_stock", soldOut.Error)
	assert.Contains(t, soldOut.Description, "Only **0** Oreo plush")

	noTerms := r.Dispatch(ctx, cmd("1", "trade", "<@2>", "give:Oreo plush"))
	assert.Equal(t, "usage", noTerms.Error)

	noItem := r.Dispatch(ctx, cmd("1", "trade", "<@2>", "give:Oreo", "plush", "|", "want:Rtx5090"))
	assert.Equal(t, "not_found", noItem.Error)
	assert.Contains(t, noItem.Description, "You don't have **Oreo plush** to offer")

	accept := r.Dispatch(ctx, cmd("2", "accepttrade"))
	assert.Contains(t, accept.Description, "no pending trade")
}

func TestStocksOrders(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx := context.Background()

	buy := r.Dispatch(ctx, cmd("1", "buystock", "oreobux", "1"))
	require.Empty(t, buy.Error, buy.Description)
	assert.Contains(t, buy.Description, "**Oreobux**")

	pf := r.Dispatch(ctx, cmd("1", "pf"))
	require.Len(t, pf.Fields, 1)
	assert.Equal(t, "Oreobux", pf.Fields[0].Name)

	sell := r.Dispatch(ctx, cmd("1", "sellstock", "Oreobux", "2"))
	assert.Equal(t, "insufficient_funds", sell.Error)

	unknown := r.Dispatch(ctx, cmd("1", "buystock", "doge", "1"))
	assert.Contains(t, unknown.Description, "Unknown stock `doge`")

	list := r.Dispatch(ctx, cmd("1", "stocks"))
	assert.Len(t, list.Fields, 5)
}

func TestFormatCoins(t *testing.T) {
	cases := map[int64]string{0: "0", 999: "999", 1000: "1,000", 1234567: "1,234,567", -45000: "-45,000"}
	for in, want := range cases {
		assert.Equal(t, want, formatCoins(in))
	}
}

func TestParseTradeTerms(t *testing.T) {
	give, want := parseTradeTerms([]string{"want:", "Rtx5090", "|", "GIVE:", "Oreo", "plush"})
	assert.Equal(t, "Oreo plush", give)
	assert.Equal(t, "Rtx5090", want)
}
