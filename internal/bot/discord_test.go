package bot

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinbot/internal/game"
)

type fakeSender struct {
	sent map[string][]*discordgo.MessageEmbed
	err  error
}

func (f *fakeSender) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.sent == nil {
		f.sent = map[string][]*discordgo.MessageEmbed{}
	}
	f.sent[channelID] = append(f.sent[channelID], embed)
	return &discordgo.Message{ChannelID: channelID}, nil
}

func TestParseMessage(t *testing.T) {
	author := &discordgo.User{ID: "111"}
	target := &discordgo.User{ID: "222"}
	bot := &discordgo.User{ID: "333", Bot: true}

	cmd, ok := ParseMessage("!", "!PAY <@!222> 50", author, []*discordgo.User{target})
	require.True(t, ok)
	assert.Equal(t, "pay", cmd.Name)
	assert.Equal(t, "111", cmd.Actor.ID)
	require.NotNil(t, cmd.Target)
	assert.Equal(t, "222", cmd.Target.ID)
	assert.Equal(t, []string{"50"}, cmd.Args)

	cmd, ok = ParseMessage("!", "!rob <@333>", author, []*discordgo.User{bot})
	require.True(t, ok)
	assert.True(t, cmd.Target.Bot)
	assert.Empty(t, cmd.Args)

	cmd, ok = ParseMessage("!", "!buy 2 Oreo plush", author, nil)
	require.True(t, ok)
	assert.Nil(t, cmd.Target)
	assert.Equal(t, []string{"2", "Oreo", "plush"}, cmd.Args)

	_, ok = ParseMessage("!", "hello there", author, nil)
	assert.False(t, ok)
	_, ok = ParseMessage("!", "!", author, nil)
	assert.False(t, ok)
}

func TestEmbedFor(t *testing.T) {
	e := EmbedFor(Reply{Title: "t", Description: "d", Color: ColorGold, Fields: []Field{{Name: "a", Value: "1", Inline: true}}})
	assert.Equal(t, "t", e.Title)
	assert.Equal(t, ColorGold, e.Color)
	require.Len(t, e.Fields, 1)
	assert.True(t, e.Fields[0].Inline)
}

func TestAnnounceMarketShocks(t *testing.T) {
	sender := &fakeSender{}
	d := &Discord{sender: sender, announce: "market"}

	report := game.MarketReport{Moves: []game.PriceMove{
		{Symbol: "A", Regime: game.RegimeCrash, Old: 6000, New: 3000},
		{Symbol: "B", Regime: game.RegimeDrift, Old: 100, New: 102},
		{Symbol: "C", Regime: game.RegimeMegaBoom, Old: 1000, New: 6500},
		{Symbol: "D", Regime: game.RegimeCrash, Old: 8000, New: 4000},
	}}
	require.NoError(t, d.Announce(context.Background(), "market", report))
	embeds := sender.sent["market"]
	require.Len(t, embeds, 2)
	assert.Equal(t, "📉 Market Crash!", embeds[0].Title)
	assert.Contains(t, embeds[0].Description, "**A**: 6,000 → 3,000")
	assert.Contains(t, embeds[0].Description, "**D**: 8,000 → 4,000")
	assert.Equal(t, "🚨 MEGA BOOM!", embeds[1].Title)

	require.NoError(t, d.Announce(context.Background(), "market", game.MarketReport{Moves: []game.PriceMove{{Regime: game.RegimeDrift}}}))
	assert.Len(t, sender.sent["market"], 2, "drift only posts nothing")
}

func TestAnnounceOtherReports(t *testing.T) {
	sender := &fakeSender{}
	d := &Discord{sender: sender, announce: "c"}
	ctx := context.Background()

	require.NoError(t, d.Announce(ctx, "dividends", game.DividendReport{Accounts: 2, Paid: 1500}))
	require.NoError(t, d.Announce(ctx, "restock", game.RestockReport{Added: map[string]int64{"Oreo plush": 2}}))
	require.NoError(t, d.Announce(ctx, "interest", game.InterestReport{Accounts: 1, Paid: 4}))
	require.Len(t, sender.sent["c"], 2)
	assert.Contains(t, sender.sent["c"][0].Description, "1,500 coins to 2 accounts")
	assert.Contains(t, sender.sent["c"][1].Description, "**Oreo plush** +2")

	quiet := &Discord{sender: sender}
	require.NoError(t, quiet.Announce(ctx, "dividends", game.DividendReport{Paid: 1}))

	sender.err = errors.New("rate limited")
	require.ErrorContains(t, d.Announce(ctx, "dividends", game.DividendReport{Paid: 1}), "rate limited")
}
