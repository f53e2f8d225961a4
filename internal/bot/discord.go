package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"coinbot/internal/game"
)

// embedSender is the slice of *discordgo.Session the adapter sends through.
type embedSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord connects the router to a discord gateway session and posts job
// reports to the announce channel.
type Discord struct {
	session  *discordgo.Session
	sender   embedSender
	router   *Router
	log      *slog.Logger
	prefix   string
	announce string
}

func NewDiscord(token, prefix, announceChannel string, router *Router, logger *slog.Logger) (*Discord, error) {
	if logger == nil {
		logger = slog.Default()
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent
	session.State.TrackMembers = true

	d := &Discord{
		session:  session,
		sender:   session,
		router:   router,
		log:      logger,
		prefix:   prefix,
		announce: announceChannel,
	}
	session.AddHandler(d.onMessage)
	return d, nil
}

// Run holds the gateway connection open until ctx is done.
func (d *Discord) Run(ctx context.Context) error {
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	d.log.Info("discord connected")
	<-ctx.Done()
	d.log.Info("discord disconnecting")
	return d.session.Close()
}

func (d *Discord) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	cmd, ok := ParseMessage(d.prefix, m.Content, m.Author, m.Mentions)
	if !ok || !d.router.Known(cmd.Name) {
		return
	}
	cmd.Guild = m.GuildID
	cmd.Members = d.guildMembers(s, m.GuildID)

	reply := d.router.Dispatch(context.Background(), cmd)
	if _, err := d.sender.ChannelMessageSendEmbed(m.ChannelID, EmbedFor(reply)); err != nil {
		d.log.Warn("discord send failed", "op", cmd.Name, "user_id", cmd.Actor.ID, "err", err)
	}
}

// guildMembers lists cached member ids so leaderboards stay per server.
// Outside a guild, or with an empty cache, every account is eligible.
func (d *Discord) guildMembers(s *discordgo.Session, guildID string) []string {
	if guildID == "" || s == nil || s.State == nil {
		return nil
	}
	g, err := s.State.Guild(guildID)
	if err != nil || len(g.Members) == 0 {
		return nil
	}
	ids := make([]string, 0, len(g.Members))
	for _, mem := range g.Members {
		if mem.User != nil && !mem.User.Bot {
			ids = append(ids, mem.User.ID)
		}
	}
	return ids
}

// ParseMessage turns "!name [@target] args..." into a Command. The first
// mentioned user becomes the target and its mention token is dropped.
func ParseMessage(prefix, content string, author *discordgo.User, mentions []*discordgo.User) (Command, bool) {
	content = strings.TrimSpace(content)
	if author == nil || !strings.HasPrefix(content, prefix) {
		return Command{}, false
	}
	fields := strings.Fields(strings.TrimPrefix(content, prefix))
	if len(fields) == 0 {
		return Command{}, false
	}
	cmd := Command{Actor: game.Player(author.ID), Name: strings.ToLower(fields[0])}

	var targetID string
	if len(mentions) > 0 && mentions[0] != nil {
		t := mentions[0]
		targetID = t.ID
		cmd.Target = &game.Party{ID: t.ID, Bot: t.Bot}
	}
	for _, f := range fields[1:] {
		if targetID != "" && game.NormalizeID(f) == targetID && strings.HasPrefix(f, "<@") {
			continue
		}
		cmd.Args = append(cmd.Args, f)
	}
	return cmd, true
}

func EmbedFor(r Reply) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{Title: r.Title, Description: r.Description, Color: r.Color}
	for _, f := range r.Fields {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	return e
}

// Announce implements scheduler.Announcer. Reports with nothing worth
// posting are dropped.
func (d *Discord) Announce(_ context.Context, job string, report any) error {
	if d.announce == "" {
		return nil
	}
	embeds := AnnouncementEmbeds(report)
	for _, e := range embeds {
		if _, err := d.sender.ChannelMessageSendEmbed(d.announce, e); err != nil {
			return fmt.Errorf("announce %s: %w", job, err)
		}
	}
	return nil
}

var regimeHeadlines = []struct {
	regime game.Regime
	title  string
	lead   string
	color  int
}{
	{game.RegimeMegaCrash, "💀 MEGA CRASH!", "A catastrophic collapse hit the market!", ColorDarkRed},
	{game.RegimeCrash, "📉 Market Crash!", "Some overvalued stocks took a hit:", ColorRed},
	{game.RegimeMegaBoom, "🚨 MEGA BOOM!", "Insane surges swept the market!", ColorGold},
	{game.RegimeBoom, "📈 Market Boom!", "Undervalued stocks surged upward:", ColorGreen},
}

// AnnouncementEmbeds renders a job report for the announce channel. Market
// ticks post one embed per shock regime; drift alone posts nothing.
func AnnouncementEmbeds(report any) []*discordgo.MessageEmbed {
	switch r := report.(type) {
	case game.MarketReport:
		byRegime := map[game.Regime][]string{}
		for _, m := range r.Shocks() {
			byRegime[m.Regime] = append(byRegime[m.Regime],
				fmt.Sprintf("**%s**: %s → %s", m.Symbol, formatCoins(m.Old), formatCoins(m.New)))
		}
		var out []*discordgo.MessageEmbed
		for _, h := range regimeHeadlines {
			lines := byRegime[h.regime]
			if len(lines) == 0 {
				continue
			}
			out = append(out, &discordgo.MessageEmbed{
				Title:       h.title,
				Description: h.lead + "\n\n" + strings.Join(lines, "\n"),
				Color:       h.color,
			})
		}
		return out
	case game.DividendReport:
		if r.Paid == 0 {
			return nil
		}
		return []*discordgo.MessageEmbed{{
			Description: fmt.Sprintf("💸 Dividends have been paid out to all shareholders! (%s coins to %d accounts)", formatCoins(r.Paid), r.Accounts),
			Color:       ColorGreen,
		}}
	case game.RestockReport:
		if len(r.Added) == 0 {
			return nil
		}
		var lines []string
		for _, item := range game.InventoryItems(game.Inventory(r.Added)) {
			lines = append(lines, fmt.Sprintf("• **%s** +%d", item, r.Added[item]))
		}
		return []*discordgo.MessageEmbed{{Title: "🛒 Shop restocked", Description: strings.Join(lines, "\n"), Color: ColorPurple}}
	default:
		return nil
	}
}
