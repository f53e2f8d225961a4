package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	cl "coinbot/internal/cli"
	"coinbot/internal/game"
)

var (
	watchTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	watchHelp  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	watchErr   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

type marketMsg struct {
	instruments []game.InstrumentView
	err         error
}

type refreshMsg struct{}

// watchModel polls the market and redraws a live price table.
type watchModel struct {
	client   *cl.Client
	interval time.Duration
	table    table.Model
	spinner  spinner.Model
	loading  bool
	updated  time.Time
	err      error
}

func newWatchModel(client *cl.Client, interval time.Duration) watchModel {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Symbol", Width: 14},
			{Title: "Price", Width: 10},
			{Title: "Move", Width: 10},
			{Title: "High", Width: 10},
			{Title: "Low", Width: 10},
		}),
		table.WithHeight(8),
		table.WithFocused(true),
	)
	s := spinner.New()
	s.Spinner = spinner.Dot
	return watchModel{client: client, interval: interval, table: t, spinner: s, loading: true}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch())
}

func (m watchModel) fetch() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		out, err := client.Market(ctx)
		return marketMsg{instruments: out, err: err}
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			if !m.loading {
				m.loading = true
				return m, m.fetch()
			}
			return m, nil
		}
	case marketMsg:
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			m.table.SetRows(marketRows(msg.instruments))
			m.updated = time.Now()
		}
		return m, tea.Tick(m.interval, func(time.Time) tea.Msg { return refreshMsg{} })
	case refreshMsg:
		if m.loading {
			return m, nil
		}
		m.loading = true
		return m, m.fetch()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m watchModel) View() string {
	status := "updated " + stamp(m.updated)
	if m.loading {
		status = m.spinner.View() + " refreshing"
	}
	view := watchTitle.Render("coinbot market") + "  " + watchHelp.Render(status) + "\n\n" + m.table.View() + "\n"
	if m.err != nil {
		view += watchErr.Render(m.err.Error()) + "\n"
	}
	return view + watchHelp.Render(fmt.Sprintf("r refresh • q quit • every %s", m.interval)) + "\n"
}

func marketRows(instruments []game.InstrumentView) []table.Row {
	rows := make([]table.Row, 0, len(instruments))
	for _, in := range instruments {
		high, low := in.Price, in.Price
		for _, p := range in.History {
			high = max(high, p)
			low = min(low, p)
		}
		move := lastMove(in)
		moveText := strconv.FormatInt(move, 10)
		if move > 0 {
			moveText = "+" + moveText
		}
		rows = append(rows, table.Row{in.Symbol, comma(in.Price), moveText, comma(high), comma(low)})
	}
	return rows
}
